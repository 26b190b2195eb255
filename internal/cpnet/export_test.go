package cpnet

import (
	"testing"

	"github.com/born-ml/cellpose2onnx/internal/onnx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countOps(g *onnx.GraphProto) map[string]int {
	ops := make(map[string]int)
	for _, n := range g.Nodes {
		ops[n.OpType]++
	}
	return ops
}

func smallExportOptions() ExportOptions {
	opts := DefaultExportOptions()
	opts.Height, opts.Width = 64, 64
	return opts
}

func TestExportDefault(t *testing.T) {
	net := newLoaded(t, DefaultConfig(30))

	model, err := net.Export(DefaultExportOptions())
	require.NoError(t, err)

	assert.Equal(t, int64(7), model.IRVersion)
	assert.Equal(t, int64(12), model.Opset())
	assert.Equal(t, "cellpose2onnx", model.ProducerName)

	diam, ok := model.Metadata("diam_mean")
	require.True(t, ok)
	assert.Equal(t, "30", diam)
	nbase, _ := model.Metadata("nbase")
	assert.Equal(t, "2,32,64,128,256", nbase)

	g := model.Graph
	require.Len(t, g.Inputs, 1)
	assert.Equal(t, "input", g.Inputs[0].Name)
	assert.Equal(t, []int64{-1, 2, 224, 224}, g.Inputs[0].Shape())
	assert.Equal(t, "batch", g.Inputs[0].Type.TensorType.Shape.Dims[0].DimParam)

	require.Len(t, g.Outputs, 2)
	assert.Equal(t, "output", g.Outputs[0].Name)
	assert.Equal(t, []int64{-1, 3, 224, 224}, g.Outputs[0].Shape())
	assert.Equal(t, "style", g.Outputs[1].Name)
	assert.Equal(t, []int64{-1, 256}, g.Outputs[1].Shape())

	ops := countOps(g)
	assert.Zero(t, ops["Constant"])
	assert.Equal(t, 3, ops["MaxPool"])
	assert.Equal(t, 3, ops["Resize"])
	assert.Equal(t, 1, ops["GlobalAveragePool"])
	assert.Equal(t, 12, ops["Gemm"])
	assert.Equal(t, 24, ops["Unsqueeze"])
	// 5 per encoder block, 5 per decoder block, 1 in the output head.
	assert.Equal(t, 4*5+4*5+1, ops["BatchNormalization"])

	byName := make(map[string]onnx.TensorProto, len(g.Initializers))
	for _, init := range g.Initializers {
		byName[init.Name] = init
	}
	for _, p := range net.Parameters() {
		init, ok := byName[p.Name]
		if assert.True(t, ok, p.Name) {
			assert.Equal(t, int64(len(net.params[p.Name])), init.NumElements(), p.Name)
		}
	}
	// 6 Resize inputs and 2 style exponents are folded next to the parameters.
	assert.Len(t, g.Initializers, len(net.Parameters())+8)
	_, ok = byName["diam_mean"]
	assert.False(t, ok)
}

func TestExportRoundTrip(t *testing.T) {
	net := newLoaded(t, smallConfig())

	model, err := net.Export(smallExportOptions())
	require.NoError(t, err)

	parsed, err := onnx.Parse(onnx.Marshal(model))
	require.NoError(t, err)
	require.NoError(t, onnx.Check(parsed))

	assert.Len(t, parsed.Graph.Nodes, len(model.Graph.Nodes))
	assert.Len(t, parsed.Graph.Initializers, len(model.Graph.Initializers))
	assert.Equal(t, []int64{-1, 2, 64, 64}, parsed.Graph.Inputs[0].Shape())

	w := "output.2.weight"
	for _, init := range parsed.Graph.Initializers {
		if init.Name == w {
			assert.Equal(t, net.params[w], init.Floats())
		}
	}

	var resize *onnx.NodeProto
	for i := range parsed.Graph.Nodes {
		if parsed.Graph.Nodes[i].OpType == "Resize" {
			resize = &parsed.Graph.Nodes[i]
			break
		}
	}
	require.NotNil(t, resize)
	mode, ok := resize.Attribute("mode")
	require.True(t, ok)
	assert.Equal(t, "nearest", string(mode.S))
	nearest, _ := resize.Attribute("nearest_mode")
	assert.Equal(t, "floor", string(nearest.S))
}

func TestExportWindowAttributesRoundTrip(t *testing.T) {
	net := newLoaded(t, DefaultConfig(30))

	model, err := net.Export(DefaultExportOptions())
	require.NoError(t, err)
	parsed, err := onnx.Parse(onnx.Marshal(model))
	require.NoError(t, err)
	require.NoError(t, onnx.Check(parsed))

	ints := func(n *onnx.NodeProto, name string) []int64 {
		a, ok := n.Attribute(name)
		require.True(t, ok, "%s %s", n.Name, name)
		return a.Ints
	}

	kernels := make(map[int64]int)
	var pools int
	for i := range parsed.Graph.Nodes {
		n := &parsed.Graph.Nodes[i]
		switch n.OpType {
		case "Conv":
			k := ints(n, "kernel_shape")
			require.Len(t, k, 2, n.Name)
			kernels[k[0]]++
			p := k[0] / 2
			assert.Equal(t, []int64{p, p, p, p}, ints(n, "pads"), n.Name)
			assert.Equal(t, []int64{1, 1}, ints(n, "strides"), n.Name)
			assert.Equal(t, []int64{1, 1}, ints(n, "dilations"), n.Name)
		case "MaxPool":
			pools++
			assert.Equal(t, []int64{2, 2}, ints(n, "kernel_shape"), n.Name)
			assert.Equal(t, []int64{0, 0, 0, 0}, ints(n, "pads"), n.Name)
			assert.Equal(t, []int64{2, 2}, ints(n, "strides"), n.Name)
		case "BatchNormalization":
			m, ok := n.Attribute("momentum")
			require.True(t, ok)
			assert.InDelta(t, 0.95, m.F, 1e-6)
		}
	}
	assert.Equal(t, 3, pools)
	// 4 encoder and 4 decoder projections plus the output head are 1x1.
	assert.Equal(t, 9, kernels[1])
}

func TestExportWithoutFolding(t *testing.T) {
	net := newLoaded(t, smallConfig())

	opts := smallExportOptions()
	opts.ConstantFolding = false
	model, err := net.Export(opts)
	require.NoError(t, err)

	assert.Equal(t, 8, countOps(model.Graph)["Constant"])
	assert.Len(t, model.Graph.Initializers, len(net.Parameters()))
}

func TestExportStaticBatch(t *testing.T) {
	net := newLoaded(t, smallConfig())

	opts := smallExportOptions()
	opts.DynamicBatch = false
	opts.BatchSize = 2
	model, err := net.Export(opts)
	require.NoError(t, err)

	assert.Equal(t, []int64{2, 2, 64, 64}, model.Graph.Inputs[0].Shape())
	assert.Equal(t, []int64{2, 32}, model.Graph.Outputs[1].Shape())
}

func TestExportStyleOff(t *testing.T) {
	cfg := smallConfig()
	cfg.StyleOn = false
	net := newLoaded(t, cfg)

	model, err := net.Export(smallExportOptions())
	require.NoError(t, err)

	assert.Equal(t, 1, countOps(model.Graph)["Mul"])
	assert.Equal(t, "style", model.Graph.Outputs[1].Name)
}

func TestExportMetadata(t *testing.T) {
	net := newLoaded(t, smallConfig())

	opts := smallExportOptions()
	opts.ProducerVersion = "1.2.3"
	opts.Metadata = map[string]string{"source": "cyto2torch_0", "fold": "0"}
	model, err := net.Export(opts)
	require.NoError(t, err)

	assert.Equal(t, "1.2.3", model.ProducerVersion)
	keys := make([]string, len(model.MetadataProps))
	for i, p := range model.MetadataProps {
		keys[i] = p.Key
	}
	assert.Equal(t, []string{"diam_mean", "nbase", "nout", "fold", "source"}, keys)
}

func TestExportErrors(t *testing.T) {
	t.Run("not loaded", func(t *testing.T) {
		net, err := New(smallConfig())
		require.NoError(t, err)

		_, err = net.Export(smallExportOptions())
		assert.ErrorIs(t, err, ErrNotLoaded)
	})

	cases := map[string]struct {
		mutate func(*ExportOptions)
		want   error
	}{
		"opset 13":         {func(o *ExportOptions) { o.OpsetVersion = 13 }, ErrUnsupportedOpset},
		"opset 9":          {func(o *ExportOptions) { o.OpsetVersion = 9 }, ErrUnsupportedOpset},
		"odd height":       {func(o *ExportOptions) { o.Height = 65 }, ErrInvalidTraceInput},
		"zero width":       {func(o *ExportOptions) { o.Width = 0 }, ErrInvalidTraceInput},
		"zero batch":       {func(o *ExportOptions) { o.BatchSize = 0 }, ErrInvalidTraceInput},
		"one output name":  {func(o *ExportOptions) { o.OutputNames = []string{"output"} }, ErrInvalidConfig},
		"duplicate names":  {func(o *ExportOptions) { o.OutputNames = []string{"input", "style"} }, ErrInvalidConfig},
		"empty input name": {func(o *ExportOptions) { o.InputName = "" }, ErrInvalidConfig},
	}
	net := newLoaded(t, smallConfig())
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			opts := smallExportOptions()
			tc.mutate(&opts)

			_, err := net.Export(opts)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestExportOpset11(t *testing.T) {
	net := newLoaded(t, smallConfig())

	opts := smallExportOptions()
	opts.OpsetVersion = 11
	model, err := net.Export(opts)
	require.NoError(t, err)
	assert.Equal(t, int64(11), model.Opset())
}
