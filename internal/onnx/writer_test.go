package onnx

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildReluModel builds: output = Relu(input + bias) with a Constant folded in.
func buildReluModel(t *testing.T) *ModelProto {
	t.Helper()

	b := NewBuilder("relu_graph")
	in := b.Input("input", Dims("batch", -1, 3))
	bias := b.Initializer("bias", []int64{3}, []float32{0.5, -1, 2})
	scale := b.Constant([]int64{1}, []float32{2})
	sum := b.Node("Add", []string{in, bias})
	scaled := b.Node("Mul", []string{sum, scale})
	b.NodeTo("Relu", []string{scaled}, []string{"output"})
	b.Output("output", Dims("batch", -1, 3))

	return &ModelProto{
		IRVersion:     7,
		ProducerName:  "test",
		OpsetImport:   []OperatorSetID{{Version: 12}},
		Graph:         b.Graph(),
		MetadataProps: []StringStringEntry{{Key: "diam_mean", Value: "30"}},
	}
}

// TestMarshalParse tests that a built model survives encoding and decoding.
func TestMarshalParse(t *testing.T) {
	model := buildReluModel(t)

	parsed, err := Parse(Marshal(model))
	require.NoError(t, err)

	assert.Equal(t, int64(7), parsed.IRVersion)
	assert.Equal(t, "test", parsed.ProducerName)
	assert.Equal(t, int64(12), parsed.Opset())
	v, ok := parsed.Metadata("diam_mean")
	assert.True(t, ok)
	assert.Equal(t, "30", v)

	g := parsed.Graph
	require.NotNil(t, g)
	assert.Equal(t, "relu_graph", g.Name)
	require.Len(t, g.Nodes, 4)
	assert.Equal(t, []string{"Constant", "Add", "Mul", "Relu"},
		[]string{g.Nodes[0].OpType, g.Nodes[1].OpType, g.Nodes[2].OpType, g.Nodes[3].OpType})
	assert.Equal(t, "Add_1", g.Nodes[1].Name)

	value, ok := g.Nodes[0].Attribute("value")
	require.True(t, ok)
	require.NotNil(t, value.T)
	assert.Equal(t, []float32{2}, value.T.Floats())

	require.Len(t, g.Initializers, 1)
	assert.Equal(t, []float32{0.5, -1, 2}, g.Initializers[0].Floats())
	assert.Equal(t, []int64{-1, 3}, g.Outputs[0].Shape())

	assert.NoError(t, Check(parsed))
}

// TestMarshalAttributes tests every attribute kind the exporter emits.
func TestMarshalAttributes(t *testing.T) {
	b := NewBuilder("attrs")
	in := b.Input("x", Dims("", 1, 1, 4, 4))
	b.NodeTo("Resize", []string{in, "", ""}, []string{"y"},
		AttrString("mode", "nearest"),
		AttrFloat("cubic_coeff_a", -0.75),
		AttrInts("pads", 0, 0, -1, 1),
		AttrInt("keepdims", 0),
		AttrInt("axis", -1),
	)
	model := &ModelProto{IRVersion: 7, OpsetImport: []OperatorSetID{{Version: 12}}, Graph: b.Graph()}

	parsed, err := Parse(Marshal(model))
	require.NoError(t, err)

	node := parsed.Graph.Nodes[0]
	assert.Equal(t, []string{"x", "", ""}, node.Inputs)

	mode, _ := node.Attribute("mode")
	assert.Equal(t, "nearest", string(mode.S))
	coeff, _ := node.Attribute("cubic_coeff_a")
	assert.InDelta(t, -0.75, coeff.F, 1e-7)
	pads, _ := node.Attribute("pads")
	assert.Equal(t, []int64{0, 0, -1, 1}, pads.Ints)
	keep, ok := node.Attribute("keepdims")
	require.True(t, ok)
	assert.Equal(t, int64(0), keep.I)
	axis, _ := node.Attribute("axis")
	assert.Equal(t, int64(-1), axis.I)
}

// TestWriteFileOverwrites tests that writing twice keeps only the latest model.
func TestWriteFileOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.onnx")
	model := buildReluModel(t)
	require.NoError(t, WriteFile(path, model))

	model.ProducerName = "second"
	require.NoError(t, WriteFile(path, model))

	parsed, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", parsed.ProducerName)
}

// TestWriteFileMissingDir tests error propagation for an unwritable location.
func TestWriteFileMissingDir(t *testing.T) {
	err := WriteFile(filepath.Join(t.TempDir(), "missing", "model.onnx"), buildReluModel(t))
	assert.Error(t, err)
}
