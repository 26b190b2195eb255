package cpnet

import (
	"errors"
	"math"
	"testing"

	"github.com/born-ml/cellpose2onnx/internal/weights"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// smallConfig keeps the default block structure with narrow channels so tests stay fast.
func smallConfig() Config {
	cfg := DefaultConfig(30)
	cfg.NBase = []int{2, 4, 8, 16, 32}
	return cfg
}

func newLoaded(t *testing.T, cfg Config) *Network {
	t.Helper()

	net, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, net.LoadStateDict(net.InitStateDict(1)))
	return net
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(17)

	assert.Equal(t, []int{2, 32, 64, 128, 256}, cfg.NBase)
	assert.Equal(t, 3, cfg.NOut)
	assert.Equal(t, 3, cfg.KernelSize)
	assert.Equal(t, 17.0, cfg.DiamMean)
	assert.True(t, cfg.ResidualOn)
	assert.True(t, cfg.StyleOn)
	assert.False(t, cfg.Concatenation)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"residual off":  func(c *Config) { c.ResidualOn = false },
		"concatenation": func(c *Config) { c.Concatenation = true },
		"even kernel":   func(c *Config) { c.KernelSize = 2 },
		"nan diameter":  func(c *Config) { c.DiamMean = math.NaN() },
		"zero diameter": func(c *Config) { c.DiamMean = 0 },
		"inf diameter":  func(c *Config) { c.DiamMean = math.Inf(1) },
		"short nbase":   func(c *Config) { c.NBase = []int{2} },
		"zero nout":     func(c *Config) { c.NOut = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig(30)
			mutate(&cfg)

			_, err := New(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestParameters(t *testing.T) {
	net, err := New(DefaultConfig(30))
	require.NoError(t, err)

	params := net.Parameters()
	// 4 encoder blocks x 30 tensors, 4 decoder blocks x 36, output head 6.
	assert.Len(t, params, 4*30+4*36+6)

	shapes := make(map[string][]int, len(params))
	for _, p := range params {
		_, dup := shapes[p.Name]
		assert.False(t, dup, "duplicate parameter %s", p.Name)
		shapes[p.Name] = p.Shape
	}

	want := map[string][]int{
		"downsample.down.res_down_0.conv.conv_0.0.running_mean": {2},
		"downsample.down.res_down_0.conv.conv_0.2.weight":       {32, 2, 3, 3},
		"downsample.down.res_down_0.proj.1.weight":              {32, 2, 1, 1},
		"downsample.down.res_down_3.conv.conv_3.2.bias":         {256},
		"upsample.up.res_up_0.conv.conv_0.2.weight":             {32, 64, 3, 3},
		"upsample.up.res_up_0.conv.conv_1.full.weight":          {32, 256},
		"upsample.up.res_up_3.conv.conv_1.full.weight":          {256, 256},
		"upsample.up.res_up_3.conv.conv_3.conv.0.running_var":   {256},
		"upsample.up.res_up_2.proj.1.weight":                    {128, 256, 1, 1},
		"output.0.weight":                                       {32},
		"output.2.weight":                                       {3, 32, 1, 1},
	}
	for name, shape := range want {
		assert.Equal(t, shape, shapes[name], name)
	}

	assert.Equal(t, "downsample.down.res_down_0.conv.conv_0.0.weight", params[0].Name)
	assert.Equal(t, "output.2.bias", params[len(params)-1].Name)
}

func TestLoadStateDictExtrasIgnored(t *testing.T) {
	net, err := New(smallConfig())
	require.NoError(t, err)

	sd := net.InitStateDict(7)
	_, ok := sd.Get("diam_mean")
	require.True(t, ok)
	sd.Set("unexpected.extra", &weights.Tensor{Shape: []int{1}, Data: []float32{1}})

	require.NoError(t, net.LoadStateDict(sd))
	assert.True(t, net.Loaded())
}

func TestLoadStateDictDiamMeanNotOverridden(t *testing.T) {
	net, err := New(DefaultConfig(30))
	require.NoError(t, err)

	nuclei, err := New(DefaultConfig(17))
	require.NoError(t, err)

	require.NoError(t, net.LoadStateDict(nuclei.InitStateDict(1)))
	assert.Equal(t, 30.0, net.Config().DiamMean)
}

func TestLoadStateDictMissing(t *testing.T) {
	net, err := New(smallConfig())
	require.NoError(t, err)

	full := net.InitStateDict(1)
	sd := weights.NewStateDict()
	for _, k := range full.Keys() {
		if k == "upsample.up.res_up_1.conv.conv_2.full.bias" {
			continue
		}
		v, _ := full.Get(k)
		sd.Set(k, v)
	}

	err = net.LoadStateDict(sd)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingParameter)
	assert.False(t, net.Loaded())

	var pe *ParameterError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "upsample.up.res_up_1.conv.conv_2.full.bias", pe.Name)
}

func TestLoadStateDictShapeMismatch(t *testing.T) {
	net, err := New(smallConfig())
	require.NoError(t, err)

	sd := net.InitStateDict(1)
	sd.Set("output.2.weight", &weights.Tensor{Shape: []int{4, 4, 1, 1}, Data: make([]float32, 16)})

	err = net.LoadStateDict(sd)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Contains(t, err.Error(), "output.2.weight")
}

func TestLoadStateDictWrongTopology(t *testing.T) {
	small, err := New(smallConfig())
	require.NoError(t, err)

	net, err := New(DefaultConfig(30))
	require.NoError(t, err)

	err = net.LoadStateDict(small.InitStateDict(1))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestInitStateDictReproducible(t *testing.T) {
	net, err := New(smallConfig())
	require.NoError(t, err)

	a := net.InitStateDict(3)
	b := net.InitStateDict(3)
	wa, _ := a.Get("output.2.weight")
	wb, _ := b.Get("output.2.weight")
	assert.Equal(t, wa.Data, wb.Data)

	rv, _ := a.Get("output.0.running_var")
	assert.Equal(t, []float32{1, 1, 1, 1}, rv.Data)

	nbt, ok := a.Get("output.0.num_batches_tracked")
	require.True(t, ok)
	assert.False(t, nbt.IsFloat())
}
