package cpnet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/born-ml/cellpose2onnx/internal/onnx"
	"github.com/born-ml/cellpose2onnx/internal/weights"
)

// Network is a CPnet: a residual U-Net encoder/decoder with a style vector
// computed from the deepest features and injected into every decoder block.
//
// Forward (as exported):
//
//	xd    = downsample(input)          // 4 residual stages, MaxPool between
//	style = make_style(xd[3])          // global average, L2-normalized
//	y     = upsample(style, xd)        // 4 residual stages, nearest Resize between
//	out   = output(y)                  // BatchNorm, ReLU, 1x1 Conv
//	return out, style
type Network struct {
	cfg    Config
	down   []*resDown
	up     []*resUp
	output *batchConv
	params map[string][]float32
}

// New builds a network for the given configuration. The network has no
// weights until LoadStateDict succeeds.
func New(cfg Config) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.NBase = append([]int(nil), cfg.NBase...)

	n := &Network{cfg: cfg}
	k := cfg.KernelSize
	for i := 0; i < len(cfg.NBase)-1; i++ {
		n.down = append(n.down, newResDown(fmt.Sprintf("downsample.down.res_down_%d", i), cfg.NBase[i], cfg.NBase[i+1], k))
	}
	up := cfg.nbaseUp()
	for i := 1; i < len(up); i++ {
		n.up = append(n.up, newResUp(fmt.Sprintf("upsample.up.res_up_%d", i-1), up[i], up[i-1], cfg.styleChannels(), k))
	}
	n.output = newBatchConv("output", up[0], cfg.NOut, 1)
	return n, nil
}

// Config returns the configuration the network was built with.
func (n *Network) Config() Config {
	cfg := n.cfg
	cfg.NBase = append([]int(nil), n.cfg.NBase...)
	return cfg
}

// Parameters lists every tensor the network reads from a state dict, in
// PyTorch state dict order.
func (n *Network) Parameters() []Param {
	var ps []Param
	for _, l := range n.down {
		ps = append(ps, l.params()...)
	}
	for _, l := range n.up {
		ps = append(ps, l.params()...)
	}
	return append(ps, n.output.params()...)
}

// LoadStateDict copies the network parameters out of a state dict.
//
// Every parameter must be present with the exact shape. Extra entries such
// as num_batches_tracked, diam_mean or diam_labels are ignored, like
// PyTorch's load_state_dict(strict=False) does for unexpected keys. The
// diam_mean stored in the weights never overrides the configured value.
func (n *Network) LoadStateDict(sd *weights.StateDict) error {
	params := make(map[string][]float32)
	var errs []error
	for _, p := range n.Parameters() {
		t, ok := sd.Get(p.Name)
		if !ok {
			errs = append(errs, &ParameterError{Name: p.Name, Want: p.Shape, Err: ErrMissingParameter})
			continue
		}
		if !t.IsFloat() || !t.ShapeEqual(p.Shape) {
			errs = append(errs, &ParameterError{Name: p.Name, Want: p.Shape, Got: t.Shape, Err: ErrShapeMismatch})
			continue
		}
		params[p.Name] = t.Data
	}
	if len(errs) > 0 {
		return fmt.Errorf("state dict does not match CPnet%v: %w", n.cfg.NBase, errors.Join(errs...))
	}
	n.params = params
	return nil
}

// Loaded reports whether weights have been loaded.
func (n *Network) Loaded() bool {
	return n.params != nil
}

// ParameterError describes a state dict entry that does not fit the topology.
type ParameterError struct {
	Name string
	Want []int
	Got  []int
	Err  error
}

// Error implements the error interface.
func (e *ParameterError) Error() string {
	if e.Got != nil {
		return fmt.Sprintf("%s: %s: want %v, got %v", e.Err, e.Name, e.Want, e.Got)
	}
	return fmt.Sprintf("%s: %s %v", e.Err, e.Name, e.Want)
}

// Unwrap returns the sentinel error.
func (e *ParameterError) Unwrap() error {
	return e.Err
}

// forward walks the network for a traced input and returns the two heads.
func (n *Network) forward(t *tracer, x value) (out, style value) {
	xd := make([]value, len(n.down))
	for i, l := range n.down {
		y := x
		if i > 0 {
			y = t.maxPool(xd[i-1])
		}
		xd[i] = l.forward(t, y)
	}

	style = n.makeStyle(t, xd[len(xd)-1])
	decoderStyle := style
	if !n.cfg.StyleOn {
		decoderStyle = t.node("Mul", style.shape, []string{style.name, t.scalar(0)})
	}

	last := len(n.up) - 1
	y := n.up[last].forward(t, xd[last], xd[last], decoderStyle)
	for i := last - 1; i >= 0; i-- {
		y = t.upsample(y)
		y = n.up[i].forward(t, y, xd[i], decoderStyle)
	}
	return n.output.forward(t, y), style
}

// makeStyle pools the deepest features into one vector per image and
// normalizes it to unit length: style / sqrt(sum(style^2)).
func (n *Network) makeStyle(t *tracer, x value) value {
	if t.err != nil {
		return value{}
	}
	b, c := x.shape[0], x.shape[1]
	pooled := t.node("GlobalAveragePool", []int64{b, c, 1, 1}, []string{x.name})
	flat := t.node("Flatten", []int64{b, c}, []string{pooled.name}, onnx.AttrInt("axis", 1))
	sq := t.node("Pow", flat.shape, []string{flat.name, t.scalar(2)})
	sum := t.node("ReduceSum", []int64{b, 1}, []string{sq.name}, onnx.AttrInts("axes", 1), onnx.AttrInt("keepdims", 1))
	norm := t.node("Pow", sum.shape, []string{sum.name, t.scalar(0.5)})
	return t.node("Div", flat.shape, []string{flat.name, norm.name})
}

func formatInts(v []int) string {
	s := make([]string, len(v))
	for i, x := range v {
		s[i] = strconv.Itoa(x)
	}
	return strings.Join(s, ",")
}
