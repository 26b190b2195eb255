package cpnet

import (
	"fmt"

	"github.com/born-ml/cellpose2onnx/internal/onnx"
)

// paramKind tells InitStateDict how a parameter is initialized.
type paramKind int

const (
	kindWeight paramKind = iota
	kindBias
	kindScale
	kindRunningMean
	kindRunningVar
)

// Param describes one tensor the network expects in its state dict.
type Param struct {
	Name  string
	Shape []int
	kind  paramKind
}

// batchNorm is nn.BatchNorm2d in eval mode.
//
// State: weight, bias, running_mean, running_var [channels].
type batchNorm struct {
	prefix   string
	channels int
}

func (l *batchNorm) params() []Param {
	c := []int{l.channels}
	return []Param{
		{Name: l.prefix + ".weight", Shape: c, kind: kindScale},
		{Name: l.prefix + ".bias", Shape: c, kind: kindBias},
		{Name: l.prefix + ".running_mean", Shape: c, kind: kindRunningMean},
		{Name: l.prefix + ".running_var", Shape: c, kind: kindRunningVar},
	}
}

func (l *batchNorm) forward(t *tracer, x value) value {
	if t.err != nil {
		return value{}
	}
	if x.shape[1] != int64(l.channels) {
		return t.fail("%w: %s expects %d channels, got %v", ErrShapeMismatch, l.prefix, l.channels, x.shape)
	}
	ps := l.params()
	inputs := []string{x.name, t.param(ps[0]), t.param(ps[1]), t.param(ps[2]), t.param(ps[3])}
	return t.node("BatchNormalization", x.shape, inputs,
		onnx.AttrFloat("epsilon", 1e-5),
		onnx.AttrFloat("momentum", 0.95),
	)
}

// conv2d is nn.Conv2d with stride 1 and "same" padding.
//
// Weight: [out, in, k, k], bias: [out].
type conv2d struct {
	prefix  string
	in, out int
	kernel  int
}

func (l *conv2d) params() []Param {
	return []Param{
		{Name: l.prefix + ".weight", Shape: []int{l.out, l.in, l.kernel, l.kernel}, kind: kindWeight},
		{Name: l.prefix + ".bias", Shape: []int{l.out}, kind: kindBias},
	}
}

func (l *conv2d) forward(t *tracer, x value) value {
	if t.err != nil {
		return value{}
	}
	if x.shape[1] != int64(l.in) {
		return t.fail("%w: %s expects %d channels, got %v", ErrShapeMismatch, l.prefix, l.in, x.shape)
	}
	ps := l.params()
	k := int64(l.kernel)
	p := k / 2
	shape := []int64{x.shape[0], int64(l.out), x.shape[2], x.shape[3]}
	return t.node("Conv", shape, []string{x.name, t.param(ps[0]), t.param(ps[1])},
		onnx.AttrInts("dilations", 1, 1),
		onnx.AttrInt("group", 1),
		onnx.AttrInts("kernel_shape", k, k),
		onnx.AttrInts("pads", p, p, p, p),
		onnx.AttrInts("strides", 1, 1),
	)
}

// linear is nn.Linear, lowered to Gemm with a transposed weight.
//
// Weight: [out, in], bias: [out].
type linear struct {
	prefix  string
	in, out int
}

func (l *linear) params() []Param {
	return []Param{
		{Name: l.prefix + ".weight", Shape: []int{l.out, l.in}, kind: kindWeight},
		{Name: l.prefix + ".bias", Shape: []int{l.out}, kind: kindBias},
	}
}

func (l *linear) forward(t *tracer, x value) value {
	if t.err != nil {
		return value{}
	}
	if x.shape[1] != int64(l.in) {
		return t.fail("%w: %s expects %d features, got %v", ErrShapeMismatch, l.prefix, l.in, x.shape)
	}
	ps := l.params()
	return t.node("Gemm", []int64{x.shape[0], int64(l.out)}, []string{x.name, t.param(ps[0]), t.param(ps[1])},
		onnx.AttrFloat("alpha", 1),
		onnx.AttrFloat("beta", 1),
		onnx.AttrInt("transB", 1),
	)
}

// batchConv is Sequential(BatchNorm2d, [ReLU], Conv2d). Submodule indices
// follow the Sequential: the conv is ".2" after a ReLU and ".1" without.
type batchConv struct {
	bn   *batchNorm
	conv *conv2d
	relu bool
}

func newBatchConv(prefix string, in, out, k int) *batchConv {
	return &batchConv{
		bn:   &batchNorm{prefix: prefix + ".0", channels: in},
		conv: &conv2d{prefix: prefix + ".2", in: in, out: out, kernel: k},
		relu: true,
	}
}

// newBatchConv0 omits the ReLU; it is used for the 1x1 projections.
func newBatchConv0(prefix string, in, out, k int) *batchConv {
	return &batchConv{
		bn:   &batchNorm{prefix: prefix + ".0", channels: in},
		conv: &conv2d{prefix: prefix + ".1", in: in, out: out, kernel: k},
	}
}

func (l *batchConv) params() []Param {
	return append(l.bn.params(), l.conv.params()...)
}

func (l *batchConv) forward(t *tracer, x value) value {
	x = l.bn.forward(t, x)
	if l.relu {
		x = t.node("Relu", x.shape, []string{x.name})
	}
	return l.conv.forward(t, x)
}

// resDown is an encoder block:
//
//	x = proj(x) + conv_1(conv_0(x))
//	x = x + conv_3(conv_2(x))
type resDown struct {
	conv [4]*batchConv
	proj *batchConv
}

func newResDown(prefix string, in, out, k int) *resDown {
	l := &resDown{proj: newBatchConv0(prefix+".proj", in, out, 1)}
	for i := range l.conv {
		cin := out
		if i == 0 {
			cin = in
		}
		l.conv[i] = newBatchConv(fmt.Sprintf("%s.conv.conv_%d", prefix, i), cin, out, k)
	}
	return l
}

func (l *resDown) params() []Param {
	var ps []Param
	for _, c := range l.conv {
		ps = append(ps, c.params()...)
	}
	return append(ps, l.proj.params()...)
}

func (l *resDown) forward(t *tracer, x value) value {
	x = t.add(l.proj.forward(t, x), l.conv[1].forward(t, l.conv[0].forward(t, x)))
	return t.add(x, l.conv[3].forward(t, l.conv[2].forward(t, x)))
}

// batchConvStyle adds the projected style vector to every pixel before a batchConv:
//
//	x = x + y               (when a skip input is given)
//	out = conv(x + full(style)[:, :, None, None])
type batchConvStyle struct {
	conv *batchConv
	full *linear
}

func newBatchConvStyle(prefix string, in, out, style, k int) *batchConvStyle {
	return &batchConvStyle{
		conv: newBatchConv(prefix+".conv", in, out, k),
		full: &linear{prefix: prefix + ".full", in: style, out: out},
	}
}

func (l *batchConvStyle) params() []Param {
	return append(l.conv.params(), l.full.params()...)
}

func (l *batchConvStyle) forward(t *tracer, style, x value, skip *value) value {
	if skip != nil {
		x = t.add(x, *skip)
	}
	feat := l.full.forward(t, style)
	if t.err != nil {
		return value{}
	}
	feat = t.node("Unsqueeze", []int64{feat.shape[0], feat.shape[1], 1}, []string{feat.name}, onnx.AttrInts("axes", 2))
	feat = t.node("Unsqueeze", []int64{feat.shape[0], feat.shape[1], 1, 1}, []string{feat.name}, onnx.AttrInts("axes", 3))
	if t.err != nil {
		return value{}
	}
	if feat.shape[1] != x.shape[1] {
		return t.fail("%w: style features %v for %v", ErrShapeMismatch, feat.shape, x.shape)
	}
	// Broadcast add over the spatial dimensions.
	y := t.node("Add", x.shape, []string{x.name, feat.name})
	return l.conv.forward(t, y)
}

// resUp is a decoder block:
//
//	x = proj(x) + conv_1(style, conv_0(x), y)
//	x = x + conv_3(style, conv_2(style, x))
type resUp struct {
	conv0 *batchConv
	conv  [3]*batchConvStyle // conv_1..conv_3
	proj  *batchConv
}

func newResUp(prefix string, in, out, style, k int) *resUp {
	l := &resUp{
		conv0: newBatchConv(prefix+".conv.conv_0", in, out, k),
		proj:  newBatchConv0(prefix+".proj", in, out, 1),
	}
	for i := range l.conv {
		l.conv[i] = newBatchConvStyle(fmt.Sprintf("%s.conv.conv_%d", prefix, i+1), out, out, style, k)
	}
	return l
}

func (l *resUp) params() []Param {
	ps := l.conv0.params()
	for _, c := range l.conv {
		ps = append(ps, c.params()...)
	}
	return append(ps, l.proj.params()...)
}

func (l *resUp) forward(t *tracer, x, y, style value) value {
	x = t.add(l.proj.forward(t, x), l.conv[0].forward(t, style, l.conv0.forward(t, x), &y))
	return t.add(x, l.conv[2].forward(t, style, l.conv[1].forward(t, style, x, nil), nil))
}
