package cpnet

import (
	"fmt"
	"slices"

	"github.com/born-ml/cellpose2onnx/internal/onnx"
)

// value is a traced tensor: its name in the graph and the shape it has for
// the trace input.
type value struct {
	name  string
	shape []int64
}

// tracer emits ONNX nodes while the network's forward pass is walked,
// tracking traced shapes along the way. The first inconsistency is kept in
// err and turns every later operation into a no-op.
type tracer struct {
	b      *onnx.Builder
	params map[string][]float32
	err    error
}

func (t *tracer) fail(format string, args ...interface{}) value {
	if t.err == nil {
		t.err = fmt.Errorf(format, args...)
	}
	return value{}
}

// param adds a loaded parameter as an initializer, once.
func (t *tracer) param(p Param) string {
	if t.b.HasInitializer(p.Name) {
		return p.Name
	}
	data, ok := t.params[p.Name]
	if !ok {
		t.fail("%w: %s", ErrMissingParameter, p.Name)
		return p.Name
	}
	dims := make([]int64, len(p.Shape))
	for i, d := range p.Shape {
		dims[i] = int64(d)
	}
	return t.b.Initializer(p.Name, dims, data)
}

func (t *tracer) scalar(v float32) string {
	return t.b.Constant(nil, []float32{v})
}

func (t *tracer) node(opType string, shape []int64, inputs []string, attrs ...onnx.AttributeProto) value {
	if t.err != nil {
		return value{}
	}
	return value{name: t.b.Node(opType, inputs, attrs...), shape: shape}
}

func (t *tracer) add(a, b value) value {
	if t.err != nil {
		return value{}
	}
	if !slices.Equal(a.shape, b.shape) {
		return t.fail("%w: Add of %v and %v", ErrShapeMismatch, a.shape, b.shape)
	}
	return t.node("Add", a.shape, []string{a.name, b.name})
}

// maxPool halves the spatial dimensions (kernel 2, stride 2).
func (t *tracer) maxPool(x value) value {
	if t.err != nil {
		return value{}
	}
	shape := []int64{x.shape[0], x.shape[1], x.shape[2] / 2, x.shape[3] / 2}
	return t.node("MaxPool", shape, []string{x.name},
		onnx.AttrInt("ceil_mode", 0),
		onnx.AttrInts("kernel_shape", 2, 2),
		onnx.AttrInts("pads", 0, 0, 0, 0),
		onnx.AttrInts("strides", 2, 2),
	)
}

// upsample doubles the spatial dimensions with nearest-neighbour Resize,
// the opset 11+ lowering of nn.Upsample(scale_factor=2, mode="nearest").
func (t *tracer) upsample(x value) value {
	if t.err != nil {
		return value{}
	}
	roi := t.b.Constant([]int64{0}, nil)
	scales := t.b.Constant([]int64{4}, []float32{1, 1, 2, 2})
	shape := []int64{x.shape[0], x.shape[1], x.shape[2] * 2, x.shape[3] * 2}
	return t.node("Resize", shape, []string{x.name, roi, scales},
		onnx.AttrString("coordinate_transformation_mode", "asymmetric"),
		onnx.AttrFloat("cubic_coeff_a", -0.75),
		onnx.AttrString("mode", "nearest"),
		onnx.AttrString("nearest_mode", "floor"),
	)
}
