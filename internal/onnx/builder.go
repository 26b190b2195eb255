package onnx

import (
	"encoding/binary"
	"math"
	"strconv"
)

// Builder assembles a GraphProto node by node.
//
// Intermediate values get sequential numeric names and nodes are named
// "<OpType>_<index>", the convention of the PyTorch exporter. Nodes are
// appended in call order, so a builder driven by a forward pass produces a
// topologically sorted graph.
type Builder struct {
	graph   GraphProto
	nextVal int
	inits   map[string]bool
}

// NewBuilder creates a builder for a graph with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		graph: GraphProto{Name: name},
		inits: make(map[string]bool),
	}
}

// Input declares a float32 graph input and returns its name.
func (b *Builder) Input(name string, dims []DimensionProto) string {
	b.graph.Inputs = append(b.graph.Inputs, TensorValueInfo(name, TensorProtoFloat, dims))
	return name
}

// Output declares a float32 graph output.
func (b *Builder) Output(name string, dims []DimensionProto) {
	b.graph.Outputs = append(b.graph.Outputs, TensorValueInfo(name, TensorProtoFloat, dims))
}

// Initializer adds a float32 initializer. Adding the same name twice keeps the first.
func (b *Builder) Initializer(name string, dims []int64, data []float32) string {
	if b.inits[name] {
		return name
	}
	b.inits[name] = true
	b.graph.Initializers = append(b.graph.Initializers, FloatTensor(name, dims, data))
	return name
}

// HasInitializer reports whether an initializer with the name was added.
func (b *Builder) HasInitializer(name string) bool {
	return b.inits[name]
}

// Constant emits a Constant node holding a float32 tensor and returns its output.
func (b *Builder) Constant(dims []int64, data []float32) string {
	out := b.value()
	b.graph.Nodes = append(b.graph.Nodes, NodeProto{
		Name:       b.nodeName("Constant"),
		OpType:     "Constant",
		Outputs:    []string{out},
		Attributes: []AttributeProto{AttrTensor("value", FloatTensor("", dims, data))},
	})
	return out
}

// Node appends an operator with a single output and returns the output name.
func (b *Builder) Node(opType string, inputs []string, attrs ...AttributeProto) string {
	out := b.value()
	b.NodeTo(opType, inputs, []string{out}, attrs...)
	return out
}

// NodeTo appends an operator writing to explicitly named outputs.
func (b *Builder) NodeTo(opType string, inputs, outputs []string, attrs ...AttributeProto) {
	b.graph.Nodes = append(b.graph.Nodes, NodeProto{
		Name:       b.nodeName(opType),
		OpType:     opType,
		Inputs:     inputs,
		Outputs:    outputs,
		Attributes: attrs,
	})
}

// Rename rewires every reference to value from to value to. It is used to
// give the final computed values their public graph output names.
func (b *Builder) Rename(from, to string) {
	for i := range b.graph.Nodes {
		n := &b.graph.Nodes[i]
		for j := range n.Inputs {
			if n.Inputs[j] == from {
				n.Inputs[j] = to
			}
		}
		for j := range n.Outputs {
			if n.Outputs[j] == from {
				n.Outputs[j] = to
			}
		}
	}
}

// Graph returns the assembled graph. The builder must not be used afterwards.
func (b *Builder) Graph() *GraphProto {
	return &b.graph
}

func (b *Builder) value() string {
	b.nextVal++
	return strconv.Itoa(b.nextVal)
}

func (b *Builder) nodeName(opType string) string {
	return opType + "_" + strconv.Itoa(len(b.graph.Nodes))
}

// FloatTensor builds a float32 TensorProto with little-endian raw data.
func FloatTensor(name string, dims []int64, data []float32) TensorProto {
	raw := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	return TensorProto{
		Name:     name,
		DataType: TensorProtoFloat,
		Dims:     append([]int64(nil), dims...),
		RawData:  raw,
	}
}

// TensorValueInfo describes a tensor value of the given element type and shape.
func TensorValueInfo(name string, elemType int32, dims []DimensionProto) ValueInfoProto {
	return ValueInfoProto{
		Name: name,
		Type: &TypeProto{TensorType: &TensorTypeProto{
			ElemType: elemType,
			Shape:    &TensorShapeProto{Dims: append([]DimensionProto(nil), dims...)},
		}},
	}
}

// Dims converts static sizes into shape dimensions. Negative sizes become
// the symbolic dimension named param.
func Dims(param string, sizes ...int64) []DimensionProto {
	dims := make([]DimensionProto, len(sizes))
	for i, s := range sizes {
		if s < 0 {
			dims[i] = DimensionProto{DimParam: param}
			continue
		}
		dims[i] = DimensionProto{DimValue: s}
	}
	return dims
}

// Floats decodes the float32 contents of a tensor from either raw or typed data.
func (t *TensorProto) Floats() []float32 {
	if t.DataType != TensorProtoFloat {
		return nil
	}
	if len(t.RawData) > 0 {
		out := make([]float32, len(t.RawData)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.RawData[4*i:]))
		}
		return out
	}
	return t.FloatData
}

// NumElements returns the product of the tensor dimensions.
func (t *TensorProto) NumElements() int64 {
	n := int64(1)
	for _, d := range t.Dims {
		n *= d
	}
	return n
}
