package onnx

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal encodes an ONNX model into protobuf wire format.
//
// Field numbers follow onnx.proto. Repeated scalars that onnx.proto does not
// declare packed (dims, ints, floats) are written one tag per element, which
// is what the reference onnx implementation emits.
func Marshal(m *ModelProto) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.IRVersion)) //nolint:gosec // G115: IR version is small and positive.
	b = appendStringField(b, 2, m.ProducerName)
	b = appendStringField(b, 3, m.ProducerVersion)
	b = appendStringField(b, 4, m.Domain)
	if m.ModelVersion != 0 {
		b = appendVarintField(b, 5, uint64(m.ModelVersion)) //nolint:gosec // G115: Model version is non-negative.
	}
	b = appendStringField(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessageField(b, 7, marshalGraph(m.Graph))
	}
	for _, o := range m.OpsetImport {
		b = appendMessageField(b, 8, marshalOpset(&o))
	}
	for _, e := range m.MetadataProps {
		var sub []byte
		sub = appendStringField(sub, 1, e.Key)
		sub = appendStringField(sub, 2, e.Value)
		b = appendMessageField(b, 14, sub)
	}
	return b
}

// WriteFile encodes the model and writes it to path, truncating any existing file.
func WriteFile(path string, m *ModelProto) error {
	//nolint:gosec // G306: Exported models are meant to be readable by other tools.
	if err := os.WriteFile(path, Marshal(m), 0o644); err != nil {
		return fmt.Errorf("failed to write onnx model: %w", err)
	}
	return nil
}

func marshalGraph(g *GraphProto) []byte {
	var b []byte
	for i := range g.Nodes {
		b = appendMessageField(b, 1, marshalNode(&g.Nodes[i]))
	}
	b = appendStringField(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessageField(b, 5, marshalTensor(&g.Initializers[i]))
	}
	b = appendStringField(b, 10, g.DocString)
	for i := range g.Inputs {
		b = appendMessageField(b, 11, marshalValueInfo(&g.Inputs[i]))
	}
	for i := range g.Outputs {
		b = appendMessageField(b, 12, marshalValueInfo(&g.Outputs[i]))
	}
	for i := range g.ValueInfo {
		b = appendMessageField(b, 13, marshalValueInfo(&g.ValueInfo[i]))
	}
	return b
}

func marshalNode(n *NodeProto) []byte {
	var b []byte
	for _, in := range n.Inputs {
		// Empty names are meaningful: they mark omitted optional inputs.
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendStringField(b, 3, n.Name)
	b = appendStringField(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendMessageField(b, 5, marshalAttribute(&n.Attributes[i]))
	}
	b = appendStringField(b, 6, n.DocString)
	b = appendStringField(b, 7, n.Domain)
	return b
}

func marshalAttribute(a *AttributeProto) []byte {
	var b []byte
	b = appendStringField(b, 1, a.Name)
	switch a.Type {
	case AttributeProtoFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case AttributeProtoInt:
		b = appendVarintField(b, 3, uint64(a.I)) //nolint:gosec // G115: Two's complement encoding is the protobuf int64 rule.
	case AttributeProtoString:
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, a.S)
	case AttributeProtoTensor:
		if a.T != nil {
			b = appendMessageField(b, 5, marshalTensor(a.T))
		}
	case AttributeProtoFloats:
		for _, f := range a.Floats {
			b = protowire.AppendTag(b, 7, protowire.Fixed32Type)
			b = protowire.AppendFixed32(b, math.Float32bits(f))
		}
	case AttributeProtoInts:
		// Zero elements are significant here, unlike in scalar fields.
		for _, v := range a.Ints {
			b = protowire.AppendTag(b, 8, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(v)) //nolint:gosec // G115: Two's complement encoding is the protobuf int64 rule.
		}
	case AttributeProtoStrings:
		for _, s := range a.Strings {
			b = protowire.AppendTag(b, 9, protowire.BytesType)
			b = protowire.AppendBytes(b, s)
		}
	case AttributeProtoTensors:
		for i := range a.Tensors {
			b = appendMessageField(b, 10, marshalTensor(&a.Tensors[i]))
		}
	}
	b = appendStringField(b, 13, a.DocString)
	b = appendVarintField(b, 20, uint64(a.Type)) //nolint:gosec // G115: Attribute type enum is small.
	return b
}

func marshalTensor(t *TensorProto) []byte {
	var b []byte
	for _, d := range t.Dims {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d)) //nolint:gosec // G115: Dimensions are non-negative.
	}
	b = appendVarintField(b, 2, uint64(t.DataType)) //nolint:gosec // G115: Data type enum is small.
	if len(t.FloatData) > 0 {
		packed := make([]byte, 0, 4*len(t.FloatData))
		for _, f := range t.FloatData {
			packed = protowire.AppendFixed32(packed, math.Float32bits(f))
		}
		b = appendMessageField(b, 4, packed)
	}
	if len(t.Int32Data) > 0 {
		var packed []byte
		for _, v := range t.Int32Data {
			packed = protowire.AppendVarint(packed, uint64(int64(v))) //nolint:gosec // G115: Sign extension per protobuf int32 rule.
		}
		b = appendMessageField(b, 5, packed)
	}
	if len(t.Int64Data) > 0 {
		var packed []byte
		for _, v := range t.Int64Data {
			packed = protowire.AppendVarint(packed, uint64(v)) //nolint:gosec // G115: Two's complement encoding is the protobuf int64 rule.
		}
		b = appendMessageField(b, 7, packed)
	}
	b = appendStringField(b, 8, t.Name)
	if t.RawData != nil {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, t.RawData)
	}
	b = appendStringField(b, 12, t.DocString)
	return b
}

func marshalValueInfo(v *ValueInfoProto) []byte {
	var b []byte
	b = appendStringField(b, 1, v.Name)
	if v.Type != nil {
		var tp []byte
		if tt := v.Type.TensorType; tt != nil {
			var sub []byte
			sub = appendVarintField(sub, 1, uint64(tt.ElemType)) //nolint:gosec // G115: Data type enum is small.
			if tt.Shape != nil {
				var shape []byte
				for _, d := range tt.Shape.Dims {
					var dim []byte
					if d.DimParam != "" {
						dim = appendStringField(dim, 2, d.DimParam)
					} else {
						dim = protowire.AppendTag(dim, 1, protowire.VarintType)
						dim = protowire.AppendVarint(dim, uint64(d.DimValue)) //nolint:gosec // G115: Dimensions are non-negative.
					}
					shape = appendMessageField(shape, 1, dim)
				}
				sub = appendMessageField(sub, 2, shape)
			}
			tp = appendMessageField(tp, 1, sub)
		}
		b = appendMessageField(b, 2, tp)
	}
	b = appendStringField(b, 3, v.DocString)
	return b
}

func marshalOpset(o *OperatorSetID) []byte {
	var b []byte
	b = appendStringField(b, 1, o.Domain)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(o.Version)) //nolint:gosec // G115: Opset versions are small and positive.
	return b
}

// appendStringField writes a string field, omitting it when empty.
func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// appendVarintField writes a varint field, omitting it when zero.
func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMessageField(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
