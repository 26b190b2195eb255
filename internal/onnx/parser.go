package onnx

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ParseFile parses an ONNX model from file.
//
//nolint:gosec // G304: Path is provided by user, reading arbitrary model files is intentional.
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse parses an ONNX model from bytes.
//
// Unknown fields are skipped. Repeated scalar fields are accepted in both
// packed and unpacked encodings.
func Parse(data []byte) (*ModelProto, error) {
	m := &ModelProto{}
	if err := decode(data, m.field); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return m, nil
}

// fieldFunc consumes the value of one field and reports how many bytes it
// used. Returning 0 leaves the field to be skipped as unknown; a negative
// count is a protowire error code.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func decode(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func (m *ModelProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch {
	case num == 1 && typ == protowire.VarintType:
		return consumeInt64(b, &m.IRVersion), nil
	case num == 2 && typ == protowire.BytesType:
		return consumeString(b, &m.ProducerName), nil
	case num == 3 && typ == protowire.BytesType:
		return consumeString(b, &m.ProducerVersion), nil
	case num == 4 && typ == protowire.BytesType:
		return consumeString(b, &m.Domain), nil
	case num == 5 && typ == protowire.VarintType:
		return consumeInt64(b, &m.ModelVersion), nil
	case num == 6 && typ == protowire.BytesType:
		return consumeString(b, &m.DocString), nil
	case num == 7 && typ == protowire.BytesType:
		m.Graph = &GraphProto{}
		return consumeMessage(b, m.Graph.field)
	case num == 8 && typ == protowire.BytesType:
		var o OperatorSetID
		n, err := consumeMessage(b, o.field)
		m.OpsetImport = append(m.OpsetImport, o)
		return n, err
	case num == 14 && typ == protowire.BytesType:
		var e StringStringEntry
		n, err := consumeMessage(b, e.field)
		m.MetadataProps = append(m.MetadataProps, e)
		return n, err
	}
	return 0, nil
}

func (g *GraphProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, nil
	}
	switch num {
	case 1:
		var node NodeProto
		n, err := consumeMessage(b, node.field)
		g.Nodes = append(g.Nodes, node)
		return n, err
	case 2:
		return consumeString(b, &g.Name), nil
	case 5:
		var t TensorProto
		n, err := consumeMessage(b, t.field)
		g.Initializers = append(g.Initializers, t)
		return n, err
	case 10:
		return consumeString(b, &g.DocString), nil
	case 11, 12, 13:
		var v ValueInfoProto
		n, err := consumeMessage(b, v.field)
		switch num {
		case 11:
			g.Inputs = append(g.Inputs, v)
		case 12:
			g.Outputs = append(g.Outputs, v)
		default:
			g.ValueInfo = append(g.ValueInfo, v)
		}
		return n, err
	}
	return 0, nil
}

func (n *NodeProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, nil
	}
	switch num {
	case 1:
		var s string
		c := consumeString(b, &s)
		n.Inputs = append(n.Inputs, s)
		return c, nil
	case 2:
		var s string
		c := consumeString(b, &s)
		n.Outputs = append(n.Outputs, s)
		return c, nil
	case 3:
		return consumeString(b, &n.Name), nil
	case 4:
		return consumeString(b, &n.OpType), nil
	case 5:
		var a AttributeProto
		c, err := consumeMessage(b, a.field)
		n.Attributes = append(n.Attributes, a)
		return c, err
	case 6:
		return consumeString(b, &n.DocString), nil
	case 7:
		return consumeString(b, &n.Domain), nil
	}
	return 0, nil
}

func (a *AttributeProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch {
	case num == 1 && typ == protowire.BytesType:
		return consumeString(b, &a.Name), nil
	case num == 2 && typ == protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(b)
		a.F = math.Float32frombits(v)
		return n, nil
	case num == 3 && typ == protowire.VarintType:
		return consumeInt64(b, &a.I), nil
	case num == 4 && typ == protowire.BytesType:
		v, n := protowire.ConsumeBytes(b)
		a.S = v
		return n, nil
	case num == 5 && typ == protowire.BytesType:
		a.T = &TensorProto{}
		return consumeMessage(b, a.T.field)
	case num == 7:
		return consumeFloats(typ, b, &a.Floats), nil
	case num == 8:
		return consumeInt64s(typ, b, &a.Ints), nil
	case num == 9 && typ == protowire.BytesType:
		v, n := protowire.ConsumeBytes(b)
		a.Strings = append(a.Strings, v)
		return n, nil
	case num == 10 && typ == protowire.BytesType:
		var t TensorProto
		n, err := consumeMessage(b, t.field)
		a.Tensors = append(a.Tensors, t)
		return n, err
	case num == 13 && typ == protowire.BytesType:
		return consumeString(b, &a.DocString), nil
	case num == 20 && typ == protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		a.Type = int32(v) //nolint:gosec // G115: Attribute type enum fits in int32.
		return n, nil
	}
	return 0, nil
}

func (t *TensorProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch {
	case num == 1:
		return consumeInt64s(typ, b, &t.Dims), nil
	case num == 2 && typ == protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		t.DataType = int32(v) //nolint:gosec // G115: Data type enum fits in int32.
		return n, nil
	case num == 4:
		return consumeFloats(typ, b, &t.FloatData), nil
	case num == 5:
		var vs []int64
		n := consumeInt64s(typ, b, &vs)
		for _, v := range vs {
			t.Int32Data = append(t.Int32Data, int32(v)) //nolint:gosec // G115: int32_data holds int32 values.
		}
		return n, nil
	case num == 7:
		return consumeInt64s(typ, b, &t.Int64Data), nil
	case num == 8 && typ == protowire.BytesType:
		return consumeString(b, &t.Name), nil
	case num == 9 && typ == protowire.BytesType:
		v, n := protowire.ConsumeBytes(b)
		t.RawData = v
		return n, nil
	case num == 12 && typ == protowire.BytesType:
		return consumeString(b, &t.DocString), nil
	}
	return 0, nil
}

func (v *ValueInfoProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, nil
	}
	switch num {
	case 1:
		return consumeString(b, &v.Name), nil
	case 2:
		v.Type = &TypeProto{}
		return consumeMessage(b, v.Type.field)
	case 3:
		return consumeString(b, &v.DocString), nil
	}
	return 0, nil
}

func (tp *TypeProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	if num != 1 || typ != protowire.BytesType {
		return 0, nil
	}
	tp.TensorType = &TensorTypeProto{}
	return consumeMessage(b, tp.TensorType.field)
}

func (tt *TensorTypeProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch {
	case num == 1 && typ == protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		tt.ElemType = int32(v) //nolint:gosec // G115: Data type enum fits in int32.
		return n, nil
	case num == 2 && typ == protowire.BytesType:
		tt.Shape = &TensorShapeProto{}
		return consumeMessage(b, tt.Shape.field)
	}
	return 0, nil
}

func (s *TensorShapeProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	if num != 1 || typ != protowire.BytesType {
		return 0, nil
	}
	var d DimensionProto
	n, err := consumeMessage(b, d.field)
	s.Dims = append(s.Dims, d)
	return n, err
}

func (d *DimensionProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch {
	case num == 1 && typ == protowire.VarintType:
		return consumeInt64(b, &d.DimValue), nil
	case num == 2 && typ == protowire.BytesType:
		return consumeString(b, &d.DimParam), nil
	}
	return 0, nil
}

func (o *OperatorSetID) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch {
	case num == 1 && typ == protowire.BytesType:
		return consumeString(b, &o.Domain), nil
	case num == 2 && typ == protowire.VarintType:
		return consumeInt64(b, &o.Version), nil
	}
	return 0, nil
}

func (e *StringStringEntry) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, nil
	}
	switch num {
	case 1:
		return consumeString(b, &e.Key), nil
	case 2:
		return consumeString(b, &e.Value), nil
	}
	return 0, nil
}

func consumeMessage(b []byte, fn fieldFunc) (int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	return n, decode(v, fn)
}

func consumeString(b []byte, dst *string) int {
	v, n := protowire.ConsumeBytes(b)
	if n >= 0 {
		*dst = string(v)
	}
	return n
}

func consumeInt64(b []byte, dst *int64) int {
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = int64(v) //nolint:gosec // G115: Protobuf int64 is two's complement.
	}
	return n
}

// consumeInt64s reads a repeated int64 element, either one varint or a packed run.
func consumeInt64s(typ protowire.Type, b []byte, dst *[]int64) int {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n >= 0 {
			*dst = append(*dst, int64(v)) //nolint:gosec // G115: Protobuf int64 is two's complement.
		}
		return n
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return m
			}
			*dst = append(*dst, int64(v)) //nolint:gosec // G115: Protobuf int64 is two's complement.
			packed = packed[m:]
		}
		return n
	}
	return 0
}

// consumeFloats reads a repeated float element, either one fixed32 or a packed run.
func consumeFloats(typ protowire.Type, b []byte, dst *[]float32) int {
	switch typ {
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(b)
		if n >= 0 {
			*dst = append(*dst, math.Float32frombits(v))
		}
		return n
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeFixed32(packed)
			if m < 0 {
				return m
			}
			*dst = append(*dst, math.Float32frombits(v))
			packed = packed[m:]
		}
		return n
	}
	return 0
}
