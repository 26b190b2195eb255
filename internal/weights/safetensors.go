package weights

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
)

// SafeTensors format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

// maxHeaderSize bounds the JSON header so a corrupt length cannot trigger a huge allocation.
const maxHeaderSize = 100 * 1024 * 1024

// SafeTensorsDType represents supported SafeTensors data types.
type SafeTensorsDType string

// Supported SafeTensors dtypes.
const (
	SafeTensorsF16  SafeTensorsDType = "F16"
	SafeTensorsBF16 SafeTensorsDType = "BF16"
	SafeTensorsF32  SafeTensorsDType = "F32"
	SafeTensorsF64  SafeTensorsDType = "F64"
	SafeTensorsI32  SafeTensorsDType = "I32"
	SafeTensorsI64  SafeTensorsDType = "I64"
)

// size returns the element size in bytes, or 0 for unsupported dtypes.
func (d SafeTensorsDType) size() int {
	switch d {
	case SafeTensorsF16, SafeTensorsBF16:
		return 2
	case SafeTensorsF32, SafeTensorsI32:
		return 4
	case SafeTensorsF64, SafeTensorsI64:
		return 8
	default:
		return 0
	}
}

// SafeTensorInfo describes a tensor in SafeTensors format.
type SafeTensorInfo struct {
	DType       SafeTensorsDType `json:"dtype"`
	Shape       []int            `json:"shape"`
	DataOffsets [2]int64         `json:"data_offsets"` // [start, end] relative to the data section
}

// LoadSafeTensors reads every tensor of a SafeTensors file into a state dict.
// Tensors are ordered by their data offset, which is the order they were written in.
//
//nolint:gosec // G304: Path is provided by user, reading arbitrary weights files is intentional.
func LoadSafeTensors(path string) (*StateDict, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close() // Read-only, close error carries no information
	}()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		return nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > maxHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	type entry struct {
		name string
		info SafeTensorInfo
	}
	entries := make([]entry, 0, len(raw))
	for name, value := range raw {
		if name == "__metadata__" {
			continue
		}
		var info SafeTensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tensor %s: %w", name, err)
		}
		entries = append(entries, entry{name: name, info: info})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].info.DataOffsets[0] != entries[j].info.DataOffsets[0] {
			return entries[i].info.DataOffsets[0] < entries[j].info.DataOffsets[0]
		}
		return entries[i].name < entries[j].name
	})

	dataOffset := int64(8 + headerSize) //nolint:gosec // G115: Header size is bounded by maxHeaderSize.
	dataSize := stat.Size() - dataOffset

	sd := NewStateDict()
	for _, e := range entries {
		t, err := readSafeTensor(file, dataOffset, dataSize, e.name, e.info)
		if err != nil {
			return nil, err
		}
		sd.Set(e.name, t)
	}
	return sd, nil
}

func readSafeTensor(r io.ReaderAt, dataOffset, dataSize int64, name string, info SafeTensorInfo) (*Tensor, error) {
	elemSize := info.DType.size()
	if elemSize == 0 {
		return nil, fmt.Errorf("%w: %s (tensor %s)", ErrUnsupportedDType, info.DType, name)
	}

	t := &Tensor{Shape: append([]int(nil), info.Shape...)}
	n := t.NumElements()

	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if start < 0 || end < start || end > dataSize {
		return nil, fmt.Errorf("%w: tensor %s [%d, %d]", ErrOutOfBounds, name, start, end)
	}
	if end-start != int64(n*elemSize) {
		return nil, fmt.Errorf("tensor %s: %d bytes for shape %v (%s)", name, end-start, info.Shape, info.DType)
	}

	data := make([]byte, end-start)
	if _, err := r.ReadAt(data, dataOffset+start); err != nil {
		return nil, fmt.Errorf("failed to read tensor %s: %w", name, err)
	}

	switch info.DType {
	case SafeTensorsF32:
		t.Data = make([]float32, n)
		for i := range t.Data {
			t.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		}
	case SafeTensorsF64:
		t.Data = make([]float32, n)
		for i := range t.Data {
			t.Data[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:])))
		}
	case SafeTensorsF16:
		t.Data = make([]float32, n)
		for i := range t.Data {
			t.Data[i] = float16ToFloat32(binary.LittleEndian.Uint16(data[2*i:]))
		}
	case SafeTensorsBF16:
		t.Data = make([]float32, n)
		for i := range t.Data {
			t.Data[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(data[2*i:])) << 16)
		}
	case SafeTensorsI32:
		t.Ints = make([]int64, n)
		for i := range t.Ints {
			t.Ints[i] = int64(int32(binary.LittleEndian.Uint32(data[4*i:]))) //nolint:gosec // G115: Reinterpreting stored int32 bits.
		}
	case SafeTensorsI64:
		t.Ints = make([]int64, n)
		for i := range t.Ints {
			t.Ints[i] = int64(binary.LittleEndian.Uint64(data[8*i:])) //nolint:gosec // G115: Reinterpreting stored int64 bits.
		}
	}
	return t, nil
}

// WriteSafeTensors writes a state dict to a SafeTensors file.
//
// Float tensors are stored as F32 and integer tensors as I64, in state dict order.
func WriteSafeTensors(path string, sd *StateDict, metadata map[string]string) error {
	header := make(map[string]interface{})
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}

	var offset int64
	for _, name := range sd.Keys() {
		t, _ := sd.Get(name)
		dtype := SafeTensorsF32
		if !t.IsFloat() {
			dtype = SafeTensorsI64
		}
		size := int64(t.NumElements() * dtype.size())
		header[name] = SafeTensorInfo{
			DType:       dtype,
			Shape:       t.Shape,
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	buf := make([]byte, 0, 8+len(headerJSON)+int(offset))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(headerJSON)))
	buf = append(buf, headerJSON...)
	for _, name := range sd.Keys() {
		t, _ := sd.Get(name)
		if t.IsFloat() {
			for _, v := range t.Data {
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
			}
			continue
		}
		for _, v := range t.Ints {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(v)) //nolint:gosec // G115: Storing int64 bits.
		}
	}

	//nolint:gosec // G306: Weights files are not secret.
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write safetensors file: %w", err)
	}
	return nil
}

// float16ToFloat32 converts IEEE 754 half precision bits to float32.
func float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff

	switch {
	case exp == 0 && frac == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		// Subnormal: renormalize.
		for frac&0x400 == 0 {
			frac <<= 1
			exp--
		}
		exp++
		frac &= 0x3ff
	case exp == 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | frac<<13)
	}
	return math.Float32frombits(sign | (exp+112)<<23 | frac<<13)
}
