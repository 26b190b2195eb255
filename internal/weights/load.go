package weights

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Format represents the on-disk weights format.
type Format int

// Supported weights formats.
const (
	FormatUnknown Format = iota
	FormatSafeTensors
	FormatTorchZip
	FormatTorchLegacy
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatSafeTensors:
		return "SafeTensors"
	case FormatTorchZip:
		return "PyTorch (zip)"
	case FormatTorchLegacy:
		return "PyTorch (legacy)"
	default:
		return "Unknown"
	}
}

var zipMagic = []byte("PK\x03\x04")

// pickleProto is the PROTO opcode every pickle protocol >= 2 stream starts with.
const pickleProto = 0x80

// DetectFormat sniffs the leading bytes of a weights file.
//
// Cellpose distributes its weights without a file extension, so the
// format is never inferred from the name.
//
//nolint:gosec // G304: Path is provided by user, reading arbitrary weights files is intentional.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = f.Close() // Read-only, close error carries no information
	}()

	head := make([]byte, 9)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return FormatUnknown, fmt.Errorf("failed to read file header: %w", err)
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, zipMagic):
		return FormatTorchZip, nil
	case len(head) > 0 && head[0] == pickleProto:
		return FormatTorchLegacy, nil
	case len(head) == 9 && head[8] == '{' && binary.LittleEndian.Uint64(head) <= maxHeaderSize:
		return FormatSafeTensors, nil
	}
	return FormatUnknown, ErrUnknownFormat
}

// Load deserializes a weights file into a state dict, dispatching on the
// detected format.
func Load(path string) (*StateDict, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatSafeTensors:
		return LoadSafeTensors(path)
	case FormatTorchZip, FormatTorchLegacy:
		return LoadTorch(path)
	default:
		return nil, ErrUnknownFormat
	}
}
