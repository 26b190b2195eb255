package weights

import (
	"fmt"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
)

// LoadTorch reads a state dict saved with torch.save, in either the zip
// container format (PyTorch >= 1.6) or the legacy pickle format.
//
// The top-level object must be an OrderedDict of tensors, which is what
// torch.save(module.state_dict(), path) produces.
func LoadTorch(path string) (*StateDict, error) {
	obj, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to unpickle torch file: %w", err)
	}

	dict, ok := obj.(*types.OrderedDict)
	if !ok {
		return nil, fmt.Errorf("%w: top-level object is %T", ErrNotStateDict, obj)
	}

	sd := NewStateDict()
	for e := dict.List.Front(); e != nil; e = e.Next() {
		entry, ok := e.Value.(*types.OrderedDictEntry)
		if !ok {
			continue
		}
		name, ok := entry.Key.(string)
		if !ok {
			return nil, fmt.Errorf("%w: non-string key %v", ErrNotStateDict, entry.Key)
		}
		pt, ok := entry.Value.(*pytorch.Tensor)
		if !ok {
			// Non-tensor entries (e.g. _metadata) are not parameters.
			continue
		}
		t, err := fromTorchTensor(pt)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		sd.Set(name, t)
	}
	return sd, nil
}

func fromTorchTensor(pt *pytorch.Tensor) (*Tensor, error) {
	t := &Tensor{Shape: append([]int(nil), pt.Size...)}
	n := t.NumElements()
	index := stridedIndex(pt.Size, pt.Stride, pt.StorageOffset)

	switch s := pt.Source.(type) {
	case *pytorch.FloatStorage:
		t.Data = gather(s.Data, index, n, func(v float32) float32 { return v })
	case *pytorch.HalfStorage:
		t.Data = gather(s.Data, index, n, func(v float32) float32 { return v })
	case *pytorch.DoubleStorage:
		t.Data = gather(s.Data, index, n, func(v float64) float32 { return float32(v) })
	case *pytorch.LongStorage:
		t.Ints = gather(s.Data, index, n, func(v int64) int64 { return v })
	case *pytorch.IntStorage:
		t.Ints = gather(s.Data, index, n, func(v int32) int64 { return int64(v) })
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedSource, pt.Source)
	}
	if t.Data == nil && t.Ints == nil {
		return nil, fmt.Errorf("%w: storage too small for shape %v", ErrOutOfBounds, pt.Size)
	}
	return t, nil
}

// stridedIndex returns a function mapping a row-major element index to its
// position in the underlying storage.
func stridedIndex(size, stride []int, offset int) func(int) int {
	contiguous := true
	expect := 1
	for i := len(size) - 1; i >= 0; i-- {
		if size[i] != 1 && stride[i] != expect {
			contiguous = false
			break
		}
		expect *= size[i]
	}
	if contiguous {
		return func(i int) int { return offset + i }
	}
	return func(i int) int {
		pos := offset
		for d := len(size) - 1; d >= 0; d-- {
			pos += (i % size[d]) * stride[d]
			i /= size[d]
		}
		return pos
	}
}

// gather copies n strided elements out of storage, returning nil when an
// index falls outside it.
func gather[S any, D any](storage []S, index func(int) int, n int, conv func(S) D) []D {
	out := make([]D, n)
	for i := range out {
		p := index(i)
		if p < 0 || p >= len(storage) {
			return nil
		}
		out[i] = conv(storage[p])
	}
	return out
}
