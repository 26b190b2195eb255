package weights

// Tensor is a deserialized parameter or buffer.
//
// Floating point tensors of any stored precision are widened or narrowed to
// float32 in Data; integer tensors (e.g. BatchNorm num_batches_tracked) are
// kept in Ints.
type Tensor struct {
	Shape []int
	Data  []float32
	Ints  []int64
}

// NumElements returns the number of elements implied by the shape.
func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// IsFloat reports whether the tensor holds floating point data.
func (t *Tensor) IsFloat() bool {
	return t.Ints == nil
}

// ShapeEqual reports whether the tensor has exactly the given shape.
func (t *Tensor) ShapeEqual(shape []int) bool {
	if len(t.Shape) != len(shape) {
		return false
	}
	for i := range shape {
		if t.Shape[i] != shape[i] {
			return false
		}
	}
	return true
}

// StateDict is an ordered mapping from parameter names to tensors,
// the in-memory form of a PyTorch module state dict.
type StateDict struct {
	keys    []string
	tensors map[string]*Tensor
}

// NewStateDict creates an empty state dict.
func NewStateDict() *StateDict {
	return &StateDict{tensors: make(map[string]*Tensor)}
}

// Set stores a tensor, keeping the original insertion position on overwrite.
func (s *StateDict) Set(name string, t *Tensor) {
	if _, ok := s.tensors[name]; !ok {
		s.keys = append(s.keys, name)
	}
	s.tensors[name] = t
}

// Get returns the tensor stored under name.
func (s *StateDict) Get(name string) (*Tensor, bool) {
	t, ok := s.tensors[name]
	return t, ok
}

// Keys returns the names in insertion order.
func (s *StateDict) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Len returns the number of tensors.
func (s *StateDict) Len() int {
	return len(s.keys)
}
