package catalog

import (
	"fmt"
)

// Model identifiers with special training facts.
const (
	ModelCyto   = "cyto"
	ModelCyto2  = "cyto2"
	ModelCyto3  = "cyto3"
	ModelNuclei = "nuclei"
)

// Mean object diameters (pixels) the catalog models were trained with.
const (
	NucleiDiameter  = 17.0
	DefaultDiameter = 30.0
)

// diameters lists identifiers trained at a non-default diameter.
var diameters = map[string]float64{
	ModelNuclei: NucleiDiameter,
}

// foldCounts lists identifiers released as several cross-validation replicas.
var foldCounts = map[string]int{
	ModelCyto:   4,
	ModelCyto2:  4,
	ModelCyto3:  4,
	ModelNuclei: 4,
}

// ModelStorage locates weights files for model identifiers.
type ModelStorage interface {
	// BuiltinIdentifiers returns the models shipped with Cellpose.
	BuiltinIdentifiers() []string
	// UserIdentifiers returns the custom models registered by the user, in
	// registration order.
	UserIdentifiers() ([]string, error)
	// ResolvePath returns the weights file of one fold of a model. With
	// createIfMissing the storage may fetch the file first.
	ResolvePath(id string, fold int, createIfMissing bool) (string, error)
}

// Resolver answers catalog questions on top of a ModelStorage.
type Resolver struct {
	storage ModelStorage
}

// NewResolver creates a resolver backed by storage.
func NewResolver(storage ModelStorage) *Resolver {
	return &Resolver{storage: storage}
}

// ListAllModels returns the built-in identifiers followed by the user
// identifiers. Duplicates are kept.
func (r *Resolver) ListAllModels() ([]string, error) {
	user, err := r.storage.UserIdentifiers()
	if err != nil {
		return nil, fmt.Errorf("failed to list user models: %w", err)
	}
	builtin := r.storage.BuiltinIdentifiers()
	ids := make([]string, 0, len(builtin)+len(user))
	ids = append(ids, builtin...)
	return append(ids, user...), nil
}

// MeanDiameter returns the diameter a model was trained with: 17 for
// nuclei, 30 for everything else. An empty identifier counts as cyto.
func (r *Resolver) MeanDiameter(id string) float64 {
	if d, ok := diameters[canonicalID(id)]; ok {
		return d
	}
	return DefaultDiameter
}

// FoldCount returns the number of weight replicas of a model. An empty
// identifier counts as cyto.
func (r *Resolver) FoldCount(id string) int {
	if n, ok := foldCounts[canonicalID(id)]; ok {
		return n
	}
	return 1
}

// ResolveWeightsPaths returns one weights path per fold, asking the storage
// to fetch missing files. The storage sees the identifier unchanged, even
// when it is empty.
func (r *Resolver) ResolveWeightsPaths(id string) ([]string, error) {
	n := r.FoldCount(id)
	paths := make([]string, 0, n)
	for fold := 0; fold < n; fold++ {
		p, err := r.storage.ResolvePath(id, fold, true)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %q fold %d: %w", id, fold, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func canonicalID(id string) string {
	if id == "" {
		return ModelCyto
	}
	return id
}
