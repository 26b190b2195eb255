// Package catalog enumerates the Cellpose models that can be converted and
// resolves each model and fold to a weights file.
//
// The Resolver holds the hard-coded training facts of the catalog (mean
// diameter and number of folds per identifier). File lookup is delegated to
// a ModelStorage; FileStorage implements Cellpose's on-disk layout under
// ~/.cellpose/models, including download on demand.
package catalog
