package convert

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/born-ml/cellpose2onnx/internal/catalog"
)

// ErrNotDirectory is returned when the output path exists but is not a directory.
var ErrNotDirectory = errors.New("output path is not a directory")

// Request is what an entry point collects from the user.
type Request struct {
	ModelPath    string  // Single weights file; empty converts the whole catalog
	OutputDir    string  // Destination directory, created one level deep
	MeanDiameter float64 // Required with ModelPath: 17 or 30
}

// Service runs conversions the way the command line and the form UI do.
type Service struct {
	converter *Converter
	resolver  *catalog.Resolver
	logger    logrus.FieldLogger
}

// NewService creates a service converting with c and enumerating models through r.
func NewService(c *Converter, r *catalog.Resolver, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{converter: c, resolver: r, logger: logger}
}

// Run validates the request, creates the output directory and converts
// either the given weights file or every catalog model.
//
// For a single model the diameter is checked before anything else: an
// invalid value leaves the filesystem untouched.
func (s *Service) Run(req Request) ([]*Artifact, error) {
	if req.ModelPath != "" {
		if err := ValidateMeanDiameter(req.MeanDiameter); err != nil {
			return nil, err
		}
	}
	if err := EnsureOutputDir(req.OutputDir); err != nil {
		return nil, err
	}
	if req.ModelPath == "" {
		return s.ConvertAll(req.OutputDir)
	}
	a, err := s.converter.Convert(req.ModelPath, req.OutputDir, req.MeanDiameter)
	if err != nil {
		return nil, err
	}
	return []*Artifact{a}, nil
}

// ConvertAll converts every fold of every catalog model in listing order,
// one at a time. The first failure stops the batch; the artifacts written
// before it are returned with the error.
func (s *Service) ConvertAll(outputDir string) ([]*Artifact, error) {
	ids, err := s.resolver.ListAllModels()
	if err != nil {
		return nil, err
	}

	var artifacts []*Artifact
	for _, id := range ids {
		diam := s.resolver.MeanDiameter(id)
		paths, err := s.resolver.ResolveWeightsPaths(id)
		if err != nil {
			return artifacts, err
		}
		for fold, path := range paths {
			s.logger.WithFields(logrus.Fields{
				"model":     id,
				"fold":      fold,
				"diam_mean": diam,
			}).Info("converting catalog model")

			a, err := s.converter.Convert(path, outputDir, diam)
			if err != nil {
				return artifacts, fmt.Errorf("model %q fold %d: %w", id, fold, err)
			}
			artifacts = append(artifacts, a)
		}
	}
	return artifacts, nil
}

// EnsureOutputDir creates dir if it is missing. Only the last path element is
// created; a missing parent is an error.
func EnsureOutputDir(dir string) error {
	fi, err := os.Stat(dir)
	switch {
	case err == nil:
		if !fi.IsDir() {
			return fmt.Errorf("%w: %s", ErrNotDirectory, dir)
		}
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("failed to stat output directory: %w", err)
	}
	if err := os.Mkdir(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}
