package convert

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/born-ml/cellpose2onnx/internal/cpnet"
	"github.com/born-ml/cellpose2onnx/internal/onnx"
	"github.com/born-ml/cellpose2onnx/internal/weights"
)

// Extension is appended to the weights file name to form the artifact name.
const Extension = ".onnx"

// Artifact is an ONNX file written by a conversion.
type Artifact struct {
	Path         string  // Written ONNX file
	WeightsPath  string  // Source weights file
	MeanDiameter float64 // Diameter the network was built with
}

// Converter turns Cellpose weights files into ONNX files.
type Converter struct {
	batchSize int
	export    cpnet.ExportOptions
	logger    logrus.FieldLogger

	newNetwork func(cpnet.Config) (*cpnet.Network, error)
	load       func(path string) (*weights.StateDict, error)
}

// Option configures a Converter.
type Option func(*Converter)

// WithBatchSize sets the batch size of the trace input. It defaults to 1.
func WithBatchSize(n int) Option {
	return func(c *Converter) { c.batchSize = n }
}

// WithExportOptions replaces the export settings. The batch size set with
// WithBatchSize still applies.
func WithExportOptions(opts cpnet.ExportOptions) Option {
	return func(c *Converter) { c.export = opts }
}

// WithLogger sets the logger. It defaults to the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Converter) { c.logger = l }
}

// New creates a converter exporting opset 12 graphs with constant folding.
func New(opts ...Option) *Converter {
	c := &Converter{
		batchSize:  1,
		export:     cpnet.DefaultExportOptions(),
		logger:     logrus.StandardLogger(),
		newNetwork: cpnet.New,
		load:       weights.Load,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ArtifactPath returns where the ONNX file for weightsPath is written.
func ArtifactPath(weightsPath, outputDir string) string {
	return filepath.Join(outputDir, filepath.Base(weightsPath)+Extension)
}

// Convert builds a CPnet for meanDiameter, loads the weights into it and
// writes <outputDir>/<weights file name>.onnx, replacing an earlier export
// of the same file.
//
// The diameter is not checked against the canonical values; callers
// restrict it (see ValidateMeanDiameter). A canonical but wrong diameter
// produces a valid model that behaves incorrectly at inference time.
func (c *Converter) Convert(weightsPath, outputDir string, meanDiameter float64) (*Artifact, error) {
	out := ArtifactPath(weightsPath, outputDir)
	log := c.logger.WithFields(logrus.Fields{
		"weights":   weightsPath,
		"output":    out,
		"diam_mean": meanDiameter,
	})
	log.Info("converting model")

	net, err := c.newNetwork(cpnet.DefaultConfig(meanDiameter))
	if err != nil {
		return nil, fmt.Errorf("failed to build network: %w", err)
	}

	sd, err := c.load(weightsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load weights %s: %w", weightsPath, err)
	}
	if err := net.LoadStateDict(sd); err != nil {
		return nil, fmt.Errorf("failed to load weights %s: %w", weightsPath, err)
	}
	log.WithField("tensors", sd.Len()).Debug("weights loaded")

	opts := c.export
	opts.BatchSize = c.batchSize
	opts.Metadata = map[string]string{"source": filepath.Base(weightsPath)}
	for k, v := range c.export.Metadata {
		opts.Metadata[k] = v
	}

	model, err := net.Export(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", weightsPath, err)
	}
	if err := onnx.WriteFile(out, model); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"nodes":        len(model.Graph.Nodes),
		"initializers": len(model.Graph.Initializers),
	}).Info("model converted")

	return &Artifact{Path: out, WeightsPath: weightsPath, MeanDiameter: meanDiameter}, nil
}
