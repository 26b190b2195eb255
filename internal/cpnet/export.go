package cpnet

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/born-ml/cellpose2onnx/internal/onnx"
)

// Opset range the emitted operators are valid for: Resize needs 11,
// attribute-style Unsqueeze/ReduceSum axes end at 12.
const (
	minOpset = 11
	maxOpset = 12
)

// irVersion is the IR version matching opset 12 (onnx 1.7).
const irVersion = 7

// batchParam names the symbolic batch dimension.
const batchParam = "batch"

// ExportOptions configures graph export.
type ExportOptions struct {
	OpsetVersion    int64    // Target opset of the default domain
	ConstantFolding bool     // Store constants as initializers instead of Constant nodes
	InputName       string   // Name of the image input
	OutputNames     []string // Names of the flow/probability output and the style output
	DynamicBatch    bool     // Declare the batch dimension symbolic

	// Trace input shape: (BatchSize, NBase[0], Height, Width).
	BatchSize int
	Height    int
	Width     int

	ProducerName    string
	ProducerVersion string
	Metadata        map[string]string // Extra metadata_props entries
}

// DefaultExportOptions returns the settings used for Cellpose conversions:
// opset 12 with constant folding, input "input", outputs "output" and
// "style", traced with a single 224x224 image.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		OpsetVersion:    12,
		ConstantFolding: true,
		InputName:       "input",
		OutputNames:     []string{"output", "style"},
		DynamicBatch:    true,
		BatchSize:       1,
		Height:          224,
		Width:           224,
		ProducerName:    "cellpose2onnx",
	}
}

func (o ExportOptions) validate(cfg Config) error {
	if o.OpsetVersion < minOpset || o.OpsetVersion > maxOpset {
		return fmt.Errorf("%w: %d (supported %d-%d)", ErrUnsupportedOpset, o.OpsetVersion, minOpset, maxOpset)
	}
	if o.InputName == "" || len(o.OutputNames) != 2 || o.OutputNames[0] == "" || o.OutputNames[1] == "" {
		return fmt.Errorf("%w: need one input name and two output names", ErrInvalidConfig)
	}
	if o.OutputNames[0] == o.OutputNames[1] || o.InputName == o.OutputNames[0] || o.InputName == o.OutputNames[1] {
		return fmt.Errorf("%w: input and output names must be distinct", ErrInvalidConfig)
	}
	if o.BatchSize < 1 {
		return fmt.Errorf("%w: batch size %d", ErrInvalidTraceInput, o.BatchSize)
	}
	f := cfg.downFactor()
	if o.Height <= 0 || o.Width <= 0 || o.Height%f != 0 || o.Width%f != 0 {
		return fmt.Errorf("%w: %dx%d must be positive multiples of %d", ErrInvalidTraceInput, o.Height, o.Width, f)
	}
	return nil
}

// Export traces the loaded network with an input of the configured shape
// and returns the resulting ONNX model.
//
// Parameters are embedded as initializers named by their state dict keys.
// The returned model passes onnx.Check.
func (n *Network) Export(opts ExportOptions) (*onnx.ModelProto, error) {
	if !n.Loaded() {
		return nil, ErrNotLoaded
	}
	if err := opts.validate(n.cfg); err != nil {
		return nil, err
	}

	batch := int64(opts.BatchSize)
	declared := batch
	if opts.DynamicBatch {
		declared = -1
	}
	h, w := int64(opts.Height), int64(opts.Width)

	t := &tracer{b: onnx.NewBuilder("main_graph"), params: n.params}
	in := t.b.Input(opts.InputName, onnx.Dims(batchParam, declared, int64(n.cfg.NBase[0]), h, w))

	out, style := n.forward(t, value{name: in, shape: []int64{batch, int64(n.cfg.NBase[0]), h, w}})
	if t.err != nil {
		return nil, fmt.Errorf("failed to trace network: %w", t.err)
	}

	t.b.Rename(out.name, opts.OutputNames[0])
	t.b.Rename(style.name, opts.OutputNames[1])
	t.b.Output(opts.OutputNames[0], onnx.Dims(batchParam, declared, out.shape[1], out.shape[2], out.shape[3]))
	t.b.Output(opts.OutputNames[1], onnx.Dims(batchParam, declared, style.shape[1]))

	graph := t.b.Graph()
	if opts.ConstantFolding {
		onnx.FoldConstants(graph)
	}

	model := &onnx.ModelProto{
		IRVersion:       irVersion,
		OpsetImport:     []onnx.OperatorSetID{{Version: opts.OpsetVersion}},
		ProducerName:    opts.ProducerName,
		ProducerVersion: opts.ProducerVersion,
		Graph:           graph,
		MetadataProps: []onnx.StringStringEntry{
			{Key: "diam_mean", Value: strconv.FormatFloat(n.cfg.DiamMean, 'f', -1, 64)},
			{Key: "nbase", Value: formatInts(n.cfg.NBase)},
			{Key: "nout", Value: strconv.Itoa(n.cfg.NOut)},
		},
	}
	for _, k := range slices.Sorted(maps.Keys(opts.Metadata)) {
		model.MetadataProps = append(model.MetadataProps, onnx.StringStringEntry{Key: k, Value: opts.Metadata[k]})
	}

	if err := onnx.Check(model); err != nil {
		return nil, fmt.Errorf("exported graph is malformed: %w", err)
	}
	return model, nil
}
