package cpnet

import (
	"errors"
	"fmt"
	"math"
)

// Architecture constants of the released Cellpose models.
var defaultNBase = []int{2, 32, 64, 128, 256}

const (
	defaultNOut       = 3
	defaultKernelSize = 3
)

// Errors returned while building, loading or exporting a network.
var (
	ErrInvalidConfig     = errors.New("invalid network config")
	ErrMissingParameter  = errors.New("missing parameter")
	ErrShapeMismatch     = errors.New("parameter shape mismatch")
	ErrNotLoaded         = errors.New("network weights not loaded")
	ErrUnsupportedOpset  = errors.New("unsupported opset version")
	ErrInvalidTraceInput = errors.New("invalid trace input")
)

// Config describes a CPnet instance.
type Config struct {
	NBase      []int   // Channel widths, input channels first
	NOut       int     // Output head channels (flows + cell probability)
	KernelSize int     // Convolution kernel size of the residual blocks
	DiamMean   float64 // Mean object diameter the weights were trained for

	ResidualOn    bool // Residual encoder/decoder blocks
	StyleOn       bool // Feed the style vector to the decoder
	Concatenation bool // Concatenate skip connections instead of adding them
}

// DefaultConfig returns the configuration every built-in Cellpose model was
// trained with: residual blocks and style vector on, additive skips.
func DefaultConfig(diamMean float64) Config {
	return Config{
		NBase:         append([]int(nil), defaultNBase...),
		NOut:          defaultNOut,
		KernelSize:    defaultKernelSize,
		DiamMean:      diamMean,
		ResidualOn:    true,
		StyleOn:       true,
		Concatenation: false,
	}
}

// Validate reports configurations the graph emitter cannot express.
func (c Config) Validate() error {
	if len(c.NBase) < 2 {
		return fmt.Errorf("%w: need at least 2 channel widths, got %v", ErrInvalidConfig, c.NBase)
	}
	for _, n := range c.NBase {
		if n <= 0 {
			return fmt.Errorf("%w: channel widths must be positive, got %v", ErrInvalidConfig, c.NBase)
		}
	}
	if c.NOut <= 0 {
		return fmt.Errorf("%w: nout must be positive, got %d", ErrInvalidConfig, c.NOut)
	}
	if c.KernelSize <= 0 || c.KernelSize%2 == 0 {
		return fmt.Errorf("%w: kernel size must be odd and positive, got %d", ErrInvalidConfig, c.KernelSize)
	}
	if math.IsNaN(c.DiamMean) || math.IsInf(c.DiamMean, 0) || c.DiamMean <= 0 {
		return fmt.Errorf("%w: mean diameter must be finite and positive, got %v", ErrInvalidConfig, c.DiamMean)
	}
	if !c.ResidualOn {
		return fmt.Errorf("%w: only residual blocks are supported", ErrInvalidConfig)
	}
	if c.Concatenation {
		return fmt.Errorf("%w: concatenated skip connections are not supported", ErrInvalidConfig)
	}
	return nil
}

// nbaseUp returns the decoder widths: nbase without the input channels,
// with the deepest width repeated.
func (c Config) nbaseUp() []int {
	up := append([]int(nil), c.NBase[1:]...)
	return append(up, up[len(up)-1])
}

// styleChannels is the length of the style vector.
func (c Config) styleChannels() int {
	return c.NBase[len(c.NBase)-1]
}

// downFactor is the total spatial reduction of the encoder.
func (c Config) downFactor() int {
	return 1 << (len(c.NBase) - 2)
}
