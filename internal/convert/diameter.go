package convert

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/born-ml/cellpose2onnx/internal/catalog"
)

// ErrInvalidMeanDiameter is returned when a single-model conversion is asked
// for with a diameter other than the two the catalog models use.
var ErrInvalidMeanDiameter = errors.New("mean diameter must be 17.0 for nuclei-based models, otherwise 30.0")

// ValidateMeanDiameter accepts exactly 17.0 and 30.0.
func ValidateMeanDiameter(d float64) error {
	if d != catalog.NucleiDiameter && d != catalog.DefaultDiameter {
		return fmt.Errorf("%w: got %v", ErrInvalidMeanDiameter, d)
	}
	return nil
}

// ParseMeanDiameter parses a diameter typed by a user. Text that is not a
// number is reported as ErrInvalidMeanDiameter, like an unsupported value.
func ParseMeanDiameter(s string) (float64, error) {
	s = strings.TrimSpace(s)
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidMeanDiameter, s)
	}
	if err := ValidateMeanDiameter(d); err != nil {
		return 0, err
	}
	return d, nil
}
