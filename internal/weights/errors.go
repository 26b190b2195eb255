package weights

import "errors"

// Common errors.
var (
	ErrUnknownFormat     = errors.New("unknown weights format")
	ErrUnsupportedDType  = errors.New("unsupported tensor dtype")
	ErrHeaderTooLarge    = errors.New("header exceeds maximum size")
	ErrOutOfBounds       = errors.New("tensor extends beyond data section")
	ErrNotStateDict      = errors.New("file does not contain a state dict")
	ErrUnsupportedSource = errors.New("unsupported tensor storage")
)
