package catalog

import "errors"

// Errors returned by model storage and resolution.
var (
	ErrNotFound       = errors.New("model weights not found")
	ErrDownload       = errors.New("model download failed")
	ErrInvalidFold    = errors.New("invalid fold index")
	ErrInvalidModelID = errors.New("invalid model identifier")
)
