package calibration

import "errors"

// Sentinel kinds for calibration errors.
var (
	ErrUnknownTarget   = errors.New("unknown target")
	ErrDuplicateTarget = errors.New("duplicate target")
	ErrInvalidEntry    = errors.New("invalid calibration entry")
	ErrNoEntries       = errors.New("calibration table is empty")
)
