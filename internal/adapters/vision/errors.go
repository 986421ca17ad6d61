package vision

import "errors"

// Sentinel kinds for vision errors. ErrNoTarget is a normal outcome, not a
// fault: the table simply has nothing usable to aim at.
var (
	ErrNoTarget = errors.New("no usable target")
)
