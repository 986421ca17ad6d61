package actuator

import "errors"

// Sentinel kinds for actuator errors. Timeout and fault are distinct so the
// orchestrator can choose different recovery per kind.
var (
	ErrAuth      = errors.New("actuator auth failure")
	ErrTimeout   = errors.New("actuator timeout")
	ErrFault     = errors.New("actuator fault")
	ErrNoSession = errors.New("no active actuator session")
)
