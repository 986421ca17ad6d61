package orchestrator

import "errors"

// Sentinel kinds for orchestration errors.
var (
	// ErrStateConflict marks a command that is invalid for the current
	// lifecycle state, e.g. shoot before go.
	ErrStateConflict = errors.New("command invalid for current state")

	// ErrInitFailed marks a failed init sequence; the lifecycle stays
	// Uninitialized and go may be retried.
	ErrInitFailed = errors.New("robot initialization failed")

	// ErrReloadFailed marks a post-shot reload that did not complete within
	// the retry budget; a manual reload is required.
	ErrReloadFailed = errors.New("reload failed")

	// ErrReloadPending rejects shots while a manual reload is outstanding.
	ErrReloadPending = errors.New("reload pending")

	// ErrRecoveryFailed marks a failed safe-recovery attempt. This is fatal:
	// the arm may be in an undefined mechanical position and the control
	// loop ends.
	ErrRecoveryFailed = errors.New("safe recovery failed")
)
