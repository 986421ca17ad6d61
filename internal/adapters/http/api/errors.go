package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrNotACommand  = errors.New("utterance is not a command")
	ErrUnauthorized = errors.New("unauthorized")
)
