package engine

import "errors"

var (
	// ErrInvalidRequest marks malformed input that fails before any lookup (400).
	ErrInvalidRequest = errors.New("invalid request")
	// ErrValidation marks a well-formed request missing or misusing a field (422).
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a state transition the current state does not allow (409).
	ErrConflict = errors.New("conflict")
)
