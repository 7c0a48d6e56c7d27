package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a structurally invalid request.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a business rule rejected the request.
	ErrConflict = errors.New("conflict")
	// ErrLockTimeout occurs when a lock could not be acquired in time.
	ErrLockTimeout = errors.New("lock wait timed out")
)
