package identity

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to result codes).
var (
	ErrInvalidInput     = errors.New("invalid_input")
	ErrNotFound         = errors.New("not_found")
	ErrConflict         = errors.New("conflict")
	ErrUnavailable      = errors.New("unavailable")
	ErrPasswordMismatch = errors.New("password_mismatch")
)
