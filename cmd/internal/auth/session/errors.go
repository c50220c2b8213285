package session

import "errors"

var (
	// ErrSessionNotFound is returned when a token does not match a live session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("session manager closed")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)
