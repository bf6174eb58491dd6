package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidArgument = errors.New("invalid argument")

	// Refinement dialogue errors
	ErrTerminalState      = errors.New("session is complete and accepts no further input")
	ErrTurnInProgress     = errors.New("another turn is in progress for this session")
	ErrUpstream           = errors.New("upstream service failure")
	ErrUnsupportedVersion = errors.New("unsupported session record version")
	ErrCorruptSession     = errors.New("persisted session is corrupt")
	ErrInvalidExecContext = errors.New("invalid database execution context")
)
