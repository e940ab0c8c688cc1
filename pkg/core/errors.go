package core

import "errors"

// Errors returned by the recorder. Callers classify with errors.Is.
var (
	// ErrSchemaMismatch is returned when a tick's shape differs from the
	// record layout established for its character.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrOutOfRange is returned for reads past the recorded tick count.
	ErrOutOfRange = errors.New("position out of range")
	// ErrFormatMismatch is returned when stored data has an unexpected layout.
	ErrFormatMismatch = errors.New("format mismatch")
	// ErrIOFailure wraps filesystem failures.
	ErrIOFailure = errors.New("io failure")
	// ErrInvalidState is returned when an operation is not allowed in the log's current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrNoRecording is returned when there is nothing to save or export.
	ErrNoRecording = errors.New("no recording")
)
