package db

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition indicates a signal lifecycle regression attempt
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDuplicateSignal indicates a signal already exists for the
	// (ticker, day, run label) deduplication key
	ErrDuplicateSignal = errors.New("signal already exists for this run")
)
