package filestore

import "errors"

var (
	// ErrNotFound is returned when the requested file does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrInvalidTaskID is returned when a task identifier is not a plain opaque token.
	ErrInvalidTaskID = errors.New("invalid task id")

	// ErrInvalidDirection is returned for a direction other than input or output.
	ErrInvalidDirection = errors.New("invalid direction")
)
