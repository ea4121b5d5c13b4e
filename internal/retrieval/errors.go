package retrieval

import "errors"

var (
	// ErrNotFound is returned when an item or backfill job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRequest is returned when a request fails validation.
	ErrInvalidRequest = errors.New("invalid request")
)
