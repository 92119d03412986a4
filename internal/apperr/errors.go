// Package apperr defines the sentinel errors shared by all mnemon surfaces.
package apperr

import "errors"

var (
	// ErrNotFound is returned when a memory entry id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrWriteConflict is returned when an append detects that the
	// underlying author file changed since it was last read.
	ErrWriteConflict = errors.New("write conflict")

	// ErrInvalidRequest is returned for validation failures that are
	// rejected before any side effect occurs.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrDimensionMismatch is returned at store-open time when the
	// active embedding provider does not match the persisted index.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrProviderTimeout is returned when a remote embedding call
	// exceeds its deadline. The operation is retryable.
	ErrProviderTimeout = errors.New("embedding provider timeout")

	// ErrProviderAuth is returned when a remote embedding API rejects
	// the configured credentials. Not retryable without intervention.
	ErrProviderAuth = errors.New("embedding provider auth failure")

	// ErrIDCollision is returned when two entries share an id but carry
	// divergent content. This is an invariant violation and always
	// aborts the operation.
	ErrIDCollision = errors.New("entry id collision with divergent content")
)
