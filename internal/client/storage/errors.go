package storage

import "errors"

// Common client storage errors
var (
	// ErrOperationNotFound indicates that no queued operation exists with the given ID
	ErrOperationNotFound = errors.New("queued operation not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
