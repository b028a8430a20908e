// Package storage defines the client-side persistence interfaces. The
// offline queue survives restarts: operations buffered while disconnected
// are still there when the process comes back.
package storage

import (
	"context"

	"github.com/hookline/hookline/internal/models"
)

// OperationStorage persists queued operations across restarts. Enqueue
// assigns the operation's Seq; List returns operations ordered by priority
// ascending and then Seq ascending, which is exactly the drain order.
// Operations that exhaust their retries move to a separate failed set and
// stay there until explicitly acknowledged.
type OperationStorage interface {
	// Enqueue persists a new operation and assigns its sequence number.
	Enqueue(ctx context.Context, op *models.QueuedOperation) error

	// List returns all queued operations in drain order.
	List(ctx context.Context) ([]*models.QueuedOperation, error)

	// Update rewrites an existing queued operation (retry bookkeeping).
	Update(ctx context.Context, op *models.QueuedOperation) error

	// Remove deletes a completed operation from the queue.
	Remove(ctx context.Context, id string) error

	// MarkFailed moves an operation from the queue to the failed set.
	MarkFailed(ctx context.Context, op *models.QueuedOperation) error

	// ListFailed returns the permanently failed operations in drain order.
	ListFailed(ctx context.Context) ([]*models.QueuedOperation, error)

	// Acknowledge removes an operation from the failed set.
	Acknowledge(ctx context.Context, id string) error

	// Len returns the number of queued (not failed) operations.
	Len(ctx context.Context) (int, error)
}
