// Package storage defines the persistence boundary of the server: the
// event log and the subscription registry backing. Implementations live in
// subpackages (sqlite for production, memory for tests and embedding).
package storage

import (
	"context"
	"time"

	"github.com/hookline/hookline/internal/models"
)

// EventStorage is the durable, idempotent log of normalized events.
// Append semantics are insert-if-absent keyed by transaction hash, which is
// what makes concurrent webhook deliveries safe without application-level
// locking.
type EventStorage interface {
	// Append inserts the event. Returns false with no error when an event
	// with the same transaction hash already exists.
	Append(ctx context.Context, event *models.NormalizedEvent) (bool, error)

	// AppendBatch inserts each event independently, skipping duplicates,
	// and returns the count actually inserted.
	AppendBatch(ctx context.Context, events []*models.NormalizedEvent) (int, error)

	// ListRecent returns up to limit events ordered by block height
	// descending, then timestamp descending.
	ListRecent(ctx context.Context, limit int) ([]*models.NormalizedEvent, error)

	// ListByResource returns events for one contract, most recent first.
	ListByResource(ctx context.Context, resource string, limit int) ([]*models.NormalizedEvent, error)

	// ListByEntity returns events affecting one principal, most recent first.
	ListByEntity(ctx context.Context, entity string, limit int) ([]*models.NormalizedEvent, error)

	// ListByEventType returns events of one type, most recent first.
	ListByEventType(ctx context.Context, eventType string, limit int) ([]*models.NormalizedEvent, error)

	// ListByBlockRange returns events with from <= height <= to in
	// ascending block order.
	ListByBlockRange(ctx context.Context, from, to uint64) ([]*models.NormalizedEvent, error)

	// DeleteByBlockHeights removes every event recorded at the given
	// heights (reorg invalidation). Returns the number of events removed.
	DeleteByBlockHeights(ctx context.Context, heights []uint64) (int, error)

	// SweepOlderThan removes events with a timestamp before horizon
	// (retention). Returns the number of events removed.
	SweepOlderThan(ctx context.Context, horizon time.Time) (int, error)

	// Count returns the number of stored events.
	Count(ctx context.Context) (int, error)
}
