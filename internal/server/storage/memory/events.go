// Package memory holds in-memory implementations of the server storage
// interfaces. They back tests and embedded setups; production uses the
// sqlite package.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hookline/hookline/internal/models"
)

// EventStore is an in-memory EventStorage implementation.
type EventStore struct {
	mu     sync.RWMutex
	events map[string]*models.NormalizedEvent // keyed by tx hash
}

// NewEventStore creates an empty in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		events: make(map[string]*models.NormalizedEvent),
	}
}

// Append inserts the event unless its transaction hash is already present.
func (s *EventStore) Append(ctx context.Context, event *models.NormalizedEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.TxHash]; ok {
		return false, nil
	}
	s.events[event.TxHash] = event.Clone()
	return true, nil
}

// AppendBatch inserts each event independently, skipping duplicates.
func (s *EventStore) AppendBatch(ctx context.Context, events []*models.NormalizedEvent) (int, error) {
	inserted := 0
	for _, event := range events {
		ok, err := s.Append(ctx, event)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// ListRecent returns up to limit events, block height descending then
// timestamp descending.
func (s *EventStore) ListRecent(ctx context.Context, limit int) ([]*models.NormalizedEvent, error) {
	return s.list(func(*models.NormalizedEvent) bool { return true }, limit, false), nil
}

// ListByResource returns events for one contract, most recent first.
func (s *EventStore) ListByResource(ctx context.Context, resource string, limit int) ([]*models.NormalizedEvent, error) {
	return s.list(func(e *models.NormalizedEvent) bool { return e.Resource == resource }, limit, false), nil
}

// ListByEntity returns events affecting one principal, most recent first.
func (s *EventStore) ListByEntity(ctx context.Context, entity string, limit int) ([]*models.NormalizedEvent, error) {
	return s.list(func(e *models.NormalizedEvent) bool {
		for _, a := range e.AffectedEntities {
			if a == entity {
				return true
			}
		}
		return false
	}, limit, false), nil
}

// ListByEventType returns events of one type, most recent first.
func (s *EventStore) ListByEventType(ctx context.Context, eventType string, limit int) ([]*models.NormalizedEvent, error) {
	return s.list(func(e *models.NormalizedEvent) bool { return e.EventType == eventType }, limit, false), nil
}

// ListByBlockRange returns events inside the height range in ascending
// block order.
func (s *EventStore) ListByBlockRange(ctx context.Context, from, to uint64) ([]*models.NormalizedEvent, error) {
	return s.list(func(e *models.NormalizedEvent) bool {
		return e.BlockHeight >= from && e.BlockHeight <= to
	}, 0, true), nil
}

// DeleteByBlockHeights removes every event at the given heights.
func (s *EventStore) DeleteByBlockHeights(ctx context.Context, heights []uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invalidated := make(map[uint64]struct{}, len(heights))
	for _, h := range heights {
		invalidated[h] = struct{}{}
	}

	removed := 0
	for hash, event := range s.events {
		if _, ok := invalidated[event.BlockHeight]; ok {
			delete(s.events, hash)
			removed++
		}
	}
	return removed, nil
}

// SweepOlderThan removes events older than the retention horizon.
func (s *EventStore) SweepOlderThan(ctx context.Context, horizon time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for hash, event := range s.events {
		if event.Timestamp.Before(horizon) {
			delete(s.events, hash)
			removed++
		}
	}
	return removed, nil
}

// Count returns the number of stored events.
func (s *EventStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events), nil
}

func (s *EventStore) list(match func(*models.NormalizedEvent) bool, limit int, ascending bool) []*models.NormalizedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*models.NormalizedEvent
	for _, event := range s.events {
		if match(event) {
			events = append(events, event.Clone())
		}
	}

	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if ascending {
			if a.BlockHeight != b.BlockHeight {
				return a.BlockHeight < b.BlockHeight
			}
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.BlockHeight != b.BlockHeight {
			return a.BlockHeight > b.BlockHeight
		}
		return a.Timestamp.After(b.Timestamp)
	})

	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events
}
