// Package memory implements the client operation storage in memory.
// Used by tests and by consumers that do not need queue persistence.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/hookline/hookline/internal/client/storage"
	"github.com/hookline/hookline/internal/models"
)

// OperationStore is an in-memory queue storage.
type OperationStore struct {
	mu      sync.RWMutex
	queue   map[string]*models.QueuedOperation
	failed  map[string]*models.QueuedOperation
	nextSeq uint64
}

// NewOperationStore creates an empty in-memory queue storage.
func NewOperationStore() *OperationStore {
	return &OperationStore{
		queue:  make(map[string]*models.QueuedOperation),
		failed: make(map[string]*models.QueuedOperation),
	}
}

// Enqueue persists a new operation and assigns its sequence number.
func (s *OperationStore) Enqueue(ctx context.Context, op *models.QueuedOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	op.Seq = s.nextSeq

	clone := *op
	s.queue[op.ID] = &clone
	return nil
}

// List returns all queued operations ordered by priority, then sequence.
func (s *OperationStore) List(ctx context.Context) ([]*models.QueuedOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedOps(s.queue), nil
}

// Update rewrites an existing queued operation.
func (s *OperationStore) Update(ctx context.Context, op *models.QueuedOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queue[op.ID]; !ok {
		return storage.ErrOperationNotFound
	}

	clone := *op
	s.queue[op.ID] = &clone
	return nil
}

// Remove deletes a completed operation from the queue.
func (s *OperationStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queue[id]; !ok {
		return storage.ErrOperationNotFound
	}
	delete(s.queue, id)
	return nil
}

// MarkFailed moves an operation from the queue to the failed set.
func (s *OperationStore) MarkFailed(ctx context.Context, op *models.QueuedOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queue[op.ID]; !ok {
		return storage.ErrOperationNotFound
	}
	delete(s.queue, op.ID)

	clone := *op
	s.failed[op.ID] = &clone
	return nil
}

// ListFailed returns the permanently failed operations.
func (s *OperationStore) ListFailed(ctx context.Context) ([]*models.QueuedOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedOps(s.failed), nil
}

// Acknowledge removes an operation from the failed set.
func (s *OperationStore) Acknowledge(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.failed[id]; !ok {
		return storage.ErrOperationNotFound
	}
	delete(s.failed, id)
	return nil
}

// Len returns the number of queued operations.
func (s *OperationStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.queue), nil
}

func sortedOps(set map[string]*models.QueuedOperation) []*models.QueuedOperation {
	ops := make([]*models.QueuedOperation, 0, len(set))
	for _, op := range set {
		clone := *op
		ops = append(ops, &clone)
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Priority != ops[j].Priority {
			return ops[i].Priority < ops[j].Priority
		}
		return ops[i].Seq < ops[j].Seq
	})
	return ops
}
