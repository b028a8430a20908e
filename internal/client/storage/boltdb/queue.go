package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/hookline/hookline/internal/client/storage"
	"github.com/hookline/hookline/internal/models"
)

// Enqueue persists a new operation, assigning its sequence number from the
// bucket's monotonic counter.
func (s *Storage) Enqueue(ctx context.Context, op *models.QueuedOperation) error {
	return s.update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return fmt.Errorf("queue bucket not found")
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}
		op.Seq = seq

		data, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("failed to marshal operation: %w", err)
		}

		if err := bucket.Put([]byte(op.ID), data); err != nil {
			return fmt.Errorf("failed to save operation: %w", err)
		}

		return nil
	})
}

// List returns all queued operations ordered by priority, then sequence.
func (s *Storage) List(ctx context.Context) ([]*models.QueuedOperation, error) {
	return s.listBucket(bucketQueue)
}

// Update rewrites an existing queued operation.
func (s *Storage) Update(ctx context.Context, op *models.QueuedOperation) error {
	return s.update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return fmt.Errorf("queue bucket not found")
		}

		if bucket.Get([]byte(op.ID)) == nil {
			return storage.ErrOperationNotFound
		}

		data, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("failed to marshal operation: %w", err)
		}

		if err := bucket.Put([]byte(op.ID), data); err != nil {
			return fmt.Errorf("failed to update operation: %w", err)
		}

		return nil
	})
}

// Remove deletes a completed operation from the queue.
func (s *Storage) Remove(ctx context.Context, id string) error {
	return s.update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return fmt.Errorf("queue bucket not found")
		}

		if bucket.Get([]byte(id)) == nil {
			return storage.ErrOperationNotFound
		}

		return bucket.Delete([]byte(id))
	})
}

// MarkFailed moves an operation from the queue to the failed set in a
// single transaction.
func (s *Storage) MarkFailed(ctx context.Context, op *models.QueuedOperation) error {
	return s.update(func(tx *bbolt.Tx) error {
		queue := tx.Bucket(bucketQueue)
		failed := tx.Bucket(bucketFailed)
		if queue == nil || failed == nil {
			return fmt.Errorf("storage buckets not found")
		}

		if queue.Get([]byte(op.ID)) == nil {
			return storage.ErrOperationNotFound
		}

		data, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("failed to marshal operation: %w", err)
		}

		if err := failed.Put([]byte(op.ID), data); err != nil {
			return fmt.Errorf("failed to save failed operation: %w", err)
		}

		return queue.Delete([]byte(op.ID))
	})
}

// ListFailed returns the permanently failed operations.
func (s *Storage) ListFailed(ctx context.Context) ([]*models.QueuedOperation, error) {
	return s.listBucket(bucketFailed)
}

// Acknowledge removes an operation from the failed set.
func (s *Storage) Acknowledge(ctx context.Context, id string) error {
	return s.update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketFailed)
		if bucket == nil {
			return fmt.Errorf("failed bucket not found")
		}

		if bucket.Get([]byte(id)) == nil {
			return storage.ErrOperationNotFound
		}

		return bucket.Delete([]byte(id))
	})
}

// Len returns the number of queued operations.
func (s *Storage) Len(ctx context.Context) (int, error) {
	count := 0
	err := s.view(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return fmt.Errorf("queue bucket not found")
		}
		count = bucket.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Storage) listBucket(name []byte) ([]*models.QueuedOperation, error) {
	var ops []*models.QueuedOperation

	err := s.view(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(name)
		if bucket == nil {
			return fmt.Errorf("%s bucket not found", name)
		}

		return bucket.ForEach(func(k, v []byte) error {
			op := &models.QueuedOperation{}
			if err := json.Unmarshal(v, op); err != nil {
				return fmt.Errorf("failed to unmarshal operation: %w", err)
			}
			ops = append(ops, op)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// Порядок обработки: по приоритету, затем FIFO
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Priority != ops[j].Priority {
			return ops[i].Priority < ops[j].Priority
		}
		return ops[i].Seq < ops[j].Seq
	})

	return ops, nil
}
