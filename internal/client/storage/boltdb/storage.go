// Package boltdb implements the client operation storage on BoltDB.
package boltdb

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.etcd.io/bbolt"

	"github.com/hookline/hookline/internal/client/storage"
)

var (
	bucketQueue  = []byte("queue")
	bucketFailed = []byte("failed")
)

// Storage is the BoltDB-backed durable operation queue.
type Storage struct {
	db     *bbolt.DB
	closed atomic.Bool
}

// New opens (or creates) the queue database at dbPath. The file is private
// to the consumer process, hence 0600.
func New(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	// Создаем buckets заранее, чтобы операции не проверяли их существование
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketQueue, bucketFailed} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{db: db}, nil
}

// Close closes the database file. Later operations fail with
// ErrStorageClosed. Idempotent.
func (s *Storage) Close() error {
	if s.db == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// update runs a write transaction, guarding against use after Close.
func (s *Storage) update(fn func(tx *bbolt.Tx) error) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}
	return s.db.Update(fn)
}

// view runs a read transaction, guarding against use after Close.
func (s *Storage) view(fn func(tx *bbolt.Tx) error) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}
	return s.db.View(fn)
}
