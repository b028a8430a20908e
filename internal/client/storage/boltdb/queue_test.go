package boltdb

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/internal/client/storage"
	"github.com/hookline/hookline/internal/models"
)

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "queue.db")

	store, err := New(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func testOperation(id, kind string, priority int) *models.QueuedOperation {
	return &models.QueuedOperation{
		ID:         id,
		Kind:       kind,
		Payload:    json.RawMessage(`{"by":1}`),
		Priority:   priority,
		MaxRetries: 3,
		EnqueuedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestQueueStorage_EnqueueAssignsSequence(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	first := testOperation("op-1", "increment", 1)
	second := testOperation("op-2", "increment", 1)

	require.NoError(t, s.Enqueue(ctx, first))
	require.NoError(t, s.Enqueue(ctx, second))

	assert.Less(t, first.Seq, second.Seq, "sequence numbers must be monotonic")
}

func TestQueueStorage_ListOrder(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	require.NoError(t, s.Enqueue(ctx, testOperation("op-1", "low-first", 5)))
	require.NoError(t, s.Enqueue(ctx, testOperation("op-2", "urgent", 1)))
	require.NoError(t, s.Enqueue(ctx, testOperation("op-3", "low-second", 5)))

	ops, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 3)

	assert.Equal(t, "urgent", ops[0].Kind)
	assert.Equal(t, "low-first", ops[1].Kind)
	assert.Equal(t, "low-second", ops[2].Kind)
}

func TestQueueStorage_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "queue.db")

	store, err := New(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(ctx, testOperation("op-1", "increment", 1)))
	require.NoError(t, store.Close())

	reopened, err := New(ctx, dbPath)
	require.NoError(t, err)
	defer func() {
		_ = reopened.Close()
	}()

	ops, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "op-1", ops[0].ID)
	assert.Equal(t, "increment", ops[0].Kind)
}

func TestQueueStorage_UpdateAndRemove(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	op := testOperation("op-1", "increment", 1)
	require.NoError(t, s.Enqueue(ctx, op))

	op.RetryCount = 2
	op.LastError = "connection refused"
	require.NoError(t, s.Update(ctx, op))

	ops, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, 2, ops[0].RetryCount)
	assert.Equal(t, "connection refused", ops[0].LastError)

	require.NoError(t, s.Remove(ctx, op.ID))

	count, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.ErrorIs(t, s.Remove(ctx, op.ID), storage.ErrOperationNotFound)
	assert.ErrorIs(t, s.Update(ctx, op), storage.ErrOperationNotFound)
}

func TestQueueStorage_MarkFailedAndAcknowledge(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	op := testOperation("op-1", "increment", 1)
	require.NoError(t, s.Enqueue(ctx, op))

	op.RetryCount = 3
	op.LastError = "permanent failure"
	require.NoError(t, s.MarkFailed(ctx, op))

	count, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "failed operation left the queue")

	failed, err := s.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "permanent failure", failed[0].LastError)

	require.NoError(t, s.Acknowledge(ctx, op.ID))

	failed, err = s.ListFailed(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)

	assert.ErrorIs(t, s.Acknowledge(ctx, op.ID), storage.ErrOperationNotFound)
}

func TestQueueStorage_UseAfterClose(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "queue.db")

	store, err := New(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "close must be idempotent")

	assert.ErrorIs(t, store.Enqueue(ctx, testOperation("op-1", "increment", 1)), storage.ErrStorageClosed)

	_, err = store.List(ctx)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	_, err = store.Len(ctx)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
