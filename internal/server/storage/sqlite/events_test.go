package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/internal/models"
)

func setupTestStorage(t *testing.T) (*Storage, func()) {
	ctx := context.Background()

	// In-memory database для тестов
	storage, err := New(ctx, ":memory:")
	require.NoError(t, err)

	cleanup := func() {
		_ = storage.Close()
	}

	return storage, cleanup
}

func testEvent(txHash string, height uint64) *models.NormalizedEvent {
	return &models.NormalizedEvent{
		TxHash:           txHash,
		BlockHeight:      height,
		BlockHash:        fmt.Sprintf("block-%d", height),
		Resource:         "SP1.counters",
		EventType:        models.EventTypePrint,
		Topic:            "counter-updated",
		Payload:          json.RawMessage(`{"value":42}`),
		AffectedEntities: []string{"SP1ALICE", "SP2BOB"},
		Metadata:         map[string]any{"amount": "100"},
		Success:          true,
		Timestamp:        time.Unix(1700000000+int64(height), 0).UTC(),
	}
}

func TestEventStorage_Append(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	event := testEvent("0xabc", 100)

	inserted, err := s.Append(ctx, event)
	require.NoError(t, err)
	assert.True(t, inserted)

	events, err := s.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	assert.Equal(t, event.TxHash, got.TxHash)
	assert.Equal(t, event.BlockHeight, got.BlockHeight)
	assert.Equal(t, event.Resource, got.Resource)
	assert.Equal(t, event.EventType, got.EventType)
	assert.Equal(t, event.Topic, got.Topic)
	assert.JSONEq(t, string(event.Payload), string(got.Payload))
	assert.Equal(t, event.AffectedEntities, got.AffectedEntities)
	assert.Equal(t, event.Metadata, got.Metadata)
	assert.True(t, got.Success)
	assert.Equal(t, event.Timestamp, got.Timestamp)
}

func TestEventStorage_Append_Duplicate(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	event := testEvent("0xdup", 100)

	inserted, err := s.Append(ctx, event)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Повторная доставка того же события
	duplicate := testEvent("0xdup", 100)
	duplicate.Topic = "changed-topic"

	inserted, err = s.Append(ctx, duplicate)
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate tx hash must be a no-op")

	events, err := s.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "counter-updated", events[0].Topic, "first write wins")
}

func TestEventStorage_AppendBatch(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	batch := []*models.NormalizedEvent{
		testEvent("0x1", 100),
		testEvent("0x2", 100),
		testEvent("0x1", 100), // duplicate within the batch
	}

	inserted, err := s.AppendBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestEventStorage_ListFilters(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	first := testEvent("0x1", 100)
	second := testEvent("0x2", 101)
	second.Resource = "SP2.exchange"
	second.EventType = models.EventTypeFTTransfer
	second.AffectedEntities = []string{"SP3CAROL"}

	_, err := s.AppendBatch(ctx, []*models.NormalizedEvent{first, second})
	require.NoError(t, err)

	t.Run("by resource", func(t *testing.T) {
		events, err := s.ListByResource(ctx, "SP1.counters", 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "0x1", events[0].TxHash)
	})

	t.Run("by entity", func(t *testing.T) {
		events, err := s.ListByEntity(ctx, "SP2BOB", 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "0x1", events[0].TxHash)

		events, err = s.ListByEntity(ctx, "SP3CAROL", 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "0x2", events[0].TxHash)
	})

	t.Run("by event type", func(t *testing.T) {
		events, err := s.ListByEventType(ctx, models.EventTypeFTTransfer, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "0x2", events[0].TxHash)
	})

	t.Run("recent is descending", func(t *testing.T) {
		events, err := s.ListRecent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "0x2", events[0].TxHash)
		assert.Equal(t, "0x1", events[1].TxHash)
	})

	t.Run("block range is ascending", func(t *testing.T) {
		events, err := s.ListByBlockRange(ctx, 100, 101)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "0x1", events[0].TxHash)
		assert.Equal(t, "0x2", events[1].TxHash)
	})
}

func TestEventStorage_DeleteByBlockHeights(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := s.AppendBatch(ctx, []*models.NormalizedEvent{
		testEvent("0x1", 100),
		testEvent("0x2", 100),
		testEvent("0x3", 101),
	})
	require.NoError(t, err)

	removed, err := s.DeleteByBlockHeights(ctx, []uint64{100})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	events, err := s.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "0x3", events[0].TxHash)

	// Entity rows must go with the events
	entities, err := s.loadEntities(ctx, "0x1")
	require.NoError(t, err)
	assert.Empty(t, entities)

	removed, err = s.DeleteByBlockHeights(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestEventStorage_SweepOlderThan(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	old := testEvent("0xold", 100)
	old.Timestamp = time.Unix(1000, 0).UTC()
	fresh := testEvent("0xfresh", 101)
	fresh.Timestamp = time.Unix(2000, 0).UTC()

	_, err := s.AppendBatch(ctx, []*models.NormalizedEvent{old, fresh})
	require.NoError(t, err)

	removed, err := s.SweepOlderThan(ctx, time.Unix(1500, 0).UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	events, err := s.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "0xfresh", events[0].TxHash)
}
