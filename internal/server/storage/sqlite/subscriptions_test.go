package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/server/storage"
)

func testSubscription(owner string, class models.SubscriptionClass, target string) *models.Subscription {
	return &models.Subscription{
		ID:        uuid.New().String(),
		Owner:     owner,
		Class:     class,
		Target:    target,
		Active:    true,
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestSubscriptionStorage_Save(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	sub := testSubscription("consumer-1", models.ClassResource, "SP1.counters")
	require.NoError(t, s.Save(ctx, sub))

	got, err := s.FindByKey(ctx, "consumer-1", models.ClassResource, "SP1.counters")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
	assert.Equal(t, sub.Owner, got.Owner)
	assert.Equal(t, sub.Class, got.Class)
	assert.Equal(t, sub.Target, got.Target)
	assert.True(t, got.Active)
	assert.Equal(t, sub.CreatedAt, got.CreatedAt)
}

func TestSubscriptionStorage_Save_Duplicate(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	sub := testSubscription("consumer-1", models.ClassEntity, "SP1ALICE")
	require.NoError(t, s.Save(ctx, sub))

	dup := testSubscription("consumer-1", models.ClassEntity, "SP1ALICE")
	err := s.Save(ctx, dup)
	assert.ErrorIs(t, err, storage.ErrSubscriptionExists)

	// Другой owner с той же парой class/target допустим
	other := testSubscription("consumer-2", models.ClassEntity, "SP1ALICE")
	require.NoError(t, s.Save(ctx, other))
}

func TestSubscriptionStorage_FindByKey_NotFound(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := s.FindByKey(ctx, "nobody", models.ClassResource, "SP1.counters")
	assert.ErrorIs(t, err, storage.ErrSubscriptionNotFound)
}

func TestSubscriptionStorage_SetActive(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	sub := testSubscription("consumer-1", models.ClassEventType, "print_event")
	require.NoError(t, s.Save(ctx, sub))

	require.NoError(t, s.SetActive(ctx, sub.ID, false))

	got, err := s.FindByKey(ctx, "consumer-1", models.ClassEventType, "print_event")
	require.NoError(t, err)
	assert.False(t, got.Active)

	err = s.SetActive(ctx, "missing-id", true)
	assert.ErrorIs(t, err, storage.ErrSubscriptionNotFound)
}

func TestSubscriptionStorage_Delete(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	sub := testSubscription("consumer-1", models.ClassResource, "SP1.counters")
	require.NoError(t, s.Save(ctx, sub))

	require.NoError(t, s.Delete(ctx, sub.ID))

	_, err := s.FindByKey(ctx, "consumer-1", models.ClassResource, "SP1.counters")
	assert.ErrorIs(t, err, storage.ErrSubscriptionNotFound)

	err = s.Delete(ctx, sub.ID)
	assert.ErrorIs(t, err, storage.ErrSubscriptionNotFound)
}

func TestSubscriptionStorage_DeleteByOwner(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	require.NoError(t, s.Save(ctx, testSubscription("consumer-1", models.ClassResource, "SP1.counters")))
	require.NoError(t, s.Save(ctx, testSubscription("consumer-1", models.ClassEntity, "SP1ALICE")))
	require.NoError(t, s.Save(ctx, testSubscription("consumer-2", models.ClassResource, "SP1.counters")))

	removed, err := s.DeleteByOwner(ctx, "consumer-1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	subs, err := s.ListByOwner(ctx, "consumer-1")
	require.NoError(t, err)
	assert.Empty(t, subs)

	subs, err = s.ListByOwner(ctx, "consumer-2")
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestSubscriptionStorage_Stats(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	require.NoError(t, s.Save(ctx, testSubscription("consumer-1", models.ClassResource, "SP1.counters")))
	require.NoError(t, s.Save(ctx, testSubscription("consumer-1", models.ClassEntity, "SP1ALICE")))
	inactive := testSubscription("consumer-2", models.ClassResource, "SP2.exchange")
	require.NoError(t, s.Save(ctx, inactive))
	require.NoError(t, s.SetActive(ctx, inactive.ID, false))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 2, stats.Owners)
	assert.Equal(t, 2, stats.PerClass[models.ClassResource])
	assert.Equal(t, 1, stats.PerClass[models.ClassEntity])
}

func TestSubscriptionStorage_ListByClass(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	require.NoError(t, s.Save(ctx, testSubscription("consumer-1", models.ClassResource, "SP1.counters")))
	require.NoError(t, s.Save(ctx, testSubscription("consumer-2", models.ClassResource, "SP2.exchange")))
	require.NoError(t, s.Save(ctx, testSubscription("consumer-1", models.ClassEventType, "print_event")))

	subs, err := s.ListByClass(ctx, models.ClassResource)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
	for _, sub := range subs {
		assert.Equal(t, models.ClassResource, sub.Class)
	}
}
