package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/server/storage"
)

// SubscriptionStore is an in-memory SubscriptionStorage implementation.
type SubscriptionStore struct {
	mu   sync.RWMutex
	byID map[string]*models.Subscription
}

// NewSubscriptionStore creates an empty in-memory subscription store.
func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{
		byID: make(map[string]*models.Subscription),
	}
}

// Save inserts a subscription, enforcing (owner, class, target) uniqueness.
func (s *SubscriptionStore) Save(ctx context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.Owner == sub.Owner && existing.Class == sub.Class && existing.Target == sub.Target {
			return storage.ErrSubscriptionExists
		}
	}

	clone := *sub
	s.byID[sub.ID] = &clone
	return nil
}

// FindByKey returns the subscription for (owner, class, target).
func (s *SubscriptionStore) FindByKey(ctx context.Context, owner string, class models.SubscriptionClass, target string) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.byID {
		if sub.Owner == owner && sub.Class == class && sub.Target == target {
			clone := *sub
			return &clone, nil
		}
	}
	return nil, storage.ErrSubscriptionNotFound
}

// ListByOwner returns every subscription of one owner, newest first.
func (s *SubscriptionStore) ListByOwner(ctx context.Context, owner string) ([]*models.Subscription, error) {
	return s.list(func(sub *models.Subscription) bool { return sub.Owner == owner }), nil
}

// ListByClass returns every subscription of one class, newest first.
func (s *SubscriptionStore) ListByClass(ctx context.Context, class models.SubscriptionClass) ([]*models.Subscription, error) {
	return s.list(func(sub *models.Subscription) bool { return sub.Class == class }), nil
}

// SetActive flips the active flag of one subscription.
func (s *SubscriptionStore) SetActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.byID[id]
	if !ok {
		return storage.ErrSubscriptionNotFound
	}
	sub.Active = active
	return nil
}

// Delete removes one subscription.
func (s *SubscriptionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return storage.ErrSubscriptionNotFound
	}
	delete(s.byID, id)
	return nil
}

// DeleteByOwner removes every subscription of one owner.
func (s *SubscriptionStore) DeleteByOwner(ctx context.Context, owner string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sub := range s.byID {
		if sub.Owner == owner {
			delete(s.byID, id)
			removed++
		}
	}
	return removed, nil
}

// Stats returns aggregate registry counters.
func (s *SubscriptionStore) Stats(ctx context.Context) (*storage.SubscriptionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.SubscriptionStats{
		PerClass: make(map[models.SubscriptionClass]int),
	}
	owners := make(map[string]struct{})

	for _, sub := range s.byID {
		stats.Total++
		stats.PerClass[sub.Class]++
		if sub.Active {
			stats.Active++
		}
		owners[sub.Owner] = struct{}{}
	}
	stats.Owners = len(owners)

	return stats, nil
}

func (s *SubscriptionStore) list(match func(*models.Subscription) bool) []*models.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var subs []*models.Subscription
	for _, sub := range s.byID {
		if match(sub) {
			clone := *sub
			subs = append(subs, &clone)
		}
	}

	sort.Slice(subs, func(i, j int) bool {
		return subs[i].CreatedAt.After(subs[j].CreatedAt)
	})
	return subs
}
