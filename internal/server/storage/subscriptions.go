package storage

import (
	"context"

	"github.com/hookline/hookline/internal/models"
)

// SubscriptionStats aggregates registry counters.
type SubscriptionStats struct {
	PerClass map[models.SubscriptionClass]int
	Total    int
	Active   int
	Owners   int // distinct owners with at least one subscription
}

// SubscriptionStorage persists consumer subscriptions. (Owner, Class,
// Target) is unique; Save returns ErrSubscriptionExists on a duplicate.
type SubscriptionStorage interface {
	Save(ctx context.Context, sub *models.Subscription) error

	// FindByKey returns the subscription for (owner, class, target) or
	// ErrSubscriptionNotFound.
	FindByKey(ctx context.Context, owner string, class models.SubscriptionClass, target string) (*models.Subscription, error)

	ListByOwner(ctx context.Context, owner string) ([]*models.Subscription, error)

	ListByClass(ctx context.Context, class models.SubscriptionClass) ([]*models.Subscription, error)

	// SetActive flips the active flag. Returns ErrSubscriptionNotFound if
	// the id is unknown.
	SetActive(ctx context.Context, id string, active bool) error

	// Delete removes the subscription. Returns ErrSubscriptionNotFound if
	// the id is unknown.
	Delete(ctx context.Context, id string) error

	// DeleteByOwner removes every subscription of one owner (connection
	// teardown). Returns the number removed.
	DeleteByOwner(ctx context.Context, owner string) (int, error)

	Stats(ctx context.Context) (*SubscriptionStats, error)
}
