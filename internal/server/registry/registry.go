// Package registry tracks consumer interest by resource, affected entity
// or event class, on top of a pluggable subscription store.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hookline/hookline/internal/clock"
	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/server/storage"
)

// ErrInvalidClass indicates an unknown subscription class.
var ErrInvalidClass = errors.New("invalid subscription class")

// Registry manages subscriptions. It is an explicitly constructed service:
// callers receive it by reference, there is no process-wide instance.
type Registry struct {
	storage storage.SubscriptionStorage
	logger  *slog.Logger
	clock   clock.Clock
}

// New creates a registry over the given subscription store.
func New(store storage.SubscriptionStorage, logger *slog.Logger, clk clock.Clock) *Registry {
	return &Registry{
		storage: store,
		logger:  logger,
		clock:   clk,
	}
}

// Subscribe records interest of owner in (class, target). Repeated calls
// for the same key reactivate the existing subscription instead of
// creating a duplicate.
func (r *Registry) Subscribe(ctx context.Context, owner string, class models.SubscriptionClass, target string) (*models.Subscription, error) {
	if !models.ValidClass(string(class)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidClass, class)
	}

	existing, err := r.storage.FindByKey(ctx, owner, class, target)
	if err == nil {
		if !existing.Active {
			if err := r.storage.SetActive(ctx, existing.ID, true); err != nil {
				return nil, fmt.Errorf("failed to reactivate subscription: %w", err)
			}
			existing.Active = true
		}
		return existing, nil
	}
	if !errors.Is(err, storage.ErrSubscriptionNotFound) {
		return nil, fmt.Errorf("failed to look up subscription: %w", err)
	}

	sub := &models.Subscription{
		CreatedAt: r.clock.Now().UTC(),
		ID:        uuid.New().String(),
		Owner:     owner,
		Target:    target,
		Class:     class,
		Active:    true,
	}

	if err := r.storage.Save(ctx, sub); err != nil {
		// A concurrent subscribe for the same key may have won the insert.
		if errors.Is(err, storage.ErrSubscriptionExists) {
			return r.storage.FindByKey(ctx, owner, class, target)
		}
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}

	r.logger.Debug("Subscription created",
		"id", sub.ID, "owner", owner, "class", class, "target", target)

	return sub, nil
}

// Deactivate marks a subscription inactive (explicit unsubscribe).
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	return r.storage.SetActive(ctx, id, false)
}

// Delete removes a subscription entirely.
func (r *Registry) Delete(ctx context.Context, id string) error {
	return r.storage.Delete(ctx, id)
}

// DeactivateOwner marks every subscription of one owner inactive. Called
// on connection loss, where interest should survive for a later reconnect
// but stop counting as live.
func (r *Registry) DeactivateOwner(ctx context.Context, owner string) (int, error) {
	subs, err := r.storage.ListByOwner(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to list subscriptions for %s: %w", owner, err)
	}

	deactivated := 0
	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		if err := r.storage.SetActive(ctx, sub.ID, false); err != nil {
			return deactivated, fmt.Errorf("failed to deactivate subscription %s: %w", sub.ID, err)
		}
		deactivated++
	}
	return deactivated, nil
}

// ClearOwner removes every subscription of one owner. Called on
// connection loss.
func (r *Registry) ClearOwner(ctx context.Context, owner string) (int, error) {
	removed, err := r.storage.DeleteByOwner(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to clear subscriptions for %s: %w", owner, err)
	}
	if removed > 0 {
		r.logger.Debug("Cleared subscriptions", "owner", owner, "count", removed)
	}
	return removed, nil
}

// ListByOwner returns every subscription of one owner.
func (r *Registry) ListByOwner(ctx context.Context, owner string) ([]*models.Subscription, error) {
	return r.storage.ListByOwner(ctx, owner)
}

// ListByClass returns every subscription of one class.
func (r *Registry) ListByClass(ctx context.Context, class models.SubscriptionClass) ([]*models.Subscription, error) {
	if !models.ValidClass(string(class)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidClass, class)
	}
	return r.storage.ListByClass(ctx, class)
}

// Stats returns aggregate counters: totals per class, active count,
// distinct owners.
func (r *Registry) Stats(ctx context.Context) (*storage.SubscriptionStats, error) {
	return r.storage.Stats(ctx)
}
