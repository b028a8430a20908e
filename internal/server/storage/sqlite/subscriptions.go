package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/server/storage"
)

// Save inserts a subscription. Returns ErrSubscriptionExists when
// (owner, class, target) is already taken.
func (s *Storage) Save(ctx context.Context, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, owner, class, target, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		sub.ID,
		sub.Owner,
		string(sub.Class),
		sub.Target,
		boolToInt(sub.Active),
		sub.CreatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return storage.ErrSubscriptionExists
		}
		return fmt.Errorf("failed to insert subscription: %w", err)
	}

	return nil
}

// FindByKey returns the subscription for (owner, class, target).
func (s *Storage) FindByKey(ctx context.Context, owner string, class models.SubscriptionClass, target string) (*models.Subscription, error) {
	query := `
		SELECT id, owner, class, target, active, created_at
		FROM subscriptions
		WHERE owner = ? AND class = ? AND target = ?
	`

	sub, err := s.scanSubscription(s.db.QueryRowContext(ctx, query, owner, string(class), target))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return sub, nil
}

// ListByOwner returns every subscription of one owner, newest first.
func (s *Storage) ListByOwner(ctx context.Context, owner string) ([]*models.Subscription, error) {
	query := `
		SELECT id, owner, class, target, active, created_at
		FROM subscriptions
		WHERE owner = ?
		ORDER BY created_at DESC
	`
	return s.querySubscriptions(ctx, query, owner)
}

// ListByClass returns every subscription of one class, newest first.
func (s *Storage) ListByClass(ctx context.Context, class models.SubscriptionClass) ([]*models.Subscription, error) {
	query := `
		SELECT id, owner, class, target, active, created_at
		FROM subscriptions
		WHERE class = ?
		ORDER BY created_at DESC
	`
	return s.querySubscriptions(ctx, query, string(class))
}

// SetActive flips the active flag of one subscription.
func (s *Storage) SetActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrSubscriptionNotFound
	}

	return nil
}

// Delete removes one subscription.
func (s *Storage) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrSubscriptionNotFound
	}

	return nil
}

// DeleteByOwner removes every subscription of one owner. Used on
// connection teardown.
func (s *Storage) DeleteByOwner(ctx context.Context, owner string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE owner = ?`, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to delete subscriptions by owner: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rows), nil
}

// Stats returns aggregate registry counters.
func (s *Storage) Stats(ctx context.Context) (*storage.SubscriptionStats, error) {
	stats := &storage.SubscriptionStats{
		PerClass: make(map[models.SubscriptionClass]int),
	}

	query := `
		SELECT class, COUNT(*)
		FROM subscriptions
		GROUP BY class
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription stats: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var class string
		var count int
		if err := rows.Scan(&class, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.PerClass[models.SubscriptionClass(class)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE active = 1`).Scan(&stats.Active)
	if err != nil {
		return nil, fmt.Errorf("failed to count active subscriptions: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT owner) FROM subscriptions`).Scan(&stats.Owners)
	if err != nil {
		return nil, fmt.Errorf("failed to count subscription owners: %w", err)
	}

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Storage) scanSubscription(row rowScanner) (*models.Subscription, error) {
	sub := &models.Subscription{}
	var class string
	var active int
	var createdAt int64

	err := row.Scan(&sub.ID, &sub.Owner, &class, &sub.Target, &active, &createdAt)
	if err != nil {
		return nil, err
	}

	sub.Class = models.SubscriptionClass(class)
	sub.Active = intToBool(active)
	sub.CreatedAt = time.Unix(createdAt, 0).UTC()

	return sub, nil
}

func (s *Storage) querySubscriptions(ctx context.Context, query string, args ...any) ([]*models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := s.scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return subs, nil
}
