package storage

import "errors"

// Common storage errors
var (
	// ErrSubscriptionNotFound indicates that the subscription does not exist
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrSubscriptionExists indicates that (owner, class, target) is already taken
	ErrSubscriptionExists = errors.New("subscription already exists")
)
