package models

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// OptimisticStatus is the lifecycle state of an optimistic update.
type OptimisticStatus int32

// Optimistic update statuses. Pending is the only non-terminal state.
const (
	StatusPending OptimisticStatus = iota
	StatusConfirmed
	StatusReverted
)

func (s OptimisticStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusReverted:
		return "reverted"
	}
	return "unknown"
}

// OptimisticUpdate is a speculative local mutation awaiting authoritative
// confirmation. Exactly one terminal transition (confirmed or reverted)
// happens per update; the status field is only moved through Finalize so a
// racing sweep and confirmation resolve to a single winner.
type OptimisticUpdate struct {
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	CorrelationID string          `json:"correlation_id,omitempty"` // matches NormalizedEvent.TxHash
	Payload       json.RawMessage `json:"payload"`

	status atomic.Int32
}

// Status returns the current lifecycle state.
func (u *OptimisticUpdate) Status() OptimisticStatus {
	return OptimisticStatus(u.status.Load())
}

// Finalize moves the update from pending to the given terminal state.
// Returns true if this call won the transition, false if the update had
// already been finalized (the call is then a no-op, not an error).
func (u *OptimisticUpdate) Finalize(to OptimisticStatus) bool {
	if to != StatusConfirmed && to != StatusReverted {
		return false
	}
	return u.status.CompareAndSwap(int32(StatusPending), int32(to))
}

// Expired reports whether the update's TTL has elapsed at the given time.
func (u *OptimisticUpdate) Expired(now time.Time) bool {
	return !now.Before(u.ExpiresAt)
}
