package models

import (
	"encoding/json"
	"time"
)

// QueuedOperation is one consumer-initiated operation buffered while the
// client is offline. Seq preserves FIFO order within a priority level.
// RetryCount never exceeds MaxRetries; once it reaches the cap the item is
// moved to the permanently-failed set and must be acknowledged explicitly.
type QueuedOperation struct {
	EnqueuedAt time.Time       `json:"enqueued_at"`
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	LastError  string          `json:"last_error,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Seq        uint64          `json:"seq"`
	Priority   int             `json:"priority"` // lower value = serviced first
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
}
