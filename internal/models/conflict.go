package models

import "time"

// StateConflict is a divergence between a local optimistic value and the
// authoritative remote value for one key. Conflicts are ephemeral: they are
// produced and consumed inside a single reconciliation pass.
type StateConflict struct {
	DetectedAt time.Time `json:"detected_at"`
	Key        string    `json:"key"`
	Local      any       `json:"local"`
	Remote     any       `json:"remote"`
}
