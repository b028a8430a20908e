// Package conflict detects and resolves divergence between local
// optimistic state and authoritative remote state. All functions are pure:
// same inputs, same outputs, no hidden state.
package conflict

import (
	"fmt"
	"time"

	"github.com/hookline/hookline/internal/models"
)

// Strategy selects how conflicting values reconcile.
type Strategy string

// Resolution strategies. RemoteWins is the default: the chain is the
// source of truth.
const (
	RemoteWins Strategy = "remote-wins"
	LocalWins  Strategy = "local-wins"
	Merge      Strategy = "merge"
	Manual     Strategy = "manual"
)

// ManualHandler decides a single conflict under the Manual strategy.
type ManualHandler func(conflict models.StateConflict) any

// DetectConflicts compares local and remote state maps key by key and
// returns one conflict per key present in both with differing values.
// Keys present on only one side are not conflicts. Arrays compare as
// order-insensitive sets.
func DetectConflicts(local, remote map[string]any, detectedAt time.Time) []models.StateConflict {
	var conflicts []models.StateConflict
	for key, localValue := range local {
		remoteValue, ok := remote[key]
		if !ok {
			continue
		}
		if valuesEqual(localValue, remoteValue) {
			continue
		}
		conflicts = append(conflicts, models.StateConflict{
			DetectedAt: detectedAt,
			Key:        key,
			Local:      localValue,
			Remote:     remoteValue,
		})
	}
	return conflicts
}

// ResolveConflicts produces the winning value per conflicting key. Under
// Manual a nil handler falls back to remote-wins, as does a Merge of
// values with no merge rule.
func ResolveConflicts(conflicts []models.StateConflict, strategy Strategy, manual ManualHandler) map[string]any {
	resolved := make(map[string]any, len(conflicts))
	for _, c := range conflicts {
		switch strategy {
		case LocalWins:
			resolved[c.Key] = c.Local
		case Merge:
			resolved[c.Key] = mergeValues(c.Local, c.Remote)
		case Manual:
			if manual != nil {
				resolved[c.Key] = manual(c)
			} else {
				resolved[c.Key] = c.Remote
			}
		default:
			resolved[c.Key] = c.Remote
		}
	}
	return resolved
}

// ApplyResolution overlays the resolved values onto a copy of the state.
// The input map is not mutated.
func ApplyResolution(state, resolved map[string]any) map[string]any {
	out := make(map[string]any, len(state)+len(resolved))
	for key, value := range state {
		out[key] = value
	}
	for key, value := range resolved {
		out[key] = value
	}
	return out
}

// mergeValues combines two conflicting values. Maps merge shallowly with
// remote precedence per key, arrays union as sets, numbers take the
// maximum. Everything else has no merge rule and resolves remote.
func mergeValues(local, remote any) any {
	if lm, ok := local.(map[string]any); ok {
		if rm, ok := remote.(map[string]any); ok {
			merged := make(map[string]any, len(lm)+len(rm))
			for key, value := range lm {
				merged[key] = value
			}
			for key, value := range rm {
				merged[key] = value
			}
			return merged
		}
	}

	if ls, ok := toSlice(local); ok {
		if rs, ok := toSlice(remote); ok {
			return unionSlices(ls, rs)
		}
	}

	if ln, ok := toFloat(local); ok {
		if rn, ok := toFloat(remote); ok {
			if ln > rn {
				return local
			}
			return remote
		}
	}

	return remote
}

// unionSlices keeps local elements in order, then appends remote elements
// not already present (set semantics).
func unionSlices(local, remote []any) []any {
	union := make([]any, 0, len(local)+len(remote))
	union = append(union, local...)
	for _, rv := range remote {
		if !sliceContains(union, rv) {
			union = append(union, rv)
		}
	}
	return union
}

// valuesEqual is deep equality with arrays treated as order-insensitive
// sets at every level.
func valuesEqual(a, b any) bool {
	if as, ok := toSlice(a); ok {
		bs, ok := toSlice(b)
		if !ok {
			return false
		}
		return setsEqual(as, bs)
	}

	if am, ok := a.(map[string]any); ok {
		bm, ok := b.(map[string]any)
		if !ok || len(am) != len(bm) {
			return false
		}
		for key, av := range am {
			bv, ok := bm[key]
			if !ok || !valuesEqual(av, bv) {
				return false
			}
		}
		return true
	}

	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}

	return a == b
}

func setsEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for _, av := range a {
		if !sliceContains(b, av) {
			return false
		}
	}
	for _, bv := range b {
		if !sliceContains(a, bv) {
			return false
		}
	}
	return true
}

func sliceContains(s []any, v any) bool {
	for _, item := range s {
		if valuesEqual(item, v) {
			return true
		}
	}
	return false
}

// toSlice normalizes the slice shapes JSON decoding and callers produce.
func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	}
	return nil, false
}

// toFloat normalizes numeric types to float64 for comparison, matching
// what encoding/json produces for untyped numbers.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// String implements fmt.Stringer for logging.
func (s Strategy) String() string {
	return string(s)
}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case RemoteWins, LocalWins, Merge, Manual:
		return true
	}
	return false
}

// ParseStrategy converts a config string into a Strategy.
func ParseStrategy(raw string) (Strategy, error) {
	s := Strategy(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown conflict strategy %q", raw)
	}
	return s, nil
}
