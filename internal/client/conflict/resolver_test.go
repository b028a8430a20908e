package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/internal/models"
)

var detectedAt = time.Unix(1700000000, 0).UTC()

func TestDetectConflicts(t *testing.T) {
	local := map[string]any{
		"count":   float64(5),
		"name":    "alice",
		"tags":    []any{"a", "b"},
		"missing": "only-local",
	}
	remote := map[string]any{
		"count":       float64(7),
		"name":        "alice",
		"tags":        []any{"b", "a"},
		"only-remote": true,
	}

	conflicts := DetectConflicts(local, remote, detectedAt)

	require.Len(t, conflicts, 1, "equal values, set-equal arrays and one-sided keys are not conflicts")
	assert.Equal(t, "count", conflicts[0].Key)
	assert.Equal(t, float64(5), conflicts[0].Local)
	assert.Equal(t, float64(7), conflicts[0].Remote)
	assert.Equal(t, detectedAt, conflicts[0].DetectedAt)
}

func TestDetectConflicts_NestedStructures(t *testing.T) {
	local := map[string]any{
		"profile": map[string]any{"roles": []any{"admin", "user"}},
	}
	remote := map[string]any{
		"profile": map[string]any{"roles": []any{"user", "admin"}},
	}

	assert.Empty(t, DetectConflicts(local, remote, detectedAt),
		"array order must not matter at any depth")

	remote["profile"] = map[string]any{"roles": []any{"user"}}
	conflicts := DetectConflicts(local, remote, detectedAt)
	assert.Len(t, conflicts, 1)
}

func TestResolveConflicts_Strategies(t *testing.T) {
	conflicts := []models.StateConflict{
		{Key: "count", Local: float64(5), Remote: float64(7), DetectedAt: detectedAt},
	}

	t.Run("remote wins by default", func(t *testing.T) {
		resolved := ResolveConflicts(conflicts, RemoteWins, nil)
		assert.Equal(t, float64(7), resolved["count"])
	})

	t.Run("local wins", func(t *testing.T) {
		resolved := ResolveConflicts(conflicts, LocalWins, nil)
		assert.Equal(t, float64(5), resolved["count"])
	})

	t.Run("manual handler decides", func(t *testing.T) {
		resolved := ResolveConflicts(conflicts, Manual, func(c models.StateConflict) any {
			return float64(42)
		})
		assert.Equal(t, float64(42), resolved["count"])
	})

	t.Run("manual without handler falls back to remote", func(t *testing.T) {
		resolved := ResolveConflicts(conflicts, Manual, nil)
		assert.Equal(t, float64(7), resolved["count"])
	})
}

func TestResolveConflicts_Merge(t *testing.T) {
	tests := []struct {
		name   string
		local  any
		remote any
		want   any
	}{
		{
			name:   "arrays union as sets",
			local:  []any{"a", "b"},
			remote: []any{"b", "c"},
			want:   []any{"a", "b", "c"},
		},
		{
			name:   "maps merge with remote precedence",
			local:  map[string]any{"x": float64(1), "y": float64(2)},
			remote: map[string]any{"y": float64(9), "z": float64(3)},
			want:   map[string]any{"x": float64(1), "y": float64(9), "z": float64(3)},
		},
		{
			name:   "numbers take the maximum",
			local:  float64(10),
			remote: float64(7),
			want:   float64(10),
		},
		{
			name:   "scalars without a merge rule resolve remote",
			local:  "local-name",
			remote: "remote-name",
			want:   "remote-name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conflicts := []models.StateConflict{
				{Key: "k", Local: tt.local, Remote: tt.remote, DetectedAt: detectedAt},
			}
			resolved := ResolveConflicts(conflicts, Merge, nil)
			assert.Equal(t, tt.want, resolved["k"])
		})
	}
}

func TestApplyResolution_DoesNotMutateInput(t *testing.T) {
	state := map[string]any{"count": float64(5), "name": "alice"}
	resolved := map[string]any{"count": float64(7)}

	out := ApplyResolution(state, resolved)

	assert.Equal(t, float64(7), out["count"])
	assert.Equal(t, "alice", out["name"])
	assert.Equal(t, float64(5), state["count"], "input state must stay untouched")
}

func TestResolution_IsDeterministic(t *testing.T) {
	local := map[string]any{"tags": []any{"a", "b"}, "count": float64(5)}
	remote := map[string]any{"tags": []any{"b", "c"}, "count": float64(7)}

	first := ResolveConflicts(DetectConflicts(local, remote, detectedAt), Merge, nil)
	second := ResolveConflicts(DetectConflicts(local, remote, detectedAt), Merge, nil)
	assert.Equal(t, first, second)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("merge")
	require.NoError(t, err)
	assert.Equal(t, Merge, s)

	_, err = ParseStrategy("coin-flip")
	assert.Error(t, err)
}
