package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Run("absent values decode to nil", func(t *testing.T) {
		for _, raw := range []string{"", "null", "  \n"} {
			s, err := Decode(json.RawMessage(raw))
			require.NoError(t, err)
			assert.Nil(t, s)
		}
	})

	t.Run("empty object decodes to empty state", func(t *testing.T) {
		s, err := Decode(json.RawMessage(`{}`))
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.True(t, s.IsEmpty())
	})

	t.Run("malformed JSON is an error", func(t *testing.T) {
		_, err := Decode(json.RawMessage(`{"version":`))
		assert.Error(t, err)
	})
}

func TestEncodeIsCanonical(t *testing.T) {
	a := State{"b": 1, "a": 2, "version": 2}
	b := State{"version": 2, "a": 2, "b": 1}

	rawA, err := a.Encode()
	require.NoError(t, err)
	rawB, err := b.Encode()
	require.NoError(t, err)

	assert.Equal(t, string(rawA), string(rawB))
}

func TestVersion(t *testing.T) {
	cases := []struct {
		name  string
		state State
		want  int
		ok    bool
	}{
		{"int", State{"version": 2}, 2, true},
		{"float64 from JSON", State{"version": float64(2)}, 2, true},
		{"json.Number", State{"version": json.Number("3")}, 3, true},
		{"missing", State{}, 0, false},
		{"non-numeric", State{"version": "2"}, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.state.Version()
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClone(t *testing.T) {
	orig := State{
		"version": 2,
		"nested":  map[string]any{"list": []any{map[string]any{"id": "a"}}},
	}

	clone := orig.Clone()
	require.Equal(t, orig, clone)

	// Mutating the clone must not reach through to the original.
	clone["version"] = 3
	clone["nested"].(map[string]any)["list"].([]any)[0].(map[string]any)["id"] = "b"

	assert.Equal(t, 2, orig["version"])
	assert.Equal(t, "a", orig["nested"].(map[string]any)["list"].([]any)[0].(map[string]any)["id"])
}

func TestMerge(t *testing.T) {
	base := State{"version": 2, "workspaces": []any{}, "view": "map"}

	merged := base.Merge(State{"view": "chart", "zoom": 4})

	assert.Equal(t, "chart", merged["view"])
	assert.Equal(t, 4, merged["zoom"])
	assert.Equal(t, 2, merged["version"])

	// The merge is non-destructive on the receiver.
	assert.Equal(t, "map", base["view"])
	_, present := base["zoom"]
	assert.False(t, present)
}
