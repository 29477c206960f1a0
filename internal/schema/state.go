package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// State is an opaque workspace state: a JSON object held as a generic map.
// Once accepted by the engine it must carry a numeric "version" discriminant.
// States are value-like: code that hands a State across an ownership boundary
// clones it first and never mutates it in place afterward.
type State map[string]any

// Decode parses a raw serialized state. An empty, "null", or all-whitespace
// value decodes to nil, which callers treat as absent.
func Decode(raw json.RawMessage) (State, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var s State
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, fmt.Errorf("failed to decode workspace state: %w", err)
	}
	return s, nil
}

// Encode serializes the state to its canonical form. encoding/json writes
// map keys in sorted order, so equal states encode to equal bytes.
func (s State) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workspace state: %w", err)
	}
	return data, nil
}

// IsEmpty reports whether the state is absent or the cleared sentinel {}.
func (s State) IsEmpty() bool {
	return len(s) == 0
}

// Version returns the state's version discriminant. JSON numbers arrive as
// float64 after decoding while generated states hold ints; both are accepted.
func (s State) Version() (int, bool) {
	switch v := s["version"].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// Clone returns a deep copy of the state. Nested objects and arrays are
// copied recursively; scalar values are shared (they are immutable).
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	return cloneMap(s)
}

// Merge returns a new state with the entries of partial shallow-merged onto
// a clone of s. Values from partial replace top-level keys wholesale.
func (s State) Merge(partial State) State {
	merged := s.Clone()
	if merged == nil {
		merged = State{}
	}
	for k, v := range partial {
		merged[k] = cloneValue(v)
	}
	return merged
}

func cloneMap[M ~map[string]any](m M) M {
	out := make(M, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case State:
		return cloneMap(t)
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
