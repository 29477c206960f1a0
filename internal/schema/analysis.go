package schema

import (
	"fmt"
	"time"

	"github.com/fieldline/workstate/internal/clock"
)

const (
	// AnalysisKind is the workspace kind for analysis tab workspaces.
	AnalysisKind = "analysis"

	// AnalysisVersion is the current analysis schema version.
	AnalysisVersion = 2

	// defaultWorkspaceName is the name of the single entry in a fresh state.
	defaultWorkspaceName = "Workspace 1"
)

// Workspace is the typed view of one analysis tab entry inside a state.
type Workspace struct {
	// ID uniquely identifies the workspace within the state
	ID string `json:"id"`

	// Name is the user-visible tab name
	Name string `json:"name"`

	// Parameters holds the run parameters for this workspace
	Parameters map[string]any `json:"parameters"`

	// CreatedAt is when the workspace was opened (RFC 3339)
	CreatedAt string `json:"createdAt"`

	// LastModified is when the workspace last changed (RFC 3339)
	LastModified string `json:"lastModified"`
}

// Analysis returns the Schema for analysis tab workspaces. The clock stamps
// createdAt/lastModified; newID generates fresh workspace ids and is owned
// by the caller rather than shared global state.
func Analysis(clk clock.Clock, newID func() string) Schema {
	a := &analysisSchema{clk: clk, newID: newID}
	return Schema{
		Kind:            AnalysisKind,
		GenerateDefault: a.generateDefault,
		IsValid:         a.isValid,
		Migrate:         a.migrate,
	}
}

// AnalysisWorkspaces extracts the typed workspace entries from a valid
// analysis state. Malformed entries are skipped.
func AnalysisWorkspaces(s State) []Workspace {
	entries, ok := s["workspaces"].([]any)
	if !ok {
		return nil
	}

	out := make([]Workspace, 0, len(entries))
	for _, e := range entries {
		m, ok := asObject(e)
		if !ok {
			continue
		}
		ws := Workspace{Parameters: map[string]any{}}
		ws.ID, _ = m["id"].(string)
		ws.Name, _ = m["name"].(string)
		if params, ok := asObject(m["parameters"]); ok {
			ws.Parameters = params
		}
		ws.CreatedAt, _ = m["createdAt"].(string)
		ws.LastModified, _ = m["lastModified"].(string)
		out = append(out, ws)
	}
	return out
}

type analysisSchema struct {
	clk   clock.Clock
	newID func() string
}

func (a *analysisSchema) generateDefault() State {
	now := a.clk.Now().UTC().Format(time.RFC3339)
	id := a.newID()

	return State{
		"version": AnalysisVersion,
		"workspaces": []any{
			map[string]any{
				"id":           id,
				"name":         defaultWorkspaceName,
				"parameters":   map[string]any{},
				"createdAt":    now,
				"lastModified": now,
			},
		},
		"activeWorkspaceId": id,
	}
}

// isValid checks the analysis schema. With repair=true it drops malformed or
// duplicate-id entries, fills missing timestamps, and re-points a dangling
// activeWorkspaceId; with repair=false any such defect fails validation.
func (a *analysisSchema) isValid(s State, repair bool) bool {
	if s == nil {
		return false
	}
	if v, ok := s.Version(); !ok || v != AnalysisVersion {
		return false
	}

	entries, ok := s["workspaces"].([]any)
	if !ok {
		return false
	}

	now := a.clk.Now().UTC().Format(time.RFC3339)
	seen := make(map[string]bool, len(entries))
	kept := make([]any, 0, len(entries))

	for _, e := range entries {
		m, ok := asObject(e)
		if !ok {
			if repair {
				continue
			}
			return false
		}

		id, _ := m["id"].(string)
		name, _ := m["name"].(string)
		if id == "" || name == "" || seen[id] {
			if repair {
				continue
			}
			return false
		}

		if _, ok := asObject(m["parameters"]); !ok {
			if !repair {
				return false
			}
			m["parameters"] = map[string]any{}
		}
		for _, field := range []string{"createdAt", "lastModified"} {
			if ts, _ := m[field].(string); ts == "" {
				if !repair {
					return false
				}
				m[field] = now
			}
		}

		seen[id] = true
		kept = append(kept, m)
	}

	if repair {
		s["workspaces"] = kept
	}

	if active, present := s["activeWorkspaceId"]; present {
		id, ok := active.(string)
		if !ok || !seen[id] {
			if !repair {
				return false
			}
			if len(kept) > 0 {
				first, _ := asObject(kept[0])
				s["activeWorkspaceId"] = first["id"]
			} else {
				delete(s, "activeWorkspaceId")
			}
		}
	}

	return true
}

// migrate upgrades a version 1 state, which stored its entries under "tabs"
// with "title"/"params" fields and no lastModified. Anything else is
// unrecoverable and reported, never silently replaced.
func (a *analysisSchema) migrate(s State, mctx MigrateContext) (State, error) {
	version, hasVersion := s.Version()

	tabs, hasTabs := s["tabs"].([]any)
	legacy := version == 1 || (!hasVersion && hasTabs)
	if !legacy {
		return nil, fmt.Errorf("%w: unrecognized analysis state (version %v)", ErrMigration, s["version"])
	}

	now := mctx.Now.UTC().Format(time.RFC3339)
	workspaces := make([]any, 0, len(tabs))
	for i, e := range tabs {
		m, ok := asObject(e)
		if !ok {
			continue
		}

		id, _ := m["id"].(string)
		if id == "" {
			id = a.newID()
		}
		name, _ := m["title"].(string)
		if name == "" {
			name, _ = m["name"].(string)
		}
		if name == "" {
			name = fmt.Sprintf("Workspace %d", i+1)
		}
		params, ok := asObject(m["params"])
		if !ok {
			if params, ok = asObject(m["parameters"]); !ok {
				params = map[string]any{}
			}
		}
		created, _ := m["created"].(string)
		if created == "" {
			created = now
		}

		workspaces = append(workspaces, map[string]any{
			"id":           id,
			"name":         name,
			"parameters":   params,
			"createdAt":    created,
			"lastModified": now,
		})
	}

	// Preserve unrelated top-level keys; the blob is free-form.
	out := s.Clone()
	delete(out, "tabs")
	out["version"] = AnalysisVersion
	out["workspaces"] = workspaces
	if len(workspaces) > 0 {
		first, _ := asObject(workspaces[0])
		out["activeWorkspaceId"] = first["id"]
	} else {
		delete(out, "activeWorkspaceId")
	}

	if !a.isValid(out, false) {
		return nil, fmt.Errorf("%w: migrated state failed validation", ErrMigration)
	}
	return out, nil
}

// asObject normalizes the two map shapes a nested object can take.
func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case State:
		return t, true
	default:
		return nil, false
	}
}
