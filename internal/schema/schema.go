package schema

import "time"

// Schema supplies the three per-kind operations the persistence engine needs.
// It is a strategy object: one Schema value per workspace kind, injected into
// the engine at construction.
type Schema struct {
	// Kind names the workspace kind. It doubles as the local store key.
	Kind string

	// GenerateDefault returns the canonical fresh state for a brand-new
	// project. The result must satisfy IsValid(state, false).
	GenerateDefault func() State

	// IsValid is the type-guard for the current schema version. With
	// repair=false it is strict and pure: any structural defect returns
	// false and the state is left untouched. With repair=true it may
	// normalize minor correctable defects in place (e.g. drop malformed
	// list entries) before judging the result.
	IsValid func(s State, repair bool) bool

	// Migrate transforms an older or invalid state into the current
	// schema. If the state cannot be upgraded it returns an error wrapping
	// ErrMigration; it never falls back to a default state.
	Migrate func(s State, mctx MigrateContext) (State, error)
}

// MigrateContext carries the surrounding context a migration may need.
type MigrateContext struct {
	// ProjectID is the owning project, when the engine is project-bound.
	ProjectID int64

	// HasProject distinguishes project-bound from local-only engines.
	HasProject bool

	// Now is the migration timestamp, used to fill in timestamps the
	// legacy state never recorded.
	Now time.Time
}
