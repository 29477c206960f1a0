// Package schema defines the pluggable contract that makes the persistence
// engine generic over workspace "kinds".
//
// A workspace state is an opaque, versioned JSON value. The engine never
// interprets it beyond the version discriminant; everything kind-specific
// goes through the three operations of a Schema:
//
//   - GenerateDefault: the canonical fresh state for a brand-new project
//   - IsValid: strict type-guard, optionally repairing minor defects
//   - Migrate: upgrade an older/invalid state to the current schema
//
// Key concepts:
//   - State: opaque JSON-like value, deep-cloned at ownership boundaries
//   - Schema: the three operations supplied per workspace kind
//   - Analysis: the default kind shipped with workstate (analysis tabs)
package schema
