// Package engine implements the workspace state persistence core.
//
// The engine orchestrates the full lifecycle of a project's workspace state:
// load, validate/migrate, cache the last known state, and forward writes
// through the debouncing scheduler to the backend, with the local store as
// fallback. One engine instance owns one project's state (or no project in
// local-only mode) for its whole lifetime.
//
// Lifecycle per instance: uninitialized -> loading -> ready. Ready is
// terminal; Clear resets the state to a default-equivalent but never leaves
// ready. Mutations before InitialLoad resolves fail with ErrNotReady.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldline/workstate/internal/clock"
	"github.com/fieldline/workstate/internal/hash"
	"github.com/fieldline/workstate/internal/localstore"
	"github.com/fieldline/workstate/internal/remote"
	"github.com/fieldline/workstate/internal/scheduler"
	"github.com/fieldline/workstate/internal/schema"
)

type phase int

const (
	phaseUninitialized phase = iota
	phaseLoading
	phaseReady
)

// Engine is the persistence core for one project's workspace state.
type Engine struct {
	schema schema.Schema
	remote remote.Store     // nil in local-only mode
	local  localstore.Store // nil when the local store could not be opened
	clk    clock.Clock
	hasher hash.Hasher
	logger *slog.Logger
	sched  *scheduler.Scheduler

	projectID  int64
	hasProject bool
	registry   *Registry // releases the project slot on Close; may be nil

	mu          sync.Mutex
	phase       phase
	last        schema.State // deep-copied snapshot of the last accepted state
	lastSum     string       // fingerprint of last, for redundant-write skips
	localWarned bool
}

// New creates an engine bound to the given project. The binding is fixed for
// the instance's lifetime. local may be nil when the local store is
// unavailable; the engine then degrades to not persisting fallbacks.
func New(
	projectID int64,
	sch schema.Schema,
	remoteStore remote.Store,
	local localstore.Store,
	clk clock.Clock,
	hasher hash.Hasher,
	logger *slog.Logger,
	window time.Duration,
) *Engine {
	e := newEngine(sch, remoteStore, local, clk, hasher, logger)
	e.projectID = projectID
	e.hasProject = true
	e.sched = scheduler.New(window, e.transmitState, e.fallbackState, e.logger)
	return e
}

// NewLocal creates an engine with no project association. State lives in the
// local store only; there is no remote transmission and no fallback.
func NewLocal(
	sch schema.Schema,
	local localstore.Store,
	clk clock.Clock,
	hasher hash.Hasher,
	logger *slog.Logger,
	window time.Duration,
) *Engine {
	e := newEngine(sch, nil, local, clk, hasher, logger)
	e.sched = scheduler.New(window, e.transmitState, nil, e.logger)
	return e
}

func newEngine(
	sch schema.Schema,
	remoteStore remote.Store,
	local localstore.Store,
	clk clock.Clock,
	hasher hash.Hasher,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		schema: sch,
		remote: remoteStore,
		local:  local,
		clk:    clk,
		hasher: hasher,
		logger: logger.With("kind", sch.Kind),
	}
}

// InitialLoad hydrates the engine from the backing store. It is callable
// exactly once per instance; mutations are rejected until it resolves.
//
// Load algorithm: an absent or empty stored value yields the schema default;
// a value passing validation (with repair) is accepted as-is; anything else
// goes through migration, whose failure propagates unmodified. Backend read
// failures propagate and are never masked by local storage.
func (e *Engine) InitialLoad(ctx context.Context) (schema.State, error) {
	e.mu.Lock()
	if e.phase != phaseUninitialized {
		e.mu.Unlock()
		return nil, ErrAlreadyLoaded
	}
	e.phase = phaseLoading
	e.mu.Unlock()

	state, err := e.load(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := state.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode hydrated state: %w", err)
	}

	e.mu.Lock()
	e.phase = phaseReady
	e.last = state.Clone()
	e.lastSum = e.hasher.Sum(raw)
	e.mu.Unlock()

	return state, nil
}

// Save validates the state strictly and schedules a durable write. On
// validation failure nothing is transmitted. On success the cached last
// known state is updated synchronously, before the write completes, so a
// subsequent Patch merges against the most recent intended state.
func (e *Engine) Save(state schema.State) error {
	if err := e.requireReady(); err != nil {
		return err
	}

	if !e.schema.IsValid(state, false) {
		return fmt.Errorf("%w: state rejected by strict validation", schema.ErrValidation)
	}

	raw, err := state.Encode()
	if err != nil {
		return fmt.Errorf("%w: %v", schema.ErrValidation, err)
	}
	sum := e.hasher.Sum(raw)

	e.mu.Lock()
	if sum == e.lastSum {
		// Identical to the last accepted state; nothing to write.
		e.mu.Unlock()
		return nil
	}
	e.last = state.Clone()
	e.lastSum = sum
	e.mu.Unlock()

	e.sched.Enqueue(state.Clone())
	return nil
}

// Patch shallow-merges partial onto the cached last known state and saves
// the result.
func (e *Engine) Patch(partial schema.State) error {
	e.mu.Lock()
	if e.phase != phaseReady {
		e.mu.Unlock()
		return ErrNotReady
	}
	merged := e.last.Merge(partial)
	e.mu.Unlock()

	return e.Save(merged)
}

// Clear resets the stored state to the canonical empty sentinel {}, which
// round-trips to the schema default on the next load. The write bypasses
// debounce coalescing so it definitely executes. The cached state becomes a
// fresh default so later patches merge against it.
func (e *Engine) Clear() error {
	if err := e.requireReady(); err != nil {
		return err
	}

	def := e.schema.GenerateDefault()
	sum := ""
	if raw, err := def.Encode(); err == nil {
		sum = e.hasher.Sum(raw)
	}

	e.mu.Lock()
	e.last = def
	e.lastSum = sum
	e.mu.Unlock()

	e.sched.EnqueueNow(schema.State{})
	return nil
}

// IsLoading reports whether the initial load is still in flight.
func (e *Engine) IsLoading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase == phaseLoading
}

// Flush forces pending writes out and blocks until none are outstanding.
func (e *Engine) Flush(ctx context.Context) error {
	return e.sched.Flush(ctx)
}

// Close drains pending writes and releases the engine's project slot.
func (e *Engine) Close(ctx context.Context) error {
	err := e.Flush(ctx)
	if e.registry != nil {
		e.registry.release(e)
	}
	return err
}

// Project returns the bound project id, if any.
func (e *Engine) Project() (int64, bool) {
	return e.projectID, e.hasProject
}

// VerifyProject panics if the surrounding context reports a different
// project than the one this instance was bound to at construction.
// Cross-project state bleed is worse than crashing, so the engine never
// silently reattaches.
func (e *Engine) VerifyProject(projectID int64) {
	if !e.hasProject {
		panic(fmt.Sprintf("local-only workspace engine used with project %d", projectID))
	}
	if e.projectID != projectID {
		panic(fmt.Sprintf("workspace engine bound to project %d used with project %d", e.projectID, projectID))
	}
}

func (e *Engine) requireReady() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != phaseReady {
		return ErrNotReady
	}
	return nil
}

func (e *Engine) load(ctx context.Context) (schema.State, error) {
	var raw json.RawMessage

	if e.hasProject {
		var err error
		raw, err = e.remote.Get(ctx, e.projectID)
		if err != nil {
			return nil, err
		}
	} else if e.local != nil {
		stored, ok, err := e.local.Get(e.schema.Kind)
		if err != nil {
			if !errors.Is(err, localstore.ErrUnavailable) {
				return nil, err
			}
			e.warnStorageOnce(err)
		} else if ok {
			raw = stored
		}
	} else {
		e.warnStorageOnce(localstore.ErrUnavailable)
	}

	return e.hydrate(raw)
}

func (e *Engine) hydrate(raw json.RawMessage) (schema.State, error) {
	state, err := schema.Decode(raw)
	if err != nil {
		// A stored value that does not even parse cannot be migrated.
		return nil, fmt.Errorf("%w: %v", schema.ErrMigration, err)
	}

	if state.IsEmpty() {
		return e.schema.GenerateDefault(), nil
	}

	if e.schema.IsValid(state, true) {
		return state, nil
	}

	migrated, err := e.schema.Migrate(state, schema.MigrateContext{
		ProjectID:  e.projectID,
		HasProject: e.hasProject,
		Now:        e.clk.Now(),
	})
	if err != nil {
		return nil, err
	}
	return migrated, nil
}

// transmitState is the scheduler's transmit hook: remote in project mode,
// local store in local-only mode.
func (e *Engine) transmitState(ctx context.Context, state schema.State) error {
	raw, err := state.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode state for transmission: %w", err)
	}

	if e.hasProject {
		return e.remote.Put(ctx, e.projectID, raw)
	}
	return e.persistLocal(raw)
}

// fallbackState is the scheduler's fallback hook for failed backend writes.
func (e *Engine) fallbackState(state schema.State) error {
	raw, err := state.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode state for fallback: %w", err)
	}
	return e.persistLocal(raw)
}

// persistLocal writes to the local store, degrading gracefully when it is
// unavailable: the condition is surfaced once and the write is dropped.
func (e *Engine) persistLocal(raw json.RawMessage) error {
	if e.local == nil {
		e.warnStorageOnce(localstore.ErrUnavailable)
		return nil
	}
	if err := e.local.Put(e.schema.Kind, raw); err != nil {
		if errors.Is(err, localstore.ErrUnavailable) {
			e.warnStorageOnce(err)
			return nil
		}
		return err
	}
	return nil
}

func (e *Engine) warnStorageOnce(err error) {
	e.mu.Lock()
	warned := e.localWarned
	e.localWarned = true
	e.mu.Unlock()

	if !warned {
		e.logger.Warn("local store unavailable; state will not be persisted this session", "error", err)
	}
}
