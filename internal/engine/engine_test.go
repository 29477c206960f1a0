package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldline/workstate/internal/clock"
	"github.com/fieldline/workstate/internal/hash"
	"github.com/fieldline/workstate/internal/localstore"
	"github.com/fieldline/workstate/internal/remote"
	"github.com/fieldline/workstate/internal/schema"
)

// fakeRemote implements an in-memory backend store for testing.
type fakeRemote struct {
	mu     sync.Mutex
	stored json.RawMessage
	puts   int
	getErr error
	putErr error
}

func (f *fakeRemote) Get(ctx context.Context, projectID int64) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.stored, nil
}

func (f *fakeRemote) Put(ctx context.Context, projectID int64, state json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.putErr != nil {
		return f.putErr
	}
	f.stored = append(json.RawMessage(nil), state...)
	return nil
}

func (f *fakeRemote) snapshot() (json.RawMessage, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append(json.RawMessage(nil), f.stored...), f.puts
}

// fakeLocal implements an in-memory local store for testing.
type fakeLocal struct {
	mu      sync.Mutex
	entries map[string]json.RawMessage
	err     error
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{entries: make(map[string]json.RawMessage)}
}

func (f *fakeLocal) Get(kind string) (json.RawMessage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	raw, ok := f.entries[kind]
	return raw, ok, nil
}

func (f *fakeLocal) Put(kind string, state json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries[kind] = append(json.RawMessage(nil), state...)
	return nil
}

func (f *fakeLocal) Remove(kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, kind)
	return nil
}

func (f *fakeLocal) Close() error { return nil }

func (f *fakeLocal) get(kind string) (json.RawMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.entries[kind]
	return raw, ok
}

func testSchema() schema.Schema {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	n := 0
	return schema.Analysis(clk, func() string {
		n++
		return fmt.Sprintf("ws-%d", n)
	})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testProject int64 = 42

func newTestEngine(rem remote.Store, local localstore.Store, window time.Duration) *Engine {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return New(testProject, testSchema(), rem, local, clk, hash.NewSHA256Hasher(), testLogger(), window)
}

func validState(n int) schema.State {
	return schema.State{
		"version": schema.AnalysisVersion,
		"workspaces": []any{
			map[string]any{
				"id":           fmt.Sprintf("tab-%d", n),
				"name":         fmt.Sprintf("Run %d", n),
				"parameters":   map[string]any{"n": n},
				"createdAt":    "2025-01-01T00:00:00Z",
				"lastModified": "2025-01-01T00:00:00Z",
			},
		},
	}
}

func mustEncode(t *testing.T, s schema.State) string {
	t.Helper()
	raw, err := s.Encode()
	require.NoError(t, err)
	return string(raw)
}

func TestInitialLoadEmptyStateYieldsDefault(t *testing.T) {
	// Scenario A: an empty project state {} loads as a default containing
	// exactly one workspace named "Workspace 1".
	for name, stored := range map[string]json.RawMessage{
		"cleared sentinel": json.RawMessage(`{}`),
		"absent":           nil,
		"null":             json.RawMessage(`null`),
	} {
		t.Run(name, func(t *testing.T) {
			rem := &fakeRemote{stored: stored}
			e := newTestEngine(rem, newFakeLocal(), time.Millisecond)

			state, err := e.InitialLoad(context.Background())
			require.NoError(t, err)

			workspaces := schema.AnalysisWorkspaces(state)
			require.Len(t, workspaces, 1)
			assert.Equal(t, "Workspace 1", workspaces[0].Name)
			assert.False(t, e.IsLoading())
		})
	}
}

func TestInitialLoadIsCallableExactlyOnce(t *testing.T) {
	e := newTestEngine(&fakeRemote{}, newFakeLocal(), time.Millisecond)

	_, err := e.InitialLoad(context.Background())
	require.NoError(t, err)

	_, err = e.InitialLoad(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyLoaded)
}

func TestRoundTrip(t *testing.T) {
	rem := &fakeRemote{}
	e := newTestEngine(rem, newFakeLocal(), time.Millisecond)
	_, err := e.InitialLoad(context.Background())
	require.NoError(t, err)

	state := validState(1)
	require.NoError(t, e.Save(state))
	require.NoError(t, e.Flush(context.Background()))

	// A fresh instance on the same backend returns a deep-equal state.
	e2 := newTestEngine(rem, newFakeLocal(), time.Millisecond)
	loaded, err := e2.InitialLoad(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, mustEncode(t, state), mustEncode(t, loaded))
}

func TestSaveRejectsInvalidStateWithoutTransmitting(t *testing.T) {
	rem := &fakeRemote{}
	e := newTestEngine(rem, newFakeLocal(), time.Millisecond)
	_, err := e.InitialLoad(context.Background())
	require.NoError(t, err)

	err = e.Save(schema.State{"workspaces": []any{}})
	assert.ErrorIs(t, err, schema.ErrValidation)

	require.NoError(t, e.Flush(context.Background()))
	_, puts := rem.snapshot()
	assert.Zero(t, puts, "invalid state must never be transmitted")
}

func TestMutationsBeforeInitialLoadAreRejected(t *testing.T) {
	e := newTestEngine(&fakeRemote{}, newFakeLocal(), time.Millisecond)

	assert.ErrorIs(t, e.Save(validState(1)), ErrNotReady)
	assert.ErrorIs(t, e.Patch(schema.State{"view": "map"}), ErrNotReady)
	assert.ErrorIs(t, e.Clear(), ErrNotReady)
}

func TestDebounceCoalescesSaves(t *testing.T) {
	// Scenario B: two saves inside the quiet window produce exactly one
	// PUT carrying the second save's state.
	rem := &fakeRemote{}
	e := newTestEngine(rem, newFakeLocal(), 2*time.Second)
	_, err := e.InitialLoad(context.Background())
	require.NoError(t, err)

	require.NoError(t, e.Save(validState(1)))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, e.Save(validState(2)))
	require.NoError(t, e.Flush(context.Background()))

	stored, puts := rem.snapshot()
	assert.Equal(t, 1, puts, "coalesced burst must produce one PUT")
	assert.JSONEq(t, mustEncode(t, validState(2)), string(stored))
}

func TestPatchMergesOntoIntendedState(t *testing.T) {
	rem := &fakeRemote{}
	e := newTestEngine(rem, newFakeLocal(), 2*time.Second)
	_, err := e.InitialLoad(context.Background())
	require.NoError(t, err)

	// The cache updates synchronously on Save, so Patch merges against the
	// most recent intended state even though nothing has been transmitted.
	require.NoError(t, e.Save(validState(7)))
	require.NoError(t, e.Patch(schema.State{"view": "chart"}))
	require.NoError(t, e.Flush(context.Background()))

	stored, _ := rem.snapshot()
	want := validState(7)
	want["view"] = "chart"
	assert.JSONEq(t, mustEncode(t, want), string(stored))
}

func TestPatchBeforeLoadFails(t *testing.T) {
	e := newTestEngine(&fakeRemote{}, newFakeLocal(), time.Millisecond)
	assert.ErrorIs(t, e.Patch(schema.State{"view": "map"}), ErrNotReady)
}

func TestRedundantSaveIsSkipped(t *testing.T) {
	rem := &fakeRemote{}
	e := newTestEngine(rem, newFakeLocal(), time.Millisecond)
	_, err := e.InitialLoad(context.Background())
	require.NoError(t, err)

	require.NoError(t, e.Save(validState(1)))
	require.NoError(t, e.Flush(context.Background()))
	require.NoError(t, e.Save(validState(1)))
	require.NoError(t, e.Flush(context.Background()))

	_, puts := rem.snapshot()
	assert.Equal(t, 1, puts, "saving an identical state must not write again")
}

func TestSavedStateIsSnapshotted(t *testing.T) {
	rem := &fakeRemote{}
	e := newTestEngine(rem, newFakeLocal(), 2*time.Second)
	_, err := e.InitialLoad(context.Background())
	require.NoError(t, err)

	state := validState(3)
	require.NoError(t, e.Save(state))

	// Mutating the caller's map after acceptance must not leak into the
	// cached snapshot or the transmitted state.
	state["workspaces"] = []any{}
	state["version"] = 99

	require.NoError(t, e.Patch(schema.State{}))
	require.NoError(t, e.Flush(context.Background()))

	stored, _ := rem.snapshot()
	assert.JSONEq(t, mustEncode(t, validState(3)), string(stored))
}

func TestClearWritesEmptySentinelImmediately(t *testing.T) {
	rem := &fakeRemote{stored: json.RawMessage(`{}`)}
	e := newTestEngine(rem, newFakeLocal(), time.Hour)
	_, err := e.InitialLoad(context.Background())
	require.NoError(t, err)

	require.NoError(t, e.Save(validState(1)))
	require.NoError(t, e.Clear())
	require.NoError(t, e.Flush(context.Background()))

	stored, _ := rem.snapshot()
	assert.JSONEq(t, `{}`, string(stored))

	// The sentinel round-trips to a default state on the next load.
	e2 := newTestEngine(rem, newFakeLocal(), time.Millisecond)
	loaded, err := e2.InitialLoad(context.Background())
	require.NoError(t, err)
	workspaces := schema.AnalysisWorkspaces(loaded)
	require.Len(t, workspaces, 1)
	assert.Equal(t, "Workspace 1", workspaces[0].Name)
}

func TestMigrationFailureIsFatalForLoad(t *testing.T) {
	// An unmigratable state must reject the load, never degrade to a
	// default state: that would silently destroy prior work.
	rem := &fakeRemote{stored: json.RawMessage(`{"version":99,"blob":true}`)}
	e := newTestEngine(rem, newFakeLocal(), time.Millisecond)

	_, err := e.InitialLoad(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrMigration)
}

func TestLegacyStateIsMigratedOnLoad(t *testing.T) {
	// Scenario C: a state missing the version field that fails strict
	// validation goes through migration instead of being discarded.
	rem := &fakeRemote{stored: json.RawMessage(`{"tabs":[{"title":"Old run","params":{"depth":2}}]}`)}
	e := newTestEngine(rem, newFakeLocal(), time.Millisecond)

	state, err := e.InitialLoad(context.Background())
	require.NoError(t, err)

	v, ok := state.Version()
	require.True(t, ok)
	assert.Equal(t, schema.AnalysisVersion, v)
	workspaces := schema.AnalysisWorkspaces(state)
	require.Len(t, workspaces, 1)
	assert.Equal(t, "Old run", workspaces[0].Name)
}

func TestUnparseableRemoteStateIsAMigrationError(t *testing.T) {
	rem := &fakeRemote{stored: json.RawMessage(`{"version":`)}
	e := newTestEngine(rem, newFakeLocal(), time.Millisecond)

	_, err := e.InitialLoad(context.Background())
	assert.ErrorIs(t, err, schema.ErrMigration)
}

func TestBackendReadFailurePropagates(t *testing.T) {
	// Read failures are surfaced, never silently substituted with the
	// local store's copy.
	local := newFakeLocal()
	require.NoError(t, local.Put(schema.AnalysisKind, json.RawMessage(`{"version":2,"workspaces":[]}`)))

	rem := &fakeRemote{getErr: fmt.Errorf("%w: 502", remote.ErrBackendRead)}
	e := newTestEngine(rem, local, time.Millisecond)

	_, err := e.InitialLoad(context.Background())
	assert.ErrorIs(t, err, remote.ErrBackendRead)
}

func TestFailedWriteFallsBackToLocalStore(t *testing.T) {
	rem := &fakeRemote{putErr: fmt.Errorf("%w: 503", remote.ErrBackendWrite)}
	local := newFakeLocal()
	e := newTestEngine(rem, local, time.Millisecond)
	_, err := e.InitialLoad(context.Background())
	require.NoError(t, err)

	state := validState(5)
	require.NoError(t, e.Save(state))
	require.NoError(t, e.Flush(context.Background()))

	raw, ok := local.get(schema.AnalysisKind)
	require.True(t, ok, "local store must hold the state that failed to sync")
	assert.JSONEq(t, mustEncode(t, state), string(raw))

	_, puts := rem.snapshot()
	assert.Equal(t, 1, puts, "no automatic retry against the backend")
}

func TestLocalOnlyMode(t *testing.T) {
	local := newFakeLocal()
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	e := NewLocal(testSchema(), local, clk, hash.NewSHA256Hasher(), testLogger(), time.Millisecond)
	_, err := e.InitialLoad(context.Background())
	require.NoError(t, err)

	state := validState(1)
	require.NoError(t, e.Save(state))
	require.NoError(t, e.Flush(context.Background()))

	e2 := NewLocal(testSchema(), local, clk, hash.NewSHA256Hasher(), testLogger(), time.Millisecond)
	loaded, err := e2.InitialLoad(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, mustEncode(t, state), mustEncode(t, loaded))
}

func TestLocalOnlyModeDegradesWhenStoreUnavailable(t *testing.T) {
	local := newFakeLocal()
	local.err = fmt.Errorf("%w: restricted context", localstore.ErrUnavailable)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	e := NewLocal(testSchema(), local, clk, hash.NewSHA256Hasher(), testLogger(), time.Millisecond)
	state, err := e.InitialLoad(context.Background())
	require.NoError(t, err, "unavailable local store degrades to a default state")
	assert.Len(t, schema.AnalysisWorkspaces(state), 1)

	// Saves succeed; the state simply is not persisted this session.
	require.NoError(t, e.Save(validState(1)))
	require.NoError(t, e.Flush(context.Background()))
}

func TestRegistryEnforcesSingleInstancePerProject(t *testing.T) {
	reg := NewRegistry()
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	open := func() (*Engine, error) {
		return reg.Open(7, testSchema(), &fakeRemote{}, newFakeLocal(), clk,
			hash.NewSHA256Hasher(), testLogger(), time.Millisecond)
	}

	first, err := open()
	require.NoError(t, err)

	_, err = open()
	assert.ErrorIs(t, err, ErrAlreadyOpen)

	// Closing releases the slot.
	require.NoError(t, first.Close(context.Background()))
	second, err := open()
	require.NoError(t, err)
	require.NoError(t, second.Close(context.Background()))
}

func TestVerifyProjectPanicsOnMismatch(t *testing.T) {
	e := newTestEngine(&fakeRemote{}, newFakeLocal(), time.Millisecond)

	assert.NotPanics(t, func() { e.VerifyProject(testProject) })
	assert.Panics(t, func() { e.VerifyProject(testProject + 1) },
		"reattaching an engine to a different project must fail loudly")

	id, ok := e.Project()
	assert.True(t, ok)
	assert.Equal(t, testProject, id)
}

func TestStaleWriteResultDoesNotOverwriteNewerState(t *testing.T) {
	// A slow transmission of an older generation must not clobber the
	// effect of a newer save, even when its result arrives last.
	rem := &slowFirstPutRemote{started: make(chan struct{}), release: make(chan struct{})}
	local := newFakeLocal()
	e := newTestEngine(rem, local, time.Millisecond)
	_, err := e.InitialLoad(context.Background())
	require.NoError(t, err)

	require.NoError(t, e.Save(validState(1)))
	<-rem.started // generation 1 in flight

	require.NoError(t, e.Save(validState(2))) // supersedes, transmits now
	close(rem.release)                        // generation 1's failure arrives late
	require.NoError(t, e.Flush(context.Background()))

	// The late failure is discarded: no fallback write for the old state.
	_, ok := local.get(schema.AnalysisKind)
	assert.False(t, ok, "stale failure must not trigger a fallback write")

	stored, _ := rem.snapshot()
	assert.JSONEq(t, mustEncode(t, validState(2)), string(stored))
}

// slowFirstPutRemote blocks its first Put until released, then fails it.
// Later Puts succeed immediately.
type slowFirstPutRemote struct {
	fakeRemote
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *slowFirstPutRemote) Put(ctx context.Context, projectID int64, state json.RawMessage) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.started)
		<-s.release
		return fmt.Errorf("%w: timed out", remote.ErrBackendWrite)
	}
	return s.fakeRemote.Put(ctx, projectID, state)
}
