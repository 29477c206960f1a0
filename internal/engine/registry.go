package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldline/workstate/internal/clock"
	"github.com/fieldline/workstate/internal/hash"
	"github.com/fieldline/workstate/internal/localstore"
	"github.com/fieldline/workstate/internal/remote"
	"github.com/fieldline/workstate/internal/schema"
)

// Registry enforces the one-active-engine-per-project invariant. Two live
// engines for the same project would race their write generations against
// each other, so opening a second one is an error.
type Registry struct {
	mu   sync.Mutex
	open map[int64]*Engine
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{open: make(map[int64]*Engine)}
}

// Open creates an engine bound to the project, failing with ErrAlreadyOpen
// if one is already active. The slot is released by Engine.Close.
func (r *Registry) Open(
	projectID int64,
	sch schema.Schema,
	remoteStore remote.Store,
	local localstore.Store,
	clk clock.Clock,
	hasher hash.Hasher,
	logger *slog.Logger,
	window time.Duration,
) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.open[projectID]; exists {
		return nil, fmt.Errorf("%w for project %d", ErrAlreadyOpen, projectID)
	}

	e := New(projectID, sch, remoteStore, local, clk, hasher, logger, window)
	e.registry = r
	r.open[projectID] = e
	return e, nil
}

func (r *Registry) release(e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open[e.projectID] == e {
		delete(r.open, e.projectID)
	}
}
