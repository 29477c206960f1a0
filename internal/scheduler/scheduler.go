// Package scheduler coalesces workspace state writes.
//
// Every accepted save becomes an intent carrying the full state. Intents
// arriving within a quiet window are coalesced so only the most recent one
// is transmitted. Each intent is tagged with a monotonically increasing
// generation; when a transmission's result arrives after a newer intent has
// been accepted, the result is discarded so a stale write can never
// overwrite a newer one. The generation discipline serializes the effect of
// writes even though transport calls may overlap in time.
//
// A failed transmission gets exactly one fallback write and a logged
// warning; the scheduler never retries against the backend.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldline/workstate/internal/schema"
)

// DefaultWindow is the default debounce quiet window.
const DefaultWindow = 500 * time.Millisecond

// TransmitFunc sends a state to the backing store. The context is cancelled
// when a newer intent supersedes the transmission.
type TransmitFunc func(ctx context.Context, state schema.State) error

// FallbackFunc durably records a state whose transmission failed.
type FallbackFunc func(state schema.State) error

// Scheduler debounces and serializes the effect of state writes.
type Scheduler struct {
	window   time.Duration
	transmit TransmitFunc
	fallback FallbackFunc
	logger   *slog.Logger

	mu          sync.Mutex
	gen         uint64       // generation of the newest accepted intent
	pending     schema.State // coalesced state waiting out the quiet window
	pendingGen  uint64
	timer       *time.Timer
	outstanding int // transmissions in flight
	cancels     map[uint64]context.CancelFunc
	waiters     []chan struct{} // closed when the scheduler goes idle
}

// New creates a Scheduler. A non-positive window selects DefaultWindow.
// fallback may be nil when no fallback store exists.
func New(window time.Duration, transmit TransmitFunc, fallback FallbackFunc, logger *slog.Logger) *Scheduler {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		window:   window,
		transmit: transmit,
		fallback: fallback,
		logger:   logger,
		cancels:  make(map[uint64]context.CancelFunc),
	}
}

// Enqueue accepts a save intent for the given state. Intents within the
// quiet window coalesce; only the latest is transmitted. If a transmission
// is outstanding, the new intent supersedes it and transmits immediately.
func (s *Scheduler) Enqueue(state schema.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	g := s.gen

	if s.outstanding > 0 {
		s.cancelInflightLocked()
		s.clearPendingLocked()
		s.startLocked(state, g)
		return
	}

	s.pending = state
	s.pendingGen = g
	if s.timer == nil {
		s.timer = time.AfterFunc(s.window, s.timerFired)
	} else {
		s.timer.Reset(s.window)
	}
}

// EnqueueNow accepts an intent and transmits it immediately, bypassing the
// quiet window. Used for clear, which must definitely execute.
func (s *Scheduler) EnqueueNow(state schema.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	g := s.gen

	s.cancelInflightLocked()
	s.clearPendingLocked()
	s.startLocked(state, g)
}

// Flush forces any pending intent out immediately and blocks until no
// transmission is outstanding.
func (s *Scheduler) Flush(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.pending != nil {
			state, g := s.pending, s.pendingGen
			s.clearPendingLocked()
			s.startLocked(state, g)
		}
		if s.outstanding == 0 {
			s.mu.Unlock()
			return nil
		}
		ch := make(chan struct{})
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scheduler) timerFired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return
	}
	state, g := s.pending, s.pendingGen
	s.clearPendingLocked()
	s.startLocked(state, g)
}

// startLocked begins a transmission for the given intent. Caller holds mu.
func (s *Scheduler) startLocked(state schema.State, g uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancels[g] = cancel
	s.outstanding++
	go s.run(ctx, cancel, state, g)
}

func (s *Scheduler) run(ctx context.Context, cancel context.CancelFunc, state schema.State, g uint64) {
	err := s.transmit(ctx, state)
	cancel()

	s.mu.Lock()
	stale := g != s.gen
	s.mu.Unlock()

	if stale {
		// A newer generation exists; this result's effects never apply.
		s.logger.Debug("discarding superseded write result",
			"generation", g, "error", err)
	} else if err != nil {
		s.logger.Warn("backend write failed, keeping state in local fallback",
			"generation", g, "error", err)
		if s.fallback != nil {
			if ferr := s.fallback(state); ferr != nil {
				s.logger.Warn("local fallback write failed; state not persisted this session",
					"generation", g, "error", ferr)
			}
		}
	}

	s.mu.Lock()
	delete(s.cancels, g)
	s.outstanding--
	if s.outstanding == 0 && s.pending == nil {
		s.notifyIdleLocked()
	}
	s.mu.Unlock()
}

// cancelInflightLocked cancels every outstanding transmission's context.
// Cancellation is an internal optimization; staleness is still decided by
// generation comparison at completion time.
func (s *Scheduler) cancelInflightLocked() {
	for _, cancel := range s.cancels {
		cancel()
	}
}

func (s *Scheduler) clearPendingLocked() {
	s.pending = nil
	s.pendingGen = 0
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *Scheduler) notifyIdleLocked() {
	for _, ch := range s.waiters {
		close(ch)
	}
	s.waiters = nil
}
