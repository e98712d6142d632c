// Package scheduler runs session task loops on a bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrStopped is returned by Go once the scheduler is stopping.
var ErrStopped = errors.New("scheduler stopped")

// Stats is a point-in-time view of the pool.
type Stats struct {
	ActiveWorkers int            `json:"active_workers"`
	Queued        int            `json:"queued"`
	GlobalMax     int            `json:"global_max"`
	SessionCounts map[string]int `json:"session_counts"`
}

// Scheduler manages task loop dispatching and worker pools.
type Scheduler struct {
	config *Config
	logger *slog.Logger

	// Worker pool state
	mu            sync.Mutex
	activeWorkers int
	sessionCounts map[string]int
	// waiting holds queued loops in submission order.
	waiting []*waiter
	stopped bool

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type waiter struct {
	sessionID string
	ready     chan struct{}
	granted   bool
}

// New creates a new scheduler.
func New(cfg *Config, logger *slog.Logger) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		config:        cfg,
		logger:        logger,
		sessionCounts: make(map[string]int),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Go queues fn to run once both the global and the session's limit
// allow it. Queued loops are started in submission order, skipping
// those whose session is still at its limit. fn receives a context
// that is cancelled by Stop. Go never blocks.
func (sch *Scheduler) Go(sessionID string, fn func(ctx context.Context)) error {
	w := &waiter{sessionID: sessionID, ready: make(chan struct{})}

	sch.mu.Lock()
	if sch.stopped {
		sch.mu.Unlock()
		return ErrStopped
	}
	sch.waiting = append(sch.waiting, w)
	sch.dispatchLocked()
	sch.wg.Add(1)
	sch.mu.Unlock()

	go sch.runWorker(w, fn)
	return nil
}

// Stop cancels running loops, drops queued ones and waits for every
// worker to return.
func (sch *Scheduler) Stop() {
	sch.mu.Lock()
	sch.stopped = true
	sch.mu.Unlock()

	sch.cancel()
	sch.wg.Wait()
	sch.logger.Info("scheduler stopped")
}

func (sch *Scheduler) runWorker(w *waiter, fn func(ctx context.Context)) {
	defer sch.wg.Done()

	if !sch.acquire(w) {
		sch.logger.Debug("queued task loop dropped", "session", w.sessionID)
		return
	}
	defer sch.release(w.sessionID)

	sch.logger.Debug("task loop started", "session", w.sessionID)
	fn(sch.ctx)
	sch.logger.Debug("task loop finished", "session", w.sessionID)
}

// dispatchLocked grants free slots to waiters in queue order.
func (sch *Scheduler) dispatchLocked() {
	if sch.stopped {
		return
	}
	kept := sch.waiting[:0]
	for _, w := range sch.waiting {
		if sch.activeWorkers < sch.config.GlobalMax &&
			sch.sessionCounts[w.sessionID] < sch.config.GetSessionLimit(w.sessionID) {
			sch.activeWorkers++
			sch.sessionCounts[w.sessionID]++
			w.granted = true
			close(w.ready)
			continue
		}
		kept = append(kept, w)
	}
	for i := len(kept); i < len(sch.waiting); i++ {
		sch.waiting[i] = nil
	}
	sch.waiting = kept
}

// acquire waits until w holds a worker slot. It returns false if the
// scheduler stopped first.
func (sch *Scheduler) acquire(w *waiter) bool {
	select {
	case <-w.ready:
		return true
	case <-sch.ctx.Done():
	}

	sch.mu.Lock()
	defer sch.mu.Unlock()
	if w.granted {
		// Granted just before Stop; hand the slot straight back.
		sch.releaseLocked(w.sessionID)
		return false
	}
	for i, q := range sch.waiting {
		if q == w {
			sch.waiting = append(sch.waiting[:i], sch.waiting[i+1:]...)
			break
		}
	}
	return false
}

func (sch *Scheduler) release(sessionID string) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	sch.releaseLocked(sessionID)
}

func (sch *Scheduler) releaseLocked(sessionID string) {
	sch.activeWorkers--
	sch.sessionCounts[sessionID]--
	if sch.sessionCounts[sessionID] <= 0 {
		delete(sch.sessionCounts, sessionID)
	}
	sch.dispatchLocked()
}

// GetStats returns current scheduler statistics.
func (sch *Scheduler) GetStats() Stats {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	sessionCounts := make(map[string]int, len(sch.sessionCounts))
	for k, v := range sch.sessionCounts {
		sessionCounts[k] = v
	}

	return Stats{
		ActiveWorkers: sch.activeWorkers,
		Queued:        len(sch.waiting),
		GlobalMax:     sch.config.GlobalMax,
		SessionCounts: sessionCounts,
	}
}
