// Package worker tracks the asynchronous workers that execute reactions.
// One worker is spawned per fired reaction, keyed by an opaque id; the
// dispatch loop consumes the completion channel and triggers watch
// restoration for the path each worker was acting on. Task ids are never
// reused, so there are no OS pid-recycling semantics to worry about.
package worker

import (
	"context"
	"sync"
	"time"
)

// Completion is the reap signal for one finished worker.
type Completion struct {
	ID       uint64
	Err      error
	Duration time.Duration
}

// Manager spawns and reaps reaction workers.
type Manager struct {
	ctx context.Context

	mu       sync.Mutex
	next     uint64
	inflight map[uint64]string // id -> path the reaction is acting on

	done chan Completion
}

// NewManager creates a manager whose workers inherit ctx. Reactions are not
// cooperatively cancelled; ctx only bounds what the task itself chooses to
// honor (dial timeouts and the like). A long-running reaction simply delays
// restoration of its own path's watch.
func NewManager(ctx context.Context) *Manager {
	return &Manager{
		ctx:      ctx,
		inflight: make(map[uint64]string),
		done:     make(chan Completion, 16),
	}
}

// Spawn starts task asynchronously and returns its id. The dispatch loop
// never blocks on the task; completion arrives on Completions.
func (m *Manager) Spawn(path string, task func(ctx context.Context) error) uint64 {
	m.mu.Lock()
	m.next++
	id := m.next
	m.inflight[id] = path
	m.mu.Unlock()

	go func() {
		start := time.Now()
		err := task(m.ctx)
		select {
		case m.done <- Completion{ID: id, Err: err, Duration: time.Since(start)}:
		case <-m.ctx.Done():
		}
	}()
	return id
}

// Completions is the reap channel consumed by the dispatch loop.
func (m *Manager) Completions() <-chan Completion {
	return m.done
}

// Reap removes the worker record and returns the path it was acting on.
// ok is false for an unknown id, which callers treat as an internal
// consistency failure: an untracked async task exists and registry state can
// no longer be trusted.
func (m *Manager) Reap(id uint64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path, ok := m.inflight[id]
	if ok {
		delete(m.inflight, id)
	}
	return path, ok
}

// Active returns the number of in-flight workers.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// ActivePaths returns the paths with in-flight reactions.
func (m *Manager) ActivePaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.inflight))
	for _, p := range m.inflight {
		paths = append(paths, p)
	}
	return paths
}
