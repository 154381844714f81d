// Package core wires the watch daemon together: the registry, the
// notification source, the reaction workers and the control surfaces, all
// driven by a single dispatch loop. The registry has exactly one owner, the
// loop goroutine; signals, control connections and worker completions reach
// it as messages, never by touching shared state.
package core

import (
	"context"
	"sync"
	"time"

	"github.com/dimasma0305/watchd/internal/watchd/conf"
	"github.com/dimasma0305/watchd/internal/watchd/executor"
	"github.com/dimasma0305/watchd/internal/watchd/history"
	"github.com/dimasma0305/watchd/internal/watchd/notify"
	"github.com/dimasma0305/watchd/internal/watchd/registry"
	"github.com/dimasma0305/watchd/internal/watchd/socket"
	"github.com/dimasma0305/watchd/internal/watchd/worker"
)

// intentKind discriminates operator intents delivered to the dispatch loop.
type intentKind int

const (
	intentReload intentKind = iota
	intentDumpState
	intentReopenLogs
	intentControl
	intentStop
)

// intent is one queued request for the dispatch loop. Control intents carry
// the originating command and a reply channel; the loop answers on it.
type intent struct {
	kind     intentKind
	resource string // intentReload: watchtab to reconcile; empty = configured one
	cmd      socket.Command
	reply    chan socket.Response
}

// Watcher is the daemon core.
type Watcher struct {
	settings conf.Settings

	reg       *registry.Registry
	src       notify.Source
	workers   *worker.Manager
	forwarder *executor.Forwarder
	db        *history.DB
	control   *socket.Server

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	intents chan intent

	// commands in flight, id -> rendered reaction for history records
	pending map[uint64]pendingReaction

	// reconciles in progress, guards against LOAD_CONF cycles
	reconciling map[string]bool

	// paths whose run-if-missing reaction already fired this absence episode
	missingFired map[string]bool

	startedAt time.Time

	// restart spawns a replacement daemon instance. Overridable in tests;
	// the default re-execs the current binary.
	restart func() error
}

// pendingReaction remembers what a spawned worker is executing so the
// completion handler can record it.
type pendingReaction struct {
	kind    string
	command string
}

// New creates a Watcher from settings. The notification source is injected
// so tests can drive the loop with synthetic events.
func New(settings conf.Settings, src notify.Source) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		settings:     settings,
		reg:          registry.New(),
		src:          src,
		workers:      worker.NewManager(ctx),
		forwarder:    executor.NewForwarder(settings.Companions, settings.CanSpawn()),
		db:           history.New(settings.DatabasePath),
		ctx:          ctx,
		cancel:       cancel,
		intents:      make(chan intent, 16),
		pending:      make(map[uint64]pendingReaction),
		reconciling:  make(map[string]bool),
		missingFired: make(map[string]bool),
		startedAt:    time.Now(),
	}
	w.restart = w.reexec
	return w
}

// Registry exposes the watch table for status reporting. Only safe to call
// from the dispatch loop or before Run starts.
func (w *Watcher) Registry() *registry.Registry {
	return w.reg
}

// enqueue delivers an intent unless the daemon is shutting down.
func (w *Watcher) enqueue(in intent) bool {
	select {
	case w.intents <- in:
		return true
	case <-w.ctx.Done():
		return false
	}
}

// RequestReload queues a configuration reload, applied at the next safe
// point in the dispatch loop.
func (w *Watcher) RequestReload() {
	w.enqueue(intent{kind: intentReload})
}

// RequestDumpState queues a state dump to the log.
func (w *Watcher) RequestDumpState() {
	w.enqueue(intent{kind: intentDumpState})
}

// RequestReopenLogs queues a log reopen, used after external rotation.
func (w *Watcher) RequestReopenLogs() {
	w.enqueue(intent{kind: intentReopenLogs})
}
