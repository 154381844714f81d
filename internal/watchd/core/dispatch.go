package core

import (
	"context"
	"fmt"

	"github.com/dimasma0305/watchd/internal/log"
	"github.com/dimasma0305/watchd/internal/watchd/event"
	"github.com/dimasma0305/watchd/internal/watchd/executor"
	"github.com/dimasma0305/watchd/internal/watchd/notify"
	"github.com/dimasma0305/watchd/internal/watchd/reaction"
	"github.com/dimasma0305/watchd/internal/watchd/registry"
	"github.com/dimasma0305/watchd/internal/watchd/worker"
)

// dispatch is the single control loop. Every registry mutation in the
// process happens on this goroutine.
func (w *Watcher) dispatch() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return

		case ev, ok := <-w.src.Events():
			if !ok {
				return
			}
			w.handleEvent(ev)

		case c := <-w.workers.Completions():
			w.handleCompletion(c)

		case in := <-w.intents:
			w.handleIntent(in)
		}
	}
}

// handleEvent routes one delivery: anomalies first, then the suspension
// sentinel, then the entry's reaction.
func (w *Watcher) handleEvent(ev notify.Event) {
	if ev.Anomaly != notify.AnomalyNone {
		w.handleAnomaly(ev)
		return
	}

	entry := w.reg.ByHandle(ev.Handle)
	if entry == nil {
		// Delivery for a handle the registry no longer owns; same
		// treatment as an invalidated watch.
		w.handleAnomaly(notify.Event{Handle: ev.Handle, Path: ev.Path, Anomaly: notify.AnomalyInvalidated})
		return
	}

	if entry.Suspended {
		w.sentinel(entry, ev)
		return
	}

	log.Debug("event %s on %s", ev.Mask, entry.Path)
	w.fire(entry, ev.Mask)
}

// sentinel stands in for the real reaction while a path is suspended. It
// only acts on self-gone deliveries, which mean the suspended watch died
// while its reaction was still running: the handle is cancelled now and the
// restore step will rebuild from scratch.
func (w *Watcher) sentinel(entry *registry.Entry, ev notify.Event) {
	if ev.Mask.Intersects(event.SelfGone) {
		log.Debug("suspended watch on %s lost its target, cancelling for rebuild", entry.Path)
		if entry.Handle != 0 {
			w.src.Cancel(entry.Handle)
			entry.Handle = 0
		}
		return
	}
	log.DebugH3("event %s on suspended %s ignored", ev.Mask, entry.Path)
}

// fire runs the entry's reaction for a triggering mask. Directives execute
// synchronously on the loop; external reactions are handed to a worker with
// the watch suspended until the worker is reaped.
func (w *Watcher) fire(entry *registry.Entry, mask event.Mask) {
	// A self-gone trigger means the handle now points at a dead identity.
	// Restoring it later would be meaningless, so cancel immediately and
	// let restore rebuild the watch.
	if mask.Intersects(event.SelfGone) && entry.Handle != 0 {
		w.src.Cancel(entry.Handle)
		entry.Handle = 0
	}

	if entry.Reaction.IsDirective() {
		w.fireDirective(entry)
		// The directive may have reconciled this entry away; only touch it
		// if it is still the live one for its path.
		if w.reg.Get(entry.Path) == entry && entry.Handle == 0 {
			w.attach(entry)
		}
		return
	}

	entry.Suspended = true
	w.spawnReaction(entry)
}

// fireDirective executes an internal directive inline. The loop owns the
// registry, so no suspension is needed; nothing can race the reconciler.
func (w *Watcher) fireDirective(entry *registry.Entry) {
	switch entry.Reaction.Kind {
	case reaction.KindLoadConf:
		resource := entry.Reaction.Path
		if resource == "" {
			resource = entry.Source
		}
		w.reconcile(resource)

	case reaction.KindSetWatch:
		w.setWatch(entry.Source, entry.Reaction)

	default:
		log.Error("directive fire on non-directive reaction for %s", entry.Path)
	}
}

// spawnReaction starts the asynchronous worker for an external reaction.
func (w *Watcher) spawnReaction(entry *registry.Entry) {
	r := entry.Reaction
	var task func(ctx context.Context) error
	var kind string

	switch r.Kind {
	case reaction.KindRunCommand:
		kind = "command"
		cmdline := r.Command
		task = func(ctx context.Context) error {
			return executor.RunShell(ctx, cmdline)
		}

	case reaction.KindForwardSocket:
		kind = "forward"
		daemon, payload := r.Daemon, r.Payload
		task = func(ctx context.Context) error {
			reply, err := w.forwarder.Forward(ctx, daemon, payload)
			if err != nil {
				return err
			}
			if reply != "" {
				log.InfoH3("%s replied: %s", daemon, reply)
			}
			return nil
		}

	default:
		log.Error("cannot spawn worker for directive reaction on %s", entry.Path)
		entry.Suspended = false
		return
	}

	id := w.workers.Spawn(entry.Path, task)
	w.pending[id] = pendingReaction{kind: kind, command: r.String()}
	log.Info("reaction fired for %s (worker %d): %s", entry.Path, id, r.String())
	w.db.LogWatch("INFO", "dispatch", entry.Path, fmt.Sprintf("reaction fired (worker %d)", id), "")
}

// handleCompletion reaps one finished worker and restores its path's watch.
// An unknown worker id means an untracked async task exists and the registry
// can no longer be trusted; that escalates to a full restart.
func (w *Watcher) handleCompletion(c worker.Completion) {
	path, ok := w.workers.Reap(c.ID)
	if !ok {
		log.Error("reaped unknown worker %d; internal state diverged, restarting", c.ID)
		w.db.LogWatch("ERROR", "worker", "", fmt.Sprintf("unknown worker %d reaped", c.ID), "")
		w.requestRestart("unknown worker reaped")
		return
	}

	p := w.pending[c.ID]
	delete(w.pending, c.ID)

	status := "ok"
	errMsg := ""
	if c.Err != nil {
		status = "error"
		errMsg = c.Err.Error()
		log.Warn("reaction for %s failed after %s: %v", path, c.Duration, c.Err)
	} else {
		log.InfoH3("reaction for %s completed in %s", path, c.Duration)
	}
	w.db.LogReaction(path, p.kind, p.command, status, c.Duration, errMsg)

	entry := w.reg.Get(path)
	if entry == nil {
		// Watch was removed while its reaction ran; nothing to restore.
		return
	}
	w.restore(entry)
}

// restore ends a suspension window. If the path's inode is unchanged the
// stored reaction is simply reattached to the existing handle; a changed
// inode means the file was swapped under the watch, so the stale handle is
// cancelled and the watch rebuilt from scratch, replaying the
// create-if-missing and run-if-missing policies if the path is now absent.
func (w *Watcher) restore(entry *registry.Entry) {
	entry.Suspended = false

	if entry.Handle != 0 {
		ino := notify.Inode(entry.Path)
		if ino != 0 && ino == entry.LastInode {
			log.Debug("watch on %s restored", entry.Path)
			return
		}
		log.Debug("inode of %s changed during suspension, rebuilding watch", entry.Path)
		w.src.Cancel(entry.Handle)
		entry.Handle = 0
	}

	w.attach(entry)
}

// handleAnomaly classifies error-class deliveries and drives recovery.
func (w *Watcher) handleAnomaly(ev notify.Event) {
	switch ev.Anomaly {
	case notify.AnomalyOverflow:
		// Ordering guarantees are gone for this instance; a fresh process
		// rebuilds the watch set from configuration instead of guessing
		// what was missed.
		log.Error("notification queue overflowed, restarting daemon")
		w.db.LogWatch("ERROR", "anomaly", "", "event queue overflow", "")
		w.requestRestart("event queue overflow")

	case notify.AnomalyUnmount:
		entry := w.entryFor(ev)
		if entry == nil {
			log.Warn("unmount delivery for unknown watch (handle %d, path %s)", ev.Handle, ev.Path)
			return
		}
		log.Warn("backing filesystem of %s went away, recreating watch", entry.Path)
		if entry.Handle != 0 {
			w.src.Cancel(entry.Handle)
			entry.Handle = 0
		}
		if !w.attach(entry) {
			log.Warn("recreate after unmount failed, dropping watch on %s", entry.Path)
			w.db.LogWatch("WARN", "anomaly", entry.Path, "watch dropped after unmount", "")
			w.reg.Remove(entry.Path)
		}

	case notify.AnomalyInvalidated:
		if ev.Handle != 0 && ev.Handle == w.src.LastCancelled() {
			// Stale delivery from a watch slot we already tore down.
			log.DebugH3("stale delivery for cancelled handle %d ignored", ev.Handle)
			return
		}
		log.Error("unexplained invalidated watch (handle %d, path %s)", ev.Handle, ev.Path)
		w.db.LogWatch("ERROR", "anomaly", ev.Path, fmt.Sprintf("unexplained invalidated handle %d", ev.Handle), "")
		if entry := w.entryFor(ev); entry != nil {
			if entry.Handle != 0 {
				w.src.Cancel(entry.Handle)
			}
			w.reg.Remove(entry.Path)
		}
	}
}

// entryFor resolves an anomaly delivery to a registry entry, by handle
// first, then by path.
func (w *Watcher) entryFor(ev notify.Event) *registry.Entry {
	if e := w.reg.ByHandle(ev.Handle); e != nil {
		return e
	}
	if ev.Path != "" {
		return w.reg.Get(ev.Path)
	}
	return nil
}
