package core

import (
	"errors"
	"os"
	"time"

	"github.com/dimasma0305/watchd/internal/log"
	"github.com/dimasma0305/watchd/internal/watchd/conf"
	"github.com/dimasma0305/watchd/internal/watchd/event"
	"github.com/dimasma0305/watchd/internal/watchd/notify"
	"github.com/dimasma0305/watchd/internal/watchd/reaction"
	"github.com/dimasma0305/watchd/internal/watchd/registry"
)

// selfWatchMask is what the reconciler watches its own resource with.
// Modify and close-write catch in-place edits; the forced delete-self bit
// plus move-self catch the editor replace dance.
const selfWatchMask = event.Modify | event.CloseWrite | event.MoveSelf

// reconcile loads the watchtab at resource and brings the registry in line
// with it: upserts for every valid line, removal of entries the resource no
// longer declares, immediate execution of directives aimed at other
// resources, and a self-watch so edits hot-reload.
func (w *Watcher) reconcile(resource string) {
	if resource == "" {
		resource = w.settings.Watchtab
	}
	if w.reconciling[resource] {
		log.Warn("reload cycle detected, skipping nested reconcile of %s", resource)
		return
	}
	w.reconciling[resource] = true
	defer delete(w.reconciling, resource)

	log.InfoH2("Reconciling watchtab %s", resource)

	if conf.Retracted(resource) {
		// Truncation is "config retracted", not "config now empty". The
		// self-watch survives so refilling the file reloads it.
		log.Warn("watchtab %s truncated to empty, retracting its watches", resource)
		w.db.LogWatch("WARN", "reconcile", resource, "watchtab retracted", "")
		w.teardownOwned(resource, true)
		return
	}

	specs, skips, err := conf.LoadWatchtab(resource)
	if err != nil {
		log.Error("%v", err)
		w.db.LogWatch("ERROR", "reconcile", resource, "watchtab unreadable", err.Error())
		return
	}
	for _, sk := range skips {
		log.Warn("%v", sk)
		w.db.LogWatch("WARN", "reconcile", resource, sk.Error(), "")
	}

	candidates := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.Reaction.IsDirective() && w.directiveTarget(resource, spec.Reaction) != resource {
			// Directives aimed elsewhere fire now instead of becoming a
			// watch. A directive targeting this resource itself would
			// reload forever, so it falls through to watch creation.
			w.fireImmediate(resource, spec.Reaction)
			continue
		}
		candidates[spec.Path] = true
		w.apply(registry.Spec{
			Mask:     spec.Mask,
			Reaction: spec.Reaction,
			Flags:    spec.Flags,
			Source:   resource,
		}, spec.Path)
	}

	// Config-driven pruning: whatever this resource owned but no longer
	// declares goes away. Nothing owned by other sources is touched.
	var gone []string
	w.reg.ForEachOwnedBy(resource, func(e *registry.Entry) {
		if e.Path == resource || candidates[e.Path] {
			return
		}
		gone = append(gone, e.Path)
	})
	for _, path := range gone {
		log.Info("watch on %s removed by reload", path)
		w.dropEntry(path)
	}

	// The resource watches itself unless a line already claims it; then
	// the line's declaration wins.
	if !candidates[resource] {
		w.apply(registry.Spec{
			Mask:     selfWatchMask,
			Reaction: reaction.LoadConf(""),
			Source:   resource,
		}, resource)
	}

	log.Info("Watchtab %s reconciled, %d path(s) watched", resource, w.reg.Len())
}

// directiveTarget resolves which resource a directive acts on. A bare
// LOAD_CONF means "my own source".
func (w *Watcher) directiveTarget(resource string, r reaction.Reaction) string {
	switch r.Kind {
	case reaction.KindLoadConf:
		if r.Path == "" {
			return resource
		}
		return r.Path
	case reaction.KindSetWatch:
		return r.Path
	}
	return ""
}

// fireImmediate executes a directive at reconcile time.
func (w *Watcher) fireImmediate(owner string, r reaction.Reaction) {
	switch r.Kind {
	case reaction.KindLoadConf:
		w.reconcile(r.Path)
	case reaction.KindSetWatch:
		w.setWatch(owner, r)
	}
}

// setWatch creates a watch on demand from a SET_WATCH directive. The mask
// and reaction were carried unparsed; they get the same validation as a
// watchtab line here.
func (w *Watcher) setWatch(owner string, r reaction.Reaction) {
	mask, flags, err := event.ParseMask(r.MaskExpr)
	if err != nil {
		log.Warn("SET_WATCH %s: %v", r.Path, err)
		return
	}
	react, err := reaction.Parse(r.ReactionSpec)
	if err != nil {
		log.Warn("SET_WATCH %s: %v", r.Path, err)
		return
	}
	w.apply(registry.Spec{Mask: mask, Reaction: react, Flags: flags, Source: owner}, r.Path)
}

// apply upserts one spec and performs whatever OS-watch work the outcome
// demands. Conflicts are warnings, never fatal: the original owner's watch
// stays untouched.
func (w *Watcher) apply(spec registry.Spec, path string) {
	entry, outcome, err := w.reg.Upsert(path, spec)
	if err != nil {
		var conflict *registry.ConflictError
		if errors.As(err, &conflict) {
			log.Warn("%v", conflict)
			w.db.LogWatch("WARN", "reconcile", path, "config conflict", conflict.Error())
			return
		}
		log.Error("upsert %s: %v", path, err)
		return
	}

	switch outcome {
	case registry.OutcomeUnchanged:
		// Idempotent reload. Retry only if a previous attach gave up and
		// left the entry unwatched.
		if entry.Handle == 0 && !entry.Suspended {
			w.attach(entry)
		}
	case registry.OutcomeReplaced:
		log.Info("watch on %s changed, replacing", path)
		if entry.Handle != 0 {
			w.src.Cancel(entry.Handle)
			entry.Handle = 0
		}
		w.attach(entry)
	case registry.OutcomeAdded:
		delete(w.missingFired, path)
		w.attach(entry)
	}
}

// attach creates the OS watch for an entry, honoring the create-if-missing
// and run-if-missing flags and tolerating the brief window where an editor
// has deleted the file but not yet written its replacement. Returns false if
// the entry is left unwatched.
func (w *Watcher) attach(entry *registry.Entry) bool {
	for attempt := 0; ; attempt++ {
		h, err := w.src.Register(entry.Path, entry.Mask)
		if err == nil {
			entry.Handle = h
			entry.LastInode = notify.Inode(entry.Path)
			delete(w.missingFired, entry.Path)
			log.Debug("watching %s (handle %d, mask %s)", entry.Path, h, entry.Mask)
			return true
		}
		if !errors.Is(err, notify.ErrNotFound) {
			log.Warn("failed to watch %s: %v", entry.Path, err)
			w.db.LogWatch("WARN", "watch", entry.Path, "watch creation failed", err.Error())
			return false
		}

		if entry.Flags.RunIfMissing && !w.missingFired[entry.Path] {
			// Fire once per absence episode, not per retry, or a reaction
			// that never creates the file would loop forever.
			w.missingFired[entry.Path] = true
			log.Info("%s absent, firing its reaction per IN_RUN_SELF", entry.Path)
			if !entry.Reaction.IsDirective() {
				w.spawnReaction(entry)
			} else {
				w.fireDirective(entry)
			}
		}

		if entry.Flags.CreateIfMissing {
			if err := touch(entry.Path); err != nil {
				log.Warn("failed to create %s: %v", entry.Path, err)
				return false
			}
			log.Info("created %s per IN_CREATE_SELF", entry.Path)
			continue
		}

		if attempt < w.settings.GraceRetries {
			time.Sleep(w.settings.GraceSleep)
			continue
		}

		log.Warn("%s does not exist, leaving unwatched", entry.Path)
		w.db.LogWatch("WARN", "watch", entry.Path, "target missing, left unwatched", "")
		return false
	}
}

// touch creates an empty file, making parent directories as needed.
func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644) //nolint:gosec // G304,G302: path comes from operator configuration
	if err != nil {
		return err
	}
	return f.Close()
}

// dropEntry removes one path from the registry, cancelling its live watch.
func (w *Watcher) dropEntry(path string) {
	entry := w.reg.Remove(path)
	if entry == nil {
		return
	}
	if entry.Handle != 0 {
		w.src.Cancel(entry.Handle)
	}
	delete(w.missingFired, path)
}

// teardownOwned removes every entry owned by resource. keepSelf preserves
// the resource's own self-watch so a later refill still hot-reloads.
func (w *Watcher) teardownOwned(resource string, keepSelf bool) {
	var paths []string
	w.reg.ForEachOwnedBy(resource, func(e *registry.Entry) {
		if keepSelf && e.Path == resource {
			return
		}
		paths = append(paths, e.Path)
	})
	for _, path := range paths {
		log.Info("tearing down watch on %s", path)
		w.dropEntry(path)
	}
}
