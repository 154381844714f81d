// Package registry holds the in-memory table of watched paths and their
// state. The registry is owned by the dispatch loop goroutine; it carries no
// locking of its own and must only be touched through messages consumed by
// that loop.
package registry

import (
	"fmt"
	"sort"

	"github.com/dimasma0305/watchd/internal/watchd/event"
	"github.com/dimasma0305/watchd/internal/watchd/reaction"
)

// SourceBootstrap marks entries created at startup rather than from a
// watchtab resource.
const SourceBootstrap = "bootstrap"

// Entry is the per-path watch state.
type Entry struct {
	Path     string
	Mask     event.Mask
	Reaction reaction.Reaction
	Source   string // watchtab resource path, or SourceBootstrap
	Flags    event.Flags

	// Handle is the live notification-source handle, 0 while no OS watch
	// exists. The registry entry exclusively owns it.
	Handle uint64

	// LastInode is the inode observed when the watch was last attached,
	// used to detect silent file replacement during suspension.
	LastInode uint64

	// Suspended is true while a reaction triggered by this entry runs; the
	// sentinel handler is attached in place of the real reaction.
	Suspended bool
}

// Spec is the semantic part of an entry, as derived from a watchtab line or
// bootstrap code. Handle, inode and suspension state are runtime-only.
type Spec struct {
	Mask     event.Mask
	Reaction reaction.Reaction
	Flags    event.Flags
	Source   string
}

// semanticEqual compares the fields a reload may change. Field-by-field, so
// a mask or flag edit forces a full watch replacement.
func (e *Entry) semanticEqual(s Spec) bool {
	return e.Mask == s.Mask && e.Reaction == s.Reaction && e.Flags == s.Flags
}

// ConflictError reports a path claimed by two different sources.
type ConflictError struct {
	Path     string
	Owner    string
	Claimant string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("path %s already watched by %s, refusing claim from %s", e.Path, e.Owner, e.Claimant)
}

// Outcome describes what Upsert did.
type Outcome int

// Upsert outcomes.
const (
	OutcomeAdded    Outcome = iota // new entry, caller must create the OS watch
	OutcomeUnchanged                // semantically identical, nothing to do
	OutcomeReplaced                 // semantics changed, caller must cancel Entry.Handle and re-create
)

// Registry maps path -> entry.
type Registry struct {
	entries map[string]*Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Upsert inserts or updates the entry for path. The mask is normalized to
// always include IN_DELETE_SELF: editors replace files via delete+recreate
// and users expect "modified" semantics to survive that.
//
// A path owned by a different source is never overwritten; the existing
// entry is left untouched and a *ConflictError returned. Same-source upserts
// compare semantics field-by-field: unchanged specs are a no-op, changed
// specs replace the entry wholesale (the returned entry still carries the
// old Handle for the caller to cancel).
func (r *Registry) Upsert(path string, spec Spec) (*Entry, Outcome, error) {
	spec.Mask |= event.DeleteSelf

	existing, ok := r.entries[path]
	if ok {
		if existing.Source != spec.Source {
			return existing, OutcomeUnchanged, &ConflictError{
				Path: path, Owner: existing.Source, Claimant: spec.Source,
			}
		}
		if existing.semanticEqual(spec) {
			return existing, OutcomeUnchanged, nil
		}
		existing.Mask = spec.Mask
		existing.Reaction = spec.Reaction
		existing.Flags = spec.Flags
		existing.Suspended = false
		return existing, OutcomeReplaced, nil
	}

	e := &Entry{
		Path:     path,
		Mask:     spec.Mask,
		Reaction: spec.Reaction,
		Flags:    spec.Flags,
		Source:   spec.Source,
	}
	r.entries[path] = e
	return e, OutcomeAdded, nil
}

// Get returns the entry for path, or nil.
func (r *Registry) Get(path string) *Entry {
	return r.entries[path]
}

// ByHandle returns the entry owning the given live handle, or nil.
func (r *Registry) ByHandle(handle uint64) *Entry {
	if handle == 0 {
		return nil
	}
	for _, e := range r.entries {
		if e.Handle == handle {
			return e
		}
	}
	return nil
}

// Remove deletes the entry for path and returns it, or nil if absent. The
// caller is responsible for cancelling any live handle it carried.
func (r *Registry) Remove(path string) *Entry {
	e, ok := r.entries[path]
	if !ok {
		return nil
	}
	delete(r.entries, path)
	return e
}

// ForEachOwnedBy visits every entry whose Source equals source, in stable
// path order so reload logs are reproducible.
func (r *Registry) ForEachOwnedBy(source string, fn func(*Entry)) {
	paths := make([]string, 0, len(r.entries))
	for p, e := range r.entries {
		if e.Source == source {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	for _, p := range paths {
		fn(r.entries[p])
	}
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Paths returns all watched paths in sorted order.
func (r *Registry) Paths() []string {
	paths := make([]string, 0, len(r.entries))
	for p := range r.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
