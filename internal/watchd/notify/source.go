// Package notify abstracts the OS file-change-notification facility. A
// Source hands out opaque handles for registered watches, delivers events on
// a channel, and classifies error-class deliveries (queue overflow, unmount,
// invalidated watch) so the dispatch loop can route them through anomaly
// handling before normal processing.
package notify

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/dimasma0305/watchd/internal/log"
	"github.com/dimasma0305/watchd/internal/watchd/event"
)

// ErrNotFound is returned by Register when the path does not exist. Callers
// decide whether to pre-create the file (IN_CREATE_SELF) or retry after a
// grace sleep for editor replace-dances.
var ErrNotFound = errors.New("watch target does not exist")

// Anomaly classifies error-class events. The fsnotify backend only produces
// AnomalyOverflow and AnomalyInvalidated; fsnotify does not surface unmount
// notifications, so AnomalyUnmount is defined for sources that can observe
// them.
type Anomaly int

// Anomaly classes.
const (
	AnomalyNone        Anomaly = iota
	AnomalyOverflow            // kernel event queue overflowed; ordering lost
	AnomalyUnmount             // backing filesystem went away
	AnomalyInvalidated         // delivery for a watch that no longer exists
)

func (a Anomaly) String() string {
	switch a {
	case AnomalyNone:
		return "none"
	case AnomalyOverflow:
		return "overflow"
	case AnomalyUnmount:
		return "unmount"
	case AnomalyInvalidated:
		return "invalidated"
	}
	return "unknown"
}

// Event is one delivery from the source. For AnomalyNone events Mask holds
// the kinds that fired; for error-class events Mask is zero and Handle may
// refer to an already-cancelled watch.
type Event struct {
	Handle  uint64
	Path    string // path as known at registration time
	Mask    event.Mask
	Anomaly Anomaly
}

// Source is the capability surface the dispatch loop consumes. FSSource is
// the fsnotify-backed implementation; tests substitute their own.
type Source interface {
	// Register creates a watch and returns its handle. ErrNotFound when
	// the path is absent.
	Register(path string, mask event.Mask) (uint64, error)
	// Cancel tears down the watch. Events already queued for the handle
	// may still be delivered afterwards and will arrive classified as
	// AnomalyInvalidated.
	Cancel(handle uint64)
	// Events is the delivery channel. Closed when the source shuts down.
	Events() <-chan Event
	// LastCancelled returns the most recently cancelled handle. Process
	// global, lifetime "until the next cancellation": the anomaly handler
	// uses it to recognize stale deliveries from a recycled watch slot.
	LastCancelled() uint64
	Close() error
}

type registration struct {
	handle uint64
	mask   event.Mask
}

// FSSource implements Source on top of fsnotify.
type FSSource struct {
	watcher *fsnotify.Watcher
	out     chan Event

	mu            sync.Mutex
	byPath        map[string]registration
	cancelledPath map[string]uint64 // path -> handle of its last cancelled watch
	nextHandle    uint64
	lastCancelled uint64

	done chan struct{}
}

// NewFSSource creates the fsnotify-backed source and starts its translation
// goroutine.
func NewFSSource() (*FSSource, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	s := &FSSource{
		watcher:       w,
		out:           make(chan Event, 64),
		byPath:        make(map[string]registration),
		cancelledPath: make(map[string]uint64),
		done:          make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Register implements Source.
func (s *FSSource) Register(path string, mask event.Mask) (uint64, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := s.watcher.Add(path); err != nil {
		return 0, fmt.Errorf("failed to add watch for %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandle++
	h := s.nextHandle
	s.byPath[path] = registration{handle: h, mask: mask}
	delete(s.cancelledPath, path)
	return h, nil
}

// Cancel implements Source.
func (s *FSSource) Cancel(handle uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, reg := range s.byPath {
		if reg.handle == handle {
			delete(s.byPath, path)
			s.cancelledPath[path] = handle
			s.lastCancelled = handle
			// Removing a watch on a path that is already gone fails
			// inside fsnotify; that is fine, the kernel dropped it.
			if err := s.watcher.Remove(path); err != nil {
				log.DebugH3("remove watch %s: %v", path, err)
			}
			return
		}
	}
	// Handle already gone; still remember it for stale-delivery checks.
	s.lastCancelled = handle
}

// Events implements Source.
func (s *FSSource) Events() <-chan Event {
	return s.out
}

// LastCancelled implements Source.
func (s *FSSource) LastCancelled() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCancelled
}

// Close implements Source.
func (s *FSSource) Close() error {
	close(s.done)
	return s.watcher.Close()
}

// run translates fsnotify deliveries into classified events.
func (s *FSSource) run() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.translate(ev)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				s.emit(Event{Anomaly: AnomalyOverflow})
				continue
			}
			log.Error("notification source error: %v", err)
		}
	}
}

func (s *FSSource) translate(ev fsnotify.Event) {
	s.mu.Lock()
	reg, registered := s.byPath[ev.Name]
	stale := s.cancelledPath[ev.Name]
	s.mu.Unlock()

	if !registered {
		// Queued delivery for a watch that was cancelled; the anomaly
		// handler disambiguates against LastCancelled.
		s.emit(Event{Handle: stale, Path: ev.Name, Anomaly: AnomalyInvalidated})
		return
	}

	mask := opToMask(ev.Op)
	if !reg.mask.Intersects(mask) {
		return
	}
	s.emit(Event{Handle: reg.handle, Path: ev.Name, Mask: mask & (reg.mask | event.SelfGone)})
}

func (s *FSSource) emit(ev Event) {
	select {
	case s.out <- ev:
	case <-s.done:
	}
}

// opToMask maps fsnotify's op set onto the event vocabulary. fsnotify does
// not surface open/close/access granularity, so a write is reported as both
// IN_MODIFY and IN_CLOSE_WRITE to keep watchtab masks written against either
// spelling working.
func opToMask(op fsnotify.Op) event.Mask {
	var m event.Mask
	if op.Has(fsnotify.Write) {
		m |= event.Modify | event.CloseWrite
	}
	if op.Has(fsnotify.Chmod) {
		m |= event.Attrib
	}
	if op.Has(fsnotify.Create) {
		m |= event.Create | event.MovedTo
	}
	if op.Has(fsnotify.Remove) {
		m |= event.DeleteSelf
	}
	if op.Has(fsnotify.Rename) {
		m |= event.MoveSelf
	}
	return m
}

// Inode returns the inode identity of path, used by the restore protocol to
// detect silent file replacement during suspension. Returns 0 when the path
// is gone.
func Inode(path string) uint64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0
	}
	return st.Ino
}
