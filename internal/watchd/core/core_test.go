package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dimasma0305/watchd/internal/watchd/conf"
	"github.com/dimasma0305/watchd/internal/watchd/event"
	"github.com/dimasma0305/watchd/internal/watchd/notify"
	"github.com/dimasma0305/watchd/internal/watchd/reaction"
	"github.com/dimasma0305/watchd/internal/watchd/registry"
	"github.com/dimasma0305/watchd/internal/watchd/worker"
)

// fakeSource implements notify.Source for tests. Registration succeeds for
// paths that exist on disk, mirroring the real source's NotFound behavior,
// and every cancel is recorded so tests can assert teardown ordering.
type fakeSource struct {
	mu            sync.Mutex
	next          uint64
	byHandle      map[uint64]string
	lastCancelled uint64
	cancelled     []uint64
	out           chan notify.Event
	closeOnce     sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		byHandle: make(map[uint64]string),
		out:      make(chan notify.Event, 64),
	}
}

func (s *fakeSource) Register(path string, mask event.Mask) (uint64, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", notify.ErrNotFound, path)
		}
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.byHandle[s.next] = path
	return s.next, nil
}

func (s *fakeSource) Cancel(handle uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byHandle, handle)
	s.lastCancelled = handle
	s.cancelled = append(s.cancelled, handle)
}

func (s *fakeSource) Events() <-chan notify.Event { return s.out }

func (s *fakeSource) LastCancelled() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCancelled
}

func (s *fakeSource) Close() error {
	s.closeOnce.Do(func() { close(s.out) })
	return nil
}

func (s *fakeSource) cancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancelled)
}

// newTestWatcher builds a Watcher around a fake source without starting the
// dispatch loop; tests drive the loop's methods directly, which preserves
// the single-owner discipline.
func newTestWatcher(t *testing.T, watchtab string) (*Watcher, *fakeSource) {
	t.Helper()
	src := newFakeSource()
	w := New(conf.Settings{
		Watchtab:     watchtab,
		GraceSleep:   time.Millisecond,
		GraceRetries: 1,
	}, src)
	t.Cleanup(func() {
		w.cancel()
		_ = src.Close()
	})
	return w, src
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// reapNext consumes one worker completion and feeds it through the
// completion handler.
func reapNext(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case c := <-w.workers.Completions():
		w.handleCompletion(c)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for worker completion")
	}
}

// TestReconcileCreatesWatches loads a watchtab and verifies the declared
// path and the watchtab itself both end up watched.
func TestReconcileCreatesWatches(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "list.txt")
	tab := filepath.Join(dir, "watchtab")
	writeFile(t, target, "data")
	writeFile(t, tab, target+" IN_MODIFY /bin/true\n")

	w, _ := newTestWatcher(t, tab)
	w.reconcile(tab)

	entry := w.reg.Get(target)
	if entry == nil {
		t.Fatalf("no entry for %s", target)
	}
	if entry.Handle == 0 {
		t.Error("entry has no live watch handle")
	}
	if !entry.Mask.Has(event.DeleteSelf) {
		t.Error("delete-self was not forced into the mask")
	}
	self := w.reg.Get(tab)
	if self == nil || self.Handle == 0 {
		t.Error("watchtab is not watching itself")
	}
}

// TestReconcileIdempotent runs the same reconcile twice and verifies the
// second pass neither replaces handles nor cancels anything.
func TestReconcileIdempotent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a")
	tab := filepath.Join(dir, "watchtab")
	writeFile(t, target, "x")
	writeFile(t, tab, target+" IN_MODIFY|IN_CLOSE_WRITE run-a.sh\n")

	w, src := newTestWatcher(t, tab)
	w.reconcile(tab)

	handle := w.reg.Get(target).Handle
	cancels := src.cancelCount()

	w.reconcile(tab)

	if got := w.reg.Get(target).Handle; got != handle {
		t.Errorf("handle changed on idempotent reload: %d -> %d", handle, got)
	}
	if src.cancelCount() != cancels {
		t.Errorf("idempotent reload cancelled watches: %d -> %d", cancels, src.cancelCount())
	}
}

// TestReconcilePrune removes a line and verifies exactly that watch goes
// away while entries owned by other sources survive.
func TestReconcilePrune(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	sock := filepath.Join(dir, "companion.sock")
	tab := filepath.Join(dir, "watchtab")
	for _, f := range []string{a, b, sock} {
		writeFile(t, f, "x")
	}
	writeFile(t, tab, a+" IN_MODIFY cmd-a\n"+b+" IN_MODIFY cmd-b\n")

	w, _ := newTestWatcher(t, tab)
	// bootstrap-owned entry, must survive watchtab pruning
	w.apply(registry.Spec{
		Mask:     event.SelfGone,
		Reaction: reaction.RunCommand("probe"),
		Source:   registry.SourceBootstrap,
	}, sock)
	w.reconcile(tab)

	writeFile(t, tab, a+" IN_MODIFY cmd-a\n")
	w.reconcile(tab)

	if w.reg.Get(b) != nil {
		t.Errorf("%s still watched after its line was removed", b)
	}
	if w.reg.Get(a) == nil {
		t.Errorf("%s was pruned but its line is still present", a)
	}
	if w.reg.Get(sock) == nil {
		t.Error("bootstrap-owned watch was pruned by watchtab reload")
	}
}

// TestConflictKeepsOriginal has two watchtabs claim the same path; the
// second claim must be rejected with the first's watch untouched.
func TestConflictKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "x")
	tabA := filepath.Join(dir, "tab-a")
	tabB := filepath.Join(dir, "tab-b")
	writeFile(t, target, "x")
	writeFile(t, tabA, target+" IN_MODIFY from-a\n")
	writeFile(t, tabB, target+" IN_ATTRIB from-b\n")

	w, _ := newTestWatcher(t, tabA)
	w.reconcile(tabA)
	handle := w.reg.Get(target).Handle

	w.reconcile(tabB)

	entry := w.reg.Get(target)
	if entry.Source != tabA {
		t.Errorf("entry source = %s, want %s", entry.Source, tabA)
	}
	if entry.Handle != handle {
		t.Errorf("conflicting claim disturbed the original watch handle")
	}
	if entry.Reaction.Command != "from-a" {
		t.Errorf("reaction = %q, want the original", entry.Reaction.Command)
	}
}

// TestRetraction truncates the watchtab to whitespace and verifies every
// owned watch is torn down, none recreated, while the self-watch survives
// so a refill still hot-reloads.
func TestRetraction(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	tab := filepath.Join(dir, "watchtab")
	writeFile(t, a, "x")
	writeFile(t, tab, a+" IN_MODIFY cmd\n")

	w, _ := newTestWatcher(t, tab)
	w.reconcile(tab)
	if w.reg.Get(a) == nil {
		t.Fatal("setup: watch not created")
	}

	writeFile(t, tab, "\n  \n")
	w.reconcile(tab)

	if w.reg.Get(a) != nil {
		t.Error("retracted watchtab still owns a watch")
	}
	if w.reg.Get(tab) == nil {
		t.Error("self-watch did not survive retraction")
	}
}

// TestWipeRestoreRoundTrip fires a reaction and verifies the watch is
// suspended until the worker is reaped, then restored with the identical
// reaction and mask when the inode did not change.
func TestWipeRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "list.txt")
	tab := filepath.Join(dir, "watchtab")
	writeFile(t, target, "data")
	writeFile(t, tab, target+" IN_MODIFY true\n")

	w, _ := newTestWatcher(t, tab)
	w.reconcile(tab)

	entry := w.reg.Get(target)
	before := *entry

	w.fire(entry, event.Modify)
	if !entry.Suspended {
		t.Fatal("entry not suspended while its reaction runs")
	}
	if w.workers.Active() != 1 {
		t.Fatalf("worker count = %d, want 1", w.workers.Active())
	}

	// events arriving during the suspension window must not re-fire
	w.handleEvent(notify.Event{Handle: entry.Handle, Path: target, Mask: event.Modify})
	if w.workers.Active() != 1 {
		t.Fatal("suspended watch re-fired its reaction")
	}

	reapNext(t, w)

	if entry.Suspended {
		t.Error("entry still suspended after reap")
	}
	if entry.Handle != before.Handle {
		t.Errorf("handle changed despite unchanged inode: %d -> %d", before.Handle, entry.Handle)
	}
	if entry.Reaction != before.Reaction || entry.Mask != before.Mask {
		t.Error("restored entry differs from the suspended one")
	}
}

// TestRestoreRebuildsOnInodeChange swaps the file during suspension; the
// restore must cancel the stale handle and attach a fresh one.
func TestRestoreRebuildsOnInodeChange(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "swap.txt")
	tab := filepath.Join(dir, "watchtab")
	writeFile(t, target, "v1")
	writeFile(t, tab, target+" IN_MODIFY true\n")

	w, src := newTestWatcher(t, tab)
	w.reconcile(tab)
	entry := w.reg.Get(target)
	oldHandle := entry.Handle

	w.fire(entry, event.Modify)

	// Replace the file under the suspended watch. Write the replacement
	// under a temporary name first so both inodes coexist, then rename it
	// over the target: remove+recreate lets ext4 reuse the freed inode
	// number, which would make the swap invisible to the inode check.
	replacement := filepath.Join(dir, "swap.txt.new")
	writeFile(t, replacement, "v2")
	if err := os.Rename(replacement, target); err != nil {
		t.Fatal(err)
	}

	reapNext(t, w)

	if entry.Handle == oldHandle || entry.Handle == 0 {
		t.Errorf("handle after swap = %d, want a fresh one (old %d)", entry.Handle, oldHandle)
	}
	if src.LastCancelled() != oldHandle {
		t.Errorf("stale handle %d was not cancelled", oldHandle)
	}
}

// TestSelfGoneCancelsImmediately delivers a delete-self trigger; the handle
// must be cancelled before the reaction runs, and the restore path rebuilds
// the watch once the file is back.
func TestSelfGoneCancelsImmediately(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "gone.txt")
	tab := filepath.Join(dir, "watchtab")
	writeFile(t, target, "x")
	writeFile(t, tab, target+" IN_MODIFY true\n")

	w, src := newTestWatcher(t, tab)
	w.reconcile(tab)
	entry := w.reg.Get(target)
	oldHandle := entry.Handle

	w.fire(entry, event.DeleteSelf)

	if entry.Handle != 0 {
		t.Error("handle not cancelled on self-delete trigger")
	}
	if src.LastCancelled() != oldHandle {
		t.Errorf("cancelled handle = %d, want %d", src.LastCancelled(), oldHandle)
	}

	reapNext(t, w)

	if entry.Handle == 0 {
		t.Error("watch not rebuilt after restore")
	}
}

// TestCreateIfMissing covers the IN_CREATE_SELF pseudo-kind: reconciliation
// creates the file, then establishes the watch.
func TestCreateIfMissing(t *testing.T) {
	dir := t.TempDir()
	flag := filepath.Join(dir, "flag")
	tab := filepath.Join(dir, "watchtab")
	writeFile(t, tab, flag+" IN_CREATE_SELF|IN_DELETE_SELF LOAD_CONF\n")

	w, _ := newTestWatcher(t, tab)
	w.reconcile(tab)

	if _, err := os.Stat(flag); err != nil {
		t.Fatalf("flag file was not created: %v", err)
	}
	entry := w.reg.Get(flag)
	if entry == nil || entry.Handle == 0 {
		t.Fatal("no live watch on the created file")
	}
	if !entry.Flags.CreateIfMissing {
		t.Error("create-if-missing flag not carried on the entry")
	}
}

// TestRunIfMissing verifies IN_RUN_SELF fires the reaction exactly once per
// absence episode instead of looping.
func TestRunIfMissing(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "absent")
	tab := filepath.Join(dir, "watchtab")
	writeFile(t, tab, missing+" IN_MODIFY|IN_RUN_SELF true\n")

	w, _ := newTestWatcher(t, tab)
	w.reconcile(tab)

	if w.workers.Active() != 1 {
		t.Fatalf("worker count = %d, want exactly 1", w.workers.Active())
	}
	reapNext(t, w)
	if w.workers.Active() != 0 {
		t.Errorf("run-if-missing reaction re-fired after completion")
	}
	entry := w.reg.Get(missing)
	if entry == nil {
		t.Fatal("entry for the absent path is gone")
	}
	if entry.Handle != 0 {
		t.Error("absent path has a live handle")
	}
}

// TestDirectiveFiresImmediately puts a LOAD_CONF aimed at another resource
// in the watchtab; it must execute at reconcile time and produce no watch
// for its own line.
func TestDirectiveFiresImmediately(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "other-tab")
	fileB := filepath.Join(dir, "b")
	tab := filepath.Join(dir, "watchtab")
	writeFile(t, fileB, "x")
	writeFile(t, other, fileB+" IN_MODIFY cmd-b\n")
	linePath := filepath.Join(dir, "trigger")
	writeFile(t, linePath, "x")
	writeFile(t, tab, linePath+" IN_MODIFY LOAD_CONF "+other+"\n")

	w, _ := newTestWatcher(t, tab)
	w.reconcile(tab)

	if w.reg.Get(fileB) == nil {
		t.Error("immediate LOAD_CONF did not reconcile the target resource")
	}
	if w.reg.Get(linePath) != nil {
		t.Error("immediate directive line still produced a watch")
	}
	if e := w.reg.Get(fileB); e != nil && e.Source != other {
		t.Errorf("entry source = %s, want %s", e.Source, other)
	}
}

// TestSelfWatchHotReload edits the watchtab and delivers the resulting
// event through the dispatch path; the new line must take effect.
func TestSelfWatchHotReload(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	tab := filepath.Join(dir, "watchtab")
	writeFile(t, a, "x")
	writeFile(t, b, "x")
	writeFile(t, tab, a+" IN_MODIFY cmd-a\n")

	w, _ := newTestWatcher(t, tab)
	w.reconcile(tab)
	self := w.reg.Get(tab)
	if self == nil {
		t.Fatal("no self-watch")
	}

	writeFile(t, tab, a+" IN_MODIFY cmd-a\n"+b+" IN_MODIFY cmd-b\n")
	w.handleEvent(notify.Event{Handle: self.Handle, Path: tab, Mask: event.Modify})

	if w.reg.Get(b) == nil {
		t.Error("hot reload did not pick up the added line")
	}
}

// TestAnomalyOverflowRestarts verifies queue overflow escalates to a full
// daemon restart instead of partial repair.
func TestAnomalyOverflowRestarts(t *testing.T) {
	dir := t.TempDir()
	tab := filepath.Join(dir, "watchtab")
	writeFile(t, tab, "\n")

	w, _ := newTestWatcher(t, tab)
	restarted := make(chan struct{}, 1)
	w.restart = func() error {
		restarted <- struct{}{}
		return nil
	}

	w.handleEvent(notify.Event{Anomaly: notify.AnomalyOverflow})

	select {
	case <-restarted:
	case <-time.After(time.Second):
		t.Fatal("overflow did not request a restart")
	}
}

// TestAnomalyUnmount covers both arms: recreate when the path still exists,
// drop the entry when it is gone.
func TestAnomalyUnmount(t *testing.T) {
	dir := t.TempDir()
	alive := filepath.Join(dir, "alive")
	dead := filepath.Join(dir, "dead")
	tab := filepath.Join(dir, "watchtab")
	writeFile(t, alive, "x")
	writeFile(t, dead, "x")
	writeFile(t, tab, alive+" IN_MODIFY cmd\n"+dead+" IN_MODIFY cmd\n")

	w, _ := newTestWatcher(t, tab)
	w.reconcile(tab)
	aliveHandle := w.reg.Get(alive).Handle
	deadEntry := w.reg.Get(dead)

	w.handleEvent(notify.Event{Handle: aliveHandle, Path: alive, Anomaly: notify.AnomalyUnmount})
	if e := w.reg.Get(alive); e == nil || e.Handle == 0 || e.Handle == aliveHandle {
		t.Error("unmounted watch was not recreated with a fresh handle")
	}

	if err := os.Remove(dead); err != nil {
		t.Fatal(err)
	}
	w.handleEvent(notify.Event{Handle: deadEntry.Handle, Path: dead, Anomaly: notify.AnomalyUnmount})
	if w.reg.Get(dead) != nil {
		t.Error("entry with vanished backing storage was not dropped")
	}
}

// TestAnomalyInvalidated distinguishes stale deliveries from a recycled
// watch slot (ignored) from unexplained invalidations (entry deleted).
func TestAnomalyInvalidated(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	tab := filepath.Join(dir, "watchtab")
	writeFile(t, a, "x")
	writeFile(t, tab, a+" IN_MODIFY cmd\n")

	w, src := newTestWatcher(t, tab)
	w.reconcile(tab)

	// stale: delivery for the handle we just cancelled
	src.Cancel(77)
	w.handleEvent(notify.Event{Handle: 77, Anomaly: notify.AnomalyInvalidated})
	if w.reg.Get(a) == nil {
		t.Fatal("stale delivery disturbed an unrelated watch")
	}

	// unexplained: delivery naming a live entry's path with a handle that
	// does not match the last cancellation
	entry := w.reg.Get(a)
	w.handleEvent(notify.Event{Handle: entry.Handle, Path: a, Anomaly: notify.AnomalyInvalidated})
	if w.reg.Get(a) != nil {
		t.Error("unexplained invalidated watch was not deleted")
	}
}

// TestUnknownWorkerRestarts verifies an unrecognized worker id escalates to
// a restart rather than being ignored.
func TestUnknownWorkerRestarts(t *testing.T) {
	dir := t.TempDir()
	tab := filepath.Join(dir, "watchtab")
	writeFile(t, tab, "\n")

	w, _ := newTestWatcher(t, tab)
	restarted := make(chan struct{}, 1)
	w.restart = func() error {
		restarted <- struct{}{}
		return nil
	}

	w.handleCompletion(worker.Completion{ID: 9999})

	select {
	case <-restarted:
	case <-time.After(time.Second):
		t.Fatal("unknown worker did not request a restart")
	}
}

// TestReactionRemovedDuringRun removes a watch while its reaction is in
// flight; the completion must not resurrect it.
func TestReactionRemovedDuringRun(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "t")
	tab := filepath.Join(dir, "watchtab")
	writeFile(t, target, "x")
	writeFile(t, tab, target+" IN_MODIFY true\n")

	w, _ := newTestWatcher(t, tab)
	w.reconcile(tab)
	entry := w.reg.Get(target)

	w.fire(entry, event.Modify)
	w.dropEntry(target)
	reapNext(t, w)

	if w.reg.Get(target) != nil {
		t.Error("completion resurrected a removed watch")
	}
}
