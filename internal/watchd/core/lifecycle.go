package core

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/dimasma0305/watchd/internal/log"
	"github.com/dimasma0305/watchd/internal/watchd/daemon"
	"github.com/dimasma0305/watchd/internal/watchd/event"
	"github.com/dimasma0305/watchd/internal/watchd/reaction"
	"github.com/dimasma0305/watchd/internal/watchd/registry"
	"github.com/dimasma0305/watchd/internal/watchd/socket"
)

// Start initializes the daemon subsystems, seeds the registry from the
// companion bootstrap and the watchtab, and launches the dispatch loop.
func (w *Watcher) Start() error {
	if err := daemon.EnsureDirectoriesExist(
		w.settings.PidFile, w.settings.LogFile,
		w.settings.SocketPath, w.settings.DatabasePath,
	); err != nil {
		return err
	}

	if err := w.db.Init(); err != nil {
		return fmt.Errorf("failed to initialize history database: %w", err)
	}

	w.control = socket.NewServer(w.settings.SocketPath, w)
	if err := w.control.Init(); err != nil {
		return err
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.control.Run(w.ctx)
	}()

	w.bootstrapCompanions()
	w.reconcile(w.settings.Watchtab)

	w.wg.Add(1)
	go w.dispatch()
	w.wg.Add(1)
	go w.signals()

	w.db.LogWatch("INFO", "core", "", "watchd started", "")
	log.Info("watchd running, %d path(s) watched", w.reg.Len())
	return nil
}

// Wait blocks until the daemon has fully stopped.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

// Stop shuts the daemon down. Safe to call more than once; must not be
// called from the dispatch loop goroutine.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		log.Info("watchd shutting down")
		w.db.LogWatch("INFO", "core", "", "watchd stopping", "")
		w.cancel()
		if w.control != nil {
			_ = w.control.Close()
		}
		_ = w.src.Close()
		w.wg.Wait()
		_ = w.db.Close()
	})
}

// bootstrapCompanions probes each configured companion daemon, spawning the
// unreachable ones when permitted, and seeds a bootstrap-owned watch on each
// companion's socket file. The watch reaction forwards a status probe, which
// carries the spawn-once-and-retry policy, so a companion whose socket
// disappears gets revived on the next delivery.
func (w *Watcher) bootstrapCompanions() {
	for _, c := range w.settings.Companions {
		if c.Name == "" || c.Socket == "" {
			log.Warn("companion entry missing name or socket, skipped")
			continue
		}
		if !w.forwarder.Probe(c.Name) {
			if w.settings.CanSpawn() {
				log.Info("companion %s not reachable, spawning %s", c.Name, c.Exec)
				if err := w.forwarder.Spawn(c.Name); err != nil {
					log.Warn("failed to spawn companion %s: %v", c.Name, err)
				}
			} else {
				log.Warn("companion %s not reachable and spawning not permitted", c.Name)
			}
		}

		w.apply(registry.Spec{
			Mask:     event.SelfGone | event.Attrib,
			Reaction: reaction.ForwardSocket(c.Name, "status"),
			Source:   registry.SourceBootstrap,
		}, c.Socket)
	}
}

// signals converts operator signals into loop intents. SIGHUP reloads the
// watchtab, SIGUSR1 dumps state, SIGUSR2 reopens the log file after external
// rotation; SIGTERM and SIGINT stop the daemon.
func (w *Watcher) signals() {
	defer w.wg.Done()

	sigChan := make(chan os.Signal, 4)
	signal.Notify(sigChan, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-w.ctx.Done():
			return
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				log.Info("SIGHUP received, reloading watchtab")
				w.RequestReload()
			case syscall.SIGUSR1:
				w.RequestDumpState()
			case syscall.SIGUSR2:
				w.RequestReopenLogs()
			case syscall.SIGTERM, syscall.SIGINT:
				log.Info("%s received, stopping", sig)
				go w.Stop()
			}
		}
	}
}

// requestRestart replaces this daemon instance with a fresh one. Used for
// the failures where continuing with current in-memory state is unsafe: the
// new process rebuilds everything from configuration.
func (w *Watcher) requestRestart(reason string) {
	log.Error("daemon restart requested: %s", reason)
	if err := w.restart(); err != nil {
		log.Error("failed to start replacement instance: %v", err)
	}
	go w.Stop()
}

// reexec forks a replacement daemon with the same arguments and releases it.
func (w *Watcher) reexec() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe, os.Args[1:]...) //nolint:gosec // G204: re-exec of our own binary
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
