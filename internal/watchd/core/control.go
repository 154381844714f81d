package core

import (
	"fmt"
	"os"
	"time"

	"github.com/dimasma0305/watchd/internal/log"
	"github.com/dimasma0305/watchd/internal/watchd/registry"
	"github.com/dimasma0305/watchd/internal/watchd/socket"
)

// HandleCommand implements socket.CommandHandler. It runs on a connection
// goroutine, so the command is marshalled into the dispatch loop and the
// reply awaited; registry state is never touched here.
func (w *Watcher) HandleCommand(cmd socket.Command) socket.Response {
	in := intent{kind: intentControl, cmd: cmd, reply: make(chan socket.Response, 1)}
	if cmd.Action == socket.ActionStop {
		in.kind = intentStop
	}

	if !w.enqueue(in) {
		return socket.Response{Success: false, Error: "daemon is shutting down"}
	}

	select {
	case resp := <-in.reply:
		return resp
	case <-time.After(30 * time.Second):
		return socket.Response{Success: false, Error: "command timed out"}
	case <-w.ctx.Done():
		return socket.Response{Success: false, Error: "daemon is shutting down"}
	}
}

// handleIntent processes one queued operator intent on the dispatch loop.
func (w *Watcher) handleIntent(in intent) {
	switch in.kind {
	case intentReload:
		w.reconcile(in.resource)

	case intentDumpState:
		w.logState()

	case intentReopenLogs:
		if err := log.Reopen(w.settings.LogFile); err != nil {
			log.Error("failed to reopen log file: %v", err)
		} else {
			log.Info("log file reopened: %s", w.settings.LogFile)
		}

	case intentControl:
		resp := w.handleControl(in.cmd)
		if in.reply != nil {
			in.reply <- resp
		}

	case intentStop:
		if in.reply != nil {
			in.reply <- socket.Response{Success: true, Message: "stopping"}
		}
		go w.Stop()
	}
}

// handleControl answers one control socket command. Runs on the dispatch
// loop, so registry reads are safe.
func (w *Watcher) handleControl(cmd socket.Command) socket.Response {
	switch cmd.Action {
	case socket.ActionStatus:
		suspended := 0
		for _, p := range w.reg.Paths() {
			if e := w.reg.Get(p); e != nil && e.Suspended {
				suspended++
			}
		}
		return socket.Response{
			Success: true,
			Message: "running",
			Data: map[string]interface{}{
				"pid":            os.Getpid(),
				"uptime":         time.Since(w.startedAt).String(),
				"watches":        w.reg.Len(),
				"suspended":      suspended,
				"active_workers": w.workers.Active(),
				"watchtab":       w.settings.Watchtab,
			},
		}

	case socket.ActionReload:
		w.reconcile(w.settings.Watchtab)
		return socket.Response{
			Success: true,
			Message: fmt.Sprintf("watchtab reloaded, %d path(s) watched", w.reg.Len()),
		}

	case socket.ActionDumpState:
		return socket.Response{Success: true, Data: w.stateDump()}

	case socket.ActionReopenLogs:
		if err := log.Reopen(w.settings.LogFile); err != nil {
			return socket.Response{Success: false, Error: err.Error()}
		}
		return socket.Response{Success: true, Message: "log file reopened"}

	case socket.ActionHistory:
		logs, err := w.db.RecentLogs(intArg(cmd, "limit", 50))
		if err != nil {
			return socket.Response{Success: false, Error: err.Error()}
		}
		return socket.Response{Success: true, Data: map[string]interface{}{"logs": logs}}

	case socket.ActionReactions:
		path, _ := cmd.Data["path"].(string)
		records, err := w.db.RecentReactions(path, intArg(cmd, "limit", 50))
		if err != nil {
			return socket.Response{Success: false, Error: err.Error()}
		}
		return socket.Response{Success: true, Data: map[string]interface{}{"reactions": records}}
	}

	return socket.Response{Success: false, Error: fmt.Sprintf("unknown action: %s", cmd.Action)}
}

// stateDump renders the registry and worker state for dump_state.
func (w *Watcher) stateDump() map[string]interface{} {
	watches := make([]map[string]interface{}, 0, w.reg.Len())
	for _, path := range w.reg.Paths() {
		e := w.reg.Get(path)
		watches = append(watches, map[string]interface{}{
			"path":      e.Path,
			"mask":      e.Mask.String(),
			"reaction":  e.Reaction.String(),
			"source":    e.Source,
			"handle":    e.Handle,
			"suspended": e.Suspended,
		})
	}
	return map[string]interface{}{
		"watches":      watches,
		"active_paths": w.workers.ActivePaths(),
		"uptime":       time.Since(w.startedAt).String(),
	}
}

// logState writes the dump_state view to the log, for the SIGUSR1 path.
func (w *Watcher) logState() {
	log.InfoH2("State dump (%d watches, %d active workers)", w.reg.Len(), w.workers.Active())
	w.forEachEntry(func(e *registry.Entry) {
		state := "live"
		switch {
		case e.Suspended:
			state = "suspended"
		case e.Handle == 0:
			state = "unwatched"
		}
		log.InfoH3("%s [%s] mask=%s reaction=%q source=%s", e.Path, state, e.Mask, e.Reaction, e.Source)
	})
	for _, p := range w.workers.ActivePaths() {
		log.InfoH3("worker running for %s", p)
	}
}

// forEachEntry visits all entries in path order.
func (w *Watcher) forEachEntry(fn func(*registry.Entry)) {
	for _, path := range w.reg.Paths() {
		if e := w.reg.Get(path); e != nil {
			fn(e)
		}
	}
}

// intArg pulls an integer argument out of a control command's data map;
// JSON numbers arrive as float64.
func intArg(cmd socket.Command, key string, def int) int {
	if v, ok := cmd.Data[key].(float64); ok && v > 0 {
		return int(v)
	}
	return def
}
