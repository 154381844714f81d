// Package executor performs the external half of a reaction: running a
// command line through the shell, or forwarding a payload to a companion
// daemon over its unix socket. The dispatch loop never calls into this
// package directly; reactions run inside workers.
package executor

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/dimasma0305/watchd/internal/log"
)

var (
	shell     string
	shellOnce sync.Once
)

// getShell returns the shell to use for reaction execution in a thread-safe way
func getShell() string {
	shellOnce.Do(func() {
		shell = os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}
	})
	return shell
}

// RunShell executes a reaction command line through the shell and waits for
// it to exit. Output is captured and logged rather than inherited, so worker
// output interleaves cleanly in the daemon log.
//
//nolint:gosec // G204: command execution is the purpose of this function
func RunShell(ctx context.Context, cmdline string) error {
	cmd := exec.CommandContext(ctx, getShell(), "-c", cmdline)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if out := strings.TrimSpace(stdout.String()); out != "" {
		for _, line := range strings.Split(out, "\n") {
			log.InfoH3("%s", line)
		}
	}
	if errOut := strings.TrimSpace(stderr.String()); errOut != "" {
		for _, line := range strings.Split(errOut, "\n") {
			log.Warn("%s", line)
		}
	}
	return err
}
