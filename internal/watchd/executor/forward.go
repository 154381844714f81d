package executor

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os/exec"
	"time"

	"github.com/dimasma0305/watchd/internal/watchd/conf"

	"github.com/dimasma0305/watchd/internal/log"
)

const (
	dialTimeout  = 5 * time.Second
	replyTimeout = 30 * time.Second
	spawnSettle  = 500 * time.Millisecond
)

// Forwarder sends reaction payloads to companion daemons over their unix
// sockets. Companions are looked up by name in the registry from
// watchd.yaml.
type Forwarder struct {
	companions map[string]conf.Companion
	canSpawn   bool
}

// NewForwarder builds a forwarder over the configured companion registry.
// canSpawn grants the "spawn it once and retry" policy for unreachable
// daemons; it normally tracks process privilege.
func NewForwarder(companions []conf.Companion, canSpawn bool) *Forwarder {
	byName := make(map[string]conf.Companion, len(companions))
	for _, c := range companions {
		byName[c.Name] = c
	}
	return &Forwarder{companions: byName, canSpawn: canSpawn}
}

// Lookup returns the companion entry for name.
func (f *Forwarder) Lookup(name string) (conf.Companion, bool) {
	c, ok := f.companions[name]
	return c, ok
}

// Forward performs request/response against the named companion. If the
// daemon is unreachable and this process may spawn it, it is started once
// and the request retried.
func (f *Forwarder) Forward(ctx context.Context, daemon, payload string) (string, error) {
	c, ok := f.companions[daemon]
	if !ok {
		return "", fmt.Errorf("unknown companion daemon %q", daemon)
	}

	reply, err := f.request(ctx, c, payload)
	if err == nil {
		return reply, nil
	}

	if !f.canSpawn {
		return "", fmt.Errorf("companion %s unreachable: %w", daemon, err)
	}

	log.Warn("companion %s unreachable (%v), spawning %s and retrying once", daemon, err, c.Exec)
	if spawnErr := f.spawn(c); spawnErr != nil {
		return "", fmt.Errorf("companion %s unreachable and spawn failed: %w", daemon, spawnErr)
	}
	time.Sleep(spawnSettle)

	reply, err = f.request(ctx, c, payload)
	if err != nil {
		return "", fmt.Errorf("companion %s still unreachable after spawn: %w", daemon, err)
	}
	return reply, nil
}

// Probe reports whether the companion's socket accepts connections.
func (f *Forwarder) Probe(daemon string) bool {
	c, ok := f.companions[daemon]
	if !ok {
		return false
	}
	conn, err := net.DialTimeout("unix", c.Socket, dialTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Spawn starts the companion's executable detached from this process.
func (f *Forwarder) Spawn(daemon string) error {
	c, ok := f.companions[daemon]
	if !ok {
		return fmt.Errorf("unknown companion daemon %q", daemon)
	}
	return f.spawn(c)
}

//nolint:gosec // G204: spawning configured companions is the purpose here
func (f *Forwarder) spawn(c conf.Companion) error {
	cmd := exec.Command(c.Exec)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", c.Exec, err)
	}
	// The companion daemonizes itself; release our handle on the
	// intermediate process.
	go func() { _ = cmd.Wait() }()
	return nil
}

// request is one line-oriented exchange: payload out, one reply line back.
func (f *Forwarder) request(ctx context.Context, c conf.Companion, payload string) (string, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "unix", c.Socket)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	deadline := time.Now().Add(replyTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if _, err := fmt.Fprintf(conn, "%s\n", payload); err != nil {
		return "", fmt.Errorf("failed to send payload: %w", err)
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read reply: %w", err)
	}
	return reply[:len(reply)-1], nil
}
