package socket

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type echoHandler struct{}

func (echoHandler) HandleCommand(cmd Command) Response {
	switch cmd.Action {
	case ActionStatus:
		return Response{Success: true, Message: "running"}
	case ActionDumpState:
		return Response{Success: true, Data: map[string]interface{}{"watches": float64(2)}}
	default:
		return Response{Success: false, Error: "unknown action: " + cmd.Action}
	}
}

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "control.sock")
	srv := NewServer(path, echoHandler{})
	if err := srv.Init(); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)
	t.Cleanup(func() {
		cancel()
		_ = srv.Close()
	})
	return srv, path
}

// TestClientServerRoundTrip exercises a full command/response exchange over
// a real unix socket.
func TestClientServerRoundTrip(t *testing.T) {
	_, path := startServer(t)
	client := NewClient(path)

	resp, err := client.SendCommand(Command{Action: ActionStatus})
	if err != nil {
		t.Fatalf("SendCommand(status) error: %v", err)
	}
	if !resp.Success || resp.Message != "running" {
		t.Errorf("status response = %+v, want success with message %q", resp, "running")
	}

	resp, err = client.SendCommand(Command{Action: ActionDumpState})
	if err != nil {
		t.Fatalf("SendCommand(dump_state) error: %v", err)
	}
	if got := resp.Data["watches"]; got != float64(2) {
		t.Errorf("dump_state watches = %v, want 2", got)
	}
}

// TestUnknownAction verifies that unrecognized actions report an error
// without closing the connection uncleanly.
func TestUnknownAction(t *testing.T) {
	_, path := startServer(t)
	client := NewClient(path)

	resp, err := client.SendCommand(Command{Action: "bogus"})
	if err != nil {
		t.Fatalf("SendCommand(bogus) error: %v", err)
	}
	if resp.Success {
		t.Error("unknown action reported success")
	}
	if resp.Error == "" {
		t.Error("unknown action response missing error text")
	}
}

// TestStaleSocketReplaced verifies that Init removes a leftover socket file
// from a previous run instead of failing to bind.
func TestStaleSocketReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control.sock")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}

	srv := NewServer(path, echoHandler{})
	if err := srv.Init(); err != nil {
		t.Fatalf("Init() over stale socket error: %v", err)
	}
	defer func() {
		_ = srv.Close()
	}()
}

// TestInitRefusesLiveSocket verifies that Init does not steal the control
// socket of a running daemon: the second Init must fail and the first
// server must keep answering.
func TestInitRefusesLiveSocket(t *testing.T) {
	_, path := startServer(t)

	second := NewServer(path, echoHandler{})
	if err := second.Init(); err == nil {
		_ = second.Close()
		t.Fatal("Init() over a live socket should fail")
	}

	resp, err := NewClient(path).SendCommand(Command{Action: ActionStatus})
	if err != nil {
		t.Fatalf("original server stopped answering: %v", err)
	}
	if !resp.Success {
		t.Errorf("status response = %+v, want success", resp)
	}
}

// TestPing covers both the reachable and unreachable cases.
func TestPing(t *testing.T) {
	_, path := startServer(t)
	if !NewClient(path).Ping() {
		t.Error("Ping() = false for a running server")
	}
	if NewClient(filepath.Join(t.TempDir(), "missing.sock")).Ping() {
		t.Error("Ping() = true for a missing socket")
	}
}

// TestCloseRemovesSocketFile verifies shutdown cleans up the socket path.
func TestCloseRemovesSocketFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control.sock")
	srv := NewServer(path, echoHandler{})
	if err := srv.Init(); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("socket file still present after Close: %v", err)
	}
	// double close is a no-op
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}

	// give background goroutines a moment on slow CI
	time.Sleep(10 * time.Millisecond)
}
