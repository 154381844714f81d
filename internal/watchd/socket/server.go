// Package socket implements the control unix socket of the daemon: a JSON
// request/response protocol used by the watchd CLI for status, reload,
// state dumps and history queries.
package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dimasma0305/watchd/internal/log"
)

// Command represents a control command sent to the daemon.
type Command struct {
	Action string                 `json:"action"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// Response represents the daemon's reply.
type Response struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Control actions.
const (
	ActionStatus     = "status"
	ActionReload     = "reload"
	ActionDumpState  = "dump_state"
	ActionReopenLogs = "reopen_logs"
	ActionHistory    = "get_history"
	ActionReactions  = "get_reactions"
	ActionStop       = "stop"
)

// CommandHandler processes control commands.
type CommandHandler interface {
	HandleCommand(cmd Command) Response
}

// Server handles unix socket control operations.
type Server struct {
	socketPath string
	listener   net.Listener
	mu         sync.RWMutex
	handler    CommandHandler
}

// NewServer creates a control socket server.
func NewServer(socketPath string, handler CommandHandler) *Server {
	return &Server{socketPath: socketPath, handler: handler}
}

// Init creates the listening socket. A leftover socket file is removed only
// after a liveness probe: a socket that still answers belongs to a running
// daemon and must not be stolen.
func (s *Server) Init() error {
	if _, err := os.Stat(s.socketPath); err == nil {
		if NewClient(s.socketPath).Ping() {
			return fmt.Errorf("control socket %s is in use by a running daemon", s.socketPath)
		}
		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			log.Error("failed to remove stale socket file: %v", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0750); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create control socket: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	log.Info("Control socket initialized: %s", s.socketPath)
	return nil
}

// Run accepts and serves connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	s.mu.RLock()
	listener := s.listener
	s.mu.RUnlock()
	if listener == nil {
		return
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Error("failed to accept control connection: %v", err)
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var cmd Command
	if err := decoder.Decode(&cmd); err != nil {
		_ = encoder.Encode(Response{
			Success: false,
			Error:   fmt.Sprintf("failed to decode command: %v", err),
		})
		return
	}

	response := s.handler.HandleCommand(cmd)

	if err := encoder.Encode(response); err != nil {
		log.Error("failed to send control response: %v", err)
	}
}

// Close shuts the listener down and removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.listener = nil

	if removeErr := os.Remove(s.socketPath); removeErr != nil && !os.IsNotExist(removeErr) {
		log.Error("failed to remove socket file: %v", removeErr)
	}
	return err
}
