package daemon

import (
	"fmt"
	"os"
	"syscall"
	"time"

	godaemon "github.com/sevlyar/go-daemon"

	"github.com/dimasma0305/watchd/internal/log"
)

// Context describes the daemonization parameters for watchd.
type Context struct {
	PidFile string
	LogFile string
}

// Fork detaches the current process into the background. It returns
// (true, nil) in the parent after a successful fork, and (false, nil) in
// the reborn child which should proceed to run the daemon body.
func Fork(dctx Context) (parent bool, err error) {
	daemonCtx := &godaemon.Context{
		PidFileName: dctx.PidFile,
		PidFilePerm: 0644,
		LogFileName: dctx.LogFile,
		LogFilePerm: 0640,
		WorkDir:     "/",
		Umask:       027,
	}

	if godaemon.WasReborn() {
		pid := os.Getpid()
		log.Info("watchd daemon started (PID: %d)", pid)
		log.Info("PID file: %s", dctx.PidFile)
		log.Info("Log file: %s", dctx.LogFile)

		if err := WritePIDFile(dctx.PidFile, pid); err != nil {
			log.Error("Failed to write PID file: %v", err)
			return false, fmt.Errorf("failed to write PID file: %w", err)
		}
		return false, nil
	}

	child, err := daemonCtx.Reborn()
	if err != nil {
		return true, fmt.Errorf("failed to fork daemon: %w", err)
	}
	if child != nil {
		log.Info("watchd daemon started successfully")
		log.Info("PID: %d (saved to %s)", child.Pid, dctx.PidFile)
		log.Info("Logs: %s", dctx.LogFile)
		return true, nil
	}
	return true, fmt.Errorf("unexpected daemon state")
}

// GetDaemonStatus returns the status of the daemon
func GetDaemonStatus(pidFile string) map[string]interface{} {
	status := map[string]interface{}{
		"daemon":   false,
		"pid_file": pidFile,
	}

	pid, err := ReadPIDFromFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			status["status"] = "stopped"
			status["message"] = "PID file not found"
		} else {
			status["status"] = "error"
			status["message"] = err.Error()
		}
		return status
	}

	status["pid"] = pid

	process, err := os.FindProcess(pid)
	if err != nil {
		status["status"] = "error"
		status["message"] = fmt.Sprintf("Failed to find process: %v", err)
		return status
	}

	// Signal 0 probes existence without delivering anything
	if err := process.Signal(syscall.Signal(0)); err != nil {
		status["daemon"] = false
		status["status"] = "dead"
		if removeErr := os.Remove(pidFile); removeErr != nil && !os.IsNotExist(removeErr) {
			status["message"] = fmt.Sprintf("Process not running, failed to clean stale PID file: %v", removeErr)
		} else {
			status["message"] = "Process not running (cleaned up stale PID file)"
		}
		return status
	}

	status["daemon"] = true
	status["status"] = "running"
	status["message"] = "Daemon is running"
	return status
}

// StopDaemon stops the daemon identified by pidFile
func StopDaemon(pidFile string) error {
	pid, err := ReadPIDFromFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("daemon is not running (PID file not found)")
		}
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM to process %d: %w", pid, err)
	}

	// Wait a bit for graceful shutdown
	time.Sleep(2 * time.Second)

	if err := process.Signal(syscall.Signal(0)); err == nil {
		log.Info("Process still running, sending SIGKILL...")
		if err := process.Kill(); err != nil {
			return fmt.Errorf("failed to kill process %d: %w", pid, err)
		}
	}

	if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	log.Info("watchd daemon stopped")
	return nil
}
