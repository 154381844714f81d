package daemon

import (
	"encoding/json"
	"fmt"

	"github.com/dimasma0305/watchd/internal/log"
)

// ShowStatus displays the daemon status
func ShowStatus(pidFile, logFile, socketPath string, jsonOutput bool) error {
	daemonStatus := GetDaemonStatus(pidFile)
	isDaemon := daemonStatus["daemon"].(bool)
	daemonState := daemonStatus["status"].(string)

	log.Info("watchd status")
	log.Info("==========================================")

	switch {
	case isDaemon && daemonState == "running":
		log.Info("Status: RUNNING")
		if pid, ok := daemonStatus["pid"]; ok {
			log.Info("Process ID: %v", pid)
		}
		log.Info("PID file: %s", pidFile)
		log.Info("Log file: %s", logFile)
		log.Info("Control socket: %s", socketPath)

		ShowRecentLogs(logFile)

	case daemonState == "dead":
		log.Info("Status: STOPPED (stale PID file found)")
		log.Info("A previous daemon process was running but is no longer active")
		log.Info("Stale PID file: %s", pidFile)
		log.Info("Suggestion: run 'watchd start' to start a new daemon")

	case daemonState == "stopped":
		log.Info("Status: NOT RUNNING")
		log.Info("PID file: %s (not found)", pidFile)
		log.Info("Suggestion: run 'watchd start' to start the daemon")

	default:
		log.Info("Status: ERROR")
		if msg, ok := daemonStatus["message"]; ok {
			log.Info("%s", msg)
		}
		log.Info("PID file: %s", pidFile)
	}

	if jsonOutput {
		return outputStatusJSON(daemonStatus, pidFile, logFile, isDaemon, daemonState)
	}
	return nil
}

// outputStatusJSON outputs status in JSON format
func outputStatusJSON(daemonStatus map[string]interface{}, pidFile, logFile string, isDaemon bool, daemonState string) error {
	jsonStatus := map[string]interface{}{
		"daemon_running": isDaemon && daemonState == "running",
		"status":         daemonState,
		"pid_file":       pidFile,
		"log_file":       logFile,
	}

	if isDaemon && daemonState == "running" {
		if pid, ok := daemonStatus["pid"]; ok {
			jsonStatus["pid"] = pid
		}
	}
	if msg, ok := daemonStatus["message"]; ok {
		jsonStatus["message"] = msg
	}

	log.Info("")
	jsonData, err := json.MarshalIndent(jsonStatus, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status to JSON: %w", err)
	}
	fmt.Println(string(jsonData))
	return nil
}
