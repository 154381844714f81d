package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dimasma0305/watchd/internal/log"
	"github.com/dimasma0305/watchd/internal/watchd/conf"
	"github.com/dimasma0305/watchd/internal/watchd/daemon"
	"github.com/dimasma0305/watchd/internal/watchd/socket"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running watch daemon",
	Run: func(_ *cobra.Command, _ []string) {
		settings, err := conf.LoadSettings(configPath)
		if err != nil {
			log.Error("Failed to load settings: %v", err)
			os.Exit(1)
		}

		// Prefer a clean shutdown over the control socket; fall back to
		// signalling the pidfile owner.
		client := socket.NewClient(settings.SocketPath)
		if resp, err := client.SendCommand(socket.Command{Action: socket.ActionStop}); err == nil && resp.Success {
			log.Info("watchd daemon stopped")
			return
		}

		if err := daemon.StopDaemon(settings.PidFile); err != nil {
			log.Error("Failed to stop daemon: %v", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
