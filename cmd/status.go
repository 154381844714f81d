package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dimasma0305/watchd/internal/log"
	"github.com/dimasma0305/watchd/internal/watchd/conf"
	"github.com/dimasma0305/watchd/internal/watchd/daemon"
	"github.com/dimasma0305/watchd/internal/watchd/socket"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the watch daemon status",
	Run: func(_ *cobra.Command, _ []string) {
		settings, err := conf.LoadSettings(configPath)
		if err != nil {
			log.Error("Failed to load settings: %v", err)
			os.Exit(1)
		}

		// Ask the daemon itself first; it knows more than the pidfile.
		client := socket.NewClient(settings.SocketPath)
		if resp, err := client.SendCommand(socket.Command{Action: socket.ActionStatus}); err == nil && resp.Success {
			log.Info("watchd status")
			log.Info("==========================================")
			log.Info("Status: RUNNING")
			for _, key := range []string{"pid", "uptime", "watches", "suspended", "active_workers", "watchtab"} {
				if v, ok := resp.Data[key]; ok {
					log.Info("%s: %v", key, v)
				}
			}
			return
		}

		if err := daemon.ShowStatus(settings.PidFile, settings.LogFile, settings.SocketPath, statusJSON); err != nil {
			log.Error("Failed to show status: %v", err)
			os.Exit(1)
		}
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")
	rootCmd.AddCommand(statusCmd)
}
