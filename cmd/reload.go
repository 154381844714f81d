package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dimasma0305/watchd/internal/log"
	"github.com/dimasma0305/watchd/internal/watchd/conf"
	"github.com/dimasma0305/watchd/internal/watchd/socket"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the watchtab of a running daemon",
	Run: func(_ *cobra.Command, _ []string) {
		settings, err := conf.LoadSettings(configPath)
		if err != nil {
			log.Error("Failed to load settings: %v", err)
			os.Exit(1)
		}

		client := socket.NewClient(settings.SocketPath)
		resp, err := client.SendCommand(socket.Command{Action: socket.ActionReload})
		if err != nil {
			log.Error("Failed to reach daemon: %v", err)
			os.Exit(1)
		}
		if !resp.Success {
			log.Error("Reload failed: %s", resp.Error)
			os.Exit(1)
		}
		log.Info("%s", resp.Message)
	},
}

func init() {
	rootCmd.AddCommand(reloadCmd)
}
