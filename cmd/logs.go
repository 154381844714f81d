package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dimasma0305/watchd/internal/log"
	"github.com/dimasma0305/watchd/internal/watchd/conf"
	"github.com/dimasma0305/watchd/internal/watchd/daemon"
)

var logsFollow bool

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the daemon log",
	Example: `  # Show recent log lines
  watchd logs

  # Follow the log in real time
  watchd logs -f`,
	Run: func(_ *cobra.Command, _ []string) {
		settings, err := conf.LoadSettings(configPath)
		if err != nil {
			log.Error("Failed to load settings: %v", err)
			os.Exit(1)
		}

		if logsFollow {
			if err := daemon.FollowLogs(settings.LogFile); err != nil {
				log.Error("Failed to follow logs: %v", err)
				os.Exit(1)
			}
			return
		}
		daemon.ShowRecentLogs(settings.LogFile)
	},
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow the log in real time")
	rootCmd.AddCommand(logsCmd)
}
