// Package cmd provides command-line interface commands for watchd
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dimasma0305/watchd/internal/log"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "watchd",
	Short: "File-change reaction daemon",
	Long: `watchd - a daemon that watches filesystem paths and reacts to changes

Watches the paths declared in a watchtab and reacts by running shell
commands, forwarding payloads to companion daemons over unix sockets, or
reloading its own configuration. Edits to the watchtab hot-reload without
a restart.`,
	Example: `  # Start the daemon
  watchd start

  # Run in the foreground
  watchd start --foreground

  # Reload the watchtab of a running daemon
  watchd reload

  # Inspect the live watch table
  watchd state

  # Follow the daemon log
  watchd logs -f`,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			log.SetDebugMode(true)
			log.Debug("Debug mode enabled")
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/watchd/watchd.yaml", "Path to the settings file")
}
