package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dimasma0305/watchd/internal/log"
	"github.com/dimasma0305/watchd/internal/watchd/conf"
	"github.com/dimasma0305/watchd/internal/watchd/core"
	"github.com/dimasma0305/watchd/internal/watchd/daemon"
	"github.com/dimasma0305/watchd/internal/watchd/notify"
)

var (
	startForeground bool
	startWatchtab   string
	startPidFile    string
	startLogFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the watch daemon",
	Long: `Start the watch daemon.

The daemon detaches into the background by default; use --foreground to
keep it attached to the current terminal.`,
	Example: `  # Start as daemon
  watchd start

  # Start in the foreground with a custom watchtab
  watchd start --foreground --watchtab ./watchtab`,
	Run: func(_ *cobra.Command, _ []string) {
		settings, err := conf.LoadSettings(configPath)
		if err != nil {
			log.Error("Failed to load settings: %v", err)
			os.Exit(1)
		}
		if startWatchtab != "" {
			settings.Watchtab = startWatchtab
		}
		if startPidFile != "" {
			settings.PidFile = startPidFile
		}
		if startLogFile != "" {
			settings.LogFile = startLogFile
		}
		if settings.Debug {
			log.SetDebugMode(true)
		}

		if !startForeground {
			parent, err := daemon.Fork(daemon.Context{
				PidFile: settings.PidFile,
				LogFile: settings.LogFile,
			})
			if err != nil {
				log.Fatal("Failed to daemonize: ", err)
			}
			if parent {
				return
			}
		} else {
			// Foreground mode bypasses the daemonizer's pidfile lock;
			// enforce the same single-instance rule by hand.
			if status := daemon.GetDaemonStatus(settings.PidFile); status["status"] == "running" {
				log.Error("Daemon already running (PID %v)", status["pid"])
				os.Exit(1)
			}
			if err := daemon.WritePIDFile(settings.PidFile, os.Getpid()); err != nil {
				log.Fatal("Failed to write PID file: ", err)
			}
		}

		src, err := notify.NewFSSource()
		if err != nil {
			log.Fatal("Failed to create notification source: ", err)
		}

		w := core.New(settings, src)
		if err := w.Start(); err != nil {
			log.Fatal("Failed to start daemon: ", err)
		}
		w.Wait()

		if err := os.Remove(settings.PidFile); err != nil && !os.IsNotExist(err) {
			log.Warn("Failed to remove PID file: %v", err)
		}
	},
}

func init() {
	startCmd.Flags().BoolVarP(&startForeground, "foreground", "f", false, "Run in the foreground instead of daemonizing")
	startCmd.Flags().StringVar(&startWatchtab, "watchtab", "", "Watchtab path (overrides settings)")
	startCmd.Flags().StringVar(&startPidFile, "pid-file", "", "PID file path (overrides settings)")
	startCmd.Flags().StringVar(&startLogFile, "log-file", "", "Log file path (overrides settings)")
	rootCmd.AddCommand(startCmd)
}
