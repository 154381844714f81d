package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dimasma0305/watchd/internal/log"
	"github.com/dimasma0305/watchd/internal/watchd/conf"
	"github.com/dimasma0305/watchd/internal/watchd/socket"
)

var (
	historyLimit int
	historyPath  string
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Dump the live watch table of a running daemon",
	Run: func(_ *cobra.Command, _ []string) {
		resp := mustSend(socket.Command{Action: socket.ActionDumpState})
		printJSON(resp.Data)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent daemon activity from the history database",
	Example: `  # Last 20 log entries
  watchd history --limit 20

  # Reactions fired for one path
  watchd history --path /data/list.txt`,
	Run: func(_ *cobra.Command, _ []string) {
		cmd := socket.Command{
			Action: socket.ActionHistory,
			Data:   map[string]interface{}{"limit": historyLimit},
		}
		if historyPath != "" {
			cmd.Action = socket.ActionReactions
			cmd.Data["path"] = historyPath
		}
		resp := mustSend(cmd)
		printJSON(resp.Data)
	},
}

// mustSend delivers one control command or exits.
func mustSend(cmd socket.Command) *socket.Response {
	settings, err := conf.LoadSettings(configPath)
	if err != nil {
		log.Error("Failed to load settings: %v", err)
		os.Exit(1)
	}
	client := socket.NewClient(settings.SocketPath)
	resp, err := client.SendCommand(cmd)
	if err != nil {
		log.Error("Failed to reach daemon: %v", err)
		os.Exit(1)
	}
	if !resp.Success {
		log.Error("%s failed: %s", cmd.Action, resp.Error)
		os.Exit(1)
	}
	return resp
}

func printJSON(data map[string]interface{}) {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		log.Error("Failed to render response: %v", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum entries to return")
	historyCmd.Flags().StringVar(&historyPath, "path", "", "Show reactions for this path only")
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(historyCmd)
}
