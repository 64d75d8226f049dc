package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tajhlande/listen-to-wiki-changes/internal/platform/version"
)

var rootCmd = &cobra.Command{
	Use:   "listen-to-wiki-changes",
	Short: "Relay Wikimedia recent changes to browser clients",
	Long: `listen-to-wiki-changes keeps one upstream connection to the Wikimedia
recent-change stream while clients are listening, refines each event with
wiki metadata and fans it out to filtered SSE and WebSocket subscribers.`,
	Version:       version.Get().Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, catalogCmd, cacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
