// Package cli implements the tty-agent command-line entrypoint, following
// cmd/bamf/cmd/root.go's rootCmd/Execute()/init() shape, trimmed to the
// two commands this service needs.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool

	// Version info, set at build time via -ldflags.
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "tty-agent",
	Short:         "sealos-tty-agent - WebSocket to Kubernetes pod exec gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $TTY_AGENT_CONFIG, else config.json in the working directory)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}
