// Package cli implements the ClipScape command-line interface using Cobra.
// Each subcommand maps to a daemon capability (serve, discover, peers, ...).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "clipscape",
	Short: "ClipScape — Sync your clipboard across the LAN",
	Long: `ClipScape keeps clipboards in sync between devices on the same network.
Peers find each other by UDP broadcast and exchange clipboard items over
direct peer-to-peer data channels. No server, no account.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
