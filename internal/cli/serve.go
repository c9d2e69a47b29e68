package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/clipscape-network/clipscape/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveName, "name", "", "Device name announced to peers (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Signaling port (overrides config)")
	serveCmd.Flags().BoolVar(&serveHeadless, "headless", false, "Use an in-memory clipboard instead of the OS clipboard")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveName     string
	servePort     int
	serveHeadless bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ClipScape sync daemon",
	Long:  `Start discovery, signaling, clipboard sync, and the local status API.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveName != "" {
		cfg.Node.Name = serveName
	}
	if servePort > 0 {
		cfg.Network.SignalingPort = servePort
	}
	if serveHeadless {
		cfg.Sync.Headless = true
	}

	d, err := daemon.NewWithConfig(cfg)
	if err != nil {
		return err
	}
	return d.Serve(context.Background())
}
