package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/clipscape-network/clipscape/internal/daemon"
	"github.com/clipscape-network/clipscape/internal/network"
	"github.com/clipscape-network/clipscape/internal/peer"
)

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 2*time.Second, "How long to wait for announcements")
	rootCmd.AddCommand(discoverCmd)
}

var discoverTimeout time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Probe the LAN for ClipScape peers",
	Long:  `Send one discovery broadcast and print every peer that answers.`,
	RunE:  runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	// One-shot discovery needs no listeners, just the broadcast socket.
	coord := network.New(network.Config{
		DeviceName:    cfg.Node.Name,
		SignalingPort: cfg.Network.SignalingPort,
		DiscoveryPort: cfg.Network.DiscoveryPort,
		Session:       peer.DefaultConfig(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), discoverTimeout+time.Second)
	defer cancel()

	peers, err := coord.Discover(ctx, discoverTimeout)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		fmt.Println("No peers found. Is 'clipscape serve' running on another device?")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS")
	for _, p := range peers {
		fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Address)
	}
	return w.Flush()
}
