package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/clipscape-network/clipscape/internal/domain"
)

func init() {
	rootCmd.AddCommand(peersCmd)
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List peers connected to the running daemon",
	RunE:  runPeers,
}

func runPeers(cmd *cobra.Command, args []string) error {
	var body struct {
		Count int                   `json:"count"`
		Peers []domain.PeerIdentity `json:"peers"`
	}
	if err := apiGet("/v1/peers", &body); err != nil {
		return err
	}

	if body.Count == 0 {
		fmt.Println("No peers connected.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS")
	for _, p := range body.Peers {
		fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Address)
	}
	return w.Flush()
}
