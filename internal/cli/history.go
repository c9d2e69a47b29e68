package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/clipscape-network/clipscape/internal/domain"
)

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of entries to show")
	rootCmd.AddCommand(historyCmd)
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent sync activity",
	Long:  `Show the most recent clipboard sync events. Only hashes are stored, never contents.`,
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	var body struct {
		Count   int                   `json:"count"`
		History []domain.HistoryEntry `json:"history"`
	}
	path := fmt.Sprintf("/v1/history?limit=%d", historyLimit)
	if err := apiGet(path, &body); err != nil {
		return err
	}

	if body.Count == 0 {
		fmt.Println("No sync activity yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tDIRECTION\tORIGIN\tTYPE\tSIZE\tHASH")
	for _, e := range body.History {
		hash := e.ContentHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dB\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			e.Direction, e.OriginDeviceID, e.ContentType, e.SizeBytes, hash,
		)
	}
	return w.Flush()
}
