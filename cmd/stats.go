package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/brensch/zipmailer/internal/ledger"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show send log totals",
	Long: `Prints the number of log rows, sent rows, and pending or failed entries that no later
row has resolved. A non-zero pending or failed count means 'resume' has work to do.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := getLedger().FetchStats(context.Background())
		if err != nil {
			return err
		}
		printStats(color.Output, stats)
		return nil
	},
}

func printStats(w io.Writer, s ledger.Stats) {
	fmt.Fprintln(w, "--- Send Log Stats ---")
	fmt.Fprintf(w, "%-10s %d\n", "Total:", s.Total)
	fmt.Fprintf(w, "%-10s %s\n", "Sent:", color.GreenString("%d", s.Sent))
	fmt.Fprintf(w, "%-10s %s\n", "Pending:", color.YellowString("%d", s.Pending))
	fmt.Fprintf(w, "%-10s %s\n", "Failed:", color.RedString("%d", s.Failed))
	if s.Pending+s.Failed > 0 {
		fmt.Fprintln(w, "Open entries remain; run 'zipmailer resume' to retry them.")
	}
}
