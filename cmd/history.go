package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/brensch/zipmailer/internal/ledger"
)

var (
	historyLimit       int
	historyStatus      string
	historyBatch       string
	historyDestination string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the send log, newest first",
	Long:  `Lists send log rows with optional filters on batch, status and destination.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := ledger.Filter{
			BatchID:     historyBatch,
			Status:      ledger.Status(strings.ToLower(historyStatus)),
			Destination: historyDestination,
			Limit:       historyLimit,
		}
		switch filter.Status {
		case "", ledger.StatusPending, ledger.StatusSent, ledger.StatusFailed:
		default:
			return fmt.Errorf("invalid status filter: %s (use pending, sent or failed)", historyStatus)
		}
		getLogger().Info("Querying send log", "batch", filter.BatchID, "status", filter.Status, "limit", filter.Limit)

		entries, err := getLedger().History(context.Background(), filter)
		if err != nil {
			return err
		}
		printHistory(color.Output, entries, historyLimit)
		return nil
	},
}

func printHistory(w io.Writer, entries []ledger.Entry, limit int) {
	fmt.Fprintf(w, "--- Send Log History (Limit %d) ---\n", limit)
	fmt.Fprintf(w, "%-6s | %-20s | %-24s | %-28s | %-24s | %-5s | %-8s | %s\n",
		"ID", "Timestamp (UTC)", "Destination", "Recipients", "File", "Part", "Status", "Details")
	fmt.Fprintln(w, strings.Repeat("-", 150))
	for _, e := range entries {
		details := e.Error
		if e.ResolvesID != 0 {
			details = strings.TrimSpace(fmt.Sprintf("resolves #%d %s", e.ResolvesID, details))
		}
		if strings.Join(e.SendTo, ",") != strings.Join(e.Recipients, ",") {
			details = strings.TrimSpace(details + " (sent to " + strings.Join(e.SendTo, ", ") + ")")
		}
		fmt.Fprintf(w, "%-6d | %-20s | %-24s | %-28s | %-24s | %-5s | %s | %s\n",
			e.ID, e.CreatedAt.UTC().Format(time.DateTime), clipText(e.Destination, 24),
			clipText(strings.Join(e.Recipients, ", "), 28), clipText(e.FileName, 24), e.Part,
			statusColor(e.Status).Sprintf("%-8s", e.Status), details)
	}
	fmt.Fprintf(w, "Displayed %d records.\n", len(entries))
}

func statusColor(s ledger.Status) *color.Color {
	switch s {
	case ledger.StatusSent:
		return color.New(color.FgGreen)
	case ledger.StatusFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

func clipText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Limit the number of log records displayed")
	historyCmd.Flags().StringVarP(&historyStatus, "status", "s", "", "Filter by status (pending, sent, failed)")
	historyCmd.Flags().StringVar(&historyBatch, "batch", "", "Filter by batch id")
	historyCmd.Flags().StringVar(&historyDestination, "destination", "", "Filter by destination substring")
}
