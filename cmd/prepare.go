package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brensch/zipmailer/internal/config"
	"github.com/brensch/zipmailer/internal/orchestrator"
	"github.com/brensch/zipmailer/internal/util"
	"github.com/brensch/zipmailer/internal/workspace"
)

var (
	prepareSheet   string
	prepareArchive string
	prepareBatch   string
)

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Extract, match, group and pack a batch without sending anything",
	Long: `Reads the spreadsheet and the archive (a local path or an http(s) URL), extracts every
nested document, matches rows to documents, groups them by destination and recipients and
writes size-bounded parts plus audit reports into a new batch workspace.`,
	Annotations: map[string]string{skipLedger: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		st, err := runPrepare(ctx, getConfig(), prepareSheet, prepareArchive, prepareBatch, getLogger())
		if err != nil {
			return err
		}
		printPrepared(st)
		return nil
	},
}

func runPrepare(ctx context.Context, cfg *config.Config, sheetPath, archive, batchID string, logger *slog.Logger) (*orchestrator.State, error) {
	settings, err := prepareSettings(cfg)
	if err != nil {
		return nil, err
	}
	ws, err := workspace.Acquire(cfg.WorkspaceDir, batchID)
	if err != nil {
		return nil, err
	}
	st, err := orchestrator.Prepare(ctx, ws, sheetPath, archive, settings, logger)
	if err != nil {
		return st, fmt.Errorf("prepare batch %s: %w", ws.BatchID, err)
	}
	return st, nil
}

func printPrepared(st *orchestrator.State) {
	fmt.Printf("--- Prepared batch %s ---\n", st.BatchID)
	fmt.Printf("%-30s | %-40s | %-5s | %-10s | %s\n", "Destination", "Recipients", "Parts", "Size", "Status")
	fmt.Println(strings.Repeat("-", 110))
	for _, pg := range st.Packed {
		var size int64
		for _, p := range pg.Parts {
			size += p.ArchiveBytes
		}
		status := "ready"
		if !pg.Group.Dispatchable() {
			status = "blocked: " + pg.Group.Problem()
		}
		fmt.Printf("%-30s | %-40s | %-5d | %-10s | %s\n",
			pg.Group.Key.Label(), strings.Join(pg.Group.Recipients(), ", "), len(pg.Parts), util.HumanBytes(size), status)
	}
	fmt.Printf("\nGroups: %d  Parts: %d  Unmatched rows: %d  Unmatched documents: %d\n",
		len(st.Packed), st.PartCount(), len(st.Grouping.Unmatched), len(st.Grouping.UnmatchedDocuments))
	if st.Extraction != nil && len(st.Extraction.Skipped()) > 0 {
		fmt.Printf("Skipped archive entries: %d\n", len(st.Extraction.Skipped()))
	}
	fmt.Printf("Workspace: %s\n", st.Workspace.Root)
	for _, r := range st.Reports {
		fmt.Printf("Report: %s\n", r)
	}
}

func init() {
	prepareCmd.Flags().StringVarP(&prepareSheet, "sheet", "s", "", "Spreadsheet (.csv or .xlsx) with key, recipient and destination columns")
	prepareCmd.Flags().StringVarP(&prepareArchive, "archive", "a", "", "ZIP archive path or http(s) URL")
	prepareCmd.Flags().StringVar(&prepareBatch, "batch", "", "Batch id (default: a new timestamped id)")
	_ = prepareCmd.MarkFlagRequired("sheet")
	_ = prepareCmd.MarkFlagRequired("archive")
}
