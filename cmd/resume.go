package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/brensch/zipmailer/internal/config"
	"github.com/brensch/zipmailer/internal/dispatch"
	"github.com/brensch/zipmailer/internal/orchestrator"
	"github.com/brensch/zipmailer/internal/workspace"
)

var resumeBatch string

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Re-attempt every pending or failed send log entry of a batch",
	Long: `Finds every send log entry of the batch (the latest by default) that is still pending
(the process died mid-send) or failed, locates its part file in that batch's workspace and
sends it again to the entry's intended recipients. Entries of other batches are left open. Entries whose part file is gone are marked failed with 'file missing'; re-run
prepare to rebuild them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		cfg := getConfig()
		ws, err := openBatch(cfg, resumeBatch)
		if err != nil {
			return err
		}
		sum, err := runResume(ctx, cfg, ws, getLogger())
		printSummary("Resume", sum)
		return err
	},
}

func runResume(ctx context.Context, cfg *config.Config, ws *workspace.Workspace, logger *slog.Logger) (dispatch.Summary, error) {
	m, err := orchestrator.LoadManifest(ws.ManifestPath())
	if err != nil {
		return dispatch.Summary{}, err
	}
	p, err := newPipeline(cfg, logger)
	if err != nil {
		return dispatch.Summary{}, err
	}
	lookup := m.PartLookup(ws.PartsDir())
	return drive(ctx, cfg, ws.BatchID, p, logger, func(tok dispatch.Token) (dispatch.Summary, error) {
		return p.Resume(ctx, ws.BatchID, lookup, tok)
	})
}

func init() {
	resumeCmd.Flags().StringVar(&resumeBatch, "batch", "", "Batch whose parts resolve the open entries (default: latest prepared batch)")
	resumeCmd.Flags().BoolVar(&sendTUI, "tui", false, "Show a live progress view")
}
