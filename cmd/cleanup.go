package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brensch/zipmailer/internal/workspace"
)

var (
	cleanupBatch string
	cleanupAll   bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete prepared batch workspaces",
	Long: `Removes the extracted documents, parts and reports of one batch (the latest by default)
or of every batch with --all. The send log is not touched, but resume can no longer find
the deleted parts.`,
	Annotations: map[string]string{skipLedger: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		logger := getLogger()

		var ids []string
		if cleanupAll {
			all, err := workspace.List(cfg.WorkspaceDir)
			if err != nil {
				return err
			}
			ids = all
		} else {
			ws, err := openBatch(cfg, cleanupBatch)
			if err != nil {
				return err
			}
			ids = []string{ws.BatchID}
		}

		var errs error
		for _, id := range ids {
			ws, err := workspace.Open(cfg.WorkspaceDir, id)
			if err == nil {
				err = ws.Release()
			}
			if err != nil {
				errs = errors.Join(errs, err)
				continue
			}
			logger.Info("Removed batch workspace.", "batch", id, "path", ws.Root)
			fmt.Printf("Removed %s\n", ws.Root)
		}
		return errs
	},
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupBatch, "batch", "", "Batch id to remove (default: latest prepared batch)")
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Remove every batch")
}
