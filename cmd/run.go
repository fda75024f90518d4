package cmd

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Prepare a batch and send it",
	Long: `Runs 'prepare' and then 'send' on the new batch. Nothing is sent when preparation
fails. Blocked groups are reported and skipped; the rest go out in order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		cfg := getConfig()
		logger := getLogger()

		st, err := runPrepare(ctx, cfg, prepareSheet, prepareArchive, prepareBatch, logger)
		if err != nil {
			return err
		}
		printPrepared(st)

		sum, err := runSend(ctx, cfg, st.Workspace, logger)
		printSummary("Send", sum)
		return err
	},
}

func init() {
	runCmd.Flags().StringVarP(&prepareSheet, "sheet", "s", "", "Spreadsheet (.csv or .xlsx) with key, recipient and destination columns")
	runCmd.Flags().StringVarP(&prepareArchive, "archive", "a", "", "ZIP archive path or http(s) URL")
	runCmd.Flags().StringVar(&prepareBatch, "batch", "", "Batch id (default: a new timestamped id)")
	runCmd.Flags().BoolVar(&sendTUI, "tui", false, "Show a live progress view")
	runCmd.Flags().BoolVarP(&sendYes, "yes", "y", false, "Skip the confirmation prompt for live sends")
	_ = runCmd.MarkFlagRequired("sheet")
	_ = runCmd.MarkFlagRequired("archive")
}
