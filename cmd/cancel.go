package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brensch/zipmailer/internal/stopflag"
)

var cancelBatch string

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Ask a running send in another process to stop",
	Long: `Raises the Redis stop flag for a batch (the latest by default). The running send stops
before its next message; rows already logged stay. Needs cancel.redis_addr.`,
	Annotations: map[string]string{skipLedger: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		cfg := getConfig()
		if cfg.Cancel.RedisAddr == "" {
			return errors.New("cancel.redis_addr is not configured; stop the send with Ctrl+C instead")
		}
		batchID := cancelBatch
		if batchID == "" {
			ws, err := openBatch(cfg, "")
			if err != nil {
				return err
			}
			batchID = ws.BatchID
		}

		rdb, err := stopflag.Connect(ctx, cfg.Cancel.RedisAddr, cfg.Cancel.RedisPassword, cfg.Cancel.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		if err := stopflag.New(rdb, batchID, cfg.Cancel.TTL, getLogger()).Raise(ctx); err != nil {
			return err
		}
		fmt.Printf("Stop requested for batch %s.\n", batchID)
		return nil
	},
}

func init() {
	cancelCmd.Flags().StringVar(&cancelBatch, "batch", "", "Batch id to stop (default: latest prepared batch)")
}
