package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var clearLogYes bool

var clearLogCmd = &cobra.Command{
	Use:   "clear-log",
	Short: "Delete every row of the send log",
	Long: `Empties the send log. Resume loses track of unfinished sends, so export the log first
if you need it. Asks for confirmation unless --yes is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearLogYes && !stdinConfirm("This deletes the entire send log.", "CLEAR") {
			return errors.New("clear-log aborted by operator")
		}
		if err := getLedger().Clear(context.Background()); err != nil {
			return err
		}
		getLogger().Info("Send log cleared.")
		fmt.Println("Send log cleared.")
		return nil
	},
}

func init() {
	clearLogCmd.Flags().BoolVarP(&clearLogYes, "yes", "y", false, "Skip the confirmation prompt")
}
