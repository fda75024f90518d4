package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/brensch/zipmailer/internal/app"
	"github.com/brensch/zipmailer/internal/config"
	"github.com/brensch/zipmailer/internal/dispatch"
	"github.com/brensch/zipmailer/internal/orchestrator"
	"github.com/brensch/zipmailer/internal/workspace"
)

var (
	sendBatch string
	sendTUI   bool
	sendCheck bool
	sendYes   bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Mail every prepared part of a batch",
	Long: `Sends the parts listed in a prepared batch's manifest (the latest batch by default).
Every attempt is logged as pending before the transport is called and as sent or failed
afterwards. In test mode all mail goes to dispatch.test_address; a live send asks for
confirmation unless --yes is given. Ctrl+C stops after the current message.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		cfg := getConfig()
		logger := getLogger()

		if sendCheck {
			return checkSMTP(ctx, cfg, logger)
		}
		ws, err := openBatch(cfg, sendBatch)
		if err != nil {
			return err
		}
		sum, err := runSend(ctx, cfg, ws, logger)
		printSummary("Send", sum)
		return err
	},
}

func checkSMTP(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	t, err := newTransport(cfg, logger)
	if err != nil {
		return err
	}
	if err := t.Check(ctx); err != nil {
		return fmt.Errorf("smtp check failed: %w", err)
	}
	fmt.Printf("SMTP check passed: %s:%d as %s\n", cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Sender)
	return nil
}

// runSend dispatches the jobs of ws's manifest.
func runSend(ctx context.Context, cfg *config.Config, ws *workspace.Workspace, logger *slog.Logger) (dispatch.Summary, error) {
	m, err := orchestrator.LoadManifest(ws.ManifestPath())
	if err != nil {
		return dispatch.Summary{}, err
	}
	jobs := m.Jobs(ws.PartsDir())
	if !cfg.Dispatch.TestMode && !sendYes {
		if !stdinConfirm(fmt.Sprintf("LIVE send of %d parts from batch %s to real recipients.", len(jobs), ws.BatchID), "SEND") {
			return dispatch.Summary{}, errors.New("send aborted by operator")
		}
	}

	p, err := newPipeline(cfg, logger)
	if err != nil {
		return dispatch.Summary{}, err
	}
	return drive(ctx, cfg, ws.BatchID, p, logger, func(tok dispatch.Token) (dispatch.Summary, error) {
		return p.Run(ctx, ws.BatchID, jobs, tok)
	})
}

// drive runs fn with the cancel tokens wired up, under the progress view when
// --tui is set and with a log line per unit otherwise.
func drive(ctx context.Context, cfg *config.Config, batchID string, p *dispatch.Pipeline, logger *slog.Logger, fn func(dispatch.Token) (dispatch.Summary, error)) (dispatch.Summary, error) {
	local := dispatch.NewCancelToken()
	tok, release, err := cancelTokens(ctx, cfg, batchID, local, logger)
	if err != nil {
		return dispatch.Summary{}, err
	}
	defer release()

	if !sendTUI {
		p.OnEvent = func(ev dispatch.Event) {
			fmt.Printf("[%d/%d] %-8s %s %s\n", ev.Done, ev.Total, ev.Kind, ev.Job.FileName, ev.Job.Part())
		}
		return fn(tok)
	}

	model := app.NewSendModel("zipmailer send "+batchID, 0, local).
		WithRun(func() (dispatch.Summary, error) { return fn(tok) })
	p.OnEvent = model.Listener()
	if _, err := tea.NewProgram(model, tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		local.Cancel()
		return dispatch.Summary{}, fmt.Errorf("progress view: %w", err)
	}
	return model.Result()
}

func printSummary(title string, sum dispatch.Summary) {
	fmt.Printf("--- %s summary ---\n", title)
	fmt.Printf("%-12s %d\n", "Attempted:", sum.Attempted)
	fmt.Printf("%-12s %d\n", "Sent:", sum.Sent)
	fmt.Printf("%-12s %d\n", "Failed:", sum.Failed)
	if sum.Missing > 0 {
		fmt.Printf("%-12s %d\n", "Missing:", sum.Missing)
	}
	fmt.Printf("%-12s %d\n", "Blocked:", sum.Blocked)
	fmt.Printf("%-12s %d\n", "Skipped:", sum.Skipped)
	if sum.Cancelled {
		fmt.Println("Run was cancelled; finish it with 'zipmailer resume'.")
	}
}

func init() {
	sendCmd.Flags().StringVar(&sendBatch, "batch", "", "Batch id to send (default: latest prepared batch)")
	sendCmd.Flags().BoolVar(&sendTUI, "tui", false, "Show a live progress view")
	sendCmd.Flags().BoolVar(&sendCheck, "check", false, "Only connect and authenticate to the SMTP server, then exit")
	sendCmd.Flags().BoolVarP(&sendYes, "yes", "y", false, "Skip the confirmation prompt for live sends")
}
