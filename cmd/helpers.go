package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brensch/zipmailer/internal/config"
	"github.com/brensch/zipmailer/internal/dispatch"
	"github.com/brensch/zipmailer/internal/extractor"
	"github.com/brensch/zipmailer/internal/index"
	"github.com/brensch/zipmailer/internal/mailer"
	"github.com/brensch/zipmailer/internal/orchestrator"
	"github.com/brensch/zipmailer/internal/packer"
	"github.com/brensch/zipmailer/internal/report"
	"github.com/brensch/zipmailer/internal/sheet"
	"github.com/brensch/zipmailer/internal/stopflag"
	"github.com/brensch/zipmailer/internal/util"
	"github.com/brensch/zipmailer/internal/workspace"
)

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// openBatch opens batchID, or the latest prepared batch when empty.
func openBatch(cfg *config.Config, batchID string) (*workspace.Workspace, error) {
	if batchID == "" {
		return workspace.Latest(cfg.WorkspaceDir)
	}
	return workspace.Open(cfg.WorkspaceDir, batchID)
}

func prepareSettings(cfg *config.Config) (orchestrator.Settings, error) {
	formats, err := report.ParseFormats(cfg.Reports.Formats)
	if err != nil {
		return orchestrator.Settings{}, err
	}
	return orchestrator.Settings{
		Extract: extractor.Options{
			ContainerExt: cfg.Archive.ContainerExt,
			PayloadExt:   cfg.Archive.PayloadExt,
			MaxDepth:     cfg.Archive.MaxDepth,
		},
		Index: index.Options{
			Fuzzy:       cfg.Matching.Fuzzy,
			MinFuzzyLen: cfg.Matching.MinFuzzyLen,
			PayloadExt:  cfg.Archive.PayloadExt,
		},
		Sheet: sheet.Options{
			Columns: sheet.Columns{
				Key:         cfg.Sheet.KeyColumn,
				Recipients:  cfg.Sheet.RecipientsColumn,
				Destination: cfg.Sheet.DestinationColumn,
			},
			Sheet: cfg.Sheet.Name,
		},
		Packer: packer.Packer{
			CeilingBytes:   cfg.Packing.CeilingBytes(),
			Compression:    packer.Compression(cfg.Packing.Compression),
			MeasureArchive: cfg.Packing.MeasureArchive,
		},
		Formats:    formats,
		PageCounts: cfg.Reports.PageCounts,
		HTTPClient: util.DefaultHTTPClient(),
	}, nil
}

func newTransport(cfg *config.Config, logger *slog.Logger) (*mailer.SMTP, error) {
	return mailer.New(mailer.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		SSL:      cfg.SMTP.SSL,
		StartTLS: cfg.SMTP.StartTLS,
		Sender:   cfg.SMTP.Sender,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		Timeout:  cfg.SMTP.Timeout,
	}, logger)
}

// newPipeline wires the ledger, the SMTP transport and the templates.
func newPipeline(cfg *config.Config, logger *slog.Logger) (*dispatch.Pipeline, error) {
	if err := cfg.ValidateForSend(); err != nil {
		return nil, err
	}
	transport, err := newTransport(cfg, logger)
	if err != nil {
		return nil, err
	}
	composer, err := dispatch.NewComposer(cfg.Mail.Subject, cfg.Mail.Body, cfg.Mail.HTML, cfg.Mail.Footer)
	if err != nil {
		return nil, err
	}
	return dispatch.New(getLedger(), transport, composer, dispatch.Options{
		Delay:              cfg.Dispatch.Delay,
		ReconnectEvery:     cfg.Dispatch.ReconnectEvery,
		TestMode:           cfg.Dispatch.TestMode,
		TestAddress:        cfg.Dispatch.TestAddress,
		FanOut:             cfg.Mail.FanOut,
		StopGroupOnFailure: cfg.Dispatch.StopGroupOnFailure,
	}, logger), nil
}

// cancelTokens combines the in-process token with the Redis stop flag for
// batchID when one is configured. The returned func releases the Redis client.
func cancelTokens(ctx context.Context, cfg *config.Config, batchID string, local *dispatch.CancelToken, logger *slog.Logger) (dispatch.Token, func(), error) {
	if cfg.Cancel.RedisAddr == "" {
		return local, func() {}, nil
	}
	rdb, err := stopflag.Connect(ctx, cfg.Cancel.RedisAddr, cfg.Cancel.RedisPassword, cfg.Cancel.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	flag := stopflag.New(rdb, batchID, cfg.Cancel.TTL, logger)
	if err := flag.Clear(ctx); err != nil {
		rdb.Close()
		return nil, nil, err
	}
	return dispatch.AnyToken{local, flag}, func() { rdb.Close() }, nil
}

// confirm asks the operator to type word before a destructive or live action.
func confirm(in io.Reader, out io.Writer, prompt, word string) bool {
	fmt.Fprintf(out, "%s\nType %q to continue: ", prompt, word)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.TrimSpace(line) == word
}

func stdinConfirm(prompt, word string) bool {
	return confirm(os.Stdin, os.Stdout, prompt, word)
}
