package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brensch/zipmailer/internal/config"
	"github.com/brensch/zipmailer/internal/ledger"
)

// skipLedger marks commands that never touch the send log.
const skipLedger = "skip-ledger"

var (
	// Config flags - bound in init()
	cfgFile      string
	workspaceDir string
	ledgerDriver string
	ledgerPath   string
	logFormat    string
	logLevel     string
	logOutput    string

	// Global instances populated in PersistentPreRunE
	rootLogger  *slog.Logger
	dbConn      *sql.DB
	ledgerStore *ledger.Store
	appConfig   *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zipmailer",
	Short: "Match spreadsheet rows to PDFs in a nested ZIP and mail them in size-bounded parts.",
	Long: `zipmailer extracts documents from a (possibly nested) ZIP archive, matches them to
spreadsheet rows, groups them by destination and recipients, repacks every group into
attachments under a size ceiling, and mails them with a durable send log.

The usual flow is 'prepare' followed by 'send'; 'run' does both. A crashed or
cancelled send is finished with 'resume'. Every attempt is recorded in the ledger,
which 'history', 'stats' and 'export-log' read.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// --- 1. Load Config (defaults, file, .env, env, flags) ---
		cfg, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		appConfig = cfg

		// --- 2. Initialize Logger ---
		logger, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		rootLogger = logger
		slog.SetDefault(rootLogger)
		rootLogger.Debug("Configuration loaded",
			slog.String("workspace_dir", cfg.WorkspaceDir),
			slog.String("ledger_driver", cfg.Ledger.Driver),
			slog.Bool("test_mode", cfg.Dispatch.TestMode))

		if cmd.Annotations[skipLedger] == "true" {
			return nil
		}

		// --- 3. Open the send ledger ---
		dialect, err := ledger.ParseDialect(cfg.Ledger.Driver)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		rootLogger.Debug("Opening send ledger", "driver", dialect, "path", cfg.Ledger.Path)
		dbConn, err = ledger.Connect(ctx, dialect, cfg.Ledger.Path)
		if err != nil {
			return err
		}
		ledgerStore, err = ledger.Open(ctx, dbConn, dialect)
		if err != nil {
			dbConn.Close()
			dbConn = nil
			return fmt.Errorf("failed to initialize ledger schema: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		closeLedger()
		return nil
	},
}

// closeLedger closes the ledger connection if one is open. Cobra skips the
// post-run hook when a command fails, so Execute calls it as well.
func closeLedger() {
	if dbConn == nil {
		return
	}
	if err := dbConn.Close(); err != nil {
		getLogger().Error("Failed to close ledger connection cleanly", "error", err)
	}
	dbConn = nil
	ledgerStore = nil
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var logWriter io.Writer = os.Stderr
	if out := strings.ToLower(cfg.Output); out != "" && out != "stderr" {
		if out == "stdout" {
			logWriter = os.Stdout
		} else {
			// The handle stays open for the life of the process.
			f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
			}
			logWriter = f
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(logWriter, opts)
	} else {
		handler = slog.NewTextHandler(logWriter, opts)
	}
	return slog.New(handler), nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.AddCommand(prepareCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(clearLogCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(exportLogCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(cleanupCmd)

	err := rootCmd.Execute()
	closeLedger()
	if err != nil {
		if rootLogger != nil {
			rootLogger.Error("Command execution failed", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (values also come from .env and ZIPMAILER_* variables)")
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace-dir", "w", "./zipmailer_workspace", "Directory holding one subdirectory per prepared batch")
	rootCmd.PersistentFlags().StringVar(&ledgerDriver, "ledger-driver", "duckdb", "Send log database (duckdb or sqlite3)")
	rootCmd.PersistentFlags().StringVarP(&ledgerPath, "ledger-path", "d", "./zipmailer_ledger.duckdb", "Path to the send log database file (:memory: for in-memory)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")

	rootCmd.Version = "0.1.0"
}

func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

func getLedger() *ledger.Store { return ledgerStore }

func getDB() *sql.DB { return dbConn }

func getConfig() *config.Config { return appConfig }
