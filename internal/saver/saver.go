package saver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // Register DuckDB driver
)

// SaveTablesToParquet copies every table of a DuckDB database to
// <outDir>/<table>.parquet and returns the written paths. A failing table does
// not stop the others; failures are joined.
func SaveTablesToParquet(ctx context.Context, db *sql.DB, outDir string, logger *slog.Logger) ([]string, error) {
	logger.Info("--- Starting DuckDB Table to Parquet Save Process ---")
	start := time.Now()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory '%s': %w", outDir, err)
	}

	tables, err := listTables(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		logger.Info("No user tables found in the database to save.")
		return nil, nil
	}

	var (
		paths []string
		errs  error
	)
	for _, tn := range tables {
		if err := ctx.Err(); err != nil {
			logger.Warn("Context cancelled before saving all tables.", "error", err)
			return paths, errors.Join(errs, err)
		}
		safeFilename := strings.ReplaceAll(strings.ReplaceAll(tn, `"`, ""), "/", "_")
		out := filepath.Join(outDir, safeFilename+".parquet")
		if err := SaveTableToParquet(ctx, db, tn, out, logger); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		paths = append(paths, out)
	}

	if errs != nil {
		logger.Error("Save process completed with errors.", "error", errs)
		return paths, errs
	}
	logger.Info("--- DuckDB Table to Parquet Save Process Finished ---",
		slog.Int("tables", len(paths)),
		slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return paths, nil
}

// SaveTableToParquet runs a DuckDB COPY of one table to outPath.
func SaveTableToParquet(ctx context.Context, db *sql.DB, table, outPath string, logger *slog.Logger) error {
	l := logger.With(slog.String("table", table))

	duckdbFilePath := strings.ReplaceAll(outPath, `\`, `/`) // DuckDB needs forward slashes
	quotedTableName := fmt.Sprintf(`"%s"`, strings.ReplaceAll(table, `"`, `""`))
	copySQL := fmt.Sprintf(`COPY %s TO '%s' (FORMAT PARQUET);`,
		quotedTableName,
		strings.ReplaceAll(duckdbFilePath, "'", "''"),
	)

	l.Debug("Executing COPY TO command.", slog.String("output_path", outPath))
	if _, err := db.ExecContext(ctx, copySQL); err != nil {
		l.Error("Failed to save table to Parquet.", "error", err)
		return fmt.Errorf("save %s: %w", table, err)
	}
	l.Info("Saved table to Parquet.", slog.String("output_path", outPath))
	return nil
}

func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `PRAGMA show_tables;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return names, nil
}
