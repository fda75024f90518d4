package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/brensch/zipmailer/internal/config"
	"github.com/brensch/zipmailer/internal/ledger"
)

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	require.True(t, confirm(strings.NewReader("SEND\n"), &out, "Live send.", "SEND"))
	require.Contains(t, out.String(), `Type "SEND" to continue`)
	require.False(t, confirm(strings.NewReader("send\n"), &out, "Live send.", "SEND"))
	require.False(t, confirm(strings.NewReader(""), &out, "Live send.", "SEND"))
}

func TestPrintHistoryAndStats(t *testing.T) {
	color.NoColor = true
	entries := []ledger.Entry{
		{ID: 2, CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), Destination: "Delhi",
			Recipients: []string{"a@x.com"}, SendTo: []string{"qa@x.com"}, FileName: "Delhi_1of1.zip",
			Part: "1/1", Status: ledger.StatusSent, ResolvesID: 1},
	}
	var buf bytes.Buffer
	printHistory(&buf, entries, 10)
	require.Contains(t, buf.String(), "Delhi_1of1.zip")
	require.Contains(t, buf.String(), "resolves #1")
	require.Contains(t, buf.String(), "sent to qa@x.com")
	require.Contains(t, buf.String(), "Displayed 1 records.")

	buf.Reset()
	printStats(&buf, ledger.Stats{Total: 3, Sent: 1, Pending: 1, Failed: 1})
	require.Contains(t, buf.String(), "Pending:   1")
	require.Contains(t, buf.String(), "zipmailer resume")
}

func TestCollectDocuments(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "unzip_1", "inner"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "unzip_1", "111.pdf"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "unzip_1", "inner", "222.PDF"), []byte("bb"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "unzip_1", "notes.txt"), []byte("x"), 0o644))

	docs, err := collectDocuments(root, ".pdf")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, int64(2), docs[1].SizeBytes)
}

func TestPrepareSettingsFromConfig(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.Reports.Formats = []string{"csv", "parquet"}

	s, err := prepareSettings(cfg)
	require.NoError(t, err)
	require.Equal(t, int64(3<<20), s.Packer.CeilingBytes)
	require.Equal(t, ".pdf", s.Index.PayloadExt)
	require.Len(t, s.Formats, 2)

	cfg.Reports.Formats = []string{"xml"}
	_, err = prepareSettings(cfg)
	require.Error(t, err)
}

func TestCloseLedgerReleasesConnection(t *testing.T) {
	ctx := context.Background()
	db, err := ledger.Connect(ctx, ledger.SQLite, ":memory:")
	require.NoError(t, err)
	store, err := ledger.Open(ctx, db, ledger.SQLite)
	require.NoError(t, err)
	dbConn, ledgerStore = db, store

	closeLedger()
	require.Nil(t, dbConn)
	require.Nil(t, ledgerStore)
	require.Error(t, db.PingContext(ctx), "connection is closed")

	closeLedger()
}
