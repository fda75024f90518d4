package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireCreatesTreeAndMarksLatest(t *testing.T) {
	base := t.TempDir()
	ws, err := Acquire(base, "")
	require.NoError(t, err)
	require.NotEmpty(t, ws.BatchID)

	for _, d := range []string{ws.ExtractDir(), ws.PartsDir(), ws.ReportsDir()} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}

	latest, err := Latest(base)
	require.NoError(t, err)
	require.Equal(t, ws.Root, latest.Root)
	require.Equal(t, filepath.Join(ws.Root, "manifest.yaml"), latest.ManifestPath())
}

func TestOpenMissingBatch(t *testing.T) {
	_, err := Open(t.TempDir(), "nope")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = Latest(t.TempDir())
	require.ErrorIs(t, err, ErrNotFound)

	_, err = Open(t.TempDir(), "../escape")
	require.Error(t, err)
}

func TestReleaseRemovesTreeAndMarker(t *testing.T) {
	base := t.TempDir()
	older, err := Acquire(base, "a")
	require.NoError(t, err)
	newer, err := Acquire(base, "b")
	require.NoError(t, err)

	ids, err := List(base)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, older.Release())
	latest, err := Latest(base)
	require.NoError(t, err)
	require.Equal(t, "b", latest.BatchID)

	require.NoError(t, newer.Release())
	_, err = Latest(base)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = os.Stat(newer.Root)
	require.True(t, os.IsNotExist(err))
}

func TestResetExtract(t *testing.T) {
	ws, err := Acquire(t.TempDir(), "batch")
	require.NoError(t, err)
	stale := filepath.Join(ws.ExtractDir(), "old.pdf")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	require.NoError(t, ws.ResetExtract())
	_, err = os.Stat(stale)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(ws.PartsDir())
	require.NoError(t, err)
}

func TestNewBatchIDSortsByTime(t *testing.T) {
	a := NewBatchID(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	b := NewBatchID(time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC))
	require.Less(t, a, b)
	require.Regexp(t, `^20260102-030405-[0-9a-f]{8}$`, a)
}
