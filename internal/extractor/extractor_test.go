package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type entry struct {
	name string
	data []byte
}

func buildZip(t *testing.T, entries ...entry) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// buildCorruptZip stores one entry with a deliberately wrong CRC so reading it fails.
func buildCorruptZip(t *testing.T, good entry, badName string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	w, err := zw.Create(good.name)
	require.NoError(t, err)
	_, err = w.Write(good.data)
	require.NoError(t, err)

	payload := []byte("%PDF-1.4 broken")
	raw, err := zw.CreateRaw(&zip.FileHeader{
		Name:               badName,
		Method:             zip.Store,
		CRC32:              crc32.ChecksumIEEE(payload) + 1,
		CompressedSize64:   uint64(len(payload)),
		UncompressedSize64: uint64(len(payload)),
	})
	require.NoError(t, err)
	_, err = raw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExtractNestedArchiveYieldsSingleDocument(t *testing.T) {
	inner := buildZip(t, entry{"111.pdf", []byte("%PDF inner")})
	outer := buildZip(t, entry{"batch/inner.zip", inner})

	res, err := Extract(context.Background(), outer, t.TempDir(), Options{}, testLogger())
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)

	doc := res.Documents[0]
	require.Equal(t, "111.pdf", doc.Name())
	require.Equal(t, filepath.Join(res.Root, "inner"), filepath.Dir(doc.Path))
	require.Equal(t, int64(len("%PDF inner")), doc.SizeBytes)

	content, err := os.ReadFile(doc.Path)
	require.NoError(t, err)
	require.Equal(t, "%PDF inner", string(content))
}

func TestExtractSameNameAtDifferentLevelsDoesNotCollide(t *testing.T) {
	innerA := buildZip(t, entry{"doc.pdf", []byte("a")})
	innerB := buildZip(t, entry{"doc.pdf", []byte("bb")})
	outer := buildZip(t,
		entry{"doc.pdf", []byte("top")},
		entry{"x/inner.zip", innerA},
		entry{"y/inner.zip", innerB},
	)

	res, err := Extract(context.Background(), outer, t.TempDir(), Options{}, testLogger())
	require.NoError(t, err)
	require.Len(t, res.Documents, 3)

	seen := map[string]bool{}
	for _, d := range res.Documents {
		require.False(t, seen[d.Path], "duplicate path %s", d.Path)
		seen[d.Path] = true
		_, statErr := os.Stat(d.Path)
		require.NoError(t, statErr)
	}
	// Both nested archives are named inner.zip, so the second one gets a renamed directory.
	require.NotEqual(t, filepath.Dir(res.Documents[1].Path), filepath.Dir(res.Documents[2].Path))
}

func TestExtractCollisionInSameDirectoryAppendsSuffix(t *testing.T) {
	outer := buildZip(t,
		entry{"a/111.pdf", []byte("first")},
		entry{"b/111.pdf", []byte("second")},
		entry{"c/111.pdf", []byte("third")},
	)

	res, err := Extract(context.Background(), outer, t.TempDir(), Options{}, testLogger())
	require.NoError(t, err)
	require.Len(t, res.Documents, 3)
	require.Equal(t, "111.pdf", res.Documents[0].Name())
	require.NotEqual(t, res.Documents[1].Path, res.Documents[2].Path)
	require.Regexp(t, `^111_\d+\.pdf$`, res.Documents[1].Name())
	require.Regexp(t, `^111_\d+\.pdf$`, res.Documents[2].Name())

	first, err := os.ReadFile(res.Documents[0].Path)
	require.NoError(t, err)
	require.Equal(t, "first", string(first), "collision must not overwrite")
}

func TestExtractSkipsCorruptEntryAndContinues(t *testing.T) {
	data := buildCorruptZip(t, entry{"ok_222.pdf", []byte("fine")}, "bad_333.pdf")

	res, err := Extract(context.Background(), data, t.TempDir(), Options{}, testLogger())
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	require.Equal(t, "ok_222.pdf", res.Documents[0].Name())

	skipped := res.Skipped()
	require.Len(t, skipped, 1)
	require.Equal(t, "bad_333.pdf", skipped[0].Entry)
	require.Equal(t, ReasonEntryUnreadable, skipped[0].Reason)
	require.Error(t, skipped[0].Err)
}

func TestExtractMalformedNestedArchiveAbandonsOnlySubtree(t *testing.T) {
	outer := buildZip(t,
		entry{"broken.zip", []byte("not a zip at all")},
		entry{"555.pdf", []byte("ok")},
	)

	res, err := Extract(context.Background(), outer, t.TempDir(), Options{}, testLogger())
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	skipped := res.Skipped()
	require.Len(t, skipped, 1)
	require.Equal(t, ReasonNestedUnreadable, skipped[0].Reason)
}

func TestExtractIgnoresOtherEntryTypes(t *testing.T) {
	outer := buildZip(t,
		entry{"readme.txt", []byte("hello")},
		entry{"folder/", nil},
		entry{"UPPER_777.PDF", []byte("x")},
	)

	res, err := Extract(context.Background(), outer, t.TempDir(), Options{}, testLogger())
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	require.Len(t, res.Outcomes, 1)
	require.Equal(t, "UPPER_777.PDF", res.Documents[0].Name())
}

func TestExtractTopLevelUnreadable(t *testing.T) {
	res, err := Extract(context.Background(), []byte("garbage"), t.TempDir(), Options{}, testLogger())
	require.ErrorIs(t, err, ErrArchiveUnreadable)
	require.Nil(t, res)
}

func TestExtractMaxDepth(t *testing.T) {
	level3 := buildZip(t, entry{"deep_3.pdf", []byte("3")})
	level2 := buildZip(t, entry{"l3.zip", level3}, entry{"mid_2.pdf", []byte("2")})
	outer := buildZip(t, entry{"l2.zip", level2})

	res, err := Extract(context.Background(), outer, t.TempDir(), Options{MaxDepth: 2}, testLogger())
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	require.Equal(t, "mid_2.pdf", res.Documents[0].Name())
	require.Equal(t, ReasonDepthExceeded, res.Skipped()[0].Reason)
}

func TestExtractCustomExtensions(t *testing.T) {
	outer := buildZip(t,
		entry{"a_1.jpg", []byte("img")},
		entry{"b_2.pdf", []byte("pdf")},
	)

	res, err := Extract(context.Background(), outer, t.TempDir(), Options{PayloadExt: "jpg"}, testLogger())
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	require.Equal(t, "a_1.jpg", res.Documents[0].Name())
}

func TestExtractHonoursCancellation(t *testing.T) {
	outer := buildZip(t, entry{"1.pdf", []byte("1")}, entry{"2.pdf", []byte("2")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Extract(ctx, outer, t.TempDir(), Options{}, testLogger())
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	require.Empty(t, res.Documents)
}
