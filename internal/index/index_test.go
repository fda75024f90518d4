package index

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brensch/zipmailer/internal/extractor"
)

func doc(path string) extractor.Document {
	return extractor.Document{Path: path, OriginalName: path, SizeBytes: 10}
}

func TestDeriveKey(t *testing.T) {
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"1036_17_802871022.pdf", "802871022", true},
		{"/tmp/unzip_1/inner/HT2024-00123.PDF", "00123", true},
		{"nodigits.pdf", "", false},
		{"abc123def.pdf", "123", true},
		{"2024report_final.pdf", "2024", true},
		{"v2.backup.pdf", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DeriveKey(tt.name)
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestBuildTracksUnindexableAndCollisions(t *testing.T) {
	first := doc("/w/a/x_111.pdf")
	second := doc("/w/b/y_111.pdf")
	plain := doc("/w/readme.pdf")

	ix := Build([]extractor.Document{first, plain, second}, Options{})
	require.Equal(t, 1, ix.Keys())
	require.Equal(t, []extractor.Document{plain}, ix.Unindexable)
	require.Len(t, ix.Collisions, 1)
	require.Equal(t, "111", ix.Collisions[0].Key)
	require.Equal(t, first, ix.Collisions[0].Replaced)

	m, ok := ix.Resolve("111")
	require.True(t, ok)
	require.Equal(t, second, m.Document, "last write wins")
	require.Equal(t, MatchKey, m.Kind)
}

func TestResolvePrecedence(t *testing.T) {
	byName := doc("/w/555.pdf")
	byKey := doc("/w/hall_ticket_555.pdf")
	// byKey is indexed last so it owns key 555, but the exact name still wins.
	ix := Build([]extractor.Document{byName, byKey}, Options{})

	m, ok := ix.Resolve("555")
	require.True(t, ok)
	require.Equal(t, MatchName, m.Kind)
	require.Equal(t, byName, m.Document)

	m, ok = ix.Resolve("HALL_TICKET_555.pdf")
	require.True(t, ok)
	require.Equal(t, MatchName, m.Kind)
	require.Equal(t, byKey, m.Document)
}

func TestResolveDerivesKeyFromMatchKey(t *testing.T) {
	d := doc("/w/1036_17_802871022.pdf")
	ix := Build([]extractor.Document{d}, Options{})

	m, ok := ix.Resolve(" HT-802871022 ")
	require.True(t, ok)
	require.Equal(t, MatchKey, m.Kind)
	require.Equal(t, d, m.Document)

	_, ok = ix.Resolve("")
	require.False(t, ok)
	_, ok = ix.Resolve("999")
	require.False(t, ok)
}

func TestResolveFuzzyIsOptIn(t *testing.T) {
	long := doc("/w/candidate_ABCD_extra.pdf")
	short := doc("/w/ABCD_x.pdf")
	tie := doc("/w/ABCD_a.pdf")
	docs := []extractor.Document{long, short, tie}

	strict := Build(docs, Options{})
	_, ok := strict.Resolve("abcd")
	require.False(t, ok)

	fuzzy := Build(docs, Options{Fuzzy: true})
	m, ok := fuzzy.Resolve("abcd")
	require.True(t, ok)
	require.Equal(t, MatchFuzzy, m.Kind)
	require.Equal(t, tie, m.Document, "shortest name, ties broken lexicographically")

	_, ok = fuzzy.Resolve("abc")
	require.False(t, ok, "keys shorter than the minimum never fall back")
}
