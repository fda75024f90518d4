package grouper

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brensch/zipmailer/internal/extractor"
	"github.com/brensch/zipmailer/internal/index"
)

const mb = 1 << 20

func delhiIndex() *index.Index {
	return index.Build([]extractor.Document{
		{Path: "/w/111.pdf", OriginalName: "111.pdf", SizeBytes: mb},
		{Path: "/w/222.pdf", OriginalName: "222.pdf", SizeBytes: mb},
	}, index.Options{})
}

func TestBuildDelhiScenario(t *testing.T) {
	records := []Record{
		{Row: 1, MatchKey: "111", RawRecipients: "a@x.com;B@X.com", Destination: "Delhi"},
		{Row: 2, MatchKey: "111", RawRecipients: "a@x.com,b@x.com", Destination: "Delhi"},
		{Row: 3, MatchKey: "222", RawRecipients: "", Destination: "Delhi"},
	}

	res := Build(records, delhiIndex())
	require.Empty(t, res.Unmatched)
	require.Len(t, res.Groups, 2)

	first := res.Groups[0]
	require.Equal(t, GroupKey{Destination: "Delhi", Recipients: "a@x.com,b@x.com"}, first.Key)
	require.Len(t, first.Documents, 1, "duplicate rows must not double the document")
	require.Equal(t, "111.pdf", first.Documents[0].Name())
	require.True(t, first.Dispatchable())
	require.Equal(t, []int{1, 2}, first.Rows)

	blocked := res.Groups[1]
	require.Equal(t, "Delhi", blocked.Key.Destination)
	require.Empty(t, blocked.Recipients())
	require.Equal(t, "222.pdf", blocked.Documents[0].Name())
	require.False(t, blocked.Dispatchable())
	require.Equal(t, ProblemNoRecipients, blocked.Problem())

	require.Len(t, res.Dispatchable(), 1)
	require.Len(t, res.Blocked(), 1)
	require.Len(t, res.Report, 3)
	require.Equal(t, ProblemNoRecipients, res.Report[2].Reason)
	require.Empty(t, res.UnmatchedDocuments)
}

func TestBuildIsIdempotentAndOrderInsensitive(t *testing.T) {
	ix := delhiIndex()
	a := Build([]Record{{Row: 1, MatchKey: "111", RawRecipients: "b@x.com; a@x.com", Destination: "Pune"}}, ix)
	b := Build([]Record{{Row: 1, MatchKey: "111", RawRecipients: "A@X.COM\nb@x.com", Destination: "Pune"}}, ix)
	again := Build([]Record{{Row: 1, MatchKey: "111", RawRecipients: "b@x.com; a@x.com", Destination: "Pune"}}, ix)

	require.Equal(t, a.Groups[0].Key, b.Groups[0].Key)
	require.Equal(t, a.Groups[0].Documents, b.Groups[0].Documents)
	require.Equal(t, a.Groups[0].Key, again.Groups[0].Key)
	require.Equal(t, a.Groups[0].Documents, again.Groups[0].Documents)
}

func TestBuildReportsUnmatched(t *testing.T) {
	res := Build([]Record{
		{Row: 1, MatchKey: "", RawRecipients: "a@x.com", Destination: "Delhi"},
		{Row: 2, MatchKey: "999", RawRecipients: "a@x.com", Destination: "Delhi"},
	}, delhiIndex())

	require.Empty(t, res.Groups)
	require.Len(t, res.Unmatched, 2)
	require.Equal(t, ReasonEmptyKey, res.Unmatched[0].Reason)
	require.Equal(t, ReasonNoDocument, res.Unmatched[1].Reason)
	require.False(t, res.Report[1].Matched)
	require.Len(t, res.UnmatchedDocuments, 2)
}

func TestNormalizeRecipients(t *testing.T) {
	valid, rejected := NormalizeRecipients(" Alice <Alice@Example.org>; bob@x.co ,not-an-email\r\nbob@x.co;x@y;  ")
	require.Equal(t, []string{"alice@example.org", "bob@x.co"}, valid)
	require.Equal(t, []string{"not-an-email", "x@y"}, rejected)

	valid, rejected = NormalizeRecipients("")
	require.Empty(t, valid)
	require.Empty(t, rejected)
}

func TestGroupKeyLabel(t *testing.T) {
	require.Equal(t, "Delhi", NewGroupKey(" Delhi ", nil).Label())
	require.Equal(t, "a@x.com", NewGroupKey("", []string{"b@x.com", "a@x.com"}).Label())
	require.Equal(t, "unassigned", NewGroupKey("", nil).Label())
}
