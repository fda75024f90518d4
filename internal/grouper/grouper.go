package grouper

import (
	"strings"

	"github.com/brensch/zipmailer/internal/extractor"
	"github.com/brensch/zipmailer/internal/index"
)

// Unmatched reasons.
const (
	ReasonEmptyKey   = "empty match key"
	ReasonNoDocument = "no document for key"
)

// Group problems.
const (
	ProblemNoRecipients = "no valid recipients"
	ProblemNoDocuments  = "no matched documents"
)

// Record is one spreadsheet row.
type Record struct {
	Row           int // 1-based data row
	MatchKey      string
	RawRecipients string
	Destination   string
}

// Group is the unit of packing and sending.
type Group struct {
	Key       GroupKey
	Documents []extractor.Document
	MatchKeys []string // Keys of the rows that contributed, first-seen order
	Rows      []int
	seen      map[string]struct{}
}

// Recipients returns the group's address set.
func (g *Group) Recipients() []string { return g.Key.RecipientList() }

// Dispatchable reports whether the group may be sent.
func (g *Group) Dispatchable() bool { return g.Problem() == "" }

// Problem explains why a group is not dispatchable, empty when it is.
func (g *Group) Problem() string {
	switch {
	case g.Key.Recipients == "":
		return ProblemNoRecipients
	case len(g.Documents) == 0:
		return ProblemNoDocuments
	}
	return ""
}

// TotalBytes sums the document sizes.
func (g *Group) TotalBytes() int64 {
	var n int64
	for _, d := range g.Documents {
		n += d.SizeBytes
	}
	return n
}

func (g *Group) add(doc extractor.Document, key string, row int) {
	g.Rows = append(g.Rows, row)
	if _, dup := g.seen[doc.Path]; dup {
		return
	}
	g.seen[doc.Path] = struct{}{}
	g.Documents = append(g.Documents, doc)
	g.MatchKeys = append(g.MatchKeys, key)
}

// UnmatchedRecord is a row that resolved to no document.
type UnmatchedRecord struct {
	Record Record
	Reason string
}

// RowOutcome is one line of the match report.
type RowOutcome struct {
	Row          int
	MatchKey     string
	Matched      bool
	Kind         index.MatchKind
	DocumentName string
	DocumentPath string
	Recipients   []string
	Rejected     []string
	Destination  string
	Reason       string
}

// Result is the output of Build.
type Result struct {
	Groups             []*Group // First-appearance order
	Unmatched          []UnmatchedRecord
	Report             []RowOutcome
	UnmatchedDocuments []extractor.Document
}

// Dispatchable returns the groups that may be sent.
func (r *Result) Dispatchable() []*Group {
	var out []*Group
	for _, g := range r.Groups {
		if g.Dispatchable() {
			out = append(out, g)
		}
	}
	return out
}

// Blocked returns the groups flagged for operator attention.
func (r *Result) Blocked() []*Group {
	var out []*Group
	for _, g := range r.Groups {
		if !g.Dispatchable() {
			out = append(out, g)
		}
	}
	return out
}

// Build resolves every record against ix and groups the matched documents by
// (destination, recipient set). Records are never modified.
func Build(records []Record, ix *index.Index) *Result {
	res := &Result{}
	byKey := make(map[GroupKey]*Group)
	used := make(map[string]struct{})

	for _, rec := range records {
		valid, rejected := NormalizeRecipients(rec.RawRecipients)
		out := RowOutcome{
			Row:         rec.Row,
			MatchKey:    strings.TrimSpace(rec.MatchKey),
			Recipients:  valid,
			Rejected:    rejected,
			Destination: strings.TrimSpace(rec.Destination),
		}

		if out.MatchKey == "" {
			out.Reason = ReasonEmptyKey
			res.Unmatched = append(res.Unmatched, UnmatchedRecord{Record: rec, Reason: out.Reason})
			res.Report = append(res.Report, out)
			continue
		}
		m, ok := ix.Resolve(out.MatchKey)
		if !ok {
			out.Reason = ReasonNoDocument
			res.Unmatched = append(res.Unmatched, UnmatchedRecord{Record: rec, Reason: out.Reason})
			res.Report = append(res.Report, out)
			continue
		}

		out.Matched = true
		out.Kind = m.Kind
		out.DocumentName = m.Document.Name()
		out.DocumentPath = m.Document.Path
		used[m.Document.Path] = struct{}{}

		gk := NewGroupKey(rec.Destination, valid)
		g, exists := byKey[gk]
		if !exists {
			g = &Group{Key: gk, seen: make(map[string]struct{})}
			byKey[gk] = g
			res.Groups = append(res.Groups, g)
		}
		g.add(m.Document, out.MatchKey, rec.Row)
		if !g.Dispatchable() {
			out.Reason = g.Problem()
		}
		res.Report = append(res.Report, out)
	}

	for _, d := range ix.Documents() {
		if _, ok := used[d.Path]; !ok {
			res.UnmatchedDocuments = append(res.UnmatchedDocuments, d)
		}
	}
	return res
}
