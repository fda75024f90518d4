package report

import (
	"strconv"
	"strings"
	"time"

	"github.com/brensch/zipmailer/internal/extractor"
	"github.com/brensch/zipmailer/internal/grouper"
	"github.com/brensch/zipmailer/internal/ledger"
	"github.com/brensch/zipmailer/internal/util"
)

// MatchReport has one row per input record. pages maps document paths to page
// counts and may be nil.
func MatchReport(rows []grouper.RowOutcome, pages map[string]int) Dataset {
	ds := Dataset{
		Name:    "match_report",
		Title:   "Match report",
		Headers: []string{"Row", "Match Key", "Matched", "Match Kind", "Document", "Pages", "Recipients", "Rejected", "Destination", "Reason"},
	}
	for _, r := range rows {
		pageText := ""
		if n, ok := pages[r.DocumentPath]; ok && r.Matched {
			pageText = strconv.Itoa(n)
		}
		ds.Rows = append(ds.Rows, map[string]string{
			"Row":         strconv.Itoa(r.Row),
			"Match Key":   r.MatchKey,
			"Matched":     yesNo(r.Matched),
			"Match Kind":  string(r.Kind),
			"Document":    r.DocumentName,
			"Pages":       pageText,
			"Recipients":  strings.Join(r.Recipients, "; "),
			"Rejected":    strings.Join(r.Rejected, "; "),
			"Destination": r.Destination,
			"Reason":      r.Reason,
		})
	}
	return ds
}

// GroupSummary has one row per group with its dispatch status.
func GroupSummary(groups []*grouper.Group) Dataset {
	ds := Dataset{
		Name:    "group_summary",
		Title:   "Group summary",
		Headers: []string{"Destination", "Recipients", "Documents", "Total Size", "Status", "Problem"},
	}
	for _, g := range groups {
		status := "ready"
		if !g.Dispatchable() {
			status = "blocked"
		}
		ds.Rows = append(ds.Rows, map[string]string{
			"Destination": g.Key.Destination,
			"Recipients":  strings.Join(g.Recipients(), "; "),
			"Documents":   strconv.Itoa(len(g.Documents)),
			"Total Size":  util.HumanBytes(g.TotalBytes()),
			"Status":      status,
			"Problem":     g.Problem(),
		})
	}
	return ds
}

// PartRow is one prepared part for the parts summary.
type PartRow struct {
	Destination string
	Recipients  []string
	Ordinal     int
	Total       int
	FileName    string
	SizeBytes   int64
	Documents   int
	Oversized   bool
}

// PartsSummary lists every prepared part.
func PartsSummary(parts []PartRow) Dataset {
	ds := Dataset{
		Name:    "parts_summary",
		Title:   "Prepared parts",
		Headers: []string{"Destination", "Recipients", "Part", "File", "Size", "Documents", "Oversized"},
	}
	for _, p := range parts {
		ds.Rows = append(ds.Rows, map[string]string{
			"Destination": p.Destination,
			"Recipients":  strings.Join(p.Recipients, "; "),
			"Part":        strconv.Itoa(p.Ordinal) + "/" + strconv.Itoa(p.Total),
			"File":        p.FileName,
			"Size":        util.HumanBytes(p.SizeBytes),
			"Documents":   strconv.Itoa(p.Documents),
			"Oversized":   yesNo(p.Oversized),
		})
	}
	return ds
}

// Extraction lists archive entries that were skipped.
func Extraction(outcomes []extractor.Outcome) Dataset {
	ds := Dataset{
		Name:    "extraction_skips",
		Title:   "Skipped archive entries",
		Headers: []string{"Entry", "Reason", "Error"},
	}
	for _, o := range outcomes {
		if o.Status != extractor.StatusSkipped {
			continue
		}
		errText := ""
		if o.Err != nil {
			errText = o.Err.Error()
		}
		ds.Rows = append(ds.Rows, map[string]string{"Entry": o.Entry, "Reason": o.Reason, "Error": errText})
	}
	return ds
}

// SendLog renders ledger rows.
func SendLog(entries []ledger.Entry) Dataset {
	ds := Dataset{
		Name:    "send_log",
		Title:   "Send log",
		Headers: []string{"ID", "Time", "Batch", "Destination", "Recipients", "Sent To", "Part", "File", "Documents", "Status", "Error", "Resolves"},
	}
	for _, e := range entries {
		resolves := ""
		if e.ResolvesID != 0 {
			resolves = strconv.FormatInt(e.ResolvesID, 10)
		}
		ds.Rows = append(ds.Rows, map[string]string{
			"ID":          strconv.FormatInt(e.ID, 10),
			"Time":        e.CreatedAt.UTC().Format(time.RFC3339),
			"Batch":       e.BatchID,
			"Destination": e.Destination,
			"Recipients":  strings.Join(e.Recipients, "; "),
			"Sent To":     strings.Join(e.SendTo, "; "),
			"Part":        e.Part,
			"File":        e.FileName,
			"Documents":   strconv.Itoa(e.DocCount),
			"Status":      string(e.Status),
			"Error":       e.Error,
			"Resolves":    resolves,
		})
	}
	return ds
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
