package grouper

import (
	"net/mail"
	"regexp"
	"sort"
	"strings"
)

var (
	recipientSplit = regexp.MustCompile(`[,;\r\n]+`)
	addressPattern = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)
)

// NormalizeRecipients splits raw recipient text and keeps valid addresses,
// lower-cased and de-duplicated in first-seen order. Rejected tokens are returned as given.
func NormalizeRecipients(raw string) (valid, rejected []string) {
	seen := make(map[string]struct{})
	for _, tok := range recipientSplit.Split(raw, -1) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		addr := strings.ToLower(tok)
		if !addressPattern.MatchString(addr) {
			// "Name <addr>" forms
			parsed, err := mail.ParseAddress(tok)
			if err != nil || !addressPattern.MatchString(strings.ToLower(parsed.Address)) {
				rejected = append(rejected, tok)
				continue
			}
			addr = strings.ToLower(parsed.Address)
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		valid = append(valid, addr)
	}
	return valid, rejected
}

// GroupKey identifies a group. Recipients holds the sorted, comma-joined address set,
// so two keys are equal exactly when destination and address set are equal.
type GroupKey struct {
	Destination string
	Recipients  string
}

// NewGroupKey builds a key from already normalized addresses in any order.
func NewGroupKey(destination string, recipients []string) GroupKey {
	set := append([]string(nil), recipients...)
	sort.Strings(set)
	return GroupKey{Destination: strings.TrimSpace(destination), Recipients: strings.Join(set, ",")}
}

// RecipientList returns the sorted address set, nil for the empty set.
func (k GroupKey) RecipientList() []string {
	if k.Recipients == "" {
		return nil
	}
	return strings.Split(k.Recipients, ",")
}

// Label is a human-readable name used for part file names and logs.
func (k GroupKey) Label() string {
	if k.Destination != "" {
		return k.Destination
	}
	if k.Recipients != "" {
		return k.RecipientList()[0]
	}
	return "unassigned"
}
