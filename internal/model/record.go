package model

import "strings"

// Record is one row of a customer equipment file. Identity is positional
// (Index) until records are grouped.
type Record struct {
	Index       int    // row position in the source file
	BuildingID  string // economic unit the record belongs to
	Class       string // equipment class designation
	Designation string // installation designation
	Detail      string // free-text equipment description
	Code        string // structural identifier code (optional)
	ArticleCode string // catalog article code (optional)
}

// CombinedText joins all descriptive fields into the string used for
// embedding. Same input text must always yield the same embedding, so the
// join order is fixed.
func (r Record) CombinedText() string {
	return joinNonEmpty([]string{r.Class, r.Designation, r.Detail}, " ")
}

// SummaryText renders the record for fallback-service prompts and reports:
// non-empty descriptive fields joined by " | ". Structural columns carry
// no descriptive signal and are excluded.
func (r Record) SummaryText() string {
	s := joinNonEmpty([]string{r.Class, r.Designation, r.Detail}, " | ")
	if s == "" {
		return "no description available"
	}
	return s
}

// DescriptiveFields returns the individual text fields, empty ones removed.
// The classifier scores each field separately against heading texts.
func (r Record) DescriptiveFields() []string {
	fields := make([]string, 0, 3)
	for _, f := range []string{r.Class, r.Designation, r.Detail} {
		if strings.TrimSpace(f) != "" {
			fields = append(fields, strings.TrimSpace(f))
		}
	}
	return fields
}

func joinNonEmpty(parts []string, sep string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, sep)
}

// Group is a representative record plus the indices of its near-duplicate
// members. The representative index is never listed in Members.
type Group struct {
	Representative int   `json:"representative"`
	Members        []int `json:"members"`
}

// Size returns the total number of records the group covers, including the
// representative.
func (g Group) Size() int {
	return len(g.Members) + 1
}
