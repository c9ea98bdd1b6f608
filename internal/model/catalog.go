package model

import "strings"

// CatalogEntry is one row of the reference catalog: either a heading or a
// concrete article. Entries are ordered; the lowest-level headings bound
// contiguous runs of articles.
type CatalogEntry struct {
	Index       int    // row position in the catalog
	Key         string // outline number, e.g. "01.01.01.12."
	Kind        string // row kind; headings carry an "NG" prefix
	Description string // short descriptive text
	ArticleCode string // article number (articles only)
}

// IsHeading reports whether the entry is a lowest-level heading row.
func (e CatalogEntry) IsHeading() bool {
	return strings.HasPrefix(e.Kind, "NG")
}
