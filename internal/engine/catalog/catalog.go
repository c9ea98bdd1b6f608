// Package catalog models the reference catalog: an ordered list of entries
// where "NG"-kind headings bound contiguous runs of concrete articles.
package catalog

import (
	"fmt"
	"strings"

	"github.com/feldkamp/equimatch/internal/model"
)

// Catalog wraps the ordered catalog entries with heading lookups.
type Catalog struct {
	entries  []model.CatalogEntry
	headings []int          // entry positions that are lowest-level headings
	byKey    map[string]int // heading key → entry position
}

// New builds a Catalog from entries in file order.
func New(entries []model.CatalogEntry) *Catalog {
	c := &Catalog{
		entries: entries,
		byKey:   make(map[string]int),
	}
	for i, e := range entries {
		if !e.IsHeading() {
			continue
		}
		c.headings = append(c.headings, i)
		if e.Key != "" {
			c.byKey[e.Key] = i
		}
	}
	return c
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int { return len(c.entries) }

// Entry returns the entry at position i.
func (c *Catalog) Entry(i int) model.CatalogEntry { return c.entries[i] }

// Headings returns the lowest-level heading entries in catalog order.
func (c *Catalog) Headings() []model.CatalogEntry {
	out := make([]model.CatalogEntry, len(c.headings))
	for i, pos := range c.headings {
		out[i] = c.entries[pos]
	}
	return out
}

// HeadingPositions returns the entry positions of all headings.
func (c *Catalog) HeadingPositions() []int {
	out := make([]int, len(c.headings))
	copy(out, c.headings)
	return out
}

// IsHeadingIndex reports whether entry position i exists and is a heading.
func (c *Catalog) IsHeadingIndex(i int) bool {
	if i < 0 || i >= len(c.entries) {
		return false
	}
	return c.entries[i].IsHeading()
}

// ResolveKey validates a heading key against the catalog. Returns the entry
// position of the heading, or false when the key is unknown or does not
// denote a heading row. Used to reject fabricated keys from the external
// classification service.
func (c *Catalog) ResolveKey(key string) (int, bool) {
	pos, ok := c.byKey[strings.TrimSpace(key)]
	return pos, ok
}

// Articles returns the contiguous article run bounded by the heading at
// entry position headingPos: every entry after it up to (not including) the
// next heading. Returns nil when headingPos is not a heading.
func (c *Catalog) Articles(headingPos int) []model.CatalogEntry {
	if !c.IsHeadingIndex(headingPos) {
		return nil
	}
	var run []model.CatalogEntry
	for i := headingPos + 1; i < len(c.entries); i++ {
		if c.entries[i].IsHeading() {
			break
		}
		run = append(run, c.entries[i])
	}
	return run
}

// ArticleByCode finds an article with the given code inside a heading's run.
func (c *Catalog) ArticleByCode(headingPos int, code string) (model.CatalogEntry, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return model.CatalogEntry{}, false
	}
	for _, a := range c.Articles(headingPos) {
		if a.ArticleCode == code {
			return a, true
		}
	}
	return model.CatalogEntry{}, false
}

// Outline renders the heading hierarchy as structured text for the external
// classification service: one "key: description" line per heading, in
// catalog order.
func (c *Catalog) Outline() string {
	var b strings.Builder
	for _, pos := range c.headings {
		e := c.entries[pos]
		fmt.Fprintf(&b, "%s: %s\n", e.Key, e.Description)
	}
	return b.String()
}
