package model

// Provenance records how a heading assignment was produced.
type Provenance string

const (
	// BySimilarity marks assignments accepted on embedding similarity.
	BySimilarity Provenance = "similarity"
	// ByService marks assignments resolved by the external service.
	ByService Provenance = "service"
	// Unresolved marks records neither path could place.
	Unresolved Provenance = "unresolved"
)

// HeadingAssignment maps a representative record to a catalog heading.
// HeadingIndex is -1 when Provenance is Unresolved.
type HeadingAssignment struct {
	RecordIndex  int        `json:"record_index"`
	HeadingIndex int        `json:"heading_index"`
	Confidence   float64    `json:"confidence"`
	Provenance   Provenance `json:"provenance"`
	ArticleCode  string     `json:"article_code,omitempty"` // concrete article within the heading's run, when matched
}

// Resolved reports whether the assignment points at a real heading.
func (a HeadingAssignment) Resolved() bool {
	return a.Provenance != Unresolved && a.HeadingIndex >= 0
}
