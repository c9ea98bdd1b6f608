package classifier

import (
	"context"
	"fmt"
	"testing"

	"github.com/feldkamp/equimatch/internal/engine/catalog"
	"github.com/feldkamp/equimatch/internal/model"
)

// vecEmbedder maps known texts to fixed vectors.
type vecEmbedder struct {
	vecs map[string][]float32
}

func (e *vecEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := e.vecs[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (e *vecEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *vecEmbedder) Dim() int { return 2 }

func (e *vecEmbedder) Close() error { return nil }

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	return catalog.New([]model.CatalogEntry{
		{Index: 0, Key: "410", Kind: "NG2", Description: "heating system"},
		{Index: 1, Key: "410.10", Kind: "Art", Description: "boiler", ArticleCode: "A-410-10"},
		{Index: 2, Key: "430", Kind: "NG2", Description: "window element"},
	})
}

func TestAcceptThresholdBoundary(t *testing.T) {
	c := New(nil, nil, DefaultThreshold, nil)
	if !c.accept(0.9) {
		t.Fatal("score exactly at the threshold must be accepted")
	}
	if c.accept(0.8999999) {
		t.Fatal("score below the threshold must be rejected")
	}
}

func TestAssignPicksBestHeading(t *testing.T) {
	emb := &vecEmbedder{vecs: map[string][]float32{
		"heating system": {1, 0},
		"window element": {0, 1},
		"Gas boiler":     {1, 0},
	}}
	c := New(emb, testCatalog(t), DefaultThreshold, nil)

	a, err := c.Assign(context.Background(), model.Record{Index: 7, Designation: "Gas boiler"})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.HeadingIndex != 0 {
		t.Fatalf("HeadingIndex = %d, want 0", a.HeadingIndex)
	}
	if a.Provenance != model.BySimilarity {
		t.Fatalf("Provenance = %q, want %q", a.Provenance, model.BySimilarity)
	}
	if a.Confidence < 0.99 {
		t.Fatalf("Confidence = %v, want ~1", a.Confidence)
	}
}

func TestAssignScoresEveryField(t *testing.T) {
	// The class text is off-axis but the detail text matches a heading
	// exactly. The best field must win.
	emb := &vecEmbedder{vecs: map[string][]float32{
		"heating system": {1, 0},
		"window element": {0, 1},
		"equipment":      {0.7, 0.7},
		"double glazing": {0, 1},
	}}
	c := New(emb, testCatalog(t), DefaultThreshold, nil)

	a, err := c.Assign(context.Background(), model.Record{Index: 1, Class: "equipment", Detail: "double glazing"})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.HeadingIndex != 2 {
		t.Fatalf("HeadingIndex = %d, want 2", a.HeadingIndex)
	}
}

func TestAssignBelowThresholdUnresolved(t *testing.T) {
	emb := &vecEmbedder{vecs: map[string][]float32{
		"heating system": {1, 0},
		"window element": {0, 1},
		"pump":           {1, 1}, // cosine 0.707 against both headings
	}}
	c := New(emb, testCatalog(t), DefaultThreshold, nil)

	a, err := c.Assign(context.Background(), model.Record{Index: 3, Designation: "pump"})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.Resolved() {
		t.Fatal("below-threshold record must stay unresolved")
	}
	if a.HeadingIndex != -1 {
		t.Fatalf("HeadingIndex = %d, want -1", a.HeadingIndex)
	}
	if a.Confidence < 0.7 || a.Confidence > 0.72 {
		t.Fatalf("Confidence = %v, want the best rejected score", a.Confidence)
	}
}

func TestAssignEmbeddingFailureUnresolved(t *testing.T) {
	emb := &vecEmbedder{vecs: map[string][]float32{
		"heating system": {1, 0},
		"window element": {0, 1},
	}}
	c := New(emb, testCatalog(t), DefaultThreshold, nil)

	a, err := c.Assign(context.Background(), model.Record{Index: 5, Designation: "unknown text"})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.Provenance != model.Unresolved {
		t.Fatalf("Provenance = %q, want %q", a.Provenance, model.Unresolved)
	}
}

func TestAssignAllPartitions(t *testing.T) {
	emb := &vecEmbedder{vecs: map[string][]float32{
		"heating system": {1, 0},
		"window element": {0, 1},
		"Gas boiler":     {1, 0},
		"pump":           {1, 1},
	}}
	c := New(emb, testCatalog(t), DefaultThreshold, nil)

	records := []model.Record{
		{Index: 0, Designation: "Gas boiler"},
		{Index: 1, Designation: "pump"},
		{Index: 2},
	}
	assigned, pending, err := c.AssignAll(context.Background(), records)
	if err != nil {
		t.Fatalf("AssignAll: %v", err)
	}
	if len(assigned) != 1 || assigned[0].RecordIndex != 0 {
		t.Fatalf("assigned = %+v, want record 0 only", assigned)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d records, want 2", len(pending))
	}
	if pending[0].Index != 1 || pending[1].Index != 2 {
		t.Fatalf("pending indices = %d,%d, want 1,2", pending[0].Index, pending[1].Index)
	}
}
