// Package classifier assigns representative records to catalog headings by
// embedding similarity, marking records below the threshold as unresolved so
// the fallback service can pick them up.
package classifier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/feldkamp/equimatch/internal/engine/catalog"
	"github.com/feldkamp/equimatch/internal/engine/embedder"
	"github.com/feldkamp/equimatch/internal/engine/grouper"
	"github.com/feldkamp/equimatch/internal/model"
)

// DefaultThreshold is the heading acceptance threshold from the reference
// pipeline. Comparison is strict >=.
const DefaultThreshold = 0.9

// Classifier scores records against pre-embedded heading descriptions.
type Classifier struct {
	embedder  embedder.Embedder
	catalog   *catalog.Catalog
	threshold float64
	log       *zap.Logger

	headingPos  []int       // catalog entry positions, parallel to headingVecs
	headingVecs [][]float32 // pre-computed heading description embeddings
}

// New creates a Classifier. Heading embeddings are computed lazily on the
// first assignment. A nil logger is replaced with a no-op logger.
func New(emb embedder.Embedder, cat *catalog.Catalog, threshold float64, log *zap.Logger) *Classifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{embedder: emb, catalog: cat, threshold: threshold, log: log}
}

// prepare embeds every lowest-level heading description once.
func (c *Classifier) prepare(ctx context.Context) error {
	if c.headingVecs != nil {
		return nil
	}
	positions := c.catalog.HeadingPositions()
	texts := make([]string, len(positions))
	for i, pos := range positions {
		texts[i] = c.catalog.Entry(pos).Description
	}
	vecs, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("classifier: embed headings: %w", err)
	}
	c.headingPos = positions
	c.headingVecs = vecs
	return nil
}

// Assign maps one record to its best-matching heading. Each descriptive
// field is scored separately against every heading; the overall best field
// score decides. Records below the threshold come back Unresolved with the
// best score retained, never an error.
func (c *Classifier) Assign(ctx context.Context, rec model.Record) (model.HeadingAssignment, error) {
	if err := c.prepare(ctx); err != nil {
		return model.HeadingAssignment{}, err
	}

	fields := rec.DescriptiveFields()
	if len(fields) == 0 {
		c.log.Warn("record has no descriptive fields", zap.Int("record", rec.Index))
		return unresolved(rec.Index, 0), nil
	}

	fieldVecs, err := c.embedder.EmbedBatch(ctx, fields)
	if err != nil {
		c.log.Warn("field embedding failed, record unresolved",
			zap.Int("record", rec.Index), zap.Error(err))
		return unresolved(rec.Index, 0), nil
	}

	best, score := c.bestHeading(fieldVecs)
	if !c.accept(score) {
		return unresolved(rec.Index, score), nil
	}
	return model.HeadingAssignment{
		RecordIndex:  rec.Index,
		HeadingIndex: c.headingPos[best],
		Confidence:   score,
		Provenance:   model.BySimilarity,
	}, nil
}

// AssignAll classifies every record, partitioning results into accepted
// assignments and the records left for the fallback path. Per-record
// failures never abort the batch.
func (c *Classifier) AssignAll(ctx context.Context, records []model.Record) ([]model.HeadingAssignment, []model.Record, error) {
	assignments := make([]model.HeadingAssignment, 0, len(records))
	var pending []model.Record
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		a, err := c.Assign(ctx, rec)
		if err != nil {
			return nil, nil, err
		}
		if a.Resolved() {
			assignments = append(assignments, a)
		} else {
			pending = append(pending, rec)
		}
	}
	c.log.Info("similarity classification complete",
		zap.Int("records", len(records)),
		zap.Int("assigned", len(assignments)),
		zap.Int("pending", len(pending)))
	return assignments, pending, nil
}

// bestHeading returns the heading list position and score of the best
// (field, heading) pair.
func (c *Classifier) bestHeading(fieldVecs [][]float32) (int, float64) {
	best, bestScore := -1, 0.0
	for _, fv := range fieldVecs {
		for h, hv := range c.headingVecs {
			if s := grouper.Cosine(fv, hv); s > bestScore {
				best, bestScore = h, s
			}
		}
	}
	return best, bestScore
}

// accept applies the threshold with strict >= semantics: a score of exactly
// the threshold is accepted.
func (c *Classifier) accept(score float64) bool {
	return score >= c.threshold
}

func unresolved(recordIndex int, score float64) model.HeadingAssignment {
	return model.HeadingAssignment{
		RecordIndex:  recordIndex,
		HeadingIndex: -1,
		Confidence:   score,
		Provenance:   model.Unresolved,
	}
}
