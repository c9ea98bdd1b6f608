// Package grouper partitions records into groups of near-duplicates using
// pairwise cosine similarity over their embeddings.
package grouper

import (
	"context"
	"math"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/feldkamp/equimatch/internal/engine/embedder"
	"github.com/feldkamp/equimatch/internal/model"
)

// DefaultThreshold is the grouping similarity threshold from the reference
// pipeline. Comparison is strict >=.
const DefaultThreshold = 0.97

// Grouper computes embeddings and produces the group partition.
type Grouper struct {
	embedder  embedder.Embedder
	threshold float64
	log       *zap.Logger
}

// New creates a Grouper. A nil logger is replaced with a no-op logger.
func New(emb embedder.Embedder, threshold float64, log *zap.Logger) *Grouper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Grouper{embedder: emb, threshold: threshold, log: log}
}

// Result is a complete partition of the usable input records plus the
// indices that had to be excluded.
type Result struct {
	Groups  []model.Group
	Skipped []int // record indices excluded from grouping (empty text or failed embedding)
}

// Representatives returns the representative index of every group, in
// partition order.
func (r Result) Representatives() []int {
	reps := make([]int, len(r.Groups))
	for i, g := range r.Groups {
		reps[i] = g.Representative
	}
	return reps
}

// Run groups the records. Records with no descriptive text or a failed
// embedding are skipped and reported in the result, never fatal.
func (g *Grouper) Run(ctx context.Context, records []model.Record) (Result, error) {
	usable := make([]int, 0, len(records))
	texts := make([]string, 0, len(records))
	var skipped []int

	for i, rec := range records {
		text := rec.CombinedText()
		if strings.TrimSpace(text) == "" {
			g.log.Warn("record has no descriptive text, excluded from grouping",
				zap.Int("record", rec.Index))
			skipped = append(skipped, i)
			continue
		}
		usable = append(usable, i)
		texts = append(texts, text)
	}

	vectors, failed, err := g.embedAll(ctx, texts)
	if err != nil {
		return Result{}, err
	}
	// Drop embedding failures, keeping the remaining order stable.
	if len(failed) > 0 {
		kept := usable[:0]
		keptVecs := vectors[:0]
		for j, idx := range usable {
			if failed[j] {
				g.log.Warn("embedding failed, record excluded from grouping",
					zap.Int("record", records[idx].Index))
				skipped = append(skipped, idx)
				continue
			}
			kept = append(kept, idx)
			keptVecs = append(keptVecs, vectors[j])
		}
		usable = kept
		vectors = keptVecs
	}

	m, err := BuildMatrix(ctx, vectors)
	if err != nil {
		return Result{}, err
	}

	local := Partition(m, g.threshold)

	// Map matrix positions back to record slice indices.
	groups := make([]model.Group, len(local))
	for i, grp := range local {
		members := make([]int, len(grp.Members))
		for j, m := range grp.Members {
			members[j] = usable[m]
		}
		groups[i] = model.Group{Representative: usable[grp.Representative], Members: members}
	}

	g.log.Info("grouping complete",
		zap.Int("records", len(records)),
		zap.Int("groups", len(groups)),
		zap.Int("skipped", len(skipped)),
		zap.Float64("reduction_pct", reduction(len(usable), len(groups))))

	return Result{Groups: groups, Skipped: skipped}, nil
}

// embedAll embeds all texts in one batch; if the batch call fails it falls
// back to per-text embedding so a single bad input cannot sink the batch.
func (g *Grouper) embedAll(ctx context.Context, texts []string) ([][]float32, []bool, error) {
	vectors, err := g.embedder.EmbedBatch(ctx, texts)
	if err == nil {
		return vectors, nil, nil
	}
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}
	g.log.Warn("batch embedding failed, retrying per record", zap.Error(err))

	vectors = make([][]float32, len(texts))
	failed := make([]bool, len(texts))
	for i, text := range texts {
		vec, err := g.embedder.Embed(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			failed[i] = true
			continue
		}
		vectors[i] = vec
	}
	return vectors, failed, nil
}

// Matrix is a square symmetric similarity matrix with a zeroed diagonal.
type Matrix struct {
	n    int
	vals []float64
}

// NewMatrix allocates an n×n zero matrix.
func NewMatrix(n int) *Matrix {
	return &Matrix{n: n, vals: make([]float64, n*n)}
}

// Size returns the matrix dimension.
func (m *Matrix) Size() int { return m.n }

// At returns the similarity between records i and j.
func (m *Matrix) At(i, j int) float64 { return m.vals[i*m.n+j] }

// Set stores a similarity symmetrically. The diagonal is immutable zero so
// no record can ever match itself.
func (m *Matrix) Set(i, j int, v float64) {
	if i == j {
		return
	}
	m.vals[i*m.n+j] = v
	m.vals[j*m.n+i] = v
}

// BuildMatrix computes the full pairwise cosine matrix. Rows are filled in
// parallel; the result is deterministic because each pair is a pure function
// of its two vectors.
func BuildMatrix(ctx context.Context, vectors [][]float32) (*Matrix, error) {
	n := len(vectors)
	m := NewMatrix(n)

	eg, _ := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < n; i++ {
		i := i
		eg.Go(func() error {
			for j := i + 1; j < n; j++ {
				// Each goroutine owns row i's upper triangle; writes never overlap.
				v := Cosine(vectors[i], vectors[j])
				m.vals[i*n+j] = v
				m.vals[j*n+i] = v
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return m, nil
}

// Partition applies greedy first-unassigned-wins grouping: walking in index
// order, each unassigned record becomes a representative and claims every
// still-unassigned record with similarity >= threshold. The representative
// is never listed among its own members, and every record lands in exactly
// one group.
func Partition(m *Matrix, threshold float64) []model.Group {
	n := m.Size()
	assigned := make([]bool, n)
	var groups []model.Group

	for i := 0; i < n; i++ {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		g := model.Group{Representative: i}
		for j := 0; j < n; j++ {
			if assigned[j] {
				continue
			}
			if m.At(i, j) >= threshold {
				assigned[j] = true
				g.Members = append(g.Members, j)
			}
		}
		groups = append(groups, g)
	}
	return groups
}

// Cosine returns the cosine similarity of two vectors, 0 when either has
// zero norm or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func reduction(total, groups int) float64 {
	if total == 0 {
		return 0
	}
	return (1 - float64(groups)/float64(total)) * 100
}
