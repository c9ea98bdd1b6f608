package equimatch

import (
	"context"
	"fmt"

	"github.com/feldkamp/equimatch/internal/artifact"
	"github.com/feldkamp/equimatch/internal/config"
	"github.com/feldkamp/equimatch/internal/engine/catalog"
	"github.com/feldkamp/equimatch/internal/engine/embedder"
	"github.com/feldkamp/equimatch/internal/engine/fallback"
	"github.com/feldkamp/equimatch/internal/pipeline"
)

// Matcher runs the matching pipeline. Safe for sequential reuse across
// datasets; runs are kept apart in the artifact store.
type Matcher struct {
	pl       *pipeline.Pipeline
	embedder embedder.Embedder
	store    *artifact.Store
}

// New creates a Matcher over the given catalog, loading the embedding model
// and opening the artifact store.
func New(entries []CatalogEntry, opts ...Option) (*Matcher, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("equimatch: empty catalog")
	}

	emb, err := newEmbedder(o)
	if err != nil {
		return nil, fmt.Errorf("equimatch: %w", err)
	}

	store, err := artifact.Open(o.storePath)
	if err != nil {
		emb.Close()
		return nil, fmt.Errorf("equimatch: %w", err)
	}

	cat := catalog.New(toModelEntries(entries))

	var resolver *fallback.Resolver
	if o.serviceEndpoint != "" {
		client := fallback.NewClient(o.serviceEndpoint, o.serviceAPIKey,
			fallback.WithTimeout(o.serviceTimeout))
		resolver = fallback.NewResolver(client, cat, o.serviceMinInterval, o.serviceMaxAttempts, store, o.logger)
	}

	cfg := config.Config{}
	cfg.Grouper.Threshold = o.groupThreshold
	cfg.Classify.Threshold = o.classifyThreshold
	cfg.Suggest.FrequencyThreshold = o.frequencyThreshold
	cfg.Suggest.CorrelationThreshold = o.correlationThreshold
	cfg.Suggest.TiePriority = o.tiePriority

	return &Matcher{
		pl:       pipeline.New(cfg, store, emb, cat, resolver, o.logger),
		embedder: emb,
		store:    store,
	}, nil
}

func newEmbedder(o options) (embedder.Embedder, error) {
	inner, err := embedder.New(o.modelPath, o.vocabPath)
	if err != nil {
		return nil, err
	}
	if o.cacheDir == "" {
		return inner, nil
	}
	cached, err := embedder.NewCached(inner, o.modelPath, o.cacheDir)
	if err != nil {
		inner.Close()
		return nil, err
	}
	return cached, nil
}

// Run executes the full pipeline over one dataset: records are grouped and
// classified, observations are analyzed and their component graph resolved,
// and the merged suggestion list is returned sorted by descending
// probability.
func (m *Matcher) Run(ctx context.Context, records []Record, observations []Observation) (*Result, error) {
	res, err := m.pl.Run(ctx, toModelRecords(records), toModelObservations(observations))
	if err != nil {
		return nil, err
	}
	return &Result{
		RunID:       res.RunID,
		Groups:      fromModelGroups(res.Groups),
		Assignments: fromModelAssignments(res.Assignments),
		Suggestions: fromModelSuggestions(res.Suggestions),
	}, nil
}

// Close releases the model and the artifact store.
func (m *Matcher) Close() error {
	embErr := m.embedder.Close()
	if err := m.store.Close(); err != nil {
		return err
	}
	return embErr
}
