// Package pipeline wires the stages together: group near-duplicate records,
// classify representatives against the catalog, analyze the building
// database, resolve the system-component graph, and derive merged
// suggestions. Every stage persists its output to the artifact store, so
// stages can be re-run individually.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/feldkamp/equimatch/internal/artifact"
	"github.com/feldkamp/equimatch/internal/config"
	"github.com/feldkamp/equimatch/internal/engine/catalog"
	"github.com/feldkamp/equimatch/internal/engine/classifier"
	"github.com/feldkamp/equimatch/internal/engine/embedder"
	"github.com/feldkamp/equimatch/internal/engine/fallback"
	"github.com/feldkamp/equimatch/internal/engine/grouper"
	"github.com/feldkamp/equimatch/internal/model"
	"github.com/feldkamp/equimatch/internal/relation"
	"github.com/feldkamp/equimatch/internal/stats"
	"github.com/feldkamp/equimatch/internal/suggest"
)

// Stage names recorded in the artifact store.
const (
	StageGroup      = "group"
	StageClassify   = "classify"
	StageAnalyze    = "analyze"
	StageComponents = "components"
	StageSuggest    = "suggest"
)

// Pipeline holds the shared components of all stages.
type Pipeline struct {
	cfg      config.Config
	store    *artifact.Store
	embedder embedder.Embedder
	catalog  *catalog.Catalog
	resolver *fallback.Resolver // nil when no service endpoint is configured
	log      *zap.Logger
}

// New assembles a Pipeline. The resolver may be nil; records the similarity
// classifier cannot place then stay unresolved.
func New(cfg config.Config, store *artifact.Store, emb embedder.Embedder, cat *catalog.Catalog, resolver *fallback.Resolver, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, store: store, embedder: emb, catalog: cat, resolver: resolver, log: log}
}

// EnsureRun returns the latest run id, starting a new run on an empty store.
func (p *Pipeline) EnsureRun(ctx context.Context) (string, error) {
	id, _, err := p.store.LatestRun(ctx)
	if err == artifact.ErrNoRun {
		return p.store.BeginRun(ctx)
	}
	return id, err
}

// Group collapses near-duplicate records and persists the groups.
func (p *Pipeline) Group(ctx context.Context, runID string, records []model.Record) ([]model.Group, error) {
	g := grouper.New(p.embedder, p.cfg.Grouper.Threshold, p.log)
	result, err := g.Run(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("pipeline group: %w", err)
	}
	if err := p.store.SaveGroups(ctx, runID, result.Groups); err != nil {
		return nil, err
	}
	if err := p.store.MarkStage(ctx, runID, StageGroup); err != nil {
		return nil, err
	}
	return result.Groups, nil
}

// Classify assigns every group representative to a catalog heading: first by
// embedding similarity, then through the external service for the leftovers.
// Matched article codes are attached where the record carries one that
// exists in the heading's article run. The stage reads the persisted groups,
// so Group must have run for this run id.
func (p *Pipeline) Classify(ctx context.Context, runID string, records []model.Record) ([]model.HeadingAssignment, error) {
	groups, err := p.store.LoadGroups(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("pipeline classify: no groups persisted for run %s, run the group stage first", runID)
	}

	byIndex := make(map[int]model.Record, len(records))
	for _, r := range records {
		byIndex[r.Index] = r
	}
	representatives := make([]model.Record, 0, len(groups))
	for _, g := range groups {
		rec, ok := byIndex[g.Representative]
		if !ok {
			return nil, fmt.Errorf("pipeline classify: representative %d not in records", g.Representative)
		}
		representatives = append(representatives, rec)
	}

	cls := classifier.New(p.embedder, p.catalog, p.cfg.Classify.Threshold, p.log)
	assignments, pending, err := cls.AssignAll(ctx, representatives)
	if err != nil {
		return nil, fmt.Errorf("pipeline classify: %w", err)
	}

	if p.resolver != nil && len(pending) > 0 {
		resolved, err := p.resolver.ResolveAll(ctx, pending)
		if err != nil {
			return nil, fmt.Errorf("pipeline classify fallback: %w", err)
		}
		assignments = append(assignments, resolved...)
	} else {
		for _, rec := range pending {
			assignments = append(assignments, model.HeadingAssignment{
				RecordIndex:  rec.Index,
				HeadingIndex: -1,
				Provenance:   model.Unresolved,
			})
		}
	}

	for i := range assignments {
		if err := p.attachArticle(ctx, &assignments[i], byIndex); err != nil {
			return nil, err
		}
	}

	if err := p.store.SaveAssignments(ctx, runID, assignments); err != nil {
		return nil, err
	}
	if err := p.store.MarkStage(ctx, runID, StageClassify); err != nil {
		return nil, err
	}
	return assignments, nil
}

// attachArticle fills in the article code for a resolved assignment. A code
// carried by the record wins when it exists inside the heading's run;
// otherwise the service picks one, best effort.
func (p *Pipeline) attachArticle(ctx context.Context, a *model.HeadingAssignment, records map[int]model.Record) error {
	if !a.Resolved() {
		return nil
	}
	rec := records[a.RecordIndex]
	if art, ok := p.catalog.ArticleByCode(a.HeadingIndex, rec.ArticleCode); ok {
		a.ArticleCode = art.ArticleCode
		return nil
	}
	if p.resolver == nil {
		return nil
	}
	code, err := p.resolver.ResolveArticle(ctx, rec, a.HeadingIndex)
	if err != nil {
		return fmt.Errorf("pipeline classify article: %w", err)
	}
	a.ArticleCode = code
	return nil
}

// Analyze computes and persists the frequency and correlation tables over
// the building database.
func (p *Pipeline) Analyze(ctx context.Context, runID string, observations []model.Observation) error {
	presence := stats.BuildPresence(observations)
	if err := p.store.SaveFrequencies(ctx, runID, presence.Frequencies()); err != nil {
		return err
	}
	if err := p.store.SaveCorrelations(ctx, runID, presence.Correlations()); err != nil {
		return err
	}
	p.log.Info("portfolio statistics computed",
		zap.Int("buildings", len(presence.Buildings)),
		zap.Int("installations", len(presence.Installations)))
	return p.store.MarkStage(ctx, runID, StageAnalyze)
}

// Components resolves the system-component graph over the reference
// observations and persists the resulting component suggestions as their own
// artifact, so Suggest can reload them without re-walking the observations.
func (p *Pipeline) Components(ctx context.Context, runID string, observations []model.Observation) ([]model.Suggestion, error) {
	registry := relation.BuildRegistry(observations)
	suggestions := relation.MissingComponents(registry, observations)
	if err := p.store.SaveComponentSuggestions(ctx, runID, suggestions); err != nil {
		return nil, err
	}
	p.log.Info("component graph resolved",
		zap.Int("suggestions", len(suggestions)))
	if err := p.store.MarkStage(ctx, runID, StageComponents); err != nil {
		return nil, err
	}
	return suggestions, nil
}

// Suggest merges the persisted statistics-derived suggestions with the
// persisted component suggestions and stores the final list sorted by
// probability. Analyze and Components must have run for this run id.
func (p *Pipeline) Suggest(ctx context.Context, runID string, observations []model.Observation) ([]model.Suggestion, error) {
	freqs, err := p.store.LoadFrequencies(ctx, runID)
	if err != nil {
		return nil, err
	}
	corrs, err := p.store.LoadCorrelations(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(freqs) == 0 {
		return nil, fmt.Errorf("pipeline suggest: no statistics persisted for run %s, run the analyze stage first", runID)
	}
	done, err := p.store.StageDone(ctx, runID, StageComponents)
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, fmt.Errorf("pipeline suggest: no component suggestions persisted for run %s, run the components stage first", runID)
	}
	components, err := p.store.LoadComponentSuggestions(ctx, runID)
	if err != nil {
		return nil, err
	}

	presence := stats.BuildPresence(observations)
	engine := suggest.New(suggest.Config{
		FrequencyThreshold:   p.cfg.Suggest.FrequencyThreshold,
		CorrelationThreshold: p.cfg.Suggest.CorrelationThreshold,
		TiePriority:          p.cfg.Suggest.TiePriority,
	}, p.log)

	merged := engine.Merge(
		engine.FromFrequency(presence, freqs),
		engine.FromCorrelation(presence, corrs),
		components,
	)
	suggest.SortByProbability(merged)

	if err := p.store.SaveSuggestions(ctx, runID, merged); err != nil {
		return nil, err
	}
	if err := p.store.MarkStage(ctx, runID, StageSuggest); err != nil {
		return nil, err
	}
	return merged, nil
}

// Result bundles the outputs of a full run.
type Result struct {
	RunID       string
	Groups      []model.Group
	Assignments []model.HeadingAssignment
	Suggestions []model.Suggestion
}

// Run executes all stages in order on a fresh run.
func (p *Pipeline) Run(ctx context.Context, records []model.Record, observations []model.Observation) (*Result, error) {
	runID, err := p.store.BeginRun(ctx)
	if err != nil {
		return nil, err
	}
	log := p.log.With(zap.String("run", runID))
	log.Info("pipeline started",
		zap.Int("records", len(records)),
		zap.Int("observations", len(observations)))

	groups, err := p.Group(ctx, runID, records)
	if err != nil {
		return nil, err
	}
	assignments, err := p.Classify(ctx, runID, records)
	if err != nil {
		return nil, err
	}
	if err := p.Analyze(ctx, runID, observations); err != nil {
		return nil, err
	}
	if _, err := p.Components(ctx, runID, observations); err != nil {
		return nil, err
	}
	suggestions, err := p.Suggest(ctx, runID, observations)
	if err != nil {
		return nil, err
	}

	log.Info("pipeline finished",
		zap.Int("groups", len(groups)),
		zap.Int("assignments", len(assignments)),
		zap.Int("suggestions", len(suggestions)))
	return &Result{RunID: runID, Groups: groups, Assignments: assignments, Suggestions: suggestions}, nil
}
