// Package suggest turns portfolio statistics and component links into
// per-building equipment suggestions and merges the three sources into one
// deduplicated list.
package suggest

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/feldkamp/equimatch/internal/model"
	"github.com/feldkamp/equimatch/internal/stats"
)

// Tie priorities decide between equal-probability suggestions from the two
// statistical sources.
const (
	TieCorrelation = "correlation"
	TieFrequency   = "frequency"
)

// Config holds the suggestion thresholds. The frequency threshold is a
// percentage compared strictly (>), the correlation threshold is inclusive
// (>=).
type Config struct {
	FrequencyThreshold   float64
	CorrelationThreshold float64
	TiePriority          string
}

// Engine derives and merges suggestions.
type Engine struct {
	cfg Config
	log *zap.Logger
}

// New creates an Engine. An empty tie priority defaults to correlation; a
// nil logger is replaced with a no-op logger.
func New(cfg Config, log *zap.Logger) *Engine {
	if cfg.TiePriority == "" {
		cfg.TiePriority = TieCorrelation
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg, log: log}
}

// FromFrequency suggests, for every building, each installation type whose
// portfolio frequency exceeds the threshold but which the building lacks.
// The frequency itself becomes the probability.
func (e *Engine) FromFrequency(p *stats.Presence, freqs []stats.Frequency) []model.Suggestion {
	var out []model.Suggestion
	for _, building := range p.Buildings {
		for _, f := range freqs {
			if f.Percent <= e.cfg.FrequencyThreshold {
				continue
			}
			if p.Has(building, f.Installation) {
				continue
			}
			out = append(out, model.Suggestion{
				BuildingID:   building,
				Installation: f.Installation,
				Probability:  f.Percent / 100,
				Reason:       model.ReasonFrequency,
				Details:      fmt.Sprintf("Present in %.1f%% of buildings (%s)", f.Percent, f.Bucket),
			})
		}
	}
	e.log.Debug("frequency suggestions derived", zap.Int("count", len(out)))
	return out
}

// FromCorrelation suggests the missing half of every strongly correlated
// installation pair. When several partners point at the same missing
// installation, only the strongest correlation survives.
func (e *Engine) FromCorrelation(p *stats.Presence, corrs []stats.Correlation) []model.Suggestion {
	best := make(map[string]model.Suggestion)
	for _, building := range p.Buildings {
		for _, c := range corrs {
			if c.Coefficient < e.cfg.CorrelationThreshold {
				continue
			}
			e.suggestPartner(best, p, building, c.A, c.B, c.Coefficient)
			e.suggestPartner(best, p, building, c.B, c.A, c.Coefficient)
		}
	}

	out := make([]model.Suggestion, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BuildingID != out[j].BuildingID {
			return out[i].BuildingID < out[j].BuildingID
		}
		return out[i].Installation < out[j].Installation
	})
	e.log.Debug("correlation suggestions derived", zap.Int("count", len(out)))
	return out
}

func (e *Engine) suggestPartner(best map[string]model.Suggestion, p *stats.Presence, building, present, missing string, coefficient float64) {
	if !p.Has(building, present) || p.Has(building, missing) {
		return
	}
	key := building + "\x00" + missing
	if prev, ok := best[key]; ok && prev.Probability >= coefficient {
		return
	}
	best[key] = model.Suggestion{
		BuildingID:   building,
		Installation: missing,
		Probability:  coefficient,
		Reason:       model.ReasonCorrelation,
		Details:      fmt.Sprintf("Correlates %.2f with %s", coefficient, present),
	}
}

// Merge flattens the source batches into one list with at most one
// suggestion per (building, installation) pair and at most one per
// non-empty code within a building. Component suggestions always win over
// statistical ones; between statistical suggestions the higher probability
// wins, with the configured tie priority breaking exact ties.
func (e *Engine) Merge(batches ...[]model.Suggestion) []model.Suggestion {
	byPair := make(map[string]model.Suggestion)
	var order []string
	for _, batch := range batches {
		for _, s := range batch {
			key := s.BuildingID + "\x00" + s.Installation
			prev, ok := byPair[key]
			if !ok {
				byPair[key] = s
				order = append(order, key)
				continue
			}
			if e.wins(s, prev) {
				byPair[key] = s
			}
		}
	}

	byCode := make(map[string]string) // building+code → winning pair key
	var out []model.Suggestion
	for _, key := range order {
		s := byPair[key]
		if s.Code != "" {
			codeKey := s.BuildingID + "\x00" + s.Code
			if prevKey, ok := byCode[codeKey]; ok {
				if !e.wins(s, byPair[prevKey]) {
					continue
				}
				out = removeSuggestion(out, byPair[prevKey])
			}
			byCode[codeKey] = key
		}
		out = append(out, s)
	}

	e.log.Info("suggestions merged",
		zap.Int("sources", len(batches)), zap.Int("final", len(out)))
	return out
}

// wins reports whether candidate beats incumbent under the merge rules.
func (e *Engine) wins(candidate, incumbent model.Suggestion) bool {
	cComp := candidate.Reason == model.ReasonComponent
	iComp := incumbent.Reason == model.ReasonComponent
	if cComp != iComp {
		return cComp
	}
	if candidate.Probability != incumbent.Probability {
		return candidate.Probability > incumbent.Probability
	}
	if candidate.Reason == incumbent.Reason {
		return false
	}
	if e.cfg.TiePriority == TieFrequency {
		return candidate.Reason == model.ReasonFrequency
	}
	return candidate.Reason == model.ReasonCorrelation
}

func removeSuggestion(list []model.Suggestion, victim model.Suggestion) []model.Suggestion {
	for i, s := range list {
		if s.BuildingID == victim.BuildingID && s.Installation == victim.Installation {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// SortByProbability orders suggestions for presentation: descending
// probability, then building and installation for a stable layout.
func SortByProbability(suggestions []model.Suggestion) {
	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Probability != suggestions[j].Probability {
			return suggestions[i].Probability > suggestions[j].Probability
		}
		if suggestions[i].BuildingID != suggestions[j].BuildingID {
			return suggestions[i].BuildingID < suggestions[j].BuildingID
		}
		return suggestions[i].Installation < suggestions[j].Installation
	})
}
