package suggest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feldkamp/equimatch/internal/model"
	"github.com/feldkamp/equimatch/internal/stats"
)

func defaultConfig() Config {
	return Config{FrequencyThreshold: 80, CorrelationThreshold: 0.7}
}

func obs(building, installation string) model.Observation {
	return model.Observation{BuildingID: building, Installation: installation, Role: model.RoleSystem}
}

func TestFromFrequency(t *testing.T) {
	// Heating is in 4 of 5 buildings (80%), Elevator in 5 of 5 (100%).
	p := stats.BuildPresence([]model.Observation{
		obs("B1", "Heating"), obs("B1", "Elevator"),
		obs("B2", "Heating"), obs("B2", "Elevator"),
		obs("B3", "Heating"), obs("B3", "Elevator"),
		obs("B4", "Heating"), obs("B4", "Elevator"),
		obs("B5", "Elevator"),
	})
	e := New(defaultConfig(), nil)

	got := e.FromFrequency(p, p.Frequencies())

	// 80% does not exceed the threshold, so missing Heating in B5 is not
	// suggested, and Elevator is present everywhere.
	assert.Empty(t, got)
}

func TestFromFrequency_AboveThreshold(t *testing.T) {
	// Heating is in 5 of 6 buildings (83.3%), missing only in B6.
	p := stats.BuildPresence([]model.Observation{
		obs("B1", "Heating"), obs("B2", "Heating"), obs("B3", "Heating"),
		obs("B4", "Heating"), obs("B5", "Heating"),
		obs("B6", "Elevator"),
	})
	e := New(defaultConfig(), nil)

	got := e.FromFrequency(p, p.Frequencies())
	require.Len(t, got, 1)

	s := got[0]
	assert.Equal(t, "B6", s.BuildingID)
	assert.Equal(t, "Heating", s.Installation)
	assert.Equal(t, model.ReasonFrequency, s.Reason)
	assert.InDelta(t, 5.0/6.0, s.Probability, 1e-9)
	assert.Contains(t, s.Details, "83.3%")
}

func TestFromCorrelation(t *testing.T) {
	// B1 has Heating but no Ventilation, B2 has both. The correlation
	// table is hand-built so the coefficient is exact.
	p := stats.BuildPresence([]model.Observation{
		obs("B1", "Heating"),
		obs("B2", "Heating"), obs("B2", "Ventilation"),
	})
	e := New(defaultConfig(), nil)

	got := e.FromCorrelation(p, []stats.Correlation{
		{A: "Heating", B: "Ventilation", Coefficient: 0.85},
	})
	require.Len(t, got, 1)

	s := got[0]
	assert.Equal(t, "B1", s.BuildingID)
	assert.Equal(t, "Ventilation", s.Installation)
	assert.Equal(t, model.ReasonCorrelation, s.Reason)
	assert.InDelta(t, 0.85, s.Probability, 1e-9)
	assert.Contains(t, s.Details, "Heating")
}

func TestFromCorrelation_KeepsStrongestPartner(t *testing.T) {
	p := stats.BuildPresence([]model.Observation{obs("B1", "Heating"), obs("B1", "Elevator")})
	e := New(defaultConfig(), nil)

	// Hand-built table: two present installations both point at the
	// missing Ventilation with different strengths.
	corrs := []stats.Correlation{
		{A: "Heating", B: "Ventilation", Coefficient: 0.75},
		{A: "Elevator", B: "Ventilation", Coefficient: 0.9},
	}

	got := e.FromCorrelation(p, corrs)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.9, got[0].Probability, 1e-9)
	assert.Contains(t, got[0].Details, "Elevator")
}

func TestFromCorrelation_ThresholdInclusive(t *testing.T) {
	p := stats.BuildPresence([]model.Observation{obs("B1", "Heating")})
	e := New(defaultConfig(), nil)

	got := e.FromCorrelation(p, []stats.Correlation{
		{A: "Heating", B: "Ventilation", Coefficient: 0.7},
	})
	require.Len(t, got, 1, "coefficient exactly at the threshold must qualify")

	got = e.FromCorrelation(p, []stats.Correlation{
		{A: "Heating", B: "Ventilation", Coefficient: 0.6999999},
	})
	assert.Empty(t, got)
}

func TestMerge_ComponentBeatsHigherProbability(t *testing.T) {
	e := New(defaultConfig(), nil)

	correlation := []model.Suggestion{
		{BuildingID: "B1", Installation: "Thermostat", Probability: 0.92, Reason: model.ReasonCorrelation},
	}
	component := []model.Suggestion{
		{BuildingID: "B1", Installation: "Thermostat", Probability: 0.5, Reason: model.ReasonComponent, Code: "V-1"},
	}

	got := e.Merge(correlation, component)
	require.Len(t, got, 1)
	assert.Equal(t, model.ReasonComponent, got[0].Reason)
	assert.InDelta(t, 0.5, got[0].Probability, 1e-9)
}

func TestMerge_HigherProbabilityWins(t *testing.T) {
	e := New(defaultConfig(), nil)

	got := e.Merge(
		[]model.Suggestion{{BuildingID: "B1", Installation: "Heating", Probability: 0.85, Reason: model.ReasonFrequency}},
		[]model.Suggestion{{BuildingID: "B1", Installation: "Heating", Probability: 0.9, Reason: model.ReasonCorrelation}},
	)
	require.Len(t, got, 1)
	assert.Equal(t, model.ReasonCorrelation, got[0].Reason)
}

func TestMerge_TiePriority(t *testing.T) {
	freq := []model.Suggestion{{BuildingID: "B1", Installation: "Heating", Probability: 0.9, Reason: model.ReasonFrequency}}
	corr := []model.Suggestion{{BuildingID: "B1", Installation: "Heating", Probability: 0.9, Reason: model.ReasonCorrelation}}

	got := New(defaultConfig(), nil).Merge(freq, corr)
	require.Len(t, got, 1)
	assert.Equal(t, model.ReasonCorrelation, got[0].Reason, "default tie priority is correlation")

	cfg := defaultConfig()
	cfg.TiePriority = TieFrequency
	got = New(cfg, nil).Merge(freq, corr)
	require.Len(t, got, 1)
	assert.Equal(t, model.ReasonFrequency, got[0].Reason)
}

func TestMerge_DedupByCode(t *testing.T) {
	e := New(defaultConfig(), nil)

	// Two different installations carrying the same code within one
	// building collapse to the stronger one.
	got := e.Merge([]model.Suggestion{
		{BuildingID: "B1", Installation: "Thermostat", Probability: 0.9, Reason: model.ReasonComponent, Code: "V-1"},
		{BuildingID: "B1", Installation: "Valve", Probability: 0.9, Reason: model.ReasonCorrelation, Code: "V-1"},
		{BuildingID: "B2", Installation: "Thermostat", Probability: 0.9, Reason: model.ReasonComponent, Code: "V-1"},
	})
	require.Len(t, got, 2)

	byBuilding := make(map[string]model.Suggestion)
	for _, s := range got {
		byBuilding[s.BuildingID] = s
	}
	assert.Equal(t, "Thermostat", byBuilding["B1"].Installation)
	assert.Equal(t, "Thermostat", byBuilding["B2"].Installation, "codes dedup per building, not globally")
}

func TestMerge_DistinctPairsSurvive(t *testing.T) {
	e := New(defaultConfig(), nil)

	got := e.Merge([]model.Suggestion{
		{BuildingID: "B1", Installation: "Heating", Probability: 0.9, Reason: model.ReasonFrequency},
		{BuildingID: "B1", Installation: "Ventilation", Probability: 0.8, Reason: model.ReasonFrequency},
		{BuildingID: "B2", Installation: "Heating", Probability: 0.9, Reason: model.ReasonFrequency},
	})
	assert.Len(t, got, 3)
}

func TestSortByProbability(t *testing.T) {
	s := []model.Suggestion{
		{BuildingID: "B2", Installation: "A", Probability: 0.8},
		{BuildingID: "B1", Installation: "B", Probability: 0.95},
		{BuildingID: "B1", Installation: "A", Probability: 0.8},
	}
	SortByProbability(s)

	assert.InDelta(t, 0.95, s[0].Probability, 1e-9)
	assert.Equal(t, "B1", s[1].BuildingID)
	assert.Equal(t, "A", s[1].Installation)
	assert.Equal(t, "B2", s[2].BuildingID)
}
