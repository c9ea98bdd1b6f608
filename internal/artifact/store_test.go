package artifact

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feldkamp/equimatch/internal/model"
	"github.com/feldkamp/equimatch/internal/stats"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "artifacts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, _, err := s.LatestRun(ctx)
	assert.ErrorIs(t, err, ErrNoRun)

	id, err := s.BeginRun(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, s.MarkStage(ctx, id, "group"))

	gotID, stage, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, "group", stage)

	assert.Error(t, s.MarkStage(ctx, "no-such-run", "group"))
}

func TestGroupsRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id, err := s.BeginRun(ctx)
	require.NoError(t, err)

	groups := []model.Group{
		{Representative: 0, Members: []int{1, 2, 5}},
		{Representative: 3},
		{Representative: 4, Members: []int{6}},
	}
	require.NoError(t, s.SaveGroups(ctx, id, groups))

	got, err := s.LoadGroups(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, groups, got)

	// Saving again replaces instead of appending.
	require.NoError(t, s.SaveGroups(ctx, id, groups[:1]))
	got, err = s.LoadGroups(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, groups[:1], got)
}

func TestAssignmentsRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id, err := s.BeginRun(ctx)
	require.NoError(t, err)

	assignments := []model.HeadingAssignment{
		{RecordIndex: 0, HeadingIndex: 4, Confidence: 0.95, Provenance: model.BySimilarity, ArticleCode: "A-410-10"},
		{RecordIndex: 1, HeadingIndex: 7, Provenance: model.ByService},
		{RecordIndex: 2, HeadingIndex: -1, Confidence: 0.4, Provenance: model.Unresolved},
	}
	require.NoError(t, s.SaveAssignments(ctx, id, assignments))

	got, err := s.LoadAssignments(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, assignments, got)
}

func TestStatsRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id, err := s.BeginRun(ctx)
	require.NoError(t, err)

	freqs := []stats.Frequency{
		{Installation: "Elevator", Count: 1, Percent: 25, Bucket: "medium"},
		{Installation: "Heating", Count: 4, Percent: 100, Bucket: "very common"},
	}
	require.NoError(t, s.SaveFrequencies(ctx, id, freqs))
	gotFreqs, err := s.LoadFrequencies(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, freqs, gotFreqs)

	corrs := []stats.Correlation{
		{A: "Heating", B: "Ventilation", Coefficient: 0.82},
	}
	require.NoError(t, s.SaveCorrelations(ctx, id, corrs))
	gotCorrs, err := s.LoadCorrelations(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, corrs, gotCorrs)
}

func TestSuggestionsRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id, err := s.BeginRun(ctx)
	require.NoError(t, err)

	suggestions := []model.Suggestion{
		{BuildingID: "B1", Installation: "Thermostat", Probability: 0.9, Reason: model.ReasonComponent, Details: "Belongs to system: Heating", Code: "V-1"},
		{BuildingID: "B2", Installation: "Heating", Probability: 0.85, Reason: model.ReasonFrequency, Details: "Present in 85.0% of buildings (very common)"},
	}
	require.NoError(t, s.SaveSuggestions(ctx, id, suggestions))

	got, err := s.LoadSuggestions(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, suggestions, got)
}

func TestComponentSuggestionsAreTheirOwnArtifact(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id, err := s.BeginRun(ctx)
	require.NoError(t, err)

	components := []model.Suggestion{
		{BuildingID: "B1", Installation: "Circulation pump", Probability: 0.9, Reason: model.ReasonComponent, Details: "Belongs to system: Heating", Code: "V-7"},
	}
	require.NoError(t, s.SaveComponentSuggestions(ctx, id, components))

	got, err := s.LoadComponentSuggestions(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, components, got)

	// The merged suggestion table is untouched, and vice versa.
	merged, err := s.LoadSuggestions(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, merged)

	require.NoError(t, s.SaveSuggestions(ctx, id, components))
	require.NoError(t, s.SaveComponentSuggestions(ctx, id, nil))
	merged, err = s.LoadSuggestions(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, components, merged)
}

func TestStageDone(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id, err := s.BeginRun(ctx)
	require.NoError(t, err)

	done, err := s.StageDone(ctx, id, "components")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, s.MarkStage(ctx, id, "components"))
	require.NoError(t, s.MarkStage(ctx, id, "components")) // marking twice is fine

	done, err = s.StageDone(ctx, id, "components")
	require.NoError(t, err)
	assert.True(t, done)

	// Completion is cumulative even after later stages run.
	require.NoError(t, s.MarkStage(ctx, id, "suggest"))
	done, err = s.StageDone(ctx, id, "components")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestRunsAreIsolated(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	run1, err := s.BeginRun(ctx)
	require.NoError(t, err)
	run2, err := s.BeginRun(ctx)
	require.NoError(t, err)

	require.NoError(t, s.SaveGroups(ctx, run1, []model.Group{{Representative: 0, Members: []int{1}}}))
	require.NoError(t, s.SaveGroups(ctx, run2, []model.Group{{Representative: 9}}))

	got, err := s.LoadGroups(ctx, run1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Representative)
}

func TestResolutionCache(t *testing.T) {
	s := openStore(t)

	_, ok := s.Get("Boiler | Gas")
	assert.False(t, ok)

	require.NoError(t, s.Put("Boiler | Gas", "410"))
	key, ok := s.Get("Boiler | Gas")
	assert.True(t, ok)
	assert.Equal(t, "410", key)

	// Upsert overwrites.
	require.NoError(t, s.Put("Boiler | Gas", "430"))
	key, _ = s.Get("Boiler | Gas")
	assert.Equal(t, "430", key)
}

func TestCacheSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifacts.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("Pump", "410"))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	key, ok := s2.Get("Pump")
	assert.True(t, ok)
	assert.Equal(t, "410", key)
}
