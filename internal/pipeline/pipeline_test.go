package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feldkamp/equimatch/internal/artifact"
	"github.com/feldkamp/equimatch/internal/config"
	"github.com/feldkamp/equimatch/internal/engine/catalog"
	"github.com/feldkamp/equimatch/internal/engine/fallback"
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

func testConfig() config.Config {
	var cfg config.Config
	cfg.Grouper.Threshold = 0.97
	cfg.Classify.Threshold = 0.9
	cfg.Suggest.FrequencyThreshold = 80
	cfg.Suggest.CorrelationThreshold = 0.7
	cfg.Suggest.TiePriority = "correlation"
	return cfg
}

func testPipeline(t *testing.T, serviceURL string) (*Pipeline, *artifact.Store) {
	t.Helper()

	store, err := artifact.Open(filepath.Join(t.TempDir(), "artifacts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cat := catalog.New([]model.CatalogEntry{
		{Index: 0, Key: "410", Kind: "NG2", Description: "heating system"},
		{Index: 1, Key: "410.10", Kind: "Art", Description: "boiler", ArticleCode: "A-410-10"},
		{Index: 2, Key: "430", Kind: "NG2", Description: "control device"},
	})

	emb := &vecEmbedder{vecs: map[string][]float32{
		"Gas boiler":     {1, 0},
		"Thermostat":     {0, 1},
		"heating system": {1, 0},
		"control device": {0.8, 0.6},
	}}

	var resolver *fallback.Resolver
	if serviceURL != "" {
		resolver = fallback.NewResolver(fallback.NewClient(serviceURL, "k"), cat, 0, 3, store, nil)
	}
	return New(testConfig(), store, emb, cat, resolver, nil), store
}

// classifyServer answers every /classify request with the given key.
func classifyServer(t *testing.T, key string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/classify", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"key": key})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testRecords() []model.Record {
	records := make([]model.Record, 0, 11)
	for i := 0; i < 10; i++ {
		records = append(records, model.Record{
			Index: i, BuildingID: "B1", Designation: "Gas boiler", ArticleCode: "A-410-10",
		})
	}
	records = append(records, model.Record{Index: 10, BuildingID: "B1", Designation: "Thermostat"})
	return records
}

func testObservations() []model.Observation {
	return []model.Observation{
		{BuildingID: "R1", Installation: "Heating", Role: model.RoleSystem, Code: "V-1", EntityID: "sys-1"},
		{BuildingID: "R1", Installation: "Thermostat", Role: model.RoleComponent, Code: "V-1", ParentID: "sys-1"},
		{BuildingID: "R2", Installation: "Heating", Role: model.RoleSystem, Code: "V-2"},
	}
}

func TestRun(t *testing.T) {
	srv := classifyServer(t, "430")
	p, store := testPipeline(t, srv.URL)

	result, err := p.Run(context.Background(), testRecords(), testObservations())
	require.NoError(t, err)

	// Ten identical boiler records collapse into one group, the thermostat
	// stands alone.
	require.Len(t, result.Groups, 2)
	assert.Equal(t, 0, result.Groups[0].Representative)
	assert.Len(t, result.Groups[0].Members, 9)
	assert.Equal(t, 10, result.Groups[1].Representative)

	// The boiler matches the heating heading by similarity and carries its
	// article code; the thermostat goes through the service.
	require.Len(t, result.Assignments, 2)
	byRecord := make(map[int]model.HeadingAssignment)
	for _, a := range result.Assignments {
		byRecord[a.RecordIndex] = a
	}
	boiler := byRecord[0]
	assert.Equal(t, 0, boiler.HeadingIndex)
	assert.Equal(t, model.BySimilarity, boiler.Provenance)
	assert.Equal(t, "A-410-10", boiler.ArticleCode)

	thermostat := byRecord[10]
	assert.Equal(t, 2, thermostat.HeadingIndex)
	assert.Equal(t, model.ByService, thermostat.Provenance)
	assert.Equal(t, "", thermostat.ArticleCode, "the control heading has no article run")

	// R2 has a heating system but lacks the thermostat component that
	// heating systems carry elsewhere.
	require.Len(t, result.Suggestions, 1)
	s := result.Suggestions[0]
	assert.Equal(t, "R2", s.BuildingID)
	assert.Equal(t, "Thermostat", s.Installation)
	assert.Equal(t, model.ReasonComponent, s.Reason)
	assert.InDelta(t, 0.9, s.Probability, 1e-9)
	assert.Equal(t, "V-2", s.Code)

	// Everything is re-loadable from the store.
	groups, err := store.LoadGroups(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result.Groups, groups)
	suggestions, err := store.LoadSuggestions(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result.Suggestions, suggestions)

	// The components stage persists its suggestions as their own artifact.
	components, err := store.LoadComponentSuggestions(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result.Suggestions, components)
}

func TestRunWithoutResolver(t *testing.T) {
	p, _ := testPipeline(t, "")

	result, err := p.Run(context.Background(), testRecords(), testObservations())
	require.NoError(t, err)

	byRecord := make(map[int]model.HeadingAssignment)
	for _, a := range result.Assignments {
		byRecord[a.RecordIndex] = a
	}
	assert.Equal(t, model.BySimilarity, byRecord[0].Provenance)
	assert.Equal(t, model.Unresolved, byRecord[10].Provenance)
	assert.Equal(t, -1, byRecord[10].HeadingIndex)
}

func TestClassifyRequiresGroups(t *testing.T) {
	p, store := testPipeline(t, "")
	runID, err := store.BeginRun(context.Background())
	require.NoError(t, err)

	_, err = p.Classify(context.Background(), runID, testRecords())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "group stage")
}

func TestSuggestRequiresStatistics(t *testing.T) {
	p, store := testPipeline(t, "")
	runID, err := store.BeginRun(context.Background())
	require.NoError(t, err)

	_, err = p.Suggest(context.Background(), runID, testObservations())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analyze stage")
}

func TestSuggestRequiresComponents(t *testing.T) {
	p, store := testPipeline(t, "")
	ctx := context.Background()
	runID, err := store.BeginRun(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Analyze(ctx, runID, testObservations()))

	_, err = p.Suggest(ctx, runID, testObservations())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "components stage")
}

func TestComponentsStageFeedsSuggest(t *testing.T) {
	p, store := testPipeline(t, "")
	ctx := context.Background()
	runID, err := store.BeginRun(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Analyze(ctx, runID, testObservations()))
	fromStage, err := p.Components(ctx, runID, testObservations())
	require.NoError(t, err)
	require.Len(t, fromStage, 1)

	// Suggest reloads the persisted component suggestions instead of
	// re-deriving them. With a different code on R2's heating system the
	// merged output still carries the stored code, not the current one.
	merged, err := p.Suggest(ctx, runID, []model.Observation{
		{BuildingID: "R2", Installation: "Heating", Role: model.RoleSystem, Code: "V-9"},
	})
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, fromStage[0], merged[0])
	assert.Equal(t, "V-2", merged[0].Code)

	stored, err := store.LoadComponentSuggestions(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, fromStage, stored)
}

func TestStagesRerunIdempotently(t *testing.T) {
	p, store := testPipeline(t, "")
	ctx := context.Background()

	runID, err := p.EnsureRun(ctx)
	require.NoError(t, err)

	first, err := p.Group(ctx, runID, testRecords())
	require.NoError(t, err)
	second, err := p.Group(ctx, runID, testRecords())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stored, err := store.LoadGroups(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, first, stored, "re-running a stage replaces its artifact")

	// EnsureRun keeps returning the same run.
	again, err := p.EnsureRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, runID, again)
}
