package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velvetroom/narrative-engine/internal/engine"
	"github.com/velvetroom/narrative-engine/internal/storage"
	"github.com/velvetroom/narrative-engine/pkg/story"
)

const testStoryJSON = `{
	"id": "free",
	"title": "The Velvet Invitation",
	"starting_fragment": "f0",
	"fragments": {
		"f0": {
			"type": "story",
			"narrator_text": "The gate creaks open.",
			"next_fragment": "f1",
			"chapter": 1,
			"scene": 1
		},
		"f1": {
			"type": "decision",
			"title": "Two Doors",
			"narrator_text": "Two doors face you.",
			"chapter": 1,
			"scene": 2,
			"choices": [
				{
					"id": "a",
					"text": "Take the left door",
					"next_fragment": "f2",
					"requirements": {"points": 10}
				},
				{"id": "b", "text": "Take the right door", "next_fragment": "f2"}
			]
		},
		"f2": {
			"type": "ending",
			"narrator_text": "The candle burns out.",
			"chapter": 2,
			"scene": 1
		}
	}
}`

type testFacts struct {
	facts story.Facts
}

func (s *testFacts) GetFacts(ctx context.Context, userID string) (story.Facts, error) {
	return s.facts, nil
}

type noopLedger struct{}

func (noopLedger) Credit(ctx context.Context, userID string, amount float64) error { return nil }

type noopGrantor struct{}

func (noopGrantor) GrantIfAbsent(ctx context.Context, userID, code string) (bool, error) {
	return true, nil
}

type noopLore struct{}

func (noopLore) UnlockIfAbsent(ctx context.Context, userID, code string) (bool, error) {
	return true, nil
}

type noopGate struct{}

func (noopGate) HasElevatedAccess(ctx context.Context, userID string) (bool, error) {
	return false, nil
}

type handlerFixture struct {
	graph *storage.GraphStore
	store *storage.MockStorage
	eng   *engine.Engine
	log   *slog.Logger
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	dataDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "stories"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "stories", "story_free.json"), []byte(testStoryJSON), 0o644))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	graph := storage.NewGraphStore(dataDir, logger)
	require.NoError(t, graph.Load())

	store := storage.NewMockStorage()
	eng := engine.New(engine.Deps{
		Graph:        graph,
		Store:        store,
		Facts:        &testFacts{facts: story.Facts{Level: 1, Points: 15}},
		Ledger:       noopLedger{},
		Achievements: noopGrantor{},
		Lore:         noopLore{},
		Access:       noopGate{},
		Metrics:      engine.StorageMetrics{Store: store},
		Logger:       logger,
	})

	return &handlerFixture{graph: graph, store: store, eng: eng, log: logger}
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthHandler(t *testing.T) {
	f := newHandlerFixture(t)
	handler := NewHealthHandler(f.store, f.graph, f.log)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Components["storage"])
	assert.Equal(t, float64(1), resp.Components["stories_loaded"])
}

func TestHealthHandler_DegradedStorage(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.SetPingError(assert.AnError)
	handler := NewHealthHandler(f.store, f.graph, f.log)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unhealthy", resp.Components["storage"])
}

func TestStoriesHandler_ListAndGet(t *testing.T) {
	f := newHandlerFixture(t)
	handler := NewStoriesHandler(f.graph, f.store, f.log)

	req := httptest.NewRequest(http.MethodGet, "/v1/stories", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var summaries []StorySummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "free", summaries[0].ID)
	assert.Equal(t, 3, summaries[0].Fragments)

	req = httptest.NewRequest(http.MethodGet, "/v1/stories/free", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/stories/missing", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStoriesHandler_Search(t *testing.T) {
	f := newHandlerFixture(t)
	handler := NewStoriesHandler(f.graph, f.store, f.log)

	req := httptest.NewRequest(http.MethodGet, "/v1/stories/free/search?q=candle", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var results []*story.Fragment
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "f2", results[0].ID)

	// Missing query parameter.
	req = httptest.NewRequest(http.MethodGet, "/v1/stories/free/search", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStoriesHandler_FragmentStats(t *testing.T) {
	f := newHandlerFixture(t)
	require.NoError(t, f.store.IncrFragmentVisit(context.Background(), "free", "f1"))
	require.NoError(t, f.store.IncrChoice(context.Background(), "free", "f1", "b"))
	handler := NewStoriesHandler(f.graph, f.store, f.log)

	req := httptest.NewRequest(http.MethodGet, "/v1/stories/free/fragments/f1/stats", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp FragmentStatsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.NumChoices)
	assert.Equal(t, int64(1), resp.TimesVisited)
	assert.Equal(t, int64(1), resp.ChoiceDistribution["b"])
}

func TestNarrativeHandler_FullTraversal(t *testing.T) {
	f := newHandlerFixture(t)
	handler := NewNarrativeHandler(f.eng, f.log)

	rr := postJSON(t, handler, "/v1/narrative/start", TransitionRequest{UserID: "user-1", StoryID: "free"})
	require.Equal(t, http.StatusOK, rr.Code)
	var resp TransitionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "f0", resp.Fragment.ID)
	require.NotNil(t, resp.Progress)
	assert.Equal(t, 0.0, resp.Progress.CompletionPercent)

	rr = postJSON(t, handler, "/v1/narrative/next", TransitionRequest{UserID: "user-1"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = postJSON(t, handler, "/v1/narrative/choice", TransitionRequest{UserID: "user-1", ChoiceID: "a"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "f2", resp.Fragment.ID)
	assert.Equal(t, 100.0, resp.Progress.CompletionPercent)
	assert.Equal(t, 1, resp.Progress.TotalDecisions)

	req := httptest.NewRequest(http.MethodGet, "/v1/narrative/current?user_id=user-1", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/narrative/history?user_id=user-1", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var entries []engine.HistoryEntry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Take the left door", entries[0].ChoiceText)

	req = httptest.NewRequest(http.MethodGet, "/v1/narrative/stats?user_id=user-1", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var report engine.StatsReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.True(t, report.HasStarted)
	assert.Equal(t, 100.0, report.CompletionPercent)
}

func TestNarrativeHandler_ErrorMapping(t *testing.T) {
	f := newHandlerFixture(t)
	handler := NewNarrativeHandler(f.eng, f.log)

	// Unknown story: 404.
	rr := postJSON(t, handler, "/v1/narrative/start", TransitionRequest{UserID: "user-1", StoryID: "nope"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// Choice without an active story: 409.
	rr = postJSON(t, handler, "/v1/narrative/choice", TransitionRequest{UserID: "user-1", ChoiceID: "a"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	// Requirement failures: 422 with the missing list.
	rr = postJSON(t, handler, "/v1/narrative/start", TransitionRequest{UserID: "user-2", StoryID: "free"})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = postJSON(t, handler, "/v1/narrative/next", TransitionRequest{UserID: "user-2"})
	require.Equal(t, http.StatusOK, rr.Code)

	// Rebuild the engine with poorer facts for the requirement failure.
	poorEngine := engine.New(engine.Deps{
		Graph:        f.graph,
		Store:        f.store,
		Facts:        &testFacts{facts: story.Facts{Level: 1, Points: 5}},
		Ledger:       noopLedger{},
		Achievements: noopGrantor{},
		Lore:         noopLore{},
		Access:       noopGate{},
		Metrics:      engine.StorageMetrics{Store: f.store},
		Logger:       f.log,
	})
	poorHandler := NewNarrativeHandler(poorEngine, f.log)
	rr = postJSON(t, poorHandler, "/v1/narrative/choice", TransitionRequest{UserID: "user-2", ChoiceID: "a"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errResp))
	assert.Equal(t, "requirements_not_met", errResp.Reason)
	assert.Equal(t, []string{"10 points"}, errResp.Missing)

	// Missing user_id: 400.
	rr = postJSON(t, handler, "/v1/narrative/start", TransitionRequest{StoryID: "free"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
