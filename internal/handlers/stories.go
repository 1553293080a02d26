package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/velvetroom/narrative-engine/internal/storage"
	"github.com/velvetroom/narrative-engine/pkg/story"
)

// StorySummary is the list view of a story: metadata without the graph.
type StorySummary struct {
	ID                string   `json:"id"`
	Title             string   `json:"title"`
	Description       string   `json:"description,omitempty"`
	Author            string   `json:"author,omitempty"`
	Fragments         int      `json:"fragments"`
	MinLevel          int      `json:"min_level,omitempty"`
	RequiresVIP       bool     `json:"requires_vip,omitempty"`
	EstimatedDuration string   `json:"estimated_duration,omitempty"`
	ContentWarnings   []string `json:"content_warnings,omitempty"`
}

// FragmentStatsResponse combines authoring stats with runtime counters.
type FragmentStatsResponse struct {
	*storage.FragmentStats
	TimesVisited       int64            `json:"times_visited"`
	ChoiceDistribution map[string]int64 `json:"choice_distribution,omitempty"`
}

type StoriesHandler struct {
	graph  *storage.GraphStore
	store  storage.Storage
	logger *slog.Logger
}

func NewStoriesHandler(graph *storage.GraphStore, store storage.Storage, logger *slog.Logger) *StoriesHandler {
	return &StoriesHandler{
		graph:  graph,
		store:  store,
		logger: logger,
	}
}

// ServeHTTP handles read-only story graph requests.
// Routes:
// GET /v1/stories                                  - List story summaries
// GET /v1/stories/{id}                             - Read one story
// GET /v1/stories/{id}/search?q={query}            - Search fragments by text
// GET /v1/stories/{id}/explore?from={fid}&depth=N  - Reachable fragments
// GET /v1/stories/{id}/fragments/{fid}/stats       - Fragment stats
func (h *StoriesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Supported methods: GET")
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/stories"), "/")
	if path == "" {
		h.handleList(w)
		return
	}

	parts := strings.Split(path, "/")
	storyID := parts[0]

	s, ok := h.graph.GetStory(storyID)
	if !ok {
		writeError(w, h.logger, http.StatusNotFound, "Story not found")
		return
	}

	switch {
	case len(parts) == 1:
		writeJSON(w, h.logger, http.StatusOK, s)

	case len(parts) == 2 && parts[1] == "search":
		h.handleSearch(w, r, storyID)

	case len(parts) == 2 && parts[1] == "explore":
		h.handleExplore(w, r, s)

	case len(parts) == 4 && parts[1] == "fragments" && parts[3] == "stats":
		h.handleFragmentStats(w, r, storyID, parts[2])

	default:
		writeError(w, h.logger, http.StatusNotFound, "Not found")
	}
}

func (h *StoriesHandler) handleList(w http.ResponseWriter) {
	stories := h.graph.Stories()
	summaries := make([]StorySummary, 0, len(stories))
	for _, s := range stories {
		summaries = append(summaries, StorySummary{
			ID:                s.ID,
			Title:             s.Title,
			Description:       s.Description,
			Author:            s.Author,
			Fragments:         len(s.Fragments),
			MinLevel:          s.MinLevel,
			RequiresVIP:       s.RequiresVIP,
			EstimatedDuration: s.EstimatedDuration,
			ContentWarnings:   s.ContentWarnings,
		})
	}
	writeJSON(w, h.logger, http.StatusOK, summaries)
}

func (h *StoriesHandler) handleSearch(w http.ResponseWriter, r *http.Request, storyID string) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, h.logger, http.StatusBadRequest, "Query parameter q is required")
		return
	}

	results := h.graph.SearchFragments(storyID, query)
	if results == nil {
		results = []*story.Fragment{}
	}
	writeJSON(w, h.logger, http.StatusOK, results)
}

func (h *StoriesHandler) handleExplore(w http.ResponseWriter, r *http.Request, s *story.Story) {
	from := r.URL.Query().Get("from")
	if from == "" {
		from = s.StartingFragment
	}
	if _, ok := h.graph.GetFragment(s.ID, from); !ok {
		writeError(w, h.logger, http.StatusNotFound, "Fragment not found")
		return
	}

	depth := 3
	if raw := r.URL.Query().Get("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, h.logger, http.StatusBadRequest, "Invalid depth parameter")
			return
		}
		depth = parsed
	}

	writeJSON(w, h.logger, http.StatusOK, h.graph.Explore(s.ID, from, depth))
}

func (h *StoriesHandler) handleFragmentStats(w http.ResponseWriter, r *http.Request, storyID, fragmentID string) {
	stats, ok := h.graph.GetFragmentStats(storyID, fragmentID)
	if !ok {
		writeError(w, h.logger, http.StatusNotFound, "Fragment not found")
		return
	}

	response := FragmentStatsResponse{FragmentStats: stats}
	if metrics, err := h.store.GetFragmentMetrics(r.Context(), storyID, fragmentID); err != nil {
		h.logger.Warn("Failed to load fragment metrics", "story", storyID, "fragment", fragmentID, "error", err)
	} else if metrics != nil {
		response.TimesVisited = metrics.TimesVisited
		response.ChoiceDistribution = metrics.ChoiceDistribution
	}

	writeJSON(w, h.logger, http.StatusOK, response)
}
