package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/velvetroom/narrative-engine/internal/engine"
	"github.com/velvetroom/narrative-engine/pkg/state"
	"github.com/velvetroom/narrative-engine/pkg/story"
)

// TransitionRequest is the body of every narrative POST endpoint.
type TransitionRequest struct {
	UserID   string `json:"user_id"`
	StoryID  string `json:"story_id,omitempty"`
	ChoiceID string `json:"choice_id,omitempty"`
}

// ProgressView is the slice of narrative state returned with a fragment.
type ProgressView struct {
	ActiveStory       string  `json:"active_story"`
	CurrentChapter    int     `json:"current_chapter"`
	CompletionPercent float64 `json:"completion_percent"`
	FragmentsVisited  int     `json:"fragments_visited"`
	TotalDecisions    int     `json:"total_decisions"`
}

// TransitionResponse is the success body of every narrative endpoint that
// moves or reads the user's position.
type TransitionResponse struct {
	Fragment *story.Fragment `json:"fragment"`
	Progress *ProgressView   `json:"progress,omitempty"`
}

type NarrativeHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

func NewNarrativeHandler(eng *engine.Engine, logger *slog.Logger) *NarrativeHandler {
	return &NarrativeHandler{
		engine: eng,
		logger: logger,
	}
}

// ServeHTTP routes narrative traversal requests.
// Routes:
// POST /v1/narrative/start              - Start (or restart) a story
// POST /v1/narrative/choice             - Take a choice on the current fragment
// POST /v1/narrative/next               - Follow the default next edge
// POST /v1/narrative/back               - Step back in visited history
// POST /v1/narrative/achievements/check - Grant threshold achievements
// GET  /v1/narrative/current?user_id=   - Current fragment and progress
// GET  /v1/narrative/history?user_id=   - Decision history
// GET  /v1/narrative/stats?user_id=     - Progress report
func (h *NarrativeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/narrative"), "/")

	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r, action)
	case http.MethodGet:
		h.handleGet(w, r, action)
	default:
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Supported methods: GET, POST")
	}
}

func (h *NarrativeHandler) handlePost(w http.ResponseWriter, r *http.Request, action string) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "user_id is required")
		return
	}

	ctx := r.Context()
	var (
		fragment *story.Fragment
		err      error
	)

	switch action {
	case "start":
		if req.StoryID == "" {
			writeError(w, h.logger, http.StatusBadRequest, "story_id is required")
			return
		}
		fragment, err = h.engine.StartStory(ctx, req.UserID, req.StoryID)

	case "choice":
		if req.ChoiceID == "" {
			writeError(w, h.logger, http.StatusBadRequest, "choice_id is required")
			return
		}
		fragment, err = h.engine.MakeChoice(ctx, req.UserID, req.ChoiceID)

	case "next":
		fragment, err = h.engine.NavigateNext(ctx, req.UserID)

	case "back":
		fragment, err = h.engine.GoBack(ctx, req.UserID)

	case "achievements/check":
		granted, checkErr := h.engine.CheckAchievements(ctx, req.UserID)
		if checkErr != nil {
			writeEngineError(w, h.logger, checkErr)
			return
		}
		if granted == nil {
			granted = []string{}
		}
		writeJSON(w, h.logger, http.StatusOK, map[string][]string{"granted": granted})
		return

	default:
		writeError(w, h.logger, http.StatusNotFound, "Not found")
		return
	}

	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}

	// Transitions mutate state, so re-read for the progress view.
	_, st, stateErr := h.engine.CurrentFragment(ctx, req.UserID)
	if stateErr != nil {
		writeJSON(w, h.logger, http.StatusOK, TransitionResponse{Fragment: fragment})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, TransitionResponse{Fragment: fragment, Progress: progressView(st)})
}

func (h *NarrativeHandler) handleGet(w http.ResponseWriter, r *http.Request, action string) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "user_id is required")
		return
	}

	ctx := r.Context()

	switch action {
	case "current":
		fragment, st, err := h.engine.CurrentFragment(ctx, userID)
		if err != nil {
			writeEngineError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, TransitionResponse{Fragment: fragment, Progress: progressView(st)})

	case "history":
		limit := parseIntParam(r, "limit", 20)
		offset := parseIntParam(r, "offset", 0)
		entries, err := h.engine.History(ctx, userID, limit, offset)
		if err != nil {
			writeEngineError(w, h.logger, err)
			return
		}
		if entries == nil {
			entries = []engine.HistoryEntry{}
		}
		writeJSON(w, h.logger, http.StatusOK, entries)

	case "stats":
		report, err := h.engine.Stats(ctx, userID)
		if err != nil {
			writeEngineError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, report)

	default:
		writeError(w, h.logger, http.StatusNotFound, "Not found")
	}
}

func progressView(st *state.UserNarrativeState) *ProgressView {
	if st == nil {
		return nil
	}
	return &ProgressView{
		ActiveStory:       st.ActiveStory,
		CurrentChapter:    st.CurrentChapter,
		CompletionPercent: st.StoryCompletionPercent,
		FragmentsVisited:  len(st.FragmentsVisited),
		TotalDecisions:    st.TotalDecisionsMade,
	}
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
