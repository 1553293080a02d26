package engine

import (
	"context"
	"fmt"
	"time"
)

// HistoryEntry is one row of a user's decision history, enriched with the
// fragment title at read time. Choice text is the snapshot taken when the
// decision was made, so history stays stable if authoring content changes.
type HistoryEntry struct {
	FragmentID    string    `json:"fragment_id"`
	FragmentTitle string    `json:"fragment_title"`
	ChoiceText    string    `json:"choice_text"`
	Chapter       int       `json:"chapter"`
	MadeAt        time.Time `json:"made_at"`
	PointsGained  float64   `json:"points_gained,omitempty"`
	ItemsGained   []string  `json:"items_gained,omitempty"`
}

// History returns the user's decision log, newest first.
func (e *Engine) History(ctx context.Context, userID string, limit, offset int) ([]HistoryEntry, error) {
	st, err := e.store.GetUserState(ctx, userID)
	if err != nil {
		return nil, persistenceFailure(err)
	}

	decisions, err := e.store.ListDecisions(ctx, userID, limit, offset)
	if err != nil {
		return nil, persistenceFailure(err)
	}

	entries := make([]HistoryEntry, 0, len(decisions))
	for _, d := range decisions {
		title := "Unknown"
		if st != nil && st.ActiveStory != "" {
			if f, ok := e.graph.GetFragment(st.ActiveStory, d.FragmentID); ok && f.Title != "" {
				title = f.Title
			}
		}
		entries = append(entries, HistoryEntry{
			FragmentID:    d.FragmentID,
			FragmentTitle: title,
			ChoiceText:    d.ChoiceText,
			Chapter:       d.Chapter,
			MadeAt:        d.MadeAt,
			PointsGained:  d.PointsGained,
			ItemsGained:   d.ItemsGained,
		})
	}
	return entries, nil
}

// EndingSummary identifies one ending fragment the user has reached.
type EndingSummary struct {
	Title   string `json:"title"`
	Chapter int    `json:"chapter"`
}

// StatsReport summarizes a user's narrative progress.
type StatsReport struct {
	HasStarted         bool            `json:"has_started"`
	ActiveStory        string          `json:"active_story,omitempty"`
	CurrentChapter     int             `json:"current_chapter,omitempty"`
	CompletionPercent  float64         `json:"completion_percent"`
	FragmentsVisited   int             `json:"fragments_visited"`
	TotalDecisions     int             `json:"total_decisions"`
	EndingsReached     []EndingSummary `json:"endings_reached,omitempty"`
	RelationshipScores map[string]int  `json:"relationship_scores,omitempty"`
	HoursPlayed        float64         `json:"hours_played"`
	LastPlayed         time.Time       `json:"last_played,omitempty"`
}

// Stats computes the user's progress report. A user with no state gets a
// zero report with HasStarted false, not an error.
func (e *Engine) Stats(ctx context.Context, userID string) (*StatsReport, error) {
	st, err := e.store.GetUserState(ctx, userID)
	if err != nil {
		return nil, persistenceFailure(err)
	}
	if st == nil {
		return &StatsReport{}, nil
	}

	var endings []EndingSummary
	for _, id := range st.FragmentsVisited {
		f, ok := e.graph.GetFragment(st.ActiveStory, id)
		if !ok || !f.IsEnding() {
			continue
		}
		title := f.Title
		if title == "" {
			title = "Ending"
		}
		endings = append(endings, EndingSummary{Title: title, Chapter: f.Chapter})
	}

	return &StatsReport{
		HasStarted:         true,
		ActiveStory:        st.ActiveStory,
		CurrentChapter:     st.CurrentChapter,
		CompletionPercent:  st.StoryCompletionPercent,
		FragmentsVisited:   len(st.FragmentsVisited),
		TotalDecisions:     st.TotalDecisionsMade,
		EndingsReached:     endings,
		RelationshipScores: st.RelationshipScores,
		HoursPlayed:        time.Since(st.StartedAt).Hours(),
		LastPlayed:         st.LastInteractionAt,
	}, nil
}

// Threshold achievements granted by CheckAchievements.
const (
	achievementTenDecisions   = "narrative_10_decisions"
	achievementFiftyDecisions = "narrative_50_decisions"
	achievementQuarterDone    = "narrative_25_percent"
	relationshipTrustScore    = 50
)

// CheckAchievements grants narrative threshold achievements through the
// grantor port and returns the codes newly granted this call. Grants are
// idempotent on the grantor side, so repeated checks are safe.
func (e *Engine) CheckAchievements(ctx context.Context, userID string) ([]string, error) {
	st, err := e.store.GetUserState(ctx, userID)
	if err != nil {
		return nil, persistenceFailure(err)
	}
	if st == nil {
		return nil, nil
	}

	var candidates []string
	if st.TotalDecisionsMade >= 10 {
		candidates = append(candidates, achievementTenDecisions)
	}
	if st.TotalDecisionsMade >= 50 {
		candidates = append(candidates, achievementFiftyDecisions)
	}
	if st.StoryCompletionPercent >= 25 {
		candidates = append(candidates, achievementQuarterDone)
	}
	if st.StoryCompletionPercent >= 100 && st.ActiveStory != "" {
		candidates = append(candidates, "narrative_complete_"+st.ActiveStory)
	}
	for character, score := range st.RelationshipScores {
		if score >= relationshipTrustScore {
			candidates = append(candidates, fmt.Sprintf("%s_trusted", character))
		}
	}

	var granted []string
	for _, code := range candidates {
		newlyGranted, err := e.achievements.GrantIfAbsent(ctx, userID, code)
		if err != nil {
			e.logger.Warn("Achievement grant failed", "user_id", userID, "achievement", code, "error", err)
			continue
		}
		if newlyGranted {
			granted = append(granted, code)
		}
	}
	return granted, nil
}
