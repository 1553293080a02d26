package state

import "time"

// UserNarrativeState is the persisted position and progress of one user in
// the story graph. One record per user, created lazily on first interaction.
type UserNarrativeState struct {
	UserID            string `json:"user_id"`
	ActiveStory       string `json:"active_story,omitempty"`
	CurrentFragmentID string `json:"current_fragment_id,omitempty"` // empty means no story started
	CurrentChapter    int    `json:"current_chapter"`

	FragmentsVisited       []string `json:"fragments_visited"`
	TotalDecisionsMade     int      `json:"total_decisions_made"`
	StoryCompletionPercent float64  `json:"story_completion_percent"`

	FreeStoryUnlocked bool `json:"free_story_unlocked"`
	VIPStoryUnlocked  bool `json:"vip_story_unlocked"`

	StoryFlags         map[string]any `json:"story_flags"`
	RelationshipScores map[string]int `json:"relationship_scores"`

	StartedAt         time.Time  `json:"started_at"`
	LastInteractionAt time.Time  `json:"last_interaction_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`

	// Version increments on every committed transition. Storage uses it for
	// compare-and-swap so concurrent transitions for one user cannot
	// interleave.
	Version int64 `json:"version"`
}

// NewUserNarrativeState initializes state for a user who has never
// interacted with the narrative before.
func NewUserNarrativeState(userID string) *UserNarrativeState {
	now := time.Now().UTC()
	return &UserNarrativeState{
		UserID:            userID,
		CurrentChapter:    1,
		FragmentsVisited:  []string{},
		FreeStoryUnlocked: true,
		StoryFlags: map[string]any{
			"first_time": true,
		},
		RelationshipScores: map[string]int{},
		StartedAt:          now,
		LastInteractionAt:  now,
	}
}

// HasActiveStory reports whether the user is mid-story.
func (s *UserNarrativeState) HasActiveStory() bool {
	return s != nil && s.CurrentFragmentID != ""
}

// HasVisited reports whether a fragment id is already in the history.
func (s *UserNarrativeState) HasVisited(fragmentID string) bool {
	for _, id := range s.FragmentsVisited {
		if id == fragmentID {
			return true
		}
	}
	return false
}

// MarkVisited appends a fragment id to the history unless it is already
// there. History is append-only; going back never removes entries, so a
// forward move onto an already-visited fragment must not duplicate it.
func (s *UserNarrativeState) MarkVisited(fragmentID string) {
	if !s.HasVisited(fragmentID) {
		s.FragmentsVisited = append(s.FragmentsVisited, fragmentID)
	}
}

// VisitedIndex returns the position of a fragment id in the history,
// or -1 when absent.
func (s *UserNarrativeState) VisitedIndex(fragmentID string) int {
	for i, id := range s.FragmentsVisited {
		if id == fragmentID {
			return i
		}
	}
	return -1
}

// DiscoveredFragments returns the hidden fragment ids unlocked by rewards,
// tracked under a well-known story flag.
func (s *UserNarrativeState) DiscoveredFragments() []string {
	raw, ok := s.StoryFlags[DiscoveredFragmentsFlag]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any: // after a JSON round trip
		out := make([]string, 0, len(v))
		for _, item := range v {
			if id, ok := item.(string); ok {
				out = append(out, id)
			}
		}
		return out
	}
	return nil
}

// Discover records a hidden fragment id as unlocked, once.
func (s *UserNarrativeState) Discover(fragmentID string) {
	discovered := s.DiscoveredFragments()
	for _, id := range discovered {
		if id == fragmentID {
			return
		}
	}
	if s.StoryFlags == nil {
		s.StoryFlags = map[string]any{}
	}
	s.StoryFlags[DiscoveredFragmentsFlag] = append(discovered, fragmentID)
}

// DiscoveredFragmentsFlag is the story flag under which reward-unlocked
// fragment ids accumulate.
const DiscoveredFragmentsFlag = "discovered_fragments"
