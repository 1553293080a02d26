package story

import "time"

// FragmentType classifies a node in the story graph.
type FragmentType string

const (
	TypeStory      FragmentType = "story"      // plain narrative beat
	TypeDecision   FragmentType = "decision"   // branching point with choices
	TypeReward     FragmentType = "reward"     // grants rewards on arrival
	TypeCheckpoint FragmentType = "checkpoint" // automatic save point
	TypeEnding     FragmentType = "ending"     // terminal node of a branch
)

// MaxChoicesPerFragment bounds how many choices a decision fragment may carry.
const MaxChoicesPerFragment = 6

// Rewards are granted when a user arrives at a fragment that carries them.
// Fixed struct with a closed vocabulary; unknown reward kinds are an
// authoring error, not a runtime lookup.
type Rewards struct {
	Points          float64  `json:"points,omitempty"`
	Items           []string `json:"items,omitempty"`
	Achievements    []string `json:"achievements,omitempty"`
	LorePieces      []string `json:"lore_pieces,omitempty"`
	UnlockFragments []string `json:"unlock_fragments,omitempty"`
}

// IsZero reports whether the fragment grants nothing.
func (r *Rewards) IsZero() bool {
	return r == nil || (r.Points == 0 && len(r.Items) == 0 &&
		len(r.Achievements) == 0 && len(r.LorePieces) == 0 && len(r.UnlockFragments) == 0)
}

// Effects are applied to user state as a consequence of taking a choice.
type Effects struct {
	Relationships map[string]int `json:"relationships,omitempty"` // character -> delta
	StoryFlags    map[string]any `json:"story_flags,omitempty"`   // merged key by key
	Items         []string       `json:"items,omitempty"`
	Points        float64        `json:"points,omitempty"`
}

// Choice is an edge from a decision fragment to a target fragment.
type Choice struct {
	ID           string        `json:"id"`
	Text         string        `json:"text"`
	NextFragment string        `json:"next_fragment"`
	Requirements *Requirements `json:"requirements,omitempty"`
	Effects      *Effects      `json:"effects,omitempty"`
	Hidden       bool          `json:"hidden,omitempty"`
	Hint         string        `json:"hint,omitempty"`
}

// Fragment is a node in the story graph: one unit of narrative content,
// possibly a decision point.
type Fragment struct {
	ID      string       `json:"id"`
	StoryID string       `json:"story_id,omitempty"`
	Type    FragmentType `json:"type"`

	Title          string `json:"title,omitempty"`
	NarratorText   string `json:"narrator_text"`
	AtmosphereText string `json:"atmosphere_text,omitempty"`

	NextFragment string   `json:"next_fragment,omitempty"`
	Choices      []Choice `json:"choices,omitempty"`

	Rewards      *Rewards      `json:"rewards,omitempty"`
	Requirements *Requirements `json:"requirements,omitempty"`
	VIPOnly      bool          `json:"vip_only,omitempty"`

	ImageURL string `json:"image_url,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`

	Chapter    int      `json:"chapter"`
	Scene      int      `json:"scene"`
	Tags       []string `json:"tags,omitempty"`
	Hidden     bool     `json:"is_hidden,omitempty"`
	UnlockHint string   `json:"unlock_hint,omitempty"`
}

// IsDecision reports whether the fragment expects a choice from the user.
func (f *Fragment) IsDecision() bool {
	return f.Type == TypeDecision || len(f.Choices) > 0
}

// IsEnding reports whether the fragment terminates a narrative branch.
func (f *Fragment) IsEnding() bool {
	return f.Type == TypeEnding
}

// IsTerminal reports whether the fragment has no outgoing edges at all.
// Only ending fragments are valid in this shape.
func (f *Fragment) IsTerminal() bool {
	return f.NextFragment == "" && len(f.Choices) == 0
}

// FindChoice returns the choice with the given id, or nil.
func (f *Fragment) FindChoice(choiceID string) *Choice {
	for i := range f.Choices {
		if f.Choices[i].ID == choiceID {
			return &f.Choices[i]
		}
	}
	return nil
}

// Chapter is authoring metadata about one chapter of a story.
type Chapter struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Story is an immutable story definition: metadata plus the full fragment
// graph. Loaded once at startup and replaced wholesale on reload, never
// mutated in place.
type Story struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	Version     string `json:"version,omitempty"`

	StartingFragment string               `json:"starting_fragment"`
	Chapters         map[string]Chapter   `json:"chapters,omitempty"`
	Fragments        map[string]*Fragment `json:"fragments"`

	TotalFragments    int      `json:"total_fragments,omitempty"`
	TotalDecisions    int      `json:"total_decisions,omitempty"`
	EstimatedDuration string   `json:"estimated_duration,omitempty"`
	ContentWarnings   []string `json:"content_warnings,omitempty"`

	MinLevel    int  `json:"min_level,omitempty"`
	RequiresVIP bool `json:"requires_vip,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// NonHiddenFragmentIDs returns the ids counted toward completion.
func (s *Story) NonHiddenFragmentIDs() []string {
	ids := make([]string, 0, len(s.Fragments))
	for id, f := range s.Fragments {
		if !f.Hidden {
			ids = append(ids, id)
		}
	}
	return ids
}
