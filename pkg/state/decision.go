package state

import (
	"time"

	"github.com/google/uuid"
)

// UserDecision is the append-only record of one choice taken from one
// fragment. At most one record exists per (user, fragment): re-choosing from
// the same fragment overwrites the record in place, never adds a second row.
type UserDecision struct {
	ID         uuid.UUID `json:"id"`
	UserID     string    `json:"user_id"`
	FragmentID string    `json:"fragment_id"` // fragment the decision was made from
	ChoiceID   string    `json:"choice_id"`
	ChoiceText string    `json:"choice_text"` // snapshot for history display

	Chapter int       `json:"chapter"`
	MadeAt  time.Time `json:"made_at"`

	PointsGained float64        `json:"points_gained,omitempty"`
	ItemsGained  []string       `json:"items_gained,omitempty"`
	FlagsSet     map[string]any `json:"flags_set,omitempty"`
}

// NewUserDecision records a choice taken from the given fragment.
func NewUserDecision(userID, fragmentID, choiceID, choiceText string, chapter int) *UserDecision {
	return &UserDecision{
		ID:         uuid.New(),
		UserID:     userID,
		FragmentID: fragmentID,
		ChoiceID:   choiceID,
		ChoiceText: choiceText,
		Chapter:    chapter,
		MadeAt:     time.Now().UTC(),
	}
}
