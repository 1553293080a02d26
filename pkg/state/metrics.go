package state

// FragmentMetrics aggregates traversal counters for one fragment across all
// users. Counters only grow; normal operation never resets them.
type FragmentMetrics struct {
	StoryID            string           `json:"story_id"`
	FragmentID         string           `json:"fragment_id"`
	TimesVisited       int64            `json:"times_visited"`
	ChoiceDistribution map[string]int64 `json:"choice_distribution,omitempty"`
}
