package story

import "fmt"

// Facts is the snapshot of user-derived data that requirements are
// evaluated against. Assembled by the caller from its user systems.
type Facts struct {
	Level        int
	Points       float64
	Items        []string
	Achievements []string
	StoryFlags   map[string]any
}

// HasItem reports whether the user holds the given item code.
func (f *Facts) HasItem(code string) bool {
	for _, it := range f.Items {
		if it == code {
			return true
		}
	}
	return false
}

// HasAchievement reports whether the user holds the given achievement code.
func (f *Facts) HasAchievement(code string) bool {
	for _, a := range f.Achievements {
		if a == code {
			return true
		}
	}
	return false
}

// Requirements gate access to a fragment or choice. Absent keys are
// vacuously satisfied; present keys are a conjunction.
type Requirements struct {
	Level        int            `json:"level,omitempty"`
	Points       float64        `json:"points,omitempty"`
	Items        []string       `json:"items,omitempty"`
	Achievements []string       `json:"achievements,omitempty"`
	StoryFlags   map[string]any `json:"story_flags,omitempty"`
}

// Check evaluates the requirements against the given facts. It returns
// whether every condition holds, plus a human-readable list of what is
// missing. The missing list is generated in a fixed order (level, points,
// items, achievements, flags) so messages are reproducible.
func (r *Requirements) Check(facts Facts) (bool, []string) {
	if r == nil {
		return true, nil
	}

	var missing []string

	if r.Level > 0 && facts.Level < r.Level {
		missing = append(missing, fmt.Sprintf("Level %d", r.Level))
	}

	if r.Points > 0 && facts.Points < r.Points {
		missing = append(missing, fmt.Sprintf("%g points", r.Points))
	}

	for _, item := range r.Items {
		if !facts.HasItem(item) {
			missing = append(missing, "Item: "+item)
		}
	}

	for _, achievement := range r.Achievements {
		if !facts.HasAchievement(achievement) {
			missing = append(missing, "Achievement: "+achievement)
		}
	}

	// Flag comparison is by rendered value: story content authors flags as
	// JSON scalars, and state round-trips through JSON as well.
	for _, flag := range sortedKeys(r.StoryFlags) {
		want := r.StoryFlags[flag]
		got, ok := facts.StoryFlags[flag]
		if !ok || !flagEqual(want, got) {
			missing = append(missing, "A previous decision is required")
		}
	}

	return len(missing) == 0, missing
}

// flagEqual compares two flag values loosely. JSON decoding produces
// float64 for all numbers, so numeric flags are compared numerically.
func flagEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
