package story

import (
	"reflect"
	"testing"
)

func TestRequirements_Check(t *testing.T) {
	tests := []struct {
		name      string
		reqs      *Requirements
		facts     Facts
		satisfied bool
		missing   []string
	}{
		{
			name:      "nil requirements always pass",
			reqs:      nil,
			facts:     Facts{},
			satisfied: true,
		},
		{
			name:      "empty requirements always pass",
			reqs:      &Requirements{},
			facts:     Facts{},
			satisfied: true,
		},
		{
			name:      "level met",
			reqs:      &Requirements{Level: 3},
			facts:     Facts{Level: 3},
			satisfied: true,
		},
		{
			name:      "level not met",
			reqs:      &Requirements{Level: 5},
			facts:     Facts{Level: 2},
			satisfied: false,
			missing:   []string{"Level 5"},
		},
		{
			name:      "points not met",
			reqs:      &Requirements{Points: 10},
			facts:     Facts{Points: 5},
			satisfied: false,
			missing:   []string{"10 points"},
		},
		{
			name:      "points met exactly",
			reqs:      &Requirements{Points: 10},
			facts:     Facts{Points: 10},
			satisfied: true,
		},
		{
			name:      "missing item",
			reqs:      &Requirements{Items: []string{"silver_key"}},
			facts:     Facts{Items: []string{"rusty_key"}},
			satisfied: false,
			missing:   []string{"Item: silver_key"},
		},
		{
			name:      "missing achievement",
			reqs:      &Requirements{Achievements: []string{"first_secret"}},
			facts:     Facts{},
			satisfied: false,
			missing:   []string{"Achievement: first_secret"},
		},
		{
			name: "flag mismatch",
			reqs: &Requirements{StoryFlags: map[string]any{"gate_open": true}},
			facts: Facts{
				StoryFlags: map[string]any{"gate_open": false},
			},
			satisfied: false,
			missing:   []string{"A previous decision is required"},
		},
		{
			name: "flag absent",
			reqs: &Requirements{StoryFlags: map[string]any{"gate_open": true}},
			facts: Facts{
				StoryFlags: map[string]any{},
			},
			satisfied: false,
			missing:   []string{"A previous decision is required"},
		},
		{
			name: "numeric flag survives json round trip",
			reqs: &Requirements{StoryFlags: map[string]any{"trust": 3}},
			facts: Facts{
				// JSON decoding turns numbers into float64.
				StoryFlags: map[string]any{"trust": float64(3)},
			},
			satisfied: true,
		},
		{
			name: "missing list order is deterministic",
			reqs: &Requirements{
				Level:        4,
				Points:       20,
				Items:        []string{"mask"},
				Achievements: []string{"confidant"},
				StoryFlags:   map[string]any{"met_the_host": true},
			},
			facts:     Facts{Level: 1},
			satisfied: false,
			missing: []string{
				"Level 4",
				"20 points",
				"Item: mask",
				"Achievement: confidant",
				"A previous decision is required",
			},
		},
		{
			name: "everything met",
			reqs: &Requirements{
				Level:        2,
				Points:       5,
				Items:        []string{"mask"},
				Achievements: []string{"confidant"},
				StoryFlags:   map[string]any{"met_the_host": true},
			},
			facts: Facts{
				Level:        3,
				Points:       8,
				Items:        []string{"mask", "lantern"},
				Achievements: []string{"confidant"},
				StoryFlags:   map[string]any{"met_the_host": true},
			},
			satisfied: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, missing := tt.reqs.Check(tt.facts)
			if ok != tt.satisfied {
				t.Errorf("satisfied = %v, want %v (missing: %v)", ok, tt.satisfied, missing)
			}
			if len(tt.missing) > 0 && !reflect.DeepEqual(missing, tt.missing) {
				t.Errorf("missing = %v, want %v", missing, tt.missing)
			}
		})
	}
}

func TestRequirements_CheckMonotonic(t *testing.T) {
	// Adding a satisfied fact never turns success into failure.
	reqs := &Requirements{Level: 2, Items: []string{"mask"}}
	base := Facts{Level: 2, Items: []string{"mask"}}

	if ok, _ := reqs.Check(base); !ok {
		t.Fatal("base facts should satisfy requirements")
	}

	richer := base
	richer.Points = 100
	richer.Items = append([]string{"lantern"}, base.Items...)
	richer.Achievements = []string{"confidant"}

	if ok, missing := reqs.Check(richer); !ok {
		t.Errorf("richer facts should still satisfy requirements, missing %v", missing)
	}
}
