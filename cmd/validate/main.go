package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/velvetroom/narrative-engine/pkg/story"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <story.json> [story.json ...]\n", os.Args[0])
		os.Exit(1)
	}

	failed := false
	for _, filename := range os.Args[1:] {
		validator := &StoryValidator{}
		if err := validator.validateFile(filename); err != nil {
			fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
			failed = true
			continue
		}
		fmt.Println("Story file is valid!")
	}
	if failed {
		os.Exit(1)
	}
}

type StoryValidator struct {
	errors []string
}

var idPattern = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)*$`)

func (v *StoryValidator) validateFile(filename string) error {
	fmt.Printf("Validating %s...\n", filename)

	baseName := filepath.Base(filename)
	if !strings.HasSuffix(baseName, ".json") {
		return fmt.Errorf("story file must have .json extension: %s", baseName)
	}

	nameWithoutExt := strings.TrimSuffix(baseName, ".json")
	if !idPattern.MatchString(nameWithoutExt) {
		return fmt.Errorf("story filename '%s' must be lowercase snake_case (e.g., my_story.json)", baseName)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filename, err)
	}

	v.errors = nil

	if !json.Valid(data) {
		return fmt.Errorf("file %s contains invalid JSON", filename)
	}

	var s story.Story
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&s); err != nil {
		return fmt.Errorf("file %s failed strict JSON unmarshaling: %w", filename, err)
	}

	v.validateStory(&s)

	if len(v.errors) > 0 {
		return fmt.Errorf("validation errors in %s:\n%s", filename, strings.Join(v.errors, "\n"))
	}

	v.printSummary(&s)
	return nil
}

func (v *StoryValidator) addError(format string, args ...any) {
	v.errors = append(v.errors, "  - "+fmt.Sprintf(format, args...))
}

func (v *StoryValidator) validateStory(s *story.Story) {
	if s.ID == "" {
		v.addError("story id is required")
	} else if !idPattern.MatchString(s.ID) {
		v.addError("story id '%s' must be lowercase snake_case", s.ID)
	}
	if s.Title == "" {
		v.addError("story title is required")
	}
	if len(s.Fragments) == 0 {
		v.addError("story must have at least one fragment")
		return
	}

	if s.StartingFragment == "" {
		v.addError("starting_fragment is required")
	} else if _, ok := s.Fragments[s.StartingFragment]; !ok {
		v.addError("starting_fragment '%s' does not exist", s.StartingFragment)
	}

	for id, f := range s.Fragments {
		v.validateFragment(s, id, f)
	}

	v.validateReachability(s)
}

func (v *StoryValidator) validateFragment(s *story.Story, id string, f *story.Fragment) {
	if !idPattern.MatchString(id) {
		v.addError("fragment id '%s' must be lowercase snake_case", id)
	}

	switch f.Type {
	case story.TypeStory, story.TypeDecision, story.TypeReward, story.TypeCheckpoint, story.TypeEnding:
	default:
		v.addError("fragment '%s' has unknown type '%s'", id, f.Type)
	}

	if f.NarratorText == "" {
		v.addError("fragment '%s' has no narrator_text", id)
	}
	if f.Chapter < 1 {
		v.addError("fragment '%s' has invalid chapter %d", id, f.Chapter)
	}

	if f.NextFragment != "" {
		if _, ok := s.Fragments[f.NextFragment]; !ok {
			v.addError("fragment '%s' points to missing next_fragment '%s'", id, f.NextFragment)
		}
	}

	if f.Type == story.TypeDecision && len(f.Choices) == 0 {
		v.addError("decision fragment '%s' has no choices", id)
	}
	if len(f.Choices) > story.MaxChoicesPerFragment {
		v.addError("fragment '%s' has %d choices, maximum is %d", id, len(f.Choices), story.MaxChoicesPerFragment)
	}

	seen := make(map[string]bool, len(f.Choices))
	for _, c := range f.Choices {
		if c.ID == "" {
			v.addError("fragment '%s' has a choice with no id", id)
			continue
		}
		if seen[c.ID] {
			v.addError("fragment '%s' has duplicate choice id '%s'", id, c.ID)
		}
		seen[c.ID] = true
		if c.Text == "" {
			v.addError("choice '%s' on fragment '%s' has no text", c.ID, id)
		}
		if c.NextFragment == "" {
			v.addError("choice '%s' on fragment '%s' has no next_fragment", c.ID, id)
		} else if _, ok := s.Fragments[c.NextFragment]; !ok {
			v.addError("choice '%s' on fragment '%s' points to missing fragment '%s'", c.ID, id, c.NextFragment)
		}
	}

	if f.IsTerminal() && !f.IsEnding() {
		v.addError("fragment '%s' has no outgoing edges but is not an ending", id)
	}
}

// validateReachability walks the graph from the starting fragment. Hidden
// fragments may be unreachable by edges alone when an unlock grants them.
func (v *StoryValidator) validateReachability(s *story.Story) {
	start, ok := s.Fragments[s.StartingFragment]
	if !ok {
		return
	}

	reachable := make(map[string]bool)
	stack := []*story.Fragment{start}
	reachable[s.StartingFragment] = true

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		targets := make([]string, 0, len(f.Choices)+1)
		if f.NextFragment != "" {
			targets = append(targets, f.NextFragment)
		}
		for _, c := range f.Choices {
			targets = append(targets, c.NextFragment)
		}
		if f.Rewards != nil {
			targets = append(targets, f.Rewards.UnlockFragments...)
		}

		for _, id := range targets {
			next, ok := s.Fragments[id]
			if !ok || reachable[id] {
				continue
			}
			reachable[id] = true
			stack = append(stack, next)
		}
	}

	for id, f := range s.Fragments {
		if !reachable[id] && !f.Hidden {
			v.addError("fragment '%s' is unreachable from the starting fragment", id)
		}
	}
}

func (v *StoryValidator) printSummary(s *story.Story) {
	titleCaser := cases.Title(language.English)

	decisions := 0
	endings := 0
	hidden := 0
	for _, f := range s.Fragments {
		if f.IsDecision() {
			decisions++
		}
		if f.IsEnding() {
			endings++
		}
		if f.Hidden {
			hidden++
		}
	}

	fmt.Printf("  %s: %d fragments, %d decisions, %d endings, %d hidden\n",
		titleCaser.String(s.Title), len(s.Fragments), decisions, endings, hidden)
	if s.RequiresVIP {
		fmt.Println("  Requires VIP access")
	}
	if s.MinLevel > 1 {
		fmt.Printf("  Minimum level: %d\n", s.MinLevel)
	}
}
