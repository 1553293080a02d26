package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/velvetroom/narrative-engine/pkg/story"
)

// GraphStore loads immutable story definitions from JSON files and answers
// read-only graph queries. After Load the index is effectively immutable:
// Reload builds a fresh index and swaps it in atomically, so concurrent
// readers never observe a half-updated graph.
type GraphStore struct {
	dataDir string
	logger  *slog.Logger
	index   atomic.Pointer[graphIndex]
}

type graphIndex struct {
	stories map[string]*story.Story
}

// NewGraphStore creates a graph store reading from <dataDir>/stories.
func NewGraphStore(dataDir string, logger *slog.Logger) *GraphStore {
	if dataDir == "" {
		dataDir = "./data"
	}
	g := &GraphStore{
		dataDir: dataDir,
		logger:  logger,
	}
	g.index.Store(&graphIndex{stories: map[string]*story.Story{}})
	return g
}

// Load parses and indexes every story file. A story that fails to parse is
// omitted and reported, but the remaining stories still load; the returned
// error joins the per-story failures.
func (g *GraphStore) Load() error {
	return g.Reload()
}

// Reload rebuilds the whole index from disk and swaps it in atomically.
func (g *GraphStore) Reload() error {
	storiesDir := filepath.Join(g.dataDir, "stories")

	entries, err := os.ReadDir(storiesDir)
	if err != nil {
		return fmt.Errorf("failed to read stories directory: %w", err)
	}

	next := &graphIndex{stories: make(map[string]*story.Story)}
	var loadErrs []string

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		path := filepath.Join(storiesDir, entry.Name())
		s, err := loadStoryFile(path)
		if err != nil {
			g.logger.Error("Failed to load story", "path", path, "error", err)
			loadErrs = append(loadErrs, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}

		next.stories[s.ID] = s
		g.logger.Info("Story loaded", "story", s.ID, "fragments", len(s.Fragments))
	}

	g.index.Store(next)

	if len(loadErrs) > 0 {
		return fmt.Errorf("some stories failed to load: %s", strings.Join(loadErrs, "; "))
	}
	return nil
}

func loadStoryFile(path string) (*story.Story, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read story file: %w", err)
	}

	var s story.Story
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal story: %w", err)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("story has no id")
	}
	if s.StartingFragment == "" {
		return nil, fmt.Errorf("story %q has no starting fragment", s.ID)
	}

	// Map keys are authoritative for fragment identity.
	for id, f := range s.Fragments {
		f.ID = id
		f.StoryID = s.ID
	}
	return &s, nil
}

// Stories returns the loaded story definitions, sorted by id.
func (g *GraphStore) Stories() []*story.Story {
	idx := g.index.Load()
	out := make([]*story.Story, 0, len(idx.stories))
	for _, s := range idx.stories {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetStory returns a story definition by id.
func (g *GraphStore) GetStory(storyID string) (*story.Story, bool) {
	s, ok := g.index.Load().stories[storyID]
	return s, ok
}

// GetFragment returns a fragment by (story id, fragment id).
func (g *GraphStore) GetFragment(storyID, fragmentID string) (*story.Fragment, bool) {
	s, ok := g.index.Load().stories[storyID]
	if !ok {
		return nil, false
	}
	f, ok := s.Fragments[fragmentID]
	return f, ok
}

// GetStartingFragment resolves a story's declared starting fragment.
func (g *GraphStore) GetStartingFragment(storyID string) (*story.Fragment, bool) {
	s, ok := g.GetStory(storyID)
	if !ok {
		return nil, false
	}
	return g.GetFragment(storyID, s.StartingFragment)
}

// GetChapterFragments returns all fragments of a chapter ordered by scene.
func (g *GraphStore) GetChapterFragments(storyID string, chapter int) []*story.Fragment {
	s, ok := g.GetStory(storyID)
	if !ok {
		return nil
	}

	var fragments []*story.Fragment
	for _, f := range s.Fragments {
		if f.Chapter == chapter {
			fragments = append(fragments, f)
		}
	}
	sort.Slice(fragments, func(i, j int) bool {
		if fragments[i].Scene != fragments[j].Scene {
			return fragments[i].Scene < fragments[j].Scene
		}
		return fragments[i].ID < fragments[j].ID
	})
	return fragments
}

// ValidateChoice checks that a choice exists on the given fragment and
// returns it.
func (g *GraphStore) ValidateChoice(storyID, fragmentID, choiceID string) (*story.Choice, bool) {
	f, ok := g.GetFragment(storyID, fragmentID)
	if !ok {
		return nil, false
	}
	c := f.FindChoice(choiceID)
	return c, c != nil
}

// SearchFragments returns fragments whose title, narrator text or atmosphere
// text contains the query, case-insensitively. Diagnostic surface.
func (g *GraphStore) SearchFragments(storyID, query string) []*story.Fragment {
	s, ok := g.GetStory(storyID)
	if !ok {
		return nil
	}

	q := strings.ToLower(query)
	var results []*story.Fragment
	for _, f := range s.Fragments {
		if strings.Contains(strings.ToLower(f.NarratorText), q) ||
			strings.Contains(strings.ToLower(f.Title), q) ||
			strings.Contains(strings.ToLower(f.AtmosphereText), q) {
			results = append(results, f)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

// FragmentStats summarizes one fragment's authoring shape.
type FragmentStats struct {
	ID          string             `json:"id"`
	Type        story.FragmentType `json:"type"`
	Chapter     int                `json:"chapter"`
	Scene       int                `json:"scene"`
	NumChoices  int                `json:"num_choices"`
	HasRewards  bool               `json:"has_rewards"`
	IsHidden    bool               `json:"is_hidden"`
	RequiresVIP bool               `json:"requires_vip"`
}

// GetFragmentStats returns authoring stats for one fragment.
func (g *GraphStore) GetFragmentStats(storyID, fragmentID string) (*FragmentStats, bool) {
	f, ok := g.GetFragment(storyID, fragmentID)
	if !ok {
		return nil, false
	}
	return &FragmentStats{
		ID:          f.ID,
		Type:        f.Type,
		Chapter:     f.Chapter,
		Scene:       f.Scene,
		NumChoices:  len(f.Choices),
		HasRewards:  !f.Rewards.IsZero(),
		IsHidden:    f.Hidden,
		RequiresVIP: f.VIPOnly,
	}, true
}

// Explore walks the graph depth-first from a fragment, following the default
// next edge and every choice edge, up to maxDepth edges from the origin. It
// returns, for each reachable fragment id, a path that reaches it. Fragments
// already expanded at any depth are not re-expanded. Used for prefetch and
// route visualization; never mutates anything.
func (g *GraphStore) Explore(storyID, fromFragmentID string, maxDepth int) map[string][]string {
	paths := make(map[string][]string)
	visited := make(map[string]struct{})

	var explore func(currentID string, path []string, remaining int)
	explore = func(currentID string, path []string, remaining int) {
		if remaining <= 0 {
			return
		}
		if _, seen := visited[currentID]; seen {
			return
		}
		visited[currentID] = struct{}{}

		fragment, ok := g.GetFragment(storyID, currentID)
		if !ok {
			return
		}

		if fragment.NextFragment != "" {
			next := append(append([]string{}, path...), fragment.NextFragment)
			paths[fragment.NextFragment] = next
			explore(fragment.NextFragment, next, remaining-1)
		}
		for _, choice := range fragment.Choices {
			if choice.NextFragment == "" {
				continue
			}
			next := append(append([]string{}, path...), choice.NextFragment)
			paths[choice.NextFragment] = next
			explore(choice.NextFragment, next, remaining-1)
		}
	}

	explore(fromFragmentID, []string{}, maxDepth)
	return paths
}
