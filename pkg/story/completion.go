package story

import (
	"math"
	"sort"
)

// CompletionPercent computes the share of non-hidden fragments the user has
// visited, rounded to one decimal place. Hidden fragments never count toward
// the denominator, even when visited. Returns 0 for an empty fragment set.
func CompletionPercent(nonHiddenIDs, visitedIDs []string) float64 {
	if len(nonHiddenIDs) == 0 {
		return 0
	}

	main := make(map[string]struct{}, len(nonHiddenIDs))
	for _, id := range nonHiddenIDs {
		main[id] = struct{}{}
	}

	visited := 0
	seen := make(map[string]struct{}, len(visitedIDs))
	for _, id := range visitedIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := main[id]; ok {
			visited++
		}
	}

	return math.Round(float64(visited)/float64(len(main))*1000) / 10
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
