package engine

import (
	"context"

	"github.com/velvetroom/narrative-engine/pkg/story"
)

// UserFactsProvider supplies the user-derived facts that requirements are
// checked against. Story flags are overlaid from the narrative state by the
// engine itself, so implementations only need level, points, items and
// achievements.
type UserFactsProvider interface {
	GetFacts(ctx context.Context, userID string) (story.Facts, error)
}

// PointLedger credits narrative point awards to the user's balance.
// Crediting is at-least-once: the engine retries transitions, so
// implementations must tolerate replays.
type PointLedger interface {
	Credit(ctx context.Context, userID string, amount float64) error
}

// AchievementGrantor grants an achievement the first time only.
type AchievementGrantor interface {
	// GrantIfAbsent returns true when the achievement was newly granted.
	// Already-held achievements are skipped silently, not an error.
	GrantIfAbsent(ctx context.Context, userID, achievementCode string) (bool, error)
}

// LoreUnlocker unlocks a lore piece the first time only.
type LoreUnlocker interface {
	// UnlockIfAbsent returns true when the lore piece was newly unlocked.
	UnlockIfAbsent(ctx context.Context, userID, loreCode string) (bool, error)
}

// AccessGate answers whether a user may enter privileged (VIP) stories and
// fragments.
type AccessGate interface {
	HasElevatedAccess(ctx context.Context, userID string) (bool, error)
}

// MetricsRecorder receives traversal metrics after a transition commits.
// Recording is best-effort: failures are logged by the engine and never
// roll back the transition.
type MetricsRecorder interface {
	RecordVisit(ctx context.Context, storyID, fragmentID string) error
	RecordChoice(ctx context.Context, storyID, fragmentID, choiceID string) error
}
