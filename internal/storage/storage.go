package storage

import (
	"context"
	"errors"

	"github.com/velvetroom/narrative-engine/pkg/state"
)

// ErrVersionConflict is returned by CommitTransition when the persisted
// state changed underneath the caller. The engine re-reads and retries once
// before surfacing a conflict to its caller.
var ErrVersionConflict = errors.New("narrative state version conflict")

// Storage is the persistence port for user narrative state, decision
// records and fragment metrics.
type Storage interface {
	// Ping tests the storage connection.
	Ping(ctx context.Context) error

	// Close closes the storage connection.
	Close() error

	// GetUserState retrieves a user's narrative state.
	// Returns nil when the user has no state yet.
	GetUserState(ctx context.Context, userID string) (*state.UserNarrativeState, error)

	// CommitTransition writes the state and, when decision is non-nil, the
	// decision record as one atomic unit. The decision is upserted by
	// (user, fragment): a second choice from the same fragment overwrites
	// the record in place. The write is conditional on state.Version
	// matching the stored version; on mismatch ErrVersionConflict is
	// returned and nothing is written. On success the stored version (and
	// state.Version) is incremented.
	CommitTransition(ctx context.Context, st *state.UserNarrativeState, decision *state.UserDecision) error

	// ListDecisions returns a user's decision records, newest first.
	ListDecisions(ctx context.Context, userID string, limit, offset int) ([]*state.UserDecision, error)

	// IncrFragmentVisit atomically increments a fragment's visit counter.
	IncrFragmentVisit(ctx context.Context, storyID, fragmentID string) error

	// IncrChoice atomically increments one bucket of a fragment's choice
	// distribution.
	IncrChoice(ctx context.Context, storyID, fragmentID, choiceID string) error

	// GetFragmentMetrics reads the aggregate counters for one fragment.
	GetFragmentMetrics(ctx context.Context, storyID, fragmentID string) (*state.FragmentMetrics, error)
}
