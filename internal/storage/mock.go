package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/velvetroom/narrative-engine/pkg/state"
)

// MockStorage is an in-memory implementation of Storage for testing. It
// mirrors the Redis semantics, including version compare-and-swap.
type MockStorage struct {
	mu        sync.Mutex
	states    map[string]*state.UserNarrativeState
	decisions map[string]map[string]*state.UserDecision // userID -> fragmentID -> record
	metrics   map[string]*state.FragmentMetrics         // storyID:fragmentID

	pingError   error
	commitError error
	// conflictsRemaining makes the next N commits fail with
	// ErrVersionConflict, for retry-path tests.
	conflictsRemaining int
}

// Ensure MockStorage implements Storage interface
var _ Storage = (*MockStorage)(nil)

// NewMockStorage creates a new mock storage.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		states:    make(map[string]*state.UserNarrativeState),
		decisions: make(map[string]map[string]*state.UserDecision),
		metrics:   make(map[string]*state.FragmentMetrics),
	}
}

// SetPingError configures the mock to fail on ping with the given error.
func (m *MockStorage) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// SetCommitError configures the mock to fail every commit with the given error.
func (m *MockStorage) SetCommitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitError = err
}

// FailCommitsWithConflict makes the next n commits return ErrVersionConflict.
func (m *MockStorage) FailCommitsWithConflict(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflictsRemaining = n
}

func (m *MockStorage) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingError
}

func (m *MockStorage) Close() error {
	return nil
}

func (m *MockStorage) GetUserState(ctx context.Context, userID string) (*state.UserNarrativeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[userID]
	if !ok {
		return nil, nil
	}
	return cloneState(st), nil
}

func (m *MockStorage) CommitTransition(ctx context.Context, st *state.UserNarrativeState, decision *state.UserDecision) error {
	if st == nil {
		return errors.New("narrative state cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.commitError != nil {
		return m.commitError
	}
	if m.conflictsRemaining > 0 {
		m.conflictsRemaining--
		return ErrVersionConflict
	}

	stored, exists := m.states[st.UserID]
	if exists && stored.Version != st.Version {
		return ErrVersionConflict
	}
	if !exists && st.Version != 0 {
		return ErrVersionConflict
	}

	next := cloneState(st)
	next.Version++
	m.states[st.UserID] = next

	if decision != nil {
		rows, ok := m.decisions[st.UserID]
		if !ok {
			rows = make(map[string]*state.UserDecision)
			m.decisions[st.UserID] = rows
		}
		d := *decision
		rows[decision.FragmentID] = &d
	}

	st.Version = next.Version
	return nil
}

func (m *MockStorage) ListDecisions(ctx context.Context, userID string, limit, offset int) ([]*state.UserDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.decisions[userID]
	out := make([]*state.UserDecision, 0, len(rows))
	for _, d := range rows {
		copied := *d
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MadeAt.After(out[j].MadeAt) })

	if offset >= len(out) {
		return []*state.UserDecision{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// DecisionCount reports how many decision rows exist for a user.
// Test helper; not part of the Storage interface.
func (m *MockStorage) DecisionCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.decisions[userID])
}

func (m *MockStorage) IncrFragmentVisit(ctx context.Context, storyID, fragmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metricsEntry(storyID, fragmentID).TimesVisited++
	return nil
}

func (m *MockStorage) IncrChoice(ctx context.Context, storyID, fragmentID, choiceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.metricsEntry(storyID, fragmentID)
	entry.ChoiceDistribution[choiceID]++
	return nil
}

func (m *MockStorage) GetFragmentMetrics(ctx context.Context, storyID, fragmentID string) (*state.FragmentMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.metricsEntry(storyID, fragmentID)
	copied := *entry
	copied.ChoiceDistribution = make(map[string]int64, len(entry.ChoiceDistribution))
	for k, v := range entry.ChoiceDistribution {
		copied.ChoiceDistribution[k] = v
	}
	return &copied, nil
}

func (m *MockStorage) metricsEntry(storyID, fragmentID string) *state.FragmentMetrics {
	key := storyID + ":" + fragmentID
	entry, ok := m.metrics[key]
	if !ok {
		entry = &state.FragmentMetrics{
			StoryID:            storyID,
			FragmentID:         fragmentID,
			ChoiceDistribution: map[string]int64{},
		}
		m.metrics[key] = entry
	}
	return entry
}

// cloneState deep-copies through JSON so callers cannot mutate stored state.
func cloneState(st *state.UserNarrativeState) *state.UserNarrativeState {
	data, _ := json.Marshal(st)
	var out state.UserNarrativeState
	_ = json.Unmarshal(data, &out)
	return &out
}
