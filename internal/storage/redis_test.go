package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/velvetroom/narrative-engine/pkg/state"
)

func setupTestRedis(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rs, err := NewRedisStorage("redis://"+mr.Addr(), testLogger())
	if err != nil {
		t.Fatalf("Failed to create redis storage: %v", err)
	}
	t.Cleanup(func() {
		if err := rs.Close(); err != nil {
			t.Errorf("Failed to close redis storage: %v", err)
		}
	})

	return rs, mr
}

func TestRedisStorage_GetUserState_NotFound(t *testing.T) {
	rs, _ := setupTestRedis(t)

	st, err := rs.GetUserState(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st != nil {
		t.Error("expected nil state for unknown user")
	}
}

func TestRedisStorage_CommitAndReload(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	st := state.NewUserNarrativeState("user-1")
	st.ActiveStory = "free"
	st.CurrentFragmentID = "f0"
	st.MarkVisited("f0")

	if err := rs.CommitTransition(ctx, st, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if st.Version != 1 {
		t.Errorf("expected version 1 after first commit, got %d", st.Version)
	}

	loaded, err := rs.GetUserState(ctx, "user-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil || loaded.CurrentFragmentID != "f0" || loaded.Version != 1 {
		t.Errorf("unexpected loaded state: %+v", loaded)
	}
}

func TestRedisStorage_CommitVersionConflict(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	st := state.NewUserNarrativeState("user-1")
	if err := rs.CommitTransition(ctx, st, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// A writer holding the old version must be rejected.
	stale := state.NewUserNarrativeState("user-1")
	stale.Version = 0
	err := rs.CommitTransition(ctx, stale, nil)
	if err != ErrVersionConflict {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	// The committed state is untouched.
	loaded, err := rs.GetUserState(ctx, "user-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Version != 1 {
		t.Errorf("stored version should still be 1, got %d", loaded.Version)
	}
}

func TestRedisStorage_DecisionUpsert(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	st := state.NewUserNarrativeState("user-1")
	first := state.NewUserDecision("user-1", "f1", "left", "Take the left door", 1)
	if err := rs.CommitTransition(ctx, st, first); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Re-choosing from the same fragment overwrites, never duplicates.
	second := state.NewUserDecision("user-1", "f1", "right", "Take the right door", 1)
	second.MadeAt = first.MadeAt.Add(time.Second)
	if err := rs.CommitTransition(ctx, st, second); err != nil {
		t.Fatalf("second commit: %v", err)
	}

	decisions, err := rs.ListDecisions(ctx, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("expected exactly one decision row, got %d", len(decisions))
	}
	if decisions[0].ChoiceID != "right" {
		t.Errorf("expected the overwritten record, got %+v", decisions[0])
	}
}

func TestRedisStorage_ListDecisions_Order(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	st := state.NewUserNarrativeState("user-1")
	base := time.Now().UTC()
	for i, frag := range []string{"f1", "f3", "f5"} {
		d := state.NewUserDecision("user-1", frag, "a", "choice", 1)
		d.MadeAt = base.Add(time.Duration(i) * time.Minute)
		if err := rs.CommitTransition(ctx, st, d); err != nil {
			t.Fatalf("commit %s: %v", frag, err)
		}
	}

	decisions, err := rs.ListDecisions(ctx, "user-1", 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("expected limit to apply, got %d rows", len(decisions))
	}
	if decisions[0].FragmentID != "f5" || decisions[1].FragmentID != "f3" {
		t.Errorf("expected newest first, got %s then %s", decisions[0].FragmentID, decisions[1].FragmentID)
	}

	rest, err := rs.ListDecisions(ctx, "user-1", 10, 2)
	if err != nil {
		t.Fatalf("list offset: %v", err)
	}
	if len(rest) != 1 || rest[0].FragmentID != "f1" {
		t.Errorf("unexpected offset page: %+v", rest)
	}
}

func TestRedisStorage_Metrics(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := rs.IncrFragmentVisit(ctx, "free", "f1"); err != nil {
			t.Fatalf("incr visit: %v", err)
		}
	}
	if err := rs.IncrChoice(ctx, "free", "f1", "left"); err != nil {
		t.Fatalf("incr choice: %v", err)
	}
	if err := rs.IncrChoice(ctx, "free", "f1", "left"); err != nil {
		t.Fatalf("incr choice: %v", err)
	}
	if err := rs.IncrChoice(ctx, "free", "f1", "right"); err != nil {
		t.Fatalf("incr choice: %v", err)
	}

	m, err := rs.GetFragmentMetrics(ctx, "free", "f1")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	if m.TimesVisited != 3 {
		t.Errorf("expected 3 visits, got %d", m.TimesVisited)
	}
	if m.ChoiceDistribution["left"] != 2 || m.ChoiceDistribution["right"] != 1 {
		t.Errorf("unexpected distribution: %v", m.ChoiceDistribution)
	}
}
