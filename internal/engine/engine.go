package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/velvetroom/narrative-engine/internal/storage"
	"github.com/velvetroom/narrative-engine/pkg/state"
	"github.com/velvetroom/narrative-engine/pkg/story"
)

// Engine is the stateful core of the narrative system. It owns the
// read-modify-write lifecycle of a user's narrative state: starting a story,
// applying choices, free navigation, backward navigation, reward
// application and metrics recording.
//
// Every transition is one atomic unit of work: state mutation, decision
// upsert and completion recompute commit together. Metrics and point or
// achievement grants run after the commit as best-effort side effects.
type Engine struct {
	graph        *storage.GraphStore
	store        storage.Storage
	facts        UserFactsProvider
	ledger       PointLedger
	achievements AchievementGrantor
	lore         LoreUnlocker
	access       AccessGate
	metrics      MetricsRecorder
	logger       *slog.Logger
	locks        *userLocks
}

// Deps are the engine's collaborators, passed explicitly.
type Deps struct {
	Graph        *storage.GraphStore
	Store        storage.Storage
	Facts        UserFactsProvider
	Ledger       PointLedger
	Achievements AchievementGrantor
	Lore         LoreUnlocker
	Access       AccessGate
	Metrics      MetricsRecorder
	Logger       *slog.Logger
}

// New creates a narrative transition engine.
func New(deps Deps) *Engine {
	return &Engine{
		graph:        deps.Graph,
		store:        deps.Store,
		facts:        deps.Facts,
		ledger:       deps.Ledger,
		achievements: deps.Achievements,
		lore:         deps.Lore,
		access:       deps.Access,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		locks:        newUserLocks(),
	}
}

// transitionResult carries the outcome of a transition's validate-and-mutate
// phase: the fragment to return, an optional decision record committed with
// the state, and the side effects to run after the commit.
type transitionResult struct {
	fragment *story.Fragment
	decision *state.UserDecision
	post     []func(context.Context)
}

// runTransition serializes per user, loads (or lazily initializes) the
// state, applies fn, and commits. A version conflict re-reads and retries
// once before surfacing ConflictingState. Validation failures from fn leave
// persisted state untouched.
func (e *Engine) runTransition(ctx context.Context, userID string, fn func(st *state.UserNarrativeState) (*transitionResult, error)) (*story.Fragment, error) {
	unlock := e.locks.lock(userID)
	defer unlock()

	const attempts = 2
	for attempt := 0; attempt < attempts; attempt++ {
		st, err := e.store.GetUserState(ctx, userID)
		if err != nil {
			return nil, persistenceFailure(err)
		}
		if st == nil {
			st = state.NewUserNarrativeState(userID)
		}

		res, err := fn(st)
		if err != nil {
			return nil, err
		}

		if err := e.store.CommitTransition(ctx, st, res.decision); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				e.logger.Debug("Transition conflict, retrying", "user_id", userID, "attempt", attempt+1)
				continue
			}
			return nil, persistenceFailure(err)
		}

		for _, post := range res.post {
			post(ctx)
		}
		return res.fragment, nil
	}

	return nil, conflictingState("narrative state changed concurrently")
}

// StartStory begins a story for the user: position moves to the starting
// fragment, history resets to it, completion resets to zero. Starting while
// another story is mid-flight is rejected; a finished story may be replaced.
func (e *Engine) StartStory(ctx context.Context, userID, storyID string) (*story.Fragment, error) {
	return e.runTransition(ctx, userID, func(st *state.UserNarrativeState) (*transitionResult, error) {
		s, ok := e.graph.GetStory(storyID)
		if !ok {
			return nil, notFound("story not found: " + storyID)
		}

		if st.HasActiveStory() && !e.storyFinished(st) {
			return nil, conflictingState("a story is already in progress")
		}

		if s.RequiresVIP {
			allowed, err := e.access.HasElevatedAccess(ctx, userID)
			if err != nil {
				return nil, persistenceFailure(err)
			}
			if !allowed {
				return nil, requirementsNotMet([]string{"VIP subscription"})
			}
		}

		if s.MinLevel > 1 {
			facts, err := e.userFacts(ctx, userID, st)
			if err != nil {
				return nil, err
			}
			levelGate := &story.Requirements{Level: s.MinLevel}
			if ok, missing := levelGate.Check(facts); !ok {
				return nil, requirementsNotMet(missing)
			}
		}

		start, ok := e.graph.GetStartingFragment(storyID)
		if !ok {
			return nil, notFound("starting fragment missing for story: " + storyID)
		}

		st.ActiveStory = storyID
		st.CurrentFragmentID = start.ID
		st.CurrentChapter = start.Chapter
		st.FragmentsVisited = []string{start.ID}
		st.StoryCompletionPercent = 0
		st.CompletedAt = nil
		st.LastInteractionAt = time.Now().UTC()
		if s.RequiresVIP {
			st.VIPStoryUnlocked = true
		}

		return &transitionResult{
			fragment: start,
			post: []func(context.Context){
				e.recordVisit(storyID, start.ID),
				e.creditPoints(userID, PointsFragmentRead),
			},
		}, nil
	})
}

// MakeChoice takes a choice from the user's current fragment. The choice is
// validated against the fragment's choice set and its requirements against
// current facts; failures mutate nothing. On success the decision is
// recorded (one row per originating fragment, upserted in place), effects
// apply, the position advances and completion is recomputed.
func (e *Engine) MakeChoice(ctx context.Context, userID, choiceID string) (*story.Fragment, error) {
	return e.runTransition(ctx, userID, func(st *state.UserNarrativeState) (*transitionResult, error) {
		if !st.HasActiveStory() {
			return nil, invalidTransition("no active story")
		}
		current, ok := e.graph.GetFragment(st.ActiveStory, st.CurrentFragmentID)
		if !ok {
			return nil, notFound("current fragment cannot be resolved: " + st.CurrentFragmentID)
		}

		choice := current.FindChoice(choiceID)
		if choice == nil {
			return nil, notFound("choice not found: " + choiceID)
		}

		facts, err := e.userFacts(ctx, userID, st)
		if err != nil {
			return nil, err
		}
		if ok, missing := choice.Requirements.Check(facts); !ok {
			return nil, requirementsNotMet(missing)
		}

		target, ok := e.graph.GetFragment(st.ActiveStory, choice.NextFragment)
		if !ok {
			return nil, notFound("choice target cannot be resolved: " + choice.NextFragment)
		}

		fromFragmentID := st.CurrentFragmentID
		decision := state.NewUserDecision(userID, fromFragmentID, choice.ID, choice.Text, current.Chapter)

		post := e.applyChoiceEffects(userID, st, choice.Effects, decision)
		post = append(post, e.advance(userID, st, target)...)
		st.TotalDecisionsMade++

		post = append(post,
			e.recordVisit(st.ActiveStory, target.ID),
			e.recordChoice(st.ActiveStory, fromFragmentID, choice.ID),
			e.creditPoints(userID, PointsDecisionMade),
		)

		return &transitionResult{fragment: target, decision: decision, post: post}, nil
	})
}

// NavigateNext follows the current fragment's default next edge. Fragments
// reached this way carry their own requirement gate. No decision record is
// created; the smaller fragment-read award applies.
func (e *Engine) NavigateNext(ctx context.Context, userID string) (*story.Fragment, error) {
	return e.runTransition(ctx, userID, func(st *state.UserNarrativeState) (*transitionResult, error) {
		if !st.HasActiveStory() {
			return nil, invalidTransition("no active story")
		}
		current, ok := e.graph.GetFragment(st.ActiveStory, st.CurrentFragmentID)
		if !ok {
			return nil, notFound("current fragment cannot be resolved: " + st.CurrentFragmentID)
		}
		if current.NextFragment == "" {
			return nil, invalidTransition("no next fragment")
		}

		target, ok := e.graph.GetFragment(st.ActiveStory, current.NextFragment)
		if !ok {
			return nil, notFound("next fragment cannot be resolved: " + current.NextFragment)
		}

		facts, err := e.userFacts(ctx, userID, st)
		if err != nil {
			return nil, err
		}
		if ok, missing := target.Requirements.Check(facts); !ok {
			return nil, requirementsNotMet(missing)
		}

		post := e.advance(userID, st, target)
		post = append(post,
			e.recordVisit(st.ActiveStory, target.ID),
			e.creditPoints(userID, PointsFragmentRead),
		)

		return &transitionResult{fragment: target, post: post}, nil
	})
}

// GoBack moves the position pointer to the entry preceding the current
// fragment in the visited history. History itself is never truncated, so a
// later forward move can revisit fragments without duplicating them.
func (e *Engine) GoBack(ctx context.Context, userID string) (*story.Fragment, error) {
	return e.runTransition(ctx, userID, func(st *state.UserNarrativeState) (*transitionResult, error) {
		if !st.HasActiveStory() {
			return nil, invalidTransition("no active story")
		}
		if len(st.FragmentsVisited) <= 1 {
			return nil, invalidTransition("cannot go back further")
		}

		idx := st.VisitedIndex(st.CurrentFragmentID)
		if idx <= 0 {
			return nil, invalidTransition("already at the start of the story")
		}

		previousID := st.FragmentsVisited[idx-1]
		previous, ok := e.graph.GetFragment(st.ActiveStory, previousID)
		if !ok {
			return nil, notFound("previous fragment cannot be resolved: " + previousID)
		}

		st.CurrentFragmentID = previousID
		st.CurrentChapter = previous.Chapter
		st.LastInteractionAt = time.Now().UTC()

		return &transitionResult{fragment: previous}, nil
	})
}

// CurrentFragment returns the user's current fragment and state without
// mutating anything.
func (e *Engine) CurrentFragment(ctx context.Context, userID string) (*story.Fragment, *state.UserNarrativeState, error) {
	st, err := e.store.GetUserState(ctx, userID)
	if err != nil {
		return nil, nil, persistenceFailure(err)
	}
	if st == nil || !st.HasActiveStory() {
		return nil, nil, invalidTransition("no active story")
	}
	f, ok := e.graph.GetFragment(st.ActiveStory, st.CurrentFragmentID)
	if !ok {
		return nil, nil, notFound("current fragment cannot be resolved: " + st.CurrentFragmentID)
	}
	return f, st, nil
}

// advance moves the state onto target and returns the side effects earned
// on arrival: hidden-discovery and chapter bonuses, fragment rewards, the
// completion recompute and the story-complete stamp.
func (e *Engine) advance(userID string, st *state.UserNarrativeState, target *story.Fragment) []func(context.Context) {
	var post []func(context.Context)

	previousChapter := st.CurrentChapter
	firstVisit := !st.HasVisited(target.ID)

	st.CurrentFragmentID = target.ID
	st.CurrentChapter = target.Chapter
	st.MarkVisited(target.ID)
	// Checkpoint fragments save implicitly: the interaction stamp below is
	// the save point.
	st.LastInteractionAt = time.Now().UTC()

	if target.Hidden && firstVisit {
		post = append(post, e.creditPoints(userID, PointsHiddenFound))
	}
	if !target.Rewards.IsZero() {
		post = append(post, e.applyRewards(userID, st, target.Rewards)...)
	}

	if s, ok := e.graph.GetStory(st.ActiveStory); ok {
		st.StoryCompletionPercent = story.CompletionPercent(s.NonHiddenFragmentIDs(), st.FragmentsVisited)
	}
	if st.StoryCompletionPercent >= 100 && st.CompletedAt == nil {
		now := time.Now().UTC()
		st.CompletedAt = &now
		post = append(post, e.creditPoints(userID, PointsStoryComplete))
	}
	if target.Chapter > previousChapter {
		post = append(post, e.creditPoints(userID, PointsChapterComplete))
	}

	return post
}

// applyChoiceEffects mutates state with the choice's effects and attributes
// grants to the decision record. Point grants are credited post-commit.
func (e *Engine) applyChoiceEffects(userID string, st *state.UserNarrativeState, effects *story.Effects, decision *state.UserDecision) []func(context.Context) {
	if effects == nil {
		return nil
	}

	var post []func(context.Context)

	for character, delta := range effects.Relationships {
		if st.RelationshipScores == nil {
			st.RelationshipScores = map[string]int{}
		}
		st.RelationshipScores[character] += delta
	}

	if len(effects.StoryFlags) > 0 {
		if st.StoryFlags == nil {
			st.StoryFlags = map[string]any{}
		}
		for flag, value := range effects.StoryFlags {
			st.StoryFlags[flag] = value
		}
		decision.FlagsSet = effects.StoryFlags
	}

	if len(effects.Items) > 0 {
		decision.ItemsGained = effects.Items
	}

	if effects.Points > 0 {
		decision.PointsGained = effects.Points
		post = append(post, e.creditPoints(userID, effects.Points))
	}

	return post
}

// applyRewards handles a destination fragment's rewards: point credits and
// idempotent achievement/lore grants run post-commit; unlocked fragment ids
// join the discovered list inside the atomic unit.
func (e *Engine) applyRewards(userID string, st *state.UserNarrativeState, rewards *story.Rewards) []func(context.Context) {
	var post []func(context.Context)

	if rewards.Points > 0 {
		post = append(post, e.creditPoints(userID, rewards.Points))
	}

	for _, code := range rewards.Achievements {
		post = append(post, func(ctx context.Context) {
			if _, err := e.achievements.GrantIfAbsent(ctx, userID, code); err != nil {
				e.logger.Warn("Achievement grant failed", "user_id", userID, "achievement", code, "error", err)
			}
		})
	}

	for _, code := range rewards.LorePieces {
		post = append(post, func(ctx context.Context) {
			if _, err := e.lore.UnlockIfAbsent(ctx, userID, code); err != nil {
				e.logger.Warn("Lore unlock failed", "user_id", userID, "lore", code, "error", err)
			}
		})
	}

	for _, fragmentID := range rewards.UnlockFragments {
		st.Discover(fragmentID)
	}

	return post
}

// userFacts assembles requirement facts: the external provider supplies
// level, points, items and achievements; story flags come from the
// narrative state itself.
func (e *Engine) userFacts(ctx context.Context, userID string, st *state.UserNarrativeState) (story.Facts, error) {
	facts, err := e.facts.GetFacts(ctx, userID)
	if err != nil {
		return story.Facts{}, persistenceFailure(err)
	}
	facts.StoryFlags = st.StoryFlags
	return facts, nil
}

func (e *Engine) storyFinished(st *state.UserNarrativeState) bool {
	if st.CompletedAt != nil {
		return true
	}
	f, ok := e.graph.GetFragment(st.ActiveStory, st.CurrentFragmentID)
	return ok && f.IsEnding()
}

// Side-effect helpers. Failures are logged and swallowed: metrics and point
// grants must never fail a committed transition.

func (e *Engine) creditPoints(userID string, amount float64) func(context.Context) {
	return func(ctx context.Context) {
		if err := e.ledger.Credit(ctx, userID, amount); err != nil {
			e.logger.Warn("Point credit failed", "user_id", userID, "amount", amount, "error", err)
		}
	}
}

func (e *Engine) recordVisit(storyID, fragmentID string) func(context.Context) {
	return func(ctx context.Context) {
		if err := e.metrics.RecordVisit(ctx, storyID, fragmentID); err != nil {
			e.logger.Warn("Visit metric failed", "story", storyID, "fragment", fragmentID, "error", err)
		}
	}
}

func (e *Engine) recordChoice(storyID, fragmentID, choiceID string) func(context.Context) {
	return func(ctx context.Context) {
		if err := e.metrics.RecordChoice(ctx, storyID, fragmentID, choiceID); err != nil {
			e.logger.Warn("Choice metric failed", "story", storyID, "fragment", fragmentID, "choice", choiceID, "error", err)
		}
	}
}
