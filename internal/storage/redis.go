package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velvetroom/narrative-engine/pkg/state"
)

// RedisStorage implements the Storage interface using Redis for user state,
// decision records and fragment metrics.
type RedisStorage struct {
	client *redis.Client
	logger *slog.Logger
}

// Ensure RedisStorage implements Storage interface
var _ Storage = (*RedisStorage)(nil)

// NewRedisStorage creates a new Redis storage instance.
func NewRedisStorage(redisURL string, logger *slog.Logger) (*RedisStorage, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return &RedisStorage{
		client: redis.NewClient(opt),
		logger: logger,
	}, nil
}

// Client returns the underlying Redis client for services that share the
// connection.
func (r *RedisStorage) Client() *redis.Client {
	return r.client
}

func (r *RedisStorage) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// WaitForConnection waits for Redis to become available (used during startup)
func (r *RedisStorage) WaitForConnection(ctx context.Context) error {
	maxRetries := 30
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		if err := r.Ping(ctx); err != nil {
			r.logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
			case <-time.After(retryDelay):
				continue
			}
		}

		r.logger.Info("Redis connection established")
		return nil
	}

	return fmt.Errorf("redis did not become available after %d attempts", maxRetries)
}

func stateKey(userID string) string {
	return "narrative:state:" + userID
}

func decisionsKey(userID string) string {
	return "narrative:decisions:" + userID
}

func metricsKey(storyID, fragmentID string) string {
	return "narrative:metrics:" + storyID + ":" + fragmentID
}

const (
	visitsField       = "visits"
	choiceFieldPrefix = "choice:"
)

func (r *RedisStorage) GetUserState(ctx context.Context, userID string) (*state.UserNarrativeState, error) {
	data, err := r.client.Get(ctx, stateKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		r.logger.Error("Failed to load narrative state", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to load narrative state: %w", err)
	}

	var st state.UserNarrativeState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		r.logger.Error("Failed to unmarshal narrative state", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to unmarshal narrative state: %w", err)
	}
	return &st, nil
}

// CommitTransition writes state and decision under an optimistic lock on the
// state key. The version check makes concurrent transitions for the same
// user first-committer-wins.
func (r *RedisStorage) CommitTransition(ctx context.Context, st *state.UserNarrativeState, decision *state.UserDecision) error {
	if st == nil {
		return errors.New("narrative state cannot be nil")
	}

	key := stateKey(st.UserID)

	txf := func(tx *redis.Tx) error {
		stored, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if st.Version != 0 {
				return ErrVersionConflict
			}
		case err != nil:
			return fmt.Errorf("failed to read narrative state: %w", err)
		default:
			var cur state.UserNarrativeState
			if err := json.Unmarshal([]byte(stored), &cur); err != nil {
				return fmt.Errorf("failed to unmarshal stored state: %w", err)
			}
			if cur.Version != st.Version {
				return ErrVersionConflict
			}
		}

		next := *st
		next.Version++
		data, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("failed to marshal narrative state: %w", err)
		}

		var decisionData []byte
		if decision != nil {
			if decisionData, err = json.Marshal(decision); err != nil {
				return fmt.Errorf("failed to marshal decision: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if decision != nil {
				pipe.HSet(ctx, decisionsKey(st.UserID), decision.FragmentID, decisionData)
			}
			return nil
		})
		if err != nil {
			return err
		}

		st.Version = next.Version
		return nil
	}

	err := r.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Another writer touched the key between WATCH and EXEC.
		return ErrVersionConflict
	}
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return err
		}
		r.logger.Error("Failed to commit transition", "user_id", st.UserID, "error", err)
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

func (r *RedisStorage) ListDecisions(ctx context.Context, userID string, limit, offset int) ([]*state.UserDecision, error) {
	rows, err := r.client.HGetAll(ctx, decisionsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}

	decisions := make([]*state.UserDecision, 0, len(rows))
	for field, raw := range rows {
		var d state.UserDecision
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			r.logger.Warn("Skipping unreadable decision record", "user_id", userID, "fragment", field, "error", err)
			continue
		}
		decisions = append(decisions, &d)
	}

	sort.Slice(decisions, func(i, j int) bool {
		return decisions[i].MadeAt.After(decisions[j].MadeAt)
	})

	if offset >= len(decisions) {
		return []*state.UserDecision{}, nil
	}
	decisions = decisions[offset:]
	if limit > 0 && limit < len(decisions) {
		decisions = decisions[:limit]
	}
	return decisions, nil
}

func (r *RedisStorage) IncrFragmentVisit(ctx context.Context, storyID, fragmentID string) error {
	if err := r.client.HIncrBy(ctx, metricsKey(storyID, fragmentID), visitsField, 1).Err(); err != nil {
		return fmt.Errorf("failed to record fragment visit: %w", err)
	}
	return nil
}

func (r *RedisStorage) IncrChoice(ctx context.Context, storyID, fragmentID, choiceID string) error {
	field := choiceFieldPrefix + choiceID
	if err := r.client.HIncrBy(ctx, metricsKey(storyID, fragmentID), field, 1).Err(); err != nil {
		return fmt.Errorf("failed to record choice: %w", err)
	}
	return nil
}

func (r *RedisStorage) GetFragmentMetrics(ctx context.Context, storyID, fragmentID string) (*state.FragmentMetrics, error) {
	fields, err := r.client.HGetAll(ctx, metricsKey(storyID, fragmentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read fragment metrics: %w", err)
	}

	m := &state.FragmentMetrics{
		StoryID:            storyID,
		FragmentID:         fragmentID,
		ChoiceDistribution: map[string]int64{},
	}
	for field, raw := range fields {
		count, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		switch {
		case field == visitsField:
			m.TimesVisited = count
		case strings.HasPrefix(field, choiceFieldPrefix):
			m.ChoiceDistribution[strings.TrimPrefix(field, choiceFieldPrefix)] = count
		}
	}
	return m, nil
}
