package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/velvetroom/narrative-engine/internal/engine"
	"github.com/velvetroom/narrative-engine/pkg/story"
)

// Redis key layout for user-owned data. Profile fields live in a hash,
// collections in sets, the point balance in a plain counter so it can be
// adjusted with INCRBYFLOAT.
const (
	profileKeyPrefix      = "user:profile:"
	pointsKeyPrefix       = "user:points:"
	itemsKeyPrefix        = "user:items:"
	achievementsKeyPrefix = "user:achievements:"
	loreKeyPrefix         = "user:lore:"
	vipSetKey             = "users:vip"
)

// UserService exposes user profile data to the narrative engine: requirement
// facts, the point balance, achievement and lore collections, and elevated
// access. It implements the engine's UserFactsProvider, PointLedger,
// AchievementGrantor, LoreUnlocker and AccessGate ports.
type UserService struct {
	client   *redis.Client
	logger   *slog.Logger
	elevated map[string]bool
}

// NewUserService creates a user service. elevatedUsers are granted access to
// restricted stories without a VIP membership, on top of the Redis VIP set.
func NewUserService(client *redis.Client, logger *slog.Logger, elevatedUsers []string) *UserService {
	elevated := make(map[string]bool, len(elevatedUsers))
	for _, id := range elevatedUsers {
		elevated[id] = true
	}
	return &UserService{
		client:   client,
		logger:   logger,
		elevated: elevated,
	}
}

var (
	_ engine.UserFactsProvider  = (*UserService)(nil)
	_ engine.PointLedger        = (*UserService)(nil)
	_ engine.AchievementGrantor = (*UserService)(nil)
	_ engine.LoreUnlocker       = (*UserService)(nil)
	_ engine.AccessGate         = (*UserService)(nil)
)

// GetFacts assembles the requirement facts held outside narrative state:
// level and point balance from the profile, plus the item and achievement
// collections. Story flags are overlaid from narrative state by the caller.
func (s *UserService) GetFacts(ctx context.Context, userID string) (story.Facts, error) {
	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return story.Facts{}, err
	}

	items, err := s.client.SMembers(ctx, itemsKeyPrefix+userID).Result()
	if err != nil {
		return story.Facts{}, fmt.Errorf("failed to load items: %w", err)
	}
	achievements, err := s.client.SMembers(ctx, achievementsKeyPrefix+userID).Result()
	if err != nil {
		return story.Facts{}, fmt.Errorf("failed to load achievements: %w", err)
	}

	return story.Facts{
		Level:        profile.Level,
		Points:       profile.Points,
		Items:        items,
		Achievements: achievements,
	}, nil
}

type userProfile struct {
	Level  int
	Points float64
}

func (s *UserService) loadProfile(ctx context.Context, userID string) (userProfile, error) {
	p := userProfile{Level: 1}

	fields, err := s.client.HGetAll(ctx, profileKeyPrefix+userID).Result()
	if err != nil {
		return p, fmt.Errorf("failed to load profile: %w", err)
	}
	if raw, ok := fields["level"]; ok {
		if level, err := strconv.Atoi(raw); err == nil && level > 0 {
			p.Level = level
		}
	}

	raw, err := s.client.Get(ctx, pointsKeyPrefix+userID).Result()
	if err != nil && err != redis.Nil {
		return p, fmt.Errorf("failed to load point balance: %w", err)
	}
	if err == nil {
		if points, convErr := strconv.ParseFloat(raw, 64); convErr == nil {
			p.Points = points
		}
	}
	return p, nil
}

// Credit adds points to the user's balance. Negative amounts debit.
func (s *UserService) Credit(ctx context.Context, userID string, amount float64) error {
	balance, err := s.client.IncrByFloat(ctx, pointsKeyPrefix+userID, amount).Result()
	if err != nil {
		return fmt.Errorf("failed to credit points: %w", err)
	}
	s.logger.Debug("Points credited", "user_id", userID, "amount", amount, "balance", balance)
	return nil
}

// Balance returns the user's current point balance.
func (s *UserService) Balance(ctx context.Context, userID string) (float64, error) {
	raw, err := s.client.Get(ctx, pointsKeyPrefix+userID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read point balance: %w", err)
	}
	return strconv.ParseFloat(raw, 64)
}

// GrantIfAbsent adds an achievement to the user's collection. It reports
// whether the achievement was newly granted.
func (s *UserService) GrantIfAbsent(ctx context.Context, userID, code string) (bool, error) {
	added, err := s.client.SAdd(ctx, achievementsKeyPrefix+userID, code).Result()
	if err != nil {
		return false, fmt.Errorf("failed to grant achievement: %w", err)
	}
	if added > 0 {
		s.logger.Info("Achievement granted", "user_id", userID, "achievement", code)
	}
	return added > 0, nil
}

// UnlockIfAbsent adds a lore piece to the user's collection. It reports
// whether the piece was newly unlocked.
func (s *UserService) UnlockIfAbsent(ctx context.Context, userID, code string) (bool, error) {
	added, err := s.client.SAdd(ctx, loreKeyPrefix+userID, code).Result()
	if err != nil {
		return false, fmt.Errorf("failed to unlock lore: %w", err)
	}
	if added > 0 {
		s.logger.Info("Lore unlocked", "user_id", userID, "lore", code)
	}
	return added > 0, nil
}

// GiveItem adds an item to the user's inventory set.
func (s *UserService) GiveItem(ctx context.Context, userID, item string) error {
	if err := s.client.SAdd(ctx, itemsKeyPrefix+userID, item).Err(); err != nil {
		return fmt.Errorf("failed to give item: %w", err)
	}
	return nil
}

// HasElevatedAccess reports whether the user may enter restricted stories,
// either through the static allowlist or VIP membership in Redis.
func (s *UserService) HasElevatedAccess(ctx context.Context, userID string) (bool, error) {
	if s.elevated[userID] {
		return true, nil
	}
	member, err := s.client.SIsMember(ctx, vipSetKey, userID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check VIP membership: %w", err)
	}
	return member, nil
}

// SetVIP adds or removes the user from the VIP set.
func (s *UserService) SetVIP(ctx context.Context, userID string, vip bool) error {
	var err error
	if vip {
		err = s.client.SAdd(ctx, vipSetKey, userID).Err()
	} else {
		err = s.client.SRem(ctx, vipSetKey, userID).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to update VIP membership: %w", err)
	}
	return nil
}
