package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

const (
	leaderboardGlobalKey  = "leaderboard:global"
	leaderboardTestPrefix = "leaderboard:test:"
)

// LeaderboardRepository keeps per-test and global score rankings in Redis
// sorted sets, fed by the post-submit notifier.
type LeaderboardRepository struct {
	Redis *redis.Client
}

func NewLeaderboardRepository(rdb *redis.Client) *LeaderboardRepository {
	return &LeaderboardRepository{Redis: rdb}
}

func (r *LeaderboardRepository) AddScore(ctx context.Context, testID, userID uint, marks float64) error {
	member := strconv.FormatUint(uint64(userID), 10)
	pipe := r.Redis.Pipeline()
	pipe.ZIncrBy(ctx, leaderboardGlobalKey, marks, member)
	pipe.ZIncrBy(ctx, testKey(testID), marks, member)
	_, err := pipe.Exec(ctx)
	return err
}

type LeaderboardEntry struct {
	UserID uint    `json:"userId"`
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"`
}

func (r *LeaderboardRepository) Top(ctx context.Context, testID uint, limit int) ([]LeaderboardEntry, error) {
	key := leaderboardGlobalKey
	if testID > 0 {
		key = testKey(testID)
	}

	raw, err := r.Redis.ZRevRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(raw))
	for i, z := range raw {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(member, 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			UserID: uint(id),
			Score:  z.Score,
			Rank:   i + 1,
		})
	}
	return entries, nil
}

func testKey(testID uint) string {
	return fmt.Sprintf("%s%d", leaderboardTestPrefix, testID)
}
