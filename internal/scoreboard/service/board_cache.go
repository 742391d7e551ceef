package service

import (
	"context"
	"fmt"
	"time"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/scoreboard/model"
)

const (
	boardKeyPrefix  = "scoreboard:"
	defaultBoardTTL = 48 * time.Hour
)

// BoardCache mirrors contest totals into a Redis sorted set so rank
// and score lookups do not touch the engine. The engine remains the
// source of truth; the mirror is advisory.
type BoardCache struct {
	cache cache.Cache
	ttl   time.Duration
}

// RankEntry is one mirrored scoreboard position.
type RankEntry struct {
	UserID string
	Score  int64
	Rank   int64
}

func NewBoardCache(cacheClient cache.Cache) (*BoardCache, error) {
	if cacheClient == nil {
		return nil, fmt.Errorf("cache is required")
	}
	return &BoardCache{cache: cacheClient, ttl: defaultBoardTTL}, nil
}

// SetScore writes one user's current total.
func (b *BoardCache) SetScore(ctx context.Context, contestID int64, userID string, score int64) error {
	key := boardKey(contestID)
	if err := b.cache.ZAdd(ctx, key, cache.ZMember{Score: float64(score), Member: userID}); err != nil {
		return err
	}
	return b.cache.Expire(ctx, key, b.ttl)
}

// Rewrite replaces the whole mirrored board.
func (b *BoardCache) Rewrite(ctx context.Context, contestID int64, rows []model.Row) error {
	key := boardKey(contestID)
	if err := b.cache.Del(ctx, key); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	members := make([]cache.ZMember, 0, len(rows))
	for _, row := range rows {
		members = append(members, cache.ZMember{Score: float64(row.TotalScore), Member: row.UserID})
	}
	if err := b.cache.ZAdd(ctx, key, members...); err != nil {
		return err
	}
	return b.cache.Expire(ctx, key, b.ttl)
}

// Top returns the highest mirrored totals.
func (b *BoardCache) Top(ctx context.Context, contestID int64, n int64) ([]RankEntry, error) {
	if n <= 0 {
		n = 10
	}
	members, err := b.cache.ZRevRangeWithScores(ctx, boardKey(contestID), 0, n-1)
	if err != nil {
		return nil, err
	}
	entries := make([]RankEntry, 0, len(members))
	for i, m := range members {
		entries = append(entries, RankEntry{
			UserID: m.Member,
			Score:  int64(m.Score),
			Rank:   int64(i + 1),
		})
	}
	return entries, nil
}

// UserRank returns a user's mirrored position, or -1 when absent.
func (b *BoardCache) UserRank(ctx context.Context, contestID int64, userID string) (int64, error) {
	rank, err := b.cache.ZRevRank(ctx, boardKey(contestID), userID)
	if err != nil {
		return -1, err
	}
	if rank < 0 {
		return -1, nil
	}
	return rank + 1, nil
}

// Size returns how many users are on the mirrored board.
func (b *BoardCache) Size(ctx context.Context, contestID int64) (int64, error) {
	return b.cache.ZCard(ctx, boardKey(contestID))
}

func boardKey(contestID int64) string {
	return fmt.Sprintf("%s%d", boardKeyPrefix, contestID)
}
