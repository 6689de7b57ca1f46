package redis

import (
	"context"
	"errors"
	"math"

	"github.com/redis/go-redis/v9"

	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORE ENCODING
// ══════════════════════════════════════════════════════════════════════════════

// levelWeight packs (level, xp) into one sorted-set score. xp stays below
// XPNeeded(level), so any xp under the weight keeps levels apart; scores
// stay exact in a float64 up to level 9000.
const levelWeight = 1e12

// ErrScoreOverflow is returned for records whose score would lose precision.
var ErrScoreOverflow = errors.New("leaderboard_cache: score out of range")

// Score returns the sorted-set score of a record.
func Score(level int, xp int64) (float64, error) {
	if level < 0 || xp < 0 || xp >= levelWeight || level > 9000 {
		return 0, ErrScoreOverflow
	}
	return float64(level)*levelWeight + float64(xp), nil
}

// FromScore splits a score back into level and xp.
func FromScore(score float64) (int, int64) {
	level := math.Floor(score / levelWeight)
	return int(level), int64(score - level*levelWeight)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache mirrors each guild's ranking in a sorted set
// "{prefix}leaderboard:{guild}" of user id -> Score(level, xp).
//
// Every call goes through a circuit breaker so a Redis outage costs one
// fast error per read while queries fall back to the store.
type LeaderboardCache struct {
	cache   *Cache
	breaker *circuitbreaker.Breaker
}

// NewLeaderboardCache creates the ranking cache. A nil breaker disables
// the breaker.
func NewLeaderboardCache(cache *Cache, breaker *circuitbreaker.Breaker) *LeaderboardCache {
	return &LeaderboardCache{cache: cache, breaker: breaker}
}

func (c *LeaderboardCache) key(guildID shared.GuildID) string {
	return c.cache.Key(PrefixLeaderboard, guildID.String())
}

func (c *LeaderboardCache) run(ctx context.Context, fn func(context.Context) error) error {
	if c.breaker == nil {
		return fn(ctx)
	}
	return c.breaker.Execute(ctx, fn)
}

// Update writes one member's position. It implements the command side's
// LeaderboardUpdater.
func (c *LeaderboardCache) Update(ctx context.Context, rec progression.Record) error {
	score, err := Score(rec.Level, rec.XP)
	if err != nil {
		return err
	}
	return c.run(ctx, func(ctx context.Context) error {
		return c.cache.client.ZAdd(ctx, c.key(rec.GuildID), redis.Z{
			Score:  score,
			Member: rec.UserID.String(),
		}).Err()
	})
}

// Top returns ranks offset+1..offset+limit, best first. Records carry only
// user, guild, level and xp. Equal scores come back in reverse user order,
// which can differ from the store's tie-break.
func (c *LeaderboardCache) Top(ctx context.Context, guildID shared.GuildID, offset, limit int) ([]progression.Record, error) {
	if limit <= 0 || offset < 0 {
		return nil, nil
	}

	var zs []redis.Z
	err := c.run(ctx, func(ctx context.Context) error {
		var err error
		zs, err = c.cache.client.ZRevRangeWithScores(ctx, c.key(guildID), int64(offset), int64(offset+limit-1)).Result()
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]progression.Record, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		level, xp := FromScore(z.Score)
		out = append(out, progression.Record{
			UserID:  shared.UserID(member),
			GuildID: guildID,
			Level:   level,
			XP:      xp,
		})
	}
	return out, nil
}

// Rebuild replaces a guild's ranking with recs in one transaction.
// Records that cannot be scored are skipped and counted.
func (c *LeaderboardCache) Rebuild(ctx context.Context, guildID shared.GuildID, recs []progression.Record) (skipped int, err error) {
	members := make([]redis.Z, 0, len(recs))
	for _, rec := range recs {
		score, err := Score(rec.Level, rec.XP)
		if err != nil {
			skipped++
			continue
		}
		members = append(members, redis.Z{Score: score, Member: rec.UserID.String()})
	}

	err = c.run(ctx, func(ctx context.Context) error {
		k := c.key(guildID)
		pipe := c.cache.client.TxPipeline()
		pipe.Del(ctx, k)
		if len(members) > 0 {
			pipe.ZAdd(ctx, k, members...)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	return skipped, err
}

// Size returns the number of cached members of a guild.
func (c *LeaderboardCache) Size(ctx context.Context, guildID shared.GuildID) (int64, error) {
	var n int64
	err := c.run(ctx, func(ctx context.Context) error {
		var err error
		n, err = c.cache.client.ZCard(ctx, c.key(guildID)).Result()
		return err
	})
	return n, err
}
