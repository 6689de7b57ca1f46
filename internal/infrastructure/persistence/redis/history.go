package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/guildxp/guildxp/internal/domain/moderation"
	"github.com/guildxp/guildxp/internal/domain/shared"
)

// MessageHistory keeps the newest messages of each member in a capped list.
// The whole list expires ttl after the last write, so an idle member's
// history disappears without a sweeper.
//
// Layout: list "{prefix}history:{guild}:{user}" of JSON HistoryEntry,
// oldest at the head.
type MessageHistory struct {
	cache *Cache
	size  int
	ttl   time.Duration
}

// NewMessageHistory creates a Redis-backed moderation.History.
func NewMessageHistory(cache *Cache, size int, ttl time.Duration) *MessageHistory {
	if size <= 0 {
		size = moderation.DefaultHistorySize
	}
	if ttl <= 0 {
		ttl = moderation.DefaultHistoryTTL
	}
	return &MessageHistory{cache: cache, size: size, ttl: ttl}
}

func (h *MessageHistory) key(key shared.Key) string {
	return h.cache.Key(PrefixHistory, key.String())
}

// Recent implements moderation.History.
func (h *MessageHistory) Recent(ctx context.Context, key shared.Key, since time.Time) ([]moderation.HistoryEntry, error) {
	raw, err := h.cache.client.LRange(ctx, h.key(key), 0, -1).Result()
	if err != nil {
		return nil, shared.Persistence("moderation", "RecentHistory", err)
	}

	out := make([]moderation.HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var e moderation.HistoryEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			// A foreign value under our key; skip it rather than fail the award.
			continue
		}
		if !e.At.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Record implements moderation.History.
func (h *MessageHistory) Record(ctx context.Context, key shared.Key, entry moderation.HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	k := h.key(key)
	pipe := h.cache.client.TxPipeline()
	pipe.RPush(ctx, k, data)
	pipe.LTrim(ctx, k, int64(-h.size), -1)
	pipe.PExpire(ctx, k, h.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return shared.Persistence("moderation", "RecordHistory", err)
	}
	return nil
}

var _ moderation.History = (*MessageHistory)(nil)
