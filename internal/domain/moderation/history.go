package moderation

import (
	"context"
	"sync"
	"time"

	"github.com/guildxp/guildxp/internal/domain/shared"
)

// HistoryEntry is one recent message of a user.
type HistoryEntry struct {
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// History is a short-lived per-user message buffer. It is not a log:
// entries expire after a TTL and only the newest few are kept.
type History interface {
	// Recent returns entries newer than since, oldest first.
	Recent(ctx context.Context, key shared.Key, since time.Time) ([]HistoryEntry, error)
	// Record appends an entry, evicting the oldest beyond capacity.
	Record(ctx context.Context, key shared.Key, entry HistoryEntry) error
}

// Default ring-buffer parameters.
const (
	DefaultHistorySize = 50
	DefaultHistoryTTL  = 5 * time.Minute
)

// RingHistory is an in-process History. Entries older than ttl relative to
// the newest recorded entry are dropped on write.
type RingHistory struct {
	mu    sync.Mutex
	size  int
	ttl   time.Duration
	rings map[shared.Key][]HistoryEntry
}

// NewRingHistory creates an in-memory ring buffer.
func NewRingHistory(size int, ttl time.Duration) *RingHistory {
	if size <= 0 {
		size = DefaultHistorySize
	}
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	return &RingHistory{size: size, ttl: ttl, rings: make(map[shared.Key][]HistoryEntry)}
}

// Recent implements History.
func (h *RingHistory) Recent(_ context.Context, key shared.Key, since time.Time) ([]HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []HistoryEntry
	for _, e := range h.rings[key] {
		if !e.At.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Record implements History.
func (h *RingHistory) Record(_ context.Context, key shared.Key, entry HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ring := append(h.rings[key], entry)
	cutoff := entry.At.Add(-h.ttl)
	start := 0
	for start < len(ring) && ring[start].At.Before(cutoff) {
		start++
	}
	ring = ring[start:]
	if len(ring) > h.size {
		ring = ring[len(ring)-h.size:]
	}
	h.rings[key] = append([]HistoryEntry(nil), ring...)
	return nil
}
