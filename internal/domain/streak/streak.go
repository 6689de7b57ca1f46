// Package streak implements the generic "event within threshold continues a
// counter, otherwise resets" rule. Chat streaks use a minute-scale threshold;
// daily-claim streaks count whole elapsed days.
package streak

import (
	"context"
	"time"

	"github.com/guildxp/guildxp/internal/domain/shared"
)

// Kind distinguishes the independent streak instances stored per key.
type Kind string

const (
	KindChat  Kind = "chat"
	KindDaily Kind = "daily"
)

// Default chat bonus parameters.
const (
	DefaultPerStep  int64 = 2
	DefaultCapBonus int64 = 100
)

// Day is the daily-claim granularity.
const Day = 24 * time.Hour

// Record is one streak counter. Best >= Count always holds.
type Record struct {
	SubjectID   string // user
	ScopeID     string // guild
	Count       int
	Best        int
	LastEventAt time.Time
}

// Advance applies one event at now. A nil prior record starts a streak of 1.
// An event at most threshold after the previous one continues the streak;
// anything later resets Count to 1 and leaves Best untouched.
func Advance(prev *Record, subjectID, scopeID string, now time.Time, threshold time.Duration) Record {
	if prev == nil {
		return Record{SubjectID: subjectID, ScopeID: scopeID, Count: 1, Best: 1, LastEventAt: now}
	}
	next := *prev
	if now.Sub(prev.LastEventAt) <= threshold {
		next.Count++
	} else {
		next.Count = 1
	}
	if next.Count > next.Best {
		next.Best = next.Count
	}
	next.LastEventAt = now
	return next
}

// Bonus returns min(count*perStep, capBonus), never negative.
func Bonus(count int, perStep, capBonus int64) int64 {
	if count <= 0 || perStep <= 0 {
		return 0
	}
	b := int64(count) * perStep
	if b > capBonus {
		return capBonus
	}
	return b
}

// WholeDaysSince counts complete 24h periods between last and now.
func WholeDaysSince(last, now time.Time) int {
	if now.Before(last) {
		return 0
	}
	return int(now.Sub(last) / Day)
}

// CanClaim gates daily claims: at least one full day since the last claim.
func CanClaim(last *time.Time, now time.Time) bool {
	return last == nil || last.IsZero() || now.Sub(*last) >= Day
}

// NextClaimAt returns when the next claim becomes possible.
func NextClaimAt(last *time.Time, now time.Time) time.Time {
	if CanClaim(last, now) {
		return now
	}
	return last.Add(Day)
}

// AdvanceDaily applies a daily claim. Exactly one whole day since the previous
// claim continues the streak, more resets it to 1. Callers must check
// CanClaim first; a same-day claim is not a valid input.
func AdvanceDaily(prev *Record, subjectID, scopeID string, now time.Time) (next Record, continued bool) {
	if prev == nil || prev.LastEventAt.IsZero() || prev.Count == 0 {
		best := 1
		if prev != nil && prev.Best > best {
			best = prev.Best
		}
		return Record{SubjectID: subjectID, ScopeID: scopeID, Count: 1, Best: best, LastEventAt: now}, false
	}
	next = *prev
	continued = WholeDaysSince(prev.LastEventAt, now) == 1
	if continued {
		next.Count++
	} else {
		next.Count = 1
	}
	if next.Count > next.Best {
		next.Best = next.Count
	}
	next.LastEventAt = now
	return next, continued
}

// Repository persists streak records per kind and ledger key.
// Get returns an error wrapping shared.ErrNotFound when no row exists.
type Repository interface {
	Get(ctx context.Context, kind Kind, key shared.Key) (*Record, error)
	Upsert(ctx context.Context, kind Kind, rec Record) error
}
