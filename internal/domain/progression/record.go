// Package progression owns per-(user,guild) XP and level state, the level
// curve, and the XP-credit path shared by messages, voice, achievements and
// admin grants.
package progression

import (
	"context"
	"math"
	"time"

	"github.com/guildxp/guildxp/internal/domain/shared"
)

// MaxLevel is the highest level a record can hold. The default curve needs
// more than math.MaxInt64 lifetime XP to get there, so only a flat guild
// formula can reach it; a credit that would pass it is rejected.
const MaxLevel = 1_000_000

// Record is the progression row of one user in one guild.
type Record struct {
	UserID         shared.UserID
	GuildID        shared.GuildID
	XP             int64 // progress inside the current level, < XPNeeded(Level)
	Level          int
	LastActivityAt time.Time // zero when the user never earned message XP
	TotalMessages  int64
	JoinedAt       time.Time
}

// NewRecord creates a level-1 record.
func NewRecord(key shared.Key, now time.Time) *Record {
	return &Record{
		UserID:   key.UserID,
		GuildID:  key.GuildID,
		Level:    1,
		JoinedAt: now,
	}
}

// Key returns the ledger key of the record.
func (r *Record) Key() shared.Key {
	return shared.Key{UserID: r.UserID, GuildID: r.GuildID}
}

// Clone returns an independent copy.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

// OnCooldown reports whether a message at now falls inside the cooldown
// window that started at the last rewarded message.
func (r *Record) OnCooldown(now time.Time, cooldown time.Duration) bool {
	if r.LastActivityAt.IsZero() {
		return false
	}
	return now.Sub(r.LastActivityAt) < cooldown
}

// CreditOutcome summarises one pass through the credit path.
type CreditOutcome struct {
	Credited  int64
	OldLevel  int
	NewLevel  int
	ConfigErr error // first non-fatal curve error, if any
}

// LeveledUp reports whether the credit crossed at least one level.
func (o CreditOutcome) LeveledUp() bool { return o.NewLevel > o.OldLevel }

// CreditXP adds amount and runs the level-up loop: while xp >= XPNeeded(level)
// subtract and advance. Multi-level jumps happen in a single call. A credit
// that overflows xp or passes MaxLevel fails with a validation error and
// leaves the record untouched.
func (r *Record) CreditXP(amount int64, curve LevelCurve) (CreditOutcome, error) {
	out := CreditOutcome{Credited: amount, OldLevel: r.Level}
	level, xp := r.Level, r.XP
	if level < 1 {
		level = 1
	}
	if amount > 0 {
		if amount > math.MaxInt64-xp {
			return CreditOutcome{}, shared.ErrXPOverflow
		}
		xp += amount
	}

	for {
		needed, err := curve.XPNeeded(level)
		if err != nil && out.ConfigErr == nil {
			out.ConfigErr = err
		}
		if xp < needed {
			break
		}
		if level >= MaxLevel {
			return CreditOutcome{}, shared.ErrLevelCeiling
		}
		xp -= needed
		level++
	}

	r.Level, r.XP = level, xp
	out.NewLevel = level
	return out, nil
}

// SetTotalXP replaces the record's progress with a raw lifetime total and
// recomputes the level from it by walking the curve from level 1.
func (r *Record) SetTotalXP(total int64, curve LevelCurve) (CreditOutcome, error) {
	if total < 0 {
		return CreditOutcome{}, shared.ErrNegativeXPSet
	}
	reset := *r
	reset.Level, reset.XP = 1, 0
	out, err := reset.CreditXP(total, curve)
	if err != nil {
		return CreditOutcome{}, err
	}
	out.OldLevel = r.Level
	*r = reset
	return out, nil
}

// Reset puts the record back to level 1 with no XP. Message counters and
// join time are kept.
func (r *Record) Reset() {
	r.Level = 1
	r.XP = 0
}

// TotalXP reconstructs lifetime XP from the level and in-level progress.
func (r *Record) TotalXP(curve LevelCurve) int64 {
	total := r.XP
	for lvl := 1; lvl < r.Level; lvl++ {
		needed, _ := curve.XPNeeded(lvl)
		total += needed
	}
	return total
}

// Repository persists progression records.
// Get returns an error wrapping shared.ErrNotFound when no row exists.
type Repository interface {
	Get(ctx context.Context, key shared.Key) (*Record, error)
	Upsert(ctx context.Context, rec *Record) error
}

// LeaderboardReader serves ranking queries. Ordering is level DESC, xp DESC.
type LeaderboardReader interface {
	Leaderboard(ctx context.Context, guildID shared.GuildID, page shared.Pagination) ([]Record, error)
	Rank(ctx context.Context, key shared.Key) (shared.Rank, error)
	CountMembers(ctx context.Context, guildID shared.GuildID) (int, error)
}

// Less orders records for leaderboards: higher level first, then higher xp,
// then user id for a stable order.
func Less(a, b Record) bool {
	if a.Level != b.Level {
		return a.Level > b.Level
	}
	if a.XP != b.XP {
		return a.XP > b.XP
	}
	return a.UserID < b.UserID
}
