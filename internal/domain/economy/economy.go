// Package economy holds per-(user,guild) coin balances, the daily-claim
// reward rule, and the item inventory used by achievement rewards.
package economy

import (
	"context"
	"time"

	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/domain/streak"
)

// Record is the economy row of one user in one guild.
type Record struct {
	UserID           shared.UserID
	GuildID          shared.GuildID
	Coins            int64
	TotalEarned      int64
	DailyLastClaimAt *time.Time
	DailyStreak      int
	BestDailyStreak  int
}

// NewRecord creates an empty balance.
func NewRecord(key shared.Key) *Record {
	return &Record{UserID: key.UserID, GuildID: key.GuildID}
}

// Clone returns an independent copy.
func (r *Record) Clone() *Record {
	c := *r
	if r.DailyLastClaimAt != nil {
		t := *r.DailyLastClaimAt
		c.DailyLastClaimAt = &t
	}
	return &c
}

// Credit adds earned coins. Non-positive amounts are ignored.
func (r *Record) Credit(amount int64) {
	if amount <= 0 {
		return
	}
	r.Coins += amount
	r.TotalEarned += amount
}

// Debit removes coins, clamping the balance at zero. It returns the amount
// actually removed. TotalEarned is never reduced.
func (r *Record) Debit(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	if amount > r.Coins {
		amount = r.Coins
	}
	r.Coins -= amount
	return amount
}

// ═══════════════════════════════════════════════════════════════════════════
// Daily claim
// ═══════════════════════════════════════════════════════════════════════════

// ClaimResult is returned by a successful daily claim.
type ClaimResult struct {
	Coins       int64
	Bonus       int64
	Streak      int
	BestStreak  int
	NextClaimAt time.Time
}

// CanClaimDaily reports whether a daily claim is allowed at now.
func (r *Record) CanClaimDaily(now time.Time) bool {
	return streak.CanClaim(r.DailyLastClaimAt, now)
}

// NextDailyAt returns when the next claim becomes possible.
func (r *Record) NextDailyAt(now time.Time) time.Time {
	return streak.NextClaimAt(r.DailyLastClaimAt, now)
}

func (r *Record) dailyStreak() *streak.Record {
	if r.DailyLastClaimAt == nil {
		if r.BestDailyStreak == 0 {
			return nil
		}
		return &streak.Record{Best: r.BestDailyStreak}
	}
	return &streak.Record{
		SubjectID:   string(r.UserID),
		ScopeID:     string(r.GuildID),
		Count:       r.DailyStreak,
		Best:        r.BestDailyStreak,
		LastEventAt: *r.DailyLastClaimAt,
	}
}

// ClaimDaily advances the daily streak and credits base + streak bonus.
// The bonus is only paid when the streak continued. Callers check
// CanClaimDaily first; ClaimDaily does not re-check.
func (r *Record) ClaimDaily(now time.Time, settings guild.EconomySettings) ClaimResult {
	next, continued := streak.AdvanceDaily(r.dailyStreak(), string(r.UserID), string(r.GuildID), now)

	var bonus int64
	if continued {
		bonus = streak.Bonus(next.Count, settings.DailyStreakBonusPerDay, settings.MaxDailyStreakBonus)
	}
	total := settings.DailyRewardBase + bonus
	r.Credit(total)

	claimedAt := now
	r.DailyLastClaimAt = &claimedAt
	r.DailyStreak = next.Count
	r.BestDailyStreak = next.Best

	return ClaimResult{
		Coins:       total,
		Bonus:       bonus,
		Streak:      next.Count,
		BestStreak:  next.Best,
		NextClaimAt: now.Add(streak.Day),
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Repositories
// ═══════════════════════════════════════════════════════════════════════════

// Repository persists economy records.
// Get returns an error wrapping shared.ErrNotFound when no row exists.
type Repository interface {
	Get(ctx context.Context, key shared.Key) (*Record, error)
	Upsert(ctx context.Context, rec *Record) error
}

// InventoryItem is one stack of an item owned by a user.
type InventoryItem struct {
	ItemID   string
	Quantity int
}

// InventoryRepository grants and lists items.
type InventoryRepository interface {
	GrantItem(ctx context.Context, key shared.Key, itemID string, quantity int) error
	ListItems(ctx context.Context, key shared.Key) ([]InventoryItem, error)
}
