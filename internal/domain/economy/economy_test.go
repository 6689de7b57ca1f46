package economy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/shared"
)

var key = shared.Key{UserID: "u1", GuildID: "g1"}

func TestCreditDebit(t *testing.T) {
	rec := NewRecord(key)
	rec.Credit(120)
	rec.Credit(-5)

	assert.Equal(t, int64(120), rec.Coins)
	assert.Equal(t, int64(120), rec.TotalEarned)

	assert.Equal(t, int64(20), rec.Debit(20))
	assert.Equal(t, int64(100), rec.Debit(500), "debit clamps at zero")
	assert.Equal(t, int64(0), rec.Coins)
	assert.Equal(t, int64(120), rec.TotalEarned)
}

func TestClaimDaily_Sequence(t *testing.T) {
	settings := guild.Defaults("g1").Economy
	d0 := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	rec := NewRecord(key)

	assert.True(t, rec.CanClaimDaily(d0))
	first := rec.ClaimDaily(d0, settings)
	assert.Equal(t, int64(50), first.Coins)
	assert.Equal(t, 1, first.Streak)

	assert.False(t, rec.CanClaimDaily(d0.Add(23*time.Hour)))
	assert.Equal(t, d0.Add(24*time.Hour), rec.NextDailyAt(d0.Add(23*time.Hour)))

	second := rec.ClaimDaily(d0.Add(25*time.Hour), settings)
	assert.Equal(t, 2, second.Streak)
	assert.Equal(t, int64(20), second.Bonus)
	assert.Equal(t, int64(70), second.Coins)
	assert.Equal(t, int64(120), rec.Coins)

	third := rec.ClaimDaily(d0.Add(25*time.Hour+50*time.Hour), settings)
	assert.Equal(t, 1, third.Streak)
	assert.Equal(t, int64(0), third.Bonus)
	assert.Equal(t, 2, third.BestStreak)
	assert.Equal(t, 2, rec.BestDailyStreak)
}

func TestClaimDaily_BonusCapped(t *testing.T) {
	settings := guild.Defaults("g1").Economy
	d0 := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	rec := NewRecord(key)
	rec.DailyLastClaimAt = &d0
	rec.DailyStreak = 30
	rec.BestDailyStreak = 30

	res := rec.ClaimDaily(d0.Add(30*time.Hour), settings)
	assert.Equal(t, int64(100), res.Bonus)
	assert.Equal(t, int64(150), res.Coins)
	assert.Equal(t, 31, rec.BestDailyStreak)
}

func TestClone_IsIndependent(t *testing.T) {
	d0 := time.Now()
	rec := NewRecord(key)
	rec.DailyLastClaimAt = &d0

	c := rec.Clone()
	*c.DailyLastClaimAt = d0.Add(time.Hour)
	assert.Equal(t, d0, *rec.DailyLastClaimAt)
}
