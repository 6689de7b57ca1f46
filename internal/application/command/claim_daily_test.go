package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/domain/streak"
)

func claimAt(at time.Time) ClaimDailyCommand {
	return ClaimDailyCommand{UserID: testKey.UserID, GuildID: testKey.GuildID, At: at}
}

func TestClaimDaily_StreakContinuesResetsAndRejects(t *testing.T) {
	env := newTestEnv(t, 20)
	h := NewClaimDailyHandler(env.deps)
	ctx := context.Background()

	first, err := h.Handle(ctx, claimAt(t0))
	require.NoError(t, err)
	assert.Equal(t, int64(50), first.Coins)
	assert.Equal(t, int64(0), first.Bonus)
	assert.Equal(t, 1, first.Streak)
	assert.Equal(t, t0.Add(24*time.Hour), first.NextClaimAt)

	before := env.store.Snapshot()
	_, err = h.Handle(ctx, claimAt(t0.Add(23*time.Hour)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClaimRejected)
	var rejected *ClaimRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, t0.Add(24*time.Hour), rejected.NextClaimAt)
	assert.Equal(t, before, env.store.Snapshot())

	second, err := h.Handle(ctx, claimAt(t0.Add(25*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Streak)
	assert.Equal(t, int64(20), second.Bonus)
	assert.Equal(t, int64(70), second.Coins)
	assert.Equal(t, int64(120), second.Balance)

	third, err := h.Handle(ctx, claimAt(t0.Add(75*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 1, third.Streak)
	assert.Equal(t, 2, third.BestStreak)
	assert.Equal(t, int64(50), third.Coins)

	daily, err := env.store.Streaks().Get(ctx, streak.KindDaily, testKey)
	require.NoError(t, err)
	assert.Equal(t, 1, daily.Count)
	assert.Equal(t, 2, daily.Best)
	assert.Len(t, env.events.ofType(shared.EventDailyClaimed), 3)
}

func TestClaimDaily_PersistenceFailure(t *testing.T) {
	env := newTestEnv(t, 20)
	env.store.FailOn("UpsertEconomy", errors.New("connection reset"))

	_, err := NewClaimDailyHandler(env.deps).Handle(context.Background(), claimAt(t0))
	assert.True(t, shared.IsPersistence(err))
	assert.False(t, errors.Is(err, ErrClaimRejected))
}
