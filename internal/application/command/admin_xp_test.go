package command

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
)

func adminCmd(amount int64) AdminXPCommand {
	return AdminXPCommand{UserID: testKey.UserID, GuildID: testKey.GuildID, Amount: amount, Actor: "mod", At: t0}
}

func TestAdminGrant_MultiLevelJump(t *testing.T) {
	env := newTestEnv(t, 20)
	h := NewAdminXPHandler(env.deps)

	res, err := h.Grant(context.Background(), adminCmd(250))
	require.NoError(t, err)

	assert.Equal(t, 1, res.OldLevel)
	assert.Equal(t, 2, res.NewLevel)
	assert.Equal(t, int64(150), res.XP)
	assert.True(t, res.LeveledUp)
	assert.Len(t, env.events.ofType(shared.EventLevelUp), 1)
}

func TestAdminGrant_RejectsNonPositive(t *testing.T) {
	env := newTestEnv(t, 20)
	h := NewAdminXPHandler(env.deps)
	before := env.store.Snapshot()

	for _, amount := range []int64{-5, 0} {
		_, err := h.Grant(context.Background(), adminCmd(amount))
		assert.True(t, shared.IsValidation(err), "amount %d", amount)
	}
	assert.Equal(t, before, env.store.Snapshot())
}

func TestAdminSet_RecomputesLevelFromTotal(t *testing.T) {
	env := newTestEnv(t, 20)
	env.seedProgression(t, 7, 3)
	h := NewAdminXPHandler(env.deps)

	res, err := h.Set(context.Background(), adminCmd(250))
	require.NoError(t, err)
	assert.Equal(t, 7, res.OldLevel)
	assert.Equal(t, 2, res.NewLevel)
	assert.Equal(t, int64(150), res.XP)

	_, err = h.Set(context.Background(), adminCmd(-1))
	assert.True(t, shared.IsValidation(err))
	rec := env.progression(t)
	assert.Equal(t, 2, rec.Level)
}

func TestAdminReset(t *testing.T) {
	env := newTestEnv(t, 20)
	env.seedProgression(t, 4, 33)

	res, err := NewAdminXPHandler(env.deps).Reset(context.Background(), adminCmd(0))
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewLevel)
	assert.Equal(t, int64(0), res.XP)

	rec := env.progression(t)
	assert.Equal(t, 1, rec.Level)
	assert.Zero(t, rec.XP)
}

func TestAdminGrant_OverflowIsRejected(t *testing.T) {
	env := newTestEnv(t, 20)
	env.seedProgression(t, 1, 50)
	h := NewAdminXPHandler(env.deps)
	before := env.store.Snapshot()

	_, err := h.Grant(context.Background(), adminCmd(math.MaxInt64))

	assert.ErrorIs(t, err, shared.ErrXPOverflow)
	assert.True(t, shared.IsValidation(err))
	assert.False(t, shared.IsPersistence(err))
	assert.Equal(t, before, env.store.Snapshot())
	assert.Empty(t, env.events.ofType(shared.EventXPGained))
}

func TestAdminGrant_LargeAmountSettlesEveryLevel(t *testing.T) {
	env := newTestEnv(t, 20)
	h := NewAdminXPHandler(env.deps)

	res, err := h.Grant(context.Background(), adminCmd(1_000_000_000_000))
	require.NoError(t, err)

	rec := env.progression(t)
	assert.Equal(t, res.NewLevel, rec.Level)
	assert.Less(t, rec.XP, progression.DefaultXPNeeded(rec.Level))
	assert.Equal(t, int64(1_000_000_000_000), rec.TotalXP(progression.DefaultCurve()))
}
