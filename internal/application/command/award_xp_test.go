package command

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildxp/guildxp/internal/domain/achievement"
	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/moderation"
	"github.com/guildxp/guildxp/internal/domain/multiplier"
	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/domain/streak"
)

func noStreak(c *guild.Config) { c.StreakEnabled = false }

func TestAward_CarriesOverIntoNextLevel(t *testing.T) {
	env := newTestEnv(t, 20)
	env.setConfig(t, noStreak)
	env.seedProgression(t, 1, 90)

	res, err := env.award.Handle(context.Background(), message("hello there", t0))
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Equal(t, int64(20), res.XPGained)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, 2, res.NewLevel)
	assert.Equal(t, int64(10), res.XP)

	rec := env.progression(t)
	assert.Equal(t, 2, rec.Level)
	assert.Equal(t, int64(10), rec.XP)
	assert.Equal(t, int64(1), rec.TotalMessages)
	assert.Equal(t, t0, rec.LastActivityAt)
}

func TestAward_CooldownIsAFullNoop(t *testing.T) {
	env := newTestEnv(t, 20)
	ctx := context.Background()

	_, err := env.award.Handle(ctx, message("first message", t0))
	require.NoError(t, err)

	before := env.store.Snapshot()
	historyBefore, _ := env.history.Recent(ctx, testKey, t0.Add(-time.Hour))
	eventsBefore := len(env.events.ofType(shared.EventXPGained))

	res, err := env.award.Handle(ctx, message("second message", t0.Add(30*time.Second)))
	require.NoError(t, err)

	assert.True(t, IsSkipped(res))
	assert.ErrorIs(t, res.SkipReason, ErrOnCooldown)
	assert.Equal(t, before, env.store.Snapshot())
	historyAfter, _ := env.history.Recent(ctx, testKey, t0.Add(-time.Hour))
	assert.Equal(t, historyBefore, historyAfter)
	assert.Len(t, env.events.ofType(shared.EventXPGained), eventsBefore)
}

func TestAward_ChatStreak(t *testing.T) {
	env := newTestEnv(t, 20)
	ctx := context.Background()

	first, err := env.award.Handle(ctx, message("one", t0))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Streak)
	assert.Equal(t, int64(2), first.StreakBonus)

	second, err := env.award.Handle(ctx, message("two", t0.Add(90*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Streak)
	assert.Equal(t, int64(4), second.StreakBonus)
	assert.Equal(t, int64(24), second.XPGained)

	third, err := env.award.Handle(ctx, message("three", t0.Add(240*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, 1, third.Streak)

	rec, err := env.store.Streaks().Get(ctx, streak.KindChat, testKey)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count)
	assert.Equal(t, 2, rec.Best)
}

func TestAward_SpamIsDampedNotZeroed(t *testing.T) {
	env := newTestEnv(t, 20)
	env.setConfig(t, func(c *guild.Config) {
		c.StreakEnabled = false
		c.CooldownMs = 0
	})
	ctx := context.Background()

	var last *AwardXPResult
	for i := 0; i < 4; i++ {
		res, err := env.award.Handle(ctx, message("buy my stuff", t0.Add(time.Duration(i)*10*time.Second)))
		require.NoError(t, err)
		last = res
	}

	assert.Equal(t, moderation.FlagDuplicate, last.Spam.Flag)
	assert.Equal(t, int64(10), last.XPGained)
	assert.Equal(t, 1, last.Warnings)
	assert.Equal(t, moderation.ActionNone, last.ModerationAction)

	reports := env.store.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, moderation.FlagDuplicate, reports[0].Flag)
	assert.Len(t, env.events.ofType(shared.EventSpamFlagged), 1)
}

func TestAward_MultipliersCompose(t *testing.T) {
	env := newTestEnv(t, 20)
	env.setConfig(t, noStreak)
	ctx := context.Background()
	rules := []multiplier.Rule{
		{GuildID: "g1", SubjectKind: multiplier.SubjectChannel, SubjectID: "c1", XPMultiplier: 1.5, CoinsMultiplier: 1, Active: true},
		{GuildID: "g1", SubjectKind: multiplier.SubjectRole, SubjectID: "booster", XPMultiplier: 1.2, CoinsMultiplier: 1, Active: true},
		{GuildID: "g1", SubjectKind: multiplier.SubjectRole, SubjectID: "veteran", XPMultiplier: 1.1, CoinsMultiplier: 1, Active: true},
	}
	for _, r := range rules {
		require.NoError(t, env.store.Multipliers().Upsert(ctx, r))
	}

	cmd := message("hello", t0)
	cmd.RoleIDs = []shared.RoleID{"booster", "veteran"}
	res, err := env.award.Handle(ctx, cmd)
	require.NoError(t, err)

	assert.InDelta(t, 1.98, res.Multiplier.XP, 1e-9)
	assert.Equal(t, int64(39), res.XPGained)
}

func TestAward_LevelUpPaysCoinsAndUnlocksAchievements(t *testing.T) {
	env := newTestEnv(t, 20)
	env.setConfig(t, noStreak)
	ctx := context.Background()
	env.seedProgression(t, 1, 95)
	require.NoError(t, env.store.Achievements().UpsertDefinition(ctx, achievement.Definition{
		GuildID: "g1", AchievementID: "level-2", Name: "Getting started",
		RequirementType: achievement.RequirementLevel, RequirementValue: 2,
		RewardCoins: 50, Active: true,
	}))

	res, err := env.award.Handle(ctx, message("level me", t0))
	require.NoError(t, err)

	assert.True(t, res.LeveledUp)
	require.Len(t, res.Unlocked, 1)
	assert.Equal(t, "level-2", res.Unlocked[0].Definition.AchievementID)
	assert.Equal(t, int64(250), res.CoinsGained)
	assert.NoError(t, res.FollowUpErr)

	eco, err := env.store.Economy().Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(250), eco.Coins)
	assert.Equal(t, int64(250), eco.TotalEarned)

	levelUps := env.events.ofType(shared.EventLevelUp)
	require.Len(t, levelUps, 1)
	assert.Equal(t, int64(200), levelUps[0].(shared.LevelUpEvent).CoinsReward)
	assert.Len(t, env.events.ofType(shared.EventAchievementUnlocked), 1)

	// A later award never grants the same achievement again.
	again, err := env.award.Handle(ctx, message("still here", t0.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.Empty(t, again.Unlocked)
	assert.Len(t, env.events.ofType(shared.EventAchievementUnlocked), 1)
}

func TestAward_ItemGrantFailureIsPartialReward(t *testing.T) {
	env := newTestEnv(t, 20)
	ctx := context.Background()
	require.NoError(t, env.store.Achievements().UpsertDefinition(ctx, achievement.Definition{
		GuildID: "g1", AchievementID: "first-words",
		RequirementType: achievement.RequirementMessages, RequirementValue: 1,
		RewardItemIDs: []string{"badge"}, Active: true,
	}))
	env.store.FailOn("GrantItem", errors.New("inventory offline"))

	res, err := env.award.Handle(ctx, message("hi all", t0))
	require.NoError(t, err)

	require.Len(t, res.Unlocked, 1)
	assert.True(t, shared.IsPartialReward(res.PartialReward))

	unlocks, err := env.store.Achievements().ListUnlocks(ctx, testKey)
	require.NoError(t, err)
	assert.Len(t, unlocks, 1)
}

func TestAward_PersistenceFailureMutatesNothing(t *testing.T) {
	env := newTestEnv(t, 20)
	ctx := context.Background()
	env.store.FailOn("UpsertStreak", errors.New("disk full"))
	before := env.store.Snapshot()

	res, err := env.award.Handle(ctx, message("hello", t0))

	assert.Nil(t, res)
	assert.True(t, shared.IsPersistence(err))
	assert.True(t, shared.IsRetryable(err))
	assert.Equal(t, before, env.store.Snapshot())
	assert.Empty(t, env.events.ofType(shared.EventXPGained))
}

func TestAward_InvalidGuildConfigFallsBackToDefaults(t *testing.T) {
	env := newTestEnv(t, 20)
	env.setConfig(t, func(c *guild.Config) { c.XPMin, c.XPMax = 50, 10 })

	res, err := env.award.Handle(context.Background(), message("hello", t0))
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.BaseXP)
}

func TestAward_RejectsInvalidIDs(t *testing.T) {
	env := newTestEnv(t, 20)
	_, err := env.award.Handle(context.Background(), AwardXPCommand{UserID: "", GuildID: "g1", Content: "x"})
	assert.True(t, shared.IsValidation(err))
}

func TestAward_FailedUnitLeavesHistoryUntouched(t *testing.T) {
	env := newTestEnv(t, 20)
	env.setConfig(t, noStreak)
	ctx := context.Background()

	env.store.FailOn("UpsertProgression", errors.New("connection reset"))
	for i := 0; i < 3; i++ {
		_, err := env.award.Handle(ctx, message("same payload", t0))
		require.True(t, shared.IsPersistence(err))
	}
	recent, err := env.history.Recent(ctx, testKey, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, recent)

	env.store.FailOn("UpsertProgression", nil)
	res, err := env.award.Handle(ctx, message("same payload", t0))
	require.NoError(t, err)

	assert.False(t, res.Spam.Flagged())
	assert.Equal(t, int64(20), res.XPGained)
	assert.Zero(t, res.Warnings)
	assert.Empty(t, env.store.Reports())

	recent, err = env.history.Recent(ctx, testKey, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestAward_ConcurrentSameKeyLosesNothing(t *testing.T) {
	env := newTestEnv(t, 20)
	env.setConfig(t, func(c *guild.Config) { c.CooldownMs = 0 })
	ctx := context.Background()

	const n = 64
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		gained int64
		errs   []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.award.Handle(ctx, message("message "+strconv.Itoa(i), t0))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			gained += res.XPGained
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	rec := env.progression(t)
	assert.Equal(t, int64(n), rec.TotalMessages)
	assert.Equal(t, gained, rec.TotalXP(progression.DefaultCurve()))
	assert.Equal(t, 0, env.deps.Locks.Len())
}
