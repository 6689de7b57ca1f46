package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildxp/guildxp/internal/domain/achievement"
	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/infrastructure/persistence/memory"
	"github.com/guildxp/guildxp/pkg/logger"
	"github.com/guildxp/guildxp/pkg/timeutil"
)

var (
	now = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	key = shared.Key{UserID: "u1", GuildID: "g1"}
)

type countingPublisher struct{ events []shared.Event }

func (p *countingPublisher) Publish(ev shared.Event) error {
	p.events = append(p.events, ev)
	return nil
}

func newSaga(t *testing.T, store *memory.Store, pub *countingPublisher, cfg AchievementFlowConfig, opts ...achievement.Option) *AchievementFlowSaga {
	t.Helper()
	return NewAchievementFlowSaga(store, progression.NewEvaluator(), achievement.NewEvaluator(opts...), pub,
		timeutil.FixedClock{T: now}, logger.NewNop(), cfg)
}

func seed(t *testing.T, store *memory.Store, level int, messages int64, defs ...achievement.Definition) {
	t.Helper()
	ctx := context.Background()
	rec := progression.NewRecord(key, now)
	rec.Level = level
	rec.TotalMessages = messages
	require.NoError(t, store.Progression().Upsert(ctx, rec))
	for _, d := range defs {
		require.NoError(t, store.Achievements().UpsertDefinition(ctx, d))
	}
}

func def(id string, typ achievement.RequirementType, value int64) achievement.Definition {
	return achievement.Definition{GuildID: "g1", AchievementID: id, Name: id, RequirementType: typ, RequirementValue: value, Active: true}
}

func TestEvaluate_UnlocksOnceAndCreditsRewards(t *testing.T) {
	store := memory.NewStore()
	pub := &countingPublisher{}
	talker := def("talker", achievement.RequirementMessages, 10)
	talker.RewardCoins = 30
	talker.RewardXP = 40
	seed(t, store, 1, 12, talker, def("veteran", achievement.RequirementLevel, 10))

	s := newSaga(t, store, pub, DefaultAchievementFlowConfig())
	cfg := guild.Defaults("g1")

	res, err := s.Evaluate(context.Background(), key, cfg)
	require.NoError(t, err)
	require.Len(t, res.Unlocked, 1)
	assert.Equal(t, "talker", res.Unlocked[0].Definition.AchievementID)
	assert.Equal(t, now, res.Unlocked[0].UnlockedAt)
	assert.Equal(t, int64(30), res.CoinsAwarded)
	assert.Equal(t, int64(40), res.XPAwarded)

	eco, err := store.Economy().Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(30), eco.Coins)

	rec, err := store.Progression().Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(40), rec.XP)

	again, err := s.Evaluate(context.Background(), key, cfg)
	require.NoError(t, err)
	assert.False(t, again.HasUnlocks())
	assert.Len(t, pub.events, 1)
}

func TestEvaluate_RewardXPCanLevelUp(t *testing.T) {
	store := memory.NewStore()
	pub := &countingPublisher{}
	big := def("big", achievement.RequirementMessages, 1)
	big.RewardXP = 150
	seed(t, store, 1, 5, big)

	res, err := newSaga(t, store, pub, DefaultAchievementFlowConfig()).Evaluate(context.Background(), key, guild.Defaults("g1"))
	require.NoError(t, err)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, 2, res.NewLevel)

	require.Len(t, pub.events, 2)
	lvl, ok := pub.events[1].(shared.LevelUpEvent)
	require.True(t, ok)
	assert.Equal(t, int64(0), lvl.CoinsReward)
}

func TestEvaluate_SkipsInactiveAndRespectsRunBound(t *testing.T) {
	store := memory.NewStore()
	off := def("off", achievement.RequirementMessages, 1)
	off.Active = false
	seed(t, store, 3, 50, off,
		def("a", achievement.RequirementMessages, 1),
		def("b", achievement.RequirementMessages, 2),
		def("c", achievement.RequirementMessages, 3))

	s := newSaga(t, store, &countingPublisher{}, AchievementFlowConfig{MaxUnlocksPerRun: 2})

	first, err := s.Evaluate(context.Background(), key, guild.Defaults("g1"))
	require.NoError(t, err)
	assert.Len(t, first.Unlocked, 2)

	second, err := s.Evaluate(context.Background(), key, guild.Defaults("g1"))
	require.NoError(t, err)
	require.Len(t, second.Unlocked, 1)
	assert.Equal(t, "c", second.Unlocked[0].Definition.AchievementID)

	unlocks, err := store.Achievements().ListUnlocks(context.Background(), key)
	require.NoError(t, err)
	assert.Len(t, unlocks, 3)
}

func TestEvaluate_CustomPredicate(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, 1, 0, def("secret", achievement.RequirementCustom, 0))

	predicate := func(d achievement.Definition, k shared.Key, _ achievement.Totals) bool {
		return d.AchievementID == "secret" && k.UserID == "u1"
	}
	res, err := newSaga(t, store, &countingPublisher{}, DefaultAchievementFlowConfig(), achievement.WithCustomPredicate(predicate)).
		Evaluate(context.Background(), key, guild.Defaults("g1"))
	require.NoError(t, err)
	assert.Len(t, res.Unlocked, 1)
}

func TestEvaluate_ItemFailureKeepsUnlock(t *testing.T) {
	store := memory.NewStore()
	withItems := def("collector", achievement.RequirementLevel, 1)
	withItems.RewardItemIDs = []string{"hat", "cape"}
	seed(t, store, 1, 0, withItems)
	store.FailOn("GrantItem", errors.New("inventory offline"))

	res, err := newSaga(t, store, &countingPublisher{}, DefaultAchievementFlowConfig()).
		Evaluate(context.Background(), key, guild.Defaults("g1"))
	require.NoError(t, err)
	require.Len(t, res.Unlocked, 1)
	assert.ErrorIs(t, res.PartialReward, shared.ErrPartialReward)

	unlocks, err := store.Achievements().ListUnlocks(context.Background(), key)
	require.NoError(t, err)
	assert.Len(t, unlocks, 1)
}

func TestEvaluate_UnlockFailureRollsBackUnit(t *testing.T) {
	store := memory.NewStore()
	paid := def("paid", achievement.RequirementLevel, 1)
	paid.RewardCoins = 10
	seed(t, store, 1, 0, paid)
	store.FailOn("UpsertEconomy", errors.New("disk full"))

	_, err := newSaga(t, store, &countingPublisher{}, DefaultAchievementFlowConfig()).
		Evaluate(context.Background(), key, guild.Defaults("g1"))

	var flowErr *AchievementFlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, StepGrantUnlock, flowErr.Step)
	assert.True(t, shared.IsPersistence(err))

	store.FailOn("UpsertEconomy", nil)
	unlocks, err := store.Achievements().ListUnlocks(context.Background(), key)
	require.NoError(t, err)
	assert.Empty(t, unlocks)
}
