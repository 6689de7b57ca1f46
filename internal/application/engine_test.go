package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildxp/guildxp/internal/application/command"
	"github.com/guildxp/guildxp/internal/application/query"
	"github.com/guildxp/guildxp/internal/domain/achievement"
	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/domain/voice"
	"github.com/guildxp/guildxp/internal/infrastructure/persistence/memory"
	"github.com/guildxp/guildxp/pkg/timeutil"
)

var t0 = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

type rankingSpy struct {
	mu      sync.Mutex
	updates []progression.Record
}

func (s *rankingSpy) Update(_ context.Context, rec progression.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, rec)
	return nil
}

func newEngine(t *testing.T) (*Engine, *memory.Store, *rankingSpy) {
	t.Helper()
	store := memory.NewStore()
	spy := &rankingSpy{}
	e, err := New(Options{
		Store:       store,
		Random:      command.FixedRandomSource{Value: 20},
		Leaderboard: spy,
		Clock:       timeutil.FixedClock{T: t0},
		Calendar:    timeutil.UTC,
	})
	require.NoError(t, err)
	return e, store, spy
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestEngine_AwardThenQuery(t *testing.T) {
	e, _, spy := newEngine(t)
	ctx := context.Background()

	for i, content := range []string{"hello there", "how is everyone", "ship it"} {
		_, err := e.Award(ctx, command.AwardXPCommand{
			UserID: "u1", GuildID: "g1", ChannelID: "c1",
			Content: content, Timestamp: t0.Add(time.Duration(i) * 10 * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := e.Award(ctx, command.AwardXPCommand{UserID: "u2", GuildID: "g1", ChannelID: "c1", Content: "hi", Timestamp: t0})
	require.NoError(t, err)

	p, err := e.Progress(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.TotalMessages)
	assert.Equal(t, int64(66), p.TotalXP) // 20 base + 2 streak bonus each
	assert.Equal(t, 1, p.Rank)

	lb, err := e.Leaderboard(ctx, query.GetLeaderboardQuery{GuildID: "g1"})
	require.NoError(t, err)
	require.Len(t, lb.Entries, 2)
	assert.Equal(t, "u1", lb.Entries[0].UserID)
	assert.Equal(t, "u2", lb.Entries[1].UserID)

	assert.NotEmpty(t, spy.updates)
}

func TestEngine_VoiceAndDaily(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.HandleVoice(ctx, voice.Event{Kind: voice.EventJoin, UserID: "u1", GuildID: "g1", ChannelID: "vc", At: t0})
	require.NoError(t, err)
	reward, err := e.EndVoiceSession(ctx, "u1", "g1", t0.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(30), reward.XP)

	claim, err := e.ClaimDaily(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), claim.Coins)

	_, err = e.ClaimDaily(ctx, "u1", "g1")
	assert.ErrorIs(t, err, command.ErrClaimRejected)

	status, err := e.DailyStatus(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.False(t, status.CanClaim)
	assert.Equal(t, int64(30), status.VoiceXPToday)
}

func TestEngine_EvaluateAchievementsOnDemand(t *testing.T) {
	e, store, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.GrantXP(ctx, command.AdminXPCommand{UserID: "u1", GuildID: "g1", Amount: 500, At: t0})
	require.NoError(t, err)

	require.NoError(t, store.Achievements().UpsertDefinition(ctx, achievement.Definition{
		GuildID: "g1", AchievementID: "lvl3", Name: "Level 3",
		RequirementType: achievement.RequirementLevel, RequirementValue: 3, Active: true,
	}))

	unlocked, err := e.EvaluateAchievements(ctx, "u1", "g1")
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, "lvl3", unlocked[0].Definition.AchievementID)

	again, err := e.EvaluateAchievements(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestEngine_GuildConfigFallsBackToDefaults(t *testing.T) {
	e, _, _ := newEngine(t)
	cfg := e.GuildConfig(context.Background(), "g9")
	assert.Equal(t, shared.GuildID("g9"), cfg.GuildID)
	assert.NoError(t, cfg.Validate())
}

func TestEngine_DebitClampsAndItemsStack(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.ClaimDaily(ctx, "u1", "g1")
	require.NoError(t, err)

	res, err := e.Debit(ctx, "u1", "g1", 30)
	require.NoError(t, err)
	assert.Equal(t, int64(30), res.Debited)
	assert.Equal(t, int64(20), res.Balance)

	res, err = e.Debit(ctx, "u1", "g1", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Requested)
	assert.Equal(t, int64(20), res.Debited)
	assert.Equal(t, int64(0), res.Balance)

	_, err = e.Debit(ctx, "u1", "g1", -1)
	assert.True(t, shared.IsValidation(err))

	require.NoError(t, e.GrantItem(ctx, "u1", "g1", "badge", 2))
	require.NoError(t, e.GrantItem(ctx, "u1", "g1", "badge", 2))
	assert.True(t, shared.IsValidation(e.GrantItem(ctx, "u1", "g1", "badge", 0)))

	p, err := e.Progress(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Coins)
	require.Len(t, p.Items, 1)
	assert.Equal(t, query.ItemDTO{ItemID: "badge", Quantity: 4}, p.Items[0])
}
