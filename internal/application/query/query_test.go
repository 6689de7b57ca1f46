package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildxp/guildxp/internal/domain/achievement"
	"github.com/guildxp/guildxp/internal/domain/economy"
	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/domain/voice"
	"github.com/guildxp/guildxp/internal/infrastructure/persistence/memory"
	"github.com/guildxp/guildxp/pkg/timeutil"
)

var now = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

type defaultConfigs struct{}

func (defaultConfigs) Load(_ context.Context, guildID shared.GuildID) guild.Config {
	return guild.Defaults(guildID)
}

type stubCache struct {
	recs []progression.Record
	err  error
}

func (c stubCache) Top(_ context.Context, _ shared.GuildID, offset, limit int) ([]progression.Record, error) {
	if c.err != nil || offset >= len(c.recs) {
		return nil, c.err
	}
	return c.recs[offset:min(offset+limit, len(c.recs))], nil
}

func seedMember(t *testing.T, store *memory.Store, user string, level int, xp int64) {
	t.Helper()
	rec := progression.NewRecord(shared.Key{UserID: shared.UserID(user), GuildID: "g1"}, now.Add(-48*time.Hour))
	rec.Level = level
	rec.XP = xp
	require.NoError(t, store.Progression().Upsert(context.Background(), rec))
}

func TestGetLeaderboard_FromStore(t *testing.T) {
	store := memory.NewStore()
	seedMember(t, store, "alice", 3, 10)
	seedMember(t, store, "bob", 2, 390)
	seedMember(t, store, "carol", 3, 200)

	h := NewGetLeaderboardHandler(store.Leaderboard(), nil, defaultConfigs{}, nil, timeutil.FixedClock{T: now}, nil)
	res, err := h.Handle(context.Background(), GetLeaderboardQuery{GuildID: "g1", Page: 1, PageSize: 2})
	require.NoError(t, err)

	require.Len(t, res.Entries, 2)
	assert.Equal(t, "carol", res.Entries[0].UserID)
	assert.Equal(t, 1, res.Entries[0].Rank)
	assert.Equal(t, int64(100+400+200), res.Entries[0].TotalXP)
	assert.Equal(t, "alice", res.Entries[1].UserID)
	assert.Equal(t, 3, res.TotalCount)
	assert.True(t, res.HasMore)
	assert.False(t, res.FromCache)

	second, err := h.Handle(context.Background(), GetLeaderboardQuery{GuildID: "g1", Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, second.Entries, 1)
	assert.Equal(t, 3, second.Entries[0].Rank)
	assert.False(t, second.HasMore)
}

func TestGetLeaderboard_CachePreferredAndFallback(t *testing.T) {
	store := memory.NewStore()
	seedMember(t, store, "alice", 3, 10)

	cached := stubCache{recs: []progression.Record{{UserID: "zed", GuildID: "g1", Level: 9, XP: 1}}}
	h := NewGetLeaderboardHandler(store.Leaderboard(), cached, defaultConfigs{}, nil, timeutil.FixedClock{T: now}, nil)
	res, err := h.Handle(context.Background(), GetLeaderboardQuery{GuildID: "g1"})
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, "zed", res.Entries[0].UserID)

	broken := stubCache{err: errors.New("redis down")}
	h = NewGetLeaderboardHandler(store.Leaderboard(), broken, defaultConfigs{}, nil, timeutil.FixedClock{T: now}, nil)
	res, err = h.Handle(context.Background(), GetLeaderboardQuery{GuildID: "g1"})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, "alice", res.Entries[0].UserID)
}

func TestGetLeaderboard_InvalidGuild(t *testing.T) {
	h := NewGetLeaderboardHandler(memory.NewStore().Leaderboard(), nil, nil, nil, nil, nil)
	_, err := h.Handle(context.Background(), GetLeaderboardQuery{GuildID: ""})
	assert.True(t, shared.IsValidation(err))
}

func TestGetProgress(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	key := shared.Key{UserID: "alice", GuildID: "g1"}
	seedMember(t, store, "alice", 2, 100)
	seedMember(t, store, "bob", 5, 0)

	eco := economy.NewRecord(key)
	eco.ClaimDaily(now, guild.Defaults("g1").Economy)
	require.NoError(t, store.Economy().Upsert(ctx, eco))
	require.NoError(t, store.Achievements().InsertUnlock(ctx, achievement.Unlock{UserID: "alice", GuildID: "g1", AchievementID: "first", UnlockedAt: now}))
	require.NoError(t, store.Inventory().GrantItem(ctx, key, "badge", 2))

	h := NewGetProgressHandler(store, defaultConfigs{}, nil, nil)
	dto, err := h.Handle(ctx, GetProgressQuery{UserID: "alice", GuildID: "g1"})
	require.NoError(t, err)

	assert.Equal(t, 2, dto.Level)
	assert.Equal(t, int64(300), dto.XPToNextLevel)
	assert.InDelta(t, 0.25, dto.LevelProgress, 1e-9)
	assert.Equal(t, int64(200), dto.TotalXP)
	assert.Equal(t, 2, dto.Rank)
	assert.Equal(t, 2, dto.TotalMembers)
	assert.Equal(t, int64(50), dto.Coins)
	assert.Equal(t, 1, dto.DailyStreak)
	require.NotNil(t, dto.NextDailyAt)
	assert.Equal(t, now.Add(24*time.Hour), *dto.NextDailyAt)
	assert.Equal(t, []string{"first"}, dto.Achievements)
	assert.Equal(t, []ItemDTO{{ItemID: "badge", Quantity: 2}}, dto.Items)
}

func TestGetProgress_UnknownMember(t *testing.T) {
	h := NewGetProgressHandler(memory.NewStore(), defaultConfigs{}, nil, nil)
	_, err := h.Handle(context.Background(), GetProgressQuery{UserID: "ghost", GuildID: "g1"})
	assert.True(t, shared.IsNotFound(err))
}

func TestGetDailyStatus(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	key := shared.Key{UserID: "alice", GuildID: "g1"}

	done, err := voice.NewSession("s1", key, "vc1", now.Add(-2*time.Hour), voice.Presence{})
	require.NoError(t, err)
	_, err = done.Close(now.Add(-time.Hour))
	require.NoError(t, err)
	done.XPAwarded = 420
	require.NoError(t, store.Voice().Upsert(ctx, done))

	open, err := voice.NewSession("s2", key, "vc2", now.Add(-5*time.Minute), voice.Presence{})
	require.NoError(t, err)
	require.NoError(t, store.Voice().Upsert(ctx, open))

	h := NewGetDailyStatusHandler(store, defaultConfigs{}, timeutil.FixedClock{T: now}, timeutil.UTC)
	dto, err := h.Handle(ctx, GetDailyStatusQuery{UserID: "alice", GuildID: "g1"})
	require.NoError(t, err)

	assert.Equal(t, "2024-05-06", dto.Day)
	assert.True(t, dto.CanClaim)
	assert.Equal(t, int64(420), dto.VoiceXPToday)
	assert.Equal(t, int64(80), dto.VoiceXPRemaining)
	require.NotNil(t, dto.OpenSession)
	assert.Equal(t, "vc2", dto.OpenSession.ChannelID)
	assert.Equal(t, int64(300), dto.OpenSession.ElapsedSeconds)
}
