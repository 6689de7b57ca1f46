package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/domain/voice"
	"github.com/guildxp/guildxp/pkg/timeutil"
)

func voiceEvent(kind voice.EventKind, channel shared.ChannelID, at time.Time) voice.Event {
	return voice.Event{Kind: kind, UserID: testKey.UserID, GuildID: testKey.GuildID, ChannelID: channel, At: at}
}

func TestVoice_JoinLeaveRewardsMinutes(t *testing.T) {
	env := newTestEnv(t, 20)
	h := NewVoiceSessionHandler(env.deps)
	ctx := context.Background()

	joined, err := h.Handle(ctx, voiceEvent(voice.EventJoin, "vc1", t0))
	require.NoError(t, err)
	require.NotNil(t, joined.Opened)
	assert.Equal(t, "id-1", joined.Opened.ID)

	left, err := h.Handle(ctx, voiceEvent(voice.EventLeave, "", t0.Add(10*time.Minute)))
	require.NoError(t, err)
	require.NotNil(t, left.Closed)
	assert.Equal(t, int64(600), left.Closed.Seconds)
	assert.Equal(t, int64(100), left.Closed.XP)
	assert.True(t, left.Closed.LeveledUp)

	rec := env.progression(t)
	assert.Equal(t, 2, rec.Level)
	assert.Equal(t, int64(0), rec.XP)

	_, err = env.store.Voice().GetOpen(ctx, testKey)
	assert.True(t, shared.IsNotFound(err))
	assert.Len(t, env.events.ofType(shared.EventVoiceSessionEnded), 1)
}

func TestVoice_ShortSessionEarnsNothing(t *testing.T) {
	env := newTestEnv(t, 20)
	h := NewVoiceSessionHandler(env.deps)
	ctx := context.Background()

	_, err := h.Handle(ctx, voiceEvent(voice.EventJoin, "vc1", t0))
	require.NoError(t, err)

	reward, err := h.EndSession(ctx, testKey.UserID, testKey.GuildID, t0.Add(59*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(59), reward.Seconds)
	assert.Zero(t, reward.XP)

	_, err = env.store.Progression().Get(ctx, testKey)
	assert.True(t, shared.IsNotFound(err))
	assert.Empty(t, env.events.ofType(shared.EventXPGained))
}

func TestVoice_DailyCapClampsSecondSession(t *testing.T) {
	env := newTestEnv(t, 20)
	env.setConfig(t, func(c *guild.Config) { c.Voice.MaxDailyVoiceXP = 150 })
	h := NewVoiceSessionHandler(env.deps)
	ctx := context.Background()

	var rewards []int64
	for i := 0; i < 3; i++ {
		start := t0.Add(time.Duration(i) * time.Hour)
		_, err := h.Handle(ctx, voiceEvent(voice.EventJoin, "vc1", start))
		require.NoError(t, err)
		r, err := h.EndSession(ctx, testKey.UserID, testKey.GuildID, start.Add(10*time.Minute))
		require.NoError(t, err)
		rewards = append(rewards, r.XP)
	}
	assert.Equal(t, []int64{100, 50, 0}, rewards)
}

func TestVoice_SwitchClosesAndReopens(t *testing.T) {
	env := newTestEnv(t, 20)
	h := NewVoiceSessionHandler(env.deps)
	ctx := context.Background()

	_, err := h.Handle(ctx, voiceEvent(voice.EventJoin, "vc1", t0))
	require.NoError(t, err)

	res, err := h.Handle(ctx, voiceEvent(voice.EventSwitch, "vc2", t0.Add(2*time.Minute)))
	require.NoError(t, err)
	require.NotNil(t, res.Closed)
	require.NotNil(t, res.Opened)
	assert.Equal(t, int64(20), res.Closed.XP)
	assert.Equal(t, shared.ChannelID("vc1"), res.Closed.ChannelID)
	assert.Equal(t, shared.ChannelID("vc2"), res.Opened.ChannelID)
	assert.Equal(t, t0.Add(2*time.Minute), res.Opened.StartedAt)

	open, err := env.store.Voice().GetOpen(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, shared.ChannelID("vc2"), open.ChannelID)
}

func TestVoice_StaleJoinClosesPreviousSession(t *testing.T) {
	env := newTestEnv(t, 20)
	h := NewVoiceSessionHandler(env.deps)
	ctx := context.Background()

	_, err := h.Handle(ctx, voiceEvent(voice.EventJoin, "vc1", t0))
	require.NoError(t, err)
	res, err := h.Handle(ctx, voiceEvent(voice.EventJoin, "vc3", t0.Add(5*time.Minute)))
	require.NoError(t, err)

	require.NotNil(t, res.Closed)
	assert.True(t, res.Closed.Stale)
	assert.Equal(t, int64(50), res.Closed.XP)
	assert.Equal(t, shared.ChannelID("vc3"), res.Opened.ChannelID)
}

func TestVoice_EndSessionWithoutOpenSession(t *testing.T) {
	env := newTestEnv(t, 20)
	_, err := NewVoiceSessionHandler(env.deps).EndSession(context.Background(), testKey.UserID, testKey.GuildID, t0)
	assert.ErrorIs(t, err, shared.ErrNoOpenSession)
}

func TestVoice_CloseStaleCapsDuration(t *testing.T) {
	env := newTestEnv(t, 20)
	env.setConfig(t, func(c *guild.Config) { c.Voice.MaxDailyVoiceXP = 0 })
	h := NewVoiceSessionHandler(env.deps)
	ctx := context.Background()

	_, err := h.Handle(ctx, voiceEvent(voice.EventJoin, "vc1", t0))
	require.NoError(t, err)

	env.deps.Clock = timeutil.FixedClock{T: t0.Add(12 * time.Hour)}
	sweeper := NewVoiceSessionHandler(env.deps)
	n, err := sweeper.CloseStale(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ended := env.events.ofType(shared.EventVoiceSessionEnded)
	require.Len(t, ended, 1)
	ev := ended[0].(shared.VoiceSessionEndedEvent)
	assert.Equal(t, time.Hour, ev.Duration)
	assert.Equal(t, int64(600), ev.XPAwarded)
}
