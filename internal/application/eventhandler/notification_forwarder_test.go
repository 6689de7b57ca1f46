package eventhandler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/pkg/retry"
)

var (
	t0  = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	key = shared.Key{UserID: "u1", GuildID: "g1"}
)

type senderSpy struct {
	fails int
	calls int
	sent  []Notification
}

func (s *senderSpy) Send(_ context.Context, n Notification) error {
	s.calls++
	if s.calls <= s.fails {
		return errors.New("broker unavailable")
	}
	s.sent = append(s.sent, n)
	return nil
}

type gateStub map[string]bool

func (g gateStub) Enabled(feature, _ string) bool { return g[feature] }

type fixedID string

func (f fixedID) GenerateID() string { return string(f) }

func TestForwarder_BuildsNotification(t *testing.T) {
	sender := &senderSpy{}
	f := NewNotificationForwarder(sender, nil, fixedID("n-1"), nil, nil, DefaultForwarderConfig())

	ev := shared.NewLevelUpEvent(key, 1, 3, 200, t0)
	ev.BaseEvent = ev.BaseEvent.WithCorrelationID("trace-9")
	require.NoError(t, f.Handle(ev))

	require.Len(t, sender.sent, 1)
	n := sender.sent[0]
	assert.Equal(t, "n-1", n.ID)
	assert.Equal(t, shared.EventLevelUp, n.Type)
	assert.Equal(t, "u1", n.UserID)
	assert.Equal(t, "g1", n.GuildID)
	assert.Equal(t, "g1:u1", n.Key())
	assert.Equal(t, "trace-9", n.CorrelationID)
	assert.Equal(t, t0, n.OccurredAt)
	assert.Equal(t, 3, n.Data["new_level"])
	assert.NotContains(t, n.Data, "user_id")
}

func TestForwarder_FeatureGateAndUnlistedTypes(t *testing.T) {
	sender := &senderSpy{}
	gate := gateStub{"notify.daily": true}
	f := NewNotificationForwarder(sender, gate, nil, nil, nil, DefaultForwarderConfig())

	require.NoError(t, f.Handle(shared.NewDailyClaimedEvent(key, 50, 1, t0)))
	require.NoError(t, f.Handle(shared.NewLevelUpEvent(key, 1, 2, 100, t0)))
	require.NoError(t, f.Handle(shared.NewXPGainedEvent(key, 20, "message", t0)))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, shared.EventDailyClaimed, sender.sent[0].Type)
}

func TestForwarder_RetriesThenSwallows(t *testing.T) {
	retrier := retry.PublishRetrier(retry.WithMaxAttempts(3), retry.WithInitialDelay(time.Millisecond))

	flaky := &senderSpy{fails: 2}
	f := NewNotificationForwarder(flaky, nil, nil, retrier, nil, DefaultForwarderConfig())
	require.NoError(t, f.Handle(shared.NewDailyClaimedEvent(key, 50, 1, t0)))
	assert.Equal(t, 3, flaky.calls)
	assert.Len(t, flaky.sent, 1)

	down := &senderSpy{fails: 100}
	f = NewNotificationForwarder(down, nil, nil, retrier, nil, DefaultForwarderConfig())
	assert.NoError(t, f.Handle(shared.NewDailyClaimedEvent(key, 50, 1, t0)))
	assert.Equal(t, 3, down.calls)
	assert.Empty(t, down.sent)
}

type busSpy struct {
	types []shared.EventType
}

func (b *busSpy) Subscribe(t shared.EventType, _ shared.EventHandler) error {
	b.types = append(b.types, t)
	return nil
}

func (b *busSpy) SubscribeAll(shared.EventHandler) error { return nil }

func TestForwarder_SubscribesConfiguredTypes(t *testing.T) {
	bus := &busSpy{}
	f := NewNotificationForwarder(&senderSpy{}, nil, nil, nil, nil, DefaultForwarderConfig())
	require.NoError(t, f.Subscribe(bus))
	assert.ElementsMatch(t, []shared.EventType{
		shared.EventLevelUp, shared.EventAchievementUnlocked,
		shared.EventDailyClaimed, shared.EventVoiceSessionEnded,
	}, bus.types)
}
