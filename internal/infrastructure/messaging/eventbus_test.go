package messaging

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildxp/guildxp/internal/domain/shared"
)

var t0 = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

type observerSpy struct {
	mu        sync.Mutex
	published int
	failures  int
	finished  int
}

func (o *observerSpy) EventPublished(shared.EventType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.published++
}

func (o *observerSpy) HandlerFinished(_ shared.EventType, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished++
	if err != nil {
		o.failures++
	}
}

func levelUp() shared.Event {
	return shared.NewLevelUpEvent(shared.Key{UserID: "u1", GuildID: "g1"}, 1, 2, 100, t0)
}

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	obs := &observerSpy{}
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Observer: obs})

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return errors.New("handler failed")
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		panic("bad handler")
	}))

	require.NoError(t, bus.Publish(levelUp()))
	require.NoError(t, bus.Publish(shared.NewDailyClaimedEvent(shared.Key{UserID: "u1", GuildID: "g1"}, 50, 1, t0)))

	assert.Equal(t, []shared.EventType{shared.EventLevelUp}, typed)
	assert.Equal(t, []shared.EventType{shared.EventLevelUp, shared.EventDailyClaimed}, all)
	assert.Equal(t, 2, obs.published)
	assert.Equal(t, 3, obs.finished)
	assert.Equal(t, 3, obs.failures)
}

func TestInMemoryEventBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var handled atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		handled.Add(1)
		return nil
	}))
	for i := 0; i < 2; i++ {
		require.NoError(t, bus.Publish(levelUp()))
	}
	require.NoError(t, bus.Close())
	// Both fit in the pool, so neither is dropped.
	assert.Equal(t, int32(2), handled.Load())

	assert.ErrorIs(t, bus.Publish(levelUp()), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.NoError(t, bus.Close())
}

func TestInMemoryEventBus_RejectsNil(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()
	assert.Error(t, bus.Publish(nil))
	assert.Error(t, bus.Subscribe(shared.EventLevelUp, nil))
	assert.Error(t, bus.SubscribeAll(nil))
}
