package command

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/guildxp/guildxp/internal/application/saga"
	"github.com/guildxp/guildxp/internal/domain/achievement"
	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/moderation"
	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/infrastructure/persistence/memory"
	"github.com/guildxp/guildxp/pkg/keylock"
	"github.com/guildxp/guildxp/pkg/logger"
	"github.com/guildxp/guildxp/pkg/timeutil"
)

var (
	t0      = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	testKey = shared.Key{UserID: "u1", GuildID: "g1"}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(ev shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) ofType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, ev := range p.events {
		if ev.EventType() == t {
			out = append(out, ev)
		}
	}
	return out
}

type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequentialIDs) GenerateID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "id-" + strconv.Itoa(s.n)
}

type testEnv struct {
	store   *memory.Store
	events  *recordingPublisher
	history *moderation.RingHistory
	deps    Deps
	award   *AwardXPHandler
}

func newTestEnv(t *testing.T, xp int64) *testEnv {
	t.Helper()
	store := memory.NewStore()
	events := &recordingPublisher{}
	log := logger.NewNop()
	curves := progression.NewEvaluator()

	deps := Deps{
		Store:   store,
		Locks:   keylock.New(),
		Configs: NewConfigLoader(store.GuildConfigs(), guild.Defaults(""), log),
		Curves:  curves,
		Achievements: saga.NewAchievementFlowSaga(store, curves, achievement.NewEvaluator(), events,
			timeutil.FixedClock{T: t0}, log, saga.DefaultAchievementFlowConfig()),
		Events:   events,
		IDs:      &sequentialIDs{},
		Clock:    timeutil.FixedClock{T: t0},
		Calendar: timeutil.UTC,
		Log:      log,
	}
	history := moderation.NewRingHistory(moderation.DefaultHistorySize, moderation.DefaultHistoryTTL)

	return &testEnv{
		store:   store,
		events:  events,
		history: history,
		deps:    deps,
		award:   NewAwardXPHandler(deps, history, FixedRandomSource{Value: xp}, DefaultAwardXPConfig()),
	}
}

func (e *testEnv) setConfig(t *testing.T, mutate func(*guild.Config)) {
	t.Helper()
	cfg := guild.Defaults(testKey.GuildID)
	mutate(&cfg)
	require.NoError(t, e.store.GuildConfigs().Upsert(context.Background(), cfg))
}

func (e *testEnv) seedProgression(t *testing.T, level int, xp int64) {
	t.Helper()
	rec := progression.NewRecord(testKey, t0.Add(-time.Hour))
	rec.Level = level
	rec.XP = xp
	require.NoError(t, e.store.Progression().Upsert(context.Background(), rec))
}

func (e *testEnv) progression(t *testing.T) *progression.Record {
	t.Helper()
	rec, err := e.store.Progression().Get(context.Background(), testKey)
	require.NoError(t, err)
	return rec
}

func message(content string, at time.Time) AwardXPCommand {
	return AwardXPCommand{UserID: testKey.UserID, GuildID: testKey.GuildID, ChannelID: "c1", Content: content, Timestamp: at}
}
