// Package memory is an in-process ledger store for tests and local runs.
// Transactions are serialized and roll back by restoring a snapshot.
package memory

import (
	"context"
	"sync"

	"github.com/guildxp/guildxp/internal/domain/achievement"
	"github.com/guildxp/guildxp/internal/domain/economy"
	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/ledger"
	"github.com/guildxp/guildxp/internal/domain/moderation"
	"github.com/guildxp/guildxp/internal/domain/multiplier"
	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/domain/streak"
	"github.com/guildxp/guildxp/internal/domain/voice"
)

type streakKey struct {
	kind streak.Kind
	key  shared.Key
}

type state struct {
	progression map[shared.Key]progression.Record
	streaks     map[streakKey]streak.Record
	economy     map[shared.Key]economy.Record
	inventory   map[shared.Key]map[string]int
	defs        map[shared.GuildID]map[string]achievement.Definition
	unlocks     map[shared.Key]map[string]achievement.Unlock
	sessions    map[string]voice.Session
	reports     []moderation.Report
	warnings    map[shared.Key]int
	multipliers map[shared.GuildID][]multiplier.Rule
	configs     map[shared.GuildID]guild.Config
}

func newState() *state {
	return &state{
		progression: make(map[shared.Key]progression.Record),
		streaks:     make(map[streakKey]streak.Record),
		economy:     make(map[shared.Key]economy.Record),
		inventory:   make(map[shared.Key]map[string]int),
		defs:        make(map[shared.GuildID]map[string]achievement.Definition),
		unlocks:     make(map[shared.Key]map[string]achievement.Unlock),
		sessions:    make(map[string]voice.Session),
		warnings:    make(map[shared.Key]int),
		multipliers: make(map[shared.GuildID][]multiplier.Rule),
		configs:     make(map[shared.GuildID]guild.Config),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.progression {
		c.progression[k] = v
	}
	for k, v := range s.streaks {
		c.streaks[k] = v
	}
	for k, v := range s.economy {
		c.economy[k] = v
	}
	for k, items := range s.inventory {
		m := make(map[string]int, len(items))
		for id, q := range items {
			m[id] = q
		}
		c.inventory[k] = m
	}
	for g, defs := range s.defs {
		m := make(map[string]achievement.Definition, len(defs))
		for id, d := range defs {
			m[id] = d
		}
		c.defs[g] = m
	}
	for k, us := range s.unlocks {
		m := make(map[string]achievement.Unlock, len(us))
		for id, u := range us {
			m[id] = u
		}
		c.unlocks[k] = m
	}
	for id, sess := range s.sessions {
		c.sessions[id] = sess
	}
	c.reports = append([]moderation.Report(nil), s.reports...)
	for k, v := range s.warnings {
		c.warnings[k] = v
	}
	for g, rules := range s.multipliers {
		c.multipliers[g] = append([]multiplier.Rule(nil), rules...)
	}
	for g, cfg := range s.configs {
		c.configs[g] = cfg
	}
	return c
}

// Snapshot is an opaque deep copy of the store contents, comparable with
// reflect.DeepEqual.
type Snapshot struct {
	st *state
}

// Store implements ledger.Store.
type Store struct {
	mu     sync.Mutex
	st     *state
	faults map[string]error

	root *view
}

var _ ledger.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{st: newState(), faults: make(map[string]error)}
	s.root = &view{s: s}
	return s
}

// Snapshot copies the current contents.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{st: s.st.clone()}
}

// FailOn makes every call of the named repository operation return err,
// e.g. FailOn("GrantItem", err). A nil err clears the fault.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// WithinTx implements ledger.Store. The store is locked for the whole unit.
func (s *Store) WithinTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.st.clone()
	if err := fn(&view{s: s, inTx: true}); err != nil {
		s.st = saved
		return err
	}
	return nil
}

func (s *Store) Progression() progression.Repository { return progressionRepo{s.root} }
func (s *Store) Streaks() streak.Repository { return streakRepo{s.root} }
func (s *Store) Economy() economy.Repository { return economyRepo{s.root} }
func (s *Store) Inventory() economy.InventoryRepository { return inventoryRepo{s.root} }
func (s *Store) Achievements() achievement.Repository { return achievementRepo{s.root} }
func (s *Store) Voice() voice.Repository { return voiceRepo{s.root} }
func (s *Store) Moderation() moderation.Repository { return moderationRepo{s.root} }
func (s *Store) Multipliers() multiplier.Repository { return multiplierRepo{s.root} }
func (s *Store) GuildConfigs() guild.Repository { return guildRepo{s.root} }
func (s *Store) Leaderboard() progression.LeaderboardReader { return leaderboardRepo{s.root} }

// view is the repository set handed out either by the store (autocommit,
// one lock per call) or inside WithinTx (lock already held).
type view struct {
	s    *Store
	inTx bool
}

func (v *view) Progression() progression.Repository { return progressionRepo{v} }
func (v *view) Streaks() streak.Repository { return streakRepo{v} }
func (v *view) Economy() economy.Repository { return economyRepo{v} }
func (v *view) Inventory() economy.InventoryRepository { return inventoryRepo{v} }
func (v *view) Achievements() achievement.Repository { return achievementRepo{v} }
func (v *view) Voice() voice.Repository { return voiceRepo{v} }
func (v *view) Moderation() moderation.Repository { return moderationRepo{v} }

// do runs fn against the live state, taking the lock when not in a unit.
func (v *view) do(ctx context.Context, op string, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !v.inTx {
		v.s.mu.Lock()
		defer v.s.mu.Unlock()
	}
	if err := v.s.faults[op]; err != nil {
		return err
	}
	return fn(v.s.st)
}

func notFound(op, what string) error {
	return shared.NewDomainError("memory", op, shared.ErrNotFound, what+" not found")
}
