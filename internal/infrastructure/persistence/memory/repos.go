package memory

import (
	"context"
	"sort"
	"time"

	"github.com/guildxp/guildxp/internal/domain/achievement"
	"github.com/guildxp/guildxp/internal/domain/economy"
	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/moderation"
	"github.com/guildxp/guildxp/internal/domain/multiplier"
	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/domain/streak"
	"github.com/guildxp/guildxp/internal/domain/voice"
)

// ═══════════════════════════════════════════════════════════════════════════
// Progression
// ═══════════════════════════════════════════════════════════════════════════

type progressionRepo struct{ v *view }

func (r progressionRepo) Get(ctx context.Context, key shared.Key) (*progression.Record, error) {
	var out *progression.Record
	err := r.v.do(ctx, "GetProgression", func(st *state) error {
		rec, ok := st.progression[key]
		if !ok {
			return shared.ErrProgressionNotFound
		}
		out = &rec
		return nil
	})
	return out, err
}

func (r progressionRepo) Upsert(ctx context.Context, rec *progression.Record) error {
	return r.v.do(ctx, "UpsertProgression", func(st *state) error {
		st.progression[rec.Key()] = *rec
		return nil
	})
}

// Guilds lists every guild with at least one progression row.
func (s *Store) Guilds(ctx context.Context) ([]shared.GuildID, error) {
	var out []shared.GuildID
	err := s.root.do(ctx, "Guilds", func(st *state) error {
		seen := make(map[shared.GuildID]bool)
		for k := range st.progression {
			if !seen[k.GuildID] {
				seen[k.GuildID] = true
				out = append(out, k.GuildID)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return nil
	})
	return out, err
}

type leaderboardRepo struct{ v *view }

func (r leaderboardRepo) sorted(st *state, guildID shared.GuildID) []progression.Record {
	var recs []progression.Record
	for k, rec := range st.progression {
		if k.GuildID == guildID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return progression.Less(recs[i], recs[j]) })
	return recs
}

func (r leaderboardRepo) Leaderboard(ctx context.Context, guildID shared.GuildID, page shared.Pagination) ([]progression.Record, error) {
	var out []progression.Record
	err := r.v.do(ctx, "Leaderboard", func(st *state) error {
		recs := r.sorted(st, guildID)
		from := page.Offset()
		if from >= len(recs) {
			return nil
		}
		to := from + page.Limit()
		if to > len(recs) {
			to = len(recs)
		}
		out = append(out, recs[from:to]...)
		return nil
	})
	return out, err
}

func (r leaderboardRepo) Rank(ctx context.Context, key shared.Key) (shared.Rank, error) {
	rank := shared.Unranked
	err := r.v.do(ctx, "Rank", func(st *state) error {
		for i, rec := range r.sorted(st, key.GuildID) {
			if rec.UserID == key.UserID {
				rank = shared.Rank(i + 1)
				return nil
			}
		}
		return shared.ErrProgressionNotFound
	})
	return rank, err
}

func (r leaderboardRepo) CountMembers(ctx context.Context, guildID shared.GuildID) (int, error) {
	n := 0
	err := r.v.do(ctx, "CountMembers", func(st *state) error {
		for k := range st.progression {
			if k.GuildID == guildID {
				n++
			}
		}
		return nil
	})
	return n, err
}

// ═══════════════════════════════════════════════════════════════════════════
// Streaks
// ═══════════════════════════════════════════════════════════════════════════

type streakRepo struct{ v *view }

func (r streakRepo) Get(ctx context.Context, kind streak.Kind, key shared.Key) (*streak.Record, error) {
	var out *streak.Record
	err := r.v.do(ctx, "GetStreak", func(st *state) error {
		rec, ok := st.streaks[streakKey{kind, key}]
		if !ok {
			return notFound("GetStreak", "streak")
		}
		out = &rec
		return nil
	})
	return out, err
}

func (r streakRepo) Upsert(ctx context.Context, kind streak.Kind, rec streak.Record) error {
	return r.v.do(ctx, "UpsertStreak", func(st *state) error {
		key := shared.Key{UserID: shared.UserID(rec.SubjectID), GuildID: shared.GuildID(rec.ScopeID)}
		st.streaks[streakKey{kind, key}] = rec
		return nil
	})
}

// ═══════════════════════════════════════════════════════════════════════════
// Economy & Inventory
// ═══════════════════════════════════════════════════════════════════════════

type economyRepo struct{ v *view }

func (r economyRepo) Get(ctx context.Context, key shared.Key) (*economy.Record, error) {
	var out *economy.Record
	err := r.v.do(ctx, "GetEconomy", func(st *state) error {
		rec, ok := st.economy[key]
		if !ok {
			return notFound("GetEconomy", "economy record")
		}
		out = rec.Clone()
		return nil
	})
	return out, err
}

func (r economyRepo) Upsert(ctx context.Context, rec *economy.Record) error {
	return r.v.do(ctx, "UpsertEconomy", func(st *state) error {
		st.economy[shared.Key{UserID: rec.UserID, GuildID: rec.GuildID}] = *rec.Clone()
		return nil
	})
}

type inventoryRepo struct{ v *view }

func (r inventoryRepo) GrantItem(ctx context.Context, key shared.Key, itemID string, quantity int) error {
	return r.v.do(ctx, "GrantItem", func(st *state) error {
		items := st.inventory[key]
		if items == nil {
			items = make(map[string]int)
			st.inventory[key] = items
		}
		items[itemID] += quantity
		return nil
	})
}

func (r inventoryRepo) ListItems(ctx context.Context, key shared.Key) ([]economy.InventoryItem, error) {
	var out []economy.InventoryItem
	err := r.v.do(ctx, "ListItems", func(st *state) error {
		for id, q := range st.inventory[key] {
			out = append(out, economy.InventoryItem{ItemID: id, Quantity: q})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
		return nil
	})
	return out, err
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievements
// ═══════════════════════════════════════════════════════════════════════════

type achievementRepo struct{ v *view }

func (r achievementRepo) ListDefinitions(ctx context.Context, guildID shared.GuildID) ([]achievement.Definition, error) {
	var out []achievement.Definition
	err := r.v.do(ctx, "ListDefinitions", func(st *state) error {
		for _, d := range st.defs[guildID] {
			out = append(out, d)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].AchievementID < out[j].AchievementID })
		return nil
	})
	return out, err
}

func (r achievementRepo) UpsertDefinition(ctx context.Context, def achievement.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	return r.v.do(ctx, "UpsertDefinition", func(st *state) error {
		defs := st.defs[def.GuildID]
		if defs == nil {
			defs = make(map[string]achievement.Definition)
			st.defs[def.GuildID] = defs
		}
		defs[def.AchievementID] = def
		return nil
	})
}

func (r achievementRepo) ListUnlocks(ctx context.Context, key shared.Key) ([]achievement.Unlock, error) {
	var out []achievement.Unlock
	err := r.v.do(ctx, "ListUnlocks", func(st *state) error {
		for _, u := range st.unlocks[key] {
			out = append(out, u)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].AchievementID < out[j].AchievementID })
		return nil
	})
	return out, err
}

func (r achievementRepo) InsertUnlock(ctx context.Context, u achievement.Unlock) error {
	return r.v.do(ctx, "InsertUnlock", func(st *state) error {
		key := shared.Key{UserID: u.UserID, GuildID: u.GuildID}
		us := st.unlocks[key]
		if us == nil {
			us = make(map[string]achievement.Unlock)
			st.unlocks[key] = us
		}
		if _, ok := us[u.AchievementID]; ok {
			return shared.ErrAlreadyUnlocked
		}
		us[u.AchievementID] = u
		return nil
	})
}

// ═══════════════════════════════════════════════════════════════════════════
// Voice
// ═══════════════════════════════════════════════════════════════════════════

type voiceRepo struct{ v *view }

func (r voiceRepo) GetOpen(ctx context.Context, key shared.Key) (*voice.Session, error) {
	var out *voice.Session
	err := r.v.do(ctx, "GetOpenSession", func(st *state) error {
		for _, s := range st.sessions {
			if s.Key() == key && s.EndedAt == nil {
				sess := s
				out = &sess
				return nil
			}
		}
		return shared.ErrNoOpenSession
	})
	return out, err
}

func (r voiceRepo) Upsert(ctx context.Context, s *voice.Session) error {
	return r.v.do(ctx, "UpsertSession", func(st *state) error {
		st.sessions[s.ID] = *s
		return nil
	})
}

func (r voiceRepo) SumDailyVoiceXP(ctx context.Context, key shared.Key, from, to time.Time) (int64, error) {
	var sum int64
	err := r.v.do(ctx, "SumDailyVoiceXP", func(st *state) error {
		for _, s := range st.sessions {
			if s.Key() != key || s.EndedAt == nil {
				continue
			}
			if !s.EndedAt.Before(from) && s.EndedAt.Before(to) {
				sum += s.XPAwarded
			}
		}
		return nil
	})
	return sum, err
}

func (r voiceRepo) ListOpenStartedBefore(ctx context.Context, cutoff time.Time, limit int) ([]voice.Session, error) {
	var out []voice.Session
	err := r.v.do(ctx, "ListOpenStartedBefore", func(st *state) error {
		for _, s := range st.sessions {
			if s.EndedAt == nil && s.StartedAt.Before(cutoff) {
				out = append(out, s)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

// ═══════════════════════════════════════════════════════════════════════════
// Moderation
// ═══════════════════════════════════════════════════════════════════════════

type moderationRepo struct{ v *view }

func (r moderationRepo) InsertReport(ctx context.Context, rep moderation.Report) error {
	return r.v.do(ctx, "InsertReport", func(st *state) error {
		st.reports = append(st.reports, rep)
		return nil
	})
}

func (r moderationRepo) IncrementWarnings(ctx context.Context, key shared.Key, _ string, _ time.Time) (int, error) {
	n := 0
	err := r.v.do(ctx, "IncrementWarnings", func(st *state) error {
		st.warnings[key]++
		n = st.warnings[key]
		return nil
	})
	return n, err
}

// Reports returns the stored spam reports, oldest first.
func (s *Store) Reports() []moderation.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]moderation.Report(nil), s.st.reports...)
}

// ═══════════════════════════════════════════════════════════════════════════
// Multipliers & Guild config
// ═══════════════════════════════════════════════════════════════════════════

type multiplierRepo struct{ v *view }

func (r multiplierRepo) ListActive(ctx context.Context, guildID shared.GuildID) ([]multiplier.Rule, error) {
	var out []multiplier.Rule
	err := r.v.do(ctx, "ListActiveMultipliers", func(st *state) error {
		for _, rule := range st.multipliers[guildID] {
			if rule.Active {
				out = append(out, rule)
			}
		}
		return nil
	})
	return out, err
}

func (r multiplierRepo) Upsert(ctx context.Context, rule multiplier.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	return r.v.do(ctx, "UpsertMultiplier", func(st *state) error {
		rules := st.multipliers[rule.GuildID]
		for i, existing := range rules {
			if existing.SubjectKind == rule.SubjectKind && existing.SubjectID == rule.SubjectID {
				rules[i] = rule
				return nil
			}
		}
		st.multipliers[rule.GuildID] = append(rules, rule)
		return nil
	})
}

type guildRepo struct{ v *view }

func (r guildRepo) Get(ctx context.Context, guildID shared.GuildID) (*guild.Config, error) {
	var out *guild.Config
	err := r.v.do(ctx, "GetGuildConfig", func(st *state) error {
		cfg, ok := st.configs[guildID]
		if !ok {
			return notFound("GetGuildConfig", "guild config")
		}
		out = &cfg
		return nil
	})
	return out, err
}

func (r guildRepo) Upsert(ctx context.Context, cfg guild.Config) error {
	return r.v.do(ctx, "UpsertGuildConfig", func(st *state) error {
		st.configs[cfg.GuildID] = cfg
		return nil
	})
}
