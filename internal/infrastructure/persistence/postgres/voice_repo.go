package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/moderation"
	"github.com/guildxp/guildxp/internal/domain/multiplier"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/domain/voice"
)

// ══════════════════════════════════════════════════════════════════════════════
// VOICE SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

type voiceRepo struct{ r *repos }

const voiceColumns = `id, user_id, guild_id, channel_id, started_at, ended_at,
	muted, deafened, speaking, speaking_seconds, speaking_since, xp_awarded`

func scanSession(row rowScanner) (*voice.Session, error) {
	var (
		s                  voice.Session
		userID, guildID    string
		channelID          string
		ended, speakingSin *time.Time
	)
	err := row.Scan(&s.ID, &userID, &guildID, &channelID, &s.StartedAt, &ended,
		&s.Presence.Muted, &s.Presence.Deafened, &s.Presence.Speaking,
		&s.SpeakingSeconds, &speakingSin, &s.XPAwarded)
	if err != nil {
		return nil, err
	}
	s.UserID = shared.UserID(userID)
	s.GuildID = shared.GuildID(guildID)
	s.ChannelID = shared.ChannelID(channelID)
	s.StartedAt = s.StartedAt.UTC()
	s.EndedAt = utcPtr(ended)
	s.SpeakingSince = utcPtr(speakingSin)
	return &s, nil
}

func (v voiceRepo) GetOpen(ctx context.Context, key shared.Key) (*voice.Session, error) {
	row := v.r.q.QueryRow(ctx, `
		SELECT `+voiceColumns+`
		FROM voice_sessions
		WHERE guild_id = $1 AND user_id = $2 AND ended_at IS NULL
		ORDER BY started_at DESC
		LIMIT 1`+v.r.forUpdate(),
		key.GuildID.String(), key.UserID.String())

	s, err := scanSession(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrNoOpenSession
		}
		return nil, shared.Persistence("postgres", "GetOpenSession", err)
	}
	return s, nil
}

func (v voiceRepo) Upsert(ctx context.Context, s *voice.Session) error {
	_, err := v.r.q.Exec(ctx, `
		INSERT INTO voice_sessions (`+voiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			channel_id = EXCLUDED.channel_id,
			ended_at = EXCLUDED.ended_at,
			muted = EXCLUDED.muted,
			deafened = EXCLUDED.deafened,
			speaking = EXCLUDED.speaking,
			speaking_seconds = EXCLUDED.speaking_seconds,
			speaking_since = EXCLUDED.speaking_since,
			xp_awarded = EXCLUDED.xp_awarded`,
		s.ID, s.UserID.String(), s.GuildID.String(), s.ChannelID.String(), s.StartedAt.UTC(), utcPtr(s.EndedAt),
		s.Presence.Muted, s.Presence.Deafened, s.Presence.Speaking,
		s.SpeakingSeconds, utcPtr(s.SpeakingSince), s.XPAwarded)
	if err != nil {
		return shared.Persistence("postgres", "UpsertSession", err)
	}
	return nil
}

func (v voiceRepo) SumDailyVoiceXP(ctx context.Context, key shared.Key, from, to time.Time) (int64, error) {
	var sum int64
	err := v.r.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(xp_awarded), 0)
		FROM voice_sessions
		WHERE guild_id = $1 AND user_id = $2
		  AND ended_at IS NOT NULL AND ended_at >= $3 AND ended_at < $4`,
		key.GuildID.String(), key.UserID.String(), from.UTC(), to.UTC()).Scan(&sum)
	if err != nil {
		return 0, shared.Persistence("postgres", "SumDailyVoiceXP", err)
	}
	return sum, nil
}

func (v voiceRepo) ListOpenStartedBefore(ctx context.Context, cutoff time.Time, limit int) ([]voice.Session, error) {
	query := `
		SELECT ` + voiceColumns + `
		FROM voice_sessions
		WHERE ended_at IS NULL AND started_at < $1
		ORDER BY started_at`
	args := []any{cutoff.UTC()}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := v.r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Persistence("postgres", "ListOpenStartedBefore", err)
	}
	defer rows.Close()

	var out []voice.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, shared.Persistence("postgres", "ListOpenStartedBefore", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("postgres", "ListOpenStartedBefore", err)
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MODERATION
// ══════════════════════════════════════════════════════════════════════════════

type moderationRepo struct{ r *repos }

func (m moderationRepo) InsertReport(ctx context.Context, rep moderation.Report) error {
	_, err := m.r.q.Exec(ctx, `
		INSERT INTO spam_reports (id, guild_id, user_id, channel_id, flag, severity, content, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		rep.ID, rep.GuildID.String(), rep.UserID.String(), rep.ChannelID.String(),
		string(rep.Flag), rep.Severity, rep.Content, rep.At.UTC())
	if err != nil {
		return shared.Persistence("postgres", "InsertReport", err)
	}
	return nil
}

func (m moderationRepo) IncrementWarnings(ctx context.Context, key shared.Key, reason string, at time.Time) (int, error) {
	var n int
	err := m.r.q.QueryRow(ctx, `
		INSERT INTO warnings (guild_id, user_id, count, last_reason, last_at)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (guild_id, user_id) DO UPDATE SET
			count = warnings.count + 1,
			last_reason = EXCLUDED.last_reason,
			last_at = EXCLUDED.last_at
		RETURNING count`,
		key.GuildID.String(), key.UserID.String(), reason, at.UTC()).Scan(&n)
	if err != nil {
		return 0, shared.Persistence("postgres", "IncrementWarnings", err)
	}
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MULTIPLIERS & GUILD CONFIG
// ══════════════════════════════════════════════════════════════════════════════

type multiplierRepo struct{ r *repos }

func (m multiplierRepo) ListActive(ctx context.Context, guildID shared.GuildID) ([]multiplier.Rule, error) {
	rows, err := m.r.q.Query(ctx, `
		SELECT subject_kind, subject_id, xp_multiplier, coins_multiplier
		FROM multipliers
		WHERE guild_id = $1 AND active
		ORDER BY subject_kind, subject_id`,
		guildID.String())
	if err != nil {
		return nil, shared.Persistence("postgres", "ListActiveMultipliers", err)
	}
	defer rows.Close()

	var out []multiplier.Rule
	for rows.Next() {
		rule := multiplier.Rule{GuildID: guildID, Active: true}
		var kind string
		if err := rows.Scan(&kind, &rule.SubjectID, &rule.XPMultiplier, &rule.CoinsMultiplier); err != nil {
			return nil, shared.Persistence("postgres", "ListActiveMultipliers", err)
		}
		rule.SubjectKind = multiplier.SubjectKind(kind)
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("postgres", "ListActiveMultipliers", err)
	}
	return out, nil
}

func (m multiplierRepo) Upsert(ctx context.Context, rule multiplier.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	_, err := m.r.q.Exec(ctx, `
		INSERT INTO multipliers (guild_id, subject_kind, subject_id, xp_multiplier, coins_multiplier, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (guild_id, subject_kind, subject_id) DO UPDATE SET
			xp_multiplier = EXCLUDED.xp_multiplier,
			coins_multiplier = EXCLUDED.coins_multiplier,
			active = EXCLUDED.active`,
		rule.GuildID.String(), string(rule.SubjectKind), rule.SubjectID,
		rule.XPMultiplier, rule.CoinsMultiplier, rule.Active)
	if err != nil {
		return shared.Persistence("postgres", "UpsertMultiplier", err)
	}
	return nil
}

// guildConfigRepo stores each guild's configuration as one JSONB document.
type guildConfigRepo struct{ r *repos }

func (g guildConfigRepo) Get(ctx context.Context, guildID shared.GuildID) (*guild.Config, error) {
	var raw []byte
	err := g.r.q.QueryRow(ctx, `SELECT config FROM guild_configs WHERE guild_id = $1`, guildID.String()).Scan(&raw)
	if err != nil {
		if IsNoRows(err) {
			return nil, notFound("GetGuildConfig", "guild config")
		}
		return nil, shared.Persistence("postgres", "GetGuildConfig", err)
	}

	var cfg guild.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, shared.WrapError("postgres", "GetGuildConfig", shared.ErrConfiguration, "stored config is not valid JSON", err)
	}
	cfg.GuildID = guildID
	return &cfg, nil
}

func (g guildConfigRepo) Upsert(ctx context.Context, cfg guild.Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return shared.WrapError("postgres", "UpsertGuildConfig", shared.ErrValidation, "config cannot be encoded", err)
	}
	_, err = g.r.q.Exec(ctx, `
		INSERT INTO guild_configs (guild_id, config, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (guild_id) DO UPDATE SET
			config = EXCLUDED.config,
			updated_at = NOW()`,
		cfg.GuildID.String(), raw)
	if err != nil {
		return shared.Persistence("postgres", "UpsertGuildConfig", err)
	}
	return nil
}
