package postgres

import (
	"context"
	"time"

	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/domain/streak"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION
// ══════════════════════════════════════════════════════════════════════════════

type progressionRepo struct{ r *repos }

const progressionColumns = `user_id, guild_id, xp, level, last_activity_at, total_messages, joined_at`

func (p progressionRepo) Get(ctx context.Context, key shared.Key) (*progression.Record, error) {
	row := p.r.q.QueryRow(ctx, `
		SELECT `+progressionColumns+`
		FROM progression
		WHERE guild_id = $1 AND user_id = $2`+p.r.forUpdate(),
		key.GuildID.String(), key.UserID.String())

	rec, err := scanProgression(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgressionNotFound
		}
		return nil, shared.Persistence("postgres", "GetProgression", err)
	}
	return rec, nil
}

func (p progressionRepo) Upsert(ctx context.Context, rec *progression.Record) error {
	joined := rec.JoinedAt
	if joined.IsZero() {
		joined = time.Now()
	}
	_, err := p.r.q.Exec(ctx, `
		INSERT INTO progression (`+progressionColumns+`, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (guild_id, user_id) DO UPDATE SET
			xp = EXCLUDED.xp,
			level = EXCLUDED.level,
			last_activity_at = EXCLUDED.last_activity_at,
			total_messages = EXCLUDED.total_messages,
			updated_at = NOW()`,
		rec.UserID.String(), rec.GuildID.String(), rec.XP, rec.Level,
		nullTime(rec.LastActivityAt), rec.TotalMessages, joined.UTC())
	if err != nil {
		return shared.Persistence("postgres", "UpsertProgression", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgression(row rowScanner) (*progression.Record, error) {
	var (
		userID, guildID string
		lastActivity    *time.Time
		rec             progression.Record
	)
	if err := row.Scan(&userID, &guildID, &rec.XP, &rec.Level, &lastActivity, &rec.TotalMessages, &rec.JoinedAt); err != nil {
		return nil, err
	}
	rec.UserID = shared.UserID(userID)
	rec.GuildID = shared.GuildID(guildID)
	rec.LastActivityAt = timeOrZero(lastActivity)
	rec.JoinedAt = rec.JoinedAt.UTC()
	return &rec, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

// leaderboardRepo orders by level, then xp, then user id, matching
// progression.Less.
type leaderboardRepo struct{ r *repos }

func (l leaderboardRepo) Leaderboard(ctx context.Context, guildID shared.GuildID, page shared.Pagination) ([]progression.Record, error) {
	rows, err := l.r.q.Query(ctx, `
		SELECT `+progressionColumns+`
		FROM progression
		WHERE guild_id = $1
		ORDER BY level DESC, xp DESC, user_id ASC
		LIMIT $2 OFFSET $3`,
		guildID.String(), page.Limit(), page.Offset())
	if err != nil {
		return nil, shared.Persistence("postgres", "Leaderboard", err)
	}
	defer rows.Close()

	var out []progression.Record
	for rows.Next() {
		rec, err := scanProgression(rows)
		if err != nil {
			return nil, shared.Persistence("postgres", "Leaderboard", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("postgres", "Leaderboard", err)
	}
	return out, nil
}

func (l leaderboardRepo) Rank(ctx context.Context, key shared.Key) (shared.Rank, error) {
	var rank int64
	err := l.r.q.QueryRow(ctx, `
		WITH me AS (
			SELECT level, xp FROM progression WHERE guild_id = $1 AND user_id = $2
		)
		SELECT 1 + (
			SELECT count(*) FROM progression p
			WHERE p.guild_id = $1
			  AND (p.level > me.level
			   OR (p.level = me.level AND p.xp > me.xp)
			   OR (p.level = me.level AND p.xp = me.xp AND p.user_id < $2))
		)
		FROM me`,
		key.GuildID.String(), key.UserID.String()).Scan(&rank)
	if err != nil {
		if IsNoRows(err) {
			return shared.Unranked, shared.ErrProgressionNotFound
		}
		return shared.Unranked, shared.Persistence("postgres", "Rank", err)
	}
	return shared.Rank(rank), nil
}

func (l leaderboardRepo) CountMembers(ctx context.Context, guildID shared.GuildID) (int, error) {
	var n int
	if err := l.r.q.QueryRow(ctx, `SELECT count(*) FROM progression WHERE guild_id = $1`, guildID.String()).Scan(&n); err != nil {
		return 0, shared.Persistence("postgres", "CountMembers", err)
	}
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAKS
// ══════════════════════════════════════════════════════════════════════════════

type streakRepo struct{ r *repos }

func (s streakRepo) Get(ctx context.Context, kind streak.Kind, key shared.Key) (*streak.Record, error) {
	var (
		rec  = streak.Record{SubjectID: key.UserID.String(), ScopeID: key.GuildID.String()}
		last *time.Time
	)
	err := s.r.q.QueryRow(ctx, `
		SELECT count, best, last_event_at
		FROM streaks
		WHERE kind = $1 AND guild_id = $2 AND user_id = $3`+s.r.forUpdate(),
		string(kind), key.GuildID.String(), key.UserID.String()).Scan(&rec.Count, &rec.Best, &last)
	if err != nil {
		if IsNoRows(err) {
			return nil, notFound("GetStreak", "streak")
		}
		return nil, shared.Persistence("postgres", "GetStreak", err)
	}
	rec.LastEventAt = timeOrZero(last)
	return &rec, nil
}

func (s streakRepo) Upsert(ctx context.Context, kind streak.Kind, rec streak.Record) error {
	_, err := s.r.q.Exec(ctx, `
		INSERT INTO streaks (kind, guild_id, user_id, count, best, last_event_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kind, guild_id, user_id) DO UPDATE SET
			count = EXCLUDED.count,
			best = EXCLUDED.best,
			last_event_at = EXCLUDED.last_event_at`,
		string(kind), rec.ScopeID, rec.SubjectID, rec.Count, rec.Best, nullTime(rec.LastEventAt))
	if err != nil {
		return shared.Persistence("postgres", "UpsertStreak", err)
	}
	return nil
}
