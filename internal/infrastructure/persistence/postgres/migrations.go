package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies the embedded schema, one transaction per migration.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.conn.Pool().Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, m.tableName))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Pool().Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations in version order.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, done := applied[mig.Version]; done {
			continue
		}
		if mig.UpSQL == "" {
			return fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName),
				mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}
	return nil
}

// Rollback reverts the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	last := 0
	for v := range applied {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return nil
	}

	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			mig = &m.migrations[i]
			break
		}
	}
	if mig == nil || mig.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// Status lists every embedded migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		if at, ok := applied[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_progression", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_economy_and_achievements", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_voice_and_moderation", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_guild_settings", UpSQL: migration004Up, DownSQL: migration004Down},
	}
}

// Identifiers use the C collation so ORDER BY user_id matches byte order.

const migration001Up = `
CREATE TABLE IF NOT EXISTS progression (
    guild_id         TEXT COLLATE "C" NOT NULL,
    user_id          TEXT COLLATE "C" NOT NULL,
    xp               BIGINT NOT NULL DEFAULT 0,
    level            INTEGER NOT NULL DEFAULT 1,
    last_activity_at TIMESTAMPTZ,
    total_messages   BIGINT NOT NULL DEFAULT 0,
    joined_at        TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    PRIMARY KEY (guild_id, user_id),
    CONSTRAINT progression_xp_non_negative CHECK (xp >= 0),
    CONSTRAINT progression_level_positive CHECK (level >= 1)
);

CREATE INDEX IF NOT EXISTS idx_progression_ranking
    ON progression (guild_id, level DESC, xp DESC, user_id);

CREATE TABLE IF NOT EXISTS streaks (
    kind          TEXT NOT NULL,
    guild_id      TEXT COLLATE "C" NOT NULL,
    user_id       TEXT COLLATE "C" NOT NULL,
    count         INTEGER NOT NULL DEFAULT 0,
    best          INTEGER NOT NULL DEFAULT 0,
    last_event_at TIMESTAMPTZ,

    PRIMARY KEY (kind, guild_id, user_id)
);
`

const migration001Down = `
DROP TABLE IF EXISTS streaks;
DROP TABLE IF EXISTS progression;
`

const migration002Up = `
CREATE TABLE IF NOT EXISTS economy (
    guild_id            TEXT COLLATE "C" NOT NULL,
    user_id             TEXT COLLATE "C" NOT NULL,
    coins               BIGINT NOT NULL DEFAULT 0,
    total_earned        BIGINT NOT NULL DEFAULT 0,
    daily_last_claim_at TIMESTAMPTZ,
    daily_streak        INTEGER NOT NULL DEFAULT 0,
    best_daily_streak   INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (guild_id, user_id),
    CONSTRAINT economy_coins_non_negative CHECK (coins >= 0)
);

CREATE TABLE IF NOT EXISTS inventory (
    guild_id TEXT COLLATE "C" NOT NULL,
    user_id  TEXT COLLATE "C" NOT NULL,
    item_id  TEXT COLLATE "C" NOT NULL,
    quantity INTEGER NOT NULL,

    PRIMARY KEY (guild_id, user_id, item_id)
);

CREATE TABLE IF NOT EXISTS achievement_definitions (
    guild_id          TEXT COLLATE "C" NOT NULL,
    achievement_id    TEXT COLLATE "C" NOT NULL,
    name              TEXT NOT NULL,
    description       TEXT NOT NULL DEFAULT '',
    category          TEXT NOT NULL DEFAULT '',
    requirement_type  TEXT NOT NULL,
    requirement_value BIGINT NOT NULL DEFAULT 0,
    reward_coins      BIGINT NOT NULL DEFAULT 0,
    reward_xp         BIGINT NOT NULL DEFAULT 0,
    reward_item_ids   TEXT[] NOT NULL DEFAULT '{}',
    active            BOOLEAN NOT NULL DEFAULT TRUE,

    PRIMARY KEY (guild_id, achievement_id)
);

CREATE TABLE IF NOT EXISTS achievement_unlocks (
    guild_id       TEXT COLLATE "C" NOT NULL,
    user_id        TEXT COLLATE "C" NOT NULL,
    achievement_id TEXT COLLATE "C" NOT NULL,
    unlocked_at    TIMESTAMPTZ NOT NULL,

    PRIMARY KEY (guild_id, user_id, achievement_id)
);
`

const migration002Down = `
DROP TABLE IF EXISTS achievement_unlocks;
DROP TABLE IF EXISTS achievement_definitions;
DROP TABLE IF EXISTS inventory;
DROP TABLE IF EXISTS economy;
`

const migration003Up = `
CREATE TABLE IF NOT EXISTS voice_sessions (
    id               TEXT PRIMARY KEY,
    guild_id         TEXT COLLATE "C" NOT NULL,
    user_id          TEXT COLLATE "C" NOT NULL,
    channel_id       TEXT NOT NULL DEFAULT '',
    started_at       TIMESTAMPTZ NOT NULL,
    ended_at         TIMESTAMPTZ,
    muted            BOOLEAN NOT NULL DEFAULT FALSE,
    deafened         BOOLEAN NOT NULL DEFAULT FALSE,
    speaking         BOOLEAN NOT NULL DEFAULT FALSE,
    speaking_seconds BIGINT NOT NULL DEFAULT 0,
    speaking_since   TIMESTAMPTZ,
    xp_awarded       BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_voice_sessions_open
    ON voice_sessions (guild_id, user_id) WHERE ended_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_voice_sessions_open_started
    ON voice_sessions (started_at) WHERE ended_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_voice_sessions_ended
    ON voice_sessions (guild_id, user_id, ended_at) WHERE ended_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS spam_reports (
    id         TEXT PRIMARY KEY,
    guild_id   TEXT NOT NULL,
    user_id    TEXT NOT NULL,
    channel_id TEXT NOT NULL DEFAULT '',
    flag       TEXT NOT NULL,
    severity   INTEGER NOT NULL DEFAULT 0,
    content    TEXT NOT NULL DEFAULT '',
    at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_spam_reports_member ON spam_reports (guild_id, user_id, at DESC);

CREATE TABLE IF NOT EXISTS warnings (
    guild_id    TEXT NOT NULL,
    user_id     TEXT NOT NULL,
    count       INTEGER NOT NULL DEFAULT 0,
    last_reason TEXT NOT NULL DEFAULT '',
    last_at     TIMESTAMPTZ NOT NULL,

    PRIMARY KEY (guild_id, user_id)
);
`

const migration003Down = `
DROP TABLE IF EXISTS warnings;
DROP TABLE IF EXISTS spam_reports;
DROP TABLE IF EXISTS voice_sessions;
`

const migration004Up = `
CREATE TABLE IF NOT EXISTS multipliers (
    guild_id         TEXT NOT NULL,
    subject_kind     TEXT NOT NULL,
    subject_id       TEXT NOT NULL,
    xp_multiplier    DOUBLE PRECISION NOT NULL DEFAULT 1,
    coins_multiplier DOUBLE PRECISION NOT NULL DEFAULT 1,
    active           BOOLEAN NOT NULL DEFAULT TRUE,

    PRIMARY KEY (guild_id, subject_kind, subject_id)
);

CREATE TABLE IF NOT EXISTS guild_configs (
    guild_id   TEXT PRIMARY KEY,
    config     JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

const migration004Down = `
DROP TABLE IF EXISTS guild_configs;
DROP TABLE IF EXISTS multipliers;
`
