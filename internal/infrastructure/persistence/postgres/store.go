package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

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

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store implements ledger.Store on PostgreSQL.
type Store struct {
	conn      *Connection
	txTimeout time.Duration
	root      *repos
}

// NewStore creates the store. txTimeout bounds each WithinTx unit; zero
// leaves the caller's deadline alone.
func NewStore(conn *Connection, txTimeout time.Duration) *Store {
	return &Store{
		conn:      conn,
		txTimeout: txTimeout,
		root:      &repos{q: conn.Pool()},
	}
}

// WithinTx implements ledger.Store. fn's error is returned unchanged so the
// caller's classification survives the rollback.
func (s *Store) WithinTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	var fnErr error
	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		fnErr = fn(&repos{q: tx, locking: true})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return shared.Persistence("postgres", "WithinTx", err)
	}
	return nil
}

// Guilds lists every guild with at least one progression row.
func (s *Store) Guilds(ctx context.Context) ([]shared.GuildID, error) {
	rows, err := s.root.q.Query(ctx, `SELECT DISTINCT guild_id FROM progression ORDER BY guild_id`)
	if err != nil {
		return nil, shared.Persistence("postgres", "Guilds", err)
	}
	defer rows.Close()

	var out []shared.GuildID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, shared.Persistence("postgres", "Guilds", err)
		}
		out = append(out, shared.GuildID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("postgres", "Guilds", err)
	}
	return out, nil
}

func (s *Store) Progression() progression.Repository { return s.root.Progression() }
func (s *Store) Streaks() streak.Repository { return s.root.Streaks() }
func (s *Store) Economy() economy.Repository { return s.root.Economy() }
func (s *Store) Inventory() economy.InventoryRepository { return s.root.Inventory() }
func (s *Store) Achievements() achievement.Repository { return s.root.Achievements() }
func (s *Store) Voice() voice.Repository { return s.root.Voice() }
func (s *Store) Moderation() moderation.Repository { return s.root.Moderation() }
func (s *Store) Multipliers() multiplier.Repository { return multiplierRepo{s.root} }
func (s *Store) GuildConfigs() guild.Repository { return guildConfigRepo{s.root} }
func (s *Store) Leaderboard() progression.LeaderboardReader { return leaderboardRepo{s.root} }

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY SET
// ══════════════════════════════════════════════════════════════════════════════

// repos is the repository set bound to either the pool or one transaction.
// locking adds FOR UPDATE to the reads a unit later rewrites.
type repos struct {
	q       Querier
	locking bool
}

func (r *repos) Progression() progression.Repository { return progressionRepo{r} }
func (r *repos) Streaks() streak.Repository { return streakRepo{r} }
func (r *repos) Economy() economy.Repository { return economyRepo{r} }
func (r *repos) Inventory() economy.InventoryRepository { return inventoryRepo{r} }
func (r *repos) Achievements() achievement.Repository { return achievementRepo{r} }
func (r *repos) Voice() voice.Repository { return voiceRepo{r} }
func (r *repos) Moderation() moderation.Repository { return moderationRepo{r} }

func (r *repos) forUpdate() string {
	if r.locking {
		return " FOR UPDATE"
	}
	return ""
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func notFound(op, what string) error {
	return shared.NewDomainError("postgres", op, shared.ErrNotFound, what+" not found")
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

var (
	_ ledger.Store = (*Store)(nil)
	_ ledger.Tx    = (*repos)(nil)
)
