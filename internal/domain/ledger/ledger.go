// Package ledger groups the per-domain repositories behind one store so an
// operation can mutate several of them atomically.
package ledger

import (
	"context"

	"github.com/guildxp/guildxp/internal/domain/achievement"
	"github.com/guildxp/guildxp/internal/domain/economy"
	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/moderation"
	"github.com/guildxp/guildxp/internal/domain/multiplier"
	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/streak"
	"github.com/guildxp/guildxp/internal/domain/voice"
)

// Tx exposes the repositories that take part in an atomic unit. Outside of
// WithinTx the same accessors run in autocommit mode.
type Tx interface {
	Progression() progression.Repository
	Streaks() streak.Repository
	Economy() economy.Repository
	Inventory() economy.InventoryRepository
	Achievements() achievement.Repository
	Voice() voice.Repository
	Moderation() moderation.Repository
}

// Store is the full ledger.
type Store interface {
	Tx

	Multipliers() multiplier.Repository
	GuildConfigs() guild.Repository
	Leaderboard() progression.LeaderboardReader

	// WithinTx runs fn in one unit. Any error returned by fn discards every
	// write made through tx.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
