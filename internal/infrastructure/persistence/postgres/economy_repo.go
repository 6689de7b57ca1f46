package postgres

import (
	"context"
	"time"

	"github.com/guildxp/guildxp/internal/domain/achievement"
	"github.com/guildxp/guildxp/internal/domain/economy"
	"github.com/guildxp/guildxp/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ECONOMY
// ══════════════════════════════════════════════════════════════════════════════

type economyRepo struct{ r *repos }

func (e economyRepo) Get(ctx context.Context, key shared.Key) (*economy.Record, error) {
	rec := economy.Record{UserID: key.UserID, GuildID: key.GuildID}
	var lastClaim *time.Time
	err := e.r.q.QueryRow(ctx, `
		SELECT coins, total_earned, daily_last_claim_at, daily_streak, best_daily_streak
		FROM economy
		WHERE guild_id = $1 AND user_id = $2`+e.r.forUpdate(),
		key.GuildID.String(), key.UserID.String()).
		Scan(&rec.Coins, &rec.TotalEarned, &lastClaim, &rec.DailyStreak, &rec.BestDailyStreak)
	if err != nil {
		if IsNoRows(err) {
			return nil, notFound("GetEconomy", "economy record")
		}
		return nil, shared.Persistence("postgres", "GetEconomy", err)
	}
	rec.DailyLastClaimAt = utcPtr(lastClaim)
	return &rec, nil
}

func (e economyRepo) Upsert(ctx context.Context, rec *economy.Record) error {
	_, err := e.r.q.Exec(ctx, `
		INSERT INTO economy (guild_id, user_id, coins, total_earned, daily_last_claim_at, daily_streak, best_daily_streak)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (guild_id, user_id) DO UPDATE SET
			coins = EXCLUDED.coins,
			total_earned = EXCLUDED.total_earned,
			daily_last_claim_at = EXCLUDED.daily_last_claim_at,
			daily_streak = EXCLUDED.daily_streak,
			best_daily_streak = EXCLUDED.best_daily_streak`,
		rec.GuildID.String(), rec.UserID.String(), rec.Coins, rec.TotalEarned,
		utcPtr(rec.DailyLastClaimAt), rec.DailyStreak, rec.BestDailyStreak)
	if err != nil {
		return shared.Persistence("postgres", "UpsertEconomy", err)
	}
	return nil
}

type inventoryRepo struct{ r *repos }

func (i inventoryRepo) GrantItem(ctx context.Context, key shared.Key, itemID string, quantity int) error {
	_, err := i.r.q.Exec(ctx, `
		INSERT INTO inventory (guild_id, user_id, item_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (guild_id, user_id, item_id) DO UPDATE SET
			quantity = inventory.quantity + EXCLUDED.quantity`,
		key.GuildID.String(), key.UserID.String(), itemID, quantity)
	if err != nil {
		return shared.Persistence("postgres", "GrantItem", err)
	}
	return nil
}

func (i inventoryRepo) ListItems(ctx context.Context, key shared.Key) ([]economy.InventoryItem, error) {
	rows, err := i.r.q.Query(ctx, `
		SELECT item_id, quantity
		FROM inventory
		WHERE guild_id = $1 AND user_id = $2
		ORDER BY item_id`,
		key.GuildID.String(), key.UserID.String())
	if err != nil {
		return nil, shared.Persistence("postgres", "ListItems", err)
	}
	defer rows.Close()

	var out []economy.InventoryItem
	for rows.Next() {
		var it economy.InventoryItem
		if err := rows.Scan(&it.ItemID, &it.Quantity); err != nil {
			return nil, shared.Persistence("postgres", "ListItems", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("postgres", "ListItems", err)
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

type achievementRepo struct{ r *repos }

func (a achievementRepo) ListDefinitions(ctx context.Context, guildID shared.GuildID) ([]achievement.Definition, error) {
	rows, err := a.r.q.Query(ctx, `
		SELECT achievement_id, name, description, category, requirement_type, requirement_value,
		       reward_coins, reward_xp, reward_item_ids, active
		FROM achievement_definitions
		WHERE guild_id = $1
		ORDER BY achievement_id`,
		guildID.String())
	if err != nil {
		return nil, shared.Persistence("postgres", "ListDefinitions", err)
	}
	defer rows.Close()

	var out []achievement.Definition
	for rows.Next() {
		d := achievement.Definition{GuildID: guildID}
		var reqType string
		if err := rows.Scan(&d.AchievementID, &d.Name, &d.Description, &d.Category, &reqType, &d.RequirementValue,
			&d.RewardCoins, &d.RewardXP, &d.RewardItemIDs, &d.Active); err != nil {
			return nil, shared.Persistence("postgres", "ListDefinitions", err)
		}
		d.RequirementType = achievement.RequirementType(reqType)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("postgres", "ListDefinitions", err)
	}
	return out, nil
}

func (a achievementRepo) UpsertDefinition(ctx context.Context, def achievement.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	items := def.RewardItemIDs
	if items == nil {
		items = []string{}
	}
	_, err := a.r.q.Exec(ctx, `
		INSERT INTO achievement_definitions (
			guild_id, achievement_id, name, description, category, requirement_type,
			requirement_value, reward_coins, reward_xp, reward_item_ids, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (guild_id, achievement_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			requirement_type = EXCLUDED.requirement_type,
			requirement_value = EXCLUDED.requirement_value,
			reward_coins = EXCLUDED.reward_coins,
			reward_xp = EXCLUDED.reward_xp,
			reward_item_ids = EXCLUDED.reward_item_ids,
			active = EXCLUDED.active`,
		def.GuildID.String(), def.AchievementID, def.Name, def.Description, def.Category,
		string(def.RequirementType), def.RequirementValue, def.RewardCoins, def.RewardXP, items, def.Active)
	if err != nil {
		return shared.Persistence("postgres", "UpsertDefinition", err)
	}
	return nil
}

func (a achievementRepo) ListUnlocks(ctx context.Context, key shared.Key) ([]achievement.Unlock, error) {
	rows, err := a.r.q.Query(ctx, `
		SELECT achievement_id, unlocked_at
		FROM achievement_unlocks
		WHERE guild_id = $1 AND user_id = $2
		ORDER BY achievement_id`,
		key.GuildID.String(), key.UserID.String())
	if err != nil {
		return nil, shared.Persistence("postgres", "ListUnlocks", err)
	}
	defer rows.Close()

	var out []achievement.Unlock
	for rows.Next() {
		u := achievement.Unlock{UserID: key.UserID, GuildID: key.GuildID}
		if err := rows.Scan(&u.AchievementID, &u.UnlockedAt); err != nil {
			return nil, shared.Persistence("postgres", "ListUnlocks", err)
		}
		u.UnlockedAt = u.UnlockedAt.UTC()
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("postgres", "ListUnlocks", err)
	}
	return out, nil
}

// InsertUnlock uses ON CONFLICT DO NOTHING rather than catching the unique
// violation: a failed statement would abort the surrounding transaction.
func (a achievementRepo) InsertUnlock(ctx context.Context, u achievement.Unlock) error {
	tag, err := a.r.q.Exec(ctx, `
		INSERT INTO achievement_unlocks (guild_id, user_id, achievement_id, unlocked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (guild_id, user_id, achievement_id) DO NOTHING`,
		u.GuildID.String(), u.UserID.String(), u.AchievementID, u.UnlockedAt.UTC())
	if err != nil {
		return shared.Persistence("postgres", "InsertUnlock", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAlreadyUnlocked
	}
	return nil
}
