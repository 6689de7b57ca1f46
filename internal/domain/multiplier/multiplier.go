// Package multiplier composes per-channel and per-role reward multipliers.
package multiplier

import (
	"context"
	"math"

	"github.com/guildxp/guildxp/internal/domain/shared"
)

// SubjectKind says what a rule is keyed on.
type SubjectKind string

const (
	SubjectChannel SubjectKind = "channel"
	SubjectRole    SubjectKind = "role"
)

// Rule is one configured multiplier.
type Rule struct {
	GuildID         shared.GuildID
	SubjectKind     SubjectKind
	SubjectID       string
	XPMultiplier    float64
	CoinsMultiplier float64
	Active          bool
}

// Validate rejects non-positive multipliers and unknown kinds.
func (r Rule) Validate() error {
	const domain, op = "multiplier", "Validate"
	switch {
	case r.SubjectKind != SubjectChannel && r.SubjectKind != SubjectRole:
		return shared.Validation(domain, op, "subject kind must be channel or role")
	case r.SubjectID == "":
		return shared.Validation(domain, op, "subject id is required")
	case !(r.XPMultiplier > 0) || math.IsInf(r.XPMultiplier, 0):
		return shared.Validation(domain, op, "xp multiplier must be positive")
	case !(r.CoinsMultiplier > 0) || math.IsInf(r.CoinsMultiplier, 0):
		return shared.Validation(domain, op, "coins multiplier must be positive")
	}
	return nil
}

// Multiplier is the resolved pair of factors for one event.
type Multiplier struct {
	XP    float64
	Coins float64
}

// Identity is the neutral multiplier.
var Identity = Multiplier{XP: 1, Coins: 1}

// ApplyXP scales and floors an XP amount.
func (m Multiplier) ApplyXP(amount int64) int64 {
	return int64(math.Floor(float64(amount) * m.XP))
}

// ApplyCoins scales and floors a coin amount.
func (m Multiplier) ApplyCoins(amount int64) int64 {
	return int64(math.Floor(float64(amount) * m.Coins))
}

// Repository lists the rules of a guild.
type Repository interface {
	ListActive(ctx context.Context, guildID shared.GuildID) ([]Rule, error)
	Upsert(ctx context.Context, rule Rule) error
}

// Compose resolves the multiplier from an already loaded rule set.
// The channel factor comes from the single active rule for channelID; role
// factors multiply over every active rule whose role the user holds.
func Compose(rules []Rule, channelID shared.ChannelID, roles []shared.RoleID) Multiplier {
	held := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		held[string(r)] = struct{}{}
	}

	channel := Identity
	channelFound := false
	roleProduct := Identity
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		switch rule.SubjectKind {
		case SubjectChannel:
			if !channelFound && rule.SubjectID == string(channelID) {
				channel = Multiplier{XP: rule.XPMultiplier, Coins: rule.CoinsMultiplier}
				channelFound = true
			}
		case SubjectRole:
			if _, ok := held[rule.SubjectID]; ok {
				roleProduct.XP *= rule.XPMultiplier
				roleProduct.Coins *= rule.CoinsMultiplier
			}
		}
	}

	return Multiplier{
		XP:    channel.XP * roleProduct.XP,
		Coins: channel.Coins * roleProduct.Coins,
	}
}

// Resolver loads rules from the store and composes them.
type Resolver struct {
	repo Repository
}

// NewResolver creates a resolver over the given rule repository.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the multiplier for a user holding roles in channelID.
func (r *Resolver) Resolve(ctx context.Context, guildID shared.GuildID, channelID shared.ChannelID, roles []shared.RoleID) (Multiplier, error) {
	rules, err := r.repo.ListActive(ctx, guildID)
	if err != nil {
		return Identity, shared.Persistence("multiplier", "Resolve", err)
	}
	return Compose(rules, channelID, roles), nil
}
