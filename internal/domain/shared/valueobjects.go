// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID identifies a chat-platform user.
type UserID string

// GuildID identifies a guild (tenant). All ledger state is partitioned by it.
type GuildID string

// ChannelID identifies a text or voice channel inside a guild.
type ChannelID string

// RoleID identifies a role a user may hold inside a guild.
type RoleID string

func (u UserID) String() string    { return string(u) }
func (g GuildID) String() string   { return string(g) }
func (c ChannelID) String() string { return string(c) }
func (r RoleID) String() string    { return string(r) }

// IsValid reports whether the id is a non-empty token without whitespace.
func (u UserID) IsValid() bool { return validToken(string(u)) }

// IsValid reports whether the id is a non-empty token without whitespace.
func (g GuildID) IsValid() bool { return validToken(string(g)) }

func validToken(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	return !strings.ContainsAny(s, " \t\r\n:")
}

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Key
// ═══════════════════════════════════════════════════════════════════════════

// Key addresses one row of per-user state inside a guild.
type Key struct {
	UserID  UserID
	GuildID GuildID
}

// NewKey validates both halves of a ledger key.
func NewKey(userID UserID, guildID GuildID) (Key, error) {
	if !userID.IsValid() {
		return Key{}, NewDomainError("shared", "NewKey", ErrInvalidID, "invalid user ID")
	}
	if !guildID.IsValid() {
		return Key{}, NewDomainError("shared", "NewKey", ErrInvalidID, "invalid guild ID")
	}
	return Key{UserID: userID, GuildID: guildID}, nil
}

// String renders the key as "guild:user", the form used for lock and cache keys.
func (k Key) String() string {
	return string(k.GuildID) + ":" + string(k.UserID)
}

// ═══════════════════════════════════════════════════════════════════════════
// Rank Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Rank represents a user's position in a guild leaderboard.
type Rank int

const (
	MinRank  Rank = 1
	Unranked Rank = 0
)

// IsValid checks if the rank is valid.
func (r Rank) IsValid() bool {
	return r >= MinRank
}

// IsTop returns true if the rank is in the top N.
func (r Rank) IsTop(n int) bool {
	return r.IsValid() && int(r) <= n
}

// ═══════════════════════════════════════════════════════════════════════════
// Pagination Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Pagination represents pagination parameters.
type Pagination struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Offset returns the offset for database queries.
func (p Pagination) Offset() int {
	if p.Page <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the limit for database queries.
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return p.PageSize
}

// NewPagination creates a new Pagination with defaults.
func NewPagination(page, pageSize int) Pagination {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}
