// Package query contains read operations. Queries never modify state.
// Each query is a self-contained use case with its own request and
// response types.
package query

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/pkg/logger"
	"github.com/guildxp/guildxp/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Returns one page of a guild's ranking, level DESC then xp DESC. The ranking
// cache is tried first; the ledger store is the fallback and the source of
// the member count.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery selects a page of a guild leaderboard.
type GetLeaderboardQuery struct {
	GuildID  shared.GuildID
	Page     int // 1-based, defaults to 1
	PageSize int // defaults to shared.DefaultPageSize, capped at shared.MaxPageSize
}

// Validate checks the query.
func (q *GetLeaderboardQuery) Validate() error {
	if !q.GuildID.IsValid() {
		return errors.New("invalid guild ID")
	}
	if q.Page < 0 || q.PageSize < 0 {
		return errors.New("page and page size cannot be negative")
	}
	return nil
}

// LeaderboardEntryDTO is one ranked member.
type LeaderboardEntryDTO struct {
	Rank    int    `json:"rank"`
	UserID  string `json:"user_id"`
	Level   int    `json:"level"`
	XP      int64  `json:"xp"`
	TotalXP int64  `json:"total_xp"`
}

// GetLeaderboardResult is one leaderboard page.
type GetLeaderboardResult struct {
	GuildID     string                `json:"guild_id"`
	Entries     []LeaderboardEntryDTO `json:"entries"`
	TotalCount  int                   `json:"total_count"`
	Page        int                   `json:"page"`
	PageSize    int                   `json:"page_size"`
	HasMore     bool                  `json:"has_more"`
	FromCache   bool                  `json:"from_cache"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// LeaderboardCache is a ranking cache. Top returns records carrying only
// user, guild, level and xp; an empty result means the cache has nothing
// for the guild.
type LeaderboardCache interface {
	Top(ctx context.Context, guildID shared.GuildID, offset, limit int) ([]progression.Record, error)
}

// GetLeaderboardHandler handles GetLeaderboardQuery.
type GetLeaderboardHandler struct {
	reader  progression.LeaderboardReader
	cache   LeaderboardCache
	configs ConfigSource
	curves  *progression.Evaluator
	clock   timeutil.Clock
	log     *logger.Logger
}

// NewGetLeaderboardHandler creates the handler. cache may be nil.
func NewGetLeaderboardHandler(
	reader progression.LeaderboardReader,
	cache LeaderboardCache,
	configs ConfigSource,
	curves *progression.Evaluator,
	clock timeutil.Clock,
	log *logger.Logger,
) *GetLeaderboardHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	if curves == nil {
		curves = progression.NewEvaluator()
	}
	return &GetLeaderboardHandler{
		reader:  reader,
		cache:   cache,
		configs: configs,
		curves:  curves,
		clock:   clock,
		log:     log.WithComponent("get_leaderboard"),
	}
}

// Handle returns the requested page.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetLeaderboard", shared.ErrValidation, err.Error(), err)
	}
	page := shared.NewPagination(q.Page, q.PageSize)

	total, err := h.reader.CountMembers(ctx, q.GuildID)
	if err != nil {
		return nil, shared.Persistence("query", "GetLeaderboard", err)
	}

	records, fromCache := h.fromCache(ctx, q.GuildID, page)
	if !fromCache {
		records, err = h.reader.Leaderboard(ctx, q.GuildID, page)
		if err != nil {
			return nil, shared.Persistence("query", "GetLeaderboard", err)
		}
	}

	curve := h.curve(ctx, q.GuildID)
	entries := make([]LeaderboardEntryDTO, 0, len(records))
	for i, rec := range records {
		entries = append(entries, LeaderboardEntryDTO{
			Rank:    page.Offset() + i + 1,
			UserID:  rec.UserID.String(),
			Level:   rec.Level,
			XP:      rec.XP,
			TotalXP: rec.TotalXP(curve),
		})
	}

	return &GetLeaderboardResult{
		GuildID:     q.GuildID.String(),
		Entries:     entries,
		TotalCount:  total,
		Page:        page.Page,
		PageSize:    page.Limit(),
		HasMore:     page.Offset()+len(entries) < total,
		FromCache:   fromCache,
		GeneratedAt: h.clock.Now().UTC(),
	}, nil
}

func (h *GetLeaderboardHandler) fromCache(ctx context.Context, guildID shared.GuildID, page shared.Pagination) ([]progression.Record, bool) {
	if h.cache == nil {
		return nil, false
	}
	recs, err := h.cache.Top(ctx, guildID, page.Offset(), page.Limit())
	if err != nil {
		h.log.Warn("leaderboard cache read failed, using store",
			logger.GuildID(guildID.String()), zap.Error(err))
		return nil, false
	}
	return recs, len(recs) > 0
}

func (h *GetLeaderboardHandler) curve(ctx context.Context, guildID shared.GuildID) progression.Curve {
	if h.configs == nil {
		return progression.DefaultCurve()
	}
	curve, err := h.curves.CurveFor(h.configs.Load(ctx, guildID))
	if err != nil {
		h.log.Warn("level formula rejected, using default curve", zap.Error(err))
	}
	return curve
}
