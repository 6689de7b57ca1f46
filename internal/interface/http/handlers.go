package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/guildxp/guildxp/internal/application/command"
	"github.com/guildxp/guildxp/internal/application/query"
	"github.com/guildxp/guildxp/internal/application/saga"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/infrastructure/scheduler"
)

// ══════════════════════════════════════════════════════════════════════════════
// MEMBER ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

func pathKey(c *gin.Context) (shared.UserID, shared.GuildID) {
	return shared.UserID(c.Param("user")), shared.GuildID(c.Param("guild"))
}

// GET /api/v1/guilds/:guild/leaderboard?page=&page_size=
func (s *Server) handleLeaderboard(c *gin.Context) {
	page, ok := queryInt(c, "page", 1)
	if !ok {
		return
	}
	size, ok := queryInt(c, "page_size", shared.DefaultPageSize)
	if !ok {
		return
	}

	res, err := s.deps.Engine.Leaderboard(c.Request.Context(), query.GetLeaderboardQuery{
		GuildID:  shared.GuildID(c.Param("guild")),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	writeJSONWithMeta(c, http.StatusOK, res, &ResponseMeta{
		TotalCount: res.TotalCount,
		Page:       res.Page,
		PageSize:   res.PageSize,
		HasMore:    res.HasMore,
	})
}

// GET /api/v1/guilds/:guild/users/:user/progress
func (s *Server) handleProgress(c *gin.Context) {
	user, guild := pathKey(c)
	dto, err := s.deps.Engine.Progress(c.Request.Context(), user, guild)
	if err != nil {
		s.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, dto)
}

// GET /api/v1/guilds/:guild/users/:user/daily
func (s *Server) handleDailyStatus(c *gin.Context) {
	user, guild := pathKey(c)
	dto, err := s.deps.Engine.DailyStatus(c.Request.Context(), user, guild)
	if err != nil {
		s.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, dto)
}

type claimResponse struct {
	Coins       int64         `json:"coins"`
	Bonus       int64         `json:"bonus"`
	Streak      int           `json:"streak"`
	BestStreak  int           `json:"best_streak"`
	NextClaimAt time.Time     `json:"next_claim_at"`
	Balance     int64         `json:"balance"`
	Unlocked    []unlockedDTO `json:"unlocked,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
}

// POST /api/v1/guilds/:guild/users/:user/daily/claim
func (s *Server) handleClaimDaily(c *gin.Context) {
	user, guild := pathKey(c)
	res, err := s.deps.Engine.ClaimDaily(c.Request.Context(), user, guild)
	if err != nil {
		s.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, claimResponse{
		Coins:       res.Coins,
		Bonus:       res.Bonus,
		Streak:      res.Streak,
		BestStreak:  res.BestStreak,
		NextClaimAt: res.NextClaimAt,
		Balance:     res.Balance,
		Unlocked:    toUnlockedDTOs(res.Unlocked),
		Warnings:    warnings(res.PartialReward, res.FollowUpErr),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

type xpRequest struct {
	Amount int64  `json:"amount"`
	Actor  string `json:"actor"`
}

type adminXPResponse struct {
	OldLevel  int           `json:"old_level"`
	NewLevel  int           `json:"new_level"`
	XP        int64         `json:"xp"`
	LeveledUp bool          `json:"leveled_up"`
	Unlocked  []unlockedDTO `json:"unlocked,omitempty"`
	Warnings  []string      `json:"warnings,omitempty"`
}

type adminXPFunc func(*gin.Context, command.AdminXPCommand) (*command.AdminXPResult, error)

// adminXP runs one of grant, set or reset. needsAmount is false for reset,
// whose body may be empty.
func (s *Server) adminXP(c *gin.Context, op string, needsAmount bool, fn adminXPFunc) {
	var req xpRequest
	if needsAmount || c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSONError(c, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
	}
	user, guild := pathKey(c)
	actor := req.Actor
	if actor == "" {
		actor = c.GetHeader("X-Actor")
	}
	if actor == "" {
		actor = "admin-api"
	}

	res, err := fn(c, command.AdminXPCommand{UserID: user, GuildID: guild, Amount: req.Amount, Actor: actor})
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.log.WithContext(c.Request.Context()).Info("admin xp operation",
		zap.String("op", op), zap.String("actor", actor),
		zap.String("user_id", user.String()), zap.String("guild_id", guild.String()),
		zap.Int64("amount", req.Amount), zap.Int("new_level", res.NewLevel))

	writeJSON(c, http.StatusOK, adminXPResponse{
		OldLevel:  res.OldLevel,
		NewLevel:  res.NewLevel,
		XP:        res.XP,
		LeveledUp: res.LeveledUp,
		Unlocked:  toUnlockedDTOs(res.Unlocked),
		Warnings:  warnings(res.PartialReward, res.FollowUpErr),
	})
}

// POST /api/v1/admin/guilds/:guild/users/:user/xp/grant {"amount": n}
func (s *Server) handleGrantXP(c *gin.Context) {
	s.adminXP(c, "grant", true, func(c *gin.Context, cmd command.AdminXPCommand) (*command.AdminXPResult, error) {
		return s.deps.Engine.GrantXP(c.Request.Context(), cmd)
	})
}

// POST /api/v1/admin/guilds/:guild/users/:user/xp/set {"amount": total}
func (s *Server) handleSetXP(c *gin.Context) {
	s.adminXP(c, "set", true, func(c *gin.Context, cmd command.AdminXPCommand) (*command.AdminXPResult, error) {
		return s.deps.Engine.SetXP(c.Request.Context(), cmd)
	})
}

// POST /api/v1/admin/guilds/:guild/users/:user/xp/reset
func (s *Server) handleResetXP(c *gin.Context) {
	s.adminXP(c, "reset", false, func(c *gin.Context, cmd command.AdminXPCommand) (*command.AdminXPResult, error) {
		return s.deps.Engine.ResetXP(c.Request.Context(), cmd)
	})
}

// POST /api/v1/admin/guilds/:guild/users/:user/coins/debit {"amount": n}
func (s *Server) handleDebit(c *gin.Context) {
	var req struct {
		Amount int64 `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSONError(c, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	user, guild := pathKey(c)
	res, err := s.deps.Engine.Debit(c.Request.Context(), user, guild, req.Amount)
	if err != nil {
		s.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"requested": res.Requested,
		"debited":   res.Debited,
		"balance":   res.Balance,
	})
}

// POST /api/v1/admin/guilds/:guild/users/:user/items {"item_id": "...", "quantity": n}
func (s *Server) handleGrantItem(c *gin.Context) {
	var req struct {
		ItemID   string `json:"item_id" binding:"required"`
		Quantity int    `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSONError(c, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	user, guild := pathKey(c)
	if err := s.deps.Engine.GrantItem(c.Request.Context(), user, guild, req.ItemID, req.Quantity); err != nil {
		s.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"item_id": req.ItemID, "granted": req.Quantity})
}

// POST /api/v1/admin/guilds/:guild/users/:user/achievements/evaluate
func (s *Server) handleEvaluateAchievements(c *gin.Context) {
	user, guild := pathKey(c)
	unlocked, err := s.deps.Engine.EvaluateAchievements(c.Request.Context(), user, guild)
	if err != nil && len(unlocked) == 0 {
		s.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"unlocked": toUnlockedDTOs(unlocked),
		"warnings": warnings(err),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// JOB ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

// GET /api/v1/admin/jobs
func (s *Server) handleListJobs(c *gin.Context) {
	writeJSON(c, http.StatusOK, s.deps.Jobs.ListJobs())
}

// POST /api/v1/admin/jobs/:name/run
func (s *Server) handleRunJob(c *gin.Context) {
	res, err := s.deps.Jobs.RunNow(c.Request.Context(), c.Param("name"))
	body := gin.H{
		"job":      res.JobName,
		"duration": res.Duration.String(),
		"success":  res.Success(),
	}
	switch {
	case err == nil:
		writeJSON(c, http.StatusOK, body)
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeJSONError(c, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, scheduler.ErrJobBusy):
		writeJSONError(c, http.StatusConflict, "job_busy", err.Error(), nil)
	default:
		body["error"] = err.Error()
		writeJSONError(c, http.StatusBadGateway, "job_failed", "job run failed", body)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

type unlockedDTO struct {
	AchievementID string    `json:"achievement_id"`
	Name          string    `json:"name"`
	RewardCoins   int64     `json:"reward_coins"`
	RewardXP      int64     `json:"reward_xp"`
	UnlockedAt    time.Time `json:"unlocked_at"`
}

func toUnlockedDTOs(in []saga.UnlockedAchievement) []unlockedDTO {
	if len(in) == 0 {
		return nil
	}
	out := make([]unlockedDTO, 0, len(in))
	for _, u := range in {
		out = append(out, unlockedDTO{
			AchievementID: u.Definition.AchievementID,
			Name:          u.Definition.Name,
			RewardCoins:   u.Definition.RewardCoins,
			RewardXP:      u.Definition.RewardXP,
			UnlockedAt:    u.UnlockedAt,
		})
	}
	return out
}

// warnings lists the non-nil errors of a request that still succeeded.
func warnings(errs ...error) []string {
	var out []string
	for _, err := range errs {
		if err != nil {
			out = append(out, err.Error())
		}
	}
	return out
}

// queryInt parses an optional integer query parameter. On a malformed
// value it writes a 400 and reports false.
func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeJSONError(c, http.StatusBadRequest, "invalid_query", key+" must be an integer", nil)
		return 0, false
	}
	return v, true
}
