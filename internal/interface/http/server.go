// Package http exposes the engine over a gin REST API: member queries, the
// daily claim, admin XP operations and, in the worker, scheduled job
// control, next to health and Prometheus endpoints.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/guildxp/guildxp/config"
	"github.com/guildxp/guildxp/internal/application/command"
	"github.com/guildxp/guildxp/internal/application/query"
	"github.com/guildxp/guildxp/internal/application/saga"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/infrastructure/metrics"
	"github.com/guildxp/guildxp/internal/infrastructure/scheduler"
	"github.com/guildxp/guildxp/internal/interface/http/handlers"
	"github.com/guildxp/guildxp/pkg/circuitbreaker"
	"github.com/guildxp/guildxp/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Engine is the part of application.Engine the API serves.
type Engine interface {
	Progress(ctx context.Context, userID shared.UserID, guildID shared.GuildID) (*query.ProgressDTO, error)
	Leaderboard(ctx context.Context, q query.GetLeaderboardQuery) (*query.GetLeaderboardResult, error)
	DailyStatus(ctx context.Context, userID shared.UserID, guildID shared.GuildID) (*query.DailyStatusDTO, error)
	ClaimDaily(ctx context.Context, userID shared.UserID, guildID shared.GuildID) (*command.ClaimDailyResult, error)

	GrantXP(ctx context.Context, cmd command.AdminXPCommand) (*command.AdminXPResult, error)
	SetXP(ctx context.Context, cmd command.AdminXPCommand) (*command.AdminXPResult, error)
	ResetXP(ctx context.Context, cmd command.AdminXPCommand) (*command.AdminXPResult, error)
	Debit(ctx context.Context, userID shared.UserID, guildID shared.GuildID, amount int64) (*command.DebitResult, error)
	GrantItem(ctx context.Context, userID shared.UserID, guildID shared.GuildID, itemID string, quantity int) error
	EvaluateAchievements(ctx context.Context, userID shared.UserID, guildID shared.GuildID) ([]saga.UnlockedAchievement, error)
}

// Jobs is the part of scheduler.Scheduler the admin API drives.
type Jobs interface {
	ListJobs() []scheduler.JobInfo
	RunNow(ctx context.Context, name string) (scheduler.JobResult, error)
}

// Dependencies wires the server. Engine and Jobs are optional: without
// Engine the member and admin XP routes are absent; without Jobs the job
// routes are.
type Dependencies struct {
	Engine  Engine
	Jobs    Jobs
	Health  *handlers.CompositeHealthChecker
	Metrics *metrics.Metrics
	Log     *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the gin HTTP server.
type Server struct {
	cfg        config.HTTPConfig
	deps       Dependencies
	router     *gin.Engine
	httpServer *http.Server
	log        *logger.Logger

	mu      sync.Mutex
	running bool
}

// NewServer builds the router. gin's mode is process-wide; cfg.Mode sets it.
func NewServer(cfg config.HTTPConfig, deps Dependencies) *Server {
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	if deps.Health == nil {
		deps.Health = handlers.NewCompositeHealthChecker("")
	}
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  deps.Log.WithComponent("http"),
	}
	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()

	level := zapcore.InfoLevel
	if lvl, err := logger.ParseLevel(s.cfg.RequestLogLevel); err == nil && s.cfg.RequestLogLevel != "" {
		level = lvl
	}
	r.Use(handlers.RequestID(), handlers.Recovery(s.deps.Log), handlers.RequestLogger(s.deps.Log, level))
	if s.deps.Metrics != nil {
		r.Use(s.deps.Metrics.GinMiddleware())
	}

	r.GET("/health", handlers.Live)
	r.GET("/ready", handlers.Ready(s.deps.Health))
	if s.deps.Metrics != nil && s.cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	v1 := r.Group("/api/v1", handlers.RateLimit(s.cfg.RateLimit, s.cfg.RateLimitWindow))
	if s.cfg.WriteTimeout > 0 {
		v1.Use(handlers.Timeout(s.cfg.WriteTimeout))
	}
	admin := v1.Group("/admin", handlers.AdminAuth(s.cfg.AdminToken))

	if s.deps.Engine != nil {
		member := v1.Group("/guilds/:guild")
		member.GET("/leaderboard", s.handleLeaderboard)
		member.GET("/users/:user/progress", s.handleProgress)
		member.GET("/users/:user/daily", s.handleDailyStatus)
		member.POST("/users/:user/daily/claim", s.handleClaimDaily)

		user := admin.Group("/guilds/:guild/users/:user")
		user.POST("/xp/grant", s.handleGrantXP)
		user.POST("/xp/set", s.handleSetXP)
		user.POST("/xp/reset", s.handleResetXP)
		user.POST("/coins/debit", s.handleDebit)
		user.POST("/items", s.handleGrantItem)
		user.POST("/achievements/evaluate", s.handleEvaluateAchievements)
	}
	if s.deps.Jobs != nil {
		admin.GET("/jobs", s.handleListJobs)
		admin.POST("/jobs/:name/run", s.handleRunJob)
	}
	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	s.log.Info("http server listening", zap.String("addr", s.cfg.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// StartAsync runs Start in a goroutine. The channel yields at most one
// error and is closed when the server stops.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.Start(); err != nil {
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.log.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the envelope of every API response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ResponseMeta carries paging information.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	TotalCount int       `json:"total_count,omitempty"`
	Page       int       `json:"page,omitempty"`
	PageSize   int       `json:"page_size,omitempty"`
	HasMore    bool      `json:"has_more,omitempty"`
}

func writeJSON(c *gin.Context, status int, data any) {
	writeJSONWithMeta(c, status, data, nil)
}

func writeJSONWithMeta(c *gin.Context, status int, data any, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	c.JSON(status, JSONResponse{
		Success:   true,
		Data:      data,
		Meta:      meta,
		RequestID: handlers.GetRequestID(c),
	})
}

func writeJSONError(c *gin.Context, status int, code, message string, details any) {
	c.AbortWithStatusJSON(status, JSONResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message, Details: details},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: handlers.GetRequestID(c),
	})
}

// writeError maps engine errors onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	var rejected *command.ClaimRejectedError
	switch {
	case errors.As(err, &rejected):
		writeJSONError(c, http.StatusConflict, "claim_rejected", "daily reward already claimed",
			gin.H{"next_claim_at": rejected.NextClaimAt})
	case shared.IsValidation(err):
		writeJSONError(c, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	case shared.IsNotFound(err):
		writeJSONError(c, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, circuitbreaker.ErrOpen), shared.IsPersistence(err), errors.Is(err, context.DeadlineExceeded):
		s.log.WithContext(c.Request.Context()).Warn("request failed on a dependency", zap.Error(err))
		writeJSONError(c, http.StatusServiceUnavailable, "unavailable", "a backing service is unavailable, retry later", nil)
	default:
		s.log.WithContext(c.Request.Context()).Error("request failed", zap.Error(err))
		writeJSONError(c, http.StatusInternalServerError, "internal_error", "an unexpected error occurred", nil)
	}
}
