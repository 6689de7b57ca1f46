package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildxp/guildxp/config"
	"github.com/guildxp/guildxp/internal/application"
	"github.com/guildxp/guildxp/internal/infrastructure/metrics"
	"github.com/guildxp/guildxp/internal/infrastructure/persistence/memory"
	"github.com/guildxp/guildxp/internal/infrastructure/scheduler"
	"github.com/guildxp/guildxp/internal/interface/http/handlers"
	"github.com/guildxp/guildxp/pkg/timeutil"
)

const adminToken = "s3cret"

var t0 = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

func testConfig() config.HTTPConfig {
	return config.HTTPConfig{Mode: "test", AdminToken: adminToken, MetricsEnabled: true}
}

func newTestServer(t *testing.T, cfg config.HTTPConfig, deps Dependencies) http.Handler {
	t.Helper()
	if deps.Engine == nil {
		e, err := application.New(application.Options{
			Store:    memory.NewStore(),
			Clock:    timeutil.FixedClock{T: t0},
			Calendar: timeutil.UTC,
		})
		require.NoError(t, err)
		deps.Engine = e
	}
	return NewServer(cfg, deps).Handler()
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	} `json:"error"`
	Meta      *ResponseMeta `json:"meta"`
	RequestID string        `json:"request_id"`
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func bearer() []string { return []string{"Authorization", "Bearer " + adminToken} }

func TestHealthAndReadiness(t *testing.T) {
	health := handlers.NewCompositeHealthChecker("test")
	health.AddCheck("postgres", func(context.Context) error { return nil })
	h := newTestServer(t, testConfig(), Dependencies{Health: health})

	w, _ := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(handlers.HeaderRequestID))

	w, _ = do(t, h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)

	health.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	w, _ = do(t, h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "failing: redis")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, testConfig(), Dependencies{Metrics: metrics.New()})

	do(t, h, http.MethodGet, "/health", "")
	w, _ := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `guildxp_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestAdminXP_FlowAndQueries(t *testing.T) {
	h := newTestServer(t, testConfig(), Dependencies{})

	w, env := do(t, h, http.MethodGet, "/api/v1/guilds/g1/users/u1/progress", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", env.Error.Code)

	w, _ = do(t, h, http.MethodPost, "/api/v1/admin/guilds/g1/users/u1/xp/set", `{"amount":250}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env = do(t, h, http.MethodPost, "/api/v1/admin/guilds/g1/users/u1/xp/set", `{"amount":250}`, bearer()...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res adminXPResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 2, res.NewLevel)
	assert.Equal(t, int64(150), res.XP)

	w, env = do(t, h, http.MethodPost, "/api/v1/admin/guilds/g1/users/u1/xp/grant", `{"amount":-5}`, "X-Admin-Token", adminToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", env.Error.Code)

	w, _ = do(t, h, http.MethodPost, "/api/v1/admin/guilds/g1/users/u1/xp/grant", `not json`, bearer()...)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = do(t, h, http.MethodPost, "/api/v1/admin/guilds/g1/users/u1/xp/grant", `{"amount":9223372036854775807}`, bearer()...)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", env.Error.Code)

	w, env = do(t, h, http.MethodGet, "/api/v1/guilds/g1/users/u1/progress", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"level":2`)

	w, env = do(t, h, http.MethodGet, "/api/v1/guilds/g1/leaderboard?page=1&page_size=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 1, env.Meta.TotalCount)

	w, _ = do(t, h, http.MethodGet, "/api/v1/guilds/g1/leaderboard?page=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = do(t, h, http.MethodPost, "/api/v1/admin/guilds/g1/users/u1/xp/reset", "", bearer()...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 1, res.NewLevel)
	assert.Zero(t, res.XP)
}

func TestClaimDaily_RejectsSecondClaim(t *testing.T) {
	h := newTestServer(t, testConfig(), Dependencies{})

	w, env := do(t, h, http.MethodPost, "/api/v1/guilds/g1/users/u1/daily/claim", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var claim claimResponse
	require.NoError(t, json.Unmarshal(env.Data, &claim))
	assert.Equal(t, 1, claim.Streak)
	assert.Positive(t, claim.Balance)

	w, env = do(t, h, http.MethodPost, "/api/v1/guilds/g1/users/u1/daily/claim", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "claim_rejected", env.Error.Code)
	assert.Equal(t, t0.Add(24*time.Hour).Format(time.RFC3339), env.Error.Details["next_claim_at"])

	w, env = do(t, h, http.MethodGet, "/api/v1/guilds/g1/users/u1/daily", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"can_claim":false`)
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	cfg := testConfig()
	cfg.AdminToken = ""
	h := newTestServer(t, cfg, Dependencies{})

	w, env := do(t, h, http.MethodPost, "/api/v1/admin/guilds/g1/users/u1/xp/reset", "", "Authorization", "Bearer ")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "admin_disabled", env.Error.Code)
}

type fakeJobs struct{ ran []string }

func (f *fakeJobs) ListJobs() []scheduler.JobInfo {
	return []scheduler.JobInfo{{Name: "close_stale_voice", Enabled: true, Schedule: "@every 5m0s"}}
}

func (f *fakeJobs) RunNow(_ context.Context, name string) (scheduler.JobResult, error) {
	if name != "close_stale_voice" {
		return scheduler.JobResult{}, scheduler.ErrJobNotFound
	}
	f.ran = append(f.ran, name)
	return scheduler.JobResult{JobName: name, Duration: time.Millisecond}, nil
}

func TestJobEndpoints(t *testing.T) {
	jobs := &fakeJobs{}
	h := newTestServer(t, testConfig(), Dependencies{Jobs: jobs})

	w, env := do(t, h, http.MethodGet, "/api/v1/admin/jobs", "", bearer()...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"name":"close_stale_voice"`)

	w, _ = do(t, h, http.MethodPost, "/api/v1/admin/jobs/close_stale_voice/run", "", bearer()...)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"close_stale_voice"}, jobs.ran)

	w, _ = do(t, h, http.MethodPost, "/api/v1/admin/jobs/nope/run", "", bearer()...)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// panicEngine leaves every method unimplemented.
type panicEngine struct{ Engine }

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	h := newTestServer(t, testConfig(), Dependencies{Engine: panicEngine{}})

	w, env := do(t, h, http.MethodGet, "/api/v1/guilds/g1/users/u1/progress", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "internal_error", env.Error.Code)
}
