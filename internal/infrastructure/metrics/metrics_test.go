package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildxp/guildxp/internal/application/command"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/infrastructure/messaging"
	"github.com/guildxp/guildxp/pkg/circuitbreaker"
)

func TestEngineCounters(t *testing.T) {
	m := New()
	m.AwardProcessed(command.OutcomeAwarded)
	m.AwardProcessed(command.OutcomeAwarded)
	m.AwardProcessed(command.OutcomeSkipped)
	m.XPAwarded("message", 20)
	m.XPAwarded("message", 0)
	m.SpamFlagged("repeated")
	m.LevelUp()
	m.DailyClaim(true)
	m.DailyClaim(false)
	m.ObserveDuration("award", 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.awards.WithLabelValues(command.OutcomeAwarded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.awards.WithLabelValues(command.OutcomeSkipped)))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.xpAwarded.WithLabelValues("message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.spamFlags.WithLabelValues("repeated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.levelUps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dailyClaims.WithLabelValues("rejected")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.opDuration))
}

func TestMessagingObservers(t *testing.T) {
	m := New()
	m.EventPublished(shared.EventLevelUp)
	m.HandlerFinished(shared.EventLevelUp, time.Millisecond, nil)
	m.HandlerFinished(shared.EventLevelUp, time.Millisecond, errors.New("x"))
	m.InboundHandled(messaging.InboundMessage, time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsPub.WithLabelValues(string(shared.EventLevelUp))))
	assert.Equal(t, 2, testutil.CollectAndCount(m.eventHandlers))
	assert.Equal(t, 1, testutil.CollectAndCount(m.inbound))

	m.BreakerStateChanged("ranking-cache", circuitbreaker.StateClosed, circuitbreaker.StateOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerState.WithLabelValues("ranking-cache")))

	m.JobFinished("rebuild_leaderboard", time.Second, nil)
	m.JobFinished("rebuild_leaderboard", time.Second, errors.New("redis down"))
	assert.Equal(t, 2, testutil.CollectAndCount(m.jobRuns))
}

func TestGinMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/ping", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "404")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "guildxp_http_requests_total")
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
