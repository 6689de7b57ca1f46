// Package metrics exports engine, event bus, inbound dispatch, circuit
// breaker and HTTP statistics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guildxp/guildxp/internal/application/command"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/infrastructure/messaging"
	"github.com/guildxp/guildxp/internal/infrastructure/scheduler"
	"github.com/guildxp/guildxp/pkg/circuitbreaker"
)

const namespace = "guildxp"

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	awards        *prometheus.CounterVec
	xpAwarded     *prometheus.CounterVec
	spamFlags     *prometheus.CounterVec
	levelUps      prometheus.Counter
	dailyClaims   *prometheus.CounterVec
	opDuration    *prometheus.HistogramVec
	eventsPub     *prometheus.CounterVec
	eventHandlers *prometheus.HistogramVec
	inbound       *prometheus.HistogramVec
	breakerState  *prometheus.GaugeVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	jobRuns       *prometheus.HistogramVec
}

// New creates and registers every collector, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		awards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "awards_total",
			Help: "Message awards by outcome.",
		}, []string{"outcome"}),
		xpAwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "xp_awarded_total",
			Help: "XP credited by source.",
		}, []string{"source"}),
		spamFlags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "spam_flags_total",
			Help: "Spam heuristics that fired.",
		}, []string{"flag"}),
		levelUps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "level_ups_total",
			Help: "Level-up transitions.",
		}),
		dailyClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "daily_claims_total",
			Help: "Daily claims by result.",
		}, []string{"result"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "operation_duration_seconds",
			Help:    "Engine operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		eventsPub: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_published_total",
			Help: "Domain events published on the bus.",
		}, []string{"event_type"}),
		eventHandlers: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "event_handler_duration_seconds",
			Help:    "Event handler latency by result.",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type", "result"}),
		inbound: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "inbound_duration_seconds",
			Help:    "Inbound envelope handling latency by kind and result.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "result"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_breaker_state",
			Help: "0 closed, 1 open, 2 half-open.",
		}, []string{"breaker"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
		jobRuns: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_duration_seconds",
			Help:    "Scheduled job runs by result.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"job", "result"}),
	}

	m.registry.MustRegister(
		m.awards, m.xpAwarded, m.spamFlags, m.levelUps, m.dailyClaims, m.opDuration,
		m.eventsPub, m.eventHandlers, m.inbound, m.breakerState,
		m.httpRequests, m.httpDuration, m.jobRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

func (m *Metrics) AwardProcessed(outcome string) { m.awards.WithLabelValues(outcome).Inc() }

func (m *Metrics) XPAwarded(source string, amount int64) {
	if amount > 0 {
		m.xpAwarded.WithLabelValues(source).Add(float64(amount))
	}
}

func (m *Metrics) SpamFlagged(flag string) { m.spamFlags.WithLabelValues(flag).Inc() }

func (m *Metrics) LevelUp() { m.levelUps.Inc() }

func (m *Metrics) DailyClaim(accepted bool) {
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	m.dailyClaims.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveDuration(op string, d time.Duration) {
	m.opDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGING
// ══════════════════════════════════════════════════════════════════════════════

func (m *Metrics) EventPublished(eventType shared.EventType) {
	m.eventsPub.WithLabelValues(string(eventType)).Inc()
}

func (m *Metrics) HandlerFinished(eventType shared.EventType, d time.Duration, err error) {
	m.eventHandlers.WithLabelValues(string(eventType), result(err)).Observe(d.Seconds())
}

func (m *Metrics) InboundHandled(kind messaging.InboundKind, d time.Duration, err error) {
	m.inbound.WithLabelValues(string(kind), result(err)).Observe(d.Seconds())
}

// BreakerStateChanged is a circuitbreaker state-change callback.
func (m *Metrics) BreakerStateChanged(name string, _, to circuitbreaker.State) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
}

// JobFinished implements scheduler.Observer.
func (m *Metrics) JobFinished(job string, d time.Duration, err error) {
	m.jobRuns.WithLabelValues(job, result(err)).Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP
// ══════════════════════════════════════════════════════════════════════════════

// GinMiddleware records request counts and latency by matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

var (
	_ command.Metrics            = (*Metrics)(nil)
	_ messaging.BusObserver      = (*Metrics)(nil)
	_ messaging.DispatchObserver = (*Metrics)(nil)
	_ scheduler.Observer         = (*Metrics)(nil)
)
