package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the control plane.
type Metrics struct {
	UsageEventsIngested  *prometheus.CounterVec
	LedgerEntriesWritten *prometheus.CounterVec
	WebhookEvents        *prometheus.CounterVec
	OverageFeesRecorded  prometheus.Counter
	EntitlementDecisions *prometheus.CounterVec
	PermissionCacheHits  *prometheus.CounterVec

	httpDuration *prometheus.HistogramVec
}

// New registers the collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		UsageEventsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratus",
			Subsystem: "usage",
			Name:      "events_ingested_total",
			Help:      "Usage events accepted, by outcome (inserted, duplicate).",
		}, []string{"outcome"}),
		LedgerEntriesWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratus",
			Subsystem: "ledger",
			Name:      "entries_written_total",
			Help:      "Credit ledger entries written, by reason.",
		}, []string{"reason"}),
		WebhookEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratus",
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Webhook events received, by provider, type and outcome.",
		}, []string{"provider", "type", "outcome"}),
		OverageFeesRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "stratus",
			Subsystem: "billing",
			Name:      "overage_fees_recorded_total",
			Help:      "Overage fee line items recorded at period close.",
		}),
		EntitlementDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratus",
			Subsystem: "entitlement",
			Name:      "decisions_total",
			Help:      "Entitlement decisions, by feature and outcome.",
		}, []string{"feature", "outcome"}),
		PermissionCacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratus",
			Subsystem: "iam",
			Name:      "permission_cache_total",
			Help:      "Permission cache lookups, by result (hit, miss).",
		}, []string{"result"}),
		httpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stratus",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route, method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

// GinMiddleware records the request duration histogram.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpDuration.WithLabelValues(
			route,
			c.Request.Method,
			strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry for scraping.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
