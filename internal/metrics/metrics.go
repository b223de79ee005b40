// Package metrics holds the Prometheus collectors shared across the
// engine's components, grounded on the promauto constructor pattern used
// for connection/message/latency metrics in the wider pack. Production
// code calls New(prometheus.DefaultRegisterer) so Handler's promhttp
// endpoint exposes them; tests pass a fresh prometheus.NewRegistry() to
// avoid cross-test collisions.
package metrics

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide collector set. All fields are safe for
// concurrent use; each is a prometheus.Collector registered with the
// registerer passed to New.
type Metrics struct {
	// Ingest batcher
	batchFlushesTotal   prometheus.Counter
	batchFlushSize      prometheus.Histogram
	batchFlushErrors    prometheus.Counter
	batchPendingGauge   prometheus.Gauge

	// Message router
	messagesRoutedTotal *prometheus.CounterVec
	routeErrorsTotal    *prometheus.CounterVec

	// History backfill
	backfillTasksActive  prometheus.Gauge
	backfillTasksDone    *prometheus.CounterVec
	backfillPagesFetched prometheus.Counter

	// Post tracker
	postResamplesTotal prometheus.Counter
	postResampleErrors prometheus.Counter

	// Shard / Controller RPC
	rpcRequestsTotal *prometheus.CounterVec
	rpcLatency       *prometheus.HistogramVec

	// Session pool
	sessionsBroken prometheus.Counter
	sessionsActive prometheus.Gauge
}

// New builds and registers a Metrics instance against reg. Passing nil
// builds the collectors without registering them anywhere.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		batchFlushesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxharbor_batch_flushes_total",
			Help: "Total number of ingest batcher flushes.",
		}),
		batchFlushSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxharbor_batch_flush_size",
			Help:    "Number of rows written per ingest batcher flush.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		batchFlushErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxharbor_batch_flush_errors_total",
			Help: "Total number of ingest batcher flushes that failed to write.",
		}),
		batchPendingGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxharbor_batch_pending_rows",
			Help: "Rows currently buffered awaiting the next flush.",
		}),

		messagesRoutedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxharbor_messages_routed_total",
			Help: "Total number of messages dispatched by the router, by kind.",
		}, []string{"kind"}),
		routeErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxharbor_route_errors_total",
			Help: "Total number of routing failures, by kind.",
		}, []string{"kind"}),

		backfillTasksActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxharbor_backfill_tasks_active",
			Help: "Number of backfill tasks currently running.",
		}),
		backfillTasksDone: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxharbor_backfill_tasks_done_total",
			Help: "Total number of backfill tasks completed, by direction and outcome.",
		}, []string{"direction", "outcome"}),
		backfillPagesFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxharbor_backfill_pages_fetched_total",
			Help: "Total number of history pages fetched across all backfill tasks.",
		}),

		postResamplesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxharbor_post_resamples_total",
			Help: "Total number of post reaction resample passes run.",
		}),
		postResampleErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxharbor_post_resample_errors_total",
			Help: "Total number of post reaction resample passes that failed.",
		}),

		rpcRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxharbor_rpc_requests_total",
			Help: "Total number of shard/controller RPC requests handled, by route and status.",
		}, []string{"route", "status"}),
		rpcLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voxharbor_rpc_request_duration_seconds",
			Help:    "Shard/controller RPC handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		sessionsBroken: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxharbor_sessions_broken_total",
			Help: "Total number of sessions marked broken.",
		}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxharbor_sessions_active",
			Help: "Number of sessions currently held by the pool.",
		}),
	}
}

// ObserveBatchFlush records one ingest batcher flush.
func (m *Metrics) ObserveBatchFlush(rows int, err error) {
	m.batchFlushesTotal.Inc()
	m.batchFlushSize.Observe(float64(rows))
	if err != nil {
		m.batchFlushErrors.Inc()
	}
}

// SetBatchPending reports the current buffered row count.
func (m *Metrics) SetBatchPending(n int) {
	m.batchPendingGauge.Set(float64(n))
}

// ObserveRouted records one routed message of the given kind.
func (m *Metrics) ObserveRouted(kind string, err error) {
	m.messagesRoutedTotal.WithLabelValues(kind).Inc()
	if err != nil {
		m.routeErrorsTotal.WithLabelValues(kind).Inc()
	}
}

// SetBackfillTasksActive reports the current number of running tasks.
func (m *Metrics) SetBackfillTasksActive(n int) {
	m.backfillTasksActive.Set(float64(n))
}

// ObserveBackfillTaskDone records a completed backfill task.
func (m *Metrics) ObserveBackfillTaskDone(direction, outcome string) {
	m.backfillTasksDone.WithLabelValues(direction, outcome).Inc()
}

// ObserveBackfillPage records one fetched history page.
func (m *Metrics) ObserveBackfillPage() {
	m.backfillPagesFetched.Inc()
}

// ObservePostResample records one reaction resample pass.
func (m *Metrics) ObservePostResample(err error) {
	m.postResamplesTotal.Inc()
	if err != nil {
		m.postResampleErrors.Inc()
	}
}

// ObserveRPC records one handled RPC request.
func (m *Metrics) ObserveRPC(route, status string, seconds float64) {
	m.rpcRequestsTotal.WithLabelValues(route, status).Inc()
	m.rpcLatency.WithLabelValues(route).Observe(seconds)
}

// ObserveSessionBroken records a session being marked broken.
func (m *Metrics) ObserveSessionBroken() {
	m.sessionsBroken.Inc()
}

// SetSessionsActive reports the current pool size.
func (m *Metrics) SetSessionsActive(n int) {
	m.sessionsActive.Set(float64(n))
}

// Middleware returns an echo.MiddlewareFunc that records request counts and
// latency for every route under the given RPC surface name.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
	start := time.Now()
			err := next(c)
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := c.Response().Status
			m.ObserveRPC(route, statusClass(status), time.Since(start).Seconds())
			return err
		}
	}
}

// Handler exposes the default registry in the Prometheus exposition format,
// mountable directly on an echo instance via e.GET("/metrics", ...).
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
