package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *Metrics {
	return New(prometheus.NewRegistry())
}

func TestObserveBatchFlushIncrementsCountersAndHistogram(t *testing.T) {
	m := newTestMetrics()
	m.ObserveBatchFlush(10, nil)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.batchFlushesTotal))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.batchFlushErrors))

	m.ObserveBatchFlush(5, assert.AnError)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.batchFlushErrors))
}

func TestObserveRoutedTracksKindAndErrors(t *testing.T) {
	m := newTestMetrics()
	m.ObserveRouted("message", nil)
	m.ObserveRouted("message", assert.AnError)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.messagesRoutedTotal.WithLabelValues("message")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.routeErrorsTotal.WithLabelValues("message")))
}

func TestStatusClassBuckets(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(200))
	assert.Equal(t, "4xx", statusClass(404))
	assert.Equal(t, "5xx", statusClass(500))
	assert.Equal(t, "other", statusClass(0))
}

func TestMiddlewareRecordsRequest(t *testing.T) {
	m := newTestMetrics()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.rpcRequestsTotal.WithLabelValues("/ping", "2xx")))
}

func TestHandlerExposesMetricsEndpoint(t *testing.T) {
	e := echo.New()
	e.GET("/metrics", Handler())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
