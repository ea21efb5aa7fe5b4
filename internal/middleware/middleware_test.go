package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMiddleware_BasicMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()

	gin.SetMode(gin.TestMode)
	r := gin.New()

	promMw := NewPrometheusMiddleware("test", registry)
	r.Use(promMw.Handler())

	r.GET("/test", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})
	r.GET("/error", func(c *gin.Context) {
		c.JSON(500, gin.H{"error": "test error"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, 200, w.Code)

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/error", nil))
	assert.Equal(t, 500, w2.Code)

	metricFamilies, err := registry.Gather()
	require.NoError(t, err)

	var durationFound, errorsFound bool
	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "test_http_request_duration_seconds":
			durationFound = true
			assert.Equal(t, "Длительность HTTP-запросов.", mf.GetHelp())
			assert.Len(t, mf.Metric, 2, "два разных маршрута")
		case "test_http_request_errors_total":
			errorsFound = true
			require.Len(t, mf.Metric, 1)
			assert.Equal(t, float64(1), mf.Metric[0].GetCounter().GetValue())
		}
	}
	assert.True(t, durationFound, "нет метрики длительности")
	assert.True(t, errorsFound, "нет метрики ошибок")
}

func TestPrometheusMiddleware_InflightRequests(t *testing.T) {
	registry := prometheus.NewRegistry()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewPrometheusMiddleware("test", registry).Handler())

	entered := make(chan struct{})
	release := make(chan struct{})
	r.GET("/slow", func(c *gin.Context) {
		close(entered)
		<-release
		c.JSON(200, gin.H{"ok": true})
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/slow", nil))
	}()
	<-entered

	inflight := func() float64 {
		metricFamilies, err := registry.Gather()
		require.NoError(t, err)
		for _, mf := range metricFamilies {
			if mf.GetName() == "test_http_requests_inflight" {
				return mf.Metric[0].GetGauge().GetValue()
			}
		}
		t.Fatal("нет метрики inflight")
		return 0
	}

	assert.Equal(t, float64(1), inflight(), "один запрос в обработке")
	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("запрос не завершился")
	}
	assert.Equal(t, float64(0), inflight())
}

func TestPrometheusMiddleware_UnmatchedPaths(t *testing.T) {
	registry := prometheus.NewRegistry()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewPrometheusMiddleware("test", registry).Handler())

	for _, path := range []string{"/a", "/b", "/c"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	}

	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() == "test_http_request_errors_total" {
			require.Len(t, mf.Metric, 1, "неизвестные пути не плодят метки")
			assert.Equal(t, float64(3), mf.Metric[0].GetCounter().GetValue())
		}
	}
}

func TestRequestLogger_TraceID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRequestLogger().Handler())

	var capturedTraceID string
	r.GET("/test", func(c *gin.Context) {
		traceID, exists := c.Get(TraceIDKey)
		require.True(t, exists, "trace_id должен быть в контексте")
		capturedTraceID = traceID.(string)
		c.JSON(200, gin.H{"trace_id": capturedTraceID})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, 200, w.Code)
	assert.NotEmpty(t, capturedTraceID)
	assert.Equal(t, capturedTraceID, w.Header().Get("X-Trace-Id"))
	assert.Contains(t, w.Body.String(), capturedTraceID)
}

func TestPrometheusMiddleware_MetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()

	gin.SetMode(gin.TestMode)
	r := gin.New()

	promMw := NewPrometheusMiddleware("test", registry)
	r.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(r, registry)

	r.GET("/api/test", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/api/test", nil))
	assert.Equal(t, 200, w1.Code)

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, 200, w2.Code)
	assert.Contains(t, w2.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, w2.Body.String(), "test_http_request_duration_seconds")
}
