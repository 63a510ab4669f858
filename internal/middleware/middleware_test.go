package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-terrain/internal/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func gather(t *testing.T, reg *prometheus.Registry) map[string]int {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]int)
	for _, mf := range families {
		out[mf.GetName()] = len(mf.GetMetric())
	}
	return out
}

func TestPrometheusMiddleware_BasicMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	r := gin.New()
	promMw := NewPrometheusMiddleware("test", registry)
	r.Use(promMw.Handler())

	r.GET("/voxel", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })
	r.GET("/error", func(c *gin.Context) { c.JSON(500, gin.H{"error": "test error"}) })

	for _, path := range []string{"/voxel", "/error"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	families, err := registry.Gather()
	require.NoError(t, err)

	var durationFound, errorsFound bool
	for _, mf := range families {
		switch mf.GetName() {
		case "test_http_request_duration_seconds":
			durationFound = true
			assert.Equal(t, "Длительность HTTP-запросов.", mf.GetHelp())
			assert.Len(t, mf.GetMetric(), 2)
		case "test_http_request_errors_total":
			errorsFound = true
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, float64(1), mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, durationFound, "Duration metric not found")
	assert.True(t, errorsFound, "Errors metric not found")
}

func TestPrometheusMiddleware_UnmatchedPaths(t *testing.T) {
	registry := prometheus.NewRegistry()
	r := gin.New()
	r.Use(NewPrometheusMiddleware("test", registry).Handler())

	// Разные несуществующие пути сводятся к одной серии
	for _, path := range []string{"/a", "/b", "/c/d"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	}

	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "test_http_request_errors_total" {
			continue
		}
		require.Len(t, mf.GetMetric(), 1)
		m := mf.GetMetric()[0]
		assert.Equal(t, float64(3), m.GetCounter().GetValue())
		for _, l := range m.GetLabel() {
			if l.GetName() == "path" {
				assert.Equal(t, "unmatched", l.GetValue())
			}
		}
		return
	}
	t.Fatal("errors metric not found")
}

func TestPrometheusMiddleware_InflightRequests(t *testing.T) {
	registry := prometheus.NewRegistry()
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

	inflight := func() float64 {
		families, err := registry.Gather()
		require.NoError(t, err)
		for _, mf := range families {
			if mf.GetName() == "test_http_requests_inflight" {
				return mf.GetMetric()[0].GetGauge().GetValue()
			}
		}
		t.Fatal("inflight metric not found")
		return 0
	}

	<-entered
	assert.Equal(t, float64(1), inflight())
	close(release)
	<-done
	assert.Equal(t, float64(0), inflight())
}

func TestPrometheusMiddleware_MetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	r := gin.New()
	promMw := NewPrometheusMiddleware("test", registry)
	r.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(r)
	r.GET("/ping", func(c *gin.Context) { c.String(200, "pong") })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `test_http_request_duration_seconds_count{method="GET",path="/ping",status="200"} 1`)
}

func TestRequestLogger_TraceID(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(NewRequestLogger(logging.NewConsoleLogger("api", &buf, logging.DEBUG)).Handler())

	var captured string
	r.GET("/test", func(c *gin.Context) {
		traceID, exists := c.Get("trace_id")
		require.True(t, exists, "trace_id should be set in context")
		captured = traceID.(string)
		c.JSON(200, gin.H{"trace_id": captured})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, 200, w.Code)
	assert.NotEmpty(t, captured)
	assert.Equal(t, captured, w.Header().Get(RequestIDHeader))
	assert.Contains(t, w.Body.String(), captured)
}

func TestRequestLogger_ClientRequestID(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(NewRequestLogger(logging.NewConsoleLogger("api", &buf, logging.DEBUG)).Handler())
	r.GET("/test", func(c *gin.Context) { c.Status(204) })

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "client-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "client-42", w.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), "[DEBUG] [api] [HTTP] ▶ GET /test")
	assert.Contains(t, buf.String(), "[INFO] [api] [HTTP] ◀ GET /test 204")
	assert.Contains(t, buf.String(), "trace=client-42")
}

func TestRequestLogger_ErrorsAreWarnings(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(NewRequestLogger(logging.NewConsoleLogger("api", &buf, logging.INFO)).Handler())
	r.GET("/fail", func(c *gin.Context) {
		_ = c.Error(assert.AnError)
		c.Status(500)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))

	assert.Contains(t, buf.String(), "[WARN] [api] [HTTP] ◀ GET /fail 500")
	assert.Contains(t, buf.String(), assert.AnError.Error())
	assert.NotContains(t, buf.String(), "[DEBUG]")
}

func TestMiddleware_Integration(t *testing.T) {
	registry := prometheus.NewRegistry()
	r := gin.New()
	r.Use(NewRequestLogger(logging.NewConsoleLogger("api", &bytes.Buffer{}, logging.ERROR)).Handler())
	r.Use(NewPrometheusMiddleware("integration_test", registry).Handler())

	r.GET("/api/voxel", func(c *gin.Context) {
		time.Sleep(time.Millisecond)
		traceID, _ := c.Get("trace_id")
		c.JSON(200, gin.H{"status": "ok", "trace_id": traceID})
	})

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/voxel", nil))
		assert.Equal(t, 200, w.Code)
	}

	series := gather(t, registry)
	assert.Equal(t, 1, series["integration_test_http_request_duration_seconds"])
	assert.Equal(t, 1, series["integration_test_http_requests_inflight"])
	assert.NotContains(t, series, "integration_test_http_request_errors_total")
}
