package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector("quire")
	c.VersionCaptured()
	c.VersionCaptured()
	c.SaveThrottled()
	c.Denied("share")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.VersionsCaptured))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SavesThrottled))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.AccessDenied.WithLabelValues("share")))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.VersionCaptured()
	c.ObserveHTTP("GET", "/", 200, time.Millisecond)
	c.SetBreakerState("backend", 2)
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("quire")
	c.ObserveHTTP(http.MethodGet, "/api/documents", http.StatusOK, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `quire_http_requests_total{method="GET",route="/api/documents",status="200"} 1`))
}
