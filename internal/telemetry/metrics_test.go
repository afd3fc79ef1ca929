package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHTTPRequest(t *testing.T) {
	m := NewMetrics()
	m.RecordHTTPRequest("GET", "/api/v1/indexes", "200", 0.002)
	m.RecordHTTPRequest("GET", "/api/v1/indexes", "200", 0.004)
	m.RecordHTTPRequest("POST", "/api/v1/indexes", "409", 0.001)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestCounter.WithLabelValues("GET", "/api/v1/indexes", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestCounter.WithLabelValues("POST", "/api/v1/indexes", "409")))
}

func TestRecordSearch(t *testing.T) {
	m := NewMetrics()
	m.RecordSearch("semantic", "success", 0.01)
	m.RecordSearch("semantic", "success", 0.02)
	m.RecordSearch("grep", "error", 0.001)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SearchCounter.WithLabelValues("semantic", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchCounter.WithLabelValues("grep", "error")))
}

func TestRecordIngest(t *testing.T) {
	m := NewMetrics()
	m.RecordIngest("docs", 3, 12)
	m.RecordIngest("docs", 1, 2)
	m.RecordIngest("docs", 0, 0)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.DocumentsIngested.WithLabelValues("docs")))
	assert.Equal(t, 14.0, testutil.ToFloat64(m.ChunksIngested.WithLabelValues("docs")))
}

func TestRecordRebuild(t *testing.T) {
	m := NewMetrics()
	m.RecordRebuild("docs", "success", 1.5)
	m.RecordRebuild("docs", "skipped", 0.001)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RebuildCounter.WithLabelValues("docs", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RebuildCounter.WithLabelValues("docs", "skipped")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.RecordSearch("hybrid", "success", 0.05)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "lodestone_searches_total"))
	assert.True(t, strings.Contains(body, `mode="hybrid"`))
}

func TestIndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.RecordSearch("semantic", "success", 0.01)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.SearchCounter.WithLabelValues("semantic", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.SearchCounter.WithLabelValues("semantic", "success")))
}
