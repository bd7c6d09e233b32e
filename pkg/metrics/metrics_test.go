package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.DocAnalyzed()
		m.TokensBuilt(3)
		m.SessionFlushed("ok")
		m.TreePublished("1", "2", 10)
		m.PostingBytes("write", 12)
		m.QueryExecuted("hit", time.Millisecond)
		m.CacheLookup(true)
	})
}

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.TokensBuilt(3)
	m.TokensBuilt(2)
	m.SessionFlushed("ok")
	m.CacheLookup(false)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.TokensBuiltTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionFlushesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CacheHitsTotal))
}

func TestMuxServesMetricsAndExtraRoutes(t *testing.T) {
	mux := Mux(map[string]http.Handler{
		"GET /health/live": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "promhttp_metric_handler_requests_total")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "/metrics\nGET /health/live\n", rec.Body.String())
}
