package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.DocumentOp("knowledge", "add", nil)
		m.Search("vector", time.Now(), 3)
		m.Oracle("entities", time.Now(), errors.New("boom"))
		m.SetCrossSiloRefs(1)
		m.SetPatterns(1)
		m.AddQueued(1)
		m.HTTPRequest("/x", "GET", 200)
	})
}

func TestDocumentOpCounts(t *testing.T) {
	m := New()
	m.DocumentOp("knowledge", "add", nil)
	m.DocumentOp("knowledge", "add", nil)
	m.DocumentOp("knowledge", "add", errors.New("dup"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DocumentOps.WithLabelValues("knowledge", "add", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentOps.WithLabelValues("knowledge", "add", "error")))
}

func TestGauges(t *testing.T) {
	m := New()
	m.SetPatterns(4)
	m.AddQueued(3)
	m.AddQueued(-1)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PatternsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ExtractionQueued))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Search("cross_silo", time.Now(), 5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kura_search_duration_seconds")
	assert.Contains(t, rec.Body.String(), `kind="cross_silo"`)
}
