package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ResyncBatch("token", true, 3, 10)
	m.ProcessorOutcome("persisted")
	m.Activation("failed", 1)
	assert.Nil(t, m.Registry())
}

func TestResyncBatchCounters(t *testing.T) {
	m := New()
	m.ResyncBatch("address", false, 3, 0)
	m.ResyncBatch("address", false, 2, 0)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ResyncBatches.WithLabelValues("address", "false")))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.ResyncItems.WithLabelValues("address", "false")))
}

func TestServerEndpoints(t *testing.T) {
	m := New()
	m.ProcessorOutcome("persisted")
	healthy := true
	srv := NewServer(":0", m, func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("db down")
	}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "slpdex_processor_batches_total"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "db down")
}
