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

func newTestMetrics(t *testing.T) *PrometheusMetrics {
	t.Helper()
	cfg := DefaultPrometheusConfig()
	cfg.ProcessMetrics = false
	pm, err := NewPrometheusMetrics(cfg, nil)
	require.NoError(t, err)
	return pm
}

func TestTrainingObserver(t *testing.T) {
	pm := newTestMetrics(t)

	pm.ObserveEpoch("ltsf-linear", 1, 0.9, time.Millisecond)
	pm.ObserveEpoch("ltsf-linear", 2, 0.4, time.Millisecond)
	pm.ObserveFit("ltsf-linear", 2*time.Second, nil)
	pm.ObserveFit("tapnet-regressor", time.Second, errors.New("diverged"))
	pm.ObservePrediction("ltsf-linear", 12)

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.trainingEpochsTotal.WithLabelValues("ltsf-linear")))
	assert.Equal(t, 0.4, testutil.ToFloat64(pm.trainingLoss.WithLabelValues("ltsf-linear")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.fitsTotal.WithLabelValues("tapnet-regressor", "error")))
	assert.Equal(t, 12.0, testutil.ToFloat64(pm.predictionsTotal.WithLabelValues("ltsf-linear")))
	assert.Equal(t, 2, testutil.CollectAndCount(pm.fitDuration))
}

func TestHandlerExposesMetrics(t *testing.T) {
	pm := newTestMetrics(t)
	pm.RecordHTTPRequest(http.MethodGet, "/health", http.StatusOK, 5*time.Millisecond)
	pm.RecordStorageOperation("file", "save", nil)
	pm.ObserveEpoch("ltsf-dlinear", 1, 1.5, time.Millisecond)

	rec := httptest.NewRecorder()
	pm.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "tsforecast_training_epochs_total")
	assert.Contains(t, body, "tsforecast_training_loss")
	assert.Contains(t, body, `tsforecast_http_requests_total{method="GET",path="/health",status="200"} 1`)
	assert.Contains(t, body, "tsforecast_storage_operations_total")
}

func TestConstLabels(t *testing.T) {
	cfg := DefaultPrometheusConfig()
	cfg.ProcessMetrics = false
	cfg.Labels = map[string]string{"instance_role": "trainer"}
	pm, err := NewPrometheusMetrics(cfg, nil)
	require.NoError(t, err)

	pm.ObservePrediction("ltsf-nlinear", 1)
	rec := httptest.NewRecorder()
	pm.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `instance_role="trainer"`)
}
