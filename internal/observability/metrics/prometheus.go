// Package metrics exports training, prediction and HTTP metrics to
// Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/interfaces"
)

// PrometheusConfig configures Prometheus metrics
type PrometheusConfig struct {
	Enabled        bool              `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	Path           string            `json:"path" mapstructure:"path" yaml:"path"`
	Namespace      string            `json:"namespace" mapstructure:"namespace" yaml:"namespace"`
	Subsystem      string            `json:"subsystem" mapstructure:"subsystem" yaml:"subsystem"`
	ProcessMetrics bool              `json:"process_metrics" mapstructure:"process_metrics" yaml:"process_metrics"`
	Labels         map[string]string `json:"labels" mapstructure:"labels" yaml:"labels"`
}

// DefaultPrometheusConfig serves tsforecast_* metrics on /metrics
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Enabled:        true,
		Path:           "/metrics",
		Namespace:      "tsforecast",
		ProcessMetrics: true,
	}
}

// PrometheusMetrics collects estimator and API metrics in its own registry.
// It implements interfaces.TrainingObserver.
type PrometheusMetrics struct {
	logger   *logrus.Logger
	registry *prometheus.Registry
	config   *PrometheusConfig

	trainingEpochsTotal *prometheus.CounterVec
	trainingLoss        *prometheus.GaugeVec
	fitDuration         *prometheus.HistogramVec
	fitsTotal           *prometheus.CounterVec
	predictionsTotal    *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	storageOperationsTotal *prometheus.CounterVec
}

var _ interfaces.TrainingObserver = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new Prometheus metrics instance
func NewPrometheusMetrics(config *PrometheusConfig, logger *logrus.Logger) (*PrometheusMetrics, error) {
	if config == nil {
		config = DefaultPrometheusConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	pm := &PrometheusMetrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		config:   config,
	}
	pm.initializeMetrics()
	if err := pm.registerMetrics(); err != nil {
		return nil, err
	}
	return pm, nil
}

// Registry exposes the underlying registry, mainly for tests
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// Path is the route the handler should be mounted on
func (pm *PrometheusMetrics) Path() string {
	return pm.config.Path
}

// Handler serves the registry in the Prometheus exposition format
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ObserveEpoch records one completed training epoch
func (pm *PrometheusMetrics) ObserveEpoch(estimator string, epoch int, loss float64, duration time.Duration) {
	pm.trainingEpochsTotal.WithLabelValues(estimator).Inc()
	pm.trainingLoss.WithLabelValues(estimator).Set(loss)
}

// ObserveFit records a finished fit, successful or not
func (pm *PrometheusMetrics) ObserveFit(estimator string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	pm.fitsTotal.WithLabelValues(estimator, status).Inc()
	pm.fitDuration.WithLabelValues(estimator).Observe(duration.Seconds())
}

// ObservePrediction counts produced predictions
func (pm *PrometheusMetrics) ObservePrediction(estimator string, n int) {
	pm.predictionsTotal.WithLabelValues(estimator).Add(float64(n))
}

// RecordHTTPRequest records an API request
func (pm *PrometheusMetrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	pm.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	pm.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordStorageOperation counts a model store operation
func (pm *PrometheusMetrics) RecordStorageOperation(backend, operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	pm.storageOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

func (pm *PrometheusMetrics) initializeMetrics() {
	namespace := pm.config.Namespace
	subsystem := pm.config.Subsystem
	labels := prometheus.Labels(pm.config.Labels)

	pm.trainingEpochsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "training_epochs_total",
			Help:        "Total number of completed training epochs",
			ConstLabels: labels,
		},
		[]string{"estimator"},
	)

	pm.trainingLoss = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "training_loss",
			Help:        "Mean training loss of the last completed epoch",
			ConstLabels: labels,
		},
		[]string{"estimator"},
	)

	pm.fitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "fit_duration_seconds",
			Help:        "Duration of estimator fits in seconds",
			Buckets:     []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
			ConstLabels: labels,
		},
		[]string{"estimator"},
	)

	pm.fitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "fits_total",
			Help:        "Total number of estimator fits",
			ConstLabels: labels,
		},
		[]string{"estimator", "status"},
	)

	pm.predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "predictions_total",
			Help:        "Total number of predicted values",
			ConstLabels: labels,
		},
		[]string{"estimator"},
	)

	pm.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests",
			ConstLabels: labels,
		},
		[]string{"method", "path", "status"},
	)

	pm.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request duration in seconds",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		},
		[]string{"method", "path"},
	)

	pm.storageOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "storage_operations_total",
			Help:        "Total number of model store operations",
			ConstLabels: labels,
		},
		[]string{"backend", "operation", "status"},
	)
}

func (pm *PrometheusMetrics) registerMetrics() error {
	cs := []prometheus.Collector{
		pm.trainingEpochsTotal,
		pm.trainingLoss,
		pm.fitDuration,
		pm.fitsTotal,
		pm.predictionsTotal,
		pm.httpRequestsTotal,
		pm.httpRequestDuration,
		pm.storageOperationsTotal,
	}
	if pm.config.ProcessMetrics {
		cs = append(cs,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	for _, c := range cs {
		if err := pm.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
