// Package server exposes stored forecasters over HTTP
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/forecasting"
	"github.com/inferloop/tsforecast/internal/observability/health"
	"github.com/inferloop/tsforecast/internal/observability/metrics"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
)

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	router      *mux.Router
	logger      *logrus.Logger
	config      *Config
	store       interfaces.ModelStore
	storeType   string
	forecasters *forecasting.Factory
	metrics     *metrics.PrometheusMetrics
	health      *health.HealthMonitor
}

// Config contains server configuration
type Config struct {
	Host            string        `json:"host" mapstructure:"host" yaml:"host"`
	Port            int           `json:"port" mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout" mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	EnableCORS      bool          `json:"enable_cors" mapstructure:"enable_cors" yaml:"enable_cors"`
	MaxRequestSize  int64         `json:"max_request_size" mapstructure:"max_request_size" yaml:"max_request_size"`
	TLSCertFile     string        `json:"tls_cert_file,omitempty" mapstructure:"tls_cert_file" yaml:"tls_cert_file,omitempty"`
	TLSKeyFile      string        `json:"tls_key_file,omitempty" mapstructure:"tls_key_file" yaml:"tls_key_file,omitempty"`
}

// Dependencies are the components the handlers serve from. Metrics is
// optional; Store and Forecasters are required.
type Dependencies struct {
	Store       interfaces.ModelStore
	StoreType   string
	Forecasters *forecasting.Factory
	Metrics     *metrics.PrometheusMetrics
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:            constants.DefaultHost,
		Port:            constants.DefaultPort,
		ReadTimeout:     constants.DefaultReadTimeout,
		WriteTimeout:    constants.DefaultWriteTimeout,
		IdleTimeout:     constants.DefaultIdleTimeout,
		ShutdownTimeout: constants.DefaultShutdownTimeout,
		EnableCORS:      true,
		MaxRequestSize:  constants.DefaultMaxRequestSize,
	}
}

// NewServer creates a new HTTP server instance
func NewServer(config *Config, deps Dependencies, logger *logrus.Logger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if deps.Store == nil {
		return nil, errors.NewConfigurationError(errors.CodeNotConfigured, "server requires a model store")
	}
	if deps.StoreType == "" {
		deps.StoreType = "model_store"
	}
	if deps.Forecasters == nil {
		deps.Forecasters = forecasting.NewFactory(logger)
	}

	server := &Server{
		router:      mux.NewRouter(),
		logger:      logger,
		config:      config,
		store:       deps.Store,
		storeType:   deps.StoreType,
		forecasters: deps.Forecasters,
		metrics:     deps.Metrics,
		health:      health.NewHealthMonitor(constants.AppVersion, 5*time.Second, logger),
	}
	server.health.RegisterCheck("model_store", deps.Store.Ping, true)

	server.setupRoutes()
	server.setupMiddleware()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return server, nil
}

// Start serves until Stop is called. It returns nil after a graceful stop.
func (s *Server) Start() error {
	s.logger.WithFields(logrus.Fields{
		"host": s.config.Host,
		"port": s.config.Port,
		"tls":  s.config.TLSCertFile != "",
	}).Info("Starting HTTP server")

	var err error
	if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
		err = s.httpServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Error("Error shutting down HTTP server")
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.router
}

// Health returns the monitor backing /health so callers can add checks
func (s *Server) Health() *health.HealthMonitor {
	return s.health
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle(s.metricsPath(), s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix(constants.APIPrefix).Subrouter()
	api.HandleFunc("/estimators", s.handleListEstimators).Methods(http.MethodGet)
	api.HandleFunc("/models", s.handleListModels).Methods(http.MethodGet)
	api.HandleFunc("/models/{key:.+}/forecast", s.handleForecast).Methods(http.MethodPost)
	api.HandleFunc("/models/{key:.+}", s.handleDeleteModel).Methods(http.MethodDelete)

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}
	s.router.Use(s.requestSizeLimitMiddleware)
	s.router.Use(s.securityHeadersMiddleware)
}

func (s *Server) metricsPath() string {
	if path := s.metrics.Path(); path != "" {
		return path
	}
	return constants.DefaultMetricsPath
}
