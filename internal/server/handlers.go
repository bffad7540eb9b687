package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/forecasting"
	"github.com/inferloop/tsforecast/internal/observability/health"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/models"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error     ErrorBody `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

// ErrorBody carries the AppError fields a client can act on
type ErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ForecastRequest is the body of POST /api/v1/models/{key}/forecast. Every
// field is optional: an empty body forecasts the stored horizon from the
// stored context.
type ForecastRequest struct {
	Horizon models.ForecastingHorizon `json:"horizon,omitempty"`

	// Observations are appended to the stored context before predicting.
	// ObservedExogenous must accompany them when the model was fit with X.
	Observations      *models.TimeSeries `json:"observations,omitempty"`
	ObservedExogenous *models.TimeSeries `json:"observed_exogenous,omitempty"`

	// Exogenous replaces the exogenous columns of the prediction window
	Exogenous *models.TimeSeries `json:"exogenous,omitempty"`
}

// ModelListResponse is returned by GET /api/v1/models
type ModelListResponse struct {
	Models []models.ModelInfo `json:"models"`
	Count  int                `json:"count"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.Check(r.Context())
	code := http.StatusOK
	if status.OverallStatus == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"name":        constants.AppName,
		"version":     constants.AppVersion,
		"api_version": constants.APIVersion,
	})
}

func (s *Server) handleListEstimators(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{
		"forecasters": s.forecasters.Available(),
		"regressors":  {constants.EstimatorTapNet},
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	infos, err := s.store.List(r.Context(), r.URL.Query().Get("prefix"))
	s.recordStorage("list", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if infos == nil {
		infos = []models.ModelInfo{}
	}
	s.writeJSON(w, http.StatusOK, ModelListResponse{Models: infos, Count: len(infos)})
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	err := s.store.Delete(r.Context(), key)
	s.recordStorage("delete", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"key":        key,
		"request_id": getRequestID(r),
	}).Info("Deleted model")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var req ForecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		s.writeError(w, r, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "invalid forecast request"))
		return
	}

	var opts []forecasting.Option
	if s.metrics != nil {
		opts = append(opts, forecasting.WithObserver(s.metrics))
	}
	forecaster, err := s.forecasters.Restore(r.Context(), s.store, key, opts...)
	s.recordStorage("load", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if req.Observations != nil {
		if err := forecaster.Update(r.Context(), req.Observations, req.ObservedExogenous); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	start := time.Now()
	forecast, err := forecaster.Predict(r.Context(), req.Horizon, req.Exogenous)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	forecast.SeriesID = key

	s.logger.WithFields(logrus.Fields{
		"key":        key,
		"estimator":  forecaster.Kind(),
		"steps":      len(forecast.Steps),
		"duration":   time.Since(start),
		"request_id": getRequestID(r),
	}).Debug("Served forecast")
	s.writeJSON(w, http.StatusOK, forecast)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	err := errors.NewValidationError(errors.CodeInvalidInput, "route not found")
	err.HTTPStatus = http.StatusNotFound
	s.writeError(w, r, err)
}

func (s *Server) recordStorage(operation string, err error) {
	if s.metrics != nil {
		s.metrics.RecordStorageOperation(s.storeType, operation, err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := ErrorBody{
		Type:    string(errors.GetType(err)),
		Code:    errors.CodeInternalError,
		Message: err.Error(),
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		body.Code = appErr.Code
		body.Message = appErr.Message
		body.Details = appErr.Details
	}

	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"path":       r.URL.Path,
			"status":     status,
			"request_id": getRequestID(r),
		}).WithError(err).Error("Request failed")
	}
	s.writeJSON(w, status, ErrorResponse{Error: body, RequestID: getRequestID(r)})
}
