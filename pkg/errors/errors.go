package errors

import (
	"errors"
	"fmt"
)

// Common application errors
var (
	// Validation errors
	ErrInvalidHyperparameter = errors.New("invalid hyperparameter")
	ErrInvalidInputData      = errors.New("invalid input data")
	ErrInvalidHorizon        = errors.New("invalid forecasting horizon")
	ErrInsufficientData      = errors.New("insufficient training data")
	ErrUnknownCriterion      = errors.New("unknown criterion")
	ErrUnknownOptimizer      = errors.New("unknown optimizer")
	ErrUnknownEstimator      = errors.New("unknown estimator")

	// Training / inference errors
	ErrNotFitted           = errors.New("estimator is not fitted")
	ErrModelTrainingFailed = errors.New("model training failed")
	ErrShapeMismatch       = errors.New("shape mismatch")
	ErrNonFiniteLoss       = errors.New("non-finite loss")
	ErrModelLoadFailed     = errors.New("failed to load model")

	// Storage errors
	ErrStorageNotConfigured = errors.New("storage backend not configured")
	ErrStorageWriteFailed   = errors.New("storage write failed")
	ErrStorageReadFailed    = errors.New("storage read failed")
	ErrModelNotFound        = errors.New("model not found")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing configuration")

	// Internal errors
	ErrInternal       = errors.New("internal error")
	ErrNotImplemented = errors.New("not implemented")
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeTraining       ErrorType = "training"
	ErrorTypePrediction     ErrorType = "prediction"
	ErrorTypeStorage        ErrorType = "storage"
	ErrorTypeSource         ErrorType = "source"
	ErrorTypeConfiguration  ErrorType = "configuration"
	ErrorTypeNotImplemented ErrorType = "not_implemented"
	ErrorTypeInternal       ErrorType = "internal"
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s - %s", msg, e.Details)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Cause:      err,
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		HTTPStatus: 400,
	}
}

// NewTrainingError creates a training error
func NewTrainingError(code, message string) *AppError {
	return NewAppError(ErrorTypeTraining, code, message)
}

// NewPredictionError creates a prediction error
func NewPredictionError(code, message string) *AppError {
	return NewAppError(ErrorTypePrediction, code, message)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *AppError {
	return NewAppError(ErrorTypeStorage, code, message)
}

// NewSourceError creates an error for series sources
func NewSourceError(code, message string) *AppError {
	return NewAppError(ErrorTypeSource, code, message)
}

// NewConfigurationError creates a configuration error. Missing optional
// backends (model stores, series sources) surface through this constructor.
func NewConfigurationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConfiguration,
		Code:       code,
		Message:    message,
		Cause:      ErrInvalidConfiguration,
		HTTPStatus: 503,
	}
}

// NewNotImplementedError creates an error naming a required method that a
// caller-supplied object does not provide.
func NewNotImplementedError(method, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotImplemented,
		Code:       CodeNotImplemented,
		Message:    message,
		Cause:      ErrNotImplemented,
		Context:    map[string]interface{}{"method": method},
		HTTPStatus: 501,
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      ErrInternal,
		HTTPStatus: 500,
	}
}

// GetType returns the ErrorType of err, or ErrorTypeInternal when err is not
// an AppError.
func GetType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// HTTPStatus returns the HTTP status an API should answer with for err.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return 500
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// getDefaultHTTPStatus returns the default HTTP status for an error type
func getDefaultHTTPStatus(errType ErrorType) int {
	switch errType {
	case ErrorTypeValidation:
		return 400
	case ErrorTypeStorage:
		return 404
	case ErrorTypeNotImplemented:
		return 501
	case ErrorTypeSource, ErrorTypeConfiguration:
		return 503
	case ErrorTypeInternal, ErrorTypeTraining, ErrorTypePrediction:
		return 500
	default:
		return 500
	}
}

// ValidationErrorDetail represents detailed validation error information
type ValidationErrorDetail struct {
	Field   string      `json:"field"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
}

// ValidationErrors collects every invalid field of a hyperparameter bag
type ValidationErrors struct {
	Message string                  `json:"message"`
	Errors  []ValidationErrorDetail `json:"errors"`
}

// Error implements the error interface for ValidationErrors
func (ve *ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return ve.Message
	}
	msg := ve.Message + ":"
	for i, e := range ve.Errors {
		if i > 0 {
			msg += ";"
		}
		msg += fmt.Sprintf(" %s %s", e.Field, e.Message)
	}
	return msg
}

// Unwrap lets errors.Is match ErrInvalidHyperparameter
func (ve *ValidationErrors) Unwrap() error {
	return ErrInvalidHyperparameter
}

// Add adds a validation error
func (ve *ValidationErrors) Add(field, code, message string, value interface{}) {
	ve.Errors = append(ve.Errors, ValidationErrorDetail{
		Field:   field,
		Value:   value,
		Message: message,
		Code:    code,
	})
}

// HasErrors checks if there are any validation errors
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// ErrorOrNil returns ve when it holds errors and nil otherwise
func (ve *ValidationErrors) ErrorOrNil() error {
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// NewValidationErrors creates a new ValidationErrors instance
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Message: "validation failed",
		Errors:  make([]ValidationErrorDetail, 0),
	}
}

// Error codes for different error scenarios
const (
	// Validation error codes
	CodeInvalidInput     = "INVALID_INPUT"
	CodeMissingField     = "MISSING_FIELD"
	CodeOutOfRange       = "OUT_OF_RANGE"
	CodeInvalidHorizon   = "INVALID_HORIZON"
	CodeUnknownCriterion = "UNKNOWN_CRITERION"
	CodeUnknownOptimizer = "UNKNOWN_OPTIMIZER"
	CodeUnknownKwarg     = "UNKNOWN_KWARG"
	CodeInsufficientData = "INSUFFICIENT_DATA"

	// Training / prediction error codes
	CodeNotFitted       = "NOT_FITTED"
	CodeTrainingFailed  = "TRAINING_FAILED"
	CodeShapeMismatch   = "SHAPE_MISMATCH"
	CodeNonFiniteLoss   = "NON_FINITE_LOSS"
	CodeModelLoadFailed = "MODEL_LOAD_FAILED"
	CodeModelSaveFailed = "MODEL_SAVE_FAILED"

	// Storage error codes
	CodeStorageError     = "STORAGE_ERROR"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeModelNotFound    = "MODEL_NOT_FOUND"
	CodeWriteFailed      = "WRITE_FAILED"
	CodeReadFailed       = "READ_FAILED"

	// Configuration error codes
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeNotConfigured = "NOT_CONFIGURED"

	// Internal error codes
	CodeInternalError  = "INTERNAL_ERROR"
	CodeNotImplemented = "NOT_IMPLEMENTED"
)
