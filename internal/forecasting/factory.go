package forecasting

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

// CreateFunc builds a forecaster from hyperparameters
type CreateFunc func(params Hyperparameters, opts ...Option) (Forecaster, error)

// Forecaster is a fitted-or-not LTSF forecaster as returned by the factory
type Forecaster interface {
	interfaces.Forecaster
	Hyperparameters() Hyperparameters
	YTrue(y, X *models.TimeSeries) ([][]float64, error)
	SaveTo(ctx context.Context, store interfaces.ModelStore, key string) error
	LoadFrom(ctx context.Context, store interfaces.ModelStore, key string) error
	LoadArtifact(artifact *models.Artifact) error
}

// Factory maps estimator names to constructors
type Factory struct {
	creators map[string]CreateFunc
	mu       sync.RWMutex
	logger   *logrus.Logger
}

// NewFactory creates a factory with the LTSF forecasters registered
func NewFactory(logger *logrus.Logger) *Factory {
	if logger == nil {
		logger = logrus.New()
	}

	factory := &Factory{
		creators: make(map[string]CreateFunc),
		logger:   logger,
	}
	factory.registerDefaults()
	return factory
}

// Create builds the named forecaster. The factory's logger is used unless
// opts override it.
func (f *Factory) Create(kind string, params Hyperparameters, opts ...Option) (Forecaster, error) {
	f.mu.RLock()
	create, exists := f.creators[kind]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.WrapError(errors.ErrUnknownEstimator, errors.ErrorTypeValidation, errors.CodeInvalidInput,
			fmt.Sprintf("estimator %q is not supported", kind)).
			WithDetails(fmt.Sprintf("available: %v", f.Available()))
	}

	forecaster, err := create(params, append([]Option{WithLogger(f.logger)}, opts...)...)
	if err != nil {
		return nil, err
	}

	f.logger.WithFields(logrus.Fields{
		"estimator": kind,
	}).Debug("Created forecaster instance")
	return forecaster, nil
}

// Restore loads the artifact stored under key and rebuilds whichever
// forecaster produced it.
func (f *Factory) Restore(ctx context.Context, store interfaces.ModelStore, key string, opts ...Option) (Forecaster, error) {
	if store == nil {
		return nil, errors.NewConfigurationError(errors.CodeNotConfigured, "no model store configured")
	}
	data, err := store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	var artifact models.Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, loadFailed(err, "failed to decode artifact")
	}
	var params Hyperparameters
	if err := json.Unmarshal(artifact.Hyperparameters, &params); err != nil {
		return nil, loadFailed(err, "failed to decode hyperparameters")
	}

	forecaster, err := f.Create(artifact.Kind, params, opts...)
	if err != nil {
		return nil, err
	}
	if err := forecaster.LoadArtifact(&artifact); err != nil {
		return nil, err
	}
	return forecaster, nil
}

// Available returns the registered estimator names in sorted order
func (f *Factory) Available() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	kinds := make([]string, 0, len(f.creators))
	for kind := range f.creators {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Register adds or replaces a constructor
func (f *Factory) Register(kind string, create CreateFunc) error {
	if kind == "" {
		return errors.NewValidationError(errors.CodeMissingField, "estimator name cannot be empty")
	}
	if create == nil {
		return errors.NewValidationError(errors.CodeMissingField, "estimator create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[kind] = create

	f.logger.WithFields(logrus.Fields{
		"estimator": kind,
	}).Debug("Registered estimator")
	return nil
}

// IsSupported checks if an estimator name is registered
func (f *Factory) IsSupported(kind string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, exists := f.creators[kind]
	return exists
}

func (f *Factory) registerDefaults() {
	f.Register(constants.EstimatorLTSFLinear, func(p Hyperparameters, opts ...Option) (Forecaster, error) {
		fc, err := NewLTSFLinearForecaster(p, opts...)
		if err != nil {
			return nil, err
		}
		return fc, nil
	})
	f.Register(constants.EstimatorLTSFDLinear, func(p Hyperparameters, opts ...Option) (Forecaster, error) {
		fc, err := NewLTSFDLinearForecaster(p, opts...)
		if err != nil {
			return nil, err
		}
		return fc, nil
	})
	f.Register(constants.EstimatorLTSFNLinear, func(p Hyperparameters, opts ...Option) (Forecaster, error) {
		fc, err := NewLTSFNLinearForecaster(p, opts...)
		if err != nil {
			return nil, err
		}
		return fc, nil
	})
}
