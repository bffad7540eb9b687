package forecasting

import (
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/interfaces"
)

// Option customises a forecaster at construction
type Option func(*BaseDeepForecaster)

// WithLogger sets the logger used for training progress
func WithLogger(logger *logrus.Logger) Option {
	return func(f *BaseDeepForecaster) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithObserver reports training and prediction progress to o
func WithObserver(o interfaces.TrainingObserver) Option {
	return func(f *BaseDeepForecaster) {
		f.observer = o
	}
}

// WithCustomDataset replaces the built-in window dataset during fit.
// The dataset must implement interfaces.DatasetBuilder.
func WithCustomDataset(ds interfaces.Dataset) Option {
	return func(f *BaseDeepForecaster) {
		f.customTrain = ds
	}
}

// WithCustomPredictDataset replaces the built-in window dataset during
// prediction. The dataset must implement interfaces.DatasetBuilder.
func WithCustomPredictDataset(ds interfaces.Dataset) Option {
	return func(f *BaseDeepForecaster) {
		f.customPred = ds
	}
}
