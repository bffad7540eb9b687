package interfaces

import (
	"context"
	"io"
	"time"

	"github.com/inferloop/tsforecast/pkg/models"
)

// Estimator is the surface shared by every fitted model
type Estimator interface {
	// Kind returns the registered estimator name
	Kind() string

	// IsFitted reports whether a network has been trained or loaded
	IsFitted() bool

	// Save writes the fitted estimator to w
	Save(w io.Writer) error

	// Load restores a fitted estimator from r
	Load(r io.Reader) error
}

// Forecaster predicts future values of a time series
type Forecaster interface {
	Estimator

	// Fit trains the network on y. X holds optional exogenous columns aligned
	// with y; fh is the horizon later calls to Predict default to.
	Fit(ctx context.Context, y, X *models.TimeSeries, fh models.ForecastingHorizon) error

	// Predict forecasts fh steps past the end of the observed series
	Predict(ctx context.Context, fh models.ForecastingHorizon, X *models.TimeSeries) (*models.Forecast, error)

	// Update appends new observations used as context by later predictions
	Update(ctx context.Context, y, X *models.TimeSeries) error

	// PredictWindows runs the network over every input window of y and
	// concatenates the outputs row-wise.
	PredictWindows(ctx context.Context, y, X *models.TimeSeries) ([][]float64, error)

	// History returns the per-epoch losses of the last fit
	History() *models.TrainingHistory
}

// Regressor maps a panel of multivariate series to one value per instance
type Regressor interface {
	Estimator

	// Fit trains on instances X with targets y
	Fit(ctx context.Context, X *models.Panel, y []float64) error

	// Predict returns one value per instance of X
	Predict(ctx context.Context, X *models.Panel) ([]float64, error)
}

// TrainingObserver receives training progress from estimators
type TrainingObserver interface {
	// ObserveEpoch is called after every completed epoch
	ObserveEpoch(estimator string, epoch int, loss float64, duration time.Duration)

	// ObserveFit is called once a fit finishes, successfully or not
	ObserveFit(estimator string, duration time.Duration, err error)

	// ObservePrediction is called after every prediction call
	ObservePrediction(estimator string, rows int)
}
