// Package forecasting implements the deep LTSF forecasters: a shared
// training and inference loop around the linear networks of
// internal/networks.
package forecasting

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/dataset"
	"github.com/inferloop/tsforecast/internal/networks"
	"github.com/inferloop/tsforecast/internal/nn"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

// networkBuilder creates the untrained network for a hyperparameter bag
type networkBuilder func(h Hyperparameters, rng *rand.Rand) (networks.SequenceNetwork, error)

// BaseDeepForecaster owns the hyperparameters, network and observed series
// of a forecaster. The concrete LTSF forecasters only differ in the network
// they build.
//
// Layers cache their inputs on every forward pass, so inference holds the
// write lock and concurrent predictions on one forecaster run one at a time.
type BaseDeepForecaster struct {
	kind        string
	params      Hyperparameters
	checkKernel bool
	build       networkBuilder
	logger      *logrus.Logger
	observer    interfaces.TrainingObserver
	customTrain interfaces.Dataset
	customPred  interfaces.Dataset

	mu      sync.RWMutex
	network networks.SequenceNetwork
	scaler  *dataset.DataScaler
	fh      models.ForecastingHorizon
	y       *models.TimeSeries
	X       *models.TimeSeries
	history *models.TrainingHistory
	rng     *rand.Rand
}

func newBase(kind string, params Hyperparameters, checkKernel bool, build networkBuilder, opts ...Option) (*BaseDeepForecaster, error) {
	params = params.withDefaults()
	if err := params.Validate(checkKernel); err != nil {
		return nil, err
	}
	f := &BaseDeepForecaster{
		kind:        kind,
		params:      params,
		checkKernel: checkKernel,
		build:       build,
		logger:      logrus.New(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.rng = nn.NewRand(params.Seed)
	return f, nil
}

// Kind returns the registered estimator name
func (f *BaseDeepForecaster) Kind() string {
	return f.kind
}

// Hyperparameters returns a copy of the configuration
func (f *BaseDeepForecaster) Hyperparameters() Hyperparameters {
	return f.params
}

// IsFitted reports whether a network has been trained or loaded
func (f *BaseDeepForecaster) IsFitted() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.network != nil
}

// History returns the per-epoch losses of the last fit
func (f *BaseDeepForecaster) History() *models.TrainingHistory {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.history
}

// combine validates y and the optional exogenous X and joins them column-wise
// into the rows the network consumes.
func (f *BaseDeepForecaster) combine(y, X *models.TimeSeries) ([][]float64, error) {
	if err := y.Validate(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "invalid target series")
	}
	if X != nil {
		if err := X.Validate(); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "invalid exogenous series")
		}
	}
	joined, err := models.Concat(y, X)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeShapeMismatch, "exogenous series must align with the target")
	}
	if joined.Channels() != f.params.InChannels {
		return nil, errors.NewValidationError(errors.CodeShapeMismatch,
			fmt.Sprintf("series has %d channels but in_channels is %d", joined.Channels(), f.params.InChannels))
	}
	return joined.Matrix(), nil
}

func (f *BaseDeepForecaster) resolveHorizon(fh models.ForecastingHorizon) (models.ForecastingHorizon, error) {
	if len(fh) == 0 {
		fh = f.fh
	}
	if len(fh) == 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidHorizon,
			"a forecasting horizon must be passed to fit or predict")
	}
	if err := fh.Validate(f.params.PredLen); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidHorizon, "invalid forecasting horizon")
	}
	return fh, nil
}

func notFitted(kind string) error {
	return errors.WrapError(errors.ErrNotFitted, errors.ErrorTypePrediction, errors.CodeNotFitted,
		fmt.Sprintf("%s must be fitted before predicting", kind))
}

// Fit trains a fresh network on y (and the exogenous columns of X) and keeps
// the series as context for later predictions. fh, when given, becomes the
// default horizon for Predict.
func (f *BaseDeepForecaster) Fit(ctx context.Context, y, X *models.TimeSeries, fh models.ForecastingHorizon) (err error) {
	start := time.Now()
	defer func() {
		if f.observer != nil {
			f.observer.ObserveFit(f.kind, time.Since(start), err)
		}
	}()

	values, err := f.combine(y, X)
	if err != nil {
		return err
	}
	if len(fh) > 0 {
		if verr := fh.Validate(f.params.PredLen); verr != nil {
			return errors.WrapError(verr, errors.ErrorTypeValidation, errors.CodeInvalidHorizon, "invalid forecasting horizon")
		}
	}

	var (
		ds     interfaces.Dataset
		scaler *dataset.DataScaler
	)
	if f.customTrain != nil {
		if err := dataset.Build(f.customTrain, values); err != nil {
			return err
		}
		ds = f.customTrain
	} else {
		window, err := dataset.NewWindowDataset(values, f.params.SeqLen, f.params.PredLen, f.params.Scale)
		if err != nil {
			return err
		}
		ds, scaler = window, window.Scaler()
	}
	if ds.Len() == 0 {
		return errors.NewValidationError(errors.CodeInsufficientData,
			fmt.Sprintf("series of length %d yields no training window for seq_len=%d pred_len=%d",
				len(values), f.params.SeqLen, f.params.PredLen))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	network, err := f.build(f.params, f.rng)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "failed to build network")
	}

	f.logger.WithFields(logrus.Fields{
		"estimator":  f.kind,
		"series_id":  y.ID,
		"samples":    ds.Len(),
		"parameters": nn.CountParams(network),
		"epochs":     f.params.NumEpochs,
		"batch_size": f.params.BatchSize,
	}).Info("Training forecaster")

	history, err := f.train(ctx, network, ds)
	if err != nil {
		return err
	}

	f.network = network
	f.scaler = scaler
	f.history = history
	f.y, f.X = y, X
	if len(fh) > 0 {
		f.fh = fh
	}

	f.logger.WithFields(logrus.Fields{
		"estimator":  f.kind,
		"final_loss": history.FinalLoss(),
		"duration":   history.Duration,
	}).Info("Forecaster training completed")
	return nil
}

// Update appends new observations of y (and X) to the context used by
// Predict without retraining.
func (f *BaseDeepForecaster) Update(ctx context.Context, y, X *models.TimeSeries) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.network == nil {
		return notFitted(f.kind)
	}
	if (X == nil) != (f.X == nil) {
		return errors.NewValidationError(errors.CodeShapeMismatch,
			"update must supply exogenous data exactly when fit did")
	}
	if _, err := f.combine(y, X); err != nil {
		return err
	}

	updatedY, err := models.Concat(f.y)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "failed to copy observed series")
	}
	if err := updatedY.Append(y); err != nil {
		return errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeShapeMismatch, "cannot append target observations")
	}
	if err := updatedY.Validate(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "target observations do not follow the stored series")
	}
	if X != nil {
		updatedX, err := models.Concat(f.X)
		if err != nil {
			return errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "failed to copy exogenous series")
		}
		if err := updatedX.Append(X); err != nil {
			return errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeShapeMismatch, "cannot append exogenous observations")
		}
		if err := updatedX.Validate(); err != nil {
			return errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "exogenous observations do not follow the stored series")
		}
		f.X = updatedX
	}
	f.y = updatedY

	f.logger.WithFields(logrus.Fields{
		"estimator":    f.kind,
		"observations": updatedY.Len(),
	}).Debug("Updated forecaster context")
	return nil
}

// contextValues returns the stored observations, with X's columns replaced
// by the supplied exogenous series when one is given.
func (f *BaseDeepForecaster) contextValues(X *models.TimeSeries) ([][]float64, error) {
	if X == nil {
		return f.combine(f.y, f.X)
	}
	if X.Len() < f.params.SeqLen {
		return nil, errors.NewValidationError(errors.CodeInsufficientData,
			fmt.Sprintf("exogenous series has %d rows, need at least seq_len=%d", X.Len(), f.params.SeqLen))
	}
	if f.y.Len() < f.params.SeqLen {
		return nil, errors.NewValidationError(errors.CodeInsufficientData,
			fmt.Sprintf("observed series has %d rows, need at least seq_len=%d", f.y.Len(), f.params.SeqLen))
	}
	tailY := &models.TimeSeries{ID: f.y.ID, Name: f.y.Name, Columns: f.y.Columns,
		DataPoints: f.y.DataPoints[f.y.Len()-f.params.SeqLen:]}
	tailX := &models.TimeSeries{ID: X.ID, Name: X.Name, Columns: X.Columns,
		DataPoints: X.DataPoints[X.Len()-f.params.SeqLen:]}
	return f.combine(tailY, tailX)
}

// inputWindow selects the network input for a forecast from the context rows
func (f *BaseDeepForecaster) inputWindow(values [][]float64) ([][]float64, error) {
	if f.customPred != nil {
		if err := dataset.Build(f.customPred, values); err != nil {
			return nil, err
		}
		n := f.customPred.Len()
		if n == 0 {
			return nil, errors.NewValidationError(errors.CodeInsufficientData, "custom prediction dataset is empty")
		}
		x, _ := f.customPred.Item(n - 1)
		return x, nil
	}
	if len(values) < f.params.SeqLen {
		return nil, errors.NewValidationError(errors.CodeInsufficientData,
			fmt.Sprintf("need %d observations to predict, have %d", f.params.SeqLen, len(values)))
	}
	window := values[len(values)-f.params.SeqLen:]
	if f.scaler != nil {
		window = f.scaler.Transform(window)
	}
	return window, nil
}

// Predict forecasts the steps of fh past the end of the observed series
func (f *BaseDeepForecaster) Predict(ctx context.Context, fh models.ForecastingHorizon, X *models.TimeSeries) (*models.Forecast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.network == nil {
		return nil, notFitted(f.kind)
	}
	fh, err := f.resolveHorizon(fh)
	if err != nil {
		return nil, err
	}
	values, err := f.contextValues(X)
	if err != nil {
		return nil, err
	}
	window, err := f.inputWindow(values)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := f.forward(nn.Stack([][][]float64{window}))
	if err != nil {
		return nil, err
	}
	rows := out.Rows(0)
	if f.scaler != nil {
		rows = f.scaler.InverseTransform(rows)
	}

	targets := f.y.Channels()
	step := f.y.Step()
	last := f.y.DataPoints[f.y.Len()-1].Timestamp
	forecast := &models.Forecast{
		SeriesID:  f.y.ID,
		Estimator: f.kind,
		Steps:     append([]int(nil), fh...),
		Columns:   append([]string(nil), f.y.Columns...),
		Values:    make([][]float64, len(fh)),
		CreatedAt: time.Now(),
	}
	for i, s := range fh {
		forecast.Values[i] = append([]float64(nil), rows[s-1][:targets]...)
		if step > 0 && !last.IsZero() {
			forecast.Timestamps = append(forecast.Timestamps, last.Add(time.Duration(s)*step))
		}
	}

	if f.observer != nil {
		f.observer.ObservePrediction(f.kind, len(fh))
	}
	return forecast, nil
}

// windowDataset builds the inference dataset over y and X
func (f *BaseDeepForecaster) windowDataset(y, X *models.TimeSeries) (interfaces.Dataset, error) {
	values, err := f.combine(y, X)
	if err != nil {
		return nil, err
	}
	if f.customPred != nil {
		if err := dataset.Build(f.customPred, values); err != nil {
			return nil, err
		}
		return f.customPred, nil
	}
	return dataset.NewWindowDatasetWithScaler(values, f.params.SeqLen, f.params.PredLen, f.scaler)
}

// PredictWindows runs the network over every input window of y and returns
// the outputs concatenated row-wise: (windows·pred_len) rows of every channel,
// in the original scale.
func (f *BaseDeepForecaster) PredictWindows(ctx context.Context, y, X *models.TimeSeries) ([][]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.network == nil {
		return nil, notFitted(f.kind)
	}
	ds, err := f.windowDataset(y, X)
	if err != nil {
		return nil, err
	}
	batches, err := dataset.NewLoader(ds, f.params.BatchSize, false, nil).Batches()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypePrediction, errors.CodeShapeMismatch, "failed to batch windows")
	}

	var rows [][]float64
	for _, batch := range batches {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		out, err := f.forward(batch.X)
		if err != nil {
			return nil, err
		}
		for b := 0; b < out.B; b++ {
			rows = append(rows, out.Rows(b)...)
		}
	}
	if f.scaler != nil {
		rows = f.scaler.InverseTransform(rows)
	}
	if f.observer != nil {
		f.observer.ObservePrediction(f.kind, len(rows))
	}
	return rows, nil
}

// YTrue returns the target windows of y concatenated row-wise, aligned with
// the output of PredictWindows. A custom prediction dataset supplies the
// windows on both sides.
func (f *BaseDeepForecaster) YTrue(y, X *models.TimeSeries) ([][]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.combine(y, X)
	if err != nil {
		return nil, err
	}
	var ds interfaces.Dataset
	if f.customPred != nil {
		if err := dataset.Build(f.customPred, values); err != nil {
			return nil, err
		}
		ds = f.customPred
	} else {
		window, err := dataset.NewWindowDataset(values, f.params.SeqLen, f.params.PredLen, false)
		if err != nil {
			return nil, err
		}
		ds = window
	}

	var rows [][]float64
	for i := 0; i < ds.Len(); i++ {
		_, target := ds.Item(i)
		for _, row := range target {
			rows = append(rows, append([]float64(nil), row...))
		}
	}
	return rows, nil
}
