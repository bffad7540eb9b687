package regression

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tsforecast/internal/dataset"
	"github.com/inferloop/tsforecast/internal/networks"
	"github.com/inferloop/tsforecast/internal/nn"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

// Option customises a regressor at construction
type Option func(*TapNetRegressor)

// WithLogger sets the logger used for training progress
func WithLogger(logger *logrus.Logger) Option {
	return func(r *TapNetRegressor) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithObserver reports training and prediction progress to o
func WithObserver(o interfaces.TrainingObserver) Option {
	return func(r *TapNetRegressor) {
		r.observer = o
	}
}

// panelDataset presents each instance as a [m][d] input and a one-row target
type panelDataset struct {
	panel   *models.Panel
	targets []float64
}

func (ds *panelDataset) Len() int {
	n, _, _ := ds.panel.Shape()
	return n
}

func (ds *panelDataset) Item(i int) (x, y [][]float64) {
	var target float64
	if ds.targets != nil {
		target = ds.targets[i]
	}
	return ds.panel.TimeMajor(i), [][]float64{{target}}
}

// TapNetRegressor regresses a scalar per instance with a TapNet network
// Predict holds the write lock since layers cache their inputs.
type TapNetRegressor struct {
	params   TapNetParams
	logger   *logrus.Logger
	observer interfaces.TrainingObserver

	mu      sync.RWMutex
	network *networks.TapNet
	history *models.TrainingHistory
	rng     *rand.Rand
}

// NewTapNetRegressor validates params and creates an unfitted regressor
func NewTapNetRegressor(params TapNetParams, opts ...Option) (*TapNetRegressor, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	r := &TapNetRegressor{
		params: params,
		logger: logrus.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.rng = nn.NewRand(params.RandomState)
	return r, nil
}

// Kind returns the registered estimator name
func (r *TapNetRegressor) Kind() string {
	return constants.EstimatorTapNet
}

// Params returns a copy of the configuration
func (r *TapNetRegressor) Params() TapNetParams {
	return r.params
}

// IsFitted reports whether a network has been trained or loaded
func (r *TapNetRegressor) IsFitted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.network != nil
}

// History returns the per-epoch losses of the last fit
func (r *TapNetRegressor) History() *models.TrainingHistory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history
}

func notFitted() error {
	return errors.WrapError(errors.ErrNotFitted, errors.ErrorTypePrediction, errors.CodeNotFitted,
		fmt.Sprintf("%s must be fitted before predicting", constants.EstimatorTapNet))
}

func recovered(v interface{}, errType errors.ErrorType) error {
	return errors.WrapError(fmt.Errorf("%v", v), errType, errors.CodeShapeMismatch,
		"network rejected the input").WithDetails(errors.ErrShapeMismatch.Error())
}

// Fit trains a fresh network on the instances of X with one target per
// instance.
func (r *TapNetRegressor) Fit(ctx context.Context, X *models.Panel, y []float64) (err error) {
	start := time.Now()
	defer func() {
		if r.observer != nil {
			r.observer.ObserveFit(constants.EstimatorTapNet, time.Since(start), err)
		}
	}()

	if X == nil {
		return errors.NewValidationError(errors.CodeMissingField, "training panel is nil")
	}
	if verr := X.Validate(); verr != nil {
		return errors.WrapError(verr, errors.ErrorTypeValidation, errors.CodeInvalidInput, "invalid training panel")
	}
	n, d, m := X.Shape()
	if len(y) != n {
		return errors.NewValidationError(errors.CodeShapeMismatch,
			fmt.Sprintf("panel has %d instances but %d targets were given", n, len(y)))
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.NewValidationError(errors.CodeInvalidInput, fmt.Sprintf("target %d is not finite", i))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	network, err := networks.NewTapNet(r.params.networkConfig(d, m), r.rng)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "failed to build network")
	}

	r.logger.WithFields(logrus.Fields{
		"estimator":  constants.EstimatorTapNet,
		"instances":  n,
		"dimensions": d,
		"length":     m,
		"parameters": nn.CountParams(network),
		"epochs":     r.params.NEpochs,
	}).Info("Training regressor")

	history, err := r.train(ctx, network, &panelDataset{panel: X, targets: y})
	if err != nil {
		return err
	}
	r.network = network
	r.history = history

	r.logger.WithFields(logrus.Fields{
		"estimator":  constants.EstimatorTapNet,
		"final_loss": history.FinalLoss(),
		"duration":   history.Duration,
	}).Info("Regressor training completed")
	return nil
}

func (r *TapNetRegressor) train(ctx context.Context, network *networks.TapNet, ds interfaces.Dataset) (history *models.TrainingHistory, err error) {
	loss, err := nn.NewLoss(r.params.Loss, r.params.LossKwargs)
	if err != nil {
		return nil, err
	}
	optimizer, err := nn.NewOptimizer(r.params.Optimizer, r.params.LR, r.params.OptimizerKwargs)
	if err != nil {
		return nil, err
	}

	defer func() {
		if v := recover(); v != nil {
			history, err = nil, recovered(v, errors.ErrorTypeTraining)
		}
	}()

	loader := dataset.NewLoader(ds, r.params.BatchSize, r.params.Shuffle, r.rng)
	params := network.Parameters()
	history = &models.TrainingHistory{StartedAt: time.Now()}

	for epoch := 0; epoch < r.params.NEpochs; epoch++ {
		epochStart := time.Now()
		batches, err := loader.Batches()
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeTraining, errors.CodeShapeMismatch, "failed to batch instances")
		}

		total := 0.0
		for _, batch := range batches {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			out := network.Forward(batch.X, true)
			value, grad := loss.Forward(nn.Flatten(out), batch.Y.Data)
			if math.IsNaN(value) || math.IsInf(value, 0) {
				return nil, errors.WrapError(errors.ErrNonFiniteLoss, errors.ErrorTypeTraining, errors.CodeNonFiniteLoss,
					fmt.Sprintf("loss diverged in epoch %d", epoch+1))
			}

			optimizer.ZeroGrad(params)
			network.Backward(mat.NewDense(batch.X.B, 1, grad))
			optimizer.Step(params)
			total += value
		}

		metrics := models.EpochMetrics{
			Epoch:    epoch + 1,
			Loss:     total / float64(len(batches)),
			Batches:  len(batches),
			Duration: time.Since(epochStart),
		}
		history.Epochs = append(history.Epochs, metrics)

		entry := r.logger.WithFields(logrus.Fields{
			"estimator": constants.EstimatorTapNet,
			"epoch":     metrics.Epoch,
			"loss":      metrics.Loss,
		})
		if r.params.Verbose {
			entry.Info("Training epoch completed")
		} else {
			entry.Debug("Training epoch completed")
		}

		if r.observer != nil {
			r.observer.ObserveEpoch(constants.EstimatorTapNet, metrics.Epoch, metrics.Loss, metrics.Duration)
		}
	}

	history.Duration = time.Since(history.StartedAt)
	return history, nil
}

// Predict returns one value per instance of X
func (r *TapNetRegressor) Predict(ctx context.Context, X *models.Panel) (predictions []float64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.network == nil {
		return nil, notFitted()
	}
	if X == nil {
		return nil, errors.NewValidationError(errors.CodeMissingField, "prediction panel is nil")
	}
	if verr := X.Validate(); verr != nil {
		return nil, errors.WrapError(verr, errors.ErrorTypeValidation, errors.CodeInvalidInput, "invalid prediction panel")
	}
	cfg := r.network.Config()
	if _, d, m := X.Shape(); d != cfg.Channels || m != cfg.SeqLen {
		return nil, errors.NewValidationError(errors.CodeShapeMismatch,
			fmt.Sprintf("panel instances are %dx%d, the network was fitted on %dx%d", d, m, cfg.Channels, cfg.SeqLen))
	}

	defer func() {
		if v := recover(); v != nil {
			predictions, err = nil, recovered(v, errors.ErrorTypePrediction)
		}
	}()

	batches, err := dataset.NewLoader(&panelDataset{panel: X}, r.params.BatchSize, false, nil).Batches()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypePrediction, errors.CodeShapeMismatch, "failed to batch instances")
	}
	for _, batch := range batches {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		predictions = append(predictions, nn.Flatten(r.network.Forward(batch.X, false))...)
	}

	if r.observer != nil {
		r.observer.ObservePrediction(constants.EstimatorTapNet, len(predictions))
	}
	return predictions, nil
}
