package forecasting

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/dataset"
	"github.com/inferloop/tsforecast/internal/networks"
	"github.com/inferloop/tsforecast/internal/nn"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

// runtimeError turns a panic raised by the matrix runtime into an AppError
func runtimeError(r interface{}, errType errors.ErrorType) error {
	return errors.WrapError(fmt.Errorf("%v", r), errType, errors.CodeShapeMismatch,
		"network rejected the input").WithDetails(errors.ErrShapeMismatch.Error())
}

// train runs NumEpochs passes over ds and returns the loss history
func (f *BaseDeepForecaster) train(ctx context.Context, network networks.SequenceNetwork, ds interfaces.Dataset) (history *models.TrainingHistory, err error) {
	criterion, err := nn.NewLoss(f.params.Criterion, f.params.CriterionKwargs)
	if err != nil {
		return nil, err
	}
	optimizer, err := nn.NewOptimizer(f.params.Optimizer, f.params.LR, f.params.OptimizerKwargs)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			history, err = nil, runtimeError(r, errors.ErrorTypeTraining)
		}
	}()

	loader := dataset.NewLoader(ds, f.params.BatchSize, f.params.Shuffle, f.rng)
	params := network.Parameters()
	history = &models.TrainingHistory{StartedAt: time.Now()}

	for epoch := 0; epoch < f.params.NumEpochs; epoch++ {
		epochStart := time.Now()
		batches, err := loader.Batches()
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeTraining, errors.CodeShapeMismatch, "failed to batch samples")
		}

		total := 0.0
		for _, batch := range batches {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			out := network.Forward(batch.X, true)
			if !out.SameShape(batch.Y) {
				return nil, errors.NewTrainingError(errors.CodeShapeMismatch,
					fmt.Sprintf("network produced [%d %d %d] for targets [%d %d %d]",
						out.B, out.T, out.C, batch.Y.B, batch.Y.T, batch.Y.C))
			}
			loss, grad := criterion.Forward(out.Data, batch.Y.Data)
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return nil, errors.WrapError(errors.ErrNonFiniteLoss, errors.ErrorTypeTraining, errors.CodeNonFiniteLoss,
					fmt.Sprintf("loss diverged in epoch %d", epoch+1))
			}

			optimizer.ZeroGrad(params)
			network.Backward(nn.TensorFrom(grad, out.B, out.T, out.C))
			optimizer.Step(params)
			total += loss
		}

		metrics := models.EpochMetrics{
			Epoch:    epoch + 1,
			Loss:     total / float64(len(batches)),
			Batches:  len(batches),
			Duration: time.Since(epochStart),
		}
		history.Epochs = append(history.Epochs, metrics)

		f.logger.WithFields(logrus.Fields{
			"estimator": f.kind,
			"epoch":     metrics.Epoch,
			"loss":      metrics.Loss,
			"duration":  metrics.Duration,
		}).Debug("Training epoch completed")

		if f.observer != nil {
			f.observer.ObserveEpoch(f.kind, metrics.Epoch, metrics.Loss, metrics.Duration)
		}
	}

	history.Duration = time.Since(history.StartedAt)
	return history, nil
}

// forward runs the fitted network in inference mode
func (f *BaseDeepForecaster) forward(x *nn.Tensor) (out *nn.Tensor, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, runtimeError(r, errors.ErrorTypePrediction)
		}
	}()
	return f.network.Forward(x, false), nil
}
