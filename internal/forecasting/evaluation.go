package forecasting

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/models"
)

// Scores summarises the error of a set of predictions against the truth
type Scores struct {
	MAE         float64 `json:"mae"`
	MSE         float64 `json:"mse"`
	RMSE        float64 `json:"rmse"`
	SMAPE       float64 `json:"smape"`
	Correlation float64 `json:"correlation"`
	Samples     int     `json:"samples"`
}

// Score compares predicted rows to true rows cell by cell. Both must have
// the same shape. sMAPE skips cells where truth and prediction are both zero.
func Score(yTrue, yPred [][]float64) (*Scores, error) {
	if len(yTrue) == 0 {
		return nil, errors.NewValidationError(errors.CodeInsufficientData, "nothing to score")
	}
	if len(yTrue) != len(yPred) {
		return nil, errors.NewValidationError(errors.CodeShapeMismatch,
			fmt.Sprintf("have %d true rows and %d predicted rows", len(yTrue), len(yPred)))
	}

	var truth, pred []float64
	for i := range yTrue {
		if len(yTrue[i]) != len(yPred[i]) {
			return nil, errors.NewValidationError(errors.CodeShapeMismatch,
				fmt.Sprintf("row %d has %d true and %d predicted columns", i, len(yTrue[i]), len(yPred[i])))
		}
		truth = append(truth, yTrue[i]...)
		pred = append(pred, yPred[i]...)
	}

	residual := make([]float64, len(truth))
	floats.SubTo(residual, truth, pred)

	abs := make([]float64, len(residual))
	sq := make([]float64, len(residual))
	smape, counted := 0.0, 0
	for i, r := range residual {
		abs[i] = math.Abs(r)
		sq[i] = r * r
		if denom := math.Abs(truth[i]) + math.Abs(pred[i]); denom > 0 {
			smape += 2 * abs[i] / denom
			counted++
		}
	}

	s := &Scores{
		MAE:     stat.Mean(abs, nil),
		MSE:     stat.Mean(sq, nil),
		Samples: len(truth),
	}
	s.RMSE = math.Sqrt(s.MSE)
	if counted > 0 {
		s.SMAPE = smape / float64(counted)
	}
	if len(truth) > 1 {
		if c := stat.Correlation(truth, pred, nil); !math.IsNaN(c) {
			s.Correlation = c
		}
	}
	return s, nil
}

// Evaluate runs a fitted forecaster over every window of y and scores the
// concatenated predictions against the concatenated target windows.
func Evaluate(ctx context.Context, f Forecaster, y, X *models.TimeSeries) (*Scores, error) {
	pred, err := f.PredictWindows(ctx, y, X)
	if err != nil {
		return nil, err
	}
	truth, err := f.YTrue(y, X)
	if err != nil {
		return nil, err
	}
	return Score(truth, pred)
}
