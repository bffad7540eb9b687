// Package dataset turns series into windowed training samples and batches.
package dataset

import (
	"fmt"

	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
)

// WindowDataset slices a series into (input, target) pairs: sample i reads
// rows [i, i+SeqLen) as input and rows [i+SeqLen, i+SeqLen+PredLen) as
// target. Rows are time steps and columns channels.
type WindowDataset struct {
	SeqLen  int
	PredLen int

	values [][]float64
	scaler *DataScaler
}

// NewWindowDataset creates a dataset over values. When scale is set a
// standard scaler is fitted on values and applied to every sample.
func NewWindowDataset(values [][]float64, seqLen, predLen int, scale bool) (*WindowDataset, error) {
	if seqLen <= 0 || predLen <= 0 {
		return nil, errors.NewValidationError(errors.CodeOutOfRange,
			fmt.Sprintf("window lengths must be positive, got seq_len=%d pred_len=%d", seqLen, predLen))
	}
	ds := &WindowDataset{SeqLen: seqLen, PredLen: predLen, values: values}
	if scale && len(values) > 0 {
		ds.scaler = NewStandardScaler()
		scaled, err := ds.scaler.FitTransform(values)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "failed to fit scaler")
		}
		ds.values = scaled
	}
	return ds, nil
}

// NewWindowDatasetWithScaler creates a dataset whose values are transformed
// by an already fitted scaler. A nil scaler leaves values unchanged.
func NewWindowDatasetWithScaler(values [][]float64, seqLen, predLen int, scaler *DataScaler) (*WindowDataset, error) {
	ds, err := NewWindowDataset(values, seqLen, predLen, false)
	if err != nil {
		return nil, err
	}
	if scaler != nil && scaler.IsFitted() {
		ds.scaler = scaler
		ds.values = scaler.Transform(values)
	}
	return ds, nil
}

// Len returns the number of complete windows
func (ds *WindowDataset) Len() int {
	if n := len(ds.values) - ds.SeqLen - ds.PredLen + 1; n > 0 {
		return n
	}
	return 0
}

// Item returns sample i
func (ds *WindowDataset) Item(i int) (x, y [][]float64) {
	return ds.values[i : i+ds.SeqLen], ds.values[i+ds.SeqLen : i+ds.SeqLen+ds.PredLen]
}

// Scaler returns the fitted scaler, or nil when the data is not scaled
func (ds *WindowDataset) Scaler() *DataScaler {
	return ds.scaler
}

// Values returns the (possibly scaled) rows backing the dataset
func (ds *WindowDataset) Values() [][]float64 {
	return ds.values
}

// Build prepares a caller supplied dataset. Datasets must implement
// interfaces.DatasetBuilder; others are rejected with a not-implemented
// error naming BuildDataset.
func Build(ds interfaces.Dataset, values [][]float64) error {
	builder, ok := ds.(interfaces.DatasetBuilder)
	if !ok {
		return errors.NewNotImplementedError("BuildDataset",
			fmt.Sprintf("custom dataset %T does not implement BuildDataset", ds))
	}
	if err := builder.BuildDataset(values); err != nil {
		return errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput,
			fmt.Sprintf("custom dataset %T failed to build", ds))
	}
	return nil
}
