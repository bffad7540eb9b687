package dataset

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/models"
)

// DataScaler normalizes each channel independently as (x - center) / scale.
// zscore uses the mean and population standard deviation, minmax the minimum
// and range, robust the median and interquartile range. A zero scale is
// replaced by one so constant channels pass through shifted but unscaled.
type DataScaler struct {
	method string
	center []float64
	scale  []float64
	fitted bool
}

// NewDataScaler creates a scaler for the given method
func NewDataScaler(method string) *DataScaler {
	return &DataScaler{method: method}
}

// NewStandardScaler returns a zscore scaler
func NewStandardScaler() *DataScaler {
	return NewDataScaler(constants.ScalerZScore)
}

// NewScalerFromState restores a fitted scaler
func NewScalerFromState(state *models.ScalerState) (*DataScaler, error) {
	if state == nil {
		return nil, fmt.Errorf("scaler state is empty")
	}
	if len(state.Mean) != len(state.Scale) {
		return nil, fmt.Errorf("scaler state has %d centers and %d scales", len(state.Mean), len(state.Scale))
	}
	method := state.Method
	if method == "" {
		method = constants.ScalerZScore
	}
	return &DataScaler{
		method: method,
		center: append([]float64(nil), state.Mean...),
		scale:  append([]float64(nil), state.Scale...),
		fitted: true,
	}, nil
}

// Fit computes per-channel statistics over the rows of values
func (ds *DataScaler) Fit(values [][]float64) error {
	if len(values) == 0 || len(values[0]) == 0 {
		return fmt.Errorf("cannot fit scaler on empty data")
	}
	channels := len(values[0])
	ds.center = make([]float64, channels)
	ds.scale = make([]float64, channels)

	column := make([]float64, len(values))
	for c := 0; c < channels; c++ {
		for i, row := range values {
			column[i] = row[c]
		}

		switch ds.method {
		case constants.ScalerZScore:
			mean, variance := stat.PopMeanVariance(column, nil)
			ds.center[c], ds.scale[c] = mean, math.Sqrt(variance)

		case constants.ScalerMinMax:
			lo, hi := column[0], column[0]
			for _, v := range column {
				lo, hi = math.Min(lo, v), math.Max(hi, v)
			}
			ds.center[c], ds.scale[c] = lo, hi-lo

		case constants.ScalerRobust:
			sorted := append([]float64(nil), column...)
			sort.Float64s(sorted)
			ds.center[c] = stat.Quantile(0.5, stat.Empirical, sorted, nil)
			ds.scale[c] = stat.Quantile(0.75, stat.Empirical, sorted, nil) -
				stat.Quantile(0.25, stat.Empirical, sorted, nil)

		default:
			return fmt.Errorf("unknown scaler type: %s", ds.method)
		}

		if ds.scale[c] == 0 {
			ds.scale[c] = 1
		}
	}

	ds.fitted = true
	return nil
}

// Transform scales every row of values. Unfitted scalers return a copy.
func (ds *DataScaler) Transform(values [][]float64) [][]float64 {
	return ds.apply(values, func(v, center, scale float64) float64 {
		return (v - center) / scale
	})
}

// InverseTransform reverses Transform
func (ds *DataScaler) InverseTransform(values [][]float64) [][]float64 {
	return ds.apply(values, func(v, center, scale float64) float64 {
		return v*scale + center
	})
}

func (ds *DataScaler) apply(values [][]float64, fn func(v, center, scale float64) float64) [][]float64 {
	out := make([][]float64, len(values))
	for i, row := range values {
		out[i] = append([]float64(nil), row...)
		if !ds.fitted {
			continue
		}
		for c := range out[i] {
			if c < len(ds.center) {
				out[i][c] = fn(row[c], ds.center[c], ds.scale[c])
			}
		}
	}
	return out
}

// FitTransform fits the scaler and transforms the data in one step
func (ds *DataScaler) FitTransform(values [][]float64) ([][]float64, error) {
	if err := ds.Fit(values); err != nil {
		return nil, err
	}
	return ds.Transform(values), nil
}

// IsFitted returns whether the scaler has been fitted
func (ds *DataScaler) IsFitted() bool {
	return ds.fitted
}

// Method returns the scaling method
func (ds *DataScaler) Method() string {
	return ds.method
}

// State returns the persisted form of a fitted scaler, nil otherwise
func (ds *DataScaler) State() *models.ScalerState {
	if !ds.fitted {
		return nil
	}
	return &models.ScalerState{
		Method: ds.method,
		Mean:   append([]float64(nil), ds.center...),
		Scale:  append([]float64(nil), ds.scale...),
	}
}

// Reset resets the scaler to unfitted state
func (ds *DataScaler) Reset() {
	ds.fitted = false
	ds.center = nil
	ds.scale = nil
}
