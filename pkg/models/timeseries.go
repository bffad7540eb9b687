package models

import (
	"fmt"
	"math"
	"time"
)

// DataPoint is one observation of every channel at a timestamp
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Values    []float64 `json:"values"`
}

// TimeSeries is an ordered, time-indexed table: rows are time steps and
// columns are channels.
type TimeSeries struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Frequency  string            `json:"frequency,omitempty"`
	Columns    []string          `json:"columns"`
	DataPoints []DataPoint       `json:"data_points"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// NewUnivariate builds a single-column series with timestamps spaced by freq
// starting at start.
func NewUnivariate(name string, values []float64, start time.Time, freq time.Duration) *TimeSeries {
	ts := &TimeSeries{
		ID:         name,
		Name:       name,
		Columns:    []string{name},
		DataPoints: make([]DataPoint, len(values)),
	}
	if freq > 0 {
		ts.Frequency = freq.String()
	}
	for i, v := range values {
		ts.DataPoints[i] = DataPoint{
			Timestamp: start.Add(time.Duration(i) * freq),
			Values:    []float64{v},
		}
	}
	return ts
}

// Len returns the number of time steps
func (ts *TimeSeries) Len() int {
	if ts == nil {
		return 0
	}
	return len(ts.DataPoints)
}

// Channels returns the number of columns
func (ts *TimeSeries) Channels() int {
	if ts == nil {
		return 0
	}
	if len(ts.Columns) > 0 {
		return len(ts.Columns)
	}
	if len(ts.DataPoints) > 0 {
		return len(ts.DataPoints[0].Values)
	}
	return 0
}

// Matrix returns a copy of the observations as rows of channel values
func (ts *TimeSeries) Matrix() [][]float64 {
	out := make([][]float64, ts.Len())
	for i, dp := range ts.DataPoints {
		out[i] = append([]float64(nil), dp.Values...)
	}
	return out
}

// Column returns a copy of channel c
func (ts *TimeSeries) Column(c int) []float64 {
	out := make([]float64, ts.Len())
	for i, dp := range ts.DataPoints {
		out[i] = dp.Values[c]
	}
	return out
}

// Validate checks that every row carries one value per column, that values
// are finite, and that timestamps do not go backwards.
func (ts *TimeSeries) Validate() error {
	if ts == nil {
		return fmt.Errorf("time series is nil")
	}
	if ts.Len() == 0 {
		return fmt.Errorf("time series %q is empty", ts.Name)
	}
	channels := ts.Channels()
	if channels == 0 {
		return fmt.Errorf("time series %q has no columns", ts.Name)
	}
	for i, dp := range ts.DataPoints {
		if len(dp.Values) != channels {
			return fmt.Errorf("row %d has %d values, expected %d", i, len(dp.Values), channels)
		}
		for _, v := range dp.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("row %d contains a non-finite value", i)
			}
		}
		if i > 0 && !dp.Timestamp.IsZero() && dp.Timestamp.Before(ts.DataPoints[i-1].Timestamp) {
			return fmt.Errorf("row %d is out of order", i)
		}
	}
	return nil
}

// Step returns the spacing between observations: the parsed Frequency when
// set, otherwise the gap between the last two timestamps.
func (ts *TimeSeries) Step() time.Duration {
	if ts.Frequency != "" {
		if d, err := time.ParseDuration(ts.Frequency); err == nil && d > 0 {
			return d
		}
	}
	n := ts.Len()
	if n >= 2 {
		return ts.DataPoints[n-1].Timestamp.Sub(ts.DataPoints[n-2].Timestamp)
	}
	return 0
}

// Append adds rows from other, which must have the same channel count
func (ts *TimeSeries) Append(other *TimeSeries) error {
	if other.Channels() != ts.Channels() {
		return fmt.Errorf("cannot append %d channels to %d", other.Channels(), ts.Channels())
	}
	ts.DataPoints = append(ts.DataPoints, other.DataPoints...)
	return nil
}

// Concat joins the columns of the given series row by row. All series must
// have the same length; timestamps are taken from the first.
func Concat(series ...*TimeSeries) (*TimeSeries, error) {
	var out *TimeSeries
	for _, s := range series {
		if s == nil {
			continue
		}
		if out == nil {
			out = &TimeSeries{
				ID:         s.ID,
				Name:       s.Name,
				Frequency:  s.Frequency,
				Columns:    append([]string(nil), s.Columns...),
				DataPoints: make([]DataPoint, s.Len()),
			}
			for i, dp := range s.DataPoints {
				out.DataPoints[i] = DataPoint{Timestamp: dp.Timestamp, Values: append([]float64(nil), dp.Values...)}
			}
			continue
		}
		if s.Len() != out.Len() {
			return nil, fmt.Errorf("series %q has %d rows, expected %d", s.Name, s.Len(), out.Len())
		}
		out.Columns = append(out.Columns, s.Columns...)
		for i, dp := range s.DataPoints {
			out.DataPoints[i].Values = append(out.DataPoints[i].Values, dp.Values...)
		}
	}
	if out == nil {
		return nil, fmt.Errorf("no series to concatenate")
	}
	return out, nil
}
