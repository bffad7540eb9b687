package models

import (
	"fmt"
	"sort"
	"time"
)

// ForecastingHorizon lists the relative steps ahead to predict, starting at 1
type ForecastingHorizon []int

// NewHorizon returns the horizon 1..n
func NewHorizon(n int) ForecastingHorizon {
	fh := make(ForecastingHorizon, n)
	for i := range fh {
		fh[i] = i + 1
	}
	return fh
}

// Validate checks that steps are positive, unique and no further than maxStep
func (fh ForecastingHorizon) Validate(maxStep int) error {
	if len(fh) == 0 {
		return fmt.Errorf("forecasting horizon is empty")
	}
	seen := make(map[int]bool, len(fh))
	for _, s := range fh {
		if s < 1 {
			return fmt.Errorf("horizon step %d must be >= 1", s)
		}
		if s > maxStep {
			return fmt.Errorf("horizon step %d exceeds prediction length %d", s, maxStep)
		}
		if seen[s] {
			return fmt.Errorf("horizon step %d is duplicated", s)
		}
		seen[s] = true
	}
	return nil
}

// Max returns the furthest step
func (fh ForecastingHorizon) Max() int {
	m := 0
	for _, s := range fh {
		if s > m {
			m = s
		}
	}
	return m
}

// Sorted returns a sorted copy
func (fh ForecastingHorizon) Sorted() ForecastingHorizon {
	out := append(ForecastingHorizon(nil), fh...)
	sort.Ints(out)
	return out
}

// Forecast holds predicted values aligned to a forecasting horizon
type Forecast struct {
	SeriesID   string      `json:"series_id,omitempty"`
	Estimator  string      `json:"estimator"`
	Steps      []int       `json:"steps"`
	Timestamps []time.Time `json:"timestamps,omitempty"`
	Columns    []string    `json:"columns"`
	Values     [][]float64 `json:"values"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ToTimeSeries converts the forecast into a series whose rows follow the
// horizon order.
func (f *Forecast) ToTimeSeries() *TimeSeries {
	ts := &TimeSeries{
		ID:         f.SeriesID + "-forecast",
		Name:       f.SeriesID + " forecast",
		Columns:    append([]string(nil), f.Columns...),
		DataPoints: make([]DataPoint, len(f.Values)),
	}
	for i, row := range f.Values {
		dp := DataPoint{Values: append([]float64(nil), row...)}
		if i < len(f.Timestamps) {
			dp.Timestamp = f.Timestamps[i]
		}
		ts.DataPoints[i] = dp
	}
	return ts
}

// EpochMetrics records one training epoch
type EpochMetrics struct {
	Epoch    int           `json:"epoch"`
	Loss     float64       `json:"loss"`
	Batches  int           `json:"batches"`
	Duration time.Duration `json:"duration"`
}

// TrainingHistory is the per-epoch loss record of a fit
type TrainingHistory struct {
	Epochs    []EpochMetrics `json:"epochs"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
}

// FinalLoss returns the loss of the last epoch, or 0 for an empty history
func (h *TrainingHistory) FinalLoss() float64 {
	if h == nil || len(h.Epochs) == 0 {
		return 0
	}
	return h.Epochs[len(h.Epochs)-1].Loss
}
