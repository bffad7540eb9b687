package forecasting

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/internal/dataset"
	"github.com/inferloop/tsforecast/internal/nn"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func trend(n int) *models.TimeSeries {
	values := make([]float64, n)
	for i := range values {
		values[i] = 10 + 0.5*float64(i)
	}
	return models.NewUnivariate("load", values, start, time.Hour)
}

func constant(n int, v float64) *models.TimeSeries {
	values := make([]float64, n)
	for i := range values {
		values[i] = v
	}
	return models.NewUnivariate("flat", values, start, time.Hour)
}

func quickParams(seqLen, predLen int) Hyperparameters {
	p := DefaultHyperparameters(seqLen, predLen)
	p.NumEpochs = 30
	p.BatchSize = 8
	p.LR = 0.01
	p.Shuffle = false
	p.Scale = true
	p.Seed = nn.Seed(7)
	return p
}

type recordingObserver struct {
	mu          sync.Mutex
	epochs      []float64
	fits        int
	fitErr      error
	predictions int
}

func (o *recordingObserver) ObserveEpoch(_ string, _ int, loss float64, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.epochs = append(o.epochs, loss)
}

func (o *recordingObserver) ObserveFit(_ string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fits++
	o.fitErr = err
}

func (o *recordingObserver) ObservePrediction(_ string, rows int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.predictions += rows
}

func TestFitReducesLoss(t *testing.T) {
	observer := &recordingObserver{}
	f, err := NewLTSFLinearForecaster(quickParams(8, 2), WithObserver(observer))
	require.NoError(t, err)
	assert.False(t, f.IsFitted())

	require.NoError(t, f.Fit(context.Background(), trend(60), nil, models.NewHorizon(2)))
	assert.True(t, f.IsFitted())

	history := f.History()
	require.NotNil(t, history)
	require.Len(t, history.Epochs, 30)
	assert.Less(t, history.FinalLoss(), history.Epochs[0].Loss)
	assert.Len(t, observer.epochs, 30)
	assert.Equal(t, 1, observer.fits)
	assert.NoError(t, observer.fitErr)
}

func TestPredictUsesStoredHorizon(t *testing.T) {
	f, err := NewLTSFLinearForecaster(quickParams(8, 3))
	require.NoError(t, err)
	y := trend(50)
	require.NoError(t, f.Fit(context.Background(), y, nil, models.ForecastingHorizon{1, 3}))

	forecast, err := f.Predict(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, forecast.Steps)
	require.Len(t, forecast.Values, 2)
	assert.Len(t, forecast.Values[0], 1)
	assert.Equal(t, constants.EstimatorLTSFLinear, forecast.Estimator)

	last := y.DataPoints[y.Len()-1].Timestamp
	require.Len(t, forecast.Timestamps, 2)
	assert.Equal(t, last.Add(time.Hour), forecast.Timestamps[0])
	assert.Equal(t, last.Add(3*time.Hour), forecast.Timestamps[1])
}

func TestPredictRequiresHorizon(t *testing.T) {
	f, err := NewLTSFLinearForecaster(quickParams(8, 2))
	require.NoError(t, err)
	require.NoError(t, f.Fit(context.Background(), trend(40), nil, nil))

	_, err = f.Predict(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))

	_, err = f.Predict(context.Background(), models.ForecastingHorizon{3}, nil)
	require.Error(t, err, "step beyond pred_len")

	_, err = f.Predict(context.Background(), models.ForecastingHorizon{0}, nil)
	require.Error(t, err)
}

func TestFitRejectsHorizonBeyondPredLen(t *testing.T) {
	f, err := NewLTSFNLinearForecaster(quickParams(8, 2))
	require.NoError(t, err)

	err = f.Fit(context.Background(), trend(40), nil, models.NewHorizon(4))
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))
	assert.False(t, f.IsFitted())
}

func TestPredictBeforeFit(t *testing.T) {
	f, err := NewLTSFDLinearForecaster(quickParams(8, 2))
	require.NoError(t, err)

	_, err = f.Predict(context.Background(), models.NewHorizon(2), nil)
	assert.ErrorIs(t, err, errors.ErrNotFitted)

	_, err = f.PredictWindows(context.Background(), trend(20), nil)
	assert.ErrorIs(t, err, errors.ErrNotFitted)

	assert.ErrorIs(t, f.Update(context.Background(), trend(5), nil), errors.ErrNotFitted)
	assert.ErrorIs(t, f.Save(&bytes.Buffer{}), errors.ErrNotFitted)
}

func TestNLinearPredictsConstantSeries(t *testing.T) {
	p := quickParams(8, 4)
	p.Optimizer = constants.OptimizerSGD
	p.LR = 1
	p.NumEpochs = 20
	f, err := NewLTSFNLinearForecaster(p)
	require.NoError(t, err)

	require.NoError(t, f.Fit(context.Background(), constant(40, 3.5), nil, models.NewHorizon(4)))
	forecast, err := f.Predict(context.Background(), nil, nil)
	require.NoError(t, err)
	for _, row := range forecast.Values {
		assert.InDelta(t, 3.5, row[0], 1e-6)
	}
}

func TestTooShortSeries(t *testing.T) {
	f, err := NewLTSFLinearForecaster(quickParams(8, 4))
	require.NoError(t, err)

	err = f.Fit(context.Background(), trend(11), nil, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))
}

func TestHyperparameterValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Hyperparameters)
		field  string
	}{
		{"unknown optimizer", func(h *Hyperparameters) { h.Optimizer = "Nadam" }, "optimizer"},
		{"unknown criterion", func(h *Hyperparameters) { h.Criterion = "Cosine" }, "criterion"},
		{"bad criterion kwarg", func(h *Hyperparameters) { h.CriterionKwargs = map[string]float64{"alpha": 1} }, "criterion"},
		{"bad optimizer kwarg", func(h *Hyperparameters) { h.OptimizerKwargs = map[string]float64{"gamma": 1} }, "optimizer"},
		{"negative lr", func(h *Hyperparameters) { h.LR = -1 }, "lr"},
		{"zero seq_len", func(h *Hyperparameters) { h.SeqLen = 0 }, "seq_len"},
		{"negative epochs", func(h *Hyperparameters) { h.NumEpochs = -2 }, "num_epochs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := quickParams(8, 2)
			tt.mutate(&p)
			_, err := NewLTSFLinearForecaster(p)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidHyperparameter)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestDLinearKernelMustBeOdd(t *testing.T) {
	p := quickParams(8, 2)
	p.KernelSize = 4

	_, err := NewLTSFDLinearForecaster(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kernel_size")

	_, err = NewLTSFLinearForecaster(p)
	assert.NoError(t, err, "kernel size only matters for DLinear")
}

func TestDefaultsFillZeroValues(t *testing.T) {
	f, err := NewLTSFLinearForecaster(Hyperparameters{SeqLen: 4, PredLen: 2, NumEpochs: 1})
	require.NoError(t, err)

	h := f.Hyperparameters()
	assert.Equal(t, constants.DefaultCriterion, h.Criterion)
	assert.Equal(t, constants.DefaultOptimizer, h.Optimizer)
	assert.Equal(t, constants.DefaultBatchSize, h.BatchSize)
	assert.Equal(t, 1, h.InChannels)
}

type plainDataset struct{}

func (plainDataset) Len() int {
	return 1
}

func (plainDataset) Item(int) (x, y [][]float64) {
	return nil, nil
}

type windowed struct {
	seqLen, predLen int
	builds          int
	ds              *dataset.WindowDataset
}

func (w *windowed) BuildDataset(values [][]float64) error {
	ds, err := dataset.NewWindowDataset(values, w.seqLen, w.predLen, false)
	if err != nil {
		return err
	}
	w.builds++
	w.ds = ds
	return nil
}

func (w *windowed) Len() int {
	return w.ds.Len()
}

func (w *windowed) Item(i int) (x, y [][]float64) {
	return w.ds.Item(i)
}

func TestCustomDatasetMustImplementBuild(t *testing.T) {
	f, err := NewLTSFLinearForecaster(quickParams(8, 2), WithCustomDataset(plainDataset{}))
	require.NoError(t, err)

	err = f.Fit(context.Background(), trend(40), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotImplemented)
	assert.Contains(t, err.Error(), "BuildDataset")
}

func TestCustomDatasets(t *testing.T) {
	train := &windowed{seqLen: 8, predLen: 2}
	pred := &windowed{seqLen: 8, predLen: 2}
	p := quickParams(8, 2)
	p.NumEpochs = 2
	f, err := NewLTSFLinearForecaster(p, WithCustomDataset(train), WithCustomPredictDataset(pred))
	require.NoError(t, err)

	require.NoError(t, f.Fit(context.Background(), trend(40), nil, models.NewHorizon(2)))
	assert.Equal(t, 1, train.builds)
	assert.Equal(t, 0, pred.builds)

	_, err = f.Predict(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, pred.builds)
	assert.Equal(t, 1, train.builds, "prediction must not rebuild the training dataset")

	rows, err := f.PredictWindows(context.Background(), trend(20), nil)
	require.NoError(t, err)
	assert.Len(t, rows, (20-8-2+1)*2)
	assert.Equal(t, 2, pred.builds)
}

func TestPredictWindowsAlignsWithYTrue(t *testing.T) {
	f, err := NewLTSFDLinearForecaster(quickParams(6, 3))
	require.NoError(t, err)
	require.NoError(t, f.Fit(context.Background(), trend(40), nil, nil))

	test := trend(25)
	predicted, err := f.PredictWindows(context.Background(), test, nil)
	require.NoError(t, err)
	actual, err := f.YTrue(test, nil)
	require.NoError(t, err)

	windows := 25 - 6 - 3 + 1
	require.Len(t, predicted, windows*3)
	require.Len(t, actual, windows*3)
	assert.Equal(t, []float64{10 + 0.5*6}, actual[0])
	assert.Equal(t, []float64{10 + 0.5*8}, actual[2])
	assert.Equal(t, []float64{10 + 0.5*7}, actual[3])
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, kind := range []string{constants.EstimatorLTSFLinear, constants.EstimatorLTSFDLinear, constants.EstimatorLTSFNLinear} {
		t.Run(kind, func(t *testing.T) {
			factory := NewFactory(nil)
			p := quickParams(8, 3)
			p.NumEpochs = 5
			fitted, err := factory.Create(kind, p)
			require.NoError(t, err)
			require.NoError(t, fitted.Fit(context.Background(), trend(50), nil, models.NewHorizon(3)))

			var buf bytes.Buffer
			require.NoError(t, fitted.Save(&buf))

			p.Seed = nn.Seed(99)
			restored, err := factory.Create(kind, p)
			require.NoError(t, err)
			require.NoError(t, restored.Load(&buf))
			assert.True(t, restored.IsFitted())
			assert.Equal(t, 8, restored.Hyperparameters().SeqLen)
			require.NotNil(t, restored.History())
			assert.Len(t, restored.History().Epochs, 5)

			want, err := fitted.Predict(context.Background(), nil, nil)
			require.NoError(t, err)
			got, err := restored.Predict(context.Background(), nil, nil)
			require.NoError(t, err)
			require.Equal(t, len(want.Values), len(got.Values))
			for i := range want.Values {
				assert.InDeltaSlice(t, want.Values[i], got.Values[i], 1e-9)
			}
			assert.Equal(t, want.Timestamps, got.Timestamps)
		})
	}
}

func TestLoadRejectsOtherKind(t *testing.T) {
	linear, err := NewLTSFLinearForecaster(quickParams(8, 2))
	require.NoError(t, err)
	require.NoError(t, linear.Fit(context.Background(), trend(30), nil, nil))

	var buf bytes.Buffer
	require.NoError(t, linear.Save(&buf))

	nlinear, err := NewLTSFNLinearForecaster(quickParams(8, 2))
	require.NoError(t, err)
	err = nlinear.Load(&buf)
	assert.ErrorIs(t, err, errors.ErrModelLoadFailed)
	assert.False(t, nlinear.IsFitted())
}

type memoryStore struct {
	data map[string][]byte
}

func (m *memoryStore) Connect(context.Context) error {
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

func (m *memoryStore) Ping(context.Context) error {
	return nil
}

func (m *memoryStore) Save(_ context.Context, key string, data []byte) error {
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *memoryStore) Load(_ context.Context, key string) ([]byte, error) {
	data, ok := m.data[key]
	if !ok {
		return nil, errors.ErrModelNotFound
	}
	return data, nil
}

func (m *memoryStore) List(context.Context, string) ([]models.ModelInfo, error) {
	return nil, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *memoryStore) GetMetrics(context.Context) (*interfaces.StorageMetrics, error) {
	return &interfaces.StorageMetrics{}, nil
}

func TestSaveToStore(t *testing.T) {
	f, err := NewLTSFLinearForecaster(quickParams(8, 2))
	require.NoError(t, err)
	require.NoError(t, f.Fit(context.Background(), trend(30), nil, models.NewHorizon(2)))

	assert.ErrorIs(t, f.SaveTo(context.Background(), nil, "m"), errors.ErrInvalidConfiguration)

	store := &memoryStore{data: map[string][]byte{}}
	require.NoError(t, f.SaveTo(context.Background(), store, "models/load"))
	require.Contains(t, store.data, "models/load")

	restored, err := NewLTSFLinearForecaster(quickParams(8, 2))
	require.NoError(t, err)
	require.NoError(t, restored.LoadFrom(context.Background(), store, "models/load"))
	assert.True(t, restored.IsFitted())

	assert.ErrorIs(t, restored.LoadFrom(context.Background(), store, "missing"), errors.ErrModelNotFound)
}

func TestFactoryRestore(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{data: map[string][]byte{}}

	f, err := NewLTSFDLinearForecaster(quickParams(8, 2))
	require.NoError(t, err)
	require.NoError(t, f.Fit(ctx, trend(30), nil, models.NewHorizon(2)))
	require.NoError(t, f.SaveTo(ctx, store, "dlinear"))

	factory := NewFactory(nil)
	restored, err := factory.Restore(ctx, store, "dlinear")
	require.NoError(t, err)
	assert.Equal(t, constants.EstimatorLTSFDLinear, restored.Kind())
	assert.Equal(t, 8, restored.Hyperparameters().SeqLen)

	want, err := f.Predict(ctx, nil, nil)
	require.NoError(t, err)
	got, err := restored.Predict(ctx, nil, nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want.Values[0], got.Values[0], 1e-9)

	_, err = factory.Restore(ctx, store, "missing")
	assert.ErrorIs(t, err, errors.ErrModelNotFound)

	_, err = factory.Restore(ctx, nil, "dlinear")
	assert.ErrorIs(t, err, errors.ErrInvalidConfiguration)
}

func TestUpdateExtendsContext(t *testing.T) {
	f, err := NewLTSFLinearForecaster(quickParams(8, 2))
	require.NoError(t, err)
	y := trend(40)
	require.NoError(t, f.Fit(context.Background(), y, nil, models.NewHorizon(1)))

	more := models.NewUnivariate("load", []float64{30, 30.5, 31}, start.Add(40*time.Hour), time.Hour)
	require.NoError(t, f.Update(context.Background(), more, nil))

	forecast, err := f.Predict(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, start.Add(43*time.Hour), forecast.Timestamps[0])
	assert.Equal(t, 40, y.Len(), "the caller's series is not modified")

	X := constant(3, 1)
	err = f.Update(context.Background(), more, X)
	assert.Error(t, err, "exogenous data was not part of the fit")
}

func TestExogenousChannels(t *testing.T) {
	y := trend(40)
	X := constant(40, 2)
	X.DataPoints[10].Values[0] = 3

	p := quickParams(8, 2)
	univariate, err := NewLTSFLinearForecaster(p)
	require.NoError(t, err)
	err = univariate.Fit(context.Background(), y, X, nil)
	require.Error(t, err, "in_channels does not count the exogenous column")
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))

	p.InChannels = 2
	p.Individual = true
	f, err := NewLTSFLinearForecaster(p)
	require.NoError(t, err)
	require.NoError(t, f.Fit(context.Background(), y, X, models.NewHorizon(2)))

	forecast, err := f.Predict(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, forecast.Values, 2)
	assert.Len(t, forecast.Values[0], 1, "only target channels are returned")

	_, err = f.Predict(context.Background(), nil, constant(8, 5))
	require.NoError(t, err)

	_, err = f.Predict(context.Background(), nil, constant(4, 5))
	require.Error(t, err, "exogenous context shorter than seq_len")

	rows, err := f.PredictWindows(context.Background(), y, X)
	require.NoError(t, err)
	require.Len(t, rows, (40-8-2+1)*2)
	assert.Len(t, rows[0], 2)
}

func TestFitHonoursCancellation(t *testing.T) {
	observer := &recordingObserver{}
	f, err := NewLTSFLinearForecaster(quickParams(8, 2), WithObserver(observer))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = f.Fit(ctx, trend(40), nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, f.IsFitted())
	assert.Equal(t, 1, observer.fits)
	assert.ErrorIs(t, observer.fitErr, context.Canceled)
}

func TestFactory(t *testing.T) {
	factory := NewFactory(nil)
	assert.Equal(t, []string{
		constants.EstimatorLTSFDLinear,
		constants.EstimatorLTSFLinear,
		constants.EstimatorLTSFNLinear,
	}, factory.Available())
	assert.True(t, factory.IsSupported(constants.EstimatorLTSFNLinear))

	_, err := factory.Create("Prophet", quickParams(8, 2))
	assert.ErrorIs(t, err, errors.ErrUnknownEstimator)

	_, err = factory.Create(constants.EstimatorLTSFLinear, Hyperparameters{})
	assert.Error(t, err)

	assert.Error(t, factory.Register("", nil))
	assert.Error(t, factory.Register("custom", nil))
	require.NoError(t, factory.Register("custom", func(p Hyperparameters, opts ...Option) (Forecaster, error) {
		fc, err := NewLTSFNLinearForecaster(p, opts...)
		if err != nil {
			return nil, err
		}
		return fc, nil
	}))
	f, err := factory.Create("custom", quickParams(8, 2))
	require.NoError(t, err)
	assert.Equal(t, constants.EstimatorLTSFNLinear, f.Kind())
}

func TestSmokeParams(t *testing.T) {
	factory := NewFactory(nil)
	for _, kind := range factory.Available() {
		for i, p := range TestParams() {
			f, err := factory.Create(kind, p)
			require.NoError(t, err, "%s params %d", kind, i)
			fh := models.NewHorizon(p.PredLen)
			require.NoError(t, f.Fit(context.Background(), trend(30), nil, fh), "%s params %d", kind, i)
			forecast, err := f.Predict(context.Background(), nil, nil)
			require.NoError(t, err)
			assert.Len(t, forecast.Values, p.PredLen)
		}
	}
}
