package forecasting

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/internal/nn"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/models"
)

// Run with -race: layers cache their inputs during forward passes.
func TestConcurrentPredict(t *testing.T) {
	f, err := NewLTSFDLinearForecaster(quickParams(8, 2))
	require.NoError(t, err)
	require.NoError(t, f.Fit(context.Background(), trend(48), nil, models.NewHorizon(2)))

	want, err := f.Predict(context.Background(), nil, nil)
	require.NoError(t, err)
	wantRows, err := f.PredictWindows(context.Background(), trend(20), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			got, err := f.Predict(context.Background(), nil, nil)
			if err == nil {
				assert.Equal(t, want.Values, got.Values)
			}
			errs <- err
		}()
		go func() {
			defer wg.Done()
			rows, err := f.PredictWindows(context.Background(), trend(20), nil)
			if err == nil {
				assert.Equal(t, wantRows, rows)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestUpdateRejectsEarlierObservations(t *testing.T) {
	f, err := NewLTSFLinearForecaster(quickParams(8, 2))
	require.NoError(t, err)
	require.NoError(t, f.Fit(context.Background(), trend(48), nil, models.NewHorizon(1)))

	err = f.Update(context.Background(), trend(3), nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))

	forecast, err := f.Predict(context.Background(), nil, nil)
	require.NoError(t, err, "a rejected update leaves the context untouched")
	assert.Equal(t, start.Add(48*time.Hour), forecast.Timestamps[0])
}

func TestUpdateRejectsEarlierExogenousObservations(t *testing.T) {
	p := quickParams(8, 2)
	p.InChannels = 2
	f, err := NewLTSFLinearForecaster(p)
	require.NoError(t, err)
	require.NoError(t, f.Fit(context.Background(), trend(40), constant(40, 1), nil))

	more := models.NewUnivariate("load", []float64{30, 30.5}, start.Add(40*time.Hour), time.Hour)
	err = f.Update(context.Background(), more, constant(2, 1))
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))

	_, err = f.Predict(context.Background(), models.NewHorizon(1), nil)
	assert.NoError(t, err)
}

// everyOther keeps every second window of the default windowing
type everyOther struct {
	inner windowed
}

func (e *everyOther) BuildDataset(values [][]float64) error {
	return e.inner.BuildDataset(values)
}

func (e *everyOther) Len() int {
	return (e.inner.Len() + 1) / 2
}

func (e *everyOther) Item(i int) (x, y [][]float64) {
	return e.inner.Item(2 * i)
}

func TestYTrueFollowsCustomPredictDataset(t *testing.T) {
	p := quickParams(8, 2)
	p.Scale = false
	p.NumEpochs = 3
	f, err := NewLTSFLinearForecaster(p,
		WithCustomPredictDataset(&everyOther{inner: windowed{seqLen: 8, predLen: 2}}))
	require.NoError(t, err)
	require.NoError(t, f.Fit(context.Background(), trend(40), nil, nil))

	y := trend(40)
	predicted, err := f.PredictWindows(context.Background(), y, nil)
	require.NoError(t, err)
	actual, err := f.YTrue(y, nil)
	require.NoError(t, err)

	windows := (40 - 8 - 2 + 2) / 2
	require.Len(t, predicted, windows*2)
	require.Len(t, actual, windows*2)
	assert.Equal(t, []float64{10 + 0.5*8}, actual[0])
	assert.Equal(t, []float64{10 + 0.5*10}, actual[2])

	scores, err := Evaluate(context.Background(), f, y, nil)
	require.NoError(t, err)
	assert.Equal(t, windows*2, scores.Samples)
}

func TestSeedZeroIsReproducible(t *testing.T) {
	predict := func() []float64 {
		p := quickParams(8, 2)
		p.Seed = nn.Seed(0)
		p.Shuffle = true
		f, err := NewLTSFLinearForecaster(p)
		require.NoError(t, err)
		require.NoError(t, f.Fit(context.Background(), trend(40), nil, models.NewHorizon(2)))
		forecast, err := f.Predict(context.Background(), nil, nil)
		require.NoError(t, err)
		return []float64{forecast.Values[0][0], forecast.Values[1][0]}
	}
	assert.Equal(t, predict(), predict())
}

func TestReloadedShortContextKeepsTimestamps(t *testing.T) {
	y := trend(20)
	y.Frequency = ""
	p := quickParams(1, 2)
	p.NumEpochs = 2
	f, err := NewLTSFNLinearForecaster(p)
	require.NoError(t, err)
	require.NoError(t, f.Fit(context.Background(), y, nil, models.NewHorizon(2)))

	artifact, err := f.Artifact()
	require.NoError(t, err)
	restored, err := NewLTSFNLinearForecaster(p)
	require.NoError(t, err)
	require.NoError(t, restored.LoadArtifact(artifact))

	forecast, err := restored.Predict(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, forecast.Timestamps, 2)
	assert.Equal(t, start.Add(20*time.Hour), forecast.Timestamps[0])
	assert.Equal(t, start.Add(21*time.Hour), forecast.Timestamps[1])
}

func TestLoadArtifactValidatesHyperparameters(t *testing.T) {
	p := quickParams(8, 2)
	p.NumEpochs = 2
	f, err := NewLTSFLinearForecaster(p)
	require.NoError(t, err)
	require.NoError(t, f.Fit(context.Background(), trend(40), nil, nil))

	artifact, err := f.Artifact()
	require.NoError(t, err)
	var hp map[string]interface{}
	require.NoError(t, json.Unmarshal(artifact.Hyperparameters, &hp))
	hp["batch_size"] = 0
	artifact.Hyperparameters, err = json.Marshal(hp)
	require.NoError(t, err)

	restored, err := NewLTSFLinearForecaster(p)
	require.NoError(t, err)
	err = restored.LoadArtifact(artifact)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))
	assert.Contains(t, err.Error(), "invalid hyperparameters")
	assert.False(t, restored.IsFitted())
}
