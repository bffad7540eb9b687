package regression

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/internal/nn"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/models"
)

func smallParams() TapNetParams {
	p := DefaultTapNetParams()
	p.NEpochs = 40
	p.BatchSize = 8
	p.Dropout = 0
	p.FilterSizes = []int{4, 4, 2}
	p.KernelSizes = []int{3, 3, 2}
	p.Layers = []int{6}
	p.LSTMDim = 3
	p.Shuffle = false
	p.RandomState = nn.Seed(3)
	return p
}

// makePanel returns n instances of d dimensions and length m whose target is
// the mean of the first dimension.
func makePanel(t *testing.T, n, d, m int, seed int64) (*models.Panel, []float64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	instances := make([][][]float64, n)
	targets := make([]float64, n)
	for i := range instances {
		instances[i] = make([][]float64, d)
		for j := range instances[i] {
			instances[i][j] = make([]float64, m)
			for k := range instances[i][j] {
				instances[i][j][k] = rng.Float64()
			}
		}
		sum := 0.0
		for _, v := range instances[i][0] {
			sum += v
		}
		targets[i] = sum / float64(m)
	}
	panel, err := models.NewPanel(instances)
	require.NoError(t, err)
	return panel, targets
}

func TestDefaultTapNetParams(t *testing.T) {
	p := DefaultTapNetParams()
	assert.Equal(t, 2000, p.NEpochs)
	assert.Equal(t, 16, p.BatchSize)
	assert.Equal(t, 0.5, p.Dropout)
	assert.Equal(t, []int{256, 256, 128}, p.FilterSizes)
	assert.Equal(t, []int{8, 5, 3}, p.KernelSizes)
	assert.Equal(t, []int{500, 300}, p.Layers)
	assert.Equal(t, [2]int{-1, 3}, p.RPParams)
	assert.Equal(t, "same", p.Padding)
	assert.Equal(t, "mean_squared_error", p.Loss)
	assert.Equal(t, constants.OptimizerAdam, p.Optimizer)
	assert.Equal(t, 0.01, p.LR)
	assert.True(t, p.UseRP && p.UseBias && p.UseAtt && p.UseLSTM && p.UseCNN)
	assert.NoError(t, p.Validate())

	p.FilterSizes[0] = 1
	assert.Equal(t, 256, DefaultTapNetParams().FilterSizes[0], "defaults are not shared")
}

func TestTapNetParamsValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TapNetParams)
		field  string
	}{
		{"negative epochs", func(p *TapNetParams) { p.NEpochs = -1 }, "n_epochs"},
		{"dropout of one", func(p *TapNetParams) { p.Dropout = 1 }, "dropout"},
		{"no branch", func(p *TapNetParams) { p.UseLSTM, p.UseCNN = false, false }, "use_cnn"},
		{"two kernels", func(p *TapNetParams) { p.KernelSizes = []int{3, 3} }, "kernel_size"},
		{"unknown padding", func(p *TapNetParams) { p.Padding = "causal" }, "padding"},
		{"unknown loss", func(p *TapNetParams) { p.Loss = "hinge" }, "loss"},
		{"unknown optimizer", func(p *TapNetParams) { p.Optimizer = "RMSprop" }, "optimizer"},
		{"unknown activation", func(p *TapNetParams) { p.Activation = "softmax" }, "activation"},
		{"empty projection", func(p *TapNetParams) { p.RPParams = [2]int{2, 0} }, "rp_params"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := smallParams()
			tt.mutate(&p)
			_, err := NewTapNetRegressor(p)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidHyperparameter)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestTapNetFitReducesLoss(t *testing.T) {
	panel, y := makePanel(t, 24, 3, 6, 1)
	r, err := NewTapNetRegressor(smallParams())
	require.NoError(t, err)
	assert.Equal(t, constants.EstimatorTapNet, r.Kind())

	require.NoError(t, r.Fit(context.Background(), panel, y))
	require.True(t, r.IsFitted())
	history := r.History()
	require.Len(t, history.Epochs, 40)
	assert.Less(t, history.FinalLoss(), history.Epochs[0].Loss)

	predictions, err := r.Predict(context.Background(), panel)
	require.NoError(t, err)
	assert.Len(t, predictions, 24)
}

func TestTapNetBranches(t *testing.T) {
	panel, y := makePanel(t, 10, 4, 8, 2)
	tests := []struct {
		name   string
		mutate func(*TapNetParams)
	}{
		{"lstm only", func(p *TapNetParams) { p.UseCNN = false }},
		{"cnn only", func(p *TapNetParams) { p.UseLSTM = false }},
		{"no attention", func(p *TapNetParams) { p.UseAtt = false }},
		{"no projection", func(p *TapNetParams) { p.UseRP = false }},
		{"explicit projection", func(p *TapNetParams) { p.RPParams = [2]int{2, 2} }},
		{"valid padding", func(p *TapNetParams) { p.Padding = constants.PaddingValid }},
		{"no output bias", func(p *TapNetParams) { p.UseBias = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := smallParams()
			p.NEpochs = 2
			tt.mutate(&p)
			r, err := NewTapNetRegressor(p)
			require.NoError(t, err)
			require.NoError(t, r.Fit(context.Background(), panel, y))
			predictions, err := r.Predict(context.Background(), panel)
			require.NoError(t, err)
			assert.Len(t, predictions, 10)
		})
	}
}

func TestTapNetSaveLoad(t *testing.T) {
	panel, y := makePanel(t, 12, 3, 6, 4)
	p := smallParams()
	p.NEpochs = 5
	fitted, err := NewTapNetRegressor(p)
	require.NoError(t, err)
	require.NoError(t, fitted.Fit(context.Background(), panel, y))

	var buf bytes.Buffer
	require.NoError(t, fitted.Save(&buf))

	other := smallParams()
	other.RandomState = nn.Seed(11)
	other.NEpochs = 1
	restored, err := NewTapNetRegressor(other)
	require.NoError(t, err)
	require.NoError(t, restored.Load(&buf))
	assert.Equal(t, 5, restored.Params().NEpochs)
	require.NotNil(t, restored.History())

	want, err := fitted.Predict(context.Background(), panel)
	require.NoError(t, err)
	got, err := restored.Predict(context.Background(), panel)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-9)
}

func TestTapNetLoadRejectsOtherKind(t *testing.T) {
	r, err := NewTapNetRegressor(smallParams())
	require.NoError(t, err)

	err = r.LoadArtifact(&models.Artifact{Kind: constants.EstimatorLTSFLinear})
	assert.ErrorIs(t, err, errors.ErrModelLoadFailed)
	assert.False(t, r.IsFitted())
}

func TestTapNetInputValidation(t *testing.T) {
	panel, y := makePanel(t, 6, 3, 6, 5)
	p := smallParams()
	p.NEpochs = 1
	r, err := NewTapNetRegressor(p)
	require.NoError(t, err)

	_, err = r.Predict(context.Background(), panel)
	assert.ErrorIs(t, err, errors.ErrNotFitted)
	assert.ErrorIs(t, r.Save(&bytes.Buffer{}), errors.ErrNotFitted)

	err = r.Fit(context.Background(), panel, y[:4])
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))

	err = r.Fit(context.Background(), nil, nil)
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))

	require.NoError(t, r.Fit(context.Background(), panel, y))
	wider, _ := makePanel(t, 2, 4, 6, 6)
	_, err = r.Predict(context.Background(), wider)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))

	short, shortY := makePanel(t, 4, 3, 3, 7)
	p.Padding = constants.PaddingValid
	valid, err := NewTapNetRegressor(p)
	require.NoError(t, err)
	err = valid.Fit(context.Background(), short, shortY)
	require.Error(t, err, "kernels do not fit a series of length 3")
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))
}

func TestTapNetFitHonoursCancellation(t *testing.T) {
	panel, y := makePanel(t, 8, 3, 6, 8)
	r, err := NewTapNetRegressor(smallParams())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Fit(ctx, panel, y), context.Canceled)
	assert.False(t, r.IsFitted())
}

// Run with -race: layers cache their inputs during forward passes.
func TestTapNetConcurrentPredict(t *testing.T) {
	panel, y := makePanel(t, 8, 3, 6, 6)
	p := smallParams()
	p.NEpochs = 2
	r, err := NewTapNetRegressor(p)
	require.NoError(t, err)
	require.NoError(t, r.Fit(context.Background(), panel, y))

	want, err := r.Predict(context.Background(), panel)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Predict(context.Background(), panel)
			if assert.NoError(t, err) {
				assert.Equal(t, want, got)
			}
		}()
	}
	wg.Wait()
}

func TestTapNetLoadArtifactValidatesParams(t *testing.T) {
	panel, y := makePanel(t, 8, 3, 6, 7)
	p := smallParams()
	p.NEpochs = 1
	fitted, err := NewTapNetRegressor(p)
	require.NoError(t, err)
	require.NoError(t, fitted.Fit(context.Background(), panel, y))

	artifact, err := fitted.Artifact()
	require.NoError(t, err)
	var hp map[string]interface{}
	require.NoError(t, json.Unmarshal(artifact.Hyperparameters, &hp))
	hp["batch_size"] = 0
	artifact.Hyperparameters, err = json.Marshal(hp)
	require.NoError(t, err)

	restored, err := NewTapNetRegressor(smallParams())
	require.NoError(t, err)
	err = restored.LoadArtifact(artifact)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))
	assert.False(t, restored.IsFitted())
}
