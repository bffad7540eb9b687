package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tsforecast/pkg/errors"
)

func TestMovingAveragePreservesLength(t *testing.T) {
	x := TensorFrom([]float64{1, 2, 3, 4, 5}, 1, 5, 1)
	trend := NewMovingAverage(3).Forward(x)

	require.Equal(t, 5, trend.T)
	// edges repeat the first and last values
	assert.InDelta(t, (1.0+1+2)/3, trend.At(0, 0, 0), 1e-12)
	assert.InDelta(t, 2.0, trend.At(0, 1, 0), 1e-12)
	assert.InDelta(t, (4.0+5+5)/3, trend.At(0, 4, 0), 1e-12)
}

func TestMovingAverageKernelLongerThanSeries(t *testing.T) {
	x := TensorFrom([]float64{2, 2, 2}, 1, 3, 1)
	trend := NewMovingAverage(25).Forward(x)
	require.Equal(t, 3, trend.T)
	for _, v := range trend.Data {
		assert.InDelta(t, 2.0, v, 1e-12)
	}
}

func TestSeriesDecompSumsToInput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	x := randomTensor(rng, 3, 10, 2)
	seasonal, trend := NewSeriesDecomp(5).Forward(x)
	for i := range x.Data {
		assert.InDelta(t, x.Data[i], seasonal.Data[i]+trend.Data[i], 1e-12)
	}
}

func TestChannelMajorRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	x := randomTensor(rng, 2, 4, 3)
	back := FromChannelMajor(x.ChannelMajor(), 2, 3)
	assert.Equal(t, x.Data, back.Data)
}

func TestLosses(t *testing.T) {
	pred := []float64{0, 2, -3}
	target := []float64{0, 0, 0}

	tests := []struct {
		name string
		want float64
	}{
		{"MSE", (0 + 4 + 9) / 3.0},
		{"L1", (0 + 2 + 3) / 3.0},
		{"SmoothL1", (0 + 1.5 + 2.5) / 3.0},
		{"Huber", (0 + 1.5 + 2.5) / 3.0},
		{"mean_squared_error", (0 + 4 + 9) / 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loss, err := NewLoss(tt.name, nil)
			require.NoError(t, err)
			got, grad := loss.Forward(pred, target)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.Len(t, grad, 3)
			assert.Equal(t, 0.0, grad[0])
		})
	}
}

func TestLossKwargs(t *testing.T) {
	loss, err := NewLoss("Huber", map[string]float64{"delta": 2, "reduction": 1})
	require.NoError(t, err)
	got, _ := loss.Forward([]float64{1, 3}, []float64{0, 0})
	assert.InDelta(t, 0.5+2*(3-1), got, 1e-12)

	_, err = NewLoss("MSE", map[string]float64{"beta": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "beta")
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))
}

func TestUnknownLoss(t *testing.T) {
	_, err := NewLoss("CrossEntropy", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CrossEntropy")
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))
}

// quadratic minimises ||w - target||² from w = 0
func quadratic(t *testing.T, opt Optimizer, steps int) float64 {
	t.Helper()
	p := NewParam("w", 1, 2)
	target := []float64{1, -2}
	for i := 0; i < steps; i++ {
		opt.ZeroGrad([]*Param{p})
		w := p.Value.RawRowView(0)
		g := p.Grad.RawRowView(0)
		for j := range w {
			g[j] = 2 * (w[j] - target[j])
		}
		opt.Step([]*Param{p})
	}
	w := p.Value.RawRowView(0)
	return (w[0]-target[0])*(w[0]-target[0]) + (w[1]-target[1])*(w[1]-target[1])
}

func TestOptimizersConverge(t *testing.T) {
	tests := []struct {
		name   string
		lr     float64
		kwargs map[string]float64
	}{
		{"SGD", 0.1, nil},
		{"SGD", 0.05, map[string]float64{"momentum": 0.9, "nesterov": 1}},
		{"Adam", 0.1, nil},
		{"AdamW", 0.1, map[string]float64{"weight_decay": 0}},
		{"Adagrad", 0.5, nil},
		{"Adadelta", 1.0, map[string]float64{"rho": 0.5, "eps": 1e-2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt, err := NewOptimizer(tt.name, tt.lr, tt.kwargs)
			require.NoError(t, err)
			assert.Equal(t, tt.name, opt.Name())
			assert.Less(t, quadratic(t, opt, 500), 1e-2)
		})
	}
}

func TestOptimizerValidation(t *testing.T) {
	_, err := NewOptimizer("RMSprop", 0.01, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RMSprop")

	_, err = NewOptimizer("Adam", 0.01, map[string]float64{"momentum": 0.9})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "momentum")

	_, err = NewOptimizer("Adam", 0, nil)
	require.Error(t, err)

	opt, err := NewOptimizer("adam", 0.01, nil)
	require.NoError(t, err)
	assert.Equal(t, "Adam", opt.Name())
}

func TestAdamDefaults(t *testing.T) {
	opt, err := NewOptimizer("AdamW", 0.01, map[string]float64{"beta1": 0.8})
	require.NoError(t, err)
	adam := opt.(*Adam)
	assert.Equal(t, 0.8, adam.Beta1)
	assert.Equal(t, 0.999, adam.Beta2)
	assert.Equal(t, 1e-8, adam.Eps)
	assert.Equal(t, 0.01, adam.WeightDecay)
	assert.True(t, adam.Decoupled)
}

func TestStateRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	src := NewLinear("fc", 3, 2, rng)
	data, err := MarshalState(src.Parameters())
	require.NoError(t, err)

	dst := NewLinear("fc", 3, 2, rng)
	require.NoError(t, UnmarshalState(data, dst.Parameters()))
	assert.True(t, mat.Equal(src.Weight.Value, dst.Weight.Value))
	assert.True(t, mat.Equal(src.Bias.Value, dst.Bias.Value))

	wrong := NewLinear("fc", 4, 2, rng)
	err = UnmarshalState(data, wrong.Parameters())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shape")
}

func TestDropout(t *testing.T) {
	d := NewDropout(0.5, rand.New(rand.NewSource(10)))
	x := mat.NewDense(1, 1000, nil)
	for j := 0; j < 1000; j++ {
		x.Set(0, j, 1)
	}

	assert.True(t, mat.Equal(x, d.Forward(x, false)))

	out := d.Forward(x, true)
	zeros := 0
	for _, v := range Flatten(out) {
		if v == 0 {
			zeros++
		} else {
			assert.Equal(t, 2.0, v)
		}
	}
	assert.InDelta(t, 500, zeros, 100)
}

func TestGlobalAvgPool(t *testing.T) {
	x := TensorFrom([]float64{1, 10, 3, 20}, 1, 2, 2)
	var pool GlobalAvgPool1D
	out := pool.Forward(x)
	assert.Equal(t, []float64{2, 15}, Flatten(out))

	dx := pool.Backward(mat.NewDense(1, 2, []float64{1, 2}))
	assert.Equal(t, []float64{0.5, 1, 0.5, 1}, dx.Data)
}
