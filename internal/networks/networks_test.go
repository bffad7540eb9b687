package networks

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tsforecast/internal/nn"
)

func randomInput(rng *rand.Rand, b, t, c int) *nn.Tensor {
	x := nn.NewTensor(b, t, c)
	for i := range x.Data {
		x.Data[i] = rng.NormFloat64()
	}
	return x
}

func TestLTSFShapesAndParameterCounts(t *testing.T) {
	cfg := LTSFConfig{SeqLen: 12, PredLen: 4, Channels: 3, KernelSize: 5}
	rng := rand.New(rand.NewSource(1))
	x := randomInput(rng, 2, 12, 3)

	tests := []struct {
		name       string
		build      func(LTSFConfig) (SequenceNetwork, error)
		heads      int
		individual bool
	}{
		{"linear shared", func(c LTSFConfig) (SequenceNetwork, error) { return NewLinearNet(c, rng) }, 1, false},
		{"linear individual", func(c LTSFConfig) (SequenceNetwork, error) { return NewLinearNet(c, rng) }, 1, true},
		{"dlinear shared", func(c LTSFConfig) (SequenceNetwork, error) { return NewDLinearNet(c, rng) }, 2, false},
		{"dlinear individual", func(c LTSFConfig) (SequenceNetwork, error) { return NewDLinearNet(c, rng) }, 2, true},
		{"nlinear shared", func(c LTSFConfig) (SequenceNetwork, error) { return NewNLinearNet(c, rng) }, 1, false},
		{"nlinear individual", func(c LTSFConfig) (SequenceNetwork, error) { return NewNLinearNet(c, rng) }, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg
			c.Individual = tt.individual
			net, err := tt.build(c)
			require.NoError(t, err)

			out := net.Forward(x, false)
			assert.Equal(t, []int{2, 4, 3}, []int{out.B, out.T, out.C})

			perHead := 12*4 + 4
			sets := 1
			if tt.individual {
				sets = 3
			}
			assert.Equal(t, tt.heads*sets*perHead, nn.CountParams(net))
			assert.Len(t, net.Parameters(), tt.heads*sets*2)
		})
	}
}

func TestLTSFValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	_, err := NewLinearNet(LTSFConfig{SeqLen: 0, PredLen: 1, Channels: 1}, rng)
	assert.Error(t, err)

	_, err = NewDLinearNet(LTSFConfig{SeqLen: 8, PredLen: 2, Channels: 1, KernelSize: 4}, rng)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kernel_size")
}

func TestNLinearShiftEquivariance(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	net, err := NewNLinearNet(LTSFConfig{SeqLen: 6, PredLen: 3, Channels: 2}, rng)
	require.NoError(t, err)

	x := randomInput(rng, 1, 6, 2)
	shifted := x.Clone()
	for i := range shifted.Data {
		shifted.Data[i] += 100
	}
	a := net.Forward(x, false)
	b := net.Forward(shifted, false)
	for i := range a.Data {
		assert.InDelta(t, a.Data[i]+100, b.Data[i], 1e-9)
	}
}

func TestDLinearIndividualChannelsAreIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	net, err := NewDLinearNet(LTSFConfig{SeqLen: 8, PredLen: 2, Channels: 2, Individual: true, KernelSize: 3}, rng)
	require.NoError(t, err)

	x := randomInput(rng, 1, 8, 2)
	before := net.Forward(x, false)
	for step := 0; step < 8; step++ {
		x.Add(0, step, 1, 5)
	}
	after := net.Forward(x, false)
	for step := 0; step < 2; step++ {
		assert.Equal(t, before.At(0, step, 0), after.At(0, step, 0))
	}
}

func smallTapNetConfig() TapNetConfig {
	return TapNetConfig{
		Channels:     3,
		SeqLen:       6,
		Outputs:      1,
		Filters:      []int{4, 4, 2},
		Kernels:      []int{3, 3, 2},
		Dilation:     1,
		Padding:      "same",
		Layers:       []int{5, 3},
		LSTMDim:      3,
		Slope:        0.3,
		Activation:   "linear",
		UseRP:        true,
		RPGroups:     -1,
		UseLSTM:      true,
		UseCNN:       true,
		UseAttention: true,
		UseBias:      true,
	}
}

func TestTapNetRandomProjectionGroups(t *testing.T) {
	cfg := smallTapNetConfig()
	groups, dim := cfg.RandomProjection()
	assert.Equal(t, 3, groups)
	assert.Equal(t, 2, dim)

	cfg.Channels = 1
	_, dim = cfg.RandomProjection()
	assert.Equal(t, 1, dim)

	cfg.UseRP = false
	groups, dim = cfg.RandomProjection()
	assert.Equal(t, 1, groups)
	assert.Equal(t, 1, dim)
}

func TestTapNetForwardAndRebuild(t *testing.T) {
	net, err := NewTapNet(smallTapNetConfig(), rand.New(rand.NewSource(5)))
	require.NoError(t, err)

	resolved := net.Config()
	require.Len(t, resolved.GroupIndices, 3)
	for _, idx := range resolved.GroupIndices {
		assert.Len(t, idx, 2)
	}

	x := randomInput(rand.New(rand.NewSource(6)), 4, 6, 3)
	out := net.Forward(x, false)
	r, c := out.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 1, c)

	rebuilt, err := NewTapNet(resolved, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	assert.Equal(t, resolved.GroupIndices, rebuilt.Config().GroupIndices)
	assert.Equal(t, nn.CountParams(net), nn.CountParams(rebuilt))
}

func TestTapNetValidation(t *testing.T) {
	cfg := smallTapNetConfig()
	cfg.UseLSTM, cfg.UseCNN = false, false
	_, err := NewTapNet(cfg, rand.New(rand.NewSource(8)))
	assert.Error(t, err)

	cfg = smallTapNetConfig()
	cfg.Padding = "valid"
	cfg.Kernels = []int{3, 3, 3}
	_, err = NewTapNet(cfg, rand.New(rand.NewSource(8)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}

func TestTapNetParameterGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	net, err := NewTapNet(smallTapNetConfig(), rng)
	require.NoError(t, err)

	x := randomInput(rng, 2, 6, 3)
	weights := mat.NewDense(2, 1, []float64{0.7, -1.3})
	f := func() float64 {
		out := net.Forward(x, false)
		return out.At(0, 0)*weights.At(0, 0) + out.At(1, 0)*weights.At(1, 0)
	}

	f()
	nn.ZeroGrads(net.Parameters())
	net.Backward(weights)

	const eps = 1e-6
	for _, p := range net.Parameters() {
		w := p.Value.RawMatrix().Data
		g := append([]float64(nil), p.Grad.RawMatrix().Data...)
		// a handful of entries per parameter keeps the check fast
		for i := 0; i < len(w); i += max(1, len(w)/5) {
			orig := w[i]
			w[i] = orig + eps
			up := f()
			w[i] = orig - eps
			down := f()
			w[i] = orig
			numeric := (up - down) / (2 * eps)
			tol := 1e-4 * math.Max(1, math.Abs(numeric))
			assert.InDelta(t, numeric, g[i], tol, p.Name)
		}
	}
}
