package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Activation is an elementwise nonlinearity
type Activation struct {
	Kind  string
	Slope float64 // negative slope of leaky_relu

	in, out []float64
}

// NewActivation returns the named activation. Supported kinds are linear,
// relu, leaky_relu, sigmoid and tanh.
func NewActivation(kind string, slope float64) (*Activation, error) {
	switch kind {
	case "linear", "relu", "leaky_relu", "sigmoid", "tanh":
		return &Activation{Kind: kind, Slope: slope}, nil
	default:
		return nil, fmt.Errorf("unsupported activation %q", kind)
	}
}

func (a *Activation) apply(data []float64) []float64 {
	a.in = data
	out := make([]float64, len(data))
	for i, v := range data {
		switch a.Kind {
		case "relu":
			out[i] = math.Max(0, v)
		case "leaky_relu":
			if v < 0 {
				v *= a.Slope
			}
			out[i] = v
		case "sigmoid":
			out[i] = sigmoid(v)
		case "tanh":
			out[i] = math.Tanh(v)
		default:
			out[i] = v
		}
	}
	a.out = out
	return out
}

func (a *Activation) grad(dy []float64) []float64 {
	dx := make([]float64, len(dy))
	for i, g := range dy {
		switch a.Kind {
		case "relu":
			if a.in[i] > 0 {
				dx[i] = g
			}
		case "leaky_relu":
			if a.in[i] < 0 {
				dx[i] = g * a.Slope
			} else {
				dx[i] = g
			}
		case "sigmoid":
			dx[i] = g * a.out[i] * (1 - a.out[i])
		case "tanh":
			dx[i] = g * (1 - a.out[i]*a.out[i])
		default:
			dx[i] = g
		}
	}
	return dx
}

// Forward applies the activation to a matrix
func (a *Activation) Forward(x *mat.Dense, train bool) *mat.Dense {
	r, c := x.Dims()
	return mat.NewDense(r, c, a.apply(Flatten(x)))
}

// Backward returns dL/dx for a matrix gradient
func (a *Activation) Backward(dy *mat.Dense) *mat.Dense {
	r, c := dy.Dims()
	return mat.NewDense(r, c, a.grad(Flatten(dy)))
}

// ForwardSeq applies the activation to a sequence batch
func (a *Activation) ForwardSeq(x *Tensor, train bool) *Tensor {
	return TensorFrom(a.apply(x.Data), x.B, x.T, x.C)
}

// BackwardSeq returns dL/dx for a sequence gradient
func (a *Activation) BackwardSeq(dy *Tensor) *Tensor {
	return TensorFrom(a.grad(dy.Data), dy.B, dy.T, dy.C)
}

// Dropout zeroes a fraction Rate of its inputs during training and rescales
// the survivors by 1/(1-Rate). It is the identity at inference.
type Dropout struct {
	Rate float64

	rng  *rand.Rand
	mask []float64
}

// NewDropout creates a dropout layer
func NewDropout(rate float64, rng *rand.Rand) *Dropout {
	return &Dropout{Rate: rate, rng: rng}
}

func (d *Dropout) apply(data []float64, train bool) []float64 {
	out := append([]float64(nil), data...)
	if !train || d.Rate <= 0 {
		d.mask = nil
		return out
	}
	keep := 1 - d.Rate
	d.mask = make([]float64, len(data))
	for i := range out {
		if d.rng.Float64() < keep {
			d.mask[i] = 1 / keep
		}
		out[i] *= d.mask[i]
	}
	return out
}

func (d *Dropout) grad(dy []float64) []float64 {
	dx := append([]float64(nil), dy...)
	if d.mask == nil {
		return dx
	}
	for i := range dx {
		dx[i] *= d.mask[i]
	}
	return dx
}

// Forward applies dropout to a matrix
func (d *Dropout) Forward(x *mat.Dense, train bool) *mat.Dense {
	r, c := x.Dims()
	return mat.NewDense(r, c, d.apply(Flatten(x), train))
}

// Backward returns dL/dx for a matrix gradient
func (d *Dropout) Backward(dy *mat.Dense) *mat.Dense {
	r, c := dy.Dims()
	return mat.NewDense(r, c, d.grad(Flatten(dy)))
}

// ForwardSeq applies dropout to a sequence batch
func (d *Dropout) ForwardSeq(x *Tensor, train bool) *Tensor {
	return TensorFrom(d.apply(x.Data, train), x.B, x.T, x.C)
}

// BackwardSeq returns dL/dx for a sequence gradient
func (d *Dropout) BackwardSeq(dy *Tensor) *Tensor {
	return TensorFrom(d.grad(dy.Data), dy.B, dy.T, dy.C)
}

// GlobalAvgPool1D averages a sequence batch over time, producing a B×C matrix
type GlobalAvgPool1D struct {
	t int
}

// Forward returns the per-channel time average of x
func (g *GlobalAvgPool1D) Forward(x *Tensor) *mat.Dense {
	g.t = x.T
	out := mat.NewDense(x.B, x.C, nil)
	if x.T == 0 {
		return out
	}
	inv := 1 / float64(x.T)
	for b := 0; b < x.B; b++ {
		row := out.RawRowView(b)
		for t := 0; t < x.T; t++ {
			for c := 0; c < x.C; c++ {
				row[c] += x.At(b, t, c) * inv
			}
		}
	}
	return out
}

// Backward spreads the gradient evenly over the pooled steps
func (g *GlobalAvgPool1D) Backward(dy *mat.Dense) *Tensor {
	b, c := dy.Dims()
	dx := NewTensor(b, g.t, c)
	if g.t == 0 {
		return dx
	}
	inv := 1 / float64(g.t)
	for bi := 0; bi < b; bi++ {
		row := dy.RawRowView(bi)
		for t := 0; t < g.t; t++ {
			for ci := 0; ci < c; ci++ {
				dx.Set(bi, t, ci, row[ci]*inv)
			}
		}
	}
	return dx
}
