package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Linear is a fully connected layer y = x·Wᵀ + b applied to every row of x
type Linear struct {
	In, Out int
	Weight  *Param // Out×In
	Bias    *Param // 1×Out

	input *mat.Dense
}

// NewLinear creates a linear layer with weights and bias drawn from
// U(-1/√in, 1/√in).
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In:     in,
		Out:    out,
		Weight: NewParam(name+".weight", out, in),
		Bias:   NewParam(name+".bias", 1, out),
	}
	bound := 1 / math.Sqrt(float64(in))
	uniformInit(l.Weight.Value, bound, rng)
	uniformInit(l.Bias.Value, bound, rng)
	return l
}

// Parameters implements Module
func (l *Linear) Parameters() []*Param {
	return []*Param{l.Weight, l.Bias}
}

// Forward maps an r×In matrix to r×Out
func (l *Linear) Forward(x *mat.Dense, train bool) *mat.Dense {
	r, _ := x.Dims()
	l.input = x
	out := mat.NewDense(r, l.Out, nil)
	out.Mul(x, l.Weight.Value.T())
	bias := l.Bias.Value.RawRowView(0)
	for i := 0; i < r; i++ {
		floats.Add(out.RawRowView(i), bias)
	}
	return out
}

// Backward accumulates weight and bias gradients and returns dL/dx
func (l *Linear) Backward(dy *mat.Dense) *mat.Dense {
	r, _ := dy.Dims()

	var dW mat.Dense
	dW.Mul(dy.T(), l.input)
	l.Weight.Grad.Add(l.Weight.Grad, &dW)

	db := l.Bias.Grad.RawRowView(0)
	for i := 0; i < r; i++ {
		floats.Add(db, dy.RawRowView(i))
	}

	dx := mat.NewDense(r, l.In, nil)
	dx.Mul(dy, l.Weight.Value)
	return dx
}
