package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// SelfAttention reweights the steps of a sequence by scaled dot-product
// attention. Queries and keys are learned projections of the input; the
// values are the input itself, so the output keeps the input width.
type SelfAttention struct {
	Dim, Units int

	Wq *Param // Dim×Units
	Wk *Param // Dim×Units

	cache []attnCache
}

type attnCache struct {
	x, q, k, p *mat.Dense
}

// NewSelfAttention creates an attention block projecting to units dimensions
func NewSelfAttention(name string, dim, units int, rng *rand.Rand) *SelfAttention {
	a := &SelfAttention{
		Dim:   dim,
		Units: units,
		Wq:    NewParam(name+".wq", dim, units),
		Wk:    NewParam(name+".wk", dim, units),
	}
	glorotInit(a.Wq.Value, dim, units, rng)
	glorotInit(a.Wk.Value, dim, units, rng)
	return a
}

// Parameters implements Module
func (a *SelfAttention) Parameters() []*Param {
	return []*Param{a.Wq, a.Wk}
}

func (a *SelfAttention) scale() float64 {
	return 1 / math.Sqrt(float64(a.Units))
}

// softmaxRows applies a numerically stable softmax to every row of m in place
func softmaxRows(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		peak := math.Inf(-1)
		for _, v := range row {
			peak = math.Max(peak, v)
		}
		sum := 0.0
		for j, v := range row {
			row[j] = math.Exp(v - peak)
			sum += row[j]
		}
		for j := range row {
			row[j] /= sum
		}
	}
}

// Forward returns softmax(Q·Kᵀ/√units)·x for every sample of x
func (a *SelfAttention) Forward(x *Tensor, train bool) *Tensor {
	out := NewTensor(x.B, x.T, x.C)
	a.cache = a.cache[:0]
	for b := 0; b < x.B; b++ {
		xb := mat.DenseCopyOf(x.Sample(b))
		q := mat.NewDense(x.T, a.Units, nil)
		k := mat.NewDense(x.T, a.Units, nil)
		q.Mul(xb, a.Wq.Value)
		k.Mul(xb, a.Wk.Value)

		p := mat.NewDense(x.T, x.T, nil)
		p.Mul(q, k.T())
		p.Scale(a.scale(), p)
		softmaxRows(p)

		ob := out.Sample(b)
		ob.Mul(p, xb)
		a.cache = append(a.cache, attnCache{x: xb, q: q, k: k, p: p})
	}
	return out
}

// Backward accumulates projection gradients and returns dL/dx
func (a *SelfAttention) Backward(dy *Tensor) *Tensor {
	dx := NewTensor(dy.B, dy.T, dy.C)
	for b, c := range a.cache {
		dOut := mat.DenseCopyOf(dy.Sample(b))

		// out = P·x contributes Pᵀ·dOut directly
		dxb := dx.Sample(b)
		dxb.Mul(c.p.T(), dOut)

		var dP mat.Dense
		dP.Mul(dOut, c.x.T())

		// softmax backward, row by row
		dS := mat.NewDense(dy.T, dy.T, nil)
		for i := 0; i < dy.T; i++ {
			pr := c.p.RawRowView(i)
			gr := dP.RawRowView(i)
			dot := 0.0
			for j := range pr {
				dot += pr[j] * gr[j]
			}
			sr := dS.RawRowView(i)
			for j := range pr {
				sr[j] = pr[j] * (gr[j] - dot) * a.scale()
			}
		}

		var dQ, dK mat.Dense
		dQ.Mul(dS, c.k)
		dK.Mul(dS.T(), c.q)

		var gq, gk mat.Dense
		gq.Mul(c.x.T(), &dQ)
		a.Wq.Grad.Add(a.Wq.Grad, &gq)
		gk.Mul(c.x.T(), &dK)
		a.Wk.Grad.Add(a.Wk.Grad, &gk)

		var fromQ, fromK mat.Dense
		fromQ.Mul(&dQ, a.Wq.Value.T())
		fromK.Mul(&dK, a.Wk.Value.T())
		dxb.Add(dxb, &fromQ)
		dxb.Add(dxb, &fromK)
	}
	return dx
}
