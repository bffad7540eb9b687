package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Param is a learnable matrix together with its accumulated gradient
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParam allocates a zeroed r×c parameter
func NewParam(name string, r, c int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(r, c, nil),
		Grad:  mat.NewDense(r, c, nil),
	}
}

// Size returns the number of scalars held by p
func (p *Param) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

// ZeroGrad resets the accumulated gradient
func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// Module is anything that owns learnable parameters
type Module interface {
	Parameters() []*Param
}

// CountParams sums the scalar count of every parameter of m
func CountParams(m Module) int {
	total := 0
	for _, p := range m.Parameters() {
		total += p.Size()
	}
	return total
}

// ZeroGrads resets the gradients of params
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// uniformInit fills p with draws from U(-bound, bound)
func uniformInit(p *mat.Dense, bound float64, rng *rand.Rand) {
	r, c := p.Dims()
	for i := 0; i < r; i++ {
		row := p.RawRowView(i)
		for j := 0; j < c; j++ {
			row[j] = (2*rng.Float64() - 1) * bound
		}
	}
}

// glorotInit fills p from the Glorot uniform distribution
func glorotInit(p *mat.Dense, fanIn, fanOut int, rng *rand.Rand) {
	uniformInit(p, math.Sqrt(6/float64(fanIn+fanOut)), rng)
}

// NewRand returns a source seeded with *seed, or a randomly seeded one when
// seed is nil. Zero is a valid seed.
func NewRand(seed *int64) *rand.Rand {
	if seed == nil {
		return rand.New(rand.NewSource(rand.Int63()))
	}
	return rand.New(rand.NewSource(*seed))
}

// Seed returns a pointer to v for seed fields
func Seed(v int64) *int64 {
	return &v
}
