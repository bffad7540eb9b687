// Package nn holds the layer runtime the estimators are built from.
//
// Matrix products are delegated to gonum's mat package. Every layer caches
// what it needs during Forward and accumulates parameter gradients during
// Backward, so a training step is:
//
//	out := net.Forward(x, true)
//	loss, grad := criterion.Forward(out.Data, target.Data)
//	optimizer.ZeroGrad(net.Parameters())
//	net.Backward(nn.TensorFrom(grad, out.B, out.T, out.C))
//	optimizer.Step(net.Parameters())
//
// Sequence batches are Tensors laid out as [batch][time][channel].
package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a dense [B][T][C] batch stored row-major
type Tensor struct {
	B, T, C int
	Data    []float64
}

// NewTensor allocates a zeroed tensor
func NewTensor(b, t, c int) *Tensor {
	return &Tensor{B: b, T: t, C: c, Data: make([]float64, b*t*c)}
}

// TensorFrom wraps data without copying. It panics if the length does not
// match the shape.
func TensorFrom(data []float64, b, t, c int) *Tensor {
	if len(data) != b*t*c {
		panic(fmt.Sprintf("nn: tensor data length %d does not match shape [%d %d %d]", len(data), b, t, c))
	}
	return &Tensor{B: b, T: t, C: c, Data: data}
}

// Stack builds a tensor from B samples of [T][C] rows
func Stack(samples [][][]float64) *Tensor {
	if len(samples) == 0 || len(samples[0]) == 0 {
		return NewTensor(len(samples), 0, 0)
	}
	t, c := len(samples[0]), len(samples[0][0])
	out := NewTensor(len(samples), t, c)
	for b, s := range samples {
		for ti, row := range s {
			copy(out.Data[out.offset(b, ti, 0):], row[:c])
		}
	}
	return out
}

func (x *Tensor) offset(b, t, c int) int {
	return (b*x.T+t)*x.C + c
}

// At returns the element at (b, t, c)
func (x *Tensor) At(b, t, c int) float64 {
	return x.Data[x.offset(b, t, c)]
}

// Set stores v at (b, t, c)
func (x *Tensor) Set(b, t, c int, v float64) {
	x.Data[x.offset(b, t, c)] = v
}

// Add adds v to the element at (b, t, c)
func (x *Tensor) Add(b, t, c int, v float64) {
	x.Data[x.offset(b, t, c)] += v
}

// Shape returns (B, T, C)
func (x *Tensor) Shape() (int, int, int) {
	return x.B, x.T, x.C
}

// SameShape reports whether x and y have identical dimensions
func (x *Tensor) SameShape(y *Tensor) bool {
	return x.B == y.B && x.T == y.T && x.C == y.C
}

// Clone returns a deep copy
func (x *Tensor) Clone() *Tensor {
	return &Tensor{B: x.B, T: x.T, C: x.C, Data: append([]float64(nil), x.Data...)}
}

// Sample returns sample b as a T×C matrix sharing x's storage
func (x *Tensor) Sample(b int) *mat.Dense {
	start := b * x.T * x.C
	return mat.NewDense(x.T, x.C, x.Data[start:start+x.T*x.C])
}

// Rows returns sample b as [T][C] rows (copied)
func (x *Tensor) Rows(b int) [][]float64 {
	out := make([][]float64, x.T)
	for t := range out {
		start := x.offset(b, t, 0)
		out[t] = append([]float64(nil), x.Data[start:start+x.C]...)
	}
	return out
}

// Matrix views the whole batch as a (B·T)×C matrix sharing x's storage
func (x *Tensor) Matrix() *mat.Dense {
	return mat.NewDense(x.B*x.T, x.C, x.Data)
}

// ChannelRows gathers channel c of every sample into a B×T matrix
func (x *Tensor) ChannelRows(c int) *mat.Dense {
	out := mat.NewDense(x.B, x.T, nil)
	for b := 0; b < x.B; b++ {
		row := out.RawRowView(b)
		for t := 0; t < x.T; t++ {
			row[t] = x.At(b, t, c)
		}
	}
	return out
}

// SetChannelRows scatters a B×T matrix into channel c
func (x *Tensor) SetChannelRows(c int, m *mat.Dense) {
	for b := 0; b < x.B; b++ {
		for t := 0; t < x.T; t++ {
			x.Set(b, t, c, m.At(b, t))
		}
	}
}

// ChannelMajor rearranges the batch into a (B·C)×T matrix whose row b·C+c is
// the time series of channel c in sample b.
func (x *Tensor) ChannelMajor() *mat.Dense {
	out := mat.NewDense(x.B*x.C, x.T, nil)
	for b := 0; b < x.B; b++ {
		for c := 0; c < x.C; c++ {
			row := out.RawRowView(b*x.C + c)
			for t := 0; t < x.T; t++ {
				row[t] = x.At(b, t, c)
			}
		}
	}
	return out
}

// FromChannelMajor is the inverse of ChannelMajor for a (B·C)×T matrix
func FromChannelMajor(m *mat.Dense, b, c int) *Tensor {
	rows, t := m.Dims()
	if rows != b*c {
		panic(fmt.Sprintf("nn: channel-major matrix has %d rows, expected %d", rows, b*c))
	}
	out := NewTensor(b, t, c)
	for bi := 0; bi < b; bi++ {
		for ci := 0; ci < c; ci++ {
			row := m.RawRowView(bi*c + ci)
			for ti := 0; ti < t; ti++ {
				out.Set(bi, ti, ci, row[ti])
			}
		}
	}
	return out
}

// Flatten copies a matrix into a row-major slice
func Flatten(m mat.Matrix) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}
