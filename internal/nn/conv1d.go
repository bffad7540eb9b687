package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Conv1D is a stride-1 temporal convolution over [B][T][InChannels] batches.
// The kernel is stored flattened as Filters×(Kernel·InChannels) so the
// convolution reduces to one matrix product over im2col patches.
type Conv1D struct {
	InChannels int
	Filters    int
	Kernel     int
	Dilation   int
	Padding    string

	Weight *Param
	Bias   *Param

	cols  *mat.Dense
	inT   int
	batch int
}

// NewConv1D creates a convolution with Glorot-uniform kernels and zero bias.
// padding is "same" or "valid".
func NewConv1D(name string, in, filters, kernel, dilation int, padding string, rng *rand.Rand) (*Conv1D, error) {
	if in <= 0 || filters <= 0 || kernel <= 0 {
		return nil, fmt.Errorf("conv1d %s: channels, filters and kernel must be positive", name)
	}
	if dilation <= 0 {
		return nil, fmt.Errorf("conv1d %s: dilation must be positive, got %d", name, dilation)
	}
	if padding != "same" && padding != "valid" {
		return nil, fmt.Errorf("conv1d %s: unsupported padding %q", name, padding)
	}
	c := &Conv1D{
		InChannels: in,
		Filters:    filters,
		Kernel:     kernel,
		Dilation:   dilation,
		Padding:    padding,
		Weight:     NewParam(name+".weight", filters, kernel*in),
		Bias:       NewParam(name+".bias", 1, filters),
	}
	glorotInit(c.Weight.Value, kernel*in, kernel*filters, rng)
	return c, nil
}

// Parameters implements Module
func (c *Conv1D) Parameters() []*Param {
	return []*Param{c.Weight, c.Bias}
}

func (c *Conv1D) span() int {
	return c.Dilation * (c.Kernel - 1)
}

func (c *Conv1D) leftPad() int {
	if c.Padding == "same" {
		return c.span() / 2
	}
	return 0
}

// OutLen returns the output length for an input of t steps
func (c *Conv1D) OutLen(t int) int {
	if c.Padding == "same" {
		return t
	}
	if out := t - c.span(); out > 0 {
		return out
	}
	return 0
}

// Forward convolves x and returns [B][OutLen][Filters]
func (c *Conv1D) Forward(x *Tensor, train bool) *Tensor {
	if x.C != c.InChannels {
		panic(fmt.Sprintf("nn: conv1d expects %d channels, got %d", c.InChannels, x.C))
	}
	outT := c.OutLen(x.T)
	left := c.leftPad()
	width := c.Kernel * c.InChannels

	cols := mat.NewDense(max(x.B*outT, 1), width, nil)
	for b := 0; b < x.B; b++ {
		for t := 0; t < outT; t++ {
			row := cols.RawRowView(b*outT + t)
			for k := 0; k < c.Kernel; k++ {
				src := t + k*c.Dilation - left
				if src < 0 || src >= x.T {
					continue
				}
				for ch := 0; ch < c.InChannels; ch++ {
					row[k*c.InChannels+ch] = x.At(b, src, ch)
				}
			}
		}
	}
	c.cols, c.inT, c.batch = cols, x.T, x.B

	out := NewTensor(x.B, outT, c.Filters)
	if outT == 0 {
		return out
	}
	prod := mat.NewDense(x.B*outT, c.Filters, out.Data)
	prod.Mul(cols, c.Weight.Value.T())
	bias := c.Bias.Value.RawRowView(0)
	for i := 0; i < x.B*outT; i++ {
		floats.Add(prod.RawRowView(i), bias)
	}
	return out
}

// Backward accumulates kernel gradients and returns dL/dx
func (c *Conv1D) Backward(dy *Tensor) *Tensor {
	dx := NewTensor(c.batch, c.inT, c.InChannels)
	if dy.T == 0 {
		return dx
	}
	g := mat.NewDense(dy.B*dy.T, c.Filters, dy.Data)

	var dW mat.Dense
	dW.Mul(g.T(), c.cols)
	c.Weight.Grad.Add(c.Weight.Grad, &dW)

	db := c.Bias.Grad.RawRowView(0)
	for i := 0; i < dy.B*dy.T; i++ {
		floats.Add(db, g.RawRowView(i))
	}

	var dcols mat.Dense
	dcols.Mul(g, c.Weight.Value)
	left := c.leftPad()
	for b := 0; b < dy.B; b++ {
		for t := 0; t < dy.T; t++ {
			row := dcols.RawRowView(b*dy.T + t)
			for k := 0; k < c.Kernel; k++ {
				dst := t + k*c.Dilation - left
				if dst < 0 || dst >= c.inT {
					continue
				}
				for ch := 0; ch < c.InChannels; ch++ {
					dx.Add(b, dst, ch, row[k*c.InChannels+ch])
				}
			}
		}
	}
	return dx
}
