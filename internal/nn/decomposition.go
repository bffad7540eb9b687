package nn

// MovingAverage smooths every channel along time with a window of Kernel
// steps and stride 1. Both ends are padded by repeating the first and last
// observation (Kernel-1)/2 times, so odd kernels preserve the length.
type MovingAverage struct {
	Kernel int
}

// NewMovingAverage returns a moving average with the given window
func NewMovingAverage(kernel int) *MovingAverage {
	return &MovingAverage{Kernel: kernel}
}

func (m *MovingAverage) pad() int {
	return (m.Kernel - 1) / 2
}

// outLen is the output length for an input of t steps
func (m *MovingAverage) outLen(t int) int {
	return t + 2*m.pad() - m.Kernel + 1
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Forward returns the trend of x
func (m *MovingAverage) Forward(x *Tensor) *Tensor {
	pad := m.pad()
	outT := m.outLen(x.T)
	out := NewTensor(x.B, outT, x.C)
	inv := 1 / float64(m.Kernel)
	for b := 0; b < x.B; b++ {
		for t := 0; t < outT; t++ {
			for j := 0; j < m.Kernel; j++ {
				src := clampIndex(t+j-pad, x.T)
				for c := 0; c < x.C; c++ {
					out.Add(b, t, c, x.At(b, src, c)*inv)
				}
			}
		}
	}
	return out
}

// Backward maps a gradient on the trend back onto an input of inT steps
func (m *MovingAverage) Backward(dy *Tensor, inT int) *Tensor {
	pad := m.pad()
	dx := NewTensor(dy.B, inT, dy.C)
	inv := 1 / float64(m.Kernel)
	for b := 0; b < dy.B; b++ {
		for t := 0; t < dy.T; t++ {
			for j := 0; j < m.Kernel; j++ {
				dst := clampIndex(t+j-pad, inT)
				for c := 0; c < dy.C; c++ {
					dx.Add(b, dst, c, dy.At(b, t, c)*inv)
				}
			}
		}
	}
	return dx
}

// SeriesDecomp splits a series into a moving-average trend and the seasonal
// residual x - trend.
type SeriesDecomp struct {
	avg *MovingAverage
	inT int
}

// NewSeriesDecomp creates a decomposition block with the given kernel
func NewSeriesDecomp(kernel int) *SeriesDecomp {
	return &SeriesDecomp{avg: NewMovingAverage(kernel)}
}

// Forward returns (seasonal, trend)
func (s *SeriesDecomp) Forward(x *Tensor) (*Tensor, *Tensor) {
	s.inT = x.T
	trend := s.avg.Forward(x)
	seasonal := x.Clone()
	for i := range seasonal.Data {
		seasonal.Data[i] -= trend.Data[i]
	}
	return seasonal, trend
}

// Backward combines the gradients of both outputs into dL/dx
func (s *SeriesDecomp) Backward(dSeasonal, dTrend *Tensor) *Tensor {
	diff := dTrend.Clone()
	for i := range diff.Data {
		diff.Data[i] -= dSeasonal.Data[i]
	}
	dx := s.avg.Backward(diff, s.inT)
	for i := range dx.Data {
		dx.Data[i] += dSeasonal.Data[i]
	}
	return dx
}
