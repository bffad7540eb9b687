// Package networks assembles the layers of internal/nn into the networks used
// by the forecasters and regressors.
package networks

import (
	"math/rand"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tsforecast/internal/nn"
)

// SequenceNetwork maps an input window [B][SeqLen][C] to a forecast window
// [B][PredLen][C].
type SequenceNetwork interface {
	nn.Module
	Forward(x *nn.Tensor, train bool) *nn.Tensor
	Backward(dy *nn.Tensor) *nn.Tensor
}

// PanelNetwork maps a batch of multivariate series [B][T][D] to B×Outputs
type PanelNetwork interface {
	nn.Module
	Forward(x *nn.Tensor, train bool) *mat.Dense
	Backward(dy *mat.Dense)
}

// channelHead projects every channel from inLen to outLen steps, either with
// one shared linear map or with one map per channel.
type channelHead struct {
	shared     *nn.Linear
	individual []*nn.Linear
	channels   int
}

func newChannelHead(name string, inLen, outLen, channels int, individual bool, rng *rand.Rand) *channelHead {
	h := &channelHead{channels: channels}
	if !individual {
		h.shared = nn.NewLinear(name, inLen, outLen, rng)
		return h
	}
	h.individual = make([]*nn.Linear, channels)
	for c := range h.individual {
		h.individual[c] = nn.NewLinear(name+"."+strconv.Itoa(c), inLen, outLen, rng)
	}
	return h
}

func (h *channelHead) Parameters() []*nn.Param {
	if h.shared != nil {
		return h.shared.Parameters()
	}
	params := make([]*nn.Param, 0, 2*len(h.individual))
	for _, l := range h.individual {
		params = append(params, l.Parameters()...)
	}
	return params
}

func (h *channelHead) Forward(x *nn.Tensor, train bool) *nn.Tensor {
	if h.shared != nil {
		return nn.FromChannelMajor(h.shared.Forward(x.ChannelMajor(), train), x.B, x.C)
	}
	var out *nn.Tensor
	for c, l := range h.individual {
		y := l.Forward(x.ChannelRows(c), train)
		if out == nil {
			_, t := y.Dims()
			out = nn.NewTensor(x.B, t, x.C)
		}
		out.SetChannelRows(c, y)
	}
	return out
}

func (h *channelHead) Backward(dy *nn.Tensor) *nn.Tensor {
	if h.shared != nil {
		return nn.FromChannelMajor(h.shared.Backward(dy.ChannelMajor()), dy.B, dy.C)
	}
	var dx *nn.Tensor
	for c, l := range h.individual {
		g := l.Backward(dy.ChannelRows(c))
		if dx == nil {
			_, t := g.Dims()
			dx = nn.NewTensor(dy.B, t, dy.C)
		}
		dx.SetChannelRows(c, g)
	}
	return dx
}

// concatColumns places matrices with equal row counts side by side
func concatColumns(parts []*mat.Dense) *mat.Dense {
	rows, width := 0, 0
	for _, p := range parts {
		r, c := p.Dims()
		rows, width = r, width+c
	}
	out := mat.NewDense(rows, width, nil)
	off := 0
	for _, p := range parts {
		_, c := p.Dims()
		out.Slice(0, rows, off, off+c).(*mat.Dense).Copy(p)
		off += c
	}
	return out
}

// splitColumns is the inverse of concatColumns
func splitColumns(m *mat.Dense, widths []int) []*mat.Dense {
	rows, _ := m.Dims()
	out := make([]*mat.Dense, len(widths))
	off := 0
	for i, w := range widths {
		out[i] = mat.DenseCopyOf(m.Slice(0, rows, off, off+w))
		off += w
	}
	return out
}
