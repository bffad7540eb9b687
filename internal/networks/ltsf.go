package networks

import (
	"fmt"
	"math/rand"

	"github.com/inferloop/tsforecast/internal/nn"
)

// LTSFConfig sizes the linear long-term forecasting networks
type LTSFConfig struct {
	SeqLen     int  `json:"seq_len"`
	PredLen    int  `json:"pred_len"`
	Channels   int  `json:"channels"`
	Individual bool `json:"individual"`
	KernelSize int  `json:"kernel_size,omitempty"`
}

// Validate checks the dimensions. Kernel size is only checked when withKernel
// is set.
func (c LTSFConfig) Validate(withKernel bool) error {
	if c.SeqLen <= 0 {
		return fmt.Errorf("seq_len must be positive, got %d", c.SeqLen)
	}
	if c.PredLen <= 0 {
		return fmt.Errorf("pred_len must be positive, got %d", c.PredLen)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("in_channels must be positive, got %d", c.Channels)
	}
	if withKernel && (c.KernelSize <= 0 || c.KernelSize%2 == 0) {
		return fmt.Errorf("kernel_size must be a positive odd number, got %d", c.KernelSize)
	}
	return nil
}

// LinearNet is a single linear map from the input window to the forecast
// window, applied per channel.
type LinearNet struct {
	cfg  LTSFConfig
	head *channelHead
}

// NewLinearNet builds an LTSF-Linear network
func NewLinearNet(cfg LTSFConfig, rng *rand.Rand) (*LinearNet, error) {
	if err := cfg.Validate(false); err != nil {
		return nil, err
	}
	return &LinearNet{
		cfg:  cfg,
		head: newChannelHead("linear", cfg.SeqLen, cfg.PredLen, cfg.Channels, cfg.Individual, rng),
	}, nil
}

// Parameters implements nn.Module
func (n *LinearNet) Parameters() []*nn.Param { return n.head.Parameters() }

// Forward implements SequenceNetwork
func (n *LinearNet) Forward(x *nn.Tensor, train bool) *nn.Tensor {
	return n.head.Forward(x, train)
}

// Backward implements SequenceNetwork
func (n *LinearNet) Backward(dy *nn.Tensor) *nn.Tensor {
	return n.head.Backward(dy)
}

// DLinearNet decomposes the input into trend and seasonal parts, forecasts
// each with its own linear head and sums the results.
type DLinearNet struct {
	cfg      LTSFConfig
	decomp   *nn.SeriesDecomp
	seasonal *channelHead
	trend    *channelHead
}

// NewDLinearNet builds an LTSF-DLinear network
func NewDLinearNet(cfg LTSFConfig, rng *rand.Rand) (*DLinearNet, error) {
	if err := cfg.Validate(true); err != nil {
		return nil, err
	}
	return &DLinearNet{
		cfg:      cfg,
		decomp:   nn.NewSeriesDecomp(cfg.KernelSize),
		seasonal: newChannelHead("seasonal", cfg.SeqLen, cfg.PredLen, cfg.Channels, cfg.Individual, rng),
		trend:    newChannelHead("trend", cfg.SeqLen, cfg.PredLen, cfg.Channels, cfg.Individual, rng),
	}, nil
}

// Parameters implements nn.Module
func (n *DLinearNet) Parameters() []*nn.Param {
	return append(n.seasonal.Parameters(), n.trend.Parameters()...)
}

// Forward implements SequenceNetwork
func (n *DLinearNet) Forward(x *nn.Tensor, train bool) *nn.Tensor {
	seasonal, trend := n.decomp.Forward(x)
	out := n.seasonal.Forward(seasonal, train)
	t := n.trend.Forward(trend, train)
	for i := range out.Data {
		out.Data[i] += t.Data[i]
	}
	return out
}

// Backward implements SequenceNetwork
func (n *DLinearNet) Backward(dy *nn.Tensor) *nn.Tensor {
	return n.decomp.Backward(n.seasonal.Backward(dy), n.trend.Backward(dy))
}

// NLinearNet subtracts the last observation of each channel, applies a linear
// head and adds the observation back. The subtracted value carries no
// gradient.
type NLinearNet struct {
	cfg  LTSFConfig
	head *channelHead
}

// NewNLinearNet builds an LTSF-NLinear network
func NewNLinearNet(cfg LTSFConfig, rng *rand.Rand) (*NLinearNet, error) {
	if err := cfg.Validate(false); err != nil {
		return nil, err
	}
	return &NLinearNet{
		cfg:  cfg,
		head: newChannelHead("linear", cfg.SeqLen, cfg.PredLen, cfg.Channels, cfg.Individual, rng),
	}, nil
}

// Parameters implements nn.Module
func (n *NLinearNet) Parameters() []*nn.Param { return n.head.Parameters() }

// Forward implements SequenceNetwork
func (n *NLinearNet) Forward(x *nn.Tensor, train bool) *nn.Tensor {
	centred := x.Clone()
	last := make([]float64, x.B*x.C)
	for b := 0; b < x.B; b++ {
		for c := 0; c < x.C; c++ {
			last[b*x.C+c] = x.At(b, x.T-1, c)
			for t := 0; t < x.T; t++ {
				centred.Add(b, t, c, -last[b*x.C+c])
			}
		}
	}
	out := n.head.Forward(centred, train)
	for b := 0; b < out.B; b++ {
		for t := 0; t < out.T; t++ {
			for c := 0; c < out.C; c++ {
				out.Add(b, t, c, last[b*x.C+c])
			}
		}
	}
	return out
}

// Backward implements SequenceNetwork
func (n *NLinearNet) Backward(dy *nn.Tensor) *nn.Tensor {
	return n.head.Backward(dy)
}

// Config returns the dimensions the network was built with
func (n *LinearNet) Config() LTSFConfig { return n.cfg }

// Config returns the dimensions the network was built with
func (n *DLinearNet) Config() LTSFConfig { return n.cfg }

// Config returns the dimensions the network was built with
func (n *NLinearNet) Config() LTSFConfig { return n.cfg }
