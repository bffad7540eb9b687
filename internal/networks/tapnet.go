package networks

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tsforecast/internal/nn"
)

const attentionUnits = 32

// TapNetConfig sizes a TapNet network. GroupIndices records the channels each
// random-projection group reads; it is filled in by NewTapNet when empty so a
// saved configuration rebuilds the same network.
type TapNetConfig struct {
	Channels int `json:"channels"`
	SeqLen   int `json:"seq_len"`
	Outputs  int `json:"outputs"`

	Filters  []int  `json:"filter_sizes"`
	Kernels  []int  `json:"kernel_sizes"`
	Dilation int    `json:"dilation"`
	Padding  string `json:"padding"`

	Layers     []int   `json:"layers"`
	LSTMDim    int     `json:"lstm_dim"`
	Dropout    float64 `json:"dropout"`
	Slope      float64 `json:"leaky_relu_slope"`
	Activation string  `json:"activation"`

	UseRP        bool `json:"use_rp"`
	RPGroups     int  `json:"rp_groups"`
	RPDim        int  `json:"rp_dim"`
	UseLSTM      bool `json:"use_lstm"`
	UseCNN       bool `json:"use_cnn"`
	UseAttention bool `json:"use_att"`
	UseBias      bool `json:"use_bias"`

	GroupIndices [][]int `json:"group_indices,omitempty"`
}

// RandomProjection resolves the number of groups and channels per group. A
// negative group count selects three groups of max(1, floor(2d/3)) channels.
func (c TapNetConfig) RandomProjection() (groups, dim int) {
	if !c.UseRP {
		return 1, c.Channels
	}
	if c.RPGroups < 0 {
		return 3, max(1, c.Channels*2/3)
	}
	return c.RPGroups, c.RPDim
}

// Validate checks the configuration
func (c TapNetConfig) Validate() error {
	if c.Channels <= 0 || c.SeqLen <= 0 {
		return fmt.Errorf("input must have positive dimensions, got %d channels of length %d", c.Channels, c.SeqLen)
	}
	if c.Outputs <= 0 {
		return fmt.Errorf("outputs must be positive, got %d", c.Outputs)
	}
	if !c.UseLSTM && !c.UseCNN {
		return fmt.Errorf("at least one of use_lstm and use_cnn must be set")
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1), got %v", c.Dropout)
	}
	for _, l := range c.Layers {
		if l <= 0 {
			return fmt.Errorf("layer sizes must be positive, got %v", c.Layers)
		}
	}
	if c.UseLSTM && c.LSTMDim <= 0 {
		return fmt.Errorf("lstm_dim must be positive, got %d", c.LSTMDim)
	}
	if !c.UseCNN {
		return nil
	}
	if len(c.Filters) != 3 || len(c.Kernels) != 3 {
		return fmt.Errorf("filter_sizes and kernel_sizes need three entries, got %v and %v", c.Filters, c.Kernels)
	}
	if c.Padding == "valid" {
		remaining := c.SeqLen
		for _, k := range c.Kernels {
			remaining -= c.Dilation * (k - 1)
		}
		if remaining <= 0 {
			return fmt.Errorf("series of length %d is too short for kernels %v with valid padding", c.SeqLen, c.Kernels)
		}
	}
	groups, dim := c.RandomProjection()
	if groups <= 0 || dim <= 0 || dim > c.Channels {
		return fmt.Errorf("random projection needs positive groups and at most %d channels per group, got %d groups of %d", c.Channels, groups, dim)
	}
	if len(c.GroupIndices) > 0 && len(c.GroupIndices) != groups {
		return fmt.Errorf("expected %d channel groups, got %d", groups, len(c.GroupIndices))
	}
	return nil
}

type cnnGroup struct {
	channels []int
	convs    []*nn.Conv1D
	acts     []*nn.Activation
	attn     *nn.SelfAttention
	pool     nn.GlobalAvgPool1D
}

// TapNet combines a recurrent branch and a convolutional branch over random
// channel groups, then regresses the pooled features with a dense stack.
type TapNet struct {
	cfg TapNetConfig

	lstm     *nn.LSTM
	lstmDrop *nn.Dropout
	lstmAttn *nn.SelfAttention
	lstmPool nn.GlobalAvgPool1D

	groups []*cnnGroup

	dense     []*nn.Linear
	denseActs []*nn.Activation
	denseDrop []*nn.Dropout
	out       *nn.Linear
	outAct    *nn.Activation

	widths []int
}

// NewTapNet builds a TapNet network
func NewTapNet(cfg TapNetConfig, rng *rand.Rand) (*TapNet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	outAct, err := nn.NewActivation(cfg.Activation, cfg.Slope)
	if err != nil {
		return nil, err
	}

	n := &TapNet{cfg: cfg, outAct: outAct}
	features := 0
	if cfg.UseLSTM {
		n.lstm = nn.NewLSTM("lstm", cfg.Channels, cfg.LSTMDim, rng)
		n.lstmDrop = nn.NewDropout(cfg.Dropout, rng)
		if cfg.UseAttention {
			n.lstmAttn = nn.NewSelfAttention("lstm.attention", cfg.LSTMDim, attentionUnits, rng)
		}
		n.widths = append(n.widths, cfg.LSTMDim)
		features += cfg.LSTMDim
	}

	if cfg.UseCNN {
		groups, dim := cfg.RandomProjection()
		if len(cfg.GroupIndices) == 0 {
			cfg.GroupIndices = make([][]int, groups)
			for g := range cfg.GroupIndices {
				idx := rng.Perm(cfg.Channels)[:dim]
				sort.Ints(idx)
				cfg.GroupIndices[g] = idx
			}
			n.cfg = cfg
		}
		for g, idx := range cfg.GroupIndices {
			for _, ch := range idx {
				if ch < 0 || ch >= cfg.Channels {
					return nil, fmt.Errorf("group %d references channel %d of %d", g, ch, cfg.Channels)
				}
			}
			group := &cnnGroup{channels: idx}
			in := len(idx)
			for i, filters := range cfg.Filters {
				name := "conv." + strconv.Itoa(g) + "." + strconv.Itoa(i)
				conv, err := nn.NewConv1D(name, in, filters, cfg.Kernels[i], cfg.Dilation, cfg.Padding, rng)
				if err != nil {
					return nil, err
				}
				act, _ := nn.NewActivation("leaky_relu", cfg.Slope)
				group.convs = append(group.convs, conv)
				group.acts = append(group.acts, act)
				in = filters
			}
			if cfg.UseAttention {
				group.attn = nn.NewSelfAttention("attention."+strconv.Itoa(g), in, attentionUnits, rng)
			}
			n.groups = append(n.groups, group)
			n.widths = append(n.widths, in)
			features += in
		}
	}

	in := features
	for i, units := range cfg.Layers {
		act, _ := nn.NewActivation("leaky_relu", cfg.Slope)
		n.dense = append(n.dense, nn.NewLinear("dense."+strconv.Itoa(i), in, units, rng))
		n.denseActs = append(n.denseActs, act)
		n.denseDrop = append(n.denseDrop, nn.NewDropout(cfg.Dropout, rng))
		in = units
	}
	n.out = nn.NewLinear("output", in, cfg.Outputs, rng)
	if !cfg.UseBias {
		n.out.Bias.Value.Zero()
	}
	return n, nil
}

// Config returns the configuration including the resolved channel groups
func (n *TapNet) Config() TapNetConfig { return n.cfg }

// Parameters implements nn.Module
func (n *TapNet) Parameters() []*nn.Param {
	var params []*nn.Param
	if n.lstm != nil {
		params = append(params, n.lstm.Parameters()...)
	}
	if n.lstmAttn != nil {
		params = append(params, n.lstmAttn.Parameters()...)
	}
	for _, g := range n.groups {
		for _, c := range g.convs {
			params = append(params, c.Parameters()...)
		}
		if g.attn != nil {
			params = append(params, g.attn.Parameters()...)
		}
	}
	for _, d := range n.dense {
		params = append(params, d.Parameters()...)
	}
	if !n.cfg.UseBias {
		return append(params, n.out.Weight)
	}
	return append(params, n.out.Parameters()...)
}

func gather(x *nn.Tensor, channels []int) *nn.Tensor {
	out := nn.NewTensor(x.B, x.T, len(channels))
	for b := 0; b < x.B; b++ {
		for t := 0; t < x.T; t++ {
			for i, ch := range channels {
				out.Set(b, t, i, x.At(b, t, ch))
			}
		}
	}
	return out
}

// Forward maps x [B][SeqLen][Channels] to a B×Outputs matrix
func (n *TapNet) Forward(x *nn.Tensor, train bool) *mat.Dense {
	var features []*mat.Dense
	if n.lstm != nil {
		h := n.lstmDrop.ForwardSeq(n.lstm.Forward(x, train), train)
		if n.lstmAttn != nil {
			h = n.lstmAttn.Forward(h, train)
		}
		features = append(features, n.lstmPool.Forward(h))
	}
	for _, g := range n.groups {
		h := gather(x, g.channels)
		for i, conv := range g.convs {
			h = g.acts[i].ForwardSeq(conv.Forward(h, train), train)
		}
		if g.attn != nil {
			h = g.attn.Forward(h, train)
		}
		features = append(features, g.pool.Forward(h))
	}

	h := concatColumns(features)
	for i, d := range n.dense {
		h = n.denseDrop[i].Forward(n.denseActs[i].Forward(d.Forward(h, train), train), train)
	}
	return n.outAct.Forward(n.out.Forward(h, train), train)
}

// Backward accumulates parameter gradients for the last Forward call
func (n *TapNet) Backward(dy *mat.Dense) {
	g := n.out.Backward(n.outAct.Backward(dy))
	for i := len(n.dense) - 1; i >= 0; i-- {
		g = n.dense[i].Backward(n.denseActs[i].Backward(n.denseDrop[i].Backward(g)))
	}

	parts := splitColumns(g, n.widths)
	next := 0
	if n.lstm != nil {
		h := n.lstmPool.Backward(parts[0])
		if n.lstmAttn != nil {
			h = n.lstmAttn.Backward(h)
		}
		n.lstm.Backward(n.lstmDrop.BackwardSeq(h))
		next = 1
	}
	for i, grp := range n.groups {
		h := grp.pool.Backward(parts[next+i])
		if grp.attn != nil {
			h = grp.attn.Backward(h)
		}
		for j := len(grp.convs) - 1; j >= 0; j-- {
			h = grp.convs[j].Backward(grp.acts[j].BackwardSeq(h))
		}
	}
}
