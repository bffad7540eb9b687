// Package regression implements deep regressors that map a panel of
// multivariate series to one value per instance.
package regression

import (
	"math"

	"github.com/inferloop/tsforecast/internal/networks"
	"github.com/inferloop/tsforecast/internal/nn"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

var (
	defaultFilterSizes = []int{256, 256, 128}
	defaultKernelSizes = []int{8, 5, 3}
	defaultLayers      = []int{500, 300}
	defaultRPParams    = [2]int{-1, 3}
)

// TapNetParams configures a TapNetRegressor
type TapNetParams struct {
	NEpochs     int     `json:"n_epochs" mapstructure:"n_epochs" yaml:"n_epochs"`
	BatchSize   int     `json:"batch_size" mapstructure:"batch_size" yaml:"batch_size"`
	Dropout     float64 `json:"dropout" mapstructure:"dropout" yaml:"dropout"`
	FilterSizes []int   `json:"filter_sizes" mapstructure:"filter_sizes" yaml:"filter_sizes"`
	KernelSizes []int   `json:"kernel_size" mapstructure:"kernel_size" yaml:"kernel_size"`
	Dilation    int     `json:"dilation" mapstructure:"dilation" yaml:"dilation"`
	Layers      []int   `json:"layers" mapstructure:"layers" yaml:"layers"`
	LSTMDim     int     `json:"lstm_dim" mapstructure:"lstm_dim" yaml:"lstm_dim"`
	Padding     string  `json:"padding" mapstructure:"padding" yaml:"padding"`
	Activation  string  `json:"activation" mapstructure:"activation" yaml:"activation"`

	UseRP    bool   `json:"use_rp" mapstructure:"use_rp" yaml:"use_rp"`
	RPParams [2]int `json:"rp_params" mapstructure:"rp_params" yaml:"rp_params"`
	UseBias  bool   `json:"use_bias" mapstructure:"use_bias" yaml:"use_bias"`
	UseAtt   bool   `json:"use_att" mapstructure:"use_att" yaml:"use_att"`
	UseLSTM  bool   `json:"use_lstm" mapstructure:"use_lstm" yaml:"use_lstm"`
	UseCNN   bool   `json:"use_cnn" mapstructure:"use_cnn" yaml:"use_cnn"`

	Loss            string             `json:"loss" mapstructure:"loss" yaml:"loss"`
	LossKwargs      map[string]float64 `json:"loss_kwargs,omitempty" mapstructure:"loss_kwargs" yaml:"loss_kwargs"`
	Optimizer       string             `json:"optimizer" mapstructure:"optimizer" yaml:"optimizer"`
	OptimizerKwargs map[string]float64 `json:"optimizer_kwargs,omitempty" mapstructure:"optimizer_kwargs" yaml:"optimizer_kwargs"`
	LR              float64            `json:"lr" mapstructure:"lr" yaml:"lr"`
	Shuffle         bool               `json:"shuffle" mapstructure:"shuffle" yaml:"shuffle"`

	RandomState *int64 `json:"random_state,omitempty" mapstructure:"random_state" yaml:"random_state"`
	Verbose     bool   `json:"verbose" mapstructure:"verbose" yaml:"verbose"`
}

// DefaultTapNetParams returns the published TapNet configuration
func DefaultTapNetParams() TapNetParams {
	return TapNetParams{
		NEpochs:     constants.DefaultTapNetEpochs,
		BatchSize:   constants.DefaultTapNetBatchSize,
		Dropout:     constants.DefaultTapNetDropout,
		FilterSizes: append([]int(nil), defaultFilterSizes...),
		KernelSizes: append([]int(nil), defaultKernelSizes...),
		Dilation:    constants.DefaultTapNetDilation,
		Layers:      append([]int(nil), defaultLayers...),
		LSTMDim:     constants.DefaultTapNetLSTMDim,
		Padding:     constants.DefaultTapNetPadding,
		Activation:  constants.ActivationLinear,
		UseRP:       true,
		RPParams:    defaultRPParams,
		UseBias:     true,
		UseAtt:      true,
		UseLSTM:     true,
		UseCNN:      true,
		Loss:        constants.DefaultTapNetLoss,
		Optimizer:   constants.OptimizerAdam,
		LR:          constants.DefaultTapNetLearningRate,
		Shuffle:     true,
	}
}

// Validate checks the parameters that do not depend on the training data
func (p TapNetParams) Validate() error {
	ve := errors.NewValidationErrors()
	if p.NEpochs < 0 {
		ve.Add("n_epochs", errors.CodeOutOfRange, "must not be negative", p.NEpochs)
	}
	if p.BatchSize < 1 {
		ve.Add("batch_size", errors.CodeOutOfRange, "must be at least 1", p.BatchSize)
	}
	if p.Dropout < 0 || p.Dropout >= 1 {
		ve.Add("dropout", errors.CodeOutOfRange, "must be in [0, 1)", p.Dropout)
	}
	if !p.UseLSTM && !p.UseCNN {
		ve.Add("use_cnn", errors.CodeInvalidInput, "at least one of use_lstm and use_cnn must be set", p.UseCNN)
	}
	if p.UseLSTM && p.LSTMDim < 1 {
		ve.Add("lstm_dim", errors.CodeOutOfRange, "must be at least 1", p.LSTMDim)
	}
	if p.UseCNN {
		if len(p.FilterSizes) != 3 {
			ve.Add("filter_sizes", errors.CodeInvalidInput, "needs three entries", p.FilterSizes)
		}
		if len(p.KernelSizes) != 3 {
			ve.Add("kernel_size", errors.CodeInvalidInput, "needs three entries", p.KernelSizes)
		}
		if p.Dilation < 1 {
			ve.Add("dilation", errors.CodeOutOfRange, "must be at least 1", p.Dilation)
		}
		if p.Padding != constants.PaddingSame && p.Padding != constants.PaddingValid {
			ve.Add("padding", errors.CodeInvalidInput, "must be same or valid", p.Padding)
		}
		if p.UseRP && p.RPParams[0] >= 0 && (p.RPParams[0] == 0 || p.RPParams[1] < 1) {
			ve.Add("rp_params", errors.CodeOutOfRange, "needs a positive group count and group size, or a negative group count", p.RPParams)
		}
	}
	for _, units := range p.Layers {
		if units < 1 {
			ve.Add("layers", errors.CodeOutOfRange, "layer sizes must be positive", p.Layers)
			break
		}
	}
	if _, err := nn.NewActivation(p.Activation, constants.DefaultLeakyReLUSlope); err != nil {
		ve.Add("activation", errors.CodeInvalidInput, err.Error(), p.Activation)
	}
	if p.LR <= 0 || math.IsNaN(p.LR) || math.IsInf(p.LR, 0) {
		ve.Add("lr", errors.CodeOutOfRange, "must be a positive finite number", p.LR)
	}
	if _, err := nn.NewLoss(p.Loss, p.LossKwargs); err != nil {
		ve.Add("loss", errors.CodeUnknownCriterion, err.Error(), p.Loss)
	}
	if p.LR > 0 {
		if _, err := nn.NewOptimizer(p.Optimizer, p.LR, p.OptimizerKwargs); err != nil {
			ve.Add("optimizer", errors.CodeUnknownOptimizer, err.Error(), p.Optimizer)
		}
	}
	if ve.HasErrors() {
		return errors.WrapError(ve, errors.ErrorTypeValidation, errors.CodeInvalidInput, "invalid hyperparameters")
	}
	return nil
}

// networkConfig sizes the network for instances of d dimensions and m
// time points
func (p TapNetParams) networkConfig(d, m int) networks.TapNetConfig {
	return networks.TapNetConfig{
		Channels:     d,
		SeqLen:       m,
		Outputs:      1,
		Filters:      append([]int(nil), p.FilterSizes...),
		Kernels:      append([]int(nil), p.KernelSizes...),
		Dilation:     p.Dilation,
		Padding:      p.Padding,
		Layers:       append([]int(nil), p.Layers...),
		LSTMDim:      p.LSTMDim,
		Dropout:      p.Dropout,
		Slope:        constants.DefaultLeakyReLUSlope,
		Activation:   p.Activation,
		UseRP:        p.UseRP,
		RPGroups:     p.RPParams[0],
		RPDim:        p.RPParams[1],
		UseLSTM:      p.UseLSTM,
		UseCNN:       p.UseCNN,
		UseAttention: p.UseAtt,
		UseBias:      p.UseBias,
	}
}
