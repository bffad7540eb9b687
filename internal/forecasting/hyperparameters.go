package forecasting

import (
	"math"

	"github.com/inferloop/tsforecast/internal/nn"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// Hyperparameters configures the LTSF forecasters
type Hyperparameters struct {
	SeqLen          int                `json:"seq_len" mapstructure:"seq_len" yaml:"seq_len"`
	PredLen         int                `json:"pred_len" mapstructure:"pred_len" yaml:"pred_len"`
	InChannels      int                `json:"in_channels" mapstructure:"in_channels" yaml:"in_channels"`
	Individual      bool               `json:"individual" mapstructure:"individual" yaml:"individual"`
	Criterion       string             `json:"criterion" mapstructure:"criterion" yaml:"criterion"`
	CriterionKwargs map[string]float64 `json:"criterion_kwargs,omitempty" mapstructure:"criterion_kwargs" yaml:"criterion_kwargs"`
	Optimizer       string             `json:"optimizer" mapstructure:"optimizer" yaml:"optimizer"`
	OptimizerKwargs map[string]float64 `json:"optimizer_kwargs,omitempty" mapstructure:"optimizer_kwargs" yaml:"optimizer_kwargs"`
	LR              float64            `json:"lr" mapstructure:"lr" yaml:"lr"`
	NumEpochs       int                `json:"num_epochs" mapstructure:"num_epochs" yaml:"num_epochs"`
	BatchSize       int                `json:"batch_size" mapstructure:"batch_size" yaml:"batch_size"`
	Scale           bool               `json:"scale" mapstructure:"scale" yaml:"scale"`
	Shuffle         bool               `json:"shuffle" mapstructure:"shuffle" yaml:"shuffle"`
	KernelSize      int                `json:"kernel_size,omitempty" mapstructure:"kernel_size" yaml:"kernel_size"`
	Seed            *int64             `json:"seed,omitempty" mapstructure:"seed" yaml:"seed"`
}

// DefaultHyperparameters returns the defaults for the given window lengths
func DefaultHyperparameters(seqLen, predLen int) Hyperparameters {
	return Hyperparameters{
		SeqLen:     seqLen,
		PredLen:    predLen,
		InChannels: constants.DefaultInChannels,
		Individual: constants.DefaultIndividual,
		Criterion:  constants.DefaultCriterion,
		Optimizer:  constants.DefaultOptimizer,
		LR:         constants.DefaultLearningRate,
		NumEpochs:  constants.DefaultNumEpochs,
		BatchSize:  constants.DefaultBatchSize,
		Scale:      constants.DefaultScale,
		Shuffle:    constants.DefaultShuffle,
		KernelSize: constants.DefaultKernelSize,
	}
}

// withDefaults fills zero values that have no meaningful zero setting
func (h Hyperparameters) withDefaults() Hyperparameters {
	if h.InChannels == 0 {
		h.InChannels = constants.DefaultInChannels
	}
	if h.Criterion == "" {
		h.Criterion = constants.DefaultCriterion
	}
	if h.Optimizer == "" {
		h.Optimizer = constants.DefaultOptimizer
	}
	if h.LR == 0 {
		h.LR = constants.DefaultLearningRate
	}
	if h.BatchSize == 0 {
		h.BatchSize = constants.DefaultBatchSize
	}
	if h.KernelSize == 0 {
		h.KernelSize = constants.DefaultKernelSize
	}
	return h
}

// Validate checks every field and reports all problems at once. checkKernel
// enables the moving-average kernel check used by DLinear.
func (h Hyperparameters) Validate(checkKernel bool) error {
	ve := errors.NewValidationErrors()
	if h.SeqLen < 1 {
		ve.Add("seq_len", errors.CodeOutOfRange, "must be at least 1", h.SeqLen)
	}
	if h.PredLen < 1 {
		ve.Add("pred_len", errors.CodeOutOfRange, "must be at least 1", h.PredLen)
	}
	if h.InChannels < 1 {
		ve.Add("in_channels", errors.CodeOutOfRange, "must be at least 1", h.InChannels)
	}
	if h.BatchSize < 1 {
		ve.Add("batch_size", errors.CodeOutOfRange, "must be at least 1", h.BatchSize)
	}
	if h.NumEpochs < 0 {
		ve.Add("num_epochs", errors.CodeOutOfRange, "must not be negative", h.NumEpochs)
	}
	if h.LR <= 0 || math.IsNaN(h.LR) || math.IsInf(h.LR, 0) {
		ve.Add("lr", errors.CodeOutOfRange, "must be a positive finite number", h.LR)
	}
	if checkKernel && (h.KernelSize < 1 || h.KernelSize%2 == 0) {
		ve.Add("kernel_size", errors.CodeOutOfRange, "must be a positive odd number", h.KernelSize)
	}
	if _, err := nn.NewLoss(h.Criterion, h.CriterionKwargs); err != nil {
		ve.Add("criterion", errors.CodeUnknownCriterion, err.Error(), h.Criterion)
	}
	if h.LR > 0 {
		if _, err := nn.NewOptimizer(h.Optimizer, h.LR, h.OptimizerKwargs); err != nil {
			ve.Add("optimizer", errors.CodeUnknownOptimizer, err.Error(), h.Optimizer)
		}
	}
	if ve.HasErrors() {
		return errors.WrapError(ve, errors.ErrorTypeValidation, errors.CodeInvalidInput, "invalid hyperparameters")
	}
	return nil
}
