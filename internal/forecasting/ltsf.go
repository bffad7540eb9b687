package forecasting

import (
	"math/rand"

	"github.com/inferloop/tsforecast/internal/networks"
	"github.com/inferloop/tsforecast/pkg/constants"
)

func ltsfConfig(h Hyperparameters) networks.LTSFConfig {
	return networks.LTSFConfig{
		SeqLen:     h.SeqLen,
		PredLen:    h.PredLen,
		Channels:   h.InChannels,
		Individual: h.Individual,
		KernelSize: h.KernelSize,
	}
}

// LTSFLinearForecaster forecasts with a single linear map from the input
// window to the forecast window.
type LTSFLinearForecaster struct {
	*BaseDeepForecaster
}

// NewLTSFLinearForecaster creates an LTSF-Linear forecaster
func NewLTSFLinearForecaster(params Hyperparameters, opts ...Option) (*LTSFLinearForecaster, error) {
	base, err := newBase(constants.EstimatorLTSFLinear, params, false,
		func(h Hyperparameters, rng *rand.Rand) (networks.SequenceNetwork, error) {
			return networks.NewLinearNet(ltsfConfig(h), rng)
		}, opts...)
	if err != nil {
		return nil, err
	}
	return &LTSFLinearForecaster{BaseDeepForecaster: base}, nil
}

// LTSFDLinearForecaster forecasts trend and seasonal components separately
type LTSFDLinearForecaster struct {
	*BaseDeepForecaster
}

// NewLTSFDLinearForecaster creates an LTSF-DLinear forecaster
func NewLTSFDLinearForecaster(params Hyperparameters, opts ...Option) (*LTSFDLinearForecaster, error) {
	base, err := newBase(constants.EstimatorLTSFDLinear, params, true,
		func(h Hyperparameters, rng *rand.Rand) (networks.SequenceNetwork, error) {
			return networks.NewDLinearNet(ltsfConfig(h), rng)
		}, opts...)
	if err != nil {
		return nil, err
	}
	return &LTSFDLinearForecaster{BaseDeepForecaster: base}, nil
}

// LTSFNLinearForecaster normalizes each window by its last value before the
// linear map.
type LTSFNLinearForecaster struct {
	*BaseDeepForecaster
}

// NewLTSFNLinearForecaster creates an LTSF-NLinear forecaster
func NewLTSFNLinearForecaster(params Hyperparameters, opts ...Option) (*LTSFNLinearForecaster, error) {
	base, err := newBase(constants.EstimatorLTSFNLinear, params, false,
		func(h Hyperparameters, rng *rand.Rand) (networks.SequenceNetwork, error) {
			return networks.NewNLinearNet(ltsfConfig(h), rng)
		}, opts...)
	if err != nil {
		return nil, err
	}
	return &LTSFNLinearForecaster{BaseDeepForecaster: base}, nil
}

// TestParams returns the small configurations used for smoke tests
func TestParams() []Hyperparameters {
	first := DefaultHyperparameters(2, 3)
	first.LR = 0.005
	first.NumEpochs = 2

	second := DefaultHyperparameters(3, 4)
	second.Criterion = constants.CriterionL1
	second.Optimizer = constants.OptimizerSGD
	second.OptimizerKwargs = map[string]float64{"momentum": 0.9}
	second.LR = 0.01
	second.NumEpochs = 1
	second.BatchSize = 4
	second.Individual = true
	second.KernelSize = 3
	return []Hyperparameters{first, second}
}
