package nn

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// Loss compares predictions with targets and returns the reduced loss
// together with its gradient with respect to pred.
type Loss interface {
	Name() string
	Forward(pred, target []float64) (float64, []float64)
}

// elementLoss computes a per-element loss value and derivative
type elementLoss func(d float64) (float64, float64)

type reducedLoss struct {
	name string
	sum  bool
	fn   elementLoss
}

func (l *reducedLoss) Name() string { return l.name }

func (l *reducedLoss) Forward(pred, target []float64) (float64, []float64) {
	if len(pred) != len(target) {
		panic(fmt.Sprintf("nn: %s loss got %d predictions for %d targets", l.name, len(pred), len(target)))
	}
	grad := make([]float64, len(pred))
	if len(pred) == 0 {
		return 0, grad
	}
	norm := 1 / float64(len(pred))
	if l.sum {
		norm = 1
	}
	total := 0.0
	for i := range pred {
		v, g := l.fn(pred[i] - target[i])
		total += v
		grad[i] = g * norm
	}
	return total * norm, grad
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

type lossFactory func(kwargs map[string]float64) elementLoss

var losses = map[string]struct {
	kwargs []string
	build  lossFactory
}{
	constants.CriterionMSE: {nil, func(map[string]float64) elementLoss {
		return func(d float64) (float64, float64) { return d * d, 2 * d }
	}},
	constants.CriterionL1: {nil, func(map[string]float64) elementLoss {
		return func(d float64) (float64, float64) { return math.Abs(d), sign(d) }
	}},
	constants.CriterionSmoothL1: {[]string{"beta"}, func(kw map[string]float64) elementLoss {
		beta := kwarg(kw, "beta", 1)
		return func(d float64) (float64, float64) {
			if beta == 0 || math.Abs(d) >= beta {
				return math.Abs(d) - 0.5*beta, sign(d)
			}
			return 0.5 * d * d / beta, d / beta
		}
	}},
	constants.CriterionHuber: {[]string{"delta"}, func(kw map[string]float64) elementLoss {
		delta := kwarg(kw, "delta", 1)
		return func(d float64) (float64, float64) {
			if math.Abs(d) <= delta {
				return 0.5 * d * d, d
			}
			return delta * (math.Abs(d) - 0.5*delta), delta * sign(d)
		}
	}},
}

// lossAliases maps the names used by Keras-style configurations
var lossAliases = map[string]string{
	"mse":                 constants.CriterionMSE,
	"mean_squared_error":  constants.CriterionMSE,
	"mae":                 constants.CriterionL1,
	"mean_absolute_error": constants.CriterionL1,
	"l1":                  constants.CriterionL1,
	"smoothl1":            constants.CriterionSmoothL1,
	"smooth_l1":           constants.CriterionSmoothL1,
	"huber":               constants.CriterionHuber,
}

// LossNames lists the supported criteria
func LossNames() []string {
	names := make([]string, 0, len(losses))
	for name := range losses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewLoss builds the named criterion. Besides the loss specific kwargs,
// "reduction" selects mean (0, default) or sum (1).
func NewLoss(name string, kwargs map[string]float64) (Loss, error) {
	key := name
	if alias, ok := lossAliases[strings.ToLower(name)]; ok {
		key = alias
	}
	entry, ok := losses[key]
	if !ok {
		return nil, errors.NewValidationError(errors.CodeUnknownCriterion,
			fmt.Sprintf("unknown criterion %q", name)).
			WithDetails("supported: " + strings.Join(LossNames(), ", "))
	}
	if err := checkKwargs("criterion "+key, kwargs, append(append([]string(nil), entry.kwargs...), "reduction")); err != nil {
		return nil, err
	}
	return &reducedLoss{
		name: key,
		sum:  kwarg(kwargs, "reduction", 0) == 1,
		fn:   entry.build(kwargs),
	}, nil
}

func kwarg(kwargs map[string]float64, name string, fallback float64) float64 {
	if v, ok := kwargs[name]; ok {
		return v
	}
	return fallback
}

func checkKwargs(owner string, kwargs map[string]float64, allowed []string) error {
	for name := range kwargs {
		found := false
		for _, a := range allowed {
			if a == name {
				found = true
				break
			}
		}
		if !found {
			return errors.NewValidationError(errors.CodeUnknownKwarg,
				fmt.Sprintf("%s does not accept argument %q", owner, name))
		}
	}
	return nil
}
