package nn

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// Optimizer updates parameters from their accumulated gradients
type Optimizer interface {
	Name() string
	LearningRate() float64
	ZeroGrad(params []*Param)
	Step(params []*Param)
}

// slots keeps per-parameter optimizer buffers
type slots map[*Param][][]float64

func (s slots) get(p *Param, n int) [][]float64 {
	if buf, ok := s[p]; ok {
		return buf
	}
	buf := make([][]float64, n)
	for i := range buf {
		buf[i] = make([]float64, p.Size())
	}
	s[p] = buf
	return buf
}

// rawValues returns the backing slices of a parameter. Parameters are always
// allocated densely so Stride equals Cols.
func rawValues(p *Param) (w, g []float64) {
	return p.Value.RawMatrix().Data, p.Grad.RawMatrix().Data
}

type baseOptimizer struct {
	name string
	lr   float64
}

func (o *baseOptimizer) Name() string            { return o.name }
func (o *baseOptimizer) LearningRate() float64   { return o.lr }
func (o *baseOptimizer) ZeroGrad(params []*Param) { ZeroGrads(params) }

// SGD is stochastic gradient descent with optional momentum, dampening,
// Nesterov momentum and L2 weight decay.
type SGD struct {
	baseOptimizer
	Momentum    float64
	Dampening   float64
	WeightDecay float64
	Nesterov    bool

	state slots
	steps int
}

// Step implements Optimizer
func (o *SGD) Step(params []*Param) {
	o.steps++
	for _, p := range params {
		w, g := rawValues(p)
		var buf []float64
		if o.Momentum != 0 {
			buf = o.state.get(p, 1)[0]
		}
		for i := range w {
			d := g[i] + o.WeightDecay*w[i]
			if o.Momentum != 0 {
				if o.steps == 1 {
					buf[i] = d
				} else {
					buf[i] = o.Momentum*buf[i] + (1-o.Dampening)*d
				}
				if o.Nesterov {
					d += o.Momentum * buf[i]
				} else {
					d = buf[i]
				}
			}
			w[i] -= o.lr * d
		}
	}
}

// Adam implements Adam and, with Decoupled set, AdamW
type Adam struct {
	baseOptimizer
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
	Decoupled   bool
	AMSGrad     bool

	state slots
	steps int
}

// Step implements Optimizer
func (o *Adam) Step(params []*Param) {
	o.steps++
	bc1 := 1 - math.Pow(o.Beta1, float64(o.steps))
	bc2 := 1 - math.Pow(o.Beta2, float64(o.steps))
	for _, p := range params {
		w, g := rawValues(p)
		buf := o.state.get(p, 3)
		m, v, vmax := buf[0], buf[1], buf[2]
		for i := range w {
			grad := g[i]
			if o.Decoupled {
				w[i] -= o.lr * o.WeightDecay * w[i]
			} else {
				grad += o.WeightDecay * w[i]
			}
			m[i] = o.Beta1*m[i] + (1-o.Beta1)*grad
			v[i] = o.Beta2*v[i] + (1-o.Beta2)*grad*grad
			denom := v[i]
			if o.AMSGrad {
				vmax[i] = math.Max(vmax[i], v[i])
				denom = vmax[i]
			}
			w[i] -= o.lr * (m[i] / bc1) / (math.Sqrt(denom/bc2) + o.Eps)
		}
	}
}

// Adagrad scales each step by the accumulated squared gradients
type Adagrad struct {
	baseOptimizer
	LRDecay     float64
	WeightDecay float64
	Eps         float64
	Initial     float64

	state slots
	steps int
}

// Step implements Optimizer
func (o *Adagrad) Step(params []*Param) {
	o.steps++
	lr := o.lr / (1 + float64(o.steps-1)*o.LRDecay)
	for _, p := range params {
		w, g := rawValues(p)
		sum := o.state.get(p, 1)[0]
		if o.steps == 1 && o.Initial != 0 {
			for i := range sum {
				sum[i] = o.Initial
			}
		}
		for i := range w {
			grad := g[i] + o.WeightDecay*w[i]
			sum[i] += grad * grad
			w[i] -= lr * grad / (math.Sqrt(sum[i]) + o.Eps)
		}
	}
}

// Adadelta adapts step sizes from running averages of gradients and updates
type Adadelta struct {
	baseOptimizer
	Rho         float64
	Eps         float64
	WeightDecay float64

	state slots
}

// Step implements Optimizer
func (o *Adadelta) Step(params []*Param) {
	for _, p := range params {
		w, g := rawValues(p)
		buf := o.state.get(p, 2)
		sq, acc := buf[0], buf[1]
		for i := range w {
			grad := g[i] + o.WeightDecay*w[i]
			sq[i] = o.Rho*sq[i] + (1-o.Rho)*grad*grad
			delta := math.Sqrt(acc[i]+o.Eps) / math.Sqrt(sq[i]+o.Eps) * grad
			acc[i] = o.Rho*acc[i] + (1-o.Rho)*delta*delta
			w[i] -= o.lr * delta
		}
	}
}

type optimizerSpec struct {
	kwargs []string
	build  func(lr float64, kw map[string]float64) Optimizer
}

var optimizers = map[string]optimizerSpec{
	constants.OptimizerSGD: {
		kwargs: []string{"momentum", "dampening", "weight_decay", "nesterov"},
		build: func(lr float64, kw map[string]float64) Optimizer {
			return &SGD{
				baseOptimizer: baseOptimizer{name: constants.OptimizerSGD, lr: lr},
				Momentum:      kwarg(kw, "momentum", 0),
				Dampening:     kwarg(kw, "dampening", 0),
				WeightDecay:   kwarg(kw, "weight_decay", 0),
				Nesterov:      kwarg(kw, "nesterov", 0) != 0,
				state:         slots{},
			}
		},
	},
	constants.OptimizerAdam: {
		kwargs: []string{"beta1", "beta2", "eps", "weight_decay", "amsgrad"},
		build: func(lr float64, kw map[string]float64) Optimizer {
			return newAdam(constants.OptimizerAdam, lr, kw, 0, false)
		},
	},
	constants.OptimizerAdamW: {
		kwargs: []string{"beta1", "beta2", "eps", "weight_decay", "amsgrad"},
		build: func(lr float64, kw map[string]float64) Optimizer {
			return newAdam(constants.OptimizerAdamW, lr, kw, 0.01, true)
		},
	},
	constants.OptimizerAdagrad: {
		kwargs: []string{"lr_decay", "weight_decay", "eps", "initial_accumulator_value"},
		build: func(lr float64, kw map[string]float64) Optimizer {
			return &Adagrad{
				baseOptimizer: baseOptimizer{name: constants.OptimizerAdagrad, lr: lr},
				LRDecay:       kwarg(kw, "lr_decay", 0),
				WeightDecay:   kwarg(kw, "weight_decay", 0),
				Eps:           kwarg(kw, "eps", 1e-10),
				Initial:       kwarg(kw, "initial_accumulator_value", 0),
				state:         slots{},
			}
		},
	},
	constants.OptimizerAdadelta: {
		kwargs: []string{"rho", "eps", "weight_decay"},
		build: func(lr float64, kw map[string]float64) Optimizer {
			return &Adadelta{
				baseOptimizer: baseOptimizer{name: constants.OptimizerAdadelta, lr: lr},
				Rho:           kwarg(kw, "rho", 0.9),
				Eps:           kwarg(kw, "eps", 1e-6),
				WeightDecay:   kwarg(kw, "weight_decay", 0),
				state:         slots{},
			}
		},
	},
}

func newAdam(name string, lr float64, kw map[string]float64, decay float64, decoupled bool) *Adam {
	return &Adam{
		baseOptimizer: baseOptimizer{name: name, lr: lr},
		Beta1:         kwarg(kw, "beta1", 0.9),
		Beta2:         kwarg(kw, "beta2", 0.999),
		Eps:           kwarg(kw, "eps", 1e-8),
		WeightDecay:   kwarg(kw, "weight_decay", decay),
		Decoupled:     decoupled,
		AMSGrad:       kwarg(kw, "amsgrad", 0) != 0,
		state:         slots{},
	}
}

// OptimizerNames lists the supported optimizers
func OptimizerNames() []string {
	names := make([]string, 0, len(optimizers))
	for name := range optimizers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewOptimizer builds the named optimizer. kwargs override its defaults;
// boolean options such as nesterov or amsgrad are enabled by any non-zero
// value.
func NewOptimizer(name string, lr float64, kwargs map[string]float64) (Optimizer, error) {
	entry, ok := optimizers[name]
	if !ok {
		for key, candidate := range optimizers {
			if strings.EqualFold(key, name) {
				entry, ok, name = candidate, true, key
				break
			}
		}
	}
	if !ok {
		return nil, errors.NewValidationError(errors.CodeUnknownOptimizer,
			fmt.Sprintf("unknown optimizer %q", name)).
			WithDetails("supported: " + strings.Join(OptimizerNames(), ", "))
	}
	if lr <= 0 || math.IsNaN(lr) || math.IsInf(lr, 0) {
		return nil, errors.NewValidationError(errors.CodeOutOfRange,
			fmt.Sprintf("learning rate must be a positive finite number, got %v", lr))
	}
	if err := checkKwargs("optimizer "+name, kwargs, entry.kwargs); err != nil {
		return nil, err
	}
	return entry.build(lr, kwargs), nil
}
