package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LSTM is a single-layer long short-term memory network returning the hidden
// state at every step. Gates are packed in the order input, forget, cell,
// output along the columns of Wx (In×4H), Wh (H×4H) and Bias (1×4H).
type LSTM struct {
	In, Hidden int

	Wx   *Param
	Wh   *Param
	Bias *Param

	steps []lstmStep
	batch int
}

type lstmStep struct {
	x, hPrev, cPrev *mat.Dense
	i, f, g, o      []float64
	c, tanhC        []float64
}

// NewLSTM creates an LSTM with Glorot-uniform weights and the forget gate
// bias set to one.
func NewLSTM(name string, in, hidden int, rng *rand.Rand) *LSTM {
	l := &LSTM{
		In:     in,
		Hidden: hidden,
		Wx:     NewParam(name+".wx", in, 4*hidden),
		Wh:     NewParam(name+".wh", hidden, 4*hidden),
		Bias:   NewParam(name+".bias", 1, 4*hidden),
	}
	glorotInit(l.Wx.Value, in, 4*hidden, rng)
	glorotInit(l.Wh.Value, hidden, 4*hidden, rng)
	b := l.Bias.Value.RawRowView(0)
	for j := hidden; j < 2*hidden; j++ {
		b[j] = 1
	}
	return l
}

// Parameters implements Module
func (l *LSTM) Parameters() []*Param {
	return []*Param{l.Wx, l.Wh, l.Bias}
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

// Forward runs the recurrence over x and returns [B][T][Hidden]
func (l *LSTM) Forward(x *Tensor, train bool) *Tensor {
	B, T, H := x.B, x.T, l.Hidden
	out := NewTensor(B, T, H)
	l.steps = l.steps[:0]
	l.batch = B

	h := mat.NewDense(B, H, nil)
	c := mat.NewDense(B, H, nil)
	for t := 0; t < T; t++ {
		xt := mat.NewDense(B, l.In, nil)
		for b := 0; b < B; b++ {
			row := xt.RawRowView(b)
			for k := 0; k < l.In; k++ {
				row[k] = x.At(b, t, k)
			}
		}

		z := mat.NewDense(B, 4*H, nil)
		var zh mat.Dense
		z.Mul(xt, l.Wx.Value)
		zh.Mul(h, l.Wh.Value)
		z.Add(z, &zh)

		st := lstmStep{
			x: xt, hPrev: h, cPrev: c,
			i: make([]float64, B*H), f: make([]float64, B*H),
			g: make([]float64, B*H), o: make([]float64, B*H),
			c: make([]float64, B*H), tanhC: make([]float64, B*H),
		}
		hNext := mat.NewDense(B, H, nil)
		cNext := mat.NewDense(B, H, nil)
		bias := l.Bias.Value.RawRowView(0)
		for b := 0; b < B; b++ {
			zr := z.RawRowView(b)
			floats.Add(zr, bias)
			cp := c.RawRowView(b)
			hr := hNext.RawRowView(b)
			cr := cNext.RawRowView(b)
			for j := 0; j < H; j++ {
				k := b*H + j
				st.i[k] = sigmoid(zr[j])
				st.f[k] = sigmoid(zr[H+j])
				st.g[k] = math.Tanh(zr[2*H+j])
				st.o[k] = sigmoid(zr[3*H+j])
				st.c[k] = st.f[k]*cp[j] + st.i[k]*st.g[k]
				st.tanhC[k] = math.Tanh(st.c[k])
				cr[j] = st.c[k]
				hr[j] = st.o[k] * st.tanhC[k]
				out.Set(b, t, j, hr[j])
			}
		}
		l.steps = append(l.steps, st)
		h, c = hNext, cNext
	}
	return out
}

// Backward runs backpropagation through time and returns dL/dx
func (l *LSTM) Backward(dy *Tensor) *Tensor {
	B, H := l.batch, l.Hidden
	T := len(l.steps)
	dx := NewTensor(B, T, l.In)

	dhNext := make([]float64, B*H)
	dcNext := make([]float64, B*H)
	dz := mat.NewDense(B, 4*H, nil)
	for t := T - 1; t >= 0; t-- {
		st := l.steps[t]
		for b := 0; b < B; b++ {
			cp := st.cPrev.RawRowView(b)
			dzr := dz.RawRowView(b)
			for j := 0; j < H; j++ {
				k := b*H + j
				dh := dy.At(b, t, j) + dhNext[k]
				do := dh * st.tanhC[k]
				dc := dh*st.o[k]*(1-st.tanhC[k]*st.tanhC[k]) + dcNext[k]
				di := dc * st.g[k]
				dg := dc * st.i[k]
				df := dc * cp[j]
				dcNext[k] = dc * st.f[k]

				dzr[j] = di * st.i[k] * (1 - st.i[k])
				dzr[H+j] = df * st.f[k] * (1 - st.f[k])
				dzr[2*H+j] = dg * (1 - st.g[k]*st.g[k])
				dzr[3*H+j] = do * st.o[k] * (1 - st.o[k])
			}
		}

		var dWx, dWh mat.Dense
		dWx.Mul(st.x.T(), dz)
		l.Wx.Grad.Add(l.Wx.Grad, &dWx)
		dWh.Mul(st.hPrev.T(), dz)
		l.Wh.Grad.Add(l.Wh.Grad, &dWh)
		db := l.Bias.Grad.RawRowView(0)
		for b := 0; b < B; b++ {
			floats.Add(db, dz.RawRowView(b))
		}

		var dxt, dh mat.Dense
		dxt.Mul(dz, l.Wx.Value.T())
		for b := 0; b < B; b++ {
			row := dxt.RawRowView(b)
			for k := 0; k < l.In; k++ {
				dx.Set(b, t, k, row[k])
			}
		}
		dh.Mul(dz, l.Wh.Value.T())
		for b := 0; b < B; b++ {
			copy(dhNext[b*H:(b+1)*H], dh.RawRowView(b))
		}
	}
	return dx
}
