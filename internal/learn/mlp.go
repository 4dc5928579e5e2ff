package learn

import (
	"context"
	"errors"
	"math"
	"math/rand"
)

// #region config

// MLPConfig configures FitMLP.
type MLPConfig struct {
	Hidden       []int
	Alpha        float64 // L2 penalty
	LearningRate float64
	Epochs       int
	BatchSize    int
	Tol          float64
	NoChange     int // epochs without improvement before stopping
	Seed         int64
}

func (c *MLPConfig) defaults(n int) {
	if len(c.Hidden) == 0 {
		c.Hidden = []int{100}
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 1e-3
	}
	if c.Epochs <= 0 {
		c.Epochs = 200
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	c.BatchSize = min(c.BatchSize, n)
	if c.Tol <= 0 {
		c.Tol = 1e-4
	}
	if c.NoChange <= 0 {
		c.NoChange = 10
	}
}

// #endregion config

// #region network

// MLP is a fully connected relu network with a logistic output for two
// classes and a softmax output otherwise.
type MLP struct {
	sizes   []int
	weights [][]float64 // weights[l][i*sizes[l+1]+j]: unit i of layer l to unit j of layer l+1
	biases  [][]float64
}

// FitMLP trains a network with Adam on minibatches of x.
func FitMLP(ctx context.Context, x [][]float64, y []int, classes int, cfg MLPConfig) (*MLP, error) {
	n := len(x)
	if n == 0 || len(y) != n {
		return nil, errors.New("mlp: empty or mismatched input")
	}
	if classes < 2 {
		return nil, errors.New("mlp: need at least two classes")
	}
	cfg.defaults(n)
	out := classes
	if classes == 2 {
		out = 1
	}
	sizes := append(append([]int{len(x[0])}, cfg.Hidden...), out)
	rng := rand.New(rand.NewSource(cfg.Seed))
	m := &MLP{sizes: sizes}
	for l := 0; l < len(sizes)-1; l++ {
		in, o := sizes[l], sizes[l+1]
		bound := math.Sqrt(6 / float64(in+o))
		w := make([]float64, in*o)
		for k := range w {
			w[k] = (2*rng.Float64() - 1) * bound
		}
		b := make([]float64, o)
		for k := range b {
			b[k] = (2*rng.Float64() - 1) * bound
		}
		m.weights = append(m.weights, w)
		m.biases = append(m.biases, b)
	}

	opt := newAdam(m, cfg.LearningRate)
	gw, gb := m.zeros()
	acts := m.activations()
	best, stale := math.Inf(1), 0
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		perm := rng.Perm(n)
		var loss float64
		for start := 0; start < n; start += cfg.BatchSize {
			batch := perm[start:min(start+cfg.BatchSize, n)]
			for l := range gw {
				clear(gw[l])
				clear(gb[l])
			}
			for _, i := range batch {
				loss += m.backprop(x[i], y[i], acts, gw, gb)
			}
			scale := 1 / float64(len(batch))
			var penalty float64
			for l := range gw {
				for k, w := range m.weights[l] {
					gw[l][k] = gw[l][k]*scale + cfg.Alpha*w*scale
					penalty += w * w
				}
				for k := range gb[l] {
					gb[l][k] *= scale
				}
			}
			loss += 0.5 * cfg.Alpha * penalty
			opt.step(m, gw, gb)
		}
		loss /= float64(n)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			break
		}
		if loss > best-cfg.Tol {
			stale++
		} else {
			stale = 0
		}
		best = math.Min(best, loss)
		if stale >= cfg.NoChange {
			break
		}
	}
	return m, nil
}

func (m *MLP) zeros() ([][]float64, [][]float64) {
	gw := make([][]float64, len(m.weights))
	gb := make([][]float64, len(m.biases))
	for l := range m.weights {
		gw[l] = make([]float64, len(m.weights[l]))
		gb[l] = make([]float64, len(m.biases[l]))
	}
	return gw, gb
}

func (m *MLP) activations() [][]float64 {
	acts := make([][]float64, len(m.sizes))
	for l, s := range m.sizes {
		acts[l] = make([]float64, s)
	}
	return acts
}

func (m *MLP) forward(row []float64, acts [][]float64) {
	copy(acts[0], row)
	last := len(m.weights) - 1
	for l, w := range m.weights {
		in, out := acts[l], acts[l+1]
		o := len(out)
		copy(out, m.biases[l])
		for i, a := range in {
			if a == 0 {
				continue
			}
			base := i * o
			for j := range out {
				out[j] += a * w[base+j]
			}
		}
		if l < last {
			for j, v := range out {
				out[j] = math.Max(v, 0)
			}
		}
	}
	out := acts[len(acts)-1]
	if len(out) == 1 {
		out[0] = sigmoid(out[0])
		return
	}
	mx := math.Inf(-1)
	for _, v := range out {
		mx = math.Max(mx, v)
	}
	var sum float64
	for j, v := range out {
		out[j] = math.Exp(v - mx)
		sum += out[j]
	}
	for j := range out {
		out[j] /= sum
	}
}

// backprop adds the cross-entropy gradient of one sample and returns its
// loss.
func (m *MLP) backprop(row []float64, label int, acts [][]float64, gw, gb [][]float64) float64 {
	m.forward(row, acts)
	out := acts[len(acts)-1]
	delta := make([]float64, len(out))
	var loss float64
	if len(out) == 1 {
		t := indicator(label == 1)
		pr := math.Min(math.Max(out[0], 1e-15), 1-1e-15)
		loss = -(t*math.Log(pr) + (1-t)*math.Log(1-pr))
		delta[0] = out[0] - t
	} else {
		for j, v := range out {
			delta[j] = v - indicator(j == label)
		}
		loss = -math.Log(math.Max(out[label], 1e-15))
	}
	for l := len(m.weights) - 1; l >= 0; l-- {
		in := acts[l]
		o := len(delta)
		for j, d := range delta {
			gb[l][j] += d
		}
		var prev []float64
		if l > 0 {
			prev = make([]float64, len(in))
		}
		w := m.weights[l]
		for i, a := range in {
			base := i * o
			var back float64
			for j, d := range delta {
				gw[l][base+j] += a * d
				if prev != nil {
					back += w[base+j] * d
				}
			}
			if prev != nil && a > 0 {
				prev[i] = back
			}
		}
		delta = prev
	}
	return loss
}

// #endregion network

// #region adam

type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	mw, vw, mb, vb        [][]float64
}

func newAdam(m *MLP, lr float64) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8}
	a.mw, a.mb = m.zeros()
	a.vw, a.vb = m.zeros()
	return a
}

func (a *adam) step(m *MLP, gw, gb [][]float64) {
	a.t++
	lr := a.lr * math.Sqrt(1-math.Pow(a.beta2, float64(a.t))) / (1 - math.Pow(a.beta1, float64(a.t)))
	update := func(p, g, mv, vv []float64) {
		for k := range p {
			mv[k] = a.beta1*mv[k] + (1-a.beta1)*g[k]
			vv[k] = a.beta2*vv[k] + (1-a.beta2)*g[k]*g[k]
			p[k] -= lr * mv[k] / (math.Sqrt(vv[k]) + a.eps)
		}
	}
	for l := range m.weights {
		update(m.weights[l], gw[l], a.mw[l], a.vw[l])
		update(m.biases[l], gb[l], a.mb[l], a.vb[l])
	}
}

// #endregion adam

// #region importance

// ConnectionImportance propagates absolute output weight back to the
// inputs through products of absolute layer weights.
func (m *MLP) ConnectionImportance() []float64 {
	last := len(m.weights) - 1
	downstream := make([]float64, m.sizes[last])
	o := m.sizes[last+1]
	for i := range downstream {
		for j := range o {
			downstream[i] += math.Abs(m.weights[last][i*o+j])
		}
	}
	for l := last - 1; l >= 0; l-- {
		o := m.sizes[l+1]
		next := make([]float64, m.sizes[l])
		for i := range next {
			for j := range o {
				next[i] += math.Abs(m.weights[l][i*o+j]) * downstream[j]
			}
		}
		downstream = next
	}
	return downstream
}

// #endregion importance
