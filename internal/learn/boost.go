package learn

import (
	"cmp"
	"context"
	"errors"
	"math"
	"math/rand"
	"slices"
)

// #region config

// BoostConfig configures FitBooster.
type BoostConfig struct {
	Rounds         int
	MaxDepth       int
	LearningRate   float64
	Subsample      float64 // row fraction per tree
	Colsample      float64 // column fraction per tree
	Lambda         float64 // L2 penalty on leaf weights
	MinChildWeight float64
	Seed           int64
}

func (c *BoostConfig) defaults() {
	if c.Rounds <= 0 {
		c.Rounds = 100
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 6
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.3
	}
	if c.Subsample <= 0 || c.Subsample > 1 {
		c.Subsample = 1
	}
	if c.Colsample <= 0 || c.Colsample > 1 {
		c.Colsample = 1
	}
	if c.Lambda < 0 {
		c.Lambda = 0
	}
	if c.MinChildWeight <= 0 {
		c.MinChildWeight = 1
	}
}

// #endregion config

// #region tree

type regNode struct {
	feature     int // -1 for a leaf
	threshold   float64
	left, right int
	value       float64 // shrunken weight this node would predict as a leaf
}

type regTree struct {
	nodes []regNode
}

func (t *regTree) predict(row []float64) float64 {
	n := 0
	for t.nodes[n].feature >= 0 {
		if row[t.nodes[n].feature] <= t.nodes[n].threshold {
			n = t.nodes[n].left
		} else {
			n = t.nodes[n].right
		}
	}
	return t.nodes[n].value
}

// attribute walks row's path and adds each split's change in node value to
// the feature it split on.
func (t *regTree) attribute(row []float64, phi []float64, mark []bool, touched *[]int) {
	n := 0
	for t.nodes[n].feature >= 0 {
		f := t.nodes[n].feature
		next := t.nodes[n].right
		if row[f] <= t.nodes[n].threshold {
			next = t.nodes[n].left
		}
		if !mark[f] {
			mark[f] = true
			*touched = append(*touched, f)
		}
		phi[f] += t.nodes[next].value - t.nodes[n].value
		n = next
	}
}

// #endregion tree

// #region booster

// Booster is a gradient-boosted ensemble of regression trees over logistic
// (two classes) or softmax (more) loss.
type Booster struct {
	groups   int
	trees    [][]*regTree // trees[group]
	gainSum  []float64
	gainSeen []int
}

// FitBooster trains a booster on x and labels y in [0, classes).
func FitBooster(ctx context.Context, x [][]float64, y []int, classes int, cfg BoostConfig) (*Booster, error) {
	n := len(x)
	if n == 0 || len(y) != n {
		return nil, errors.New("boost: empty or mismatched input")
	}
	if classes < 2 {
		return nil, errors.New("boost: need at least two classes")
	}
	cfg.defaults()
	p := len(x[0])
	groups := classes
	if classes == 2 {
		groups = 1
	}
	b := &Booster{
		groups:   groups,
		trees:    make([][]*regTree, groups),
		gainSum:  make([]float64, p),
		gainSeen: make([]int, p),
	}

	sorted := presort(x)
	rng := rand.New(rand.NewSource(cfg.Seed))
	margin := make([][]float64, groups)
	for k := range margin {
		margin[k] = make([]float64, n)
	}
	grad := make([][]float64, groups)
	hess := make([][]float64, groups)
	for k := range grad {
		grad[k] = make([]float64, n)
		hess[k] = make([]float64, n)
	}
	prob := make([]float64, groups)

	ncol := max(1, int(math.Round(cfg.Colsample*float64(p))))
	for round := 0; round < cfg.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range n {
			if groups == 1 {
				pr := sigmoid(margin[0][i])
				grad[0][i] = pr - indicator(y[i] == 1)
				hess[0][i] = math.Max(pr*(1-pr), 1e-16)
				continue
			}
			softmaxAt(margin, i, prob)
			for k := range groups {
				grad[k][i] = prob[k] - indicator(y[i] == k)
				hess[k][i] = math.Max(2*prob[k]*(1-prob[k]), 1e-16)
			}
		}
		for k := range groups {
			rows := make([]bool, n)
			picked := false
			for i := range rows {
				rows[i] = cfg.Subsample >= 1 || rng.Float64() < cfg.Subsample
				picked = picked || rows[i]
			}
			if !picked {
				rows[rng.Intn(n)] = true
			}
			cols := rng.Perm(p)[:ncol]
			slices.Sort(cols)

			tree := b.grow(x, sorted, grad[k], hess[k], rows, cols, cfg)
			b.trees[k] = append(b.trees[k], tree)
			for i := range n {
				margin[k][i] += tree.predict(x[i])
			}
		}
	}
	return b, nil
}

func presort(x [][]float64) [][]int {
	p := len(x[0])
	out := make([][]int, p)
	for f := range p {
		order := make([]int, len(x))
		for i := range order {
			order[i] = i
		}
		slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(x[a][f], x[b][f]) })
		out[f] = order
	}
	return out
}

type splitScan struct {
	g, h      float64 // totals of the node
	gl, hl    float64 // running left totals
	last      float64
	seen      bool
	gain      float64
	feature   int
	threshold float64
}

// grow builds one tree level by level: for every sampled column the rows
// are visited once in sorted order and each open node keeps its own
// running left sums.
func (b *Booster) grow(x [][]float64, sorted [][]int, grad, hess []float64, rows []bool, cols []int, cfg BoostConfig) *regTree {
	n := len(x)
	pos := make([]int, n)
	var g0, h0 float64
	for i := range n {
		if !rows[i] {
			pos[i] = -1
			continue
		}
		g0 += grad[i]
		h0 += hess[i]
	}
	t := &regTree{}
	leaf := func(g, h float64) int {
		t.nodes = append(t.nodes, regNode{feature: -1, value: -g / (h + cfg.Lambda) * cfg.LearningRate})
		return len(t.nodes) - 1
	}
	leaf(g0, h0)

	open := []int{0}
	sums := map[int][2]float64{0: {g0, h0}}
	for depth := 0; depth < cfg.MaxDepth && len(open) > 0; depth++ {
		scans := make(map[int]*splitScan, len(open))
		for _, id := range open {
			s := sums[id]
			scans[id] = &splitScan{g: s[0], h: s[1], feature: -1}
		}
		for _, f := range cols {
			for _, s := range scans {
				s.gl, s.hl, s.seen = 0, 0, false
			}
			for _, i := range sorted[f] {
				if pos[i] < 0 {
					continue
				}
				s, ok := scans[pos[i]]
				if !ok {
					continue
				}
				v := x[i][f]
				if s.seen && v != s.last {
					hr := s.h - s.hl
					if s.hl >= cfg.MinChildWeight && hr >= cfg.MinChildWeight {
						gr := s.g - s.gl
						gain := 0.5 * (s.gl*s.gl/(s.hl+cfg.Lambda) + gr*gr/(hr+cfg.Lambda) - s.g*s.g/(s.h+cfg.Lambda))
						if gain > s.gain+1e-12 {
							s.gain, s.feature, s.threshold = gain, f, s.last
						}
					}
				}
				s.gl += grad[i]
				s.hl += hess[i]
				s.last, s.seen = v, true
			}
		}

		var next []int
		children := make(map[int][2]int)
		for _, id := range open {
			s := scans[id]
			if s.feature < 0 {
				continue
			}
			b.gainSum[s.feature] += s.gain
			b.gainSeen[s.feature]++
			t.nodes[id].feature = s.feature
			t.nodes[id].threshold = s.threshold
			children[id] = [2]int{len(t.nodes), len(t.nodes) + 1}
			t.nodes[id].left = len(t.nodes)
			t.nodes[id].right = len(t.nodes) + 1
			leaf(0, 0)
			leaf(0, 0)
			next = append(next, t.nodes[id].left, t.nodes[id].right)
		}
		childSums := make(map[int][2]float64, len(next))
		for i := range n {
			if pos[i] < 0 {
				continue
			}
			ch, ok := children[pos[i]]
			if !ok {
				continue
			}
			nd := t.nodes[pos[i]]
			c := ch[1]
			if x[i][nd.feature] <= nd.threshold {
				c = ch[0]
			}
			pos[i] = c
			s := childSums[c]
			childSums[c] = [2]float64{s[0] + grad[i], s[1] + hess[i]}
		}
		for _, c := range next {
			s := childSums[c]
			t.nodes[c].value = -s[0] / (s[1] + cfg.Lambda) * cfg.LearningRate
		}
		open, sums = next, childSums
	}
	return t
}

// #endregion booster

// #region importance

// MeanAbsAttribution returns, per feature, the mean absolute path
// attribution over the given rows and over every output group.
func (b *Booster) MeanAbsAttribution(x [][]float64) []float64 {
	if len(x) == 0 {
		return nil
	}
	p := len(b.gainSum)
	out := make([]float64, p)
	phi := make([]float64, p)
	mark := make([]bool, p)
	var touched []int
	for _, row := range x {
		for k := 0; k < b.groups; k++ {
			touched = touched[:0]
			for _, t := range b.trees[k] {
				t.attribute(row, phi, mark, &touched)
			}
			for _, f := range touched {
				out[f] += math.Abs(phi[f])
				phi[f], mark[f] = 0, false
			}
		}
	}
	denom := float64(len(x) * b.groups)
	for j := range out {
		out[j] /= denom
	}
	return out
}

// Gain returns the average split gain per feature, zero for features
// never split on.
func (b *Booster) Gain() []float64 {
	out := make([]float64, len(b.gainSum))
	for j, s := range b.gainSum {
		if b.gainSeen[j] > 0 {
			out[j] = s / float64(b.gainSeen[j])
		}
	}
	return out
}

// #endregion importance

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func softmaxAt(margin [][]float64, i int, out []float64) {
	m := math.Inf(-1)
	for k := range margin {
		m = math.Max(m, margin[k][i])
	}
	var sum float64
	for k := range margin {
		out[k] = math.Exp(margin[k][i] - m)
		sum += out[k]
	}
	for k := range out {
		out[k] /= sum
	}
}
