// Package learn holds the model fitting used by the ranking strategies.
// Every fit is deterministic for a given seed.
package learn

import (
	"cmp"
	"math"
	"math/rand"
	"slices"
)

// #region weights

// BalancedWeights returns n / (classes * count[y]) per class, the weighting
// that gives each class the same total mass.
func BalancedWeights(y []int, classes int) []float64 {
	counts := make([]int, classes)
	for _, c := range y {
		counts[c]++
	}
	w := make([]float64, classes)
	for k, c := range counts {
		if c > 0 {
			w[k] = float64(len(y)) / float64(classes*c)
		}
	}
	return w
}

// #endregion weights

// #region cart

// TreeConfig bounds the growth of a classification tree.
type TreeConfig struct {
	MaxDepth       int // 0 means unlimited
	MinSamplesLeaf int
	MaxFeatures    int // features examined per split; 0 means all
}

type cart struct {
	x          [][]float64
	y          []int
	w          []float64
	classes    int
	cfg        TreeConfig
	rng        *rand.Rand
	importance []float64
}

// TreeImportance grows one gini tree on the rows in idx with per-row
// weights w (indexed like x) and returns the weighted impurity decrease
// accumulated per feature, normalized to sum to 1. A tree that never
// splits returns all zeros.
func TreeImportance(x [][]float64, y []int, w []float64, idx []int, classes int, cfg TreeConfig, rng *rand.Rand) []float64 {
	p := len(x[0])
	if cfg.MinSamplesLeaf < 1 {
		cfg.MinSamplesLeaf = 1
	}
	if cfg.MaxFeatures <= 0 || cfg.MaxFeatures > p {
		cfg.MaxFeatures = p
	}
	t := &cart{x: x, y: y, w: w, classes: classes, cfg: cfg, rng: rng, importance: make([]float64, p)}
	t.grow(slices.Clone(idx), 0)

	var total float64
	for _, v := range t.importance {
		total += v
	}
	if total > 0 {
		for j := range t.importance {
			t.importance[j] /= total
		}
	}
	return t.importance
}

func (t *cart) counts(idx []int) ([]float64, float64) {
	c := make([]float64, t.classes)
	var total float64
	for _, i := range idx {
		c[t.y[i]] += t.w[i]
		total += t.w[i]
	}
	return c, total
}

func gini(counts []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	s := 1.0
	for _, c := range counts {
		p := c / total
		s -= p * p
	}
	return s
}

func (t *cart) grow(idx []int, depth int) {
	if len(idx) < 2*t.cfg.MinSamplesLeaf {
		return
	}
	if t.cfg.MaxDepth > 0 && depth >= t.cfg.MaxDepth {
		return
	}
	counts, total := t.counts(idx)
	impurity := gini(counts, total)
	if impurity <= 0 {
		return
	}

	bestGain, bestFeature, bestThreshold := 0.0, -1, 0.0
	order := make([]int, len(idx))
	left := make([]float64, t.classes)
	right := make([]float64, t.classes)
	for _, f := range t.rng.Perm(len(t.importance))[:t.cfg.MaxFeatures] {
		copy(order, idx)
		slices.SortStableFunc(order, func(a, b int) int {
			return cmp.Compare(t.x[a][f], t.x[b][f])
		})
		clear(left)
		var leftW float64
		for k := 0; k < len(order)-1; k++ {
			i := order[k]
			left[t.y[i]] += t.w[i]
			leftW += t.w[i]
			if k+1 < t.cfg.MinSamplesLeaf || len(order)-k-1 < t.cfg.MinSamplesLeaf {
				continue
			}
			lo, hi := t.x[i][f], t.x[order[k+1]][f]
			if lo == hi {
				continue
			}
			rightW := total - leftW
			for c := range right {
				right[c] = counts[c] - left[c]
			}
			gain := total*impurity - leftW*gini(left, leftW) - rightW*gini(right, rightW)
			if gain > bestGain+1e-12 {
				bestGain, bestFeature, bestThreshold = gain, f, lo
			}
		}
	}
	if bestFeature < 0 {
		return
	}
	t.importance[bestFeature] += bestGain

	var l, r []int
	for _, i := range idx {
		if t.x[i][bestFeature] <= bestThreshold {
			l = append(l, i)
		} else {
			r = append(r, i)
		}
	}
	t.grow(l, depth+1)
	t.grow(r, depth+1)
}

// SqrtFeatures is the usual max-features setting for classification forests.
func SqrtFeatures(p int) int {
	return max(1, int(math.Sqrt(float64(p))))
}

// #endregion cart
