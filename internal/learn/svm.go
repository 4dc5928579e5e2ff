package learn

import (
	"cmp"
	"context"
	"errors"
	"math"
	"math/rand"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// #region svm

// SVMConfig configures FitLinearSVM.
type SVMConfig struct {
	C       float64
	Tol     float64
	MaxIter int
	Seed    int64
}

// FitLinearSVM fits a hinge-loss linear SVM with an intercept by dual
// coordinate descent. Two classes give one weight vector; more classes
// give one per class, each against the rest.
func FitLinearSVM(ctx context.Context, x [][]float64, y []int, classes int, cfg SVMConfig) ([][]float64, error) {
	if len(x) == 0 || len(y) != len(x) {
		return nil, errors.New("svm: empty or mismatched input")
	}
	if cfg.C <= 0 {
		cfg.C = 1
	}
	if cfg.Tol <= 0 {
		cfg.Tol = 1e-3
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = 1000
	}
	problems := classes
	if classes == 2 {
		problems = 1
	}
	out := make([][]float64, problems)
	for k := range problems {
		positive := k
		if classes == 2 {
			positive = 1
		}
		sign := make([]float64, len(y))
		for i, c := range y {
			sign[i] = -1
			if c == positive {
				sign[i] = 1
			}
		}
		w, err := fitBinarySVM(ctx, x, sign, cfg, rand.New(rand.NewSource(cfg.Seed+int64(k))))
		if err != nil {
			return nil, err
		}
		out[k] = w
	}
	return out, nil
}

func fitBinarySVM(ctx context.Context, x [][]float64, sign []float64, cfg SVMConfig, rng *rand.Rand) ([]float64, error) {
	n, p := len(x), len(x[0])
	alpha := make([]float64, n)
	qd := make([]float64, n)
	for i, row := range x {
		qd[i] = floats.Dot(row, row) + 1
	}
	w := make([]float64, p)
	var b float64
	for iter := 0; iter < cfg.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		maxPG, minPG := math.Inf(-1), math.Inf(1)
		for _, i := range rng.Perm(n) {
			g := sign[i]*(floats.Dot(w, x[i])+b) - 1
			pg := g
			switch {
			case alpha[i] == 0:
				pg = math.Min(g, 0)
			case alpha[i] == cfg.C:
				pg = math.Max(g, 0)
			}
			maxPG, minPG = math.Max(maxPG, pg), math.Min(minPG, pg)
			if pg == 0 {
				continue
			}
			old := alpha[i]
			alpha[i] = math.Min(math.Max(old-g/qd[i], 0), cfg.C)
			d := (alpha[i] - old) * sign[i]
			floats.AddScaled(w, d, x[i])
			b += d
		}
		if maxPG-minPG <= cfg.Tol {
			break
		}
	}
	return w, nil
}

// #endregion svm

// #region rfe

// RFEConfig configures RecursiveElimination.
type RFEConfig struct {
	SVM SVMConfig
	// Step is the number of features removed per round: a fraction of the
	// starting feature count when below 1, an absolute count otherwise.
	Step float64
	// Keep is the number of features left standing; at least 1.
	Keep int
}

// RecursiveElimination repeatedly fits a linear SVM on the surviving
// features and drops the ones with the smallest squared weight. It returns,
// per feature, the number of elimination rounds it survived. Features left
// standing score the total number of rounds.
func RecursiveElimination(ctx context.Context, x [][]float64, y []int, classes int, cfg RFEConfig) ([]int, error) {
	if len(x) == 0 {
		return nil, errors.New("rfe: empty input")
	}
	p := len(x[0])
	keep := max(1, cfg.Keep)
	step := int(cfg.Step)
	if cfg.Step > 0 && cfg.Step < 1 {
		step = int(cfg.Step * float64(p))
	}
	step = max(1, step)

	alive := make([]int, p)
	for j := range alive {
		alive[j] = j
	}
	survived := make([]int, p)
	round := 0
	sub := make([][]float64, len(x))
	for len(alive) > keep {
		for i, row := range x {
			r := make([]float64, len(alive))
			for k, j := range alive {
				r[k] = row[j]
			}
			sub[i] = r
		}
		ws, err := FitLinearSVM(ctx, sub, y, classes, cfg.SVM)
		if err != nil {
			return nil, err
		}
		weight := make([]float64, len(alive))
		for _, w := range ws {
			for k, v := range w {
				weight[k] += v * v
			}
		}
		order := make([]int, len(alive))
		for k := range order {
			order[k] = k
		}
		slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(weight[a], weight[b]) })
		drop := min(step, len(alive)-keep)
		gone := make(map[int]bool, drop)
		for _, k := range order[:drop] {
			survived[alive[k]] = round
			gone[k] = true
		}
		next := alive[:0:0]
		for k, j := range alive {
			if !gone[k] {
				next = append(next, j)
			}
		}
		alive = next
		round++
	}
	for _, j := range alive {
		survived[j] = round
	}
	return survived, nil
}

// #endregion rfe
