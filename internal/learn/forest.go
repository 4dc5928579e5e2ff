package learn

import (
	"context"
	"errors"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ForestConfig configures ForestImportance.
type ForestConfig struct {
	Trees          int
	MaxDepth       int
	MinSamplesLeaf int
	MaxFeatures    int // 0 means sqrt(p)
	Bootstrap      bool
	Balanced       bool
	Seed           int64
	Workers        int // 0 means GOMAXPROCS
}

// ForestImportance fits cfg.Trees gini trees and returns the mean of their
// normalized impurity importances. Tree i draws from seed cfg.Seed+i and
// the per-tree vectors are summed in tree order, so the result does not
// depend on scheduling.
func ForestImportance(ctx context.Context, x [][]float64, y []int, classes int, cfg ForestConfig) ([]float64, error) {
	n := len(x)
	if n == 0 || len(y) != n {
		return nil, errors.New("forest: empty or mismatched input")
	}
	p := len(x[0])
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.MaxFeatures <= 0 {
		cfg.MaxFeatures = SqrtFeatures(p)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	classWeight := make([]float64, classes)
	for k := range classWeight {
		classWeight[k] = 1
	}
	if cfg.Balanced {
		classWeight = BalancedWeights(y, classes)
	}
	tc := TreeConfig{MaxDepth: cfg.MaxDepth, MinSamplesLeaf: cfg.MinSamplesLeaf, MaxFeatures: cfg.MaxFeatures}

	perTree := make([][]float64, cfg.Trees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < cfg.Trees; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(cfg.Seed + int64(i)))
			w := make([]float64, n)
			var idx []int
			if cfg.Bootstrap {
				draws := make([]int, n)
				for range n {
					draws[rng.Intn(n)]++
				}
				for r, c := range draws {
					if c > 0 {
						w[r] = float64(c) * classWeight[y[r]]
						idx = append(idx, r)
					}
				}
			} else {
				for r := range n {
					w[r] = classWeight[y[r]]
					idx = append(idx, r)
				}
			}
			perTree[i] = TreeImportance(x, y, w, idx, classes, tc, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]float64, p)
	for _, imp := range perTree {
		for j, v := range imp {
			out[j] += v
		}
	}
	for j := range out {
		out[j] /= float64(cfg.Trees)
	}
	return out, nil
}
