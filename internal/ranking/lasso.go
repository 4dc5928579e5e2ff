package ranking

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kostaslazaros/cpgenius/internal/dataset"
	"github.com/kostaslazaros/cpgenius/internal/learn"
)

// lasso ranks by the magnitude of L1-penalized logistic coefficients,
// then by absolute feature-label correlation.
type lasso struct {
	p LassoParams
}

func (s lasso) Rank(ctx context.Context, ds *dataset.Dataset) (Ranking, error) {
	if err := validate(ds); err != nil {
		return nil, fail(Lasso, err)
	}
	ws, err := learn.FitL1Logistic(ctx, ds.X, ds.Y, ds.Classes, learn.LogisticConfig{
		C:        s.p.C,
		MaxIter:  s.p.MaxIter,
		Tol:      s.p.Tol,
		Balanced: s.p.Balanced,
	})
	if err != nil {
		return nil, fail(Lasso, err)
	}
	for _, w := range ws {
		if len(w) != len(ds.Features) {
			return nil, fail(Lasso, mismatch(len(w), len(ds.Features)))
		}
	}
	score := coefNorm(ws, len(ds.Features))
	if !anyFinite(score) {
		return nil, fail(Lasso, ErrNoFiniteImportance)
	}
	sanitize(score, 0)
	tie := sanitize(LabelCorrelation(ds), 0)
	r, err := order(ds.Features, score, desc(tie))
	if err != nil {
		return nil, fail(Lasso, err)
	}
	return r, nil
}

// coefNorm is |w| for a single vector and the L2 norm across vectors
// otherwise.
func coefNorm(ws [][]float64, p int) []float64 {
	out := make([]float64, p)
	if len(ws) == 1 {
		for j, v := range ws[0] {
			out[j] = math.Abs(v)
		}
		return out
	}
	col := make([]float64, len(ws))
	for j := range out {
		for k, w := range ws {
			col[k] = w[j]
		}
		out[j] = floats.Norm(col, 2)
	}
	return out
}

// LabelCorrelation returns, per feature, the largest absolute Pearson
// correlation with any one-vs-rest class indicator. Constant columns give
// NaN.
func LabelCorrelation(ds *dataset.Dataset) []float64 {
	indicators := make([][]float64, ds.Classes)
	for c := range indicators {
		ind := make([]float64, ds.Rows())
		for i, y := range ds.Y {
			if y == c {
				ind[i] = 1
			}
		}
		indicators[c] = ind
	}
	out := make([]float64, len(ds.Features))
	for j := range out {
		col := ds.Column(j)
		best := math.NaN()
		for _, ind := range indicators {
			r := math.Abs(stat.Correlation(col, ind, nil))
			if math.IsNaN(r) {
				continue
			}
			if math.IsNaN(best) || r > best {
				best = r
			}
		}
		out[j] = best
	}
	return out
}

func anyFinite(v []float64) bool {
	for _, x := range v {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			return true
		}
	}
	return false
}

func mismatch(got, want int) error {
	return fmt.Errorf("%w: %d scores for %d features", ErrLengthMismatch, got, want)
}
