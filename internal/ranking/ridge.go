package ranking

import (
	"context"
	"math"
	"math/rand"
	"slices"

	"github.com/kostaslazaros/cpgenius/internal/dataset"
	"github.com/kostaslazaros/cpgenius/internal/learn"
)

// ridge ranks by the mean absolute ridge coefficient over random row
// subsamples.
type ridge struct {
	p    RidgeParams
	seed int64
}

func (s ridge) Rank(ctx context.Context, ds *dataset.Dataset) (Ranking, error) {
	if err := validate(ds); err != nil {
		return nil, fail(Ridge, err)
	}
	n, p := ds.Rows(), len(ds.Features)
	size := max(2, int(float64(n)*s.p.Subsample))
	size = min(size, n)
	rng := rand.New(rand.NewSource(s.seed))

	acc := make([]float64, p)
	valid := 0
	for range s.p.Repeats {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows := rng.Perm(n)[:size]
		x, y, k := subsample(ds, rows)
		if k < 2 {
			continue
		}
		ws, err := learn.FitRidge(x, y, k, s.p.Alpha)
		if err != nil {
			continue
		}
		abs := make([]float64, p)
		for _, w := range ws {
			if len(w) != p {
				return nil, fail(Ridge, mismatch(len(w), p))
			}
			for j, v := range w {
				abs[j] += math.Abs(v) / float64(len(ws))
			}
		}
		if !allFinite(abs) {
			continue
		}
		for j, v := range abs {
			acc[j] += v
		}
		valid++
	}
	if valid == 0 {
		return nil, fail(Ridge, ErrNoFiniteImportance)
	}
	for j := range acc {
		acc[j] /= float64(valid)
	}
	r, err := order(ds.Features, acc)
	if err != nil {
		return nil, fail(Ridge, err)
	}
	return r, nil
}

// subsample copies the given rows and re-encodes their labels densely over
// the classes present, in class order.
func subsample(ds *dataset.Dataset, rows []int) ([][]float64, []int, int) {
	var present []int
	for _, i := range rows {
		present = append(present, ds.Y[i])
	}
	slices.Sort(present)
	present = slices.Compact(present)
	code := make(map[int]int, len(present))
	for k, c := range present {
		code[c] = k
	}
	x := make([][]float64, len(rows))
	y := make([]int, len(rows))
	for k, i := range rows {
		x[k] = ds.X[i]
		y[k] = code[ds.Y[i]]
	}
	return x, y, len(present)
}
