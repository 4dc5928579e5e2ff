package ranking

import (
	"context"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/kostaslazaros/cpgenius/internal/dataset"
	"github.com/kostaslazaros/cpgenius/internal/learn"
)

// mlp ranks by Garson/Olden connection-weight importance averaged over
// several independently seeded networks.
type mlp struct {
	p       MLPParams
	seed    int64
	workers int
}

func (s mlp) Rank(ctx context.Context, ds *dataset.Dataset) (Ranking, error) {
	if err := validate(ds); err != nil {
		return nil, fail(MLP, err)
	}
	x, y := ds.X, ds.Y
	if s.p.Upsample {
		x, y = upsample(ds, rand.New(rand.NewSource(s.seed)))
	}

	// Seeds are drawn up front so the set of models is fixed before any
	// of them is scheduled.
	master := rand.New(rand.NewSource(s.seed))
	seeds := make([]int64, max(1, s.p.Models))
	for m := range seeds {
		seeds[m] = master.Int63n(math.MaxInt32)
	}

	workers := s.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	perModel := make([][]float64, len(seeds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for m, seed := range seeds {
		g.Go(func() error {
			net, err := learn.FitMLP(gctx, x, y, ds.Classes, learn.MLPConfig{
				Hidden:       s.p.Hidden,
				Alpha:        s.p.Alpha,
				LearningRate: s.p.LearningRate,
				Epochs:       s.p.Epochs,
				Seed:         seed,
			})
			if err != nil {
				return err
			}
			perModel[m] = net.ConnectionImportance()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fail(MLP, err)
	}

	acc := make([]float64, len(ds.Features))
	valid := 0
	for _, imp := range perModel {
		if len(imp) != len(acc) {
			return nil, fail(MLP, mismatch(len(imp), len(acc)))
		}
		if !allFinite(imp) {
			continue
		}
		for j, v := range imp {
			acc[j] += v
		}
		valid++
	}
	if valid == 0 {
		return nil, fail(MLP, ErrNoFiniteImportance)
	}
	for j := range acc {
		acc[j] /= float64(valid)
	}
	r, err := order(ds.Features, acc)
	if err != nil {
		return nil, fail(MLP, err)
	}
	return r, nil
}

// upsample resamples every class with replacement up to the size of the
// largest class and shuffles the result.
func upsample(ds *dataset.Dataset, rng *rand.Rand) ([][]float64, []int) {
	byClass := make([][]int, ds.Classes)
	for i, c := range ds.Y {
		byClass[c] = append(byClass[c], i)
	}
	largest := 0
	for _, rows := range byClass {
		largest = max(largest, len(rows))
	}
	var idx []int
	for _, rows := range byClass {
		idx = append(idx, rows...)
		if len(rows) == 0 {
			continue
		}
		for range largest - len(rows) {
			idx = append(idx, rows[rng.Intn(len(rows))])
		}
	}
	rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
	x := make([][]float64, len(idx))
	y := make([]int, len(idx))
	for k, i := range idx {
		x[k], y[k] = ds.X[i], ds.Y[i]
	}
	return x, y
}
