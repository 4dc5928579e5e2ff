package ranking

import (
	"context"

	"github.com/kostaslazaros/cpgenius/internal/dataset"
	"github.com/kostaslazaros/cpgenius/internal/learn"
)

// forest ranks by mean impurity decrease over a random forest.
type forest struct {
	p       ForestParams
	seed    int64
	workers int
}

func (s forest) Rank(ctx context.Context, ds *dataset.Dataset) (Ranking, error) {
	if err := validate(ds); err != nil {
		return nil, fail(RandomForest, err)
	}
	imp, err := learn.ForestImportance(ctx, ds.X, ds.Y, ds.Classes, learn.ForestConfig{
		Trees:          s.p.Trees,
		MaxDepth:       s.p.MaxDepth,
		MinSamplesLeaf: s.p.MinSamplesLeaf,
		MaxFeatures:    s.p.MaxFeatures,
		Bootstrap:      s.p.Bootstrap,
		Balanced:       s.p.Balanced,
		Seed:           s.seed,
		Workers:        s.workers,
	})
	if err != nil {
		return nil, fail(RandomForest, err)
	}
	if len(imp) != len(ds.Features) {
		return nil, fail(RandomForest, mismatch(len(imp), len(ds.Features)))
	}
	if !anyFinite(imp) {
		return nil, fail(RandomForest, ErrNoFiniteImportance)
	}
	r, err := order(ds.Features, sanitize(imp, 0))
	if err != nil {
		return nil, fail(RandomForest, err)
	}
	return r, nil
}
