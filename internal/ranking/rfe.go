package ranking

import (
	"context"

	"github.com/kostaslazaros/cpgenius/internal/dataset"
	"github.com/kostaslazaros/cpgenius/internal/learn"
)

// rfe ranks by the number of elimination rounds a feature survives under
// recursive elimination with a linear SVM.
type rfe struct {
	p    RFEParams
	seed int64
}

func (s rfe) Rank(ctx context.Context, ds *dataset.Dataset) (Ranking, error) {
	if err := validate(ds); err != nil {
		return nil, fail(RFESVM, err)
	}
	survived, err := learn.RecursiveElimination(ctx, ds.X, ds.Y, ds.Classes, learn.RFEConfig{
		SVM:  learn.SVMConfig{C: s.p.C, Tol: s.p.Tol, MaxIter: s.p.MaxIter, Seed: s.seed},
		Step: s.p.Step,
		Keep: 1,
	})
	if err != nil {
		return nil, fail(RFESVM, err)
	}
	if len(survived) != len(ds.Features) {
		return nil, fail(RFESVM, mismatch(len(survived), len(ds.Features)))
	}
	score := make([]float64, len(survived))
	for j, r := range survived {
		score[j] = float64(r)
	}
	r, err := order(ds.Features, score)
	if err != nil {
		return nil, fail(RFESVM, err)
	}
	return r, nil
}
