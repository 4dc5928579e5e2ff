package ranking

import (
	"context"
	"math/rand/v2"

	"github.com/kostaslazaros/cpgenius/internal/dataset"
)

// baseline assigns every feature a uniformly random score. It is not
// seeded and its order changes from run to run.
type baseline struct{}

func (baseline) Rank(ctx context.Context, ds *dataset.Dataset) (Ranking, error) {
	if ds == nil || len(ds.Features) == 0 {
		return nil, fail(Baseline, ErrInvalidDataset)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	score := make([]float64, len(ds.Features))
	for j := range score {
		score[j] = rand.Float64()
	}
	r, err := order(ds.Features, score)
	if err != nil {
		return nil, fail(Baseline, err)
	}
	return r, nil
}
