package ranking

import (
	"context"
	"math/rand"
	"slices"

	"github.com/kostaslazaros/cpgenius/internal/dataset"
	"github.com/kostaslazaros/cpgenius/internal/learn"
)

// boost ranks by mean absolute path attribution of a boosted tree
// ensemble, then by average split gain.
type boost struct {
	p    BoostParams
	seed int64
}

func (s boost) Rank(ctx context.Context, ds *dataset.Dataset) (Ranking, error) {
	if err := validate(ds); err != nil {
		return nil, fail(SHAPBoost, err)
	}
	b, err := learn.FitBooster(ctx, ds.X, ds.Y, ds.Classes, learn.BoostConfig{
		Rounds:       s.p.Rounds,
		MaxDepth:     s.p.MaxDepth,
		LearningRate: s.p.LearningRate,
		Subsample:    s.p.Subsample,
		Colsample:    s.p.Colsample,
		Lambda:       s.p.Lambda,
		Seed:         s.seed,
	})
	if err != nil {
		return nil, fail(SHAPBoost, err)
	}

	rows := ds.X
	if n := ds.Rows(); s.p.AttributionRows > 0 && n > s.p.AttributionRows {
		pick := rand.New(rand.NewSource(s.seed)).Perm(n)[:s.p.AttributionRows]
		slices.Sort(pick)
		rows = make([][]float64, len(pick))
		for k, i := range pick {
			rows[k] = ds.X[i]
		}
	}
	attr := b.MeanAbsAttribution(rows)
	gain := b.Gain()
	if len(attr) != len(ds.Features) {
		return nil, fail(SHAPBoost, mismatch(len(attr), len(ds.Features)))
	}
	if !anyFinite(attr) {
		return nil, fail(SHAPBoost, ErrNoFiniteImportance)
	}
	r, err := order(ds.Features, sanitize(attr, 0), desc(sanitize(gain, 0)))
	if err != nil {
		return nil, fail(SHAPBoost, err)
	}
	return r, nil
}
