package ranking

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kostaslazaros/cpgenius/internal/dataset"
)

// anova ranks by the one-way ANOVA F statistic, then by p-value.
type anova struct{}

func (anova) Rank(ctx context.Context, ds *dataset.Dataset) (Ranking, error) {
	if err := validate(ds); err != nil {
		return nil, fail(ANOVA, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, p := FTest(ds)
	// Constant or perfectly separated columns give NaN or Inf; both rank last.
	sanitize(f, 0)
	sanitize(p, 1)
	r, err := order(ds.Features, f, asc(p))
	if err != nil {
		return nil, fail(ANOVA, err)
	}
	return r, nil
}

// FTest returns the one-way ANOVA F statistic and its p-value for every
// feature, grouping samples by class. Degenerate columns yield NaN or Inf.
func FTest(ds *dataset.Dataset) (f, p []float64) {
	n := ds.Rows()
	counts := ds.ClassCounts()
	k := 0
	for _, c := range counts {
		if c > 0 {
			k++
		}
	}
	dfb, dfw := float64(k-1), float64(n-k)
	// Singleton classes leave no within-group degrees of freedom.
	degenerate := dfb <= 0 || dfw <= 0
	var dist distuv.F
	if !degenerate {
		dist = distuv.F{D1: dfb, D2: dfw}
	}

	f = make([]float64, len(ds.Features))
	p = make([]float64, len(ds.Features))
	sums := make([]float64, ds.Classes)
	for j := range ds.Features {
		if degenerate {
			f[j], p[j] = math.NaN(), math.NaN()
			continue
		}
		col := ds.Column(j)
		grand := stat.Mean(col, nil)
		clear(sums)
		for i, v := range col {
			sums[ds.Y[i]] += v
		}
		var ssb, ssw float64
		for c, s := range sums {
			if counts[c] == 0 {
				continue
			}
			m := s / float64(counts[c])
			ssb += float64(counts[c]) * (m - grand) * (m - grand)
		}
		for i, v := range col {
			m := sums[ds.Y[i]] / float64(counts[ds.Y[i]])
			ssw += (v - m) * (v - m)
		}
		f[j] = (ssb / dfb) / (ssw / dfw)
		p[j] = dist.Survival(f[j])
	}
	return f, p
}
