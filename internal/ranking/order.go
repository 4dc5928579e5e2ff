package ranking

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/kostaslazaros/cpgenius/internal/dataset"
)

// #region keys

// key is one sort column: larger values first when desc is set.
type key struct {
	values []float64
	desc   bool
}

func desc(v []float64) key { return key{values: v, desc: true} }
func asc(v []float64) key  { return key{values: v} }

// order sorts the features by the primary score and then each tie-break
// key in turn, with the feature name as the last key. The result is a
// strict total order because feature names are unique.
func order(features []string, primary []float64, ties ...key) (Ranking, error) {
	if len(primary) != len(features) {
		return nil, fmt.Errorf("%w: %d scores for %d features", ErrLengthMismatch, len(primary), len(features))
	}
	keys := append([]key{desc(primary)}, ties...)
	for _, k := range keys {
		if len(k.values) != len(features) {
			return nil, fmt.Errorf("%w: %d tie-break values for %d features", ErrLengthMismatch, len(k.values), len(features))
		}
	}
	idx := make([]int, len(features))
	for i := range idx {
		idx[i] = i
	}
	slices.SortFunc(idx, func(a, b int) int {
		for _, k := range keys {
			c := cmp.Compare(k.values[a], k.values[b])
			if k.desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return strings.Compare(features[a], features[b])
	})
	out := make(Ranking, len(idx))
	for i, j := range idx {
		out[i] = Entry{Feature: features[j], Importance: primary[j]}
	}
	return out, nil
}

// #endregion

// #region hygiene

// sanitize replaces NaN and infinite values with neutral, a value that
// sorts the feature as the worst for its key.
func sanitize(v []float64, neutral float64) []float64 {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			v[i] = neutral
		}
	}
	return v
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// validate re-checks what preparation guarantees before a model is fitted.
func validate(ds *dataset.Dataset) error {
	if ds == nil || len(ds.Y) == 0 || len(ds.X) != len(ds.Y) {
		return fmt.Errorf("%w: empty or mismatched rows", ErrInvalidDataset)
	}
	p := len(ds.Features)
	if p == 0 {
		return fmt.Errorf("%w: no features", ErrInvalidDataset)
	}
	for i, row := range ds.X {
		if len(row) != p {
			return fmt.Errorf("%w: row %d has %d values for %d features", ErrInvalidDataset, i, len(row), p)
		}
		if !allFinite(row) {
			return fmt.Errorf("%w: row %d has non-finite values", ErrInvalidDataset, i)
		}
	}
	present := 0
	for _, c := range ds.ClassCounts() {
		if c > 0 {
			present++
		}
	}
	for _, y := range ds.Y {
		if y < 0 || y >= ds.Classes {
			return fmt.Errorf("%w: label %d outside [0,%d)", ErrInvalidDataset, y, ds.Classes)
		}
	}
	if present < 2 {
		return ErrTooFewClasses
	}
	return nil
}

// #endregion
