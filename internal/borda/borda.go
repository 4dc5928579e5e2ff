// Package borda fuses several feature rankings into one consensus order by
// Borda count.
package borda

import (
	"cmp"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/kostaslazaros/cpgenius/internal/artifact"
	"github.com/kostaslazaros/cpgenius/internal/ranking"
)

// Score is one feature's aggregate Borda points.
type Score struct {
	Feature string `json:"feature"`
	Points  int    `json:"points"`
}

// #region aggregate

// Aggregate scores each list of length N by giving position i N-1-i
// points and sums the points per feature across lists. A feature missing
// from a list gets nothing from it; a feature repeated within one list
// keeps the points of its last position. The result is sorted by points,
// descending, with ties left in the order features were first seen.
func Aggregate(lists [][]string) []Score {
	var seen []string
	total := make(map[string]int)
	for _, list := range lists {
		n := len(list)
		points := make(map[string]int, n)
		for i, f := range list {
			if _, ok := total[f]; !ok {
				total[f] = 0
				seen = append(seen, f)
			}
			points[f] = n - 1 - i
		}
		for f, p := range points {
			total[f] += p
		}
	}
	out := make([]Score, len(seen))
	for i, f := range seen {
		out[i] = Score{Feature: f, Points: total[f]}
	}
	slices.SortStableFunc(out, func(a, b Score) int { return cmp.Compare(b.Points, a.Points) })
	return out
}

// AggregateRankings aggregates strategy outputs.
func AggregateRankings(rs ...ranking.Ranking) []Score {
	lists := make([][]string, len(rs))
	for i, r := range rs {
		lists[i] = r.Features()
	}
	return Aggregate(lists)
}

// #endregion

// #region files

// DefaultPattern and DefaultColumn select the ranking files of a
// consensus folder and their feature column.
const (
	DefaultPattern = "ranked_features_*.csv"
	DefaultColumn  = "Feature"
)

// Collect reads column from every file in dir matching pattern, in sorted
// file name order. It returns the lists and the files they came from.
func Collect(dir, pattern, column string) ([][]string, []string, error) {
	files, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	slices.Sort(files)
	lists := make([][]string, 0, len(files))
	for _, f := range files {
		col, err := artifact.ReadColumn(f, column)
		if err != nil {
			return nil, nil, fmt.Errorf("collect %s: %w", filepath.Base(f), err)
		}
		lists = append(lists, col)
	}
	return lists, files, nil
}

// Write stores scores as a two-column CSV: Feature, Borda Rank.
func Write(path string, scores []Score) error {
	rows := make([][]string, len(scores))
	for i, s := range scores {
		rows[i] = []string{s.Feature, strconv.Itoa(s.Points)}
	}
	return artifact.WriteCSV(path, []string{"Feature", "Borda Rank"}, rows)
}

// #endregion
