// Package replay reruns ranking strategies against recorded fixtures to
// check that their output is reproducible.
package replay

import (
	"context"
	"fmt"
	"slices"

	"github.com/kostaslazaros/cpgenius/internal/dataset"
	"github.com/kostaslazaros/cpgenius/internal/ranking"
)

// #region types

// Action is the verdict on one fixture case.
type Action string

const (
	ActionPass     Action = "pass"
	ActionUnstable Action = "unstable" // repeated runs disagreed
	ActionMismatch Action = "mismatch" // stable, but not the expected order
	ActionError    Action = "error"
)

// CaseResult is the outcome of replaying one case.
type CaseResult struct {
	Strategy ranking.ID
	Seed     int64
	Action   Action
	Reason   string
	Runs     int
	Got      []string
}

// Summary aggregates the results of a replay.
type Summary struct {
	Total      int
	Passed     int
	Unstable   int
	Mismatches int
	Errors     int
}

// Failed reports whether any case did not pass.
func (s Summary) Failed() bool { return s.Passed != s.Total }

// Summarize counts the verdicts in results.
func Summarize(results []CaseResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Action {
		case ActionPass:
			s.Passed++
		case ActionUnstable:
			s.Unstable++
		case ActionMismatch:
			s.Mismatches++
		default:
			s.Errors++
		}
	}
	return s
}

// #endregion types

// #region replay

// Prepare loads and prepares the fixture's dataset.
func Prepare(f *Fixture) (*dataset.Dataset, error) {
	tbl, _, err := dataset.Load(f.DatasetPath())
	if err != nil {
		return nil, err
	}
	p, err := dataset.Prepare(tbl, dataset.Options{
		LabelColumn:    f.LabelColumn,
		Selected:       f.SelectedLabels,
		DropNonNumeric: f.DropNonNumeric,
	})
	if err != nil {
		return nil, err
	}
	return p.Dataset, nil
}

// Replay runs every case runs times. Strategies that are not deterministic
// are only checked for producing a permutation of the features.
func Replay(ctx context.Context, f *Fixture, runs int) ([]CaseResult, error) {
	ds, err := Prepare(f)
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", f.DatasetPath(), err)
	}
	runs = max(runs, 1)
	results := make([]CaseResult, 0, len(f.Cases))
	for _, c := range f.Cases {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, replayCase(ctx, f, ds, c, runs))
	}
	return results, nil
}

func replayCase(ctx context.Context, f *Fixture, ds *dataset.Dataset, c FixtureCase, runs int) CaseResult {
	res := CaseResult{Strategy: c.Strategy, Seed: c.Seed}
	params := ranking.DefaultParams()
	if f.Params != nil {
		params = *f.Params
	}
	params.Seed = c.Seed
	info, _ := ranking.Lookup(c.Strategy)

	var first ranking.Ranking
	for i := 0; i < runs; i++ {
		r, err := ranking.Run(ctx, c.Strategy, params, ds)
		res.Runs++
		if err != nil {
			res.Action, res.Reason = ActionError, err.Error()
			return res
		}
		if !isPermutation(r.Features(), ds.Features) {
			res.Action, res.Reason = ActionError, "ranking is not a permutation of the features"
			return res
		}
		if i == 0 {
			first = r
			res.Got = r.Features()
			continue
		}
		if info.Deterministic && !r.Equal(first) {
			res.Action = ActionUnstable
			res.Reason = fmt.Sprintf("run %d differs from run 1", i+1)
			return res
		}
	}
	if info.Deterministic && len(c.Expected) > 0 && !slices.Equal(res.Got, c.Expected) {
		res.Action = ActionMismatch
		res.Reason = firstDifference(c.Expected, res.Got)
		return res
	}
	res.Action = ActionPass
	return res
}

// Record runs every case once and stores the produced order as its
// expectation.
func Record(ctx context.Context, f *Fixture) error {
	ds, err := Prepare(f)
	if err != nil {
		return fmt.Errorf("prepare %s: %w", f.DatasetPath(), err)
	}
	for i := range f.Cases {
		res := replayCase(ctx, f, ds, FixtureCase{Strategy: f.Cases[i].Strategy, Seed: f.Cases[i].Seed}, 1)
		if res.Action != ActionPass {
			return fmt.Errorf("record %s: %s", res.Strategy, res.Reason)
		}
		f.Cases[i].Expected = res.Got
	}
	return nil
}

// #endregion replay

// #region helpers

func isPermutation(got, features []string) bool {
	if len(got) != len(features) {
		return false
	}
	a, b := slices.Clone(got), slices.Clone(features)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

func firstDifference(want, got []string) string {
	for i := range min(len(want), len(got)) {
		if want[i] != got[i] {
			return fmt.Sprintf("position %d: expected %s, got %s", i+1, want[i], got[i])
		}
	}
	return fmt.Sprintf("expected %d features, got %d", len(want), len(got))
}

// #endregion helpers
