package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kostaslazaros/cpgenius/internal/annotate"
	"github.com/kostaslazaros/cpgenius/internal/artifact"
	"github.com/kostaslazaros/cpgenius/internal/progress"
	"github.com/kostaslazaros/cpgenius/internal/ranking"
)

// #region helpers

// writeInput writes a rows-layout CSV where f_signal separates the two
// classes and the other features are noise.
func writeInput(t *testing.T, dir string, labels ...string) string {
	t.Helper()
	if len(labels) == 0 {
		labels = []string{"good", "poor"}
	}
	var b strings.Builder
	b.WriteString("f_noise,f_signal,f_weak,Prognosis\n")
	for i := 0; i < 40; i++ {
		c := i % len(labels)
		fmt.Fprintf(&b, "%d,%d.5,%d,%s\n", (i*7)%5, c*10+i%3, c+(i*3)%4, labels[c])
	}
	path := filepath.Join(dir, "input.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig(t.TempDir())
	cfg.EnrichBackoff = time.Millisecond
	return cfg
}

type failingAnnotator struct{ calls atomic.Int32 }

func (a *failingAnnotator) Annotate(_ context.Context, table string, features []string) (*annotate.Table, error) {
	a.calls.Add(1)
	return nil, &annotate.Error{Kind: annotate.KindUnmapped, Table: table, Features: features[:1]}
}

type geneAnnotator struct {
	failures int
	calls    int
}

func (a *geneAnnotator) Annotate(_ context.Context, table string, features []string) (*annotate.Table, error) {
	a.calls++
	if a.calls <= a.failures {
		return nil, &annotate.Error{Kind: annotate.KindUnavailable, Table: table, Err: errors.New("connection refused")}
	}
	t := &annotate.Table{ID: table, KeyColumn: annotate.DefaultKeyColumn, Columns: []string{"Gene"}}
	for _, f := range features {
		t.Rows = append(t.Rows, annotate.Row{Feature: f, Values: []string{"G_" + f}})
	}
	return t, nil
}

func phases(evs []progress.Event) []string {
	var out []string
	for _, ev := range evs {
		if len(out) == 0 || out[len(out)-1] != ev.Phase {
			out = append(out, ev.Phase)
		}
	}
	return out
}

func assertMonotonic(t *testing.T, evs []progress.Event) {
	t.Helper()
	last := 0
	for _, ev := range evs {
		if ev.Percent < last {
			t.Fatalf("progress went from %d to %d at %s", last, ev.Percent, ev.Phase)
		}
		last = ev.Percent
	}
}

// #endregion helpers

// #region run-tests

func TestRunSucceeds(t *testing.T) {
	rec := &progress.Recorder{}
	o := New(testConfig(t), nil, nil, rec, nil)
	path := writeInput(t, t.TempDir())

	res, err := o.Run(context.Background(), Input{Path: path, Strategy: ranking.ANOVA})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Phase != PhaseSucceeded || res.Degraded() || res.Skipped {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Ranking[0].Feature != "f_signal" {
		t.Fatalf("expected f_signal first, got %v", res.Ranking.Features())
	}

	want := []string{"QUEUED", "PREPARING", "ENCODING", "RANKING", "PERSISTING", "SUCCEEDED"}
	got := phases(rec.Job(res.JobID))
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected phases %v, got %v", want, got)
	}
	evs := rec.Job(res.JobID)
	assertMonotonic(t, evs)
	if last := evs[len(evs)-1]; last.Percent != 100 || last.Status != "Feature ranking completed" {
		t.Fatalf("unexpected final event %+v", last)
	}

	sum, err := artifact.FileSHA1(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.RankingPath, sum) || filepath.Base(res.RankingPath) != "anova_ftest_all_results.csv" {
		t.Fatalf("unexpected ranking path %s", res.RankingPath)
	}
	col, err := artifact.ReadColumn(res.RankingPath, "Feature")
	if err != nil {
		t.Fatalf("ReadColumn: %v", err)
	}
	if strings.Join(col, ",") != strings.Join(res.Ranking.Features(), ",") {
		t.Fatalf("persisted order %v differs from %v", col, res.Ranking.Features())
	}

	data, err := os.ReadFile(res.SummaryPath)
	if err != nil {
		t.Fatal(err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatal(err)
	}
	if s.TotalSamples != 40 || s.FeaturesRanked != 3 || s.NumericFeaturesUsed != 3 {
		t.Fatalf("unexpected counts %+v", s)
	}
	if s.ClassMapping["0"] != "good" || s.ClassMapping["1"] != "poor" {
		t.Fatalf("unexpected mapping %v", s.ClassMapping)
	}
	if s.ClassCounts["good"] != 20 || s.EnrichmentWarning != "" || s.DatasetID != sum {
		t.Fatalf("unexpected summary %+v", s)
	}
}

// An annotator that can never map a feature degrades the job but never
// fails it, and the persisted ranking is the un-annotated one.
func TestRunDegradedOnEnrichmentFailure(t *testing.T) {
	rec := &progress.Recorder{}
	ann := &failingAnnotator{}
	o := New(testConfig(t), ann, nil, rec, nil)
	path := writeInput(t, t.TempDir())

	plain, err := New(testConfig(t), nil, nil, nil, nil).Run(context.Background(), Input{Path: path, Strategy: ranking.ANOVA})
	if err != nil {
		t.Fatal(err)
	}

	res, err := o.Run(context.Background(), Input{Path: path, Strategy: ranking.ANOVA, Enrich: true, AnnotationTable: "450k"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Degraded() || res.WarningKind != KindEnrichment {
		t.Fatalf("expected degraded result, got %+v", res)
	}
	if !strings.Contains(res.Warning, "unmapped feature") {
		t.Fatalf("warning should name the failure, got %q", res.Warning)
	}
	if ann.calls.Load() != 1 {
		t.Fatalf("mapping failures must not be retried, got %d calls", ann.calls.Load())
	}
	if !res.Ranking.Equal(plain.Ranking) {
		t.Fatalf("degraded ranking differs from plain ranking")
	}

	csvData, _ := os.ReadFile(res.RankingPath)
	plainData, _ := os.ReadFile(plain.RankingPath)
	if string(csvData) != string(plainData) {
		t.Fatalf("persisted ranking differs:\n%s\nvs\n%s", csvData, plainData)
	}

	evs := rec.Job(res.JobID)
	assertMonotonic(t, evs)
	var sawWarning bool
	for _, ev := range evs {
		if ev.Severity == progress.Warning && strings.HasPrefix(ev.Status, "Warning: Gene mapping failed") {
			sawWarning = true
		}
	}
	last := evs[len(evs)-1]
	if !sawWarning || last.Phase != string(PhaseSucceeded) || last.Warning == "" {
		t.Fatalf("expected warning event and degraded success, got %+v", evs)
	}

	var s Summary
	data, _ := os.ReadFile(res.SummaryPath)
	json.Unmarshal(data, &s)
	if s.Enriched || s.EnrichmentWarning == "" || s.EnrichmentWarningKind != string(KindEnrichment) {
		t.Fatalf("summary should carry the warning: %+v", s)
	}
}

func TestRunEnrichesWithRetry(t *testing.T) {
	ann := &geneAnnotator{failures: 2}
	o := New(testConfig(t), ann, nil, nil, nil)
	dir := t.TempDir()
	path := writeInput(t, dir)
	os.WriteFile(filepath.Join(dir, DefaultMetadataName), []byte(`{"detected_illumina_array_types": ["EPIC"]}`), 0o644)

	res, err := o.Run(context.Background(), Input{Path: path, Strategy: ranking.ANOVA, Enrich: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Degraded() || ann.calls != 3 {
		t.Fatalf("expected success after 3 attempts, got %+v after %d", res, ann.calls)
	}
	if res.Summary.AnnotationTable != "epic" || !res.Summary.Enriched {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}
	genes, err := artifact.ReadColumn(res.RankingPath, "Gene")
	if err != nil {
		t.Fatalf("ReadColumn: %v", err)
	}
	if genes[0] != "G_"+res.Ranking[0].Feature {
		t.Fatalf("gene column misaligned: %v", genes)
	}
}

func TestRunEnrichWithoutAnnotator(t *testing.T) {
	o := New(testConfig(t), nil, nil, nil, nil)
	res, err := o.Run(context.Background(), Input{Path: writeInput(t, t.TempDir()), Strategy: ranking.ANOVA, Enrich: true, AnnotationTable: "450k"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Degraded() {
		t.Fatal("expected a warning when no annotator is configured")
	}
}

// #endregion run-tests

// #region failure-tests

func TestRunFailsOnSingleClass(t *testing.T) {
	rec := &progress.Recorder{}
	cfg := testConfig(t)
	o := New(cfg, nil, nil, rec, nil)
	path := writeInput(t, t.TempDir(), "good")

	res, err := o.Run(context.Background(), Input{JobID: "one-class", Path: path, Strategy: ranking.ANOVA})
	if res != nil || KindOf(err) != KindInput {
		t.Fatalf("expected input error, got %v", err)
	}
	var je *JobError
	if !errors.As(err, &je) || je.Phase != PhasePreparing {
		t.Fatalf("expected failure in PREPARING, got %+v", je)
	}
	for _, p := range phases(rec.Job("one-class")) {
		if p == string(PhaseRanking) || p == string(PhaseSucceeded) {
			t.Fatalf("job must not reach %s", p)
		}
	}
	last := rec.Job("one-class")[len(rec.Job("one-class"))-1]
	if last.Phase != string(PhaseFailed) || last.Severity != progress.Fatal || last.ErrorKind != string(KindInput) {
		t.Fatalf("unexpected final event %+v", last)
	}
	if entries, _ := os.ReadDir(cfg.Layout.Workdir); len(entries) != 0 {
		t.Fatalf("no artifact expected, found %d entries", len(entries))
	}
}

func TestRunFailsOnMissingInput(t *testing.T) {
	o := New(testConfig(t), nil, nil, nil, nil)
	_, err := o.Run(context.Background(), Input{Path: filepath.Join(t.TempDir(), "nope.csv"), Strategy: ranking.ANOVA})
	var je *JobError
	if !errors.As(err, &je) || je.Kind != KindInput || je.Phase != PhaseQueued {
		t.Fatalf("expected input error in QUEUED, got %v", err)
	}
}

func TestRunFailsOnUnknownStrategy(t *testing.T) {
	o := New(testConfig(t), nil, nil, nil, nil)
	_, err := o.Run(context.Background(), Input{Path: writeInput(t, t.TempDir()), Strategy: "magic"})
	if KindOf(err) != KindInput || !errors.Is(err, ranking.ErrUnknownStrategy) {
		t.Fatalf("expected unknown strategy input error, got %v", err)
	}
}

func TestRunFailsOnBadLabelFilter(t *testing.T) {
	o := New(testConfig(t), nil, nil, nil, nil)
	_, err := o.Run(context.Background(), Input{Path: writeInput(t, t.TempDir()), Strategy: ranking.ANOVA, LabelFilter: "label +"})
	var je *JobError
	if !errors.As(err, &je) || je.Kind != KindInput || je.Phase != PhasePreparing {
		t.Fatalf("expected input error in PREPARING, got %v", err)
	}
}

func TestRunAborted(t *testing.T) {
	cfg := testConfig(t)
	o := New(cfg, nil, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Run(ctx, Input{Path: writeInput(t, t.TempDir()), Strategy: ranking.ANOVA})
	if KindOf(err) != KindAborted {
		t.Fatalf("expected aborted, got %v", err)
	}
	if entries, _ := os.ReadDir(cfg.Layout.Workdir); len(entries) != 0 {
		t.Fatal("aborted job must not leave output")
	}
}

func TestRunPersistenceFailureLeavesNothing(t *testing.T) {
	cfg := testConfig(t)
	o := New(cfg, nil, nil, nil, nil)
	path := writeInput(t, t.TempDir())
	id := "dataset-x"
	csvPath, jsonPath := cfg.Layout.Paths(id, string(ranking.ANOVA), nil, "")
	if err := os.MkdirAll(filepath.Join(jsonPath, "blocker"), 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := o.Run(context.Background(), Input{Path: path, DatasetID: id, Strategy: ranking.ANOVA})
	if KindOf(err) != KindPersistence {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if artifact.Exists(csvPath) {
		t.Fatal("ranking must be removed when the summary cannot be written")
	}
}

// #endregion failure-tests

// #region idempotency-tests

func TestRunIsIdempotent(t *testing.T) {
	path := writeInput(t, t.TempDir())
	seed := int64(7)
	var outs, sums []string
	for i := 0; i < 2; i++ {
		res, err := New(testConfig(t), nil, nil, nil, nil).Run(context.Background(), Input{Path: path, Strategy: ranking.RandomForest, Seed: &seed})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		data, _ := os.ReadFile(res.RankingPath)
		outs = append(outs, string(data))

		raw, err := os.ReadFile(res.SummaryPath)
		if err != nil {
			t.Fatal(err)
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			t.Fatal(err)
		}
		delete(doc, "elapsed_seconds")
		masked, _ := json.Marshal(doc)
		sums = append(sums, string(masked))
	}
	if outs[0] != outs[1] {
		t.Fatal("same input and seed must persist the same ranking")
	}
	if sums[0] != sums[1] {
		t.Fatalf("summaries differ beyond elapsed time:\n%s\n%s", sums[0], sums[1])
	}
}

func TestRunOutputKeyedByOptions(t *testing.T) {
	o := New(testConfig(t), nil, nil, nil, nil)
	path := writeInput(t, t.TempDir(), "good", "mid", "poor")

	all, err := o.Run(context.Background(), Input{Path: path, Strategy: ranking.ANOVA})
	if err != nil {
		t.Fatal(err)
	}
	filtered, err := o.Run(context.Background(), Input{Path: path, Strategy: ranking.ANOVA, LabelFilter: `label != "mid"`})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if filtered.Skipped || filtered.RankingPath == all.RankingPath {
		t.Fatalf("a filtered job must not reuse the unfiltered output: %+v", filtered)
	}
	if got := filtered.Summary.SelectedLabelValues; strings.Join(got, ",") != "good,poor" {
		t.Fatalf("expected filtered labels, got %v", got)
	}
	if filtered.Summary.LabelFilter != `label != "mid"` {
		t.Fatalf("filter not recorded: %+v", filtered.Summary)
	}

	again, err := o.Run(context.Background(), Input{Path: path, Strategy: ranking.ANOVA, LabelFilter: `label != "mid"`})
	if err != nil {
		t.Fatal(err)
	}
	if !again.Skipped || again.RankingPath != filtered.RankingPath {
		t.Fatalf("same options must be fast-accepted: %+v", again)
	}

	s1, s2 := int64(1), int64(2)
	a, err := o.Run(context.Background(), Input{Path: path, Strategy: ranking.Ridge, Seed: &s1})
	if err != nil {
		t.Fatal(err)
	}
	b, err := o.Run(context.Background(), Input{Path: path, Strategy: ranking.Ridge, Seed: &s2})
	if err != nil {
		t.Fatal(err)
	}
	if b.Skipped || a.RankingPath == b.RankingPath {
		t.Fatalf("a different seed must not reuse output: %s", b.RankingPath)
	}
}

func TestOutputVariant(t *testing.T) {
	def := ranking.DefaultParams()
	v, err := outputVariant(Input{Strategy: ranking.ANOVA, LabelColumn: "Prognosis"}, def)
	if err != nil || v != "" {
		t.Fatalf("default options must keep the plain name, got %q %v", v, err)
	}
	seeded := def
	seeded.Seed = 9
	if v, _ := outputVariant(Input{Strategy: ranking.ANOVA, LabelColumn: "Prognosis"}, seeded); v != "" {
		t.Fatalf("seed does not change ANOVA output, got %q", v)
	}
	v1, _ := outputVariant(Input{Strategy: ranking.RandomForest, LabelColumn: "Prognosis"}, seeded)
	v2, _ := outputVariant(Input{Strategy: ranking.RandomForest, LabelColumn: "Prognosis"}, def)
	if v1 == "" || v2 != "" || len(v1) != 8 {
		t.Fatalf("unexpected forest variants %q %q", v1, v2)
	}
	workers := def
	workers.Workers = 8
	if v, _ := outputVariant(Input{Strategy: ranking.RandomForest, LabelColumn: "Prognosis"}, workers); v != "" {
		t.Fatalf("worker count must not change the output name, got %q", v)
	}
	if v, _ := outputVariant(Input{Strategy: ranking.ANOVA, LabelColumn: "Grade"}, def); v == "" {
		t.Fatal("label column must change the output name")
	}
}

func TestRunFastAccept(t *testing.T) {
	rec := &progress.Recorder{}
	o := New(testConfig(t), nil, nil, rec, nil)
	path := writeInput(t, t.TempDir())
	first, err := o.Run(context.Background(), Input{Path: path, Strategy: ranking.ANOVA, SelectedLabels: []string{"good", "poor"}})
	if err != nil {
		t.Fatal(err)
	}
	before, _ := os.Stat(first.RankingPath)

	second, err := o.Run(context.Background(), Input{JobID: "again", Path: path, Strategy: ranking.ANOVA, SelectedLabels: []string{"good", "poor"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !second.Skipped || second.RankingPath != first.RankingPath {
		t.Fatalf("expected fast accept, got %+v", second)
	}
	after, _ := os.Stat(first.RankingPath)
	if !after.ModTime().Equal(before.ModTime()) {
		t.Fatal("fast accept must not rewrite the output")
	}
	evs := rec.Job("again")
	if evs[len(evs)-1].Phase != string(PhaseSucceeded) || phases(evs)[1] != string(PhasePreparing) {
		t.Fatalf("unexpected fast accept events %v", phases(evs))
	}
}

func TestPoolSerializesSameOutput(t *testing.T) {
	o := New(testConfig(t), nil, nil, nil, nil)
	path := writeInput(t, t.TempDir())
	in := Input{Path: path, Strategy: ranking.ANOVA}
	outs := NewPool(o, 4).Run(context.Background(), []Input{in, in, in})

	skipped := 0
	for _, out := range outs {
		if out.Err != nil {
			t.Fatalf("job %s: %v", out.Input.JobID, out.Err)
		}
		if out.Result.Skipped {
			skipped++
		}
	}
	if skipped != 2 {
		t.Fatalf("expected exactly one writer, got %d skipped", skipped)
	}
	if o.locks.size() != 0 {
		t.Fatal("locks must be released")
	}
}

// inflight tracks how many jobs are between QUEUED and a terminal phase.
type inflight struct {
	mu       sync.Mutex
	cur, max int
}

func (s *inflight) Notify(_ context.Context, ev progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch Phase(ev.Phase) {
	case PhaseQueued:
		s.cur++
		s.max = max(s.max, s.cur)
	case PhaseSucceeded, PhaseFailed:
		s.cur--
	}
	return nil
}

func TestPoolBoundsWorkers(t *testing.T) {
	sink := &inflight{}
	o := New(testConfig(t), nil, nil, sink, nil)
	path := writeInput(t, t.TempDir())
	var inputs []Input
	for i := range 8 {
		inputs = append(inputs, Input{Path: path, DatasetID: fmt.Sprintf("d%d", i), Strategy: ranking.ANOVA})
	}
	for _, out := range NewPool(o, 2).Run(context.Background(), inputs) {
		if out.Err != nil {
			t.Fatalf("job %s: %v", out.Input.JobID, out.Err)
		}
	}
	if sink.max > 2 || sink.cur != 0 {
		t.Fatalf("expected at most 2 jobs at once, saw %d (left %d)", sink.max, sink.cur)
	}
}

func TestPoolSubmit(t *testing.T) {
	rec := &progress.Recorder{}
	o := New(testConfig(t), nil, nil, rec, nil)
	p := NewPool(o, 1)
	dir := t.TempDir()
	path := writeInput(t, dir)

	id1, c1 := p.Submit(context.Background(), Input{Path: path, Strategy: ranking.ANOVA})
	id2, c2 := p.Submit(context.Background(), Input{Path: filepath.Join(dir, "missing.csv"), Strategy: ranking.ANOVA})
	p.Wait()

	if out := <-c1; out.Err != nil || out.Result.JobID != id1 {
		t.Fatalf("job 1: %+v", out)
	}
	if out := <-c2; KindOf(out.Err) != KindInput || out.Input.JobID != id2 {
		t.Fatalf("job 2: %+v", out)
	}
	if evs := rec.Job(id2); evs[0].Phase != string(PhaseQueued) {
		t.Fatalf("submitted job must report QUEUED first, got %+v", evs[0])
	}
}

// #endregion idempotency-tests

// #region unit-tests

func TestPhaseTransitions(t *testing.T) {
	cases := []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseQueued, PhasePreparing, true},
		{PhaseQueued, PhaseRanking, false},
		{PhaseRanking, PhasePersisting, true},
		{PhaseRanking, PhaseEnriching, true},
		{PhaseEnriching, PhasePersisting, true},
		{PhasePreparing, PhaseFailed, true},
		{PhaseSucceeded, PhaseFailed, false},
		{PhaseFailed, PhaseQueued, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("%s -> %s: expected %v, got %v", c.from, c.to, c.ok, got)
		}
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 5, time.Millisecond, func(context.Context) error {
		calls++
		return &annotate.Error{Kind: annotate.KindDuplicate}
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected one call, got %d (%v)", calls, err)
	}

	calls = 0
	err = withRetry(context.Background(), 2, time.Millisecond, func(context.Context) error {
		calls++
		return &annotate.Error{Kind: annotate.KindUnavailable}
	})
	if err == nil || calls != 3 {
		t.Fatalf("expected three calls, got %d (%v)", calls, err)
	}
}

func TestJobErrorMessage(t *testing.T) {
	err := jobErr(KindStrategy, PhaseRanking, "ranking failed", ranking.ErrNoFiniteImportance)
	if !errors.Is(err, ranking.ErrNoFiniteImportance) {
		t.Fatal("JobError must unwrap")
	}
	if !strings.Contains(err.Error(), "strategy_error in RANKING") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

// #endregion unit-tests
