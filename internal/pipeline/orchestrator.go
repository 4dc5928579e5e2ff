package pipeline

// #region imports
import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kostaslazaros/cpgenius/internal/annotate"
	"github.com/kostaslazaros/cpgenius/internal/artifact"
	"github.com/kostaslazaros/cpgenius/internal/dataset"
	"github.com/kostaslazaros/cpgenius/internal/progress"
	"github.com/kostaslazaros/cpgenius/internal/ranking"
)

// #endregion

// #region config

// DefaultMetadataName is the sidecar file, next to an input, that may
// record which annotation table the data was produced against.
const DefaultMetadataName = "analysis42.json"

// Config is everything an Orchestrator needs besides its collaborators.
type Config struct {
	Layout       artifact.Layout
	LabelColumn  string
	Params       ranking.Params
	MetadataName string
	// EnrichRetries bounds the retries of an unavailable annotator.
	// Negative disables retrying.
	EnrichRetries int
	EnrichBackoff time.Duration
	// EnrichTimeout bounds each annotation attempt. Zero means no bound.
	EnrichTimeout time.Duration
}

// DefaultConfig returns a Config writing under workdir.
func DefaultConfig(workdir string) Config {
	return Config{
		Layout:        artifact.Layout{Workdir: workdir, Section: "fs", OutDir: "fsout"},
		LabelColumn:   dataset.DefaultLabelColumn,
		Params:        ranking.DefaultParams(),
		MetadataName:  DefaultMetadataName,
		EnrichRetries: defaultEnrichRetries,
		EnrichBackoff: 200 * time.Millisecond,
		EnrichTimeout: 30 * time.Second,
	}
}

// #endregion

// #region orchestrator-struct

// Orchestrator runs ranking jobs. It is safe for concurrent use; jobs that
// target the same output are serialized and all but the first become
// no-ops.
type Orchestrator struct {
	cfg       Config
	annotator annotate.Annotator
	guesser   annotate.Guesser
	sink      progress.Sink
	logger    *slog.Logger
	locks     *keyedMutex
	now       func() time.Time
}

// New creates an orchestrator. annotator and guesser may be nil; jobs that
// ask for enrichment then succeed with a warning.
func New(cfg Config, annotator annotate.Annotator, guesser annotate.Guesser, sink progress.Sink, logger *slog.Logger) *Orchestrator {
	if cfg.LabelColumn == "" {
		cfg.LabelColumn = dataset.DefaultLabelColumn
	}
	if cfg.MetadataName == "" {
		cfg.MetadataName = DefaultMetadataName
	}
	if sink == nil {
		sink = progress.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:       cfg,
		annotator: annotator,
		guesser:   guesser,
		sink:      sink,
		logger:    logger.With("component", "pipeline"),
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
}

// #endregion

// #region job

// job is the mutable state of one Run.
type job struct {
	o       *Orchestrator
	in      Input
	tracker *progress.Tracker
	logger  *slog.Logger
	phase   Phase
	start   time.Time
}

func (j *job) enter(ctx context.Context, p Phase, status string, percent int) {
	if !j.phase.CanTransition(p) && j.phase != p {
		j.logger.Error("illegal phase transition", "from", j.phase, "to", p)
	}
	j.phase = p
	j.tracker.Step(ctx, string(p), status, percent)
}

// fail moves the job to FAILED and returns the error it failed with.
func (j *job) fail(ctx context.Context, kind Kind, msg string, err error) error {
	je := jobErr(kind, j.phase, msg, err)
	j.logger.Error("job failed", "phase", j.phase, "kind", kind, "err", je)
	j.phase = PhaseFailed
	j.tracker.Emit(ctx, progress.Event{
		Phase:     string(PhaseFailed),
		Status:    je.Error(),
		Severity:  progress.Fatal,
		ErrorKind: string(kind),
	})
	return je
}

// abortIfDone fails the job when ctx has been cancelled or has expired.
func (j *job) abortIfDone(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return j.fail(ctx, KindAborted, "job aborted", err)
	}
	return nil
}

// #endregion

// #region run

// NewJobID returns a fresh job identifier.
func NewJobID() string { return uuid.NewString() }

// Run executes one job. The returned error is always a *JobError; the
// Result is nil exactly when the error is not.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Result, error) {
	if in.JobID == "" {
		in.JobID = NewJobID()
	}
	if in.LabelColumn == "" {
		in.LabelColumn = o.cfg.LabelColumn
	}
	logger := o.logger.With("job_id", in.JobID)
	j := &job{
		o:       o,
		in:      in,
		tracker: progress.NewTracker(in.JobID, o.sink, logger),
		logger:  logger,
		phase:   PhaseQueued,
		start:   o.now(),
	}
	j.tracker.Emit(ctx, progress.Event{
		Phase:  string(PhaseQueued),
		Status: "Queued",
		Attrs:  map[string]string{"algorithm": string(in.Strategy), "input": in.Path},
	})
	return j.run(ctx)
}

func (j *job) run(ctx context.Context) (*Result, error) {
	o, in := j.o, j.in

	// QUEUED
	info, err := os.Stat(in.Path)
	if err != nil || !info.Mode().IsRegular() {
		if err == nil {
			err = fmt.Errorf("%s is not a regular file", in.Path)
		}
		return nil, j.fail(ctx, KindInput, "input not found", err)
	}
	if err := j.abortIfDone(ctx); err != nil {
		return nil, err
	}

	// PREPARING
	j.enter(ctx, PhasePreparing, "Reading CSV file...", 1)
	if _, err := ranking.Parse(string(in.Strategy)); err != nil {
		return nil, j.fail(ctx, KindInput, "unknown strategy", err)
	}
	if err := dataset.ValidateLabelFilter(in.LabelFilter); err != nil {
		return nil, j.fail(ctx, KindInput, "invalid label filter", err)
	}
	if in.DatasetID == "" {
		sum, err := artifact.FileSHA1(in.Path)
		if err != nil {
			return nil, j.fail(ctx, KindInput, "hash input", err)
		}
		in.DatasetID = sum
	}
	params := o.cfg.Params
	if in.Seed != nil {
		params.Seed = *in.Seed
	}
	variant, err := outputVariant(in, params)
	if err != nil {
		return nil, j.fail(ctx, KindInput, "output key", err)
	}
	csvPath, jsonPath := o.cfg.Layout.Paths(in.DatasetID, string(in.Strategy), in.SelectedLabels, variant)

	unlock := o.locks.Lock(csvPath)
	defer unlock()
	if artifact.Exists(jsonPath) && artifact.Exists(csvPath) {
		j.logger.Info("output exists, skipping", "path", csvPath)
		j.phase = PhaseSucceeded
		j.tracker.Emit(ctx, progress.Event{
			Phase:   string(PhaseSucceeded),
			Status:  "Output already exists",
			Percent: 100,
			Attrs:   map[string]string{"ranking_path": csvPath, "summary_path": jsonPath, "skipped": "true"},
		})
		return &Result{
			JobID:       in.JobID,
			Phase:       PhaseSucceeded,
			RankingPath: csvPath,
			SummaryPath: jsonPath,
			Skipped:     true,
			Elapsed:     o.now().Sub(j.start),
		}, nil
	}

	tbl, stats, err := dataset.Load(in.Path)
	if err != nil {
		return nil, j.fail(ctx, KindInput, "read input", err)
	}
	j.tracker.Step(ctx, string(PhasePreparing), "Preparing data", 10)
	frame, err := dataset.Normalize(tbl, dataset.Options{
		LabelColumn:    in.LabelColumn,
		Selected:       in.SelectedLabels,
		LabelFilter:    in.LabelFilter,
		DropNonNumeric: in.DropNonNumeric,
	})
	if err != nil {
		return nil, j.fail(ctx, KindInput, "invalid dataset", err)
	}
	if err := j.abortIfDone(ctx); err != nil {
		return nil, err
	}

	// ENCODING
	j.enter(ctx, PhaseEncoding, "Encoding labels", 20)
	ds, enc := dataset.Encode(frame)

	// RANKING
	name := string(in.Strategy)
	if info, ok := ranking.Lookup(in.Strategy); ok {
		name = info.Name
	}
	j.enter(ctx, PhaseRanking, fmt.Sprintf("Running %s", name), 30)
	r, err := ranking.Run(ctx, in.Strategy, params, ds)
	if err != nil {
		if ctx.Err() != nil {
			return nil, j.fail(ctx, KindAborted, "job aborted", errors.Join(err, ctx.Err()))
		}
		return nil, j.fail(ctx, KindStrategy, "ranking failed", err)
	}
	j.tracker.Step(ctx, string(PhaseRanking), "Ranking completed", 80)
	j.logger.Info("ranked", "algorithm", in.Strategy, "features", len(r), "samples", ds.Rows())

	// ENRICHING
	header := []string{"Feature", "Importance"}
	rows := plainRows(r)
	var warning string
	var warningKind Kind
	var table string
	if in.Enrich {
		j.enter(ctx, PhaseEnriching, "Mapping features to genes", 85)
		joined, tableID, err := j.enrich(ctx, r)
		table = tableID
		if err != nil {
			if aerr := j.abortIfDone(ctx); aerr != nil {
				return nil, aerr
			}
			warning = err.Error()
			warningKind = KindEnrichment
			j.logger.Warn("enrichment failed, saving without annotations", "table", tableID, "err", err)
			j.tracker.Emit(ctx, progress.Event{
				Phase:    string(PhaseEnriching),
				Status:   fmt.Sprintf("Warning: Gene mapping failed - %s. Saving results without gene names.", warning),
				Severity: progress.Warning,
				Warning:  warning,
			})
		} else {
			header, rows = joined.Header, joined.Rows
		}
	}
	if err := j.abortIfDone(ctx); err != nil {
		return nil, err
	}

	// PERSISTING
	j.enter(ctx, PhasePersisting, "Saving results", 90)
	sum := &Summary{
		DatasetID:             in.DatasetID,
		Algorithm:             in.Strategy,
		Seed:                  params.Seed,
		LabelColumn:           in.LabelColumn,
		LabelFilter:           in.LabelFilter,
		Layout:                string(frame.Layout),
		AllLabelValues:        frame.AllLabels,
		SelectedLabelValues:   frame.Selected,
		ClassCounts:           frame.ClassCounts(),
		ClassMapping:          enc.Mapping(),
		AnnotationTable:       table,
		OutputFilename:        filepath.Base(csvPath),
		TotalSamples:          frame.Rows(),
		TotalFeatureColumns:   frame.TotalColumns,
		FeaturesRanked:        len(r),
		NumericFeaturesUsed:   len(ds.Features),
		DroppedColumns:        frame.Dropped,
		SkippedRows:           stats.SkippedRows,
		Enriched:              in.Enrich && warning == "",
		EnrichmentWarning:     warning,
		EnrichmentWarningKind: string(warningKind),
	}
	sum.ElapsedSeconds = o.now().Sub(j.start).Seconds()
	if err := persist(csvPath, jsonPath, header, rows, sum); err != nil {
		return nil, j.fail(ctx, KindPersistence, "save results", err)
	}

	// SUCCEEDED
	elapsed := o.now().Sub(j.start)
	done := progress.Event{
		Phase:   string(PhaseSucceeded),
		Status:  "Feature ranking completed",
		Percent: 100,
		Attrs:   map[string]string{"ranking_path": csvPath, "summary_path": jsonPath},
	}
	if warning != "" {
		done.Severity = progress.Warning
		done.Warning = warning
	}
	j.phase = PhaseSucceeded
	j.tracker.Emit(ctx, done)
	j.logger.Info("job succeeded", "output", csvPath, "elapsed", elapsed, "degraded", warning != "")

	return &Result{
		JobID:       in.JobID,
		Phase:       PhaseSucceeded,
		Ranking:     r,
		RankingPath: csvPath,
		SummaryPath: jsonPath,
		Summary:     sum,
		Warning:     warning,
		WarningKind: warningKind,
		Elapsed:     elapsed,
	}, nil
}

// #endregion

// #region enrich

// enrich annotates r. It returns the table it used, even on failure, when
// one was resolved.
func (j *job) enrich(ctx context.Context, r ranking.Ranking) (*annotate.Joined, string, error) {
	o := j.o
	if o.annotator == nil {
		return nil, "", &annotate.Error{Kind: annotate.KindUnavailable, Err: errors.New("no annotator configured")}
	}
	features := r.Features()
	meta := filepath.Join(filepath.Dir(j.in.Path), o.cfg.MetadataName)
	tableID, err := annotate.ResolveTable(ctx, j.in.AnnotationTable, meta, features, o.guesser)
	if err != nil {
		return nil, "", err
	}

	var tbl *annotate.Table
	err = withRetry(ctx, max(o.cfg.EnrichRetries, 0), o.cfg.EnrichBackoff, func(ctx context.Context) error {
		if o.cfg.EnrichTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.cfg.EnrichTimeout)
			defer cancel()
		}
		var err error
		tbl, err = o.annotator.Annotate(ctx, tableID, features)
		return err
	})
	if err != nil {
		return nil, tableID, err
	}
	joined, err := annotate.Join(r, tbl, artifact.FormatFloat)
	if err != nil {
		return nil, tableID, err
	}
	return joined, tableID, nil
}

// #endregion

// #region persist

// outputKey holds every job option besides the dataset, the strategy and
// the label selection that can change what a job writes.
type outputKey struct {
	LabelColumn     string         `json:"label_column"`
	LabelFilter     string         `json:"label_filter"`
	DropNonNumeric  bool           `json:"drop_non_numeric"`
	Enrich          bool           `json:"enrich"`
	AnnotationTable string         `json:"annotation_table"`
	Params          map[string]any `json:"params"`
}

// outputVariant returns a short digest of the job's output options, or ""
// when they are all at their defaults.
func outputVariant(in Input, params ranking.Params) (string, error) {
	key, err := json.Marshal(outputKey{
		LabelColumn:     in.LabelColumn,
		LabelFilter:     in.LabelFilter,
		DropNonNumeric:  in.DropNonNumeric,
		Enrich:          in.Enrich,
		AnnotationTable: in.AnnotationTable,
		Params:          params.Relevant(in.Strategy),
	})
	if err != nil {
		return "", err
	}
	def, err := json.Marshal(outputKey{
		LabelColumn: dataset.DefaultLabelColumn,
		Params:      ranking.DefaultParams().Relevant(in.Strategy),
	})
	if err != nil {
		return "", err
	}
	if bytes.Equal(key, def) {
		return "", nil
	}
	sum := sha1.Sum(key)
	return hex.EncodeToString(sum[:4]), nil
}

func plainRows(r ranking.Ranking) [][]string {
	rows := make([][]string, len(r))
	for i, e := range r {
		rows[i] = []string{e.Feature, artifact.FormatFloat(e.Importance)}
	}
	return rows
}

// persist writes the ranking and then the summary. The summary is the
// completion marker, so a ranking without one is removed.
func persist(csvPath, jsonPath string, header []string, rows [][]string, sum *Summary) error {
	if err := artifact.WriteCSV(csvPath, header, rows); err != nil {
		return fmt.Errorf("write ranking: %w", err)
	}
	if err := artifact.WriteJSON(jsonPath, sum); err != nil {
		os.Remove(csvPath)
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// #endregion
