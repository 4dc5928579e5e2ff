// Package pipeline runs one feature-ranking job end to end: prepare the
// dataset, rank it, optionally annotate the ranking and persist the result,
// reporting progress along the way.
package pipeline

// #region imports
import (
	"errors"
	"fmt"
	"time"

	"github.com/kostaslazaros/cpgenius/internal/ranking"
)

// #endregion

// #region phase

// Phase is a state of the job state machine.
type Phase string

const (
	PhaseQueued     Phase = "QUEUED"
	PhasePreparing  Phase = "PREPARING"
	PhaseEncoding   Phase = "ENCODING"
	PhaseRanking    Phase = "RANKING"
	PhaseEnriching  Phase = "ENRICHING"
	PhasePersisting Phase = "PERSISTING"
	PhaseSucceeded  Phase = "SUCCEEDED"
	PhaseFailed     Phase = "FAILED"
)

// Terminal reports whether no further transition leaves p.
func (p Phase) Terminal() bool { return p == PhaseSucceeded || p == PhaseFailed }

// next lists the legal transitions. FAILED is reachable from every
// non-terminal phase and is not listed.
var next = map[Phase][]Phase{
	PhaseQueued:     {PhasePreparing},
	PhasePreparing:  {PhaseEncoding},
	PhaseEncoding:   {PhaseRanking},
	PhaseRanking:    {PhaseEnriching, PhasePersisting},
	PhaseEnriching:  {PhasePersisting},
	PhasePersisting: {PhaseSucceeded},
}

// CanTransition reports whether the machine may move from p to q.
func (p Phase) CanTransition(q Phase) bool {
	if p.Terminal() {
		return false
	}
	if q == PhaseFailed {
		return true
	}
	for _, n := range next[p] {
		if n == q {
			return true
		}
	}
	return false
}

// #endregion

// #region errors

// Kind tags why a job failed, or why it succeeded degraded.
type Kind string

const (
	KindInput       Kind = "input_error"
	KindStrategy    Kind = "strategy_error"
	KindEnrichment  Kind = "enrichment_error"
	KindPersistence Kind = "persistence_error"
	KindAborted     Kind = "aborted"
)

// JobError is the error a failed job ends with.
type JobError struct {
	Kind  Kind
	Phase Phase
	Msg   string
	Err   error
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s in %s: %s: %v", e.Kind, e.Phase, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s in %s: %s", e.Kind, e.Phase, e.Msg)
}

func (e *JobError) Unwrap() error { return e.Err }

// KindOf returns the kind of a *JobError anywhere in err's chain, or "".
func KindOf(err error) Kind {
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	return ""
}

func jobErr(kind Kind, phase Phase, msg string, err error) *JobError {
	return &JobError{Kind: kind, Phase: phase, Msg: msg, Err: err}
}

// #endregion

// #region input

// Input describes one job.
type Input struct {
	// JobID identifies the job for progress reporting. Empty means a new
	// random id.
	JobID string
	// DatasetID groups outputs of the same input file. Empty means the
	// SHA1 of the file at Path.
	DatasetID string
	Path      string
	// LabelColumn defaults to Config.LabelColumn.
	LabelColumn    string
	SelectedLabels []string
	LabelFilter    string
	DropNonNumeric bool
	Strategy       ranking.ID
	// Seed overrides Config.Params.Seed when set.
	Seed *int64
	// Enrich requests annotation of the ranking. Enrichment failures never
	// fail the job.
	Enrich          bool
	AnnotationTable string
}

// #endregion

// #region result

// Result is what a finished job produced.
type Result struct {
	JobID       string
	Phase       Phase
	Ranking     ranking.Ranking
	RankingPath string
	SummaryPath string
	Summary     *Summary
	// Warning is set when enrichment failed and the ranking was persisted
	// without annotations.
	Warning     string
	WarningKind Kind
	// Skipped is true when the output already existed and nothing was
	// computed or written.
	Skipped bool
	Elapsed time.Duration
}

// Degraded reports whether the job succeeded with a warning attached.
func (r *Result) Degraded() bool { return r.Warning != "" }

// #endregion

// #region summary

// Summary is the JSON document written next to each ranking. Reruns of
// the same job write the same document apart from ElapsedSeconds.
type Summary struct {
	DatasetID             string            `json:"sha1_hash"`
	Algorithm             ranking.ID        `json:"algorithm"`
	Seed                  int64             `json:"seed"`
	LabelColumn           string            `json:"label_column"`
	LabelFilter           string            `json:"label_filter,omitempty"`
	Layout                string            `json:"layout"`
	AllLabelValues        []string          `json:"all_prognosis_values"`
	SelectedLabelValues   []string          `json:"selected_prognosis_values"`
	ClassCounts           map[string]int    `json:"class_counts"`
	ClassMapping          map[string]string `json:"class_mapping"`
	AnnotationTable       string            `json:"illumina_array_type,omitempty"`
	OutputFilename        string            `json:"output_filename"`
	TotalSamples          int               `json:"total_samples"`
	TotalFeatureColumns   int               `json:"total_feature_columns"`
	FeaturesRanked        int               `json:"features_ranked"`
	NumericFeaturesUsed   int               `json:"numeric_features_used"`
	DroppedColumns        []string          `json:"dropped_columns,omitempty"`
	SkippedRows           int               `json:"skipped_rows,omitempty"`
	Enriched              bool              `json:"enriched"`
	EnrichmentWarning     string            `json:"gene_mapping_warning,omitempty"`
	EnrichmentWarningKind string            `json:"gene_mapping_warning_kind,omitempty"`
	ElapsedSeconds        float64           `json:"elapsed_seconds"`
}

// #endregion
