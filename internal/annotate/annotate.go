// Package annotate attaches auxiliary names (gene symbols and the like) to
// ranked features by looking them up in an annotation table.
package annotate

// #region imports
import (
	"context"
	"fmt"
	"strings"
)

// #endregion

// #region tables

// DefaultKeyColumn is the column of an annotation table that holds the
// feature name.
const DefaultKeyColumn = "CpG_site"

// KnownTables maps the supported annotation table ids to their array names.
var KnownTables = map[string]string{
	"450k":   "IlluminaHumanMethylation450k",
	"epic":   "IlluminaHumanMethylationEPIC",
	"epicv2": "IlluminaHumanMethylationEPICv2",
}

// TableOrder is the order in which tables are tried when guessing.
var TableOrder = []string{"450k", "epic", "epicv2"}

// Row is the annotation of one feature.
type Row struct {
	Feature string
	Values  []string // aligned with Table.Columns
}

// Table is an annotation result: one row per requested feature, in the
// order the features were requested.
type Table struct {
	ID        string
	KeyColumn string
	Columns   []string
	Rows      []Row
}

// #endregion

// #region interfaces

// Annotator looks features up in the annotation table tableID. It fails
// with an *Error rather than dropping features it cannot map.
type Annotator interface {
	Annotate(ctx context.Context, tableID string, features []string) (*Table, error)
}

// Guesser reports which annotation tables contain every one of features.
type Guesser interface {
	Guess(ctx context.Context, features []string) ([]string, error)
}

// #endregion

// #region errors

// Kind classifies an annotation failure.
type Kind string

const (
	KindUnmapped     Kind = "unmapped_feature"
	KindDuplicate    Kind = "duplicate_feature"
	KindUnknownTable Kind = "unknown_table"
	KindUnavailable  Kind = "unavailable"
)

// Error is an annotation failure. None of them is fatal to a job.
type Error struct {
	Kind     Kind
	Table    string
	Features []string
	Err      error
}

const maxListed = 10

func (e *Error) Error() string {
	var b strings.Builder
	switch e.Kind {
	case KindUnmapped:
		fmt.Fprintf(&b, "unmapped feature(s) in table %q", e.Table)
	case KindDuplicate:
		fmt.Fprintf(&b, "duplicate feature mapping in table %q", e.Table)
	case KindUnknownTable:
		fmt.Fprintf(&b, "unknown annotation table %q", e.Table)
	default:
		fmt.Fprintf(&b, "annotation table %q unavailable", e.Table)
	}
	if n := len(e.Features); n > 0 {
		shown := e.Features[:min(n, maxListed)]
		fmt.Fprintf(&b, ": %s", strings.Join(shown, ", "))
		if n > maxListed {
			fmt.Fprintf(&b, " and %d more", n-maxListed)
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// duplicates returns the features that occur more than once, in first
// repeat order.
func duplicates(features []string) []string {
	seen := make(map[string]int, len(features))
	var out []string
	for _, f := range features {
		seen[f]++
		if seen[f] == 2 {
			out = append(out, f)
		}
	}
	return out
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// #endregion
