package dataset

import (
	"slices"
	"strconv"
)

// DefaultLabelColumn is the label identifier used when the caller gives none.
const DefaultLabelColumn = "Prognosis"

// #region table

// Table is a raw CSV grid: the header row plus the data rows, as strings.
type Table struct {
	Header []string
	Rows   [][]string
}

// LoadStats reports what the loader had to work around.
type LoadStats struct {
	Encoding    string // "utf-8" | "latin-1"
	SkippedRows int    // rows whose field count did not match the header
}

// #endregion table

// #region layout

// Layout is the physical orientation of the raw table.
type Layout string

const (
	// LayoutRows has one sample per row and the label as a named column.
	LayoutRows Layout = "rows"
	// LayoutColumns has one sample per column, the label values in a
	// leading marker row and feature names as row labels.
	LayoutColumns Layout = "columns"
)

// #endregion layout

// #region frame

// Frame is a validated table in the single logical shape: samples as rows,
// named numeric features, one string label per sample. Frames are never
// mutated after Normalize returns them.
type Frame struct {
	Layout       Layout
	Features     []string
	X            [][]float64 // len(X) == len(Labels), len(X[i]) == len(Features)
	Labels       []string
	Samples      []string // sample identifiers when the table carries them
	AllLabels    []string // sorted distinct labels before selection
	Selected     []string // the retained label subset
	TotalColumns int      // candidate feature columns before numeric filtering
	Dropped      []string // non-numeric columns removed in lenient mode
}

// Rows returns the number of retained samples.
func (f *Frame) Rows() int { return len(f.Labels) }

// ClassCounts returns the number of samples per label value.
func (f *Frame) ClassCounts() map[string]int {
	counts := make(map[string]int)
	for _, l := range f.Labels {
		counts[l]++
	}
	return counts
}

// #endregion frame

// #region dataset

// Dataset is the input every ranking strategy consumes: a numeric feature
// matrix and integer-encoded labels in [0, Classes).
type Dataset struct {
	Features []string
	X        [][]float64
	Y        []int
	Classes  int
}

// Rows returns the number of samples.
func (d *Dataset) Rows() int { return len(d.Y) }

// Column copies feature j out of the row-major matrix.
func (d *Dataset) Column(j int) []float64 {
	col := make([]float64, len(d.X))
	for i, row := range d.X {
		col[i] = row[j]
	}
	return col
}

// ClassCounts returns the number of samples per encoded class.
func (d *Dataset) ClassCounts() []int {
	counts := make([]int, d.Classes)
	for _, y := range d.Y {
		if y >= 0 && y < d.Classes {
			counts[y]++
		}
	}
	return counts
}

// #endregion dataset

// #region label-encoding

// LabelEncoding maps label strings to dense integers. Classes holds the
// sorted distinct labels; the integer for a label is its index there.
type LabelEncoding struct {
	Classes []string
	index   map[string]int
}

// NewLabelEncoding builds an encoding over the distinct values, sorted so
// the result does not depend on row order.
func NewLabelEncoding(values []string) LabelEncoding {
	classes := sortedUnique(values)
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	return LabelEncoding{Classes: classes, index: index}
}

// Len returns the number of classes.
func (e LabelEncoding) Len() int { return len(e.Classes) }

// Encode returns the integer for label.
func (e LabelEncoding) Encode(label string) (int, bool) {
	i, ok := e.index[label]
	return i, ok
}

// Decode returns the label for class index i.
func (e LabelEncoding) Decode(i int) (string, bool) {
	if i < 0 || i >= len(e.Classes) {
		return "", false
	}
	return e.Classes[i], true
}

// Mapping returns index → label with the index rendered as a string, the
// shape written into job summaries.
func (e LabelEncoding) Mapping() map[string]string {
	m := make(map[string]string, len(e.Classes))
	for i, c := range e.Classes {
		m[strconv.Itoa(i)] = c
	}
	return m
}

func sortedUnique(values []string) []string {
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}

// #endregion label-encoding
