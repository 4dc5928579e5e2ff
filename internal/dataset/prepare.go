package dataset

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

// #region options

// Options controls how a raw table is narrowed into a Frame.
type Options struct {
	// LabelColumn names the label column (rows layout) or the label marker
	// row (columns layout). Empty means DefaultLabelColumn.
	LabelColumn string
	// Selected restricts the retained samples to these label values.
	Selected []string
	// LabelFilter is an optional CEL expression over `label` and `count`
	// that must evaluate to true for a label value to be retained.
	LabelFilter string
	// DropNonNumeric removes non-numeric columns instead of failing.
	DropNonNumeric bool
}

// #endregion options

// #region prepared

// Prepared is the result of the full preparation contract.
type Prepared struct {
	Frame    *Frame
	Dataset  *Dataset
	Encoding LabelEncoding
}

// Prepare validates tbl, applies the label selection and encodes the
// labels. It is Normalize followed by Encode.
func Prepare(tbl *Table, opts Options) (*Prepared, error) {
	f, err := Normalize(tbl, opts)
	if err != nil {
		return nil, err
	}
	ds, enc := Encode(f)
	return &Prepared{Frame: f, Dataset: ds, Encoding: enc}, nil
}

// #endregion prepared

// #region grid

// grid is a table reoriented so that every feature is a column of cells
// and every sample has one label.
type grid struct {
	layout  Layout
	names   []string
	cells   [][]string // cells[j][i]: feature j, sample i
	labels  []string
	samples []string
}

func orient(tbl *Table, label string) (*grid, error) {
	if tbl == nil || len(tbl.Header) == 0 || len(tbl.Rows) == 0 {
		return nil, &Error{Code: CodeEmpty, Msg: "CSV file contains no data"}
	}
	if li := slices.Index(tbl.Header, label); li >= 0 {
		return orientRows(tbl, li), nil
	}
	if strings.TrimSpace(tbl.Rows[0][0]) == label {
		return orientColumns(tbl)
	}
	return nil, errorf(CodeMissingLabel, "CSV file must contain a '%s' column", label)
}

func orientRows(tbl *Table, li int) *grid {
	g := &grid{layout: LayoutRows}
	idCol := -1
	if tbl.Header[0] == "" && li != 0 {
		idCol = 0
	}
	for j, name := range tbl.Header {
		if j == li || j == idCol {
			continue
		}
		col := make([]string, len(tbl.Rows))
		for i, row := range tbl.Rows {
			col[i] = row[j]
		}
		g.names = append(g.names, name)
		g.cells = append(g.cells, col)
	}
	g.labels = make([]string, len(tbl.Rows))
	for i, row := range tbl.Rows {
		g.labels[i] = strings.TrimSpace(row[li])
		if idCol >= 0 {
			g.samples = append(g.samples, strings.TrimSpace(row[idCol]))
		}
	}
	return g
}

func orientColumns(tbl *Table) (*grid, error) {
	if len(tbl.Header) < 2 {
		return nil, &Error{Code: CodeEmpty, Msg: "CSV file contains no samples"}
	}
	n := len(tbl.Header) - 1
	g := &grid{
		layout:  LayoutColumns,
		samples: slices.Clone(tbl.Header[1:]),
		labels:  make([]string, n),
	}
	for i := 0; i < n; i++ {
		g.labels[i] = strings.TrimSpace(tbl.Rows[0][i+1])
	}
	for _, row := range tbl.Rows[1:] {
		g.names = append(g.names, strings.TrimSpace(row[0]))
		g.cells = append(g.cells, slices.Clone(row[1:]))
	}
	return g, nil
}

// #endregion grid

// #region normalize

// Normalize validates tbl and returns the retained samples as a Frame.
// Every failure is a *Error.
func Normalize(tbl *Table, opts Options) (*Frame, error) {
	label := opts.LabelColumn
	if label == "" {
		label = DefaultLabelColumn
	}
	g, err := orient(tbl, label)
	if err != nil {
		return nil, err
	}
	if len(g.labels) == 0 {
		return nil, &Error{Code: CodeEmpty, Msg: "CSV file contains no data"}
	}
	if err := checkNames(g.names); err != nil {
		return nil, err
	}
	for i, l := range g.labels {
		if l == "" {
			return nil, errorf(CodeMissingLabelCell, "sample %d has no '%s' value", i+1, label)
		}
	}

	all := sortedUnique(g.labels)
	keep, selected, err := selectLabels(g.labels, all, opts)
	if err != nil {
		return nil, err
	}
	var rows []int
	for i, l := range g.labels {
		if keep[l] {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		return nil, errorf(CodeNoRowsRetained, "no samples left after selecting %s values %v", label, selected)
	}

	f := &Frame{
		Layout:       g.layout,
		AllLabels:    all,
		Selected:     selected,
		TotalColumns: len(g.names),
		Labels:       make([]string, len(rows)),
	}
	for k, i := range rows {
		f.Labels[k] = g.labels[i]
		if g.samples != nil {
			f.Samples = append(f.Samples, g.samples[i])
		}
	}
	if classes := sortedUnique(f.Labels); len(classes) < 2 {
		return nil, errorf(CodeTooFewClasses, "need at least two classes in '%s', found %v", label, classes)
	}

	var cols [][]float64
	var nonNumeric []string
	for j, name := range g.names {
		col, ok := parseColumn(g.cells[j])
		if !ok {
			nonNumeric = append(nonNumeric, name)
			continue
		}
		f.Features = append(f.Features, name)
		cols = append(cols, col)
	}
	if len(nonNumeric) > 0 && !opts.DropNonNumeric {
		return nil, errorf(CodeNonNumeric, "non-numeric feature columns found: %v", nonNumeric)
	}
	f.Dropped = nonNumeric
	if len(f.Features) == 0 {
		return nil, &Error{Code: CodeNoFeatures, Msg: "no numeric columns found for feature ranking"}
	}

	f.X = make([][]float64, len(rows))
	for k, i := range rows {
		row := make([]float64, len(cols))
		for j, col := range cols {
			row[j] = col[i]
		}
		f.X[k] = row
	}
	return f, nil
}

func checkNames(names []string) error {
	seen := make(map[string]struct{}, len(names))
	var dups []string
	for i, name := range names {
		if name == "" {
			return errorf(CodeBadHeader, "feature %d has an empty name", i+1)
		}
		if _, ok := seen[name]; ok {
			dups = append(dups, name)
			continue
		}
		seen[name] = struct{}{}
	}
	if len(dups) > 0 {
		return errorf(CodeDuplicateFeature, "duplicate feature names: %v", sortedUnique(dups))
	}
	return nil
}

// selectLabels returns the set of retained label values and the subset
// recorded in the job summary.
func selectLabels(labels, all []string, opts Options) (map[string]bool, []string, error) {
	keep := make(map[string]bool, len(all))
	for _, l := range all {
		keep[l] = true
	}
	if len(opts.Selected) > 0 {
		want := make(map[string]bool, len(opts.Selected))
		for _, s := range opts.Selected {
			want[strings.TrimSpace(s)] = true
		}
		for l := range keep {
			keep[l] = want[l]
		}
	}
	if opts.LabelFilter != "" {
		flt, err := compileLabelFilter(opts.LabelFilter)
		if err != nil {
			return nil, nil, err
		}
		counts := make(map[string]int, len(all))
		for _, l := range labels {
			counts[l]++
		}
		for _, l := range all {
			if !keep[l] {
				continue
			}
			ok, err := flt.keep(l, counts[l])
			if err != nil {
				return nil, nil, err
			}
			keep[l] = ok
		}
	}

	switch {
	case len(opts.Selected) > 0 && opts.LabelFilter == "":
		return keep, slices.Clone(opts.Selected), nil
	case len(opts.Selected) == 0 && opts.LabelFilter == "":
		return keep, slices.Clone(all), nil
	}
	var selected []string
	for _, l := range all {
		if keep[l] {
			selected = append(selected, l)
		}
	}
	return keep, selected, nil
}

func parseColumn(cells []string) ([]float64, bool) {
	col := make([]float64, len(cells))
	for i, c := range cells {
		v, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		col[i] = v
	}
	return col, true
}

// #endregion normalize

// #region encode

// Encode builds the label encoding over the frame's retained labels and
// returns the integer-labelled Dataset. It cannot fail for a Frame that
// Normalize produced.
func Encode(f *Frame) (*Dataset, LabelEncoding) {
	enc := NewLabelEncoding(f.Labels)
	y := make([]int, len(f.Labels))
	for i, l := range f.Labels {
		y[i], _ = enc.Encode(l)
	}
	return &Dataset{
		Features: f.Features,
		X:        f.X,
		Y:        y,
		Classes:  enc.Len(),
	}, enc
}

// #endregion encode
