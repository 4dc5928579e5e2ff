package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func mustParse(t *testing.T, csv string) *Table {
	t.Helper()
	tbl, _, err := Parse([]byte(csv))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return tbl
}

func TestParseLatin1Fallback(t *testing.T) {
	data := []byte("f\xe9at,Prognosis\n1,A\n2,B\n")
	tbl, stats, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if stats.Encoding != "latin-1" {
		t.Fatalf("expected latin-1, got %s", stats.Encoding)
	}
	if tbl.Header[0] != "féat" {
		t.Fatalf("expected decoded header, got %q", tbl.Header[0])
	}
}

func TestParseSkipsBadRows(t *testing.T) {
	tbl, stats, err := Parse([]byte("a,b,Prognosis\n1,2,A\n1,2\n3,4,B\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tbl.Rows) != 2 || stats.SkippedRows != 1 {
		t.Fatalf("expected 2 rows and 1 skipped, got %d and %d", len(tbl.Rows), stats.SkippedRows)
	}
}

func TestParseEmpty(t *testing.T) {
	for _, in := range []string{"", "   \n", "a,b\n"} {
		if _, _, err := Parse([]byte(in)); !errors.Is(err, ErrEmpty) {
			t.Fatalf("%q: expected ErrEmpty, got %v", in, err)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.csv"))
	if !errors.Is(err, ErrUnreadable) {
		t.Fatalf("expected ErrUnreadable, got %v", err)
	}
}

func TestNormalizeRowsLayout(t *testing.T) {
	tbl := mustParse(t, ",cg1,cg2,Prognosis\ns1,0.1,0.2,B\ns2,0.3,0.4,A\ns3,0.5,0.6,B\n")
	f, err := Normalize(tbl, Options{})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if f.Layout != LayoutRows {
		t.Fatalf("expected rows layout, got %s", f.Layout)
	}
	if !slices.Equal(f.Features, []string{"cg1", "cg2"}) {
		t.Fatalf("unexpected features %v", f.Features)
	}
	if !slices.Equal(f.Samples, []string{"s1", "s2", "s3"}) {
		t.Fatalf("unexpected samples %v", f.Samples)
	}
	if !slices.Equal(f.AllLabels, []string{"A", "B"}) {
		t.Fatalf("unexpected labels %v", f.AllLabels)
	}
	if f.X[1][0] != 0.3 || f.X[2][1] != 0.6 {
		t.Fatalf("unexpected matrix %v", f.X)
	}
}

func TestNormalizeColumnsLayout(t *testing.T) {
	tbl := mustParse(t, "ID,s1,s2,s3\nPrognosis,A,B,A\ncg1,1,2,3\ncg2,4,5,6\n")
	f, err := Normalize(tbl, Options{})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if f.Layout != LayoutColumns {
		t.Fatalf("expected columns layout, got %s", f.Layout)
	}
	if !slices.Equal(f.Labels, []string{"A", "B", "A"}) {
		t.Fatalf("unexpected labels %v", f.Labels)
	}
	if !slices.Equal(f.X[1], []float64{2, 5}) {
		t.Fatalf("unexpected row %v", f.X[1])
	}
}

func TestNormalizeLayoutsAgree(t *testing.T) {
	rows := mustParse(t, "cg1,cg2,Prognosis\n1,4,A\n2,5,B\n3,6,A\n")
	cols := mustParse(t, "ID,s1,s2,s3\nPrognosis,A,B,A\ncg1,1,2,3\ncg2,4,5,6\n")
	a, err := Prepare(rows, Options{})
	if err != nil {
		t.Fatalf("Prepare rows: %v", err)
	}
	b, err := Prepare(cols, Options{})
	if err != nil {
		t.Fatalf("Prepare columns: %v", err)
	}
	if !slices.Equal(a.Dataset.Y, b.Dataset.Y) || !slices.Equal(a.Dataset.Features, b.Dataset.Features) {
		t.Fatalf("layouts disagree: %+v vs %+v", a.Dataset, b.Dataset)
	}
	for i := range a.Dataset.X {
		if !slices.Equal(a.Dataset.X[i], b.Dataset.X[i]) {
			t.Fatalf("row %d differs", i)
		}
	}
}

func TestNormalizeFailures(t *testing.T) {
	cases := []struct {
		name string
		csv  string
		opts Options
		want error
	}{
		{"missing label", "a,b\n1,2\n", Options{}, ErrMissingLabel},
		{"one class", "a,Prognosis\n1,A\n2,A\n", Options{}, ErrTooFewClasses},
		{"non numeric", "a,b,Prognosis\n1,x,A\n2,3,B\n", Options{}, ErrNonNumeric},
		{"nan is non numeric", "a,b,Prognosis\n1,NaN,A\n2,3,B\n", Options{}, ErrNonNumeric},
		{"no features", "a,Prognosis\nx,A\ny,B\n", Options{DropNonNumeric: true}, ErrNoFeatures},
		{"empty selection", "a,Prognosis\n1,A\n2,B\n", Options{Selected: []string{"C"}}, ErrNoRowsRetained},
		{"selection leaves one class", "a,Prognosis\n1,A\n2,B\n", Options{Selected: []string{"A"}}, ErrTooFewClasses},
		{"duplicate feature", "a,a,Prognosis\n1,2,A\n3,4,B\n", Options{}, ErrDuplicateFeature},
		{"empty label cell", "a,Prognosis\n1,A\n2,\n", Options{}, ErrMissingLabelCell},
		{"bad filter", "a,Prognosis\n1,A\n2,B\n", Options{LabelFilter: "label +"}, ErrBadFilter},
		{"non bool filter", "a,Prognosis\n1,A\n2,B\n", Options{LabelFilter: "count + 1"}, ErrBadFilter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(mustParse(t, tc.csv), tc.opts)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var derr *Error
			if !errors.As(err, &derr) || derr.Msg == "" {
				t.Fatalf("expected a *Error with a message, got %v", err)
			}
		})
	}
}

func TestNormalizeLenientDropsColumns(t *testing.T) {
	tbl := mustParse(t, "a,note,b,Prognosis\n1,x,2,A\n3,y,4,B\n")
	f, err := Normalize(tbl, Options{DropNonNumeric: true})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !slices.Equal(f.Features, []string{"a", "b"}) || !slices.Equal(f.Dropped, []string{"note"}) {
		t.Fatalf("unexpected features %v dropped %v", f.Features, f.Dropped)
	}
	if f.TotalColumns != 3 {
		t.Fatalf("expected 3 candidate columns, got %d", f.TotalColumns)
	}
}

func TestNormalizeSelectionAndFilter(t *testing.T) {
	tbl := mustParse(t, "a,Prognosis\n1,A\n2,B\n3,C\n4,C\n5,B\n6,C\n")

	f, err := Normalize(tbl, Options{Selected: []string{"C", "A"}})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if f.Rows() != 4 || !slices.Equal(f.Selected, []string{"C", "A"}) {
		t.Fatalf("unexpected rows %d selected %v", f.Rows(), f.Selected)
	}

	f, err = Normalize(tbl, Options{LabelFilter: `count >= 2`})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !slices.Equal(f.Selected, []string{"B", "C"}) || f.Rows() != 5 {
		t.Fatalf("unexpected selection %v rows %d", f.Selected, f.Rows())
	}

	f, err = Normalize(tbl, Options{Selected: []string{"A", "B", "C"}, LabelFilter: `label != "B"`})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !slices.Equal(f.Selected, []string{"A", "C"}) {
		t.Fatalf("unexpected selection %v", f.Selected)
	}
	if !slices.Equal(f.AllLabels, []string{"A", "B", "C"}) {
		t.Fatalf("all labels must not be filtered, got %v", f.AllLabels)
	}
}

func TestEncodeSortedAndRowOrderIndependent(t *testing.T) {
	a := mustParse(t, "x,Prognosis\n1,Tumor\n2,Normal\n3,Tumor\n")
	b := mustParse(t, "x,Prognosis\n1,Normal\n2,Tumor\n3,Tumor\n")
	pa, err := Prepare(a, Options{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	pb, err := Prepare(b, Options{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if !slices.Equal(pa.Encoding.Classes, []string{"Normal", "Tumor"}) || !slices.Equal(pa.Encoding.Classes, pb.Encoding.Classes) {
		t.Fatalf("unexpected classes %v / %v", pa.Encoding.Classes, pb.Encoding.Classes)
	}
	if !slices.Equal(pa.Dataset.Y, []int{1, 0, 1}) {
		t.Fatalf("unexpected codes %v", pa.Dataset.Y)
	}
	m := pa.Encoding.Mapping()
	if m["0"] != "Normal" || m["1"] != "Tumor" {
		t.Fatalf("unexpected mapping %v", m)
	}
	if l, ok := pa.Encoding.Decode(1); !ok || l != "Tumor" {
		t.Fatalf("Decode(1) = %q, %v", l, ok)
	}
	if _, ok := pa.Encoding.Decode(2); ok {
		t.Fatal("expected Decode out of range to fail")
	}
	if !slices.Equal(pa.Dataset.ClassCounts(), []int{1, 2}) {
		t.Fatalf("unexpected counts %v", pa.Dataset.ClassCounts())
	}
}

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.csv")
	if err := os.WriteFile(path, []byte("a,Prognosis\n1,B\n2,A\n3,\n4,B\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sum, err := Inspect(path, "")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !sum.Found || !slices.Equal(sum.Values, []string{"A", "B"}) || sum.Rows != 4 {
		t.Fatalf("unexpected summary %+v", sum)
	}

	sum, err = Inspect(path, "Stage")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if sum.Found {
		t.Fatalf("expected label not found, got %+v", sum)
	}
}
