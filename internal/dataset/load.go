package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// #region load

// Load reads a CSV file into a Table. The bytes are decoded as UTF-8 and,
// when that is not valid, as ISO-8859-1. Rows whose field count differs
// from the header are skipped and counted.
func Load(path string) (*Table, LoadStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, LoadStats{}, &Error{Code: CodeUnreadable, Msg: fmt.Sprintf("read %s: %v", path, err)}
	}
	return Parse(data)
}

// Parse decodes CSV bytes the same way Load does.
func Parse(data []byte) (*Table, LoadStats, error) {
	stats := LoadStats{Encoding: "utf-8"}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return nil, stats, &Error{Code: CodeUnreadable, Msg: fmt.Sprintf("decode latin-1: %v", err)}
		}
		data = decoded
		stats.Encoding = "latin-1"
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, stats, &Error{Code: CodeEmpty, Msg: "CSV file is empty or has no valid data"}
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = false

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, stats, &Error{Code: CodeEmpty, Msg: "CSV file is empty or has no valid data"}
		}
		return nil, stats, &Error{Code: CodeUnreadable, Msg: fmt.Sprintf("error reading CSV header: %v", err)}
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	tbl := &Table{Header: header}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				stats.SkippedRows++
				continue
			}
			return nil, stats, &Error{Code: CodeUnreadable, Msg: fmt.Sprintf("error reading CSV: %v", err)}
		}
		if len(rec) != len(header) {
			stats.SkippedRows++
			continue
		}
		tbl.Rows = append(tbl.Rows, rec)
	}
	if len(tbl.Rows) == 0 {
		return nil, stats, &Error{Code: CodeEmpty, Msg: "CSV file contains no data"}
	}
	return tbl, stats, nil
}

// #endregion load

// #region inspect

// LabelSummary describes the label values present in a raw table.
type LabelSummary struct {
	Found   bool
	Layout  Layout
	Values  []string // sorted distinct label values
	Rows    int      // samples
	Columns int      // raw header width
}

// Inspect reports the distinct label values of the table at path without
// validating the features. A missing label column is not an error here;
// it is reported through Found.
func Inspect(path, label string) (LabelSummary, error) {
	tbl, _, err := Load(path)
	if err != nil {
		return LabelSummary{}, err
	}
	return InspectTable(tbl, label)
}

// InspectTable is Inspect over an already loaded table.
func InspectTable(tbl *Table, label string) (LabelSummary, error) {
	if label == "" {
		label = DefaultLabelColumn
	}
	sum := LabelSummary{Columns: len(tbl.Header)}
	g, err := orient(tbl, label)
	if errors.Is(err, ErrMissingLabel) {
		sum.Rows = len(tbl.Rows)
		return sum, nil
	}
	if err != nil {
		return LabelSummary{}, err
	}
	var values []string
	for _, l := range g.labels {
		if l != "" {
			values = append(values, l)
		}
	}
	sum.Found = true
	sum.Layout = g.layout
	sum.Values = sortedUnique(values)
	sum.Rows = len(g.labels)
	return sum, nil
}

// #endregion inspect
