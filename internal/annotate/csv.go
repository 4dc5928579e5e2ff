package annotate

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"sync"

	"github.com/kostaslazaros/cpgenius/internal/dataset"
)

// CSVAnnotator serves annotation tables stored as CSV files. Tables are
// loaded on first use and kept in memory.
type CSVAnnotator struct {
	dir   string
	files map[string]string
	key   string

	mu    sync.Mutex
	cache map[string]*index
}

type index struct {
	columns []string
	rows    map[string][]string
	dups    map[string]bool
	keys    map[string]struct{}
}

// NewCSVAnnotator serves the tables in files (id → file name relative to
// dir). key names the feature column; empty means DefaultKeyColumn.
func NewCSVAnnotator(dir string, files map[string]string, key string) *CSVAnnotator {
	if key == "" {
		key = DefaultKeyColumn
	}
	norm := make(map[string]string, len(files))
	for id, f := range files {
		norm[normalizeID(id)] = f
	}
	return &CSVAnnotator{dir: dir, files: norm, key: key, cache: make(map[string]*index)}
}

// Tables returns the configured table ids, sorted.
func (a *CSVAnnotator) Tables() []string {
	return slices.Sorted(maps.Keys(a.files))
}

func (a *CSVAnnotator) load(id string) (*index, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if idx, ok := a.cache[id]; ok {
		return idx, nil
	}
	file, ok := a.files[id]
	if !ok {
		return nil, &Error{Kind: KindUnknownTable, Table: id}
	}
	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.dir, file)
	}
	tbl, _, err := dataset.Load(path)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Table: id, Err: err}
	}
	keyCol := slices.Index(tbl.Header, a.key)
	if keyCol < 0 {
		return nil, &Error{Kind: KindUnavailable, Table: id, Err: fmt.Errorf("no %q column in %s", a.key, filepath.Base(path))}
	}
	idx := &index{
		rows: make(map[string][]string, len(tbl.Rows)),
		dups: make(map[string]bool),
		keys: make(map[string]struct{}, len(tbl.Rows)),
	}
	for j, h := range tbl.Header {
		if j != keyCol {
			idx.columns = append(idx.columns, h)
		}
	}
	for _, row := range tbl.Rows {
		k := row[keyCol]
		if _, seen := idx.keys[k]; seen {
			idx.dups[k] = true
			continue
		}
		idx.keys[k] = struct{}{}
		vals := make([]string, 0, len(row)-1)
		for j, v := range row {
			if j != keyCol {
				vals = append(vals, v)
			}
		}
		idx.rows[k] = vals
	}
	a.cache[id] = idx
	return idx, nil
}

// Annotate returns the rows for features in the order given.
func (a *CSVAnnotator) Annotate(ctx context.Context, tableID string, features []string) (*Table, error) {
	id := normalizeID(tableID)
	if d := duplicates(features); len(d) > 0 {
		return nil, &Error{Kind: KindDuplicate, Table: id, Features: d}
	}
	idx, err := a.load(id)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: KindUnavailable, Table: id, Err: err}
	}
	var missing, dup []string
	out := &Table{ID: id, KeyColumn: a.key, Columns: idx.columns, Rows: make([]Row, 0, len(features))}
	for _, f := range features {
		vals, ok := idx.rows[f]
		switch {
		case !ok:
			missing = append(missing, f)
		case idx.dups[f]:
			dup = append(dup, f)
		default:
			out.Rows = append(out.Rows, Row{Feature: f, Values: vals})
		}
	}
	if len(dup) > 0 {
		return nil, &Error{Kind: KindDuplicate, Table: id, Features: dup}
	}
	if len(missing) > 0 {
		return nil, &Error{Kind: KindUnmapped, Table: id, Features: missing}
	}
	return out, nil
}

// Guess returns, in TableOrder, the configured tables whose keys cover
// every feature.
func (a *CSVAnnotator) Guess(ctx context.Context, features []string) ([]string, error) {
	var ids []string
	for _, id := range TableOrder {
		if _, ok := a.files[id]; ok {
			ids = append(ids, id)
		}
	}
	for _, id := range a.Tables() {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	var found []string
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx, err := a.load(id)
		if err != nil {
			return nil, err
		}
		covered := true
		for _, f := range features {
			if _, ok := idx.keys[f]; !ok {
				covered = false
				break
			}
		}
		if covered {
			found = append(found, id)
		}
	}
	return found, nil
}
