package annotate

import (
	"github.com/kostaslazaros/cpgenius/internal/ranking"
)

// Verify checks that t has exactly one row per feature, in the same order.
func Verify(t *Table, features []string) error {
	if t == nil {
		return &Error{Kind: KindUnmapped, Features: features}
	}
	got := make(map[string]int, len(t.Rows))
	for _, r := range t.Rows {
		got[r.Feature]++
	}
	var missing, dup []string
	for _, f := range features {
		switch got[f] {
		case 0:
			missing = append(missing, f)
		case 1:
		default:
			dup = append(dup, f)
		}
	}
	if len(dup) > 0 {
		return &Error{Kind: KindDuplicate, Table: t.ID, Features: dup}
	}
	if len(missing) > 0 {
		return &Error{Kind: KindUnmapped, Table: t.ID, Features: missing}
	}
	if len(t.Rows) != len(features) {
		return &Error{Kind: KindUnmapped, Table: t.ID}
	}
	for i, f := range features {
		if t.Rows[i].Feature != f {
			return &Error{Kind: KindUnmapped, Table: t.ID, Features: []string{f}}
		}
	}
	return nil
}

// Joined is a ranking with annotation columns appended.
type Joined struct {
	Header []string
	Rows   [][]string
}

// Join appends t's columns to r row by row. format renders the importance.
func Join(r ranking.Ranking, t *Table, format func(float64) string) (*Joined, error) {
	if err := Verify(t, r.Features()); err != nil {
		return nil, err
	}
	out := &Joined{Header: append([]string{"Feature", "Importance"}, t.Columns...)}
	for i, e := range r {
		row := append([]string{e.Feature, format(e.Importance)}, t.Rows[i].Values...)
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}
