package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Layout places job outputs as <Workdir>/<Section>/<dataset-id>/<OutDir>.
type Layout struct {
	Workdir string
	Section string
	OutDir  string
}

// DatasetDir is the directory holding everything for one dataset.
func (l Layout) DatasetDir(datasetID string) string {
	return filepath.Join(l.Workdir, l.Section, datasetID)
}

// Paths returns the ranking CSV and summary JSON paths for one job. The
// selected label values are joined in the order given; no selection is
// written as "all". A non-empty variant is appended to keep jobs with other
// options apart.
func (l Layout) Paths(datasetID, algorithm string, selected []string, variant string) (csvPath, jsonPath string) {
	stem := "all"
	if len(selected) > 0 {
		parts := make([]string, len(selected))
		for i, s := range selected {
			parts[i] = sanitizeName(s)
		}
		stem = strings.Join(parts, "_")
	}
	if variant != "" {
		stem += "_" + sanitizeName(variant)
	}
	base := fmt.Sprintf("%s_%s_results", algorithm, stem)
	dir := filepath.Join(l.DatasetDir(datasetID), l.OutDir)
	return filepath.Join(dir, base+".csv"), filepath.Join(dir, base+".json")
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '-'
		}
		return r
	}, s)
}

// Sweep removes the entries directly under root whose modification time is
// older than now-age and returns their paths in name order.
func Sweep(root string, age time.Duration, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", root, err)
	}
	cutoff := now.Add(-age)
	var removed []string
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		p := filepath.Join(root, e.Name())
		if err := os.RemoveAll(p); err != nil {
			return removed, fmt.Errorf("remove %s: %w", p, err)
		}
		removed = append(removed, p)
	}
	slices.Sort(removed)
	return removed, nil
}
