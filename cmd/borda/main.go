package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kostaslazaros/cpgenius/internal/borda"
)

// #region main

func main() {
	dir := flag.String("dir", "", "folder holding the rankings to fuse")
	pattern := flag.String("pattern", borda.DefaultPattern, "glob selecting ranking files in dir")
	column := flag.String("column", borda.DefaultColumn, "column holding the feature names, best first")
	out := flag.String("out", "", "output CSV (default <dir>/borda_consensus.csv)")
	jsonOut := flag.Bool("json", false, "print scores as JSON")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "usage: borda --dir path/to/rankings [--pattern 'ranked_features_*.csv'] [--column Feature] [--out file.csv]")
		os.Exit(2)
	}
	if *out == "" {
		*out = filepath.Join(*dir, "borda_consensus.csv")
	}

	if err := run(*dir, *pattern, *column, *out, *jsonOut); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

func run(dir, pattern, column, out string, jsonOut bool) error {
	lists, files, err := borda.Collect(dir, pattern, column)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files matching %s in %s", pattern, dir)
	}
	scores := borda.Aggregate(lists)
	if err := borda.Write(out, scores); err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"files": files, "output": out, "scores": scores})
	}
	fmt.Printf("Fused %d rankings into %s\n", len(files), out)
	for i, s := range scores[:min(len(scores), 20)] {
		fmt.Printf("%3d  %-30s %d\n", i+1, s.Feature, s.Points)
	}
	if len(scores) > 20 {
		fmt.Printf("... %d more\n", len(scores)-20)
	}
	return nil
}
