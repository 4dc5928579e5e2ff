package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/kostaslazaros/cpgenius/internal/replay"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON")
	runs := flag.Int("runs", 3, "times to run each case")
	record := flag.Bool("record", false, "store the current rankings as the fixture's expectations")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json [--runs N]")
		fmt.Fprintln(os.Stderr, "       replay --fixture path/to/fixture.json --record")
		os.Exit(2)
	}

	f, err := replay.LoadFixture(*fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	ctx := context.Background()
	if *record {
		if err := replay.Record(ctx, f); err != nil {
			fmt.Fprintf(os.Stderr, "record: %v\n", err)
			os.Exit(1)
		}
		if err := f.Save(*fixturePath); err != nil {
			fmt.Fprintf(os.Stderr, "save: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Recorded %d cases into %s\n", len(f.Cases), *fixturePath)
		return
	}

	results, err := replay.Replay(ctx, f, *runs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(2)
	}
	os.Exit(printComparison(results))
}

// #endregion main

// #region output

func printComparison(results []replay.CaseResult) int {
	fmt.Printf("%-18s| %6s| %-9s| %-30s| %s\n", "Strategy", "Seed", "Verdict", "Top", "Reason")
	fmt.Printf("%-18s+%6s+%-9s+%-30s+%s\n",
		"------------------", "-------", "----------", "-------------------------------", "------")
	for _, r := range results {
		top := strings.Join(r.Got[:min(len(r.Got), 3)], ",")
		fmt.Printf("%-18s| %6d| %-9s| %-30s| %s\n", r.Strategy, r.Seed, r.Action, top, r.Reason)
	}

	s := replay.Summarize(results)
	fmt.Printf("\nSummary: %d total, %d pass, %d unstable, %d mismatch, %d error\n",
		s.Total, s.Passed, s.Unstable, s.Mismatches, s.Errors)
	if s.Failed() {
		return 1
	}
	return 0
}

// #endregion output
