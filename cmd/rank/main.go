package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/kostaslazaros/cpgenius/internal/annotate"
	"github.com/kostaslazaros/cpgenius/internal/artifact"
	"github.com/kostaslazaros/cpgenius/internal/borda"
	"github.com/kostaslazaros/cpgenius/internal/config"
	"github.com/kostaslazaros/cpgenius/internal/jobstore"
	"github.com/kostaslazaros/cpgenius/internal/pipeline"
	"github.com/kostaslazaros/cpgenius/internal/progress"
	"github.com/kostaslazaros/cpgenius/internal/ranking"
)

// #region main

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	input := flag.String("input", "", "CSV dataset to rank")
	label := flag.String("label", "", "label column (default from config)")
	strategies := flag.String("strategy", string(ranking.ANOVA), "comma-separated strategy ids, or \"all\"")
	selected := flag.String("select", "", "comma-separated label values to keep")
	filter := flag.String("filter", "", "CEL expression over label and count selecting label values")
	lenient := flag.Bool("lenient", false, "drop non-numeric columns instead of failing")
	enrich := flag.Bool("enrich", false, "annotate the ranking with gene names")
	table := flag.String("table", "", "annotation table id (450k, epic, epicv2)")
	datasetID := flag.String("dataset-id", "", "output group id (default: SHA1 of the input)")
	consensus := flag.String("consensus", "", "also write the Borda consensus of all strategies to this CSV")
	list := flag.Bool("list", false, "list strategies and exit")
	jsonOut := flag.Bool("json", false, "print results as JSON")
	var seed *int64
	flag.Func("seed", "random seed for stochastic strategies", func(s string) error {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		seed = &n
		return nil
	})
	flag.Parse()

	if *list {
		printCatalogue(*jsonOut)
		return
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: rank --input data.csv [--strategy id[,id...]|all] [--select a,b] [--seed N] [--enrich] [--consensus out.csv]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	ids, err := parseStrategies(*strategies)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	env, err := setup(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	inputs := make([]pipeline.Input, len(ids))
	for i, id := range ids {
		inputs[i] = pipeline.Input{
			DatasetID:       *datasetID,
			Path:            *input,
			LabelColumn:     *label,
			SelectedLabels:  splitList(*selected),
			LabelFilter:     *filter,
			DropNonNumeric:  *lenient,
			Strategy:        id,
			Seed:            seed,
			Enrich:          *enrich,
			AnnotationTable: *table,
		}
	}

	orch := pipeline.New(cfg.Pipeline(), env.annotator, env.guesser, env.sink, logger)
	outcomes := pipeline.NewPool(orch, cfg.Workers).Run(ctx, inputs)
	code := finish(outcomes, *jsonOut, *consensus)
	if err := env.Close(); err != nil && code == 0 {
		code = 1
	}
	os.Exit(code)
}

// finish reports the outcomes and writes the consensus ranking. It returns
// the process exit code.
func finish(outcomes []pipeline.Outcome, jsonOut bool, consensus string) int {
	if err := report(outcomes, jsonOut); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if consensus != "" {
		if err := writeConsensus(consensus, outcomes); err != nil {
			fmt.Fprintf(os.Stderr, "consensus: %v\n", err)
			return 1
		}
	}
	for _, o := range outcomes {
		if o.Err != nil {
			return 1
		}
	}
	return 0
}

// #endregion main

// #region wiring

type closer struct {
	name  string
	close func() error
}

type environment struct {
	sink      progress.Sink
	annotator annotate.Annotator
	guesser   annotate.Guesser
	logger    *slog.Logger
	closers   []closer
}

// Close releases what setup opened, newest first. Every failure is logged
// and the joined error returned.
func (e *environment) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		c := e.closers[i]
		if err := c.close(); err != nil {
			e.logger.Error("close failed", "resource", c.name, "err", err)
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// setup opens the job store, the optional redis sink and the annotator.
func setup(ctx context.Context, cfg config.Config, logger *slog.Logger) (*environment, error) {
	env := &environment{logger: logger}
	sinks := progress.Multi{progress.LogSink{Logger: logger.With("component", "progress")}}

	store, err := jobstore.NewStore(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	env.closers = append(env.closers, closer{"job store", store.Close})
	sinks = append(sinks, store)

	if cfg.Redis.Addr != "" {
		client, err := progress.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.DB)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.closers = append(env.closers, closer{"redis", client.Close})
		sinks = append(sinks, progress.NewRedisSink(client, cfg.Redis.Prefix, cfg.Redis.TTL))
	}
	env.sink = sinks

	switch {
	case cfg.Annotation.Addr != "":
		remote, err := annotate.NewRemoteAnnotator(cfg.Annotation.Addr, cfg.Annotation.Timeout)
		if err != nil {
			env.Close()
			return nil, fmt.Errorf("connect annotator at %s: %w", cfg.Annotation.Addr, err)
		}
		env.closers = append(env.closers, closer{"annotator", remote.Close})
		env.annotator, env.guesser = remote, remote
	case cfg.Annotation.Dir != "":
		local := annotate.NewCSVAnnotator(cfg.Annotation.Dir, cfg.Annotation.Files, cfg.Annotation.KeyColumn)
		env.annotator, env.guesser = local, local
	}
	return env, nil
}

// #endregion wiring

// #region helpers

func parseStrategies(s string) ([]ranking.ID, error) {
	if s == "all" {
		return ranking.IDs(), nil
	}
	var ids []ranking.ID
	for _, part := range splitList(s) {
		id, err := ranking.Parse(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("no strategy given")
	}
	return ids, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printCatalogue(jsonOut bool) {
	if jsonOut {
		printJSON(ranking.Catalogue())
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
	for _, info := range ranking.Catalogue() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.ID, info.Name, info.Description)
	}
	w.Flush()
}

type resultRow struct {
	JobID    string   `json:"job_id"`
	Strategy string   `json:"strategy"`
	Phase    string   `json:"phase"`
	Output   string   `json:"output,omitempty"`
	Top      []string `json:"top,omitempty"`
	Warning  string   `json:"warning,omitempty"`
	Skipped  bool     `json:"skipped,omitempty"`
	Error    string   `json:"error,omitempty"`
	Kind     string   `json:"error_kind,omitempty"`
}

func report(outcomes []pipeline.Outcome, jsonOut bool) error {
	rows := make([]resultRow, len(outcomes))
	for i, o := range outcomes {
		r := resultRow{JobID: o.Input.JobID, Strategy: string(o.Input.Strategy)}
		if o.Err != nil {
			r.Phase = string(pipeline.PhaseFailed)
			r.Error = o.Err.Error()
			r.Kind = string(pipeline.KindOf(o.Err))
		} else {
			r.Phase = string(o.Result.Phase)
			r.Output = o.Result.RankingPath
			r.Warning = o.Result.Warning
			r.Skipped = o.Result.Skipped
			feats := o.Result.Ranking.Features()
			r.Top = feats[:min(len(feats), 5)]
		}
		rows[i] = r
	}
	if jsonOut {
		return printJSON(rows)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STRATEGY\tPHASE\tOUTPUT\tTOP\tNOTE")
	for _, r := range rows {
		note := r.Warning
		switch {
		case r.Error != "":
			note = r.Kind + ": " + r.Error
		case r.Skipped:
			note = "output existed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Strategy, r.Phase, r.Output, strings.Join(r.Top, ","), note)
	}
	return w.Flush()
}

// writeConsensus fuses the rankings of every job that produced one. Jobs
// skipped because their output existed contribute the persisted ranking.
func writeConsensus(path string, outcomes []pipeline.Outcome) error {
	var lists [][]string
	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		if o.Result.Skipped {
			feats, err := artifact.ReadColumn(o.Result.RankingPath, borda.DefaultColumn)
			if err != nil {
				return err
			}
			lists = append(lists, feats)
			continue
		}
		lists = append(lists, o.Result.Ranking.Features())
	}
	if len(lists) == 0 {
		return errors.New("no successful ranking to aggregate")
	}
	return borda.Write(path, borda.Aggregate(lists))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion helpers
