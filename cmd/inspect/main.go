package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kostaslazaros/cpgenius/internal/artifact"
	"github.com/kostaslazaros/cpgenius/internal/config"
	"github.com/kostaslazaros/cpgenius/internal/dataset"
	"github.com/kostaslazaros/cpgenius/internal/jobstore"
	"github.com/kostaslazaros/cpgenius/internal/progress"
)

// #region main

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	dbPath := flag.String("db", "", "job database (default from config)")
	last := flag.Int("last", 20, "show N most recently updated jobs")
	phase := flag.String("phase", "", "only list jobs in this phase")
	jobID := flag.String("job", "", "show one job with its event log")
	labels := flag.String("labels", "", "print the label values of a CSV dataset")
	labelColumn := flag.String("label", "", "label column for --labels (default from config)")
	sweepDays := flag.Int("sweep-days", 0, "remove outputs and jobs older than N days")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *dbPath != "" {
		cfg.DB = *dbPath
	}
	ctx := context.Background()

	if *labels != "" {
		col := *labelColumn
		if col == "" {
			col = cfg.LabelColumn
		}
		if err := runLabelsMode(*labels, col, *jsonOut); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	store, err := jobstore.NewStore(cfg.DB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	switch {
	case *sweepDays > 0:
		err = runSweepMode(ctx, store, cfg, time.Duration(*sweepDays)*24*time.Hour, *jsonOut)
	case *jobID != "":
		err = runDetailMode(ctx, store, cfg, *jobID, *jsonOut)
	default:
		err = runListMode(ctx, store, *phase, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	JobID     string `json:"job_id"`
	Phase     string `json:"phase"`
	Progress  int    `json:"progress"`
	Algorithm string `json:"algorithm,omitempty"`
	Warning   string `json:"warning,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

func runListMode(ctx context.Context, store *jobstore.Store, phase string, last int, jsonOut bool) error {
	jobs, err := store.List(ctx, phase, last)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(os.Stderr, "no jobs found")
		return nil
	}
	rows := make([]listRow, len(jobs))
	for i, j := range jobs {
		rows[i] = listRow{
			JobID:     j.ID,
			Phase:     j.Phase,
			Progress:  j.Progress,
			Algorithm: j.Attrs["algorithm"],
			Warning:   j.Warning,
			ErrorKind: j.ErrorKind,
			UpdatedAt: j.UpdatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}
	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-10s  %-10s  %4s  %-18s  %-20s  %s\n", "Job", "Phase", "Pct", "Algorithm", "Updated", "Note")
	fmt.Printf("%-10s+-%-10s+-%4s+-%-18s+-%-20s+-%s\n", "----------", "----------", "----", "------------------", "--------------------", "----")
	for _, r := range rows {
		note := r.ErrorKind
		if r.Warning != "" {
			note = "warning: " + r.Warning
		}
		fmt.Printf("%-10s  %-10s  %4d  %-18s  %-20s  %s\n", shortID(r.JobID), r.Phase, r.Progress, r.Algorithm, r.UpdatedAt, note)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	Job    jobstore.Job     `json:"job"`
	Events []progress.Event `json:"events"`
	Live   *progress.Event  `json:"live,omitempty"`
}

func runDetailMode(ctx context.Context, store *jobstore.Store, cfg config.Config, id string, jsonOut bool) error {
	j, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	evs, err := store.Events(ctx, id)
	if err != nil {
		return err
	}
	out := detailOutput{Job: j, Events: evs}
	if cfg.Redis.Addr != "" {
		out.Live = liveStatus(ctx, cfg, id)
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Job:      %s\n", j.ID)
	fmt.Printf("Phase:    %s (%d%%)\n", j.Phase, j.Progress)
	fmt.Printf("Status:   %s\n", j.Status)
	fmt.Printf("Created:  %s\n", j.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:  %s\n", j.UpdatedAt.Format(time.RFC3339))
	if j.Warning != "" {
		fmt.Printf("Warning:  %s\n", j.Warning)
	}
	if j.ErrorKind != "" {
		fmt.Printf("Error:    %s\n", j.ErrorKind)
	}
	for _, k := range []string{"algorithm", "input", "ranking_path", "summary_path"} {
		if v := j.Attrs[k]; v != "" {
			fmt.Printf("%-9s %s\n", k+":", v)
		}
	}
	if out.Live != nil {
		fmt.Printf("Live:     %s %d%% %s\n", out.Live.Phase, out.Live.Percent, out.Live.Status)
	}

	fmt.Printf("\nEvents:\n")
	for _, ev := range evs {
		fmt.Printf("  %s  %-10s %3d%%  %-7s  %s\n", ev.At.Format("15:04:05.000"), ev.Phase, ev.Percent, ev.Severity, ev.Status)
	}
	return nil
}

func liveStatus(ctx context.Context, cfg config.Config, id string) *progress.Event {
	client, err := progress.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.DB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		return nil
	}
	defer client.Close()
	ev, err := progress.NewRedisSink(client, cfg.Redis.Prefix, cfg.Redis.TTL).Status(ctx, id)
	if err != nil {
		if !errors.Is(err, progress.ErrNoStatus) {
			fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		}
		return nil
	}
	return &ev
}

// #endregion detail-mode

// #region labels-mode

func runLabelsMode(path, label string, jsonOut bool) error {
	sum, err := dataset.Inspect(path, label)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(sum)
	}
	if !sum.Found {
		return fmt.Errorf("label %q not found in %s (%d columns, %d rows)", label, path, sum.Columns, sum.Rows)
	}
	fmt.Printf("Layout:  %s\n", sum.Layout)
	fmt.Printf("Samples: %d\n", sum.Rows)
	fmt.Printf("Columns: %d\n", sum.Columns)
	fmt.Printf("Labels:  %s\n", strings.Join(sum.Values, ", "))
	return nil
}

// #endregion labels-mode

// #region sweep-mode

type sweepOutput struct {
	Directories []string `json:"directories"`
	Jobs        int64    `json:"jobs"`
}

func runSweepMode(ctx context.Context, store *jobstore.Store, cfg config.Config, age time.Duration, jsonOut bool) error {
	now := time.Now()
	layout := cfg.Layout()
	dirs, err := artifact.Sweep(filepath.Join(layout.Workdir, layout.Section), age, now)
	if err != nil {
		return err
	}
	n, err := store.DeleteBefore(ctx, now.Add(-age))
	if err != nil {
		return err
	}
	out := sweepOutput{Directories: dirs, Jobs: n}
	if jsonOut {
		return printJSON(out)
	}
	for _, d := range dirs {
		fmt.Printf("removed %s\n", d)
	}
	fmt.Printf("%d directories, %d jobs removed\n", len(dirs), n)
	return nil
}

// #endregion sweep-mode

// #region output

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
