package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cpgenius.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	if cfg.LabelColumn != "Prognosis" {
		t.Fatalf("expected Prognosis, got %q", cfg.LabelColumn)
	}
	if cfg.Params.Forest.Trees != 300 || cfg.Params.Ridge.Repeats != 50 {
		t.Fatalf("unexpected params %+v", cfg.Params)
	}
	if cfg.Annotation.KeyColumn != "CpG_site" || cfg.Annotation.MetadataName != "analysis42.json" {
		t.Fatalf("unexpected annotation defaults %+v", cfg.Annotation)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, `
workdir: /srv/cpgenius
workers: 4
log_level: debug
redis:
  addr: localhost:6379
  ttl: 2h
annotation:
  addr: annotator:50051
  timeout: 5s
params:
  seed: 42
  random_forest:
    trees: 50
`)
	t.Setenv("CPGENIUS_WORKERS", "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workdir != "/srv/cpgenius" || cfg.Workers != 4 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Redis.TTL != 2*time.Hour || cfg.Redis.Prefix != "cpgenius" {
		t.Fatalf("unexpected redis config %+v", cfg.Redis)
	}
	if cfg.Annotation.Timeout != 5*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.Annotation.Timeout)
	}
	if cfg.Params.Seed != 42 || cfg.Params.Forest.Trees != 50 || cfg.Params.Lasso.C != 0.5 {
		t.Fatalf("params not overlaid on defaults: %+v", cfg.Params)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "workdir: x\nwokers: 3\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "wokers") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workdir != Default().Workdir {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"CPGENIUS_WORKDIR":        "/tmp/w",
		"CPGENIUS_WORKERS":        "8",
		"CPGENIUS_REDIS_ADDR":     "redis:6379",
		"CPGENIUS_ANNOTATOR_ADDR": "ann:1",
		"CPGENIUS_SEED":           "-3",
		"PROGNOSIS_COLUMN_NAME":   "Outcome",
		"CPGENIUS_DB":             "",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Workdir != "/tmp/w" || cfg.Workers != 8 || cfg.LabelColumn != "Outcome" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Annotation.Addr != "ann:1" || cfg.Params.Seed != -3 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.DB != Default().DB {
		t.Fatal("empty variables must not override")
	}
}

func TestApplyEnvBadNumbers(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{"CPGENIUS_WORKERS": "many", "CPGENIUS_SEED": "x"}))
	if err == nil || !strings.Contains(err.Error(), "CPGENIUS_WORKERS") || !strings.Contains(err.Error(), "CPGENIUS_SEED") {
		t.Fatalf("expected both variables reported, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "loud"
	cfg.Workers = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestPipelineConfig(t *testing.T) {
	cfg := Default()
	cfg.Workdir = "/w"
	cfg.Workers = 3
	cfg.LabelColumn = "Outcome"
	pc := cfg.Pipeline()
	if pc.Layout.Workdir != "/w" || pc.Layout.Section != "fs" || pc.Layout.OutDir != "fsout" {
		t.Fatalf("unexpected layout %+v", pc.Layout)
	}
	if pc.Params.Workers != 3 || pc.LabelColumn != "Outcome" || pc.EnrichRetries != 2 {
		t.Fatalf("unexpected pipeline config %+v", pc)
	}
	if cfg.Retention() != 7*24*time.Hour {
		t.Fatalf("unexpected retention %v", cfg.Retention())
	}
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"
	var buf bytes.Buffer
	l := cfg.Logger(&buf)
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
