// Package config assembles the runtime configuration from defaults, an
// optional YAML file and environment variables, in that order.
package config

// #region imports
import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kostaslazaros/cpgenius/internal/annotate"
	"github.com/kostaslazaros/cpgenius/internal/artifact"
	"github.com/kostaslazaros/cpgenius/internal/dataset"
	"github.com/kostaslazaros/cpgenius/internal/pipeline"
	"github.com/kostaslazaros/cpgenius/internal/ranking"
)

// #endregion

// #region types

// Config holds every setting the binaries use.
type Config struct {
	Workdir     string `yaml:"workdir"`
	DB          string `yaml:"db"`
	LabelColumn string `yaml:"label_column"`
	Workers     int    `yaml:"workers"`
	LogLevel    string `yaml:"log_level"`
	// RetentionDays is the age after which outputs and job rows are swept.
	RetentionDays int `yaml:"retention_days"`

	Redis      RedisConfig      `yaml:"redis"`
	Annotation AnnotationConfig `yaml:"annotation"`
	Params     ranking.Params   `yaml:"params"`
}

// RedisConfig enables the redis progress sink when Addr is set.
type RedisConfig struct {
	Addr   string        `yaml:"addr"`
	DB     int           `yaml:"db"`
	Prefix string        `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"`
}

// AnnotationConfig selects the annotator. Addr selects the remote one;
// otherwise Dir with Files selects local CSV tables.
type AnnotationConfig struct {
	Addr         string            `yaml:"addr"`
	Dir          string            `yaml:"dir"`
	Files        map[string]string `yaml:"files"`
	KeyColumn    string            `yaml:"key_column"`
	MetadataName string            `yaml:"metadata_name"`
	Timeout      time.Duration     `yaml:"timeout"`
	Retries      int               `yaml:"retries"`
}

// #endregion

// #region defaults

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Workdir:       "data",
		DB:            "cpgenius.db",
		LabelColumn:   dataset.DefaultLabelColumn,
		Workers:       2,
		LogLevel:      "info",
		RetentionDays: 7,
		Redis: RedisConfig{
			Prefix: "cpgenius",
			TTL:    24 * time.Hour,
		},
		Annotation: AnnotationConfig{
			KeyColumn:    annotate.DefaultKeyColumn,
			MetadataName: pipeline.DefaultMetadataName,
			Timeout:      30 * time.Second,
			Retries:      2,
			Files: map[string]string{
				"450k":   "450k.csv",
				"epic":   "epic.csv",
				"epicv2": "epicv2.csv",
			},
		},
		Params: ranking.DefaultParams(),
	}
}

// #endregion

// #region load

// Load returns Default overlaid with the YAML file at path and then with the
// environment. An empty path skips the file. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables looked up through
// lookup:
//
//	CPGENIUS_WORKDIR, CPGENIUS_DB, CPGENIUS_WORKERS, CPGENIUS_LOG_LEVEL,
//	CPGENIUS_RETENTION_DAYS, CPGENIUS_REDIS_ADDR, CPGENIUS_REDIS_DB,
//	CPGENIUS_ANNOTATOR_ADDR, CPGENIUS_ANNOTATION_DIR, CPGENIUS_SEED,
//	PROGNOSIS_COLUMN_NAME
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("CPGENIUS_WORKDIR", &c.Workdir)
	str("CPGENIUS_DB", &c.DB)
	str("CPGENIUS_LOG_LEVEL", &c.LogLevel)
	str("CPGENIUS_REDIS_ADDR", &c.Redis.Addr)
	str("CPGENIUS_ANNOTATOR_ADDR", &c.Annotation.Addr)
	str("CPGENIUS_ANNOTATION_DIR", &c.Annotation.Dir)
	str("PROGNOSIS_COLUMN_NAME", &c.LabelColumn)
	num("CPGENIUS_WORKERS", &c.Workers)
	num("CPGENIUS_RETENTION_DAYS", &c.RetentionDays)
	num("CPGENIUS_REDIS_DB", &c.Redis.DB)
	if v, ok := lookup("CPGENIUS_SEED"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("CPGENIUS_SEED: %w", err))
		} else {
			c.Params.Seed = n
		}
	}
	return errors.Join(errs...)
}

// Validate rejects settings no component can work with.
func (c Config) Validate() error {
	var errs []error
	if c.Workdir == "" {
		errs = append(errs, errors.New("workdir is empty"))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// #endregion

// #region derived

// Pipeline returns the orchestrator configuration.
func (c Config) Pipeline() pipeline.Config {
	pc := pipeline.DefaultConfig(c.Workdir)
	pc.LabelColumn = c.LabelColumn
	pc.Params = c.Params
	pc.Params.Workers = c.Workers
	if c.Annotation.MetadataName != "" {
		pc.MetadataName = c.Annotation.MetadataName
	}
	pc.EnrichRetries = c.Annotation.Retries
	pc.EnrichTimeout = c.Annotation.Timeout
	return pc
}

// Layout returns where job outputs are written.
func (c Config) Layout() artifact.Layout { return c.Pipeline().Layout }

// Retention returns RetentionDays as a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Logger builds a text logger on w at the configured level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

// #endregion
