// Package config loads summarykit settings from a YAML file, an optional
// .env file and SUMMARYKIT_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/doujins-org/summarykit"
	"github.com/doujins-org/summarykit/selection"
)

const EnvPrefix = "SUMMARYKIT_"

type Config struct {
	Log      Log      `yaml:"log"`
	Postgres Postgres `yaml:"postgres"`
	Embedder Embedder `yaml:"embedder"`
	Summary  Summary  `yaml:"summary"`
	Worker   Worker   `yaml:"worker"`
	Backfill Backfill `yaml:"backfill"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text|json
}

type Postgres struct {
	DSN    string `yaml:"dsn"`
	Schema string `yaml:"schema"`
}

type Embedder struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Provider   string        `yaml:"provider"`
	Dimensions int           `yaml:"dimensions"`
	MaxBatch   int           `yaml:"max_batch"`
	Timeout    time.Duration `yaml:"timeout"`
	Cache      bool          `yaml:"cache"`
}

func (e Embedder) Enabled() bool {
	return strings.TrimSpace(e.BaseURL) != "" && strings.TrimSpace(e.Model) != ""
}

type Summary struct {
	Strategy       string  `yaml:"strategy"`
	Similarity     string  `yaml:"similarity"`
	FoldVocabulary bool    `yaml:"fold_vocabulary"`
	GreedyBudget   int     `yaml:"greedy_budget"`
	GreedyFraction float64 `yaml:"greedy_fraction"`
	MaxFraction    float64 `yaml:"max_fraction"`
	Lambda         float64 `yaml:"lambda"`
	MinWords       int     `yaml:"min_words"`
	Order          string  `yaml:"order"`
}

type Worker struct {
	BatchSize            int           `yaml:"batch_size"`
	MaxConcurrent        int           `yaml:"max_concurrent"`
	MaxRequestsPerSecond float64       `yaml:"max_requests_per_second"`
	MaxAttempts          int           `yaml:"max_attempts"`
	PollEvery            time.Duration `yaml:"poll_every"`
	BackoffBase          time.Duration `yaml:"backoff_base"`
	BackoffMax           time.Duration `yaml:"backoff_max"`
	MetricsAddr          string        `yaml:"metrics_addr"`
}

type Backfill struct {
	PageSize       int           `yaml:"page_size"`
	MaxTasksPerRun int           `yaml:"max_tasks_per_run"`
	MaxRuntime     time.Duration `yaml:"max_runtime"`
}

// Defaults returns a Config with the library defaults filled in.
func Defaults() Config {
	mmr := selection.DefaultMMROptions()
	return Config{
		Log:      Log{Level: "info", Format: "text"},
		Postgres: Postgres{Schema: "summarykit"},
		Summary: Summary{
			Strategy:     string(summarykit.StrategyMMR),
			Similarity:   string(summarykit.SimilarityBagOfWords),
			GreedyBudget: summarykit.DefaultGreedyBudget,
			MaxFraction:  mmr.MaxFraction,
			Lambda:       mmr.Lambda,
			MinWords:     mmr.MinWords,
			Order:        mmr.Order.String(),
		},
	}
}

// Load reads path (if non-empty) over Defaults, then loads envFile (if
// non-empty; a missing file is ignored) and applies environment overrides.
func Load(path string, envFile string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if strings.TrimSpace(envFile) != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from SUMMARYKIT_* variables returned by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	flt := func(key string, dst *float64) {
		if v, ok := lookup(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("DATABASE_URL", &c.Postgres.DSN)
	str("SCHEMA", &c.Postgres.Schema)
	str("EMBEDDER_BASE_URL", &c.Embedder.BaseURL)
	str("EMBEDDER_API_KEY", &c.Embedder.APIKey)
	str("EMBEDDER_MODEL", &c.Embedder.Model)
	str("EMBEDDER_PROVIDER", &c.Embedder.Provider)
	num("EMBEDDER_DIMENSIONS", &c.Embedder.Dimensions)
	num("EMBEDDER_MAX_BATCH", &c.Embedder.MaxBatch)
	dur("EMBEDDER_TIMEOUT", &c.Embedder.Timeout)
	boolean("EMBEDDER_CACHE", &c.Embedder.Cache)
	str("STRATEGY", &c.Summary.Strategy)
	str("SIMILARITY", &c.Summary.Similarity)
	boolean("FOLD_VOCABULARY", &c.Summary.FoldVocabulary)
	num("GREEDY_BUDGET", &c.Summary.GreedyBudget)
	flt("GREEDY_FRACTION", &c.Summary.GreedyFraction)
	flt("MAX_FRACTION", &c.Summary.MaxFraction)
	flt("LAMBDA", &c.Summary.Lambda)
	num("MIN_WORDS", &c.Summary.MinWords)
	str("ORDER", &c.Summary.Order)
	num("WORKER_BATCH_SIZE", &c.Worker.BatchSize)
	num("WORKER_MAX_CONCURRENT", &c.Worker.MaxConcurrent)
	flt("WORKER_MAX_RPS", &c.Worker.MaxRequestsPerSecond)
	num("WORKER_MAX_ATTEMPTS", &c.Worker.MaxAttempts)
	dur("WORKER_POLL_EVERY", &c.Worker.PollEvery)
	dur("WORKER_BACKOFF_BASE", &c.Worker.BackoffBase)
	dur("WORKER_BACKOFF_MAX", &c.Worker.BackoffMax)
	str("METRICS_ADDR", &c.Worker.MetricsAddr)
	num("BACKFILL_PAGE_SIZE", &c.Backfill.PageSize)
	num("BACKFILL_MAX_TASKS", &c.Backfill.MaxTasksPerRun)
	dur("BACKFILL_MAX_RUNTIME", &c.Backfill.MaxRuntime)

	return errors.Join(errs...)
}

// Validate checks the summary settings; pipeline settings are validated by
// the components that use them.
func (c Config) Validate() error {
	if _, err := summarykit.ParseStrategy(c.Summary.Strategy); err != nil {
		return err
	}
	if _, err := summarykit.ParseSimilarityKind(c.Summary.Similarity); err != nil {
		return err
	}
	if _, err := selection.ParseOrder(c.Summary.Order); err != nil {
		return err
	}
	if c.Summary.Lambda < 0 || c.Summary.Lambda > 1 {
		return fmt.Errorf("%w: lambda %v outside [0,1]", selection.ErrInvalidArgument, c.Summary.Lambda)
	}
	if c.Summary.MinWords < 0 {
		return fmt.Errorf("%w: min_words %d is negative", selection.ErrInvalidArgument, c.Summary.MinWords)
	}
	kind, _ := summarykit.ParseSimilarityKind(c.Summary.Similarity)
	if kind == summarykit.SimilarityEmbedding && !c.Embedder.Enabled() {
		return fmt.Errorf("%w: embedding similarity needs embedder.base_url and embedder.model", selection.ErrInvalidArgument)
	}
	return nil
}

// Request builds the selection request for strategy from the summary
// settings. Call Validate first.
func (c Config) Request(strategy summarykit.Strategy) summarykit.Request {
	order, _ := selection.ParseOrder(c.Summary.Order)
	kind, _ := summarykit.ParseSimilarityKind(c.Summary.Similarity)
	return summarykit.Request{
		Strategy: strategy,
		Greedy: &summarykit.GreedyOptions{
			Budget:   c.Summary.GreedyBudget,
			Fraction: c.Summary.GreedyFraction,
		},
		MMR: &selection.MMROptions{
			MaxFraction: c.Summary.MaxFraction,
			Lambda:      c.Summary.Lambda,
			MinWords:    c.Summary.MinWords,
			Order:       order,
		},
		Similarity: kind,
	}
}
