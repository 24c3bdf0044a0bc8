package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/doujins-org/summarykit"
	"github.com/doujins-org/summarykit/embedder"
	"github.com/doujins-org/summarykit/internal/config"
	"github.com/doujins-org/summarykit/pg"
)

// app carries state resolved in Before for the subcommands.
type app struct {
	stdin  io.Reader
	stdout io.Writer

	cfg    config.Config
	logger *logrus.Logger
}

func newApp(stdin io.Reader, stdout io.Writer) *cli.App {
	a := &app{stdin: stdin, stdout: stdout}
	return &cli.App{
		Name:  "summarykit",
		Usage: "extractive summaries from scored sentences",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
				EnvVars: []string{"SUMMARYKIT_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "dotenv file loaded before SUMMARYKIT_* overrides; missing is fine",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level (debug|info|warn|error)",
			},
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "emit JSON log lines",
			},
		},
		Before: a.before,
		Commands: []*cli.Command{
			a.summarizeCommand(),
			a.ingestCommand(),
			a.migrateCommand(),
			a.enqueueCommand(),
			a.backfillCommand(),
			a.workerCommand(),
			a.deadLettersCommand(),
		},
		Writer:    stdout,
		ErrWriter: os.Stderr,
	}
}

func (a *app) before(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"), c.String("env-file"))
	if err != nil {
		return err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if c.Bool("log-json") {
		cfg.Log.Format = "json"
	}
	logger, err := newLogger(cfg.Log, c.App.ErrWriter)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func newLogger(cfg config.Log, out io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	if out != nil {
		logger.SetOutput(out)
	}
	level := strings.TrimSpace(cfg.Level)
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(lvl)
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return logger, nil
}

func (a *app) openPool(ctx context.Context) (*pgxpool.Pool, string, error) {
	dsn := strings.TrimSpace(a.cfg.Postgres.DSN)
	if dsn == "" {
		return nil, "", fmt.Errorf("postgres.dsn (or SUMMARYKIT_DATABASE_URL) is required")
	}
	schema := a.cfg.Postgres.Schema
	if _, err := pg.QuoteSchema(schema); err != nil {
		return nil, "", fmt.Errorf("postgres.schema: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, "", fmt.Errorf("ping postgres: %w", err)
	}
	return pool, schema, nil
}

// newSummarizer builds the summarizer. With a pool and embedder.cache set,
// embeddings are cached in the sentence_embeddings table.
func (a *app) newSummarizer(pool *pgxpool.Pool, schema string) (*summarykit.Summarizer, error) {
	opts := summarykit.Options{
		FoldVocabulary: a.cfg.Summary.FoldVocabulary,
		Logger:         a.logger,
	}
	if a.cfg.Embedder.Enabled() {
		e := a.cfg.Embedder
		emb, err := embedder.NewOpenAICompatible(embedder.OpenAICompatibleConfig{
			BaseURL:    e.BaseURL,
			APIKey:     e.APIKey,
			Model:      e.Model,
			Dimensions: e.Dimensions,
			Timeout:    e.Timeout,
			Provider:   e.Provider,
			MaxBatch:   e.MaxBatch,
		})
		if err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
		opts.Embedder = emb
		if e.Cache && pool != nil {
			cached, err := embedder.NewCached(emb, pg.NewSentenceEmbeddings(pool, schema))
			if err != nil {
				return nil, err
			}
			opts.Embedder = cached
		}
	}
	return summarykit.New(opts), nil
}

func (a *app) strategies(values []string) ([]summarykit.Strategy, error) {
	if len(values) == 0 {
		values = []string{a.cfg.Summary.Strategy}
	}
	out := make([]summarykit.Strategy, 0, len(values))
	for _, v := range values {
		st, err := summarykit.ParseStrategy(v)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
