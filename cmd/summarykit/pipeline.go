package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/doujins-org/summarykit"
	"github.com/doujins-org/summarykit/backfill"
	"github.com/doujins-org/summarykit/internal/metrics"
	"github.com/doujins-org/summarykit/migrate"
	"github.com/doujins-org/summarykit/pg"
	"github.com/doujins-org/summarykit/runtime"
	"github.com/doujins-org/summarykit/tasks"
	"github.com/doujins-org/summarykit/worker"
)

// withPool opens the configured pool for the duration of fn.
func (a *app) withPool(c *cli.Context, fn func(ctx context.Context, pool *pgxpool.Pool, schema string) error) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	pool, schema, err := a.openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pool, schema)
}

func (a *app) migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply the embedded Postgres migrations",
		Action: func(c *cli.Context) error {
			return a.withPool(c, func(ctx context.Context, pool *pgxpool.Pool, schema string) error {
				if err := migrate.ApplyPostgres(ctx, pool, schema); err != nil {
					return err
				}
				a.logger.WithField("schema", schema).Info("migrations applied")
				return nil
			})
		},
	}
}

func (a *app) ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "store JSONL documents in Postgres and queue them for summarization",
		ArgsUsage: "[file|-]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Usage: "source tag stored with each document"},
			&cli.StringSliceFlag{Name: "strategy", Usage: "strategies to enqueue (default from config)"},
			&cli.BoolFlag{Name: "no-enqueue", Usage: "store documents only"},
		},
		Action: func(c *cli.Context) error {
			strategies, err := a.strategies(c.StringSlice("strategy"))
			if err != nil {
				return err
			}
			in, done, err := a.openInput(c.Args().First())
			if err != nil {
				return err
			}
			defer done()

			return a.withPool(c, func(ctx context.Context, pool *pgxpool.Pool, schema string) error {
				store := pg.NewPostgresStorage(pool, schema)
				repo := tasks.NewRepo(pool, schema)
				n := 0
				err := readDocuments(in, func(_ int, raw inputDocument) error {
					doc, err := raw.document()
					if err != nil {
						return err
					}
					if err := store.UpsertDocument(ctx, doc, c.String("source")); err != nil {
						return fmt.Errorf("store %q: %w", doc.ID, err)
					}
					n++
					if c.Bool("no-enqueue") {
						return nil
					}
					for _, st := range strategies {
						if err := repo.Enqueue(ctx, doc.ID, string(st), "ingest"); err != nil {
							return err
						}
					}
					return nil
				})
				a.logger.WithField("documents", n).Info("ingest finished")
				return err
			})
		},
	}
}

func (a *app) enqueueCommand() *cli.Command {
	return &cli.Command{
		Name:      "enqueue",
		Usage:     "queue documents for (re)summarization",
		ArgsUsage: "DOC_ID...",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "strategy", Usage: "strategies to enqueue (default from config)"},
			&cli.StringFlag{Name: "reason", Value: "manual"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("at least one document id is required")
			}
			strategies, err := a.strategies(c.StringSlice("strategy"))
			if err != nil {
				return err
			}
			return a.withPool(c, func(ctx context.Context, pool *pgxpool.Pool, schema string) error {
				repo := tasks.NewRepo(pool, schema)
				for _, id := range c.Args().Slice() {
					for _, st := range strategies {
						if err := repo.Enqueue(ctx, id, string(st), c.String("reason")); err != nil {
							return err
						}
					}
				}
				return nil
			})
		},
	}
}

func (a *app) backfillCommand() *cli.Command {
	return &cli.Command{
		Name:  "backfill",
		Usage: "queue documents that have no summary yet",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "strategy", Usage: "strategies to backfill (default from config)"},
		},
		Action: func(c *cli.Context) error {
			strategies, err := a.strategies(c.StringSlice("strategy"))
			if err != nil {
				return err
			}
			return a.withPool(c, func(ctx context.Context, pool *pgxpool.Pool, schema string) error {
				list, err := backfill.PostgresLister(pool, schema)
				if err != nil {
					return err
				}
				n, err := backfill.Run(ctx, tasks.NewRepo(pool, schema), strategies, list, backfill.Options{
					PageSize:       a.cfg.Backfill.PageSize,
					MaxTasksPerRun: a.cfg.Backfill.MaxTasksPerRun,
					MaxRuntime:     a.cfg.Backfill.MaxRuntime,
				})
				a.logger.WithField("enqueued", n).Info("backfill finished")
				return err
			})
		},
	}
}

func (a *app) workerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "drain the summary task queue",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "drain a single batch and exit"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on this address"},
		},
		Action: func(c *cli.Context) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return a.withPool(c, func(ctx context.Context, pool *pgxpool.Pool, schema string) error {
				summarizer, err := a.newSummarizer(pool, schema)
				if err != nil {
					return err
				}
				rt, err := runtime.New(runtime.Options{
					Summarizer: summarizer,
					Storage:    pg.NewPostgresStorage(pool, schema),
					Requests: map[summarykit.Strategy]summarykit.Request{
						summarykit.StrategyGreedy: a.cfg.Request(summarykit.StrategyGreedy),
						summarykit.StrategyMMR:    a.cfg.Request(summarykit.StrategyMMR),
					},
					Logger: a.logger,
				})
				if err != nil {
					return err
				}

				reg := prometheus.NewRegistry()
				m, err := metrics.New(reg)
				if err != nil {
					return err
				}
				addr := a.cfg.Worker.MetricsAddr
				if c.IsSet("metrics-addr") {
					addr = c.String("metrics-addr")
				}
				if addr != "" {
					srv := serveMetrics(addr, reg, a.logger)
					defer func() {
						shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						defer cancel()
						_ = srv.Shutdown(shutdownCtx)
					}()
				}

				w := a.cfg.Worker
				opts := worker.Options{
					BatchSize:            w.BatchSize,
					PollEvery:            w.PollEvery,
					MaxConcurrent:        w.MaxConcurrent,
					MaxRequestsPerSecond: w.MaxRequestsPerSecond,
					MaxAttempts:          w.MaxAttempts,
					BackoffBase:          w.BackoffBase,
					BackoffMax:           w.BackoffMax,
					Logger:               a.logger,
					Metrics:              m,
				}
				repo := tasks.NewRepo(pool, schema)
				if c.Bool("once") {
					n, err := worker.DrainOnce(ctx, rt, repo, opts)
					a.logger.WithField("tasks", n).Info("drained one batch")
					return err
				}
				a.logger.WithField("schema", schema).Info("worker started")
				err = worker.Run(ctx, rt, repo, opts)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger logrus.FieldLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()
	return srv
}

func (a *app) deadLettersCommand() *cli.Command {
	return &cli.Command{
		Name:  "dead-letters",
		Usage: "list tasks that failed permanently",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 50},
		},
		Action: func(c *cli.Context) error {
			return a.withPool(c, func(ctx context.Context, pool *pgxpool.Pool, schema string) error {
				dls, err := tasks.NewRepo(pool, schema).ListDeadLetters(ctx, c.Int("limit"))
				if err != nil {
					return err
				}
				for _, d := range dls {
					fmt.Fprintf(a.stdout, "%s\t%s\t%d\t%s\t%s\n",
						d.FailedAt.Format(time.RFC3339), d.DocID+"/"+d.Strategy, d.Attempts, d.Reason, d.Error)
				}
				return nil
			})
		},
	}
}
