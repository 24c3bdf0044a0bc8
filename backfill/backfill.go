package backfill

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doujins-org/summarykit"
	"github.com/doujins-org/summarykit/pg"
	"github.com/doujins-org/summarykit/tasks"
)

// ListMissingPage returns up to limit document ids after cursor (ascending)
// that have no stored summary and no queued task for strategy. An empty page
// means the scan is finished.
type ListMissingPage func(ctx context.Context, strategy summarykit.Strategy, cursor string, limit int) ([]string, error)

type Options struct {
	PageSize       int
	MaxTasksPerRun int
	MaxRuntime     time.Duration
	Reason         string
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.PageSize <= 0 {
		out.PageSize = 1000
	}
	if out.MaxTasksPerRun <= 0 {
		out.MaxTasksPerRun = 50_000
	}
	if out.MaxRuntime <= 0 {
		out.MaxRuntime = 30 * time.Second
	}
	if strings.TrimSpace(out.Reason) == "" {
		out.Reason = "backfill"
	}
	return out
}

type enqueuer interface {
	Enqueue(ctx context.Context, docID string, strategy string, reason string) error
}

// PostgresLister pages through <schema>.documents looking for documents that
// lack a summary for the strategy.
func PostgresLister(pool *pgxpool.Pool, schema string) (ListMissingPage, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	qs, err := pg.QuoteSchema(schema)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	q := fmt.Sprintf(`
		SELECT d.doc_id
		FROM %s.documents d
		WHERE d.doc_id > $2
		  AND NOT EXISTS (
			SELECT 1 FROM %s.summaries s
			WHERE s.doc_id = d.doc_id AND s.strategy = $1
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM %s.summary_tasks t
			WHERE t.doc_id = d.doc_id AND t.strategy = $1
		  )
		ORDER BY d.doc_id ASC
		LIMIT $3
	`, qs, qs, qs)

	return func(ctx context.Context, strategy summarykit.Strategy, cursor string, limit int) ([]string, error) {
		rows, err := pool.Query(ctx, q, string(strategy), cursor, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, rows.Err()
	}, nil
}

// Run performs a bounded amount of backfill work for the given strategies and
// returns the number of tasks enqueued.
//
// This is designed to be called periodically (e.g. in a background loop) so
// large backfills don't block startup.
func Run(ctx context.Context, repo *tasks.Repo, strategies []summarykit.Strategy, list ListMissingPage, opts Options) (int, error) {
	if repo == nil {
		return 0, fmt.Errorf("task repo is required")
	}
	return run(ctx, repo, strategies, list, opts)
}

func run(ctx context.Context, repo enqueuer, strategies []summarykit.Strategy, list ListMissingPage, opts Options) (int, error) {
	if list == nil {
		return 0, fmt.Errorf("ListMissingPage is required")
	}
	if len(strategies) == 0 {
		return 0, nil
	}

	cfg := opts.withDefaults()
	start := time.Now()
	enqueued := 0
	exhausted := func() bool {
		return time.Since(start) > cfg.MaxRuntime || enqueued >= cfg.MaxTasksPerRun
	}

	for _, st := range strategies {
		st, err := summarykit.ParseStrategy(string(st))
		if err != nil {
			return enqueued, err
		}
		cursor := ""
		for !exhausted() {
			if err := ctx.Err(); err != nil {
				return enqueued, err
			}
			ids, err := list(ctx, st, cursor, cfg.PageSize)
			if err != nil {
				return enqueued, fmt.Errorf("list documents for %s: %w", st, err)
			}
			if len(ids) == 0 {
				break
			}
			for _, id := range ids {
				if exhausted() {
					break
				}
				cursor = id
				if strings.TrimSpace(id) == "" {
					continue
				}
				if err := repo.Enqueue(ctx, id, string(st), cfg.Reason); err != nil {
					return enqueued, err
				}
				enqueued++
			}
			if len(ids) < cfg.PageSize {
				break
			}
		}
	}

	return enqueued, nil
}
