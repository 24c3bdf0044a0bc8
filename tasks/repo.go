package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doujins-org/summarykit/pg"
)

type Repo struct {
	pool   *pgxpool.Pool
	schema string
}

const summaryTasksTable = "summary_tasks"
const summaryDeadLettersTable = "summary_dead_letters"

// DefaultLockAhead is how far FetchReady pushes next_run_at on picked tasks.
const DefaultLockAhead = 30 * time.Second

func NewRepo(pool *pgxpool.Pool, schema string) *Repo {
	return &Repo{pool: pool, schema: schema}
}

func (r *Repo) quotedSchema() (string, error) {
	if r.pool == nil {
		return "", fmt.Errorf("pool is required")
	}
	if strings.TrimSpace(r.schema) == "" {
		return "", fmt.Errorf("schema is required")
	}
	return pg.QuoteSchema(r.schema)
}

func validKey(docID, strategy string) bool {
	return strings.TrimSpace(docID) != "" && strings.TrimSpace(strategy) != ""
}

// Enqueue schedules (docID, strategy) to run now. Re-enqueueing an existing
// task updates its reason and never delays it.
func (r *Repo) Enqueue(ctx context.Context, docID string, strategy string, reason string) error {
	if strings.TrimSpace(docID) == "" {
		return fmt.Errorf("docID is required")
	}
	if strings.TrimSpace(strategy) == "" {
		return fmt.Errorf("strategy is required")
	}
	qs, err := r.quotedSchema()
	if err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "unknown"
	}
	q := fmt.Sprintf(`
		INSERT INTO %s.%s (doc_id, strategy, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (doc_id, strategy) DO UPDATE SET
			reason = EXCLUDED.reason,
			next_run_at = LEAST(%s.%s.next_run_at, now()),
			updated_at = now()
	`, qs, summaryTasksTable, qs, summaryTasksTable)
	_, err = r.pool.Exec(ctx, q, docID, strategy, reason)
	return err
}

// FetchReady returns up to limit tasks ready to run now, and bumps next_run_at
// forward by lockAhead to reduce duplicate work across workers. The returned
// NextRunAt is the lease token for Complete, Fail and DeadLetter.
func (r *Repo) FetchReady(ctx context.Context, limit int, lockAhead time.Duration) ([]Task, error) {
	if limit <= 0 {
		return nil, nil
	}
	if lockAhead <= 0 {
		lockAhead = DefaultLockAhead
	}
	qs, err := r.quotedSchema()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	next := now.Add(lockAhead)

	q := fmt.Sprintf(`
		WITH picked AS (
			SELECT doc_id, strategy
			FROM %s.%s
			WHERE next_run_at <= $1
			ORDER BY next_run_at ASC, doc_id ASC, strategy ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE %s.%s t
		SET next_run_at = $3,
		    started_at = COALESCE(t.started_at, $1),
		    updated_at = $1
		FROM picked p
		WHERE t.doc_id = p.doc_id
		  AND t.strategy = p.strategy
		RETURNING
			t.doc_id, t.strategy, t.reason, t.attempts, t.next_run_at, t.started_at, t.created_at, t.updated_at
	`, qs, summaryTasksTable, qs, summaryTasksTable)

	rows, err := r.pool.Query(ctx, q, now, limit, next)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(
			&t.DocID,
			&t.Strategy,
			&t.Reason,
			&t.Attempts,
			&t.NextRunAt,
			&t.StartedAt,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repo) Complete(ctx context.Context, docID string, strategy string, leaseUntil time.Time) error {
	qs, err := r.quotedSchema()
	if err != nil {
		return err
	}
	if !validKey(docID, strategy) {
		return nil
	}
	q := fmt.Sprintf(`
		DELETE FROM %s.%s
		WHERE doc_id = $1 AND strategy = $2 AND next_run_at = $3
	`, qs, summaryTasksTable)
	_, err = r.pool.Exec(ctx, q, docID, strategy, leaseUntil.UTC())
	return err
}

func (r *Repo) Fail(ctx context.Context, docID string, strategy string, leaseUntil time.Time, backoff time.Duration) error {
	qs, err := r.quotedSchema()
	if err != nil {
		return err
	}
	if !validKey(docID, strategy) {
		return nil
	}
	q := fmt.Sprintf(`
		UPDATE %s.%s
		SET attempts = attempts + 1,
		    next_run_at = now() + make_interval(secs => $1),
		    updated_at = now()
		WHERE doc_id = $2 AND strategy = $3 AND next_run_at = $4
	`, qs, summaryTasksTable)
	_, err = r.pool.Exec(ctx, q, backoffSeconds(backoff), docID, strategy, leaseUntil.UTC())
	return err
}

func backoffSeconds(backoff time.Duration) int64 {
	if backoff <= 0 {
		backoff = 30 * time.Second
	}
	secs := int64(backoff / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// DeadLetter moves a task into summary_dead_letters and deletes it from
// summary_tasks. The task is deleted only if next_run_at matches leaseUntil.
func (r *Repo) DeadLetter(ctx context.Context, t Task, leaseUntil time.Time, err error) error {
	qs, qErr := r.quotedSchema()
	if qErr != nil {
		return qErr
	}
	if !validKey(t.DocID, t.Strategy) {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("unknown error")
	}

	tx, txErr := r.pool.Begin(ctx)
	if txErr != nil {
		return txErr
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q1 := fmt.Sprintf(`
		INSERT INTO %s.%s (doc_id, strategy, reason, error, attempts, failed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now(), now())
		ON CONFLICT (doc_id, strategy) DO UPDATE SET
			reason = EXCLUDED.reason,
			error = EXCLUDED.error,
			attempts = EXCLUDED.attempts,
			failed_at = EXCLUDED.failed_at,
			updated_at = now()
	`, qs, summaryDeadLettersTable)
	attempts := t.Attempts
	if attempts < 0 {
		attempts = 0
	}
	if _, execErr := tx.Exec(ctx, q1, t.DocID, t.Strategy, t.Reason, err.Error(), attempts); execErr != nil {
		return execErr
	}

	q2 := fmt.Sprintf(`
		DELETE FROM %s.%s
		WHERE doc_id = $1 AND strategy = $2 AND next_run_at = $3
	`, qs, summaryTasksTable)
	if _, execErr := tx.Exec(ctx, q2, t.DocID, t.Strategy, leaseUntil.UTC()); execErr != nil {
		return execErr
	}

	return tx.Commit(ctx)
}

// ListDeadLetters returns the most recently failed tasks first.
func (r *Repo) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		return nil, nil
	}
	qs, err := r.quotedSchema()
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
		SELECT doc_id, strategy, reason, error, attempts, failed_at
		FROM %s.%s
		ORDER BY failed_at DESC, doc_id ASC
		LIMIT $1
	`, qs, summaryDeadLettersTable)
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var d DeadLetter
		if err := rows.Scan(&d.DocID, &d.Strategy, &d.Reason, &d.Error, &d.Attempts, &d.FailedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
