package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/doujins-org/summarykit"
	"github.com/doujins-org/summarykit/internal/metrics"
	"github.com/doujins-org/summarykit/runtime"
	"github.com/doujins-org/summarykit/selection"
	"github.com/doujins-org/summarykit/similarity"
	"github.com/doujins-org/summarykit/tasks"
)

type Options struct {
	BatchSize int
	LockAhead time.Duration
	PollEvery time.Duration

	MaxConcurrent        int
	MaxRequestsPerSecond float64 // 0 = unlimited

	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration

	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.BatchSize <= 0 {
		out.BatchSize = 250
	}
	if out.LockAhead <= 0 {
		out.LockAhead = tasks.DefaultLockAhead
	}
	if out.PollEvery <= 0 {
		out.PollEvery = 2 * time.Second
	}
	if out.MaxConcurrent <= 0 {
		out.MaxConcurrent = 8
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 10
	}
	if out.BackoffBase <= 0 {
		out.BackoffBase = 5 * time.Second
	}
	if out.BackoffMax <= 0 {
		out.BackoffMax = 10 * time.Minute
	}
	if out.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		out.Logger = l
	}
	return out
}

// queue is the subset of *tasks.Repo the worker drives.
type queue interface {
	FetchReady(ctx context.Context, limit int, lockAhead time.Duration) ([]tasks.Task, error)
	Complete(ctx context.Context, docID string, strategy string, leaseUntil time.Time) error
	Fail(ctx context.Context, docID string, strategy string, leaseUntil time.Time, backoff time.Duration) error
	DeadLetter(ctx context.Context, t tasks.Task, leaseUntil time.Time, err error) error
}

type generator interface {
	GenerateAndStoreSummary(ctx context.Context, docID string, strategy summarykit.Strategy) (summarykit.Summary, error)
}

func httpStatus(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}

func isRateLimit(err error) bool {
	code, ok := httpStatus(err)
	return ok && code == 429
}

func isRetryable(err error) bool {
	if errors.Is(err, selection.ErrInvalidArgument) || errors.Is(err, similarity.ErrLengthMismatch) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	if code, ok := httpStatus(err); ok {
		if code == 429 || code == 408 {
			return true
		}
		return code >= 500 && code <= 599
	}
	return true
}

func expBackoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	f := float64(base) * math.Pow(2, float64(attempt-1))
	if f > float64(max) {
		return max
	}
	return time.Duration(f)
}

// lockedRand guards a *rand.Rand shared by task goroutines.
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newLockedRand() *lockedRand {
	return &lockedRand{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (r *lockedRand) jitter(d time.Duration) time.Duration {
	if d < 4 {
		return d
	}
	r.mu.Lock()
	// Up to 25% jitter.
	j := time.Duration(r.rng.Int63n(int64(d / 4)))
	r.mu.Unlock()
	return d + j
}

type drainer struct {
	gen     generator
	queue   queue
	cfg     Options
	limiter *rate.Limiter
	rng     *lockedRand
}

func newDrainer(gen generator, q queue, opts Options) *drainer {
	cfg := opts.withDefaults()
	d := &drainer{gen: gen, queue: q, cfg: cfg, rng: newLockedRand()}
	if cfg.MaxRequestsPerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), cfg.MaxConcurrent)
	}
	return d
}

func (d *drainer) handleTaskResult(ctx context.Context, task tasks.Task, sum summarykit.Summary, err error) string {
	log := d.cfg.Logger.WithFields(logrus.Fields{
		"action":   "summary_task",
		"document": task.DocID,
		"strategy": task.Strategy,
		"attempts": task.Attempts,
	})

	if err == nil {
		_ = d.queue.Complete(ctx, task.DocID, task.Strategy, task.NextRunAt)
		d.cfg.Metrics.ObserveSelected(task.Strategy, len(sum.Units))
		return metrics.OutcomeCompleted
	}
	if errors.Is(err, runtime.ErrDocumentNotFound) {
		log.Debug("document gone, dropping task")
		_ = d.queue.Complete(ctx, task.DocID, task.Strategy, task.NextRunAt)
		return metrics.OutcomeSkipped
	}

	log.WithError(err).Warn("summary task failed")

	// This failure counts as the next attempt (tasks.Attempts is prior failures).
	task.Attempts = task.Attempts + 1

	if task.Attempts >= d.cfg.MaxAttempts || !isRetryable(err) {
		_ = d.queue.DeadLetter(ctx, task, task.NextRunAt, err)
		return metrics.OutcomeDeadLettered
	}

	base := d.cfg.BackoffBase
	if isRateLimit(err) {
		base = 2 * d.cfg.BackoffBase
	}
	backoff := d.rng.jitter(expBackoff(base, task.Attempts, d.cfg.BackoffMax))
	_ = d.queue.Fail(ctx, task.DocID, task.Strategy, task.NextRunAt, backoff)
	return metrics.OutcomeRetried
}

func (d *drainer) runTask(ctx context.Context, task tasks.Task) {
	start := time.Now()
	sum, err := d.gen.GenerateAndStoreSummary(ctx, task.DocID, summarykit.Strategy(task.Strategy))
	took := time.Since(start)
	outcome := d.handleTaskResult(ctx, task, sum, err)
	d.cfg.Metrics.ObserveTask(task.Strategy, outcome, took)
}

func (d *drainer) processBatch(ctx context.Context, batch []tasks.Task) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxConcurrent)
	for _, task := range batch {
		task := task
		if d.limiter != nil {
			if err := d.limiter.Wait(gctx); err != nil {
				break
			}
		}
		g.Go(func() error {
			d.runTask(gctx, task)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (d *drainer) drainOnce(ctx context.Context) (int, error) {
	batch, err := d.queue.FetchReady(ctx, d.cfg.BatchSize, d.cfg.LockAhead)
	if err != nil {
		return 0, fmt.Errorf("fetch ready tasks: %w", err)
	}
	d.cfg.Metrics.ObserveBatch(len(batch))
	if len(batch) == 0 {
		return 0, nil
	}
	return len(batch), d.processBatch(ctx, batch)
}

// DrainOnce fetches and processes a single batch of ready tasks, then returns
// the number of tasks fetched.
//
// This is useful for integrating summarykit into an external job runner (e.g.
// River/Cron) where you do not want an internal infinite polling loop.
func DrainOnce(ctx context.Context, rt *runtime.Runtime, repo *tasks.Repo, opts Options) (int, error) {
	if rt == nil {
		return 0, fmt.Errorf("runtime is required")
	}
	if repo == nil {
		return 0, fmt.Errorf("repo is required")
	}
	return newDrainer(rt, repo, opts).drainOnce(ctx)
}

// Run drains summary tasks until ctx is cancelled.
//
// This helper is optional; host apps can implement their own runner in River/Cron/etc.
func Run(ctx context.Context, rt *runtime.Runtime, repo *tasks.Repo, opts Options) error {
	if rt == nil {
		return fmt.Errorf("runtime is required")
	}
	if repo == nil {
		return fmt.Errorf("repo is required")
	}
	return newDrainer(rt, repo, opts).run(ctx)
}

func (d *drainer) run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// A full batch means more work is likely waiting; keep draining.
			for {
				n, err := d.drainOnce(ctx)
				if err != nil {
					return err
				}
				if n < d.cfg.BatchSize {
					break
				}
			}
		}
	}
}
