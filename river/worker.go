package river

import (
	"context"
	"time"

	"github.com/riverqueue/river"

	"github.com/doujins-org/summarykit/runtime"
	"github.com/doujins-org/summarykit/tasks"
	"github.com/doujins-org/summarykit/worker"
)

// SummaryBatchArgs drains one batch of summary tasks per job.
type SummaryBatchArgs struct {
	Limit int `json:"limit"`
}

func (SummaryBatchArgs) Kind() string { return "summarykit_summary_batch" }

type SummaryBatchWorker struct {
	river.WorkerDefaults[SummaryBatchArgs]

	Runtime  *runtime.Runtime
	TaskRepo *tasks.Repo
	Options  worker.Options
}

func (w *SummaryBatchWorker) Work(ctx context.Context, job *river.Job[SummaryBatchArgs]) error {
	if w.Runtime == nil || w.TaskRepo == nil {
		return nil
	}
	opts := w.Options
	if job.Args.Limit > 0 {
		opts.BatchSize = job.Args.Limit
	}
	_, err := worker.DrainOnce(ctx, w.Runtime, w.TaskRepo, opts)
	return err
}

func (w *SummaryBatchWorker) Timeout(*river.Job[SummaryBatchArgs]) time.Duration {
	return 5 * time.Minute
}
