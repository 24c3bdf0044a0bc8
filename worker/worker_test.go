package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doujins-org/summarykit"
	"github.com/doujins-org/summarykit/internal/metrics"
	"github.com/doujins-org/summarykit/runtime"
	"github.com/doujins-org/summarykit/selection"
	"github.com/doujins-org/summarykit/similarity"
	"github.com/doujins-org/summarykit/tasks"
)

type fakeQueue struct {
	mu        sync.Mutex
	ready     []tasks.Task
	completed []string
	failed    map[string]time.Duration
	dead      map[string]tasks.Task
}

func newFakeQueue(ready ...tasks.Task) *fakeQueue {
	return &fakeQueue{ready: ready, failed: map[string]time.Duration{}, dead: map[string]tasks.Task{}}
}

func (q *fakeQueue) FetchReady(_ context.Context, limit int, _ time.Duration) ([]tasks.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit > len(q.ready) {
		limit = len(q.ready)
	}
	out := q.ready[:limit]
	q.ready = q.ready[limit:]
	return out, nil
}

func (q *fakeQueue) Complete(_ context.Context, docID, _ string, _ time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, docID)
	return nil
}

func (q *fakeQueue) Fail(_ context.Context, docID, _ string, _ time.Time, backoff time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[docID] = backoff
	return nil
}

func (q *fakeQueue) DeadLetter(_ context.Context, t tasks.Task, _ time.Time, _ error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead[t.DocID] = t
	return nil
}

type fakeGenerator map[string]error

func (g fakeGenerator) GenerateAndStoreSummary(_ context.Context, docID string, strategy summarykit.Strategy) (summarykit.Summary, error) {
	if err := g[docID]; err != nil {
		return summarykit.Summary{}, err
	}
	return summarykit.Summary{DocumentID: docID, Strategy: strategy, Units: selection.Selection{{Index: 0, Text: "x"}}}, nil
}

func TestDrainOnceRoutesOutcomes(t *testing.T) {
	q := newFakeQueue(
		tasks.Task{DocID: "ok", Strategy: "mmr"},
		tasks.Task{DocID: "gone", Strategy: "mmr"},
		tasks.Task{DocID: "bad", Strategy: "mmr"},
		tasks.Task{DocID: "flaky", Strategy: "greedy", Attempts: 1},
		tasks.Task{DocID: "tired", Strategy: "mmr", Attempts: 2},
	)
	gen := fakeGenerator{
		"gone":  fmt.Errorf("%w: gone", runtime.ErrDocumentNotFound),
		"bad":   fmt.Errorf("summarize: %w", selection.ErrInvalidArgument),
		"flaky": &openai.APIError{HTTPStatusCode: 503},
		"tired": &openai.APIError{HTTPStatusCode: 500},
	}
	m, err := metrics.New(nil)
	require.NoError(t, err)

	d := newDrainer(gen, q, Options{MaxAttempts: 3, BackoffBase: time.Second, Metrics: m})
	n, err := d.drainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.ElementsMatch(t, []string{"ok", "gone"}, q.completed)
	require.Contains(t, q.failed, "flaky")
	// Second attempt: base * 2, plus up to 25% jitter.
	assert.GreaterOrEqual(t, q.failed["flaky"], 2*time.Second)
	assert.Less(t, q.failed["flaky"], 2500*time.Millisecond)

	require.Contains(t, q.dead, "bad")
	require.Contains(t, q.dead, "tired")
	assert.Equal(t, 3, q.dead["tired"].Attempts)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues("mmr", metrics.OutcomeCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues("mmr", metrics.OutcomeSkipped)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues("mmr", metrics.OutcomeDeadLettered)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues("greedy", metrics.OutcomeRetried)))
}

func TestDrainOnceEmptyQueue(t *testing.T) {
	d := newDrainer(fakeGenerator{}, newFakeQueue(), Options{})
	n, err := d.drainOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainOnceRespectsBatchSize(t *testing.T) {
	q := newFakeQueue(
		tasks.Task{DocID: "a", Strategy: "mmr"},
		tasks.Task{DocID: "b", Strategy: "mmr"},
		tasks.Task{DocID: "c", Strategy: "mmr"},
	)
	d := newDrainer(fakeGenerator{}, q, Options{BatchSize: 2, MaxConcurrent: 1, MaxRequestsPerSecond: 1000})
	n, err := d.drainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, q.ready, 1)
}

func TestDrainOnceRequiresDeps(t *testing.T) {
	_, err := DrainOnce(context.Background(), nil, nil, Options{})
	require.ErrorContains(t, err, "runtime")
	require.ErrorContains(t, Run(context.Background(), nil, nil, Options{}), "runtime")
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"invalid argument", fmt.Errorf("x: %w", selection.ErrInvalidArgument), false},
		{"length mismatch", fmt.Errorf("x: %w", similarity.ErrLengthMismatch), false},
		{"rate limited", &openai.APIError{HTTPStatusCode: 429}, true},
		{"timeout", &openai.RequestError{HTTPStatusCode: 408}, true},
		{"server error", &openai.APIError{HTTPStatusCode: 502}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: 400}, false},
		{"unknown", errors.New("connection reset"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isRetryable(tc.err))
		})
	}
	assert.True(t, isRateLimit(&openai.APIError{HTTPStatusCode: 429}))
	assert.False(t, isRateLimit(errors.New("x")))
}

func TestExpBackoff(t *testing.T) {
	assert.Equal(t, time.Second, expBackoff(time.Second, 0, time.Minute))
	assert.Equal(t, time.Second, expBackoff(time.Second, 1, time.Minute))
	assert.Equal(t, 8*time.Second, expBackoff(time.Second, 4, time.Minute))
	assert.Equal(t, time.Minute, expBackoff(time.Second, 20, time.Minute))
	assert.Equal(t, time.Minute, expBackoff(time.Second, 200, time.Minute))
}

func TestJitterBounds(t *testing.T) {
	r := newLockedRand()
	for i := 0; i < 100; i++ {
		got := r.jitter(time.Second)
		assert.GreaterOrEqual(t, got, time.Second)
		assert.Less(t, got, 1250*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), r.jitter(0))
}

type emptyStorage struct{}

func (emptyStorage) LoadDocument(context.Context, string) (summarykit.Document, error) {
	return summarykit.Document{}, runtime.ErrDocumentNotFound
}

func (emptyStorage) UpsertSummary(context.Context, summarykit.Summary) error { return nil }

func TestDrainOnceDeadLettersValidationErrorsOnFirstAttempt(t *testing.T) {
	rt, err := runtime.New(runtime.Options{Summarizer: summarykit.New(summarykit.Options{}), Storage: emptyStorage{}})
	require.NoError(t, err)

	q := newFakeQueue(tasks.Task{DocID: " ", Strategy: "mmr"})
	d := newDrainer(rt, q, Options{MaxAttempts: 10})
	_, err = d.drainOnce(context.Background())
	require.NoError(t, err)

	assert.Empty(t, q.failed)
	require.Contains(t, q.dead, " ")
	assert.Equal(t, 1, q.dead[" "].Attempts)
}
