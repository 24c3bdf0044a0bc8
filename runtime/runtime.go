package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/doujins-org/summarykit"
	"github.com/doujins-org/summarykit/selection"
)

// ErrDocumentNotFound is returned by Storage when a document id is unknown.
// Workers treat it as "nothing to do" rather than a failure.
var ErrDocumentNotFound = errors.New("document not found")

// Storage is implemented by the host application (see pg.PostgresStorage for
// the reference implementation) and owns documents and their summaries.
type Storage interface {
	LoadDocument(ctx context.Context, docID string) (summarykit.Document, error)
	UpsertSummary(ctx context.Context, summary summarykit.Summary) error
}

type Options struct {
	Summarizer *summarykit.Summarizer
	Storage    Storage

	// Requests holds per-strategy selection settings. Strategies without an
	// entry use the library defaults.
	Requests map[summarykit.Strategy]summarykit.Request

	Logger logrus.FieldLogger
}

type Runtime struct {
	summarizer *summarykit.Summarizer
	storage    Storage
	requests   map[summarykit.Strategy]summarykit.Request
	logger     logrus.FieldLogger
}

func New(opts Options) (*Runtime, error) {
	if opts.Summarizer == nil {
		return nil, fmt.Errorf("summarizer is required")
	}
	if opts.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	reqs := make(map[summarykit.Strategy]summarykit.Request, len(opts.Requests))
	for st, r := range opts.Requests {
		r.Strategy = st
		reqs[st] = r
	}
	return &Runtime{
		summarizer: opts.Summarizer,
		storage:    opts.Storage,
		requests:   reqs,
		logger:     logger,
	}, nil
}

// Request returns the configured request for strategy.
func (r *Runtime) Request(strategy summarykit.Strategy) summarykit.Request {
	if req, ok := r.requests[strategy]; ok {
		return req
	}
	return summarykit.Request{Strategy: strategy}
}

// GenerateAndStoreSummary loads a document, summarizes it with the given
// strategy, and upserts the result. Intended to be called from a background
// worker.
func (r *Runtime) GenerateAndStoreSummary(ctx context.Context, docID string, strategy summarykit.Strategy) (summarykit.Summary, error) {
	if strings.TrimSpace(docID) == "" {
		return summarykit.Summary{}, fmt.Errorf("%w: docID is required", selection.ErrInvalidArgument)
	}
	st, err := summarykit.ParseStrategy(string(strategy))
	if err != nil {
		return summarykit.Summary{}, err
	}

	doc, err := r.storage.LoadDocument(ctx, docID)
	if err != nil {
		return summarykit.Summary{}, err
	}

	sum, err := r.summarizer.Summarize(ctx, doc, r.Request(st))
	if err != nil {
		return summarykit.Summary{}, err
	}
	if err := r.storage.UpsertSummary(ctx, sum); err != nil {
		return summarykit.Summary{}, fmt.Errorf("store summary %q: %w", docID, err)
	}

	r.logger.WithFields(logrus.Fields{
		"action":   "store_summary",
		"document": docID,
		"strategy": string(st),
		"selected": len(sum.Units),
	}).Debug("summary stored")
	return sum, nil
}
