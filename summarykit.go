// Package summarykit builds extractive summaries from scored sentences.
//
// A Document carries cleaned sentences plus one relevance score per sentence
// (produced upstream). Summarize picks a budget-bounded subset with either the
// greedy or the MMR strategy from package selection.
package summarykit

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/doujins-org/summarykit/embedder"
	"github.com/doujins-org/summarykit/selection"
	"github.com/doujins-org/summarykit/similarity"
)

// DefaultGreedyBudget is the greedy strategy's character budget when the
// request does not set one.
const DefaultGreedyBudget = 2000

type Strategy string

const (
	StrategyGreedy Strategy = "greedy"
	StrategyMMR    Strategy = "mmr"
)

// ParseStrategy accepts "greedy" or "mmr". Empty means StrategyMMR.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyMMR:
		return StrategyMMR, nil
	case StrategyGreedy:
		return StrategyGreedy, nil
	}
	return "", fmt.Errorf("%w: unknown strategy %q", selection.ErrInvalidArgument, s)
}

type SimilarityKind string

const (
	SimilarityBagOfWords SimilarityKind = "bow"
	SimilarityEmbedding  SimilarityKind = "embedding"
)

// ParseSimilarityKind accepts "bow" or "embedding". Empty means SimilarityBagOfWords.
func ParseSimilarityKind(s string) (SimilarityKind, error) {
	switch SimilarityKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", SimilarityBagOfWords:
		return SimilarityBagOfWords, nil
	case SimilarityEmbedding:
		return SimilarityEmbedding, nil
	}
	return "", fmt.Errorf("%w: unknown similarity %q", selection.ErrInvalidArgument, s)
}

type Document struct {
	ID        string
	Sentences []string
	Scores    []float64

	// Chars is the character count of the full source document. 0 means
	// "derive from Sentences joined by single spaces".
	Chars int
}

func (d Document) sourceChars() int {
	if d.Chars > 0 {
		return d.Chars
	}
	return selection.DocumentChars(d.Sentences)
}

type GreedyOptions struct {
	// Budget in characters. Ignored when Fraction > 0.
	Budget int
	// Fraction of the source document's characters.
	Fraction float64
}

type Request struct {
	Strategy Strategy

	// Greedy options; nil means Budget = DefaultGreedyBudget.
	Greedy *GreedyOptions

	// MMR options; nil means selection.DefaultMMROptions().
	MMR *selection.MMROptions

	// Similarity used by MMR when MMR.Similarity is nil.
	Similarity SimilarityKind
}

type Summary struct {
	DocumentID string
	Strategy   Strategy
	Units      selection.Selection
	// Text is the selected sentences joined by a single space.
	Text string
}

type Options struct {
	// Embedder is required only for SimilarityEmbedding requests.
	Embedder embedder.Embedder

	// FoldVocabulary transliterates to ASCII before bag-of-words tokenization.
	FoldVocabulary bool

	Logger logrus.FieldLogger
}

type Summarizer struct {
	embedder embedder.Embedder
	bow      similarity.BagOfWords
	logger   logrus.FieldLogger
}

func New(opts Options) *Summarizer {
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Summarizer{
		embedder: opts.Embedder,
		bow:      similarity.BagOfWords{Fold: opts.FoldVocabulary},
		logger:   logger,
	}
}

// Summarize selects summary sentences for doc.
//
// The context only matters for embedding-based similarity; the selection
// itself never blocks.
func (s *Summarizer) Summarize(ctx context.Context, doc Document, req Request) (Summary, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategyMMR
	}

	start := time.Now()
	var (
		sel selection.Selection
		err error
	)
	switch strategy {
	case StrategyGreedy:
		sel, err = selection.Greedy(doc.Sentences, doc.Scores, s.greedyBudget(doc, req.Greedy))
	case StrategyMMR:
		var opts selection.MMROptions
		opts, err = s.mmrOptions(ctx, doc, req)
		if err == nil {
			sel, err = selection.MMR(doc.Sentences, doc.Scores, doc.sourceChars(), opts)
		}
	default:
		err = fmt.Errorf("%w: unknown strategy %q", selection.ErrInvalidArgument, strategy)
	}
	if err != nil {
		return Summary{}, fmt.Errorf("summarize document %q: %w", doc.ID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"action":    "summarize",
		"document":  doc.ID,
		"strategy":  string(strategy),
		"sentences": len(doc.Sentences),
		"selected":  len(sel),
		"took":      time.Since(start),
	}).Debug("summary selected")

	return Summary{
		DocumentID: doc.ID,
		Strategy:   strategy,
		Units:      sel,
		Text:       sel.Join(),
	}, nil
}

func (s *Summarizer) greedyBudget(doc Document, opts *GreedyOptions) int {
	if opts == nil {
		return DefaultGreedyBudget
	}
	if opts.Fraction > 0 {
		return selection.FractionBudget(doc.sourceChars(), opts.Fraction)
	}
	return opts.Budget
}

// embeddingMeasure embeds the sentences only once MMR asks for the matrix,
// so inputs with nothing selectable never reach the provider.
type embeddingMeasure struct {
	ctx      context.Context
	embedder embedder.Embedder
}

func (m embeddingMeasure) Matrix(texts []string) (*similarity.Matrix, error) {
	vecs, err := m.embedder.EmbedTexts(m.ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed sentences: %w", err)
	}
	return similarity.Vectors(vecs).Matrix(texts)
}

func (s *Summarizer) mmrOptions(ctx context.Context, doc Document, req Request) (selection.MMROptions, error) {
	opts := selection.DefaultMMROptions()
	if req.MMR != nil {
		opts = *req.MMR
	}
	if opts.Similarity != nil {
		return opts, nil
	}

	kind := req.Similarity
	if kind == "" {
		kind = SimilarityBagOfWords
	}
	switch kind {
	case SimilarityBagOfWords:
		opts.Similarity = s.bow
	case SimilarityEmbedding:
		if s.embedder == nil {
			return opts, fmt.Errorf("%w: embedding similarity requested but no embedder configured", selection.ErrInvalidArgument)
		}
		opts.Similarity = embeddingMeasure{ctx: ctx, embedder: s.embedder}
	default:
		return opts, fmt.Errorf("%w: unknown similarity %q", selection.ErrInvalidArgument, kind)
	}
	return opts, nil
}
