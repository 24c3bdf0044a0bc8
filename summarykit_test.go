package summarykit

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doujins-org/summarykit/embedder"
	"github.com/doujins-org/summarykit/selection"
)

var billSentences = []string{
	"<SECTION-HEADER> Short title.",
	"This Act may be cited as the Rural Water Access Act.",
	"The Administrator shall award grants to eligible rural water systems.",
	"The Administrator shall award grants to eligible rural water utilities.",
	"Grant funds may be used for pipe replacement and lead service line removal.",
	"Sec. 3.",
}

var billScores = []float64{0.9, 0.2, 0.95, 0.9, 0.6, 0.1}

type fakeEmbedder struct {
	vecs map[string][]float32
	err  error
}

func (f *fakeEmbedder) Model() string   { return "fake" }
func (f *fakeEmbedder) Dimensions() int { return 2 }
func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}
func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vecs[t]
		if out[i] == nil {
			out[i] = []float32{0, 1}
		}
	}
	return out, nil
}

func TestSummarize_MMRDefaults(t *testing.T) {
	s := New(Options{})
	doc := Document{ID: "hr-1", Sentences: billSentences, Scores: billScores, Chars: 1000}

	got, err := s.Summarize(context.Background(), doc, Request{})
	require.NoError(t, err)
	assert.Equal(t, StrategyMMR, got.Strategy)
	assert.Equal(t, "hr-1", got.DocumentID)
	// 150-char budget: the top grant sentence and the distinct funds sentence.
	assert.Equal(t, []int{2, 4}, got.Units.Indices())
	assert.Equal(t, billSentences[2]+" "+billSentences[4], got.Text)
}

func TestSummarize_MMRDocumentOrder(t *testing.T) {
	s := New(Options{})
	opts := selection.DefaultMMROptions()
	opts.MaxFraction = 1
	opts.Order = selection.OrderDocument
	doc := Document{ID: "hr-1", Sentences: billSentences, Scores: billScores}

	got, err := s.Summarize(context.Background(), doc, Request{MMR: &opts})
	require.NoError(t, err)
	idx := got.Units.Indices()
	for k := 1; k < len(idx); k++ {
		assert.Less(t, idx[k-1], idx[k])
	}
	assert.NotContains(t, idx, 0)
	assert.NotContains(t, idx, 5)
}

func TestSummarize_Greedy(t *testing.T) {
	s := New(Options{})
	doc := Document{ID: "hr-1", Sentences: billSentences, Scores: billScores}

	got, err := s.Summarize(context.Background(), doc, Request{
		Strategy: StrategyGreedy,
		Greedy:   &GreedyOptions{Budget: 100},
	})
	require.NoError(t, err)
	// Greedy has no marker filter: the header (0.9) fits alongside the top sentence.
	assert.Equal(t, []int{0, 2}, got.Units.Indices())

	got, err = s.Summarize(context.Background(), doc, Request{Strategy: StrategyGreedy})
	require.NoError(t, err)
	assert.Len(t, got.Units, len(billSentences))

	got, err = s.Summarize(context.Background(), doc, Request{
		Strategy: StrategyGreedy,
		Greedy:   &GreedyOptions{Budget: 5000, Fraction: 0.0001},
	})
	require.NoError(t, err)
	assert.Empty(t, got.Units)
}

func TestSummarize_EmbeddingSimilarity(t *testing.T) {
	emb := &fakeEmbedder{vecs: map[string][]float32{
		billSentences[2]: {1, 0},
		billSentences[3]: {0, 1},
		billSentences[4]: {1, 0},
	}}
	s := New(Options{Embedder: emb})
	opts := selection.DefaultMMROptions()
	opts.MaxFraction = 1
	doc := Document{
		ID:        "hr-1",
		Sentences: billSentences,
		Scores:    billScores,
		Chars:     len(billSentences[2]) + len(billSentences[3]) + 10,
	}

	got, err := s.Summarize(context.Background(), doc, Request{MMR: &opts, Similarity: SimilarityEmbedding})
	require.NoError(t, err)
	// Under embeddings the near-identical wording of 2 and 3 is orthogonal.
	assert.Equal(t, []int{2, 3}, got.Units.Indices())
}

func TestSummarize_Errors(t *testing.T) {
	ctx := context.Background()
	doc := Document{ID: "x", Sentences: []string{"a"}, Scores: []float64{1, 2}}

	_, err := New(Options{}).Summarize(ctx, doc, Request{})
	require.ErrorIs(t, err, selection.ErrInvalidArgument)

	_, err = New(Options{}).Summarize(ctx, Document{}, Request{Strategy: "bogus"})
	require.ErrorIs(t, err, selection.ErrInvalidArgument)

	_, err = New(Options{}).Summarize(ctx, Document{}, Request{Similarity: SimilarityEmbedding})
	require.ErrorIs(t, err, selection.ErrInvalidArgument)

	boom := errors.New("provider down")
	s := New(Options{Embedder: &fakeEmbedder{err: boom}})
	_, err = s.Summarize(ctx, Document{Sentences: billSentences, Scores: billScores, Chars: 1000}, Request{Similarity: SimilarityEmbedding})
	require.ErrorIs(t, err, boom)
}

func TestSummarize_EmbeddingSkippedWhenNothingSelectable(t *testing.T) {
	ctx := context.Background()
	s := New(Options{Embedder: &fakeEmbedder{err: errors.New("provider down")}})

	zero := selection.DefaultMMROptions()
	zero.MaxFraction = 0
	strict := selection.DefaultMMROptions()
	strict.MinWords = 50

	cases := []struct {
		name string
		doc  Document
		opts selection.MMROptions
	}{
		{"zero fraction", Document{ID: "d", Sentences: billSentences, Scores: billScores, Chars: 1000}, zero},
		{"budget smaller than every sentence", Document{ID: "d", Sentences: billSentences, Scores: billScores, Chars: 100}, selection.DefaultMMROptions()},
		{"no sentence has enough words", Document{ID: "d", Sentences: billSentences, Scores: billScores, Chars: 1000}, strict},
		{"empty document", Document{ID: "d"}, selection.DefaultMMROptions()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := tc.opts
			got, err := s.Summarize(ctx, tc.doc, Request{MMR: &opts, Similarity: SimilarityEmbedding})
			require.NoError(t, err)
			assert.Empty(t, got.Units)
			assert.Equal(t, "", got.Text)
		})
	}
}

// lossyStore keeps vectors rounded to three decimals, like a reduced
// precision column would.
type lossyStore struct {
	rows map[string][]float32
}

func (l *lossyStore) GetVectors(_ context.Context, _ string, keys []string) (map[string][]float32, error) {
	out := map[string][]float32{}
	for _, k := range keys {
		if v, ok := l.rows[k]; ok {
			out[k] = append([]float32(nil), v...)
		}
	}
	return out, nil
}

func (l *lossyStore) PutVectors(_ context.Context, _ string, vectors map[string][]float32) error {
	for k, v := range vectors {
		r := make([]float32, len(v))
		for i, x := range v {
			r[i] = float32(math.Round(float64(x)*1000) / 1000)
		}
		l.rows[k] = r
	}
	return nil
}

func TestSummarize_CachedEmbeddingsColdAndWarmAgree(t *testing.T) {
	sentences := []string{
		"The agency shall publish the rule.",
		"The agency shall review the plan.",
		"The agency shall report the data.",
	}
	emb := &fakeEmbedder{vecs: map[string][]float32{
		sentences[0]: {1, 0},
		sentences[1]: {0.6001, 0.8},
		sentences[2]: {0.6000, 0.8},
	}}
	cached, err := embedder.NewCached(emb, &lossyStore{rows: map[string][]float32{}})
	require.NoError(t, err)
	s := New(Options{Embedder: cached})

	opts := selection.DefaultMMROptions()
	opts.MaxFraction = 1
	doc := Document{
		ID:        "d",
		Sentences: sentences,
		Scores:    []float64{1, 0.5, 0.5},
		// Room for any two sentences, never all three.
		Chars: selection.Chars(sentences[0]) + selection.Chars(sentences[1]) + selection.Chars(sentences[2]) - 1,
	}
	req := Request{MMR: &opts, Similarity: SimilarityEmbedding}

	cold, err := s.Summarize(context.Background(), doc, req)
	require.NoError(t, err)
	warm, err := s.Summarize(context.Background(), doc, req)
	require.NoError(t, err)

	require.Len(t, cold.Units, 2)
	assert.Equal(t, cold.Units.Indices(), warm.Units.Indices())
	// Rounded, sentences 1 and 2 tie on redundancy and the lower index wins.
	assert.Equal(t, []int{0, 1}, cold.Units.Indices())
}

func TestParseStrategyAndSimilarity(t *testing.T) {
	st, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyMMR, st)
	st, err = ParseStrategy(" Greedy ")
	require.NoError(t, err)
	assert.Equal(t, StrategyGreedy, st)
	_, err = ParseStrategy("lexrank")
	require.ErrorIs(t, err, selection.ErrInvalidArgument)

	k, err := ParseSimilarityKind("embedding")
	require.NoError(t, err)
	assert.Equal(t, SimilarityEmbedding, k)
	_, err = ParseSimilarityKind("jaccard")
	require.ErrorIs(t, err, selection.ErrInvalidArgument)
}
