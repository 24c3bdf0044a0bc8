package pg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doujins-org/summarykit"
	"github.com/doujins-org/summarykit/selection"
)

func TestQuoteSchema(t *testing.T) {
	q, err := QuoteSchema(" app_1 ")
	require.NoError(t, err)
	assert.Equal(t, `"app_1"`, q)

	_, err = QuoteSchema("")
	require.Error(t, err)
	_, err = QuoteSchema(`app"; drop table x`)
	require.Error(t, err)
}

func TestPostgresStorageValidation(t *testing.T) {
	ctx := context.Background()

	s := NewPostgresStorage(nil, "app")
	_, err := s.LoadDocument(ctx, "d1")
	require.ErrorContains(t, err, "pool")

	_, err = s.LoadDocument(ctx, " ")
	require.ErrorContains(t, err, "document id")
	require.ErrorIs(t, err, selection.ErrInvalidArgument)

	err = s.UpsertDocument(ctx, summarykit.Document{ID: "d1", Sentences: []string{"a"}}, "us")
	require.ErrorContains(t, err, "scores")
	require.ErrorIs(t, err, selection.ErrInvalidArgument)

	err = s.UpsertSummary(ctx, summarykit.Summary{DocumentID: "d1"})
	require.ErrorContains(t, err, "strategy")
	require.ErrorIs(t, err, selection.ErrInvalidArgument)

	require.ErrorContains(t, s.DeleteDocument(ctx, ""), "document id")
}

func TestSentenceEmbeddingsValidation(t *testing.T) {
	ctx := context.Background()
	s := NewSentenceEmbeddings(nil, "app")

	got, err := s.GetVectors(ctx, "m", nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.GetVectors(ctx, "m", []string{"k"})
	require.ErrorContains(t, err, "pool")

	require.NoError(t, s.PutVectors(ctx, "m", nil))
}

func TestHalfvecRoundTrip(t *testing.T) {
	assert.Equal(t, "halfvec(3)", HalfvecType(3))
	in := []float32{0.5, -1, 2}
	assert.Equal(t, in, fromHalfvec(toHalfvec(in)))
}
