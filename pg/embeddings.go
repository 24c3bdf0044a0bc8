package pg

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/doujins-org/summarykit/embedder"
)

const sentenceEmbeddingsTable = "sentence_embeddings"

// SentenceEmbeddings stores sentence embeddings as halfvec rows keyed by
// (model, text hash). It implements embedder.VectorStore.
type SentenceEmbeddings struct {
	pool   *pgxpool.Pool
	schema string
}

var _ embedder.VectorStore = (*SentenceEmbeddings)(nil)

func NewSentenceEmbeddings(pool *pgxpool.Pool, schema string) *SentenceEmbeddings {
	return &SentenceEmbeddings{pool: pool, schema: schema}
}

func (s *SentenceEmbeddings) quotedSchema(model string) (string, error) {
	if s.pool == nil {
		return "", fmt.Errorf("pool is required")
	}
	if strings.TrimSpace(model) == "" {
		return "", fmt.Errorf("model is required")
	}
	qs, err := quoteIdent(s.schema)
	if err != nil {
		return "", fmt.Errorf("invalid schema: %w", err)
	}
	return qs, nil
}

func (s *SentenceEmbeddings) GetVectors(ctx context.Context, model string, keys []string) (map[string][]float32, error) {
	out := map[string][]float32{}
	if len(keys) == 0 {
		return out, nil
	}
	qs, err := s.quotedSchema(model)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`
		SELECT text_hash, embedding
		FROM %s.%s
		WHERE model = $1 AND text_hash = ANY($2::text[])
	`, qs, sentenceEmbeddingsTable)
	rows, err := s.pool.Query(ctx, q, model, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var vec pgvector.HalfVector
		if err := rows.Scan(&key, &vec); err != nil {
			return nil, err
		}
		out[key] = fromHalfvec(vec)
	}
	return out, rows.Err()
}

func (s *SentenceEmbeddings) PutVectors(ctx context.Context, model string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	qs, err := s.quotedSchema(model)
	if err != nil {
		return err
	}

	// Stable ordering keeps batch contents deterministic.
	keys := make([]string, 0, len(vectors))
	for k := range vectors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	dim := -1
	for _, k := range keys {
		v := vectors[k]
		if len(v) == 0 {
			return fmt.Errorf("embedding for %s is empty", k)
		}
		if dim >= 0 && len(v) != dim {
			return fmt.Errorf("embedding for %s has %d dims, want %d", k, len(v), dim)
		}
		dim = len(v)
	}

	q := fmt.Sprintf(`
		INSERT INTO %s.%s (model, text_hash, embedding, created_at)
		VALUES ($1, $2, $3::%s, now())
		ON CONFLICT (model, text_hash) DO UPDATE SET
			embedding = EXCLUDED.embedding
	`, qs, sentenceEmbeddingsTable, HalfvecType(dim))

	batch := &pgx.Batch{}
	for _, k := range keys {
		batch.Queue(q, model, k, toHalfvec(vectors[k]))
	}
	return s.pool.SendBatch(ctx, batch).Close()
}
