package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doujins-org/summarykit"
	"github.com/doujins-org/summarykit/runtime"
	"github.com/doujins-org/summarykit/selection"
)

const (
	documentsTable = "documents"
	sentencesTable = "sentences"
	summariesTable = "summaries"
)

// PostgresStorage is a reference implementation of runtime.Storage backed by
// summarykit-owned tables in the host application's schema.
//
// Tables:
//   - <schema>.documents
//   - <schema>.sentences
//   - <schema>.summaries
type PostgresStorage struct {
	pool   *pgxpool.Pool
	schema string
}

var _ runtime.Storage = (*PostgresStorage)(nil)

func NewPostgresStorage(pool *pgxpool.Pool, schema string) *PostgresStorage {
	return &PostgresStorage{pool: pool, schema: schema}
}

func (s *PostgresStorage) quotedSchema() (string, error) {
	if s.pool == nil {
		return "", fmt.Errorf("pool is required")
	}
	if strings.TrimSpace(s.schema) == "" {
		return "", fmt.Errorf("schema is required")
	}
	qs, err := quoteIdent(s.schema)
	if err != nil {
		return "", fmt.Errorf("invalid schema: %w", err)
	}
	return qs, nil
}

// UpsertDocument replaces a document's sentences and scores. source is an
// advisory tag for the upstream cleaner (e.g. "us", "ca").
func (s *PostgresStorage) UpsertDocument(ctx context.Context, doc summarykit.Document, source string) error {
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("%w: document id is required", selection.ErrInvalidArgument)
	}
	if len(doc.Sentences) != len(doc.Scores) {
		return fmt.Errorf("%w: document %q has %d sentences but %d scores", selection.ErrInvalidArgument, doc.ID, len(doc.Sentences), len(doc.Scores))
	}
	qs, err := s.quotedSchema()
	if err != nil {
		return err
	}

	idx := make([]int32, len(doc.Sentences))
	for i := range idx {
		idx[i] = int32(i)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q1 := fmt.Sprintf(`
		INSERT INTO %s.%s (doc_id, source, doc_chars, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (doc_id) DO UPDATE SET
			source = EXCLUDED.source,
			doc_chars = EXCLUDED.doc_chars,
			updated_at = now()
	`, qs, documentsTable)
	if _, err := tx.Exec(ctx, q1, doc.ID, source, doc.Chars); err != nil {
		return err
	}

	q2 := fmt.Sprintf(`DELETE FROM %s.%s WHERE doc_id = $1`, qs, sentencesTable)
	if _, err := tx.Exec(ctx, q2, doc.ID); err != nil {
		return err
	}

	if len(doc.Sentences) > 0 {
		q3 := fmt.Sprintf(`
			INSERT INTO %s.%s (doc_id, idx, text, score)
			SELECT $1, rows.idx, rows.text, rows.score
			FROM unnest($2::int[], $3::text[], $4::float8[]) AS rows(idx, text, score)
		`, qs, sentencesTable)
		if _, err := tx.Exec(ctx, q3, doc.ID, idx, doc.Sentences, doc.Scores); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// LoadDocument returns the document's sentences in index order.
func (s *PostgresStorage) LoadDocument(ctx context.Context, docID string) (summarykit.Document, error) {
	if strings.TrimSpace(docID) == "" {
		return summarykit.Document{}, fmt.Errorf("%w: document id is required", selection.ErrInvalidArgument)
	}
	qs, err := s.quotedSchema()
	if err != nil {
		return summarykit.Document{}, err
	}

	doc := summarykit.Document{ID: docID}
	q1 := fmt.Sprintf(`SELECT doc_chars FROM %s.%s WHERE doc_id = $1`, qs, documentsTable)
	if err := s.pool.QueryRow(ctx, q1, docID).Scan(&doc.Chars); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return summarykit.Document{}, fmt.Errorf("%w: %s", runtime.ErrDocumentNotFound, docID)
		}
		return summarykit.Document{}, err
	}

	q2 := fmt.Sprintf(`
		SELECT text, score
		FROM %s.%s
		WHERE doc_id = $1
		ORDER BY idx ASC
	`, qs, sentencesTable)
	rows, err := s.pool.Query(ctx, q2, docID)
	if err != nil {
		return summarykit.Document{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var text string
		var score float64
		if err := rows.Scan(&text, &score); err != nil {
			return summarykit.Document{}, err
		}
		doc.Sentences = append(doc.Sentences, text)
		doc.Scores = append(doc.Scores, score)
	}
	return doc, rows.Err()
}

func (s *PostgresStorage) UpsertSummary(ctx context.Context, sum summarykit.Summary) error {
	if strings.TrimSpace(sum.DocumentID) == "" {
		return fmt.Errorf("%w: document id is required", selection.ErrInvalidArgument)
	}
	if strings.TrimSpace(string(sum.Strategy)) == "" {
		return fmt.Errorf("%w: strategy is required", selection.ErrInvalidArgument)
	}
	qs, err := s.quotedSchema()
	if err != nil {
		return err
	}

	idx := make([]int32, len(sum.Units))
	for i, u := range sum.Units {
		idx[i] = int32(u.Index)
	}

	q := fmt.Sprintf(`
		INSERT INTO %s.%s (doc_id, strategy, sentence_idx, summary, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (doc_id, strategy) DO UPDATE SET
			sentence_idx = EXCLUDED.sentence_idx,
			summary = EXCLUDED.summary,
			updated_at = now()
	`, qs, summariesTable)
	_, err = s.pool.Exec(ctx, q, sum.DocumentID, string(sum.Strategy), idx, sum.Text)
	return err
}

// DeleteDocument removes a document; sentences and summaries cascade.
func (s *PostgresStorage) DeleteDocument(ctx context.Context, docID string) error {
	if strings.TrimSpace(docID) == "" {
		return fmt.Errorf("%w: document id is required", selection.ErrInvalidArgument)
	}
	qs, err := s.quotedSchema()
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`DELETE FROM %s.%s WHERE doc_id = $1`, qs, documentsTable)
	_, err = s.pool.Exec(ctx, q, docID)
	return err
}
