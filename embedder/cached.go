package embedder

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// VectorStore persists sentence embeddings keyed by (model, TextKey(text)).
type VectorStore interface {
	GetVectors(ctx context.Context, model string, keys []string) (map[string][]float32, error)
	PutVectors(ctx context.Context, model string, vectors map[string][]float32) error
}

// TextKey is the cache key for a sentence.
func TextKey(text string) string {
	h := sha1.Sum([]byte(text))
	return hex.EncodeToString(h[:])
}

// Cached serves embeddings from a VectorStore and embeds only the misses.
// Repeated sentences (boilerplate clauses shared across documents) are
// embedded once per model.
type Cached struct {
	inner Embedder
	store VectorStore
}

var _ Embedder = (*Cached)(nil)

func NewCached(inner Embedder, store VectorStore) (*Cached, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	return &Cached{inner: inner, store: store}, nil
}

func (c *Cached) Model() string   { return c.inner.Model() }
func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

func (c *Cached) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

func (c *Cached) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model := c.inner.Model()

	keys := make([]string, len(texts))
	uniq := make([]string, 0, len(texts))
	seen := make(map[string]struct{}, len(texts))
	for i, t := range texts {
		k := TextKey(t)
		keys[i] = k
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, k)
	}

	hits, err := c.store.GetVectors(ctx, model, uniq)
	if err != nil {
		return nil, fmt.Errorf("load cached embeddings: %w", err)
	}
	if hits == nil {
		hits = map[string][]float32{}
	}

	var missTexts []string
	var missKeys []string
	for i, k := range keys {
		if _, ok := hits[k]; ok {
			continue
		}
		if _, ok := seen[k]; !ok {
			continue
		}
		// Only embed the first occurrence of each missing sentence.
		delete(seen, k)
		missTexts = append(missTexts, texts[i])
		missKeys = append(missKeys, k)
	}

	if len(missTexts) > 0 {
		vecs, err := c.inner.EmbedTexts(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(missTexts) {
			return nil, fmt.Errorf("expected %d embeddings, got %d", len(missTexts), len(vecs))
		}
		fresh := make(map[string][]float32, len(vecs))
		for i, v := range vecs {
			fresh[missKeys[i]] = v
			hits[missKeys[i]] = v
		}
		if err := c.store.PutVectors(ctx, model, fresh); err != nil {
			return nil, fmt.Errorf("store embeddings: %w", err)
		}
		// Serve misses as stored so cold and warm calls see the same values
		// when the store keeps reduced precision (e.g. halfvec).
		stored, err := c.store.GetVectors(ctx, model, missKeys)
		if err != nil {
			return nil, fmt.Errorf("reload stored embeddings: %w", err)
		}
		for k, v := range stored {
			hits[k] = v
		}
	}

	out := make([][]float32, len(texts))
	for i, k := range keys {
		out[i] = hits[k]
	}
	return out, nil
}
