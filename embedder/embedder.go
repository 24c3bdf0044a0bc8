package embedder

import "context"

// Embedder generates sentence embeddings used for embedding-based redundancy
// scoring.
type Embedder interface {
	Model() string
	Dimensions() int
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
