package embedder

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/doujins-org/summarykit/internal/normalize"
)

type OpenAICompatibleConfig struct {
	BaseURL    string
	APIKey     string
	Model      string // canonical model name used by the host app
	Dimensions int    // optional; 0 means provider default
	Timeout    time.Duration
	Provider   string // advisory (deepinfra|dashscope|modelscope|...)
	MaxBatch   int    // inputs per request; 0 means 64
}

type OpenAICompatibleEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	provider   string
	maxBatch   int
}

func NewOpenAICompatible(cfg OpenAICompatibleConfig) (*OpenAICompatibleEmbedder, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	openaiCfg := openai.DefaultConfig(cfg.APIKey)
	openaiCfg.BaseURL = cfg.BaseURL
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	openaiCfg.HTTPClient = &http.Client{Timeout: timeout}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 64
	}
	return &OpenAICompatibleEmbedder{
		client:     openai.NewClientWithConfig(openaiCfg),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		provider:   cfg.Provider,
		maxBatch:   maxBatch,
	}, nil
}

func (e *OpenAICompatibleEmbedder) Model() string { return e.model }
func (e *OpenAICompatibleEmbedder) Dimensions() int {
	return e.dimensions
}

// providerModels maps canonical model names to provider-specific ids.
var providerModels = map[string]map[string]string{
	"qwen-3-embedding-4b": {
		"deepinfra": "Qwen/Qwen3-Embedding-4B",
		"dashscope": "text-embedding-v4",
	},
	"bge-m3": {
		"deepinfra": "BAAI/bge-m3",
	},
}

// mapCanonicalModel maps a canonical model name to a provider-specific model id.
func (e *OpenAICompatibleEmbedder) mapCanonicalModel(canonical string) string {
	hint := strings.ToLower(strings.TrimSpace(e.provider))
	name := strings.ToLower(strings.TrimSpace(canonical))
	if byProvider, ok := providerModels[name]; ok {
		if id, ok := byProvider[hint]; ok {
			return id
		}
	}
	return canonical
}

func (e *OpenAICompatibleEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// EmbedTexts embeds texts in provider batches of at most maxBatch inputs.
// Output order matches input order.
func (e *OpenAICompatibleEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.maxBatch {
		end := start + e.maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OpenAICompatibleEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.mapCanonicalModel(e.model)),
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// Providers may return rows out of order; Index is authoritative.
	sort.SliceStable(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	out := make([][]float32, len(resp.Data))
	for i, row := range resp.Data {
		vec := make([]float32, len(row.Embedding))
		for j, v := range row.Embedding {
			vec[j] = float32(v)
		}
		normalize.L2NormalizeInPlace(vec)
		out[i] = vec
	}
	return out, nil
}
