package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doujins-org/summarykit"
	"github.com/doujins-org/summarykit/selection"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	req := cfg.Request(summarykit.StrategyMMR)
	assert.Equal(t, selection.DefaultMMROptions().MaxFraction, req.MMR.MaxFraction)
	assert.Equal(t, 0.7, req.MMR.Lambda)
	assert.Equal(t, 5, req.MMR.MinWords)
	assert.Equal(t, selection.OrderSelected, req.MMR.Order)
	assert.Equal(t, summarykit.DefaultGreedyBudget, req.Greedy.Budget)
	assert.Equal(t, summarykit.SimilarityBagOfWords, req.Similarity)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "summarykit.yaml", `
log:
  level: debug
postgres:
  schema: app
summary:
  strategy: greedy
  greedy_budget: 500
  lambda: 0.5
  order: document
worker:
  poll_every: 5s
  max_concurrent: 3
`)
	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "app", cfg.Postgres.Schema)
	assert.Equal(t, "greedy", cfg.Summary.Strategy)
	assert.Equal(t, 500, cfg.Summary.GreedyBudget)
	assert.Equal(t, 0.5, cfg.Summary.Lambda)
	assert.Equal(t, 5, cfg.Summary.MinWords)
	assert.Equal(t, 5*time.Second, cfg.Worker.PollEvery)
	assert.Equal(t, 3, cfg.Worker.MaxConcurrent)
	assert.Equal(t, selection.OrderDocument, cfg.Request(summarykit.StrategyMMR).MMR.Order)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "bad.yaml", "summary:\n  lamda: 0.5\n")
	_, err := Load(path, "")
	require.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("SUMMARYKIT_MIN_WORDS", "")
	os.Unsetenv("SUMMARYKIT_MIN_WORDS")
	env := writeFile(t, ".env", "SUMMARYKIT_MIN_WORDS=8\n")

	cfg, err := Load("", env)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Summary.MinWords)
}

func TestLoadMissingEnvFileIgnored(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Defaults()
	err := cfg.ApplyEnv(mapLookup(map[string]string{
		"SUMMARYKIT_DATABASE_URL":       "postgres://localhost/app",
		"SUMMARYKIT_LAMBDA":             "0.9",
		"SUMMARYKIT_WORKER_BACKOFF_MAX": "2m",
		"SUMMARYKIT_EMBEDDER_CACHE":     "true",
		"SUMMARYKIT_FOLD_VOCABULARY":    "1",
	}))
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/app", cfg.Postgres.DSN)
	assert.Equal(t, 0.9, cfg.Summary.Lambda)
	assert.Equal(t, 2*time.Minute, cfg.Worker.BackoffMax)
	assert.True(t, cfg.Embedder.Cache)
	assert.True(t, cfg.Summary.FoldVocabulary)
}

func TestApplyEnvCollectsErrors(t *testing.T) {
	cfg := Defaults()
	err := cfg.ApplyEnv(mapLookup(map[string]string{
		"SUMMARYKIT_MIN_WORDS": "five",
		"SUMMARYKIT_LAMBDA":    "high",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SUMMARYKIT_MIN_WORDS")
	assert.Contains(t, err.Error(), "SUMMARYKIT_LAMBDA")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"strategy", func(c *Config) { c.Summary.Strategy = "lexrank" }},
		{"similarity", func(c *Config) { c.Summary.Similarity = "jaccard" }},
		{"order", func(c *Config) { c.Summary.Order = "random" }},
		{"lambda", func(c *Config) { c.Summary.Lambda = 1.5 }},
		{"min words", func(c *Config) { c.Summary.MinWords = -1 }},
		{"embedding without embedder", func(c *Config) { c.Summary.Similarity = "embedding" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), selection.ErrInvalidArgument)
		})
	}
}
