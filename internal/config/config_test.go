package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_EnumeratedValues(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Retrieval.TopDocK)
	assert.Equal(t, 10, cfg.Retrieval.BM25K)
	assert.Equal(t, 8, cfg.Retrieval.FinalK)
	assert.Equal(t, 100, cfg.Retrieval.CandidatePool)
	assert.Empty(t, cfg.Retrieval.RerankerModel)
	assert.Equal(t, 300, cfg.Chunker.MaxTokens)
	assert.Equal(t, 30, cfg.Chunker.OverlapTokens)
	assert.Equal(t, 20, cfg.Safety.HighThreshold)
	assert.Equal(t, 10, cfg.Safety.MediumThreshold)
	assert.Equal(t, 5, cfg.Safety.LowThreshold)
	assert.Equal(t, 50, cfg.Safety.PenaltyDenominator)
	assert.Equal(t, 2, cfg.Safety.FlagWeight)
	assert.Equal(t, 0.65, cfg.Intent.SemanticThreshold)
	assert.Zero(t, cfg.Embedding.DocumentPrefixChars, "document vectors cover the full text by default")
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Retrieval, cfg.Retrieval)
	assert.Equal(t, Default().Safety, cfg.Safety)
	assert.Equal(t, 20*time.Second, cfg.Timeouts.Embed)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tutor.yaml")
	yaml := `
retrieval:
  final_k: 4
  reranker_model: rerank-multilingual-v3.0
chunker:
  pseudo_questions: false
embedding:
  provider: hashing
  dimension: 64
timeouts:
  llm: 90s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("TUTOR_RETRIEVAL_TOP_DOC_K", "3")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Retrieval.FinalK)
	assert.Equal(t, 3, cfg.Retrieval.TopDocK)
	assert.Equal(t, 10, cfg.Retrieval.BM25K)
	assert.Equal(t, "rerank-multilingual-v3.0", cfg.Retrieval.RerankerModel)
	assert.False(t, cfg.Chunker.PseudoQuestions)
	assert.Equal(t, "hashing", cfg.Embedding.Provider)
	assert.Equal(t, 64, cfg.Embedding.Dimension)
	assert.Equal(t, 90*time.Second, cfg.Timeouts.LLM)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero final_k", func(c *Config) { c.Retrieval.FinalK = 0 }},
		{"unordered thresholds", func(c *Config) { c.Safety.MediumThreshold = 30 }},
		{"zero denominator", func(c *Config) { c.Safety.PenaltyDenominator = 0 }},
		{"overlap too large", func(c *Config) { c.Chunker.OverlapTokens = 300 }},
		{"pool below final_k", func(c *Config) { c.Retrieval.CandidatePool = 2 }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "bert" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"threshold out of range", func(c *Config) { c.Intent.SemanticThreshold = 2 }},
		{"negative document prefix", func(c *Config) { c.Embedding.DocumentPrefixChars = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
