// Package config loads the service configuration from defaults, an optional
// YAML file and TUTOR_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the tutor pipeline.
type Config struct {
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Chunker   ChunkerConfig   `mapstructure:"chunker"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Intent    IntentConfig    `mapstructure:"intent"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cohere    CohereConfig    `mapstructure:"cohere"`
	Google    GoogleConfig    `mapstructure:"google"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Timeouts  TimeoutConfig   `mapstructure:"timeouts"`
}

// RetrievalConfig sizes the hybrid retrieval stages.
type RetrievalConfig struct {
	TopDocK       int    `mapstructure:"top_doc_k"`
	BM25K         int    `mapstructure:"bm25_k"`
	FinalK        int    `mapstructure:"final_k"`
	CandidatePool int    `mapstructure:"candidate_pool"`
	RerankerModel string `mapstructure:"reranker_model"`

	// Intent profiles.
	SummaryFinalK   int `mapstructure:"summary_final_k"`
	GenerateTopDocK int `mapstructure:"generate_top_doc_k"`
	GenerateFinalK  int `mapstructure:"generate_final_k"`
	MaxContextChars int `mapstructure:"max_context_chars"`
}

type ChunkerConfig struct {
	MaxTokens       int  `mapstructure:"max_tokens"`
	OverlapTokens   int  `mapstructure:"overlap_tokens"`
	PseudoQuestions bool `mapstructure:"pseudo_questions"`
}

// SafetyConfig holds the grounding audit thresholds.
type SafetyConfig struct {
	HighThreshold      int `mapstructure:"high_threshold"`
	MediumThreshold    int `mapstructure:"medium"`
	LowThreshold       int `mapstructure:"low"`
	PenaltyDenominator int `mapstructure:"penalty_denominator"`
	FlagWeight         int `mapstructure:"flag_weight"`
}

type EmbeddingConfig struct {
	// Provider is "openai" or "hashing".
	Provider  string        `mapstructure:"provider"`
	ModelTag  string        `mapstructure:"model_tag"`
	Dimension int           `mapstructure:"dimension"`
	BatchSize int           `mapstructure:"batch_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	// DocumentPrefixChars bounds the text embedded as the document vector;
	// 0 embeds the full cleaned text.
	DocumentPrefixChars int `mapstructure:"document_prefix_chars"`
}

type IntentConfig struct {
	SemanticThreshold float64 `mapstructure:"semantic_threshold"`
}

type LLMConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

type QdrantConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	APIKey           string `mapstructure:"api_key"`
	UseTLS           bool   `mapstructure:"use_tls"`
	CollectionPrefix string `mapstructure:"collection_prefix"`
}

type DatabaseConfig struct {
	// Driver is "postgres", "sqlite" or "memory".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CohereConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// GoogleConfig enables Cloud Vision OCR and Speech-to-Text.
type GoogleConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	CredentialsFile string `mapstructure:"credentials_file"`
	SpeechLanguage  string `mapstructure:"speech_language"`
}

type GitHubConfig struct {
	Token string `mapstructure:"token"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
	// Mode is "http" or "stdio".
	Mode string `mapstructure:"mode"`
}

type LogConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// TimeoutConfig holds per-stage deadlines of external calls.
type TimeoutConfig struct {
	Embed   time.Duration `mapstructure:"embed"`
	Vector  time.Duration `mapstructure:"vector"`
	LLM     time.Duration `mapstructure:"llm"`
	Rerank  time.Duration `mapstructure:"rerank"`
	Extract time.Duration `mapstructure:"extract"`
}

// Default returns the enumerated defaults.
func Default() Config {
	return Config{
		Retrieval: RetrievalConfig{
			TopDocK:         5,
			BM25K:           10,
			FinalK:          8,
			CandidatePool:   100,
			SummaryFinalK:   12,
			GenerateTopDocK: 8,
			GenerateFinalK:  12,
			MaxContextChars: 6000,
		},
		Chunker: ChunkerConfig{MaxTokens: 300, OverlapTokens: 30, PseudoQuestions: true},
		Safety: SafetyConfig{
			HighThreshold:      20,
			MediumThreshold:    10,
			LowThreshold:       5,
			PenaltyDenominator: 50,
			FlagWeight:         2,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			ModelTag:  "text-embedding-3-small",
			Dimension: 1536,
			BatchSize: 256,
			CacheTTL:  24 * time.Hour,
		},
		Intent:   IntentConfig{SemanticThreshold: 0.65},
		LLM:      LLMConfig{Model: "gpt-4o-mini", Temperature: 0.2, MaxTokens: 1024},
		Qdrant:   QdrantConfig{Host: "localhost", Port: 6334, CollectionPrefix: "tutor"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "tutor.db"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Google:   GoogleConfig{SpeechLanguage: "si-LK"},
		Server:   ServerConfig{Port: 8080, Mode: "http"},
		Log:      LogConfig{Mode: "production", Level: "info"},
		Timeouts: TimeoutConfig{
			Embed:   20 * time.Second,
			Vector:  5 * time.Second,
			LLM:     60 * time.Second,
			Rerank:  5 * time.Second,
			Extract: 2 * time.Minute,
		},
	}
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("retrieval.top_doc_k", d.Retrieval.TopDocK)
	v.SetDefault("retrieval.bm25_k", d.Retrieval.BM25K)
	v.SetDefault("retrieval.final_k", d.Retrieval.FinalK)
	v.SetDefault("retrieval.candidate_pool", d.Retrieval.CandidatePool)
	v.SetDefault("retrieval.reranker_model", d.Retrieval.RerankerModel)
	v.SetDefault("retrieval.summary_final_k", d.Retrieval.SummaryFinalK)
	v.SetDefault("retrieval.generate_top_doc_k", d.Retrieval.GenerateTopDocK)
	v.SetDefault("retrieval.generate_final_k", d.Retrieval.GenerateFinalK)
	v.SetDefault("retrieval.max_context_chars", d.Retrieval.MaxContextChars)

	v.SetDefault("chunker.max_tokens", d.Chunker.MaxTokens)
	v.SetDefault("chunker.overlap_tokens", d.Chunker.OverlapTokens)
	v.SetDefault("chunker.pseudo_questions", d.Chunker.PseudoQuestions)

	v.SetDefault("safety.high_threshold", d.Safety.HighThreshold)
	v.SetDefault("safety.medium", d.Safety.MediumThreshold)
	v.SetDefault("safety.low", d.Safety.LowThreshold)
	v.SetDefault("safety.penalty_denominator", d.Safety.PenaltyDenominator)
	v.SetDefault("safety.flag_weight", d.Safety.FlagWeight)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.model_tag", d.Embedding.ModelTag)
	v.SetDefault("embedding.dimension", d.Embedding.Dimension)
	v.SetDefault("embedding.batch_size", d.Embedding.BatchSize)
	v.SetDefault("embedding.cache_ttl", d.Embedding.CacheTTL)
	v.SetDefault("embedding.document_prefix_chars", d.Embedding.DocumentPrefixChars)

	v.SetDefault("intent.semantic_threshold", d.Intent.SemanticThreshold)

	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)

	v.SetDefault("qdrant.enabled", d.Qdrant.Enabled)
	v.SetDefault("qdrant.host", d.Qdrant.Host)
	v.SetDefault("qdrant.port", d.Qdrant.Port)
	v.SetDefault("qdrant.api_key", d.Qdrant.APIKey)
	v.SetDefault("qdrant.use_tls", d.Qdrant.UseTLS)
	v.SetDefault("qdrant.collection_prefix", d.Qdrant.CollectionPrefix)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("cohere.api_key", d.Cohere.APIKey)

	v.SetDefault("google.enabled", d.Google.Enabled)
	v.SetDefault("google.credentials_file", d.Google.CredentialsFile)
	v.SetDefault("google.speech_language", d.Google.SpeechLanguage)

	v.SetDefault("github.token", d.GitHub.Token)

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)

	v.SetDefault("log.mode", d.Log.Mode)
	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("timeouts.embed", d.Timeouts.Embed)
	v.SetDefault("timeouts.vector", d.Timeouts.Vector)
	v.SetDefault("timeouts.llm", d.Timeouts.LLM)
	v.SetDefault("timeouts.rerank", d.Timeouts.Rerank)
	v.SetDefault("timeouts.extract", d.Timeouts.Extract)
}

// Load overlays the YAML file at path (optional) and TUTOR_* environment
// variables on the defaults and validates the result. Well-known vendor
// variables (OPENAI_API_KEY, COHERE_API_KEY, GITHUB_TOKEN) fill empty keys.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("TUTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm.api_key", "TUTOR_LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("cohere.api_key", "TUTOR_COHERE_API_KEY", "COHERE_API_KEY")
	_ = v.BindEnv("github.token", "TUTOR_GITHUB_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("qdrant.api_key", "TUTOR_QDRANT_API_KEY", "QDRANT_API_KEY")
	_ = v.BindEnv("google.credentials_file", "TUTOR_GOOGLE_CREDENTIALS_FILE", "GOOGLE_APPLICATION_CREDENTIALS")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and orderings.
func (c Config) Validate() error {
	var errs []error
	positive := map[string]int{
		"retrieval.top_doc_k":             c.Retrieval.TopDocK,
		"retrieval.bm25_k":                c.Retrieval.BM25K,
		"retrieval.final_k":               c.Retrieval.FinalK,
		"retrieval.candidate_pool":        c.Retrieval.CandidatePool,
		"retrieval.summary_final_k":       c.Retrieval.SummaryFinalK,
		"retrieval.generate_top_doc_k":    c.Retrieval.GenerateTopDocK,
		"retrieval.generate_final_k":      c.Retrieval.GenerateFinalK,
		"retrieval.max_context_chars":     c.Retrieval.MaxContextChars,
		"chunker.max_tokens":              c.Chunker.MaxTokens,
		"safety.low":                      c.Safety.LowThreshold,
		"safety.penalty_denominator":      c.Safety.PenaltyDenominator,
		"embedding.dimension":             c.Embedding.Dimension,
	}
	for _, key := range slices.Sorted(maps.Keys(positive)) {
		if val := positive[key]; val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %d", key, val))
		}
	}
	if c.Chunker.OverlapTokens < 0 || c.Chunker.OverlapTokens >= c.Chunker.MaxTokens {
		errs = append(errs, fmt.Errorf("chunker.overlap_tokens must be in [0, max_tokens), got %d", c.Chunker.OverlapTokens))
	}
	if c.Safety.HighThreshold < c.Safety.MediumThreshold || c.Safety.MediumThreshold < c.Safety.LowThreshold {
		errs = append(errs, fmt.Errorf("safety thresholds must satisfy high >= medium >= low, got %d/%d/%d",
			c.Safety.HighThreshold, c.Safety.MediumThreshold, c.Safety.LowThreshold))
	}
	if c.Embedding.DocumentPrefixChars < 0 {
		errs = append(errs, fmt.Errorf("embedding.document_prefix_chars must be >= 0, got %d", c.Embedding.DocumentPrefixChars))
	}
	if c.Safety.FlagWeight < 0 {
		errs = append(errs, fmt.Errorf("safety.flag_weight must be >= 0"))
	}
	if c.Retrieval.CandidatePool < c.Retrieval.FinalK {
		errs = append(errs, fmt.Errorf("retrieval.candidate_pool must be >= final_k"))
	}
	if t := c.Intent.SemanticThreshold; t < -1 || t > 1 {
		errs = append(errs, fmt.Errorf("intent.semantic_threshold must be in [-1, 1], got %v", t))
	}
	switch c.Embedding.Provider {
	case "openai", "hashing":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider must be openai or hashing, got %q", c.Embedding.Provider))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres, sqlite or memory, got %q", c.Database.Driver))
	}
	switch c.Server.Mode {
	case "http", "stdio":
	default:
		errs = append(errs, fmt.Errorf("server.mode must be http or stdio, got %q", c.Server.Mode))
	}
	return errors.Join(errs...)
}
