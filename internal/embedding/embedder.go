package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"go.uber.org/zap"
)

const (
	// DefaultModel is the OpenAI model used when none is configured.
	DefaultModel = "text-embedding-3-small"

	// DefaultDimension is the vector dimension for text-embedding-3-small.
	DefaultDimension = 1536

	// DefaultBatchSize balances requests-per-minute vs tokens-per-minute rate limits.
	DefaultBatchSize = 256
)

// OpenAIEmbedder generates embeddings through the OpenAI embeddings API.
// It batches requests and retries with exponential backoff on rate limit
// and server errors.
type OpenAIEmbedder struct {
	client    *Client
	model     string
	dimension int
	batchSize int
	logger    *zap.Logger
}

// NewOpenAIEmbedder creates an embedder. Zero values for model, dimension
// and batchSize select the defaults.
func NewOpenAIEmbedder(client *Client, model string, dimension, batchSize int, logger *zap.Logger) *OpenAIEmbedder {
	if model == "" {
		model = DefaultModel
	}
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIEmbedder{
		client:    client,
		model:     model,
		dimension: dimension,
		batchSize: batchSize,
		logger:    logger,
	}
}

func (e *OpenAIEmbedder) ModelTag() string { return e.model }

func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

// Embed generates embeddings for the given texts in batches.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	all := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		batch := texts[i:end]

		embeddings, err := e.embedBatchWithRetry(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		if len(embeddings) != len(batch) {
			return nil, fmt.Errorf("batch %d-%d: got %d embeddings", i, end, len(embeddings))
		}
		if err := CheckDimension(embeddings, e.dimension); err != nil {
			return nil, err
		}
		all = append(all, embeddings...)
	}

	return all, nil
}

// embedBatchWithRetry embeds a single batch. HTTP 429 and 5xx responses are
// retried; other errors fail immediately.
func (e *OpenAIEmbedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	operation := func() error {
		resp, err := e.client.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model:      openai.EmbeddingModel(e.model),
			Dimensions: openai.Int(int64(e.dimension)),
		})
		if err != nil {
			if IsRetryable(err) {
				e.logger.Warn("embedding request failed, retrying", zap.Int("batch", len(texts)), zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}

		// API order is by input index
		embeddings = make([][]float32, len(resp.Data))
		for _, data := range resp.Data {
			if int(data.Index) >= len(embeddings) {
				return backoff.Permanent(fmt.Errorf("embedding index %d out of range", data.Index))
			}
			embeddings[data.Index] = Normalize(toFloat32(data.Embedding))
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(NewBackOff(), ctx))
	return embeddings, err
}

// NewBackOff returns the bounded exponential backoff used by every external
// adapter.
func NewBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// IsRetryable reports whether err is an OpenAI rate limit (HTTP 429) or
// server (5xx) error.
func IsRetryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

// toFloat32 converts []float64 to []float32.
// OpenAI API returns float64, but storage uses float32 for memory efficiency.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
