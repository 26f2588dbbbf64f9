package retrieval

import (
	"context"
	"errors"
	"fmt"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
)

// DefaultRerankModel handles Sinhala among other languages.
const DefaultRerankModel = "rerank-multilingual-v3.0"

type rerankFunc func(ctx context.Context, req *cohere.RerankRequest) (*cohere.RerankResponse, error)

// CohereReranker is a CrossEncoder backed by the Cohere rerank API.
type CohereReranker struct {
	rerank rerankFunc
	model  string
}

// NewCohereReranker creates a reranker. An empty model uses DefaultRerankModel.
func NewCohereReranker(apiKey, model string) (*CohereReranker, error) {
	if apiKey == "" {
		return nil, errors.New("cohere API key is required")
	}
	client := cohereclient.NewClient(cohereclient.WithToken(apiKey))
	return newCohereReranker(func(ctx context.Context, req *cohere.RerankRequest) (*cohere.RerankResponse, error) {
		return client.Rerank(ctx, req)
	}, model), nil
}

func newCohereReranker(fn rerankFunc, model string) *CohereReranker {
	if model == "" {
		model = DefaultRerankModel
	}
	return &CohereReranker{rerank: fn, model: model}
}

// Score returns one relevance score per document, in input order.
func (c *CohereReranker) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return []float64{}, nil
	}

	items := make([]*cohere.RerankRequestDocumentsItem, len(docs))
	for i, d := range docs {
		items[i] = &cohere.RerankRequestDocumentsItem{String: d}
	}
	topN := len(docs)

	resp, err := c.rerank(ctx, &cohere.RerankRequest{
		Query:     query,
		Documents: items,
		Model:     &c.model,
		TopN:      &topN,
	})
	if err != nil {
		return nil, fmt.Errorf("cohere rerank: %w", err)
	}
	if resp == nil || len(resp.Results) != len(docs) {
		return nil, fmt.Errorf("cohere rerank: incomplete response")
	}

	scores := make([]float64, len(docs))
	filled := make([]bool, len(docs))
	for _, r := range resp.Results {
		if r == nil || r.Index < 0 || r.Index >= len(docs) || filled[r.Index] {
			return nil, fmt.Errorf("cohere rerank: bad result index")
		}
		scores[r.Index] = r.RelevanceScore
		filled[r.Index] = true
	}
	return scores, nil
}
