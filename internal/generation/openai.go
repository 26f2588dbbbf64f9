package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/bull/sinhala-tutor-rag/internal/embedding"
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 1024
)

// ErrEmptyReply is returned when the model answers with no text.
var ErrEmptyReply = errors.New("empty reply from model")

var newBackOff = func() backoff.BackOff { return embedding.NewBackOff() }

// OpenAIGenerator calls the chat completions API once per envelope.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

// NewOpenAIGenerator creates a generator. Zero values select the defaults.
func NewOpenAIGenerator(client *embedding.Client, model string, temperature float64, maxTokens int, logger *zap.Logger) *OpenAIGenerator {
	if model == "" {
		model = DefaultModel
	}
	if temperature < 0 {
		temperature = DefaultTemperature
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIGenerator{
		client:      client.Client(),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger,
	}
}

// Generate sends the envelope. Only requests the API rejected before
// producing a reply (rate limits, gateway errors) are retried, so a single
// reply is ever generated per call.
func (g *OpenAIGenerator) Generate(ctx context.Context, env Envelope) (*Generation, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(env.System),
			openai.UserMessage(env.UserMessage()),
		},
		Model:       openai.ChatModel(g.model),
		Temperature: openai.Float(g.temperature),
		MaxTokens:   openai.Int(int64(g.maxTokens)),
	}

	var resp *openai.ChatCompletion
	operation := func() error {
		var err error
		resp, err = g.client.Chat.Completions.New(ctx, params, option.WithMaxRetries(0))
		if err == nil {
			return nil
		}
		if rejectedBeforeReply(err) {
			g.logger.Warn("chat completion rejected, retrying", zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(operation, backoff.WithContext(newBackOff(), ctx)); err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyReply
	}

	return &Generation{
		Text:             strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:            resp.Model,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func rejectedBeforeReply(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 502, 503, 504:
			return true
		}
	}
	return false
}
