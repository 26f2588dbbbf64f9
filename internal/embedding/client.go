package embedding

import (
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Client wraps the OpenAI client shared by the embedder and the generator.
type Client struct {
	client *openai.Client
}

// NewClient creates an OpenAI client. baseURL may be empty to use the
// public endpoint or point at any OpenAI-compatible server.
func NewClient(apiKey, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key not set")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &Client{client: &client}, nil
}

// Client returns the underlying OpenAI client for use in other packages (e.g., generation).
func (c *Client) Client() *openai.Client {
	return c.client
}
