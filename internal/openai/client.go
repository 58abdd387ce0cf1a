// Package openai wraps the OpenAI SDK behind the three provider boundaries
// the answer pipeline needs: text embedding, answer generation, and image
// description. All calls are retried with bounded, rate-limit-aware backoff
// and surface typed failures for the orchestrator's fallback logic.
package openai

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is the model used for query and chunk embeddings.
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultChatModel is the model used for answer generation and vision.
	DefaultChatModel = openai.GPT4oMini

	visionMaxTokens = 500
)

// ErrEmptyText is returned when there is nothing to embed.
var ErrEmptyText = errors.New("text cannot be empty")

// API is the subset of the OpenAI SDK the client depends on.
type API interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config holds client construction options.
type Config struct {
	APIKey         string
	EmbeddingModel string
	ChatModel      string
}

// GenerateOptions controls a single generation call.
type GenerateOptions struct {
	Temperature float32
	MaxTokens   int
}

// Client is the provider boundary for embeddings, generation, and vision.
type Client struct {
	api        API
	apiKey     string
	embedModel openai.EmbeddingModel
	chatModel  string

	// Distinct retry budgets per call site: embeddings tolerate more
	// retries than generation, vision gets a single shot because its
	// caller falls back to a text-only query anyway.
	embedRetry    retryPolicy
	generateRetry retryPolicy
	visionRetry   retryPolicy
}

// NewClient creates a client with default models.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	embedModel := openai.EmbeddingModel(cfg.EmbeddingModel)
	if embedModel == "" {
		embedModel = DefaultEmbeddingModel
	}
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = DefaultChatModel
	}

	c := &Client{
		apiKey:        cfg.APIKey,
		embedModel:    embedModel,
		chatModel:     chatModel,
		embedRetry:    retryPolicy{maxAttempts: 3, baseDelay: 3 * time.Second, rateLimitDelay: 5 * time.Second},
		generateRetry: retryPolicy{maxAttempts: 2, baseDelay: 2 * time.Second, rateLimitDelay: 3 * time.Second},
		visionRetry:   retryPolicy{maxAttempts: 1},
	}
	if cfg.APIKey != "" {
		c.api = openai.NewClient(cfg.APIKey)
	}
	return c
}

// Embed converts text into its embedding vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if text == "" {
		return nil, ErrEmptyText
	}

	var embedding []float32
	err := c.embedRetry.do(ctx, func() error {
		resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: c.embedModel,
		})
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return errors.New("no embedding data returned")
		}
		embedding = resp.Data[0].Embedding
		return nil
	})
	if err != nil {
		return nil, err
	}
	return embedding, nil
}

// Generate produces text for the given prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoAPIKey
	}

	var answer string
	err := c.generateRetry.do(ctx, func() error {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.chatModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("no completion choices returned")
		}
		answer = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return answer, nil
}

// DescribeImage asks the vision model to describe a base64-encoded JPEG in
// relation to the question. Callers treat any failure as absorbable and
// fall back to the text-only query path.
func (c *Client) DescribeImage(ctx context.Context, imageB64, question string) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoAPIKey
	}

	var description string
	err := c.visionRetry.do(ctx, func() error {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.chatModel,
			Messages: []openai.ChatCompletionMessage{
				{
					Role: openai.ChatMessageRoleUser,
					MultiContent: []openai.ChatMessagePart{
						{
							Type: openai.ChatMessagePartTypeText,
							Text: "Analyze this image and describe what you see in relation to this question: " + question,
						},
						{
							Type: openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{
								URL: "data:image/jpeg;base64," + imageB64,
							},
						},
					},
				},
			},
			MaxTokens: visionMaxTokens,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("no vision choices returned")
		}
		description = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return description, nil
}
