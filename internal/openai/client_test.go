package openai

import (
	"context"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAPI mocks the OpenAI SDK surface
type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(openai.EmbeddingResponse), args.Error(1)
}

func (m *MockAPI) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(openai.ChatCompletionResponse), args.Error(1)
}

func newTestClient(api API) *Client {
	fast := retryPolicy{maxAttempts: 3, baseDelay: time.Millisecond, rateLimitDelay: time.Millisecond}
	return &Client{
		api:           api,
		apiKey:        "test-key",
		embedModel:    DefaultEmbeddingModel,
		chatModel:     DefaultChatModel,
		embedRetry:    fast,
		generateRetry: retryPolicy{maxAttempts: 2, baseDelay: time.Millisecond, rateLimitDelay: time.Millisecond},
		visionRetry:   retryPolicy{maxAttempts: 1},
	}
}

func TestEmbed_Success(t *testing.T) {
	api := new(MockAPI)
	client := newTestClient(api)

	api.On("CreateEmbeddings", mock.Anything, mock.Anything).Return(openai.EmbeddingResponse{
		Data: []openai.Embedding{{Embedding: []float32{0.1, 0.2}}},
	}, nil).Once()

	embedding, err := client.Embed(context.Background(), "what is pandas?")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, embedding)
	api.AssertExpectations(t)
}

func TestEmbed_NoAPIKey(t *testing.T) {
	client := NewClient("")
	_, err := client.Embed(context.Background(), "question")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestEmbed_EmptyText(t *testing.T) {
	client := newTestClient(new(MockAPI))
	_, err := client.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestEmbed_RetriesTransientThenSucceeds(t *testing.T) {
	api := new(MockAPI)
	client := newTestClient(api)

	api.On("CreateEmbeddings", mock.Anything, mock.Anything).
		Return(openai.EmbeddingResponse{}, errors.New("connection reset")).Twice()
	api.On("CreateEmbeddings", mock.Anything, mock.Anything).
		Return(openai.EmbeddingResponse{
			Data: []openai.Embedding{{Embedding: []float32{1}}},
		}, nil).Once()

	embedding, err := client.Embed(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, embedding)
	api.AssertNumberOfCalls(t, "CreateEmbeddings", 3)
}

func TestEmbed_RateLimitExhaustion(t *testing.T) {
	api := new(MockAPI)
	client := newTestClient(api)

	api.On("CreateEmbeddings", mock.Anything, mock.Anything).
		Return(openai.EmbeddingResponse{}, &openai.APIError{HTTPStatusCode: 429, Message: "quota exceeded"})

	_, err := client.Embed(context.Background(), "question")
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.True(t, IsRateLimited(err))
	api.AssertNumberOfCalls(t, "CreateEmbeddings", 3)
}

func TestEmbed_UpstreamError(t *testing.T) {
	api := new(MockAPI)
	client := newTestClient(api)

	api.On("CreateEmbeddings", mock.Anything, mock.Anything).
		Return(openai.EmbeddingResponse{}, &openai.APIError{HTTPStatusCode: 500, Message: "internal"})

	_, err := client.Embed(context.Background(), "question")
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, 500, upstream.Status)
	assert.False(t, IsRateLimited(err))
}

func TestEmbed_ContextCancelledStopsRetrying(t *testing.T) {
	api := new(MockAPI)
	client := newTestClient(api)

	ctx, cancel := context.WithCancel(context.Background())
	api.On("CreateEmbeddings", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { cancel() }).
		Return(openai.EmbeddingResponse{}, errors.New("connection reset"))

	_, err := client.Embed(ctx, "question")
	assert.ErrorIs(t, err, context.Canceled)
	api.AssertNumberOfCalls(t, "CreateEmbeddings", 1)
}

func TestGenerate_Success(t *testing.T) {
	api := new(MockAPI)
	client := newTestClient(api)

	api.On("CreateChatCompletion", mock.Anything, mock.MatchedBy(func(req openai.ChatCompletionRequest) bool {
		return req.Temperature == 0.5 && req.MaxTokens == 2048
	})).Return(openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "pandas is a library"}},
		},
	}, nil).Once()

	answer, err := client.Generate(context.Background(), "prompt", GenerateOptions{Temperature: 0.5, MaxTokens: 2048})
	require.NoError(t, err)
	assert.Equal(t, "pandas is a library", answer)
	api.AssertExpectations(t)
}

func TestGenerate_SmallerRetryBudgetThanEmbed(t *testing.T) {
	api := new(MockAPI)
	client := newTestClient(api)

	api.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(openai.ChatCompletionResponse{}, errors.New("timeout"))

	_, err := client.Generate(context.Background(), "prompt", GenerateOptions{})
	var transient *TransientError
	require.ErrorAs(t, err, &transient)
	api.AssertNumberOfCalls(t, "CreateChatCompletion", 2)
}

func TestGenerate_NoAPIKey(t *testing.T) {
	client := NewClient("")
	_, err := client.Generate(context.Background(), "prompt", GenerateOptions{})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestDescribeImage_SingleAttempt(t *testing.T) {
	api := new(MockAPI)
	client := newTestClient(api)

	api.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(openai.ChatCompletionResponse{}, &openai.APIError{HTTPStatusCode: 500, Message: "bad image"})

	_, err := client.DescribeImage(context.Background(), "aGVsbG8=", "what is this?")
	assert.Error(t, err)
	api.AssertNumberOfCalls(t, "CreateChatCompletion", 1)
}

func TestDescribeImage_BuildsDataURL(t *testing.T) {
	api := new(MockAPI)
	client := newTestClient(api)

	api.On("CreateChatCompletion", mock.Anything, mock.MatchedBy(func(req openai.ChatCompletionRequest) bool {
		if len(req.Messages) != 1 || len(req.Messages[0].MultiContent) != 2 {
			return false
		}
		img := req.Messages[0].MultiContent[1]
		return img.ImageURL != nil && img.ImageURL.URL == "data:image/jpeg;base64,aGVsbG8="
	})).Return(openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "a screenshot of a terminal"}},
		},
	}, nil).Once()

	description, err := client.DescribeImage(context.Background(), "aGVsbG8=", "what is this?")
	require.NoError(t, err)
	assert.Equal(t, "a screenshot of a terminal", description)
	api.AssertExpectations(t)
}

func TestIsRateLimited_QuotaMessage(t *testing.T) {
	assert.True(t, IsRateLimited(errors.New("You exceeded your current quota")))
	assert.False(t, IsRateLimited(errors.New("connection refused")))
	assert.False(t, IsRateLimited(nil))
}
