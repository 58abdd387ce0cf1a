package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/studyloop/courseta/internal/cache"
)

// MockEmbeddingClient mocks the embedding provider
type MockEmbeddingClient struct {
	mock.Mock
}

func (m *MockEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockVisionClient mocks the image description provider
type MockVisionClient struct {
	mock.Mock
}

func (m *MockVisionClient) DescribeImage(ctx context.Context, imageB64, question string) (string, error) {
	args := m.Called(ctx, imageB64, question)
	return args.String(0), args.Error(1)
}

func TestEmbedQuery_TextOnly(t *testing.T) {
	client := new(MockEmbeddingClient)
	embedder := NewQueryEmbedder(client, nil, cache.NewEmbeddingCache(10))

	client.On("Embed", mock.Anything, "What is pandas?").Return([]float32{0.1, 0.2}, nil)

	vec, err := embedder.EmbedQuery(context.Background(), "What is pandas?", "")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
	client.AssertExpectations(t)
}

func TestEmbedQuery_FoldsImageDescriptionIntoQuery(t *testing.T) {
	client := new(MockEmbeddingClient)
	vision := new(MockVisionClient)
	embedder := NewQueryEmbedder(client, vision, cache.NewEmbeddingCache(10))

	vision.On("DescribeImage", mock.Anything, "aW1hZ2U=", "What does this chart show?").
		Return("A bar chart of model token costs.", nil)
	client.On("Embed", mock.Anything, "What does this chart show?\nImage context: A bar chart of model token costs.").
		Return([]float32{0.5}, nil)

	vec, err := embedder.EmbedQuery(context.Background(), "What does this chart show?", "aW1hZ2U=")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, vec)
	vision.AssertExpectations(t)
	client.AssertExpectations(t)
}

func TestEmbedQuery_VisionFailureFallsBackToTextOnly(t *testing.T) {
	client := new(MockEmbeddingClient)
	vision := new(MockVisionClient)
	embedder := NewQueryEmbedder(client, vision, cache.NewEmbeddingCache(10))

	vision.On("DescribeImage", mock.Anything, "aW1hZ2U=", "What is this?").
		Return("", errors.New("vision model unavailable"))
	client.On("Embed", mock.Anything, "What is this?").Return([]float32{0.3}, nil)

	vec, err := embedder.EmbedQuery(context.Background(), "What is this?", "aW1hZ2U=")
	require.NoError(t, err, "image failure must not fail the query")
	assert.Equal(t, []float32{0.3}, vec)
}

func TestEmbedQuery_RepeatedQuestionHitsCache(t *testing.T) {
	client := new(MockEmbeddingClient)
	embedder := NewQueryEmbedder(client, nil, cache.NewEmbeddingCache(10))

	client.On("Embed", mock.Anything, "What is pandas?").Return([]float32{0.1}, nil).Once()

	for i := 0; i < 3; i++ {
		vec, err := embedder.EmbedQuery(context.Background(), "What is pandas?", "")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.1}, vec)
	}
	client.AssertExpectations(t)
}

func TestEmbedQuery_EmbedFailurePropagates(t *testing.T) {
	client := new(MockEmbeddingClient)
	embedder := NewQueryEmbedder(client, nil, cache.NewEmbeddingCache(10))

	client.On("Embed", mock.Anything, "unlucky").Return(nil, errors.New("boom"))

	_, err := embedder.EmbedQuery(context.Background(), "unlucky", "")
	assert.Error(t, err)
}
