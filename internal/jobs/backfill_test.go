package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/studyloop/courseta/internal/domain"
)

// MockChunkLister mocks the chunk store
type MockChunkLister struct {
	mock.Mock
}

func (m *MockChunkLister) ListMissingEmbeddings(ctx context.Context, kind domain.SourceKind, limit int) ([]domain.Chunk, error) {
	args := m.Called(ctx, kind, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Chunk), args.Error(1)
}

func (m *MockChunkLister) UpdateEmbedding(ctx context.Context, kind domain.SourceKind, id int64, embedding []float32) error {
	args := m.Called(ctx, kind, id, embedding)
	return args.Error(0)
}

// MockEmbeddingProvider mocks the embedding provider
type MockEmbeddingProvider struct {
	mock.Mock
}

func (m *MockEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func missingChunk(kind domain.SourceKind, id int64, content string) domain.Chunk {
	return domain.Chunk{ID: id, Source: kind, Content: content}
}

func TestRunOnce_EmbedsAllMissingChunks(t *testing.T) {
	store := new(MockChunkLister)
	provider := new(MockEmbeddingProvider)
	worker := NewBackfillWorker(store, provider, 10, 0)

	store.On("ListMissingEmbeddings", mock.Anything, domain.SourceDiscourse, 0).Return([]domain.Chunk{
		missingChunk(domain.SourceDiscourse, 1, "post one"),
		missingChunk(domain.SourceDiscourse, 2, "post two"),
	}, nil)
	store.On("ListMissingEmbeddings", mock.Anything, domain.SourceMarkdown, 0).Return([]domain.Chunk{
		missingChunk(domain.SourceMarkdown, 7, "doc section"),
	}, nil)

	provider.On("Embed", mock.Anything, "post one").Return([]float32{0.1}, nil)
	provider.On("Embed", mock.Anything, "post two").Return([]float32{0.2}, nil)
	provider.On("Embed", mock.Anything, "doc section").Return([]float32{0.3}, nil)

	store.On("UpdateEmbedding", mock.Anything, domain.SourceDiscourse, int64(1), []float32{0.1}).Return(nil)
	store.On("UpdateEmbedding", mock.Anything, domain.SourceDiscourse, int64(2), []float32{0.2}).Return(nil)
	store.On("UpdateEmbedding", mock.Anything, domain.SourceMarkdown, int64(7), []float32{0.3}).Return(nil)

	err := worker.RunOnce(context.Background())
	require.NoError(t, err)
	store.AssertExpectations(t)
	provider.AssertExpectations(t)
}

func TestRunOnce_SkipsFailedChunksAndContinues(t *testing.T) {
	store := new(MockChunkLister)
	provider := new(MockEmbeddingProvider)
	worker := NewBackfillWorker(store, provider, 10, 0)

	store.On("ListMissingEmbeddings", mock.Anything, domain.SourceDiscourse, 0).Return([]domain.Chunk{
		missingChunk(domain.SourceDiscourse, 1, "poison"),
		missingChunk(domain.SourceDiscourse, 2, "healthy"),
	}, nil)
	store.On("ListMissingEmbeddings", mock.Anything, domain.SourceMarkdown, 0).Return([]domain.Chunk{}, nil)

	provider.On("Embed", mock.Anything, "poison").Return(nil, errors.New("content rejected"))
	provider.On("Embed", mock.Anything, "healthy").Return([]float32{0.2}, nil)
	store.On("UpdateEmbedding", mock.Anything, domain.SourceDiscourse, int64(2), []float32{0.2}).Return(nil)

	err := worker.RunOnce(context.Background())
	require.NoError(t, err, "a failed chunk must not abort the pass")
	store.AssertExpectations(t)
}

func TestRunOnce_SkipsBlankChunksWithoutProviderCall(t *testing.T) {
	store := new(MockChunkLister)
	provider := new(MockEmbeddingProvider)
	worker := NewBackfillWorker(store, provider, 10, 0)

	store.On("ListMissingEmbeddings", mock.Anything, domain.SourceDiscourse, 0).Return([]domain.Chunk{
		missingChunk(domain.SourceDiscourse, 1, ""),
		missingChunk(domain.SourceDiscourse, 2, "   \n\t"),
		missingChunk(domain.SourceDiscourse, 3, "real content"),
	}, nil)
	store.On("ListMissingEmbeddings", mock.Anything, domain.SourceMarkdown, 0).Return([]domain.Chunk{}, nil)

	provider.On("Embed", mock.Anything, "real content").Return([]float32{0.3}, nil)
	store.On("UpdateEmbedding", mock.Anything, domain.SourceDiscourse, int64(3), []float32{0.3}).Return(nil)

	err := worker.RunOnce(context.Background())
	require.NoError(t, err)
	provider.AssertNumberOfCalls(t, "Embed", 1)
	store.AssertNotCalled(t, "UpdateEmbedding", mock.Anything, domain.SourceDiscourse, int64(1), mock.Anything)
	store.AssertNotCalled(t, "UpdateEmbedding", mock.Anything, domain.SourceDiscourse, int64(2), mock.Anything)
}

func TestRunOnce_CapsOversizedChunkContent(t *testing.T) {
	store := new(MockChunkLister)
	provider := new(MockEmbeddingProvider)
	worker := NewBackfillWorker(store, provider, 10, 0)

	long := strings.Repeat("x", maxEmbedRunes+500)
	capped := strings.Repeat("x", maxEmbedRunes)

	store.On("ListMissingEmbeddings", mock.Anything, domain.SourceDiscourse, 0).Return([]domain.Chunk{
		missingChunk(domain.SourceDiscourse, 1, long),
	}, nil)
	store.On("ListMissingEmbeddings", mock.Anything, domain.SourceMarkdown, 0).Return([]domain.Chunk{}, nil)

	provider.On("Embed", mock.Anything, capped).Return([]float32{0.1}, nil)
	store.On("UpdateEmbedding", mock.Anything, domain.SourceDiscourse, int64(1), []float32{0.1}).Return(nil)

	err := worker.RunOnce(context.Background())
	require.NoError(t, err)
	provider.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestRunOnce_ListFailureIsFatal(t *testing.T) {
	store := new(MockChunkLister)
	provider := new(MockEmbeddingProvider)
	worker := NewBackfillWorker(store, provider, 10, 0)

	store.On("ListMissingEmbeddings", mock.Anything, domain.SourceDiscourse, 0).
		Return(nil, errors.New("connection refused"))

	err := worker.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRunOnce_NothingMissingMakesNoProviderCalls(t *testing.T) {
	store := new(MockChunkLister)
	provider := new(MockEmbeddingProvider)
	worker := NewBackfillWorker(store, provider, 10, 0)

	store.On("ListMissingEmbeddings", mock.Anything, domain.SourceDiscourse, 0).Return([]domain.Chunk{}, nil)
	store.On("ListMissingEmbeddings", mock.Anything, domain.SourceMarkdown, 0).Return([]domain.Chunk{}, nil)

	err := worker.RunOnce(context.Background())
	require.NoError(t, err)
	provider.AssertNotCalled(t, "Embed")
}

func TestRunOnce_PausesBetweenBatches(t *testing.T) {
	store := new(MockChunkLister)
	provider := new(MockEmbeddingProvider)
	delay := 30 * time.Millisecond
	worker := NewBackfillWorker(store, provider, 2, delay)

	var chunks []domain.Chunk
	for i := int64(1); i <= 5; i++ {
		chunks = append(chunks, missingChunk(domain.SourceDiscourse, i, "content"))
	}
	store.On("ListMissingEmbeddings", mock.Anything, domain.SourceDiscourse, 0).Return(chunks, nil)
	store.On("ListMissingEmbeddings", mock.Anything, domain.SourceMarkdown, 0).Return([]domain.Chunk{}, nil)
	provider.On("Embed", mock.Anything, "content").Return([]float32{0.1}, nil)
	store.On("UpdateEmbedding", mock.Anything, domain.SourceDiscourse, mock.Anything, mock.Anything).Return(nil)

	start := time.Now()
	err := worker.RunOnce(context.Background())
	require.NoError(t, err)

	// 5 chunks in batches of 2 means two inter-batch pauses.
	assert.GreaterOrEqual(t, time.Since(start), 2*delay)
}

func TestRunOnce_CancelledContextStopsThePass(t *testing.T) {
	store := new(MockChunkLister)
	provider := new(MockEmbeddingProvider)
	worker := NewBackfillWorker(store, provider, 1, time.Minute)

	store.On("ListMissingEmbeddings", mock.Anything, domain.SourceDiscourse, 0).Return([]domain.Chunk{
		missingChunk(domain.SourceDiscourse, 1, "first"),
		missingChunk(domain.SourceDiscourse, 2, "second"),
	}, nil)
	provider.On("Embed", mock.Anything, "first").Return([]float32{0.1}, nil)
	store.On("UpdateEmbedding", mock.Anything, domain.SourceDiscourse, int64(1), []float32{0.1}).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := worker.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	provider.AssertNotCalled(t, "Embed", mock.Anything, "second")
}

// stubRunner counts passes for the poll-loop tests.
type stubRunner struct {
	mu    sync.Mutex
	runs  int
	errOn int
}

func (r *stubRunner) RunOnce(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
	if r.errOn > 0 && r.runs == r.errOn {
		return errors.New("pass failed")
	}
	return nil
}

func (r *stubRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

func TestWorker_RunsImmediatelyThenOnInterval(t *testing.T) {
	runner := &stubRunner{}
	worker := NewWorker(runner, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Start(ctx)

	assert.Eventually(t, func() bool { return runner.count() >= 3 },
		time.Second, 5*time.Millisecond)
	worker.Stop()
}

func TestWorker_StopEndsTheLoop(t *testing.T) {
	runner := &stubRunner{}
	worker := NewWorker(runner, 10*time.Millisecond)

	go worker.Start(context.Background())
	assert.Eventually(t, func() bool { return runner.count() >= 1 },
		time.Second, 5*time.Millisecond)

	worker.Stop()
	settled := runner.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, runner.count(), "no passes after Stop returns")
}

func TestWorker_KeepsPollingAfterRunnerError(t *testing.T) {
	runner := &stubRunner{errOn: 1}
	worker := NewWorker(runner, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Start(ctx)

	assert.Eventually(t, func() bool { return runner.count() >= 3 },
		time.Second, 5*time.Millisecond)
	worker.Stop()
}
