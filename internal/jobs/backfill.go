package jobs

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/studyloop/courseta/internal/domain"
	"github.com/studyloop/courseta/internal/telemetry"
)

const (
	// DefaultBatchSize is how many chunks are embedded between pauses.
	DefaultBatchSize = 10
	// DefaultBatchDelay is the pause between batches, keeping the provider
	// request rate within quota.
	DefaultBatchDelay = time.Second
	// maxEmbedRunes caps the text sent to the embedding provider. Without
	// the cap an oversized chunk is rejected by the provider on every pass
	// and can never leave the missing set.
	maxEmbedRunes = 10000
)

// ChunkLister exposes the chunks awaiting embeddings and the write-back.
type ChunkLister interface {
	ListMissingEmbeddings(ctx context.Context, kind domain.SourceKind, limit int) ([]domain.Chunk, error)
	UpdateEmbedding(ctx context.Context, kind domain.SourceKind, id int64, embedding []float32) error
}

// EmbeddingProvider converts chunk content into an embedding vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BackfillWorker embeds chunks that were ingested without embeddings. A
// pass is idempotent: it only touches rows whose embedding column is still
// NULL, so re-running after a partial failure picks up exactly the
// remainder.
type BackfillWorker struct {
	store      ChunkLister
	provider   EmbeddingProvider
	batchSize  int
	batchDelay time.Duration
}

// NewBackfillWorker creates a new BackfillWorker instance
func NewBackfillWorker(store ChunkLister, provider EmbeddingProvider, batchSize int, batchDelay time.Duration) *BackfillWorker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchDelay < 0 {
		batchDelay = DefaultBatchDelay
	}
	return &BackfillWorker{
		store:      store,
		provider:   provider,
		batchSize:  batchSize,
		batchDelay: batchDelay,
	}
}

// RunOnce embeds every chunk currently missing an embedding, one source
// kind at a time. Per-chunk failures are logged and skipped; the pass keeps
// going so one poisoned row cannot stall the rest of the corpus.
func (w *BackfillWorker) RunOnce(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "BackfillWorker.RunOnce")
	defer span.End()

	var embedded, failed int
	for _, kind := range domain.Kinds() {
		e, f, err := w.backfillKind(ctx, kind)
		embedded += e
		failed += f
		if err != nil {
			span.SetError(err)
			return err
		}
	}

	if embedded > 0 || failed > 0 {
		log.Printf("Backfill pass complete: %d embedded, %d failed", embedded, failed)
	}
	span.SetData("embedded", embedded)
	span.SetData("failed", failed)
	return nil
}

func (w *BackfillWorker) backfillKind(ctx context.Context, kind domain.SourceKind) (embedded, failed int, err error) {
	// Fetch the full missing set up front. Selecting per batch would
	// re-surface chunks that just failed and loop on them forever.
	chunks, err := w.store.ListMissingEmbeddings(ctx, kind, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list %s chunks missing embeddings: %w", kind, err)
	}
	if len(chunks) == 0 {
		return 0, 0, nil
	}

	log.Printf("Backfilling %d %s chunks", len(chunks), kind)

	for start := 0; start < len(chunks); start += w.batchSize {
		end := start + w.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		for i := start; i < end; i++ {
			chunk := &chunks[i]
			if strings.TrimSpace(chunk.Content) == "" {
				log.Printf("Skipping %s chunk %d: blank content", kind, chunk.ID)
				continue
			}
			if err := w.embedChunk(ctx, kind, chunk); err != nil {
				if ctx.Err() != nil {
					return embedded, failed, ctx.Err()
				}
				failed++
				log.Printf("Failed to embed %s chunk %d: %v", kind, chunk.ID, err)
				continue
			}
			embedded++
		}

		if end < len(chunks) {
			select {
			case <-ctx.Done():
				return embedded, failed, ctx.Err()
			case <-time.After(w.batchDelay):
			}
		}
	}

	return embedded, failed, nil
}

func (w *BackfillWorker) embedChunk(ctx context.Context, kind domain.SourceKind, chunk *domain.Chunk) error {
	content := chunk.Content
	if runes := []rune(content); len(runes) > maxEmbedRunes {
		content = string(runes[:maxEmbedRunes])
	}

	embedding, err := w.provider.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}
	if err := w.store.UpdateEmbedding(ctx, kind, chunk.ID, embedding); err != nil {
		return fmt.Errorf("write-back failed: %w", err)
	}
	return nil
}
