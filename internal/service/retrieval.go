package service

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/studyloop/courseta/internal/domain"
	"github.com/studyloop/courseta/internal/telemetry"
	"github.com/studyloop/courseta/internal/vector"
)

// ChunkScanner defines the chunk store interface for retrieval.
type ChunkScanner interface {
	ScanWithEmbeddings(ctx context.Context, kind domain.SourceKind, limit int) ([]domain.Chunk, error)
}

// RetrieverConfig carries the retrieval tuning values. The defaults are
// empirically chosen; every value is adjustable through configuration.
type RetrieverConfig struct {
	// SimilarityThreshold is the minimum cosine similarity for a chunk to
	// be considered relevant.
	SimilarityThreshold float64
	// MaxResults caps the merged, ranked result set.
	MaxResults int
	// ScanLimit bounds how many chunks are fetched per source kind. It
	// trades recall for latency on large corpora.
	ScanLimit int
	// URLBases are the site roots for citation URL normalization.
	URLBases domain.URLBases
}

// DefaultRetrieverConfig returns the tuning defaults.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		SimilarityThreshold: 0.4,
		MaxResults:          8,
		ScanLimit:           500,
		URLBases: domain.URLBases{
			Discourse: "https://discourse.onlinedegree.iitm.ac.in",
			Docs:      "https://tds.s-anand.net/",
		},
	}
}

// Retriever ranks stored knowledge chunks against a query vector.
type Retriever struct {
	source ChunkScanner
	cfg    RetrieverConfig
}

func NewRetriever(source ChunkScanner, cfg RetrieverConfig) *Retriever {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultRetrieverConfig().MaxResults
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = DefaultRetrieverConfig().ScanLimit
	}
	return &Retriever{source: source, cfg: cfg}
}

// Retrieve scans every source kind, computes cosine similarity in-process
// against the precomputed embeddings, and returns the thresholded results
// sorted by descending similarity, truncated to MaxResults. Ties keep scan
// order.
//
// A single undecodable or dimension-mismatched chunk is skipped and
// reported to the operator; a failed scan of a whole source kind is a
// storage failure and aborts the call.
func (r *Retriever) Retrieve(ctx context.Context, queryVector []float32) ([]domain.RetrievalResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "Retriever.Retrieve")
	defer span.End()

	var results []domain.RetrievalResult
	var badChunks, mismatchedChunks int

	for _, kind := range domain.Kinds() {
		chunks, err := r.source.ScanWithEmbeddings(ctx, kind, r.cfg.ScanLimit)
		if err != nil {
			err = fmt.Errorf("failed to scan %s chunks: %w", kind, err)
			span.SetError(err)
			return nil, err
		}

		for i := range chunks {
			chunk := &chunks[i]
			embedding, err := domain.DecodeEmbedding(chunk.RawEmbedding)
			if err != nil {
				badChunks++
				log.Printf("skipping %s chunk %d: %v", kind, chunk.ID, err)
				continue
			}

			if vector.Mismatched(queryVector, embedding) {
				mismatchedChunks++
			}

			similarity := vector.Cosine(queryVector, embedding)
			if similarity < r.cfg.SimilarityThreshold {
				continue
			}

			results = append(results, domain.RetrievalResult{
				Source:     kind,
				ID:         chunk.ID,
				Content:    chunk.Content,
				URL:        chunk.CanonicalURL(r.cfg.URLBases),
				Similarity: similarity,
			})
		}
	}

	if badChunks > 0 {
		log.Printf("retrieval skipped %d undecodable chunks", badChunks)
		telemetry.CaptureMessage(ctx, fmt.Sprintf("retrieval skipped %d undecodable chunks", badChunks))
	}
	if mismatchedChunks > 0 {
		// Likely an embedding model migration left the corpus in a mixed
		// state; similarity silently degrades to 0 for those rows, so make
		// the condition visible to operators.
		log.Printf("retrieval saw %d chunks with mismatched embedding dimensions", mismatchedChunks)
		telemetry.CaptureMessage(ctx, fmt.Sprintf("retrieval saw %d chunks with mismatched embedding dimensions", mismatchedChunks))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > r.cfg.MaxResults {
		results = results[:r.cfg.MaxResults]
	}

	span.SetData("result_count", len(results))
	return results, nil
}
