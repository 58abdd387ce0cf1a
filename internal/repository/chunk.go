package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/studyloop/courseta/internal/domain"
)

// ChunkRepository reads and backfills the precomputed knowledge chunks. The
// live query path only ever reads; embeddings are written by the offline
// backfill worker.
type ChunkRepository struct {
	pool *pgxpool.Pool
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{pool: pool}
}

// ScanWithEmbeddings fetches up to limit chunks of the given kind that have
// an embedding. The limit is a scan-size bound for latency, not a relevance
// filter. Embeddings are returned in their serialized text form so the
// retriever can contain a corrupt row at chunk granularity.
func (r *ChunkRepository) ScanWithEmbeddings(ctx context.Context, kind domain.SourceKind, limit int) ([]domain.Chunk, error) {
	switch kind {
	case domain.SourceDiscourse:
		return r.scanDiscourse(ctx, limit, true)
	case domain.SourceMarkdown:
		return r.scanMarkdown(ctx, limit, true)
	default:
		return nil, domain.ErrUnknownSourceKind
	}
}

// ListMissingEmbeddings fetches chunks of the given kind that still lack an
// embedding. A limit of 0 means no bound. Re-running the backfill is safe
// because a populated chunk is never selected again.
func (r *ChunkRepository) ListMissingEmbeddings(ctx context.Context, kind domain.SourceKind, limit int) ([]domain.Chunk, error) {
	switch kind {
	case domain.SourceDiscourse:
		return r.scanDiscourse(ctx, limit, false)
	case domain.SourceMarkdown:
		return r.scanMarkdown(ctx, limit, false)
	default:
		return nil, domain.ErrUnknownSourceKind
	}
}

// UpdateEmbedding persists the embedding for one chunk.
func (r *ChunkRepository) UpdateEmbedding(ctx context.Context, kind domain.SourceKind, id int64, embedding []float32) error {
	var table string
	switch kind {
	case domain.SourceDiscourse:
		table = "discourse_chunks"
	case domain.SourceMarkdown:
		table = "markdown_chunks"
	default:
		return domain.ErrUnknownSourceKind
	}

	tag, err := r.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET embedding = $1 WHERE id = $2`, table),
		pgvector.NewVector(embedding), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update %s embedding: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s chunk %d not found", kind, id)
	}
	return nil
}

// Stats reports per-source-kind row counts and embedding-population counts.
func (r *ChunkRepository) Stats(ctx context.Context) (domain.StoreStats, error) {
	stats := make(domain.StoreStats, 2)

	row := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM discourse_chunks),
			(SELECT COUNT(*) FROM discourse_chunks WHERE embedding IS NOT NULL),
			(SELECT COUNT(*) FROM markdown_chunks),
			(SELECT COUNT(*) FROM markdown_chunks WHERE embedding IS NOT NULL)`)

	var discourse, markdown domain.SourceStats
	if err := row.Scan(&discourse.Total, &discourse.Embedded, &markdown.Total, &markdown.Embedded); err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	stats[domain.SourceDiscourse] = discourse
	stats[domain.SourceMarkdown] = markdown
	return stats, nil
}

func (r *ChunkRepository) scanDiscourse(ctx context.Context, limit int, withEmbedding bool) ([]domain.Chunk, error) {
	query := `
		SELECT id, COALESCE(post_id, 0), COALESCE(topic_id, 0), COALESCE(topic_title, ''),
		       COALESCE(post_number, 0), COALESCE(author, ''), COALESCE(chunk_index, 0),
		       content, COALESCE(url, ''), COALESCE(embedding::text, '')
		FROM discourse_chunks`
	query += embeddingClause(withEmbedding) + limitClause(limit)

	rows, err := r.pool.Query(ctx, query, limitArgs(limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query discourse chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		c := domain.Chunk{Source: domain.SourceDiscourse}
		var rawEmbedding string
		if err := rows.Scan(&c.ID, &c.PostID, &c.TopicID, &c.TopicTitle,
			&c.PostNumber, &c.Author, &c.ChunkIndex,
			&c.Content, &c.URL, &rawEmbedding); err != nil {
			return nil, fmt.Errorf("failed to scan discourse chunk: %w", err)
		}
		c.RawEmbedding = []byte(rawEmbedding)
		chunks = append(chunks, c)
	}

	return chunks, rows.Err()
}

func (r *ChunkRepository) scanMarkdown(ctx context.Context, limit int, withEmbedding bool) ([]domain.Chunk, error) {
	query := `
		SELECT id, COALESCE(doc_title, ''), COALESCE(chunk_index, 0),
		       content, COALESCE(original_url, ''), COALESCE(embedding::text, '')
		FROM markdown_chunks`
	query += embeddingClause(withEmbedding) + limitClause(limit)

	rows, err := r.pool.Query(ctx, query, limitArgs(limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query markdown chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		c := domain.Chunk{Source: domain.SourceMarkdown}
		var rawEmbedding string
		if err := rows.Scan(&c.ID, &c.DocTitle, &c.ChunkIndex,
			&c.Content, &c.URL, &rawEmbedding); err != nil {
			return nil, fmt.Errorf("failed to scan markdown chunk: %w", err)
		}
		c.RawEmbedding = []byte(rawEmbedding)
		chunks = append(chunks, c)
	}

	return chunks, rows.Err()
}

func embeddingClause(withEmbedding bool) string {
	if withEmbedding {
		return " WHERE embedding IS NOT NULL"
	}
	return " WHERE embedding IS NULL"
}

func limitClause(limit int) string {
	if limit > 0 {
		return " ORDER BY id LIMIT $1"
	}
	return " ORDER BY id"
}

func limitArgs(limit int) []interface{} {
	if limit > 0 {
		return []interface{}{limit}
	}
	return nil
}
