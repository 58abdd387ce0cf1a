package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// SourceKind identifies which corpus a chunk was ingested from.
type SourceKind string

const (
	SourceDiscourse SourceKind = "discourse"
	SourceMarkdown  SourceKind = "markdown"
)

// Kinds returns all source kinds in scan order.
func Kinds() []SourceKind {
	return []SourceKind{SourceDiscourse, SourceMarkdown}
}

// Valid reports whether the source kind is known.
func (k SourceKind) Valid() bool {
	return k == SourceDiscourse || k == SourceMarkdown
}

// Label returns the human-readable name used when citing a chunk in a prompt.
func (k SourceKind) Label() string {
	if k == SourceDiscourse {
		return "Discourse post"
	}
	return "Documentation"
}

// Chunk is an immutable unit of retrievable course knowledge. It is created
// by offline ingestion and becomes eligible for retrieval once its embedding
// has been backfilled. The live query path never mutates it.
type Chunk struct {
	ID         int64
	Source     SourceKind
	Content    string
	URL        string
	ChunkIndex int

	// RawEmbedding holds the stored embedding in its serialized form.
	// Decoding is deferred to the retrieval path so a corrupt row can be
	// skipped without aborting the scan.
	RawEmbedding []byte

	// Discourse metadata, used for citation URL construction.
	PostID     int64
	TopicID    int64
	TopicTitle string
	PostNumber int
	Author     string

	// Markdown metadata.
	DocTitle string
}

// RetrievalResult is a ranked retrieval hit, produced fresh per query.
type RetrievalResult struct {
	Source     SourceKind
	ID         int64
	Content    string
	URL        string
	Similarity float64
}

// URLBases holds the site roots used to canonicalize citation URLs.
type URLBases struct {
	Discourse string
	Docs      string
}

// CanonicalURL resolves the chunk's citation URL. Relative or absent URLs
// are completed with source-kind-specific rules: discourse chunks resolve
// against the forum's topic URL template, markdown chunks fall back to the
// documentation site root.
func (c *Chunk) CanonicalURL(bases URLBases) string {
	switch c.Source {
	case SourceDiscourse:
		base := strings.TrimRight(bases.Discourse, "/")
		if c.URL == "" {
			if c.TopicID > 0 {
				if c.PostNumber > 0 {
					return fmt.Sprintf("%s/t/%d/%d", base, c.TopicID, c.PostNumber)
				}
				return fmt.Sprintf("%s/t/%d", base, c.TopicID)
			}
			return ""
		}
		if !strings.HasPrefix(c.URL, "http") {
			return base + "/t/" + strings.TrimLeft(c.URL, "/")
		}
		return c.URL
	case SourceMarkdown:
		if c.URL == "" || !strings.HasPrefix(c.URL, "http") {
			return bases.Docs
		}
		return c.URL
	default:
		return c.URL
	}
}

// DecodeEmbedding parses a stored embedding. Both the pgvector text form
// and the legacy JSON array form serialize as "[f, f, ...]", so a single
// JSON decode covers the whole corpus.
func DecodeEmbedding(raw []byte) ([]float32, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ErrEmptyEmbedding
	}

	var values []float32
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return nil, fmt.Errorf("undecodable embedding: %w", err)
	}
	if len(values) == 0 {
		return nil, ErrEmptyEmbedding
	}

	return values, nil
}

// SourceStats reports row counts for one source kind.
type SourceStats struct {
	Total    int64
	Embedded int64
}

// StoreStats reports per-source-kind row and embedding-population counts.
type StoreStats map[SourceKind]SourceStats
