//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/studyloop/courseta/internal/api/handlers"
	"github.com/studyloop/courseta/internal/cache"
	"github.com/studyloop/courseta/internal/domain"
	"github.com/studyloop/courseta/internal/openai"
	"github.com/studyloop/courseta/internal/repository"
	"github.com/studyloop/courseta/internal/server"
	"github.com/studyloop/courseta/internal/service"
	"github.com/studyloop/courseta/internal/testutil"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T          *testing.T
	Ctx        context.Context
	PostgresC  *testutil.PostgresContainer
	Pool       *pgxpool.Pool
	Server     *httptest.Server
	Provider   *stubProvider
	HTTPClient *http.Client
}

// stubProvider stands in for the OpenAI boundary so the pipeline can run
// without network access. Embeddings are looked up from a fixed table and
// generation echoes a canned answer.
type stubProvider struct {
	embeddings map[string][]float32
	answer     string
	generErr   error
}

func (p *stubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := p.embeddings[text]; ok {
		return v, nil
	}
	return []float32{-1, 0}, nil
}

func (p *stubProvider) Generate(ctx context.Context, prompt string, opts openai.GenerateOptions) (string, error) {
	if p.generErr != nil {
		return "", p.generErr
	}
	return p.answer, nil
}

// SetupE2EEnv creates a full E2E test environment with a database container
// and an in-process HTTP server.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	provider := &stubProvider{
		embeddings: map[string][]float32{},
		answer:     "stub answer",
	}

	chunkRepo := repository.NewChunkRepository(pool)
	embedder := service.NewQueryEmbedder(provider, nil, cache.NewEmbeddingCache(10))
	retriever := service.NewRetriever(chunkRepo, service.RetrieverConfig{
		SimilarityThreshold: 0.4,
		MaxResults:          8,
		ScanLimit:           500,
		URLBases: domain.URLBases{
			Discourse: "https://forum.example.edu",
			Docs:      "https://docs.example.edu/",
		},
	})
	answerSvc := service.NewAnswerService(embedder, retriever, provider, service.DefaultAnswerConfig())

	router := server.NewRouter(server.RouterConfig{
		QueryHandler:  handlers.NewQueryHandler(answerSvc, true),
		HealthHandler: handlers.NewHealthHandler(chunkRepo, true),
	})
	srv := httptest.NewServer(router)

	return &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pgC,
		Pool:       pool,
		Server:     srv,
		Provider:   provider,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.Server != nil {
		e.Server.Close()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// SeedDiscourseChunk inserts an embedded discourse chunk.
func (e *E2ETestEnv) SeedDiscourseChunk(content, url string, embedding []float32) {
	_, err := e.Pool.Exec(e.Ctx,
		`INSERT INTO discourse_chunks (topic_id, post_number, chunk_index, content, url, embedding)
		 VALUES (1, 1, 0, $1, $2, $3)`,
		content, url, pgvector.NewVector(embedding))
	if err != nil {
		e.T.Fatalf("failed to seed discourse chunk: %v", err)
	}
}

// SeedMarkdownChunk inserts a markdown chunk, optionally without an
// embedding to exercise the backfill path.
func (e *E2ETestEnv) SeedMarkdownChunk(content, url string, embedding []float32) {
	var err error
	if embedding == nil {
		_, err = e.Pool.Exec(e.Ctx,
			`INSERT INTO markdown_chunks (doc_title, chunk_index, content, original_url)
			 VALUES ('doc', 0, $1, $2)`,
			content, url)
	} else {
		_, err = e.Pool.Exec(e.Ctx,
			`INSERT INTO markdown_chunks (doc_title, chunk_index, content, original_url, embedding)
			 VALUES ('doc', 0, $1, $2, $3)`,
			content, url, pgvector.NewVector(embedding))
	}
	if err != nil {
		e.T.Fatalf("failed to seed markdown chunk: %v", err)
	}
}

// PostQuery submits a question to the query endpoint and decodes the body.
func (e *E2ETestEnv) PostQuery(body map[string]string) (int, map[string]json.RawMessage) {
	payload, err := json.Marshal(body)
	if err != nil {
		e.T.Fatalf("failed to marshal request: %v", err)
	}

	resp, err := e.HTTPClient.Post(e.Server.URL+"/api", "application/json", bytes.NewReader(payload))
	if err != nil {
		e.T.Fatalf("query request failed: %v", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, decodeBody(e.T, resp.Body)
}

// GetHealth fetches the health endpoint.
func (e *E2ETestEnv) GetHealth() (int, map[string]json.RawMessage) {
	resp, err := e.HTTPClient.Get(e.Server.URL + "/health")
	if err != nil {
		e.T.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, decodeBody(e.T, resp.Body)
}

func decodeBody(t *testing.T, r io.Reader) map[string]json.RawMessage {
	raw, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("failed to decode response %q: %v", raw, err)
	}
	return fields
}

func jsonString(t *testing.T, raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("expected JSON string, got %q: %v", raw, err)
	}
	return s
}
