package service

import (
	"context"
	"log"

	"github.com/studyloop/courseta/internal/cache"
)

// EmbeddingClient converts text into an embedding vector.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VisionClient describes an image in relation to a question.
type VisionClient interface {
	DescribeImage(ctx context.Context, imageB64, question string) (string, error)
}

// QueryEmbedder turns an incoming question, optionally accompanied by an
// image, into a query vector. Results are cached so repeated questions do
// not re-invoke the provider.
type QueryEmbedder struct {
	client EmbeddingClient
	vision VisionClient
	cache  *cache.EmbeddingCache
}

func NewQueryEmbedder(client EmbeddingClient, vision VisionClient, embeddingCache *cache.EmbeddingCache) *QueryEmbedder {
	if embeddingCache == nil {
		embeddingCache = cache.NewEmbeddingCache(cache.DefaultMaxEntries)
	}
	return &QueryEmbedder{client: client, vision: vision, cache: embeddingCache}
}

// EmbedQuery produces the query vector. When an image is supplied, its
// description is folded into the embedded text; any failure on the image
// path is absorbed and the original question is embedded alone.
func (e *QueryEmbedder) EmbedQuery(ctx context.Context, question, imageB64 string) ([]float32, error) {
	if imageB64 != "" && e.vision != nil {
		description, err := e.vision.DescribeImage(ctx, imageB64, question)
		if err == nil && description != "" {
			combined := question + "\nImage context: " + description
			return e.cache.GetOrCompute(ctx, combined, e.client.Embed)
		}
		log.Printf("image analysis failed, falling back to text-only query: %v", err)
	}

	return e.cache.GetOrCompute(ctx, question, e.client.Embed)
}
