package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/studyloop/courseta/internal/api"
	"github.com/studyloop/courseta/internal/domain"
)

type StatsProvider interface {
	Stats(ctx context.Context) (domain.StoreStats, error)
}

// HealthHandler reports service and corpus health.
type HealthHandler struct {
	store     StatsProvider
	apiKeySet bool
}

func NewHealthHandler(store StatsProvider, apiKeySet bool) *HealthHandler {
	return &HealthHandler{store: store, apiKeySet: apiKeySet}
}

type HealthResponse struct {
	Status              string `json:"status"`
	Database            string `json:"database"`
	APIKeySet           bool   `json:"api_key_set"`
	DiscourseChunks     int64  `json:"discourse_chunks"`
	MarkdownChunks      int64  `json:"markdown_chunks"`
	DiscourseEmbeddings int64  `json:"discourse_embeddings"`
	MarkdownEmbeddings  int64  `json:"markdown_embeddings"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		log.Printf("health check failed: %v", err)
		api.JSON(w, http.StatusInternalServerError, HealthResponse{
			Status:    "unhealthy",
			Database:  "disconnected",
			APIKeySet: h.apiKeySet,
		})
		return
	}

	discourse := stats[domain.SourceDiscourse]
	markdown := stats[domain.SourceMarkdown]

	api.JSON(w, http.StatusOK, HealthResponse{
		Status:              "healthy",
		Database:            "connected",
		APIKeySet:           h.apiKeySet,
		DiscourseChunks:     discourse.Total,
		MarkdownChunks:      markdown.Total,
		DiscourseEmbeddings: discourse.Embedded,
		MarkdownEmbeddings:  markdown.Embedded,
	})
}
