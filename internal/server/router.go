package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studyloop/courseta/internal/api/handlers"
	"github.com/studyloop/courseta/internal/api/middleware"
)

type RouterConfig struct {
	QueryHandler  *handlers.QueryHandler
	HealthHandler *handlers.HealthHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Questions may carry a base64-encoded image, so the body cap is
	// larger than a text-only API would need.
	const maxBodyBytes int64 = 10 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", cfg.HealthHandler.Health)
	r.Post("/api", cfg.QueryHandler.Query)

	return r
}
