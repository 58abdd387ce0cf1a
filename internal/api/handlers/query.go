package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/studyloop/courseta/internal/api"
	"github.com/studyloop/courseta/internal/domain"
	"github.com/studyloop/courseta/internal/service"
)

// errNoProvider is reported when the answering provider is not configured.
// An internal-error code, not validation: the request was fine, the
// deployment is not.
var errNoProvider = domain.NewDomainError(domain.ErrCodeInternalError, "OPENAI_API_KEY environment variable not set")

type AnswerProvider interface {
	Answer(ctx context.Context, question, imageB64 string) service.Answer
}

// QueryHandler serves the question-answering endpoint.
type QueryHandler struct {
	svc       AnswerProvider
	apiKeySet bool
}

func NewQueryHandler(svc AnswerProvider, apiKeySet bool) *QueryHandler {
	return &QueryHandler{svc: svc, apiKeySet: apiKeySet}
}

type QueryRequest struct {
	Question string `json:"question"`
	// Image is an optional base64-encoded image attached to the question.
	Image string `json:"image"`
}

type QueryResponse struct {
	Answer string         `json:"answer"`
	Links  []service.Link `json:"links"`
}

func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, domain.NewDomainError(domain.ErrCodeValidation, "invalid request body"))
		return
	}

	if strings.TrimSpace(req.Question) == "" {
		api.HandleError(w, domain.ErrEmptyQuestion)
		return
	}

	if !h.apiKeySet {
		api.HandleError(w, errNoProvider)
		return
	}

	answer := h.svc.Answer(r.Context(), req.Question, req.Image)

	links := answer.Links
	if links == nil {
		links = []service.Link{}
	}

	api.JSON(w, http.StatusOK, QueryResponse{
		Answer: answer.Text,
		Links:  links,
	})
}
