package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/studyloop/courseta/internal/domain"
	"github.com/studyloop/courseta/internal/openai"
	"github.com/studyloop/courseta/internal/telemetry"
)

// User-facing fallback messages. The orchestrator's contract is total:
// every path produces one of these or a generated answer, never an error.
const (
	noContextNote = "*Note: This answer is generated without specific course context as no matching information was found in the knowledge base.*"

	capacityMessage = "I couldn't find specific information in the knowledge base, and the AI service is temporarily at capacity. Please try again in a few moments or rephrase your question."

	noInformationMessage = "I couldn't find any relevant information in my knowledge base. Please try rephrasing your question or ask something more specific about the course."

	genericApology = "Sorry, I encountered an error while processing your request. Please try again."

	summaryHeader = "Based on the course materials, here's what I found:\n\n"
	summaryFooter = "\n*Note: AI answer generation is currently unavailable. The above is direct content from the knowledge base.*"
)

// Embedder produces the query vector for a question.
type Embedder interface {
	EmbedQuery(ctx context.Context, question, imageB64 string) ([]float32, error)
}

// ContextRetriever ranks knowledge chunks against a query vector.
type ContextRetriever interface {
	Retrieve(ctx context.Context, queryVector []float32) ([]domain.RetrievalResult, error)
}

// GenerationClient produces text for a prompt.
type GenerationClient interface {
	Generate(ctx context.Context, prompt string, opts openai.GenerateOptions) (string, error)
}

// Link is a citation returned alongside an answer.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Answer is the terminal output of the orchestrator.
type Answer struct {
	Text  string
	Links []Link
}

// AnswerConfig carries the prompt-shaping limits.
type AnswerConfig struct {
	// MaxContextChunks is how many top results feed the prompt and links.
	MaxContextChunks int
	// ContextRuneLimit truncates each chunk excerpt inside the prompt.
	ContextRuneLimit int
	// LinkTextRuneLimit truncates each citation's display text.
	LinkTextRuneLimit int
	// SummaryRuneLimit truncates each excerpt in the content-summary
	// fallback.
	SummaryRuneLimit int

	GroundedTemperature   float32
	GroundedMaxTokens     int
	UngroundedTemperature float32
	UngroundedMaxTokens   int
}

// DefaultAnswerConfig returns the tuning defaults.
func DefaultAnswerConfig() AnswerConfig {
	return AnswerConfig{
		MaxContextChunks:      3,
		ContextRuneLimit:      3000,
		LinkTextRuneLimit:     100,
		SummaryRuneLimit:      300,
		GroundedTemperature:   0.5,
		GroundedMaxTokens:     2048,
		UngroundedTemperature: 0.7,
		UngroundedMaxTokens:   1024,
	}
}

// AnswerService orchestrates one question through embedding, retrieval, and
// the tiered generation fallback chain.
type AnswerService struct {
	embedder  Embedder
	retriever ContextRetriever
	generator GenerationClient
	cfg       AnswerConfig
}

func NewAnswerService(embedder Embedder, retriever ContextRetriever, generator GenerationClient, cfg AnswerConfig) *AnswerService {
	def := DefaultAnswerConfig()
	if cfg.MaxContextChunks <= 0 {
		cfg.MaxContextChunks = def.MaxContextChunks
	}
	if cfg.ContextRuneLimit <= 0 {
		cfg.ContextRuneLimit = def.ContextRuneLimit
	}
	if cfg.LinkTextRuneLimit <= 0 {
		cfg.LinkTextRuneLimit = def.LinkTextRuneLimit
	}
	if cfg.SummaryRuneLimit <= 0 {
		cfg.SummaryRuneLimit = def.SummaryRuneLimit
	}
	if cfg.GroundedTemperature == 0 {
		cfg.GroundedTemperature = def.GroundedTemperature
	}
	if cfg.GroundedMaxTokens <= 0 {
		cfg.GroundedMaxTokens = def.GroundedMaxTokens
	}
	if cfg.UngroundedTemperature == 0 {
		cfg.UngroundedTemperature = def.UngroundedTemperature
	}
	if cfg.UngroundedMaxTokens <= 0 {
		cfg.UngroundedMaxTokens = def.UngroundedMaxTokens
	}
	return &AnswerService{
		embedder:  embedder,
		retriever: retriever,
		generator: generator,
		cfg:       cfg,
	}
}

// Answer runs the full pipeline for one question. It always returns a
// usable answer: degraded tiers absorb provider failures, and anything
// unanticipated maps to a generic apology while the diagnostic detail goes
// to the operator log and Sentry.
func (s *AnswerService) Answer(ctx context.Context, question, imageB64 string) (answer Answer) {
	ctx, span := telemetry.StartSpan(ctx, "AnswerService.Answer")
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("unexpected failure answering question: %v", rec)
			telemetry.CaptureMessage(ctx, fmt.Sprintf("answer pipeline panic: %v", rec))
			answer = Answer{Text: genericApology, Links: []Link{}}
		}
	}()

	queryVector, err := s.embedder.EmbedQuery(ctx, question, imageB64)
	if err != nil {
		log.Printf("query embedding failed: %v", err)
		span.SetError(err)
		return Answer{Text: genericApology, Links: []Link{}}
	}

	results, err := s.retriever.Retrieve(ctx, queryVector)
	if err != nil {
		log.Printf("retrieval failed: %v", err)
		span.SetError(err)
		return Answer{Text: genericApology, Links: []Link{}}
	}

	if len(results) == 0 {
		log.Printf("no relevant chunks for question %q, using ungrounded fallback", truncateRunes(question, 50))
		return s.answerWithoutContext(ctx, question)
	}

	top := results
	if len(top) > s.cfg.MaxContextChunks {
		top = top[:s.cfg.MaxContextChunks]
	}
	links := s.buildLinks(top)

	text, err := s.generator.Generate(ctx, s.groundedPrompt(question, top), openai.GenerateOptions{
		Temperature: s.cfg.GroundedTemperature,
		MaxTokens:   s.cfg.GroundedMaxTokens,
	})
	if err == nil && text != "" {
		return Answer{Text: text, Links: links}
	}

	log.Printf("grounded answer generation failed, using content summary: %v", err)
	telemetry.CaptureError(ctx, err)
	return Answer{Text: s.summarizeContent(top), Links: links}
}

// answerWithoutContext is the degraded tier for questions with no relevant
// knowledge: a context-free generation, then fixed messages when even that
// is unavailable.
func (s *AnswerService) answerWithoutContext(ctx context.Context, question string) Answer {
	answer, err := s.generator.Generate(ctx, ungroundedPrompt(question), openai.GenerateOptions{
		Temperature: s.cfg.UngroundedTemperature,
		MaxTokens:   s.cfg.UngroundedMaxTokens,
	})
	if err == nil && answer != "" {
		return Answer{Text: answer + "\n\n" + noContextNote, Links: []Link{}}
	}

	if openai.IsRateLimited(err) {
		log.Printf("ungrounded generation rate limited: %v", err)
		return Answer{Text: capacityMessage, Links: []Link{}}
	}

	log.Printf("ungrounded generation failed: %v", err)
	telemetry.CaptureError(ctx, err)
	return Answer{Text: noInformationMessage, Links: []Link{}}
}

func (s *AnswerService) buildLinks(results []domain.RetrievalResult) []Link {
	links := make([]Link, 0, len(results))
	for _, r := range results {
		if r.URL == "" {
			continue
		}
		text := r.Content
		if len([]rune(text)) > s.cfg.LinkTextRuneLimit {
			text = truncateRunes(text, s.cfg.LinkTextRuneLimit) + "..."
		}
		links = append(links, Link{URL: r.URL, Text: text})
	}
	return links
}

func (s *AnswerService) groundedPrompt(question string, results []domain.RetrievalResult) string {
	var context strings.Builder
	for _, r := range results {
		fmt.Fprintf(&context, "\n\n%s (URL: %s):\n%s",
			r.Source.Label(), r.URL, truncateRunes(r.Content, s.cfg.ContextRuneLimit))
	}

	return fmt.Sprintf(`You are a helpful Teaching Assistant for the Tools in Data Science course at IIT Madras.
Answer the following question using the provided context from course materials. Use the context as your primary source, but you can supplement with your general knowledge if needed to provide a complete answer.

Context:
%s

Question: %s

Please provide a clear, comprehensive answer. If the context is incomplete, use your knowledge to fill in gaps while noting what comes from the course materials.

Answer:`, context.String(), question)
}

func ungroundedPrompt(question string) string {
	return fmt.Sprintf(`You are a helpful Teaching Assistant for the Tools in Data Science course at IIT Madras.
Answer the following question based on your general knowledge about data science, Python, and related tools.
If you're not confident about the answer, say so.

Question: %s

Please provide a helpful and accurate answer:`, question)
}

// summarizeContent builds the deterministic last-resort answer from the top
// chunks. Given the same inputs it is byte-reproducible.
func (s *AnswerService) summarizeContent(results []domain.RetrievalResult) string {
	var b strings.Builder
	b.WriteString(summaryHeader)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s...\n\n", i+1, truncateRunes(r.Content, s.cfg.SummaryRuneLimit))
	}
	b.WriteString(summaryFooter)
	return b.String()
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
