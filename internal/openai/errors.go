package openai

import (
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNoAPIKey is returned when the OpenAI API key is not configured. Every
// provider call checks it upfront so a misconfigured deployment fails fast
// instead of attempting a doomed network call.
var ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")

// RateLimitError indicates the upstream rejected the call with a quota or
// 429-equivalent response. Retried with longer backoff than other failures.
type RateLimitError struct {
	Body string
}

func (e *RateLimitError) Error() string {
	if e.Body == "" {
		return "rate limited by upstream"
	}
	return fmt.Sprintf("rate limited by upstream: %s", e.Body)
}

// UpstreamError indicates a non-429 HTTP failure from the provider.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.Status, e.Body)
}

// TransientError wraps network faults and malformed responses that carry no
// HTTP status.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err is a rate-limit failure, including
// quota-exhaustion messages that some providers return without a 429.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "quota")
}

// classify maps SDK errors onto the provider failure taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 {
			return &RateLimitError{Body: apiErr.Message}
		}
		return &UpstreamError{Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 429 {
			return &RateLimitError{Body: reqErr.Error()}
		}
		if reqErr.HTTPStatusCode >= 400 {
			return &UpstreamError{Status: reqErr.HTTPStatusCode, Body: reqErr.Error()}
		}
	}

	return &TransientError{Err: err}
}
