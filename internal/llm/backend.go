// Package llm abstracts over text-generation backends. Each backend
// exposes the same two operations but declares its own context budget,
// rate limits, and error mapping.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is transient: the provider is unreachable,
	// overloaded or rate-limited. Retried with backoff.
	ErrUnavailable = errors.New("generation backend unavailable")
	// ErrTimeout means a generation call exceeded its deadline. Surfaced
	// to the caller rather than returning an empty answer.
	ErrTimeout = errors.New("generation timed out")
	// ErrRejected means the provider judged the input unsafe or invalid.
	// Never retried.
	ErrRejected = errors.New("generation request rejected")
)

// PromptPayload is the fully assembled input for one generation call.
type PromptPayload struct {
	System string `json:"system,omitempty"`
	Text   string `json:"text"`
}

// Backend is a text-generation provider. A session's backend is chosen
// at ingestion time and fixed for the session's lifetime.
type Backend interface {
	// Name returns the backend identifier (e.g. "gemini", "groq").
	Name() string
	// Budget declares the input size budget in the backend's native unit.
	Budget() Budget
	// Summarize produces a repository summary from the payload.
	Summarize(ctx context.Context, payload *PromptPayload) (string, error)
	// Answer produces a grounded answer from the payload.
	Answer(ctx context.Context, payload *PromptPayload) (string, error)
}
