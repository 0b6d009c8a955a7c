// Package provider defines the boundary to external language-model services.
package provider

import (
	"context"
	"fmt"
)

// CompletionRequest describes a single chat-completion call.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	UserMessage  string
	Temperature  float64
	MaxTokens    int
}

// Provider is the capability the core depends on: text in, vectors or text out.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed generates one vector per input string, in input order.
	Embed(ctx context.Context, model string, input []string) ([][]float32, error)

	// Complete generates a chat completion for the request.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Error represents a failed call against an external provider. Callers decide
// retry policy; nothing is retried internally.
type Error struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
