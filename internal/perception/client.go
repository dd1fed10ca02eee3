// Package perception holds the generation-service clients that turn a
// patient prompt into raw model text. The dialogue engine treats that text
// as untrusted, so nothing here parses it.
package perception

import (
	"context"
	"errors"
	"sync"
)

// LLMClient defines the interface for generation providers.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Provider represents a generation provider.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderStatic Provider = "static"
)

// ErrNotConfigured is returned by a client that has no API key.
var ErrNotConfigured = errors.New("API key not configured")

// ErrEmptyCompletion is returned when the provider answered with no choices.
var ErrEmptyCompletion = errors.New("no completion returned")

const defaultSystemPrompt = "You are role-playing a hospital patient in a caregiver training session. " +
	"Stay in character. Answer only with the JSON object described in the prompt."

// StaticClient replays a fixed list of completions in order, wrapping
// around at the end. It serves offline demos and tests.
type StaticClient struct {
	mu      sync.Mutex
	replies []string
	next    int
	calls   []string
}

// NewStaticClient creates a client that answers with replies in turn.
func NewStaticClient(replies ...string) *StaticClient {
	return &StaticClient{replies: append([]string(nil), replies...)}
}

// Complete returns the next scripted reply.
func (c *StaticClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem returns the next scripted reply. It honours ctx
// cancellation so callers can exercise their timeout path.
func (c *StaticClient) CompleteWithSystem(ctx context.Context, _, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, userPrompt)
	if len(c.replies) == 0 {
		return "", ErrEmptyCompletion
	}
	reply := c.replies[c.next%len(c.replies)]
	c.next++
	return reply, nil
}

// Prompts returns every user prompt received so far.
func (c *StaticClient) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}
