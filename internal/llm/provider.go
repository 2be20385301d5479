// Package llm holds the model providers the advisor sends anonymized prompts
// to, plus a retrying wrapper and a per-tier model router.
package llm

import (
	"context"
	"errors"
	"time"

	fsotel "github.com/ethanteng/finsight-sub001/internal/otel"
)

var tracer = fsotel.Tracer("github.com/ethanteng/finsight-sub001/internal/llm")

// TimeoutLLMCall bounds a single provider call.
const TimeoutLLMCall = 60 * time.Second

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrProviderNotAvailable = errors.New("provider not available")
	ErrEmptyResponse        = errors.New("empty model response")
	// ErrModelFailure is what callers see once retries are exhausted.
	ErrModelFailure = errors.New("model failure")
)

// Provider is a chat-completion backend.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string
	// Generate sends a completion request and returns the response.
	Generate(ctx context.Context, req *Request) (*Response, error)
	// EstimateCost estimates the cost in USD for the given model and token counts.
	EstimateCost(model string, inputTokens, outputTokens int) float64
}

// Request is a chat completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is a chat completion response.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
}
