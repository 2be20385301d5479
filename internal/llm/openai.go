package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"

	fsotel "github.com/ethanteng/finsight-sub001/internal/otel"
)

// OpenAIProvider implements Provider for OpenAI and OpenAI-compatible APIs.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates an OpenAI provider. baseURL is optional; when
// set it should be scheme+host, the client appends /v1.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL + "/v1"
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(config)}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Generate sends a chat completion request.
func (p *OpenAIProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "gen_ai.generate",
		trace.WithAttributes(fsotel.LLMRequestAttributes("openai", req.Model, req.Temperature, req.MaxTokens)...))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, TimeoutLLMCall)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, NewTransientError(fmt.Errorf("openai: %w", ErrEmptyResponse))
	}

	span.SetAttributes(fsotel.LLMUsageAttributes(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)...)
	span.SetAttributes(fsotel.GenAIResponseFinishReason.String(string(resp.Choices[0].FinishReason)))

	return &Response{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        resp.Model,
	}, nil
}

func classifyOpenAIError(err error) error {
	wrapped := fmt.Errorf("openai api call: %w", err)
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500 {
			return NewTransientError(wrapped)
		}
		return NewFatalError(wrapped)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500 {
			return NewTransientError(wrapped)
		}
		return NewFatalError(wrapped)
	}
	return NewTransientError(wrapped)
}

// EstimateCost estimates the cost in USD.
func (p *OpenAIProvider) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	// USD per 1K tokens.
	prices := map[string][2]float64{
		"gpt-4o":       {0.0025, 0.01},
		"gpt-4o-mini":  {0.00015, 0.0006},
		"gpt-4.1":      {0.002, 0.008},
		"gpt-4.1-mini": {0.0004, 0.0016},
	}
	pr, ok := prices[model]
	if !ok {
		pr = prices["gpt-4o"]
	}
	return float64(inputTokens)/1000*pr[0] + float64(outputTokens)/1000*pr[1]
}
