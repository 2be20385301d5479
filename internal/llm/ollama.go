package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	fsotel "github.com/ethanteng/finsight-sub001/internal/otel"
)

// OllamaProvider implements Provider for a local Ollama server.
type OllamaProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaProvider points at baseURL, default http://localhost:11434.
func NewOllamaProvider(baseURL string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{baseURL: baseURL, httpClient: &http.Client{}}
}

func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  struct {
		Temperature float64 `json:"temperature,omitempty"`
		NumPredict  int     `json:"num_predict,omitempty"`
	} `json:"options"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Generate sends a non-streaming chat request.
func (p *OllamaProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "gen_ai.generate",
		trace.WithAttributes(fsotel.LLMRequestAttributes("ollama", req.Model, req.Temperature, req.MaxTokens)...))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, TimeoutLLMCall)
	defer cancel()

	apiReq := ollamaRequest{Model: req.Model, Messages: req.Messages}
	apiReq.Options.Temperature = req.Temperature
	apiReq.Options.NumPredict = req.MaxTokens

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("marshalling ollama request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("creating ollama request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return nil, NewTransientError(fmt.Errorf("ollama api call: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := classifyStatus("ollama", resp.StatusCode, respBody)
		span.RecordError(err)
		return nil, err
	}

	var apiResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, NewTransientError(fmt.Errorf("decoding ollama response: %w", err))
	}
	if apiResp.Message.Content == "" {
		return nil, NewTransientError(fmt.Errorf("ollama: %w", ErrEmptyResponse))
	}

	// Older servers omit eval counts; estimate from content length.
	inputTokens, outputTokens := apiResp.PromptEvalCount, apiResp.EvalCount
	if inputTokens == 0 {
		for _, msg := range req.Messages {
			inputTokens += len(msg.Content) / 4
		}
	}
	if outputTokens == 0 {
		outputTokens = len(apiResp.Message.Content) / 4
	}
	span.SetAttributes(fsotel.LLMUsageAttributes(inputTokens, outputTokens)...)

	finish := apiResp.DoneReason
	if finish == "" {
		finish = "stop"
	}
	return &Response{
		Content:      apiResp.Message.Content,
		FinishReason: finish,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Model:        req.Model,
	}, nil
}

// EstimateCost is zero for local models.
func (p *OllamaProvider) EstimateCost(string, int, int) float64 { return 0 }
