package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethanteng/finsight-sub001/internal/tier"
)

type scriptedProvider struct {
	errs  []error
	calls int32
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(_ context.Context, req *Request) (*Response, error) {
	n := int(atomic.AddInt32(&p.calls, 1)) - 1
	if n < len(p.errs) && p.errs[n] != nil {
		return nil, p.errs[n]
	}
	return &Response{Content: "ok", Model: req.Model}, nil
}

func (p *scriptedProvider) EstimateCost(string, int, int) float64 { return 0 }

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetryingProvider(t *testing.T) {
	transient := NewTransientError(errors.New("503"))
	fatal := NewFatalError(errors.New("401"))

	tests := []struct {
		name      string
		errs      []error
		wantErr   bool
		wantCalls int32
	}{
		{name: "first call succeeds", errs: nil, wantCalls: 1},
		{name: "one transient failure then success", errs: []error{transient}, wantCalls: 2},
		{name: "unclassified failure retried", errs: []error{errors.New("boom")}, wantCalls: 2},
		{name: "two transient failures exhaust retry", errs: []error{transient, transient}, wantErr: true, wantCalls: 2},
		{name: "fatal is not retried", errs: []error{fatal}, wantErr: true, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &scriptedProvider{errs: tt.errs}
			p := WithRetry(inner, DefaultRetryConfig())
			p.sleep = noSleep

			resp, err := p.Generate(context.Background(), &Request{Model: "m"})
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&inner.calls))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrModelFailure))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ok", resp.Content)
		})
	}
}

func TestRetryingProvider_ContextCancelledDuringBackoff(t *testing.T) {
	inner := &scriptedProvider{errs: []error{NewTransientError(errors.New("503"))}}
	p := WithRetry(inner, RetryConfig{MaxAttempts: 2, BackoffBase: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Generate(ctx, &Request{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModelFailure))
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.calls))
}

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := RetryConfig{BackoffBase: time.Second, BackoffMultiplier: 2, MaxBackoff: 3 * time.Second}
	first := cfg.backoff(1)
	assert.GreaterOrEqual(t, first, time.Second)
	assert.LessOrEqual(t, first, 1200*time.Millisecond)
	assert.LessOrEqual(t, cfg.backoff(5), 3600*time.Millisecond, "capped before jitter")
}

func TestClassifyStatus(t *testing.T) {
	assert.True(t, IsTransient(classifyStatus("x", 429, nil)))
	assert.True(t, IsTransient(classifyStatus("x", 502, nil)))
	assert.True(t, IsFatal(classifyStatus("x", 400, nil)))
	assert.True(t, IsFatal(classifyStatus("x", 401, nil)))
}

func TestAnthropicProvider_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak", r.Header.Get("x-api-key"))
		var body anthropicRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "be concise", body.System)
		assert.Len(t, body.Messages, 1)
		assert.Equal(t, DefaultAnthropicMaxTokens, body.MaxTokens)
		_, _ = w.Write([]byte(`{"id":"msg_1","content":[{"type":"text","text":"Account_1 looks fine."}],"stop_reason":"end_turn","usage":{"input_tokens":12,"output_tokens":5}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("ak", srv.URL)
	resp, err := p.Generate(context.Background(), &Request{
		Model: "claude-sonnet-4-20250514",
		Messages: []Message{
			{Role: RoleSystem, Content: "be concise"},
			{Role: RoleUser, Content: "How is Account_1?"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Account_1 looks fine.", resp.Content)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Greater(t, p.EstimateCost(resp.Model, 1000, 1000), 0.0)
}

func TestAnthropicProvider_StatusClassified(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("ak", srv.URL)
	_, err := p.Generate(context.Background(), &Request{Model: "m"})
	assert.True(t, IsTransient(err))

	status = http.StatusUnauthorized
	_, err = p.Generate(context.Background(), &Request{Model: "m"})
	assert.True(t, IsFatal(err))
}

func TestOllamaProvider_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var body ollamaRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.False(t, body.Stream)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"Spend less at Merchant_2."},"done_reason":"stop","prompt_eval_count":30,"eval_count":7}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL)
	resp, err := p.Generate(context.Background(), &Request{Model: "llama3", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "Spend less at Merchant_2.", resp.Content)
	assert.Equal(t, 30, resp.InputTokens)
	assert.Equal(t, 0.0, p.EstimateCost("llama3", 1, 1))
}

func TestOpenAIProvider_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"Rates are 6.1%."},"finish_reason":"stop"}],"usage":{"prompt_tokens":40,"completion_tokens":6,"total_tokens":46}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk", srv.URL)
	resp, err := p.Generate(context.Background(), &Request{Model: "gpt-4o-mini", Messages: []Message{{Role: RoleUser, Content: "rates?"}}})
	require.NoError(t, err)
	assert.Equal(t, "Rates are 6.1%.", resp.Content)
	assert.Equal(t, 40, resp.InputTokens)
}

func TestOpenAIProvider_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIProvider("sk", srv.URL).Generate(context.Background(), &Request{Model: "gpt-4o"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestNewProvider(t *testing.T) {
	for _, name := range []string{"openai", "anthropic", "ollama"} {
		p, err := NewProvider(name, "k", "")
		require.NoError(t, err)
		assert.Equal(t, name, p.Name())
	}
	_, err := NewProvider("bedrock", "", "")
	assert.True(t, errors.Is(err, ErrProviderNotAvailable))
	assert.True(t, ProviderUsesAPIKey("openai"))
	assert.False(t, ProviderUsesAPIKey("ollama"))
}

func TestRouter(t *testing.T) {
	p := &scriptedProvider{}
	r := NewRouter(p, "gpt-4o-mini", map[string]string{"premium": "gpt-4o", "bogus": "x"})

	_, model := r.Route(context.Background(), tier.Premium)
	assert.Equal(t, "gpt-4o", model)
	got, model := r.Route(context.Background(), tier.Starter)
	assert.Equal(t, "gpt-4o-mini", model)
	assert.Same(t, p, got)
}
