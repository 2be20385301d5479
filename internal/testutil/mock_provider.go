// Package testutil provides shared test helpers, mocks, and fixtures.
package testutil

import (
	"context"
	"sync"

	"github.com/ethanteng/finsight-sub001/internal/llm"
)

// MockProvider implements llm.Provider without network calls. It records
// every request so tests can assert what crossed the model boundary.
// When Content is empty, Generate returns "mock response from " + ProviderName.
// Errs are returned in order, one per call, before falling back to Content.
type MockProvider struct {
	ProviderName string
	Content      string
	// Respond, when set, computes the answer from the request.
	Respond func(req *llm.Request) string
	Errs    []error

	mu       sync.Mutex
	requests []llm.Request
}

func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

// Generate returns the next scripted error or a canned response.
func (m *MockProvider) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	cp := *req
	cp.Messages = append([]llm.Message(nil), req.Messages...)
	m.requests = append(m.requests, cp)
	n := len(m.requests) - 1
	m.mu.Unlock()

	if n < len(m.Errs) && m.Errs[n] != nil {
		return nil, m.Errs[n]
	}
	content := m.Content
	if m.Respond != nil {
		content = m.Respond(req)
	}
	if content == "" {
		content = "mock response from " + m.Name()
	}
	return &llm.Response{
		Content:      content,
		FinishReason: "stop",
		InputTokens:  10,
		OutputTokens: 20,
		Model:        req.Model,
	}, nil
}

// EstimateCost returns a fixed cost.
func (m *MockProvider) EstimateCost(string, int, int) float64 { return 0.001 }

// Requests returns copies of every request received.
func (m *MockProvider) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

// Calls returns the number of Generate calls.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
