package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
)

// ChatServer is an OpenAI-compatible chat completions endpoint that answers
// every request with Content and keeps the received message bodies.
type ChatServer struct {
	*httptest.Server
	Content string

	mu     sync.Mutex
	bodies []string
}

// NewChatServer starts a ChatServer. Callers must Close it.
func NewChatServer(content string) *ChatServer {
	cs := &ChatServer{Content: content}
	cs.Server = httptest.NewServer(http.HandlerFunc(cs.handle))
	return cs
}

func (cs *ChatServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/chat/completions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	cs.mu.Lock()
	for _, m := range req.Messages {
		cs.bodies = append(cs.bodies, m.Content)
	}
	cs.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  req.Model,
		"choices": []map[string]interface{}{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": cs.Content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
	})
}

// Messages returns every message body received so far.
func (cs *ChatServer) Messages() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]string(nil), cs.bodies...)
}
