package audit

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Params is what the advisor knows at the end of a request. Prompt and
// Answer are hashed here and never stored.
type Params struct {
	RequestID string
	UserID    string
	Tier      string
	SessionID string
	Question  Question
	Sources   Sources
	Tokens    map[string]int
	Model     Model
	Prompt    string
	Answer    string
	Duration  time.Duration
	Error     string
	Timestamp time.Time
}

// Generator builds records and writes them to a Store.
type Generator struct {
	store *Store
	now   func() time.Time
}

// NewGenerator creates a Generator backed by store.
func NewGenerator(store *Store) *Generator {
	return &Generator{store: store, now: time.Now}
}

// Generate writes the record for p and returns it signed.
func (g *Generator) Generate(ctx context.Context, p Params) (*Record, error) {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = g.now()
	}
	rec := &Record{
		ID:         "aud_" + uuid.NewString()[:8],
		RequestID:  p.RequestID,
		Timestamp:  ts.UTC(),
		UserID:     p.UserID,
		Tier:       p.Tier,
		SessionID:  p.SessionID,
		Question:   p.Question,
		Sources:    p.Sources,
		Tokens:     p.Tokens,
		Model:      p.Model,
		Hashes:     Hashes{Prompt: Hash(p.Prompt)},
		DurationMS: p.Duration.Milliseconds(),
		Error:      p.Error,
	}
	if p.Answer != "" {
		rec.Hashes.Answer = Hash(p.Answer)
	}
	sort.Strings(rec.Question.PIIRedacted)
	if err := g.store.Store(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
