package query

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedClock() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

func TestEnhance(t *testing.T) {
	e := NewEnhancer(nil, nil, WithClock(fixedClock))

	tests := []struct {
		name     string
		question string
		want     string
	}{
		{
			name:     "institution and rate topic",
			question: "What's Chase's mortgage rate?",
			want:     "chase current rates today 2026 Chase's mortgage rate?",
		},
		{
			name:     "rate topic only",
			question: "What are typical CD rates right now?",
			want:     "What are typical CD rates right now? 2026",
		},
		{
			name:     "no match",
			question: "How much did I spend on groceries?",
			want:     "How much did I spend on groceries?",
		},
		{
			name:     "institution without rate topic",
			question: "Is Chase open on Sunday?",
			want:     "Is Chase open on Sunday?",
		},
		{
			name:     "first institution in the question wins",
			question: "Compare Ally and Chase savings rate",
			want:     "ally current rates today 2026 Chase savings rate",
		},
		{
			name:     "word boundaries respected",
			question: "city savings rate",
			want:     "city savings rate 2026",
		},
		{
			name:     "longer institution preferred",
			question: "Citibank auto loan options",
			want:     "citibank current rates today 2026 auto loan options",
		},
		{
			name:     "empty",
			question: "",
			want:     "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Enhance(tt.question))
		})
	}
}

func TestEnhance_CustomLists(t *testing.T) {
	e := NewEnhancer([]string{"First Credit Union"}, []string{"dividend"}, WithClock(fixedClock), WithTailWords(1))

	assert.Equal(t, "first credit union current rates today 2026 dividend?",
		e.Enhance("first credit union dividend?"))
	assert.Equal(t, "What is Chase's mortgage rate?", e.Enhance("What is Chase's mortgage rate?"))
}

func TestEnhance_Stateless(t *testing.T) {
	e := NewEnhancer(nil, nil, WithClock(fixedClock))
	q := "What's Chase's mortgage rate?"
	want := e.Enhance(q)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, e.Enhance(q))
		}()
	}
	wg.Wait()
}

func TestInstitutionAndMentionsRate(t *testing.T) {
	e := NewEnhancer(nil, nil)
	inst, ok := e.Institution("moving money from Wells Fargo")
	assert.True(t, ok)
	assert.Equal(t, "wells fargo", inst)
	assert.True(t, e.MentionsRate("best APY today"))
	assert.False(t, e.MentionsRate("my budget"))
}
