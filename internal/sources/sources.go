// Package sources holds the external data providers the aggregator draws
// from: economic indicators, live market quotes and web search. Every client
// applies its own outbound rate limit and per-call timeout; none of them ever
// sees user data.
package sources

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	fsotel "github.com/ethanteng/finsight-sub001/internal/otel"
	"github.com/ethanteng/finsight-sub001/internal/tier"
)

var tracer = fsotel.Tracer("github.com/ethanteng/finsight-sub001/internal/sources")

// DefaultTimeout bounds a single provider call when none is configured.
const DefaultTimeout = 8 * time.Second

var (
	// ErrProviderUnavailable marks a soft failure: the source is omitted and
	// the request continues.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrCircuitOpen is returned without calling a provider that keeps failing.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrEmptyQuery is returned by query-driven sources called without a query.
	ErrEmptyQuery = errors.New("empty query")
)

// Source is one external provider.
type Source interface {
	// ID is the registry source id, e.g. "economic_indicators".
	ID() string
	// Category groups the result into a prompt section.
	Category() tier.Category
	// CacheKey returns the shared-cache key for query. Sources whose output
	// does not depend on the question return ID().
	CacheKey(query string) string
	// Fetch calls the upstream provider.
	Fetch(ctx context.Context, query string) (*Result, error)
}

// Indicator is one economic time-series observation.
type Indicator struct {
	SeriesID string          `json:"series_id"`
	Name     string          `json:"name"`
	Value    decimal.Decimal `json:"value"`
	Date     string          `json:"date"`
	Source   string          `json:"source"`
}

// Quote is one live market rate or price.
type Quote struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Value  decimal.Decimal `json:"value"`
	Date   string          `json:"date"`
	Source string          `json:"source"`
}

// SearchResult is one web search hit with HTML stripped from the snippet.
type SearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
	Source  string `json:"source"`
}

// Result is what a Source returns. Exactly one of the payload slices is set,
// matching the source category.
type Result struct {
	SourceID   string         `json:"source_id"`
	Provider   string         `json:"provider"`
	Indicators []Indicator    `json:"indicators,omitempty"`
	Quotes     []Quote        `json:"quotes,omitempty"`
	Search     []SearchResult `json:"search,omitempty"`
	FetchedAt  time.Time      `json:"fetched_at"`
}

// Empty reports whether the result carries no data.
func (r *Result) Empty() bool {
	return r == nil || (len(r.Indicators) == 0 && len(r.Quotes) == 0 && len(r.Search) == 0)
}

// queryKey builds a cache key for query-dependent sources.
func queryKey(id, query string) string {
	return id + ":" + strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
