package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethanteng/finsight-sub001/internal/sources"
	"github.com/ethanteng/finsight-sub001/internal/tier"
)

// MockSource implements sources.Source with a canned result.
type MockSource struct {
	SourceID string
	Cat      tier.Category
	Result   *sources.Result
	Err      error
	// Delay blocks Fetch until it elapses or ctx ends.
	Delay time.Duration
	// Panic makes Fetch panic.
	Panic bool
	// QueryKeyed includes the query in the cache key, like web search.
	QueryKeyed bool

	mu      sync.Mutex
	calls   int32
	queries []string
}

func (m *MockSource) ID() string              { return m.SourceID }
func (m *MockSource) Category() tier.Category { return m.Cat }

func (m *MockSource) CacheKey(query string) string {
	if m.QueryKeyed {
		return m.SourceID + ":" + query
	}
	return m.SourceID
}

// Fetch returns the configured result or error.
func (m *MockSource) Fetch(ctx context.Context, query string) (*sources.Result, error) {
	atomic.AddInt32(&m.calls, 1)
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.mu.Unlock()

	if m.Panic {
		panic("mock source panic")
	}
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result == nil {
		return nil, nil
	}
	cp := *m.Result
	return &cp, nil
}

// SetErr changes the error returned by later calls.
func (m *MockSource) SetErr(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}

// Calls returns how many times Fetch ran.
func (m *MockSource) Calls() int { return int(atomic.LoadInt32(&m.calls)) }

// Queries returns every query Fetch received.
func (m *MockSource) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

// EconomicSource returns a mock economic indicators source with one CPI
// observation.
func EconomicSource() *MockSource {
	return &MockSource{
		SourceID: tier.SourceEconomicIndicators,
		Cat:      tier.CategoryEconomic,
		Result: &sources.Result{
			SourceID: tier.SourceEconomicIndicators,
			Provider: "FRED",
			Indicators: []sources.Indicator{
				{SeriesID: "CPIAUCSL", Name: "Consumer Price Index", Value: Dec("319.1"), Date: "2026-01-01", Source: "FRED"},
				{SeriesID: "MORTGAGE30US", Name: "30-Year Fixed Mortgage Rate", Value: Dec("6.12"), Date: "2026-02-26", Source: "FRED"},
			},
		},
	}
}

// MarketSource returns a mock live market data source.
func MarketSource() *MockSource {
	return &MockSource{
		SourceID: tier.SourceLiveMarketData,
		Cat:      tier.CategoryMarket,
		Result: &sources.Result{
			SourceID: tier.SourceLiveMarketData,
			Provider: "polygon",
			Quotes:   []sources.Quote{{Symbol: "CD_1Y", Name: "1-Year CD", Value: Dec("4.35"), Date: "2026-03-01", Source: "polygon"}},
		},
	}
}

// SearchSource returns a mock web search source keyed by query.
func SearchSource() *MockSource {
	return &MockSource{
		SourceID:   tier.SourceWebSearch,
		Cat:        tier.CategorySearch,
		QueryKeyed: true,
		Result: &sources.Result{
			SourceID: tier.SourceWebSearch,
			Provider: "brave",
			Search: []sources.SearchResult{
				{Title: "Mortgage rates today", Snippet: "Average 30-year rate is 6.1%.", URL: "https://www.bankrate.com/mortgages", Source: "bankrate.com"},
			},
		},
	}
}
