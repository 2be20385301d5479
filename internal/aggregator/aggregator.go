// Package aggregator builds the per-request financial context: the user's own
// accounts and transactions plus every external source the user's tier
// permits. External fetches run concurrently, share one TTL cache across all
// users, and fail softly: a broken provider degrades the context, never the
// request.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethanteng/finsight-sub001/internal/accounts"
	"github.com/ethanteng/finsight-sub001/internal/cache"
	fsotel "github.com/ethanteng/finsight-sub001/internal/otel"
	"github.com/ethanteng/finsight-sub001/internal/sources"
	"github.com/ethanteng/finsight-sub001/internal/tier"
)

var tracer = fsotel.Tracer("github.com/ethanteng/finsight-sub001/internal/aggregator")

const (
	// DefaultTTL applies to sources without a configured TTL.
	DefaultTTL = 15 * time.Minute
	// DefaultProviderTimeout bounds one provider call.
	DefaultProviderTimeout = 10 * time.Second
	// DefaultQueryCacheSize bounds the cached search results, one per
	// distinct normalized query.
	DefaultQueryCacheSize = 256
)

// ErrNoData is recorded when a provider answers with nothing usable.
var ErrNoData = errors.New("provider returned no data")

// Attribution status values.
const (
	StatusLive    = "live"
	StatusCached  = "cached"
	StatusStale   = "stale"
	StatusOmitted = "omitted"
)

// Omission reasons beyond tier gating.
const (
	ReasonUnavailable   = "unavailable"
	ReasonNotConfigured = "not_configured"
	ReasonNoQuery       = "no_query"
)

// Flags selects which external sources a request wants.
type Flags struct {
	EconomicIndicators bool   `json:"economic_indicators"`
	LiveMarketData     bool   `json:"live_market_data"`
	Search             bool   `json:"search"`
	SearchQuery        string `json:"search_query,omitempty"`
}

// Wants reports whether sourceID was requested.
func (f Flags) Wants(sourceID string) bool {
	switch sourceID {
	case tier.SourceEconomicIndicators:
		return f.EconomicIndicators
	case tier.SourceLiveMarketData:
		return f.LiveMarketData
	case tier.SourceWebSearch:
		return f.Search
	}
	return false
}

// Any reports whether any external source was requested.
func (f Flags) Any() bool {
	return f.EconomicIndicators || f.LiveMarketData || f.Search
}

// Attribution names the upstream provider behind a piece of context.
type Attribution struct {
	SourceID  string        `json:"source_id"`
	Category  tier.Category `json:"category"`
	Provider  string        `json:"provider,omitempty"`
	Status    string        `json:"status"`
	FetchedAt time.Time     `json:"fetched_at,omitempty"`
	Note      string        `json:"note,omitempty"`
}

// Context is the aggregated, tier-filtered bundle handed to the prompt
// assembler. Optional sections are nil when absent.
type Context struct {
	Accounts           []accounts.Account     `json:"accounts"`
	Transactions       []accounts.Transaction `json:"transactions"`
	EconomicIndicators []sources.Indicator    `json:"economic_indicators,omitempty"`
	LiveMarketData     []sources.Quote        `json:"live_market_data,omitempty"`
	SearchResults      []sources.SearchResult `json:"search_results,omitempty"`
	SourceAttributions []Attribution          `json:"source_attributions"`
	OmittedSources     []tier.Omission        `json:"omitted_sources"`
}

// HasExternal reports whether any external section is present.
func (c *Context) HasExternal() bool {
	return len(c.EconomicIndicators) > 0 || len(c.LiveMarketData) > 0 || len(c.SearchResults) > 0
}

// Empty reports whether the context carries no data at all.
func (c *Context) Empty() bool {
	return len(c.Accounts) == 0 && len(c.Transactions) == 0 && !c.HasExternal()
}

// Aggregator fetches and merges sources. Safe for concurrent use; the cache
// and breaker are the only state shared across requests.
type Aggregator struct {
	registry *tier.Registry
	order    []string
	sources  map[string]sources.Source
	cache    *cache.TTLCache[*sources.Result]
	queries  *cache.TTLCache[*sources.Result]
	qsize    int
	breaker  *sources.Breaker
	ttls     map[string]time.Duration
	ttl      time.Duration
	timeout  time.Duration
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithTTL sets the cache TTL for one source id.
func WithTTL(sourceID string, ttl time.Duration) Option {
	return func(a *Aggregator) { a.ttls[sourceID] = ttl }
}

// WithDefaultTTL sets the TTL for sources without their own.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(a *Aggregator) { a.ttl = ttl }
}

// WithProviderTimeout bounds each provider call.
func WithProviderTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.timeout = d }
}

// WithCache injects the shared cache for query-independent sources, e.g. one
// with a test clock.
func WithCache(c *cache.TTLCache[*sources.Result]) Option {
	return func(a *Aggregator) { a.cache = c }
}

// WithQueryCache injects the bounded cache for query-keyed sources.
func WithQueryCache(c *cache.TTLCache[*sources.Result]) Option {
	return func(a *Aggregator) { a.queries = c }
}

// WithQueryCacheSize caps the number of cached search queries.
func WithQueryCacheSize(n int) Option {
	return func(a *Aggregator) { a.qsize = n }
}

// WithBreaker injects the circuit breaker.
func WithBreaker(b *sources.Breaker) Option {
	return func(a *Aggregator) { a.breaker = b }
}

// New creates an aggregator over srcs. Sources are consulted in the
// registry's order.
func New(registry *tier.Registry, srcs []sources.Source, opts ...Option) *Aggregator {
	a := &Aggregator{
		registry: registry,
		sources:  make(map[string]sources.Source, len(srcs)),
		ttls:     make(map[string]time.Duration),
		ttl:      DefaultTTL,
		timeout:  DefaultProviderTimeout,
		qsize:    DefaultQueryCacheSize,
	}
	for _, s := range srcs {
		a.sources[s.ID()] = s
	}
	for _, o := range opts {
		o(a)
	}
	if a.cache == nil {
		a.cache = cache.New[*sources.Result](cache.WithName("sources"))
	}
	if a.queries == nil {
		a.queries = cache.New[*sources.Result](cache.WithName("queries"), cache.WithMaxEntries(a.qsize))
	}
	if a.breaker == nil {
		a.breaker = sources.NewBreaker(0, 0)
	}
	a.order = registry.Sources()
	for _, s := range srcs {
		if _, ok := registry.Rule(s.ID()); !ok {
			log.Warn().Str("source_id", s.ID()).Msg("source_not_in_tier_registry")
		}
	}
	return a
}

// TTL returns the cache TTL of sourceID.
func (a *Aggregator) TTL(sourceID string) time.Duration {
	if d, ok := a.ttls[sourceID]; ok {
		return d
	}
	return a.ttl
}

// cacheFor returns the cache holding src's results. Search results vary per
// question and live in the bounded query cache so they cannot crowd out the
// few query-independent entries that back the stale fallback.
func (a *Aggregator) cacheFor(src sources.Source) *cache.TTLCache[*sources.Result] {
	if src.Category() == tier.CategorySearch {
		return a.queries
	}
	return a.cache
}

type outcome struct {
	sourceID    string
	result      *sources.Result
	attribution Attribution
	omission    *tier.Omission
}

// BuildContext assembles the context for one request. It never fails: tier
// denials and provider failures become OmittedSources entries and the
// first-party data is always included.
func (a *Aggregator) BuildContext(ctx context.Context, t tier.Tier, accts []accounts.Account, txns []accounts.Transaction, flags Flags) *Context {
	ctx, span := tracer.Start(ctx, "aggregator.build_context",
		trace.WithAttributes(
			fsotel.UserTier.String(t.String()),
			attribute.Bool("flags.economic", flags.EconomicIndicators),
			attribute.Bool("flags.market", flags.LiveMarketData),
			attribute.Bool("flags.search", flags.Search),
		))
	defer span.End()

	out := &Context{
		Accounts:           accts,
		Transactions:       txns,
		SourceAttributions: []Attribution{},
		OmittedSources:     []tier.Omission{},
	}

	var permitted []sources.Source
	for _, id := range a.order {
		if !flags.Wants(id) {
			continue
		}
		rule, _ := a.registry.Rule(id)
		if !a.registry.IsAllowed(t, id) {
			out.OmittedSources = append(out.OmittedSources, tier.Denied(rule))
			continue
		}
		src, ok := a.sources[id]
		if !ok {
			out.OmittedSources = append(out.OmittedSources, tier.Omission{SourceID: id, Reason: ReasonNotConfigured})
			out.SourceAttributions = append(out.SourceAttributions, Attribution{
				SourceID: id, Category: rule.Category, Status: StatusOmitted, Note: ReasonNotConfigured,
			})
			continue
		}
		permitted = append(permitted, src)
	}

	results := make([]outcome, len(permitted))
	var wg sync.WaitGroup
	for i, src := range permitted {
		wg.Add(1)
		go func(i int, src sources.Source) {
			defer wg.Done()
			results[i] = a.fetch(ctx, src, flags.SearchQuery)
		}(i, src)
	}
	wg.Wait()

	for _, r := range results {
		out.SourceAttributions = append(out.SourceAttributions, r.attribution)
		if r.omission != nil {
			out.OmittedSources = append(out.OmittedSources, *r.omission)
			continue
		}
		out.merge(r.result)
	}

	span.SetAttributes(
		attribute.Int("sources.requested", len(permitted)),
		attribute.Int("sources.omitted", len(out.OmittedSources)),
	)
	log.Debug().
		Str("tier", t.String()).
		Int("sources_requested", len(permitted)).
		Int("sources_omitted", len(out.OmittedSources)).
		Func(fsotel.LogTraceFields(ctx)).
		Msg("context_built")
	return out
}

func (c *Context) merge(r *sources.Result) {
	if r == nil {
		return
	}
	c.EconomicIndicators = append(c.EconomicIndicators, r.Indicators...)
	c.LiveMarketData = append(c.LiveMarketData, r.Quotes...)
	c.SearchResults = append(c.SearchResults, r.Search...)
}

// fetch resolves one source: fresh cache entry, else provider call, else the
// last cached value marked stale, else an omission.
func (a *Aggregator) fetch(ctx context.Context, src sources.Source, query string) outcome {
	id := src.ID()
	ctx, span := tracer.Start(ctx, "aggregator.fetch",
		trace.WithAttributes(fsotel.SourceID.String(id), fsotel.SourceCategory.String(string(src.Category()))))
	defer span.End()

	c := a.cacheFor(src)
	key := src.CacheKey(query)
	if res, ok := c.Get(ctx, key); ok {
		span.SetAttributes(fsotel.SourceOutcome.String(StatusCached))
		return outcome{sourceID: id, result: res, attribution: attributionFor(src, res, StatusCached)}
	}

	if src.Category() == tier.CategorySearch && query == "" {
		span.SetAttributes(fsotel.SourceOutcome.String(StatusOmitted))
		return omitted(src, ReasonNoQuery)
	}

	err := a.breaker.Check(id)
	if err == nil {
		var res *sources.Result
		res, err = a.call(ctx, src, query)
		if err == nil {
			a.breaker.RecordSuccess(id)
			res.FetchedAt = c.Now()
			c.Set(key, res, a.TTL(id))
			span.SetAttributes(fsotel.SourceOutcome.String(StatusLive))
			return outcome{sourceID: id, result: res, attribution: attributionFor(src, res, StatusLive)}
		}
		a.breaker.RecordFailure(id)
	}

	recordFailure(ctx, id)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	log.Warn().Err(err).
		Str("source_id", id).
		Func(fsotel.LogTraceFields(ctx)).
		Msg("source_fetch_failed")

	if last, ok := c.Last(key); ok && last.Value != nil {
		span.SetAttributes(fsotel.SourceOutcome.String(StatusStale))
		att := attributionFor(src, last.Value, StatusStale)
		att.Note = fmt.Sprintf("provider unavailable; showing data from %s", last.FetchedAt.UTC().Format(time.RFC3339))
		return outcome{sourceID: id, result: last.Value, attribution: att}
	}
	span.SetAttributes(fsotel.SourceOutcome.String(StatusOmitted))
	return omitted(src, ReasonUnavailable)
}

// call runs the provider under the per-provider timeout. The fetch runs in
// its own goroutine so a provider that ignores ctx cannot hold the request
// past the deadline; a panic in a provider is converted into an error.
func (a *Aggregator) call(ctx context.Context, src sources.Source, query string) (*sources.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type fetched struct {
		res *sources.Result
		err error
	}
	// Buffered: an abandoned fetch still delivers and exits.
	done := make(chan fetched, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetched{err: fmt.Errorf("panicked: %v: %w", r, sources.ErrProviderUnavailable)}
			}
		}()
		res, err := src.Fetch(ctx, query)
		done <- fetched{res: res, err: err}
	}()

	var f fetched
	select {
	case f = <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w: %w", src.ID(), sources.ErrProviderUnavailable, ctx.Err())
	}
	if f.err != nil {
		return nil, fmt.Errorf("%s: %w", src.ID(), f.err)
	}
	if f.res.Empty() {
		return nil, fmt.Errorf("%s: %w", src.ID(), ErrNoData)
	}
	return f.res, nil
}

func attributionFor(src sources.Source, res *sources.Result, status string) Attribution {
	return Attribution{
		SourceID:  src.ID(),
		Category:  src.Category(),
		Provider:  res.Provider,
		Status:    status,
		FetchedAt: res.FetchedAt,
	}
}

func omitted(src sources.Source, reason string) outcome {
	return outcome{
		sourceID: src.ID(),
		attribution: Attribution{
			SourceID: src.ID(),
			Category: src.Category(),
			Status:   StatusOmitted,
			Note:     reason,
		},
		omission: &tier.Omission{SourceID: src.ID(), Reason: reason},
	}
}
