package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethanteng/finsight-sub001/internal/cache"
	"github.com/ethanteng/finsight-sub001/internal/sources"
	"github.com/ethanteng/finsight-sub001/internal/testutil"
	"github.com/ethanteng/finsight-sub001/internal/tier"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var allFlags = Flags{EconomicIndicators: true, LiveMarketData: true, Search: true, SearchQuery: "mortgage rates 2026"}

func newTestAggregator(t *testing.T, srcs []sources.Source, opts ...Option) (*Aggregator, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	opts = append([]Option{
		WithCache(cache.New[*sources.Result](cache.WithClock(clk.Now))),
		WithQueryCache(cache.New[*sources.Result](cache.WithClock(clk.Now), cache.WithMaxEntries(16))),
		WithDefaultTTL(10 * time.Minute),
		WithProviderTimeout(500 * time.Millisecond),
	}, opts...)
	return New(tier.DefaultRegistry(), srcs, opts...), clk
}

func findAttribution(ctx *Context, id string) (Attribution, bool) {
	for _, a := range ctx.SourceAttributions {
		if a.SourceID == id {
			return a, true
		}
	}
	return Attribution{}, false
}

func findOmission(ctx *Context, id string) (tier.Omission, bool) {
	for _, o := range ctx.OmittedSources {
		if o.SourceID == id {
			return o, true
		}
	}
	return tier.Omission{}, false
}

func TestBuildContext_PremiumGetsEverything(t *testing.T) {
	econ, market, search := testutil.EconomicSource(), testutil.MarketSource(), testutil.SearchSource()
	agg, _ := newTestAggregator(t, []sources.Source{econ, market, search})

	out := agg.BuildContext(context.Background(), tier.Premium, testutil.SampleAccounts(), testutil.SampleTransactions(), allFlags)

	assert.Len(t, out.Accounts, 2)
	assert.Len(t, out.Transactions, 2)
	assert.Len(t, out.EconomicIndicators, 2)
	assert.Len(t, out.LiveMarketData, 1)
	assert.Len(t, out.SearchResults, 1)
	assert.Empty(t, out.OmittedSources)
	require.Len(t, out.SourceAttributions, 3)
	for _, a := range out.SourceAttributions {
		assert.Equal(t, StatusLive, a.Status, a.SourceID)
	}
	assert.Equal(t, []string{"mortgage rates 2026"}, search.Queries())
}

func TestBuildContext_StarterOmitsWithUpgradeHint(t *testing.T) {
	econ := testutil.EconomicSource()
	agg, _ := newTestAggregator(t, []sources.Source{econ})

	out := agg.BuildContext(context.Background(), tier.Starter, testutil.SampleAccounts(), nil, Flags{EconomicIndicators: true})

	assert.Equal(t, 0, econ.Calls(), "denied source is never invoked")
	assert.Nil(t, out.EconomicIndicators)
	assert.Len(t, out.Accounts, 2, "first-party data has no tier gate")

	om, ok := findOmission(out, tier.SourceEconomicIndicators)
	require.True(t, ok)
	assert.Equal(t, "tier", om.Reason)
	require.NotNil(t, om.RequiredTier)
	assert.Equal(t, tier.Standard, *om.RequiredTier)
	assert.Contains(t, om.UpgradeHint, "Upgrade to standard")
}

func TestBuildContext_StandardMixesAllowedAndDenied(t *testing.T) {
	econ, market := testutil.EconomicSource(), testutil.MarketSource()
	agg, _ := newTestAggregator(t, []sources.Source{econ, market})

	out := agg.BuildContext(context.Background(), tier.Standard, nil, nil, allFlags)

	assert.Len(t, out.EconomicIndicators, 2)
	assert.Nil(t, out.LiveMarketData)
	assert.Equal(t, 0, market.Calls())
	_, ok := findOmission(out, tier.SourceLiveMarketData)
	assert.True(t, ok)
	_, ok = findOmission(out, tier.SourceWebSearch)
	assert.True(t, ok, "search is premium-only")
}

func TestBuildContext_UnrequestedSourcesSkipped(t *testing.T) {
	econ := testutil.EconomicSource()
	agg, _ := newTestAggregator(t, []sources.Source{econ})

	out := agg.BuildContext(context.Background(), tier.Premium, nil, nil, Flags{})
	assert.Equal(t, 0, econ.Calls())
	assert.Empty(t, out.SourceAttributions)
	assert.Empty(t, out.OmittedSources)
	assert.True(t, out.Empty())
}

func TestBuildContext_CacheWithinTTL(t *testing.T) {
	econ := testutil.EconomicSource()
	agg, clk := newTestAggregator(t, []sources.Source{econ}, WithTTL(tier.SourceEconomicIndicators, time.Hour))
	ctx := context.Background()
	flags := Flags{EconomicIndicators: true}

	agg.BuildContext(ctx, tier.Standard, nil, nil, flags)
	clk.Advance(59 * time.Minute)
	out := agg.BuildContext(ctx, tier.Standard, nil, nil, flags)
	assert.Equal(t, 1, econ.Calls(), "second request inside TTL is served from cache")
	att, _ := findAttribution(out, tier.SourceEconomicIndicators)
	assert.Equal(t, StatusCached, att.Status)

	clk.Advance(2 * time.Minute)
	out = agg.BuildContext(ctx, tier.Standard, nil, nil, flags)
	assert.Equal(t, 2, econ.Calls(), "expired entry triggers a refetch")
	att, _ = findAttribution(out, tier.SourceEconomicIndicators)
	assert.Equal(t, StatusLive, att.Status)
}

func TestBuildContext_CacheSharedAcrossUsers(t *testing.T) {
	econ := testutil.EconomicSource()
	agg, _ := newTestAggregator(t, []sources.Source{econ})
	ctx := context.Background()

	a := agg.BuildContext(ctx, tier.Premium, testutil.SampleAccounts(), nil, Flags{EconomicIndicators: true})
	b := agg.BuildContext(ctx, tier.Standard, nil, nil, Flags{EconomicIndicators: true})

	assert.Equal(t, 1, econ.Calls())
	assert.Len(t, a.Accounts, 2)
	assert.Empty(t, b.Accounts, "account data is never shared")
}

func TestBuildContext_SearchCacheKeyedByQuery(t *testing.T) {
	search := testutil.SearchSource()
	agg, _ := newTestAggregator(t, []sources.Source{search})
	ctx := context.Background()

	agg.BuildContext(ctx, tier.Premium, nil, nil, Flags{Search: true, SearchQuery: "chase rates"})
	agg.BuildContext(ctx, tier.Premium, nil, nil, Flags{Search: true, SearchQuery: "ally rates"})
	agg.BuildContext(ctx, tier.Premium, nil, nil, Flags{Search: true, SearchQuery: "chase rates"})
	assert.Equal(t, 2, search.Calls())
}

func TestBuildContext_QueryCacheBounded(t *testing.T) {
	econ, search := testutil.EconomicSource(), testutil.SearchSource()
	agg, clk := newTestAggregator(t, []sources.Source{econ, search}, WithTTL(tier.SourceWebSearch, time.Millisecond))
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		agg.BuildContext(ctx, tier.Premium, nil, nil, Flags{EconomicIndicators: true, Search: true, SearchQuery: fmt.Sprintf("rates question %d", i)})
		clk.Advance(time.Millisecond)
	}
	assert.Equal(t, 200, search.Calls())
	assert.LessOrEqual(t, agg.queries.Len(), 16)
	assert.Equal(t, 1, agg.cache.Len(), "query-independent entry kept apart from search results")
	_, ok := agg.cache.Last(tier.SourceEconomicIndicators)
	assert.True(t, ok)
}

func TestStatusAndInvalidate_QueryKeyedSource(t *testing.T) {
	search := testutil.SearchSource()
	agg, _ := newTestAggregator(t, []sources.Source{search})
	ctx := context.Background()

	agg.BuildContext(ctx, tier.Premium, nil, nil, Flags{Search: true, SearchQuery: "chase rates"})
	agg.BuildContext(ctx, tier.Premium, nil, nil, Flags{Search: true, SearchQuery: "ally rates"})

	status := agg.Status()
	require.Len(t, status, 1)
	assert.True(t, status[0].Cached)
	assert.True(t, status[0].Fresh)
	assert.Equal(t, 2, status[0].Queries)
	require.NotNil(t, status[0].FetchedAt)

	agg.Invalidate(tier.SourceWebSearch)
	assert.Equal(t, 0, agg.queries.Len())
	assert.False(t, agg.Status()[0].Cached)

	agg.BuildContext(ctx, tier.Premium, nil, nil, Flags{Search: true, SearchQuery: "chase rates"})
	assert.Equal(t, 3, search.Calls(), "invalidated query refetches")
}

func TestBuildContext_FaultIsolation(t *testing.T) {
	econ, market, search := testutil.EconomicSource(), testutil.MarketSource(), testutil.SearchSource()
	market.Err = errors.New("connection reset")
	agg, _ := newTestAggregator(t, []sources.Source{econ, market, search})

	out := agg.BuildContext(context.Background(), tier.Premium, testutil.SampleAccounts(), nil, allFlags)

	assert.Len(t, out.Accounts, 2)
	assert.NotEmpty(t, out.EconomicIndicators)
	assert.NotEmpty(t, out.SearchResults)
	assert.Nil(t, out.LiveMarketData)

	att, ok := findAttribution(out, tier.SourceLiveMarketData)
	require.True(t, ok, "attributions note the omission")
	assert.Equal(t, StatusOmitted, att.Status)
	om, ok := findOmission(out, tier.SourceLiveMarketData)
	require.True(t, ok)
	assert.Equal(t, ReasonUnavailable, om.Reason)
	assert.Empty(t, om.UpgradeHint)
}

func TestBuildContext_StaleFallback(t *testing.T) {
	market := testutil.MarketSource()
	agg, clk := newTestAggregator(t, []sources.Source{market})
	ctx := context.Background()
	flags := Flags{LiveMarketData: true}

	agg.BuildContext(ctx, tier.Premium, nil, nil, flags)
	clk.Advance(time.Hour)
	market.SetErr(errors.New("503"))

	out := agg.BuildContext(ctx, tier.Premium, nil, nil, flags)
	assert.Equal(t, 2, market.Calls())
	assert.Len(t, out.LiveMarketData, 1, "last known value served when refresh fails")
	att, _ := findAttribution(out, tier.SourceLiveMarketData)
	assert.Equal(t, StatusStale, att.Status)
	assert.Contains(t, att.Note, "provider unavailable")
	assert.Empty(t, out.OmittedSources)
}

func TestBuildContext_HungProviderBounded(t *testing.T) {
	econ, market := testutil.EconomicSource(), testutil.MarketSource()
	market.Delay = 10 * time.Second
	agg, _ := newTestAggregator(t, []sources.Source{econ, market}, WithProviderTimeout(50*time.Millisecond))

	start := time.Now()
	out := agg.BuildContext(context.Background(), tier.Premium, nil, nil, Flags{EconomicIndicators: true, LiveMarketData: true})
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.NotEmpty(t, out.EconomicIndicators)
	_, ok := findOmission(out, tier.SourceLiveMarketData)
	assert.True(t, ok)
}

// stuckSource blocks in Fetch without watching ctx.
type stuckSource struct {
	*testutil.MockSource
	block time.Duration
}

func (s *stuckSource) Fetch(_ context.Context, q string) (*sources.Result, error) {
	time.Sleep(s.block)
	return s.MockSource.Fetch(context.Background(), q)
}

func TestBuildContext_ProviderIgnoringContextBounded(t *testing.T) {
	econ := testutil.EconomicSource()
	market := &stuckSource{MockSource: testutil.MarketSource(), block: 3 * time.Second}
	agg, _ := newTestAggregator(t, []sources.Source{econ, market}, WithProviderTimeout(100*time.Millisecond))

	start := time.Now()
	out := agg.BuildContext(context.Background(), tier.Premium, nil, nil, Flags{EconomicIndicators: true, LiveMarketData: true})
	assert.Less(t, time.Since(start), time.Second)
	assert.NotEmpty(t, out.EconomicIndicators)
	om, ok := findOmission(out, tier.SourceLiveMarketData)
	require.True(t, ok)
	assert.Equal(t, ReasonUnavailable, om.Reason)
}

func TestCall_TimeoutWrapsProviderUnavailable(t *testing.T) {
	market := &stuckSource{MockSource: testutil.MarketSource(), block: 2 * time.Second}
	agg, _ := newTestAggregator(t, []sources.Source{market}, WithProviderTimeout(50*time.Millisecond))

	_, err := agg.call(context.Background(), market, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, sources.ErrProviderUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuildContext_ProviderPanicIsolated(t *testing.T) {
	econ, market := testutil.EconomicSource(), testutil.MarketSource()
	market.Panic = true
	agg, _ := newTestAggregator(t, []sources.Source{econ, market})

	out := agg.BuildContext(context.Background(), tier.Premium, nil, nil, Flags{EconomicIndicators: true, LiveMarketData: true})
	assert.NotEmpty(t, out.EconomicIndicators)
	_, ok := findOmission(out, tier.SourceLiveMarketData)
	assert.True(t, ok)
}

// rendezvousSource only succeeds if its peer is fetched at the same time.
type rendezvousSource struct {
	*testutil.MockSource
	wg *sync.WaitGroup
}

func (r *rendezvousSource) Fetch(ctx context.Context, q string) (*sources.Result, error) {
	r.wg.Done()
	done := make(chan struct{})
	go func() { r.wg.Wait(); close(done) }()
	select {
	case <-done:
		return r.MockSource.Fetch(ctx, q)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestBuildContext_FetchesConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	econ := &rendezvousSource{MockSource: testutil.EconomicSource(), wg: &wg}
	market := &rendezvousSource{MockSource: testutil.MarketSource(), wg: &wg}
	agg, _ := newTestAggregator(t, []sources.Source{econ, market}, WithProviderTimeout(2*time.Second))

	out := agg.BuildContext(context.Background(), tier.Premium, nil, nil, Flags{EconomicIndicators: true, LiveMarketData: true})
	assert.NotEmpty(t, out.EconomicIndicators)
	assert.NotEmpty(t, out.LiveMarketData)
}

func TestBuildContext_CircuitBreakerShortCircuits(t *testing.T) {
	market := testutil.MarketSource()
	market.Err = errors.New("down")
	agg, clk := newTestAggregator(t, []sources.Source{market}, WithBreaker(sources.NewBreaker(2, time.Minute)))
	ctx := context.Background()
	flags := Flags{LiveMarketData: true}

	for i := 0; i < 4; i++ {
		agg.BuildContext(ctx, tier.Premium, nil, nil, flags)
		clk.Advance(time.Second)
	}
	assert.Equal(t, 2, market.Calls(), "open circuit skips the provider")
	assert.Equal(t, sources.CircuitOpen, agg.breaker.State(tier.SourceLiveMarketData))
}

func TestBuildContext_SearchWithoutQuery(t *testing.T) {
	search := testutil.SearchSource()
	agg, _ := newTestAggregator(t, []sources.Source{search})

	out := agg.BuildContext(context.Background(), tier.Premium, nil, nil, Flags{Search: true})
	assert.Equal(t, 0, search.Calls())
	om, ok := findOmission(out, tier.SourceWebSearch)
	require.True(t, ok)
	assert.Equal(t, ReasonNoQuery, om.Reason)
}

func TestBuildContext_EmptyResultOmitted(t *testing.T) {
	econ := testutil.EconomicSource()
	econ.Result = &sources.Result{SourceID: tier.SourceEconomicIndicators}
	agg, _ := newTestAggregator(t, []sources.Source{econ})

	out := agg.BuildContext(context.Background(), tier.Premium, nil, nil, Flags{EconomicIndicators: true})
	_, ok := findOmission(out, tier.SourceEconomicIndicators)
	assert.True(t, ok)
	assert.Equal(t, 0, agg.cache.Len(), "empty results are not cached")
}

func TestBuildContext_NotConfigured(t *testing.T) {
	agg, _ := newTestAggregator(t, nil)
	out := agg.BuildContext(context.Background(), tier.Premium, nil, nil, Flags{LiveMarketData: true})
	om, ok := findOmission(out, tier.SourceLiveMarketData)
	require.True(t, ok)
	assert.Equal(t, ReasonNotConfigured, om.Reason)
}

func TestRefreshInvalidateStatus(t *testing.T) {
	econ, market, search := testutil.EconomicSource(), testutil.MarketSource(), testutil.SearchSource()
	market.Err = errors.New("down")
	agg, _ := newTestAggregator(t, []sources.Source{econ, market, search})
	ctx := context.Background()

	errs := agg.Refresh(ctx)
	assert.Len(t, errs, 1)
	assert.Contains(t, errs, tier.SourceLiveMarketData)
	assert.Equal(t, 0, search.Calls(), "query-driven sources are not refreshed")

	status := agg.Status()
	require.Len(t, status, 3)
	assert.Equal(t, tier.SourceEconomicIndicators, status[0].SourceID)
	assert.True(t, status[0].Cached)
	assert.True(t, status[0].Fresh)
	assert.False(t, status[1].Cached)

	agg.BuildContext(ctx, tier.Premium, nil, nil, Flags{EconomicIndicators: true})
	assert.Equal(t, 1, econ.Calls(), "refreshed value served from cache")

	agg.Invalidate(tier.SourceEconomicIndicators)
	agg.BuildContext(ctx, tier.Premium, nil, nil, Flags{EconomicIndicators: true})
	assert.Equal(t, 2, econ.Calls())

	errs = agg.Refresh(ctx, "nope", tier.SourceWebSearch)
	assert.Len(t, errs, 2)

	agg.Invalidate()
	assert.Equal(t, 0, agg.cache.Len())
}

func TestRefresher(t *testing.T) {
	agg, _ := newTestAggregator(t, []sources.Source{testutil.EconomicSource()})
	r := NewRefresher(agg)

	require.NoError(t, r.Schedule("*/10 * * * *"))
	require.NoError(t, r.Schedule("0 * * * *", tier.SourceEconomicIndicators))
	assert.Error(t, r.Schedule("not a cron"))
	assert.Equal(t, 2, r.Entries())

	r.Start()
	r.Stop()
}

func TestFlags(t *testing.T) {
	f := Flags{LiveMarketData: true}
	assert.True(t, f.Any())
	assert.True(t, f.Wants(tier.SourceLiveMarketData))
	assert.False(t, f.Wants(tier.SourceWebSearch))
	assert.False(t, f.Wants("unknown"))
	assert.False(t, Flags{}.Any())
}
