package aggregator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/ethanteng/finsight-sub001/internal/sources"
	"github.com/ethanteng/finsight-sub001/internal/tier"
)

// SourceStatus describes one configured source for status endpoints.
type SourceStatus struct {
	SourceID  string        `json:"source_id"`
	Category  tier.Category `json:"category"`
	MinTier   tier.Tier     `json:"min_tier"`
	TTL       string        `json:"ttl"`
	Circuit   string        `json:"circuit"`
	Cached    bool          `json:"cached"`
	Fresh     bool          `json:"fresh"`
	FetchedAt *time.Time    `json:"fetched_at,omitempty"`
	// Queries counts cached results of a query-keyed source.
	Queries int `json:"queries,omitempty"`
}

// Status reports every configured source in registry order.
func (a *Aggregator) Status() []SourceStatus {
	now := a.cache.Now()
	var out []SourceStatus
	for _, id := range a.order {
		src, ok := a.sources[id]
		if !ok {
			continue
		}
		rule, _ := a.registry.Rule(id)
		st := SourceStatus{
			SourceID: id,
			Category: src.Category(),
			MinTier:  rule.MinTier,
			TTL:      a.TTL(id).String(),
			Circuit:  a.breaker.State(id).String(),
		}
		if src.Category() == tier.CategorySearch {
			a.queryStatus(&st, src, now)
		} else if e, ok := a.cache.Last(src.CacheKey("")); ok {
			fetched := e.FetchedAt
			st.Cached = true
			st.Fresh = e.FreshAt(now)
			st.FetchedAt = &fetched
		}
		out = append(out, st)
	}
	return out
}

// queryStatus summarizes a query-keyed source: cached when any query is,
// fresh when any query is, fetched at its newest entry.
func (a *Aggregator) queryStatus(st *SourceStatus, src sources.Source, now time.Time) {
	prefix := src.CacheKey("")
	for _, e := range a.queries.Snapshot() {
		if !strings.HasPrefix(e.Key, prefix) {
			continue
		}
		st.Queries++
		st.Cached = true
		if e.FreshAt(now) {
			st.Fresh = true
		}
		if st.FetchedAt == nil || e.FetchedAt.After(*st.FetchedAt) {
			fetched := e.FetchedAt
			st.FetchedAt = &fetched
		}
	}
}

// Invalidate drops the cached value of each source id (all when none given)
// so the next request refetches.
func (a *Aggregator) Invalidate(ids ...string) {
	if len(ids) == 0 {
		a.cache.Purge()
		a.queries.Purge()
		log.Info().Msg("source_cache_purged")
		return
	}
	for _, id := range ids {
		src, ok := a.sources[id]
		if !ok {
			continue
		}
		if src.Category() == tier.CategorySearch {
			a.queries.InvalidatePrefix(src.CacheKey(""))
			continue
		}
		a.cache.Invalidate(src.CacheKey(""))
	}
	log.Info().Strs("source_ids", ids).Msg("source_cache_invalidated")
}

// Refresh refetches query-independent sources (all of them when ids is
// empty), bypassing the cache and the breaker, and stores the results. It
// returns the per-source errors; a failing source keeps its previous entry.
func (a *Aggregator) Refresh(ctx context.Context, ids ...string) map[string]error {
	ctx, span := tracer.Start(ctx, "aggregator.refresh")
	defer span.End()

	if len(ids) == 0 {
		ids = a.refreshable()
	}
	errs := make(map[string]error)
	for _, id := range ids {
		src, ok := a.sources[id]
		if !ok {
			errs[id] = fmt.Errorf("source %q is not configured", id)
			continue
		}
		if src.Category() == tier.CategorySearch {
			errs[id] = fmt.Errorf("source %q depends on the question and cannot be refreshed", id)
			continue
		}
		res, err := a.call(ctx, src, "")
		if err != nil {
			a.breaker.RecordFailure(id)
			recordFailure(ctx, id)
			errs[id] = err
			log.Warn().Err(err).Str("source_id", id).Msg("source_refresh_failed")
			continue
		}
		a.breaker.RecordSuccess(id)
		res.FetchedAt = a.cache.Now()
		a.cache.Set(src.CacheKey(""), res, a.TTL(id))
		log.Info().Str("source_id", id).Msg("source_refreshed")
	}
	return errs
}

func (a *Aggregator) refreshable() []string {
	var ids []string
	for _, id := range a.order {
		if src, ok := a.sources[id]; ok && src.Category() != tier.CategorySearch {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Refresher keeps shared source data warm on a cron schedule so user
// requests rarely pay for a provider round trip.
type Refresher struct {
	cron *cron.Cron
	agg  *Aggregator
}

// NewRefresher creates a refresher for agg. Cron expressions use the
// standard 5-field format (e.g. "*/10 * * * *").
func NewRefresher(agg *Aggregator) *Refresher {
	return &Refresher{cron: cron.New(), agg: agg}
}

// Schedule registers a refresh of ids (all refreshable sources when empty).
func (r *Refresher) Schedule(spec string, ids ...string) error {
	_, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		log.Info().Str("schedule", spec).Msg("scheduled_refresh_fired")
		errs := r.agg.Refresh(ctx, ids...)
		if len(errs) > 0 {
			log.Warn().Int("failed", len(errs)).Str("schedule", spec).Msg("scheduled_refresh_partial")
		}
	})
	if err != nil {
		return fmt.Errorf("registering refresh cron %q: %w", spec, err)
	}
	return nil
}

// Start begins executing scheduled refreshes.
func (r *Refresher) Start() {
	r.cron.Start()
}

// Stop halts the refresher and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}

// Entries returns the number of registered schedules.
func (r *Refresher) Entries() int {
	return len(r.cron.Entries())
}
