package sources

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ethanteng/finsight-sub001/internal/tier"
)

// Series is one economic time series to pull.
type Series struct {
	ID   string `mapstructure:"id" yaml:"id"`
	Name string `mapstructure:"name" yaml:"name"`
}

// DefaultSeries are the FRED series included in every indicators fetch.
var DefaultSeries = []Series{
	{ID: "CPIAUCSL", Name: "Consumer Price Index"},
	{ID: "FEDFUNDS", Name: "Federal Funds Rate"},
	{ID: "MORTGAGE30US", Name: "30-Year Fixed Mortgage Rate"},
	{ID: "DGS10", Name: "10-Year Treasury Yield"},
	{ID: "UNRATE", Name: "Unemployment Rate"},
}

// EconomicIndicators reads the latest observation of each configured series
// from a FRED-compatible API.
type EconomicIndicators struct {
	client httpClient
	apiKey string
	series []Series
}

// NewEconomicIndicators creates the economic indicators source. A nil series
// list means DefaultSeries.
func NewEconomicIndicators(cfg ClientConfig, series []Series) *EconomicIndicators {
	if len(series) == 0 {
		series = DefaultSeries
	}
	return &EconomicIndicators{
		client: newHTTPClient("fred", "https://api.stlouisfed.org/fred", cfg),
		apiKey: cfg.APIKey,
		series: series,
	}
}

func (s *EconomicIndicators) ID() string              { return tier.SourceEconomicIndicators }
func (s *EconomicIndicators) Category() tier.Category { return tier.CategoryEconomic }
func (s *EconomicIndicators) CacheKey(string) string  { return s.ID() }

type fredObservations struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// Get returns the latest observation of one series.
func (s *EconomicIndicators) Get(ctx context.Context, series Series) (Indicator, error) {
	q := url.Values{}
	q.Set("series_id", series.ID)
	q.Set("file_type", "json")
	q.Set("sort_order", "desc")
	q.Set("limit", "5")
	if s.apiKey != "" {
		q.Set("api_key", s.apiKey)
	}

	var body fredObservations
	if err := s.client.getJSON(ctx, "/series/observations", q, nil, &body); err != nil {
		return Indicator{}, err
	}
	// FRED reports "." for missing observations; take the newest real one.
	for _, o := range body.Observations {
		v, err := decimal.NewFromString(o.Value)
		if err != nil {
			continue
		}
		return Indicator{SeriesID: series.ID, Name: series.Name, Value: v, Date: o.Date, Source: "FRED"}, nil
	}
	return Indicator{}, fmt.Errorf("series %s has no observations: %w", series.ID, ErrProviderUnavailable)
}

// Fetch pulls every series concurrently. It succeeds if at least one series
// returned a value.
func (s *EconomicIndicators) Fetch(ctx context.Context, _ string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "sources.economic_indicators")
	defer span.End()

	out := make([]Indicator, len(s.series))
	errs := make([]error, len(s.series))
	var wg sync.WaitGroup
	for i, ser := range s.series {
		wg.Add(1)
		go func(i int, ser Series) {
			defer wg.Done()
			out[i], errs[i] = s.Get(ctx, ser)
		}(i, ser)
	}
	wg.Wait()

	res := &Result{SourceID: s.ID(), Provider: "FRED"}
	var firstErr error
	for i := range out {
		if errs[i] != nil {
			if firstErr == nil {
				firstErr = errs[i]
			}
			log.Warn().Err(errs[i]).Str("series_id", s.series[i].ID).Msg("economic_series_failed")
			continue
		}
		res.Indicators = append(res.Indicators, out[i])
	}
	if len(res.Indicators) == 0 {
		if firstErr == nil {
			firstErr = ErrProviderUnavailable
		}
		span.RecordError(firstErr)
		return nil, firstErr
	}
	return res, nil
}
