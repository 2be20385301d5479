package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ethanteng/finsight-sub001/internal/tier"
)

// DefaultSymbols are the market rates quoted to premium users.
var DefaultSymbols = []string{"CD_1Y", "CD_5Y", "TBILL_3M", "TNOTE_2Y", "HYSA_AVG", "SP500"}

// LiveMarketData reads current quotes from a market-data HTTP API.
type LiveMarketData struct {
	client  httpClient
	apiKey  string
	symbols []string
}

// NewLiveMarketData creates the live market data source. A nil symbol list
// means DefaultSymbols.
func NewLiveMarketData(cfg ClientConfig, symbols []string) *LiveMarketData {
	if len(symbols) == 0 {
		symbols = DefaultSymbols
	}
	return &LiveMarketData{
		client:  newHTTPClient("market", "https://api.marketdata.example.com", cfg),
		apiKey:  cfg.APIKey,
		symbols: symbols,
	}
}

func (s *LiveMarketData) ID() string              { return tier.SourceLiveMarketData }
func (s *LiveMarketData) Category() tier.Category { return tier.CategoryMarket }
func (s *LiveMarketData) CacheKey(string) string  { return s.ID() }

type marketQuotes struct {
	Provider string `json:"provider"`
	Data     []struct {
		Symbol string     `json:"symbol"`
		Name   string     `json:"name"`
		Value  flexNumber `json:"value"`
		AsOf   string     `json:"as_of"`
	} `json:"data"`
}

// flexNumber accepts quotes encoded as either JSON numbers or strings.
type flexNumber string

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	*n = flexNumber(strings.Trim(string(b), `"`))
	return nil
}

// Fetch returns the latest quote for every configured symbol.
func (s *LiveMarketData) Fetch(ctx context.Context, _ string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "sources.live_market_data")
	defer span.End()

	q := url.Values{}
	q.Set("symbols", strings.Join(s.symbols, ","))
	h := http.Header{}
	if s.apiKey != "" {
		h.Set("Authorization", "Bearer "+s.apiKey)
	}

	var body marketQuotes
	if err := s.client.getJSON(ctx, "/v1/quotes", q, h, &body); err != nil {
		return nil, err
	}

	provider := body.Provider
	if provider == "" {
		provider = "market"
	}
	res := &Result{SourceID: s.ID(), Provider: provider}
	for _, d := range body.Data {
		v, err := decimal.NewFromString(string(d.Value))
		if err != nil {
			continue
		}
		name := d.Name
		if name == "" {
			name = d.Symbol
		}
		res.Quotes = append(res.Quotes, Quote{Symbol: d.Symbol, Name: name, Value: v, Date: d.AsOf, Source: provider})
	}
	if len(res.Quotes) == 0 {
		err := fmt.Errorf("market data returned no quotes: %w", ErrProviderUnavailable)
		span.RecordError(err)
		return nil, err
	}
	return res, nil
}
