package sources

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethanteng/finsight-sub001/internal/tier"
)

func TestEconomicIndicators_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/series/observations", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		switch r.URL.Query().Get("series_id") {
		case "FEDFUNDS":
			_, _ = w.Write([]byte(`{"observations":[{"date":"2026-02-01","value":"."},{"date":"2026-01-01","value":"4.33"}]}`))
		case "MORTGAGE30US":
			_, _ = w.Write([]byte(`{"observations":[{"date":"2026-02-26","value":"6.12"}]}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	src := NewEconomicIndicators(ClientConfig{BaseURL: srv.URL, APIKey: "test-key"}, []Series{
		{ID: "FEDFUNDS", Name: "Federal Funds Rate"},
		{ID: "MORTGAGE30US", Name: "30-Year Fixed Mortgage Rate"},
		{ID: "BROKEN", Name: "Broken"},
	})
	assert.Equal(t, tier.SourceEconomicIndicators, src.ID())
	assert.Equal(t, src.ID(), src.CacheKey("anything"))

	res, err := src.Fetch(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, res.Indicators, 2, "a failing series does not fail the source")
	assert.Equal(t, "4.33", res.Indicators[0].Value.String())
	assert.Equal(t, "2026-01-01", res.Indicators[0].Date, "missing '.' observations are skipped")
	assert.Equal(t, "FRED", res.Indicators[1].Source)
}

func TestEconomicIndicators_AllSeriesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewEconomicIndicators(ClientConfig{BaseURL: srv.URL}, nil)
	_, err := src.Fetch(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderUnavailable))
}

func TestLiveMarketData_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer mk", r.Header.Get("Authorization"))
		assert.Equal(t, "CD_1Y,SP500", r.URL.Query().Get("symbols"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"provider": "polygon",
			"data": []map[string]interface{}{
				{"symbol": "CD_1Y", "name": "1-Year CD", "value": 4.35, "as_of": "2026-03-01"},
				{"symbol": "SP500", "value": "5120.5", "as_of": "2026-03-01"},
				{"symbol": "BAD", "value": "n/a"},
			},
		})
	}))
	defer srv.Close()

	src := NewLiveMarketData(ClientConfig{BaseURL: srv.URL, APIKey: "mk"}, []string{"CD_1Y", "SP500"})
	res, err := src.Fetch(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, res.Quotes, 2)
	assert.Equal(t, "polygon", res.Provider)
	assert.Equal(t, "4.35", res.Quotes[0].Value.String())
	assert.Equal(t, "SP500", res.Quotes[1].Name, "name falls back to symbol")
}

func TestLiveMarketData_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	src := NewLiveMarketData(ClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	start := time.Now()
	_, err := src.Fetch(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderUnavailable))
	assert.Less(t, time.Since(start), 2*time.Second, "hung provider is bounded by the timeout")
}

func TestWebSearch_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "chase current rates today 2026", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"web":{"results":[
			{"title":"Chase <b>mortgage</b> rates","description":"Rates from <strong>6.1%</strong> &amp; up<script>x()</script>","url":"https://www.chase.com/rates","profile":{"name":"Chase"}},
			{"title":"Bankrate","description":"Compare rates","url":"https://www.bankrate.com/mortgages"}
		]}}`))
	}))
	defer srv.Close()

	src := NewWebSearch(ClientConfig{BaseURL: srv.URL, APIKey: "sk"}, 5)
	res, err := src.Fetch(context.Background(), "chase current rates today 2026")
	require.NoError(t, err)
	require.Len(t, res.Search, 2)
	assert.Equal(t, "Chase mortgage rates", res.Search[0].Title)
	assert.Equal(t, "Rates from 6.1% & up", res.Search[0].Snippet)
	assert.Equal(t, "Chase", res.Search[0].Source)
	assert.Equal(t, "bankrate.com", res.Search[1].Source)
}

func TestWebSearch_CacheKeyAndEmptyQuery(t *testing.T) {
	src := NewWebSearch(ClientConfig{BaseURL: "http://127.0.0.1:1"}, 0)
	assert.Equal(t, src.CacheKey("Chase  Rates"), src.CacheKey("chase rates"))
	assert.NotEqual(t, src.CacheKey("chase rates"), src.CacheKey("ally rates"))

	_, err := src.Fetch(context.Background(), "  ")
	assert.True(t, errors.Is(err, ErrEmptyQuery))
}

func TestRateLimit_WaitHonorsContext(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"data":[{"symbol":"CD_1Y","value":"4.1"}]}`))
	}))
	defer srv.Close()

	src := NewLiveMarketData(ClientConfig{BaseURL: srv.URL, RequestsPerMinute: 1}, nil)
	_, err := src.Fetch(context.Background(), "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = src.Fetch(ctx, "")
	require.Error(t, err, "second call inside the same minute waits past the deadline")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
