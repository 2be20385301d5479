package sources

import (
	"context"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ethanteng/finsight-sub001/internal/tier"
)

// DefaultSearchResults caps how many hits are kept per query.
const DefaultSearchResults = 5

// WebSearch queries a Brave-compatible web search API. Its cache key includes
// the normalized query, so different questions never share results.
type WebSearch struct {
	client     httpClient
	apiKey     string
	maxResults int
	policy     *bluemonday.Policy
}

// NewWebSearch creates the web search source.
func NewWebSearch(cfg ClientConfig, maxResults int) *WebSearch {
	if maxResults <= 0 {
		maxResults = DefaultSearchResults
	}
	return &WebSearch{
		client:     newHTTPClient("search", "https://api.search.brave.com", cfg),
		apiKey:     cfg.APIKey,
		maxResults: maxResults,
		policy:     bluemonday.StrictPolicy(),
	}
}

func (s *WebSearch) ID() string              { return tier.SourceWebSearch }
func (s *WebSearch) Category() tier.Category { return tier.CategorySearch }

func (s *WebSearch) CacheKey(query string) string { return queryKey(s.ID(), query) }

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			URL         string `json:"url"`
			Profile     struct {
				Name string `json:"name"`
			} `json:"profile"`
		} `json:"results"`
	} `json:"web"`
}

// Search runs query and returns sanitized hits.
func (s *WebSearch) Search(ctx context.Context, query string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(s.maxResults))
	h := http.Header{}
	if s.apiKey != "" {
		h.Set("X-Subscription-Token", s.apiKey)
	}

	var body braveResponse
	if err := s.client.getJSON(ctx, "/res/v1/web/search", q, h, &body); err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(body.Web.Results))
	for _, r := range body.Web.Results {
		if len(out) == s.maxResults {
			break
		}
		src := r.Profile.Name
		if src == "" {
			src = hostOf(r.URL)
		}
		out = append(out, SearchResult{
			Title:   s.clean(r.Title),
			Snippet: s.clean(r.Description),
			URL:     r.URL,
			Source:  src,
		})
	}
	return out, nil
}

// Fetch implements Source.
func (s *WebSearch) Fetch(ctx context.Context, query string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "sources.web_search")
	defer span.End()

	hits, err := s.Search(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &Result{SourceID: s.ID(), Provider: "brave", Search: hits}, nil
}

func (s *WebSearch) clean(v string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(v)))
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return strings.TrimPrefix(u.Host, "www.")
}
