package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// ClientConfig is shared by every HTTP-backed source.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	// Timeout bounds one call; DefaultTimeout when zero.
	Timeout time.Duration
	// RequestsPerMinute caps outbound calls; unlimited when zero.
	RequestsPerMinute int
	HTTPClient        *http.Client
}

type httpClient struct {
	name    string
	baseURL string
	timeout time.Duration
	limiter *rate.Limiter
	http    *http.Client
}

func newHTTPClient(name, defaultBase string, cfg ClientConfig) httpClient {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return httpClient{name: name, baseURL: base, timeout: timeout, limiter: limiter, http: hc}
}

// getJSON performs a rate-limited, time-bounded GET and decodes the body into
// out. Any transport, status or decode failure wraps ErrProviderUnavailable.
func (c *httpClient) getJSON(ctx context.Context, path string, query url.Values, header http.Header, out interface{}) error {
	ctx, span := tracer.Start(ctx, "sources.http_get")
	defer span.End()
	span.SetAttributes(attribute.String("source.provider", c.name), attribute.String("http.route", path))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return c.fail(span, fmt.Errorf("%s rate limit wait: %w: %w", c.name, ErrProviderUnavailable, err))
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return c.fail(span, fmt.Errorf("creating %s request: %w", c.name, err))
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return c.fail(span, fmt.Errorf("%s call: %w: %w", c.name, ErrProviderUnavailable, err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return c.fail(span, fmt.Errorf("%s returned status %d: %s: %w", c.name, resp.StatusCode, body, ErrProviderUnavailable))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.fail(span, fmt.Errorf("decoding %s response: %w: %w", c.name, ErrProviderUnavailable, err))
	}

	log.Debug().
		Str("provider", c.name).
		Dur("duration", time.Since(start)).
		Msg("source_fetch_completed")
	return nil
}

func (c *httpClient) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
