// Package exchange implements the REST and WebSocket connectors shared by
// every supported venue (MEXC spot, Gate.io spot, Gate.io futures).
//
// The REST client (Client) wraps a resty.Client with:
//   - per-(venue, endpoint category) rate limiting via RateLimiter
//   - automatic retry on 5xx and network errors
//   - per-venue request signing via SigningStrategy
//
// Venue-specific endpoint paths and payload shapes live in mexc.go and
// gateio.go; this file only provides the transport plumbing every
// connector method is built on.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dasein108/cex-arbitrage-sub007/internal/config"
	"github.com/dasein108/cex-arbitrage-sub007/internal/errs"
	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

// Client is the shared REST transport for one venue.
type Client struct {
	http   *resty.Client
	signer SigningStrategy
	rl     *RateLimiter
	venue  types.ExchangeId
	logger *slog.Logger

	latencyMu   sync.RWMutex
	lastLatency time.Duration
	lastSuccess time.Time
}

// NewClient builds a rate-limited, retrying REST client for one venue.
func NewClient(venue types.ExchangeId, ec config.ExchangeConfig, signer SigningStrategy, logger *slog.Logger) *Client {
	timeout := ec.Network.RequestTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(ec.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(300 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Client{
		http:   httpClient,
		signer: signer,
		rl:     NewRateLimiter(ec.RateLimit.RequestsPerSecond, ec.RateLimit.OrderRequestsPerSecond, ec.RateLimit.Burst),
		venue:  venue,
		logger: logger.With("venue", venue),
	}
}

// doSigned issues a signed request, waiting on the rate limiter for cat first.
func (c *Client) doSigned(ctx context.Context, cat Category, method, path string, params map[string]string, body string, result any) error {
	if err := c.rl.Wait(ctx, cat); err != nil {
		return err
	}

	query := sortedQuery(params)
	headers, signedQuery, err := c.signer.Sign(method, path, query, body, time.Now())
	if err != nil {
		return errs.NewProtocol(errs.Tags{Venue: c.venue, Operation: path}, "sign request", err)
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryString(signedQuery)
	if body != "" {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		return errs.NewConnection(errs.Tags{Venue: c.venue, Operation: path}, "request failed", err)
	}
	c.recordLatency(time.Since(start))
	if resp.StatusCode() == http.StatusTooManyRequests {
		retryAfter := retryAfterOf(resp)
		c.rl.Penalize(cat, retryAfter)
		return errs.NewRateLimit(errs.Tags{Venue: c.venue, Operation: path}, retryAfter)
	}
	if resp.StatusCode() >= 400 {
		return errs.NewExchange(errs.Tags{Venue: c.venue, Operation: path},
			fmt.Sprintf("status %d: %s", resp.StatusCode(), resp.String()), resp.StatusCode() >= 500, nil)
	}
	return nil
}

// recordLatency records the round-trip time of a completed REST call, for
// the connection health probe to read back.
func (c *Client) recordLatency(d time.Duration) {
	c.latencyMu.Lock()
	c.lastLatency = d
	c.lastSuccess = time.Now()
	c.latencyMu.Unlock()
}

// Latency returns the most recently observed REST round-trip time and when
// it was measured. The zero time means no request has completed yet.
func (c *Client) Latency() (time.Duration, time.Time) {
	c.latencyMu.RLock()
	defer c.latencyMu.RUnlock()
	return c.lastLatency, c.lastSuccess
}

// retryAfterOf reads the venue's suggested retry-after window from a 429
// response's Retry-After header (seconds, per HTTP semantics), falling back
// to 1s if the venue omits it.
func retryAfterOf(resp *resty.Response) time.Duration {
	if s := resp.Header().Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Second
}

// doPublic issues an unsigned request against the public category bucket.
func (c *Client) doPublic(ctx context.Context, path string, params map[string]string, result any) error {
	if err := c.rl.Wait(ctx, CategoryPublic); err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(result).
		Get(path)
	if err != nil {
		return errs.NewConnection(errs.Tags{Venue: c.venue, Operation: path}, "request failed", err)
	}
	c.recordLatency(time.Since(start))
	if resp.StatusCode() == http.StatusTooManyRequests {
		retryAfter := retryAfterOf(resp)
		c.rl.Penalize(CategoryPublic, retryAfter)
		return errs.NewRateLimit(errs.Tags{Venue: c.venue, Operation: path}, retryAfter)
	}
	if resp.StatusCode() >= 400 {
		return errs.NewExchange(errs.Tags{Venue: c.venue, Operation: path},
			fmt.Sprintf("status %d: %s", resp.StatusCode(), resp.String()), resp.StatusCode() >= 500, nil)
	}
	return nil
}
