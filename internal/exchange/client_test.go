package exchange

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/dasein108/cex-arbitrage-sub007/internal/config"
	"github.com/dasein108/cex-arbitrage-sub007/internal/errs"
	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T, serverURL string, signer SigningStrategy) *Client {
	t.Helper()
	ec := config.ExchangeConfig{
		BaseURL:   serverURL,
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 100, OrderRequestsPerSecond: 100, Burst: 100},
	}
	return NewClient(types.MexcSpot, ec, signer, testLogger())
}

func TestDoPublicSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"symbol":"BTCUSDT","bidPrice":"100.0"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &MexcSigner{APIKey: "ak", SecretKey: "sk"})

	var result struct {
		Symbol   string `json:"symbol"`
		BidPrice string `json:"bidPrice"`
	}
	if err := c.doPublic(context.Background(), "/api/v3/ticker/bookTicker", map[string]string{"symbol": "BTCUSDT"}, &result); err != nil {
		t.Fatalf("doPublic() error = %v", err)
	}
	if result.Symbol != "BTCUSDT" || result.BidPrice != "100.0" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestDoPublicErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"msg":"invalid symbol"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &MexcSigner{APIKey: "ak", SecretKey: "sk"})

	err := c.doPublic(context.Background(), "/api/v3/ticker/bookTicker", nil, &struct{}{})
	if err == nil {
		t.Fatal("expected an error for a 400 response")
	}
	kind, ok := errs.KindOf(err)
	if !ok || kind != errs.KindExchange {
		t.Errorf("KindOf(err) = %v, %v, want KindExchange, true", kind, ok)
	}
}

func TestDoSignedAttachesSignatureHeaders(t *testing.T) {
	t.Parallel()

	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-MEXC-APIKEY")
		if r.URL.Query().Get("signature") == "" {
			t.Error("expected a signature query param on the signed request")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"orderId":"1"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &MexcSigner{APIKey: "ak", SecretKey: "sk"})

	var result struct {
		OrderID string `json:"orderId"`
	}
	err := c.doSigned(context.Background(), CategoryOrder, http.MethodPost, "/api/v3/order",
		map[string]string{"symbol": "BTCUSDT"}, "", &result)
	if err != nil {
		t.Fatalf("doSigned() error = %v", err)
	}
	if gotKey != "ak" {
		t.Errorf("X-MEXC-APIKEY header = %q, want ak", gotKey)
	}
	if result.OrderID != "1" {
		t.Errorf("OrderID = %q, want 1", result.OrderID)
	}
}

func TestDoSignedRateLimitStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &MexcSigner{APIKey: "ak", SecretKey: "sk"})

	err := c.doSigned(context.Background(), CategoryOrder, http.MethodPost, "/api/v3/order", nil, "", nil)
	if !errs.IsRetriable(err) {
		t.Errorf("expected a retriable error for 429, got %v", err)
	}
	kind, _ := errs.KindOf(err)
	if kind != errs.KindRateLimit {
		t.Errorf("KindOf(err) = %v, want KindRateLimit", kind)
	}
}

func TestDoSignedHonorsRetryAfterHeader(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &MexcSigner{APIKey: "ak", SecretKey: "sk"})

	err := c.doSigned(context.Background(), CategoryOrder, http.MethodPost, "/api/v3/order", nil, "", nil)
	retryAfter, ok := errs.RetryAfter(err)
	if !ok {
		t.Fatalf("expected a RateLimitError carrying RetryAfter")
	}
	if retryAfter != 2*time.Second {
		t.Errorf("RetryAfter = %v, want 2s from the venue's Retry-After header", retryAfter)
	}
}
