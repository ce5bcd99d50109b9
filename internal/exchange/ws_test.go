package exchange

import (
	"testing"

	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

func TestMexcBuildSubscribeIncludesAllSymbols(t *testing.T) {
	t.Parallel()

	c := newMexcConnector(testExchangeConfig(), &MexcSigner{APIKey: "ak", SecretKey: "sk"}, testLogger())
	msg := c.buildSubscribe([]types.Symbol{{Base: "BTC", Quote: "USDT"}, {Base: "ETH", Quote: "USDT"}})

	m, ok := msg.(map[string]any)
	if !ok {
		t.Fatalf("buildSubscribe() returned %T, want map[string]any", msg)
	}
	params, ok := m["params"].([]string)
	if !ok || len(params) != 2 {
		t.Fatalf("params = %v", m["params"])
	}
	if params[0] != "spot@public.bookTicker.v3.api@BTCUSDT" {
		t.Errorf("params[0] = %q", params[0])
	}
}

func TestMexcHandleMessageDispatchesBookTicker(t *testing.T) {
	t.Parallel()

	c := newMexcConnector(testExchangeConfig(), &MexcSigner{APIKey: "ak", SecretKey: "sk"}, testLogger())
	bookCh := make(chan types.BookTicker, 1)
	orderCh := make(chan types.Order, 1)

	payload := []byte(`{"c":"spot@public.bookTicker.v3.api@BTCUSDT","s":"BTCUSDT","t":1700000000000,"d":{"b":"100.1","B":"1.0","a":"100.2","A":"2.0"}}`)
	c.handleMessage(payload, bookCh, orderCh, c.logger)

	select {
	case ticker := <-bookCh:
		if ticker.BidPrice != 100.1 || ticker.AskPrice != 100.2 {
			t.Errorf("ticker = %+v", ticker)
		}
	default:
		t.Fatal("expected a book ticker on bookCh")
	}
}

func TestMexcHandleMessageIgnoresUnrelatedChannel(t *testing.T) {
	t.Parallel()

	c := newMexcConnector(testExchangeConfig(), &MexcSigner{APIKey: "ak", SecretKey: "sk"}, testLogger())
	bookCh := make(chan types.BookTicker, 1)
	orderCh := make(chan types.Order, 1)

	c.handleMessage([]byte(`{"c":"spot@public.deals.v3.api@BTCUSDT"}`), bookCh, orderCh, c.logger)

	select {
	case ticker := <-bookCh:
		t.Errorf("expected no book ticker, got %+v", ticker)
	default:
	}
}

func TestGateioBuildSubscribeUsesSpotChannel(t *testing.T) {
	t.Parallel()

	c := newGateioConnector(types.GateioSpot, "/api/v4/spot", testExchangeConfig(), &GateioSigner{APIKey: "ak", SecretKey: "sk"}, testLogger())
	msg := c.buildSubscribe([]types.Symbol{{Base: "BTC", Quote: "USDT"}})

	m, ok := msg.(map[string]any)
	if !ok {
		t.Fatalf("buildSubscribe() returned %T", msg)
	}
	if m["channel"] != "spot.book_ticker" {
		t.Errorf("channel = %v, want spot.book_ticker", m["channel"])
	}
	payload, ok := m["payload"].([]string)
	if !ok || payload[0] != "BTC_USDT" {
		t.Errorf("payload = %v", m["payload"])
	}
}

func TestGateioHandleMessageDispatchesOnUpdateEvent(t *testing.T) {
	t.Parallel()

	c := newGateioConnector(types.GateioSpot, "/api/v4/spot", testExchangeConfig(), &GateioSigner{APIKey: "ak", SecretKey: "sk"}, testLogger())
	bookCh := make(chan types.BookTicker, 1)
	orderCh := make(chan types.Order, 1)

	payload := []byte(`{"channel":"spot.book_ticker","event":"update","result":{"s":"BTC_USDT","b":"100.1","B":"1.0","a":"100.2","A":"2.0","t":1700000000000}}`)
	c.handleMessage(payload, bookCh, orderCh, c.logger)

	select {
	case ticker := <-bookCh:
		if ticker.BidPrice != 100.1 {
			t.Errorf("ticker = %+v", ticker)
		}
	default:
		t.Fatal("expected a book ticker on bookCh")
	}
}
