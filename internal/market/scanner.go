package market

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dasein108/cex-arbitrage-sub007/internal/config"
	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

// FeeLookup resolves a venue's taker fee and minimum base quantity for a
// symbol. Wired by the engine from each connector's SymbolInfo().
type FeeLookup func(venue types.ExchangeId, symbol types.Symbol) (takerFee decimal.Decimal, minBaseQty float64, ok bool)

// HealthCheck reports whether a venue's connection is currently trustworthy
// enough to act on. Wired by the engine from each connector's Health().
type HealthCheck func(venue types.ExchangeId) bool

// Detector periodically scans every tracked symbol across every pair of
// enabled venues for a net-of-fee arbitrage spread clearing the configured
// threshold. It ranks and deduplicates opportunities within one scan cycle
// and publishes the cycle's result on Results().
//
//   gross_spread   = sell_bid - buy_ask
//   executable_qty = min(buy_ask_qty, sell_bid_qty, max_order_quote/buy_ask)
//   fees           = buy_ask*q*taker_fee_buy + sell_bid*q*taker_fee_sell
//   net_profit     = gross_spread*q - fees
//   margin_bps     = floor(net_profit / (buy_ask*q) * 10000)
type Detector struct {
	cfg        config.ArbitrageConfig
	symbols    []types.Symbol
	venues     []types.ExchangeId
	aggregator *Aggregator
	fees       FeeLookup
	health     HealthCheck
	logger     *slog.Logger
	resultCh   chan []types.ArbitrageOpportunity

	latestMu sync.RWMutex
	latest   map[string]types.ArbitrageOpportunity
}

// NewDetector creates an opportunity detector over the given symbols and venues.
// health may be nil, in which case every venue is treated as healthy (used
// in tests that don't exercise connection health).
func NewDetector(cfg config.ArbitrageConfig, symbols []types.Symbol, venues []types.ExchangeId, aggregator *Aggregator, fees FeeLookup, health HealthCheck, logger *slog.Logger) *Detector {
	if health == nil {
		health = func(types.ExchangeId) bool { return true }
	}
	return &Detector{
		cfg:        cfg,
		symbols:    symbols,
		venues:     venues,
		aggregator: aggregator,
		fees:       fees,
		health:     health,
		logger:     logger.With("component", "detector"),
		resultCh:   make(chan []types.ArbitrageOpportunity, 1),
		latest:     make(map[string]types.ArbitrageOpportunity),
	}
}

// Results returns the channel consumers read each scan cycle's opportunities from.
// Only one reader can usefully drain this channel per cycle; tasks that need
// to look up a specific (symbol, buy_venue, sell_venue) triple without
// competing for the single slot should use For instead.
func (d *Detector) Results() <-chan []types.ArbitrageOpportunity {
	return d.resultCh
}

// For returns the most recent scan's opportunity for the given triple, if
// the last scan cycle found one. Safe for concurrent use by any number of
// strategy tasks.
func (d *Detector) For(symbol types.Symbol, buyVenue, sellVenue types.ExchangeId) (types.ArbitrageOpportunity, bool) {
	key := types.ArbitrageOpportunity{Symbol: symbol, BuyVenue: buyVenue, SellVenue: sellVenue}.Key()
	d.latestMu.RLock()
	defer d.latestMu.RUnlock()
	opp, ok := d.latest[key]
	return opp, ok
}

// ActiveCount returns how many opportunities the most recent scan cycle found.
func (d *Detector) ActiveCount() int {
	d.latestMu.RLock()
	defer d.latestMu.RUnlock()
	return len(d.latest)
}

// Run starts the scan loop. Blocks until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) {
	interval := d.cfg.ScanInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.scan()
		}
	}
}

func (d *Detector) scan() {
	now := uint64(time.Now().UnixMilli())
	freshness := d.cfg.FreshnessHorizon
	if freshness <= 0 {
		freshness = 500 * time.Millisecond
	}

	var found []types.ArbitrageOpportunity
	seen := make(map[string]bool)

	for _, symbol := range d.symbols {
		for _, buyVenue := range d.venues {
			for _, sellVenue := range d.venues {
				if buyVenue == sellVenue {
					continue
				}
				opp, ok := d.evaluate(symbol, buyVenue, sellVenue, now, freshness)
				if !ok {
					continue
				}
				key := opp.Key()
				if seen[key] {
					continue
				}
				seen[key] = true
				found = append(found, opp)
			}
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].SpreadBps > found[j].SpreadBps })

	latest := make(map[string]types.ArbitrageOpportunity, len(found))
	for _, opp := range found {
		latest[opp.Key()] = opp
	}
	d.latestMu.Lock()
	d.latest = latest
	d.latestMu.Unlock()

	d.logger.Debug("scan complete", "opportunities", len(found))

	select {
	case d.resultCh <- found:
	default:
		select {
		case <-d.resultCh:
		default:
		}
		d.resultCh <- found
	}
}

func (d *Detector) evaluate(symbol types.Symbol, buyVenue, sellVenue types.ExchangeId, nowMs uint64, freshness time.Duration) (types.ArbitrageOpportunity, bool) {
	if !d.health(buyVenue) || !d.health(sellVenue) {
		return types.ArbitrageOpportunity{}, false
	}

	buyTicker, ok := d.aggregator.BookTicker(buyVenue, symbol)
	if !ok || buyTicker.Age(nowMs) > freshness {
		return types.ArbitrageOpportunity{}, false
	}
	sellTicker, ok := d.aggregator.BookTicker(sellVenue, symbol)
	if !ok || sellTicker.Age(nowMs) > freshness {
		return types.ArbitrageOpportunity{}, false
	}
	if buyTicker.AskPrice <= 0 || sellTicker.BidPrice <= 0 {
		return types.ArbitrageOpportunity{}, false
	}

	grossSpread := sellTicker.BidPrice - buyTicker.AskPrice
	if grossSpread <= 0 {
		return types.ArbitrageOpportunity{}, false
	}

	// An abnormally wide spread usually signals a stale or thin book on one
	// side rather than a genuine dislocation; refuse rather than chase it.
	if d.cfg.MaxSpreadBps > 0 {
		rawSpreadBps := grossSpread / buyTicker.AskPrice * 10000
		if rawSpreadBps > float64(d.cfg.MaxSpreadBps) {
			return types.ArbitrageOpportunity{}, false
		}
	}

	maxOrderQuote := d.cfg.MaxPositionSizeUSD
	qtyCap := buyTicker.AskQty
	if sellTicker.BidQty < qtyCap {
		qtyCap = sellTicker.BidQty
	}
	if maxOrderQuote > 0 {
		if byQuote := maxOrderQuote / buyTicker.AskPrice; byQuote < qtyCap {
			qtyCap = byQuote
		}
	}
	if qtyCap <= 0 {
		return types.ArbitrageOpportunity{}, false
	}

	buyFee, buyMinBaseQty, _ := d.fees(buyVenue, symbol)
	sellFee, sellMinBaseQty, _ := d.fees(sellVenue, symbol)

	minBaseQty := buyMinBaseQty
	if sellMinBaseQty > minBaseQty {
		minBaseQty = sellMinBaseQty
	}
	if d.cfg.MinMarketDepthUSD > 0 {
		if byDepth := d.cfg.MinMarketDepthUSD / buyTicker.AskPrice; byDepth > minBaseQty {
			minBaseQty = byDepth
		}
	}
	if qtyCap < minBaseQty {
		return types.ArbitrageOpportunity{}, false
	}

	notional := buyTicker.AskPrice * qtyCap
	fees, _ := decimal.NewFromFloat(buyTicker.AskPrice * qtyCap).Mul(buyFee).
		Add(decimal.NewFromFloat(sellTicker.BidPrice * qtyCap).Mul(sellFee)).
		Float64()

	netProfit := grossSpread*qtyCap - fees
	if notional <= 0 {
		return types.ArbitrageOpportunity{}, false
	}
	marginBps := math.Floor(netProfit / notional * 10000)
	if int(marginBps) < d.cfg.MinProfitMarginBps {
		return types.ArbitrageOpportunity{}, false
	}

	return types.ArbitrageOpportunity{
		Direction:    types.DirectionEnter,
		Symbol:       symbol,
		BuyVenue:     buyVenue,
		SellVenue:    sellVenue,
		BuyPrice:     buyTicker.AskPrice,
		SellPrice:    sellTicker.BidPrice,
		MaxQuantity:  qtyCap,
		SpreadBps:    marginBps,
		DetectedAtMs: nowMs,
	}, true
}
