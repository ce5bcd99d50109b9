// manager.go implements the Exchange Manager: a uniform trading surface over
// N venues that coordinates parallel order placement, tracks fills, and
// enforces pre-trade quantity checks. The batch-diff-and-submit pattern and
// per-market goroutine/channel dispatch are generalized from one venue to N
// venues placed in parallel with a per-submission timeout.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

// quantityEpsilon is the small precision buffer added when a leg is raised
// to meet a venue's minimum quote quantity.
const quantityEpsilon = 1e-9

// Manager presents a uniform trading surface over every configured venue.
// One Manager is shared by all strategy tasks; each task addresses it by
// types.ExchangeId, never by a venue-specific type.
type Manager struct {
	connectors map[types.ExchangeId]Connector
	logger     *slog.Logger
}

// NewManager builds an Exchange Manager over an already-initialized set of
// connectors, keyed by venue.
func NewManager(connectors map[types.ExchangeId]Connector, logger *slog.Logger) *Manager {
	return &Manager{
		connectors: connectors,
		logger:     logger.With("component", "exchange-manager"),
	}
}

// GetExchange returns the connector handle for venue, or false if it is not configured.
func (m *Manager) GetExchange(venue types.ExchangeId) (Connector, bool) {
	c, ok := m.connectors[venue]
	return c, ok
}

// PlacementResult carries either an accepted Order or the reason a venue's
// submission failed. The caller always gets one entry per requested venue.
type PlacementResult struct {
	Order types.Order
	Err   error
}

// PlaceOrdersParallel launches one submission per requested venue
// concurrently and collects results with a per-submission timeout. The
// returned map always contains an entry for every key in params; a failed
// submission carries a non-nil Err rather than being omitted.
func (m *Manager) PlaceOrdersParallel(ctx context.Context, params map[types.ExchangeId]types.OrderPlacementParams, perSubmitTimeout time.Duration) map[types.ExchangeId]PlacementResult {
	if perSubmitTimeout <= 0 {
		perSubmitTimeout = 3 * time.Second
	}

	results := make(map[types.ExchangeId]PlacementResult, len(params))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for venue, p := range params {
		venue, p := venue, p
		wg.Add(1)
		go func() {
			defer wg.Done()

			conn, ok := m.connectors[venue]
			if !ok {
				mu.Lock()
				results[venue] = PlacementResult{Err: fmt.Errorf("venue %q not configured", venue)}
				mu.Unlock()
				return
			}

			subCtx, cancel := context.WithTimeout(ctx, perSubmitTimeout)
			defer cancel()

			order, err := conn.PlaceOrder(subCtx, p)

			mu.Lock()
			results[venue] = PlacementResult{Order: order, Err: err}
			mu.Unlock()
		}()
	}

	wg.Wait()
	return results
}

// CancelAllOrders broadcasts a best-effort cancel of every open order across
// every connected venue for symbol. Individual cancel failures are logged,
// not returned, since this is called from shutdown and error-recovery paths
// where there is no further action to take on a per-order failure.
func (m *Manager) CancelAllOrders(ctx context.Context, symbol types.Symbol) {
	var wg sync.WaitGroup
	for venue, conn := range m.connectors {
		venue, conn := venue, conn
		wg.Add(1)
		go func() {
			defer wg.Done()
			open, err := conn.GetOpenOrders(ctx, symbol)
			if err != nil {
				m.logger.Warn("list open orders for cancel-all failed", "venue", venue, "error", err)
				return
			}
			for _, o := range open {
				if err := conn.CancelOrder(ctx, symbol, o.OrderID); err != nil {
					m.logger.Warn("cancel order failed", "venue", venue, "order_id", o.OrderID, "error", err)
				}
			}
		}()
	}
	wg.Wait()
}

// RoundBaseToContracts applies venue's contract lot size to qty, truncating
// toward zero. Spot venues (ContractSize <= 0) return qty unchanged.
func RoundBaseToContracts(info types.SymbolInfo, qty float64) float64 {
	if info.ContractSize <= 0 {
		return qty
	}
	contracts := float64(int64(qty / info.ContractSize))
	return contracts * info.ContractSize
}

// PrepareOrderQuantity prepares one leg's order quantity:
//  1. If the venue's min_quote_qty/price > qty, raise qty to
//     min_quote_qty/price + epsilon.
//  2. If the venue is futures, round to the contract size (truncate toward zero).
func PrepareOrderQuantity(venue types.ExchangeId, info types.SymbolInfo, price, qty float64) float64 {
	if price > 0 && info.MinQuoteQty > 0 {
		minQty := info.MinQuoteQty/price + quantityEpsilon
		if minQty > qty {
			qty = minQty
		}
	}
	if venue.MarketType() == types.MarketFutures {
		qty = RoundBaseToContracts(info, qty)
	}
	return qty
}

// ReconcileLegQuantities applies PrepareOrderQuantity to both legs of a
// delta-neutral pair and, if they diverge afterward, raises both to the
// larger of the two so the caller's legs agree.
func ReconcileLegQuantities(buyVenue, sellVenue types.ExchangeId, buyInfo, sellInfo types.SymbolInfo, buyPrice, sellPrice, qty float64) (buyQty, sellQty float64) {
	buyQty = PrepareOrderQuantity(buyVenue, buyInfo, buyPrice, qty)
	sellQty = PrepareOrderQuantity(sellVenue, sellInfo, sellPrice, qty)
	if buyQty != sellQty {
		max := buyQty
		if sellQty > max {
			max = sellQty
		}
		buyQty, sellQty = max, max
	}
	return buyQty, sellQty
}

// FillUpdate is the result of folding one order event into a PositionEntry:
// the delta that was newly filled (0 if the event carries no new fill) and
// the updated entry.
type FillUpdate struct {
	Entry     types.PositionEntry
	FillDelta float64
}

// ApplyFill advances prev by the portion of order newly filled since the
// last observed state, at order's weighted-average price:
// fill_delta = new.filled_qty - prev.filled_qty. prevFilledQty is the filled
// quantity last observed for this order (0 for an order not seen before).
func ApplyFill(prev types.PositionEntry, role types.ExchangeRole, order types.Order, prevFilledQty float64) FillUpdate {
	delta := order.FilledQty - prevFilledQty
	if delta <= 0 {
		return FillUpdate{Entry: prev, FillDelta: 0}
	}

	entry := prev
	entry.Role = role

	signedPrevQty := entry.Quantity
	if entry.Side == types.Sell {
		signedPrevQty = -signedPrevQty
	}
	signedDelta := delta
	if order.Side == types.Sell {
		signedDelta = -delta
	}
	signedNew := signedPrevQty + signedDelta

	switch {
	case signedNew == 0:
		entry.Quantity = 0
		entry.AvgPrice = 0
		entry.Side = order.Side
	case (signedPrevQty >= 0) == (signedNew >= 0) && absF(signedNew) >= absF(signedPrevQty):
		// Same direction, growing (or a fresh position): weighted-average the price.
		totalCost := entry.AvgPrice*absF(signedPrevQty) + order.Price*delta
		entry.Quantity = absF(signedNew)
		if entry.Quantity > 0 {
			entry.AvgPrice = totalCost / entry.Quantity
		}
		entry.Side = sideOfSigned(signedNew)
	default:
		// Reducing or flipping: average price is unaffected by a reduction;
		// a flip starts a fresh average at the fill price for the residual.
		entry.Quantity = absF(signedNew)
		entry.Side = sideOfSigned(signedNew)
		if (signedPrevQty >= 0) != (signedNew >= 0) {
			entry.AvgPrice = order.Price
		}
	}

	return FillUpdate{Entry: entry, FillDelta: delta}
}

func sideOfSigned(signed float64) types.Side {
	if signed < 0 {
		return types.Sell
	}
	return types.Buy
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
