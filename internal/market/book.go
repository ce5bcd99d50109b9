// Package market maintains the local order book / book-ticker mirror for
// every (venue, symbol) pair and scans them for cross-venue arbitrage.
//
// Aggregator is updated from two sources per venue:
//   - REST snapshots (initial seed, and resync after a detected sequence gap)
//   - WebSocket book-ticker / depth-delta events (steady state)
//
// All Aggregator methods are concurrency-safe; book state is read far more
// often than it's written, so each per-symbol entry uses its own RWMutex
// rather than one lock for the whole map.
package market

import (
	"sort"
	"sync"
	"time"

	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

// key identifies one venue's book for one symbol.
type key struct {
	Venue  types.ExchangeId
	Symbol types.Symbol
}

// entry is the mutable state for one (venue, symbol) book.
type entry struct {
	mu      sync.RWMutex
	book    types.OrderBook
	ticker  types.BookTicker
	updated time.Time
}

// Aggregator is the local mirror of every tracked venue's order books.
type Aggregator struct {
	mu      sync.RWMutex
	entries map[key]*entry
}

// NewAggregator creates an empty order-book aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{entries: make(map[key]*entry)}
}

func (a *Aggregator) entryFor(venue types.ExchangeId, symbol types.Symbol) *entry {
	k := key{Venue: venue, Symbol: symbol}

	a.mu.RLock()
	e, ok := a.entries[k]
	a.mu.RUnlock()
	if ok {
		return e
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[k]; ok {
		return e
	}
	e = &entry{}
	a.entries[k] = e
	return e
}

// ApplySnapshot replaces the full book for (venue, symbol) — used for the
// initial REST seed and for resync after a sequence gap. Bids/Asks must
// already be sorted (descending/ascending) by the caller.
func (a *Aggregator) ApplySnapshot(venue types.ExchangeId, book types.OrderBook) {
	e := a.entryFor(venue, book.Symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.book = book
	e.updated = time.Now()
}

// DeltaResult reports what ApplyDelta did, so the caller can trigger a
// REST resync when a gap is detected.
type DeltaResult int

const (
	DeltaApplied DeltaResult = iota
	DeltaGapDetected
	DeltaStale // delta's UpdateID is older than or equal to what we already hold
)

// ApplyDelta applies an incremental update to an already-seeded book.
// newBids/newAsks carry absolute (price, size) pairs per the venue's
// incremental protocol; size == 0 means "remove this level". updateID must
// be exactly lastUpdateID+1, or a gap is reported so the caller can resync
// from a fresh REST snapshot.
func (a *Aggregator) ApplyDelta(venue types.ExchangeId, symbol types.Symbol, updateID uint64, bidChanges, askChanges []types.OrderBookEntry) DeltaResult {
	e := a.entryFor(venue, symbol)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.book.LastUpdateID == 0 {
		return DeltaGapDetected // not yet seeded from a snapshot
	}
	if updateID <= e.book.LastUpdateID {
		return DeltaStale
	}
	if updateID != e.book.LastUpdateID+1 {
		return DeltaGapDetected
	}

	e.book.Bids = applyLevelChanges(e.book.Bids, bidChanges, true)
	e.book.Asks = applyLevelChanges(e.book.Asks, askChanges, false)
	e.book.LastUpdateID = updateID
	e.book.TimestampMs = uint64(time.Now().UnixMilli())
	e.updated = time.Now()
	return DeltaApplied
}

// applyLevelChanges merges changes into levels, keeping the book sorted:
// bids descending, asks ascending. A change with Size == 0 removes the level.
func applyLevelChanges(levels []types.OrderBookEntry, changes []types.OrderBookEntry, descending bool) []types.OrderBookEntry {
	byPrice := make(map[float64]float64, len(levels))
	for _, lvl := range levels {
		byPrice[lvl.Price] = lvl.Size
	}
	for _, ch := range changes {
		if ch.Size == 0 {
			delete(byPrice, ch.Price)
		} else {
			byPrice[ch.Price] = ch.Size
		}
	}

	out := make([]types.OrderBookEntry, 0, len(byPrice))
	for price, size := range byPrice {
		out = append(out, types.OrderBookEntry{Price: price, Size: size})
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

// ApplyBookTicker records a new book-ticker snapshot for (venue, symbol).
func (a *Aggregator) ApplyBookTicker(venue types.ExchangeId, ticker types.BookTicker) {
	e := a.entryFor(venue, ticker.Symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ticker = ticker
	e.updated = time.Now()
}

// BookTicker returns the last known book ticker for (venue, symbol).
func (a *Aggregator) BookTicker(venue types.ExchangeId, symbol types.Symbol) (types.BookTicker, bool) {
	e := a.entryFor(venue, symbol)
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.ticker.TimestampMs == 0 {
		return types.BookTicker{}, false
	}
	return e.ticker, true
}

// OrderBook returns a copy of the full local book for (venue, symbol).
func (a *Aggregator) OrderBook(venue types.ExchangeId, symbol types.Symbol) (types.OrderBook, bool) {
	e := a.entryFor(venue, symbol)
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.book.LastUpdateID == 0 {
		return types.OrderBook{}, false
	}
	cp := e.book
	cp.Bids = append([]types.OrderBookEntry(nil), e.book.Bids...)
	cp.Asks = append([]types.OrderBookEntry(nil), e.book.Asks...)
	return cp, true
}

// IsStale reports whether (venue, symbol) hasn't been updated within maxAge.
func (a *Aggregator) IsStale(venue types.ExchangeId, symbol types.Symbol, maxAge time.Duration) bool {
	e := a.entryFor(venue, symbol)
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.updated.IsZero() {
		return true
	}
	return time.Since(e.updated) > maxAge
}

// LastUpdated returns the last time (venue, symbol) received any update.
func (a *Aggregator) LastUpdated(venue types.ExchangeId, symbol types.Symbol) time.Time {
	e := a.entryFor(venue, symbol)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.updated
}
