// Package strategy implements the arbitrage task runtime: a deterministic
// state-machine supervisor that owns the lifecycle of one delta-neutral
// arbitrage trade.
//
// opportunity_tracker.go implements a deduplication set keyed by (symbol,
// buy_venue, sell_venue): an opportunity is claimed by at most one task
// while still active, with claims dropped on expiry rather than held as
// weak references. Claims live in a map keyed by that triple; entries past
// their TTL are evicted by wall-clock age on every TryTrack and Active call.
package strategy

import (
	"sync"
	"time"

	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

// OpportunityTracker holds the set of currently-active opportunity handles
// so the detector's repeated scan hits don't re-trigger analysis for an
// opportunity the task is already working. An entry is dropped (the handle
// "expires") once its TTL elapses without being refreshed.
type OpportunityTracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]trackedOpportunity
}

type trackedOpportunity struct {
	opp       types.ArbitrageOpportunity
	expiresAt time.Time
}

// NewOpportunityTracker creates a tracker whose handles expire after ttl
// (typically the configured freshness horizon).
func NewOpportunityTracker(ttl time.Duration) *OpportunityTracker {
	if ttl <= 0 {
		ttl = 500 * time.Millisecond
	}
	return &OpportunityTracker{
		ttl:     ttl,
		entries: make(map[string]trackedOpportunity),
	}
}

// TryTrack registers opp if its key is not already active. Returns true if
// this call newly tracked it (the caller should act on it) or false if an
// unexpired handle already exists for the same (symbol, buy_venue,
// sell_venue) triple.
func (t *OpportunityTracker) TryTrack(opp types.ArbitrageOpportunity, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evictLocked(now)

	key := opp.Key()
	if _, active := t.entries[key]; active {
		return false
	}
	t.entries[key] = trackedOpportunity{opp: opp, expiresAt: now.Add(t.ttl)}
	return true
}

// Release drops the handle for key immediately, e.g. once the task has
// finished acting on it (executed, or discarded as stale in Analyzing).
func (t *OpportunityTracker) Release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// Active reports whether key currently holds an unexpired handle.
func (t *OpportunityTracker) Active(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked(now)
	_, ok := t.entries[key]
	return ok
}

// evictLocked drops every handle whose TTL has elapsed. Must be called with mu held.
func (t *OpportunityTracker) evictLocked(now time.Time) {
	for key, e := range t.entries {
		if now.After(e.expiresAt) {
			delete(t.entries, key)
		}
	}
}
