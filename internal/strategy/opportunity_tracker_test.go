package strategy

import (
	"testing"
	"time"

	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

func sampleOpp() types.ArbitrageOpportunity {
	return types.ArbitrageOpportunity{
		Symbol:    types.Symbol{Base: "BTC", Quote: "USDT"},
		BuyVenue:  types.MexcSpot,
		SellVenue: types.GateioFutures,
		SpreadBps: 25,
	}
}

func TestOpportunityTracker_TryTrack_DedupsWhileActive(t *testing.T) {
	tracker := NewOpportunityTracker(time.Second)
	now := time.Now()
	opp := sampleOpp()

	if !tracker.TryTrack(opp, now) {
		t.Fatal("first TryTrack should succeed")
	}
	if tracker.TryTrack(opp, now.Add(10*time.Millisecond)) {
		t.Fatal("second TryTrack within TTL should be rejected")
	}
}

func TestOpportunityTracker_ExpiresAfterTTL(t *testing.T) {
	tracker := NewOpportunityTracker(50 * time.Millisecond)
	now := time.Now()
	opp := sampleOpp()

	tracker.TryTrack(opp, now)
	if !tracker.TryTrack(opp, now.Add(100*time.Millisecond)) {
		t.Fatal("TryTrack after TTL elapsed should succeed again")
	}
}

func TestOpportunityTracker_Release(t *testing.T) {
	tracker := NewOpportunityTracker(time.Minute)
	now := time.Now()
	opp := sampleOpp()

	tracker.TryTrack(opp, now)
	tracker.Release(opp.Key())
	if tracker.Active(opp.Key(), now) {
		t.Fatal("Active should be false after Release")
	}
	if !tracker.TryTrack(opp, now) {
		t.Fatal("TryTrack should succeed again after Release")
	}
}
