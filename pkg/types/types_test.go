package types

import "testing"

func TestSideOppositeAndSign(t *testing.T) {
	t.Parallel()

	if Buy.Opposite() != Sell {
		t.Errorf("Buy.Opposite() = %v, want Sell", Buy.Opposite())
	}
	if Sell.Opposite() != Buy {
		t.Errorf("Sell.Opposite() = %v, want Buy", Sell.Opposite())
	}
	if Buy.Sign() != 1 {
		t.Errorf("Buy.Sign() = %v, want 1", Buy.Sign())
	}
	if Sell.Sign() != -1 {
		t.Errorf("Sell.Sign() = %v, want -1", Sell.Sign())
	}
}

func TestOrderStatusIsTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status OrderStatus
		want   bool
	}{
		{OrderStatusNew, false},
		{OrderStatusPartiallyFilled, false},
		{OrderStatusFilled, true},
		{OrderStatusCanceled, true},
		{OrderStatusRejected, true},
		{OrderStatusExpired, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("OrderStatus(%q).IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestOrderBookBestBidAskAndCrossed(t *testing.T) {
	t.Parallel()

	book := &OrderBook{
		Bids: []OrderBookEntry{{Price: 100, Size: 1}},
		Asks: []OrderBookEntry{{Price: 101, Size: 2}},
	}

	bid, ok := book.BestBid()
	if !ok || bid.Price != 100 {
		t.Fatalf("BestBid() = %+v, %v", bid, ok)
	}
	ask, ok := book.BestAsk()
	if !ok || ask.Price != 101 {
		t.Fatalf("BestAsk() = %+v, %v", ask, ok)
	}
	if book.IsCrossed() {
		t.Error("expected book not crossed")
	}

	book.Bids[0].Price = 102
	if !book.IsCrossed() {
		t.Error("expected book crossed when bid >= ask")
	}

	empty := &OrderBook{}
	if _, ok := empty.BestBid(); ok {
		t.Error("expected BestBid() ok=false on empty book")
	}
}

func TestPositionsStateRecompute(t *testing.T) {
	t.Parallel()

	ps := NewPositionsState()
	ps.Positions[RoleSpot] = PositionEntry{Role: RoleSpot, Side: Buy, Quantity: 5}
	ps.Positions[RoleFutures] = PositionEntry{Role: RoleFutures, Side: Sell, Quantity: 5}

	ps.Recompute(100)
	if ps.Delta != 0 {
		t.Errorf("Delta = %v, want 0 for a balanced delta-neutral pair", ps.Delta)
	}
	if ps.DeltaUSDT != 0 {
		t.Errorf("DeltaUSDT = %v, want 0", ps.DeltaUSDT)
	}

	ps.Positions[RoleFutures] = PositionEntry{Role: RoleFutures, Side: Sell, Quantity: 3}
	ps.Recompute(100)
	if ps.Delta != 2 {
		t.Errorf("Delta = %v, want 2 after partial futures fill", ps.Delta)
	}
	if ps.DeltaUSDT != 200 {
		t.Errorf("DeltaUSDT = %v, want 200", ps.DeltaUSDT)
	}
}

func TestArbitrageOpportunityKey(t *testing.T) {
	t.Parallel()

	sym := Symbol{Base: "BTC", Quote: "USDT"}
	o1 := ArbitrageOpportunity{Symbol: sym, BuyVenue: MexcSpot, SellVenue: GateioSpot}
	o2 := ArbitrageOpportunity{Symbol: sym, BuyVenue: MexcSpot, SellVenue: GateioSpot, BuyPrice: 999}
	o3 := ArbitrageOpportunity{Symbol: sym, BuyVenue: GateioSpot, SellVenue: MexcSpot}

	if o1.Key() != o2.Key() {
		t.Error("Key() should not depend on price fields")
	}
	if o1.Key() == o3.Key() {
		t.Error("Key() should depend on buy/sell venue order")
	}
}

func TestTaskContextEvolveIsDeepCopy(t *testing.T) {
	t.Parallel()

	sym := Symbol{Base: "BTC", Quote: "USDT"}
	ctx := NewTaskContext("task-1", sym, MexcSpot, GateioSpot, StrategyParams{MinProfitMarginBps: 40})
	ctx.ActiveOrders[RoleSpot]["order-1"] = Order{OrderID: "order-1", Status: OrderStatusNew}
	ctx.PositionsState.Positions[RoleSpot] = PositionEntry{Role: RoleSpot, Side: Buy, Quantity: 1}
	opp := ArbitrageOpportunity{Symbol: sym}
	ctx.CurrentOpportunity = &opp

	evolved := ctx.Evolve()
	evolved.ActiveOrders[RoleSpot]["order-1"] = Order{OrderID: "order-1", Status: OrderStatusFilled}
	evolved.PositionsState.Positions[RoleSpot] = PositionEntry{Role: RoleSpot, Side: Buy, Quantity: 2}
	evolved.CurrentOpportunity.BuyPrice = 42

	if ctx.ActiveOrders[RoleSpot]["order-1"].Status != OrderStatusNew {
		t.Error("Evolve() leaked ActiveOrders mutation back into the original context")
	}
	if ctx.PositionsState.Positions[RoleSpot].Quantity != 1 {
		t.Error("Evolve() leaked PositionsState mutation back into the original context")
	}
	if ctx.CurrentOpportunity.BuyPrice != 0 {
		t.Error("Evolve() leaked CurrentOpportunity mutation back into the original context")
	}
	if evolved.TaskID != ctx.TaskID {
		t.Error("Evolve() should preserve TaskID")
	}
}

func TestNewTaskContextStartsIdle(t *testing.T) {
	t.Parallel()

	ctx := NewTaskContext("t", Symbol{Base: "BTC", Quote: "USDT"}, MexcSpot, GateioSpot, StrategyParams{})
	if ctx.StateName != TaskIdle {
		t.Errorf("StateName = %v, want TaskIdle", ctx.StateName)
	}
	if ctx.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", ctx.SchemaVersion, CurrentSchemaVersion)
	}
}
