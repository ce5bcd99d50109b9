package exchange

import (
	"testing"

	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

func TestMexcSymbolStringCachesResult(t *testing.T) {
	t.Parallel()
	sym := types.Symbol{Base: "DOGE", Quote: "USDC"}

	first := mexcSymbolString(sym)
	cached, ok := mexcSymbolCache.Get(sym)
	if !ok {
		t.Fatal("expected mexcSymbolString to populate the cache")
	}
	if cached != first {
		t.Errorf("cached value = %q, want %q", cached, first)
	}
	if second := mexcSymbolString(sym); second != first {
		t.Errorf("second call = %q, want %q", second, first)
	}
}

func TestGateioSymbolStringCachesResult(t *testing.T) {
	t.Parallel()
	sym := types.Symbol{Base: "SOL", Quote: "USDT"}

	first := gateioSymbolString(sym)
	if _, ok := gateioSymbolCache.Get(sym); !ok {
		t.Fatal("expected gateioSymbolString to populate the cache")
	}
	if second := gateioSymbolString(sym); second != first {
		t.Errorf("second call = %q, want %q", second, first)
	}
}
