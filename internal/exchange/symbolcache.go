// symbolcache.go caches the translation between the internal Symbol struct
// and each venue's wire format string. The conversion itself is cheap, but
// it runs on every book-ticker poll and every order call for every tracked
// symbol, so caching the hot direction avoids reallocating strings on a
// path that fires many times a second per venue.
//
// Grounded in the original implementation's per-venue symbol mapper, which
// made the same tradeoff explicitly for its MEXC mapper.
package exchange

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

const symbolCacheSize = 256

var (
	mexcSymbolCache, _   = lru.New[types.Symbol, string](symbolCacheSize)
	gateioSymbolCache, _ = lru.New[types.Symbol, string](symbolCacheSize)
)

func mexcSymbolString(s types.Symbol) string {
	if cached, ok := mexcSymbolCache.Get(s); ok {
		return cached
	}
	str := strings.ToUpper(string(s.Base)) + strings.ToUpper(string(s.Quote))
	mexcSymbolCache.Add(s, str)
	return str
}

func gateioSymbolString(s types.Symbol) string {
	if cached, ok := gateioSymbolCache.Get(s); ok {
		return cached
	}
	str := strings.ToUpper(string(s.Base)) + "_" + strings.ToUpper(string(s.Quote))
	gateioSymbolCache.Add(s, str)
	return str
}
