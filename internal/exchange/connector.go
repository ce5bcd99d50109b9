// connector.go defines the venue-agnostic Connector interface every
// strategy, the market data aggregator, and the exchange manager program
// against, plus the factory that builds the concrete per-venue connector.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dasein108/cex-arbitrage-sub007/internal/config"
	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

// Connector is the uniform surface every venue integration implements.
// Market-data reads and private trading calls are both exposed here so
// a single connector instance can serve both the aggregator and the
// exchange manager for one (venue, credential) pair.
type Connector interface {
	// Initialize loads symbol metadata (precision, lot size, contract size).
	// The MEXC connector also fills maker/taker fees from its exchange info;
	// the Gate.io connectors leave them zero. Credentials are not checked
	// here. Must be called before any other method.
	Initialize(ctx context.Context) error

	Venue() types.ExchangeId

	GetBookTicker(ctx context.Context, symbol types.Symbol) (types.BookTicker, error)
	GetOrderBook(ctx context.Context, symbol types.Symbol, depth int) (*types.OrderBook, error)

	// SubscribeUpdates starts the venue's WebSocket feed in the background and
	// returns channels of normalized book ticker and order updates at once;
	// the feed keeps running until ctx is done.
	SubscribeUpdates(ctx context.Context, symbols []types.Symbol) (<-chan types.BookTicker, <-chan types.Order, error)

	PlaceOrder(ctx context.Context, params types.OrderPlacementParams) (types.Order, error)
	CancelOrder(ctx context.Context, symbol types.Symbol, orderID string) error
	GetOrder(ctx context.Context, symbol types.Symbol, orderID string) (types.Order, error)
	GetOpenOrders(ctx context.Context, symbol types.Symbol) ([]types.Order, error)
	GetBalances(ctx context.Context) (map[types.AssetName]types.AssetBalance, error)

	SymbolInfo(symbol types.Symbol) (types.SymbolInfo, bool)

	// Health reports whether the venue's WS feed and REST client are both
	// currently trustworthy, given the freshness thresholds supplied.
	Health(maxMessageAge, maxRESTLatency time.Duration) HealthStatus

	Close() error
}

// NewConnector builds the concrete Connector for venue from its config.
func NewConnector(venue types.ExchangeId, ec config.ExchangeConfig, logger *slog.Logger) (Connector, error) {
	switch venue {
	case types.MexcSpot:
		signer, err := NewSigningStrategy("mexc", ec.APIKey, ec.SecretKey)
		if err != nil {
			return nil, err
		}
		return newMexcConnector(ec, signer, logger), nil
	case types.GateioSpot:
		signer, err := NewSigningStrategy("gateio", ec.APIKey, ec.SecretKey)
		if err != nil {
			return nil, err
		}
		return newGateioConnector(venue, "/api/v4/spot", ec, signer, logger), nil
	case types.GateioFutures:
		signer, err := NewSigningStrategy("gateio", ec.APIKey, ec.SecretKey)
		if err != nil {
			return nil, err
		}
		return newGateioConnector(venue, "/api/v4/futures/usdt", ec, signer, logger), nil
	default:
		return nil, fmt.Errorf("unsupported venue %q", venue)
	}
}
