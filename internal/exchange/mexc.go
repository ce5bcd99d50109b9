// mexc.go implements the MEXC spot connector: REST trading/market-data calls
// signed with MexcSigner, and a book-ticker WebSocket feed.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dasein108/cex-arbitrage-sub007/internal/config"
	"github.com/dasein108/cex-arbitrage-sub007/internal/errs"
	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

type mexcConnector struct {
	client *Client
	ws     *WSFeed

	symbolsMu sync.RWMutex
	symbols   map[types.Symbol]types.SymbolInfo

	logger *slog.Logger
}

func newMexcConnector(ec config.ExchangeConfig, signer SigningStrategy, logger *slog.Logger) *mexcConnector {
	c := &mexcConnector{
		client:  NewClient(types.MexcSpot, ec, signer, logger),
		symbols: make(map[types.Symbol]types.SymbolInfo),
		logger:  logger.With("venue", types.MexcSpot),
	}
	c.ws = newWSFeed(ec.WSURL, ec.WS.PingInterval, c.buildSubscribe, c.handleMessage, c.logger)
	return c
}

func (c *mexcConnector) Venue() types.ExchangeId { return types.MexcSpot }

func (c *mexcConnector) Initialize(ctx context.Context) error {
	var resp struct {
		Symbols []struct {
			Symbol              string `json:"symbol"`
			BaseAsset           string `json:"baseAsset"`
			QuoteAsset          string `json:"quoteAsset"`
			BaseAssetPrecision  int    `json:"baseAssetPrecision"`
			QuoteAssetPrecision int    `json:"quoteAssetPrecision"`
			QuoteAmountPrecision string `json:"quoteAmountPrecision"`
			Status              string `json:"status"`
			MakerCommission     string `json:"makerCommission"`
			TakerCommission     string `json:"takerCommission"`
		} `json:"symbols"`
	}
	if err := c.client.doPublic(ctx, "/api/v3/exchangeInfo", nil, &resp); err != nil {
		return errs.NewConfiguration(errs.Tags{Venue: types.MexcSpot, Operation: "initialize"}, "fetch exchange info", err)
	}

	c.symbolsMu.Lock()
	defer c.symbolsMu.Unlock()
	for _, s := range resp.Symbols {
		sym := types.Symbol{Base: types.AssetName(s.BaseAsset), Quote: types.AssetName(s.QuoteAsset)}
		minQuote, _ := strconv.ParseFloat(s.QuoteAmountPrecision, 64)
		makerFee, _ := decimal.NewFromString(s.MakerCommission)
		takerFee, _ := decimal.NewFromString(s.TakerCommission)
		c.symbols[sym] = types.SymbolInfo{
			Symbol:         sym,
			BasePrecision:  s.BaseAssetPrecision,
			QuotePrecision: s.QuoteAssetPrecision,
			MinQuoteQty:    minQuote,
			ContractSize:   1,
			MakerFee:       makerFee,
			TakerFee:       takerFee,
			Inactive:       s.Status != "ENABLED" && s.Status != "1" && s.Status != "",
		}
	}
	return nil
}

func (c *mexcConnector) SymbolInfo(symbol types.Symbol) (types.SymbolInfo, bool) {
	c.symbolsMu.RLock()
	defer c.symbolsMu.RUnlock()
	info, ok := c.symbols[symbol]
	return info, ok
}

func (c *mexcConnector) GetBookTicker(ctx context.Context, symbol types.Symbol) (types.BookTicker, error) {
	var resp struct {
		Symbol   string `json:"symbol"`
		BidPrice string `json:"bidPrice"`
		BidQty   string `json:"bidQty"`
		AskPrice string `json:"askPrice"`
		AskQty   string `json:"askQty"`
	}
	err := c.client.doPublic(ctx, "/api/v3/ticker/bookTicker", map[string]string{"symbol": mexcSymbolString(symbol)}, &resp)
	if err != nil {
		return types.BookTicker{}, err
	}
	bid, _ := strconv.ParseFloat(resp.BidPrice, 64)
	bidQty, _ := strconv.ParseFloat(resp.BidQty, 64)
	ask, _ := strconv.ParseFloat(resp.AskPrice, 64)
	askQty, _ := strconv.ParseFloat(resp.AskQty, 64)
	return types.BookTicker{
		Symbol:      symbol,
		BidPrice:    bid,
		BidQty:      bidQty,
		AskPrice:    ask,
		AskQty:      askQty,
		TimestampMs: uint64(time.Now().UnixMilli()),
	}, nil
}

func (c *mexcConnector) GetOrderBook(ctx context.Context, symbol types.Symbol, depth int) (*types.OrderBook, error) {
	if depth <= 0 {
		depth = 20
	}
	var resp struct {
		LastUpdateID uint64     `json:"lastUpdateId"`
		Bids         [][]string `json:"bids"`
		Asks         [][]string `json:"asks"`
	}
	err := c.client.doPublic(ctx, "/api/v3/depth", map[string]string{
		"symbol": mexcSymbolString(symbol),
		"limit":  strconv.Itoa(depth),
	}, &resp)
	if err != nil {
		return nil, err
	}

	book := &types.OrderBook{Symbol: symbol, LastUpdateID: resp.LastUpdateID, TimestampMs: uint64(time.Now().UnixMilli())}
	book.Bids = parseMexcLevels(resp.Bids)
	book.Asks = parseMexcLevels(resp.Asks)
	return book, nil
}

func parseMexcLevels(levels [][]string) []types.OrderBookEntry {
	out := make([]types.OrderBookEntry, 0, len(levels))
	for _, lvl := range levels {
		if len(lvl) < 2 {
			continue
		}
		price, _ := strconv.ParseFloat(lvl[0], 64)
		size, _ := strconv.ParseFloat(lvl[1], 64)
		out = append(out, types.OrderBookEntry{Price: price, Size: size})
	}
	return out
}

func (c *mexcConnector) SubscribeUpdates(ctx context.Context, symbols []types.Symbol) (<-chan types.BookTicker, <-chan types.Order, error) {
	go func() {
		if err := c.ws.Run(ctx, symbols); err != nil && ctx.Err() == nil {
			c.logger.Error("mexc websocket feed exited", "error", err)
		}
	}()
	return c.ws.BookTickerEvents(), c.ws.OrderEvents(), nil
}

func (c *mexcConnector) buildSubscribe(symbols []types.Symbol) any {
	params := make([]string, 0, len(symbols))
	for _, s := range symbols {
		params = append(params, fmt.Sprintf("spot@public.bookTicker.v3.api@%s", mexcSymbolString(s)))
	}
	return map[string]any{
		"method": "SUBSCRIPTION",
		"params": params,
	}
}

func (c *mexcConnector) handleMessage(data []byte, bookCh chan<- types.BookTicker, orderCh chan<- types.Order, logger *slog.Logger) {
	var envelope struct {
		Channel string `json:"c"`
		Data    struct {
			BidPrice string `json:"b"`
			BidQty   string `json:"B"`
			AskPrice string `json:"a"`
			AskQty   string `json:"A"`
		} `json:"d"`
		Symbol string `json:"s"`
		Time   int64  `json:"t"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		logger.Debug("ignoring non-json mexc ws message", "data", string(data))
		return
	}
	if !strings.Contains(envelope.Channel, "bookTicker") {
		return
	}

	bid, _ := strconv.ParseFloat(envelope.Data.BidPrice, 64)
	bidQty, _ := strconv.ParseFloat(envelope.Data.BidQty, 64)
	ask, _ := strconv.ParseFloat(envelope.Data.AskPrice, 64)
	askQty, _ := strconv.ParseFloat(envelope.Data.AskQty, 64)

	ticker := types.BookTicker{
		BidPrice:    bid,
		BidQty:      bidQty,
		AskPrice:    ask,
		AskQty:      askQty,
		TimestampMs: uint64(envelope.Time),
	}
	select {
	case bookCh <- ticker:
	default:
		logger.Warn("mexc book ticker channel full, dropping update", "symbol", envelope.Symbol)
	}
}

func (c *mexcConnector) PlaceOrder(ctx context.Context, params types.OrderPlacementParams) (types.Order, error) {
	query := map[string]string{
		"symbol":   mexcSymbolString(params.Symbol),
		"side":     string(params.Side),
		"type":     string(params.OrderType),
		"quantity": strconv.FormatFloat(params.Quantity, 'f', -1, 64),
	}
	if params.OrderType != types.OrderTypeMarket {
		query["price"] = strconv.FormatFloat(params.Price, 'f', -1, 64)
	}
	if params.ClientOrderID != "" {
		query["newClientOrderId"] = params.ClientOrderID
	}

	var resp struct {
		OrderID       string `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
		Price         string `json:"price"`
		OrigQty       string `json:"origQty"`
		ExecutedQty   string `json:"executedQty"`
	}
	err := c.client.doSigned(ctx, CategoryOrder, http.MethodPost, "/api/v3/order", query, "", &resp)
	if err != nil {
		return types.Order{}, err
	}

	price, _ := strconv.ParseFloat(resp.Price, 64)
	qty, _ := strconv.ParseFloat(resp.OrigQty, 64)
	filled, _ := strconv.ParseFloat(resp.ExecutedQty, 64)
	return types.Order{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        params.Symbol,
		Side:          params.Side,
		OrderType:     params.OrderType,
		Price:         price,
		Quantity:      qty,
		FilledQty:     filled,
		Status:        mexcOrderStatus(resp.Status),
		TimeInForce:   params.TimeInForce,
		Timestamp:     time.Now(),
	}, nil
}

func mexcOrderStatus(s string) types.OrderStatus {
	switch s {
	case "NEW":
		return types.OrderStatusNew
	case "PARTIALLY_FILLED":
		return types.OrderStatusPartiallyFilled
	case "FILLED":
		return types.OrderStatusFilled
	case "CANCELED":
		return types.OrderStatusCanceled
	case "REJECTED":
		return types.OrderStatusRejected
	case "EXPIRED":
		return types.OrderStatusExpired
	default:
		return types.OrderStatusNew
	}
}

func (c *mexcConnector) CancelOrder(ctx context.Context, symbol types.Symbol, orderID string) error {
	query := map[string]string{"symbol": mexcSymbolString(symbol), "orderId": orderID}
	return c.client.doSigned(ctx, CategoryCancel, http.MethodDelete, "/api/v3/order", query, "", nil)
}

func (c *mexcConnector) GetOrder(ctx context.Context, symbol types.Symbol, orderID string) (types.Order, error) {
	query := map[string]string{"symbol": mexcSymbolString(symbol), "orderId": orderID}
	var resp struct {
		OrderID       string `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Price         string `json:"price"`
		OrigQty       string `json:"origQty"`
		ExecutedQty   string `json:"executedQty"`
		Status        string `json:"status"`
		Side          string `json:"side"`
		Type          string `json:"type"`
	}
	if err := c.client.doSigned(ctx, CategoryAccount, http.MethodGet, "/api/v3/order", query, "", &resp); err != nil {
		return types.Order{}, err
	}
	price, _ := strconv.ParseFloat(resp.Price, 64)
	qty, _ := strconv.ParseFloat(resp.OrigQty, 64)
	filled, _ := strconv.ParseFloat(resp.ExecutedQty, 64)
	return types.Order{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        symbol,
		Side:          types.Side(resp.Side),
		OrderType:     types.OrderType(resp.Type),
		Price:         price,
		Quantity:      qty,
		FilledQty:     filled,
		Status:        mexcOrderStatus(resp.Status),
	}, nil
}

func (c *mexcConnector) GetOpenOrders(ctx context.Context, symbol types.Symbol) ([]types.Order, error) {
	query := map[string]string{"symbol": mexcSymbolString(symbol)}
	var resp []struct {
		OrderID     string `json:"orderId"`
		Price       string `json:"price"`
		OrigQty     string `json:"origQty"`
		ExecutedQty string `json:"executedQty"`
		Status      string `json:"status"`
		Side        string `json:"side"`
		Type        string `json:"type"`
	}
	if err := c.client.doSigned(ctx, CategoryAccount, http.MethodGet, "/api/v3/openOrders", query, "", &resp); err != nil {
		return nil, err
	}
	orders := make([]types.Order, 0, len(resp))
	for _, o := range resp {
		price, _ := strconv.ParseFloat(o.Price, 64)
		qty, _ := strconv.ParseFloat(o.OrigQty, 64)
		filled, _ := strconv.ParseFloat(o.ExecutedQty, 64)
		orders = append(orders, types.Order{
			OrderID:   o.OrderID,
			Symbol:    symbol,
			Side:      types.Side(o.Side),
			OrderType: types.OrderType(o.Type),
			Price:     price,
			Quantity:  qty,
			FilledQty: filled,
			Status:    mexcOrderStatus(o.Status),
		})
	}
	return orders, nil
}

func (c *mexcConnector) GetBalances(ctx context.Context) (map[types.AssetName]types.AssetBalance, error) {
	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := c.client.doSigned(ctx, CategoryAccount, http.MethodGet, "/api/v3/account", nil, "", &resp); err != nil {
		return nil, err
	}
	out := make(map[types.AssetName]types.AssetBalance, len(resp.Balances))
	for _, b := range resp.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		out[types.AssetName(b.Asset)] = types.AssetBalance{
			Asset: types.AssetName(b.Asset), Free: free, Locked: locked, UpdatedAt: time.Now(),
		}
	}
	return out, nil
}

func (c *mexcConnector) Health(maxMessageAge, maxRESTLatency time.Duration) HealthStatus {
	return evaluateHealth(c.ws, c.client, maxMessageAge, maxRESTLatency)
}

func (c *mexcConnector) Close() error {
	return c.ws.Close()
}
