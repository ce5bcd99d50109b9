// gateio.go implements the Gate.io spot and futures connectors. Both share
// the HMAC-SHA512 GateioSigner and most REST shapes; only the base path
// (marketPrefix) and a handful of futures-only fields (contract size,
// reduce-only) differ, so one struct serves both roles.
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

	"github.com/dasein108/cex-arbitrage-sub007/internal/config"
	"github.com/dasein108/cex-arbitrage-sub007/internal/errs"
	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

type gateioConnector struct {
	venue        types.ExchangeId
	marketPrefix string // "/api/v4/spot" or "/api/v4/futures/usdt"
	isFutures    bool

	client *Client
	ws     *WSFeed

	symbolsMu sync.RWMutex
	symbols   map[types.Symbol]types.SymbolInfo

	logger *slog.Logger
}

func newGateioConnector(venue types.ExchangeId, marketPrefix string, ec config.ExchangeConfig, signer SigningStrategy, logger *slog.Logger) *gateioConnector {
	c := &gateioConnector{
		venue:        venue,
		marketPrefix: marketPrefix,
		isFutures:    strings.Contains(marketPrefix, "futures"),
		client:       NewClient(venue, ec, signer, logger),
		symbols:      make(map[types.Symbol]types.SymbolInfo),
		logger:       logger.With("venue", venue),
	}
	c.ws = newWSFeed(ec.WSURL, ec.WS.PingInterval, c.buildSubscribe, c.handleMessage, c.logger)
	return c
}

func (c *gateioConnector) Venue() types.ExchangeId { return c.venue }

func (c *gateioConnector) Initialize(ctx context.Context) error {
	path := c.marketPrefix + "/currency_pairs"
	var spotResp []struct {
		ID              string `json:"id"`
		Base            string `json:"base"`
		Quote           string `json:"quote"`
		Precision       int    `json:"precision"`
		AmountPrecision int    `json:"amount_precision"`
		MinQuoteAmount  string `json:"min_quote_amount"`
		TradeStatus     string `json:"trade_status"`
	}
	var futResp []struct {
		Name            string `json:"name"`
		QuantoMultiplier string `json:"quanto_multiplier"`
		OrderPriceRound string `json:"order_price_round"`
		InDelisting     bool   `json:"in_delisting"`
	}

	c.symbolsMu.Lock()
	defer c.symbolsMu.Unlock()

	if c.isFutures {
		if err := c.client.doPublic(ctx, c.marketPrefix+"/contracts", nil, &futResp); err != nil {
			return errs.NewConfiguration(errs.Tags{Venue: c.venue, Operation: "initialize"}, "fetch contracts", err)
		}
		for _, f := range futResp {
			base, quote, ok := splitGateioName(f.Name)
			if !ok {
				continue
			}
			contractSize, _ := strconv.ParseFloat(f.QuantoMultiplier, 64)
			sym := types.Symbol{Base: base, Quote: quote, IsFutures: true}
			c.symbols[sym] = types.SymbolInfo{Symbol: sym, ContractSize: contractSize, Inactive: f.InDelisting}
		}
		return nil
	}

	if err := c.client.doPublic(ctx, path, nil, &spotResp); err != nil {
		return errs.NewConfiguration(errs.Tags{Venue: c.venue, Operation: "initialize"}, "fetch currency pairs", err)
	}
	for _, s := range spotResp {
		minQuote, _ := strconv.ParseFloat(s.MinQuoteAmount, 64)
		sym := types.Symbol{Base: types.AssetName(s.Base), Quote: types.AssetName(s.Quote)}
		c.symbols[sym] = types.SymbolInfo{
			Symbol:         sym,
			BasePrecision:  s.AmountPrecision,
			QuotePrecision: s.Precision,
			MinQuoteQty:    minQuote,
			ContractSize:   1,
			Inactive:       s.TradeStatus != "tradable",
		}
	}
	return nil
}

func splitGateioName(name string) (types.AssetName, types.AssetName, bool) {
	parts := strings.SplitN(name, "_", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return types.AssetName(parts[0]), types.AssetName(parts[1]), true
}

func (c *gateioConnector) SymbolInfo(symbol types.Symbol) (types.SymbolInfo, bool) {
	c.symbolsMu.RLock()
	defer c.symbolsMu.RUnlock()
	info, ok := c.symbols[symbol]
	return info, ok
}

func (c *gateioConnector) GetBookTicker(ctx context.Context, symbol types.Symbol) (types.BookTicker, error) {
	if c.isFutures {
		var resp []struct {
			Contract string `json:"contract"`
			Bid1Price string `json:"highest_bid"`
			Ask1Price string `json:"lowest_ask"`
		}
		err := c.client.doPublic(ctx, c.marketPrefix+"/book_ticker", map[string]string{"contract": gateioSymbolString(symbol)}, &resp)
		if err != nil || len(resp) == 0 {
			return types.BookTicker{}, err
		}
		bid, _ := strconv.ParseFloat(resp[0].Bid1Price, 64)
		ask, _ := strconv.ParseFloat(resp[0].Ask1Price, 64)
		return types.BookTicker{Symbol: symbol, BidPrice: bid, AskPrice: ask, TimestampMs: uint64(time.Now().UnixMilli())}, nil
	}

	var resp []struct {
		CurrencyPair string `json:"currency_pair"`
		Bid          string `json:"highest_bid"`
		BidSize      string `json:"highest_bid_size"`
		Ask          string `json:"lowest_ask"`
		AskSize      string `json:"lowest_ask_size"`
	}
	err := c.client.doPublic(ctx, c.marketPrefix+"/tickers", map[string]string{"currency_pair": gateioSymbolString(symbol)}, &resp)
	if err != nil || len(resp) == 0 {
		return types.BookTicker{}, err
	}
	bid, _ := strconv.ParseFloat(resp[0].Bid, 64)
	bidQty, _ := strconv.ParseFloat(resp[0].BidSize, 64)
	ask, _ := strconv.ParseFloat(resp[0].Ask, 64)
	askQty, _ := strconv.ParseFloat(resp[0].AskSize, 64)
	return types.BookTicker{
		Symbol: symbol, BidPrice: bid, BidQty: bidQty, AskPrice: ask, AskQty: askQty,
		TimestampMs: uint64(time.Now().UnixMilli()),
	}, nil
}

func (c *gateioConnector) GetOrderBook(ctx context.Context, symbol types.Symbol, depth int) (*types.OrderBook, error) {
	if depth <= 0 {
		depth = 20
	}
	param := "currency_pair"
	if c.isFutures {
		param = "contract"
	}
	var resp struct {
		ID   uint64     `json:"id"`
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	err := c.client.doPublic(ctx, c.marketPrefix+"/order_book", map[string]string{
		param:     gateioSymbolString(symbol),
		"limit":   strconv.Itoa(depth),
		"with_id": "true",
	}, &resp)
	if err != nil {
		return nil, err
	}
	book := &types.OrderBook{Symbol: symbol, LastUpdateID: resp.ID, TimestampMs: uint64(time.Now().UnixMilli())}
	book.Bids = parseGateioLevels(resp.Bids)
	book.Asks = parseGateioLevels(resp.Asks)
	return book, nil
}

func parseGateioLevels(levels [][]string) []types.OrderBookEntry {
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

func (c *gateioConnector) SubscribeUpdates(ctx context.Context, symbols []types.Symbol) (<-chan types.BookTicker, <-chan types.Order, error) {
	go func() {
		if err := c.ws.Run(ctx, symbols); err != nil && ctx.Err() == nil {
			c.logger.Error("gateio websocket feed exited", "error", err)
		}
	}()
	return c.ws.BookTickerEvents(), c.ws.OrderEvents(), nil
}

func (c *gateioConnector) buildSubscribe(symbols []types.Symbol) any {
	pairs := make([]string, 0, len(symbols))
	for _, s := range symbols {
		pairs = append(pairs, gateioSymbolString(s))
	}
	channel := "spot.book_ticker"
	if c.isFutures {
		channel = "futures.book_ticker"
	}
	return map[string]any{
		"time":    time.Now().Unix(),
		"channel": channel,
		"event":   "subscribe",
		"payload": pairs,
	}
}

func (c *gateioConnector) handleMessage(data []byte, bookCh chan<- types.BookTicker, orderCh chan<- types.Order, logger *slog.Logger) {
	var envelope struct {
		Channel string `json:"channel"`
		Event   string `json:"event"`
		Result  struct {
			CurrencyPair string `json:"s"`
			Contract     string `json:"s_contract,omitempty"`
			Bid          string `json:"b"`
			BidSize      string `json:"B"`
			Ask          string `json:"a"`
			AskSize      string `json:"A"`
			Timestamp    int64  `json:"t"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		logger.Debug("ignoring non-json gateio ws message", "data", string(data))
		return
	}
	if envelope.Event != "update" || !strings.Contains(envelope.Channel, "book_ticker") {
		return
	}

	bid, _ := strconv.ParseFloat(envelope.Result.Bid, 64)
	bidQty, _ := strconv.ParseFloat(envelope.Result.BidSize, 64)
	ask, _ := strconv.ParseFloat(envelope.Result.Ask, 64)
	askQty, _ := strconv.ParseFloat(envelope.Result.AskSize, 64)

	ticker := types.BookTicker{
		BidPrice: bid, BidQty: bidQty, AskPrice: ask, AskQty: askQty,
		TimestampMs: uint64(envelope.Result.Timestamp),
	}
	select {
	case bookCh <- ticker:
	default:
		logger.Warn("gateio book ticker channel full, dropping update", "pair", envelope.Result.CurrencyPair)
	}
}

func (c *gateioConnector) PlaceOrder(ctx context.Context, params types.OrderPlacementParams) (types.Order, error) {
	if c.isFutures {
		return c.placeFuturesOrder(ctx, params)
	}
	return c.placeSpotOrder(ctx, params)
}

func (c *gateioConnector) placeSpotOrder(ctx context.Context, params types.OrderPlacementParams) (types.Order, error) {
	side := strings.ToLower(string(params.Side))
	body := map[string]any{
		"currency_pair": gateioSymbolString(params.Symbol),
		"side":          side,
		"amount":        strconv.FormatFloat(params.Quantity, 'f', -1, 64),
		"type":          strings.ToLower(string(params.OrderType)),
	}
	if params.OrderType != types.OrderTypeMarket {
		body["price"] = strconv.FormatFloat(params.Price, 'f', -1, 64)
	}
	if params.ClientOrderID != "" {
		body["text"] = "t-" + params.ClientOrderID
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return types.Order{}, fmt.Errorf("marshal order: %w", err)
	}

	var resp struct {
		ID          string `json:"id"`
		Text        string `json:"text"`
		Status      string `json:"status"`
		Price       string `json:"price"`
		Amount      string `json:"amount"`
		FilledTotal string `json:"filled_total"`
		Left        string `json:"left"`
	}
	path := c.marketPrefix + "/orders"
	if err := c.client.doSigned(ctx, CategoryOrder, http.MethodPost, path, nil, string(raw), &resp); err != nil {
		return types.Order{}, err
	}
	return c.toOrder(resp.ID, resp.Text, params, resp.Status, resp.Price, resp.Amount, resp.Left), nil
}

func (c *gateioConnector) placeFuturesOrder(ctx context.Context, params types.OrderPlacementParams) (types.Order, error) {
	size := params.Quantity
	if params.Side == types.Sell {
		size = -size
	}
	body := map[string]any{
		"contract": gateioSymbolString(params.Symbol),
		"size":     int64(size),
		"price":    strconv.FormatFloat(params.Price, 'f', -1, 64),
		"tif":      strings.ToLower(string(params.TimeInForce)),
		"reduce_only": params.ReduceOnly,
	}
	if params.OrderType == types.OrderTypeMarket {
		body["price"] = "0"
	}
	if params.ClientOrderID != "" {
		body["text"] = "t-" + params.ClientOrderID
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return types.Order{}, fmt.Errorf("marshal order: %w", err)
	}

	var resp struct {
		ID     int64  `json:"id"`
		Text   string `json:"text"`
		Status string `json:"status"`
		Price  string `json:"price"`
		Size   int64  `json:"size"`
		Left   int64  `json:"left"`
	}
	path := c.marketPrefix + "/orders"
	if err := c.client.doSigned(ctx, CategoryOrder, http.MethodPost, path, nil, string(raw), &resp); err != nil {
		return types.Order{}, err
	}
	filled := float64(resp.Size - resp.Left)
	if filled < 0 {
		filled = -filled
	}
	return types.Order{
		OrderID:       strconv.FormatInt(resp.ID, 10),
		ClientOrderID: params.ClientOrderID,
		Symbol:        params.Symbol,
		Side:          params.Side,
		OrderType:     params.OrderType,
		Price:         params.Price,
		Quantity:      params.Quantity,
		FilledQty:     filled,
		Status:        gateioOrderStatus(resp.Status),
		TimeInForce:   params.TimeInForce,
		Timestamp:     time.Now(),
	}, nil
}

func (c *gateioConnector) toOrder(id, text string, params types.OrderPlacementParams, status, price, amount, left string) types.Order {
	p, _ := strconv.ParseFloat(price, 64)
	amt, _ := strconv.ParseFloat(amount, 64)
	l, _ := strconv.ParseFloat(left, 64)
	return types.Order{
		OrderID:       id,
		ClientOrderID: strings.TrimPrefix(text, "t-"),
		Symbol:        params.Symbol,
		Side:          params.Side,
		OrderType:     params.OrderType,
		Price:         p,
		Quantity:      amt,
		FilledQty:     amt - l,
		Status:        gateioOrderStatus(status),
		TimeInForce:   params.TimeInForce,
		Timestamp:     time.Now(),
	}
}

func gateioOrderStatus(s string) types.OrderStatus {
	switch s {
	case "open":
		return types.OrderStatusNew
	case "closed", "finished":
		return types.OrderStatusFilled
	case "cancelled":
		return types.OrderStatusCanceled
	default:
		return types.OrderStatusNew
	}
}

func (c *gateioConnector) CancelOrder(ctx context.Context, symbol types.Symbol, orderID string) error {
	query := map[string]string{}
	if c.isFutures {
		return c.client.doSigned(ctx, CategoryCancel, http.MethodDelete, c.marketPrefix+"/orders/"+orderID, query, "", nil)
	}
	query["currency_pair"] = gateioSymbolString(symbol)
	return c.client.doSigned(ctx, CategoryCancel, http.MethodDelete, c.marketPrefix+"/orders/"+orderID, query, "", nil)
}

func (c *gateioConnector) GetOrder(ctx context.Context, symbol types.Symbol, orderID string) (types.Order, error) {
	query := map[string]string{}
	if !c.isFutures {
		query["currency_pair"] = gateioSymbolString(symbol)
	}
	var resp struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		Price       string `json:"price"`
		Amount      string `json:"amount"`
		Left        string `json:"left"`
		Side        string `json:"side"`
		Type        string `json:"type"`
	}
	path := c.marketPrefix + "/orders/" + orderID
	if err := c.client.doSigned(ctx, CategoryAccount, http.MethodGet, path, query, "", &resp); err != nil {
		return types.Order{}, err
	}
	amt, _ := strconv.ParseFloat(resp.Amount, 64)
	left, _ := strconv.ParseFloat(resp.Left, 64)
	price, _ := strconv.ParseFloat(resp.Price, 64)
	return types.Order{
		OrderID:   resp.ID,
		Symbol:    symbol,
		Side:      types.Side(strings.ToUpper(resp.Side)),
		OrderType: types.OrderType(strings.ToUpper(resp.Type)),
		Price:     price,
		Quantity:  amt,
		FilledQty: amt - left,
		Status:    gateioOrderStatus(resp.Status),
	}, nil
}

func (c *gateioConnector) GetOpenOrders(ctx context.Context, symbol types.Symbol) ([]types.Order, error) {
	query := map[string]string{"status": "open"}
	if !c.isFutures {
		query["currency_pair"] = gateioSymbolString(symbol)
	} else {
		query["contract"] = gateioSymbolString(symbol)
	}
	var resp []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Price  string `json:"price"`
		Amount string `json:"amount"`
		Left   string `json:"left"`
		Side   string `json:"side"`
		Type   string `json:"type"`
	}
	path := c.marketPrefix + "/orders"
	if err := c.client.doSigned(ctx, CategoryAccount, http.MethodGet, path, query, "", &resp); err != nil {
		return nil, err
	}
	orders := make([]types.Order, 0, len(resp))
	for _, o := range resp {
		amt, _ := strconv.ParseFloat(o.Amount, 64)
		left, _ := strconv.ParseFloat(o.Left, 64)
		price, _ := strconv.ParseFloat(o.Price, 64)
		orders = append(orders, types.Order{
			OrderID:   o.ID,
			Symbol:    symbol,
			Side:      types.Side(strings.ToUpper(o.Side)),
			OrderType: types.OrderType(strings.ToUpper(o.Type)),
			Price:     price,
			Quantity:  amt,
			FilledQty: amt - left,
			Status:    gateioOrderStatus(o.Status),
		})
	}
	return orders, nil
}

func (c *gateioConnector) GetBalances(ctx context.Context) (map[types.AssetName]types.AssetBalance, error) {
	if c.isFutures {
		var resp struct {
			Total     string `json:"total"`
			Available string `json:"available"`
		}
		if err := c.client.doSigned(ctx, CategoryAccount, http.MethodGet, c.marketPrefix+"/accounts", nil, "", &resp); err != nil {
			return nil, err
		}
		avail, _ := strconv.ParseFloat(resp.Available, 64)
		total, _ := strconv.ParseFloat(resp.Total, 64)
		return map[types.AssetName]types.AssetBalance{
			"USDT": {Asset: "USDT", Free: avail, Locked: total - avail, UpdatedAt: time.Now()},
		}, nil
	}

	var resp []struct {
		Currency  string `json:"currency"`
		Available string `json:"available"`
		Locked    string `json:"locked"`
	}
	if err := c.client.doSigned(ctx, CategoryAccount, http.MethodGet, c.marketPrefix+"/accounts", nil, "", &resp); err != nil {
		return nil, err
	}
	out := make(map[types.AssetName]types.AssetBalance, len(resp))
	for _, b := range resp {
		free, _ := strconv.ParseFloat(b.Available, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		out[types.AssetName(b.Currency)] = types.AssetBalance{
			Asset: types.AssetName(b.Currency), Free: free, Locked: locked, UpdatedAt: time.Now(),
		}
	}
	return out, nil
}

func (c *gateioConnector) Health(maxMessageAge, maxRESTLatency time.Duration) HealthStatus {
	return evaluateHealth(c.ws, c.client, maxMessageAge, maxRESTLatency)
}

func (c *gateioConnector) Close() error {
	return c.ws.Close()
}
