// ws.go implements the shared WebSocket feed lifecycle: connect, send the
// venue's subscribe message, read loop with a read-deadline watchdog,
// auto-reconnect with exponential backoff + jitter, and re-subscribe on
// reconnect. Venue-specific wire formats plug in via buildSubscribe and
// handleMessage; this file owns everything else so mexc.go and gateio.go
// only need to describe "what to send" and "how to parse what comes back".
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

const (
	wsReadTimeout      = 90 * time.Second // ~4 missed pings at the default 20s interval triggers reconnect
	wsWriteTimeout     = 10 * time.Second
	wsMaxReconnectWait = 30 * time.Second
	wsBookBufferSize   = 256
	wsOrderBufferSize  = 64
)

// wsMessageHandler parses one raw WS frame and publishes normalized events
// onto bookCh/orderCh. Implementations never block — they drop and log on
// a full channel rather than stall the read loop.
type wsMessageHandler func(data []byte, bookCh chan<- types.BookTicker, orderCh chan<- types.Order, logger *slog.Logger)

// WSFeed manages one WebSocket connection for one venue and normalizes its
// messages into BookTicker and Order updates.
type WSFeed struct {
	url          string
	pingInterval time.Duration

	buildSubscribe func(symbols []types.Symbol) any
	handleMessage  wsMessageHandler

	conn   *websocket.Conn
	connMu sync.Mutex

	symbolsMu sync.RWMutex
	symbols   []types.Symbol

	bookCh  chan types.BookTicker
	orderCh chan types.Order

	statusMu      sync.RWMutex
	connectedAt   time.Time
	lastMessageAt time.Time

	logger *slog.Logger
}

// newWSFeed builds a feed for one venue's WebSocket URL.
func newWSFeed(url string, pingInterval time.Duration, buildSubscribe func([]types.Symbol) any, handleMessage wsMessageHandler, logger *slog.Logger) *WSFeed {
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	return &WSFeed{
		url:            url,
		pingInterval:   pingInterval,
		buildSubscribe: buildSubscribe,
		handleMessage:  handleMessage,
		bookCh:         make(chan types.BookTicker, wsBookBufferSize),
		orderCh:        make(chan types.Order, wsOrderBufferSize),
		logger:         logger,
	}
}

// BookTickerEvents returns a read-only channel of normalized book ticker updates.
func (f *WSFeed) BookTickerEvents() <-chan types.BookTicker { return f.bookCh }

// OrderEvents returns a read-only channel of normalized order lifecycle updates.
func (f *WSFeed) OrderEvents() <-chan types.Order { return f.orderCh }

// ConnectedAt returns when the current connection was established, or the
// zero time if disconnected.
func (f *WSFeed) ConnectedAt() time.Time {
	f.statusMu.RLock()
	defer f.statusMu.RUnlock()
	return f.connectedAt
}

// LastMessageAt returns when the feed last received any frame from the venue.
func (f *WSFeed) LastMessageAt() time.Time {
	f.statusMu.RLock()
	defer f.statusMu.RUnlock()
	return f.lastMessageAt
}

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context, symbols []types.Symbol) error {
	f.symbolsMu.Lock()
	f.symbols = symbols
	f.symbolsMu.Unlock()

	backoff := time.Second
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		wait := backoff + jitter
		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "wait", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		backoff *= 2
		if backoff > wsMaxReconnectWait {
			backoff = wsMaxReconnectWait
		}
	}
}

// Close closes the active connection, if any.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	f.symbolsMu.RLock()
	symbols := append([]types.Symbol(nil), f.symbols...)
	f.symbolsMu.RUnlock()

	if msg := f.buildSubscribe(symbols); msg != nil {
		if err := f.writeJSON(msg); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	f.logger.Info("websocket connected", "url", f.url)
	now := time.Now()
	f.statusMu.Lock()
	f.connectedAt = now
	f.lastMessageAt = now
	f.statusMu.Unlock()
	defer func() {
		f.statusMu.Lock()
		f.connectedAt = time.Time{}
		f.statusMu.Unlock()
	}()

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.statusMu.Lock()
		f.lastMessageAt = time.Now()
		f.statusMu.Unlock()
		f.handleMessage(msg, f.bookCh, f.orderCh, f.logger)
	}
}

func (f *WSFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.PingMessage, nil); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *WSFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteJSON(v)
}

func (f *WSFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteMessage(msgType, data)
}
