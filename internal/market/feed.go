package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lendguard/hedgebot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// wsCommand is the subscribe/unsubscribe message sent to the venue stream.
type wsCommand struct {
	Type string `json:"type"`
	Pair string `json:"pair"`
}

// tickMessage is one price tick from the venue stream.
type tickMessage struct {
	Type      string  `json:"type"`
	Pair      string  `json:"pair"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`
	Volume24h float64 `json:"volume_24h"`
	Timestamp int64   `json:"timestamp"`
}

// WSFeed streams venue price ticks over a WebSocket and fans them out to
// per-pair subscriber callbacks. It reconnects with exponential backoff and
// restores subscriptions after a reconnect.
type WSFeed struct {
	wsURL  string
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	subMu   sync.RWMutex
	subs    map[string]map[int64]domain.PriceCallback // pair -> id -> cb
	nextSub int64

	done chan struct{}
}

var _ domain.PriceFeed = (*WSFeed)(nil)

// NewWSFeed creates a price feed for the given WebSocket endpoint, e.g.
// "wss://stream.venue.example/v1/ticker".
func NewWSFeed(wsURL string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "price_feed")),
		subs:   make(map[string]map[int64]domain.PriceCallback),
		done:   make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. It restores any previous subscriptions after a reconnect.
func (f *WSFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("market/feed: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("market/feed: connect: %w", err)
	}

	f.conn = conn
	f.conn.SetReadDeadline(time.Now().Add(pongWait))
	f.conn.SetPongHandler(func(string) error {
		f.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go f.readLoop(conn)
	go f.pingLoop(conn)

	f.subMu.RLock()
	pairs := make([]string, 0, len(f.subs))
	for pair := range f.subs {
		pairs = append(pairs, pair)
	}
	f.subMu.RUnlock()

	for _, pair := range pairs {
		if err := f.sendCommand(wsCommand{Type: "subscribe", Pair: pair}); err != nil {
			return fmt.Errorf("market/feed: restore subscription %s: %w", pair, err)
		}
	}

	return nil
}

// SubscribePrice registers cb for ticks on pair. The first subscriber for a
// pair opens the venue-side subscription; the returned function removes the
// callback and closes the venue subscription when it was the last one.
func (f *WSFeed) SubscribePrice(ctx context.Context, pair string, cb domain.PriceCallback) (func(), error) {
	if pair == "" {
		return nil, fmt.Errorf("market/feed: %w: pair required", domain.ErrValidation)
	}
	if cb == nil {
		return nil, fmt.Errorf("market/feed: %w: callback required", domain.ErrValidation)
	}

	f.subMu.Lock()
	first := len(f.subs[pair]) == 0
	if f.subs[pair] == nil {
		f.subs[pair] = make(map[int64]domain.PriceCallback)
	}
	f.nextSub++
	id := f.nextSub
	f.subs[pair][id] = cb
	f.subMu.Unlock()

	if first {
		f.mu.Lock()
		err := f.sendCommand(wsCommand{Type: "subscribe", Pair: pair})
		f.mu.Unlock()
		if err != nil {
			f.subMu.Lock()
			delete(f.subs[pair], id)
			f.subMu.Unlock()
			return nil, fmt.Errorf("market/feed: subscribe %s: %w", pair, err)
		}
	}

	unsubscribe := func() {
		f.subMu.Lock()
		delete(f.subs[pair], id)
		last := len(f.subs[pair]) == 0
		if last {
			delete(f.subs, pair)
		}
		f.subMu.Unlock()

		if last {
			f.mu.Lock()
			if f.conn != nil && !f.closed {
				_ = f.sendCommand(wsCommand{Type: "unsubscribe", Pair: pair})
			}
			f.mu.Unlock()
		}
	}

	return unsubscribe, nil
}

// Close shuts the feed down. Subsequent Connect calls fail.
func (f *WSFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	close(f.done)

	if f.conn != nil {
		_ = f.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return f.conn.Close()
	}

	return nil
}

// sendCommand writes a JSON command. Caller must hold f.mu.
func (f *WSFeed) sendCommand(cmd wsCommand) error {
	if f.conn == nil {
		return fmt.Errorf("not connected")
	}

	f.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return f.conn.WriteMessage(websocket.TextMessage, data)
}

func (f *WSFeed) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-f.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				return
			default:
			}

			f.logger.Warn("feed disconnected, reconnecting", slog.Any("error", err))
			f.reconnect()
			return
		}

		f.dispatch(message)
	}
}

func (f *WSFeed) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch parses a raw tick and fans it out to the pair's subscribers.
func (f *WSFeed) dispatch(raw []byte) {
	var tick tickMessage
	if err := json.Unmarshal(raw, &tick); err != nil {
		return // drop unparseable messages
	}
	if tick.Type != "" && tick.Type != "tick" {
		return
	}
	if tick.Pair == "" || tick.Price <= 0 {
		return
	}

	update := domain.PriceUpdate{
		Pair:      tick.Pair,
		Price:     tick.Price,
		Change24h: tick.Change24h,
		Volume24h: tick.Volume24h,
		Timestamp: time.Unix(tick.Timestamp, 0).UTC(),
	}

	f.subMu.RLock()
	cbs := make([]domain.PriceCallback, 0, len(f.subs[tick.Pair]))
	for _, cb := range f.subs[tick.Pair] {
		cbs = append(cbs, cb)
	}
	f.subMu.RUnlock()

	for _, cb := range cbs {
		cb(update)
	}
}

// reconnect blocks until a new connection is established or the feed is
// closed, doubling the delay up to maxReconnectDelay.
func (f *WSFeed) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-f.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := f.Connect(ctx)
		cancel()
		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
