package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// KlineHandler receives closed bars. Bars still forming are not delivered.
type KlineHandler func(symbol string, bar domain.Bar)

// KlineStream reads one combined kline stream connection. It does not
// reconnect; the caller owns the retry loop.
type KlineStream struct {
	wsURL    string
	symbols  []string
	interval string
	onKline  KlineHandler

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewKlineStream creates a stream for symbols at interval. wsURL is the
// combined stream root, e.g. "wss://stream.binance.com:9443/stream".
func NewKlineStream(wsURL string, symbols []string, interval string, onKline KlineHandler) *KlineStream {
	return &KlineStream{
		wsURL:    strings.TrimRight(wsURL, "/"),
		symbols:  symbols,
		interval: interval,
		onKline:  onKline,
	}
}

// URL returns the combined stream URL for the configured symbols.
func (s *KlineStream) URL() string {
	streams := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		streams[i] = strings.ToLower(sym) + "@kline_" + s.interval
	}
	return s.wsURL + "?streams=" + strings.Join(streams, "/")
}

// Run connects and dispatches closed klines until ctx is done or the
// connection fails. It always returns a non-nil error.
func (s *KlineStream) Run(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.URL(), nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect: %w: %w", domain.ErrWSDisconnect, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("binance/ws: %w", domain.ErrWSDisconnect)
	}
	s.conn = conn
	s.mu.Unlock()
	defer s.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go s.pingLoop(pingCtx, conn)
	go func() {
		<-pingCtx.Done()
		s.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("binance/ws: read: %w: %w", domain.ErrWSDisconnect, err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handleMessage(message)
	}
}

// Close shuts the connection down. It is safe to call more than once.
func (s *KlineStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	return s.conn.Close()
}

func (s *KlineStream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// handleMessage decodes a combined-stream envelope and forwards closed
// klines. Anything else is dropped.
func (s *KlineStream) handleMessage(raw []byte) {
	var ev klineEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	if ev.Data.EventType != "kline" || !ev.Data.Kline.Closed {
		return
	}
	bar, ok := ev.toBar()
	if !ok || s.onKline == nil {
		return
	}
	s.onKline(strings.ToUpper(ev.Data.Symbol), bar)
}
