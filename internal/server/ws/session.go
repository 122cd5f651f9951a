package ws

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxFrameSize = 4096
	outBuffer    = 256
)

// control is what a client sends to change its channels, for example
// {"action":"unsubscribe","channels":["ch:decision"]}. A trailing * matches
// by prefix.
type control struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// topicSet is a session's channel subscriptions.
type topicSet struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

func newTopicSet(names ...string) *topicSet {
	t := &topicSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		t.names[n] = struct{}{}
	}
	return t
}

func (t *topicSet) apply(c control) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch strings.ToLower(c.Action) {
	case "subscribe":
		for _, n := range c.Channels {
			t.names[n] = struct{}{}
		}
	case "unsubscribe":
		for _, n := range c.Channels {
			delete(t.names, n)
		}
	}
}

func (t *topicSet) match(channel string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.names[channel]; ok {
		return true
	}
	for n := range t.names {
		if prefix, ok := strings.CutSuffix(n, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

// session is one websocket connection. The hub owns out and closes it on
// removal, which ends writeLoop.
type session struct {
	hub    *Hub
	conn   *websocket.Conn
	out    chan []byte
	topics *topicSet
}

func newSession(h *Hub, conn *websocket.Conn) *session {
	return &session{
		hub:    h,
		conn:   conn,
		out:    make(chan []byte, outBuffer),
		topics: newTopicSet(liveChannels...),
	}
}

// offer queues frame without blocking. Callers hold the hub lock or own the
// session exclusively.
func (s *session) offer(frame []byte) bool {
	select {
	case s.out <- frame:
		return true
	default:
		return false
	}
}

func (s *session) readLoop() {
	defer func() {
		s.hub.remove(s)
		s.conn.Close()
	}()
	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var c control
		if json.Unmarshal(raw, &c) == nil && c.Action != "" {
			s.topics.apply(c)
		}
	}
}

func (s *session) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		var (
			kind    = websocket.PingMessage
			payload []byte
		)
		select {
		case frame, ok := <-s.out:
			if !ok {
				s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			kind, payload = websocket.TextMessage, frame
		case <-ping.C:
		}
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(kind, payload); err != nil {
			return
		}
	}
}
