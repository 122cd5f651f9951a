// Package ws pushes decisions, revisions and fills to browser clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// queueSize bounds envelopes waiting for fan-out.
const queueSize = 256

// liveChannels are the bus channels relayed to sessions. New sessions start
// subscribed to all of them.
var liveChannels = []string{
	domain.ChannelDecision,
	domain.ChannelRevision,
	domain.ChannelFill,
	domain.ChannelStatus,
	domain.ChannelBacktest,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// /ws sits behind the API key middleware; origins are not checked.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Envelope is the frame sent to clients.
type Envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// StatusFunc returns the payload pushed to a client when it connects.
type StatusFunc func() any

// Hub fans envelopes out to websocket sessions by channel. Envelopes come
// from Broadcast and, when a bus is configured, from other instances.
type Hub struct {
	bus    domain.SignalBus
	status StatusFunc
	logger *slog.Logger
	queue  chan Envelope

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// NewHub creates a hub. bus and status may be nil.
func NewHub(bus domain.SignalBus, status StatusFunc, logger *slog.Logger) *Hub {
	return &Hub{
		bus:      bus,
		status:   status,
		logger:   logger.With(slog.String("component", "ws_hub")),
		queue:    make(chan Envelope, queueSize),
		sessions: make(map[*session]struct{}),
	}
}

// Broadcast queues payload for sessions subscribed to channel. The envelope
// is dropped when the queue is full.
func (h *Hub) Broadcast(channel string, payload []byte) {
	select {
	case h.queue <- Envelope{Channel: channel, Data: payload}:
	default:
		h.logger.Warn("ws: queue full, dropping envelope", slog.String("channel", channel))
	}
}

// Run relays bus channels and delivers queued envelopes until ctx ends, then
// disconnects every session.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		for _, ch := range liveChannels {
			go h.relay(ctx, ch)
		}
	}
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for s := range h.sessions {
				h.removeLocked(s)
			}
			h.mu.Unlock()
			return ctx.Err()
		case env := <-h.queue:
			h.deliver(env)
		}
	}
}

func (h *Hub) deliver(env Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		h.logger.Warn("ws: marshal envelope", slog.String("channel", env.Channel), slog.String("error", err.Error()))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		if !s.topics.match(env.Channel) {
			continue
		}
		if !s.offer(frame) {
			h.logger.Warn("ws: session too slow, frame dropped", slog.String("channel", env.Channel))
		}
	}
}

func (h *Hub) relay(ctx context.Context, channel string) {
	in, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: bus subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	for data := range in {
		h.Broadcast(channel, data)
	}
	if ctx.Err() == nil {
		h.logger.Warn("ws: bus subscription ended", slog.String("channel", channel))
	}
}

// HandleWS upgrades the request and starts a session.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	s := newSession(h, conn)
	h.greet(s)

	h.mu.Lock()
	h.sessions[s] = struct{}{}
	n := len(h.sessions)
	h.mu.Unlock()
	h.logger.Info("ws: session opened", slog.Int("sessions", n))

	go s.writeLoop()
	go s.readLoop()
}

// greet queues the status snapshot so a session has state before the
// first event.
func (h *Hub) greet(s *session) {
	if h.status == nil {
		return
	}
	data, err := json.Marshal(h.status())
	if err != nil {
		return
	}
	if frame, err := json.Marshal(Envelope{Channel: domain.ChannelStatus, Data: data}); err == nil {
		s.offer(frame)
	}
}

func (h *Hub) remove(s *session) {
	h.mu.Lock()
	_, ok := h.sessions[s]
	h.removeLocked(s)
	n := len(h.sessions)
	h.mu.Unlock()
	if ok {
		h.logger.Info("ws: session closed", slog.Int("sessions", n))
	}
}

func (h *Hub) removeLocked(s *session) {
	if _, ok := h.sessions[s]; ok {
		delete(h.sessions, s)
		close(s.out)
	}
}
