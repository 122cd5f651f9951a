package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

func TestHubDeliversBySubscription(t *testing.T) {
	hub := NewHub(nil, func() any { return map[string]string{"mode": "paper"} }, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if env.Channel != domain.ChannelStatus || !strings.Contains(string(env.Data), "paper") {
		t.Fatalf("status frame = %+v", env)
	}

	if err := conn.WriteJSON(control{Action: "unsubscribe", Channels: []string{domain.ChannelDecision}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Give the read pump time to apply the change before broadcasting.
	time.Sleep(100 * time.Millisecond)
	hub.Broadcast(domain.ChannelDecision, json.RawMessage(`{"skip":true}`))
	hub.Broadcast(domain.ChannelFill, json.RawMessage(`{"id":"f1"}`))

	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read fill: %v", err)
	}
	if env.Channel != domain.ChannelFill || string(env.Data) != `{"id":"f1"}` {
		t.Fatalf("frame = %s %s", env.Channel, env.Data)
	}
}

func TestTopicSetMatch(t *testing.T) {
	if !newTopicSet("ch:*").match(domain.ChannelFill) {
		t.Fatal("wildcard did not match")
	}
	ts := newTopicSet(domain.ChannelFill)
	if ts.match(domain.ChannelDecision) {
		t.Fatal("unexpected match")
	}
	ts.apply(control{Action: "Subscribe", Channels: []string{domain.ChannelDecision}})
	ts.apply(control{Action: "unsubscribe", Channels: []string{domain.ChannelFill}})
	if !ts.match(domain.ChannelDecision) || ts.match(domain.ChannelFill) {
		t.Fatal("apply did not update subscriptions")
	}
}
