package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type recordSender struct {
	titles []string
	err    error
}

func (r *recordSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}
func (r *recordSender) Name() string { return "record" }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordSender{}
	n := NewNotifier([]Sender{s}, []string{"circuit_breaker"}, 0, quiet())
	_ = n.Notify(context.Background(), "verdict_rejected", "x", "y")
	_ = n.Notify(context.Background(), "circuit_breaker", "tripped", "daily loss")
	if len(s.titles) != 1 || s.titles[0] != "[circuit_breaker] tripped" {
		t.Fatalf("titles = %v", s.titles)
	}
}

func TestNotifierCooldown(t *testing.T) {
	s := &recordSender{}
	n := NewNotifier([]Sender{s}, nil, time.Minute, quiet())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }

	_ = n.Notify(context.Background(), "error", "a", "")
	_ = n.Notify(context.Background(), "error", "b", "")
	_ = n.Notify(context.Background(), "circuit_breaker", "c", "")
	now = now.Add(2 * time.Minute)
	_ = n.Notify(context.Background(), "error", "d", "")
	if len(s.titles) != 3 {
		t.Fatalf("titles = %v, want the repeat inside the cooldown dropped", s.titles)
	}
}

func TestNotifierJoinsSenderErrors(t *testing.T) {
	boom := errors.New("boom")
	ok := &recordSender{}
	n := NewNotifier([]Sender{&recordSender{err: boom}, ok}, nil, 0, quiet())
	err := n.Notify(context.Background(), "error", "t", "m")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(ok.titles) != 1 {
		t.Fatal("a failing sender blocked the others")
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	if err := s.Send(context.Background(), "title", "body"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["chat_id"] != "42" || got["text"] != "*title*\nbody" {
		t.Fatalf("payload = %v", got)
	}
}

func TestDiscordSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v", err)
	}
}

func TestDiscordSenderEmbed(t *testing.T) {
	var got discordMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	if err := s.Send(context.Background(), "risk halt", strings.Repeat("x", 5000)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("embeds = %+v", got.Embeds)
	}
	e := got.Embeds[0]
	if e.Title != "risk halt" || e.Timestamp != "2024-03-01T12:00:00Z" {
		t.Fatalf("embed = %+v", e)
	}
	if n := len([]rune(e.Description)); n != discordMaxDescription {
		t.Fatalf("description runes = %d", n)
	}
}
