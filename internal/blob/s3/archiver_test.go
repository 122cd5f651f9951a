package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

type memStore struct {
	objects   map[string][]byte
	multipart int
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Put(_ context.Context, p string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	m.objects[p] = b
	return err
}

func (m *memStore) PutMultipart(ctx context.Context, p string, data io.Reader, _ int64) error {
	m.multipart++
	return m.Put(ctx, p, data, "")
}

func (m *memStore) Get(_ context.Context, p string) (io.ReadCloser, error) {
	b, ok := m.objects[p]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memStore) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

func (m *memStore) Exists(_ context.Context, p string) (bool, error) {
	_, ok := m.objects[p]
	return ok, nil
}

type auditLog struct{ events []string }

func (a *auditLog) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func TestArchiverWritesResultAndTrades(t *testing.T) {
	store := newMemStore()
	audit := &auditLog{}
	a := NewArchiver(store, store, audit)

	r := domain.BacktestResult{
		ID:         "r1",
		ConfigHash: "abc",
		Symbol:     "BTCUSDT",
		Trades:     []domain.SimulatedTrade{{ID: "t1"}, {ID: "t2"}},
	}
	if err := a.SaveResult(context.Background(), r); err != nil {
		t.Fatalf("save: %v", err)
	}

	var got domain.BacktestResult
	if err := json.Unmarshal(store.objects["results/abc/r1.json"], &got); err != nil {
		t.Fatalf("decode archived result: %v", err)
	}
	if got.ID != "r1" || got.Symbol != "BTCUSDT" {
		t.Fatalf("archived %+v", got)
	}
	lines := strings.Split(strings.TrimSpace(string(store.objects["results/abc/r1.trades.jsonl"])), "\n")
	if len(lines) != 2 {
		t.Fatalf("trade lines = %d", len(lines))
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.result" {
		t.Fatalf("audit = %v", audit.events)
	}

	// A second save of the same result is a no-op.
	if err := a.SaveResult(context.Background(), r); err != nil {
		t.Fatalf("resave: %v", err)
	}
	if len(audit.events) != 1 {
		t.Fatal("existing archive was rewritten")
	}
}

func TestArchiverLargeResultUsesMultipart(t *testing.T) {
	store := newMemStore()
	a := NewArchiver(store, nil, nil)
	eq := make([]domain.EquityPoint, 250_000)
	if err := a.SaveResult(context.Background(), domain.BacktestResult{ID: "big", ConfigHash: "h", Equity: eq}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if store.multipart != 1 {
		t.Fatalf("multipart uploads = %d", store.multipart)
	}
}

func TestClientKey(t *testing.T) {
	c := &Client{prefix: "desk"}
	if got := c.Key("/results/a.json"); got != "desk/results/a.json" {
		t.Fatalf("Key = %q", got)
	}
	if got := (&Client{}).Key("results/a.json"); got != "results/a.json" {
		t.Fatalf("Key without prefix = %q", got)
	}
	if got := normaliseEndpoint("minio:9000", false); got != "http://minio:9000" {
		t.Fatalf("endpoint = %q", got)
	}
}
