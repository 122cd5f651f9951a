package history

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/unicode"

	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/platform/binance"
)

const sampleCSV = `timestamp,open,high,low,close,volume
1709251200000,100,101,99,100.5,12
1709254800000,100.5,102,100,101.5,8
1709258400000,101.5,103,101,102.5,3
`

func TestParseCSVUTF16(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	raw, err := enc.Bytes([]byte(sampleCSV))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	bars, err := ParseCSV(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(bars) != 3 || bars[1].Close != 101.5 || bars[2].Volume != 3 {
		t.Fatalf("bars = %+v", bars)
	}
	if want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC); !bars[0].Time.Equal(want) {
		t.Fatalf("time = %v, want %v", bars[0].Time, want)
	}
}

func TestParseCSVUTF8BOMAndRFC3339(t *testing.T) {
	in := "\xEF\xBB\xBFtime,open,high,low,close\n2024-03-01T00:00:00Z,1,2,0.5,1.5\n"
	bars, err := ParseCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(bars) != 1 || bars[0].Close != 1.5 || bars[0].Volume != 0 {
		t.Fatalf("bars = %+v", bars)
	}
}

func TestParseCSVRejectsMalformedRow(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("1709251200,1,2,x,1\n"))
	if err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("err = %v", err)
	}
}

func TestCSVDirLoad(t *testing.T) {
	dir := t.TempDir()
	body := sampleCSV + "1709254800000,9,9,9,9,9\n"
	if err := os.WriteFile(filepath.Join(dir, "BTCUSDT_1h.csv"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	src := NewCSVDir(dir)
	from := time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)
	s, err := src.Load(context.Background(), "btcusdt", "1h", from, time.Time{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2 after clipping", s.Len())
	}
	if s.Bars[0].Close != 9 {
		t.Fatalf("duplicate time should keep the last row, got close %v", s.Bars[0].Close)
	}

	if _, err := src.Load(context.Background(), "ETHUSDT", "1h", time.Time{}, time.Time{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing file err = %v", err)
	}
}

type memBlob map[string]string

func (m memBlob) Get(_ context.Context, p string) (io.ReadCloser, error) {
	body, ok := m[p]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}
func (m memBlob) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }
func (m memBlob) Exists(_ context.Context, p string) (bool, error) {
	_, ok := m[p]
	return ok, nil
}

func TestCSVBlobLoad(t *testing.T) {
	src := NewCSVBlob(memBlob{"history/ETHUSDT_1h.csv": sampleCSV}, "history")
	s, err := src.Load(context.Background(), "ETHUSDT", "1h", time.Time{}, time.Time{})
	if err != nil || s.Len() != 3 {
		t.Fatalf("load = %d bars, %v", s.Len(), err)
	}
}

type pagedFetcher struct {
	total int
	calls int
	start time.Time
}

func (f *pagedFetcher) Klines(_ context.Context, _, _ string, start, end time.Time, limit int) ([]domain.Bar, error) {
	f.calls++
	var out []domain.Bar
	for i := 0; i < f.total && len(out) < limit; i++ {
		t := f.start.Add(time.Duration(i) * time.Minute)
		if t.Before(start) || t.After(end) {
			continue
		}
		out = append(out, domain.Bar{Time: t, Close: float64(i)})
	}
	return out, nil
}

func TestRESTSourcePages(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &pagedFetcher{total: binance.MaxKlines + 500, start: start}
	src := NewREST(f, slog.New(slog.NewTextHandler(io.Discard, nil)))

	to := start.Add(time.Duration(f.total) * time.Minute)
	s, err := src.Load(context.Background(), "BTCUSDT", "1m", start, to)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Len() != f.total || f.calls != 2 {
		t.Fatalf("len = %d calls = %d", s.Len(), f.calls)
	}
	for i := 1; i < s.Len(); i++ {
		if !s.Bars[i].Time.After(s.Bars[i-1].Time) {
			t.Fatalf("bars not ascending at %d", i)
		}
	}
}

func TestRESTSourceBadInterval(t *testing.T) {
	src := NewREST(&pagedFetcher{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := src.Load(context.Background(), "BTCUSDT", "bogus", time.Time{}, time.Time{}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("err = %v", err)
	}
}

func TestCandlesQueryUsesFinal(t *testing.T) {
	q := candlesQuery("market.candles")
	if !strings.Contains(q, "FROM market.candles FINAL") || !strings.Contains(q, "ORDER BY open_time_ms") {
		t.Fatalf("query = %s", q)
	}
}
