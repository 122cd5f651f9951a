package history

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// CSVSource reads one file per symbol and interval named
// "{SYMBOL}_{interval}.csv", from a directory or an object store prefix.
type CSVSource struct {
	open func(ctx context.Context, name string) (io.ReadCloser, error)
	desc string
}

// NewCSVDir reads files under dir.
func NewCSVDir(dir string) *CSVSource {
	return &CSVSource{
		open: func(_ context.Context, name string) (io.ReadCloser, error) {
			f, err := os.Open(filepath.Join(dir, name))
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, name)
			}
			return f, err
		},
		desc: dir,
	}
}

// NewCSVBlob reads objects under prefix through r, for example an S3 reader.
func NewCSVBlob(r domain.BlobReader, prefix string) *CSVSource {
	return &CSVSource{
		open: func(ctx context.Context, name string) (io.ReadCloser, error) {
			return r.Get(ctx, path.Join(prefix, name))
		},
		desc: prefix,
	}
}

func csvName(symbol, interval string) string {
	return strings.ToUpper(symbol) + "_" + interval + ".csv"
}

// Load implements domain.HistoricalSource.
func (s *CSVSource) Load(ctx context.Context, symbol, interval string, from, to time.Time) (domain.Series, error) {
	name := csvName(symbol, interval)
	rc, err := s.open(ctx, name)
	if err != nil {
		return domain.Series{}, fmt.Errorf("history: csv open %s/%s: %w", s.desc, name, err)
	}
	defer rc.Close()

	bars, err := ParseCSV(rc)
	if err != nil {
		return domain.Series{}, fmt.Errorf("history: csv %s: %w", name, err)
	}
	return domain.Series{Symbol: symbol, Interval: interval, Bars: normalise(bars, from, to)}, nil
}

// decodeReader strips a UTF-8 BOM or transcodes UTF-16 with a BOM, as
// spreadsheet exports often carry one.
func decodeReader(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	b, _ := br.Peek(3)
	switch {
	case len(b) >= 2 && ((b[0] == 0xFF && b[1] == 0xFE) || (b[0] == 0xFE && b[1] == 0xFF)):
		return transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
	case len(b) == 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF:
		return transform.NewReader(br, unicode.UTF8BOM.NewDecoder())
	}
	return br
}

// ParseCSV reads rows of time,open,high,low,close[,volume]. A header row is
// skipped. Time is epoch milliseconds, epoch seconds or RFC 3339.
func ParseCSV(r io.Reader) ([]domain.Bar, error) {
	cr := csv.NewReader(decodeReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var bars []domain.Bar
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) < 5 {
			return nil, fmt.Errorf("line %d: want at least 5 fields, got %d", line, len(rec))
		}
		if line == 1 && isHeader(rec[0]) {
			continue
		}
		bar, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func isHeader(field string) bool {
	f := strings.ToLower(strings.TrimSpace(field))
	return strings.HasPrefix(f, "time") || f == "date" || f == "open_time" || f == "ts"
}

func parseRow(rec []string) (domain.Bar, error) {
	ts, err := parseTime(rec[0])
	if err != nil {
		return domain.Bar{}, err
	}
	var vals [5]float64
	n := len(rec)
	if n > 6 {
		n = 6
	}
	for i := 1; i < n; i++ {
		v, err := strconv.ParseFloat(strings.Trim(strings.TrimSpace(rec[i]), `"`), 64)
		if err != nil {
			return domain.Bar{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		vals[i-1] = v
	}
	return domain.Bar{Time: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n >= 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}
