package history

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// ClickHouseConfig locates the candles table.
type ClickHouseConfig struct {
	Addr     []string
	Database string
	Username string
	Password string
	Table    string
}

// ClickHouseSource reads bars from a candles table keyed by
// (symbol, interval, open_time_ms) on a ReplacingMergeTree.
type ClickHouseSource struct {
	conn  driver.Conn
	table string
}

// NewClickHouse connects and pings.
func NewClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseSource, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("history: clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("history: clickhouse ping: %w", err)
	}
	table := cfg.Table
	if table == "" {
		table = "candles"
	}
	if cfg.Database != "" {
		table = cfg.Database + "." + table
	}
	return &ClickHouseSource{conn: conn, table: table}, nil
}

// Close closes the connection.
func (s *ClickHouseSource) Close() error {
	return s.conn.Close()
}

func candlesQuery(table string) string {
	return fmt.Sprintf(`
		SELECT open_time_ms, open, high, low, close, volume
		FROM %s FINAL
		WHERE symbol = ? AND interval = ? AND open_time_ms >= ? AND open_time_ms <= ?
		ORDER BY open_time_ms`, table)
}

// Load implements domain.HistoricalSource.
func (s *ClickHouseSource) Load(ctx context.Context, symbol, interval string, from, to time.Time) (domain.Series, error) {
	if to.IsZero() {
		to = time.Now()
	}
	rows, err := s.conn.Query(ctx, candlesQuery(s.table),
		symbol, interval, uint64(max(from.UnixMilli(), 0)), uint64(max(to.UnixMilli(), 0)))
	if err != nil {
		return domain.Series{}, fmt.Errorf("history: clickhouse query %s %s: %w", symbol, interval, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var (
			openMs uint64
			b      domain.Bar
		)
		if err := rows.Scan(&openMs, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return domain.Series{}, fmt.Errorf("history: clickhouse scan: %w", err)
		}
		b.Time = time.UnixMilli(int64(openMs)).UTC()
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return domain.Series{}, fmt.Errorf("history: clickhouse rows: %w", err)
	}
	return domain.Series{Symbol: symbol, Interval: interval, Bars: normalise(bars, from, to)}, nil
}
