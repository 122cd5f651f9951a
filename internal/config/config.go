// Package config defines the agentdesk configuration, its defaults and
// validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/strategy"
)

// Run modes.
const (
	ModeLive     = "live"
	ModePaper    = "paper"
	ModeBacktest = "backtest"
	ModeOptimize = "optimize"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then overridden by AGENTDESK_* environment variables.
type Config struct {
	Mode     string   `toml:"mode"`
	LogLevel string   `toml:"log_level"`
	Symbols  []string `toml:"symbols"`
	Interval string   `toml:"interval"`

	Agent      AgentConfig           `toml:"agent"`
	Strategy   domain.StrategyConfig `toml:"strategy"`
	Risk       RiskConfig            `toml:"risk"`
	Backtest   BacktestConfig        `toml:"backtest"`
	Optimizer  OptimizerConfig       `toml:"optimizer"`
	Binance    BinanceConfig         `toml:"binance"`
	Feed       FeedConfig            `toml:"feed"`
	History    HistoryConfig         `toml:"history"`
	ClickHouse ClickHouseConfig      `toml:"clickhouse"`
	Postgres   PostgresConfig        `toml:"postgres"`
	Redis      RedisConfig           `toml:"redis"`
	S3         S3Config              `toml:"s3"`
	Server     ServerConfig          `toml:"server"`
	Notify     NotifyConfig          `toml:"notify"`

	// Path is the file the config was loaded from, used by ReloadRisk.
	Path string `toml:"-"`
}

// AgentConfig bounds the manager loop. A zero tick interval ticks on every
// closed bar.
type AgentConfig struct {
	TickInterval  duration `toml:"tick_interval"`
	TickTimeout   duration `toml:"tick_timeout"`
	SubmitTimeout duration `toml:"submit_timeout"`
	// PendingTTL expires a submitted order that never got a terminal report.
	// Zero keeps pending orders until their report arrives.
	PendingTTL    duration `toml:"pending_ttl"`
}

// RiskConfig holds the account capital and hard limits.
type RiskConfig struct {
	InitialCapital       float64  `toml:"initial_capital"`
	MaxPositionNotional  float64  `toml:"max_position_notional"`
	MaxAggregateExposure float64  `toml:"max_aggregate_exposure"`
	MaxDailyLoss         float64  `toml:"max_daily_loss"`
	MaxOpenPositions     int      `toml:"max_open_positions"`
	MaxTradesPerDay      int      `toml:"max_trades_per_day"`
	MinTradeInterval     duration `toml:"min_trade_interval"`
}

// Limits converts the section to domain limits.
func (r RiskConfig) Limits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxPositionNotional:  r.MaxPositionNotional,
		MaxAggregateExposure: r.MaxAggregateExposure,
		MaxDailyLoss:         r.MaxDailyLoss,
		MaxOpenPositions:     r.MaxOpenPositions,
		MaxTradesPerDay:      r.MaxTradesPerDay,
		MinTradeInterval:     r.MinTradeInterval.Duration,
	}
}

// BacktestConfig holds the fill model and the replay window. From and To
// are RFC 3339 dates; an empty To means now.
type BacktestConfig struct {
	SlippageBps    float64 `toml:"slippage_bps"`
	FeeBps         float64 `toml:"fee_bps"`
	WindowSize     int     `toml:"window_size"`
	PeriodsPerYear float64 `toml:"periods_per_year"`
	From           string  `toml:"from"`
	To             string  `toml:"to"`
	// Output, when set, receives the results as JSON.
	Output string `toml:"output"`
}

// Range parses From and To.
func (b BacktestConfig) Range(now time.Time) (time.Time, time.Time, error) {
	parse := func(s string) (time.Time, error) {
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("%q is not an RFC 3339 date", s)
	}
	var from, to time.Time
	var err error
	if b.From != "" {
		if from, err = parse(b.From); err != nil {
			return from, to, fmt.Errorf("from: %w", err)
		}
	}
	to = now.UTC()
	if b.To != "" {
		if to, err = parse(b.To); err != nil {
			return from, to, fmt.Errorf("to: %w", err)
		}
	}
	if !from.IsZero() && !from.Before(to) {
		return from, to, fmt.Errorf("from must be before to")
	}
	return from, to, nil
}

// OptimizerConfig configures the search and the scheduled agent. An empty
// Space is derived from the strategy kinds' bounds.
type OptimizerConfig struct {
	Enabled         bool                `toml:"enabled"`
	Every           duration            `toml:"every"`
	History         duration            `toml:"history"`
	Iterations      int                 `toml:"iterations"`
	MaxDuration     duration            `toml:"max_duration"`
	Startup         int                 `toml:"startup"`
	Candidates      int                 `toml:"candidates"`
	Gamma           float64             `toml:"gamma"`
	Parallelism     int                 `toml:"parallelism"`
	DrawdownPenalty float64             `toml:"drawdown_penalty"`
	MinTrades       int                 `toml:"min_trades"`
	Seed            uint64              `toml:"seed"`
	MinImprovement  float64             `toml:"min_improvement"`
	LockTTL         duration            `toml:"lock_ttl"`
	WalkForward     WalkForwardConfig   `toml:"walk_forward"`
	Space           []domain.ParamRange `toml:"space"`
}

// WalkForwardConfig sizes walk-forward folds in bars.
type WalkForwardConfig struct {
	Enabled bool `toml:"enabled"`
	Train   int  `toml:"train"`
	Test    int  `toml:"test"`
	Step    int  `toml:"step"`
}

// BinanceConfig holds the exchange endpoints and credentials. The secret is
// either raw or an encrypted file unlocked by SecretPassword.
type BinanceConfig struct {
	RestURL             string   `toml:"rest_url"`
	WSURL               string   `toml:"ws_url"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RecvWindow          duration `toml:"recv_window"`
	OrderLimit          int      `toml:"order_limit"`
	OrderWindow         duration `toml:"order_window"`
}

// FeedConfig selects where live bars come from.
type FeedConfig struct {
	// Source is "binance" or "replay".
	Source     string   `toml:"source"`
	Window     int      `toml:"window"`
	ReplayPace duration `toml:"replay_pace"`
}

// HistoryConfig selects the historical series source.
type HistoryConfig struct {
	// Source is "csv", "s3", "clickhouse" or "binance".
	Source   string `toml:"source"`
	CSVDir   string `toml:"csv_dir"`
	S3Prefix string `toml:"s3_prefix"`
}

// ClickHouseConfig locates the candles table.
type ClickHouseConfig struct {
	Addr     []string `toml:"addr"`
	Database string   `toml:"database"`
	Username string   `toml:"username"`
	Password string   `toml:"password"`
	Table    string   `toml:"table"`
}

// PostgresConfig holds connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	KeyPrefix    string `toml:"key_prefix"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
	ArchiveResults bool   `toml:"archive_results"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds alert channels.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// duration decodes TOML strings like "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a paper-trading config for BTCUSDT hourly bars with every
// external store disabled.
func Defaults() Config {
	return Config{
		Mode:     ModePaper,
		LogLevel: "info",
		Symbols:  []string{"BTCUSDT"},
		Interval: "1h",
		Agent: AgentConfig{
			TickTimeout:   duration{5 * time.Second},
			SubmitTimeout: duration{10 * time.Second},
			PendingTTL:    duration{5 * time.Minute},
		},
		Strategy: domain.StrategyConfig{
			Name: "default",
			Strategies: []domain.StrategySpec{
				{ID: "momentum", Kind: "momentum", Params: map[string]float64{"lookback": 10}},
				{ID: "rsi", Kind: "rsi", Params: map[string]float64{"rsi_period": 14}},
			},
			Trading: domain.TradingParams{
				MinStrength:  0.2,
				RiskFraction: 0.05,
				LotSize:      0.00001,
			},
			Research: domain.ResearchParams{TieBreak: domain.TieBreakLexical},
			Seed:     1,
		},
		Risk: RiskConfig{
			InitialCapital:       10000,
			MaxPositionNotional:  1000,
			MaxAggregateExposure: 8000,
			MaxDailyLoss:         500,
			MaxOpenPositions:     10,
			MaxTradesPerDay:      50,
			MinTradeInterval:     duration{time.Minute},
		},
		Backtest: BacktestConfig{
			SlippageBps:    5,
			PeriodsPerYear: 252,
		},
		Optimizer: OptimizerConfig{
			Every:           duration{24 * time.Hour},
			History:         duration{365 * 24 * time.Hour},
			Iterations:      50,
			MaxDuration:     duration{10 * time.Minute},
			Startup:         10,
			Candidates:      24,
			Gamma:           0.25,
			Parallelism:     4,
			DrawdownPenalty: 2.0,
			MinTrades:       3,
			Seed:            1,
			LockTTL:         duration{30 * time.Minute},
			WalkForward:     WalkForwardConfig{Train: 90, Test: 30, Step: 30},
		},
		Binance: BinanceConfig{
			RestURL:     "https://api.binance.com",
			WSURL:       "wss://stream.binance.com:9443/stream",
			RecvWindow:  duration{5 * time.Second},
			OrderLimit:  10,
			OrderWindow: duration{time.Second},
		},
		Feed: FeedConfig{
			Source:     "binance",
			Window:     200,
			ReplayPace: duration{100 * time.Millisecond},
		},
		History: HistoryConfig{
			Source: "binance",
			CSVDir: "data",
		},
		ClickHouse: ClickHouseConfig{
			Addr:     []string{"localhost:9000"},
			Database: "default",
			Username: "default",
			Table:    "candles",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "agentdesk",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "agentdesk:",
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "agentdesk",
			ForcePathStyle: true,
			ArchiveResults: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:   []string{"circuit_breaker", "revision_adopted", "error"},
			Cooldown: duration{5 * time.Minute},
		},
	}
}

var validModes = map[string]bool{
	ModeLive:     true,
	ModePaper:    true,
	ModeBacktest: true,
	ModeOptimize: true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var (
	validFeeds   = map[string]bool{"binance": true, "replay": true}
	validHistory = map[string]bool{"csv": true, "s3": true, "clickhouse": true, "binance": true}
)

// Validate checks every section and reports all problems in one error
// wrapping domain.ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !validModes[c.Mode] {
		add("unknown mode %q (valid: live, paper, backtest, optimize)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}
	if len(c.Symbols) == 0 {
		add("symbols must not be empty")
	}
	if domain.IntervalDuration(c.Interval) <= 0 {
		add("interval %q is not a bar interval like 1m, 1h or 1d", c.Interval)
	}

	errs = append(errs, c.strategyErrors()...)
	errs = append(errs, c.Risk.errors()...)

	if c.Agent.TickTimeout.Duration <= 0 {
		add("agent: tick_timeout must be > 0")
	}
	if c.Agent.PendingTTL.Duration < 0 {
		add("agent: pending_ttl must be >= 0")
	}
	if c.Backtest.SlippageBps < 0 || c.Backtest.FeeBps < 0 {
		add("backtest: slippage_bps and fee_bps must be >= 0")
	}
	if _, _, err := c.Backtest.Range(time.Now()); err != nil {
		add("backtest: %v", err)
	}

	if c.Mode == ModeOptimize || c.Optimizer.Enabled {
		errs = append(errs, c.optimizerErrors()...)
	}

	if c.Mode == ModeLive {
		if c.Binance.APIKey == "" {
			add("binance: api_key is required for mode live")
		}
		if c.Binance.APISecret == "" && c.Binance.EncryptedSecretPath == "" {
			add("binance: either api_secret or encrypted_secret_path must be set for mode live")
		}
		if c.Binance.EncryptedSecretPath != "" && c.Binance.SecretPassword == "" {
			add("binance: secret_password is required when encrypted_secret_path is set")
		}
		if c.Feed.Source != "binance" {
			add("feed: mode live needs source binance, got %q", c.Feed.Source)
		}
	}
	if c.Mode == ModeLive || c.Mode == ModePaper {
		if !validFeeds[c.Feed.Source] {
			add("feed: unknown source %q (valid: binance, replay)", c.Feed.Source)
		}
		if c.Feed.Window < 1 {
			add("feed: window must be >= 1")
		}
	}

	if !validHistory[c.History.Source] {
		add("history: unknown source %q (valid: csv, s3, clickhouse, binance)", c.History.Source)
	}
	switch c.History.Source {
	case "csv":
		if c.History.CSVDir == "" {
			add("history: csv_dir must be set for source csv")
		}
	case "s3":
		if !c.S3.Enabled {
			add("history: source s3 needs s3.enabled")
		}
	case "clickhouse":
		if len(c.ClickHouse.Addr) == 0 {
			add("clickhouse: addr must not be empty for history source clickhouse")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		add("server: rate_window must be > 0 when rate_limit is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w:\n  - %s", domain.ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

func (r RiskConfig) errors() []string {
	var errs []string
	if !(r.InitialCapital > 0) {
		errs = append(errs, "risk: initial_capital must be > 0")
	}
	if err := r.Limits().Validate(); err != nil {
		errs = append(errs, "risk: "+err.Error())
	}
	return errs
}

func (c *Config) strategyErrors() []string {
	var errs []string
	if _, err := strategy.Compile(c.Strategy); err != nil {
		errs = append(errs, "strategy: "+err.Error())
	}
	return errs
}

func (c *Config) optimizerErrors() []string {
	var errs []string
	o := c.Optimizer
	if o.Iterations < 1 {
		errs = append(errs, "optimizer: iterations must be >= 1")
	}
	if o.Gamma <= 0 || o.Gamma >= 1 {
		errs = append(errs, "optimizer: gamma must be in (0, 1)")
	}
	if o.Enabled && o.Every.Duration <= 0 {
		errs = append(errs, "optimizer: every must be > 0 when enabled")
	}
	if o.WalkForward.Enabled && (o.WalkForward.Train < 1 || o.WalkForward.Test < 1) {
		errs = append(errs, "optimizer: walk_forward train and test must be >= 1")
	}
	if _, err := c.SearchSpace(); err != nil {
		errs = append(errs, "optimizer: "+err.Error())
	}
	return errs
}

// SearchSpace returns the configured optimizer space, or the strategy kinds'
// default bounds when none is configured. The space is validated against the
// strategy config.
func (c *Config) SearchSpace() (domain.SearchSpace, error) {
	space := domain.SearchSpace(c.Optimizer.Space)
	if len(space) == 0 {
		var err error
		if space, err = strategy.DefaultSearchSpace(c.Strategy); err != nil {
			return nil, err
		}
	}
	if err := space.Validate(c.Strategy); err != nil {
		return nil, err
	}
	return space, nil
}
