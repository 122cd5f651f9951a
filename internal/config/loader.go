package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// Load reads the TOML file at path over the built-in defaults and applies
// AGENTDESK_* environment overrides. The result is not validated; callers
// invoke Config.Validate after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	// The decoder reuses slice elements in place, which would merge file
	// params into the default strategies.
	defaults := cfg.Strategy.Strategies
	cfg.Strategy.Strategies = nil
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	if !md.IsDefined("strategy", "strategies") {
		cfg.Strategy.Strategies = defaults
	}

	// A missing .env is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	for i, sym := range cfg.Symbols {
		cfg.Symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
	}
	cfg.Path = path
	return &cfg, nil
}

// ReloadRisk re-reads only the risk section from path with the same
// defaults and overrides as Load. It returns a complete, valid set of
// limits or an error; it never returns partially applied limits.
func ReloadRisk(path string) (domain.RiskLimits, error) {
	cfg, err := Load(path)
	if err != nil {
		return domain.RiskLimits{}, err
	}
	if errs := cfg.Risk.errors(); len(errs) > 0 {
		return domain.RiskLimits{}, fmt.Errorf("config: reload risk: %w:\n  - %s", domain.ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return cfg.Risk.Limits(), nil
}

// applyEnvOverrides overwrites fields whose AGENTDESK_* variable is set, so
// secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "AGENTDESK_MODE")
	setStr(&cfg.LogLevel, "AGENTDESK_LOG_LEVEL")
	setStringSlice(&cfg.Symbols, "AGENTDESK_SYMBOLS")
	setStr(&cfg.Interval, "AGENTDESK_INTERVAL")

	setDuration(&cfg.Agent.TickInterval, "AGENTDESK_AGENT_TICK_INTERVAL")
	setDuration(&cfg.Agent.TickTimeout, "AGENTDESK_AGENT_TICK_TIMEOUT")
	setDuration(&cfg.Agent.SubmitTimeout, "AGENTDESK_AGENT_SUBMIT_TIMEOUT")
	setDuration(&cfg.Agent.PendingTTL, "AGENTDESK_AGENT_PENDING_TTL")

	setStr(&cfg.Strategy.Name, "AGENTDESK_STRATEGY_NAME")
	setFloat64(&cfg.Strategy.Trading.MinStrength, "AGENTDESK_STRATEGY_MIN_STRENGTH")
	setFloat64(&cfg.Strategy.Trading.RiskFraction, "AGENTDESK_STRATEGY_RISK_FRACTION")
	setBool(&cfg.Strategy.Trading.AllowShort, "AGENTDESK_STRATEGY_ALLOW_SHORT")

	setFloat64(&cfg.Risk.InitialCapital, "AGENTDESK_RISK_INITIAL_CAPITAL")
	setFloat64(&cfg.Risk.MaxPositionNotional, "AGENTDESK_RISK_MAX_POSITION_NOTIONAL")
	setFloat64(&cfg.Risk.MaxAggregateExposure, "AGENTDESK_RISK_MAX_AGGREGATE_EXPOSURE")
	setFloat64(&cfg.Risk.MaxDailyLoss, "AGENTDESK_RISK_MAX_DAILY_LOSS")
	setInt(&cfg.Risk.MaxOpenPositions, "AGENTDESK_RISK_MAX_OPEN_POSITIONS")
	setInt(&cfg.Risk.MaxTradesPerDay, "AGENTDESK_RISK_MAX_TRADES_PER_DAY")
	setDuration(&cfg.Risk.MinTradeInterval, "AGENTDESK_RISK_MIN_TRADE_INTERVAL")

	setFloat64(&cfg.Backtest.SlippageBps, "AGENTDESK_BACKTEST_SLIPPAGE_BPS")
	setFloat64(&cfg.Backtest.FeeBps, "AGENTDESK_BACKTEST_FEE_BPS")
	setStr(&cfg.Backtest.From, "AGENTDESK_BACKTEST_FROM")
	setStr(&cfg.Backtest.To, "AGENTDESK_BACKTEST_TO")
	setStr(&cfg.Backtest.Output, "AGENTDESK_BACKTEST_OUTPUT")

	setBool(&cfg.Optimizer.Enabled, "AGENTDESK_OPTIMIZER_ENABLED")
	setDuration(&cfg.Optimizer.Every, "AGENTDESK_OPTIMIZER_EVERY")
	setInt(&cfg.Optimizer.Iterations, "AGENTDESK_OPTIMIZER_ITERATIONS")
	setDuration(&cfg.Optimizer.MaxDuration, "AGENTDESK_OPTIMIZER_MAX_DURATION")
	setInt(&cfg.Optimizer.Parallelism, "AGENTDESK_OPTIMIZER_PARALLELISM")
	setUint64(&cfg.Optimizer.Seed, "AGENTDESK_OPTIMIZER_SEED")
	setBool(&cfg.Optimizer.WalkForward.Enabled, "AGENTDESK_OPTIMIZER_WALK_FORWARD")

	setStr(&cfg.Binance.RestURL, "AGENTDESK_BINANCE_REST_URL")
	setStr(&cfg.Binance.WSURL, "AGENTDESK_BINANCE_WS_URL")
	setStr(&cfg.Binance.APIKey, "AGENTDESK_BINANCE_API_KEY")
	setStr(&cfg.Binance.APISecret, "AGENTDESK_BINANCE_API_SECRET")
	setStr(&cfg.Binance.EncryptedSecretPath, "AGENTDESK_BINANCE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Binance.SecretPassword, "AGENTDESK_BINANCE_SECRET_PASSWORD")

	setStr(&cfg.Feed.Source, "AGENTDESK_FEED_SOURCE")
	setInt(&cfg.Feed.Window, "AGENTDESK_FEED_WINDOW")
	setDuration(&cfg.Feed.ReplayPace, "AGENTDESK_FEED_REPLAY_PACE")

	setStr(&cfg.History.Source, "AGENTDESK_HISTORY_SOURCE")
	setStr(&cfg.History.CSVDir, "AGENTDESK_HISTORY_CSV_DIR")
	setStr(&cfg.History.S3Prefix, "AGENTDESK_HISTORY_S3_PREFIX")

	setStringSlice(&cfg.ClickHouse.Addr, "AGENTDESK_CLICKHOUSE_ADDR")
	setStr(&cfg.ClickHouse.Database, "AGENTDESK_CLICKHOUSE_DATABASE")
	setStr(&cfg.ClickHouse.Username, "AGENTDESK_CLICKHOUSE_USERNAME")
	setStr(&cfg.ClickHouse.Password, "AGENTDESK_CLICKHOUSE_PASSWORD")

	setBool(&cfg.Postgres.Enabled, "AGENTDESK_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "AGENTDESK_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "AGENTDESK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AGENTDESK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AGENTDESK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AGENTDESK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AGENTDESK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AGENTDESK_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "AGENTDESK_POSTGRES_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "AGENTDESK_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "AGENTDESK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AGENTDESK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AGENTDESK_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "AGENTDESK_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "AGENTDESK_REDIS_KEY_PREFIX")

	setBool(&cfg.S3.Enabled, "AGENTDESK_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "AGENTDESK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AGENTDESK_S3_REGION")
	setStr(&cfg.S3.Bucket, "AGENTDESK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "AGENTDESK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AGENTDESK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "AGENTDESK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "AGENTDESK_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "AGENTDESK_S3_PREFIX")

	setBool(&cfg.Server.Enabled, "AGENTDESK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "AGENTDESK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "AGENTDESK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "AGENTDESK_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "AGENTDESK_SERVER_RATE_LIMIT")

	setStr(&cfg.Notify.TelegramToken, "AGENTDESK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "AGENTDESK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "AGENTDESK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "AGENTDESK_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "AGENTDESK_NOTIFY_COOLDOWN")
}

// Typed setters. Each mutates the target only when the variable is set and
// parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
