package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Symbols = nil
	cfg.Interval = "fortnight"
	cfg.Risk.InitialCapital = 0
	cfg.Server.Port = 70000

	err := cfg.Validate()
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("want ErrInvalidConfig, got %v", err)
	}
	for _, want := range []string{"unknown mode", "symbols must not be empty", "interval", "initial_capital", "server: port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateLiveNeedsCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = ModeLive
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("want api_key error, got %v", err)
	}

	cfg.Binance.APIKey = "k"
	cfg.Binance.EncryptedSecretPath = "/tmp/secret.enc"
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "secret_password") {
		t.Fatalf("want secret_password error, got %v", err)
	}

	cfg.Binance.SecretPassword = "pw"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsBadSearchSpace(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = ModeOptimize
	cfg.Optimizer.Space = []domain.ParamRange{{Key: "nope.lookback", Min: 1, Max: 2}}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "optimizer:") {
		t.Fatalf("want optimizer error, got %v", err)
	}
}

func TestLoadDecodesStrategiesAndSpace(t *testing.T) {
	path := writeFile(t, `
mode = "backtest"
symbols = ["ETHUSDT"]
interval = "4h"

[strategy]
name = "swing"

[[strategy.strategies]]
id = "cross"
kind = "ma_crossover"
params = { fast = 10, slow = 40 }

[risk]
max_daily_loss = 250.0
min_trade_interval = "5m"

[[optimizer.space]]
key = "cross.fast"
min = 5
max = 20
integer = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Path != path {
		t.Errorf("path = %q", cfg.Path)
	}
	if len(cfg.Strategy.Strategies) != 1 {
		t.Fatalf("strategies = %+v", cfg.Strategy.Strategies)
	}
	s := cfg.Strategy.Strategies[0]
	if s.ID != "cross" || s.Params["fast"] != 10 || len(s.Params) != 2 {
		t.Errorf("strategy = %+v", s)
	}
	if cfg.Risk.MaxDailyLoss != 250 || cfg.Risk.MinTradeInterval.Duration != 5*time.Minute {
		t.Errorf("risk = %+v", cfg.Risk)
	}
	// Untouched fields keep their defaults.
	if cfg.Risk.MaxOpenPositions != Defaults().Risk.MaxOpenPositions {
		t.Errorf("max_open_positions = %d", cfg.Risk.MaxOpenPositions)
	}
	space, err := cfg.SearchSpace()
	if err != nil || len(space) != 1 || !space[0].Integer {
		t.Errorf("space = %+v, err = %v", space, err)
	}
}

func TestLoadKeepsDefaultStrategiesWhenOmitted(t *testing.T) {
	cfg, err := Load(writeFile(t, `mode = "paper"`))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Strategy.Strategies) != len(Defaults().Strategy.Strategies) {
		t.Errorf("strategies = %+v", cfg.Strategy.Strategies)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTDESK_MODE", "backtest")
	t.Setenv("AGENTDESK_SYMBOLS", "btcusdt, ETHUSDT ,")
	t.Setenv("AGENTDESK_RISK_MAX_TRADES_PER_DAY", "7")
	t.Setenv("AGENTDESK_RISK_MIN_TRADE_INTERVAL", "90s")
	t.Setenv("AGENTDESK_POSTGRES_PORT", "not-a-number")

	cfg, err := Load(writeFile(t, `mode = "paper"`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != ModeBacktest {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[1] != "ETHUSDT" {
		t.Errorf("symbols = %v", cfg.Symbols)
	}
	if cfg.Risk.MaxTradesPerDay != 7 || cfg.Risk.MinTradeInterval.Duration != 90*time.Second {
		t.Errorf("risk = %+v", cfg.Risk)
	}
	if cfg.Postgres.Port != 5432 {
		t.Errorf("unparsable override should be ignored, port = %d", cfg.Postgres.Port)
	}
}

func TestReloadRisk(t *testing.T) {
	good := writeFile(t, "[risk]\nmax_position_notional = 300.0\n")
	limits, err := ReloadRisk(good)
	if err != nil {
		t.Fatal(err)
	}
	if limits.MaxPositionNotional != 300 || limits.MaxDailyLoss != Defaults().Risk.MaxDailyLoss {
		t.Errorf("limits = %+v", limits)
	}

	bad := writeFile(t, "[risk]\nmax_open_positions = -1\n")
	if _, err := ReloadRisk(bad); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("want ErrInvalidConfig, got %v", err)
	}

	if _, err := ReloadRisk(writeFile(t, "[risk\n")); err == nil {
		t.Error("want parse error")
	}
}

func TestBacktestRange(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	from, to, err := BacktestConfig{From: "2024-01-01"}.Range(now)
	if err != nil {
		t.Fatal(err)
	}
	if !from.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) || !to.Equal(now) {
		t.Errorf("range = %v..%v", from, to)
	}
	if _, _, err := (BacktestConfig{From: "2024-02-01", To: "2024-01-01"}).Range(now); err == nil {
		t.Error("want from-after-to error")
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Binance.APIKey = "key"
	cfg.Binance.APISecret = "secret"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.Notify.DiscordWebhookURL = "https://discord/webhook"

	out := RedactedConfig(&cfg)
	for name, v := range map[string]string{
		"api_key":    out.Binance.APIKey,
		"api_secret": out.Binance.APISecret,
		"dsn":        out.Postgres.DSN,
		"webhook":    out.Notify.DiscordWebhookURL,
	} {
		if v != redacted {
			t.Errorf("%s = %q, want redacted", name, v)
		}
	}
	if out.Redis.Password != "" {
		t.Error("empty secrets should stay empty")
	}
	out.Symbols[0] = "XXX"
	out.Strategy.Strategies[0].Params["lookback"] = 99
	if cfg.Symbols[0] == "XXX" || cfg.Strategy.Strategies[0].Params["lookback"] == 99 {
		t.Error("redacted copy shares state with the original")
	}
	if cfg.Binance.APIKey != "key" {
		t.Error("original mutated")
	}
}
