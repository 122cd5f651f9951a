package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/agentdesk/internal/blob/s3"
	"github.com/alanyoungcy/agentdesk/internal/cache/redis"
	"github.com/alanyoungcy/agentdesk/internal/config"
	"github.com/alanyoungcy/agentdesk/internal/crypto"
	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/executor"
	"github.com/alanyoungcy/agentdesk/internal/history"
	"github.com/alanyoungcy/agentdesk/internal/notify"
	"github.com/alanyoungcy/agentdesk/internal/platform/binance"
	"github.com/alanyoungcy/agentdesk/internal/server/handler"
	"github.com/alanyoungcy/agentdesk/internal/store/postgres"
)

// Dependencies bundles what the modes need. Optional stores are nil
// interfaces when their backend is disabled.
type Dependencies struct {
	// Stores
	Results   domain.ResultStore
	Lister    domain.ResultLister
	Fills     domain.FillStore
	Revisions domain.RevisionStore
	Audit     domain.AuditStore

	// Caches
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobReader domain.BlobReader

	Binance *binance.Client
	History domain.HistoricalSource

	Notifier *notify.Notifier
	Checks   map[string]handler.Check

	// orderLimiter is kept concrete so order rates can be configured.
	orderLimiter *redis.RateLimiter
}

// resultFanout saves each result to every store and joins the failures.
type resultFanout []domain.ResultStore

func (f resultFanout) SaveResult(ctx context.Context, r domain.BacktestResult) error {
	var errs []error
	for _, s := range f {
		if err := s.SaveResult(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Wire builds every enabled backend and returns a cleanup function that
// releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: map[string]handler.Check{}}
	var results resultFanout

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pg.Pool()
		store := postgres.NewResultStore(pool)
		results = append(results, store)
		deps.Lister = store
		deps.Fills = postgres.NewFillStore(pool)
		deps.Revisions = postgres.NewRevisionStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pool.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		limiter := redis.NewRateLimiter(rc, redis.Rate{
			Limit:  cfg.Server.RateLimit,
			Window: cfg.Server.RateWindow.Duration,
		})
		limiter.SetRate(executor.RateLimitKey, redis.Rate{
			Limit:  cfg.Binance.OrderLimit,
			Window: cfg.Binance.OrderWindow.Duration,
		})
		deps.orderLimiter = limiter
		deps.RateLimiter = limiter
		deps.Locks = redis.NewLockManager(rc)
		deps.SignalBus = redis.NewSignalBus(rc, cfg.Redis.StreamMaxLen)
		deps.Checks["redis"] = rc.Ping
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail("s3", err)
		}
		store := s3blob.NewStore(sc)
		deps.BlobReader = store
		if cfg.S3.ArchiveResults {
			var audit s3blob.Auditor
			if deps.Audit != nil {
				audit = deps.Audit
			}
			results = append(results, s3blob.NewArchiver(store, store, audit))
		}
		deps.Checks["s3"] = sc.Health
	}
	if len(results) == 1 {
		deps.Results = results[0]
	} else if len(results) > 1 {
		deps.Results = results
	}

	// --- Binance ---
	deps.Binance = binance.NewClient(cfg.Binance.RestURL)
	deps.Binance.SetRecvWindow(cfg.Binance.RecvWindow.Duration)
	if cfg.Mode == config.ModeLive {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			Raw:           cfg.Binance.APISecret,
			EncryptedPath: cfg.Binance.EncryptedSecretPath,
			Password:      cfg.Binance.SecretPassword,
		})
		if err != nil {
			return fail("binance secret", err)
		}
		creds := crypto.Credentials{Key: cfg.Binance.APIKey, Secret: secret}
		deps.Binance.SetCredentials(creds.Key, creds.Secret)
		logger.Info("binance credentials loaded", slog.String("credentials", creds.String()))
	}

	// --- Historical bars ---
	switch cfg.History.Source {
	case "csv":
		deps.History = history.NewCSVDir(cfg.History.CSVDir)
	case "s3":
		if deps.BlobReader == nil {
			return fail("history", errors.New("source s3 needs s3.enabled"))
		}
		deps.History = history.NewCSVBlob(deps.BlobReader, cfg.History.S3Prefix)
	case "clickhouse":
		ch, err := history.NewClickHouse(ctx, history.ClickHouseConfig{
			Addr:     cfg.ClickHouse.Addr,
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
			Table:    cfg.ClickHouse.Table,
		})
		if err != nil {
			return fail("clickhouse", err)
		}
		closers = append(closers, func() { _ = ch.Close() })
		deps.History = ch
	default:
		deps.History = history.NewREST(deps.Binance, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Cooldown.Duration, logger)

	return deps, cleanup, nil
}
