// Package app wires the shared dependencies of the towndir binaries.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/towndir/internal/cache"
	"github.com/jwalitptl/towndir/internal/config"
	"github.com/jwalitptl/towndir/internal/email"
	tokenhandler "github.com/jwalitptl/towndir/internal/handler/token"
	"github.com/jwalitptl/towndir/internal/repository"
	"github.com/jwalitptl/towndir/internal/repository/postgres"
	"github.com/jwalitptl/towndir/internal/service/directory"
	"github.com/jwalitptl/towndir/internal/service/notification"
	"github.com/jwalitptl/towndir/internal/service/suppression"
	"github.com/jwalitptl/towndir/internal/service/token"
	"github.com/jwalitptl/towndir/pkg/logger"
	"github.com/jwalitptl/towndir/pkg/messaging"
	"github.com/jwalitptl/towndir/pkg/messaging/redis"
	"github.com/jwalitptl/towndir/pkg/metrics"
)

const metricsNamespace = "towndir"

type App struct {
	Config   *config.Config
	Log      *logger.Logger
	DB       *sqlx.DB
	Redis    *goredis.Client
	Broker   messaging.Broker
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Users         repository.UserRepository
	Cache         *cache.Manager
	Directory     *directory.Service
	Suppressions  *suppression.Service
	Tokens        *token.Service
	Notifications *notification.Service
}

// NewLogger builds the process logger from config.
func NewLogger(cfg config.LogConfig) *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Pretty:     cfg.Pretty,
	})
}

// New connects to postgres and redis and builds every service. An
// unreachable redis does not stop startup: cache reads fall through to the
// database and invalidations report ErrInvalidationIncomplete until it
// recovers.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Log:      log,
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.NewMetrics(a.Registry, metricsNamespace)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return nil, err
	}
	a.DB = db

	client, err := ConnectRedis(ctx, cfg.Redis, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Redis = client
	a.Broker = redis.NewRedisBroker(client, log.Zerolog())

	base := postgres.NewBaseRepository(db)
	a.Users = postgres.NewUserRepository(base)
	dirRepo := postgres.NewDirectoryRepository(base)

	cacheOpts := []cache.Option{
		cache.WithRedis(a.Redis),
		cache.WithBroker(a.Broker),
		cache.WithMetrics(a.Metrics),
		cache.WithLogger(log),
	}
	a.Cache, err = cache.NewManager(cache.Config{
		KeyPrefix:           cfg.Cache.KeyPrefix,
		MemoryTTL:           cfg.Cache.MemoryTTL,
		RedisTTL:            cfg.Cache.RedisTTL,
		MemoryMaxEntries:    cfg.Cache.MemoryMaxEntries,
		MemoryMaxBytes:      cfg.Cache.MemoryMaxBytes,
		RemoteTimeout:       cfg.Cache.RemoteTimeout,
		InvalidationRetries: cfg.Cache.InvalidationRetries,
		BreakerFailures:     cfg.Cache.BreakerFailures,
		BreakerCooldown:     cfg.Cache.BreakerCooldown,
		InvalidationChannel: cfg.Redis.InvalidationChannel,
	}, directory.NewLoader(dirRepo), cacheOpts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build cache: %w", err)
	}
	a.Directory = directory.NewService(dirRepo, a.Cache, log)

	a.Suppressions = suppression.NewService(postgres.NewSuppressionRepository(base), log)
	optOuts := postgres.NewOptOutRepository(base)
	a.Tokens = token.NewService(postgres.NewTokenRepository(base), optOuts, token.Config{
		OptOutTTL:    cfg.Tokens.OptOutTTL,
		MagicLinkTTL: cfg.Tokens.MagicLinkTTL,
	}, token.WithLogger(log))

	notifOpts := []notification.Option{
		notification.WithUnsubscribeIssuer(a.Tokens),
		notification.WithMetrics(a.Metrics),
		notification.WithLogger(log),
	}
	if cfg.Email.SendRate > 0 {
		notifOpts = append(notifOpts, notification.WithRateLimit(rate.NewLimiter(rate.Limit(cfg.Email.SendRate), max(cfg.Email.SendBurst, 1))))
	}
	a.Notifications = notification.NewService(
		postgres.NewNotificationRepository(base),
		a.Suppressions,
		optOuts,
		NewTransport(cfg, log),
		notification.Config{
			From:           cfg.Email.From,
			MaxRetries:     cfg.Email.MaxRetries,
			StuckAfter:     cfg.Email.StuckAfter,
			UnsubscribeURL: cfg.Tokens.BaseURL + tokenhandler.UnsubscribePath,
		},
		notifOpts...,
	)

	return a, nil
}

// ConnectRedis builds the shared client and checks it once. A failed check is
// logged and the client is still returned, since go-redis redials on use.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*goredis.Client, error) {
	client, err := redis.Open(redis.Config{
		URL:          cfg.URL,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
	})
	if err != nil {
		return nil, err
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unreachable at startup, remote cache tier degraded until it recovers", "error", err.Error())
	}
	return client, nil
}

// NewTransport picks the mail transport named by email.transport.
func NewTransport(cfg *config.Config, log *logger.Logger) email.Transport {
	if cfg.Email.Transport == "log" {
		return email.NewLogTransport(log)
	}
	return email.NewSMTPTransport(email.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		SSL:      cfg.SMTP.SSL,
		From:     cfg.Email.From,
	})
}

func (a *App) Close() {
	if a.Broker != nil {
		_ = a.Broker.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
