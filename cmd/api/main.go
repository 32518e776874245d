package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/towndir/internal/app"
	"github.com/jwalitptl/towndir/internal/config"
	cachehandler "github.com/jwalitptl/towndir/internal/handler/cache"
	"github.com/jwalitptl/towndir/internal/handler/directory"
	"github.com/jwalitptl/towndir/internal/handler/email"
	"github.com/jwalitptl/towndir/internal/handler/health"
	"github.com/jwalitptl/towndir/internal/handler/suppression"
	"github.com/jwalitptl/towndir/internal/handler/token"
	"github.com/jwalitptl/towndir/internal/handler/unsubscribe"
	"github.com/jwalitptl/towndir/internal/middleware"
	"github.com/jwalitptl/towndir/internal/repository/postgres"
	"github.com/jwalitptl/towndir/internal/router"
)

func main() {
	configPath := flag.String("config", "", "path to config.yml")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := app.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err, "failed to initialise application")
	}
	defer a.Close()

	if err := postgres.Migrate(ctx, a.DB); err != nil {
		logger.Fatal(err, "failed to apply migrations")
	}

	// Peer processes broadcast invalidations; drop our copies when they do.
	go func() {
		b := backoff.NewExponentialBackOff()
		b.MaxInterval = 30 * time.Second
		b.MaxElapsedTime = 0
		_ = backoff.RetryNotify(func() error {
			return a.Cache.Listen(ctx)
		}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
			logger.Warn("cache invalidation listener not started, retrying", "error", err.Error(), "wait", wait.String())
		})
	}()

	handlers := router.Handlers{
		Health:      health.NewHandler(a.DB, a.Cache, a.Registry),
		Cache:       cachehandler.NewHandler(a.Cache),
		Email:       email.NewHandler(a.Notifications),
		Suppression: suppression.NewHandler(a.Suppressions),
		Token:       token.NewHandler(a.Tokens, cfg.Tokens.BaseURL),
		Directory:   directory.NewHandler(a.Directory),
		Unsubscribe: unsubscribe.NewHandler(a.Tokens, logger),
	}

	auth := middleware.NewAuthMiddleware(cfg.Admin.JWTSecret)
	if !auth.Enabled() {
		logger.Warn("admin.jwt_secret is empty, admin routes are unauthenticated")
	}

	// Setup router
	r := router.NewRouter(auth, handlers, logger, router.RouterConfig{
		RateLimit:        cfg.RateLimit.Enabled,
		RateRPS:          cfg.RateLimit.RequestsPerSecond,
		RateBurst:        cfg.RateLimit.Burst,
		UnsubscribeRPS:   cfg.RateLimit.UnsubscribePerSecond,
		UnsubscribeBurst: cfg.RateLimit.UnsubscribeBurst,
		RequestTimeout:   cfg.Server.RequestTimeout,
		CORSConfig:       middleware.DefaultCORSConfig(),
		SecurityConfig:   middleware.DefaultSecurityConfig(cfg.Server.TLS),
		MetricsPrefix:    cfg.Server.MetricsPrefix,
		Registerer:       a.Registry,
	})
	r.Setup()

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(err, "failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "server forced to shutdown")
	}

	logger.Info("server exited properly")
}
