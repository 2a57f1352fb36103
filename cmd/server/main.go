// Package main is the entrypoint for the Twimagine API server. It serves the
// social and payment webhooks and the operator API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/twimagine/internal/api"
	"github.com/kiranshivaraju/twimagine/internal/api/handler"
	mw "github.com/kiranshivaraju/twimagine/internal/api/middleware"
	"github.com/kiranshivaraju/twimagine/internal/cache"
	"github.com/kiranshivaraju/twimagine/internal/config"
	"github.com/kiranshivaraju/twimagine/internal/coordinator"
	"github.com/kiranshivaraju/twimagine/internal/payments"
	"github.com/kiranshivaraju/twimagine/internal/queue"
	"github.com/kiranshivaraju/twimagine/internal/social"
	"github.com/kiranshivaraju/twimagine/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("reading .env failed", "error", err)
	}

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "bot", cfg.Twitter.BotUsername)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	pgStore := store.NewPostgresStore(pool)
	workQueue := queue.NewRedisQueue(redisCache.Client(), queue.Options{
		StreamPrefix:      cfg.Queue.StreamPrefix,
		Group:             cfg.Queue.Group,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		BlockTimeout:      cfg.Queue.BlockTimeout,
		MaxDeliveries:     cfg.Queue.MaxDeliveries,
	})

	// The server never charges or generates; it only admits, confirms and
	// fails, and the latter two may post an apology.
	coord := coordinator.New(coordinator.Deps{
		Store: pgStore,
		Queue: workQueue,
		Social: social.NewClient(social.Credentials{
			APIKey:            cfg.Twitter.APIKey,
			APISecret:         cfg.Twitter.APISecret,
			AccessToken:       cfg.Twitter.AccessToken,
			AccessTokenSecret: cfg.Twitter.AccessTokenSecret,
		}, cfg.Twitter.APIBaseURL, cfg.Twitter.UploadBaseURL, cfg.Twitter.Timeout),
	}, coordinatorConfig(cfg))

	router := newRouter(cfg, pgStore, redisCache, coord)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func coordinatorConfig(cfg *config.Config) coordinator.Config {
	return coordinator.Config{
		AmountCents:     cfg.Pricing.AmountCents,
		Currency:        cfg.Pricing.Currency,
		PromptMinLength: cfg.Twitter.PromptMinLength,
		MaxAttempts:     cfg.Worker.MaxAttempts,
	}
}

// newRouter wires every handler against st, c and coord.
func newRouter(cfg *config.Config, st store.Store, c cache.Cache, coord *coordinator.Coordinator) http.Handler {
	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(st),
		RateLimit: mw.NewRateLimit(c, cfg.Admin.RequestsPerMinute),

		HealthHandler: handler.NewHealthHandler(),
		ReadyHandler:  handler.NewReadyHandler(st, c),

		SocialCRCHandler: handler.NewSocialCRCHandler(cfg.Twitter.WebhookSecret),
		SocialWebhookHandler: handler.NewSocialWebhookHandler(coord, cfg.Twitter.WebhookSecret,
			social.NewMentionFilter(cfg.Twitter.BotUsername)),
		PaymentWebhook: handler.NewPaymentWebhookHandler(payments.NewVerifier(cfg.Stripe.WebhookSecret), coord, st),

		ListRequests: handler.NewListRequestsHandler(st),
		GetRequest:   handler.NewGetRequestHandler(st),
		FailRequest:  handler.NewFailRequestHandler(coord),
	})
}
