// Package main is the entrypoint for the Twimagine fulfillment worker. It
// consumes generate_image and reply_tweet items until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/twimagine/internal/cache"
	"github.com/kiranshivaraju/twimagine/internal/config"
	"github.com/kiranshivaraju/twimagine/internal/coordinator"
	"github.com/kiranshivaraju/twimagine/internal/objectstore"
	"github.com/kiranshivaraju/twimagine/internal/payments"
	"github.com/kiranshivaraju/twimagine/internal/queue"
	"github.com/kiranshivaraju/twimagine/internal/social"
	"github.com/kiranshivaraju/twimagine/internal/store"
	"github.com/kiranshivaraju/twimagine/internal/synthesis"
	"github.com/kiranshivaraju/twimagine/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("reading .env failed", "error", err)
	}

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "synthesis", cfg.Synthesis.Provider,
		"object_store", cfg.ObjectStore.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	objects, err := objectstore.New(ctx, cfg.ObjectStore)
	if err != nil {
		return fmt.Errorf("create object store: %w", err)
	}

	synth, err := synthesis.NewProvider(cfg.Synthesis)
	if err != nil {
		return fmt.Errorf("create synthesizer: %w", err)
	}

	workQueue := queue.NewRedisQueue(redisCache.Client(), queue.Options{
		StreamPrefix:      cfg.Queue.StreamPrefix,
		Group:             cfg.Queue.Group,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		BlockTimeout:      cfg.Queue.BlockTimeout,
		MaxDeliveries:     cfg.Queue.MaxDeliveries,
	})

	coord := coordinator.New(coordinator.Deps{
		Store: store.NewPostgresStore(pool),
		Queue: workQueue,
		Payments: payments.NewStripeClient(payments.StripeOptions{
			SecretKey:  cfg.Stripe.SecretKey,
			PayURLBase: cfg.Stripe.PayURLBase,
			APIBaseURL: cfg.Stripe.APIBaseURL,
		}),
		Social: social.NewClient(social.Credentials{
			APIKey:            cfg.Twitter.APIKey,
			APISecret:         cfg.Twitter.APISecret,
			AccessToken:       cfg.Twitter.AccessToken,
			AccessTokenSecret: cfg.Twitter.AccessTokenSecret,
		}, cfg.Twitter.APIBaseURL, cfg.Twitter.UploadBaseURL, cfg.Twitter.Timeout),
		Objects:     objects,
		Synthesizer: synth,
	}, coordinator.Config{
		AmountCents:     cfg.Pricing.AmountCents,
		Currency:        cfg.Pricing.Currency,
		PromptMinLength: cfg.Twitter.PromptMinLength,
		MaxAttempts:     cfg.Worker.MaxAttempts,
	})

	w := worker.New(coord, worker.Config{
		PaymentTimeout:     cfg.Worker.PaymentTimeout,
		FulfillmentTimeout: cfg.Worker.FulfillmentTimeout,
		Concurrency:        cfg.Worker.Concurrency,
	})

	if err := w.Run(ctx, workQueue, consumerName(cfg.Queue.Consumer)); err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// consumerName defaults to the hostname plus a random suffix so that two
// workers on one host never share pending entries.
func consumerName(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
