// Package main is twimaginectl, the operator CLI. It applies migrations,
// manages API keys and inspects image requests directly against the database.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/twimagine/internal/config"
	"github.com/kiranshivaraju/twimagine/internal/store"
	"github.com/kiranshivaraju/twimagine/pkg/models"
	"github.com/spf13/cobra"
)

var Version = "dev"

// ctlStore is the part of the store the CLI touches.
type ctlStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
	GetImageRequest(ctx context.Context, id uuid.UUID) (*models.ImageRequest, error)
	ListImageRequests(ctx context.Context, filter store.RequestFilter) ([]*models.ImageRequest, int, error)
}

// app holds the connections commands need. Tests swap in in-memory versions.
type app struct {
	openStore func(ctx context.Context) (ctlStore, func(), error)
	migrateUp func() error
	version   func() (uint, bool, error)
}

func defaultApp() *app {
	return &app{
		openStore: func(ctx context.Context) (ctlStore, func(), error) {
			cfg, err := config.LoadDatabase()
			if err != nil {
				return nil, nil, err
			}
			pool, err := store.Connect(ctx, *cfg)
			if err != nil {
				return nil, nil, fmt.Errorf("connect database: %w", err)
			}
			return store.NewPostgresStore(pool), pool.Close, nil
		},
		migrateUp: func() error {
			cfg, err := config.LoadDatabase()
			if err != nil {
				return err
			}
			return store.RunMigrations(cfg.URL, cfg.MigrationsDir)
		},
		version: func() (uint, bool, error) {
			cfg, err := config.LoadDatabase()
			if err != nil {
				return 0, false, err
			}
			return store.MigrationVersion(cfg.URL, cfg.MigrationsDir)
		},
	}
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("reading .env failed", "error", err)
	}

	if err := newRootCmd(defaultApp()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "twimaginectl",
		Short:         "Operate a Twimagine deployment",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd(a))
	rootCmd.AddCommand(keysCmd(a))
	rootCmd.AddCommand(requestsCmd(a))

	return rootCmd
}

// withStore opens the store for the duration of fn.
func (a *app) withStore(ctx context.Context, fn func(ctlStore) error) error {
	s, closeFn, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(s)
}
