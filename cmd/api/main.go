package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/grouphub/backend/internal/adminauth"
	"github.com/grouphub/backend/internal/api"
	"github.com/grouphub/backend/internal/coins"
	"github.com/grouphub/backend/internal/config"
	"github.com/grouphub/backend/internal/groups"
	"github.com/grouphub/backend/internal/store"
	"github.com/grouphub/backend/internal/sweeper"
	"github.com/grouphub/backend/internal/vipcode"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Parse()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	secretHash, err := cfg.SecretHash()
	if err != nil {
		slog.Error("Admin secret not configured", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store selection: Postgres when a database URL is configured, the
	// in-memory store otherwise (development mode, nothing survives a
	// restart).
	var kv store.Store
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("Unable to create database pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running", "error", err)
			os.Exit(1)
		}
		slog.Info("Connected to PostgreSQL database successfully!")

		pg := store.NewPGStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("kv migration failed", "error", err)
			os.Exit(1)
		}
		kv = pg
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store")
		kv = store.NewMemoryStore()
	}

	ledger := coins.NewLedger(kv, cfg.CoinCap)
	codes := vipcode.NewRegistry(kv)
	grps := groups.NewService(kv, codes)
	admin := adminauth.NewService(secretHash, []byte(cfg.JWTSecret))
	sw := sweeper.New(kv, logger, cfg.SweepInterval)

	// The recurring sweep runs as a River periodic job on Postgres and as
	// a plain ticker loop in memory mode.
	if pool != nil {
		migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
		if err != nil {
			slog.Error("Failed to create River migrator", "error", err)
			os.Exit(1)
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			slog.Error("River migrate up failed", "error", err)
			os.Exit(1)
		}
		slog.Info("River migrations applied")

		workers := river.NewWorkers()
		river.AddWorker(workers, sweeper.NewSweepWorker(sw))
		riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
			Queues: map[string]river.QueueConfig{
				river.QueueDefault: {MaxWorkers: 1},
			},
			Workers: workers,
			PeriodicJobs: []*river.PeriodicJob{
				river.NewPeriodicJob(
					river.PeriodicInterval(cfg.SweepInterval),
					func() (river.JobArgs, *river.InsertOpts) {
						return sweeper.SweepArgs{}, nil
					},
					&river.PeriodicJobOpts{RunOnStart: true},
				),
			},
		})
		if err != nil {
			slog.Error("Failed to create River client", "error", err)
			os.Exit(1)
		}
		if err := riverClient.Start(ctx); err != nil {
			slog.Error("Failed to start River client", "error", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := riverClient.Stop(stopCtx); err != nil {
				slog.Error("River client stop failed", "error", err)
			}
		}()
	} else {
		sw.Start(ctx)
		defer sw.Stop()
	}

	handler := api.NewHandler(ledger, codes, grps, admin, cfg.ExchangeCost, logger)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}).Handler(api.NewRouter(handler))

	srv := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: corsHandler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown failed", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", cfg.RunAddress, "sweepInterval", cfg.SweepInterval.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}
