// Package main runs the coin shuffle coordinator server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	app "github.com/coin-shuffle/coordinator/internal/app"
	"github.com/coin-shuffle/coordinator/internal/app/httpapi"
	queuesvc "github.com/coin-shuffle/coordinator/internal/app/services/queue"
	roomssvc "github.com/coin-shuffle/coordinator/internal/app/services/rooms"
	"github.com/coin-shuffle/coordinator/internal/app/storage/postgres"
	"github.com/coin-shuffle/coordinator/internal/chain"
	"github.com/coin-shuffle/coordinator/internal/config"
	"github.com/coin-shuffle/coordinator/internal/middleware"
	"github.com/coin-shuffle/coordinator/internal/platform/migrations"
	"github.com/coin-shuffle/coordinator/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := buildStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	engine, err := roomssvc.NewHTTPEngine(&http.Client{Timeout: cfg.Engine.Timeout}, cfg.Engine.Endpoint, cfg.Engine.APIKey, log)
	if err != nil {
		return fmt.Errorf("configure round engine: %w", err)
	}

	finalizer, verifier, err := buildChain(cfg, log)
	if err != nil {
		return err
	}

	application, err := app.New(stores, app.Options{
		TokenSecret:      cfg.Tokens.Secret,
		TokenTTL:         cfg.Tokens.TTL,
		Engine:           engine,
		Finalizer:        finalizer,
		Verifier:         verifier,
		MinRoomSize:      cfg.Shuffle.MinRoomSize,
		RoundDeadline:    cfg.Shuffle.RoundDeadline,
		SweepInterval:    cfg.Shuffle.SweepInterval,
		FinalizeAttempts: cfg.Shuffle.FinalizeAttempts,
		FinalizeBackoff:  cfg.Shuffle.FinalizeBackoff,
	}, log)
	if err != nil {
		return err
	}

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	handler := httpapi.NewHandler(httpapi.Services{
		Queue: application.Queue,
		Rooms: application.Rooms,
	}, log)

	cors := middleware.NewCORSMiddleware(cfg.Server.AllowedOrigins)
	limiter := middleware.NewRateLimiter(cfg.Server.RequestsPerSecond, cfg.Server.Burst, log)
	limiter.StartCleanup(time.Minute)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           cors.Handler(limiter.Handler(handler)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("coordinator listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("service shutdown")
	}
	return nil
}

func buildStores(ctx context.Context, cfg config.Config, log *logger.Logger) (app.Stores, func(), error) {
	if cfg.Database.DSN == "" {
		log.Warn("no database configured; state is in memory only")
		return app.Stores{}, func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return app.Stores{}, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrations.Apply(ctx, db); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := postgres.New(db)
	return app.Stores{
		Participants: store,
		Queues:       store,
		Rooms:        store,
	}, func() { db.Close() }, nil
}

func buildChain(cfg config.Config, log *logger.Logger) (roomssvc.Finalizer, queuesvc.Verifier, error) {
	if cfg.Chain.RPCURL == "" {
		log.Warn("no chain configured; rooms cannot settle")
		return roomssvc.UnconfiguredFinalizer{}, nil, nil
	}

	client, err := chain.NewClient(chain.Config{
		RPCURL:  cfg.Chain.RPCURL,
		Timeout: cfg.Chain.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("configure chain client: %w", err)
	}

	finalizer, err := chain.NewFinalizer(client, cfg.Chain.Contract, cfg.Chain.Coordinator, log)
	if err != nil {
		return nil, nil, fmt.Errorf("configure finalizer: %w", err)
	}

	var verifier queuesvc.Verifier
	if cfg.Chain.VerifyUTXOs {
		v, err := chain.NewVerifier(client, cfg.Chain.Contract, log)
		if err != nil {
			return nil, nil, fmt.Errorf("configure utxo verifier: %w", err)
		}
		verifier = v
	}
	return finalizer, verifier, nil
}
