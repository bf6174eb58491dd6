// File: cmd/app/main.go
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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"comment-refiner/internal/config"
	"comment-refiner/internal/domain/ports/adapter"
	"comment-refiner/internal/domain/ports/repository"
	aiAdapters "comment-refiner/internal/infra/adapters/ai"
	"comment-refiner/internal/infra/adapters/events"
	"comment-refiner/internal/infra/api"
	pg "comment-refiner/internal/infra/db/postgres"
	"comment-refiner/internal/infra/logging"
	"comment-refiner/internal/infra/metrics"
	"comment-refiner/internal/infra/pebblestore"
	red "comment-refiner/internal/infra/redis"
	"comment-refiner/internal/infra/security"
	"comment-refiner/internal/infra/sessionstore"
	"comment-refiner/internal/usecase"
)

// set with -ldflags at build time
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load() // .env is optional

	cfgPath, devMode, err := config.ParseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "flags: %v\n", err)
		os.Exit(2)
	}
	cfg, err := config.LoadConfig(cfgPath, devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("exit")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	// ---- AI ----
	providers, err := aiAdapters.BuildProviders(ctx, cfg.AI, cfg.Database.EmbeddingDims, cfg.Runtime.Dev, logger)
	if err != nil {
		return err
	}
	logger.Info().Strs("providers", providers.Names).Str("model", providers.Model).Msg("AI providers ready")

	// ---- Similarity index (Postgres + pgvector) ----
	var (
		index  repository.SimilarityIndex
		scopes sessionstore.ScopeResolver
	)
	if cfg.Database.URL != "" {
		pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()

		ci := pg.NewCommentIndex(pool, pg.NewTxManager(pool), providers.Embedder, cfg.Database.EmbeddingDims, logger)
		if err := ci.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("comment index schema: %w", err)
		}
		go pg.WatchPoolStats(ctx, pool, 15*time.Second, logger)
		index = ci
		scopes = ci
	} else {
		logger.Warn().Msg("database.url not set; related opinions are disabled")
	}

	// ---- Session KV ----
	var (
		kv     repository.KVStore
		locker repository.Locker
	)
	switch cfg.Store.Driver {
	case "pebble":
		pkv, err := pebblestore.Open(cfg.Store.Path, cfg.Redis.TTL)
		if err != nil {
			return fmt.Errorf("pebble: %w", err)
		}
		defer func() {
			if err := pkv.Close(); err != nil {
				logger.Warn().Err(err).Msg("pebble close")
			}
		}()
		kv = pkv
		logger.Info().Str("path", cfg.Store.Path).Msg("sessions stored in pebble")
	default:
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		kv = red.NewKV(rc, cfg.Redis.TTL)
		locker = red.NewLocker(rc)
	}

	// ---- Encryption ----
	var cipher sessionstore.Cipher
	if cfg.Security.EncryptionKey != "" {
		enc, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
		if err != nil {
			return fmt.Errorf("encryption: %w", err)
		}
		cipher = enc
	} else if !cfg.Runtime.Dev {
		logger.Warn().Msg("security.encryption_key not set; sessions are stored unsealed")
	}

	// ---- Events ----
	var publisher adapter.EventPublisher
	if cfg.Events.NatsURL != "" {
		p, err := events.NewPublisher(ctx, cfg.Events.NatsURL, cfg.Events.Stream, logger)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer p.Close()
		publisher = p
	}

	// ---- Use case ----
	var related *usecase.SimilarityFilter
	if index != nil {
		related = usecase.NewSimilarityFilter(index)
	}
	machine := usecase.NewMachine(providers.Chat, related, providers.Model, logger, cfg.Runtime.Dev)
	refineUC := usecase.NewRefineUseCase(sessionstore.New(kv, scopes, cipher), machine, usecase.RefineOptions{
		Index:   index,
		Locker:  locker,
		LockTTL: cfg.Session.LockTTL,
		Events:  publisher,
		Logger:  logger,
		Dev:     cfg.Runtime.Dev,
	})

	// ---- HTTP ----
	srv := api.NewServer(refineUC, logger, cfg.Server.TurnTimeout, cfg.Server.WSOrigins).WithModels(providers.Chat)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	// ---- Graceful shutdown ----
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	}
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.TurnTimeout)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	return nil
}
