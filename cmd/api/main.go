package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/media-derivatives/internal/api"
	"github.com/dunamismax/media-derivatives/internal/config"
	"github.com/dunamismax/media-derivatives/internal/queue"
	"github.com/dunamismax/media-derivatives/internal/ratelimit"
	"github.com/dunamismax/media-derivatives/internal/storage"
	"github.com/dunamismax/media-derivatives/internal/store"
	"github.com/dunamismax/media-derivatives/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := telemetry.NewLogger(cfg.Telemetry.LogLevel, cfg.Telemetry.LogFormat, "api", os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api failed")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "media-derivatives-api",
		Exporter:     cfg.Telemetry.TraceExporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), queue.ClientConfig{InboundQueue: cfg.Queue.Name})
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn().Err(err).Msg("queue client close failed")
		}
	}()

	redisClient := redis.NewClient(cfg.Queue.RedisOptions())
	defer redisClient.Close()

	deps := api.Deps{
		Logger:           logger,
		Queue:            queueClient,
		IdentifierPrefix: cfg.App.Prefix,
		RateLimitHeader:  cfg.API.RateLimitHeader,
		PresignTTL:       cfg.API.PresignTTL,
	}

	if cfg.API.RateLimit > 0 {
		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.API.RateLimit, cfg.API.RateLimitWindow, ratelimit.DefaultKeyPrefix+":api")
		if err != nil {
			return fmt.Errorf("build api rate limiter: %w", err)
		}
		deps.RateLimiter = limiter
	}

	// An in-memory ledger lives in the worker process, so only Postgres is
	// readable from here.
	if cfg.Outcomes.Store == config.OutcomeStorePostgres {
		outcomes, closeOutcomes, err := store.Open(ctx, cfg.Outcomes.Store, cfg.Outcomes.DSN)
		if err != nil {
			return err
		}
		defer closeOutcomes()
		deps.Outcomes = outcomes
	}

	if objects, err := storage.Open(ctx, cfg.Storage.Backend, cfg.Storage.MinIO, cfg.Storage.S3); err != nil {
		logger.Warn().Err(err).Msg("object storage unavailable, derivative downloads disabled")
	} else {
		deps.Storage = objects
	}

	app, err := api.NewServer(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.API.Addr).Str("queue", cfg.Queue.Name).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
