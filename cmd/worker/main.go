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

	"github.com/dunamismax/media-derivatives/internal/bus"
	"github.com/dunamismax/media-derivatives/internal/config"
	"github.com/dunamismax/media-derivatives/internal/pipeline"
	"github.com/dunamismax/media-derivatives/internal/queue"
	"github.com/dunamismax/media-derivatives/internal/ratelimit"
	"github.com/dunamismax/media-derivatives/internal/storage"
	"github.com/dunamismax/media-derivatives/internal/store"
	"github.com/dunamismax/media-derivatives/internal/telemetry"
	"github.com/dunamismax/media-derivatives/internal/webhook"
	"github.com/dunamismax/media-derivatives/internal/worker"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := telemetry.NewLogger(cfg.Telemetry.LogLevel, cfg.Telemetry.LogFormat, "worker", os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker failed")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "media-derivatives-worker",
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
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	if err := pipeline.Startup(); err != nil {
		return fmt.Errorf("start native decoder: %w", err)
	}
	defer pipeline.Shutdown()

	objects, err := storage.Open(ctx, cfg.Storage.Backend, cfg.Storage.MinIO, cfg.Storage.S3)
	if err != nil {
		return err
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return err
	}

	redisClient := redis.NewClient(cfg.Queue.RedisOptions())
	defer redisClient.Close()

	fetcherCfg := pipeline.FetcherConfig{
		Timeout:   cfg.Fetch.Timeout,
		MaxBytes:  cfg.Fetch.MaxBytes,
		UserAgent: cfg.App.Name,
		Logger:    logger,
	}
	if cfg.Fetch.RateLimit > 0 {
		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.Fetch.RateLimit, cfg.Fetch.RateLimitWindow, ratelimit.DefaultKeyPrefix+":fetch")
		if err != nil {
			return fmt.Errorf("build fetch limiter: %w", err)
		}
		fetcherCfg.Limiter = limiter
	}

	publisher, closePublisher, err := openPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	outcomes, closeOutcomes, err := store.Open(ctx, cfg.Outcomes.Store, cfg.Outcomes.DSN)
	if err != nil {
		return err
	}
	defer closeOutcomes()

	processor, err := pipeline.NewProcessor(
		cfg.PipelineSettings(),
		pipeline.NewSourceFetcher(fetcherCfg),
		objects,
		publisher,
		pipeline.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, processor, outcomes)
	if err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           metricsMux(srv),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Int("max_active_jobs", cfg.Worker.MaxActiveJobs).
		Str("redis", cfg.Queue.RedisAddr).
		Str("storage", cfg.Storage.Backend).
		Str("bucket", objects.Bucket()).
		Str("publisher", cfg.Publisher.Kind).
		Str("outcome_store", cfg.Outcomes.Store).
		Str("native_decoder", pipeline.NativeDecoder()).
		Msg("starting worker")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	srv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("metrics server shutdown failed")
	}
	return nil
}

func metricsMux(srv *worker.Server) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", srv.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func openPublisher(cfg config.Config, logger zerolog.Logger) (pipeline.Publisher, func(), error) {
	switch cfg.Publisher.Kind {
	case config.PublisherNATS:
		client, err := bus.Connect(cfg.Publisher.NATSURL, cfg.App.Name)
		if err != nil {
			return nil, nil, err
		}
		return bus.NewPublisher(client, cfg.Publisher.NATSSubject), client.Close, nil
	case config.PublisherWebhook:
		client := webhook.NewClient(webhook.Config{
			SigningSecret:  cfg.Publisher.WebhookSecret,
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
			Logger:         logger,
		})
		return webhook.NewPublisher(client, cfg.Publisher.WebhookURL), func() {}, nil
	default:
		client := queue.NewClient(cfg.Queue.RedisClientOpt(), queue.ClientConfig{
			InboundQueue:  cfg.Queue.Name,
			OutboundQueue: cfg.Publisher.Queue,
		})
		return client, func() {
			if err := client.Close(); err != nil {
				logger.Warn().Err(err).Msg("queue client close failed")
			}
		}, nil
	}
}
