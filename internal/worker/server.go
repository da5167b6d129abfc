package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/media-derivatives/internal/config"
	"github.com/dunamismax/media-derivatives/internal/domain"
	"github.com/dunamismax/media-derivatives/internal/id"
	"github.com/dunamismax/media-derivatives/internal/pipeline"
	"github.com/dunamismax/media-derivatives/internal/queue"
	"github.com/dunamismax/media-derivatives/internal/store"
	"github.com/dunamismax/media-derivatives/internal/telemetry"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EventHandler runs one decoded event through the derivative pipeline.
type EventHandler interface {
	Handle(ctx context.Context, event domain.CreateUpdateTombstoneEvent) (pipeline.Result, error)
}

type Server struct {
	logger   zerolog.Logger
	server   *asynq.Server
	queue    string
	sem      chan struct{}
	handler  EventHandler
	outcomes store.OutcomeStore
	metrics  *metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// NewServer builds the asynq consumer. outcomes may be nil.
func NewServer(
	logger zerolog.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	handler EventHandler,
	outcomes store.OutcomeStore,
) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("event handler is required")
	}

	logger = logger.With().Str("queue", queueCfg.Name).Logger()
	s := newServer(logger, queueCfg.Name, workerCfg.MaxActiveJobs, handler, outcomes)
	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			Logger:   telemetry.NewAsynqLogger(logger),
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				taskID, _ := asynq.GetTaskID(ctx)
				logger.Error().
					Err(err).
					Str("task_id", taskID).
					Str("type", task.Type()).
					Int("retry", retried).
					Int("max_retry", maxRetry).
					Str("kind", pipeline.KindOf(err).String()).
					Msg("media event failed")
			}),
		},
	)
	return s, nil
}

func newServer(logger zerolog.Logger, queueName string, maxActive int, handler EventHandler, outcomes store.OutcomeStore) *Server {
	return &Server{
		logger:   logger,
		queue:    queueName,
		sem:      make(chan struct{}, max(1, maxActive)),
		handler:  handler,
		outcomes: outcomes,
		metrics:  newMetrics(),
		tracer:   otel.Tracer("media-derivatives/worker"),
		now:      time.Now,
	}
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeMediaCreated, s.handleMediaEvent)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleMediaEvent(ctx context.Context, task *asynq.Task) error {
	startedAt := s.now()
	taskID, _ := asynq.GetTaskID(ctx)
	if taskID == "" {
		taskID = id.New()
	}
	retried, _ := asynq.GetRetryCount(ctx)
	outcome := domain.Outcome{MessageID: taskID, Attempt: retried + 1, Status: domain.OutcomeFailed}

	defer func() {
		outcome.DurationMS = s.now().Sub(startedAt).Milliseconds()
		outcome.CreatedAt = s.now().UTC()
		s.metrics.eventDuration.WithLabelValues(outcome.Status).Observe(s.now().Sub(startedAt).Seconds())
		s.recordOutcome(ctx, outcome)
	}()

	event, err := queue.ParseMediaEvent(task.Payload())
	if err != nil {
		outcome.ErrorKind = pipeline.KindInvalidEvent.String()
		outcome.Reason = err.Error()
		s.metrics.eventsTotal.WithLabelValues("unknown", domain.OutcomeFailed).Inc()
		s.metrics.failuresTotal.WithLabelValues(outcome.ErrorKind).Inc()
		return fmt.Errorf("parse media event: %v: %w", err, asynq.SkipRetry)
	}
	outcome.RecordID = event.Entity.ID
	activity := string(event.Activity.Type)

	ctx, span := s.tracer.Start(ctx, "worker.media_event", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("messaging.message.id", taskID),
		attribute.String("media.event_id", event.ID),
		attribute.String("media.activity", activity),
		attribute.Int("messaging.retry", retried),
	)
	defer span.End()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		// Cancelled before the pipeline ran, so no pipeline kind applies.
		err := ctx.Err()
		outcome.ErrorKind = pipeline.KindUnknown.String()
		outcome.Reason = err.Error()
		s.metrics.eventsTotal.WithLabelValues(activity, domain.OutcomeFailed).Inc()
		s.metrics.failuresTotal.WithLabelValues(outcome.ErrorKind).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled waiting for a decode slot")
		return err
	}
	s.metrics.activeEvents.Inc()
	result, err := s.handler.Handle(ctx, event)
	<-s.sem
	s.metrics.activeEvents.Dec()

	if err != nil {
		kind := pipeline.KindOf(err)
		outcome.ErrorKind = kind.String()
		outcome.Reason = err.Error()
		s.metrics.eventsTotal.WithLabelValues(activity, domain.OutcomeFailed).Inc()
		s.metrics.failuresTotal.WithLabelValues(kind.String()).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, kind.String())

		if errors.Is(err, pipeline.ErrInvalidEvent) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if result.Record.ID != "" {
		outcome.RecordID = result.Record.ID
	}
	if result.Status == pipeline.StatusSkipped {
		outcome.Status = domain.OutcomeSkipped
		outcome.Reason = result.SkipReason
		s.metrics.eventsTotal.WithLabelValues(activity, domain.OutcomeSkipped).Inc()
		span.SetStatus(codes.Ok, "skipped")
		return nil
	}

	outcome.Status = domain.OutcomeProcessed
	outcome.ObjectKey = result.ObjectKey
	outcome.Width = result.Derivative.X
	outcome.Height = result.Derivative.Y
	s.metrics.eventsTotal.WithLabelValues(activity, domain.OutcomeProcessed).Inc()
	s.metrics.derivativesTotal.Inc()
	s.metrics.bytesUploaded.Add(float64(result.Bytes))
	s.metrics.pixelsResized.Add(float64(result.Original.X) * float64(result.Original.Y))
	span.SetStatus(codes.Ok, "processed")
	return nil
}

func (s *Server) recordOutcome(ctx context.Context, outcome domain.Outcome) {
	if s.outcomes == nil || outcome.MessageID == "" {
		return
	}
	if err := s.outcomes.Record(context.WithoutCancel(ctx), outcome); err != nil {
		s.logger.Warn().Err(err).Str("task_id", outcome.MessageID).Msg("outcome write failed")
	}
}
