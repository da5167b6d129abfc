package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/media-derivatives/internal/domain"
	"github.com/dunamismax/media-derivatives/internal/id"
	"github.com/dunamismax/media-derivatives/internal/pipeline"
	"github.com/dunamismax/media-derivatives/internal/queue"
	"github.com/dunamismax/media-derivatives/internal/store"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxEventBytes           = 8 << 20
	defaultPresignTTL       = 15 * time.Minute
	defaultRateLimitHeader  = "X-Client-ID"
	anonymousRateLimitActor = "anonymous"
)

type queueEnqueuer interface {
	EnqueueMediaEvent(ctx context.Context, payload []byte) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

// Deps are the collaborators of the ingest API. Outcomes, Storage and
// RateLimiter are optional.
type Deps struct {
	Logger           zerolog.Logger
	Queue            queueEnqueuer
	Outcomes         store.OutcomeStore
	Storage          objectStorage
	RateLimiter      RateLimiter
	RateLimitHeader  string
	IdentifierPrefix string
	PresignTTL       time.Duration
}

type Server struct {
	logger                zerolog.Logger
	queueClient           queueEnqueuer
	outcomes              store.OutcomeStore
	storage               objectStorage
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	prefix                string
	presignTTL            time.Duration
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

func NewServer(deps Deps) (*Server, error) {
	if deps.Queue == nil {
		return nil, errors.New("queue client is required")
	}
	if deps.PresignTTL <= 0 {
		deps.PresignTTL = defaultPresignTTL
	}
	if strings.TrimSpace(deps.RateLimitHeader) == "" {
		deps.RateLimitHeader = defaultRateLimitHeader
	}
	if deps.Storage == nil {
		deps.Storage = unavailableObjectStorage{}
	}

	s := &Server{
		logger:                deps.Logger,
		queueClient:           deps.Queue,
		outcomes:              deps.Outcomes,
		storage:               deps.Storage,
		rateLimiter:           deps.RateLimiter,
		rateLimitUserIDHeader: deps.RateLimitHeader,
		prefix:                deps.IdentifierPrefix,
		presignTTL:            deps.PresignTTL,
		metrics:               newMetrics(),
		tracer:                otel.Tracer("media-derivatives/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedGetURL(context.Context, string, time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(context.Context, string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

// Handler wraps the routes with tracing, request metrics and rate limiting.
func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/events", s.handleEnqueueEvent)
	s.mux.HandleFunc("GET /v1/outcomes/{messageID}", s.handleGetOutcome)
	s.mux.HandleFunc("GET /v1/media/{prefix}/{suffix}/derivative", s.handleDerivative)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEnqueueEvent accepts a provenance event, plain or gzip/zstd
// compressed, and queues it unchanged for the worker.
func (s *Server) handleEnqueueEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := readBody(r)
	if err != nil {
		s.rejectEvent(w, "body", err)
		return
	}

	event, err := queue.ParseMediaEvent(payload)
	if err != nil {
		s.rejectEvent(w, "decode", err)
		return
	}
	if err := validateEvent(event); err != nil {
		s.rejectEvent(w, "invalid", err)
		return
	}

	taskInfo, err := s.queueClient.EnqueueMediaEvent(r.Context(), payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event_id", event.ID).Msg("enqueue failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue event"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	s.logger.Info().
		Str("task_id", taskInfo.ID).
		Str("event_id", event.ID).
		Str("record_id", event.Entity.ID).
		Msg("event enqueued")

	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id":     taskInfo.ID,
		"queue":       taskInfo.Queue,
		"state":       taskInfo.State.String(),
		"event_id":    event.ID,
		"outcome_url": "/v1/outcomes/" + taskInfo.ID,
	})
}

func (s *Server) rejectEvent(w http.ResponseWriter, reason string, err error) {
	s.metrics.eventsRejected.WithLabelValues(reason).Inc()
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}

func (s *Server) handleGetOutcome(w http.ResponseWriter, r *http.Request) {
	if s.outcomes == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "outcome store is disabled"})
		return
	}

	messageID := strings.TrimSpace(r.PathValue("messageID"))
	outcome, err := s.outcomes.Get(r.Context(), messageID)
	if errors.Is(err, store.ErrOutcomeNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "outcome not found"})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", messageID).Msg("outcome lookup failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load outcome"})
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// handleDerivative resolves a derivative access URI to a short lived
// download URL for the stored JPEG.
func (s *Server) handleDerivative(w http.ResponseWriter, r *http.Request) {
	recordID := id.DOIProxy + r.PathValue("prefix") + "/" + r.PathValue("suffix")
	objectKey := pipeline.DerivativeKey(id.Slug(recordID, s.prefix))

	exists, err := s.storage.ObjectExists(r.Context(), objectKey)
	if err != nil {
		s.metrics.derivativeLookups.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).Str("object_key", objectKey).Msg("derivative lookup failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "object storage lookup failed"})
		return
	}
	if !exists {
		s.metrics.derivativeLookups.WithLabelValues("missing").Inc()
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "derivative not found"})
		return
	}

	url, err := s.storage.PresignedGetURL(r.Context(), objectKey, s.presignTTL)
	if err != nil {
		s.logger.Error().Err(err).Str("object_key", objectKey).Msg("presign failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to sign derivative url"})
		return
	}
	s.metrics.derivativeLookups.WithLabelValues("found").Inc()
	http.Redirect(w, r, url, http.StatusFound)
}

func validateEvent(event domain.CreateUpdateTombstoneEvent) error {
	if strings.TrimSpace(string(event.Activity.Type)) == "" {
		return errors.New("event is missing prov:Activity @type")
	}
	if strings.TrimSpace(event.Entity.Type) == "" {
		return errors.New("event is missing prov:Entity @type")
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return nil, errors.New("request body is empty")
	}
	if len(body) > maxEventBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxEventBytes)
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
