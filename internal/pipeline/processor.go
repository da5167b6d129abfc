package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/dunamismax/media-derivatives/internal/domain"
	"github.com/dunamismax/media-derivatives/internal/id"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"

	SkipNotCreate  = "activity is not a create"
	SkipNoImage    = "record has no image access uri"
	SkipJSONFormat = "record format is application/json"
)

// Sink persists encoded derivatives.
type Sink interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// Publisher announces enriched records downstream.
type Publisher interface {
	Publish(ctx context.Context, event domain.DigitalMediaEvent) error
}

type Result struct {
	Status     string
	SkipReason string
	Record     domain.MediaRecord
	ObjectKey  string
	Original   image.Point
	Derivative image.Point
	Bytes      int
}

type Processor struct {
	settings  Settings
	fetcher   Fetcher
	resizer   Resizer
	sink      Sink
	publisher Publisher
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Processor)

func WithResizer(r Resizer) Option {
	return func(p *Processor) { p.resizer = r }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

func NewProcessor(settings Settings, fetcher Fetcher, sink Sink, publisher Publisher, opts ...Option) (*Processor, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline settings: %w", err)
	}
	if fetcher == nil || sink == nil || publisher == nil {
		return nil, fmt.Errorf("fetcher, sink and publisher are required")
	}

	p := &Processor{
		settings:  settings,
		fetcher:   fetcher,
		resizer:   ScaleResizer{},
		sink:      sink,
		publisher: publisher,
		logger:    zerolog.Nop(),
		tracer:    otel.Tracer("media-derivatives/pipeline"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Handle runs one inbound event through the pipeline. Skips are successful
// results; failures are *Error values tagged with the stage that failed.
// The event itself is never modified.
func (p *Processor) Handle(ctx context.Context, event domain.CreateUpdateTombstoneEvent) (Result, error) {
	at := p.now()
	logger := p.logger.With().Str("event_id", event.ID).Str("record_id", event.Entity.ID).Logger()

	if event.Activity.Type != domain.ActivityCreate {
		logger.Debug().Str("activity", string(event.Activity.Type)).Msg("ignoring non-create event")
		return Result{Status: StatusSkipped, SkipReason: SkipNotCreate}, nil
	}
	if event.Entity.Type != domain.EntityTypeDigitalMedia {
		return Result{}, newError(KindInvalidEvent, event.Entity.ID, "entity type %q is not %s", event.Entity.Type, domain.EntityTypeDigitalMedia)
	}

	record, err := decodeRecord(event.Entity.Value)
	if err != nil {
		return Result{}, &Error{Kind: KindInvalidEvent, RecordID: event.Entity.ID, Err: err}
	}
	logger = logger.With().Str("record_id", record.ID).Logger()

	if strings.TrimSpace(record.AccessURI) == "" {
		logger.Info().Msg("record has no access uri, skipping")
		return Result{Status: StatusSkipped, SkipReason: SkipNoImage, Record: record}, nil
	}
	if strings.EqualFold(strings.TrimSpace(record.Format), domain.MediaFormatJSON) {
		logger.Info().Msg("record is not an image, skipping")
		return Result{Status: StatusSkipped, SkipReason: SkipJSONFormat, Record: record}, nil
	}

	src, err := p.fetch(ctx, record)
	if err != nil {
		return Result{}, err
	}
	bounds := src.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()

	// Very elongated sources can plan a side below one pixel.
	planW, planH := PlanDimensions(origW, origH, p.settings.MaxImageSize)
	width, height := max(1, int(planW)), max(1, int(planH))

	resized, err := p.resize(ctx, record.ID, src, width, height)
	if err != nil {
		return Result{}, err
	}

	objectKey := DerivativeKey(id.Slug(record.ID, p.settings.IdentifierPrefix))
	size, err := p.store(ctx, record.ID, objectKey, resized)
	if err != nil {
		return Result{}, err
	}

	record = record.WithDimensions(origW, origH)
	record = record.WithDerivative(BuildDerivative(record, width, height, at, p.settings))

	if err := p.publish(ctx, record); err != nil {
		return Result{}, err
	}

	logger.Info().
		Str("object_key", objectKey).
		Int("width", width).
		Int("height", height).
		Msg("derivative published")

	return Result{
		Status:     StatusProcessed,
		Record:     record,
		ObjectKey:  objectKey,
		Original:   image.Pt(origW, origH),
		Derivative: image.Pt(width, height),
		Bytes:      size,
	}, nil
}

func (p *Processor) fetch(ctx context.Context, record domain.MediaRecord) (image.Image, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.fetch")
	span.SetAttributes(attribute.String("media.access_uri", record.AccessURI))
	defer span.End()

	img, err := p.fetcher.Fetch(ctx, record.AccessURI)
	if err == nil && img == nil {
		err = fmt.Errorf("no image decoded from %s", record.AccessURI)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, &Error{Kind: KindImageRetrieval, RecordID: record.ID, Err: fmt.Errorf("fetch stage: %w", err)}
	}
	return img, nil
}

func (p *Processor) resize(ctx context.Context, recordID string, src image.Image, width, height int) (image.Image, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.resize")
	span.SetAttributes(attribute.Int("image.width", width), attribute.Int("image.height", height))
	defer span.End()

	out, err := p.resizer.Resize(ctx, src, width, height)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resize failed")
		return nil, &Error{Kind: KindImageRetrieval, RecordID: recordID, Err: fmt.Errorf("resize stage: %w", err)}
	}
	return out, nil
}

func (p *Processor) store(ctx context.Context, recordID, objectKey string, img image.Image) (int, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.store")
	span.SetAttributes(attribute.String("storage.object_key", objectKey))
	defer span.End()

	data, err := EncodeJPEG(img, p.settings.JPEGQuality)
	if err == nil {
		err = p.sink.WriteObject(ctx, objectKey, data, domain.DerivativeFormat)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failed")
		return 0, &Error{Kind: KindStorage, RecordID: recordID, Err: fmt.Errorf("store stage: %w", err)}
	}
	return len(data), nil
}

func (p *Processor) publish(ctx context.Context, record domain.MediaRecord) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.publish")
	defer span.End()

	if err := p.publisher.Publish(ctx, domain.NewDigitalMediaEvent(record)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return &Error{Kind: KindRepublish, RecordID: record.ID, Err: fmt.Errorf("publish stage: %w", err)}
	}
	return nil
}

// DerivativeKey is the object key of the derivative for slug.
func DerivativeKey(slug string) string {
	return slug + "/" + slug + "-derivative.jpg"
}

func decodeRecord(raw json.RawMessage) (domain.MediaRecord, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return domain.MediaRecord{}, fmt.Errorf("event carries no media record")
	}

	var record domain.MediaRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return domain.MediaRecord{}, fmt.Errorf("decode media record: %w", err)
	}
	return record, nil
}
