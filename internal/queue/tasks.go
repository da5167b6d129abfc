package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dunamismax/media-derivatives/internal/domain"
	"github.com/hibiken/asynq"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const (
	// TypeMediaCreated carries an inbound provenance event.
	TypeMediaCreated = "digital-media:created"
	// TypeMediaEnriched carries an outbound enriched media record.
	TypeMediaEnriched = "digital-media:enriched"

	DefaultInboundQueue  = "digital-media-derivative-queue"
	DefaultOutboundQueue = "digital-media"

	maxDecodedPayload = 64 << 20
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

func NewMediaEventTask(event domain.CreateUpdateTombstoneEvent) (*asynq.Task, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal media event: %w", err)
	}
	return asynq.NewTask(TypeMediaCreated, body), nil
}

// NewRawMediaEventTask enqueues a payload exactly as received, which may be
// compressed.
func NewRawMediaEventTask(payload []byte) *asynq.Task {
	return asynq.NewTask(TypeMediaCreated, payload)
}

// ParseMediaEvent decodes an inbound payload. gzip and zstd payloads are
// detected by their magic bytes and decompressed first.
func ParseMediaEvent(payload []byte) (domain.CreateUpdateTombstoneEvent, error) {
	body, err := Decompress(payload)
	if err != nil {
		return domain.CreateUpdateTombstoneEvent{}, err
	}

	var event domain.CreateUpdateTombstoneEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return domain.CreateUpdateTombstoneEvent{}, fmt.Errorf("unmarshal media event: %w", err)
	}
	return event, nil
}

func NewEnrichedMediaTask(event domain.DigitalMediaEvent) (*asynq.Task, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal enriched media event: %w", err)
	}
	return asynq.NewTask(TypeMediaEnriched, body), nil
}

func ParseEnrichedMedia(payload []byte) (domain.DigitalMediaEvent, error) {
	var event domain.DigitalMediaEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.DigitalMediaEvent{}, fmt.Errorf("unmarshal enriched media event: %w", err)
	}
	return event, nil
}

// Decompress returns payload unchanged unless it starts with a gzip or zstd
// frame header.
func Decompress(payload []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(payload, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("open gzip payload: %w", err)
		}
		defer zr.Close()
		return readCapped(zr, "gzip")
	case bytes.HasPrefix(payload, zstdMagic):
		zr, err := zstd.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("open zstd payload: %w", err)
		}
		defer zr.Close()
		return readCapped(zr, "zstd")
	default:
		return payload, nil
	}
}

func readCapped(r io.Reader, codec string) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxDecodedPayload+1))
	if err != nil {
		return nil, fmt.Errorf("decompress %s payload: %w", codec, err)
	}
	if len(body) > maxDecodedPayload {
		return nil, fmt.Errorf("decompressed %s payload exceeds %d bytes", codec, maxDecodedPayload)
	}
	return body, nil
}
