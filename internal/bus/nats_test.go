package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dunamismax/media-derivatives/internal/domain"
	"github.com/nats-io/nats.go"
)

var _ Conn = (*nats.Conn)(nil)

type recordingConn struct {
	subject    string
	data       []byte
	flushes    int
	publishErr error
	flushErr   error
}

func (c *recordingConn) Publish(subject string, data []byte) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.subject = subject
	c.data = data
	return nil
}

func (c *recordingConn) FlushWithContext(context.Context) error {
	c.flushes++
	return c.flushErr
}

func TestConnectRequiresURL(t *testing.T) {
	if _, err := Connect("  ", "media-derivatives"); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestConnectFailsForUnreachableServer(t *testing.T) {
	if _, err := Connect("nats://127.0.0.1:1", "media-derivatives"); err == nil {
		t.Fatal("expected connect error for closed port")
	}
}

func TestNewPublisherDefaultsSubject(t *testing.T) {
	if got := NewPublisher(&Client{}, "").Subject(); got != DefaultSubject {
		t.Fatalf("expected default subject %s, got %s", DefaultSubject, got)
	}
	if got := NewConnPublisher(&recordingConn{}, "dissco.media").Subject(); got != "dissco.media" {
		t.Fatalf("expected custom subject, got %s", got)
	}
}

func TestPublishSendsEnvelopeAndFlushes(t *testing.T) {
	conn := &recordingConn{}
	record := domain.MediaRecord{ID: "https://doi.org/TEST/WKT-SQB-ZNC", Type: domain.EntityTypeDigitalMedia}

	if err := NewConnPublisher(conn, "").Publish(context.Background(), domain.NewDigitalMediaEvent(record)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if conn.subject != DefaultSubject || conn.flushes != 1 {
		t.Fatalf("expected one flushed publish on %s, got subject=%s flushes=%d", DefaultSubject, conn.subject, conn.flushes)
	}

	var got map[string]json.RawMessage
	if err := json.Unmarshal(conn.data, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if string(got["digests"]) != "[]" || string(got["isUpdate"]) != "false" {
		t.Fatalf("unexpected envelope %s", conn.data)
	}
	var enrichment struct {
		Type    string `json:"type"`
		Subject struct {
			ID string `json:"@id"`
		} `json:"subject"`
	}
	if err := json.Unmarshal(got["enrichment"], &enrichment); err != nil {
		t.Fatalf("decode enrichment: %v", err)
	}
	if enrichment.Type != domain.EntityTypeDigitalMedia || enrichment.Subject.ID != record.ID {
		t.Fatalf("unexpected enrichment %s", got["enrichment"])
	}
}

func TestPublishReportsConnectionErrors(t *testing.T) {
	boom := errors.New("connection closed")

	conn := &recordingConn{publishErr: boom}
	if err := NewConnPublisher(conn, "").Publish(context.Background(), domain.DigitalMediaEvent{}); !errors.Is(err, boom) {
		t.Fatalf("expected publish error, got %v", err)
	}
	if conn.flushes != 0 {
		t.Fatal("expected no flush after a failed publish")
	}

	conn = &recordingConn{flushErr: boom}
	if err := NewConnPublisher(conn, "").Publish(context.Background(), domain.DigitalMediaEvent{}); !errors.Is(err, boom) {
		t.Fatalf("expected flush error, got %v", err)
	}
}
