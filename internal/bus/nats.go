package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/media-derivatives/internal/domain"
	"github.com/nats-io/nats.go"
)

const DefaultSubject = "digital-media"

type Client struct {
	nc *nats.Conn
}

func Connect(url, name string) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("nats url is required")
	}

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Client{nc: nc}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) PublishJSON(subject string, v any) error {
	return publishJSON(c.nc, subject, v)
}

// Conn is the part of a NATS connection the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

func publishJSON(conn Conn, subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal nats payload: %w", err)
	}
	return conn.Publish(subject, b)
}

// Publisher emits enriched records on a fixed subject and waits for the
// server to acknowledge the flush.
type Publisher struct {
	conn    Conn
	subject string
}

func NewPublisher(client *Client, subject string) *Publisher {
	return NewConnPublisher(client.nc, subject)
}

func NewConnPublisher(conn Conn, subject string) *Publisher {
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: conn, subject: subject}
}

func (p *Publisher) Subject() string {
	return p.subject
}

func (p *Publisher) Publish(ctx context.Context, event domain.DigitalMediaEvent) error {
	if err := publishJSON(p.conn, p.subject, event); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", p.subject, err)
	}
	return nil
}
