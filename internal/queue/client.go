package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/dunamismax/media-derivatives/internal/domain"
	"github.com/hibiken/asynq"
)

const (
	DefaultMaxRetry = 5
	DefaultTimeout  = 3 * time.Minute
)

// Client enqueues inbound events for the worker and, acting as a pipeline
// publisher, enriched records for downstream consumers.
type Client struct {
	client        *asynq.Client
	inboundQueue  string
	outboundQueue string
	maxRetry      int
	timeout       time.Duration
}

type ClientConfig struct {
	InboundQueue  string
	OutboundQueue string
	MaxRetry      int
	Timeout       time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, cfg ClientConfig) *Client {
	if cfg.InboundQueue == "" {
		cfg.InboundQueue = DefaultInboundQueue
	}
	if cfg.OutboundQueue == "" {
		cfg.OutboundQueue = DefaultOutboundQueue
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = DefaultMaxRetry
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		client:        asynq.NewClient(redisOpt),
		inboundQueue:  cfg.InboundQueue,
		outboundQueue: cfg.OutboundQueue,
		maxRetry:      cfg.MaxRetry,
		timeout:       cfg.Timeout,
	}
}

// EnqueueMediaEvent schedules payload, the raw inbound message body, for
// derivative processing.
func (c *Client) EnqueueMediaEvent(ctx context.Context, payload []byte) (*asynq.TaskInfo, error) {
	return c.client.EnqueueContext(
		ctx,
		NewRawMediaEventTask(payload),
		asynq.Queue(c.inboundQueue),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(c.timeout),
	)
}

// Publish implements pipeline.Publisher on the outbound queue.
func (c *Client) Publish(ctx context.Context, event domain.DigitalMediaEvent) error {
	task, err := NewEnrichedMediaTask(event)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task, asynq.Queue(c.outboundQueue), asynq.MaxRetry(c.maxRetry)); err != nil {
		return fmt.Errorf("enqueue enriched media: %w", err)
	}
	return nil
}

func (c *Client) InboundQueue() string {
	return c.inboundQueue
}

func (c *Client) Close() error {
	return c.client.Close()
}
