package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/media-derivatives/internal/domain"
	"github.com/rs/zerolog"
)

const (
	HeaderSignature = "X-Derivative-Signature"
	HeaderTimestamp = "X-Derivative-Timestamp"
	HeaderEvent     = "X-Derivative-Event"

	EventMediaEnriched = "digital-media.enriched"
)

var errPermanent = errors.New("permanent webhook failure")

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         zerolog.Logger
}

// Client posts signed JSON payloads, retrying transport errors and 5xx
// responses with exponential backoff.
type Client struct {
	httpClient     *http.Client
	signingSecret  string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         zerolog.Logger
	now            func() time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	return &Client{
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		signingSecret:  cfg.SigningSecret,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         cfg.Logger,
		now:            time.Now,
	}
}

func (c *Client) Send(ctx context.Context, endpoint, event string, payload any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return errors.New("webhook endpoint is required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(c.now().UTC().Unix(), 10)
	signature := Sign(c.signingSecret, timestamp, body)

	backoff := c.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = c.post(ctx, endpoint, event, timestamp, signature, body)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, errPermanent) || attempt == c.maxAttempts {
			break
		}

		c.logger.Warn().Err(lastErr).Int("attempt", attempt).Str("event", event).Dur("backoff", backoff).Msg("webhook delivery failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}

	return fmt.Errorf("webhook delivery failed: %w", lastErr)
}

func (c *Client) post(ctx context.Context, endpoint, event, timestamp, signature string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w: %w", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderEvent, event)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned status=%d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: webhook returned status=%d", errPermanent, resp.StatusCode)
	}
}

// Sign computes the signature header value for body sent at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body and timestamp under secret.
func Verify(secret, timestamp, signature string, body []byte) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}

// Publisher delivers enriched records to a single endpoint.
type Publisher struct {
	client   *Client
	endpoint string
}

func NewPublisher(client *Client, endpoint string) *Publisher {
	return &Publisher{client: client, endpoint: endpoint}
}

func (p *Publisher) Publish(ctx context.Context, event domain.DigitalMediaEvent) error {
	return p.client.Send(ctx, p.endpoint, EventMediaEnriched, event)
}
