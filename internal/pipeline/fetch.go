package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultFetchTimeout  = 30 * time.Second
	DefaultFetchMaxBytes = 256 << 20
)

var (
	ErrUnsupportedScheme = errors.New("unsupported access uri scheme")
	ErrSourceTooLarge    = errors.New("source image exceeds size limit")
)

// Fetcher retrieves and decodes the image behind an access URI.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (image.Image, error)
}

// HostLimiter throttles requests per remote host.
type HostLimiter interface {
	Wait(ctx context.Context, subject string) error
}

type FetcherConfig struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
	Limiter   HostLimiter
	Logger    zerolog.Logger
}

// SourceFetcher reads http(s) and file access URIs.
type SourceFetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
	limiter   HostLimiter
	logger    zerolog.Logger
}

func NewSourceFetcher(cfg FetcherConfig) *SourceFetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultFetchMaxBytes
	}

	return &SourceFetcher{
		client:    &http.Client{Timeout: timeout},
		maxBytes:  maxBytes,
		userAgent: strings.TrimSpace(cfg.UserAgent),
		limiter:   cfg.Limiter,
		logger:    cfg.Logger.With().Str("component", "fetcher").Logger(),
	}
}

func (f *SourceFetcher) Fetch(ctx context.Context, uri string) (image.Image, error) {
	data, err := f.read(ctx, uri)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("source %s is empty", uri)
	}

	img, _, err := DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("decode source %s: %w", uri, err)
	}
	return img, nil
}

func (f *SourceFetcher) read(ctx context.Context, uri string) ([]byte, error) {
	parsed, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return nil, fmt.Errorf("parse access uri: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return f.readHTTP(ctx, parsed)
	case "file":
		return f.readFile(ctx, parsed.Path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, parsed.Scheme)
	}
}

func (f *SourceFetcher) readHTTP(ctx context.Context, u *url.URL) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, u.Hostname()); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			f.logger.Warn().Err(err).Str("host", u.Hostname()).Msg("fetch rate limiter unavailable, continuing")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("Accept", "image/*")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: unexpected status=%d", u.Redacted(), resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: content-length=%d limit=%d", ErrSourceTooLarge, resp.ContentLength, f.maxBytes)
	}

	return f.readLimited(resp.Body)
}

func (f *SourceFetcher) readFile(ctx context.Context, path string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source file %s: %w", path, err)
	}
	defer file.Close()

	return f.readLimited(file)
}

func (f *SourceFetcher) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: limit=%d", ErrSourceTooLarge, f.maxBytes)
	}
	return data, nil
}
