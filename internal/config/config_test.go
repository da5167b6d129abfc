package config

import (
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/media-derivatives/internal/pipeline"
	"github.com/dunamismax/media-derivatives/internal/queue"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_PREFIX", "")
	t.Setenv("APP_API_URL", "")

	cfg := Load()
	if cfg.App.MaxImageSize != pipeline.DefaultMaxImageSize {
		t.Fatalf("expected max image size %v, got %v", pipeline.DefaultMaxImageSize, cfg.App.MaxImageSize)
	}
	if cfg.Queue.Name != queue.DefaultInboundQueue {
		t.Fatalf("expected inbound queue %s, got %s", queue.DefaultInboundQueue, cfg.Queue.Name)
	}
	if cfg.Publisher.Kind != PublisherAsynq || cfg.Publisher.Queue != queue.DefaultOutboundQueue {
		t.Fatalf("unexpected publisher defaults %+v", cfg.Publisher)
	}
	if cfg.Storage.MinIO.Bucket != cfg.Storage.S3.Bucket {
		t.Fatalf("expected one bucket for both backends, got %q and %q", cfg.Storage.MinIO.Bucket, cfg.Storage.S3.Bucket)
	}
	if cfg.Worker.MaxActiveJobs < 1 {
		t.Fatalf("expected at least one active slot, got %d", cfg.Worker.MaxActiveJobs)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("APP_MAX_IMAGE_SIZE", "1024.5")
	t.Setenv("APP_PREFIX", "TEST")
	t.Setenv("APP_API_URL", "https://sandbox.dissco.tech/api/digital-media/v1/")
	t.Setenv("STORAGE_BACKEND", "S3")
	t.Setenv("FETCH_TIMEOUT", "5s")
	t.Setenv("FETCH_RATE_LIMIT", "not-a-number")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg := Load()
	if cfg.App.MaxImageSize != 1024.5 {
		t.Fatalf("expected 1024.5, got %v", cfg.App.MaxImageSize)
	}
	if cfg.Storage.Backend != "s3" {
		t.Fatalf("expected lowercased backend, got %s", cfg.Storage.Backend)
	}
	if cfg.Fetch.Timeout != 5*time.Second {
		t.Fatalf("expected 5s fetch timeout, got %s", cfg.Fetch.Timeout)
	}
	if cfg.Fetch.RateLimit != 0 {
		t.Fatalf("expected invalid int to fall back to 0, got %d", cfg.Fetch.RateLimit)
	}
	if !cfg.Storage.MinIO.UseSSL {
		t.Fatal("expected MINIO_USE_SSL=true")
	}

	settings := cfg.PipelineSettings()
	if settings.IdentifierPrefix != "TEST" || settings.APIBaseURL != "https://sandbox.dissco.tech/api/digital-media/v1/" {
		t.Fatalf("unexpected pipeline settings %+v", settings)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Load()
	cfg.App.Prefix = ""
	cfg.App.APIBaseURL = ""
	cfg.Storage.Backend = "gcs"
	cfg.Publisher.Kind = PublisherWebhook
	cfg.Publisher.WebhookURL = ""
	cfg.Outcomes.Store = "redis"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"STORAGE_BACKEND", "WEBHOOK_URL", "OUTCOME_STORE", "api base url"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}
