package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/media-derivatives/internal/domain"
)

const testRecordID = "https://doi.org/TEST/WKT-SQB-ZNC"

func testSettings() Settings {
	return Settings{
		MaxImageSize:     2048,
		APIBaseURL:       "https://dev.dissco.tech/api/dm/v1/",
		IdentifierPrefix: "TEST",
		ServiceName:      DefaultServiceName,
		ServicePID:       DefaultServicePID,
	}
}

func testEvent(t *testing.T, activity domain.ActivityType, entityType string, record map[string]any) domain.CreateUpdateTombstoneEvent {
	t.Helper()

	raw, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	return domain.CreateUpdateTombstoneEvent{
		ID:       testRecordID + "/1",
		Type:     "ods:CreateUpdateTombstoneEvent",
		Activity: domain.Activity{ID: "6b651ddc-2e18-4141-bc31-8d0481ba4019", Type: activity},
		Entity:   domain.Entity{ID: testRecordID + "/1", Type: entityType, Value: raw},
	}
}

func testRecord() map[string]any {
	return map[string]any{
		"@id":            testRecordID,
		"@type":          domain.EntityTypeDigitalMedia,
		"ods:version":    1,
		"ac:accessURI":   "https://medialib.naturalis.nl/file/id/RMNH.INS.1339663_1/format/large",
		"dcterms:format": "image/jpeg",
		"dcterms:rights": "http://creativecommons.org/publicdomain/zero/1.0/legalcode",
		"dcterms:type":   "StillImage",
	}
}

type stubFetcher struct {
	img   image.Image
	err   error
	calls int
}

func (f *stubFetcher) Fetch(_ context.Context, _ string) (image.Image, error) {
	f.calls++
	return f.img, f.err
}

type memorySink struct {
	objects     map[string][]byte
	contentType string
	err         error
	calls       int
}

func (s *memorySink) WriteObject(_ context.Context, objectKey string, data []byte, contentType string) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[objectKey] = data
	s.contentType = contentType
	return nil
}

type capturePublisher struct {
	events []domain.DigitalMediaEvent
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, event domain.DigitalMediaEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fill := color.RGBA{R: 40, G: 120, B: 200, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, fill)
		}
	}
	return img
}

func newTestProcessor(t *testing.T, fetcher Fetcher, sink Sink, publisher Publisher, at time.Time) *Processor {
	t.Helper()

	p, err := NewProcessor(testSettings(), fetcher, sink, publisher, WithClock(func() time.Time { return at }))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return p
}

func TestHandleProcessesCreateEvent(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{name: "within limit", w: 1920, h: 1795, wantW: 1920, wantH: 1795},
		{name: "square over limit", w: 3000, h: 3000, wantW: 2048, wantH: 2048},
		{name: "landscape over limit", w: 3033, h: 1500, wantW: 2048, wantH: 1012},
	}

	at := time.Date(2025, 1, 28, 11, 29, 5, 317_000_000, time.UTC)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := &stubFetcher{img: solidImage(tc.w, tc.h)}
			sink := &memorySink{}
			publisher := &capturePublisher{}
			p := newTestProcessor(t, fetcher, sink, publisher, at)

			result, err := p.Handle(context.Background(), testEvent(t, domain.ActivityCreate, domain.EntityTypeDigitalMedia, testRecord()))
			if err != nil {
				t.Fatalf("handle: %v", err)
			}
			if result.Status != StatusProcessed {
				t.Fatalf("expected processed, got %s", result.Status)
			}

			const wantKey = "WKT-SQB-ZNC/WKT-SQB-ZNC-derivative.jpg"
			if sink.calls != 1 {
				t.Fatalf("expected one storage write, got %d", sink.calls)
			}
			data, ok := sink.objects[wantKey]
			if !ok {
				t.Fatalf("expected object %s, got keys %v", wantKey, sink.objects)
			}
			if sink.contentType != "image/jpeg" {
				t.Fatalf("expected image/jpeg content type, got %s", sink.contentType)
			}
			stored, format, err := image.Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("decode stored derivative: %v", err)
			}
			if format != "jpeg" {
				t.Fatalf("expected jpeg derivative, got %s", format)
			}
			if got := stored.Bounds(); got.Dx() != tc.wantW || got.Dy() != tc.wantH {
				t.Fatalf("expected stored %dx%d, got %dx%d", tc.wantW, tc.wantH, got.Dx(), got.Dy())
			}

			if len(publisher.events) != 1 {
				t.Fatalf("expected one publish, got %d", len(publisher.events))
			}
			record := publisher.events[0].Enrichment.Subject
			if record.Width != tc.w || record.Height != tc.h {
				t.Fatalf("expected record dimensions %dx%d, got %dx%d", tc.w, tc.h, record.Width, record.Height)
			}
			if len(record.Derivatives) != 1 {
				t.Fatalf("expected one derivative, got %d", len(record.Derivatives))
			}
			d := record.Derivatives[0]
			if d.Width != tc.wantW || d.Height != tc.wantH {
				t.Fatalf("expected derivative %dx%d, got %dx%d", tc.wantW, tc.wantH, d.Width, d.Height)
			}
			if !d.Created.Equal(at) || !d.Modified.Equal(at) {
				t.Fatalf("expected created and modified %s, got %s / %s", at, d.Created, d.Modified)
			}
			if d.AccessURI != "https://dev.dissco.tech/api/dm/v1/TEST/WKT-SQB-ZNC/derivative" {
				t.Fatalf("unexpected derivative access uri %s", d.AccessURI)
			}
			if string(record.Extra["ods:version"]) != "1" {
				t.Fatalf("expected unknown record members to pass through, got %v", record.Extra)
			}
			if publisher.events[0].Enrichment.Type != domain.EntityTypeDigitalMedia {
				t.Fatalf("unexpected wrapper type %s", publisher.events[0].Enrichment.Type)
			}
		})
	}
}

func TestHandleAppendsToExistingDerivatives(t *testing.T) {
	record := testRecord()
	record["ods:hasMediaDerivatives"] = []map[string]any{
		{"ac:accessURI": "https://example.org/older", "dcterms:title": "older"},
	}

	publisher := &capturePublisher{}
	p := newTestProcessor(t, &stubFetcher{img: solidImage(10, 10)}, &memorySink{}, publisher, time.Now())

	if _, err := p.Handle(context.Background(), testEvent(t, domain.ActivityCreate, domain.EntityTypeDigitalMedia, record)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	derivatives := publisher.events[0].Enrichment.Subject.Derivatives
	if len(derivatives) != 2 {
		t.Fatalf("expected 2 derivatives, got %d", len(derivatives))
	}
	if derivatives[0].Title != "older" {
		t.Fatalf("expected existing derivative first, got %q", derivatives[0].Title)
	}
	if !strings.HasPrefix(derivatives[1].Title, "Derivative of ") {
		t.Fatalf("expected new derivative appended, got %q", derivatives[1].Title)
	}
}

func TestHandleKeepsForeignAgentsOnExistingDerivatives(t *testing.T) {
	existing := `{"dcterms:title":"older","ods:hasAgents":[{"@id":"x","@type":"schema:Person","schema:email":"curator@example.org",` +
		`"ods:hasRoles":[{"@type":"schema:Role","schema:roleName":"creator","schema:startDate":"2020-01-01"}],` +
		`"ods:hasIdentifiers":[{"@type":"ods:Identifier","dcterms:identifier":"x","ods:identifierType":"ORCID"}]}]}`
	record := testRecord()
	record["ods:hasMediaDerivatives"] = []json.RawMessage{json.RawMessage(existing)}

	publisher := &capturePublisher{}
	p := newTestProcessor(t, &stubFetcher{img: solidImage(10, 10)}, &memorySink{}, publisher, time.Now())
	if _, err := p.Handle(context.Background(), testEvent(t, domain.ActivityCreate, domain.EntityTypeDigitalMedia, record)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	out, err := json.Marshal(publisher.events[0].Enrichment.Subject)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	var published struct {
		Derivatives []json.RawMessage `json:"ods:hasMediaDerivatives"`
	}
	if err := json.Unmarshal(out, &published); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if len(published.Derivatives) != 2 {
		t.Fatalf("expected 2 derivatives, got %d", len(published.Derivatives))
	}

	var got, want any
	if err := json.Unmarshal(published.Derivatives[0], &got); err != nil {
		t.Fatalf("decode derivative: %v", err)
	}
	if err := json.Unmarshal([]byte(existing), &want); err != nil {
		t.Fatalf("decode expected: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("existing derivative changed:\n got %s\nwant %s", published.Derivatives[0], existing)
	}
	if strings.Contains(string(published.Derivatives[0]), "ods:isPartOfLabel") {
		t.Fatalf("existing identifier gained members: %s", published.Derivatives[0])
	}
}

func TestHandleClampsElongatedImages(t *testing.T) {
	sink := &memorySink{}
	publisher := &capturePublisher{}
	p := newTestProcessor(t, &stubFetcher{img: solidImage(5000, 1)}, sink, publisher, time.Now())

	result, err := p.Handle(context.Background(), testEvent(t, domain.ActivityCreate, domain.EntityTypeDigitalMedia, testRecord()))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Derivative != image.Pt(2048, 1) {
		t.Fatalf("expected 2048x1 derivative, got %v", result.Derivative)
	}
	if len(sink.objects) != 1 || len(publisher.events) != 1 {
		t.Fatalf("expected one stored and published derivative, got %d/%d", len(sink.objects), len(publisher.events))
	}
}

func TestHandleSkips(t *testing.T) {
	withJSONFormat := testRecord()
	withJSONFormat["dcterms:format"] = "application/json"

	onlyJSONFormat := map[string]any{"@id": testRecordID, "dcterms:format": "application/json"}

	noAccessURI := testRecord()
	delete(noAccessURI, "ac:accessURI")

	tests := []struct {
		name       string
		event      domain.CreateUpdateTombstoneEvent
		wantReason string
	}{
		{
			name:       "tombstone with wrong entity type",
			event:      testEvent(t, domain.ActivityTombstone, "ods:DigitalSpecimen", testRecord()),
			wantReason: SkipNotCreate,
		},
		{
			name:       "update",
			event:      testEvent(t, domain.ActivityUpdate, domain.EntityTypeDigitalMedia, testRecord()),
			wantReason: SkipNotCreate,
		},
		{
			name:       "access uri with json format",
			event:      testEvent(t, domain.ActivityCreate, domain.EntityTypeDigitalMedia, withJSONFormat),
			wantReason: SkipJSONFormat,
		},
		{
			name:       "only json format",
			event:      testEvent(t, domain.ActivityCreate, domain.EntityTypeDigitalMedia, onlyJSONFormat),
			wantReason: SkipNoImage,
		},
		{
			name:       "no access uri",
			event:      testEvent(t, domain.ActivityCreate, domain.EntityTypeDigitalMedia, noAccessURI),
			wantReason: SkipNoImage,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := &stubFetcher{img: solidImage(4, 4)}
			sink := &memorySink{}
			publisher := &capturePublisher{}
			p := newTestProcessor(t, fetcher, sink, publisher, time.Now())

			result, err := p.Handle(context.Background(), tc.event)
			if err != nil {
				t.Fatalf("expected skip, got error %v", err)
			}
			if result.Status != StatusSkipped || result.SkipReason != tc.wantReason {
				t.Fatalf("expected skipped (%s), got %s (%s)", tc.wantReason, result.Status, result.SkipReason)
			}
			if fetcher.calls != 0 || sink.calls != 0 || len(publisher.events) != 0 {
				t.Fatalf("expected no side effects, got fetch=%d store=%d publish=%d", fetcher.calls, sink.calls, len(publisher.events))
			}
		})
	}
}

func TestHandleInvalidEvents(t *testing.T) {
	tests := []struct {
		name  string
		event domain.CreateUpdateTombstoneEvent
	}{
		{name: "wrong entity type", event: testEvent(t, domain.ActivityCreate, "ods:DigitalSpecimen", testRecord())},
		{
			name: "missing value",
			event: domain.CreateUpdateTombstoneEvent{
				Activity: domain.Activity{Type: domain.ActivityCreate},
				Entity:   domain.Entity{Type: domain.EntityTypeDigitalMedia},
			},
		},
		{
			name: "undecodable value",
			event: domain.CreateUpdateTombstoneEvent{
				Activity: domain.Activity{Type: domain.ActivityCreate},
				Entity:   domain.Entity{Type: domain.EntityTypeDigitalMedia, Value: json.RawMessage(`["not","a","record"]`)},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := &stubFetcher{img: solidImage(4, 4)}
			p := newTestProcessor(t, fetcher, &memorySink{}, &capturePublisher{}, time.Now())

			_, err := p.Handle(context.Background(), tc.event)
			if !errors.Is(err, ErrInvalidEvent) {
				t.Fatalf("expected invalid event error, got %v", err)
			}
			if fetcher.calls != 0 {
				t.Fatalf("expected no fetch, got %d", fetcher.calls)
			}
		})
	}
}

func TestHandleFetchFailure(t *testing.T) {
	sink := &memorySink{}
	publisher := &capturePublisher{}
	p := newTestProcessor(t, &stubFetcher{err: errors.New("connection refused")}, sink, publisher, time.Now())

	_, err := p.Handle(context.Background(), testEvent(t, domain.ActivityCreate, domain.EntityTypeDigitalMedia, testRecord()))
	if !errors.Is(err, ErrImageRetrieval) {
		t.Fatalf("expected image retrieval error, got %v", err)
	}
	if KindOf(err) != KindImageRetrieval {
		t.Fatalf("expected kind image_retrieval, got %s", KindOf(err))
	}
	if sink.calls != 0 || len(publisher.events) != 0 {
		t.Fatal("expected no storage or publish after fetch failure")
	}
}

func TestHandleStorageFailureSkipsPublish(t *testing.T) {
	publisher := &capturePublisher{}
	sink := &memorySink{err: errors.New("bucket unavailable")}
	p := newTestProcessor(t, &stubFetcher{img: solidImage(32, 16)}, sink, publisher, time.Now())

	_, err := p.Handle(context.Background(), testEvent(t, domain.ActivityCreate, domain.EntityTypeDigitalMedia, testRecord()))
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(publisher.events) != 0 {
		t.Fatalf("expected publisher not invoked, got %d events", len(publisher.events))
	}

	var perr *Error
	if !errors.As(err, &perr) || perr.RecordID != testRecordID {
		t.Fatalf("expected record id on error, got %v", err)
	}
}

func TestHandlePublishFailureKeepsStoredObject(t *testing.T) {
	sink := &memorySink{}
	p := newTestProcessor(t, &stubFetcher{img: solidImage(32, 16)}, sink, &capturePublisher{err: errors.New("broker down")}, time.Now())

	_, err := p.Handle(context.Background(), testEvent(t, domain.ActivityCreate, domain.EntityTypeDigitalMedia, testRecord()))
	if !errors.Is(err, ErrRepublish) {
		t.Fatalf("expected republish error, got %v", err)
	}
	if len(sink.objects) != 1 {
		t.Fatalf("expected stored object to remain, got %d", len(sink.objects))
	}
}

func TestHandleDoesNotMutateEvent(t *testing.T) {
	event := testEvent(t, domain.ActivityCreate, domain.EntityTypeDigitalMedia, testRecord())
	before := append(json.RawMessage(nil), event.Entity.Value...)

	p := newTestProcessor(t, &stubFetcher{img: solidImage(8, 8)}, &memorySink{}, &capturePublisher{}, time.Now())
	for i := 0; i < 2; i++ {
		result, err := p.Handle(context.Background(), event)
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if len(result.Record.Derivatives) != 1 {
			t.Fatalf("run %d: expected one derivative, got %d", i, len(result.Record.Derivatives))
		}
	}

	if !bytes.Equal(before, event.Entity.Value) {
		t.Fatal("expected event payload to be unchanged")
	}
}

func TestNewProcessorRejectsInvalidSettings(t *testing.T) {
	settings := testSettings()
	settings.MaxImageSize = 0

	if _, err := NewProcessor(settings, &stubFetcher{}, &memorySink{}, &capturePublisher{}); err == nil {
		t.Fatal("expected error for non-positive max image size")
	}
}
