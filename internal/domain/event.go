package domain

import (
	"encoding/json"
	"time"
)

// ActivityType is the provenance activity carried by an inbound event.
type ActivityType string

const (
	ActivityCreate    ActivityType = "ods:Create"
	ActivityUpdate    ActivityType = "ods:Update"
	ActivityTombstone ActivityType = "ods:Tombstone"
)

// CreateUpdateTombstoneEvent is the provenance envelope published upstream
// whenever a digital object is created, updated or tombstoned.
type CreateUpdateTombstoneEvent struct {
	ID       string            `json:"@id,omitempty"`
	Type     string            `json:"@type,omitempty"`
	Activity Activity          `json:"prov:Activity"`
	Entity   Entity            `json:"prov:Entity"`
	Agents   []json.RawMessage `json:"ods:hasAgents,omitempty"`
}

type Activity struct {
	ID      string       `json:"@id,omitempty"`
	Type    ActivityType `json:"@type"`
	EndedAt string       `json:"prov:endedAtTime,omitempty"`
	Used    string       `json:"prov:used,omitempty"`
	Comment string       `json:"rdfs:comment,omitempty"`
}

type Entity struct {
	ID             string          `json:"@id,omitempty"`
	Type           string          `json:"@type"`
	Value          json.RawMessage `json:"prov:value,omitempty"`
	WasGeneratedBy string          `json:"prov:wasGeneratedBy,omitempty"`
}

// DigitalMediaEvent announces an enriched media record to downstream
// consumers.
type DigitalMediaEvent struct {
	Digests    []string     `json:"digests"`
	Enrichment MediaWrapper `json:"enrichment"`
	IsUpdate   bool         `json:"isUpdate"`
}

// MediaWrapper pairs a record with its type tag. Original is always null
// for records enriched by this service.
type MediaWrapper struct {
	Type     string          `json:"type"`
	Subject  MediaRecord     `json:"subject"`
	Original json.RawMessage `json:"original"`
}

// NewDigitalMediaEvent wraps record for republication as a fresh, non-update
// event with no digests.
func NewDigitalMediaEvent(record MediaRecord) DigitalMediaEvent {
	return DigitalMediaEvent{
		Digests: []string{},
		Enrichment: MediaWrapper{
			Type:     record.Type,
			Subject:  record,
			Original: json.RawMessage("null"),
		},
	}
}

const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Outcome is the audit entry written for every handled inbound message.
type Outcome struct {
	MessageID  string    `json:"message_id"`
	RecordID   string    `json:"record_id,omitempty"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	ObjectKey  string    `json:"object_key,omitempty"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	Attempt    int       `json:"attempt"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
