package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	MediaFormatJSON        = "application/json"
	DerivativeFormat       = "image/jpeg"
	TimestampLayout        = "2006-01-02T15:04:05.000Z07:00"
	EntityTypeDigitalMedia = "ods:DigitalMedia"
)

// MediaRecord is the upstream-owned digital media record. Members this
// service does not interpret are kept in Extra and written back unchanged.
type MediaRecord struct {
	ID                        string
	Type                      string
	AccessURI                 string
	Format                    string
	Rights                    string
	MediaType                 string
	Subtype                   string
	SubtypeLiteral            string
	SubjectOrientation        string
	SubjectOrientationLiteral string
	Width                     int
	Height                    int
	Derivatives               []Derivative
	Extra                     map[string]json.RawMessage
}

type mediaRecordJSON struct {
	ID                        string       `json:"@id,omitempty"`
	Type                      string       `json:"@type,omitempty"`
	AccessURI                 string       `json:"ac:accessURI,omitempty"`
	Format                    string       `json:"dcterms:format,omitempty"`
	Rights                    string       `json:"dcterms:rights,omitempty"`
	MediaType                 string       `json:"dcterms:type,omitempty"`
	Subtype                   string       `json:"ac:subtype,omitempty"`
	SubtypeLiteral            string       `json:"ac:subtypeLiteral,omitempty"`
	SubjectOrientation        string       `json:"ac:subjectOrientation,omitempty"`
	SubjectOrientationLiteral string       `json:"ac:subjectOrientationLiteral,omitempty"`
	Width                     int          `json:"exif:PixelXDimension,omitempty"`
	Height                    int          `json:"exif:PixelYDimension,omitempty"`
	Derivatives               []Derivative `json:"ods:hasMediaDerivatives,omitempty"`
}

var mediaRecordKeys = []string{
	"@id", "@type", "ac:accessURI", "dcterms:format", "dcterms:rights", "dcterms:type",
	"ac:subtype", "ac:subtypeLiteral", "ac:subjectOrientation", "ac:subjectOrientationLiteral",
	"exif:PixelXDimension", "exif:PixelYDimension", "ods:hasMediaDerivatives",
}

func (r *MediaRecord) UnmarshalJSON(data []byte) error {
	var known mediaRecordJSON
	extra, err := decodeWithExtra(data, &known, mediaRecordKeys)
	if err != nil {
		return fmt.Errorf("decode media record: %w", err)
	}
	*r = MediaRecord{
		ID:                        known.ID,
		Type:                      known.Type,
		AccessURI:                 known.AccessURI,
		Format:                    known.Format,
		Rights:                    known.Rights,
		MediaType:                 known.MediaType,
		Subtype:                   known.Subtype,
		SubtypeLiteral:            known.SubtypeLiteral,
		SubjectOrientation:        known.SubjectOrientation,
		SubjectOrientationLiteral: known.SubjectOrientationLiteral,
		Width:                     known.Width,
		Height:                    known.Height,
		Derivatives:               known.Derivatives,
		Extra:                     extra,
	}
	return nil
}

func (r MediaRecord) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(mediaRecordJSON{
		ID:                        r.ID,
		Type:                      r.Type,
		AccessURI:                 r.AccessURI,
		Format:                    r.Format,
		Rights:                    r.Rights,
		MediaType:                 r.MediaType,
		Subtype:                   r.Subtype,
		SubtypeLiteral:            r.SubtypeLiteral,
		SubjectOrientation:        r.SubjectOrientation,
		SubjectOrientationLiteral: r.SubjectOrientationLiteral,
		Width:                     r.Width,
		Height:                    r.Height,
		Derivatives:               r.Derivatives,
	}, r.Extra)
}

// WithDimensions returns a copy of r carrying the given pixel dimensions.
func (r MediaRecord) WithDimensions(width, height int) MediaRecord {
	out := r.clone()
	out.Width = width
	out.Height = height
	return out
}

// WithDerivative returns a copy of r with d appended to its derivatives.
// Existing entries are kept in order.
func (r MediaRecord) WithDerivative(d Derivative) MediaRecord {
	out := r.clone()
	derivatives := make([]Derivative, 0, len(r.Derivatives)+1)
	derivatives = append(derivatives, r.Derivatives...)
	out.Derivatives = append(derivatives, d)
	return out
}

func (r MediaRecord) clone() MediaRecord {
	out := r
	if r.Derivatives != nil {
		out.Derivatives = append([]Derivative(nil), r.Derivatives...)
	}
	if r.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Derivative describes a derived rendition of a media record.
type Derivative struct {
	AccessURI                 string
	Title                     string
	Description               string
	Width                     int
	Height                    int
	Created                   time.Time
	Modified                  time.Time
	Format                    string
	Rights                    string
	MediaType                 string
	Subtype                   string
	SubtypeLiteral            string
	SubjectOrientation        string
	SubjectOrientationLiteral string
	Agents                    []Agent
	Extra                     map[string]json.RawMessage
}

type derivativeJSON struct {
	AccessURI                 string     `json:"ac:accessURI,omitempty"`
	Title                     string     `json:"dcterms:title,omitempty"`
	Description               string     `json:"dcterms:description,omitempty"`
	Width                     int        `json:"exif:PixelXDimension,omitempty"`
	Height                    int        `json:"exif:PixelYDimension,omitempty"`
	Created                   *Timestamp `json:"dcterms:created,omitempty"`
	Modified                  *Timestamp `json:"dcterms:modified,omitempty"`
	Format                    string     `json:"dcterms:format,omitempty"`
	Rights                    string     `json:"dcterms:rights,omitempty"`
	MediaType                 string     `json:"dcterms:type,omitempty"`
	Subtype                   string     `json:"ac:subtype,omitempty"`
	SubtypeLiteral            string     `json:"ac:subtypeLiteral,omitempty"`
	SubjectOrientation        string     `json:"ac:subjectOrientation,omitempty"`
	SubjectOrientationLiteral string     `json:"ac:subjectOrientationLiteral,omitempty"`
	Agents                    []Agent    `json:"ods:hasAgents,omitempty"`
}

var derivativeKeys = []string{
	"ac:accessURI", "dcterms:title", "dcterms:description", "exif:PixelXDimension",
	"exif:PixelYDimension", "dcterms:created", "dcterms:modified", "dcterms:format",
	"dcterms:rights", "dcterms:type", "ac:subtype", "ac:subtypeLiteral",
	"ac:subjectOrientation", "ac:subjectOrientationLiteral", "ods:hasAgents",
}

func (d *Derivative) UnmarshalJSON(data []byte) error {
	var known derivativeJSON
	extra, err := decodeWithExtra(data, &known, derivativeKeys)
	if err != nil {
		return fmt.Errorf("decode media derivative: %w", err)
	}
	*d = Derivative{
		AccessURI:                 known.AccessURI,
		Title:                     known.Title,
		Description:               known.Description,
		Width:                     known.Width,
		Height:                    known.Height,
		Created:                   known.Created.Time(),
		Modified:                  known.Modified.Time(),
		Format:                    known.Format,
		Rights:                    known.Rights,
		MediaType:                 known.MediaType,
		Subtype:                   known.Subtype,
		SubtypeLiteral:            known.SubtypeLiteral,
		SubjectOrientation:        known.SubjectOrientation,
		SubjectOrientationLiteral: known.SubjectOrientationLiteral,
		Agents:                    known.Agents,
		Extra:                     extra,
	}
	return nil
}

func (d Derivative) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(derivativeJSON{
		AccessURI:                 d.AccessURI,
		Title:                     d.Title,
		Description:               d.Description,
		Width:                     d.Width,
		Height:                    d.Height,
		Created:                   newTimestamp(d.Created),
		Modified:                  newTimestamp(d.Modified),
		Format:                    d.Format,
		Rights:                    d.Rights,
		MediaType:                 d.MediaType,
		Subtype:                   d.Subtype,
		SubtypeLiteral:            d.SubtypeLiteral,
		SubjectOrientation:        d.SubjectOrientation,
		SubjectOrientationLiteral: d.SubjectOrientationLiteral,
		Agents:                    d.Agents,
	}, d.Extra)
}

// Timestamp encodes instants with millisecond precision and a zone offset.
type Timestamp time.Time

func newTimestamp(t time.Time) *Timestamp {
	if t.IsZero() {
		return nil
	}
	ts := Timestamp(t)
	return &ts
}

func (t *Timestamp) Time() time.Time {
	if t == nil {
		return time.Time{}
	}
	return time.Time(*t)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(TimestampLayout))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := time.Parse(TimestampLayout, raw)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", raw, err)
		}
	}
	*t = Timestamp(parsed)
	return nil
}

func decodeWithExtra(data []byte, known any, knownKeys []string) (map[string]json.RawMessage, error) {
	if err := json.Unmarshal(data, known); err != nil {
		return nil, err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, key := range knownKeys {
		delete(all, key)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

func encodeWithExtra(known any, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return json.Marshal(known)
	}

	body, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]json.RawMessage, len(extra)+16)
	for k, v := range extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}
