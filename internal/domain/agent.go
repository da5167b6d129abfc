package domain

import (
	"bytes"
	"encoding/json"
)

const (
	AgentTypeSoftwareApplication = "schema:SoftwareApplication"
	RoleType                     = "schema:Role"
	IdentifierType               = "ods:Identifier"
	GupriLevelFDOCompliant       = "GloballyUniqueStablePersistentResolvableFDOCompliant"
	IdentifierStatusPreferred    = "Preferred"
)

// IdentifierKind names the persistent identifier scheme of an agent.
type IdentifierKind string

const (
	IdentifierDOI    IdentifierKind = "DOI"
	IdentifierHandle IdentifierKind = "Handle"
)

// Title is the dcterms:title used for identifiers of this kind.
func (k IdentifierKind) Title() string {
	switch k {
	case IdentifierHandle:
		return "HANDLE"
	default:
		return string(IdentifierDOI)
	}
}

// Agent is a party acting on a record. An agent decoded from JSON encodes
// back to exactly the bytes it was read from, so agents owned by other
// systems pass through untouched; only agents built in code are rendered
// from the fields.
type Agent struct {
	ID          string       `json:"@id,omitempty"`
	Type        string       `json:"@type"`
	Identifier  string       `json:"schema:identifier,omitempty"`
	Name        string       `json:"schema:name,omitempty"`
	Roles       []Role       `json:"ods:hasRoles,omitempty"`
	Identifiers []Identifier `json:"ods:hasIdentifiers,omitempty"`

	raw json.RawMessage
}

type agentFields Agent

func (a *Agent) UnmarshalJSON(data []byte) error {
	var fields agentFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*a = Agent(fields)
	a.raw = bytes.Clone(data)
	return nil
}

func (a Agent) MarshalJSON() ([]byte, error) {
	if a.raw != nil {
		return a.raw, nil
	}
	return json.Marshal(agentFields(a))
}

type Role struct {
	Type     string `json:"@type"`
	RoleName string `json:"schema:roleName"`
}

type Identifier struct {
	ID               string `json:"@id,omitempty"`
	Type             string `json:"@type"`
	Title            string `json:"dcterms:title,omitempty"`
	IdentifierType   string `json:"dcterms:type,omitempty"`
	Value            string `json:"dcterms:identifier,omitempty"`
	IsPartOfLabel    bool   `json:"ods:isPartOfLabel"`
	IdentifierStatus string `json:"ods:identifierStatus,omitempty"`
	GupriLevel       string `json:"ods:gupriLevel,omitempty"`
}
