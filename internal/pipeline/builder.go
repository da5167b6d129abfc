package pipeline

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/media-derivatives/internal/domain"
	"github.com/dunamismax/media-derivatives/internal/id"
)

const (
	DefaultServiceName  = "DiSSCo Media Derivative Service"
	DefaultServicePID   = "https://doi.org/10.5281/zenodo.17935570"
	DefaultMaxImageSize = 2048.0
	ServiceRoleName     = "media-derivative-service"

	derivativePathSuffix = "/derivative"
)

// Settings is the service identity and the limits applied to every event.
type Settings struct {
	MaxImageSize     float64
	APIBaseURL       string
	IdentifierPrefix string
	ServiceName      string
	ServicePID       string
	JPEGQuality      int
}

func (s Settings) Validate() error {
	if !(s.MaxImageSize > 0) {
		return errors.New("max image size must be positive")
	}
	if strings.TrimSpace(s.APIBaseURL) == "" {
		return errors.New("api base url is required")
	}
	if strings.TrimSpace(s.IdentifierPrefix) == "" {
		return errors.New("identifier prefix is required")
	}
	if strings.TrimSpace(s.ServiceName) == "" {
		return errors.New("service name is required")
	}
	return nil
}

// BuildDerivative describes a derivative of record with the given pixel
// dimensions. at is used for both the created and modified instants.
func BuildDerivative(record domain.MediaRecord, width, height int, at time.Time, s Settings) domain.Derivative {
	at = at.UTC()
	return domain.Derivative{
		AccessURI:                 DerivativeAccessURI(s.APIBaseURL, record.ID),
		Title:                     "Derivative of " + record.ID,
		Description:               derivativeDescription(s.MaxImageSize),
		Width:                     width,
		Height:                    height,
		Created:                   at,
		Modified:                  at,
		Format:                    domain.DerivativeFormat,
		Rights:                    record.Rights,
		MediaType:                 record.MediaType,
		Subtype:                   record.Subtype,
		SubtypeLiteral:            record.SubtypeLiteral,
		SubjectOrientation:        record.SubjectOrientation,
		SubjectOrientationLiteral: record.SubjectOrientationLiteral,
		Agents: []domain.Agent{
			NewMachineAgent(s.ServiceName, s.ServicePID, ServiceRoleName, domain.IdentifierDOI),
		},
	}
}

// DerivativeAccessURI is where the API serves the derivative of recordID.
func DerivativeAccessURI(apiBaseURL, recordID string) string {
	return strings.TrimRight(apiBaseURL, "/") + "/" + id.Handle(recordID) + derivativePathSuffix
}

// NewMachineAgent describes a software agent acting in role. The identifier
// list is only populated when pid is set.
func NewMachineAgent(name, pid, role string, kind domain.IdentifierKind) domain.Agent {
	agent := domain.Agent{
		ID:         pid,
		Type:       domain.AgentTypeSoftwareApplication,
		Identifier: pid,
		Name:       name,
		Roles: []domain.Role{
			{Type: domain.RoleType, RoleName: role},
		},
	}
	if pid == "" {
		return agent
	}

	agent.Identifiers = []domain.Identifier{
		{
			ID:               pid,
			Type:             domain.IdentifierType,
			Title:            kind.Title(),
			IdentifierType:   string(kind),
			Value:            pid,
			IsPartOfLabel:    false,
			IdentifierStatus: domain.IdentifierStatusPreferred,
			GupriLevel:       domain.GupriLevelFDOCompliant,
		},
	}
	return agent
}

func derivativeDescription(maxSide float64) string {
	return "Image Derivative created by DiSSCo after creation of the Digital Media, maximum size of " +
		formatPixels(maxSide) + " pixels on the longest side."
}

// formatPixels always keeps one decimal place for whole numbers (2048.0).
func formatPixels(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
