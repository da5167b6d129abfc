package store

import (
	"context"
	"errors"

	"github.com/dunamismax/media-derivatives/internal/domain"
)

var ErrOutcomeNotFound = errors.New("outcome not found")

// OutcomeStore keeps the latest outcome per inbound message id. Recording an
// outcome for a known message replaces the previous attempt.
type OutcomeStore interface {
	Record(ctx context.Context, outcome domain.Outcome) error
	Get(ctx context.Context, messageID string) (domain.Outcome, error)
}
