package store

import (
	"context"
	"fmt"
	"strings"
)

const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Open returns the outcome store for backend along with its close function.
// The "none" backend yields a nil store.
func Open(ctx context.Context, backend, dsn string) (OutcomeStore, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendNone:
		return nil, noop, nil
	case BackendMemory:
		return NewMemoryOutcomeStore(DefaultMemoryCapacity), noop, nil
	case BackendPostgres:
		pg, err := NewPostgresOutcomeStore(ctx, dsn)
		if err != nil {
			return nil, noop, err
		}
		return pg, pg.Close, nil
	default:
		return nil, noop, fmt.Errorf("unsupported outcome store: %s", backend)
	}
}
