package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dunamismax/media-derivatives/internal/domain"
	_ "github.com/lib/pq"
)

const outcomeSchemaSQL = `
CREATE TABLE IF NOT EXISTS derivative_outcomes (
	message_id TEXT PRIMARY KEY,
	record_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL DEFAULT '',
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	attempt INTEGER NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS derivative_outcomes_record_id_idx ON derivative_outcomes (record_id);
`

const upsertOutcomeSQL = `
INSERT INTO derivative_outcomes
	(message_id, record_id, status, reason, error_kind, object_key, width, height, attempt, duration_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (message_id) DO UPDATE SET
	record_id = EXCLUDED.record_id,
	status = EXCLUDED.status,
	reason = EXCLUDED.reason,
	error_kind = EXCLUDED.error_kind,
	object_key = EXCLUDED.object_key,
	width = EXCLUDED.width,
	height = EXCLUDED.height,
	attempt = EXCLUDED.attempt,
	duration_ms = EXCLUDED.duration_ms,
	created_at = EXCLUDED.created_at
`

type PostgresOutcomeStore struct {
	db *sql.DB
}

func NewPostgresOutcomeStore(ctx context.Context, dsn string) (*PostgresOutcomeStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresOutcomeStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresOutcomeStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, outcomeSchemaSQL); err != nil {
		return fmt.Errorf("ensure derivative_outcomes schema: %w", err)
	}
	return nil
}

func (s *PostgresOutcomeStore) Close() error {
	return s.db.Close()
}

func (s *PostgresOutcomeStore) Record(ctx context.Context, o domain.Outcome) error {
	_, err := s.db.ExecContext(ctx, upsertOutcomeSQL,
		o.MessageID,
		o.RecordID,
		o.Status,
		o.Reason,
		o.ErrorKind,
		o.ObjectKey,
		o.Width,
		o.Height,
		o.Attempt,
		o.DurationMS,
		o.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert outcome %s: %w", o.MessageID, err)
	}
	return nil
}

func (s *PostgresOutcomeStore) Get(ctx context.Context, messageID string) (domain.Outcome, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT message_id, record_id, status, reason, error_kind, object_key, width, height, attempt, duration_ms, created_at
		 FROM derivative_outcomes
		 WHERE message_id = $1`,
		messageID,
	)

	var o domain.Outcome
	if err := row.Scan(
		&o.MessageID,
		&o.RecordID,
		&o.Status,
		&o.Reason,
		&o.ErrorKind,
		&o.ObjectKey,
		&o.Width,
		&o.Height,
		&o.Attempt,
		&o.DurationMS,
		&o.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Outcome{}, ErrOutcomeNotFound
		}
		return domain.Outcome{}, fmt.Errorf("query outcome %s: %w", messageID, err)
	}
	return o, nil
}
