package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"speech-preroll/internal/preroll"
)

const schema = `
CREATE TABLE IF NOT EXISTS preroll_events (
	id          BIGSERIAL PRIMARY KEY,
	kind        TEXT        NOT NULL,
	capture_id  TEXT        NOT NULL DEFAULT '',
	samples     INTEGER     NOT NULL DEFAULT 0,
	occurred_at TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS preroll_events_occurred_at_idx ON preroll_events (occurred_at);
`

// EventRecord is a stored preroll event. Only metadata is kept, never audio.
type EventRecord struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	CaptureID  string    `json:"captureId,omitempty"`
	Samples    int       `json:"samples"`
	OccurredAt time.Time `json:"occurredAt"`
}

// EventStore is the preroll_events table.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create preroll_events: %w", err)
	}
	return nil
}

func (s *EventStore) Insert(ctx context.Context, e preroll.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preroll_events (kind, capture_id, samples, occurred_at) VALUES ($1, $2, $3, $4)`,
		string(e.Kind), e.CaptureID, e.Samples, e.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert preroll event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *EventStore) Recent(ctx context.Context, limit int) ([]EventRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, capture_id, samples, occurred_at FROM preroll_events ORDER BY occurred_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query preroll events: %w", err)
	}
	defer rows.Close()

	records := make([]EventRecord, 0, limit)
	for rows.Next() {
		var r EventRecord
		if err := rows.Scan(&r.ID, &r.Kind, &r.CaptureID, &r.Samples, &r.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan preroll event: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// PruneBefore deletes events that occurred before cutoff.
func (s *EventStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM preroll_events WHERE occurred_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune preroll events: %w", err)
	}
	return res.RowsAffected()
}
