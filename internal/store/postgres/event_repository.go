package postgres

import (
	"context"

	"malricpharma/internal/domain/event"

	"github.com/jackc/pgx/v5"
)

// eventRepository is the callback inbox on Postgres.
type eventRepository struct {
	db querier
}

const eventColumns = `id, provider, external_id, payload, processing_status, attempts, last_error,
	received_at, processed_at`

// Save inserts or updates the event by id.
func (r *eventRepository) Save(ctx context.Context, e *event.Event) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO payment_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
		    external_id = EXCLUDED.external_id,
		    processing_status = EXCLUDED.processing_status,
		    attempts = EXCLUDED.attempts,
		    last_error = EXCLUDED.last_error,
		    processed_at = EXCLUDED.processed_at`,
		e.ID, e.Provider, e.ExternalID, string(e.Payload), e.ProcessingStatus, e.Attempts, e.LastError,
		e.ReceivedAt, e.ProcessedAt)
	return mapErr(err)
}

func (r *eventRepository) FindByID(ctx context.Context, id string) (*event.Event, error) {
	e, err := scanEvent(r.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM payment_events WHERE id = $1`, id))
	return e, mapErr(err)
}

// FindRetryable returns open events that have not exhausted their attempts, oldest first.
func (r *eventRepository) FindRetryable(ctx context.Context, maxAttempts, limit int) ([]*event.Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM payment_events
		WHERE processing_status IN ('pending', 'failed') AND attempts < $1
		ORDER BY received_at ASC
		LIMIT $2`, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEvent(row pgx.Row) (*event.Event, error) {
	var e event.Event
	var payload string
	err := row.Scan(&e.ID, &e.Provider, &e.ExternalID, &payload, &e.ProcessingStatus, &e.Attempts, &e.LastError,
		&e.ReceivedAt, &e.ProcessedAt)
	if err != nil {
		return nil, err
	}
	e.Payload = []byte(payload)
	return &e, nil
}
