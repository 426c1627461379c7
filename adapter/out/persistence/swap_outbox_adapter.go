package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/out"
	"skillswap_server/pkg/snowflake"

	"github.com/jmoiron/sqlx"
)

// OutboxAdapter implements out.OutboxRepository. Events are appended inside
// the command transaction; the dispatcher fetches in id order, which keeps
// per-aggregate FIFO because snowflake ids are time-ordered.
type OutboxAdapter struct {
	ext sqlx.ExtContext
}

var _ out.OutboxRepository = (*OutboxAdapter)(nil)

func NewOutboxAdapter(ext sqlx.ExtContext) *OutboxAdapter {
	return &OutboxAdapter{ext: ext}
}

func (r *OutboxAdapter) Append(ctx context.Context, event *domain.OutboxEvent) error {
	if event.ID == 0 {
		event.ID = snowflake.ID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Status == "" {
		event.Status = domain.OutboxPending
	}

	query := `
		INSERT INTO outbox_events (
			id, event_type, aggregate_id, payload, status, attempts, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.ext.ExecContext(ctx, query,
		event.ID, event.EventType, event.AggregateID, []byte(event.Payload),
		event.Status, event.Attempts, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}

func (r *OutboxAdapter) AppendBatch(ctx context.Context, events []*domain.OutboxEvent) error {
	for _, event := range events {
		if err := r.Append(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (r *OutboxAdapter) FetchPending(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	query := `
		SELECT id, event_type, aggregate_id, payload, status, attempts,
		       last_error, dispatched_at, created_at
		FROM outbox_events
		WHERE status = 'pending'
		ORDER BY id ASC
		LIMIT $1`

	var rows []outboxRow
	if err := sqlx.SelectContext(ctx, r.ext, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("fetch pending outbox events: %w", err)
	}

	events := make([]*domain.OutboxEvent, 0, len(rows))
	for i := range rows {
		events = append(events, rows[i].toDomain())
	}
	return events, nil
}

func (r *OutboxAdapter) MarkDispatched(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE outbox_events SET status = 'dispatched', dispatched_at = $2, attempts = attempts + 1
		WHERE id = $1`

	res, err := r.ext.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("mark outbox dispatched: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *OutboxAdapter) MarkFailed(ctx context.Context, id int64, cause string) error {
	query := `
		UPDATE outbox_events SET attempts = attempts + 1, last_error = $2
		WHERE id = $1`

	res, err := r.ext.ExecContext(ctx, query, id, cause)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type outboxRow struct {
	ID           int64          `db:"id"`
	EventType    string         `db:"event_type"`
	AggregateID  int64          `db:"aggregate_id"`
	Payload      []byte         `db:"payload"`
	Status       string         `db:"status"`
	Attempts     int            `db:"attempts"`
	LastError    sql.NullString `db:"last_error"`
	DispatchedAt sql.NullTime   `db:"dispatched_at"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (row *outboxRow) toDomain() *domain.OutboxEvent {
	event := &domain.OutboxEvent{
		ID:          row.ID,
		EventType:   domain.EventType(row.EventType),
		AggregateID: row.AggregateID,
		Payload:     row.Payload,
		Status:      domain.OutboxStatus(row.Status),
		Attempts:    row.Attempts,
		CreatedAt:   row.CreatedAt,
	}
	if row.LastError.Valid {
		event.LastError = &row.LastError.String
	}
	if row.DispatchedAt.Valid {
		event.DispatchedAt = &row.DispatchedAt.Time
	}
	return event
}
