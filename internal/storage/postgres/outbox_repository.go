package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cimillas/ticket-processor/internal/domain"
	"github.com/cimillas/ticket-processor/internal/outbox"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxOutboxAttempts = 10

// OutboxRepository writes reservation events in the caller's transaction and
// hands them to the outbox processor.
type OutboxRepository struct {
	db     conn
	topic  string
	tracer trace.Tracer
}

func NewOutboxRepository(db conn, topic string) *OutboxRepository {
	return &OutboxRepository{db: db, topic: topic, tracer: otel.Tracer("postgres/outbox_repository")}
}

func (r *OutboxRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.db.pool, fn)
}

func (r *OutboxRepository) RecordReservationEvent(ctx context.Context, ev domain.ReservationEvent) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.RecordReservationEvent")
	defer span.End()
	span.SetAttributes(
		attribute.String("aggregate_id", ev.ReservationID),
		attribute.String("event_type", ev.Type),
	)

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode reservation event: %w", err)
	}

	const stmt = `
INSERT INTO outbox (aggregate_type, aggregate_id, event_type, payload, topic)
VALUES ('reservation', $1, $2, $3, $4)`
	if _, err := r.db.exec(ctx, stmt, ev.ReservationID, ev.Type, payload, r.topic); err != nil {
		span.RecordError(err)
		return fmt.Errorf("record reservation event: %w", err)
	}
	return nil
}

func (r *OutboxRepository) FetchUnpublished(ctx context.Context, limit int) ([]outbox.Message, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.FetchUnpublished")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", limit))

	const query = `
SELECT id, topic, aggregate_id, event_type, payload, attempts
FROM outbox
WHERE published_at IS NULL AND attempts < $2
ORDER BY id ASC
LIMIT $1
FOR UPDATE SKIP LOCKED`

	rows, err := r.db.query(ctx, query, limit, maxOutboxAttempts)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query unpublished events: %w", err)
	}
	defer rows.Close()

	var msgs []outbox.Message
	for rows.Next() {
		var m outbox.Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &m.EventType, &m.Payload, &m.Attempts); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		msgs = append(msgs, m)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", rows.Err())
	}
	span.SetAttributes(attribute.Int("result_count", len(msgs)))
	return msgs, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id int64) error {
	const stmt = `UPDATE outbox SET published_at = NOW(), last_error = NULL WHERE id = $1`
	if _, err := r.db.exec(ctx, stmt, id); err != nil {
		return fmt.Errorf("mark event published: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	const stmt = `UPDATE outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`
	if _, err := r.db.exec(ctx, stmt, id, reason); err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	return nil
}
