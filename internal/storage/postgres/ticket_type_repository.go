package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cimillas/ticket-processor/internal/domain"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// holdLockNamespace is the first key of the two-key advisory lock taken per
// ticket type while a hold is being created.
const holdLockNamespace = 7301

// TicketTypeRepository is the inventory ledger.
type TicketTypeRepository struct {
	db     conn
	tracer trace.Tracer
}

func NewTicketTypeRepository(db conn) *TicketTypeRepository {
	return &TicketTypeRepository{db: db, tracer: otel.Tracer("postgres/ticket_type_repository")}
}

const ticketTypeColumns = `id, event_id, name, price, capacity, sold, version`

func scanTicketType(row pgx.Row) (domain.TicketType, error) {
	var tt domain.TicketType
	err := row.Scan(&tt.ID, &tt.EventID, &tt.Name, &tt.Price, &tt.Capacity, &tt.Sold, &tt.Version)
	return tt, err
}

func (r *TicketTypeRepository) GetTicketType(ctx context.Context, id string) (domain.TicketType, error) {
	const query = `SELECT ` + ticketTypeColumns + ` FROM ticket_types WHERE id = $1`
	tt, err := scanTicketType(r.db.queryRow(ctx, query, id))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.TicketType{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TicketType{}, domain.ErrTicketTypeNotFound
		}
		return domain.TicketType{}, fmt.Errorf("get ticket type: %w", err)
	}
	return tt, nil
}

func (r *TicketTypeRepository) ListTicketTypesByEvent(ctx context.Context, eventID string) ([]domain.TicketType, error) {
	const existsQuery = `SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`
	var exists bool
	if err := r.db.queryRow(ctx, existsQuery, eventID).Scan(&exists); err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("check event: %w", err)
	}
	if !exists {
		return nil, domain.ErrEventNotFound
	}

	const query = `
SELECT ` + ticketTypeColumns + `
FROM ticket_types
WHERE event_id = $1
ORDER BY created_at ASC, name ASC`
	rows, err := r.db.query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("list ticket types: %w", err)
	}
	defer rows.Close()

	var types []domain.TicketType
	for rows.Next() {
		tt, err := scanTicketType(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket type: %w", err)
		}
		types = append(types, tt)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate ticket types: %w", rows.Err())
	}
	return types, nil
}

// AdjustSold is a compare-and-swap on the version column. It never blocks on
// a competing writer: a stale version fails with ErrConcurrencyConflict.
func (r *TicketTypeRepository) AdjustSold(ctx context.Context, id string, delta int, expectedVersion int64) (domain.TicketType, error) {
	ctx, span := r.tracer.Start(ctx, "TicketTypeRepository.AdjustSold")
	defer span.End()
	span.SetAttributes(
		attribute.String("ticket_type_id", id),
		attribute.Int("delta", delta),
		attribute.Int64("expected_version", expectedVersion),
	)

	const stmt = `
UPDATE ticket_types
SET sold = sold + $2, version = version + 1
WHERE id = $1
  AND version = $3
  AND sold + $2 BETWEEN 0 AND capacity
RETURNING ` + ticketTypeColumns

	tt, err := scanTicketType(r.db.queryRow(ctx, stmt, id, delta, expectedVersion))
	if err == nil {
		return tt, nil
	}
	span.RecordError(err)
	switch {
	case isInvalidUUID(err):
		return domain.TicketType{}, domain.ErrInvalidID
	case isCheckViolation(err):
		return domain.TicketType{}, domain.ErrCapacityExceeded
	case !errors.Is(err, pgx.ErrNoRows):
		return domain.TicketType{}, fmt.Errorf("adjust sold: %w", err)
	}

	current, err := r.GetTicketType(ctx, id)
	if err != nil {
		return domain.TicketType{}, err
	}
	switch {
	case current.Version != expectedVersion:
		return domain.TicketType{}, domain.ErrConcurrencyConflict
	case current.Sold+delta > current.Capacity:
		return domain.TicketType{}, domain.ErrCapacityExceeded
	case current.Sold+delta < 0:
		return domain.TicketType{}, domain.ErrSoldUnderflow
	default:
		// The row moved between the update and the re-read.
		return domain.TicketType{}, domain.ErrConcurrencyConflict
	}
}

// LockTicketTypeHolds takes a transaction-scoped advisory lock so concurrent
// hold creation for one ticket type is serialized. Other ticket types and
// the ledger row itself are not locked.
func (r *TicketTypeRepository) LockTicketTypeHolds(ctx context.Context, ticketTypeID string) error {
	if txFromContext(ctx) == nil {
		return errors.New("lock ticket type holds: no transaction in context")
	}
	const stmt = `SELECT pg_advisory_xact_lock($1, hashtext($2))`
	if _, err := r.db.exec(ctx, stmt, holdLockNamespace, ticketTypeID); err != nil {
		return fmt.Errorf("lock ticket type holds: %w", err)
	}
	return nil
}
