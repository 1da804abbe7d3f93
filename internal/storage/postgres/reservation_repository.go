package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cimillas/ticket-processor/internal/domain"
	"github.com/jackc/pgx/v5"
)

// ReservationRepository stores holds. Cancelled reservations are soft
// deleted and invisible to every read.
type ReservationRepository struct {
	db conn
}

func NewReservationRepository(db conn) *ReservationRepository {
	return &ReservationRepository{db: db}
}

const reservationColumns = `id, ticket_type_id, quantity, status, expires_at, idempotency_key, created_at, updated_at`

func scanReservation(row pgx.Row) (domain.Reservation, error) {
	var res domain.Reservation
	var status string
	err := row.Scan(&res.ID, &res.TicketTypeID, &res.Quantity, &status, &res.ExpiresAt, &res.IdempotencyKey, &res.CreatedAt, &res.UpdatedAt)
	res.Status = domain.ReservationStatus(status)
	return res, err
}

func (r *ReservationRepository) SumActivePending(ctx context.Context, ticketTypeID string, now time.Time) (int, error) {
	const query = `
SELECT COALESCE(SUM(quantity), 0)
FROM reservations
WHERE ticket_type_id = $1
  AND status = 'pending'
  AND expires_at > $2
  AND deleted_at IS NULL`

	var total int
	if err := r.db.queryRow(ctx, query, ticketTypeID, now).Scan(&total); err != nil {
		if isInvalidUUID(err) {
			return 0, domain.ErrInvalidID
		}
		return 0, fmt.Errorf("sum active pending: %w", err)
	}
	return total, nil
}

func (r *ReservationRepository) CreateReservation(ctx context.Context, res domain.Reservation) error {
	const stmt = `
INSERT INTO reservations (id, ticket_type_id, quantity, status, expires_at, idempotency_key, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.exec(ctx, stmt,
		res.ID,
		res.TicketTypeID,
		res.Quantity,
		res.Status,
		res.ExpiresAt,
		res.IdempotencyKey,
		res.CreatedAt,
		res.UpdatedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return domain.ErrDuplicateKey
		case isForeignKeyViolation(err):
			return domain.ErrTicketTypeNotFound
		case isInvalidUUID(err):
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create reservation: %w", err)
	}
	return nil
}

func (r *ReservationRepository) GetReservation(ctx context.Context, id string) (domain.Reservation, error) {
	const query = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1 AND deleted_at IS NULL`
	return r.get(ctx, query, id)
}

func (r *ReservationRepository) GetReservationForUpdate(ctx context.Context, id string) (domain.Reservation, error) {
	const query = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	return r.get(ctx, query, id)
}

// GetReservationByIdempotencyKey backs replays once the idempotency guard has
// forgotten the key.
func (r *ReservationRepository) GetReservationByIdempotencyKey(ctx context.Context, key string) (domain.Reservation, error) {
	const query = `SELECT ` + reservationColumns + ` FROM reservations WHERE idempotency_key = $1 AND deleted_at IS NULL`
	return r.get(ctx, query, key)
}

func (r *ReservationRepository) get(ctx context.Context, query, id string) (domain.Reservation, error) {
	res, err := scanReservation(r.db.queryRow(ctx, query, id))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Reservation{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("get reservation: %w", err)
	}
	return res, nil
}

// TransitionReservation changes status only while the row is still in from.
func (r *ReservationRepository) TransitionReservation(ctx context.Context, id string, from, to domain.ReservationStatus, expiresAt, at time.Time) error {
	const stmt = `
UPDATE reservations
SET status = $3, expires_at = $4, updated_at = $5
WHERE id = $1 AND status = $2 AND deleted_at IS NULL`

	tag, err := r.db.exec(ctx, stmt, id, from, to, expiresAt, at)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("transition reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetReservation(ctx, id); err != nil {
			return err
		}
		return domain.ErrReservationNotPending
	}
	return nil
}

// DeleteReservation soft deletes the row while it still has the expected
// status. A row that changed status in between yields ErrConcurrencyConflict.
func (r *ReservationRepository) DeleteReservation(ctx context.Context, id string, expected domain.ReservationStatus, at time.Time) error {
	const stmt = `
UPDATE reservations
SET status = 'cancelled', deleted_at = $3, updated_at = $3
WHERE id = $1 AND status = $2 AND deleted_at IS NULL`

	tag, err := r.db.exec(ctx, stmt, id, expected, at)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("delete reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetReservation(ctx, id); err != nil {
			return err
		}
		return domain.ErrConcurrencyConflict
	}
	return nil
}
