package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cimillas/ticket-processor/internal/domain"
	"github.com/jackc/pgx/v5"
)

type PurchaseRepository struct {
	db conn
}

func NewPurchaseRepository(db conn) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

func (r *PurchaseRepository) CreatePurchase(ctx context.Context, p domain.Purchase) error {
	const stmt = `
INSERT INTO purchases (id, reservation_id, ticket_type_id, quantity, unit_price, total_amount, currency, confirmation_token, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.exec(ctx, stmt,
		p.ID,
		p.ReservationID,
		p.TicketTypeID,
		p.Quantity,
		p.UnitPrice,
		p.TotalAmount,
		p.Currency,
		p.ConfirmationToken,
		p.CreatedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return domain.ErrReservationNotPending
		case isForeignKeyViolation(err):
			return domain.ErrReservationNotFound
		case isInvalidUUID(err):
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create purchase: %w", err)
	}
	return nil
}

// GetPurchaseByReservation returns the purchase recorded for a reservation,
// or nil when there is none.
func (r *PurchaseRepository) GetPurchaseByReservation(ctx context.Context, reservationID string) (*domain.Purchase, error) {
	const query = `
SELECT id, reservation_id, ticket_type_id, quantity, unit_price, total_amount, currency, confirmation_token, created_at
FROM purchases
WHERE reservation_id = $1`

	var p domain.Purchase
	err := r.db.queryRow(ctx, query, reservationID).Scan(
		&p.ID, &p.ReservationID, &p.TicketTypeID, &p.Quantity, &p.UnitPrice,
		&p.TotalAmount, &p.Currency, &p.ConfirmationToken, &p.CreatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	return &p, nil
}
