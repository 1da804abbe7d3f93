package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cimillas/ticket-processor/internal/clock"
	"github.com/cimillas/ticket-processor/internal/domain"
	"github.com/cimillas/ticket-processor/internal/logx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// PurchaseService turns a pending hold into a paid, confirmed reservation.
type PurchaseService struct {
	store   FinalizerStore
	gateway PaymentGateway
	clock   clock.Clock
	cfg     settings

	tracer trace.Tracer
}

func NewPurchaseService(store FinalizerStore, gateway PaymentGateway, clk clock.Clock, opts ...Option) *PurchaseService {
	return &PurchaseService{
		store:   store,
		gateway: gateway,
		clock:   clk,
		cfg:     newSettings(opts),
		tracer:  otel.Tracer("app/purchase_service"),
	}
}

type ConfirmInput struct {
	ReservationID string
	PaymentToken  string
	Currency      string
}

type ConfirmResult struct {
	Reservation domain.Reservation
	Purchase    domain.Purchase
}

func (s *PurchaseService) Confirm(ctx context.Context, in ConfirmInput) (ConfirmResult, error) {
	ctx, span := s.tracer.Start(ctx, "PurchaseService.Confirm")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", in.ReservationID))

	res, err := s.confirm(ctx, in)
	s.cfg.observer.Observe("confirm", outcomeOf(err))
	if err != nil {
		span.RecordError(err)
		if !isBusiness(err) || errors.Is(err, domain.ErrCapacityExceeded) {
			logx.Error(ctx, s.cfg.logger, "confirm reservation failed",
				zap.String("reservation_id", in.ReservationID),
				zap.Error(err),
			)
		}
		return ConfirmResult{}, err
	}
	logx.Info(ctx, s.cfg.logger, "reservation confirmed",
		zap.String("reservation_id", res.Reservation.ID),
		zap.String("purchase_id", res.Purchase.ID),
		zap.Int64("total_amount", res.Purchase.TotalAmount),
	)
	return res, nil
}

func (s *PurchaseService) confirm(ctx context.Context, in ConfirmInput) (ConfirmResult, error) {
	if strings.TrimSpace(in.PaymentToken) == "" {
		return ConfirmResult{}, domain.ErrPaymentTokenRequired
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		return ConfirmResult{}, domain.ErrCurrencyRequired
	}

	r, err := s.store.GetReservation(ctx, in.ReservationID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if r.Status != domain.ReservationStatusPending {
		return ConfirmResult{}, domain.ErrReservationNotPending
	}
	if r.IsLapsed(s.clock.Now()) {
		if _, err := settleExpiry(ctx, s.store, r, s.clock.Now()); err != nil {
			return ConfirmResult{}, err
		}
		return ConfirmResult{}, domain.ErrReservationExpired
	}

	tt, err := s.store.GetTicketType(ctx, r.TicketTypeID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if tt.Sold+r.Quantity > tt.Capacity {
		return ConfirmResult{}, domain.ErrCapacityExceeded
	}

	total := tt.Price * int64(r.Quantity)
	confirmation, err := s.gateway.Charge(ctx, domain.ChargeRequest{
		Amount:         total,
		Currency:       currency,
		Description:    fmt.Sprintf("Reservation %s for ticket type %s x%d", r.ID, tt.ID, r.Quantity),
		Token:          in.PaymentToken,
		IdempotencyKey: r.IdempotencyKey,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ConfirmResult{}, ctx.Err()
		}
		return ConfirmResult{}, fmt.Errorf("%w: %v", domain.ErrPaymentDeclined, err)
	}

	purchase := domain.Purchase{
		ID:                newUUID(),
		ReservationID:     r.ID,
		TicketTypeID:      tt.ID,
		Quantity:          r.Quantity,
		UnitPrice:         tt.Price,
		TotalAmount:       total,
		Currency:          currency,
		ConfirmationToken: confirmation,
	}

	var confirmed domain.Reservation
	for attempt := 1; attempt <= s.cfg.confirmAttempts; attempt++ {
		confirmed, err = s.finalize(ctx, r.ID, &purchase)
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			break
		}
		logx.Debug(ctx, s.cfg.logger, "ledger conflict, retrying confirm",
			zap.String("reservation_id", r.ID),
			zap.Int("attempt", attempt),
		)
	}
	if err != nil {
		// The charge went through but nothing was recorded. The gateway
		// deduplicates on the idempotency key, so a retried Confirm is safe.
		logx.Error(ctx, s.cfg.logger, "charged reservation could not be finalized",
			zap.String("reservation_id", r.ID),
			zap.String("confirmation_token", confirmation),
			zap.Error(err),
		)
		s.recordUnfinalized(ctx, r, purchase, err)
		return ConfirmResult{}, err
	}
	return ConfirmResult{Reservation: confirmed, Purchase: purchase}, nil
}

// recordUnfinalized leaves an outbox event for a charge that has no purchase
// so it can be refunded or reconciled.
func (s *PurchaseService) recordUnfinalized(ctx context.Context, r domain.Reservation, p domain.Purchase, cause error) {
	ctx = context.WithoutCancel(ctx)
	err := s.store.RecordReservationEvent(ctx, domain.ReservationEvent{
		Type:              domain.EventPaymentUnfinalized,
		ReservationID:     r.ID,
		TicketTypeID:      r.TicketTypeID,
		Quantity:          r.Quantity,
		Status:            string(r.Status),
		OccurredAt:        s.clock.Now(),
		Amount:            p.TotalAmount,
		Currency:          p.Currency,
		ConfirmationToken: p.ConfirmationToken,
		Reason:            cause.Error(),
	})
	if err != nil {
		logx.Error(ctx, s.cfg.logger, "record unfinalized payment failed",
			zap.String("reservation_id", r.ID),
			zap.Error(err),
		)
	}
}

// finalize applies the ledger increment, the status change and the purchase
// record in one transaction.
func (s *PurchaseService) finalize(ctx context.Context, reservationID string, p *domain.Purchase) (domain.Reservation, error) {
	var confirmed domain.Reservation
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		r, err := s.store.GetReservationForUpdate(txCtx, reservationID)
		if err != nil {
			return err
		}
		if r.Status != domain.ReservationStatusPending {
			return domain.ErrReservationNotPending
		}

		tt, err := s.store.GetTicketType(txCtx, r.TicketTypeID)
		if err != nil {
			return err
		}
		if tt.Sold+r.Quantity > tt.Capacity {
			return domain.ErrCapacityExceeded
		}
		if _, err := s.store.AdjustSold(txCtx, tt.ID, r.Quantity, tt.Version); err != nil {
			return err
		}

		now := s.clock.Now()
		if err := s.store.TransitionReservation(txCtx, r.ID, domain.ReservationStatusPending, domain.ReservationStatusConfirmed, now, now); err != nil {
			return err
		}
		r.Status = domain.ReservationStatusConfirmed
		r.ExpiresAt = now
		r.UpdatedAt = now

		p.CreatedAt = now
		if err := s.store.CreatePurchase(txCtx, *p); err != nil {
			return err
		}
		if err := s.store.RecordReservationEvent(txCtx, domain.ReservationEvent{
			Type:          domain.EventReservationConfirmed,
			ReservationID: r.ID,
			TicketTypeID:  r.TicketTypeID,
			Quantity:      r.Quantity,
			Status:        string(r.Status),
			OccurredAt:    now,
		}); err != nil {
			return err
		}
		confirmed = r
		return nil
	})
	return confirmed, err
}
