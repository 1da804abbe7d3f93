package app

import (
	"context"
	"errors"
	"time"

	"github.com/cimillas/ticket-processor/internal/clock"
	"github.com/cimillas/ticket-processor/internal/domain"
	"github.com/cimillas/ticket-processor/internal/logx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ReservationService reads reservations and cancels them.
type ReservationService struct {
	store CancellationStore
	clock clock.Clock
	cfg   settings

	tracer trace.Tracer
}

func NewReservationService(store CancellationStore, clk clock.Clock, opts ...Option) *ReservationService {
	return &ReservationService{
		store:  store,
		clock:  clk,
		cfg:    newSettings(opts),
		tracer: otel.Tracer("app/reservation_service"),
	}
}

// GetReservation loads a reservation, persisting the expired status the
// first time a lapsed hold is observed.
func (s *ReservationService) GetReservation(ctx context.Context, id string) (domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "ReservationService.GetReservation")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", id))

	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	return settleExpiry(ctx, s.store, r, s.clock.Now())
}

// GetPurchase returns the purchase of a confirmed reservation, or nil.
func (s *ReservationService) GetPurchase(ctx context.Context, reservationID string) (*domain.Purchase, error) {
	return s.store.GetPurchaseByReservation(ctx, reservationID)
}

// Cancel removes a reservation. Cancelling a confirmed reservation returns
// its quantity to the ledger in the same transaction.
func (s *ReservationService) Cancel(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "ReservationService.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", id))

	var err error
	for attempt := 1; attempt <= s.cfg.confirmAttempts; attempt++ {
		err = s.cancelOnce(ctx, id)
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			break
		}
		logx.Debug(ctx, s.cfg.logger, "cancel conflicted, retrying",
			zap.String("reservation_id", id),
			zap.Int("attempt", attempt),
		)
	}

	s.cfg.observer.Observe("cancel", outcomeOf(err))
	if err != nil {
		span.RecordError(err)
		if !isBusiness(err) || errors.Is(err, domain.ErrSoldUnderflow) {
			logx.Error(ctx, s.cfg.logger, "cancel reservation failed",
				zap.String("reservation_id", id),
				zap.Error(err),
			)
		}
		return err
	}
	logx.Info(ctx, s.cfg.logger, "reservation cancelled", zap.String("reservation_id", id))
	return nil
}

func (s *ReservationService) cancelOnce(ctx context.Context, id string) error {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	now := s.clock.Now()

	if r.Status != domain.ReservationStatusConfirmed {
		return s.store.WithTx(ctx, func(txCtx context.Context) error {
			if err := s.store.DeleteReservation(txCtx, r.ID, r.Status, now); err != nil {
				return err
			}
			return s.store.RecordReservationEvent(txCtx, cancelledEvent(r, now))
		})
	}

	tt, err := s.store.GetTicketType(ctx, r.TicketTypeID)
	if err != nil {
		return err
	}
	if tt.Sold < r.Quantity {
		return domain.ErrSoldUnderflow
	}
	return s.store.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := s.store.AdjustSold(txCtx, tt.ID, -r.Quantity, tt.Version); err != nil {
			return err
		}
		if err := s.store.DeleteReservation(txCtx, r.ID, domain.ReservationStatusConfirmed, now); err != nil {
			return err
		}
		return s.store.RecordReservationEvent(txCtx, cancelledEvent(r, now))
	})
}

func cancelledEvent(r domain.Reservation, at time.Time) domain.ReservationEvent {
	return domain.ReservationEvent{
		Type:          domain.EventReservationCancelled,
		ReservationID: r.ID,
		TicketTypeID:  r.TicketTypeID,
		Quantity:      r.Quantity,
		Status:        string(domain.ReservationStatusCancelled),
		OccurredAt:    at,
	}
}

// settleExpiry moves a lapsed pending reservation to expired. When another
// writer changed the status first, the stored row is returned instead.
func settleExpiry(ctx context.Context, store ReservationStore, r domain.Reservation, now time.Time) (domain.Reservation, error) {
	if !r.IsLapsed(now) {
		return r, nil
	}
	err := store.TransitionReservation(ctx, r.ID, domain.ReservationStatusPending, domain.ReservationStatusExpired, r.ExpiresAt, now)
	switch {
	case err == nil:
		r.Status = domain.ReservationStatusExpired
		r.UpdatedAt = now
		return r, nil
	case errors.Is(err, domain.ErrReservationNotPending):
		return store.GetReservation(ctx, r.ID)
	default:
		return domain.Reservation{}, err
	}
}
