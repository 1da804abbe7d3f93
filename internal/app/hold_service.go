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

type HoldService struct {
	store HoldStore
	guard IdempotencyGuard
	clock clock.Clock
	cfg   settings

	tracer trace.Tracer
}

func NewHoldService(store HoldStore, guard IdempotencyGuard, clk clock.Clock, opts ...Option) *HoldService {
	return &HoldService{
		store:  store,
		guard:  guard,
		clock:  clk,
		cfg:    newSettings(opts),
		tracer: otel.Tracer("app/hold_service"),
	}
}

type CreateHoldInput struct {
	TicketTypeID   string
	Quantity       int
	IdempotencyKey string
	// HoldSeconds <= 0 selects the default hold duration.
	HoldSeconds int
}

type CreateHoldResult struct {
	Reservation domain.Reservation
	// Created is false when an earlier request with the same idempotency key
	// is being replayed.
	Created bool
}

func (s *HoldService) CreateHold(ctx context.Context, in CreateHoldInput) (CreateHoldResult, error) {
	ctx, span := s.tracer.Start(ctx, "HoldService.CreateHold")
	defer span.End()
	span.SetAttributes(
		attribute.String("ticket_type_id", in.TicketTypeID),
		attribute.Int("quantity", in.Quantity),
	)

	res, err := s.createHold(ctx, in)
	switch {
	case err != nil:
		span.RecordError(err)
		s.cfg.observer.Observe("create_hold", outcomeOf(err))
		if !isBusiness(err) {
			logx.Error(ctx, s.cfg.logger, "create hold failed",
				zap.String("ticket_type_id", in.TicketTypeID),
				zap.Error(err),
			)
		}
	case !res.Created:
		s.cfg.observer.Observe("create_hold", "replayed")
	default:
		s.cfg.observer.Observe("create_hold", "ok")
		logx.Info(ctx, s.cfg.logger, "hold created",
			zap.String("reservation_id", res.Reservation.ID),
			zap.String("ticket_type_id", in.TicketTypeID),
			zap.Int("quantity", in.Quantity),
			zap.Time("expires_at", res.Reservation.ExpiresAt),
		)
	}
	return res, err
}

func (s *HoldService) createHold(ctx context.Context, in CreateHoldInput) (CreateHoldResult, error) {
	if in.Quantity <= 0 {
		return CreateHoldResult{}, domain.ErrInvalidQuantity
	}
	if in.IdempotencyKey == "" {
		return CreateHoldResult{}, domain.ErrIdempotencyKeyRequired
	}

	// A retried request must replay even when the inventory it took is now gone.
	existingID, err := s.existingReservation(ctx, in.IdempotencyKey)
	if err != nil {
		return CreateHoldResult{}, err
	}
	if existingID != "" {
		return s.replay(ctx, existingID)
	}

	holdFor := s.holdDuration(in.HoldSeconds)
	ttl := idempotencyTTL(holdFor)
	now := s.clock.Now()

	var (
		result       CreateHoldResult
		replayID     string
		registeredID string
	)
	err = s.store.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.store.LockTicketTypeHolds(txCtx, in.TicketTypeID); err != nil {
			return err
		}
		// Under the lock a racing duplicate sees the winner's committed key or
		// row, and must replay it before inventory is counted.
		existingID, err := s.existingReservation(txCtx, in.IdempotencyKey)
		if err != nil {
			return err
		}
		if existingID != "" {
			replayID = existingID
			return nil
		}

		tt, err := s.store.GetTicketType(txCtx, in.TicketTypeID)
		if err != nil {
			return err
		}
		avail, err := availabilityOf(txCtx, s.store, tt, now)
		if err != nil {
			return err
		}
		if avail.Available < in.Quantity {
			return domain.ErrInsufficientInventory
		}

		id := newUUID()
		accepted, existing, err := s.guard.TrySet(txCtx, in.IdempotencyKey, id, ttl)
		if err != nil {
			return err
		}
		if !accepted {
			if existing == "" {
				return domain.ErrDuplicateKey
			}
			replayID = existing
			return nil
		}
		registeredID = id

		hold := domain.Reservation{
			ID:             id,
			TicketTypeID:   tt.ID,
			Quantity:       in.Quantity,
			Status:         domain.ReservationStatusPending,
			ExpiresAt:      now.Add(holdFor),
			IdempotencyKey: in.IdempotencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.store.CreateReservation(txCtx, hold); err != nil {
			return err
		}
		result = CreateHoldResult{Reservation: hold, Created: true}
		return nil
	})
	if err != nil {
		if registeredID != "" {
			s.release(ctx, in.IdempotencyKey, registeredID)
		}
		if errors.Is(err, domain.ErrDuplicateKey) {
			// The key's row was committed by a transaction we could not see.
			if r, lookupErr := s.store.GetReservationByIdempotencyKey(ctx, in.IdempotencyKey); lookupErr == nil {
				return s.replay(ctx, r.ID)
			}
		}
		return CreateHoldResult{}, err
	}
	if replayID != "" {
		return s.replay(ctx, replayID)
	}
	return result, nil
}

// existingReservation resolves key through the guard and, once the guard
// entry has lapsed, through the stored reservation carrying the key.
func (s *HoldService) existingReservation(ctx context.Context, key string) (string, error) {
	id, err := s.guard.Get(ctx, key)
	if err != nil || id != "" {
		return id, err
	}
	r, err := s.store.GetReservationByIdempotencyKey(ctx, key)
	switch {
	case err == nil:
		return r.ID, nil
	case errors.Is(err, domain.ErrReservationNotFound):
		return "", nil
	default:
		return "", err
	}
}

// replay returns the reservation an idempotency key already points at. The
// winner of a concurrent TrySet may not have committed its row yet, so the
// lookup is retried briefly before giving up with ErrDuplicateKey.
func (s *HoldService) replay(ctx context.Context, reservationID string) (CreateHoldResult, error) {
	for attempt := 0; ; attempt++ {
		r, err := s.store.GetReservation(ctx, reservationID)
		if err == nil {
			r, err = settleExpiry(ctx, s.store, r, s.clock.Now())
			if err != nil {
				return CreateHoldResult{}, err
			}
			return CreateHoldResult{Reservation: r, Created: false}, nil
		}
		if !errors.Is(err, domain.ErrReservationNotFound) {
			return CreateHoldResult{}, err
		}
		if attempt >= s.cfg.replayAttempts {
			return CreateHoldResult{}, domain.ErrDuplicateKey
		}

		timer := time.NewTimer(s.cfg.replayInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return CreateHoldResult{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *HoldService) release(ctx context.Context, key, reservationID string) {
	cleanupCtx := context.WithoutCancel(ctx)
	if err := s.guard.Release(cleanupCtx, key, reservationID); err != nil {
		logx.Warn(cleanupCtx, s.cfg.logger, "release idempotency key failed",
			zap.String("reservation_id", reservationID),
			zap.Error(err),
		)
	}
}

func (s *HoldService) holdDuration(seconds int) time.Duration {
	if seconds <= 0 {
		return s.cfg.holdTTL
	}
	d := time.Duration(seconds) * time.Second
	if d > s.cfg.maxHoldTTL {
		return s.cfg.maxHoldTTL
	}
	return d
}

// idempotencyTTL keeps the key at least as long as the hold it guards, and
// never below the safety floor.
func idempotencyTTL(hold time.Duration) time.Duration {
	if hold < minIdempotencyTTL {
		return minIdempotencyTTL
	}
	return hold
}
