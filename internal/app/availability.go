package app

import (
	"context"
	"time"

	"github.com/cimillas/ticket-processor/internal/clock"
	"github.com/cimillas/ticket-processor/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type AvailabilityService struct {
	store  AvailabilityStore
	clock  clock.Clock
	tracer trace.Tracer
}

func NewAvailabilityService(store AvailabilityStore, clk clock.Clock) *AvailabilityService {
	return &AvailabilityService{
		store:  store,
		clock:  clk,
		tracer: otel.Tracer("app/availability_service"),
	}
}

// GetAvailability returns capacity - sold - active pending holds for a
// ticket type. The read is not transactional with any later hold write.
func (s *AvailabilityService) GetAvailability(ctx context.Context, ticketTypeID string) (domain.Availability, error) {
	ctx, span := s.tracer.Start(ctx, "AvailabilityService.GetAvailability")
	defer span.End()
	span.SetAttributes(attribute.String("ticket_type_id", ticketTypeID))

	tt, err := s.store.GetTicketType(ctx, ticketTypeID)
	if err != nil {
		return domain.Availability{}, err
	}
	return availabilityOf(ctx, s.store, tt, s.clock.Now())
}

func availabilityOf(ctx context.Context, counter PendingCounter, tt domain.TicketType, now time.Time) (domain.Availability, error) {
	held, err := counter.SumActivePending(ctx, tt.ID, now)
	if err != nil {
		return domain.Availability{}, err
	}
	return domain.NewAvailability(tt, held), nil
}
