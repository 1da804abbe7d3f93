package app

import (
	"context"

	"github.com/cimillas/ticket-processor/internal/clock"
	"github.com/cimillas/ticket-processor/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CatalogService lists the ticket types of an event with their current availability.
type CatalogService struct {
	store  CatalogStore
	clock  clock.Clock
	tracer trace.Tracer
}

func NewCatalogService(store CatalogStore, clk clock.Clock) *CatalogService {
	return &CatalogService{
		store:  store,
		clock:  clk,
		tracer: otel.Tracer("app/catalog_service"),
	}
}

func (s *CatalogService) ListEventAvailability(ctx context.Context, eventID string) ([]domain.Availability, error) {
	ctx, span := s.tracer.Start(ctx, "CatalogService.ListEventAvailability")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))

	types, err := s.store.ListTicketTypesByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	out := make([]domain.Availability, 0, len(types))
	for _, tt := range types {
		avail, err := availabilityOf(ctx, s.store, tt, now)
		if err != nil {
			return nil, err
		}
		out = append(out, avail)
	}
	return out, nil
}
