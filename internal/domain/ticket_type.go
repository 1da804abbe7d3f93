package domain

// TicketType is a sellable inventory bucket for an event. Sold is only ever
// changed through a version-guarded ledger update.
type TicketType struct {
	ID       string
	EventID  string
	Name     string
	Price    int64 // minor currency units
	Capacity int
	Sold     int
	Version  int64
}

// Availability is the derived free quantity of a ticket type at a point in time.
type Availability struct {
	TicketTypeID string
	EventID      string
	Name         string
	Price        int64
	Capacity     int
	Sold         int
	Held         int
	Available    int
}

// NewAvailability derives free quantity from the ledger and the sum of
// active pending holds. The result is never negative.
func NewAvailability(tt TicketType, held int) Availability {
	available := tt.Capacity - tt.Sold - held
	if available < 0 {
		available = 0
	}
	return Availability{
		TicketTypeID: tt.ID,
		EventID:      tt.EventID,
		Name:         tt.Name,
		Price:        tt.Price,
		Capacity:     tt.Capacity,
		Sold:         tt.Sold,
		Held:         held,
		Available:    available,
	}
}
