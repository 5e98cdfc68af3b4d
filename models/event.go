package models

import (
	"time"
)

const (
	EventActive  = "active"
	EventSoldOut = "sold_out"
	EventEnded   = "ended"
)

// EventConfig is the singleton configuration record for the event.
type EventConfig struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	EventDate time.Time `json:"event_date"`
	Location  string    `json:"location"`
	Status    string    `json:"status"`
}

// TicketType is a priced, capacity-limited inventory tier. Sold is derived
// from the count of paid units and is never incremented in place.
type TicketType struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Limit       int     `json:"limit"`
	Sold        int     `json:"sold"`
	Active      bool    `json:"is_active"`
	Description string  `json:"description,omitempty"`
}

// Available reports the advisory availability of the type. It can go
// negative transiently while pending reservations exceed capacity; only
// paid units consume capacity for real.
func (t *TicketType) Available() int {
	return t.Limit - t.Sold
}

// Stats is the admin dashboard aggregate.
type Stats struct {
	TotalUnits   int     `json:"total_tickets"`
	PaidUnits    int     `json:"paid"`
	PendingUnits int     `json:"pending"`
	ScannedUnits int     `json:"scanned"`
	Revenue      float64 `json:"revenue"`
}
