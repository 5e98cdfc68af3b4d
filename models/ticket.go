package models

import (
	"time"
)

// Payment statuses for a ticket unit. A unit is created pending, moves to
// paid only on a gateway-confirmed charge, and never moves backwards.
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

type TicketUnit struct {
	ID          string `json:"id"`
	TicketNo    string `json:"ticket_no"`
	ShortCode   string `json:"short_code"`
	BulkOrderID string `json:"bulk_order_id"`

	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`

	TicketType string  `json:"ticket_type"`
	Price      float64 `json:"price"` // snapshot of the type price at purchase time
	Quantity   int     `json:"quantity"`

	PaymentStatus    string     `json:"payment_status"`
	PaymentReference string     `json:"payment_reference,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`

	EntryCode string     `json:"entry_code,omitempty"`
	Scanned   bool       `json:"scanned"`
	ScannedAt *time.Time `json:"scanned_at,omitempty"`
	ScannedBy string     `json:"scanned_by,omitempty"`

	EmailSent  bool   `json:"email_sent"`
	EmailError string `json:"email_error,omitempty"`

	Created time.Time `json:"created"`
}
