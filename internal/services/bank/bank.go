package bank

import (
	"context"

	"github.com/shopspring/decimal"
)

// Charge statuses reported by Verify.
const (
	ChargeSuccess = "success"
	ChargeFailed  = "failed"
	ChargePending = "pending"
)

// Metadata is the opaque purchase context attached to a payment intent and
// echoed back by the gateway on confirmation. BulkOrderID is the recovery
// key when a crash loses the reference write.
type Metadata struct {
	BulkOrderID string  `json:"bulkOrderId"`
	Name        string  `json:"name"`
	Phone       string  `json:"phone"`
	TicketType  string  `json:"ticketType"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	Fee         float64 `json:"checkoutFee"`
}

// Intent is the result of initiating a payment.
type Intent struct {
	Reference   string
	RedirectURL string
}

// Charge is the gateway's authoritative answer about a payment reference.
type Charge struct {
	Reference  string
	Status     string
	Amount     decimal.Decimal
	PayerEmail string
	Metadata   Metadata
}

// Gateway is the payment processor connector. Implementations must carry
// timeouts on every remote call. Webhook payloads are never trusted on
// their own; Verify is the only source of a confirmed charge.
type Gateway interface {
	Initiate(ctx context.Context, email string, amount decimal.Decimal, meta Metadata) (*Intent, error)
	Verify(ctx context.Context, reference string) (*Charge, error)
}
