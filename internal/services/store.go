package services

import (
	"context"
	"time"

	"ftc-tickets/models"
)

// Store is the ledger surface the services depend on. *ledger.Ledger is the
// production implementation; tests swap in an in-memory fake.
type Store interface {
	GetOrCreateEvent(ctx context.Context, name string, date time.Time, location string) (*models.EventConfig, error)

	ListTypes(ctx context.Context) ([]*models.TicketType, error)
	FindActiveType(ctx context.Context, name string) (*models.TicketType, error)
	FindType(ctx context.Context, name string) (*models.TicketType, error)

	CreateUnits(ctx context.Context, units []*models.TicketUnit) error
	AttachReference(ctx context.Context, bulkOrderID, reference string) error

	UnitsByReference(ctx context.Context, reference string) ([]*models.TicketUnit, error)
	UnitsByBulkOrder(ctx context.Context, bulkOrderID string) ([]*models.TicketUnit, error)
	RecentPendingBulkOrder(ctx context.Context, email string) (string, error)
	PaidUnitsByEmail(ctx context.Context, email string) ([]*models.TicketUnit, error)
	UnitByShortCode(ctx context.Context, code string) (*models.TicketUnit, error)
	UnitByTicketNo(ctx context.Context, ticketNo string) (*models.TicketUnit, error)

	MarkUnitPaid(ctx context.Context, unitID, reference, entryCode string) (bool, error)
	MarkGroupFailed(ctx context.Context, bulkOrderID string) error
	ClaimScan(ctx context.Context, unitID, operator string) (bool, error)

	RecomputeSoldCount(ctx context.Context, typeName string) (int, error)
	RecomputeEventStatus(ctx context.Context) error
	MarkNotified(ctx context.Context, unitID string, sendErr error) error
}
