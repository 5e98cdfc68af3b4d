package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"ftc-tickets/internal/services/bank"
	"ftc-tickets/internal/status"
	"ftc-tickets/models"
	"ftc-tickets/monitoring"
	"ftc-tickets/utils"
)

// PurchaseRequest is the checkout input for one or more tickets of a single
// tier.
type PurchaseRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	TicketType string `json:"ticketType"`
	Quantity   int    `json:"quantity"`
}

// PurchaseResult carries everything the checkout page needs to send the
// buyer to the gateway.
type PurchaseResult struct {
	BulkOrderID string  `json:"bulkOrderId"`
	Reference   string  `json:"reference"`
	RedirectURL string  `json:"authorizationUrl"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	Fee         float64 `json:"checkoutFee"`
	Total       float64 `json:"totalAmount"`
}

// PurchaseService creates pending ticket units and opens a payment intent
// for them. Inventory is only advisory at this stage; capacity is consumed
// when the payment confirms.
type PurchaseService struct {
	store   Store
	gateway bank.Gateway

	fee         float64
	maxQuantity int
}

func NewPurchaseService(store Store, gateway bank.Gateway, fee float64, maxQuantity int) *PurchaseService {
	return &PurchaseService{
		store:       store,
		gateway:     gateway,
		fee:         fee,
		maxQuantity: maxQuantity,
	}
}

// Purchase validates the request, reserves quantity pending units under one
// bulk order, initiates the charge and stamps the returned reference onto
// the group.
func (s *PurchaseService) Purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResult, error) {
	if err := s.validate(req); err != nil {
		monitoring.PurchasesTotal.WithLabelValues(req.TicketType, "invalid").Inc()
		return nil, err
	}

	tier, err := s.store.FindActiveType(ctx, req.TicketType)
	if err != nil {
		monitoring.PurchasesTotal.WithLabelValues(req.TicketType, "invalid").Inc()
		if err == status.ErrNotFound {
			return nil, status.Validationf("unknown or inactive ticket type %q", req.TicketType)
		}
		return nil, fmt.Errorf("purchase: %w", err)
	}

	if tier.Available() < req.Quantity {
		monitoring.PurchasesTotal.WithLabelValues(req.TicketType, "sold_out").Inc()
		return nil, status.ErrInventoryExhausted
	}

	bulkOrderID, err := utils.BulkOrderID()
	if err != nil {
		return nil, fmt.Errorf("purchase: %w", err)
	}

	units := make([]*models.TicketUnit, 0, req.Quantity)
	for i := 0; i < req.Quantity; i++ {
		ticketNo, err := utils.TicketNo()
		if err != nil {
			return nil, fmt.Errorf("purchase: %w", err)
		}
		shortCode, err := utils.ShortCode()
		if err != nil {
			return nil, fmt.Errorf("purchase: %w", err)
		}

		units = append(units, &models.TicketUnit{
			TicketNo:      ticketNo,
			ShortCode:     shortCode,
			BulkOrderID:   bulkOrderID,
			Name:          req.Name,
			Email:         req.Email,
			Phone:         req.Phone,
			TicketType:    tier.Name,
			Price:         tier.Price,
			Quantity:      req.Quantity,
			PaymentStatus: models.PaymentPending,
		})
	}

	if err := s.store.CreateUnits(ctx, units); err != nil {
		monitoring.PurchasesTotal.WithLabelValues(req.TicketType, "error").Inc()
		return nil, fmt.Errorf("purchase: create units: %w", err)
	}

	total := tier.Price*float64(req.Quantity) + s.fee
	intent, err := s.gateway.Initiate(ctx, req.Email, decimal.NewFromFloat(total), bank.Metadata{
		BulkOrderID: bulkOrderID,
		Name:        req.Name,
		Phone:       req.Phone,
		TicketType:  tier.Name,
		Quantity:    req.Quantity,
		UnitPrice:   tier.Price,
		Fee:         s.fee,
	})
	if err != nil {
		monitoring.PurchasesTotal.WithLabelValues(req.TicketType, "gateway_error").Inc()
		// Units stay pending; the stale sweep or a later retry cleans up.
		return nil, &status.UpstreamError{Op: "initiate", Err: err}
	}

	if err := s.store.AttachReference(ctx, bulkOrderID, intent.Reference); err != nil {
		// Not fatal: the reconciler can still recover the group through
		// the bulkOrderId in the gateway metadata.
		slog.Error("failed to attach payment reference",
			"bulkOrderId", bulkOrderID, "reference", intent.Reference, "error", err)
	}

	monitoring.PurchasesTotal.WithLabelValues(req.TicketType, "initiated").Inc()
	slog.Info("purchase initiated",
		"bulkOrderId", bulkOrderID,
		"reference", intent.Reference,
		"type", tier.Name,
		"quantity", req.Quantity,
		"total", total,
	)

	return &PurchaseResult{
		BulkOrderID: bulkOrderID,
		Reference:   intent.Reference,
		RedirectURL: intent.RedirectURL,
		Quantity:    req.Quantity,
		UnitPrice:   tier.Price,
		Fee:         s.fee,
		Total:       total,
	}, nil
}

// Availability reports the advisory remaining capacity of a tier.
func (s *PurchaseService) Availability(ctx context.Context, typeName string) (*models.TicketType, error) {
	tier, err := s.store.FindType(ctx, typeName)
	if err != nil {
		if err == status.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("availability: %w", err)
	}
	return tier, nil
}

// ListTypes lists every tier for the storefront.
func (s *PurchaseService) ListTypes(ctx context.Context) ([]*models.TicketType, error) {
	return s.store.ListTypes(ctx)
}

func (s *PurchaseService) validate(req *PurchaseRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Phone = strings.TrimSpace(req.Phone)
	req.TicketType = strings.TrimSpace(req.TicketType)

	if req.Name == "" {
		return status.Validationf("name is required")
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return status.Validationf("a valid email is required")
	}
	if req.TicketType == "" {
		return status.Validationf("ticket type is required")
	}
	if req.Quantity < 1 || req.Quantity > s.maxQuantity {
		return status.Validationf("quantity must be between 1 and %d", s.maxQuantity)
	}
	return nil
}
