package handlers

import (
	"log/slog"
	"strings"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ftc-tickets/internal/services"
)

// TicketHandler serves the storefront endpoints: tiers, availability,
// checkout and the client-side payment confirmation poll.
type TicketHandler struct {
	purchase   *services.PurchaseService
	reconciler *services.ReconcileService
	scans      *services.ScanService
}

func NewTicketHandler(
	purchase *services.PurchaseService,
	reconciler *services.ReconcileService,
	scans *services.ScanService,
) *TicketHandler {
	return &TicketHandler{
		purchase:   purchase,
		reconciler: reconciler,
		scans:      scans,
	}
}

// ListTypes handles GET /api/v1/tickets/types.
func (h *TicketHandler) ListTypes(e *core.RequestEvent) error {
	types, err := h.purchase.ListTypes(e.Request.Context())
	if err != nil {
		slog.Error("failed to list ticket types", "error", err)
		return apiError(e, err)
	}
	return ok(e, "ticket types", types)
}

// Availability handles GET /api/v1/tickets/availability/{type}.
func (h *TicketHandler) Availability(e *core.RequestEvent) error {
	typeName := e.Request.PathValue("type")

	tier, err := h.purchase.Availability(e.Request.Context(), typeName)
	if err != nil {
		return apiError(e, err)
	}

	return ok(e, "availability", map[string]any{
		"type":      tier.Name,
		"price":     tier.Price,
		"available": tier.Available(),
		"isActive":  tier.Active,
	})
}

// Purchase handles POST /api/v1/tickets/purchase.
func (h *TicketHandler) Purchase(e *core.RequestEvent) error {
	var req services.PurchaseRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("invalid request body", err)
	}

	result, err := h.purchase.Purchase(e.Request.Context(), &req)
	if err != nil {
		return apiError(e, err)
	}
	return ok(e, "payment initialized", result)
}

// VerifyPayment handles GET /api/v1/tickets/verify-payment?reference=...,
// the poll a checkout page runs after the gateway redirect. Safe to call
// any number of times.
func (h *TicketHandler) VerifyPayment(e *core.RequestEvent) error {
	reference := strings.TrimSpace(e.Request.URL.Query().Get("reference"))
	if reference == "" {
		return apis.NewBadRequestError("reference is required", nil)
	}

	outcome, err := h.reconciler.Reconcile(e.Request.Context(), &services.Signal{
		Trigger:   services.TriggerClientPoll,
		Reference: reference,
	})
	if err != nil {
		return apiError(e, err)
	}
	return ok(e, "payment "+outcome.Status, outcome)
}

// CheckByEmail handles GET /api/v1/tickets/check/{email}.
func (h *TicketHandler) CheckByEmail(e *core.RequestEvent) error {
	email := e.Request.PathValue("email")

	units, err := h.scans.TicketsByEmail(e.Request.Context(), email)
	if err != nil {
		return apiError(e, err)
	}
	return ok(e, "tickets", units)
}
