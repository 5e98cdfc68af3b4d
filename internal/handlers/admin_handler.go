package handlers

import (
	"log/slog"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ftc-tickets/internal/ledger"
	"ftc-tickets/internal/services"
	"ftc-tickets/internal/status"
	"ftc-tickets/models"
)

// AdminHandler serves the operator endpoints. Every route here sits behind
// the admin token guard.
type AdminHandler struct {
	ledger   *ledger.Ledger
	notifier services.Notifier
	scans    *services.ScanService
}

func NewAdminHandler(ledger *ledger.Ledger, notifier services.Notifier, scans *services.ScanService) *AdminHandler {
	return &AdminHandler{ledger: ledger, notifier: notifier, scans: scans}
}

type typeRequest struct {
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Limit       int     `json:"limit"`
	Active      *bool   `json:"isActive"`
	Description string  `json:"description"`
}

// ListTypes handles GET /api/v1/admin/types, inactive tiers included.
func (h *AdminHandler) ListTypes(e *core.RequestEvent) error {
	types, err := h.ledger.ListTypes(e.Request.Context())
	if err != nil {
		return apiError(e, err)
	}
	return ok(e, "ticket types", types)
}

// CreateType handles POST /api/v1/admin/types.
func (h *AdminHandler) CreateType(e *core.RequestEvent) error {
	var req typeRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("invalid request body", err)
	}
	if req.Name == "" || req.Price < 0 || req.Limit <= 0 {
		return apis.NewBadRequestError("name, price and a positive limit are required", nil)
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	created, err := h.ledger.SaveType(e.Request.Context(), &models.TicketType{
		Name:        req.Name,
		Price:       req.Price,
		Limit:       req.Limit,
		Active:      active,
		Description: req.Description,
	})
	if err != nil {
		return apiError(e, err)
	}

	slog.Info("ticket type created", "name", created.Name, "price", created.Price, "limit", created.Limit)
	return ok(e, "ticket type created", created)
}

// UpdateType handles PUT /api/v1/admin/types/{id}.
func (h *AdminHandler) UpdateType(e *core.RequestEvent) error {
	id := e.Request.PathValue("id")

	existing, err := h.ledger.ListTypes(e.Request.Context())
	if err != nil {
		return apiError(e, err)
	}
	var current *models.TicketType
	for _, t := range existing {
		if t.ID == id {
			current = t
			break
		}
	}
	if current == nil {
		return apiError(e, status.ErrNotFound)
	}

	req := typeRequest{
		Name:        current.Name,
		Price:       current.Price,
		Limit:       current.Limit,
		Description: current.Description,
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("invalid request body", err)
	}

	current.Name = req.Name
	current.Price = req.Price
	current.Limit = req.Limit
	current.Description = req.Description
	if req.Active != nil {
		current.Active = *req.Active
	}

	updated, err := h.ledger.SaveType(e.Request.Context(), current)
	if err != nil {
		return apiError(e, err)
	}
	return ok(e, "ticket type updated", updated)
}

// DeleteType handles DELETE /api/v1/admin/types/{id}.
func (h *AdminHandler) DeleteType(e *core.RequestEvent) error {
	id := e.Request.PathValue("id")

	if err := h.ledger.DeleteType(e.Request.Context(), id); err != nil {
		return apiError(e, err)
	}

	slog.Info("ticket type deleted", "id", id)
	return ok(e, "ticket type deleted", nil)
}

// Restock handles POST /api/v1/admin/types/{id}/restock.
func (h *AdminHandler) Restock(e *core.RequestEvent) error {
	id := e.Request.PathValue("id")

	var req struct {
		AddLimit int `json:"addLimit"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("invalid request body", err)
	}

	updated, err := h.ledger.RestockType(e.Request.Context(), id, req.AddLimit)
	if err != nil {
		return apiError(e, err)
	}
	if err := h.ledger.RecomputeEventStatus(e.Request.Context()); err != nil {
		slog.Error("failed to recompute event status after restock", "error", err)
	}

	slog.Info("ticket type restocked", "id", id, "added", req.AddLimit, "newLimit", updated.Limit)
	return ok(e, "ticket type restocked", updated)
}

// Deactivate handles POST /api/v1/admin/types/{id}/soldout, pulling a tier
// off sale without touching its capacity.
func (h *AdminHandler) Deactivate(e *core.RequestEvent) error {
	id := e.Request.PathValue("id")

	updated, err := h.ledger.SetTypeActive(e.Request.Context(), id, false)
	if err != nil {
		return apiError(e, err)
	}
	if err := h.ledger.RecomputeEventStatus(e.Request.Context()); err != nil {
		slog.Error("failed to recompute event status after deactivate", "error", err)
	}
	return ok(e, "ticket type deactivated", updated)
}

// Stats handles GET /api/v1/admin/stats.
func (h *AdminHandler) Stats(e *core.RequestEvent) error {
	stats, err := h.ledger.Stats(e.Request.Context())
	if err != nil {
		return apiError(e, err)
	}
	return ok(e, "stats", stats)
}

// ResendEmail handles POST /api/v1/admin/resend/{ticketNo}. Resends the
// confirmation for the whole purchase group the ticket belongs to.
func (h *AdminHandler) ResendEmail(e *core.RequestEvent) error {
	ticketNo := e.Request.PathValue("ticketNo")

	unit, err := h.ledger.UnitByTicketNo(e.Request.Context(), ticketNo)
	if err != nil {
		return apiError(e, err)
	}
	if unit.PaymentStatus != models.PaymentPaid {
		return apiError(e, &status.UnpaidError{PaymentStatus: unit.PaymentStatus})
	}

	units, err := h.ledger.UnitsByBulkOrder(e.Request.Context(), unit.BulkOrderID)
	if err != nil {
		return apiError(e, err)
	}
	paid := units[:0]
	for _, u := range units {
		if u.PaymentStatus == models.PaymentPaid {
			paid = append(paid, u)
		}
	}

	sendErr := h.notifier.SendTickets(e.Request.Context(), paid)
	for _, u := range paid {
		if err := h.ledger.MarkNotified(e.Request.Context(), u.ID, sendErr); err != nil {
			slog.Error("failed to record notification outcome", "unit", u.ID, "error", err)
		}
	}
	if sendErr != nil {
		slog.Error("failed to resend confirmation", "ticketNo", ticketNo, "error", sendErr)
		return apis.NewInternalServerError("failed to send email", nil)
	}

	return ok(e, "confirmation email resent", map[string]any{"sent": len(paid)})
}

// ForceScan handles POST /api/v1/admin/scan/{ticketNo}, manual admission
// for when a door device cannot read the code. Same single-use rules as a
// regular scan.
func (h *AdminHandler) ForceScan(e *core.RequestEvent) error {
	ticketNo := e.Request.PathValue("ticketNo")

	var req struct {
		Operator string `json:"operator"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("invalid request body", err)
	}
	if req.Operator == "" {
		req.Operator = "admin"
	}

	result, err := h.scans.AdmitByTicketNo(e.Request.Context(), ticketNo, req.Operator)
	if err != nil {
		return apiError(e, err)
	}

	slog.Info("ticket force-scanned", "ticketNo", ticketNo, "operator", req.Operator)
	return ok(e, "ticket marked as used", result)
}

// Unscan handles POST /api/v1/admin/unscan/{ticketNo}, the operator
// correction for an accidental scan.
func (h *AdminHandler) Unscan(e *core.RequestEvent) error {
	ticketNo := e.Request.PathValue("ticketNo")

	unit, err := h.ledger.UnitByTicketNo(e.Request.Context(), ticketNo)
	if err != nil {
		return apiError(e, err)
	}

	if err := h.ledger.UnscanUnit(e.Request.Context(), unit.ID); err != nil {
		return apiError(e, err)
	}

	slog.Info("ticket scan reversed", "ticketNo", ticketNo)
	return ok(e, "ticket scan reversed", nil)
}
