package handlers

import (
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ftc-tickets/internal/services"
)

// ValidateHandler serves the door crew endpoints.
type ValidateHandler struct {
	scans *services.ScanService
}

func NewValidateHandler(scans *services.ScanService) *ValidateHandler {
	return &ValidateHandler{scans: scans}
}

// Validate handles POST /api/v1/validate. A 200 here means the holder is
// admitted and the ticket is now consumed.
func (h *ValidateHandler) Validate(e *core.RequestEvent) error {
	var req services.ScanRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("invalid request body", err)
	}

	result, err := h.scans.Scan(e.Request.Context(), &req)
	if err != nil {
		return apiError(e, err)
	}
	return ok(e, "ticket valid, entry granted", result)
}

// Lookup handles GET /api/v1/validate/shortcode/{code}. Read-only preview,
// never consumes the ticket.
func (h *ValidateHandler) Lookup(e *core.RequestEvent) error {
	code := e.Request.PathValue("code")

	unit, err := h.scans.Lookup(e.Request.Context(), code)
	if err != nil {
		return apiError(e, err)
	}
	return ok(e, "ticket found", unit)
}
