package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ftc-tickets/internal/status"
)

// apiError translates the service error taxonomy into HTTP answers. Unknown
// errors become opaque 500s so internals never leak.
func apiError(e *core.RequestEvent, err error) error {
	var (
		validation *status.ValidationError
		unpaid     *status.UnpaidError
		conflict   *status.ConflictError
		upstream   *status.UpstreamError
	)

	switch {
	case errors.As(err, &validation):
		return apis.NewBadRequestError(validation.Msg, nil)

	case errors.Is(err, status.ErrInventoryExhausted):
		return apis.NewBadRequestError("not enough tickets available", nil)

	case errors.Is(err, status.ErrNotFound):
		return apis.NewNotFoundError("not found", nil)

	case errors.As(err, &unpaid):
		return apis.NewBadRequestError("ticket is not paid", map[string]any{
			"paymentStatus": unpaid.PaymentStatus,
		})

	case errors.As(err, &conflict):
		data := map[string]any{}
		if !conflict.ScannedAt.IsZero() {
			data["scannedAt"] = conflict.ScannedAt
		}
		return apis.NewApiError(http.StatusConflict, conflict.Reason, data)

	case errors.As(err, &upstream):
		return apis.NewApiError(http.StatusBadGateway, "payment provider is unavailable, try again", nil)

	default:
		return apis.NewInternalServerError("something went wrong", nil)
	}
}

// ok wraps a payload in the envelope every endpoint answers with.
func ok(e *core.RequestEvent, message string, data any) error {
	return e.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": message,
		"data":    data,
	})
}
