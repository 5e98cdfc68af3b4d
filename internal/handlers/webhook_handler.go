package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ftc-tickets/internal/services"
	"ftc-tickets/internal/services/bank/paystack"
	"ftc-tickets/internal/status"
)

// webhookEvent is the slice of the Paystack webhook body we act on.
type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Metadata  struct {
			BulkOrderID string `json:"bulkOrderId"`
		} `json:"metadata"`
		Customer struct {
			Email string `json:"email"`
		} `json:"customer"`
	} `json:"data"`
}

// WebhookHandler receives gateway callbacks. The signature check is the
// only trust decision made here; everything about the charge itself is
// re-verified by the reconciler.
type WebhookHandler struct {
	reconciler *services.ReconcileService
	secretKey  string
}

func NewWebhookHandler(reconciler *services.ReconcileService, secretKey string) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, secretKey: secretKey}
}

// Paystack handles POST /api/v1/webhook/paystack.
func (h *WebhookHandler) Paystack(e *core.RequestEvent) error {
	body, err := io.ReadAll(e.Request.Body)
	if err != nil {
		return apis.NewBadRequestError("cannot read body", nil)
	}

	signature := e.Request.Header.Get("x-paystack-signature")
	if !paystack.VerifySignature(body, h.secretKey, signature) {
		slog.Warn("webhook signature mismatch", "ip", e.Request.RemoteAddr)
		return apis.NewUnauthorizedError("invalid signature", nil)
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return apis.NewBadRequestError("invalid payload", nil)
	}

	if event.Event != "charge.success" {
		slog.Debug("ignoring webhook event", "event", event.Event)
		return e.JSON(http.StatusOK, map[string]any{"received": true})
	}

	outcome, err := h.reconciler.Reconcile(e.Request.Context(), &services.Signal{
		Trigger:     services.TriggerWebhook,
		Reference:   event.Data.Reference,
		BulkOrderID: event.Data.Metadata.BulkOrderID,
		Email:       event.Data.Customer.Email,
	})
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			// Nothing to settle for this charge. Answer 200 so the
			// gateway stops retrying a webhook we can never match.
			slog.Warn("webhook matched no order", "reference", event.Data.Reference)
			return e.JSON(http.StatusOK, map[string]any{"received": true})
		}
		// Non-2xx makes the gateway redeliver, which is what we want for
		// transient failures.
		slog.Error("webhook reconcile failed", "reference", event.Data.Reference, "error", err)
		return apis.NewInternalServerError("reconcile failed", nil)
	}

	slog.Info("webhook processed", "reference", event.Data.Reference, "outcome", outcome.Status)
	return e.JSON(http.StatusOK, map[string]any{"received": true, "status": outcome.Status})
}
