package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ftc-tickets/internal/entrycode"
	"ftc-tickets/internal/services/bank"
	"ftc-tickets/internal/status"
	"ftc-tickets/models"
	"ftc-tickets/monitoring"
	"ftc-tickets/utils"
)

// Reconciliation triggers. Webhook and client poll race for the same
// confirmation; the sweep re-checks groups both of them missed.
const (
	TriggerWebhook    = "webhook"
	TriggerClientPoll = "client_poll"
	TriggerSweep      = "sweep"
)

// Outcome statuses.
const (
	OutcomeConfirmed   = "confirmed"
	OutcomeAlreadyPaid = "already_paid"
	OutcomeFailed      = "failed"
	OutcomePending     = "pending"
)

// Signal is a payment confirmation hint from any channel. Only Reference is
// usually needed; BulkOrderID and Email are fallbacks for confirmations
// whose reference write was lost.
type Signal struct {
	Trigger     string
	Reference   string
	BulkOrderID string
	Email       string
}

// Outcome is the result of reconciling one confirmation.
type Outcome struct {
	Status      string               `json:"status"`
	BulkOrderID string               `json:"bulkOrderId"`
	Reference   string               `json:"reference"`
	Units       []*models.TicketUnit `json:"tickets"`
}

// Notifier delivers ticket confirmations to buyers.
type Notifier interface {
	SendTickets(ctx context.Context, units []*models.TicketUnit) error
}

// Publisher pushes realtime order updates to waiting checkout pages.
type Publisher interface {
	PaymentSucceeded(bulkOrderID string, outcome *Outcome)
}

// ReconcileService converts at-least-once payment confirmations into
// exactly-once ticket issuance. Any number of signals for the same charge
// may run concurrently; the per-unit conditional update in the store is
// what guarantees a unit is paid once, the redis lock only reduces wasted
// work.
type ReconcileService struct {
	store     Store
	gateway   bank.Gateway
	codes     entrycode.Generator
	notifier  Notifier
	publisher Publisher
	rdb       *redis.Client
	breaker   *utils.CircuitBreaker

	notifyTimeout time.Duration
}

func NewReconcileService(
	store Store,
	gateway bank.Gateway,
	codes entrycode.Generator,
	notifier Notifier,
	publisher Publisher,
	rdb *redis.Client,
	notifyTimeout time.Duration,
) *ReconcileService {
	return &ReconcileService{
		store:         store,
		gateway:       gateway,
		codes:         codes,
		notifier:      notifier,
		publisher:     publisher,
		rdb:           rdb,
		breaker:       utils.NewCircuitBreaker("paystack-verify", 5, 30*time.Second),
		notifyTimeout: notifyTimeout,
	}
}

// Reconcile resolves the units behind a confirmation signal, verifies the
// charge with the gateway independently of what the signal claimed, and
// settles the group.
func (s *ReconcileService) Reconcile(ctx context.Context, sig *Signal) (*Outcome, error) {
	units, charge, err := s.resolve(ctx, sig)
	if err != nil {
		monitoring.ReconciliationsTotal.WithLabelValues(sig.Trigger, "not_found").Inc()
		return nil, err
	}

	bulkOrderID := units[0].BulkOrderID
	reference := sig.Reference
	if reference == "" {
		reference = units[0].PaymentReference
	}

	// Idempotency guard: a fully paid group means a racer already settled
	// this confirmation. Report success without touching the gateway. The
	// counters are still recomputed: a previous run may have failed after
	// the paid transition, and this is the path a retry lands on.
	if allPaid(units) {
		if err := s.recompute(ctx, units[0].TicketType); err != nil {
			monitoring.ReconciliationsTotal.WithLabelValues(sig.Trigger, "store_error").Inc()
			return nil, err
		}
		monitoring.ReconciliationsTotal.WithLabelValues(sig.Trigger, OutcomeAlreadyPaid).Inc()
		return &Outcome{
			Status:      OutcomeAlreadyPaid,
			BulkOrderID: bulkOrderID,
			Reference:   reference,
			Units:       units,
		}, nil
	}

	// The signal is a hint, never proof. The gateway answer is the only
	// input that moves money state.
	if charge == nil {
		charge, err = s.verify(ctx, reference)
		if err != nil {
			monitoring.ReconciliationsTotal.WithLabelValues(sig.Trigger, "upstream_error").Inc()
			return nil, &status.UpstreamError{Op: "verify", Err: err}
		}
	}

	switch charge.Status {
	case bank.ChargeSuccess:
		// continue below
	case bank.ChargeFailed:
		if err := s.store.MarkGroupFailed(ctx, bulkOrderID); err != nil {
			return nil, fmt.Errorf("reconcile: mark failed: %w", err)
		}
		monitoring.ReconciliationsTotal.WithLabelValues(sig.Trigger, OutcomeFailed).Inc()
		slog.Info("payment failed at gateway", "bulkOrderId", bulkOrderID, "reference", charge.Reference)
		return &Outcome{Status: OutcomeFailed, BulkOrderID: bulkOrderID, Reference: charge.Reference}, nil
	default:
		monitoring.ReconciliationsTotal.WithLabelValues(sig.Trigger, OutcomePending).Inc()
		return &Outcome{Status: OutcomePending, BulkOrderID: bulkOrderID, Reference: charge.Reference}, nil
	}

	if charge.Reference != "" {
		reference = charge.Reference
	}

	// Best-effort lock so racing channels do not all generate codes and
	// recompute counters. Losing the race is harmless.
	unlock := s.tryLock(ctx, bulkOrderID)
	defer unlock()

	newlyPaid := 0
	for _, u := range units {
		if u.PaymentStatus == models.PaymentPaid {
			continue
		}

		code, err := s.codes.Generate(u)
		if err != nil {
			return nil, fmt.Errorf("reconcile: entry code: %w", err)
		}

		claimed, err := s.store.MarkUnitPaid(ctx, u.ID, reference, code.Payload)
		if err != nil {
			return nil, fmt.Errorf("reconcile: %w", err)
		}
		if claimed {
			newlyPaid++
			now := time.Now()
			u.PaymentStatus = models.PaymentPaid
			u.PaymentReference = reference
			u.EntryCode = code.Payload
			u.PaidAt = &now
		} else {
			// a concurrent reconciliation won this unit
			u.PaymentStatus = models.PaymentPaid
		}
	}

	outcome := &Outcome{
		Status:      OutcomeConfirmed,
		BulkOrderID: bulkOrderID,
		Reference:   reference,
		Units:       units,
	}
	if newlyPaid == 0 {
		outcome.Status = OutcomeAlreadyPaid
	}

	slog.Info("payment reconciled",
		"trigger", sig.Trigger,
		"bulkOrderId", bulkOrderID,
		"reference", reference,
		"newlyPaid", newlyPaid,
		"units", len(units),
	)

	// The notification goes out on the run that flipped the units; a retry
	// of this confirmation lands on the already-paid path and never sends
	// a second email.
	if newlyPaid > 0 {
		go s.notify(units)
		if s.publisher != nil {
			s.publisher.PaymentSucceeded(bulkOrderID, outcome)
		}
	}

	// A paid unit must never be left behind without its inventory
	// recomputation. Propagating the failure makes the caller replay the
	// signal, and the replay repairs the counters through the already-paid
	// path above.
	if err := s.recompute(ctx, units[0].TicketType); err != nil {
		monitoring.ReconciliationsTotal.WithLabelValues(sig.Trigger, "store_error").Inc()
		return nil, err
	}

	monitoring.ReconciliationsTotal.WithLabelValues(sig.Trigger, outcome.Status).Inc()

	return outcome, nil
}

// resolve finds the pending units a signal refers to. It returns the charge
// too when resolution had to call the gateway, so Reconcile does not verify
// twice.
func (s *ReconcileService) resolve(ctx context.Context, sig *Signal) ([]*models.TicketUnit, *bank.Charge, error) {
	if sig.Reference != "" {
		units, err := s.store.UnitsByReference(ctx, sig.Reference)
		if err != nil {
			return nil, nil, fmt.Errorf("reconcile: by reference: %w", err)
		}
		if len(units) > 0 {
			// expand to the whole group so one signal settles the whole
			// multi-unit order
			group, err := s.store.UnitsByBulkOrder(ctx, units[0].BulkOrderID)
			if err != nil {
				return nil, nil, fmt.Errorf("reconcile: expand group: %w", err)
			}
			if len(group) > len(units) {
				return group, nil, nil
			}
			return units, nil, nil
		}
	}

	// Reference lookup came up empty: the reference write was lost or the
	// signal never carried one. Fall back to the purchase group id from
	// the signal, then from the gateway's metadata echo.
	bulkID := sig.BulkOrderID
	var charge *bank.Charge
	if bulkID == "" && sig.Reference != "" {
		var err error
		charge, err = s.verify(ctx, sig.Reference)
		if err != nil {
			return nil, nil, &status.UpstreamError{Op: "verify", Err: err}
		}
		bulkID = charge.Metadata.BulkOrderID
	}

	if bulkID != "" {
		units, err := s.store.UnitsByBulkOrder(ctx, bulkID)
		if err != nil {
			return nil, nil, fmt.Errorf("reconcile: by bulk order: %w", err)
		}
		if len(units) > 0 {
			if sig.Reference != "" {
				// repair the lost reference so future signals resolve
				// on the fast path
				if err := s.store.AttachReference(ctx, bulkID, sig.Reference); err != nil {
					slog.Error("failed to repair payment reference",
						"bulkOrderId", bulkID, "error", err)
				}
			}
			return units, charge, nil
		}
	}

	// Last resort: newest pending group for the payer email. Logged loudly
	// because it can misattribute when a buyer has several open orders.
	email := sig.Email
	if email == "" && charge != nil {
		email = charge.PayerEmail
	}
	if email != "" {
		recovered, err := s.store.RecentPendingBulkOrder(ctx, email)
		if err == nil && recovered != "" {
			slog.Warn("resolved confirmation by payer email",
				"trigger", sig.Trigger, "email", email, "bulkOrderId", recovered)
			units, err := s.store.UnitsByBulkOrder(ctx, recovered)
			if err != nil {
				return nil, nil, fmt.Errorf("reconcile: recovered group: %w", err)
			}
			if len(units) > 0 {
				if sig.Reference != "" {
					if err := s.store.AttachReference(ctx, recovered, sig.Reference); err != nil {
						slog.Error("failed to repair payment reference",
							"bulkOrderId", recovered, "error", err)
					}
				}
				return units, charge, nil
			}
		} else if err != nil && !errors.Is(err, status.ErrNotFound) {
			return nil, nil, fmt.Errorf("reconcile: by email: %w", err)
		}
	}

	return nil, nil, status.ErrNotFound
}

// recompute derives the tier's sold counter and the event status from the
// ledger. Idempotent, so it runs on every reconciliation of a group.
func (s *ReconcileService) recompute(ctx context.Context, typeName string) error {
	sold, err := s.store.RecomputeSoldCount(ctx, typeName)
	if err != nil {
		return fmt.Errorf("reconcile: recompute sold: %w", err)
	}
	monitoring.TicketsSold.WithLabelValues(typeName).Set(float64(sold))

	if err := s.store.RecomputeEventStatus(ctx); err != nil {
		return fmt.Errorf("reconcile: recompute event status: %w", err)
	}
	return nil
}

func (s *ReconcileService) verify(ctx context.Context, reference string) (*bank.Charge, error) {
	if reference == "" {
		return nil, fmt.Errorf("no payment reference to verify")
	}

	start := time.Now()
	var charge *bank.Charge
	err := s.breaker.Execute(func() error {
		var err error
		charge, err = s.gateway.Verify(ctx, reference)
		return err
	})
	monitoring.GatewayRequestDuration.WithLabelValues("verify").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return charge, nil
}

func (s *ReconcileService) tryLock(ctx context.Context, bulkOrderID string) func() {
	if s.rdb == nil {
		return func() {}
	}

	key := "reconcile:" + bulkOrderID
	ok, err := s.rdb.SetNX(ctx, key, 1, 30*time.Second).Result()
	if err != nil {
		slog.Warn("reconcile lock unavailable", "bulkOrderId", bulkOrderID, "error", err)
		return func() {}
	}
	if !ok {
		return func() {}
	}
	return func() {
		if err := s.rdb.Del(context.Background(), key).Err(); err != nil {
			slog.Warn("failed to release reconcile lock", "bulkOrderId", bulkOrderID, "error", err)
		}
	}
}

func (s *ReconcileService) notify(units []*models.TicketUnit) {
	if s.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
	defer cancel()

	err := s.notifier.SendTickets(ctx, units)
	if err != nil {
		monitoring.NotificationFailuresTotal.Inc()
		slog.Error("failed to send ticket confirmation",
			"bulkOrderId", units[0].BulkOrderID, "email", units[0].Email, "error", err)
	}
	for _, u := range units {
		if markErr := s.store.MarkNotified(ctx, u.ID, err); markErr != nil {
			slog.Error("failed to record notification outcome", "unit", u.ID, "error", markErr)
		}
	}
}

func allPaid(units []*models.TicketUnit) bool {
	for _, u := range units {
		if u.PaymentStatus != models.PaymentPaid {
			return false
		}
	}
	return len(units) > 0
}
