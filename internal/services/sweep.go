package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ftc-tickets/internal/status"
)

// staleLister is the slice of the ledger the sweep needs.
type staleLister interface {
	StalePendingGroups(ctx context.Context, ttl time.Duration) ([]string, error)
}

// Sweeper periodically re-reconciles purchase groups that stayed pending
// past their TTL. It catches orders whose webhook was lost and whose buyer
// never returned to the callback page.
type Sweeper struct {
	lister     staleLister
	reconciler *ReconcileService

	interval time.Duration
	ttl      time.Duration
}

func NewSweeper(lister staleLister, reconciler *ReconcileService, interval, ttl time.Duration) *Sweeper {
	return &Sweeper{
		lister:     lister,
		reconciler: reconciler,
		interval:   interval,
		ttl:        ttl,
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("stale pending sweep started", "interval", s.interval, "ttl", s.ttl)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stale pending sweep stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	groups, err := s.lister.StalePendingGroups(ctx, s.ttl)
	if err != nil {
		slog.Error("stale pending sweep failed", "error", err)
		return
	}
	if len(groups) == 0 {
		return
	}

	slog.Info("re-checking stale pending orders", "count", len(groups))

	for _, bulkOrderID := range groups {
		outcome, err := s.reconciler.Reconcile(ctx, &Signal{
			Trigger:     TriggerSweep,
			BulkOrderID: bulkOrderID,
		})
		if err != nil {
			var upstream *status.UpstreamError
			switch {
			case errors.Is(err, status.ErrNotFound):
				// group disappeared between listing and reconcile
			case errors.As(err, &upstream):
				slog.Warn("sweep verify unavailable", "bulkOrderId", bulkOrderID, "error", err)
			default:
				slog.Error("sweep reconcile failed", "bulkOrderId", bulkOrderID, "error", err)
			}
			continue
		}
		if outcome.Status == OutcomeConfirmed {
			slog.Info("sweep recovered a lost confirmation", "bulkOrderId", bulkOrderID)
		}
	}
}
