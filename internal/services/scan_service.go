package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ftc-tickets/internal/entrycode"
	"ftc-tickets/internal/status"
	"ftc-tickets/models"
	"ftc-tickets/monitoring"
)

// ScanRequest is an entry validation attempt from the door. ShortCode wins
// over Payload when both are present.
type ScanRequest struct {
	ShortCode string `json:"shortCode"`
	Payload   string `json:"qrData"`
	Operator  string `json:"operator"`
}

// ScanResult is the admit decision plus the unit for display at the door.
type ScanResult struct {
	Admitted bool               `json:"admitted"`
	Unit     *models.TicketUnit `json:"ticket"`
}

// ScanService guards single-use admission. The atomic claim in the store is
// the only admit path; two devices scanning the same ticket at the same
// instant get exactly one green.
type ScanService struct {
	store Store
}

func NewScanService(store Store) *ScanService {
	return &ScanService{store: store}
}

// Scan resolves the credential, checks payment state and consumes the
// unit's admission.
func (s *ScanService) Scan(ctx context.Context, req *ScanRequest) (*ScanResult, error) {
	unit, err := s.lookup(ctx, req)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			monitoring.ScansTotal.WithLabelValues("not_found").Inc()
		}
		return nil, err
	}

	return s.claim(ctx, unit, req.Operator)
}

// AdmitByTicketNo consumes a unit's admission by its ticket number, the
// manual path for when a door device cannot read the code. Same single-use
// rules as Scan.
func (s *ScanService) AdmitByTicketNo(ctx context.Context, ticketNo, operator string) (*ScanResult, error) {
	ticketNo = strings.TrimSpace(ticketNo)
	if ticketNo == "" {
		return nil, status.Validationf("ticket number is required")
	}

	unit, err := s.store.UnitByTicketNo(ctx, ticketNo)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			monitoring.ScansTotal.WithLabelValues("not_found").Inc()
		}
		return nil, err
	}

	return s.claim(ctx, unit, operator)
}

// claim checks payment state and atomically consumes the admission.
func (s *ScanService) claim(ctx context.Context, unit *models.TicketUnit, operator string) (*ScanResult, error) {
	if unit.PaymentStatus != models.PaymentPaid {
		monitoring.ScansTotal.WithLabelValues("unpaid").Inc()
		return nil, &status.UnpaidError{PaymentStatus: unit.PaymentStatus}
	}

	claimed, err := s.store.ClaimScan(ctx, unit.ID, operator)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if !claimed {
		// Lost the race or the ticket was used earlier. Re-read to report
		// when it was consumed; the copy we hold predates the claim and
		// may miss the timestamp.
		monitoring.ScansTotal.WithLabelValues("already_used").Inc()
		used, err := s.store.UnitByTicketNo(ctx, unit.TicketNo)
		if err != nil {
			return nil, fmt.Errorf("scan: reread: %w", err)
		}
		conflict := &status.ConflictError{Reason: "ticket already used"}
		if used.ScannedAt != nil {
			conflict.ScannedAt = *used.ScannedAt
		}
		return nil, conflict
	}

	monitoring.ScansTotal.WithLabelValues("admitted").Inc()
	slog.Info("ticket admitted",
		"ticketNo", unit.TicketNo, "type", unit.TicketType, "operator", operator)

	admitted, err := s.store.UnitByTicketNo(ctx, unit.TicketNo)
	if err != nil {
		// The claim already went through; stamp the copy we hold so the
		// door display still shows a consumed ticket.
		now := time.Now()
		unit.Scanned = true
		unit.ScannedAt = &now
		unit.ScannedBy = operator
		return &ScanResult{Admitted: true, Unit: unit}, nil
	}
	return &ScanResult{Admitted: true, Unit: admitted}, nil
}

// Lookup resolves a credential without consuming it, for door preview
// screens.
func (s *ScanService) Lookup(ctx context.Context, shortCode string) (*models.TicketUnit, error) {
	shortCode = strings.ToUpper(strings.TrimSpace(shortCode))
	if shortCode == "" {
		return nil, status.Validationf("short code is required")
	}
	return s.store.UnitByShortCode(ctx, shortCode)
}

// TicketsByEmail lists a buyer's paid tickets.
func (s *ScanService) TicketsByEmail(ctx context.Context, email string) ([]*models.TicketUnit, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, status.Validationf("email is required")
	}
	return s.store.PaidUnitsByEmail(ctx, email)
}

func (s *ScanService) lookup(ctx context.Context, req *ScanRequest) (*models.TicketUnit, error) {
	if code := strings.ToUpper(strings.TrimSpace(req.ShortCode)); code != "" {
		return s.store.UnitByShortCode(ctx, code)
	}

	if raw := strings.TrimSpace(req.Payload); raw != "" {
		return s.store.UnitByTicketNo(ctx, entrycode.Decode(raw))
	}

	return nil, status.Validationf("shortCode or qrData is required")
}
