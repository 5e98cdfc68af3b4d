package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ftc-tickets/internal/entrycode"
	"ftc-tickets/internal/services/bank"
	"ftc-tickets/internal/status"
	"ftc-tickets/models"
)

// fakeStore is an in-memory Store with the same conditional-update
// semantics as the real ledger, safe for concurrent use so the race tests
// mean something.
type fakeStore struct {
	mu     sync.Mutex
	seq    int
	units  map[string]*models.TicketUnit
	types  map[string]*models.TicketType
	event  *models.EventConfig
	failed map[string]bool

	notified map[string]error

	// Failure and interception hooks for exercising partial-failure paths.
	recomputeErr error
	ticketNoErr  error
	onClaimScan  func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		units:    make(map[string]*models.TicketUnit),
		types:    make(map[string]*models.TicketType),
		failed:   make(map[string]bool),
		notified: make(map[string]error),
		event:    &models.EventConfig{ID: "evt1", Name: "Test Event", Status: models.EventActive},
	}
}

func (f *fakeStore) addType(t *models.TicketType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types[t.Name] = t
}

func (f *fakeStore) addUnit(u *models.TicketUnit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == "" {
		f.seq++
		u.ID = fmt.Sprintf("unit%d", f.seq)
	}
	cp := *u
	f.units[u.ID] = &cp
}

func (f *fakeStore) unit(id string) *models.TicketUnit {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.units[id]
	return &cp
}

func (f *fakeStore) GetOrCreateEvent(ctx context.Context, name string, date time.Time, location string) (*models.EventConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.event, nil
}

func (f *fakeStore) ListTypes(ctx context.Context) ([]*models.TicketType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.TicketType, 0, len(f.types))
	for _, t := range f.types {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) FindActiveType(ctx context.Context, name string) (*models.TicketType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.types[name]
	if !ok || !t.Active {
		return nil, status.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) FindType(ctx context.Context, name string) (*models.TicketType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.types[name]
	if !ok {
		return nil, status.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) CreateUnits(ctx context.Context, units []*models.TicketUnit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range units {
		f.seq++
		u.ID = fmt.Sprintf("unit%d", f.seq)
		cp := *u
		f.units[u.ID] = &cp
	}
	return nil
}

func (f *fakeStore) AttachReference(ctx context.Context, bulkOrderID, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.units {
		if u.BulkOrderID == bulkOrderID && u.PaymentReference == "" {
			u.PaymentReference = reference
		}
	}
	return nil
}

func (f *fakeStore) UnitsByReference(ctx context.Context, reference string) ([]*models.TicketUnit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.TicketUnit
	for _, u := range f.units {
		if u.PaymentReference == reference && reference != "" {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) UnitsByBulkOrder(ctx context.Context, bulkOrderID string) ([]*models.TicketUnit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.TicketUnit
	for _, u := range f.units {
		if u.BulkOrderID == bulkOrderID {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) RecentPendingBulkOrder(ctx context.Context, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newest *models.TicketUnit
	for _, u := range f.units {
		if u.Email == email && u.PaymentStatus == models.PaymentPending {
			if newest == nil || u.Created.After(newest.Created) {
				newest = u
			}
		}
	}
	if newest == nil {
		return "", status.ErrNotFound
	}
	return newest.BulkOrderID, nil
}

func (f *fakeStore) PaidUnitsByEmail(ctx context.Context, email string) ([]*models.TicketUnit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.TicketUnit
	for _, u := range f.units {
		if u.Email == email && u.PaymentStatus == models.PaymentPaid {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) UnitByShortCode(ctx context.Context, code string) (*models.TicketUnit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.units {
		if u.ShortCode == code {
			cp := *u
			return &cp, nil
		}
	}
	return nil, status.ErrNotFound
}

func (f *fakeStore) UnitByTicketNo(ctx context.Context, ticketNo string) (*models.TicketUnit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ticketNoErr != nil {
		return nil, f.ticketNoErr
	}
	for _, u := range f.units {
		if u.TicketNo == ticketNo {
			cp := *u
			return &cp, nil
		}
	}
	return nil, status.ErrNotFound
}

func (f *fakeStore) MarkUnitPaid(ctx context.Context, unitID, reference, entryCode string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.units[unitID]
	if !ok || u.PaymentStatus != models.PaymentPending {
		return false, nil
	}
	now := time.Now()
	u.PaymentStatus = models.PaymentPaid
	u.PaymentReference = reference
	u.EntryCode = entryCode
	u.PaidAt = &now
	return true, nil
}

func (f *fakeStore) MarkGroupFailed(ctx context.Context, bulkOrderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[bulkOrderID] = true
	for _, u := range f.units {
		if u.BulkOrderID == bulkOrderID && u.PaymentStatus == models.PaymentPending {
			u.PaymentStatus = models.PaymentFailed
		}
	}
	return nil
}

func (f *fakeStore) ClaimScan(ctx context.Context, unitID, operator string) (bool, error) {
	if f.onClaimScan != nil {
		f.onClaimScan()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.units[unitID]
	if !ok || u.Scanned || u.PaymentStatus != models.PaymentPaid {
		return false, nil
	}
	now := time.Now()
	u.Scanned = true
	u.ScannedAt = &now
	u.ScannedBy = operator
	return true, nil
}

func (f *fakeStore) RecomputeSoldCount(ctx context.Context, typeName string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recomputeErr != nil {
		return 0, f.recomputeErr
	}
	count := 0
	for _, u := range f.units {
		if u.TicketType == typeName && u.PaymentStatus == models.PaymentPaid {
			count++
		}
	}
	if t, ok := f.types[typeName]; ok {
		t.Sold = count
	}
	return count, nil
}

func (f *fakeStore) RecomputeEventStatus(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.event.Status == models.EventEnded {
		return nil
	}
	soldOut := len(f.types) > 0
	for _, t := range f.types {
		if t.Active && t.Sold < t.Limit {
			soldOut = false
		}
	}
	if soldOut {
		f.event.Status = models.EventSoldOut
	} else {
		f.event.Status = models.EventActive
	}
	return nil
}

func (f *fakeStore) MarkNotified(ctx context.Context, unitID string, sendErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified[unitID] = sendErr
	if u, ok := f.units[unitID]; ok {
		u.EmailSent = sendErr == nil
	}
	return nil
}

// fakeGateway scripts the gateway's answers.
type fakeGateway struct {
	mu sync.Mutex

	intent    *bank.Intent
	initErr   error
	initCalls int

	charge      *bank.Charge
	verifyErr   error
	verifyCalls int
}

func (g *fakeGateway) Initiate(ctx context.Context, email string, amount decimal.Decimal, meta bank.Metadata) (*bank.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initCalls++
	if g.initErr != nil {
		return nil, g.initErr
	}
	return g.intent, nil
}

func (g *fakeGateway) Verify(ctx context.Context, reference string) (*bank.Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.charge, nil
}

func (g *fakeGateway) verifyCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifyCalls
}

// fakeNotifier records what was sent.
type fakeNotifier struct {
	mu    sync.Mutex
	sent  [][]*models.TicketUnit
	err   error
	ready chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{ready: make(chan struct{}, 10)}
}

func (n *fakeNotifier) SendTickets(ctx context.Context, units []*models.TicketUnit) error {
	n.mu.Lock()
	n.sent = append(n.sent, units)
	err := n.err
	n.mu.Unlock()
	n.ready <- struct{}{}
	return err
}

func (n *fakeNotifier) sentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// fakePublisher records realtime pushes.
type fakePublisher struct {
	mu     sync.Mutex
	orders []string
}

func (p *fakePublisher) PaymentSucceeded(bulkOrderID string, outcome *Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, bulkOrderID)
}

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.orders...)
}

var testCodes = entrycode.NewPayloadGenerator("Test Event")
