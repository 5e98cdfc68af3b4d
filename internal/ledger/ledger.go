package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"

	"ftc-tickets/internal/status"
	"ftc-tickets/models"
	"ftc-tickets/utils"
)

const (
	collEventConfig = "event_config"
	collTicketTypes = "ticket_types"
	collTickets     = "tickets"
)

// Ledger is the persistence layer for event configuration, inventory tiers
// and ticket units. Ticket units are append-only facts: state transitions
// happen through conditional updates so concurrent confirmations and scans
// cannot double-apply.
type Ledger struct {
	app core.App
}

func NewLedger(app core.App) *Ledger {
	return &Ledger{app: app}
}

// GetOrCreateEvent returns the singleton event record, creating it from the
// given defaults on first run.
func (l *Ledger) GetOrCreateEvent(ctx context.Context, name string, date time.Time, location string) (*models.EventConfig, error) {
	rec, err := l.app.FindFirstRecordByFilter(collEventConfig, "id != ''")
	if err == nil {
		return recordToEvent(rec), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger.GetOrCreateEvent: %w", err)
	}

	coll, err := l.app.FindCollectionByNameOrId(collEventConfig)
	if err != nil {
		return nil, fmt.Errorf("ledger.GetOrCreateEvent: %w", err)
	}

	rec = core.NewRecord(coll)
	rec.Set("name", name)
	rec.Set("event_date", date.UTC())
	rec.Set("location", location)
	rec.Set("status", models.EventActive)
	if err := l.app.SaveWithContext(ctx, rec); err != nil {
		return nil, fmt.Errorf("ledger.GetOrCreateEvent: save: %w", err)
	}

	return recordToEvent(rec), nil
}

// ListTypes returns every ticket type, active or not, ordered by price.
func (l *Ledger) ListTypes(ctx context.Context) ([]*models.TicketType, error) {
	recs, err := l.app.FindRecordsByFilter(collTicketTypes, "id != ''", "price", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("ledger.ListTypes: %w", err)
	}

	out := make([]*models.TicketType, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordToType(rec))
	}
	return out, nil
}

// FindActiveType resolves a purchasable tier by name.
func (l *Ledger) FindActiveType(ctx context.Context, name string) (*models.TicketType, error) {
	rec, err := l.app.FindFirstRecordByFilter(collTicketTypes,
		"name = {:name} && is_active = true",
		dbx.Params{"name": name},
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrNotFound
		}
		return nil, fmt.Errorf("ledger.FindActiveType: %w", err)
	}
	return recordToType(rec), nil
}

// FindType resolves a tier by name regardless of its active flag.
func (l *Ledger) FindType(ctx context.Context, name string) (*models.TicketType, error) {
	rec, err := l.app.FindFirstRecordByFilter(collTicketTypes,
		"name = {:name}", dbx.Params{"name": name})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrNotFound
		}
		return nil, fmt.Errorf("ledger.FindType: %w", err)
	}
	return recordToType(rec), nil
}

// CreateUnits persists a batch of pending units in one transaction. Short
// codes are unique; on a collision the offending unit gets a fresh code and
// the batch retries, up to three attempts.
func (l *Ledger) CreateUnits(ctx context.Context, units []*models.TicketUnit) error {
	coll, err := l.app.FindCollectionByNameOrId(collTickets)
	if err != nil {
		return fmt.Errorf("ledger.CreateUnits: %w", err)
	}

	const maxAttempts = 3
	for attempt := 1; ; attempt++ {
		err := l.app.RunInTransaction(func(txApp core.App) error {
			for _, u := range units {
				rec := core.NewRecord(coll)
				unitToRecord(u, rec)
				if err := txApp.SaveWithContext(ctx, rec); err != nil {
					return err
				}
				u.ID = rec.Id
			}
			return nil
		})
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts {
			return fmt.Errorf("ledger.CreateUnits: %w", err)
		}

		slog.Warn("retrying unit batch insert with fresh codes",
			"attempt", attempt, "error", err)
		for _, u := range units {
			u.ID = ""
			if code, codeErr := utils.ShortCode(); codeErr == nil {
				u.ShortCode = code
			}
			if no, noErr := utils.TicketNo(); noErr == nil {
				u.TicketNo = no
			}
		}
	}
}

// AttachReference stamps the gateway payment reference onto every unit of a
// bulk order. Units already carrying a reference keep it.
func (l *Ledger) AttachReference(ctx context.Context, bulkOrderID, reference string) error {
	_, err := l.app.DB().NewQuery(
		"UPDATE tickets SET payment_reference = {:ref} " +
			"WHERE bulk_order_id = {:bulk} AND payment_reference = ''",
	).Bind(dbx.Params{"ref": reference, "bulk": bulkOrderID}).
		WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("ledger.AttachReference: %w", err)
	}
	return nil
}

// UnitsByReference returns all units stamped with a payment reference.
func (l *Ledger) UnitsByReference(ctx context.Context, reference string) ([]*models.TicketUnit, error) {
	return l.findUnits("payment_reference = {:ref}", dbx.Params{"ref": reference})
}

// UnitsByBulkOrder returns all units of a purchase group.
func (l *Ledger) UnitsByBulkOrder(ctx context.Context, bulkOrderID string) ([]*models.TicketUnit, error) {
	return l.findUnits("bulk_order_id = {:bulk}", dbx.Params{"bulk": bulkOrderID})
}

// RecentPendingBulkOrder finds the newest pending purchase group for a buyer
// email, the last-resort resolver for confirmations that lost both the
// reference and the metadata.
func (l *Ledger) RecentPendingBulkOrder(ctx context.Context, email string) (string, error) {
	recs, err := l.app.FindRecordsByFilter(collTickets,
		"email = {:email} && payment_status = {:st}", "-created", 1, 0,
		dbx.Params{"email": email, "st": models.PaymentPending},
	)
	if err != nil {
		return "", fmt.Errorf("ledger.RecentPendingBulkOrder: %w", err)
	}
	if len(recs) == 0 {
		return "", status.ErrNotFound
	}
	return recs[0].GetString("bulk_order_id"), nil
}

// PaidUnitsByEmail lists a buyer's confirmed tickets, newest first.
func (l *Ledger) PaidUnitsByEmail(ctx context.Context, email string) ([]*models.TicketUnit, error) {
	recs, err := l.app.FindRecordsByFilter(collTickets,
		"email = {:email} && payment_status = {:st}", "-created", 0, 0,
		dbx.Params{"email": email, "st": models.PaymentPaid},
	)
	if err != nil {
		return nil, fmt.Errorf("ledger.PaidUnitsByEmail: %w", err)
	}

	out := make([]*models.TicketUnit, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordToUnit(rec))
	}
	return out, nil
}

// UnitByShortCode resolves a unit by its door code.
func (l *Ledger) UnitByShortCode(ctx context.Context, code string) (*models.TicketUnit, error) {
	return l.findUnit("short_code = {:code}", dbx.Params{"code": code})
}

// UnitByTicketNo resolves a unit by its ticket number.
func (l *Ledger) UnitByTicketNo(ctx context.Context, ticketNo string) (*models.TicketUnit, error) {
	return l.findUnit("ticket_no = {:no}", dbx.Params{"no": ticketNo})
}

// UnitByID resolves a unit by record id.
func (l *Ledger) UnitByID(ctx context.Context, id string) (*models.TicketUnit, error) {
	return l.findUnit("id = {:id}", dbx.Params{"id": id})
}

// MarkUnitPaid flips a single unit from pending to paid, stamping the
// reference, the entry code and the paid timestamp. The transition is a
// conditional update: it reports false when the unit was already paid (or
// otherwise left pending), which is how duplicate confirmations are
// absorbed no matter how many racers arrive.
func (l *Ledger) MarkUnitPaid(ctx context.Context, unitID, reference, entryCode string) (bool, error) {
	res, err := l.app.DB().NewQuery(
		"UPDATE tickets SET payment_status = {:paid}, payment_reference = {:ref}, "+
			"entry_code = {:code}, paid_at = {:at} "+
			"WHERE id = {:id} AND payment_status = {:pending}",
	).Bind(dbx.Params{
		"paid":    models.PaymentPaid,
		"ref":     reference,
		"code":    entryCode,
		"at":      types.NowDateTime().String(),
		"id":      unitID,
		"pending": models.PaymentPending,
	}).WithContext(ctx).Execute()
	if err != nil {
		return false, fmt.Errorf("ledger.MarkUnitPaid: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger.MarkUnitPaid: rows: %w", err)
	}
	return n > 0, nil
}

// MarkGroupFailed moves every still-pending unit of a group to failed.
// Paid units are untouched.
func (l *Ledger) MarkGroupFailed(ctx context.Context, bulkOrderID string) error {
	_, err := l.app.DB().NewQuery(
		"UPDATE tickets SET payment_status = {:failed} "+
			"WHERE bulk_order_id = {:bulk} AND payment_status = {:pending}",
	).Bind(dbx.Params{
		"failed":  models.PaymentFailed,
		"bulk":    bulkOrderID,
		"pending": models.PaymentPending,
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("ledger.MarkGroupFailed: %w", err)
	}
	return nil
}

// ClaimScan consumes a unit's single admission. The conditional update is
// the whole point: of any number of concurrent scans exactly one sees a
// row affected.
func (l *Ledger) ClaimScan(ctx context.Context, unitID, operator string) (bool, error) {
	res, err := l.app.DB().NewQuery(
		"UPDATE tickets SET scanned = TRUE, scanned_at = {:at}, scanned_by = {:by} "+
			"WHERE id = {:id} AND scanned = FALSE AND payment_status = {:paid}",
	).Bind(dbx.Params{
		"at":   types.NowDateTime().String(),
		"by":   operator,
		"id":   unitID,
		"paid": models.PaymentPaid,
	}).WithContext(ctx).Execute()
	if err != nil {
		return false, fmt.Errorf("ledger.ClaimScan: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger.ClaimScan: rows: %w", err)
	}
	return n > 0, nil
}

// RecomputeSoldCount derives a tier's sold counter from the count of paid
// units and writes it back. Recomputing instead of incrementing keeps the
// counter correct under replayed confirmations.
func (l *Ledger) RecomputeSoldCount(ctx context.Context, typeName string) (int, error) {
	var row struct {
		Cnt int `db:"cnt"`
	}
	err := l.app.DB().NewQuery(
		"SELECT COUNT(*) AS cnt FROM tickets "+
			"WHERE ticket_type = {:t} AND payment_status = {:paid}",
	).Bind(dbx.Params{"t": typeName, "paid": models.PaymentPaid}).
		WithContext(ctx).One(&row)
	if err != nil {
		return 0, fmt.Errorf("ledger.RecomputeSoldCount: count: %w", err)
	}

	rec, err := l.app.FindFirstRecordByFilter(collTicketTypes,
		"name = {:name}", dbx.Params{"name": typeName})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return row.Cnt, status.ErrNotFound
		}
		return row.Cnt, fmt.Errorf("ledger.RecomputeSoldCount: %w", err)
	}

	rec.Set("sold", row.Cnt)
	if err := l.app.SaveWithContext(ctx, rec); err != nil {
		return row.Cnt, fmt.Errorf("ledger.RecomputeSoldCount: save: %w", err)
	}
	return row.Cnt, nil
}

// RecomputeEventStatus flips the event between active and sold_out based on
// whether every active tier is at capacity. Ended is terminal and never
// touched here.
func (l *Ledger) RecomputeEventStatus(ctx context.Context) error {
	evRec, err := l.app.FindFirstRecordByFilter(collEventConfig, "id != ''")
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("ledger.RecomputeEventStatus: %w", err)
	}

	current := evRec.GetString("status")
	if current == models.EventEnded {
		return nil
	}

	typeRecs, err := l.app.FindRecordsByFilter(collTicketTypes,
		"is_active = true", "", 0, 0)
	if err != nil {
		return fmt.Errorf("ledger.RecomputeEventStatus: types: %w", err)
	}

	soldOut := len(typeRecs) > 0
	for _, rec := range typeRecs {
		if rec.GetInt("sold") < rec.GetInt("limit") {
			soldOut = false
			break
		}
	}

	next := models.EventActive
	if soldOut {
		next = models.EventSoldOut
	}
	if next == current {
		return nil
	}

	evRec.Set("status", next)
	if err := l.app.SaveWithContext(ctx, evRec); err != nil {
		return fmt.Errorf("ledger.RecomputeEventStatus: save: %w", err)
	}
	slog.Info("event status changed", "from", current, "to", next)
	return nil
}

// MarkNotified records the outcome of the confirmation email for a unit.
func (l *Ledger) MarkNotified(ctx context.Context, unitID string, sendErr error) error {
	rec, err := l.app.FindRecordById(collTickets, unitID)
	if err != nil {
		return fmt.Errorf("ledger.MarkNotified: %w", err)
	}

	if sendErr != nil {
		rec.Set("email_sent", false)
		rec.Set("email_error", sendErr.Error())
	} else {
		rec.Set("email_sent", true)
		rec.Set("email_error", "")
	}
	if err := l.app.SaveWithContext(ctx, rec); err != nil {
		return fmt.Errorf("ledger.MarkNotified: save: %w", err)
	}
	return nil
}

func (l *Ledger) findUnit(filter string, params dbx.Params) (*models.TicketUnit, error) {
	rec, err := l.app.FindFirstRecordByFilter(collTickets, filter, params)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrNotFound
		}
		return nil, fmt.Errorf("ledger.findUnit: %w", err)
	}
	return recordToUnit(rec), nil
}

func (l *Ledger) findUnits(filter string, params dbx.Params) ([]*models.TicketUnit, error) {
	recs, err := l.app.FindRecordsByFilter(collTickets, filter, "created", 0, 0, params)
	if err != nil {
		return nil, fmt.Errorf("ledger.findUnits: %w", err)
	}

	out := make([]*models.TicketUnit, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordToUnit(rec))
	}
	return out, nil
}

func recordToEvent(rec *core.Record) *models.EventConfig {
	return &models.EventConfig{
		ID:        rec.Id,
		Name:      rec.GetString("name"),
		EventDate: rec.GetDateTime("event_date").Time(),
		Location:  rec.GetString("location"),
		Status:    rec.GetString("status"),
	}
}

func recordToType(rec *core.Record) *models.TicketType {
	return &models.TicketType{
		ID:          rec.Id,
		Name:        rec.GetString("name"),
		Price:       rec.GetFloat("price"),
		Limit:       rec.GetInt("limit"),
		Sold:        rec.GetInt("sold"),
		Active:      rec.GetBool("is_active"),
		Description: rec.GetString("description"),
	}
}

func recordToUnit(rec *core.Record) *models.TicketUnit {
	u := &models.TicketUnit{
		ID:          rec.Id,
		TicketNo:    rec.GetString("ticket_no"),
		ShortCode:   rec.GetString("short_code"),
		BulkOrderID: rec.GetString("bulk_order_id"),

		Name:  rec.GetString("name"),
		Email: rec.GetString("email"),
		Phone: rec.GetString("phone"),

		TicketType: rec.GetString("ticket_type"),
		Price:      rec.GetFloat("price"),
		Quantity:   rec.GetInt("quantity"),

		PaymentStatus:    rec.GetString("payment_status"),
		PaymentReference: rec.GetString("payment_reference"),

		EntryCode: rec.GetString("entry_code"),
		Scanned:   rec.GetBool("scanned"),
		ScannedBy: rec.GetString("scanned_by"),

		EmailSent:  rec.GetBool("email_sent"),
		EmailError: rec.GetString("email_error"),

		Created: rec.GetDateTime("created").Time(),
	}

	if paidAt := rec.GetDateTime("paid_at"); !paidAt.IsZero() {
		t := paidAt.Time()
		u.PaidAt = &t
	}
	if scannedAt := rec.GetDateTime("scanned_at"); !scannedAt.IsZero() {
		t := scannedAt.Time()
		u.ScannedAt = &t
	}
	return u
}

func unitToRecord(u *models.TicketUnit, rec *core.Record) {
	rec.Set("ticket_no", u.TicketNo)
	rec.Set("short_code", u.ShortCode)
	rec.Set("bulk_order_id", u.BulkOrderID)
	rec.Set("name", u.Name)
	rec.Set("email", u.Email)
	rec.Set("phone", u.Phone)
	rec.Set("ticket_type", u.TicketType)
	rec.Set("price", u.Price)
	rec.Set("quantity", u.Quantity)
	rec.Set("payment_status", u.PaymentStatus)
	rec.Set("payment_reference", u.PaymentReference)
	rec.Set("entry_code", u.EntryCode)
	rec.Set("scanned", u.Scanned)
	rec.Set("email_sent", u.EmailSent)
}
