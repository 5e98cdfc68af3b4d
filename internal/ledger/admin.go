package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"

	"ftc-tickets/internal/status"
	"ftc-tickets/models"
)

// SaveType creates or updates a ticket tier. The sold counter is never
// written here; it belongs to RecomputeSoldCount.
func (l *Ledger) SaveType(ctx context.Context, t *models.TicketType) (*models.TicketType, error) {
	var rec *core.Record
	if t.ID != "" {
		var err error
		rec, err = l.app.FindRecordById(collTicketTypes, t.ID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, status.ErrNotFound
			}
			return nil, fmt.Errorf("ledger.SaveType: %w", err)
		}
	} else {
		coll, err := l.app.FindCollectionByNameOrId(collTicketTypes)
		if err != nil {
			return nil, fmt.Errorf("ledger.SaveType: %w", err)
		}
		rec = core.NewRecord(coll)
		rec.Set("sold", 0)
	}

	rec.Set("name", t.Name)
	rec.Set("price", t.Price)
	rec.Set("limit", t.Limit)
	rec.Set("is_active", t.Active)
	rec.Set("description", t.Description)

	if err := l.app.SaveWithContext(ctx, rec); err != nil {
		return nil, fmt.Errorf("ledger.SaveType: save: %w", err)
	}
	return recordToType(rec), nil
}

// DeleteType removes a tier that has no paid units.
func (l *Ledger) DeleteType(ctx context.Context, id string) error {
	rec, err := l.app.FindRecordById(collTicketTypes, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return status.ErrNotFound
		}
		return fmt.Errorf("ledger.DeleteType: %w", err)
	}

	var row struct {
		Cnt int `db:"cnt"`
	}
	err = l.app.DB().NewQuery(
		"SELECT COUNT(*) AS cnt FROM tickets "+
			"WHERE ticket_type = {:t} AND payment_status = {:paid}",
	).Bind(dbx.Params{"t": rec.GetString("name"), "paid": models.PaymentPaid}).
		WithContext(ctx).One(&row)
	if err != nil {
		return fmt.Errorf("ledger.DeleteType: count: %w", err)
	}
	if row.Cnt > 0 {
		return status.Validationf("cannot delete type %q with %d sold tickets", rec.GetString("name"), row.Cnt)
	}

	if err := l.app.Delete(rec); err != nil {
		return fmt.Errorf("ledger.DeleteType: delete: %w", err)
	}
	return nil
}

// RestockType raises a tier's capacity and reactivates it.
func (l *Ledger) RestockType(ctx context.Context, id string, addLimit int) (*models.TicketType, error) {
	if addLimit <= 0 {
		return nil, status.Validationf("restock amount must be positive")
	}

	rec, err := l.app.FindRecordById(collTicketTypes, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrNotFound
		}
		return nil, fmt.Errorf("ledger.RestockType: %w", err)
	}

	rec.Set("limit", rec.GetInt("limit")+addLimit)
	rec.Set("is_active", true)
	if err := l.app.SaveWithContext(ctx, rec); err != nil {
		return nil, fmt.Errorf("ledger.RestockType: save: %w", err)
	}
	return recordToType(rec), nil
}

// SetTypeActive flips a tier's purchasable flag.
func (l *Ledger) SetTypeActive(ctx context.Context, id string, active bool) (*models.TicketType, error) {
	rec, err := l.app.FindRecordById(collTicketTypes, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrNotFound
		}
		return nil, fmt.Errorf("ledger.SetTypeActive: %w", err)
	}

	rec.Set("is_active", active)
	if err := l.app.SaveWithContext(ctx, rec); err != nil {
		return nil, fmt.Errorf("ledger.SetTypeActive: save: %w", err)
	}
	return recordToType(rec), nil
}

// Stats aggregates the dashboard counters in one round trip per figure.
func (l *Ledger) Stats(ctx context.Context) (*models.Stats, error) {
	var row struct {
		Total   int     `db:"total"`
		Paid    int     `db:"paid"`
		Pending int     `db:"pending"`
		Scanned int     `db:"scanned"`
		Revenue float64 `db:"revenue"`
	}
	err := l.app.DB().NewQuery(
		"SELECT COUNT(*) AS total, "+
			"SUM(CASE WHEN payment_status = {:paid} THEN 1 ELSE 0 END) AS paid, "+
			"SUM(CASE WHEN payment_status = {:pending} THEN 1 ELSE 0 END) AS pending, "+
			"SUM(CASE WHEN scanned = TRUE THEN 1 ELSE 0 END) AS scanned, "+
			"COALESCE(SUM(CASE WHEN payment_status = {:paid} THEN price ELSE 0 END), 0) AS revenue "+
			"FROM tickets",
	).Bind(dbx.Params{
		"paid":    models.PaymentPaid,
		"pending": models.PaymentPending,
	}).WithContext(ctx).One(&row)
	if err != nil {
		return nil, fmt.Errorf("ledger.Stats: %w", err)
	}

	return &models.Stats{
		TotalUnits:   row.Total,
		PaidUnits:    row.Paid,
		PendingUnits: row.Pending,
		ScannedUnits: row.Scanned,
		Revenue:      row.Revenue,
	}, nil
}

// UnscanUnit reverses an admission claim, an operator correction path.
func (l *Ledger) UnscanUnit(ctx context.Context, unitID string) error {
	res, err := l.app.DB().NewQuery(
		"UPDATE tickets SET scanned = FALSE, scanned_at = '', scanned_by = '' "+
			"WHERE id = {:id} AND scanned = TRUE",
	).Bind(dbx.Params{"id": unitID}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("ledger.UnscanUnit: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger.UnscanUnit: rows: %w", err)
	}
	if n == 0 {
		return status.ErrNotFound
	}
	return nil
}

// StalePendingGroups lists distinct bulk orders that have been pending
// longer than ttl, for the background sweep to re-check.
func (l *Ledger) StalePendingGroups(ctx context.Context, ttl time.Duration) ([]string, error) {
	cutoff := types.NowDateTime().Time().Add(-ttl).Format(types.DefaultDateLayout)

	var rows []dbx.NullStringMap
	err := l.app.DB().NewQuery(
		"SELECT DISTINCT bulk_order_id FROM tickets "+
			"WHERE payment_status = {:pending} AND created < {:cutoff}",
	).Bind(dbx.Params{
		"pending": models.PaymentPending,
		"cutoff":  cutoff,
	}).WithContext(ctx).All(&rows)
	if err != nil {
		return nil, fmt.Errorf("ledger.StalePendingGroups: %w", err)
	}

	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if v := row["bulk_order_id"]; v.Valid && v.String != "" {
			out = append(out, v.String)
		}
	}
	return out, nil
}
