package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("tickets")

		collection.Fields.Add(
			&core.TextField{Name: "ticket_no", Required: true},
			&core.TextField{Name: "short_code", Required: true},
			&core.TextField{Name: "bulk_order_id", Required: true},

			&core.TextField{Name: "name", Required: true},
			&core.EmailField{Name: "email", Required: true},
			&core.TextField{Name: "phone"},

			&core.TextField{Name: "ticket_type", Required: true},
			&core.NumberField{Name: "price"},
			&core.NumberField{Name: "quantity", OnlyInt: true},

			&core.SelectField{
				Name:      "payment_status",
				MaxSelect: 1,
				Values:    []string{"pending", "paid", "failed", "refunded"},
			},
			&core.TextField{Name: "payment_reference"},
			&core.DateField{Name: "paid_at"},

			&core.TextField{Name: "entry_code"},
			&core.BoolField{Name: "scanned"},
			&core.DateField{Name: "scanned_at"},
			&core.TextField{Name: "scanned_by"},

			&core.BoolField{Name: "email_sent"},
			&core.TextField{Name: "email_error"},

			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_tickets_ticket_no", true, "ticket_no", "")
		collection.AddIndex("idx_tickets_short_code", true, "short_code", "")
		collection.AddIndex("idx_tickets_bulk_order_id", false, "bulk_order_id", "")
		collection.AddIndex("idx_tickets_payment_reference", false, "payment_reference", "")
		collection.AddIndex("idx_tickets_email", false, "email", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("tickets")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
