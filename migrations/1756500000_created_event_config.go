package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("event_config")

		collection.Fields.Add(
			&core.TextField{Name: "name", Required: true},
			&core.DateField{Name: "event_date"},
			&core.TextField{Name: "location"},
			&core.SelectField{
				Name:      "status",
				MaxSelect: 1,
				Values:    []string{"active", "sold_out", "ended"},
			},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("event_config")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
