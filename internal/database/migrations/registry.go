package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/camrec/internal/models"
)

// Catalog returns the catalog schema steps.
func Catalog() []Step {
	return []Step{
		createTable(1, "create recordings", &models.Recording{}),
		createTable(2, "create schedule_runs", &models.ScheduleRun{}),
	}
}

func createTable(version int, name string, model any) Step {
	return Step{
		Version: version,
		Name:    name,
		Apply: func(tx *gorm.DB) error {
			return tx.AutoMigrate(model)
		},
		Revert: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(model)
		},
	}
}
