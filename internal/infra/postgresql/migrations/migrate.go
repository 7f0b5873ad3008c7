package migrations

import (
	"github.com/classpoint/notify/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_notification_outbox",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.IntentModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_outbox_claim ON notification_outbox (created_at) WHERE status IN ('PENDING', 'DISPATCHING')`,
					`CREATE INDEX IF NOT EXISTS idx_outbox_status ON notification_outbox (status)`,
					`CREATE INDEX IF NOT EXISTS idx_outbox_correlation_id ON notification_outbox (correlation_id)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.IntentModel{})
			},
		},
		{
			ID: "000002_create_notification_deliveries",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.DeliveryModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_deliveries_retry ON notification_deliveries (next_retry_at) WHERE state = 'RETRYING'`,
					`CREATE INDEX IF NOT EXISTS idx_deliveries_intent ON notification_deliveries (intent_id)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DeliveryModel{})
			},
		},
	})

	return m.Migrate()
}
