package infra

import (
	"fmt"

	"github.com/bugradavut/dev-vizionmenu-sub009/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase establishes a GORM connection backed by pgx, runs AutoMigrate
// for the fiscal tables, then applies idempotent SQL patches for what GORM
// cannot express (partial indexes enforcing the queue invariants).
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	if err := RunMigrations(db); err != nil {
		return nil, err
	}
	return db, nil
}

// RunMigrations creates/updates the schema. Also used by integration tests
// against a throwaway container.
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Branch{},
		&model.FiscalTransaction{},
	); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return applySchemaPatches(db)
}

// applySchemaPatches runs idempotent DDL that AutoMigrate cannot express.
// Each statement uses IF NOT EXISTS semantics so re-running is safe.
func applySchemaPatches(db *gorm.DB) error {
	patches := []string{
		// At most one active record per (order_id, transaction_type) —
		// the DB-level backstop for the idempotency invariant.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_fiscal_tx_one_active
		     ON fiscal_transactions (order_id, transaction_type)
		     WHERE status IN ('pending', 'processing')`,
		// Drain selection: pending records per branch whose backoff elapsed
		`CREATE INDEX IF NOT EXISTS idx_fiscal_tx_eligible
		     ON fiscal_transactions (branch_id, created_at)
		     WHERE status = 'pending'`,
		// Recovery sweep: claims orphaned by a crash
		`CREATE INDEX IF NOT EXISTS idx_fiscal_tx_stale_claims
		     ON fiscal_transactions (processing_at)
		     WHERE status = 'processing'`,
	}

	for _, sql := range patches {
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("schema patch: %w", err)
		}
	}
	return nil
}
