package database

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mesa-system/internal/database/models"
)

// NewConnection opens the local embedded store. WAL mode keeps readers from
// blocking behind the short write transactions the order engine runs, and the
// busy timeout covers cross-process lock contention on the transaction log.
func NewConnection(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// churn under interleaved requests.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Branch{},
		&models.User{},
		&models.Product{},
		&models.Customer{},
		&models.Table{},
		&models.Order{},
		&models.OrderItem{},
		&models.Supplier{},
		&models.Purchase{},
		&models.PurchaseItem{},
		&models.PurchaseOrder{},
		&models.PurchaseOrderItem{},
		&models.FinanceEntry{},
		&models.Expense{},
		&models.CustomerLedger{},
		&models.License{},
		&models.SyncOutbox{},
		&models.SyncLog{},
	)
}
