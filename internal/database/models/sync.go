package models

import "time"

// Mirrored entity names used by the outbox and the sync service.
const (
	EntityBranch   = "branches"
	EntityUser     = "users"
	EntityProduct  = "products"
	EntityCustomer = "customers"
	EntityTable    = "tables"
	EntityOrder    = "orders"
	EntitySupplier = "suppliers"
	EntityExpense  = "expenses"
	EntityPurchase = "purchases"
	EntityFinance  = "finance"
	EntityLedger   = "customer_ledger"
)

// SyncOutbox is the durable queue of rows awaiting a push to the remote
// store. A row is appended in the same transaction as the local write it
// mirrors, and deleted only after the remote upsert succeeded.
type SyncOutbox struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Entity    string    `gorm:"uniqueIndex:idx_outbox_entity_local;not null"`
	LocalID   int64     `gorm:"uniqueIndex:idx_outbox_entity_local;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (SyncOutbox) TableName() string { return "sync_outbox" }

// SyncLog records one push/pull run.
type SyncLog struct {
	ID           int64 `gorm:"primaryKey;autoIncrement"`
	LastSyncUp   *time.Time
	LastSyncDown *time.Time
	Status       string
}

func (SyncLog) TableName() string { return "sync_logs" }
