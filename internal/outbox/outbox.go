// Package outbox appends durable "pending sync" records. Every local write
// that needs remote mirroring enqueues here inside the same transaction, and
// the sync service drains the queue; writes are never fire-and-forget.
package outbox

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mesa-system/internal/database/models"
)

// Append enqueues one row for push. Re-appending the same row before it is
// drained is a no-op, so repeated edits collapse into one pending entry.
func Append(tx *gorm.DB, entity string, localID int64) error {
	entry := models.SyncOutbox{Entity: entity, LocalID: localID}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error
}

// Drop removes a drained entry after a successful push.
func Drop(tx *gorm.DB, entity string, localID int64) error {
	return tx.Where("entity = ? AND local_id = ?", entity, localID).
		Delete(&models.SyncOutbox{}).Error
}
