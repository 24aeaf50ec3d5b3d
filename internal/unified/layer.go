// Package unified presents one read/write contract per entity regardless of
// backing store. Reads try the remote store first when online and fall back
// to the local mirror on any remote failure; writes always land locally, and
// a write that could not reach the remote is queued for the sync service.
//
// The defining contract: local-store success is sufficient for the operation
// to succeed. Remote mirroring is best-effort and eventually consistent.
package unified

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"mesa-system/internal/apperrors"
	"mesa-system/internal/database/models"
	"mesa-system/internal/outbox"
	"mesa-system/internal/remote"
)

// EngineSQLite and EngineMongo name the store that is authoritative for
// reads. The engine is fixed at construction; per-call fallback does not
// change it.
const (
	EngineSQLite = "sqlite"
	EngineMongo  = "mongo"
)

type Config struct {
	// Engine selects the authoritative read store. EngineSQLite means the
	// layer never touches the remote; EngineMongo means remote-first with
	// local fallback.
	Engine string
}

// RemoteStore is the slice of the document-store adapter this layer needs.
type RemoteStore interface {
	FindAll(ctx context.Context, collection string, filter map[string]interface{}, fo remote.FindOptions) ([]map[string]interface{}, error)
	FindOne(ctx context.Context, collection string, filter map[string]interface{}) (map[string]interface{}, error)
	Insert(ctx context.Context, collection string, doc map[string]interface{}) (string, error)
	UpdateByID(ctx context.Context, collection string, id string, set map[string]interface{}) error
}

// StatusReporter exposes the connectivity monitor's cached state.
type StatusReporter interface {
	Status() bool
}

type QueryOptions struct {
	// Sort is a field name, "-" prefixed for descending, e.g. "-createdAt".
	Sort     string
	Limit    int
	Skip     int
	Populate string
}

type Layer struct {
	cfg    Config
	db     *gorm.DB
	remote RemoteStore
	status StatusReporter
	log    zerolog.Logger
}

// Entities served by this layer. Orders and purchases mutate through their
// transaction engines, never through generic writes.
var localTables = map[string]bool{
	models.EntityBranch:   true,
	models.EntityUser:     true,
	models.EntityProduct:  true,
	models.EntityCustomer: true,
	models.EntityTable:    true,
	models.EntitySupplier: true,
	models.EntityExpense:  true,
}

var populateRefs = map[string]struct {
	collection string
	column     string
}{
	"branch":   {models.EntityBranch, "branch_id"},
	"customer": {models.EntityCustomer, "customer_id"},
	"table":    {models.EntityTable, "table_id"},
	"supplier": {models.EntitySupplier, "supplier_id"},
}

func New(cfg Config, db *gorm.DB, remoteStore RemoteStore, status StatusReporter, logger zerolog.Logger) *Layer {
	if cfg.Engine == "" {
		cfg.Engine = EngineSQLite
	}
	return &Layer{
		cfg:    cfg,
		db:     db,
		remote: remoteStore,
		status: status,
		log:    logger.With().Str("component", "unified").Logger(),
	}
}

func (l *Layer) Engine() string { return l.cfg.Engine }

// online reports whether a remote attempt should be made for this call.
func (l *Layer) online() bool {
	return l.cfg.Engine == EngineMongo && l.remote != nil && l.status != nil && l.status.Status()
}

func (l *Layer) Find(ctx context.Context, entity string, filter map[string]interface{}, opts QueryOptions) ([]map[string]interface{}, error) {
	if !localTables[entity] {
		return nil, apperrors.Validation("entity", "unknown entity %q", entity)
	}

	if l.online() {
		docs, err := l.remote.FindAll(ctx, entity, filter, remoteFindOptions(opts))
		if err == nil {
			return docs, nil
		}
		l.log.Warn().Err(err).Str("entity", entity).Msg("remote read failed, falling back to local store")
	}

	return l.localFind(entity, filter, opts)
}

func (l *Layer) FindOne(ctx context.Context, entity string, filter map[string]interface{}, opts QueryOptions) (map[string]interface{}, error) {
	if !localTables[entity] {
		return nil, apperrors.Validation("entity", "unknown entity %q", entity)
	}

	if l.online() {
		doc, err := l.remote.FindOne(ctx, entity, filter)
		if err == nil {
			if doc != nil && opts.Populate != "" {
				l.populateRemote(ctx, doc, opts.Populate)
			}
			return doc, nil
		}
		l.log.Warn().Err(err).Str("entity", entity).Msg("remote read failed, falling back to local store")
	}

	rows, err := l.localFind(entity, filter, QueryOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	if opts.Populate != "" {
		l.populateLocal(row, opts.Populate)
	}
	return row, nil
}

// Create writes remote-first when online, then always mirrors into the local
// store. The write is never lost: a failed or skipped remote write leaves
// the local row unsynced with an outbox entry for the next push.
func (l *Layer) Create(ctx context.Context, entity string, data map[string]interface{}) (map[string]interface{}, error) {
	if !localTables[entity] {
		return nil, apperrors.Validation("entity", "unknown entity %q", entity)
	}

	var remoteID string
	if l.online() {
		id, err := l.remote.Insert(ctx, entity, data)
		if err != nil {
			l.log.Warn().Err(err).Str("entity", entity).Msg("remote write failed, keeping local copy unsynced")
		} else {
			remoteID = id
		}
	}

	localID, err := l.mirrorLocal(entity, data, remoteID)
	if err != nil {
		return nil, err
	}

	result := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		result[k] = v
	}
	if remoteID != "" {
		result["_id"] = remoteID
	} else {
		result["_id"] = localRef(localID)
	}
	return result, nil
}

// Update applies a field set to the entity identified by id (remote hex id
// or "local-<n>").
func (l *Layer) Update(ctx context.Context, entity, id string, set map[string]interface{}) error {
	if !localTables[entity] {
		return apperrors.Validation("entity", "unknown entity %q", entity)
	}

	cols, err := translateSet(set)
	if err != nil {
		return err
	}

	mirrored := false
	if l.online() {
		if _, isLocal := parseLocalID(id); !isLocal {
			if err := l.remote.UpdateByID(ctx, entity, id, set); err != nil {
				l.log.Warn().Err(err).Str("entity", entity).Msg("remote update failed, keeping local copy unsynced")
			} else {
				mirrored = true
			}
		}
	}

	return l.db.Transaction(func(tx *gorm.DB) error {
		q := tx.Table(entity)
		var localID int64
		if n, isLocal := parseLocalID(id); isLocal {
			localID = n
			q = q.Where("id = ?", n)
		} else {
			var row struct{ ID int64 }
			if err := tx.Table(entity).Select("id").Where("remote_id = ?", id).Scan(&row).Error; err != nil {
				return err
			}
			if row.ID == 0 {
				return apperrors.NotFound(entity, id)
			}
			localID = row.ID
			q = q.Where("remote_id = ?", id)
		}

		cols["synced"] = mirrored
		cols["updated_at"] = time.Now()
		if err := q.Updates(cols).Error; err != nil {
			return err
		}
		if !mirrored {
			return outbox.Append(tx, entity, localID)
		}
		return nil
	})
}

func remoteFindOptions(opts QueryOptions) remote.FindOptions {
	fo := remote.FindOptions{Limit: int64(opts.Limit), Skip: int64(opts.Skip)}
	if opts.Sort != "" {
		field := opts.Sort
		if strings.HasPrefix(field, "-") {
			fo.SortDesc = true
			field = strings.TrimPrefix(field, "-")
		}
		fo.SortField = field
	}
	return fo
}

var sortColumns = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"name":      "name",
}

func (l *Layer) localFind(entity string, filter map[string]interface{}, opts QueryOptions) ([]map[string]interface{}, error) {
	q, err := applyLocalFilter(l.db.Table(entity), filter)
	if err != nil {
		return nil, err
	}

	order := "id DESC"
	if opts.Sort != "" {
		field := strings.TrimPrefix(opts.Sort, "-")
		if col, ok := sortColumns[field]; ok {
			if strings.HasPrefix(opts.Sort, "-") {
				order = col + " DESC"
			} else {
				order = col + " ASC"
			}
		}
	}
	q = q.Order(order)

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Skip > 0 {
		q = q.Offset(opts.Skip)
	}

	var rows []map[string]interface{}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		processLocalRow(entity, row)
	}
	return rows, nil
}

// processLocalRow gives a mirror row the shape remote callers expect: an
// "_id" (remote id when known, synthetic local ref otherwise) and decoded
// settings for branches.
func processLocalRow(entity string, row map[string]interface{}) {
	if remoteID, ok := row["remote_id"].(string); ok && remoteID != "" {
		row["_id"] = remoteID
	} else if id, ok := row["id"].(int64); ok {
		row["_id"] = localRef(id)
	}

	if entity == models.EntityBranch {
		if raw, ok := row["settings"].(string); ok && raw != "" {
			var settings map[string]interface{}
			if err := json.Unmarshal([]byte(raw), &settings); err == nil {
				row["settings"] = settings
			} else {
				row["settings"] = map[string]interface{}{"taxRate": 10.0, "serviceCharge": 5.0}
			}
		}
	}
}

func (l *Layer) populateLocal(row map[string]interface{}, field string) {
	ref, ok := populateRefs[field]
	if !ok {
		return
	}
	id, ok := row[ref.column].(int64)
	if !ok || id == 0 {
		return
	}
	var related []map[string]interface{}
	if err := l.db.Table(ref.collection).Where("id = ?", id).Limit(1).Find(&related).Error; err != nil || len(related) == 0 {
		return
	}
	processLocalRow(ref.collection, related[0])
	row[field] = related[0]
}

func (l *Layer) populateRemote(ctx context.Context, doc map[string]interface{}, field string) {
	ref, ok := populateRefs[field]
	if !ok {
		return
	}
	hex, ok := doc[field].(string)
	if !ok || hex == "" {
		return
	}
	related, err := l.remote.FindOne(ctx, ref.collection, map[string]interface{}{"_id": hex})
	if err != nil || related == nil {
		return
	}
	doc[field] = related
}

// mirrorLocal writes the entity into its local mirror table. Rows written
// without a remote id are marked unsynced and queued on the outbox.
func (l *Layer) mirrorLocal(entity string, data map[string]interface{}, remoteID string) (int64, error) {
	var localID int64
	err := l.db.Transaction(func(tx *gorm.DB) error {
		id, err := upsertMirror(tx, entity, data, remoteID)
		if err != nil {
			return err
		}
		localID = id
		if remoteID == "" {
			return outbox.Append(tx, entity, id)
		}
		return nil
	})
	return localID, err
}

func upsertMirror(tx *gorm.DB, entity string, data map[string]interface{}, remoteID string) (int64, error) {
	synced := remoteID != ""
	var remoteRef *string
	if synced {
		remoteRef = &remoteID
	}

	branchID := resolveBranchID(tx, data)

	switch entity {
	case models.EntityProduct:
		row := models.Product{
			RemoteID:    remoteRef,
			Synced:      synced,
			Name:        str(data, "name"),
			Description: str(data, "description"),
			Price:       f64(data, "price"),
			Cost:        f64(data, "cost"),
			Category:    str(data, "category"),
			Stock:       i(data, "stock"),
			MinStock:    i(data, "minStock"),
			IsAvailable: boolOr(data, "isAvailable", true),
			Active:      boolOr(data, "active", true),
			Image:       str(data, "image"),
			SKU:         str(data, "sku"),
			Barcode:     str(data, "barcode"),
			BranchID:    branchID,
		}
		if err := createOrReplace(tx, remoteRef, &row, &models.Product{}); err != nil {
			return 0, err
		}
		return row.ID, nil

	case models.EntityUser:
		row := models.User{
			RemoteID: remoteRef,
			Synced:   synced,
			Name:     str(data, "name"),
			Password: str(data, "password"),
			Role:     str(data, "role"),
			BranchID: branchID,
			IsActive: boolOr(data, "isActive", true),
		}
		if v := str(data, "email"); v != "" {
			row.Email = &v
		}
		if v := str(data, "username"); v != "" {
			row.Username = &v
		}
		if err := createOrReplace(tx, remoteRef, &row, &models.User{}); err != nil {
			return 0, err
		}
		return row.ID, nil

	case models.EntityBranch:
		row := models.Branch{
			RemoteID:   remoteRef,
			Synced:     synced,
			Name:       str(data, "name"),
			BranchCode: str(data, "branchCode"),
			Address:    str(data, "address"),
			Phone:      str(data, "phone"),
			Email:      str(data, "email"),
			IsActive:   boolOr(data, "isActive", true),
		}
		if settings, ok := data["settings"].(map[string]interface{}); ok {
			row.Settings = models.BranchSettings{
				TaxRate:       f64(settings, "taxRate"),
				ServiceCharge: f64(settings, "serviceCharge"),
				Currency:      str(settings, "currency"),
				Timezone:      str(settings, "timezone"),
			}
		}
		if err := createOrReplace(tx, remoteRef, &row, &models.Branch{}); err != nil {
			return 0, err
		}
		return row.ID, nil

	case models.EntityCustomer:
		row := models.Customer{
			RemoteID: remoteRef,
			Synced:   synced,
			Name:     str(data, "name"),
			Phone:    str(data, "phone"),
			Email:    str(data, "email"),
			BranchID: branchID,
		}
		if err := createOrReplace(tx, remoteRef, &row, &models.Customer{}); err != nil {
			return 0, err
		}
		return row.ID, nil

	case models.EntityTable:
		row := models.Table{
			RemoteID: remoteRef,
			Synced:   synced,
			Number:   str(data, "number"),
			Name:     str(data, "name"),
			Capacity: i(data, "capacity"),
			Location: str(data, "location"),
			Status:   models.TableStatusAvailable,
			BranchID: branchID,
		}
		if s := str(data, "status"); s != "" {
			row.Status = s
		}
		if err := createOrReplace(tx, remoteRef, &row, &models.Table{}); err != nil {
			return 0, err
		}
		return row.ID, nil

	case models.EntitySupplier:
		row := models.Supplier{
			RemoteID: remoteRef,
			Synced:   synced,
			Name:     str(data, "name"),
			Contact:  str(data, "contact"),
			Phone:    str(data, "phone"),
			Email:    str(data, "email"),
			Address:  str(data, "address"),
			BranchID: branchID,
		}
		if err := createOrReplace(tx, remoteRef, &row, &models.Supplier{}); err != nil {
			return 0, err
		}
		return row.ID, nil

	case models.EntityExpense:
		row := models.Expense{
			RemoteID:    remoteRef,
			Synced:      synced,
			Description: str(data, "description"),
			Amount:      f64(data, "amount"),
			Category:    str(data, "category"),
			Date:        time.Now(),
			BranchID:    branchID,
		}
		if err := createOrReplace(tx, remoteRef, &row, &models.Expense{}); err != nil {
			return 0, err
		}
		return row.ID, nil
	}

	return 0, apperrors.Validation("entity", "entity %q has no generic mirror; use its engine", entity)
}

// createOrReplace inserts the row, or overwrites the existing mirror row
// when one already carries the same remote id. The overwrite keeps the local
// row id stable so rows referencing the mirror stay attached.
func createOrReplace(tx *gorm.DB, remoteRef *string, row interface{}, probe interface{}) error {
	if remoteRef != nil {
		var existing struct{ ID int64 }
		err := tx.Model(probe).Select("id").Where("remote_id = ?", *remoteRef).Limit(1).Scan(&existing).Error
		if err != nil {
			return err
		}
		if existing.ID != 0 {
			reflect.ValueOf(row).Elem().FieldByName("ID").SetInt(existing.ID)
			return tx.Save(row).Error
		}
	}
	return tx.Create(row).Error
}

func resolveBranchID(tx *gorm.DB, data map[string]interface{}) int64 {
	switch v := data["branch"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		if n, ok := parseLocalID(v); ok {
			return n
		}
		var row struct{ ID int64 }
		if err := tx.Table(models.EntityBranch).Select("id").Where("remote_id = ?", v).Scan(&row).Error; err == nil {
			return row.ID
		}
	}
	return 0
}
