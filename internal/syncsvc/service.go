// Package syncsvc reconciles the local store with the remote document store.
// Push drains the outbox and upserts each row remotely; pull fetches the
// shared collections and overwrites the local mirrors. A row-level failure
// is logged and skipped so one bad record never stalls the queue.
package syncsvc

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"mesa-system/internal/apperrors"
	"mesa-system/internal/database/models"
	"mesa-system/internal/outbox"
)

// RemoteStore is the slice of the document-store adapter the sync service
// needs.
type RemoteStore interface {
	FindOne(ctx context.Context, collection string, filter map[string]interface{}) (map[string]interface{}, error)
	Insert(ctx context.Context, collection string, doc map[string]interface{}) (string, error)
	UpsertByID(ctx context.Context, collection, hexID string, doc map[string]interface{}) error
	FetchAll(ctx context.Context, collection string) ([]map[string]interface{}, error)
}

// StatusReporter exposes the connectivity monitor's cached state.
type StatusReporter interface {
	Status() bool
}

type Result struct {
	Pushed  int `json:"pushed"`
	Pulled  int `json:"pulled"`
	Skipped int `json:"skipped"`
}

type Service struct {
	db     *gorm.DB
	remote RemoteStore
	status StatusReporter
	log    zerolog.Logger

	running atomic.Bool
}

func New(db *gorm.DB, remote RemoteStore, status StatusReporter, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		remote: remote,
		status: status,
		log:    logger.With().Str("component", "sync").Logger(),
	}
}

// pushOrder pushes parents before children so reference fields resolve to
// remote ids minted earlier in the same run.
var pushOrder = []string{
	models.EntityBranch,
	models.EntityUser,
	models.EntityProduct,
	models.EntityCustomer,
	models.EntityTable,
	models.EntitySupplier,
	models.EntityExpense,
	models.EntityOrder,
	models.EntityPurchase,
	models.EntityFinance,
	models.EntityLedger,
}

// Local mirror tables whose names differ from the entity/collection name.
var localTableFor = map[string]string{
	models.EntityFinance: "finance_entries",
	models.EntityLedger:  "customer_ledgers",
}

func localTable(entity string) string {
	if t, ok := localTableFor[entity]; ok {
		return t
	}
	return entity
}

// TriggerSync runs push then pull. A trigger while offline is a logged
// no-op; only one run is active at a time, and a second trigger while one is
// running is rejected rather than queued.
func (s *Service) TriggerSync(ctx context.Context) (Result, error) {
	if s.remote == nil || s.status == nil || !s.status.Status() {
		s.log.Debug().Msg("sync skipped: remote store offline")
		return Result{}, nil
	}
	if !s.running.CompareAndSwap(false, true) {
		return Result{}, apperrors.Conflict("sync already in progress")
	}
	defer s.running.Store(false)

	var res Result
	res.Pushed, res.Skipped = s.SyncUp(ctx)
	res.Pulled = s.SyncDown(ctx)

	now := time.Now()
	entry := models.SyncLog{LastSyncUp: &now, LastSyncDown: &now, Status: "ok"}
	if res.Skipped > 0 {
		entry.Status = "partial"
	}
	if err := s.db.Create(&entry).Error; err != nil {
		s.log.Warn().Err(err).Msg("failed to record sync run")
	}

	s.log.Info().
		Int("pushed", res.Pushed).
		Int("pulled", res.Pulled).
		Int("skipped", res.Skipped).
		Msg("sync completed")
	return res, nil
}

// -- Push --

// SyncUp drains the outbox. Rows that fail stay queued for the next run.
func (s *Service) SyncUp(ctx context.Context) (pushed, skipped int) {
	var entries []models.SyncOutbox
	if err := s.db.Order("id").Find(&entries).Error; err != nil {
		s.log.Error().Err(err).Msg("failed to load outbox")
		return 0, 0
	}

	byEntity := make(map[string][]models.SyncOutbox)
	for _, e := range entries {
		byEntity[e.Entity] = append(byEntity[e.Entity], e)
	}

	for _, entity := range pushOrder {
		for _, entry := range byEntity[entity] {
			if err := s.pushOne(ctx, entry); err != nil {
				s.log.Warn().Err(err).
					Str("entity", entry.Entity).
					Int64("localId", entry.LocalID).
					Msg("push failed, row stays queued")
				skipped++
				continue
			}
			pushed++
		}
	}
	return pushed, skipped
}

func (s *Service) pushOne(ctx context.Context, entry models.SyncOutbox) error {
	switch entry.Entity {
	case models.EntityBranch:
		var row models.Branch
		found, err := s.load(&row, entry.LocalID)
		if err != nil || !found {
			return s.dropMissing(entry, err)
		}
		return s.pushDoc(ctx, entry, row.RemoteID, branchDoc(&row),
			map[string]interface{}{"branchCode": row.BranchCode})

	case models.EntityUser:
		var row models.User
		found, err := s.load(&row, entry.LocalID)
		if err != nil || !found {
			return s.dropMissing(entry, err)
		}
		var natural map[string]interface{}
		if row.Email != nil {
			natural = map[string]interface{}{"email": *row.Email}
		} else if row.Username != nil {
			natural = map[string]interface{}{"username": *row.Username}
		}
		return s.pushDoc(ctx, entry, row.RemoteID, userDoc(s.db, &row), natural)

	case models.EntityProduct:
		var row models.Product
		found, err := s.load(&row, entry.LocalID)
		if err != nil || !found {
			return s.dropMissing(entry, err)
		}
		natural := map[string]interface{}{"name": row.Name}
		if row.SKU != "" {
			natural = map[string]interface{}{"sku": row.SKU}
		}
		if hex := remoteHex(s.db, models.EntityBranch, row.BranchID); hex != "" {
			natural["branch"] = hex
		}
		return s.pushDoc(ctx, entry, row.RemoteID, productDoc(s.db, &row), natural)

	case models.EntityCustomer:
		var row models.Customer
		found, err := s.load(&row, entry.LocalID)
		if err != nil || !found {
			return s.dropMissing(entry, err)
		}
		var natural map[string]interface{}
		if row.Phone != "" {
			natural = map[string]interface{}{"phone": row.Phone}
			if hex := remoteHex(s.db, models.EntityBranch, row.BranchID); hex != "" {
				natural["branch"] = hex
			}
		}
		return s.pushDoc(ctx, entry, row.RemoteID, customerDoc(s.db, &row), natural)

	case models.EntityTable:
		var row models.Table
		found, err := s.load(&row, entry.LocalID)
		if err != nil || !found {
			return s.dropMissing(entry, err)
		}
		natural := map[string]interface{}{"number": row.Number}
		if hex := remoteHex(s.db, models.EntityBranch, row.BranchID); hex != "" {
			natural["branch"] = hex
		}
		return s.pushDoc(ctx, entry, row.RemoteID, tableDoc(s.db, &row), natural)

	case models.EntitySupplier:
		var row models.Supplier
		found, err := s.load(&row, entry.LocalID)
		if err != nil || !found {
			return s.dropMissing(entry, err)
		}
		return s.pushDoc(ctx, entry, row.RemoteID, supplierDoc(s.db, &row), nil)

	case models.EntityExpense:
		var row models.Expense
		found, err := s.load(&row, entry.LocalID)
		if err != nil || !found {
			return s.dropMissing(entry, err)
		}
		return s.pushDoc(ctx, entry, row.RemoteID, expenseDoc(s.db, &row), nil)

	case models.EntityOrder:
		var row models.Order
		res := s.db.Preload("Items").Limit(1).Find(&row, entry.LocalID)
		if res.Error != nil || res.RowsAffected == 0 {
			return s.dropMissing(entry, res.Error)
		}
		return s.pushDoc(ctx, entry, row.RemoteID, orderDoc(s.db, &row),
			map[string]interface{}{"orderNumber": row.OrderNumber})

	case models.EntityPurchase:
		var row models.Purchase
		res := s.db.Preload("Items").Limit(1).Find(&row, entry.LocalID)
		if res.Error != nil || res.RowsAffected == 0 {
			return s.dropMissing(entry, res.Error)
		}
		return s.pushDoc(ctx, entry, row.RemoteID, purchaseDoc(s.db, &row),
			map[string]interface{}{"purchaseNumber": row.PurchaseNumber})

	case models.EntityFinance:
		var row models.FinanceEntry
		found, err := s.load(&row, entry.LocalID)
		if err != nil || !found {
			return s.dropMissing(entry, err)
		}
		return s.pushDoc(ctx, entry, row.RemoteID, financeDoc(s.db, &row), nil)

	case models.EntityLedger:
		var row models.CustomerLedger
		found, err := s.load(&row, entry.LocalID)
		if err != nil || !found {
			return s.dropMissing(entry, err)
		}
		return s.pushDoc(ctx, entry, row.RemoteID, ledgerDoc(s.db, &row), nil)
	}

	// Unknown entity: drop so the queue cannot wedge on it.
	s.log.Warn().Str("entity", entry.Entity).Msg("dropping outbox entry for unknown entity")
	return s.dropMissing(entry, nil)
}

func (s *Service) load(dest interface{}, id int64) (bool, error) {
	res := s.db.Limit(1).Find(dest, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// dropMissing clears the outbox entry for a row deleted locally before it
// ever reached the remote.
func (s *Service) dropMissing(entry models.SyncOutbox, loadErr error) error {
	if loadErr != nil {
		return loadErr
	}
	return outbox.Drop(s.db, entry.Entity, entry.LocalID)
}

// pushDoc upserts one document. A row without a remote id is first looked
// up by its natural key so a record created on both sides never duplicates;
// only when that finds nothing is a new document inserted.
func (s *Service) pushDoc(ctx context.Context, entry models.SyncOutbox, remoteID *string, doc, natural map[string]interface{}) error {
	hex := ""
	if remoteID != nil {
		hex = *remoteID
	}

	if hex == "" && natural != nil {
		existing, err := s.remote.FindOne(ctx, entry.Entity, natural)
		if err != nil {
			return err
		}
		if existing != nil {
			if h, ok := existing["_id"].(string); ok {
				hex = h
			}
		}
	}

	if hex != "" {
		if err := s.remote.UpsertByID(ctx, entry.Entity, hex, doc); err != nil {
			return err
		}
	} else {
		h, err := s.remote.Insert(ctx, entry.Entity, doc)
		if err != nil {
			return err
		}
		hex = h
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Table(localTable(entry.Entity)).
			Where("id = ?", entry.LocalID).
			Updates(map[string]interface{}{"remote_id": hex, "synced": true}).Error
		if err != nil {
			return err
		}
		return outbox.Drop(tx, entry.Entity, entry.LocalID)
	})
}

// -- Pull --

// SyncDown fetches the shared collections and overwrites the local mirrors.
// The remote copy wins on conflict.
func (s *Service) SyncDown(ctx context.Context) (pulled int) {
	pulled += s.pullBranches(ctx)
	pulled += s.pullUsers(ctx)
	pulled += s.pullProducts(ctx)
	pulled += s.pullCustomers(ctx)
	pulled += s.pullTables(ctx)
	pulled += s.pullSuppliers(ctx)
	pulled += s.pullOrders(ctx)
	return pulled
}

func (s *Service) fetch(ctx context.Context, collection string) []map[string]interface{} {
	docs, err := s.remote.FetchAll(ctx, collection)
	if err != nil {
		s.log.Warn().Err(err).Str("collection", collection).Msg("pull failed")
		return nil
	}
	return docs
}

func (s *Service) pullBranches(ctx context.Context) (n int) {
	for _, doc := range s.fetch(ctx, models.EntityBranch) {
		hex := getStr(doc, "_id")
		if hex == "" {
			continue
		}
		var row models.Branch
		res := s.db.Where("remote_id = ?", hex).Limit(1).Find(&row)
		if res.Error != nil {
			continue
		}
		row.RemoteID = &hex
		row.Synced = true
		row.Name = getStr(doc, "name")
		row.BranchCode = getStr(doc, "branchCode")
		row.Address = getStr(doc, "address")
		row.Phone = getStr(doc, "phone")
		row.Email = getStr(doc, "email")
		row.IsActive = getBool(doc, "isActive", true)
		if settings, ok := doc["settings"].(map[string]interface{}); ok {
			row.Settings = models.BranchSettings{
				TaxRate:       getF64(settings, "taxRate"),
				ServiceCharge: getF64(settings, "serviceCharge"),
				Currency:      getStr(settings, "currency"),
				Timezone:      getStr(settings, "timezone"),
			}
		}
		if s.saveMirror(&row, res.RowsAffected > 0) {
			n++
		}
	}
	return n
}

func (s *Service) pullUsers(ctx context.Context) (n int) {
	for _, doc := range s.fetch(ctx, models.EntityUser) {
		hex := getStr(doc, "_id")
		if hex == "" {
			continue
		}
		var row models.User
		res := s.db.Where("remote_id = ?", hex).Limit(1).Find(&row)
		if res.Error != nil {
			continue
		}
		row.RemoteID = &hex
		row.Synced = true
		row.Name = getStr(doc, "name")
		if v := getStr(doc, "email"); v != "" {
			row.Email = &v
		}
		if v := getStr(doc, "username"); v != "" {
			row.Username = &v
		}
		row.Password = getStr(doc, "password")
		row.Role = getStr(doc, "role")
		row.IsActive = getBool(doc, "isActive", true)
		row.BranchID = localIDFor(s.db, models.EntityBranch, getStr(doc, "branch"))
		if s.saveMirror(&row, res.RowsAffected > 0) {
			n++
		}
	}
	return n
}

func (s *Service) pullProducts(ctx context.Context) (n int) {
	for _, doc := range s.fetch(ctx, models.EntityProduct) {
		hex := getStr(doc, "_id")
		if hex == "" {
			continue
		}
		var row models.Product
		res := s.db.Where("remote_id = ?", hex).Limit(1).Find(&row)
		if res.Error != nil {
			continue
		}
		row.RemoteID = &hex
		row.Synced = true
		row.Name = getStr(doc, "name")
		row.Description = getStr(doc, "description")
		row.Price = getF64(doc, "price")
		row.Cost = getF64(doc, "cost")
		row.Category = getStr(doc, "category")
		row.Stock = getInt(doc, "stock")
		row.MinStock = getInt(doc, "minStock")
		row.IsAvailable = getBool(doc, "isAvailable", true)
		row.Active = getBool(doc, "active", true)
		row.Image = getStr(doc, "image")
		row.SKU = getStr(doc, "sku")
		row.Barcode = getStr(doc, "barcode")
		row.SalesCount = getInt(doc, "salesCount")
		row.BranchID = localIDFor(s.db, models.EntityBranch, getStr(doc, "branch"))
		if s.saveMirror(&row, res.RowsAffected > 0) {
			n++
		}
	}
	return n
}

func (s *Service) pullCustomers(ctx context.Context) (n int) {
	for _, doc := range s.fetch(ctx, models.EntityCustomer) {
		hex := getStr(doc, "_id")
		if hex == "" {
			continue
		}
		var row models.Customer
		res := s.db.Where("remote_id = ?", hex).Limit(1).Find(&row)
		if res.Error != nil {
			continue
		}
		row.RemoteID = &hex
		row.Synced = true
		row.Name = getStr(doc, "name")
		row.Phone = getStr(doc, "phone")
		row.Email = getStr(doc, "email")
		row.CurrentBalance = getF64(doc, "currentBalance")
		row.TotalDebit = getF64(doc, "totalDebit")
		row.TotalCredit = getF64(doc, "totalCredit")
		row.TotalOrders = getInt(doc, "totalOrders")
		row.TotalSpent = getF64(doc, "totalSpent")
		row.LoyaltyPoints = getInt(doc, "loyaltyPoints")
		row.LastOrder = getTime(doc, "lastOrder")
		row.BranchID = localIDFor(s.db, models.EntityBranch, getStr(doc, "branch"))
		if s.saveMirror(&row, res.RowsAffected > 0) {
			n++
		}
	}
	return n
}

func (s *Service) pullTables(ctx context.Context) (n int) {
	for _, doc := range s.fetch(ctx, models.EntityTable) {
		hex := getStr(doc, "_id")
		if hex == "" {
			continue
		}
		var row models.Table
		res := s.db.Where("remote_id = ?", hex).Limit(1).Find(&row)
		if res.Error != nil {
			continue
		}
		row.RemoteID = &hex
		row.Synced = true
		row.Number = getStr(doc, "number")
		row.Name = getStr(doc, "name")
		row.Capacity = getInt(doc, "capacity")
		row.Location = getStr(doc, "location")
		row.Status = getStr(doc, "status")
		if row.Status == "" {
			row.Status = models.TableStatusAvailable
		}
		row.BranchID = localIDFor(s.db, models.EntityBranch, getStr(doc, "branch"))
		row.SessionStartedAt = nil
		row.SessionPartySize = nil
		row.SessionWaiterID = nil
		if session, ok := doc["currentSession"].(map[string]interface{}); ok {
			row.SessionStartedAt = getTime(session, "startedAt")
			if c := getInt(session, "customers"); c > 0 {
				row.SessionPartySize = &c
			}
			if waiter := localIDFor(s.db, models.EntityUser, getStr(session, "waiter")); waiter != 0 {
				row.SessionWaiterID = &waiter
			}
		}
		if s.saveMirror(&row, res.RowsAffected > 0) {
			n++
		}
	}
	return n
}

func (s *Service) pullSuppliers(ctx context.Context) (n int) {
	for _, doc := range s.fetch(ctx, models.EntitySupplier) {
		hex := getStr(doc, "_id")
		if hex == "" {
			continue
		}
		var row models.Supplier
		res := s.db.Where("remote_id = ?", hex).Limit(1).Find(&row)
		if res.Error != nil {
			continue
		}
		row.RemoteID = &hex
		row.Synced = true
		row.Name = getStr(doc, "name")
		row.Contact = getStr(doc, "contact")
		row.Phone = getStr(doc, "phone")
		row.Email = getStr(doc, "email")
		row.Address = getStr(doc, "address")
		row.BranchID = localIDFor(s.db, models.EntityBranch, getStr(doc, "branch"))
		if s.saveMirror(&row, res.RowsAffected > 0) {
			n++
		}
	}
	return n
}

func (s *Service) pullOrders(ctx context.Context) (n int) {
	for _, doc := range s.fetch(ctx, models.EntityOrder) {
		hex := getStr(doc, "_id")
		if hex == "" {
			continue
		}
		if err := s.pullOneOrder(doc, hex); err != nil {
			s.log.Warn().Err(err).Str("order", hex).Msg("order pull failed")
			continue
		}
		n++
	}
	return n
}

func (s *Service) pullOneOrder(doc map[string]interface{}, hex string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var row models.Order
		res := tx.Where("remote_id = ?", hex).Limit(1).Find(&row)
		if res.Error != nil {
			return res.Error
		}
		existed := res.RowsAffected > 0

		row.RemoteID = &hex
		row.Synced = true
		row.OrderNumber = getStr(doc, "orderNumber")
		row.OrderType = getStr(doc, "orderType")
		row.Status = getStr(doc, "status")
		row.KitchenStatus = getStr(doc, "kitchenStatus")
		row.KitchenNotes = getStr(doc, "kitchenNotes")
		row.TableNumber = getStr(doc, "tableNumber")
		row.CustomerName = getStr(doc, "customerName")
		row.CustomerPhone = getStr(doc, "customerPhone")
		row.Subtotal = getF64(doc, "subtotal")
		row.Tax = getF64(doc, "tax")
		row.ServiceCharge = getF64(doc, "serviceCharge")
		row.Discount = getF64(doc, "discount")
		row.Tip = getF64(doc, "tip")
		row.FinalTotal = getF64(doc, "finalTotal")
		row.PaymentMethod = getStr(doc, "paymentMethod")
		row.PaymentStatus = getStr(doc, "paymentStatus")
		row.ServedAt = getTime(doc, "servedAt")
		row.CompletedAt = getTime(doc, "completedAt")
		if prep := getInt(doc, "preparationTime"); prep > 0 {
			row.PreparationTime = &prep
		}

		if id := localIDFor(tx, models.EntityTable, getStr(doc, "table")); id != 0 {
			row.TableID = &id
		}
		if id := localIDFor(tx, models.EntityCustomer, getStr(doc, "customer")); id != 0 {
			row.CustomerID = &id
		}
		if id := localIDFor(tx, models.EntityUser, getStr(doc, "cashier")); id != 0 {
			row.CashierID = &id
		}
		row.BranchID = localIDFor(tx, models.EntityBranch, getStr(doc, "branch"))

		row.Items = nil
		var err error
		if existed {
			err = tx.Omit("Items").Save(&row).Error
		} else {
			err = tx.Omit("Items").Create(&row).Error
		}
		if err != nil {
			return err
		}

		if err := tx.Where("order_id = ?", row.ID).Delete(&models.OrderItem{}).Error; err != nil {
			return err
		}
		items, _ := doc["items"].([]interface{})
		for _, raw := range items {
			item, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			it := models.OrderItem{
				OrderID:     row.ID,
				ProductID:   localIDFor(tx, models.EntityProduct, getStr(item, "product")),
				ProductName: getStr(item, "productName"),
				Quantity:    getInt(item, "quantity"),
				Price:       getF64(item, "price"),
				Total:       getF64(item, "total"),
				Notes:       getStr(item, "notes"),
			}
			if err := tx.Create(&it).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) saveMirror(row interface{}, existed bool) bool {
	var err error
	if existed {
		err = s.db.Save(row).Error
	} else {
		err = s.db.Create(row).Error
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to write pulled row")
		return false
	}
	return true
}
