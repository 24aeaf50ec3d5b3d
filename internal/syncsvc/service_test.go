package syncsvc

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"mesa-system/internal/database"
	"mesa-system/internal/database/models"
	"mesa-system/internal/outbox"
)

// fakeRemote is an in-memory document store keyed by collection.
type fakeRemote struct {
	collections map[string][]map[string]interface{}
	nextID      int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{collections: make(map[string][]map[string]interface{})}
}

func (f *fakeRemote) mintID() string {
	f.nextID++
	return fmt.Sprintf("%024x", f.nextID)
}

func (f *fakeRemote) seed(collection string, doc map[string]interface{}) string {
	id := f.mintID()
	doc["_id"] = id
	f.collections[collection] = append(f.collections[collection], doc)
	return id
}

func (f *fakeRemote) FindOne(_ context.Context, collection string, filter map[string]interface{}) (map[string]interface{}, error) {
	for _, doc := range f.collections[collection] {
		match := true
		for k, v := range filter {
			if !reflect.DeepEqual(doc[k], v) {
				match = false
				break
			}
		}
		if match {
			return doc, nil
		}
	}
	return nil, nil
}

func (f *fakeRemote) Insert(_ context.Context, collection string, doc map[string]interface{}) (string, error) {
	stored := make(map[string]interface{}, len(doc)+1)
	for k, v := range doc {
		stored[k] = v
	}
	id := f.mintID()
	stored["_id"] = id
	f.collections[collection] = append(f.collections[collection], stored)
	return id, nil
}

func (f *fakeRemote) UpsertByID(_ context.Context, collection, hexID string, doc map[string]interface{}) error {
	stored := make(map[string]interface{}, len(doc)+1)
	for k, v := range doc {
		stored[k] = v
	}
	stored["_id"] = hexID
	for i, existing := range f.collections[collection] {
		if existing["_id"] == hexID {
			f.collections[collection][i] = stored
			return nil
		}
	}
	f.collections[collection] = append(f.collections[collection], stored)
	return nil
}

func (f *fakeRemote) FetchAll(_ context.Context, collection string) ([]map[string]interface{}, error) {
	return f.collections[collection], nil
}

type fakeStatus bool

func (s fakeStatus) Status() bool { return bool(s) }

func setupSync(t *testing.T) (*gorm.DB, *fakeRemote, *Service) {
	t.Helper()
	db, err := database.NewConnection(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	remote := newFakeRemote()
	svc := New(db, remote, fakeStatus(true), zerolog.Nop())
	return db, remote, svc
}

func queueBranchAndProduct(t *testing.T, db *gorm.DB) (models.Branch, models.Product) {
	t.Helper()
	branch := models.Branch{Name: "Main", BranchCode: "MAIN", Settings: models.BranchSettings{TaxRate: 10, ServiceCharge: 5}}
	require.NoError(t, db.Create(&branch).Error)
	require.NoError(t, outbox.Append(db, models.EntityBranch, branch.ID))

	product := models.Product{Name: "Coffee", SKU: "CF-1", Price: 5, Stock: 10, BranchID: branch.ID}
	require.NoError(t, db.Create(&product).Error)
	require.NoError(t, outbox.Append(db, models.EntityProduct, product.ID))
	return branch, product
}

func TestSyncUpDrainsOutbox(t *testing.T) {
	db, remote, svc := setupSync(t)
	branch, product := queueBranchAndProduct(t, db)

	pushed, skipped := svc.SyncUp(context.Background())
	assert.Equal(t, 2, pushed)
	assert.Zero(t, skipped)

	var count int64
	db.Model(&models.SyncOutbox{}).Count(&count)
	assert.Zero(t, count)

	require.NoError(t, db.First(&branch, branch.ID).Error)
	require.NotNil(t, branch.RemoteID)
	assert.True(t, branch.Synced)

	require.NoError(t, db.First(&product, product.ID).Error)
	require.NotNil(t, product.RemoteID)
	assert.True(t, product.Synced)

	// Parent pushed first, so the product doc carries the branch remote id.
	require.Len(t, remote.collections[models.EntityProduct], 1)
	assert.Equal(t, *branch.RemoteID, remote.collections[models.EntityProduct][0]["branch"])
}

func TestSyncUpIdempotent(t *testing.T) {
	db, remote, svc := setupSync(t)
	queueBranchAndProduct(t, db)

	svc.SyncUp(context.Background())
	pushed, skipped := svc.SyncUp(context.Background())
	assert.Zero(t, pushed)
	assert.Zero(t, skipped)
	assert.Len(t, remote.collections[models.EntityBranch], 1)
	assert.Len(t, remote.collections[models.EntityProduct], 1)
}

func TestSyncUpAdoptsRemoteByNaturalKey(t *testing.T) {
	db, remote, svc := setupSync(t)

	existing := remote.seed(models.EntityBranch, map[string]interface{}{
		"name": "Main", "branchCode": "MAIN",
	})

	branch := models.Branch{Name: "Main", BranchCode: "MAIN"}
	require.NoError(t, db.Create(&branch).Error)
	require.NoError(t, outbox.Append(db, models.EntityBranch, branch.ID))

	pushed, skipped := svc.SyncUp(context.Background())
	assert.Equal(t, 1, pushed)
	assert.Zero(t, skipped)

	// Adopted the existing document instead of inserting a duplicate.
	assert.Len(t, remote.collections[models.EntityBranch], 1)
	require.NoError(t, db.First(&branch, branch.ID).Error)
	require.NotNil(t, branch.RemoteID)
	assert.Equal(t, existing, *branch.RemoteID)
}

func TestSyncUpDropsDeletedRow(t *testing.T) {
	db, _, svc := setupSync(t)

	// Outbox entry whose row no longer exists locally.
	require.NoError(t, outbox.Append(db, models.EntityProduct, 999))

	pushed, skipped := svc.SyncUp(context.Background())
	assert.Equal(t, 1, pushed)
	assert.Zero(t, skipped)

	var count int64
	db.Model(&models.SyncOutbox{}).Count(&count)
	assert.Zero(t, count)
}

func TestSyncDownCreatesAndUpdatesMirrors(t *testing.T) {
	db, remote, svc := setupSync(t)

	branchHex := remote.seed(models.EntityBranch, map[string]interface{}{
		"name": "Main", "branchCode": "MAIN", "isActive": true,
		"settings": map[string]interface{}{"taxRate": 11.0, "serviceCharge": 6.0},
	})
	remote.seed(models.EntityProduct, map[string]interface{}{
		"name": "Coffee", "price": 5.5, "stock": 7.0, "isAvailable": true, "active": true,
		"branch": branchHex,
	})

	pulled := svc.SyncDown(context.Background())
	assert.Equal(t, 2, pulled)

	var branch models.Branch
	res := db.Where("remote_id = ?", branchHex).Limit(1).Find(&branch)
	require.NoError(t, res.Error)
	require.EqualValues(t, 1, res.RowsAffected)
	assert.Equal(t, "MAIN", branch.BranchCode)
	assert.Equal(t, 11.0, branch.Settings.TaxRate)
	assert.True(t, branch.Synced)

	var product models.Product
	res = db.Where("name = ?", "Coffee").Limit(1).Find(&product)
	require.NoError(t, res.Error)
	require.EqualValues(t, 1, res.RowsAffected)
	assert.Equal(t, 7, product.Stock)
	assert.Equal(t, branch.ID, product.BranchID)

	// Remote wins on the second pull; no duplicate rows.
	remote.collections[models.EntityProduct][0]["stock"] = 3.0
	svc.SyncDown(context.Background())

	var count int64
	db.Model(&models.Product{}).Count(&count)
	assert.EqualValues(t, 1, count)
	require.NoError(t, db.First(&product, product.ID).Error)
	assert.Equal(t, 3, product.Stock)
}

func TestSyncDownReplacesOrderItems(t *testing.T) {
	db, remote, svc := setupSync(t)

	branchHex := remote.seed(models.EntityBranch, map[string]interface{}{
		"name": "Main", "branchCode": "MAIN",
	})
	productHex := remote.seed(models.EntityProduct, map[string]interface{}{
		"name": "Coffee", "price": 5.0, "branch": branchHex,
	})
	remote.seed(models.EntityOrder, map[string]interface{}{
		"orderNumber": "ORD-MAIN-20250314-0001",
		"orderType":   models.OrderTypeDineIn,
		"status":      models.OrderStatusPending,
		"branch":      branchHex,
		"subtotal":    10.0, "finalTotal": 11.5,
		"items": []interface{}{
			map[string]interface{}{
				"product": productHex, "productName": "Coffee",
				"quantity": 2.0, "price": 5.0, "total": 10.0,
			},
		},
	})

	svc.SyncDown(context.Background())
	svc.SyncDown(context.Background())

	var orders []models.Order
	require.NoError(t, db.Preload("Items").Find(&orders).Error)
	require.Len(t, orders, 1)
	require.Len(t, orders[0].Items, 1)
	assert.Equal(t, "Coffee", orders[0].Items[0].ProductName)
	assert.Equal(t, 2, orders[0].Items[0].Quantity)
	assert.NotZero(t, orders[0].Items[0].ProductID)
}

func TestTriggerSyncOffline(t *testing.T) {
	db, err := database.NewConnection(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	// An offline trigger is a no-op, not an error.
	svc := New(db, newFakeRemote(), fakeStatus(false), zerolog.Nop())
	res, err := svc.TriggerSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	var runs int64
	db.Model(&models.SyncLog{}).Count(&runs)
	assert.Zero(t, runs)
}

func TestTriggerSyncRecordsRun(t *testing.T) {
	db, _, svc := setupSync(t)
	queueBranchAndProduct(t, db)

	res, err := svc.TriggerSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pushed)

	var entry models.SyncLog
	require.NoError(t, db.Order("id DESC").First(&entry).Error)
	assert.Equal(t, "ok", entry.Status)
	assert.NotNil(t, entry.LastSyncUp)
}
