package purchases

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"mesa-system/internal/apperrors"
	"mesa-system/internal/database"
	"mesa-system/internal/database/models"
)

type purchaseFixture struct {
	db       *gorm.DB
	svc      *Service
	branch   models.Branch
	supplier models.Supplier
	product  models.Product
}

func setupPurchases(t *testing.T) *purchaseFixture {
	t.Helper()
	db, err := database.NewConnection(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	f := &purchaseFixture{db: db, svc: NewService(db, nil, zerolog.Nop())}

	f.branch = models.Branch{Name: "Main", BranchCode: "MAIN"}
	require.NoError(t, db.Create(&f.branch).Error)

	f.supplier = models.Supplier{Name: "Beans Co", BranchID: f.branch.ID}
	require.NoError(t, db.Create(&f.supplier).Error)

	f.product = models.Product{Name: "Coffee", Price: 5, Cost: 2, Stock: 10, BranchID: f.branch.ID}
	require.NoError(t, db.Create(&f.product).Error)
	return f
}

func ref(id int64) string { return fmt.Sprintf("local-%d", id) }

func TestLineCost(t *testing.T) {
	sub, disc, tax, total := lineCost(10, 2.50, 10, 11)
	assert.Equal(t, 25.00, sub)
	assert.Equal(t, 2.50, disc)
	assert.InDelta(t, 2.48, tax, 0.001) // 11% of 22.50, rounded
	assert.InDelta(t, 24.98, total, 0.001)
}

func TestCreatePurchaseReceivesStock(t *testing.T) {
	f := setupPurchases(t)

	purchase, err := f.svc.CreatePurchase(context.Background(), CreatePurchaseInput{
		BranchID:   ref(f.branch.ID),
		SupplierID: ref(f.supplier.ID),
		Items:      []ItemInput{{ProductID: ref(f.product.ID), Qty: 20, UnitCost: 2.20}},
	})
	require.NoError(t, err)

	prefix := fmt.Sprintf("PUR-MAIN-%s-", time.Now().Format("20060102"))
	assert.Equal(t, prefix+"0001", purchase.PurchaseNumber)
	assert.Equal(t, "submitted", purchase.Status)
	assert.InDelta(t, 44.00, purchase.GrandTotal, 0.001)

	var product models.Product
	require.NoError(t, f.db.First(&product, f.product.ID).Error)
	assert.Equal(t, 30, product.Stock)
	assert.InDelta(t, 2.20, product.Cost, 0.001)
	assert.False(t, product.Synced)

	// The spend landed on the finance ledger.
	var entry models.FinanceEntry
	res := f.db.Where("type = ?", "expense").Limit(1).Find(&entry)
	require.NoError(t, res.Error)
	require.EqualValues(t, 1, res.RowsAffected)
	assert.InDelta(t, 44.00, entry.Amount, 0.001)
}

func TestCreatePurchaseValidation(t *testing.T) {
	f := setupPurchases(t)

	_, err := f.svc.CreatePurchase(context.Background(), CreatePurchaseInput{
		BranchID: ref(f.branch.ID),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.CreatePurchase(context.Background(), CreatePurchaseInput{
		BranchID: ref(f.branch.ID),
		Items:    []ItemInput{{ProductID: ref(f.product.ID), Qty: 0, UnitCost: 2}},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.CreatePurchase(context.Background(), CreatePurchaseInput{
		BranchID: ref(f.branch.ID),
		Items:    []ItemInput{{ProductID: "local-999", Qty: 1, UnitCost: 2}},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestPurchaseNumberSequence(t *testing.T) {
	f := setupPurchases(t)

	input := CreatePurchaseInput{
		BranchID: ref(f.branch.ID),
		Items:    []ItemInput{{ProductID: ref(f.product.ID), Qty: 1, UnitCost: 2}},
	}
	first, err := f.svc.CreatePurchase(context.Background(), input)
	require.NoError(t, err)
	second, err := f.svc.CreatePurchase(context.Background(), input)
	require.NoError(t, err)

	prefix := fmt.Sprintf("PUR-MAIN-%s-", time.Now().Format("20060102"))
	assert.Equal(t, prefix+"0001", first.PurchaseNumber)
	assert.Equal(t, prefix+"0002", second.PurchaseNumber)
}

func (f *purchaseFixture) draftPO(t *testing.T) *models.PurchaseOrder {
	t.Helper()
	po, err := f.svc.CreatePurchaseOrder(context.Background(), CreatePurchaseOrderInput{
		BranchID:   ref(f.branch.ID),
		SupplierID: ref(f.supplier.ID),
		Items:      []ItemInput{{ProductID: ref(f.product.ID), Qty: 15, UnitCost: 2.00}},
	})
	require.NoError(t, err)
	return po
}

func TestPurchaseOrderApprovalChain(t *testing.T) {
	f := setupPurchases(t)
	po := f.draftPO(t)
	assert.Equal(t, models.PurchaseOrderStatusDraft, po.Status)
	assert.InDelta(t, 30.00, po.GrandTotal, 0.001)

	po, err := f.svc.SubmitPurchaseOrder(context.Background(), po.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseOrderStatusPending, po.Status)

	po, err = f.svc.ApprovePurchaseOrder(context.Background(), po.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseOrderStatusApproved, po.Status)
	assert.NotNil(t, po.ApprovedAt)

	po, err = f.svc.ReceivePurchaseOrder(context.Background(), po.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseOrderStatusReceived, po.Status)
	assert.NotNil(t, po.ReceivedAt)
	assert.Equal(t, 15, po.Items[0].ReceivedQty)

	var product models.Product
	require.NoError(t, f.db.First(&product, f.product.ID).Error)
	assert.Equal(t, 25, product.Stock)

	var entry models.FinanceEntry
	res := f.db.Where("type = ?", "expense").Limit(1).Find(&entry)
	require.NoError(t, res.Error)
	require.EqualValues(t, 1, res.RowsAffected)
	assert.InDelta(t, 30.00, entry.Amount, 0.001)
}

func TestReceiveRequiresApproval(t *testing.T) {
	f := setupPurchases(t)
	po := f.draftPO(t)

	_, err := f.svc.ReceivePurchaseOrder(context.Background(), po.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	var product models.Product
	require.NoError(t, f.db.First(&product, f.product.ID).Error)
	assert.Equal(t, 10, product.Stock)
}

func TestReceiveTwiceRejected(t *testing.T) {
	f := setupPurchases(t)
	po := f.draftPO(t)

	_, err := f.svc.SubmitPurchaseOrder(context.Background(), po.ID)
	require.NoError(t, err)
	_, err = f.svc.ApprovePurchaseOrder(context.Background(), po.ID, "")
	require.NoError(t, err)
	_, err = f.svc.ReceivePurchaseOrder(context.Background(), po.ID)
	require.NoError(t, err)

	_, err = f.svc.ReceivePurchaseOrder(context.Background(), po.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	// Stock moved exactly once.
	var product models.Product
	require.NoError(t, f.db.First(&product, f.product.ID).Error)
	assert.Equal(t, 25, product.Stock)
}

func TestSubmitNonDraftRejected(t *testing.T) {
	f := setupPurchases(t)
	po := f.draftPO(t)

	_, err := f.svc.SubmitPurchaseOrder(context.Background(), po.ID)
	require.NoError(t, err)
	_, err = f.svc.SubmitPurchaseOrder(context.Background(), po.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestCancelReceivedRejected(t *testing.T) {
	f := setupPurchases(t)
	po := f.draftPO(t)

	_, err := f.svc.CancelPurchaseOrder(context.Background(), po.ID)
	require.NoError(t, err)

	_, err = f.svc.CancelPurchaseOrder(context.Background(), po.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}
