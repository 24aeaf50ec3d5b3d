package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"mesa-system/internal/apperrors"
	"mesa-system/internal/database"
	"mesa-system/internal/database/models"
)

func setupLedger(t *testing.T) (*gorm.DB, models.Branch, models.Customer) {
	t.Helper()
	db, err := database.NewConnection(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	branch := models.Branch{Name: "Main", BranchCode: "MAIN"}
	require.NoError(t, db.Create(&branch).Error)
	customer := models.Customer{Name: "Dina", Phone: "0811", BranchID: branch.ID}
	require.NoError(t, db.Create(&customer).Error)
	return db, branch, customer
}

func TestRecordIncomeAndExpense(t *testing.T) {
	db, branch, _ := setupLedger(t)
	now := time.Now()

	require.NoError(t, RecordIncome(db, branch.ID, 20.70, "order ORD-MAIN-20250314-0001", now))
	require.NoError(t, RecordExpense(db, branch.ID, 150.00, "purchase PUR-MAIN-20250314-0001", now))

	var entries []models.FinanceEntry
	require.NoError(t, db.Order("id").Find(&entries).Error)
	require.Len(t, entries, 2)
	assert.Equal(t, "income", entries[0].Type)
	assert.InDelta(t, 20.70, entries[0].Amount, 0.001)
	assert.Equal(t, "expense", entries[1].Type)

	var queued int64
	db.Model(&models.SyncOutbox{}).Where("entity = ?", models.EntityFinance).Count(&queued)
	assert.EqualValues(t, 2, queued)
}

func TestRecordFinanceRejectsNonPositive(t *testing.T) {
	db, branch, _ := setupLedger(t)

	err := RecordIncome(db, branch.ID, 0, "nothing", time.Now())
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	err = RecordExpense(db, branch.ID, -5, "negative", time.Now())
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestCustomerRunningBalance(t *testing.T) {
	db, branch, customer := setupLedger(t)
	now := time.Now()

	require.NoError(t, RecordSaleOnCredit(db, customer.ID, branch.ID, 50, "order on credit", now))
	require.NoError(t, RecordPayment(db, customer.ID, branch.ID, 30, "partial payment", now))

	require.NoError(t, db.First(&customer, customer.ID).Error)
	assert.InDelta(t, -20, customer.CurrentBalance, 0.001)
	assert.InDelta(t, 50, customer.TotalDebit, 0.001)
	assert.InDelta(t, 30, customer.TotalCredit, 0.001)
	assert.False(t, customer.Synced)

	entries, err := History(db, customer.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first: the payment entry carries the post-payment balance.
	assert.Equal(t, TxTypePayment, entries[0].TransactionType)
	assert.InDelta(t, -20, entries[0].Balance, 0.001)
	assert.Equal(t, TxTypeSale, entries[1].TransactionType)
	assert.InDelta(t, -50, entries[1].Balance, 0.001)
}

func TestRecordRefundRaisesBalance(t *testing.T) {
	db, branch, customer := setupLedger(t)
	now := time.Now()

	require.NoError(t, RecordRefund(db, customer.ID, branch.ID, 10, "cancelled order", now))

	require.NoError(t, db.First(&customer, customer.ID).Error)
	assert.InDelta(t, 10, customer.CurrentBalance, 0.001)
}

func TestCustomerEntryUnknownCustomer(t *testing.T) {
	db, branch, _ := setupLedger(t)

	err := RecordSaleOnCredit(db, 999, branch.ID, 10, "ghost", time.Now())
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}
