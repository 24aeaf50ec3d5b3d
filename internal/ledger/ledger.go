// Package ledger appends finance and customer-account entries. Both tables
// are append-only: corrections are new entries, never edits. Every function
// takes the caller's transaction so ledger rows commit or roll back with the
// business mutation they record.
package ledger

import (
	"time"

	"gorm.io/gorm"

	"mesa-system/internal/apperrors"
	"mesa-system/internal/database/models"
	"mesa-system/internal/outbox"
)

const (
	TxTypeSale    = "sale"
	TxTypePayment = "payment"
	TxTypeRefund  = "refund"
)

// RecordIncome appends an income entry to the branch finance ledger.
func RecordIncome(tx *gorm.DB, branchID int64, amount float64, description string, at time.Time) error {
	return recordFinance(tx, "income", branchID, amount, description, at)
}

// RecordExpense appends an expense entry to the branch finance ledger.
func RecordExpense(tx *gorm.DB, branchID int64, amount float64, description string, at time.Time) error {
	return recordFinance(tx, "expense", branchID, amount, description, at)
}

func recordFinance(tx *gorm.DB, entryType string, branchID int64, amount float64, description string, at time.Time) error {
	if amount <= 0 {
		return apperrors.Validation("amount", "ledger amount must be positive")
	}
	entry := models.FinanceEntry{
		Type:        entryType,
		Amount:      amount,
		Description: description,
		Date:        at,
		BranchID:    branchID,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return err
	}
	return outbox.Append(tx, models.EntityFinance, entry.ID)
}

// RecordSaleOnCredit charges a sale to the customer's account. The running
// balance goes down by the amount owed.
func RecordSaleOnCredit(tx *gorm.DB, customerID, branchID int64, amount float64, description string, at time.Time) error {
	return appendCustomerEntry(tx, customerID, branchID, TxTypeSale, -amount, amount, 0, description, at)
}

// RecordPayment credits a payment against the customer's account. The
// running balance goes up.
func RecordPayment(tx *gorm.DB, customerID, branchID int64, amount float64, description string, at time.Time) error {
	return appendCustomerEntry(tx, customerID, branchID, TxTypePayment, amount, 0, amount, description, at)
}

// RecordRefund returns money to the customer's account.
func RecordRefund(tx *gorm.DB, customerID, branchID int64, amount float64, description string, at time.Time) error {
	return appendCustomerEntry(tx, customerID, branchID, TxTypeRefund, amount, 0, amount, description, at)
}

func appendCustomerEntry(tx *gorm.DB, customerID, branchID int64, txType string, balanceDelta, debit, credit float64, description string, at time.Time) error {
	amount := debit
	if amount == 0 {
		amount = credit
	}
	if amount <= 0 {
		return apperrors.Validation("amount", "ledger amount must be positive")
	}

	var customer models.Customer
	res := tx.Limit(1).Find(&customer, customerID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("customer", "")
	}

	balance := customer.CurrentBalance + balanceDelta

	entry := models.CustomerLedger{
		CustomerID:      customerID,
		TransactionType: txType,
		Amount:          amount,
		Balance:         balance,
		Description:     description,
		Date:            at,
		BranchID:        branchID,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return err
	}
	if err := outbox.Append(tx, models.EntityLedger, entry.ID); err != nil {
		return err
	}

	err := tx.Model(&models.Customer{}).
		Where("id = ?", customerID).
		Updates(map[string]interface{}{
			"current_balance": balance,
			"total_debit":     gorm.Expr("total_debit + ?", debit),
			"total_credit":    gorm.Expr("total_credit + ?", credit),
			"synced":          false,
		}).Error
	if err != nil {
		return err
	}
	return outbox.Append(tx, models.EntityCustomer, customerID)
}

// History returns a customer's ledger entries, newest first.
func History(db *gorm.DB, customerID int64, limit int) ([]models.CustomerLedger, error) {
	q := db.Where("customer_id = ?", customerID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []models.CustomerLedger
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
