// Package purchases covers inbound stock: direct purchase receipts and the
// purchase-order approval chain. Receipts mutate stock and the finance
// ledger in one transaction; purchase orders move draft -> pending ->
// approved -> received, and only the receive step touches stock.
package purchases

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"mesa-system/internal/apperrors"
	"mesa-system/internal/database/models"
	"mesa-system/internal/events"
	"mesa-system/internal/ledger"
	"mesa-system/internal/outbox"
)

type Service struct {
	db  *gorm.DB
	pub events.Publisher
	log zerolog.Logger
}

func NewService(db *gorm.DB, pub events.Publisher, logger zerolog.Logger) *Service {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{
		db:  db,
		pub: pub,
		log: logger.With().Str("component", "purchases").Logger(),
	}
}

type ItemInput struct {
	ProductID   string  `json:"productId"`
	Qty         int     `json:"qty"`
	UnitCost    float64 `json:"unitCost"`
	DiscountPct float64 `json:"discount,omitempty"`
	TaxPct      float64 `json:"tax,omitempty"`
}

type CreatePurchaseInput struct {
	BranchID      string      `json:"branch"`
	SupplierID    string      `json:"supplier,omitempty"`
	Items         []ItemInput `json:"items"`
	PaymentMethod string      `json:"paymentMethod,omitempty"`
	Notes         string      `json:"notes,omitempty"`
	CreatedByID   string      `json:"createdBy,omitempty"`
}

type CreatePurchaseOrderInput struct {
	BranchID         string      `json:"branch"`
	SupplierID       string      `json:"supplier,omitempty"`
	Items            []ItemInput `json:"items"`
	ExpectedDelivery *time.Time  `json:"expectedDelivery,omitempty"`
	Notes            string      `json:"notes,omitempty"`
	CreatedByID      string      `json:"createdBy,omitempty"`
}

// lineCost computes one purchase line: discount off the unit cost first,
// then tax on the discounted amount.
func lineCost(qty int, unitCost, discountPct, taxPct float64) (subtotal, discount, tax, total float64) {
	sub := decimal.NewFromFloat(unitCost).Mul(decimal.NewFromInt(int64(qty))).Round(2)
	disc := sub.Mul(decimal.NewFromFloat(discountPct)).Div(decimal.NewFromInt(100)).Round(2)
	taxed := sub.Sub(disc).Mul(decimal.NewFromFloat(taxPct)).Div(decimal.NewFromInt(100)).Round(2)
	tot := sub.Sub(disc).Add(taxed).Round(2)
	return sub.InexactFloat64(), disc.InexactFloat64(), taxed.InexactFloat64(), tot.InexactFloat64()
}

func resolveID(tx *gorm.DB, table, ref string) int64 {
	if ref == "" {
		return 0
	}
	if strings.HasPrefix(ref, "local-") {
		n, err := strconv.ParseInt(strings.TrimPrefix(ref, "local-"), 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	if n, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return n
	}
	var row struct{ ID int64 }
	if err := tx.Table(table).Select("id").Where("remote_id = ?", ref).Scan(&row).Error; err != nil {
		return 0
	}
	return row.ID
}

func nextNumber(tx *gorm.DB, table, column, kind, branchCode string, now time.Time) (string, error) {
	prefix := fmt.Sprintf("%s-%s-%s-", kind, branchCode, now.Format("20060102"))
	var last struct{ Number string }
	err := tx.Table(table).
		Select(column + " AS number").
		Where(column+" LIKE ?", prefix+"%").
		Order(column + " DESC").
		Limit(1).
		Scan(&last).Error
	if err != nil {
		return "", err
	}

	seq := int64(1)
	if last.Number != "" {
		if n, err := strconv.ParseInt(strings.TrimPrefix(last.Number, prefix), 10, 64); err == nil {
			seq = n + 1
		}
	}
	return fmt.Sprintf("%s%04d", prefix, seq), nil
}

func validateItems(items []ItemInput) error {
	if len(items) == 0 {
		return apperrors.Validation("items", "purchase must have at least one item")
	}
	for _, it := range items {
		if it.Qty <= 0 {
			return apperrors.Validation("items", "item qty must be positive")
		}
		if it.UnitCost < 0 {
			return apperrors.Validation("items", "unit cost cannot be negative")
		}
	}
	return nil
}

// CreatePurchase receives goods immediately: stock and product cost update
// with the receipt, and the spend lands on the finance ledger.
func (s *Service) CreatePurchase(ctx context.Context, input CreatePurchaseInput) (*models.Purchase, error) {
	if input.BranchID == "" {
		return nil, apperrors.Validation("branch", "branch is required")
	}
	if err := validateItems(input.Items); err != nil {
		return nil, err
	}

	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	branchID := resolveID(tx, models.EntityBranch, input.BranchID)
	var branch models.Branch
	res := tx.Limit(1).Find(&branch, branchID)
	if res.Error != nil {
		tx.Rollback()
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return nil, apperrors.NotFound("branch", input.BranchID)
	}

	var supplierID *int64
	if input.SupplierID != "" {
		id := resolveID(tx, models.EntitySupplier, input.SupplierID)
		var supplier models.Supplier
		res := tx.Limit(1).Find(&supplier, id)
		if res.Error != nil {
			tx.Rollback()
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			tx.Rollback()
			return nil, apperrors.NotFound("supplier", input.SupplierID)
		}
		supplierID = &supplier.ID
	}

	now := time.Now()
	var items []models.PurchaseItem
	var subtotal, discountTotal, taxTotal, grandTotal float64
	for _, itemReq := range input.Items {
		productID := resolveID(tx, models.EntityProduct, itemReq.ProductID)
		var product models.Product
		res := tx.Limit(1).Find(&product, productID)
		if res.Error != nil {
			tx.Rollback()
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			tx.Rollback()
			return nil, apperrors.NotFound("product", itemReq.ProductID)
		}

		product.Stock += itemReq.Qty
		product.Cost = itemReq.UnitCost
		product.Synced = false
		if err := tx.Save(&product).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := outbox.Append(tx, models.EntityProduct, product.ID); err != nil {
			tx.Rollback()
			return nil, err
		}

		sub, disc, taxAmt, total := lineCost(itemReq.Qty, itemReq.UnitCost, itemReq.DiscountPct, itemReq.TaxPct)
		items = append(items, models.PurchaseItem{
			ProductID:   product.ID,
			Qty:         itemReq.Qty,
			UnitCost:    itemReq.UnitCost,
			DiscountPct: itemReq.DiscountPct,
			TaxPct:      itemReq.TaxPct,
			Total:       total,
		})
		subtotal += sub
		discountTotal += disc
		taxTotal += taxAmt
		grandTotal += total
	}

	number, err := nextNumber(tx, models.EntityPurchase, "purchase_number", "PUR", branch.BranchCode, now)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	purchase := models.Purchase{
		PurchaseNumber: number,
		SupplierID:     supplierID,
		Subtotal:       subtotal,
		TaxTotal:       taxTotal,
		DiscountTotal:  discountTotal,
		GrandTotal:     grandTotal,
		PaymentMethod:  input.PaymentMethod,
		Status:         "submitted",
		BranchID:       branch.ID,
		Notes:          input.Notes,
		Items:          items,
	}
	if purchase.PaymentMethod == "" {
		purchase.PaymentMethod = "cash"
	}
	if createdBy := resolveID(tx, models.EntityUser, input.CreatedByID); createdBy != 0 {
		purchase.CreatedByID = &createdBy
	}

	if err := tx.Create(&purchase).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := outbox.Append(tx, models.EntityPurchase, purchase.ID); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := ledger.RecordExpense(tx, branch.ID, grandTotal, "purchase "+number, now); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	s.pub.Publish(ctx, events.Event{
		EventType:   events.EventPurchaseCreated,
		OrderNumber: purchase.PurchaseNumber,
		TotalAmount: purchase.GrandTotal,
	})
	return &purchase, nil
}

func (s *Service) GetPurchase(ctx context.Context, id int64) (*models.Purchase, error) {
	var purchase models.Purchase
	res := s.db.Preload("Items").Preload("Supplier").Limit(1).Find(&purchase, id)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.NotFound("purchase", strconv.FormatInt(id, 10))
	}
	return &purchase, nil
}

func (s *Service) ListPurchases(ctx context.Context, branchID string, limit int) ([]models.Purchase, error) {
	q := s.db.Preload("Items").Order("id DESC")
	if branchID != "" {
		q = q.Where("branch_id = ?", resolveID(s.db, models.EntityBranch, branchID))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.Purchase
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// -- Purchase orders --

func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreatePurchaseOrderInput) (*models.PurchaseOrder, error) {
	if input.BranchID == "" {
		return nil, apperrors.Validation("branch", "branch is required")
	}
	if err := validateItems(input.Items); err != nil {
		return nil, err
	}

	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	branchID := resolveID(tx, models.EntityBranch, input.BranchID)
	var branch models.Branch
	res := tx.Limit(1).Find(&branch, branchID)
	if res.Error != nil {
		tx.Rollback()
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return nil, apperrors.NotFound("branch", input.BranchID)
	}

	var supplierID *int64
	if input.SupplierID != "" {
		id := resolveID(tx, models.EntitySupplier, input.SupplierID)
		if id == 0 {
			tx.Rollback()
			return nil, apperrors.NotFound("supplier", input.SupplierID)
		}
		supplierID = &id
	}

	now := time.Now()
	var items []models.PurchaseOrderItem
	var subtotal, discountTotal, taxTotal, grandTotal float64
	for _, itemReq := range input.Items {
		productID := resolveID(tx, models.EntityProduct, itemReq.ProductID)
		if productID == 0 {
			tx.Rollback()
			return nil, apperrors.NotFound("product", itemReq.ProductID)
		}
		sub, disc, taxAmt, total := lineCost(itemReq.Qty, itemReq.UnitCost, itemReq.DiscountPct, itemReq.TaxPct)
		items = append(items, models.PurchaseOrderItem{
			ProductID:   productID,
			OrderedQty:  itemReq.Qty,
			UnitCost:    itemReq.UnitCost,
			DiscountPct: itemReq.DiscountPct,
			TaxPct:      itemReq.TaxPct,
			Total:       total,
		})
		subtotal += sub
		discountTotal += disc
		taxTotal += taxAmt
		grandTotal += total
	}

	number, err := nextNumber(tx, "purchase_orders", "order_number", "PO", branch.BranchCode, now)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	po := models.PurchaseOrder{
		OrderNumber:      number,
		SupplierID:       supplierID,
		Status:           models.PurchaseOrderStatusDraft,
		Subtotal:         subtotal,
		TaxTotal:         taxTotal,
		DiscountTotal:    discountTotal,
		GrandTotal:       grandTotal,
		BranchID:         branch.ID,
		ExpectedDelivery: input.ExpectedDelivery,
		Notes:            input.Notes,
		Items:            items,
	}
	if createdBy := resolveID(tx, models.EntityUser, input.CreatedByID); createdBy != 0 {
		po.CreatedByID = &createdBy
	}

	if err := tx.Create(&po).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &po, nil
}

func (s *Service) loadPurchaseOrder(id int64) (*models.PurchaseOrder, error) {
	var po models.PurchaseOrder
	res := s.db.Preload("Items").Limit(1).Find(&po, id)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.NotFound("purchase order", strconv.FormatInt(id, 10))
	}
	return &po, nil
}

// SubmitPurchaseOrder moves a draft into the approval queue.
func (s *Service) SubmitPurchaseOrder(ctx context.Context, id int64) (*models.PurchaseOrder, error) {
	po, err := s.loadPurchaseOrder(id)
	if err != nil {
		return nil, err
	}
	if po.Status != models.PurchaseOrderStatusDraft {
		return nil, apperrors.Conflict("purchase order %s is %s, not draft", po.OrderNumber, po.Status)
	}
	po.Status = models.PurchaseOrderStatusPending
	if err := s.db.Omit("Items").Save(po).Error; err != nil {
		return nil, err
	}
	return po, nil
}

func (s *Service) ApprovePurchaseOrder(ctx context.Context, id int64, approverID string) (*models.PurchaseOrder, error) {
	po, err := s.loadPurchaseOrder(id)
	if err != nil {
		return nil, err
	}
	if po.Status != models.PurchaseOrderStatusPending {
		return nil, apperrors.Conflict("purchase order %s is %s, not pending", po.OrderNumber, po.Status)
	}
	now := time.Now()
	po.Status = models.PurchaseOrderStatusApproved
	po.ApprovedAt = &now
	if approver := resolveID(s.db, models.EntityUser, approverID); approver != 0 {
		po.ApprovedByID = &approver
	}
	if err := s.db.Omit("Items").Save(po).Error; err != nil {
		return nil, err
	}
	return po, nil
}

// ReceivePurchaseOrder books the delivery: stock up, received quantities
// stamped, spend on the ledger. Receiving twice is a conflict.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, id int64) (*models.PurchaseOrder, error) {
	po, err := s.loadPurchaseOrder(id)
	if err != nil {
		return nil, err
	}
	if po.Status == models.PurchaseOrderStatusReceived {
		return nil, apperrors.Conflict("purchase order %s has already been received", po.OrderNumber)
	}
	if po.Status != models.PurchaseOrderStatusApproved {
		return nil, apperrors.Conflict("purchase order %s is %s, not approved", po.OrderNumber, po.Status)
	}

	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	now := time.Now()
	for i := range po.Items {
		item := &po.Items[i]
		err := tx.Model(&models.Product{}).
			Where("id = ?", item.ProductID).
			Updates(map[string]interface{}{
				"stock":  gorm.Expr("stock + ?", item.OrderedQty),
				"cost":   item.UnitCost,
				"synced": false,
			}).Error
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := outbox.Append(tx, models.EntityProduct, item.ProductID); err != nil {
			tx.Rollback()
			return nil, err
		}
		item.ReceivedQty = item.OrderedQty
		if err := tx.Save(item).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	po.Status = models.PurchaseOrderStatusReceived
	po.ReceivedAt = &now
	if err := tx.Omit("Items").Save(po).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := ledger.RecordExpense(tx, po.BranchID, po.GrandTotal, "purchase order "+po.OrderNumber, now); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	s.pub.Publish(ctx, events.Event{
		EventType:   events.EventStockUpdated,
		OrderNumber: po.OrderNumber,
		TotalAmount: po.GrandTotal,
	})
	return po, nil
}

func (s *Service) CancelPurchaseOrder(ctx context.Context, id int64) (*models.PurchaseOrder, error) {
	po, err := s.loadPurchaseOrder(id)
	if err != nil {
		return nil, err
	}
	if po.Status == models.PurchaseOrderStatusReceived {
		return nil, apperrors.Conflict("received purchase order %s cannot be cancelled", po.OrderNumber)
	}
	if po.Status == models.PurchaseOrderStatusCancelled {
		return nil, apperrors.Conflict("purchase order %s is already cancelled", po.OrderNumber)
	}
	po.Status = models.PurchaseOrderStatusCancelled
	if err := s.db.Omit("Items").Save(po).Error; err != nil {
		return nil, err
	}
	return po, nil
}

func (s *Service) ListPurchaseOrders(ctx context.Context, branchID, status string) ([]models.PurchaseOrder, error) {
	q := s.db.Preload("Items").Order("id DESC")
	if branchID != "" {
		q = q.Where("branch_id = ?", resolveID(s.db, models.EntityBranch, branchID))
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []models.PurchaseOrder
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
