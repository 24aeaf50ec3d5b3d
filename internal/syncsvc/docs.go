package syncsvc

import (
	"time"

	"gorm.io/gorm"

	"mesa-system/internal/database/models"
)

// remoteHex returns the remote id mirrored on a local row, or "" when the
// row is unknown or not yet synced.
func remoteHex(db *gorm.DB, table string, id int64) string {
	if id == 0 {
		return ""
	}
	var row struct{ RemoteID *string }
	if err := db.Table(table).Select("remote_id").Where("id = ?", id).Scan(&row).Error; err != nil {
		return ""
	}
	if row.RemoteID == nil {
		return ""
	}
	return *row.RemoteID
}

func remoteHexPtr(db *gorm.DB, table string, id *int64) string {
	if id == nil {
		return ""
	}
	return remoteHex(db, table, *id)
}

// localIDFor resolves a pulled remote reference onto the local mirror row.
func localIDFor(db *gorm.DB, table, hex string) int64 {
	if hex == "" {
		return 0
	}
	var row struct{ ID int64 }
	if err := db.Table(table).Select("id").Where("remote_id = ?", hex).Scan(&row).Error; err != nil {
		return 0
	}
	return row.ID
}

func setRef(doc map[string]interface{}, key, hex string) {
	if hex != "" {
		doc[key] = hex
	}
}

// -- Push document builders --
//
// Keys mirror the remote document schemas; reference fields carry hex ids
// and are cast by the store adapter.

func branchDoc(b *models.Branch) map[string]interface{} {
	return map[string]interface{}{
		"name":       b.Name,
		"branchCode": b.BranchCode,
		"address":    b.Address,
		"phone":      b.Phone,
		"email":      b.Email,
		"isActive":   b.IsActive,
		"settings": map[string]interface{}{
			"taxRate":       b.Settings.TaxRate,
			"serviceCharge": b.Settings.ServiceCharge,
			"currency":      b.Settings.Currency,
			"timezone":      b.Settings.Timezone,
		},
	}
}

func userDoc(db *gorm.DB, u *models.User) map[string]interface{} {
	doc := map[string]interface{}{
		"name":     u.Name,
		"password": u.Password,
		"role":     u.Role,
		"isActive": u.IsActive,
	}
	if u.Email != nil {
		doc["email"] = *u.Email
	}
	if u.Username != nil {
		doc["username"] = *u.Username
	}
	setRef(doc, "branch", remoteHex(db, models.EntityBranch, u.BranchID))
	return doc
}

func productDoc(db *gorm.DB, p *models.Product) map[string]interface{} {
	doc := map[string]interface{}{
		"name":        p.Name,
		"description": p.Description,
		"price":       p.Price,
		"cost":        p.Cost,
		"category":    p.Category,
		"stock":       p.Stock,
		"minStock":    p.MinStock,
		"isAvailable": p.IsAvailable,
		"active":      p.Active,
		"image":       p.Image,
		"sku":         p.SKU,
		"barcode":     p.Barcode,
		"salesCount":  p.SalesCount,
	}
	setRef(doc, "branch", remoteHex(db, models.EntityBranch, p.BranchID))
	return doc
}

func customerDoc(db *gorm.DB, c *models.Customer) map[string]interface{} {
	doc := map[string]interface{}{
		"name":           c.Name,
		"phone":          c.Phone,
		"email":          c.Email,
		"currentBalance": c.CurrentBalance,
		"totalDebit":     c.TotalDebit,
		"totalCredit":    c.TotalCredit,
		"totalOrders":    c.TotalOrders,
		"totalSpent":     c.TotalSpent,
		"loyaltyPoints":  c.LoyaltyPoints,
	}
	if c.LastOrder != nil {
		doc["lastOrder"] = *c.LastOrder
	}
	setRef(doc, "branch", remoteHex(db, models.EntityBranch, c.BranchID))
	return doc
}

func tableDoc(db *gorm.DB, t *models.Table) map[string]interface{} {
	doc := map[string]interface{}{
		"number":   t.Number,
		"name":     t.Name,
		"capacity": t.Capacity,
		"location": t.Location,
		"status":   t.Status,
	}
	setRef(doc, "branch", remoteHex(db, models.EntityBranch, t.BranchID))
	if t.SessionStartedAt != nil {
		session := map[string]interface{}{"startedAt": *t.SessionStartedAt}
		if t.SessionPartySize != nil {
			session["customers"] = *t.SessionPartySize
		}
		setRef(session, "waiter", remoteHexPtr(db, models.EntityUser, t.SessionWaiterID))
		doc["currentSession"] = session
	}
	return doc
}

func supplierDoc(db *gorm.DB, sp *models.Supplier) map[string]interface{} {
	doc := map[string]interface{}{
		"name":    sp.Name,
		"contact": sp.Contact,
		"phone":   sp.Phone,
		"email":   sp.Email,
		"address": sp.Address,
	}
	setRef(doc, "branch", remoteHex(db, models.EntityBranch, sp.BranchID))
	return doc
}

func expenseDoc(db *gorm.DB, e *models.Expense) map[string]interface{} {
	doc := map[string]interface{}{
		"description": e.Description,
		"amount":      e.Amount,
		"category":    e.Category,
		"date":        e.Date,
	}
	setRef(doc, "branch", remoteHex(db, models.EntityBranch, e.BranchID))
	return doc
}

func orderDoc(db *gorm.DB, o *models.Order) map[string]interface{} {
	items := make([]map[string]interface{}, 0, len(o.Items))
	for _, it := range o.Items {
		item := map[string]interface{}{
			"productName": it.ProductName,
			"quantity":    it.Quantity,
			"price":       it.Price,
			"total":       it.Total,
			"notes":       it.Notes,
		}
		setRef(item, "product", remoteHex(db, models.EntityProduct, it.ProductID))
		items = append(items, item)
	}

	doc := map[string]interface{}{
		"orderNumber":   o.OrderNumber,
		"orderType":     o.OrderType,
		"status":        o.Status,
		"kitchenStatus": o.KitchenStatus,
		"kitchenNotes":  o.KitchenNotes,
		"tableNumber":   o.TableNumber,
		"customerName":  o.CustomerName,
		"customerPhone": o.CustomerPhone,
		"items":         items,
		"subtotal":      o.Subtotal,
		"tax":           o.Tax,
		"serviceCharge": o.ServiceCharge,
		"discount":      o.Discount,
		"tip":           o.Tip,
		"finalTotal":    o.FinalTotal,
		"paymentMethod": o.PaymentMethod,
		"paymentStatus": o.PaymentStatus,
	}
	setRef(doc, "table", remoteHexPtr(db, models.EntityTable, o.TableID))
	setRef(doc, "customer", remoteHexPtr(db, models.EntityCustomer, o.CustomerID))
	setRef(doc, "cashier", remoteHexPtr(db, models.EntityUser, o.CashierID))
	setRef(doc, "branch", remoteHex(db, models.EntityBranch, o.BranchID))
	if o.PreparationTime != nil {
		doc["preparationTime"] = *o.PreparationTime
	}
	if o.ServedAt != nil {
		doc["servedAt"] = *o.ServedAt
	}
	if o.CompletedAt != nil {
		doc["completedAt"] = *o.CompletedAt
	}
	if o.CreatedAt != nil {
		doc["createdAt"] = *o.CreatedAt
	}
	return doc
}

func purchaseDoc(db *gorm.DB, p *models.Purchase) map[string]interface{} {
	items := make([]map[string]interface{}, 0, len(p.Items))
	for _, it := range p.Items {
		item := map[string]interface{}{
			"qty":      it.Qty,
			"unitCost": it.UnitCost,
			"discount": it.DiscountPct,
			"tax":      it.TaxPct,
			"total":    it.Total,
		}
		setRef(item, "product", remoteHex(db, models.EntityProduct, it.ProductID))
		items = append(items, item)
	}

	doc := map[string]interface{}{
		"purchaseNumber": p.PurchaseNumber,
		"items":          items,
		"subtotal":       p.Subtotal,
		"taxTotal":       p.TaxTotal,
		"discountTotal":  p.DiscountTotal,
		"grandTotal":     p.GrandTotal,
		"paymentMethod":  p.PaymentMethod,
		"status":         p.Status,
		"notes":          p.Notes,
	}
	setRef(doc, "supplier", remoteHexPtr(db, models.EntitySupplier, p.SupplierID))
	setRef(doc, "branch", remoteHex(db, models.EntityBranch, p.BranchID))
	return doc
}

func financeDoc(db *gorm.DB, f *models.FinanceEntry) map[string]interface{} {
	doc := map[string]interface{}{
		"type":        f.Type,
		"amount":      f.Amount,
		"description": f.Description,
		"date":        f.Date,
	}
	setRef(doc, "branch", remoteHex(db, models.EntityBranch, f.BranchID))
	return doc
}

func ledgerDoc(db *gorm.DB, l *models.CustomerLedger) map[string]interface{} {
	doc := map[string]interface{}{
		"transactionType": l.TransactionType,
		"amount":          l.Amount,
		"balance":         l.Balance,
		"description":     l.Description,
		"date":            l.Date,
	}
	setRef(doc, "customer", remoteHex(db, models.EntityCustomer, l.CustomerID))
	setRef(doc, "branch", remoteHex(db, models.EntityBranch, l.BranchID))
	return doc
}

// -- Pull value helpers --

func getStr(doc map[string]interface{}, key string) string {
	if s, ok := doc[key].(string); ok {
		return s
	}
	return ""
}

func getF64(doc map[string]interface{}, key string) float64 {
	switch v := doc[key].(type) {
	case float64:
		return v
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func getInt(doc map[string]interface{}, key string) int {
	return int(getF64(doc, key))
}

func getBool(doc map[string]interface{}, key string, def bool) bool {
	if b, ok := doc[key].(bool); ok {
		return b
	}
	return def
}

func getTime(doc map[string]interface{}, key string) *time.Time {
	if t, ok := doc[key].(time.Time); ok {
		return &t
	}
	return nil
}
