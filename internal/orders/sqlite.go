package orders

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"mesa-system/internal/apperrors"
	"mesa-system/internal/database/models"
	"mesa-system/internal/events"
	"mesa-system/internal/ledger"
	"mesa-system/internal/outbox"
)

// SQLiteEngine runs the order transaction against the local store. Every
// mutation also appends outbox entries so the sync service can mirror the
// rows it touched.
type SQLiteEngine struct {
	db  *gorm.DB
	pub events.Publisher
	log zerolog.Logger
}

func NewSQLiteEngine(db *gorm.DB, pub events.Publisher, logger zerolog.Logger) *SQLiteEngine {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &SQLiteEngine{
		db:  db,
		pub: pub,
		log: logger.With().Str("component", "orders-sqlite").Logger(),
	}
}

const localIDPrefix = "local-"

// resolveLocalID maps an external reference onto a local row id: a
// "local-<n>" ref, a plain numeric id, or a remote hex id mirrored in
// remote_id. Returns 0 when the ref is empty or unknown.
func resolveLocalID(tx *gorm.DB, table, ref string) int64 {
	if ref == "" {
		return 0
	}
	if strings.HasPrefix(ref, localIDPrefix) {
		n, err := strconv.ParseInt(strings.TrimPrefix(ref, localIDPrefix), 10, 64)
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

// idRef renders a local row id for external callers: the mirrored remote id
// when the row is synced, a local ref otherwise.
func idRef(tx *gorm.DB, table string, id int64) string {
	if id == 0 {
		return ""
	}
	var row struct{ RemoteID *string }
	if err := tx.Table(table).Select("remote_id").Where("id = ?", id).Scan(&row).Error; err == nil && row.RemoteID != nil {
		return *row.RemoteID
	}
	return fmt.Sprintf("%s%d", localIDPrefix, id)
}

func idRefPtr(tx *gorm.DB, table string, id *int64) string {
	if id == nil {
		return ""
	}
	return idRef(tx, table, *id)
}

func (e *SQLiteEngine) toView(o *models.Order) *Order {
	view := &Order{
		ID:              idRef(e.db, models.EntityOrder, o.ID),
		OrderNumber:     o.OrderNumber,
		OrderType:       o.OrderType,
		Status:          o.Status,
		KitchenStatus:   o.KitchenStatus,
		KitchenNotes:    o.KitchenNotes,
		TableID:         idRefPtr(e.db, models.EntityTable, o.TableID),
		TableNumber:     o.TableNumber,
		CustomerID:      idRefPtr(e.db, models.EntityCustomer, o.CustomerID),
		CustomerName:    o.CustomerName,
		CustomerPhone:   o.CustomerPhone,
		Subtotal:        o.Subtotal,
		Tax:             o.Tax,
		ServiceCharge:   o.ServiceCharge,
		Discount:        o.Discount,
		Tip:             o.Tip,
		FinalTotal:      o.FinalTotal,
		PaymentMethod:   o.PaymentMethod,
		PaymentStatus:   o.PaymentStatus,
		CashierID:       idRefPtr(e.db, models.EntityUser, o.CashierID),
		BranchID:        idRef(e.db, models.EntityBranch, o.BranchID),
		PreparationTime: o.PreparationTime,
		ServedAt:        o.ServedAt,
		CompletedAt:     o.CompletedAt,
		CreatedAt:       o.CreatedAt,
	}
	for _, it := range o.Items {
		view.Items = append(view.Items, Item{
			ProductID:   idRef(e.db, models.EntityProduct, it.ProductID),
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       it.Price,
			Total:       it.Total,
			Notes:       it.Notes,
		})
	}
	return view
}

func (e *SQLiteEngine) loadOrder(db *gorm.DB, id string) (*models.Order, error) {
	localID := resolveLocalID(db, models.EntityOrder, id)
	if localID == 0 {
		return nil, apperrors.NotFound("order", id)
	}
	var order models.Order
	res := db.Preload("Items").Limit(1).Find(&order, localID)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.NotFound("order", id)
	}
	return &order, nil
}

// nextOrderNumber continues today's sequence for the branch from the highest
// number already issued.
func nextOrderNumber(tx *gorm.DB, branchCode string, now time.Time) (string, error) {
	prefix := fmt.Sprintf("ORD-%s-%s-", branchCode, now.Format("20060102"))
	var last struct{ OrderNumber string }
	err := tx.Table(models.EntityOrder).
		Select("order_number").
		Where("order_number LIKE ?", prefix+"%").
		Order("order_number DESC").
		Limit(1).
		Scan(&last).Error
	if err != nil {
		return "", err
	}

	seq := int64(1)
	if last.OrderNumber != "" {
		if n, err := strconv.ParseInt(strings.TrimPrefix(last.OrderNumber, prefix), 10, 64); err == nil {
			seq = n + 1
		}
	}
	return formatOrderNumber(branchCode, now, seq), nil
}

func (e *SQLiteEngine) CreateOrder(ctx context.Context, input CreateOrderInput) (*Order, error) {
	if input.BranchID == "" {
		return nil, apperrors.Validation("branch", "branch is required")
	}
	if len(input.Items) == 0 {
		return nil, apperrors.Validation("items", "order must have at least one item")
	}
	if input.OrderType == "" {
		input.OrderType = models.OrderTypeDineIn
	}
	if !validOrderType(input.OrderType) {
		return nil, apperrors.Validation("orderType", "unknown order type %q", input.OrderType)
	}
	for _, it := range input.Items {
		if it.Quantity <= 0 {
			return nil, apperrors.Validation("items", "item quantity must be positive")
		}
	}

	tx := e.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	branchID := resolveLocalID(tx, models.EntityBranch, input.BranchID)
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

	now := time.Now()

	// Table flow: dine-in orders seat a table, flipping it to occupied with
	// session metadata.
	var table *models.Table
	if input.TableID != "" {
		tableID := resolveLocalID(tx, models.EntityTable, input.TableID)
		var t models.Table
		res := tx.Where("id = ? AND branch_id = ?", tableID, branch.ID).Limit(1).Find(&t)
		if res.Error != nil {
			tx.Rollback()
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			tx.Rollback()
			return nil, apperrors.NotFound("table", input.TableID)
		}
		if t.Status != models.TableStatusAvailable {
			tx.Rollback()
			return nil, apperrors.Conflict("table %s is %s", t.Number, t.Status)
		}

		t.Status = models.TableStatusOccupied
		t.SessionStartedAt = &now
		if input.PartySize > 0 {
			t.SessionPartySize = &input.PartySize
		}
		if waiterID := resolveLocalID(tx, models.EntityUser, input.WaiterID); waiterID != 0 {
			t.SessionWaiterID = &waiterID
		}
		t.Synced = false
		if err := tx.Save(&t).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := outbox.Append(tx, models.EntityTable, t.ID); err != nil {
			tx.Rollback()
			return nil, err
		}
		table = &t
	}

	// Stock flow: validate then decrement inside the same transaction, so a
	// later failure restores every product untouched.
	var items []models.OrderItem
	var subtotal float64
	for _, itemReq := range input.Items {
		productID := resolveLocalID(tx, models.EntityProduct, itemReq.ProductID)
		var product models.Product
		res := tx.Where("id = ? AND branch_id = ?", productID, branch.ID).Limit(1).Find(&product)
		if res.Error != nil {
			tx.Rollback()
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			tx.Rollback()
			return nil, apperrors.NotFound("product", itemReq.ProductID)
		}
		if !product.Active || !product.IsAvailable {
			tx.Rollback()
			return nil, apperrors.Validation("items", "product %s is not available", product.Name)
		}
		if product.Stock < itemReq.Quantity {
			tx.Rollback()
			return nil, apperrors.Validation("items",
				"insufficient stock for %s: have %d, need %d", product.Name, product.Stock, itemReq.Quantity)
		}

		product.Stock -= itemReq.Quantity
		product.SalesCount += itemReq.Quantity
		product.Synced = false
		if err := tx.Save(&product).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := outbox.Append(tx, models.EntityProduct, product.ID); err != nil {
			tx.Rollback()
			return nil, err
		}

		total := lineTotal(product.Price, itemReq.Quantity)
		items = append(items, models.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    itemReq.Quantity,
			Price:       product.Price,
			Total:       total,
			Notes:       itemReq.Notes,
		})
		subtotal += total
	}

	// Customer flow: explicit id, then phone lookup, then create, then the
	// anonymous walk-in.
	customer, customerName, err := e.resolveCustomer(tx, input, branch.ID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	taxRate, serviceRate := rates(branch.Settings)
	totals := calcTotals(subtotal, taxRate, serviceRate, input.Discount, input.Tip)

	orderNumber, err := nextOrderNumber(tx, branch.BranchCode, now)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	order := models.Order{
		OrderNumber:   orderNumber,
		OrderType:     input.OrderType,
		Status:        models.OrderStatusPending,
		KitchenStatus: models.KitchenStatusPending,
		KitchenNotes:  input.KitchenNotes,
		CustomerName:  customerName,
		CustomerPhone: input.CustomerPhone,
		Subtotal:      totals.Subtotal,
		Tax:           totals.Tax,
		ServiceCharge: totals.ServiceCharge,
		Discount:      totals.Discount,
		Tip:           totals.Tip,
		FinalTotal:    totals.FinalTotal,
		PaymentMethod: input.PaymentMethod,
		PaymentStatus: models.PaymentStatusPending,
		BranchID:      branch.ID,
		Items:         items,
	}
	if order.PaymentMethod == "" {
		order.PaymentMethod = "cash"
	}
	if table != nil {
		order.TableID = &table.ID
		order.TableNumber = table.Number
	}
	if customer != nil {
		order.CustomerID = &customer.ID
		if customer.Phone != "" {
			order.CustomerPhone = customer.Phone
		}
	}
	if cashierID := resolveLocalID(tx, models.EntityUser, input.CashierID); cashierID != 0 {
		order.CashierID = &cashierID
	}

	if err := tx.Create(&order).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := outbox.Append(tx, models.EntityOrder, order.ID); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	e.pub.Publish(ctx, events.Event{
		EventType:   events.EventOrderCreated,
		OrderID:     idRef(e.db, models.EntityOrder, order.ID),
		OrderNumber: order.OrderNumber,
		BranchID:    idRef(e.db, models.EntityBranch, order.BranchID),
		Status:      order.Status,
		TotalAmount: order.FinalTotal,
	})

	return e.toView(&order), nil
}

func (e *SQLiteEngine) resolveCustomer(tx *gorm.DB, input CreateOrderInput, branchID int64) (*models.Customer, string, error) {
	if input.CustomerID != "" {
		customerID := resolveLocalID(tx, models.EntityCustomer, input.CustomerID)
		var c models.Customer
		res := tx.Where("id = ? AND branch_id = ?", customerID, branchID).Limit(1).Find(&c)
		if res.Error != nil {
			return nil, "", res.Error
		}
		if res.RowsAffected == 0 {
			return nil, "", apperrors.NotFound("customer", input.CustomerID)
		}
		name := c.Name
		if name == "" {
			name = input.CustomerName
		}
		return &c, name, nil
	}

	if input.CustomerPhone != "" {
		var c models.Customer
		res := tx.Where("phone = ? AND branch_id = ?", input.CustomerPhone, branchID).Limit(1).Find(&c)
		if res.Error != nil {
			return nil, "", res.Error
		}
		if res.RowsAffected > 0 {
			name := c.Name
			if name == "" {
				name = input.CustomerName
			}
			return &c, name, nil
		}

		name := input.CustomerName
		if name == "" {
			name = "Guest"
		}
		c = models.Customer{
			Name:     name,
			Phone:    input.CustomerPhone,
			BranchID: branchID,
		}
		if err := tx.Create(&c).Error; err != nil {
			return nil, "", err
		}
		if err := outbox.Append(tx, models.EntityCustomer, c.ID); err != nil {
			return nil, "", err
		}
		return &c, name, nil
	}

	if input.CustomerName != "" {
		return nil, input.CustomerName, nil
	}
	return nil, "Walking Customer", nil
}

func (e *SQLiteEngine) GetOrder(ctx context.Context, id string) (*Order, error) {
	order, err := e.loadOrder(e.db, id)
	if err != nil {
		return nil, err
	}
	return e.toView(order), nil
}

func (e *SQLiteEngine) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	q := e.db.Preload("Items").Order("id DESC")
	if filter.BranchID != "" {
		branchID := resolveLocalID(e.db, models.EntityBranch, filter.BranchID)
		q = q.Where("branch_id = ?", branchID)
	}
	switch filter.Status {
	case "":
	case "active":
		q = q.Where("status IN ?", activeStatuses)
	default:
		q = q.Where("status = ?", filter.Status)
	}
	if filter.KitchenStatus != "" {
		q = q.Where("kitchen_status = ?", filter.KitchenStatus)
	}
	if filter.OrderType != "" {
		q = q.Where("order_type = ?", filter.OrderType)
	}
	if filter.PaymentStatus != "" {
		q = q.Where("payment_status = ?", filter.PaymentStatus)
	}
	if !filter.From.IsZero() {
		q = q.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("created_at <= ?", filter.To)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []models.Order
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(rows))
	for i := range rows {
		out = append(out, *e.toView(&rows[i]))
	}
	return out, nil
}

func (e *SQLiteEngine) UpdateOrderStatus(ctx context.Context, id string, input StatusUpdateInput) (*Order, error) {
	if input.Status == "" && input.KitchenStatus == "" {
		return nil, apperrors.Validation("status", "status or kitchenStatus is required")
	}
	order, err := e.loadOrder(e.db, id)
	if err != nil {
		return nil, err
	}
	status := input.Status
	if status != "" {
		if err := validateTransition(order.Status, status); err != nil {
			return nil, err
		}
	}
	if input.KitchenStatus != "" {
		if !validKitchenStatus(input.KitchenStatus) {
			return nil, apperrors.Validation("kitchenStatus", "unknown kitchen status %q", input.KitchenStatus)
		}
		if isTerminal(order.Status) {
			return nil, apperrors.Conflict("order is already %s", order.Status)
		}
	}

	tx := e.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	now := time.Now()
	if input.KitchenStatus != "" {
		order.KitchenStatus = input.KitchenStatus
		// A kitchen-side ready promotes the order itself to at least ready.
		if input.KitchenStatus == models.KitchenStatusReady && status == "" &&
			!statusAtLeast(order.Status, models.OrderStatusReady) {
			status = models.OrderStatusReady
		}
	}
	if input.PreparationTime != nil &&
		(status == models.OrderStatusPreparing || input.KitchenStatus == models.KitchenStatusPreparing) {
		order.PreparationTime = input.PreparationTime
	}

	if status != "" {
		order.Status = status
		if input.KitchenStatus == "" {
			if ks := kitchenStatusFor(status); ks != "" {
				order.KitchenStatus = ks
			}
		}
	}

	switch status {
	case models.OrderStatusCancelled:
		if err := e.reverseOrder(tx, order); err != nil {
			tx.Rollback()
			return nil, err
		}

	case models.OrderStatusServed:
		order.ServedAt = &now
		if order.PreparationTime == nil && order.CreatedAt != nil {
			prep := int(now.Sub(*order.CreatedAt).Minutes())
			order.PreparationTime = &prep
		}

	case models.OrderStatusCompleted:
		order.CompletedAt = &now
		order.PaymentStatus = models.PaymentStatusPaid
		if err := e.freeTable(tx, order); err != nil {
			tx.Rollback()
			return nil, err
		}
		if order.CustomerID != nil {
			if err := e.creditCustomerVisit(tx, *order.CustomerID, order.FinalTotal, now); err != nil {
				tx.Rollback()
				return nil, err
			}
		}
	}

	order.Synced = false
	if err := tx.Omit("Items").Save(order).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := outbox.Append(tx, models.EntityOrder, order.ID); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	eventType := events.EventOrderStatusUpdated
	switch status {
	case models.OrderStatusCancelled:
		eventType = events.EventOrderCancelled
	case models.OrderStatusCompleted:
		eventType = events.EventOrderCompleted
	}
	e.pub.Publish(ctx, events.Event{
		EventType:   eventType,
		OrderID:     idRef(e.db, models.EntityOrder, order.ID),
		OrderNumber: order.OrderNumber,
		BranchID:    idRef(e.db, models.EntityBranch, order.BranchID),
		Status:      order.Status,
		TotalAmount: order.FinalTotal,
	})

	return e.toView(order), nil
}

// reverseOrder undoes a live order's side effects: stock back on the shelf,
// sales counts rolled back, the table freed.
func (e *SQLiteEngine) reverseOrder(tx *gorm.DB, order *models.Order) error {
	for _, it := range order.Items {
		err := tx.Model(&models.Product{}).
			Where("id = ?", it.ProductID).
			Updates(map[string]interface{}{
				"stock":       gorm.Expr("stock + ?", it.Quantity),
				"sales_count": gorm.Expr("sales_count - ?", it.Quantity),
				"synced":      false,
			}).Error
		if err != nil {
			return err
		}
		if err := outbox.Append(tx, models.EntityProduct, it.ProductID); err != nil {
			return err
		}
	}
	return e.freeTable(tx, order)
}

func (e *SQLiteEngine) freeTable(tx *gorm.DB, order *models.Order) error {
	if order.TableID == nil {
		return nil
	}
	err := tx.Model(&models.Table{}).
		Where("id = ?", *order.TableID).
		Updates(map[string]interface{}{
			"status":             models.TableStatusAvailable,
			"session_started_at": nil,
			"session_party_size": nil,
			"session_waiter_id":  nil,
			"synced":             false,
		}).Error
	if err != nil {
		return err
	}
	return outbox.Append(tx, models.EntityTable, *order.TableID)
}

func (e *SQLiteEngine) creditCustomerVisit(tx *gorm.DB, customerID int64, finalTotal float64, now time.Time) error {
	err := tx.Model(&models.Customer{}).
		Where("id = ?", customerID).
		Updates(map[string]interface{}{
			"total_orders": gorm.Expr("total_orders + 1"),
			"total_spent":  gorm.Expr("total_spent + ?", finalTotal),
			"last_order":   now,
			"synced":       false,
		}).Error
	if err != nil {
		return err
	}
	return outbox.Append(tx, models.EntityCustomer, customerID)
}

func (e *SQLiteEngine) ProcessPayment(ctx context.Context, id string, input PaymentInput) (*PaymentResult, error) {
	order, err := e.loadOrder(e.db, id)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == models.PaymentStatusPaid {
		return nil, apperrors.Conflict("order %s is already paid", order.OrderNumber)
	}
	if order.Status == models.OrderStatusCancelled {
		return nil, apperrors.Conflict("order %s is cancelled", order.OrderNumber)
	}

	method := input.Method
	if method == "" {
		method = order.PaymentMethod
	}
	if method != "credit" && input.Amount < order.FinalTotal {
		return nil, apperrors.Validation("amount",
			"insufficient payment: received %.2f, required %.2f", input.Amount, order.FinalTotal)
	}

	tx := e.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	now := time.Now()
	change := 0.0
	if method != "credit" {
		change = input.Amount - order.FinalTotal
	}

	// Payment settles the order: completed, table freed, customer credited,
	// all in this transaction.
	order.PaymentStatus = models.PaymentStatusPaid
	order.PaymentMethod = method
	order.Status = models.OrderStatusCompleted
	order.KitchenStatus = models.KitchenStatusServed
	order.CompletedAt = &now
	order.Synced = false
	if err := tx.Omit("Items").Save(order).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := outbox.Append(tx, models.EntityOrder, order.ID); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := e.freeTable(tx, order); err != nil {
		tx.Rollback()
		return nil, err
	}

	points := 0
	if order.CustomerID != nil {
		points = loyaltyPoints(order.FinalTotal)
		err := tx.Model(&models.Customer{}).
			Where("id = ?", *order.CustomerID).
			Updates(map[string]interface{}{
				"loyalty_points": gorm.Expr("loyalty_points + ?", points),
				"total_orders":   gorm.Expr("total_orders + 1"),
				"total_spent":    gorm.Expr("total_spent + ?", order.FinalTotal),
				"last_order":     now,
				"synced":         false,
			}).Error
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := outbox.Append(tx, models.EntityCustomer, *order.CustomerID); err != nil {
			tx.Rollback()
			return nil, err
		}

		if method == "credit" {
			err := ledger.RecordSaleOnCredit(tx, *order.CustomerID, order.BranchID,
				order.FinalTotal, "order "+order.OrderNumber, now)
			if err != nil {
				tx.Rollback()
				return nil, err
			}
		}
	} else if method == "credit" {
		tx.Rollback()
		return nil, apperrors.Validation("method", "credit payment requires a customer account")
	}

	if method != "credit" {
		err := ledger.RecordIncome(tx, order.BranchID, order.FinalTotal,
			"order "+order.OrderNumber, now)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	e.pub.Publish(ctx, events.Event{
		EventType:   events.EventPaymentProcessed,
		OrderID:     idRef(e.db, models.EntityOrder, order.ID),
		OrderNumber: order.OrderNumber,
		BranchID:    idRef(e.db, models.EntityBranch, order.BranchID),
		Status:      order.Status,
		TotalAmount: order.FinalTotal,
	})

	return &PaymentResult{
		OrderID:       idRef(e.db, models.EntityOrder, order.ID),
		OrderNumber:   order.OrderNumber,
		FinalTotal:    order.FinalTotal,
		AmountPaid:    input.Amount,
		Change:        change,
		LoyaltyPoints: points,
	}, nil
}

func (e *SQLiteEngine) UpdateOrder(ctx context.Context, id string, input UpdateOrderInput) (*Order, error) {
	order, err := e.loadOrder(e.db, id)
	if err != nil {
		return nil, err
	}
	if isTerminal(order.Status) {
		return nil, apperrors.Conflict("order %s is already %s", order.OrderNumber, order.Status)
	}
	if order.PaymentStatus == models.PaymentStatusPaid {
		return nil, apperrors.Conflict("order %s is already paid", order.OrderNumber)
	}

	tx := e.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	subtotal := order.Subtotal

	if len(input.Items) > 0 {
		// Replace the item set: return old stock, take new stock.
		for _, it := range order.Items {
			err := tx.Model(&models.Product{}).
				Where("id = ?", it.ProductID).
				Updates(map[string]interface{}{
					"stock":       gorm.Expr("stock + ?", it.Quantity),
					"sales_count": gorm.Expr("sales_count - ?", it.Quantity),
					"synced":      false,
				}).Error
			if err != nil {
				tx.Rollback()
				return nil, err
			}
			if err := outbox.Append(tx, models.EntityProduct, it.ProductID); err != nil {
				tx.Rollback()
				return nil, err
			}
		}
		if err := tx.Where("order_id = ?", order.ID).Delete(&models.OrderItem{}).Error; err != nil {
			tx.Rollback()
			return nil, err
		}

		subtotal = 0
		var items []models.OrderItem
		for _, itemReq := range input.Items {
			if itemReq.Quantity <= 0 {
				tx.Rollback()
				return nil, apperrors.Validation("items", "item quantity must be positive")
			}
			productID := resolveLocalID(tx, models.EntityProduct, itemReq.ProductID)
			var product models.Product
			res := tx.Where("id = ? AND branch_id = ?", productID, order.BranchID).Limit(1).Find(&product)
			if res.Error != nil {
				tx.Rollback()
				return nil, res.Error
			}
			if res.RowsAffected == 0 {
				tx.Rollback()
				return nil, apperrors.NotFound("product", itemReq.ProductID)
			}
			if product.Stock < itemReq.Quantity {
				tx.Rollback()
				return nil, apperrors.Validation("items",
					"insufficient stock for %s: have %d, need %d", product.Name, product.Stock, itemReq.Quantity)
			}

			product.Stock -= itemReq.Quantity
			product.SalesCount += itemReq.Quantity
			product.Synced = false
			if err := tx.Save(&product).Error; err != nil {
				tx.Rollback()
				return nil, err
			}
			if err := outbox.Append(tx, models.EntityProduct, product.ID); err != nil {
				tx.Rollback()
				return nil, err
			}

			total := lineTotal(product.Price, itemReq.Quantity)
			items = append(items, models.OrderItem{
				OrderID:     order.ID,
				ProductID:   product.ID,
				ProductName: product.Name,
				Quantity:    itemReq.Quantity,
				Price:       product.Price,
				Total:       total,
				Notes:       itemReq.Notes,
			})
			subtotal += total
		}
		for i := range items {
			if err := tx.Create(&items[i]).Error; err != nil {
				tx.Rollback()
				return nil, err
			}
		}
		order.Items = items
	}

	if input.Discount != nil {
		order.Discount = *input.Discount
	}
	if input.Tip != nil {
		order.Tip = *input.Tip
	}
	if input.KitchenNotes != nil {
		order.KitchenNotes = *input.KitchenNotes
	}

	var branch models.Branch
	if err := tx.Limit(1).Find(&branch, order.BranchID).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	taxRate, serviceRate := rates(branch.Settings)
	totals := calcTotals(subtotal, taxRate, serviceRate, order.Discount, order.Tip)
	order.Subtotal = totals.Subtotal
	order.Tax = totals.Tax
	order.ServiceCharge = totals.ServiceCharge
	order.Discount = totals.Discount
	order.Tip = totals.Tip
	order.FinalTotal = totals.FinalTotal

	order.Synced = false
	if err := tx.Omit("Items").Save(order).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := outbox.Append(tx, models.EntityOrder, order.ID); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	e.pub.Publish(ctx, events.Event{
		EventType:   events.EventOrderUpdated,
		OrderID:     idRef(e.db, models.EntityOrder, order.ID),
		OrderNumber: order.OrderNumber,
		BranchID:    idRef(e.db, models.EntityBranch, order.BranchID),
		Status:      order.Status,
		TotalAmount: order.FinalTotal,
	})

	return e.toView(order), nil
}

func (e *SQLiteEngine) DeleteOrder(ctx context.Context, id string) error {
	order, err := e.loadOrder(e.db, id)
	if err != nil {
		return err
	}
	if order.Status == models.OrderStatusCompleted {
		return apperrors.Conflict("completed order %s cannot be deleted", order.OrderNumber)
	}

	tx := e.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	// Cancelled orders already returned their stock.
	if order.Status != models.OrderStatusCancelled {
		if err := e.reverseOrder(tx, order); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Where("order_id = ?", order.ID).Delete(&models.OrderItem{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Delete(&models.Order{}, order.ID).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := outbox.Drop(tx, models.EntityOrder, order.ID); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return err
	}

	e.pub.Publish(ctx, events.Event{
		EventType:   events.EventOrderDeleted,
		OrderID:     id,
		OrderNumber: order.OrderNumber,
		BranchID:    idRef(e.db, models.EntityBranch, order.BranchID),
	})
	return nil
}

func (e *SQLiteEngine) OrderStats(ctx context.Context, branchID string, from, to time.Time) (*Stats, error) {
	localBranch := resolveLocalID(e.db, models.EntityBranch, branchID)

	var row struct {
		TotalOrders     int64
		TotalRevenue    float64
		CompletedOrders int64
		PendingOrders   int64
	}
	err := e.db.Table(models.EntityOrder).
		Select(`COUNT(*) AS total_orders,
			COALESCE(SUM(final_total), 0) AS total_revenue,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed_orders,
			COALESCE(SUM(CASE WHEN status IN (?, ?, ?) THEN 1 ELSE 0 END), 0) AS pending_orders`,
			models.OrderStatusCompleted,
			models.OrderStatusPending, models.OrderStatusConfirmed, models.OrderStatusPreparing).
		Where("branch_id = ? AND created_at BETWEEN ? AND ?", localBranch, from, to).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalOrders:     row.TotalOrders,
		TotalRevenue:    row.TotalRevenue,
		CompletedOrders: row.CompletedOrders,
		PendingOrders:   row.PendingOrders,
	}
	if row.TotalOrders > 0 {
		stats.AverageOrderValue = row.TotalRevenue / float64(row.TotalOrders)
	}
	return stats, nil
}

func (e *SQLiteEngine) KitchenStats(ctx context.Context, branchID string) (map[string]int64, error) {
	localBranch := resolveLocalID(e.db, models.EntityBranch, branchID)

	var rows []struct {
		KitchenStatus string
		Count         int64
	}
	err := e.db.Table(models.EntityOrder).
		Select("kitchen_status, COUNT(*) AS count").
		Where("branch_id = ? AND status IN (?, ?, ?, ?)", localBranch,
			models.OrderStatusPending, models.OrderStatusConfirmed,
			models.OrderStatusPreparing, models.OrderStatusReady).
		Group("kitchen_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := map[string]int64{
		models.KitchenStatusPending:   0,
		models.KitchenStatusPreparing: 0,
		models.KitchenStatusReady:     0,
	}
	for _, r := range rows {
		stats[r.KitchenStatus] = r.Count
	}
	return stats, nil
}
