package orders

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
	"mesa-system/internal/events"
)

type capturePub struct {
	published []events.Event
}

func (p *capturePub) Publish(_ context.Context, e events.Event) {
	p.published = append(p.published, e)
}

type fixture struct {
	db       *gorm.DB
	engine   *SQLiteEngine
	pub      *capturePub
	branch   models.Branch
	coffee   models.Product
	cake     models.Product
	table    models.Table
	customer models.Customer
}

func setupEngine(t *testing.T) *fixture {
	t.Helper()

	db, err := database.NewConnection(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	f := &fixture{db: db, pub: &capturePub{}}
	f.engine = NewSQLiteEngine(db, f.pub, zerolog.Nop())

	f.branch = models.Branch{
		Name:       "Main",
		BranchCode: "MAIN",
		Settings:   models.BranchSettings{TaxRate: 10, ServiceCharge: 5},
	}
	require.NoError(t, db.Create(&f.branch).Error)

	f.coffee = models.Product{Name: "Coffee", Price: 5.00, Stock: 10, IsAvailable: true, Active: true, BranchID: f.branch.ID}
	require.NoError(t, db.Create(&f.coffee).Error)

	f.cake = models.Product{Name: "Cake", Price: 8.00, Stock: 3, IsAvailable: true, Active: true, BranchID: f.branch.ID}
	require.NoError(t, db.Create(&f.cake).Error)

	f.table = models.Table{Number: "T1", Status: models.TableStatusAvailable, BranchID: f.branch.ID}
	require.NoError(t, db.Create(&f.table).Error)

	f.customer = models.Customer{Name: "Dina", Phone: "0811", BranchID: f.branch.ID}
	require.NoError(t, db.Create(&f.customer).Error)

	return f
}

func (f *fixture) createOrder(t *testing.T, input CreateOrderInput) *Order {
	t.Helper()
	order, err := f.engine.CreateOrder(context.Background(), input)
	require.NoError(t, err)
	return order
}

func localRef(id int64) string { return fmt.Sprintf("local-%d", id) }

func TestCreateOrderTotals(t *testing.T) {
	f := setupEngine(t)

	order := f.createOrder(t, CreateOrderInput{
		BranchID:  localRef(f.branch.ID),
		OrderType: models.OrderTypeDineIn,
		TableID:   localRef(f.table.ID),
		Items: []ItemInput{
			{ProductID: localRef(f.coffee.ID), Quantity: 2},
			{ProductID: localRef(f.cake.ID), Quantity: 1},
		},
	})

	assert.InDelta(t, 18.00, order.Subtotal, 0.001)
	assert.InDelta(t, 1.80, order.Tax, 0.001)
	assert.InDelta(t, 0.90, order.ServiceCharge, 0.001)
	assert.InDelta(t, 20.70, order.FinalTotal, 0.001)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Len(t, order.Items, 2)

	var coffee, cake models.Product
	require.NoError(t, f.db.First(&coffee, f.coffee.ID).Error)
	require.NoError(t, f.db.First(&cake, f.cake.ID).Error)
	assert.Equal(t, 8, coffee.Stock)
	assert.Equal(t, 2, cake.Stock)
	assert.Equal(t, 2, coffee.SalesCount)

	var table models.Table
	require.NoError(t, f.db.First(&table, f.table.ID).Error)
	assert.Equal(t, models.TableStatusOccupied, table.Status)
	assert.NotNil(t, table.SessionStartedAt)

	require.Len(t, f.pub.published, 1)
	assert.Equal(t, events.EventOrderCreated, f.pub.published[0].EventType)
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	f := setupEngine(t)

	_, err := f.engine.CreateOrder(context.Background(), CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		Items: []ItemInput{
			{ProductID: localRef(f.coffee.ID), Quantity: 2},
			{ProductID: localRef(f.cake.ID), Quantity: 5},
		},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), "Cake")

	// The whole transaction rolled back, including the first item.
	var coffee, cake models.Product
	require.NoError(t, f.db.First(&coffee, f.coffee.ID).Error)
	require.NoError(t, f.db.First(&cake, f.cake.ID).Error)
	assert.Equal(t, 10, coffee.Stock)
	assert.Equal(t, 3, cake.Stock)

	var count int64
	f.db.Model(&models.Order{}).Count(&count)
	assert.Zero(t, count)
	assert.Empty(t, f.pub.published)
}

func TestCreateOrderTableNotAvailable(t *testing.T) {
	f := setupEngine(t)
	require.NoError(t, f.db.Model(&models.Table{}).
		Where("id = ?", f.table.ID).
		Update("status", models.TableStatusOccupied).Error)

	_, err := f.engine.CreateOrder(context.Background(), CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		TableID:  localRef(f.table.ID),
		Items:    []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 1}},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestOrderNumberSequence(t *testing.T) {
	f := setupEngine(t)

	first := f.createOrder(t, CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		Items:    []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 1}},
	})
	second := f.createOrder(t, CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		Items:    []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 1}},
	})

	prefix := fmt.Sprintf("ORD-MAIN-%s-", time.Now().Format("20060102"))
	assert.Equal(t, prefix+"0001", first.OrderNumber)
	assert.Equal(t, prefix+"0002", second.OrderNumber)
}

func TestWalkInCustomer(t *testing.T) {
	f := setupEngine(t)

	order := f.createOrder(t, CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		Items:    []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 1}},
	})
	assert.Equal(t, "Walking Customer", order.CustomerName)
	assert.Empty(t, order.CustomerID)
}

func TestCustomerCreatedFromPhone(t *testing.T) {
	f := setupEngine(t)

	order := f.createOrder(t, CreateOrderInput{
		BranchID:      localRef(f.branch.ID),
		Items:         []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 1}},
		CustomerName:  "Rani",
		CustomerPhone: "0822",
	})
	assert.Equal(t, "Rani", order.CustomerName)
	assert.NotEmpty(t, order.CustomerID)

	var customer models.Customer
	res := f.db.Where("phone = ?", "0822").Limit(1).Find(&customer)
	require.NoError(t, res.Error)
	require.EqualValues(t, 1, res.RowsAffected)
	assert.Equal(t, "Rani", customer.Name)
}

func TestCustomerResolvedByPhone(t *testing.T) {
	f := setupEngine(t)

	order := f.createOrder(t, CreateOrderInput{
		BranchID:      localRef(f.branch.ID),
		Items:         []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 1}},
		CustomerPhone: "0811",
	})
	assert.Equal(t, "Dina", order.CustomerName)

	var count int64
	f.db.Model(&models.Customer{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestCancelRestoresStockAndTable(t *testing.T) {
	f := setupEngine(t)

	order := f.createOrder(t, CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		TableID:  localRef(f.table.ID),
		Items:    []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 3}},
	})

	cancelled, err := f.engine.UpdateOrderStatus(context.Background(), order.ID, StatusUpdateInput{Status: models.OrderStatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	var coffee models.Product
	require.NoError(t, f.db.First(&coffee, f.coffee.ID).Error)
	assert.Equal(t, 10, coffee.Stock)
	assert.Equal(t, 0, coffee.SalesCount)

	var table models.Table
	require.NoError(t, f.db.First(&table, f.table.ID).Error)
	assert.Equal(t, models.TableStatusAvailable, table.Status)
	assert.Nil(t, table.SessionStartedAt)
}

func TestStatusCannotMoveBackward(t *testing.T) {
	f := setupEngine(t)

	order := f.createOrder(t, CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		Items:    []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 1}},
	})

	_, err := f.engine.UpdateOrderStatus(context.Background(), order.ID, StatusUpdateInput{Status: models.OrderStatusServed})
	require.NoError(t, err)

	_, err = f.engine.UpdateOrderStatus(context.Background(), order.ID, StatusUpdateInput{Status: models.OrderStatusPreparing})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestCompletedIsTerminal(t *testing.T) {
	f := setupEngine(t)

	order := f.createOrder(t, CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		Items:    []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 1}},
	})
	_, err := f.engine.UpdateOrderStatus(context.Background(), order.ID, StatusUpdateInput{Status: models.OrderStatusCompleted})
	require.NoError(t, err)

	_, err = f.engine.UpdateOrderStatus(context.Background(), order.ID, StatusUpdateInput{Status: models.OrderStatusCancelled})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestProcessPaymentUnderpaid(t *testing.T) {
	f := setupEngine(t)

	order := f.createOrder(t, CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		Items: []ItemInput{
			{ProductID: localRef(f.coffee.ID), Quantity: 2},
			{ProductID: localRef(f.cake.ID), Quantity: 1},
		},
	})

	_, err := f.engine.ProcessPayment(context.Background(), order.ID, PaymentInput{Amount: 15.00, Method: "cash"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), "15.00")
	assert.Contains(t, err.Error(), "20.70")

	reloaded, err := f.engine.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, reloaded.PaymentStatus)
}

func TestProcessPayment(t *testing.T) {
	f := setupEngine(t)

	order := f.createOrder(t, CreateOrderInput{
		BranchID:   localRef(f.branch.ID),
		CustomerID: localRef(f.customer.ID),
		Items: []ItemInput{
			{ProductID: localRef(f.coffee.ID), Quantity: 2},
			{ProductID: localRef(f.cake.ID), Quantity: 1},
		},
	})

	result, err := f.engine.ProcessPayment(context.Background(), order.ID, PaymentInput{Amount: 30.00, Method: "cash"})
	require.NoError(t, err)
	assert.InDelta(t, 9.30, result.Change, 0.001)
	assert.Equal(t, 20, result.LoyaltyPoints)

	var customer models.Customer
	require.NoError(t, f.db.First(&customer, f.customer.ID).Error)
	assert.Equal(t, 20, customer.LoyaltyPoints)

	var income models.FinanceEntry
	res := f.db.Where("type = ?", "income").Limit(1).Find(&income)
	require.NoError(t, res.Error)
	require.EqualValues(t, 1, res.RowsAffected)
	assert.InDelta(t, 20.70, income.Amount, 0.001)

	// Paying twice is rejected.
	_, err = f.engine.ProcessPayment(context.Background(), order.ID, PaymentInput{Amount: 30.00, Method: "cash"})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestPaymentCompletesOrderAndFreesTable(t *testing.T) {
	f := setupEngine(t)

	order := f.createOrder(t, CreateOrderInput{
		BranchID:   localRef(f.branch.ID),
		OrderType:  models.OrderTypeDineIn,
		TableID:    localRef(f.table.ID),
		CustomerID: localRef(f.customer.ID),
		Items:      []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 2}},
	})

	_, err := f.engine.ProcessPayment(context.Background(), order.ID, PaymentInput{Amount: 20.00, Method: "cash"})
	require.NoError(t, err)

	paid, err := f.engine.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, paid.Status)
	assert.Equal(t, models.PaymentStatusPaid, paid.PaymentStatus)
	assert.NotNil(t, paid.CompletedAt)

	var table models.Table
	require.NoError(t, f.db.First(&table, f.table.ID).Error)
	assert.Equal(t, models.TableStatusAvailable, table.Status)
	assert.Nil(t, table.SessionStartedAt)

	var customer models.Customer
	require.NoError(t, f.db.First(&customer, f.customer.ID).Error)
	assert.Equal(t, 1, customer.TotalOrders)
	assert.InDelta(t, 11.50, customer.TotalSpent, 0.001)
	assert.NotNil(t, customer.LastOrder)
}

func TestCompletedTransitionMarksPaid(t *testing.T) {
	f := setupEngine(t)

	order := f.createOrder(t, CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		Items:    []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 1}},
	})

	done, err := f.engine.UpdateOrderStatus(context.Background(), order.ID, StatusUpdateInput{Status: models.OrderStatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, done.PaymentStatus)
	assert.NotNil(t, done.CompletedAt)
}

func TestKitchenStatusAdvancesIndependently(t *testing.T) {
	f := setupEngine(t)

	order := f.createOrder(t, CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		Items:    []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 1}},
	})

	prep := 12
	updated, err := f.engine.UpdateOrderStatus(context.Background(), order.ID,
		StatusUpdateInput{KitchenStatus: models.KitchenStatusPreparing, PreparationTime: &prep})
	require.NoError(t, err)
	assert.Equal(t, models.KitchenStatusPreparing, updated.KitchenStatus)
	assert.Equal(t, models.OrderStatusPending, updated.Status)
	require.NotNil(t, updated.PreparationTime)
	assert.Equal(t, 12, *updated.PreparationTime)

	// Kitchen ready pulls the order status up to at least ready.
	updated, err = f.engine.UpdateOrderStatus(context.Background(), order.ID,
		StatusUpdateInput{KitchenStatus: models.KitchenStatusReady})
	require.NoError(t, err)
	assert.Equal(t, models.KitchenStatusReady, updated.KitchenStatus)
	assert.Equal(t, models.OrderStatusReady, updated.Status)
}

func TestStatusPatchValidated(t *testing.T) {
	f := setupEngine(t)

	order := f.createOrder(t, CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		Items:    []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 1}},
	})

	_, err := f.engine.UpdateOrderStatus(context.Background(), order.ID, StatusUpdateInput{})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.engine.UpdateOrderStatus(context.Background(), order.ID, StatusUpdateInput{KitchenStatus: "burnt"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestListOrderFilters(t *testing.T) {
	f := setupEngine(t)

	first := f.createOrder(t, CreateOrderInput{
		BranchID:  localRef(f.branch.ID),
		OrderType: models.OrderTypeTakeaway,
		Items:     []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 1}},
	})
	f.createOrder(t, CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		Items:    []ItemInput{{ProductID: localRef(f.cake.ID), Quantity: 1}},
	})
	_, err := f.engine.ProcessPayment(context.Background(), first.ID, PaymentInput{Amount: 10, Method: "cash"})
	require.NoError(t, err)

	active, err := f.engine.ListOrders(context.Background(), ListFilter{Status: "active"})
	require.NoError(t, err)
	require.Len(t, active, 1)

	paid, err := f.engine.ListOrders(context.Background(), ListFilter{PaymentStatus: models.PaymentStatusPaid})
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, first.OrderNumber, paid[0].OrderNumber)

	takeaway, err := f.engine.ListOrders(context.Background(), ListFilter{OrderType: models.OrderTypeTakeaway})
	require.NoError(t, err)
	require.Len(t, takeaway, 1)

	queued, err := f.engine.ListOrders(context.Background(), ListFilter{KitchenStatus: models.KitchenStatusPending})
	require.NoError(t, err)
	require.Len(t, queued, 1)
}

func TestUpdateServedUnpaidOrder(t *testing.T) {
	f := setupEngine(t)

	order := f.createOrder(t, CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		Items:    []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 1}},
	})
	_, err := f.engine.UpdateOrderStatus(context.Background(), order.ID, StatusUpdateInput{Status: models.OrderStatusServed})
	require.NoError(t, err)

	// Still editable while served and unpaid.
	updated, err := f.engine.UpdateOrder(context.Background(), order.ID, UpdateOrderInput{
		Items: []ItemInput{{ProductID: localRef(f.cake.ID), Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Cake", updated.Items[0].ProductName)

	_, err = f.engine.ProcessPayment(context.Background(), order.ID, PaymentInput{Amount: 20, Method: "cash"})
	require.NoError(t, err)

	_, err = f.engine.UpdateOrder(context.Background(), order.ID, UpdateOrderInput{
		Items: []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 1}},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestCreateOrderScopedToBranch(t *testing.T) {
	f := setupEngine(t)

	other := models.Branch{Name: "North", BranchCode: "NORTH"}
	require.NoError(t, f.db.Create(&other).Error)

	_, err := f.engine.CreateOrder(context.Background(), CreateOrderInput{
		BranchID: localRef(other.ID),
		Items:    []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 1}},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestUpdateOrderReplacesItems(t *testing.T) {
	f := setupEngine(t)

	order := f.createOrder(t, CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		Items:    []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 2}},
	})

	updated, err := f.engine.UpdateOrder(context.Background(), order.ID, UpdateOrderInput{
		Items: []ItemInput{{ProductID: localRef(f.cake.ID), Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Len(t, updated.Items, 1)
	assert.Equal(t, "Cake", updated.Items[0].ProductName)
	assert.InDelta(t, 8.00, updated.Subtotal, 0.001)

	var coffee, cake models.Product
	require.NoError(t, f.db.First(&coffee, f.coffee.ID).Error)
	require.NoError(t, f.db.First(&cake, f.cake.ID).Error)
	assert.Equal(t, 10, coffee.Stock)
	assert.Equal(t, 2, cake.Stock)
}

func TestDeleteOrderRestoresStock(t *testing.T) {
	f := setupEngine(t)

	order := f.createOrder(t, CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		TableID:  localRef(f.table.ID),
		Items:    []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 4}},
	})

	require.NoError(t, f.engine.DeleteOrder(context.Background(), order.ID))

	var coffee models.Product
	require.NoError(t, f.db.First(&coffee, f.coffee.ID).Error)
	assert.Equal(t, 10, coffee.Stock)

	var count int64
	f.db.Model(&models.Order{}).Count(&count)
	assert.Zero(t, count)
	f.db.Model(&models.OrderItem{}).Count(&count)
	assert.Zero(t, count)
}

func TestDeleteCompletedOrderRejected(t *testing.T) {
	f := setupEngine(t)

	order := f.createOrder(t, CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		Items:    []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 1}},
	})
	_, err := f.engine.UpdateOrderStatus(context.Background(), order.ID, StatusUpdateInput{Status: models.OrderStatusCompleted})
	require.NoError(t, err)

	err = f.engine.DeleteOrder(context.Background(), order.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestOutboxQueuedForCreatedOrder(t *testing.T) {
	f := setupEngine(t)

	f.createOrder(t, CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		TableID:  localRef(f.table.ID),
		Items:    []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 1}},
	})

	var entities []string
	require.NoError(t, f.db.Model(&models.SyncOutbox{}).Pluck("entity", &entities).Error)
	assert.Contains(t, entities, models.EntityOrder)
	assert.Contains(t, entities, models.EntityProduct)
	assert.Contains(t, entities, models.EntityTable)
}

func TestOrderStats(t *testing.T) {
	f := setupEngine(t)

	order := f.createOrder(t, CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		Items:    []ItemInput{{ProductID: localRef(f.coffee.ID), Quantity: 2}},
	})
	f.createOrder(t, CreateOrderInput{
		BranchID: localRef(f.branch.ID),
		Items:    []ItemInput{{ProductID: localRef(f.cake.ID), Quantity: 1}},
	})
	_, err := f.engine.UpdateOrderStatus(context.Background(), order.ID, StatusUpdateInput{Status: models.OrderStatusCompleted})
	require.NoError(t, err)

	stats, err := f.engine.OrderStats(context.Background(), localRef(f.branch.ID),
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalOrders)
	assert.EqualValues(t, 1, stats.CompletedOrders)
	assert.EqualValues(t, 1, stats.PendingOrders)
	assert.Greater(t, stats.TotalRevenue, 0.0)
}
