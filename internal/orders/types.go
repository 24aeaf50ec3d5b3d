// Package orders holds the order transaction engine: creation, lifecycle,
// payment and cancellation, implemented once per backing store behind a
// single interface. All mutations are transactional; a failed step rolls
// back every stock, table and customer side effect with it.
package orders

import (
	"context"
	"time"
)

// Item ids, order ids and entity references cross this boundary as strings:
// remote hex ids, or "local-<n>" for rows that only exist locally.
type ItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes,omitempty"`
}

type CreateOrderInput struct {
	BranchID      string      `json:"branch"`
	OrderType     string      `json:"orderType"`
	Items         []ItemInput `json:"items"`
	TableID       string      `json:"table,omitempty"`
	PartySize     int         `json:"partySize,omitempty"`
	WaiterID      string      `json:"waiter,omitempty"`
	CustomerID    string      `json:"customer,omitempty"`
	CustomerName  string      `json:"customerName,omitempty"`
	CustomerPhone string      `json:"customerPhone,omitempty"`
	Discount      float64     `json:"discount,omitempty"`
	Tip           float64     `json:"tip,omitempty"`
	PaymentMethod string      `json:"paymentMethod,omitempty"`
	CashierID     string      `json:"cashier,omitempty"`
	KitchenNotes  string      `json:"kitchenNotes,omitempty"`
}

type UpdateOrderInput struct {
	Items        []ItemInput `json:"items,omitempty"`
	Discount     *float64    `json:"discount,omitempty"`
	Tip          *float64    `json:"tip,omitempty"`
	KitchenNotes *string     `json:"kitchenNotes,omitempty"`
}

// StatusUpdateInput patches the lifecycle status, the kitchen sub-state, or
// both. Either field may be omitted; the kitchen can advance its side
// without touching the order lifecycle.
type StatusUpdateInput struct {
	Status          string `json:"status,omitempty"`
	KitchenStatus   string `json:"kitchenStatus,omitempty"`
	PreparationTime *int   `json:"preparationTime,omitempty"`
}

type PaymentInput struct {
	Amount float64 `json:"amount"`
	Method string  `json:"method"`
}

type PaymentResult struct {
	OrderID       string  `json:"orderId"`
	OrderNumber   string  `json:"orderNumber"`
	FinalTotal    float64 `json:"finalTotal"`
	AmountPaid    float64 `json:"amountPaid"`
	Change        float64 `json:"change"`
	LoyaltyPoints int     `json:"loyaltyPoints"`
}

type Item struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
	Total       float64 `json:"total"`
	Notes       string  `json:"notes,omitempty"`
}

type Order struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"orderNumber"`
	OrderType     string `json:"orderType"`
	Status        string `json:"status"`
	KitchenStatus string `json:"kitchenStatus"`
	KitchenNotes  string `json:"kitchenNotes,omitempty"`

	TableID       string `json:"table,omitempty"`
	TableNumber   string `json:"tableNumber,omitempty"`
	CustomerID    string `json:"customer,omitempty"`
	CustomerName  string `json:"customerName,omitempty"`
	CustomerPhone string `json:"customerPhone,omitempty"`

	Items []Item `json:"items"`

	Subtotal      float64 `json:"subtotal"`
	Tax           float64 `json:"tax"`
	ServiceCharge float64 `json:"serviceCharge"`
	Discount      float64 `json:"discount"`
	Tip           float64 `json:"tip"`
	FinalTotal    float64 `json:"finalTotal"`

	PaymentMethod string `json:"paymentMethod"`
	PaymentStatus string `json:"paymentStatus"`

	CashierID string `json:"cashier,omitempty"`
	BranchID  string `json:"branch"`

	PreparationTime *int       `json:"preparationTime,omitempty"`
	ServedAt        *time.Time `json:"servedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	CreatedAt       *time.Time `json:"createdAt,omitempty"`
}

// ListFilter narrows order listings. Status accepts the virtual value
// "active", covering every order still in flight.
type ListFilter struct {
	BranchID      string
	Status        string
	KitchenStatus string
	OrderType     string
	PaymentStatus string
	From          time.Time
	To            time.Time
	Limit         int
}

type Stats struct {
	TotalOrders       int64   `json:"totalOrders"`
	TotalRevenue      float64 `json:"totalRevenue"`
	CompletedOrders   int64   `json:"completedOrders"`
	PendingOrders     int64   `json:"pendingOrders"`
	AverageOrderValue float64 `json:"averageOrderValue"`
}

// Engine is the order transaction contract. Each backing store implements
// it with its own transaction primitive.
type Engine interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, error)
	UpdateOrder(ctx context.Context, id string, input UpdateOrderInput) (*Order, error)
	UpdateOrderStatus(ctx context.Context, id string, input StatusUpdateInput) (*Order, error)
	ProcessPayment(ctx context.Context, id string, input PaymentInput) (*PaymentResult, error)
	DeleteOrder(ctx context.Context, id string) error
	OrderStats(ctx context.Context, branchID string, from, to time.Time) (*Stats, error)
	KitchenStats(ctx context.Context, branchID string) (map[string]int64, error)
}
