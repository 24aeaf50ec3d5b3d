package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Order lifecycle. Completed and Cancelled are terminal; Cancelled is
// reachable from any non-terminal state.
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusPreparing = "preparing"
	OrderStatusReady     = "ready"
	OrderStatusServed    = "served"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// Kitchen sub-state, independent of the order lifecycle.
const (
	KitchenStatusPending   = "pending"
	KitchenStatusPreparing = "preparing"
	KitchenStatusReady     = "ready"
	KitchenStatusServed    = "served"
)

const (
	OrderTypeDineIn   = "dine-in"
	OrderTypeTakeaway = "takeaway"
	OrderTypeDelivery = "delivery"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusRefunded = "refunded"
)

const (
	TableStatusAvailable   = "available"
	TableStatusOccupied    = "occupied"
	TableStatusReserved    = "reserved"
	TableStatusCleaning    = "cleaning"
	TableStatusMaintenance = "maintenance"
)

const (
	PurchaseOrderStatusDraft     = "draft"
	PurchaseOrderStatusPending   = "pending"
	PurchaseOrderStatusApproved  = "approved"
	PurchaseOrderStatusReceived  = "received"
	PurchaseOrderStatusCancelled = "cancelled"
)

// BranchSettings is stored as a JSON blob on the branch row.
type BranchSettings struct {
	TaxRate       float64 `json:"taxRate"`
	ServiceCharge float64 `json:"serviceCharge"`
	Currency      string  `json:"currency"`
	Timezone      string  `json:"timezone"`
}

func (s *BranchSettings) Scan(value interface{}) error {
	if value == nil {
		*s = BranchSettings{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to scan BranchSettings: %v", value)
	}

	return json.Unmarshal(bytes, s)
}

func (s BranchSettings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Branch is the tenant scoping entity. Every other business entity carries a
// branch reference. Branches are never hard-deleted.
type Branch struct {
	ID         int64   `gorm:"primaryKey;autoIncrement"`
	RemoteID   *string `gorm:"column:remote_id;uniqueIndex"`
	Synced     bool    `gorm:"default:false"`
	Name       string  `gorm:"not null"`
	BranchCode string  `gorm:"uniqueIndex;not null"`
	Address    string
	Phone      string
	Email      string
	Settings   BranchSettings `gorm:"type:text"`
	LogoURL    *string
	IsActive   bool       `gorm:"default:true"`
	CreatedAt  *time.Time `gorm:"autoCreateTime"`
	UpdatedAt  *time.Time `gorm:"autoUpdateTime"`
}

type User struct {
	ID        int64   `gorm:"primaryKey;autoIncrement"`
	RemoteID  *string `gorm:"column:remote_id;uniqueIndex"`
	Synced    bool    `gorm:"default:false"`
	Name      string  `gorm:"not null"`
	Email     *string `gorm:"uniqueIndex"`
	Username  *string `gorm:"uniqueIndex"`
	Password  string
	Role      string `gorm:"not null"`
	BranchID  int64  `gorm:"index;not null"`
	IsActive  bool   `gorm:"default:true"`
	LastLogin *time.Time
	CreatedAt *time.Time `gorm:"autoCreateTime"`
	UpdatedAt *time.Time `gorm:"autoUpdateTime"`

	Branch *Branch `gorm:"foreignKey:BranchID"`
}

// Product doubles as menu item and inventory item. Stock never goes
// negative: every mutation path checks inside its transaction.
type Product struct {
	ID          int64   `gorm:"primaryKey;autoIncrement"`
	RemoteID    *string `gorm:"column:remote_id;uniqueIndex"`
	Synced      bool    `gorm:"default:false"`
	Name        string  `gorm:"not null"`
	Description string
	Price       float64 `gorm:"not null"`
	Cost        float64
	Category    string
	Stock       int  `gorm:"not null;default:0"`
	MinStock    int  `gorm:"default:10"`
	IsAvailable bool `gorm:"default:true"`
	Active      bool `gorm:"default:true"`
	Image       string
	SKU         string `gorm:"index"`
	Barcode     string
	SalesCount  int        `gorm:"default:0"`
	BranchID    int64      `gorm:"index;not null"`
	CreatedAt   *time.Time `gorm:"autoCreateTime"`
	UpdatedAt   *time.Time `gorm:"autoUpdateTime"`
}

type Customer struct {
	ID             int64   `gorm:"primaryKey;autoIncrement"`
	RemoteID       *string `gorm:"column:remote_id;uniqueIndex"`
	Synced         bool    `gorm:"default:false"`
	Name           string
	Phone          string `gorm:"index"`
	Email          string
	BranchID       int64   `gorm:"index;not null"`
	CurrentBalance float64 `gorm:"default:0"`
	TotalDebit     float64 `gorm:"default:0"`
	TotalCredit    float64 `gorm:"default:0"`
	TotalOrders    int     `gorm:"default:0"`
	TotalSpent     float64 `gorm:"default:0"`
	LoyaltyPoints  int     `gorm:"default:0"`
	LastOrder      *time.Time
	CreatedAt      *time.Time `gorm:"autoCreateTime"`
	UpdatedAt      *time.Time `gorm:"autoUpdateTime"`
}

// Table status is a two-state machine for the order engine: available and
// occupied, flipped by order creation/completion/cancellation.
type Table struct {
	ID       int64   `gorm:"primaryKey;autoIncrement"`
	RemoteID *string `gorm:"column:remote_id;uniqueIndex"`
	Synced   bool    `gorm:"default:false"`
	Number   string  `gorm:"not null"`
	Name     string
	Capacity int
	Location string
	Status   string `gorm:"not null;default:'available'"`
	BranchID int64  `gorm:"index;not null"`

	SessionStartedAt *time.Time
	SessionPartySize *int
	SessionWaiterID  *int64

	CreatedAt *time.Time `gorm:"autoCreateTime"`
	UpdatedAt *time.Time `gorm:"autoUpdateTime"`
}

type Order struct {
	ID          int64   `gorm:"primaryKey;autoIncrement"`
	RemoteID    *string `gorm:"column:remote_id;uniqueIndex"`
	Synced      bool    `gorm:"default:false"`
	OrderNumber string  `gorm:"uniqueIndex;not null"`
	OrderType   string  `gorm:"not null"`
	Status      string  `gorm:"index;not null;default:'pending'"`

	KitchenStatus string `gorm:"not null;default:'pending'"`
	KitchenNotes  string

	TableID       *int64 `gorm:"index"`
	TableNumber   string
	CustomerID    *int64 `gorm:"index"`
	CustomerName  string
	CustomerPhone string

	Subtotal      float64 `gorm:"not null"`
	Tax           float64 `gorm:"not null"`
	ServiceCharge float64 `gorm:"not null"`
	Discount      float64 `gorm:"default:0"`
	Tip           float64 `gorm:"default:0"`
	FinalTotal    float64 `gorm:"not null"`

	PaymentMethod string `gorm:"default:'cash'"`
	PaymentStatus string `gorm:"default:'pending'"`

	CashierID *int64
	BranchID  int64 `gorm:"index;not null"`

	PreparationTime *int
	ServedAt        *time.Time
	CompletedAt     *time.Time

	CreatedAt *time.Time `gorm:"autoCreateTime"`
	UpdatedAt *time.Time `gorm:"autoUpdateTime"`

	Items    []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Table    *Table      `gorm:"foreignKey:TableID"`
	Customer *Customer   `gorm:"foreignKey:CustomerID"`
}

// OrderItem rows are lifecycle-bound to their order: created and deleted
// together.
type OrderItem struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	OrderID     int64  `gorm:"index;not null"`
	ProductID   int64  `gorm:"not null"`
	ProductName string `gorm:"not null"`
	Quantity    int    `gorm:"not null"`
	Price       float64
	Total       float64
	Notes       string

	Product *Product `gorm:"foreignKey:ProductID"`
}

type Supplier struct {
	ID        int64   `gorm:"primaryKey;autoIncrement"`
	RemoteID  *string `gorm:"column:remote_id;uniqueIndex"`
	Synced    bool    `gorm:"default:false"`
	Name      string  `gorm:"not null"`
	Contact   string
	Phone     string
	Email     string
	Address   string
	BranchID  int64      `gorm:"index;not null"`
	CreatedAt *time.Time `gorm:"autoCreateTime"`
	UpdatedAt *time.Time `gorm:"autoUpdateTime"`
}

type Purchase struct {
	ID             int64   `gorm:"primaryKey;autoIncrement"`
	RemoteID       *string `gorm:"column:remote_id;uniqueIndex"`
	Synced         bool    `gorm:"default:false"`
	PurchaseNumber string  `gorm:"uniqueIndex;not null"`
	SupplierID     *int64  `gorm:"index"`
	Subtotal       float64
	TaxTotal       float64
	DiscountTotal  float64
	GrandTotal     float64
	PaymentMethod  string `gorm:"default:'cash'"`
	Status         string `gorm:"default:'submitted'"`
	BranchID       int64  `gorm:"index;not null"`
	CreatedByID    *int64
	Notes          string
	CreatedAt      *time.Time `gorm:"autoCreateTime"`
	UpdatedAt      *time.Time `gorm:"autoUpdateTime"`

	Items    []PurchaseItem `gorm:"foreignKey:PurchaseID;constraint:OnDelete:CASCADE"`
	Supplier *Supplier      `gorm:"foreignKey:SupplierID"`
}

type PurchaseItem struct {
	ID          int64 `gorm:"primaryKey;autoIncrement"`
	PurchaseID  int64 `gorm:"index;not null"`
	ProductID   int64 `gorm:"not null"`
	Qty         int   `gorm:"not null"`
	UnitCost    float64
	DiscountPct float64
	TaxPct      float64
	Total       float64
}

type PurchaseOrder struct {
	ID            int64   `gorm:"primaryKey;autoIncrement"`
	RemoteID      *string `gorm:"column:remote_id;uniqueIndex"`
	Synced        bool    `gorm:"default:false"`
	OrderNumber   string  `gorm:"uniqueIndex;not null"`
	SupplierID    *int64  `gorm:"index"`
	Status        string  `gorm:"default:'draft'"`
	Subtotal      float64
	TaxTotal      float64
	DiscountTotal float64
	GrandTotal    float64
	BranchID      int64 `gorm:"index;not null"`
	CreatedByID   *int64
	ApprovedByID  *int64
	ApprovedAt    *time.Time
	ExpectedDelivery *time.Time
	ReceivedAt    *time.Time
	Notes         string
	CreatedAt     *time.Time `gorm:"autoCreateTime"`
	UpdatedAt     *time.Time `gorm:"autoUpdateTime"`

	Items    []PurchaseOrderItem `gorm:"foreignKey:PurchaseOrderID;constraint:OnDelete:CASCADE"`
	Supplier *Supplier           `gorm:"foreignKey:SupplierID"`
}

type PurchaseOrderItem struct {
	ID              int64 `gorm:"primaryKey;autoIncrement"`
	PurchaseOrderID int64 `gorm:"index;not null"`
	ProductID       int64 `gorm:"not null"`
	OrderedQty      int   `gorm:"not null"`
	ReceivedQty     int   `gorm:"default:0"`
	UnitCost        float64
	DiscountPct     float64
	TaxPct          float64
	Total           float64
}

// FinanceEntry rows are append-only.
type FinanceEntry struct {
	ID          int64   `gorm:"primaryKey;autoIncrement"`
	RemoteID    *string `gorm:"column:remote_id;uniqueIndex"`
	Synced      bool    `gorm:"default:false"`
	Type        string  `gorm:"not null"` // income, expense
	Amount      float64 `gorm:"not null"`
	Description string
	Date        time.Time  `gorm:"index"`
	BranchID    int64      `gorm:"index;not null"`
	CreatedAt   *time.Time `gorm:"autoCreateTime"`
	UpdatedAt   *time.Time `gorm:"autoUpdateTime"`
}

type Expense struct {
	ID          int64   `gorm:"primaryKey;autoIncrement"`
	RemoteID    *string `gorm:"column:remote_id;uniqueIndex"`
	Synced      bool    `gorm:"default:false"`
	Description string  `gorm:"not null"`
	Amount      float64 `gorm:"not null"`
	Category    string
	Date        time.Time
	BranchID    int64 `gorm:"index;not null"`
	CreatedByID *int64
	CreatedAt   *time.Time `gorm:"autoCreateTime"`
	UpdatedAt   *time.Time `gorm:"autoUpdateTime"`
}

// CustomerLedger is an append-only running-balance ledger. Each entry's
// balance = previous balance - amount for debits, + amount for credits.
type CustomerLedger struct {
	ID              int64   `gorm:"primaryKey;autoIncrement"`
	RemoteID        *string `gorm:"column:remote_id;uniqueIndex"`
	Synced          bool    `gorm:"default:false"`
	CustomerID      int64   `gorm:"index;not null"`
	TransactionType string  `gorm:"not null"` // sale, payment, refund
	Amount          float64 `gorm:"not null"`
	Balance         float64 `gorm:"not null"`
	Description     string
	Date            time.Time
	BranchID        int64      `gorm:"index;not null"`
	CreatedAt       *time.Time `gorm:"autoCreateTime"`
	UpdatedAt       *time.Time `gorm:"autoUpdateTime"`
}

// License is local-only and never mirrored.
type License struct {
	ID         int64   `gorm:"primaryKey;autoIncrement"`
	LicenseKey string  `gorm:"uniqueIndex"`
	DeviceID   string  `gorm:"uniqueIndex"`
	StartDate  *time.Time
	ExpiryDate *time.Time
	Status     string
	LastCheck  *time.Time
}
