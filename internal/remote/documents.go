package remote

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Collection names, matching the logical entity names used by the outbox.
const (
	CollBranches  = "branches"
	CollUsers     = "users"
	CollProducts  = "products"
	CollCustomers = "customers"
	CollTables    = "tables"
	CollOrders    = "orders"
	CollSuppliers = "suppliers"
	CollExpenses  = "expenses"
	CollPurchases = "purchases"
	CollFinance   = "finance"
	CollLedger    = "customer_ledger"
)

type BranchSettingsDoc struct {
	TaxRate       float64 `bson:"taxRate"`
	ServiceCharge float64 `bson:"serviceCharge"`
	Currency      string  `bson:"currency,omitempty"`
	Timezone      string  `bson:"timezone,omitempty"`
}

type BranchDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Name       string             `bson:"name"`
	BranchCode string             `bson:"branchCode"`
	Address    string             `bson:"address,omitempty"`
	Phone      string             `bson:"phone,omitempty"`
	Email      string             `bson:"email,omitempty"`
	Settings   BranchSettingsDoc  `bson:"settings"`
	LogoURL    string             `bson:"logo,omitempty"`
	IsActive   bool               `bson:"isActive"`
	CreatedAt  time.Time          `bson:"createdAt,omitempty"`
	UpdatedAt  time.Time          `bson:"updatedAt,omitempty"`
}

type UserDoc struct {
	ID        primitive.ObjectID  `bson:"_id,omitempty"`
	Name      string              `bson:"name"`
	Email     string              `bson:"email,omitempty"`
	Username  string              `bson:"username,omitempty"`
	Password  string              `bson:"password,omitempty"`
	Role      string              `bson:"role"`
	Branch    primitive.ObjectID  `bson:"branch"`
	IsActive  bool                `bson:"isActive"`
	LastLogin *time.Time          `bson:"lastLogin,omitempty"`
	CreatedAt time.Time           `bson:"createdAt,omitempty"`
	UpdatedAt time.Time           `bson:"updatedAt,omitempty"`
}

type ProductDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Name        string             `bson:"name"`
	Description string             `bson:"description,omitempty"`
	Price       float64            `bson:"price"`
	Cost        float64            `bson:"cost,omitempty"`
	Category    string             `bson:"category,omitempty"`
	Stock       int                `bson:"stock"`
	MinStock    int                `bson:"minStock"`
	IsAvailable bool               `bson:"isAvailable"`
	Active      bool               `bson:"active"`
	Image       string             `bson:"image,omitempty"`
	SKU         string             `bson:"sku,omitempty"`
	Barcode     string             `bson:"barcode,omitempty"`
	SalesCount  int                `bson:"salesCount"`
	Branch      primitive.ObjectID `bson:"branch"`
	CreatedAt   time.Time          `bson:"createdAt,omitempty"`
	UpdatedAt   time.Time          `bson:"updatedAt,omitempty"`
}

type CustomerDoc struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	Name           string             `bson:"name"`
	Phone          string             `bson:"phone,omitempty"`
	Email          string             `bson:"email,omitempty"`
	Branch         primitive.ObjectID `bson:"branch"`
	CurrentBalance float64            `bson:"currentBalance"`
	TotalDebit     float64            `bson:"totalDebit"`
	TotalCredit    float64            `bson:"totalCredit"`
	TotalOrders    int                `bson:"totalOrders"`
	TotalSpent     float64            `bson:"totalSpent"`
	LoyaltyPoints  int                `bson:"loyaltyPoints"`
	LastOrder      *time.Time         `bson:"lastOrder,omitempty"`
	CreatedAt      time.Time          `bson:"createdAt,omitempty"`
	UpdatedAt      time.Time          `bson:"updatedAt,omitempty"`
}

type TableSessionDoc struct {
	StartedAt time.Time           `bson:"startedAt"`
	Customers int                 `bson:"customers"`
	Waiter    *primitive.ObjectID `bson:"waiter,omitempty"`
}

type TableDoc struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	Number         string             `bson:"number"`
	Name           string             `bson:"name,omitempty"`
	Capacity       int                `bson:"capacity,omitempty"`
	Location       string             `bson:"location,omitempty"`
	Status         string             `bson:"status"`
	Branch         primitive.ObjectID `bson:"branch"`
	CurrentSession *TableSessionDoc   `bson:"currentSession,omitempty"`
	CreatedAt      time.Time          `bson:"createdAt,omitempty"`
	UpdatedAt      time.Time          `bson:"updatedAt,omitempty"`
}

// OrderItemDoc is embedded in its order, unlike the relational junction rows.
type OrderItemDoc struct {
	Product     primitive.ObjectID `bson:"product"`
	ProductName string             `bson:"productName,omitempty"`
	Quantity    int                `bson:"quantity"`
	Price       float64            `bson:"price"`
	Total       float64            `bson:"total"`
	Notes       string             `bson:"notes,omitempty"`
}

type OrderDoc struct {
	ID            primitive.ObjectID  `bson:"_id,omitempty"`
	OrderNumber   string              `bson:"orderNumber"`
	OrderType     string              `bson:"orderType"`
	Status        string              `bson:"status"`
	KitchenStatus string              `bson:"kitchenStatus"`
	KitchenNotes  string              `bson:"kitchenNotes,omitempty"`
	Table         *primitive.ObjectID `bson:"table,omitempty"`
	TableNumber   string              `bson:"tableNumber,omitempty"`
	Customer      *primitive.ObjectID `bson:"customer,omitempty"`
	CustomerName  string              `bson:"customerName,omitempty"`
	CustomerPhone string              `bson:"customerPhone,omitempty"`
	Items         []OrderItemDoc      `bson:"items"`

	Subtotal      float64 `bson:"subtotal"`
	Tax           float64 `bson:"tax"`
	ServiceCharge float64 `bson:"serviceCharge"`
	Discount      float64 `bson:"discount"`
	Tip           float64 `bson:"tip"`
	FinalTotal    float64 `bson:"finalTotal"`

	PaymentMethod string `bson:"paymentMethod"`
	PaymentStatus string `bson:"paymentStatus"`

	Cashier *primitive.ObjectID `bson:"cashier,omitempty"`
	Branch  primitive.ObjectID  `bson:"branch"`

	PreparationTime *int       `bson:"preparationTime,omitempty"`
	ServedAt        *time.Time `bson:"servedAt,omitempty"`
	CompletedAt     *time.Time `bson:"completedAt,omitempty"`

	CreatedAt time.Time `bson:"createdAt,omitempty"`
	UpdatedAt time.Time `bson:"updatedAt,omitempty"`
}

type SupplierDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Name      string             `bson:"name"`
	Contact   string             `bson:"contact,omitempty"`
	Phone     string             `bson:"phone,omitempty"`
	Email     string             `bson:"email,omitempty"`
	Address   string             `bson:"address,omitempty"`
	Branch    primitive.ObjectID `bson:"branch"`
	CreatedAt time.Time          `bson:"createdAt,omitempty"`
	UpdatedAt time.Time          `bson:"updatedAt,omitempty"`
}

type PurchaseItemDoc struct {
	Product     primitive.ObjectID `bson:"product"`
	Qty         int                `bson:"qty"`
	UnitCost    float64            `bson:"unitCost"`
	DiscountPct float64            `bson:"discount"`
	TaxPct      float64            `bson:"tax"`
	Total       float64            `bson:"total"`
}

type PurchaseDoc struct {
	ID             primitive.ObjectID  `bson:"_id,omitempty"`
	PurchaseNumber string              `bson:"purchaseNumber"`
	Supplier       *primitive.ObjectID `bson:"supplier,omitempty"`
	Items          []PurchaseItemDoc   `bson:"items"`
	Subtotal       float64             `bson:"subtotal"`
	TaxTotal       float64             `bson:"taxTotal"`
	DiscountTotal  float64             `bson:"discountTotal"`
	GrandTotal     float64             `bson:"grandTotal"`
	PaymentMethod  string              `bson:"paymentMethod"`
	Status         string              `bson:"status"`
	Branch         primitive.ObjectID  `bson:"branch"`
	Notes          string              `bson:"notes,omitempty"`
	CreatedAt      time.Time           `bson:"createdAt,omitempty"`
	UpdatedAt      time.Time           `bson:"updatedAt,omitempty"`
}

type FinanceDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Type        string             `bson:"type"`
	Amount      float64            `bson:"amount"`
	Description string             `bson:"description,omitempty"`
	Date        time.Time          `bson:"date"`
	Branch      primitive.ObjectID `bson:"branch"`
	CreatedAt   time.Time          `bson:"createdAt,omitempty"`
	UpdatedAt   time.Time          `bson:"updatedAt,omitempty"`
}

type LedgerDoc struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	Customer        primitive.ObjectID `bson:"customer"`
	TransactionType string             `bson:"transactionType"`
	Amount          float64            `bson:"amount"`
	Balance         float64            `bson:"balance"`
	Description     string             `bson:"description,omitempty"`
	Date            time.Time          `bson:"date"`
	Branch          primitive.ObjectID `bson:"branch"`
	CreatedAt       time.Time          `bson:"createdAt,omitempty"`
	UpdatedAt       time.Time          `bson:"updatedAt,omitempty"`
}
