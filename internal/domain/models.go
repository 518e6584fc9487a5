package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	SKU            string          `json:"sku"`
	Name           string          `json:"name"`
	BasePrice      decimal.Decimal `json:"base_price"`
	IsActive       bool            `json:"is_active"`
	IsStockTracked bool            `json:"is_stock_tracked"`
	IsSerialized   bool            `json:"is_serialized"`
	CreatedAt      time.Time       `json:"created_at"`
}

type Supplier struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type Location struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type PurchaseOrder struct {
	ID                   string              `json:"id"`
	TenantID             string              `json:"tenant_id"`
	PONumber             string              `json:"po_number"`
	SupplierID           string              `json:"supplier_id"`
	LocationID           string              `json:"location_id"`
	Status               POStatus            `json:"status"`
	OrderDate            time.Time           `json:"order_date"`
	ExpectedDeliveryDate *time.Time          `json:"expected_delivery_date,omitempty"`
	Notes                string              `json:"notes,omitempty"`
	Subtotal             decimal.Decimal     `json:"subtotal"`
	TaxAmount            decimal.Decimal     `json:"tax_amount"`
	ShippingCost         decimal.Decimal     `json:"shipping_cost"`
	TotalAmount          decimal.Decimal     `json:"total_amount"`
	CreatedByUserID      string              `json:"created_by_user_id"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
	Items                []PurchaseOrderItem `json:"items,omitempty"`
}

type PurchaseOrderItem struct {
	ID               string          `json:"id"`
	PurchaseOrderID  string          `json:"purchase_order_id"`
	ProductID        string          `json:"product_id"`
	QuantityOrdered  decimal.Decimal `json:"quantity_ordered"`
	QuantityReceived decimal.Decimal `json:"quantity_received"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
	TaxAmount        decimal.Decimal `json:"tax_amount"`
	LineTotal        decimal.Decimal `json:"line_total"`
	Description      string          `json:"description,omitempty"`
}

// InventoryItem is the aggregate balance for one product at one location.
// The ledger is the source of truth; the aggregate is upserted, never deleted.
type InventoryItem struct {
	TenantID          string          `json:"tenant_id"`
	ProductID         string          `json:"product_id"`
	LocationID        string          `json:"location_id"`
	QuantityOnHand    decimal.Decimal `json:"quantity_on_hand"`
	QuantityAllocated decimal.Decimal `json:"quantity_allocated"`
	QuantityIncoming  decimal.Decimal `json:"quantity_incoming"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type InventoryTransaction struct {
	ID                  string          `json:"id"`
	TenantID            string          `json:"tenant_id"`
	ProductID           string          `json:"product_id"`
	LocationID          string          `json:"location_id"`
	Type                InventoryTxType `json:"type"`
	QuantityChange      decimal.Decimal `json:"quantity_change"`
	UnitCost            decimal.Decimal `json:"unit_cost"`
	PurchaseOrderID     string          `json:"purchase_order_id,omitempty"`
	PurchaseOrderItemID string          `json:"purchase_order_item_id,omitempty"`
	OrderID             string          `json:"order_id,omitempty"`
	OrderItemID         string          `json:"order_item_id,omitempty"`
	LotNumber           string          `json:"lot_number,omitempty"`
	SerialNumber        string          `json:"serial_number,omitempty"`
	UserID              string          `json:"user_id"`
	CreatedAt           time.Time       `json:"created_at"`
}

type PosSession struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	LocationID     string          `json:"location_id"`
	TerminalID     string          `json:"terminal_id"`
	UserID         string          `json:"user_id"`
	Status         SessionStatus   `json:"status"`
	StartingCash   decimal.Decimal `json:"starting_cash"`
	EndingCash     decimal.Decimal `json:"ending_cash"`
	CalculatedCash decimal.Decimal `json:"calculated_cash"`
	Difference     decimal.Decimal `json:"difference"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        *time.Time      `json:"ended_at,omitempty"`
}

// PosSessionTransaction amounts are always positive; direction is implied
// by the transaction type.
type PosSessionTransaction struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	SessionID string          `json:"session_id"`
	Type      SessionTxType   `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	OrderID   string          `json:"order_id,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type Order struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	OrderNumber    string          `json:"order_number"`
	Status         OrderStatus     `json:"status"`
	SessionID      string          `json:"session_id"`
	LocationID     string          `json:"location_id"`
	TerminalID     string          `json:"terminal_id"`
	CustomerID     string          `json:"customer_id,omitempty"`
	UserID         string          `json:"user_id"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	IsBackordered  bool            `json:"is_backordered"`
	Notes          string          `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Items          []OrderItem     `json:"items,omitempty"`
	Payments       []Payment       `json:"payments,omitempty"`
}

// OrderItem stores the per-unit discount; LineTotal is
// (UnitPrice - DiscountAmount) * Quantity.
type OrderItem struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"order_id"`
	ProductID      string          `json:"product_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	LineTotal      decimal.Decimal `json:"line_total"`
}

type Payment struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Method    PaymentMethod   `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// UserAccount holds auth credentials. Password is a bcrypt hash.
type UserAccount struct {
	ID        string
	Username  string
	Password  string
	TenantID  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// Actor identifies the authenticated caller. Every service operation is
// scoped to the actor's tenant.
type Actor struct {
	UserID   string
	TenantID string
	Role     string
}
