package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CreatePurchaseOrderRequest struct {
	PONumber             string                           `json:"po_number,omitempty"`
	SupplierID           string                           `json:"supplier_id"`
	LocationID           string                           `json:"location_id"`
	OrderDate            time.Time                        `json:"order_date"`
	ExpectedDeliveryDate *time.Time                       `json:"expected_delivery_date,omitempty"`
	ShippingCost         decimal.Decimal                  `json:"shipping_cost"`
	Notes                string                           `json:"notes,omitempty"`
	Items                []CreatePurchaseOrderItemRequest `json:"items"`
}

type CreatePurchaseOrderItemRequest struct {
	ProductID       string          `json:"product_id"`
	QuantityOrdered decimal.Decimal `json:"quantity_ordered"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	Description     string          `json:"description,omitempty"`
}

// UpdatePurchaseOrderRequest is a partial update; nil fields stay unchanged.
// Notes and the expected delivery date are editable in any status. Shipping
// cost is editable only in DRAFT and recomputes the total from the stored
// subtotal and tax. An update with no fields set returns the current record.
type UpdatePurchaseOrderRequest struct {
	Notes                *string          `json:"notes,omitempty"`
	ExpectedDeliveryDate *time.Time       `json:"expected_delivery_date,omitempty"`
	ShippingCost         *decimal.Decimal `json:"shipping_cost,omitempty"`
}

type ReceiveItemRequest struct {
	PurchaseOrderItemID string          `json:"purchase_order_item_id"`
	QuantityReceived    decimal.Decimal `json:"quantity_received"`
	UnitCost            *decimal.Decimal `json:"unit_cost,omitempty"`
	LotNumber           string          `json:"lot_number,omitempty"`
	SerialNumbers       []string        `json:"serial_numbers,omitempty"`
}

type StartSessionRequest struct {
	LocationID   string          `json:"location_id"`
	TerminalID   string          `json:"terminal_id"`
	StartingCash decimal.Decimal `json:"starting_cash"`
}

type EndSessionRequest struct {
	EndingCash decimal.Decimal `json:"ending_cash"`
}

type CashTransactionRequest struct {
	Type   SessionTxType   `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes,omitempty"`
}

// SessionReport is the close/reconcile summary returned to the caller.
type SessionReport struct {
	Session        PosSession                       `json:"session"`
	PaymentSummary map[SessionTxType]decimal.Decimal `json:"payment_summary"`
}

// CheckoutRequest carries the cart. Discounts come as a fixed amount or a
// percent of the base; when both are set the fixed amount wins.
type CheckoutRequest struct {
	SessionID           string                `json:"session_id"`
	CustomerID          string                `json:"customer_id,omitempty"`
	CartDiscount        *decimal.Decimal      `json:"cart_discount,omitempty"`
	CartDiscountPercent *decimal.Decimal      `json:"cart_discount_percent,omitempty"`
	ShippingCost        decimal.Decimal       `json:"shipping_cost"`
	TaxRate             decimal.Decimal       `json:"tax_rate"`
	Notes               string                `json:"notes,omitempty"`
	Items               []CheckoutItemRequest `json:"items"`
	Payments            []PaymentRequest      `json:"payments"`
}

// CheckoutItemRequest prices one line. UnitPrice overrides the catalog base
// price when set; the item discount is per unit, fixed amount or percent.
type CheckoutItemRequest struct {
	ProductID           string           `json:"product_id"`
	Quantity            decimal.Decimal  `json:"quantity"`
	UnitPrice           *decimal.Decimal `json:"unit_price,omitempty"`
	ItemDiscount        *decimal.Decimal `json:"item_discount,omitempty"`
	ItemDiscountPercent *decimal.Decimal `json:"item_discount_percent,omitempty"`
}

type PaymentRequest struct {
	Method    PaymentMethod   `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

// SuspendOrderRequest parks a cart as the terminal quoted it. Prices are a
// client-supplied snapshot and are not re-priced from the catalog.
type SuspendOrderRequest struct {
	SessionID  string               `json:"session_id"`
	CustomerID string               `json:"customer_id,omitempty"`
	Notes      string               `json:"notes,omitempty"`
	Items      []SuspendItemRequest `json:"items"`
}

// SuspendItemRequest is one snapshot line. DiscountAmount is per unit.
type SuspendItemRequest struct {
	ProductID      string          `json:"product_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	TenantID    string `json:"tenant_id"`
	ExpiresAt   string `json:"expires_at"`
}

type PurchaseOrderFilter struct {
	Status     POStatus
	SupplierID string
	LocationID string
	Limit      int
	Offset     int
}
