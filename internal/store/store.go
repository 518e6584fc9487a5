package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"retailcore/backoffice/internal/domain"
)

// Error taxonomy. Implementations wrap these sentinels with specifics so
// callers classify with errors.Is and humans still get the detail.
var (
	// ErrNotFound covers missing rows and cross-tenant misses alike.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState rejects an operation the entity's current status forbids.
	ErrInvalidState = errors.New("invalid state")
	// ErrValidation rejects malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict covers uniqueness violations and lost lock races.
	ErrConflict = errors.New("conflict")
	// ErrTransient marks infrastructure failures the caller may retry.
	ErrTransient = errors.New("transient infrastructure error")
)

// ReceiveResult reports what a receiving pass did to the order.
type ReceiveResult struct {
	PurchaseOrder *domain.PurchaseOrder
	LedgerEntries []domain.InventoryTransaction
}

// CheckoutResult carries the committed order plus the product IDs whose
// stock changed, for post-commit cache invalidation and broadcast.
type CheckoutResult struct {
	Order      *domain.Order
	ProductIDs []string
}

// StockPolicy carries the tenant overrides for stock enforcement. Backorder
// lets a sale proceed past available stock, flagging the order; negative
// stock lets the on-hand balance itself go below zero. Both default to off.
type StockPolicy struct {
	AllowBackorder     bool
	AllowNegativeStock bool
}

type Repository interface {
	// Reference data.
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, tenantID, productID string) (*domain.Product, error)
	GetProducts(ctx context.Context, tenantID string, productIDs []string) (map[string]domain.Product, error)
	ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	GetSupplier(ctx context.Context, tenantID, supplierID string) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context, tenantID string) ([]domain.Supplier, error)
	CreateLocation(ctx context.Context, location domain.Location) (*domain.Location, error)
	GetLocation(ctx context.Context, tenantID, locationID string) (*domain.Location, error)
	ListLocations(ctx context.Context, tenantID string) ([]domain.Location, error)

	// Purchase orders.
	CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, tenantID, purchaseOrderID string) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, tenantID string, filter domain.PurchaseOrderFilter) ([]domain.PurchaseOrder, error)
	UpdatePurchaseOrder(ctx context.Context, tenantID, purchaseOrderID string, patch domain.UpdatePurchaseOrderRequest) (*domain.PurchaseOrder, error)
	TransitionPurchaseOrder(ctx context.Context, tenantID, purchaseOrderID string, target domain.POStatus, actorID string) (*domain.PurchaseOrder, error)
	ReceivePurchaseOrderItems(ctx context.Context, tenantID, purchaseOrderID string, receipts []domain.ReceiveItemRequest, actorID string) (*ReceiveResult, error)

	// Inventory.
	GetInventoryItem(ctx context.Context, tenantID, productID, locationID string) (*domain.InventoryItem, error)
	ListInventoryTransactions(ctx context.Context, tenantID, productID, locationID string, limit int) ([]domain.InventoryTransaction, error)

	// POS sessions.
	StartSession(ctx context.Context, session domain.PosSession, openingTx domain.PosSessionTransaction) (*domain.PosSession, error)
	GetSession(ctx context.Context, tenantID, sessionID string) (*domain.PosSession, error)
	EndSession(ctx context.Context, tenantID, sessionID string, endingCash decimal.Decimal, actorID string) (*domain.PosSession, []domain.PosSessionTransaction, error)
	ReconcileSession(ctx context.Context, tenantID, sessionID, actorID string) (*domain.PosSession, error)
	RecordSessionTransaction(ctx context.Context, tx domain.PosSessionTransaction) (*domain.PosSessionTransaction, error)
	ListSessionTransactions(ctx context.Context, tenantID, sessionID string) ([]domain.PosSessionTransaction, error)

	// Checkout and suspended orders.
	ProcessCheckout(ctx context.Context, order domain.Order, payments []domain.Payment, policy StockPolicy) (*CheckoutResult, error)
	SuspendOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	ResumeOrder(ctx context.Context, tenantID, orderID, locationID string) (*domain.Order, error)
	GetOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error)
	ListSuspendedOrders(ctx context.Context, tenantID, locationID string) ([]domain.Order, error)

	// Users and audit.
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]domain.AuditLog, error)
}
