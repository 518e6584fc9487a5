// Package memory implements the repository in process memory. It mirrors
// the postgres semantics closely enough for service-level tests, including
// the error taxonomy and the stock bookkeeping.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"retailcore/backoffice/internal/domain"
	"retailcore/backoffice/internal/store"
	"retailcore/backoffice/internal/xid"
)

var receiveTolerance = decimal.New(1, -5)

type Store struct {
	mu sync.Mutex

	products       map[string]domain.Product
	suppliers      map[string]domain.Supplier
	locations      map[string]domain.Location
	purchaseOrders map[string]domain.PurchaseOrder
	inventory      map[string]domain.InventoryItem
	ledger         []domain.InventoryTransaction
	sessions       map[string]domain.PosSession
	sessionTxs     map[string][]domain.PosSessionTransaction
	orders         map[string]domain.Order
	resumed        map[string]bool
	users          map[string]domain.UserAccount
	audits         []domain.AuditLog
	sequences      map[string]int64
}

func New() *Store {
	return &Store{
		products:       make(map[string]domain.Product),
		suppliers:      make(map[string]domain.Supplier),
		locations:      make(map[string]domain.Location),
		purchaseOrders: make(map[string]domain.PurchaseOrder),
		inventory:      make(map[string]domain.InventoryItem),
		sessions:       make(map[string]domain.PosSession),
		sessionTxs:     make(map[string][]domain.PosSessionTransaction),
		orders:         make(map[string]domain.Order),
		resumed:        make(map[string]bool),
		users:          make(map[string]domain.UserAccount),
		sequences:      make(map[string]int64),
	}
}

func (s *Store) Close() error { return nil }

func invKey(tenantID, productID, locationID string) string {
	return tenantID + "|" + productID + "|" + locationID
}

func (s *Store) nextDocumentNumber(tenantID, docType, prefix string) string {
	key := tenantID + "|" + docType
	s.sequences[key]++
	return fmt.Sprintf("%s-%06d", prefix, s.sequences[key])
}

// applyDelta mutates the aggregate for one product at one location. The
// caller holds s.mu.
func (s *Store) applyDelta(tenantID, productID, locationID string,
	deltaOnHand, deltaAllocated, deltaIncoming decimal.Decimal, allowNegative bool) error {

	key := invKey(tenantID, productID, locationID)
	item, exists := s.inventory[key]
	if !exists {
		item = domain.InventoryItem{
			TenantID:          tenantID,
			ProductID:         productID,
			LocationID:        locationID,
			QuantityOnHand:    decimal.Zero,
			QuantityAllocated: decimal.Zero,
			QuantityIncoming:  decimal.Zero,
		}
	}
	item.QuantityOnHand = item.QuantityOnHand.Add(deltaOnHand)
	item.QuantityAllocated = item.QuantityAllocated.Add(deltaAllocated)
	item.QuantityIncoming = item.QuantityIncoming.Add(deltaIncoming)
	item.UpdatedAt = time.Now().UTC()

	if !allowNegative && item.QuantityOnHand.IsNegative() {
		return fmt.Errorf("%w: product %s at %s would go to %s on hand", store.ErrValidation, productID, locationID, item.QuantityOnHand)
	}
	if item.QuantityAllocated.IsNegative() {
		return fmt.Errorf("%w: product %s at %s has negative allocation", store.ErrValidation, productID, locationID)
	}
	s.inventory[key] = item
	return nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	product.SKU = strings.TrimSpace(product.SKU)
	product.Name = strings.TrimSpace(product.Name)
	if product.TenantID == "" || product.SKU == "" || product.Name == "" || product.BasePrice.IsNegative() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.products {
		if existing.TenantID == product.TenantID && existing.SKU == product.SKU {
			return nil, fmt.Errorf("%w: sku %s", store.ErrConflict, product.SKU)
		}
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
	saved := product
	return &saved, nil
}

func (s *Store) GetProduct(_ context.Context, tenantID, productID string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, exists := s.products[productID]
	if !exists || product.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	found := product
	return &found, nil
}

func (s *Store) GetProducts(_ context.Context, tenantID string, productIDs []string) (map[string]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, exists := s.products[id]; exists && product.TenantID == tenantID {
			result[id] = product
		}
	}
	return result, nil
}

func (s *Store) ListProducts(_ context.Context, tenantID string) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	products := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		if product.TenantID == tenantID && product.IsActive {
			products = append(products, product)
		}
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.TenantID == "" || supplier.Name == "" {
		return nil, store.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.suppliers[supplier.ID] = supplier
	saved := supplier
	return &saved, nil
}

func (s *Store) GetSupplier(_ context.Context, tenantID, supplierID string) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	supplier, exists := s.suppliers[supplierID]
	if !exists || supplier.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	found := supplier
	return &found, nil
}

func (s *Store) ListSuppliers(_ context.Context, tenantID string) ([]domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	suppliers := make([]domain.Supplier, 0, len(s.suppliers))
	for _, supplier := range s.suppliers {
		if supplier.TenantID == tenantID {
			suppliers = append(suppliers, supplier)
		}
	}
	sort.Slice(suppliers, func(i, j int) bool { return suppliers[i].CreatedAt.Before(suppliers[j].CreatedAt) })
	return suppliers, nil
}

func (s *Store) CreateLocation(_ context.Context, location domain.Location) (*domain.Location, error) {
	location.Name = strings.TrimSpace(location.Name)
	if location.TenantID == "" || location.Name == "" {
		return nil, store.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if location.ID == "" {
		location.ID = xid.New("loc")
	}
	if location.CreatedAt.IsZero() {
		location.CreatedAt = time.Now().UTC()
	}
	s.locations[location.ID] = location
	saved := location
	return &saved, nil
}

func (s *Store) GetLocation(_ context.Context, tenantID, locationID string) (*domain.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	location, exists := s.locations[locationID]
	if !exists || location.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	found := location
	return &found, nil
}

func (s *Store) ListLocations(_ context.Context, tenantID string) ([]domain.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	locations := make([]domain.Location, 0, len(s.locations))
	for _, location := range s.locations {
		if location.TenantID == tenantID {
			locations = append(locations, location)
		}
	}
	sort.Slice(locations, func(i, j int) bool { return locations[i].CreatedAt.Before(locations[j].CreatedAt) })
	return locations, nil
}

func (s *Store) CreatePurchaseOrder(_ context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if po.TenantID == "" || po.SupplierID == "" || po.LocationID == "" || len(po.Items) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if po.PONumber == "" {
		po.PONumber = s.nextDocumentNumber(po.TenantID, "purchase_order", "PO")
	} else {
		for _, existing := range s.purchaseOrders {
			if existing.TenantID == po.TenantID && existing.PONumber == po.PONumber {
				return nil, fmt.Errorf("%w: purchase order number %s", store.ErrConflict, po.PONumber)
			}
		}
	}
	if po.ID == "" {
		po.ID = xid.New("po")
	}
	now := time.Now().UTC()
	if po.CreatedAt.IsZero() {
		po.CreatedAt = now
	}
	po.UpdatedAt = now
	if po.Status == "" {
		po.Status = domain.POStatusDraft
	}
	if po.OrderDate.IsZero() {
		po.OrderDate = now
	}
	for i := range po.Items {
		if po.Items[i].ID == "" {
			po.Items[i].ID = xid.New("poi")
		}
		po.Items[i].PurchaseOrderID = po.ID
	}

	s.purchaseOrders[po.ID] = clonePO(po)
	saved := po
	return &saved, nil
}

func (s *Store) GetPurchaseOrder(_ context.Context, tenantID, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getPurchaseOrderLocked(tenantID, purchaseOrderID)
}

func (s *Store) getPurchaseOrderLocked(tenantID, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	po, exists := s.purchaseOrders[purchaseOrderID]
	if !exists || po.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	found := clonePO(po)
	return &found, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, tenantID string, filter domain.PurchaseOrderFilter) ([]domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make([]domain.PurchaseOrder, 0, len(s.purchaseOrders))
	for _, po := range s.purchaseOrders {
		if po.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && po.Status != filter.Status {
			continue
		}
		if filter.SupplierID != "" && po.SupplierID != filter.SupplierID {
			continue
		}
		if filter.LocationID != "" && po.LocationID != filter.LocationID {
			continue
		}
		orders = append(orders, clonePO(po))
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

func (s *Store) UpdatePurchaseOrder(_ context.Context, tenantID, purchaseOrderID string, patch domain.UpdatePurchaseOrderRequest) (*domain.PurchaseOrder, error) {
	if tenantID == "" || purchaseOrderID == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.purchaseOrders[purchaseOrderID]
	if !exists || existing.TenantID != tenantID {
		return nil, store.ErrNotFound
	}

	// Shipping cost is the only DRAFT-gated field; notes and the expected
	// delivery date change in any status. The total is recomputed from the
	// stored subtotal and tax.
	if patch.ShippingCost != nil {
		if existing.Status != domain.POStatusDraft {
			return nil, fmt.Errorf("%w: shipping cost is editable only in DRAFT, purchase order is %s", store.ErrInvalidState, existing.Status)
		}
		if patch.ShippingCost.IsNegative() {
			return nil, fmt.Errorf("%w: shipping cost must not be negative", store.ErrValidation)
		}
		existing.ShippingCost = *patch.ShippingCost
	}
	if patch.Notes != nil {
		existing.Notes = *patch.Notes
	}
	if patch.ExpectedDeliveryDate != nil {
		existing.ExpectedDeliveryDate = patch.ExpectedDeliveryDate
	}
	existing.TotalAmount = existing.Subtotal.Add(existing.TaxAmount).Add(existing.ShippingCost)
	existing.UpdatedAt = time.Now().UTC()

	s.purchaseOrders[purchaseOrderID] = clonePO(existing)
	saved := clonePO(existing)
	return &saved, nil
}

func (s *Store) TransitionPurchaseOrder(_ context.Context, tenantID, purchaseOrderID string, target domain.POStatus, actorID string) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, exists := s.purchaseOrders[purchaseOrderID]
	if !exists || po.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	if po.Status == target {
		return s.getPurchaseOrderLocked(tenantID, purchaseOrderID)
	}
	if !po.Status.CanTransition(target) {
		return nil, fmt.Errorf("%w: cannot move purchase order from %s to %s", store.ErrInvalidState, po.Status, target)
	}

	switch {
	case target == domain.POStatusSent:
		if err := s.adjustIncomingLocked(po, false); err != nil {
			return nil, err
		}
	case (target == domain.POStatusCancelled || target == domain.POStatusClosed) && po.Status.Receivable():
		if err := s.adjustIncomingLocked(po, true); err != nil {
			return nil, err
		}
	}

	po.Status = target
	po.UpdatedAt = time.Now().UTC()
	s.purchaseOrders[purchaseOrderID] = clonePO(po)
	return s.getPurchaseOrderLocked(tenantID, purchaseOrderID)
}

func (s *Store) adjustIncomingLocked(po domain.PurchaseOrder, release bool) error {
	for _, item := range po.Items {
		outstanding := item.QuantityOrdered.Sub(item.QuantityReceived)
		if outstanding.Sign() <= 0 {
			continue
		}
		delta := outstanding
		if release {
			delta = delta.Neg()
		}
		if err := s.applyDelta(po.TenantID, item.ProductID, po.LocationID,
			decimal.Zero, decimal.Zero, delta, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ReceivePurchaseOrderItems(_ context.Context, tenantID, purchaseOrderID string, receipts []domain.ReceiveItemRequest, actorID string) (*store.ReceiveResult, error) {
	if len(receipts) == 0 {
		return nil, fmt.Errorf("%w: no items to receive", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	po, exists := s.purchaseOrders[purchaseOrderID]
	if !exists || po.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	if !po.Status.Receivable() {
		return nil, fmt.Errorf("%w: purchase order is %s, receiving requires SENT or PARTIALLY_RECEIVED", store.ErrInvalidState, po.Status)
	}

	// All mutations go to a working copy so a failed line leaves the store
	// untouched, matching the database rollback.
	working := clonePO(po)
	inventoryBackup := make(map[string]domain.InventoryItem, len(s.inventory))
	for key, item := range s.inventory {
		inventoryBackup[key] = item
	}

	itemsByID := make(map[string]*domain.PurchaseOrderItem, len(working.Items))
	for i := range working.Items {
		itemsByID[working.Items[i].ID] = &working.Items[i]
	}

	now := time.Now().UTC()
	ledger := make([]domain.InventoryTransaction, 0, len(receipts))
	fail := func(err error) (*store.ReceiveResult, error) {
		s.inventory = inventoryBackup
		return nil, err
	}

	for _, receipt := range receipts {
		item, found := itemsByID[receipt.PurchaseOrderItemID]
		if !found {
			return fail(fmt.Errorf("%w: purchase order item %s", store.ErrNotFound, receipt.PurchaseOrderItemID))
		}
		product, hasProduct := s.products[item.ProductID]
		if !hasProduct || product.TenantID != tenantID {
			return fail(fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID))
		}
		// Untracked products and non-positive quantities are skipped, not
		// rejected.
		qty := receipt.QuantityReceived
		if !product.IsStockTracked || qty.Sign() <= 0 {
			continue
		}
		outstanding := item.QuantityOrdered.Sub(item.QuantityReceived)
		if qty.GreaterThan(outstanding) {
			return fail(fmt.Errorf("%w: received quantity %s exceeds outstanding %s", store.ErrValidation, qty, outstanding))
		}

		unitCost := item.UnitCost
		if receipt.UnitCost != nil {
			if receipt.UnitCost.IsNegative() {
				return fail(fmt.Errorf("%w: unit cost must not be negative", store.ErrValidation))
			}
			unitCost = *receipt.UnitCost
		}

		if product.IsSerialized {
			if !qty.IsInteger() {
				return fail(fmt.Errorf("%w: serialized product %s requires an integer quantity", store.ErrValidation, item.ProductID))
			}
			if int64(len(receipt.SerialNumbers)) != qty.IntPart() {
				return fail(fmt.Errorf("%w: %d serial numbers for quantity %s", store.ErrValidation, len(receipt.SerialNumbers), qty))
			}
			for _, serial := range receipt.SerialNumbers {
				if serial == "" {
					return fail(fmt.Errorf("%w: empty serial number", store.ErrValidation))
				}
				ledger = append(ledger, domain.InventoryTransaction{
					ID:                  xid.New("ivt"),
					TenantID:            tenantID,
					ProductID:           item.ProductID,
					LocationID:          working.LocationID,
					Type:                domain.InventoryTxPurchaseReceipt,
					QuantityChange:      decimal.NewFromInt(1),
					UnitCost:            unitCost,
					PurchaseOrderID:     purchaseOrderID,
					PurchaseOrderItemID: item.ID,
					LotNumber:           receipt.LotNumber,
					SerialNumber:        serial,
					UserID:              actorID,
					CreatedAt:           now,
				})
			}
		} else {
			ledger = append(ledger, domain.InventoryTransaction{
				ID:                  xid.New("ivt"),
				TenantID:            tenantID,
				ProductID:           item.ProductID,
				LocationID:          working.LocationID,
				Type:                domain.InventoryTxPurchaseReceipt,
				QuantityChange:      qty,
				UnitCost:            unitCost,
				PurchaseOrderID:     purchaseOrderID,
				PurchaseOrderItemID: item.ID,
				LotNumber:           receipt.LotNumber,
				UserID:              actorID,
				CreatedAt:           now,
			})
		}

		item.QuantityReceived = item.QuantityReceived.Add(qty)
		if err := s.applyDelta(tenantID, item.ProductID, working.LocationID, qty, decimal.Zero, qty.Neg(), true); err != nil {
			return fail(err)
		}
	}

	// Nothing survived the filters: success, order unchanged.
	if len(ledger) == 0 {
		s.inventory = inventoryBackup
		unchanged := clonePO(po)
		return &store.ReceiveResult{PurchaseOrder: &unchanged}, nil
	}

	// Classification sums received against ordered across all items; the
	// tolerance applies once to the order-wide shortfall.
	totalOrdered := decimal.Zero
	totalReceived := decimal.Zero
	for i := range working.Items {
		totalOrdered = totalOrdered.Add(working.Items[i].QuantityOrdered)
		totalReceived = totalReceived.Add(working.Items[i].QuantityReceived)
	}
	newStatus := domain.POStatusFullyReceived
	if totalOrdered.Sub(totalReceived).GreaterThan(receiveTolerance) {
		newStatus = domain.POStatusPartiallyReceived
	}
	working.Status = newStatus
	working.UpdatedAt = now

	s.purchaseOrders[purchaseOrderID] = clonePO(working)
	s.ledger = append(s.ledger, ledger...)

	saved := clonePO(working)
	return &store.ReceiveResult{PurchaseOrder: &saved, LedgerEntries: ledger}, nil
}

func (s *Store) GetInventoryItem(_ context.Context, tenantID, productID, locationID string) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, exists := s.inventory[invKey(tenantID, productID, locationID)]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := item
	return &found, nil
}

func (s *Store) ListInventoryTransactions(_ context.Context, tenantID, productID, locationID string, limit int) ([]domain.InventoryTransaction, error) {
	if limit < 1 || limit > 1000 {
		limit = 200
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]domain.InventoryTransaction, 0, limit)
	for i := len(s.ledger) - 1; i >= 0 && len(entries) < limit; i-- {
		entry := s.ledger[i]
		if entry.TenantID == tenantID && entry.ProductID == productID && entry.LocationID == locationID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *Store) StartSession(_ context.Context, session domain.PosSession, openingTx domain.PosSessionTransaction) (*domain.PosSession, error) {
	if session.TenantID == "" || session.LocationID == "" || session.TerminalID == "" || session.UserID == "" {
		return nil, store.ErrValidation
	}
	if session.StartingCash.IsNegative() {
		return nil, fmt.Errorf("%w: starting cash must not be negative", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sessions {
		if existing.TenantID == session.TenantID && existing.UserID == session.UserID &&
			existing.TerminalID == session.TerminalID && existing.LocationID == session.LocationID &&
			existing.Status == domain.SessionOpen {
			return nil, fmt.Errorf("%w: an open session already exists for this user, terminal and location", store.ErrConflict)
		}
	}

	if session.ID == "" {
		session.ID = xid.New("ses")
	}
	session.Status = domain.SessionOpen
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	s.sessions[session.ID] = session

	if openingTx.Amount.Sign() > 0 {
		openingTx.TenantID = session.TenantID
		openingTx.SessionID = session.ID
		if openingTx.ID == "" {
			openingTx.ID = xid.New("stx")
		}
		if openingTx.CreatedAt.IsZero() {
			openingTx.CreatedAt = session.StartedAt
		}
		s.sessionTxs[session.ID] = append(s.sessionTxs[session.ID], openingTx)
	}

	saved := session
	return &saved, nil
}

func (s *Store) GetSession(_ context.Context, tenantID, sessionID string) (*domain.PosSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, exists := s.sessions[sessionID]
	if !exists || session.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	found := session
	return &found, nil
}

func (s *Store) EndSession(_ context.Context, tenantID, sessionID string, endingCash decimal.Decimal, actorID string) (*domain.PosSession, []domain.PosSessionTransaction, error) {
	if endingCash.IsNegative() {
		return nil, nil, fmt.Errorf("%w: ending cash must not be negative", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists || session.TenantID != tenantID {
		return nil, nil, store.ErrNotFound
	}
	if session.Status != domain.SessionOpen {
		return nil, nil, fmt.Errorf("%w: session is %s, only OPEN sessions can be closed", store.ErrInvalidState, session.Status)
	}

	txs := append([]domain.PosSessionTransaction(nil), s.sessionTxs[sessionID]...)
	calculated := decimal.Zero
	for _, entry := range txs {
		switch {
		case entry.Type.CashIn():
			calculated = calculated.Add(entry.Amount)
		case entry.Type.CashOut():
			calculated = calculated.Sub(entry.Amount)
		}
	}

	endedAt := time.Now().UTC()
	session.Status = domain.SessionClosed
	session.EndingCash = endingCash
	session.CalculatedCash = calculated
	session.Difference = endingCash.Sub(calculated)
	session.EndedAt = &endedAt
	s.sessions[sessionID] = session

	saved := session
	return &saved, txs, nil
}

func (s *Store) ReconcileSession(_ context.Context, tenantID, sessionID, actorID string) (*domain.PosSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists || session.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	if session.Status != domain.SessionClosed {
		return nil, fmt.Errorf("%w: session is %s, reconciliation requires CLOSED", store.ErrInvalidState, session.Status)
	}
	session.Status = domain.SessionReconciled
	s.sessions[sessionID] = session
	saved := session
	return &saved, nil
}

func (s *Store) RecordSessionTransaction(_ context.Context, entry domain.PosSessionTransaction) (*domain.PosSessionTransaction, error) {
	if entry.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[entry.SessionID]
	if !exists || session.TenantID != entry.TenantID {
		return nil, store.ErrNotFound
	}
	if session.Status != domain.SessionOpen {
		return nil, fmt.Errorf("%w: session is %s, transactions require OPEN", store.ErrInvalidState, session.Status)
	}

	if entry.ID == "" {
		entry.ID = xid.New("stx")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.sessionTxs[entry.SessionID] = append(s.sessionTxs[entry.SessionID], entry)
	saved := entry
	return &saved, nil
}

func (s *Store) ListSessionTransactions(_ context.Context, tenantID, sessionID string) ([]domain.PosSessionTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]domain.PosSessionTransaction, 0, len(s.sessionTxs[sessionID]))
	for _, entry := range s.sessionTxs[sessionID] {
		if entry.TenantID == tenantID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *Store) ProcessCheckout(_ context.Context, order domain.Order, payments []domain.Payment, policy store.StockPolicy) (*store.CheckoutResult, error) {
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", store.ErrValidation)
	}
	if len(payments) == 0 {
		return nil, fmt.Errorf("%w: order has no payments", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[order.SessionID]
	if !exists || session.TenantID != order.TenantID {
		return nil, store.ErrNotFound
	}
	if session.Status != domain.SessionOpen {
		return nil, fmt.Errorf("%w: session is %s, checkout requires OPEN", store.ErrInvalidState, session.Status)
	}

	// Validate stock for every tracked line before mutating anything.
	type trackedLine struct {
		productID string
		qty       decimal.Decimal
	}
	trackedLines := make([]trackedLine, 0, len(order.Items))
	for _, item := range order.Items {
		if item.Quantity.Sign() <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
		}
		product, hasProduct := s.products[item.ProductID]
		if !hasProduct || product.TenantID != order.TenantID {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		if !product.IsStockTracked {
			continue
		}
		state := s.inventory[invKey(order.TenantID, item.ProductID, order.LocationID)]
		available := state.QuantityOnHand.Sub(state.QuantityAllocated)
		if item.Quantity.GreaterThan(available) {
			if !policy.AllowBackorder {
				return nil, fmt.Errorf("%w: insufficient stock for product %s, requested %s available %s",
					store.ErrValidation, item.ProductID, item.Quantity, available)
			}
			order.IsBackordered = true
		}
		trackedLines = append(trackedLines, trackedLine{productID: item.ProductID, qty: item.Quantity})
	}

	// Backordered lines can still trip the negative-stock guard partway
	// through; restore the aggregates on failure like a rollback would.
	inventoryBackup := make(map[string]domain.InventoryItem, len(s.inventory))
	for key, item := range s.inventory {
		inventoryBackup[key] = item
	}
	for _, line := range trackedLines {
		if err := s.applyDelta(order.TenantID, line.productID, order.LocationID,
			line.qty.Neg(), decimal.Zero, decimal.Zero, policy.AllowNegativeStock); err != nil {
			s.inventory = inventoryBackup
			return nil, err
		}
	}

	order.OrderNumber = s.nextDocumentNumber(order.TenantID, "order", "ORD")
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	order.Status = domain.OrderCompleted
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	for i := range order.Items {
		if order.Items[i].ID == "" {
			order.Items[i].ID = xid.New("oit")
		}
		order.Items[i].OrderID = order.ID
	}

	trackedIDs := make([]string, 0, len(trackedLines))
	trackedSet := make(map[string]bool, len(trackedLines))
	for _, line := range trackedLines {
		if !trackedSet[line.productID] {
			trackedSet[line.productID] = true
			trackedIDs = append(trackedIDs, line.productID)
		}
	}

	now := order.CreatedAt
	for _, item := range order.Items {
		if !trackedSet[item.ProductID] {
			continue
		}
		s.ledger = append(s.ledger, domain.InventoryTransaction{
			ID:             xid.New("ivt"),
			TenantID:       order.TenantID,
			ProductID:      item.ProductID,
			LocationID:     order.LocationID,
			Type:           domain.InventoryTxSale,
			QuantityChange: item.Quantity.Neg(),
			UnitCost:       decimal.Zero,
			OrderID:        order.ID,
			OrderItemID:    item.ID,
			UserID:         order.UserID,
			CreatedAt:      now,
		})
	}

	for i := range payments {
		if payments[i].ID == "" {
			payments[i].ID = xid.New("pay")
		}
		payments[i].OrderID = order.ID
		txType, ok := payments[i].Method.SessionTxType()
		if !ok {
			return nil, fmt.Errorf("%w: unknown payment method %s", store.ErrValidation, payments[i].Method)
		}
		s.sessionTxs[order.SessionID] = append(s.sessionTxs[order.SessionID], domain.PosSessionTransaction{
			ID:        xid.New("stx"),
			TenantID:  order.TenantID,
			SessionID: order.SessionID,
			Type:      txType,
			Amount:    payments[i].Amount,
			OrderID:   order.ID,
			CreatedAt: now,
		})
	}

	order.Payments = payments
	s.orders[order.ID] = cloneOrder(order)

	saved := cloneOrder(order)
	return &store.CheckoutResult{Order: &saved, ProductIDs: trackedIDs}, nil
}

func (s *Store) SuspendOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[order.SessionID]
	if !exists || session.TenantID != order.TenantID {
		return nil, store.ErrNotFound
	}
	if session.Status != domain.SessionOpen {
		return nil, fmt.Errorf("%w: session is %s, suspend requires OPEN", store.ErrInvalidState, session.Status)
	}

	for _, item := range order.Items {
		if item.Quantity.Sign() <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
		}
		product, hasProduct := s.products[item.ProductID]
		if !hasProduct || product.TenantID != order.TenantID {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		if !product.IsStockTracked {
			continue
		}
		if err := s.applyDelta(order.TenantID, item.ProductID, order.LocationID,
			decimal.Zero, item.Quantity, decimal.Zero, true); err != nil {
			return nil, err
		}
	}

	order.OrderNumber = s.nextDocumentNumber(order.TenantID, "order", "ORD")
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	order.Status = domain.OrderSuspended
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	for i := range order.Items {
		if order.Items[i].ID == "" {
			order.Items[i].ID = xid.New("oit")
		}
		order.Items[i].OrderID = order.ID
	}
	s.orders[order.ID] = cloneOrder(order)

	saved := cloneOrder(order)
	return &saved, nil
}

// ResumeOrder claims a suspended order exactly once. A second resume of the
// same order reports Conflict, mirroring the non-blocking lock behavior of
// the database store.
func (s *Store) ResumeOrder(_ context.Context, tenantID, orderID, locationID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.orders[orderID]
	if !exists {
		if s.resumed[orderID] {
			return nil, fmt.Errorf("%w: order already resumed", store.ErrConflict)
		}
		return nil, store.ErrNotFound
	}
	if order.TenantID != tenantID || order.LocationID != locationID || order.Status != domain.OrderSuspended {
		return nil, store.ErrNotFound
	}

	for _, item := range order.Items {
		product, hasProduct := s.products[item.ProductID]
		if !hasProduct || !product.IsStockTracked {
			continue
		}
		if err := s.applyDelta(tenantID, item.ProductID, locationID,
			decimal.Zero, item.Quantity.Neg(), decimal.Zero, true); err != nil {
			return nil, err
		}
	}

	delete(s.orders, orderID)
	s.resumed[orderID] = true
	saved := cloneOrder(order)
	return &saved, nil
}

func (s *Store) GetOrder(_ context.Context, tenantID, orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, exists := s.orders[orderID]
	if !exists || order.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	found := cloneOrder(order)
	return &found, nil
}

func (s *Store) ListSuspendedOrders(_ context.Context, tenantID, locationID string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make([]domain.Order, 0, 8)
	for _, order := range s.orders {
		if order.TenantID == tenantID && order.LocationID == locationID && order.Status == domain.OrderSuspended {
			orders = append(orders, cloneOrder(order))
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	user.Username = strings.TrimSpace(user.Username)
	if user.Username == "" || user.Password == "" || user.TenantID == "" {
		return store.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Username]; exists {
		return fmt.Errorf("%w: username %s", store.ErrConflict, user.Username)
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, exists := s.users[username]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := user
	return &found, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.audits = append(s.audits, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, tenantID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.audits) - 1; i >= 0 && len(logs) < limit; i-- {
		if s.audits[i].TenantID == tenantID {
			logs = append(logs, s.audits[i])
		}
	}
	return logs, nil
}

func clonePO(po domain.PurchaseOrder) domain.PurchaseOrder {
	cloned := po
	cloned.Items = make([]domain.PurchaseOrderItem, len(po.Items))
	copy(cloned.Items, po.Items)
	return cloned
}

func cloneOrder(order domain.Order) domain.Order {
	cloned := order
	cloned.Items = make([]domain.OrderItem, len(order.Items))
	copy(cloned.Items, order.Items)
	cloned.Payments = make([]domain.Payment, len(order.Payments))
	copy(cloned.Payments, order.Payments)
	return cloned
}
