package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"retailcore/backoffice/internal/domain"
	"retailcore/backoffice/internal/store"
	"retailcore/backoffice/internal/xid"
)

// receiveTolerance absorbs decimal dust when classifying an order as fully
// received. Payment reconciliation is exact; this is not.
var receiveTolerance = decimal.New(1, -5)

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if po.TenantID == "" || po.SupplierID == "" || po.LocationID == "" || len(po.Items) == 0 {
		return nil, store.ErrValidation
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	defer func() { _ = tx.Rollback() }()

	if po.PONumber == "" {
		number, err := nextDocumentNumber(ctx, tx, po.TenantID, "purchase_order", "PO")
		if err != nil {
			return nil, err
		}
		po.PONumber = number
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

	// A manual number races with the sequence only through the unique
	// index; 23505 surfaces as Conflict.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchase_orders (
			id, tenant_id, po_number, supplier_id, location_id, status, order_date,
			expected_delivery_date, notes, subtotal, tax_amount, shipping_cost,
			total_amount, created_by_user_id, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, po.ID, po.TenantID, po.PONumber, po.SupplierID, po.LocationID, po.Status, po.OrderDate,
		nullTime(po.ExpectedDeliveryDate), nullIfEmpty(po.Notes), po.Subtotal, po.TaxAmount,
		po.ShippingCost, po.TotalAmount, po.CreatedByUserID, po.CreatedAt, po.UpdatedAt)
	if err != nil {
		return nil, translateError(err)
	}

	for i := range po.Items {
		item := &po.Items[i]
		if item.ID == "" {
			item.ID = xid.New("poi")
		}
		item.PurchaseOrderID = po.ID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_order_items (
				id, purchase_order_id, product_id, quantity_ordered, quantity_received,
				unit_cost, tax_rate, tax_amount, line_total, description
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, item.ID, item.PurchaseOrderID, item.ProductID, item.QuantityOrdered, item.QuantityReceived,
			item.UnitCost, item.TaxRate, item.TaxAmount, item.LineTotal, nullIfEmpty(item.Description))
		if err != nil {
			return nil, translateError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, translateError(err)
	}
	saved := po
	return &saved, nil
}

func (s *Store) GetPurchaseOrder(ctx context.Context, tenantID, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	po, err := scanPurchaseOrder(s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, po_number, supplier_id, location_id, status, order_date,
			expected_delivery_date, COALESCE(notes,''), subtotal, tax_amount, shipping_cost,
			total_amount, created_by_user_id, created_at, updated_at
		FROM purchase_orders
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, purchaseOrderID))
	if err != nil {
		return nil, err
	}

	items, err := s.listPurchaseOrderItems(ctx, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	po.Items = items
	return po, nil
}

func (s *Store) listPurchaseOrderItems(ctx context.Context, purchaseOrderID string) ([]domain.PurchaseOrderItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, purchase_order_id, product_id, quantity_ordered, quantity_received,
			unit_cost, tax_rate, tax_amount, line_total, COALESCE(description,'')
		FROM purchase_order_items
		WHERE purchase_order_id = $1
		ORDER BY id ASC
	`, purchaseOrderID)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	items := make([]domain.PurchaseOrderItem, 0, 16)
	for rows.Next() {
		var item domain.PurchaseOrderItem
		if err := rows.Scan(&item.ID, &item.PurchaseOrderID, &item.ProductID,
			&item.QuantityOrdered, &item.QuantityReceived, &item.UnitCost,
			&item.TaxRate, &item.TaxAmount, &item.LineTotal, &item.Description); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, tenantID string, filter domain.PurchaseOrderFilter) ([]domain.PurchaseOrder, error) {
	limit := filter.Limit
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, po_number, supplier_id, location_id, status, order_date,
			expected_delivery_date, COALESCE(notes,''), subtotal, tax_amount, shipping_cost,
			total_amount, created_by_user_id, created_at, updated_at
		FROM purchase_orders
		WHERE tenant_id = $1
			AND ($2 = '' OR status = $2)
			AND ($3 = '' OR supplier_id = $3)
			AND ($4 = '' OR location_id = $4)
		ORDER BY created_at DESC
		LIMIT $5 OFFSET $6
	`, tenantID, string(filter.Status), filter.SupplierID, filter.LocationID, limit, offset)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	orders := make([]domain.PurchaseOrder, 0, limit)
	for rows.Next() {
		po, err := scanPurchaseOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *po)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdatePurchaseOrder applies a partial header update. Notes and the
// expected delivery date change in any status. Shipping cost changes only
// in DRAFT and recomputes the total from the stored subtotal and tax, never
// from the items. An empty patch returns the current record unchanged.
func (s *Store) UpdatePurchaseOrder(ctx context.Context, tenantID, purchaseOrderID string, patch domain.UpdatePurchaseOrderRequest) (*domain.PurchaseOrder, error) {
	if tenantID == "" || purchaseOrderID == "" {
		return nil, store.ErrValidation
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	defer func() { _ = tx.Rollback() }()

	var status domain.POStatus
	var subtotal, taxAmount, shippingCost decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT status, subtotal, tax_amount, shipping_cost FROM purchase_orders
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, purchaseOrderID).Scan(&status, &subtotal, &taxAmount, &shippingCost)
	if err != nil {
		return nil, translateError(err)
	}

	if patch.ShippingCost != nil {
		if status != domain.POStatusDraft {
			return nil, fmt.Errorf("%w: shipping cost is editable only in DRAFT, purchase order is %s", store.ErrInvalidState, status)
		}
		if patch.ShippingCost.IsNegative() {
			return nil, fmt.Errorf("%w: shipping cost must not be negative", store.ErrValidation)
		}
		shippingCost = *patch.ShippingCost
	}
	totalAmount := subtotal.Add(taxAmount).Add(shippingCost)

	var notes any
	if patch.Notes != nil {
		notes = *patch.Notes
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE purchase_orders
		SET notes = COALESCE($1, notes),
			expected_delivery_date = COALESCE($2, expected_delivery_date),
			shipping_cost = $3, total_amount = $4, updated_at = $5
		WHERE tenant_id = $6 AND id = $7
	`, notes, nullTime(patch.ExpectedDeliveryDate), shippingCost, totalAmount,
		time.Now().UTC(), tenantID, purchaseOrderID)
	if err != nil {
		return nil, translateError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateError(err)
	}
	return s.GetPurchaseOrder(ctx, tenantID, purchaseOrderID)
}

// TransitionPurchaseOrder moves the order to target. A no-op transition
// returns the current row unchanged. Moving to SENT books the outstanding
// quantities as incoming; cancelling or closing short a receivable order
// releases them.
func (s *Store) TransitionPurchaseOrder(ctx context.Context, tenantID, purchaseOrderID string, target domain.POStatus, actorID string) (*domain.PurchaseOrder, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	defer func() { _ = tx.Rollback() }()

	var current domain.POStatus
	var locationID string
	err = tx.QueryRowContext(ctx, `
		SELECT status, location_id FROM purchase_orders
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, purchaseOrderID).Scan(&current, &locationID)
	if err != nil {
		return nil, translateError(err)
	}

	if current == target {
		_ = tx.Rollback()
		return s.GetPurchaseOrder(ctx, tenantID, purchaseOrderID)
	}
	if !current.CanTransition(target) {
		return nil, fmt.Errorf("%w: cannot move purchase order from %s to %s", store.ErrInvalidState, current, target)
	}

	switch {
	case target == domain.POStatusSent:
		if err := s.adjustIncoming(ctx, tx, tenantID, purchaseOrderID, locationID, false); err != nil {
			return nil, err
		}
	case (target == domain.POStatusCancelled || target == domain.POStatusClosed) && current.Receivable():
		if err := s.adjustIncoming(ctx, tx, tenantID, purchaseOrderID, locationID, true); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE purchase_orders
		SET status = $1, updated_at = now()
		WHERE tenant_id = $2 AND id = $3
	`, target, tenantID, purchaseOrderID)
	if err != nil {
		return nil, translateError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateError(err)
	}
	return s.GetPurchaseOrder(ctx, tenantID, purchaseOrderID)
}

// adjustIncoming books or releases each line's outstanding quantity on the
// aggregate's incoming counter.
func (s *Store) adjustIncoming(ctx context.Context, tx *sql.Tx, tenantID, purchaseOrderID, locationID string, release bool) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT product_id, quantity_ordered - quantity_received
		FROM purchase_order_items
		WHERE purchase_order_id = $1
	`, purchaseOrderID)
	if err != nil {
		return translateError(err)
	}
	type line struct {
		productID   string
		outstanding decimal.Decimal
	}
	lines := make([]line, 0, 16)
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.productID, &l.outstanding); err != nil {
			_ = rows.Close()
			return err
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, l := range lines {
		if l.outstanding.Sign() <= 0 {
			continue
		}
		delta := l.outstanding
		if release {
			delta = delta.Neg()
		}
		if err := applyInventoryDelta(ctx, tx, tenantID, l.productID, locationID,
			decimal.Zero, decimal.Zero, delta, true); err != nil {
			return err
		}
	}
	return nil
}

// ReceivePurchaseOrderItems applies a receiving pass atomically: all lines
// land or none do. Serialized products write one ledger row per serial.
func (s *Store) ReceivePurchaseOrderItems(ctx context.Context, tenantID, purchaseOrderID string, receipts []domain.ReceiveItemRequest, actorID string) (*store.ReceiveResult, error) {
	if len(receipts) == 0 {
		return nil, fmt.Errorf("%w: no items to receive", store.ErrValidation)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	defer func() { _ = tx.Rollback() }()

	var status domain.POStatus
	var locationID string
	err = tx.QueryRowContext(ctx, `
		SELECT status, location_id FROM purchase_orders
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, purchaseOrderID).Scan(&status, &locationID)
	if err != nil {
		return nil, translateError(err)
	}
	if !status.Receivable() {
		return nil, fmt.Errorf("%w: purchase order is %s, receiving requires SENT or PARTIALLY_RECEIVED", store.ErrInvalidState, status)
	}

	itemRows, err := tx.QueryContext(ctx, `
		SELECT i.id, i.product_id, i.quantity_ordered, i.quantity_received, i.unit_cost,
			p.is_serialized, p.is_stock_tracked
		FROM purchase_order_items i
		JOIN products p ON p.id = i.product_id AND p.tenant_id = $1
		WHERE i.purchase_order_id = $2
		FOR UPDATE OF i
	`, tenantID, purchaseOrderID)
	if err != nil {
		return nil, translateError(err)
	}
	type itemState struct {
		id         string
		productID  string
		ordered    decimal.Decimal
		received   decimal.Decimal
		unitCost   decimal.Decimal
		serialized bool
		tracked    bool
	}
	items := make(map[string]*itemState, 16)
	order := make([]*itemState, 0, 16)
	for itemRows.Next() {
		var it itemState
		if err := itemRows.Scan(&it.id, &it.productID, &it.ordered, &it.received, &it.unitCost, &it.serialized, &it.tracked); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		items[it.id] = &it
		order = append(order, &it)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()

	ledger := make([]domain.InventoryTransaction, 0, len(receipts))
	for _, receipt := range receipts {
		item, exists := items[receipt.PurchaseOrderItemID]
		if !exists {
			return nil, fmt.Errorf("%w: purchase order item %s", store.ErrNotFound, receipt.PurchaseOrderItemID)
		}
		// Untracked products and non-positive quantities are skipped, not
		// rejected; a pass can legitimately have nothing to book.
		qty := receipt.QuantityReceived
		if !item.tracked || qty.Sign() <= 0 {
			continue
		}
		outstanding := item.ordered.Sub(item.received)
		if qty.GreaterThan(outstanding) {
			return nil, fmt.Errorf("%w: received quantity %s exceeds outstanding %s", store.ErrValidation, qty, outstanding)
		}

		unitCost := item.unitCost
		if receipt.UnitCost != nil {
			if receipt.UnitCost.IsNegative() {
				return nil, fmt.Errorf("%w: unit cost must not be negative", store.ErrValidation)
			}
			unitCost = *receipt.UnitCost
		}

		if item.serialized {
			if !qty.IsInteger() {
				return nil, fmt.Errorf("%w: serialized product %s requires an integer quantity", store.ErrValidation, item.productID)
			}
			if int64(len(receipt.SerialNumbers)) != qty.IntPart() {
				return nil, fmt.Errorf("%w: %d serial numbers for quantity %s", store.ErrValidation, len(receipt.SerialNumbers), qty)
			}
			for _, serial := range receipt.SerialNumbers {
				if serial == "" {
					return nil, fmt.Errorf("%w: empty serial number", store.ErrValidation)
				}
				ledger = append(ledger, domain.InventoryTransaction{
					TenantID:            tenantID,
					ProductID:           item.productID,
					LocationID:          locationID,
					Type:                domain.InventoryTxPurchaseReceipt,
					QuantityChange:      decimal.NewFromInt(1),
					UnitCost:            unitCost,
					PurchaseOrderID:     purchaseOrderID,
					PurchaseOrderItemID: item.id,
					LotNumber:           receipt.LotNumber,
					SerialNumber:        serial,
					UserID:              actorID,
				})
			}
		} else {
			ledger = append(ledger, domain.InventoryTransaction{
				TenantID:            tenantID,
				ProductID:           item.productID,
				LocationID:          locationID,
				Type:                domain.InventoryTxPurchaseReceipt,
				QuantityChange:      qty,
				UnitCost:            unitCost,
				PurchaseOrderID:     purchaseOrderID,
				PurchaseOrderItemID: item.id,
				LotNumber:           receipt.LotNumber,
				UserID:              actorID,
			})
		}

		item.received = item.received.Add(qty)
		_, err = tx.ExecContext(ctx, `
			UPDATE purchase_order_items
			SET quantity_received = $1
			WHERE id = $2
		`, item.received, item.id)
		if err != nil {
			return nil, translateError(err)
		}

		if err := applyInventoryDelta(ctx, tx, tenantID, item.productID, locationID,
			qty, decimal.Zero, qty.Neg(), true); err != nil {
			return nil, err
		}
	}

	// Nothing survived the filters: report success with the order as it
	// stands, distinguishing a no-op pass from a failed one.
	if len(ledger) == 0 {
		_ = tx.Rollback()
		po, err := s.GetPurchaseOrder(ctx, tenantID, purchaseOrderID)
		if err != nil {
			return nil, err
		}
		return &store.ReceiveResult{PurchaseOrder: po}, nil
	}

	if err := insertLedgerEntries(ctx, tx, ledger); err != nil {
		return nil, err
	}

	// Classification sums received against ordered across all items; the
	// tolerance applies once to the order-wide shortfall.
	totalOrdered := decimal.Zero
	totalReceived := decimal.Zero
	for _, item := range order {
		totalOrdered = totalOrdered.Add(item.ordered)
		totalReceived = totalReceived.Add(item.received)
	}
	newStatus := domain.POStatusFullyReceived
	if totalOrdered.Sub(totalReceived).GreaterThan(receiveTolerance) {
		newStatus = domain.POStatusPartiallyReceived
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE purchase_orders
		SET status = $1, updated_at = now()
		WHERE tenant_id = $2 AND id = $3
	`, newStatus, tenantID, purchaseOrderID)
	if err != nil {
		return nil, translateError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateError(err)
	}

	po, err := s.GetPurchaseOrder(ctx, tenantID, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	return &store.ReceiveResult{PurchaseOrder: po, LedgerEntries: ledger}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPurchaseOrder(row rowScanner) (*domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	var expected sql.NullTime
	err := row.Scan(&po.ID, &po.TenantID, &po.PONumber, &po.SupplierID, &po.LocationID,
		&po.Status, &po.OrderDate, &expected, &po.Notes, &po.Subtotal, &po.TaxAmount,
		&po.ShippingCost, &po.TotalAmount, &po.CreatedByUserID, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	if expected.Valid {
		t := expected.Time.UTC()
		po.ExpectedDeliveryDate = &t
	}
	return &po, nil
}
