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

// ProcessCheckout commits a completed sale: stock decrement, order rows,
// payment rows, one session transaction per tender, and SALE ledger rows,
// all in one transaction. The caller has already priced the cart and proven
// that payments equal the total exactly.
func (s *Store) ProcessCheckout(ctx context.Context, order domain.Order, payments []domain.Payment, policy store.StockPolicy) (*store.CheckoutResult, error) {
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", store.ErrValidation)
	}
	if len(payments) == 0 {
		return nil, fmt.Errorf("%w: order has no payments", store.ErrValidation)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	defer func() { _ = tx.Rollback() }()

	var sessionStatus domain.SessionStatus
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM pos_sessions
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, order.TenantID, order.SessionID).Scan(&sessionStatus)
	if err != nil {
		return nil, translateError(err)
	}
	if sessionStatus != domain.SessionOpen {
		return nil, fmt.Errorf("%w: session is %s, checkout requires OPEN", store.ErrInvalidState, sessionStatus)
	}

	tracked, err := lockStock(ctx, tx, order.TenantID, order.LocationID, order.Items)
	if err != nil {
		return nil, err
	}

	ledger := make([]domain.InventoryTransaction, 0, len(order.Items))
	trackedIDs := make([]string, 0, len(order.Items))
	for i := range order.Items {
		item := &order.Items[i]
		state, isTracked := tracked[item.ProductID]
		if !isTracked {
			continue
		}
		available := state.onHand.Sub(state.allocated)
		if item.Quantity.GreaterThan(available) {
			if !policy.AllowBackorder {
				return nil, fmt.Errorf("%w: insufficient stock for product %s, requested %s available %s",
					store.ErrValidation, item.ProductID, item.Quantity, available)
			}
			order.IsBackordered = true
		}
		if err := applyInventoryDelta(ctx, tx, order.TenantID, item.ProductID, order.LocationID,
			item.Quantity.Neg(), decimal.Zero, decimal.Zero, policy.AllowNegativeStock); err != nil {
			return nil, err
		}
		trackedIDs = append(trackedIDs, item.ProductID)
	}

	number, err := nextDocumentNumber(ctx, tx, order.TenantID, "order", "ORD")
	if err != nil {
		return nil, err
	}
	order.OrderNumber = number
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	order.Status = domain.OrderCompleted
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	if err := insertOrder(ctx, tx, &order); err != nil {
		return nil, err
	}

	for i := range order.Items {
		item := &order.Items[i]
		if _, isTracked := tracked[item.ProductID]; isTracked {
			ledger = append(ledger, domain.InventoryTransaction{
				TenantID:       order.TenantID,
				ProductID:      item.ProductID,
				LocationID:     order.LocationID,
				Type:           domain.InventoryTxSale,
				QuantityChange: item.Quantity.Neg(),
				UnitCost:       decimal.Zero,
				OrderID:        order.ID,
				OrderItemID:    item.ID,
				UserID:         order.UserID,
			})
		}
	}

	for i := range payments {
		payment := &payments[i]
		if payment.ID == "" {
			payment.ID = xid.New("pay")
		}
		payment.OrderID = order.ID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_payments (id, order_id, method, amount, reference)
			VALUES ($1,$2,$3,$4,$5)
		`, payment.ID, payment.OrderID, payment.Method, payment.Amount, nullIfEmpty(payment.Reference))
		if err != nil {
			return nil, translateError(err)
		}

		txType, ok := payment.Method.SessionTxType()
		if !ok {
			return nil, fmt.Errorf("%w: unknown payment method %s", store.ErrValidation, payment.Method)
		}
		entry := domain.PosSessionTransaction{
			ID:        xid.New("stx"),
			TenantID:  order.TenantID,
			SessionID: order.SessionID,
			Type:      txType,
			Amount:    payment.Amount,
			OrderID:   order.ID,
			CreatedAt: order.CreatedAt,
		}
		if err := insertSessionTransaction(ctx, tx, entry); err != nil {
			return nil, err
		}
	}

	if err := insertLedgerEntries(ctx, tx, ledger); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, translateError(err)
	}

	order.Payments = payments
	return &store.CheckoutResult{Order: &order, ProductIDs: trackedIDs}, nil
}

// SuspendOrder parks a cart as a SUSPENDED order. Stock is allocated, not
// deducted, so availability shrinks while on-hand stays put. No ledger rows
// are written; suspension is not a stock movement.
func (s *Store) SuspendOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", store.ErrValidation)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	defer func() { _ = tx.Rollback() }()

	var sessionStatus domain.SessionStatus
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM pos_sessions
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, order.TenantID, order.SessionID).Scan(&sessionStatus)
	if err != nil {
		return nil, translateError(err)
	}
	if sessionStatus != domain.SessionOpen {
		return nil, fmt.Errorf("%w: session is %s, suspend requires OPEN", store.ErrInvalidState, sessionStatus)
	}

	tracked, err := lockStock(ctx, tx, order.TenantID, order.LocationID, order.Items)
	if err != nil {
		return nil, err
	}
	for i := range order.Items {
		item := &order.Items[i]
		if _, isTracked := tracked[item.ProductID]; !isTracked {
			continue
		}
		if err := applyInventoryDelta(ctx, tx, order.TenantID, item.ProductID, order.LocationID,
			decimal.Zero, item.Quantity, decimal.Zero, true); err != nil {
			return nil, err
		}
	}

	number, err := nextDocumentNumber(ctx, tx, order.TenantID, "order", "ORD")
	if err != nil {
		return nil, err
	}
	order.OrderNumber = number
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	order.Status = domain.OrderSuspended
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	if err := insertOrder(ctx, tx, &order); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, translateError(err)
	}
	saved := order
	return &saved, nil
}

// ResumeOrder claims a suspended order with a non-blocking row lock, so two
// terminals racing for the same order fail fast instead of queueing. The
// winner gets the cart back; the order row is gone afterwards.
func (s *Store) ResumeOrder(ctx context.Context, tenantID, orderID, locationID string) (*domain.Order, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	defer func() { _ = tx.Rollback() }()

	order, err := scanOrder(tx.QueryRowContext(ctx, `
		SELECT id, tenant_id, order_number, status, session_id, location_id, terminal_id,
			COALESCE(customer_id,''), user_id, subtotal, discount_amount, tax_amount,
			shipping_cost, total_amount, is_backordered, COALESCE(notes,''), created_at
		FROM orders
		WHERE tenant_id = $1 AND id = $2 AND location_id = $3 AND status = 'SUSPENDED'
		FOR UPDATE NOWAIT
	`, tenantID, orderID, locationID))
	if err != nil {
		return nil, err
	}

	items, err := listOrderItemsTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	trackedRows, err := tx.QueryContext(ctx, `
		SELECT i.product_id
		FROM order_items i
		JOIN products p ON p.id = i.product_id AND p.tenant_id = $1
		WHERE i.order_id = $2 AND p.is_stock_tracked = true
	`, tenantID, orderID)
	if err != nil {
		return nil, translateError(err)
	}
	tracked := make(map[string]bool, len(items))
	for trackedRows.Next() {
		var productID string
		if err := trackedRows.Scan(&productID); err != nil {
			_ = trackedRows.Close()
			return nil, err
		}
		tracked[productID] = true
	}
	if err := trackedRows.Err(); err != nil {
		_ = trackedRows.Close()
		return nil, err
	}
	_ = trackedRows.Close()

	for _, item := range items {
		if !tracked[item.ProductID] {
			continue
		}
		if err := applyInventoryDelta(ctx, tx, tenantID, item.ProductID, locationID,
			decimal.Zero, item.Quantity.Neg(), decimal.Zero, true); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		return nil, translateError(err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE tenant_id = $1 AND id = $2`, tenantID, orderID)
	if err != nil {
		return nil, translateError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, translateError(err)
	}
	return order, nil
}

func (s *Store) GetOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, order_number, status, session_id, location_id, terminal_id,
			COALESCE(customer_id,''), user_id, subtotal, discount_amount, tax_amount,
			shipping_cost, total_amount, is_backordered, COALESCE(notes,''), created_at
		FROM orders
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, orderID))
	if err != nil {
		return nil, err
	}

	items, err := s.listOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	payRows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, method, amount, COALESCE(reference,'')
		FROM order_payments
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, translateError(err)
	}
	defer payRows.Close()
	for payRows.Next() {
		var payment domain.Payment
		if err := payRows.Scan(&payment.ID, &payment.OrderID, &payment.Method, &payment.Amount, &payment.Reference); err != nil {
			return nil, err
		}
		order.Payments = append(order.Payments, payment)
	}
	if err := payRows.Err(); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) ListSuspendedOrders(ctx context.Context, tenantID, locationID string) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, order_number, status, session_id, location_id, terminal_id,
			COALESCE(customer_id,''), user_id, subtotal, discount_amount, tax_amount,
			shipping_cost, total_amount, is_backordered, COALESCE(notes,''), created_at
		FROM orders
		WHERE tenant_id = $1 AND location_id = $2 AND status = 'SUSPENDED'
		ORDER BY created_at ASC
	`, tenantID, locationID)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 16)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := s.listOrderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

type stockState struct {
	onHand    decimal.Decimal
	allocated decimal.Decimal
}

// lockStock locks the aggregate rows for every stock-tracked product in the
// cart and returns their current balances. Untracked products are absent
// from the result.
func lockStock(ctx context.Context, tx *sql.Tx, tenantID, locationID string, items []domain.OrderItem) (map[string]stockState, error) {
	productIDs := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.Quantity.Sign() <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
		}
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			productIDs = append(productIDs, item.ProductID)
		}
	}

	trackedRows, err := tx.QueryContext(ctx, `
		SELECT id FROM products
		WHERE tenant_id = $1 AND id = ANY($2) AND is_stock_tracked = true
	`, tenantID, productIDs)
	if err != nil {
		return nil, translateError(err)
	}
	trackedIDs := make([]string, 0, len(productIDs))
	for trackedRows.Next() {
		var id string
		if err := trackedRows.Scan(&id); err != nil {
			_ = trackedRows.Close()
			return nil, err
		}
		trackedIDs = append(trackedIDs, id)
	}
	if err := trackedRows.Err(); err != nil {
		_ = trackedRows.Close()
		return nil, err
	}
	_ = trackedRows.Close()

	states := make(map[string]stockState, len(trackedIDs))
	if len(trackedIDs) == 0 {
		return states, nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT product_id, quantity_on_hand, quantity_allocated
		FROM inventory_items
		WHERE tenant_id = $1 AND location_id = $2 AND product_id = ANY($3)
		FOR UPDATE
	`, tenantID, locationID, trackedIDs)
	if err != nil {
		return nil, translateError(err)
	}
	for rows.Next() {
		var productID string
		var state stockState
		if err := rows.Scan(&productID, &state.onHand, &state.allocated); err != nil {
			_ = rows.Close()
			return nil, err
		}
		states[productID] = state
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	// Tracked products with no aggregate row yet have zero of everything.
	for _, id := range trackedIDs {
		if _, exists := states[id]; !exists {
			states[id] = stockState{onHand: decimal.Zero, allocated: decimal.Zero}
		}
	}
	return states, nil
}

func insertOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, tenant_id, order_number, status, session_id, location_id, terminal_id,
			customer_id, user_id, subtotal, discount_amount, tax_amount, shipping_cost,
			total_amount, is_backordered, notes, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, order.ID, order.TenantID, order.OrderNumber, order.Status, order.SessionID,
		order.LocationID, order.TerminalID, nullIfEmpty(order.CustomerID), order.UserID,
		order.Subtotal, order.DiscountAmount, order.TaxAmount, order.ShippingCost,
		order.TotalAmount, order.IsBackordered, nullIfEmpty(order.Notes), order.CreatedAt)
	if err != nil {
		return translateError(err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		if item.ID == "" {
			item.ID = xid.New("oit")
		}
		item.OrderID = order.ID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, discount_amount, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, item.ID, item.OrderID, item.ProductID, item.Quantity, item.UnitPrice,
			item.DiscountAmount, item.LineTotal)
		if err != nil {
			return translateError(err)
		}
	}
	return nil
}

func (s *Store) listOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price, discount_amount, line_total
		FROM order_items
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()
	return collectOrderItems(rows)
}

func listOrderItemsTx(ctx context.Context, tx *sql.Tx, orderID string) ([]domain.OrderItem, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price, discount_amount, line_total
		FROM order_items
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()
	return collectOrderItems(rows)
}

func collectOrderItems(rows *sql.Rows) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, 16)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity,
			&item.UnitPrice, &item.DiscountAmount, &item.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	err := row.Scan(&order.ID, &order.TenantID, &order.OrderNumber, &order.Status,
		&order.SessionID, &order.LocationID, &order.TerminalID, &order.CustomerID,
		&order.UserID, &order.Subtotal, &order.DiscountAmount, &order.TaxAmount,
		&order.ShippingCost, &order.TotalAmount, &order.IsBackordered, &order.Notes,
		&order.CreatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	return &order, nil
}
