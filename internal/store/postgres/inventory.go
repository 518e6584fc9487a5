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

// applyInventoryDelta upserts the aggregate balance for one product at one
// location inside the caller's transaction. The resulting on-hand quantity
// must stay non-negative unless allowNegative is set; the check runs on the
// post-update row so concurrent writers serialize on the row lock.
func applyInventoryDelta(ctx context.Context, tx *sql.Tx, tenantID, productID, locationID string,
	deltaOnHand, deltaAllocated, deltaIncoming decimal.Decimal, allowNegative bool) error {

	var onHand, allocated decimal.Decimal
	err := tx.QueryRowContext(ctx, `
		INSERT INTO inventory_items (tenant_id, product_id, location_id, quantity_on_hand, quantity_allocated, quantity_incoming, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (tenant_id, product_id, location_id)
		DO UPDATE SET
			quantity_on_hand = inventory_items.quantity_on_hand + EXCLUDED.quantity_on_hand,
			quantity_allocated = inventory_items.quantity_allocated + EXCLUDED.quantity_allocated,
			quantity_incoming = inventory_items.quantity_incoming + EXCLUDED.quantity_incoming,
			updated_at = now()
		RETURNING quantity_on_hand, quantity_allocated
	`, tenantID, productID, locationID, deltaOnHand, deltaAllocated, deltaIncoming).Scan(&onHand, &allocated)
	if err != nil {
		return translateError(err)
	}

	if !allowNegative && onHand.IsNegative() {
		return fmt.Errorf("%w: product %s at %s would go to %s on hand", store.ErrValidation, productID, locationID, onHand)
	}
	if allocated.IsNegative() {
		return fmt.Errorf("%w: product %s at %s has negative allocation", store.ErrValidation, productID, locationID)
	}
	return nil
}

// insertLedgerEntries batch-inserts the accumulated ledger rows for one
// operation. IDs and timestamps are filled in here so every row of the
// batch shares the same created_at.
func insertLedgerEntries(ctx context.Context, tx *sql.Tx, entries []domain.InventoryTransaction) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO inventory_transactions (
			id, tenant_id, product_id, location_id, type, quantity_change, unit_cost,
			purchase_order_id, purchase_order_item_id, order_id, order_item_id,
			lot_number, serial_number, user_id, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`)
	if err != nil {
		return translateError(err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range entries {
		entry := &entries[i]
		if entry.ID == "" {
			entry.ID = xid.New("ivt")
		}
		entry.CreatedAt = now
		_, err := stmt.ExecContext(ctx,
			entry.ID, entry.TenantID, entry.ProductID, entry.LocationID, entry.Type,
			entry.QuantityChange, entry.UnitCost,
			nullIfEmpty(entry.PurchaseOrderID), nullIfEmpty(entry.PurchaseOrderItemID),
			nullIfEmpty(entry.OrderID), nullIfEmpty(entry.OrderItemID),
			nullIfEmpty(entry.LotNumber), nullIfEmpty(entry.SerialNumber),
			entry.UserID, entry.CreatedAt)
		if err != nil {
			return translateError(err)
		}
	}
	return nil
}

func (s *Store) GetInventoryItem(ctx context.Context, tenantID, productID, locationID string) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, product_id, location_id, quantity_on_hand, quantity_allocated, quantity_incoming, updated_at
		FROM inventory_items
		WHERE tenant_id = $1 AND product_id = $2 AND location_id = $3
	`, tenantID, productID, locationID).Scan(&item.TenantID, &item.ProductID, &item.LocationID,
		&item.QuantityOnHand, &item.QuantityAllocated, &item.QuantityIncoming, &item.UpdatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	return &item, nil
}

func (s *Store) ListInventoryTransactions(ctx context.Context, tenantID, productID, locationID string, limit int) ([]domain.InventoryTransaction, error) {
	if limit < 1 || limit > 1000 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, product_id, location_id, type, quantity_change, unit_cost,
			COALESCE(purchase_order_id,''), COALESCE(purchase_order_item_id,''),
			COALESCE(order_id,''), COALESCE(order_item_id,''),
			COALESCE(lot_number,''), COALESCE(serial_number,''), user_id, created_at
		FROM inventory_transactions
		WHERE tenant_id = $1 AND product_id = $2 AND location_id = $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, tenantID, productID, locationID, limit)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	entries := make([]domain.InventoryTransaction, 0, limit)
	for rows.Next() {
		var entry domain.InventoryTransaction
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.ProductID, &entry.LocationID,
			&entry.Type, &entry.QuantityChange, &entry.UnitCost,
			&entry.PurchaseOrderID, &entry.PurchaseOrderItemID,
			&entry.OrderID, &entry.OrderItemID,
			&entry.LotNumber, &entry.SerialNumber, &entry.UserID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
