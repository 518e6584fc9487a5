package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"retailcore/backoffice/internal/domain"
	"retailcore/backoffice/internal/store"
)

func (s *Service) CreatePurchaseOrder(ctx context.Context, req domain.CreatePurchaseOrderRequest) (*domain.PurchaseOrder, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.SupplierID == "" || req.LocationID == "" {
		return nil, fmt.Errorf("%w: supplier and location are required", store.ErrValidation)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: purchase order needs at least one item", store.ErrValidation)
	}

	supplier, err := s.repo.GetSupplier(ctx, actor.TenantID, req.SupplierID)
	if err != nil {
		return nil, err
	}
	if !supplier.IsActive {
		return nil, fmt.Errorf("%w: supplier %s is inactive", store.ErrValidation, supplier.ID)
	}
	location, err := s.repo.GetLocation(ctx, actor.TenantID, req.LocationID)
	if err != nil {
		return nil, err
	}
	if !location.IsActive {
		return nil, fmt.Errorf("%w: location %s is inactive", store.ErrValidation, location.ID)
	}

	items, subtotal, taxTotal, err := s.buildPOItems(ctx, actor.TenantID, req.Items)
	if err != nil {
		return nil, err
	}
	if req.ShippingCost.IsNegative() {
		return nil, fmt.Errorf("%w: shipping cost must not be negative", store.ErrValidation)
	}

	po := domain.PurchaseOrder{
		TenantID:             actor.TenantID,
		PONumber:             strings.TrimSpace(req.PONumber),
		SupplierID:           req.SupplierID,
		LocationID:           req.LocationID,
		Status:               domain.POStatusDraft,
		OrderDate:            req.OrderDate,
		ExpectedDeliveryDate: req.ExpectedDeliveryDate,
		Notes:                req.Notes,
		Subtotal:             subtotal,
		TaxAmount:            taxTotal,
		ShippingCost:         req.ShippingCost,
		TotalAmount:          subtotal.Add(taxTotal).Add(req.ShippingCost),
		CreatedByUserID:      actor.UserID,
		Items:                items,
	}

	created, err := s.repo.CreatePurchaseOrder(ctx, po)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "po_create", "purchase_order", created.ID, fmt.Sprintf("number=%s", created.PONumber))
	return created, nil
}

func (s *Service) buildPOItems(ctx context.Context, tenantID string, reqs []domain.CreatePurchaseOrderItemRequest) ([]domain.PurchaseOrderItem, decimal.Decimal, decimal.Decimal, error) {
	productIDs := make([]string, 0, len(reqs))
	for _, item := range reqs {
		productIDs = append(productIDs, item.ProductID)
	}
	products, err := s.repo.GetProducts(ctx, tenantID, productIDs)
	if err != nil {
		return nil, decimal.Zero, decimal.Zero, err
	}

	items := make([]domain.PurchaseOrderItem, 0, len(reqs))
	subtotal := decimal.Zero
	taxTotal := decimal.Zero
	for _, req := range reqs {
		product, exists := products[req.ProductID]
		if !exists {
			return nil, decimal.Zero, decimal.Zero, fmt.Errorf("%w: product %s", store.ErrNotFound, req.ProductID)
		}
		if !product.IsActive {
			return nil, decimal.Zero, decimal.Zero, fmt.Errorf("%w: product %s is inactive", store.ErrValidation, product.ID)
		}
		if req.QuantityOrdered.Sign() <= 0 {
			return nil, decimal.Zero, decimal.Zero, fmt.Errorf("%w: ordered quantity must be positive", store.ErrValidation)
		}
		if req.UnitCost.IsNegative() {
			return nil, decimal.Zero, decimal.Zero, fmt.Errorf("%w: unit cost must not be negative", store.ErrValidation)
		}
		if req.TaxRate.IsNegative() {
			return nil, decimal.Zero, decimal.Zero, fmt.Errorf("%w: tax rate must not be negative", store.ErrValidation)
		}

		lineTotal := req.UnitCost.Mul(req.QuantityOrdered)
		taxAmount := s.taxCalc.Calculate(lineTotal, req.TaxRate)
		items = append(items, domain.PurchaseOrderItem{
			ProductID:        req.ProductID,
			QuantityOrdered:  req.QuantityOrdered,
			QuantityReceived: decimal.Zero,
			UnitCost:         req.UnitCost,
			TaxRate:          req.TaxRate,
			TaxAmount:        taxAmount,
			LineTotal:        lineTotal,
			Description:      req.Description,
		})
		subtotal = subtotal.Add(lineTotal)
		taxTotal = taxTotal.Add(taxAmount)
	}
	return items, subtotal, taxTotal, nil
}

func (s *Service) GetPurchaseOrder(ctx context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.GetPurchaseOrder(ctx, actor.TenantID, purchaseOrderID)
}

func (s *Service) ListPurchaseOrders(ctx context.Context, filter domain.PurchaseOrderFilter) ([]domain.PurchaseOrder, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPurchaseOrders(ctx, actor.TenantID, filter)
}

// UpdatePurchaseOrder applies the editable fields. Notes and the expected
// delivery date may change in any status; shipping cost only while the order
// is still a draft, with the total recomputed from the stored amounts.
func (s *Service) UpdatePurchaseOrder(ctx context.Context, purchaseOrderID string, req domain.UpdatePurchaseOrderRequest) (*domain.PurchaseOrder, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.ShippingCost != nil && req.ShippingCost.IsNegative() {
		return nil, fmt.Errorf("%w: shipping cost must not be negative", store.ErrValidation)
	}

	updated, err := s.repo.UpdatePurchaseOrder(ctx, actor.TenantID, purchaseOrderID, req)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "po_update", "purchase_order", updated.ID, "")
	return updated, nil
}

// TransitionPurchaseOrder drives the lifecycle. Requesting the current
// status is a no-op, not an error, so retried submissions stay safe.
func (s *Service) TransitionPurchaseOrder(ctx context.Context, purchaseOrderID string, target domain.POStatus) (*domain.PurchaseOrder, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	po, err := s.repo.TransitionPurchaseOrder(ctx, actor.TenantID, purchaseOrderID, target, actor.UserID)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "po_transition", "purchase_order", po.ID, fmt.Sprintf("status=%s", po.Status))
	s.notifier.Dispatch(ctx, actor.TenantID, "purchase_order.status_changed", map[string]string{
		"purchase_order_id": po.ID,
		"status":            string(po.Status),
	})
	return po, nil
}

// ReceivePurchaseOrder books received stock against the order. All lines
// succeed or the whole pass is rejected.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, purchaseOrderID string, receipts []domain.ReceiveItemRequest) (*domain.PurchaseOrder, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if len(receipts) == 0 {
		return nil, fmt.Errorf("%w: no items to receive", store.ErrValidation)
	}

	result, err := s.repo.ReceivePurchaseOrderItems(ctx, actor.TenantID, purchaseOrderID, receipts, actor.UserID)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "po_receive", "purchase_order", purchaseOrderID,
		fmt.Sprintf("lines=%d status=%s", len(result.LedgerEntries), result.PurchaseOrder.Status))

	productIDs := make([]string, 0, len(result.LedgerEntries))
	seen := make(map[string]bool, len(result.LedgerEntries))
	for _, entry := range result.LedgerEntries {
		if !seen[entry.ProductID] {
			seen[entry.ProductID] = true
			productIDs = append(productIDs, entry.ProductID)
		}
	}
	s.products.Invalidate(ctx, actor.TenantID, productIDs...)
	s.notifier.Dispatch(ctx, actor.TenantID, "inventory.received", map[string]any{
		"purchase_order_id": purchaseOrderID,
		"product_ids":       productIDs,
	})
	return result.PurchaseOrder, nil
}
