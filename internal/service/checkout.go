package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"retailcore/backoffice/internal/domain"
	"retailcore/backoffice/internal/store"
)

// Checkout prices the cart, proves the tenders cover it exactly, and hands
// the storage layer one atomic commit. Cache invalidation and broadcast run
// after the commit and never fail the sale.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.Order, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("%w: session is required", store.ErrValidation)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}
	if len(req.Payments) == 0 {
		return nil, fmt.Errorf("%w: at least one payment is required", store.ErrValidation)
	}
	if req.TaxRate.IsNegative() {
		return nil, fmt.Errorf("%w: tax rate must not be negative", store.ErrValidation)
	}
	if req.ShippingCost.IsNegative() {
		return nil, fmt.Errorf("%w: shipping cost must not be negative", store.ErrValidation)
	}

	session, err := s.repo.GetSession(ctx, actor.TenantID, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != actor.UserID {
		return nil, fmt.Errorf("%w: session %s", store.ErrNotFound, req.SessionID)
	}
	if session.Status != domain.SessionOpen {
		return nil, fmt.Errorf("%w: session is %s, checkout requires OPEN", store.ErrInvalidState, session.Status)
	}

	items, subtotal, err := s.priceCart(ctx, actor.TenantID, req.Items)
	if err != nil {
		return nil, err
	}

	cartDiscount := resolveDiscount(req.CartDiscount, req.CartDiscountPercent, subtotal)
	taxBase := subtotal.Sub(cartDiscount)
	taxAmount := s.taxCalc.Calculate(taxBase, req.TaxRate)
	total := taxBase.Add(taxAmount).Add(req.ShippingCost)

	payments := make([]domain.Payment, 0, len(req.Payments))
	paid := decimal.Zero
	for _, p := range req.Payments {
		if p.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: payment amount must be positive", store.ErrValidation)
		}
		if _, ok := p.Method.SessionTxType(); !ok {
			return nil, fmt.Errorf("%w: unknown payment method %s", store.ErrValidation, p.Method)
		}
		payments = append(payments, domain.Payment{Method: p.Method, Amount: p.Amount, Reference: p.Reference})
		paid = paid.Add(p.Amount)
	}
	// Exact equality, no tolerance. Money either balances or it does not.
	if !paid.Equal(total) {
		return nil, fmt.Errorf("%w: payments total %s does not equal order total %s", store.ErrValidation, paid, total)
	}

	order := domain.Order{
		TenantID:       actor.TenantID,
		SessionID:      session.ID,
		LocationID:     session.LocationID,
		TerminalID:     session.TerminalID,
		CustomerID:     req.CustomerID,
		UserID:         actor.UserID,
		Subtotal:       subtotal,
		DiscountAmount: cartDiscount,
		TaxAmount:      taxAmount,
		ShippingCost:   req.ShippingCost,
		TotalAmount:    total,
		Notes:          req.Notes,
		Items:          items,
	}

	policy := store.StockPolicy{
		AllowBackorder:     s.opts.AllowBackorder,
		AllowNegativeStock: s.opts.AllowNegativeStock,
	}
	result, err := s.repo.ProcessCheckout(ctx, order, payments, policy)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "checkout", "order", result.Order.ID,
		fmt.Sprintf("number=%s total=%s", result.Order.OrderNumber, result.Order.TotalAmount))
	s.products.Invalidate(ctx, actor.TenantID, result.ProductIDs...)
	s.notifier.Dispatch(ctx, actor.TenantID, "order.completed", map[string]any{
		"order_id":     result.Order.ID,
		"order_number": result.Order.OrderNumber,
		"session_id":   session.ID,
		"product_ids":  result.ProductIDs,
	})
	return result.Order, nil
}

// priceCart builds the order lines. The unit price comes from the catalog
// unless the caller overrides it; the item discount is per unit and clamped
// so a unit can reach zero but never go negative. The returned subtotal is
// the sum of line totals, after item discounts.
func (s *Service) priceCart(ctx context.Context, tenantID string, reqs []domain.CheckoutItemRequest) ([]domain.OrderItem, decimal.Decimal, error) {
	productIDs := make([]string, 0, len(reqs))
	for _, item := range reqs {
		productIDs = append(productIDs, item.ProductID)
	}
	products, err := s.repo.GetProducts(ctx, tenantID, productIDs)
	if err != nil {
		return nil, decimal.Zero, err
	}

	items := make([]domain.OrderItem, 0, len(reqs))
	subtotal := decimal.Zero
	for _, req := range reqs {
		product, exists := products[req.ProductID]
		if !exists {
			return nil, decimal.Zero, fmt.Errorf("%w: product %s", store.ErrNotFound, req.ProductID)
		}
		if !product.IsActive {
			return nil, decimal.Zero, fmt.Errorf("%w: product %s is inactive", store.ErrValidation, product.ID)
		}
		if req.Quantity.Sign() <= 0 {
			return nil, decimal.Zero, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
		}

		unitPrice := product.BasePrice
		if req.UnitPrice != nil {
			if req.UnitPrice.IsNegative() {
				return nil, decimal.Zero, fmt.Errorf("%w: unit price must not be negative", store.ErrValidation)
			}
			unitPrice = *req.UnitPrice
		}
		unitDiscount := resolveDiscount(req.ItemDiscount, req.ItemDiscountPercent, unitPrice)
		lineTotal := unitPrice.Sub(unitDiscount).Mul(req.Quantity)
		items = append(items, domain.OrderItem{
			ProductID:      req.ProductID,
			Quantity:       req.Quantity,
			UnitPrice:      unitPrice,
			DiscountAmount: unitDiscount,
			LineTotal:      lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}
	return items, subtotal, nil
}

var decimalOne = decimal.NewFromInt(1)

// resolveDiscount turns either discount form into an amount against base.
// A fixed amount wins when both are set; percent is a fraction capped at 1.
// The result is clamped so it never exceeds base and never goes negative.
func resolveDiscount(fixed, percent *decimal.Decimal, base decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch {
	case fixed != nil:
		amount = *fixed
	case percent != nil:
		p := *percent
		if p.GreaterThan(decimalOne) {
			p = decimalOne
		}
		amount = base.Mul(p)
	default:
		return decimal.Zero
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(base) {
		return base
	}
	return amount
}

// SuspendOrder parks the cart for later. Stock is allocated so availability
// reflects the parked quantities, but nothing leaves the shelf.
func (s *Service) SuspendOrder(ctx context.Context, req domain.SuspendOrderRequest) (*domain.Order, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("%w: session is required", store.ErrValidation)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}

	session, err := s.repo.GetSession(ctx, actor.TenantID, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != actor.UserID {
		return nil, fmt.Errorf("%w: session %s", store.ErrNotFound, req.SessionID)
	}
	if session.Status != domain.SessionOpen {
		return nil, fmt.Errorf("%w: session is %s, suspend requires OPEN", store.ErrInvalidState, session.Status)
	}

	// A suspended cart is stored exactly as quoted at the terminal. Prices
	// are not re-read from the catalog, so the customer resumes to the same
	// numbers they walked away from.
	items := make([]domain.OrderItem, 0, len(req.Items))
	subtotal := decimal.Zero
	for _, line := range req.Items {
		if line.Quantity.Sign() <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
		}
		if line.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: unit price must not be negative", store.ErrValidation)
		}
		if line.DiscountAmount.IsNegative() || line.DiscountAmount.GreaterThan(line.UnitPrice) {
			return nil, fmt.Errorf("%w: discount must be between zero and the unit price", store.ErrValidation)
		}
		lineTotal := line.UnitPrice.Sub(line.DiscountAmount).Mul(line.Quantity)
		items = append(items, domain.OrderItem{
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice,
			DiscountAmount: line.DiscountAmount,
			LineTotal:      lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}

	order := domain.Order{
		TenantID:       actor.TenantID,
		SessionID:      session.ID,
		LocationID:     session.LocationID,
		TerminalID:     session.TerminalID,
		CustomerID:     req.CustomerID,
		UserID:         actor.UserID,
		Subtotal:       subtotal,
		DiscountAmount: decimal.Zero,
		TaxAmount:      decimal.Zero,
		TotalAmount:    subtotal,
		Notes:          req.Notes,
		Items:          items,
	}

	suspended, err := s.repo.SuspendOrder(ctx, order)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "order_suspend", "order", suspended.ID, fmt.Sprintf("number=%s", suspended.OrderNumber))
	return suspended, nil
}

// ResumeOrder claims a suspended order into the caller's open session and
// returns its cart. Losing a race for the same order reports Conflict so the
// terminal can tell the cashier someone else got there first.
func (s *Service) ResumeOrder(ctx context.Context, orderID, sessionID string) (*domain.Order, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session is required", store.ErrValidation)
	}

	session, err := s.repo.GetSession(ctx, actor.TenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != actor.UserID {
		return nil, fmt.Errorf("%w: session %s", store.ErrNotFound, sessionID)
	}
	if session.Status != domain.SessionOpen {
		return nil, fmt.Errorf("%w: session is %s, resume requires OPEN", store.ErrInvalidState, session.Status)
	}

	order, err := s.repo.ResumeOrder(ctx, actor.TenantID, orderID, session.LocationID)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "order_resume", "order", order.ID, fmt.Sprintf("number=%s", order.OrderNumber))
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.GetOrder(ctx, actor.TenantID, orderID)
}

func (s *Service) ListSuspendedOrders(ctx context.Context, locationID string) ([]domain.Order, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSuspendedOrders(ctx, actor.TenantID, locationID)
}
