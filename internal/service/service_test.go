package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"retailcore/backoffice/internal/domain"
	"retailcore/backoffice/internal/store"
	"retailcore/backoffice/internal/store/memory"
	"retailcore/backoffice/internal/tax"
)

const testTenant = "tenant-1"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decp(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func newTestService(t *testing.T, opts Options) (*Service, *memory.Store, context.Context) {
	t.Helper()
	repo := memory.New()
	svc := New(repo, tax.FlatRate{}, nil, nil, opts)
	ctx := WithActor(context.Background(), domain.Actor{
		UserID:   "usr-test",
		TenantID: testTenant,
		Role:     "manager",
	})
	return svc, repo, ctx
}

type fixture struct {
	supplier *domain.Supplier
	location *domain.Location
	widget   *domain.Product // stock tracked
	gadget   *domain.Product // stock tracked, serialized
	warranty *domain.Product // not stock tracked
}

func seedCatalog(t *testing.T, svc *Service, ctx context.Context) fixture {
	t.Helper()

	supplier, err := svc.CreateSupplier(ctx, domain.Supplier{Name: "Acme Wholesale"})
	if err != nil {
		t.Fatalf("create supplier: %v", err)
	}
	location, err := svc.CreateLocation(ctx, domain.Location{Name: "Main Store"})
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	widget, err := svc.CreateProduct(ctx, domain.Product{
		SKU: "WIDGET", Name: "Widget", BasePrice: dec("4.00"), IsStockTracked: true,
	})
	if err != nil {
		t.Fatalf("create widget: %v", err)
	}
	gadget, err := svc.CreateProduct(ctx, domain.Product{
		SKU: "GADGET", Name: "Gadget", BasePrice: dec("25.00"), IsStockTracked: true, IsSerialized: true,
	})
	if err != nil {
		t.Fatalf("create gadget: %v", err)
	}
	warranty, err := svc.CreateProduct(ctx, domain.Product{
		SKU: "WARRANTY", Name: "Extended Warranty", BasePrice: dec("9.99"),
	})
	if err != nil {
		t.Fatalf("create warranty: %v", err)
	}
	return fixture{supplier: supplier, location: location, widget: widget, gadget: gadget, warranty: warranty}
}

func sendPO(t *testing.T, svc *Service, ctx context.Context, poID string) {
	t.Helper()
	for _, status := range []domain.POStatus{
		domain.POStatusPendingApproval, domain.POStatusApproved, domain.POStatusSent,
	} {
		if _, err := svc.TransitionPurchaseOrder(ctx, poID, status); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}
}

func stockUp(t *testing.T, svc *Service, ctx context.Context, fx fixture, widgetQty, gadgetQty int64) {
	t.Helper()
	items := []domain.CreatePurchaseOrderItemRequest{}
	if widgetQty > 0 {
		items = append(items, domain.CreatePurchaseOrderItemRequest{
			ProductID: fx.widget.ID, QuantityOrdered: decimal.NewFromInt(widgetQty), UnitCost: dec("2.00"),
		})
	}
	if gadgetQty > 0 {
		items = append(items, domain.CreatePurchaseOrderItemRequest{
			ProductID: fx.gadget.ID, QuantityOrdered: decimal.NewFromInt(gadgetQty), UnitCost: dec("15.00"),
		})
	}
	po, err := svc.CreatePurchaseOrder(ctx, domain.CreatePurchaseOrderRequest{
		SupplierID: fx.supplier.ID, LocationID: fx.location.ID, Items: items,
	})
	if err != nil {
		t.Fatalf("create stocking po: %v", err)
	}
	sendPO(t, svc, ctx, po.ID)

	receipts := []domain.ReceiveItemRequest{}
	for _, item := range po.Items {
		receipt := domain.ReceiveItemRequest{
			PurchaseOrderItemID: item.ID,
			QuantityReceived:    item.QuantityOrdered,
		}
		if item.ProductID == fx.gadget.ID {
			for i := int64(0); i < item.QuantityOrdered.IntPart(); i++ {
				receipt.SerialNumbers = append(receipt.SerialNumbers, fmt.Sprintf("SN-%s-%d", item.ID, i))
			}
		}
		receipts = append(receipts, receipt)
	}
	if _, err := svc.ReceivePurchaseOrder(ctx, po.ID, receipts); err != nil {
		t.Fatalf("receive stocking po: %v", err)
	}
}

func openSession(t *testing.T, svc *Service, ctx context.Context, fx fixture, float string) *domain.PosSession {
	t.Helper()
	session, err := svc.StartSession(ctx, domain.StartSessionRequest{
		LocationID:   fx.location.ID,
		TerminalID:   "till-1",
		StartingCash: dec(float),
	})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return session
}

func TestPurchaseOrderLifecycleAndReceiving(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{})
	fx := seedCatalog(t, svc, ctx)

	po, err := svc.CreatePurchaseOrder(ctx, domain.CreatePurchaseOrderRequest{
		SupplierID: fx.supplier.ID,
		LocationID: fx.location.ID,
		Items: []domain.CreatePurchaseOrderItemRequest{
			{ProductID: fx.widget.ID, QuantityOrdered: dec("10"), UnitCost: dec("2.50"), TaxRate: dec("0.10")},
			{ProductID: fx.gadget.ID, QuantityOrdered: dec("5"), UnitCost: dec("15.00")},
		},
		ShippingCost: dec("7.00"),
	})
	if err != nil {
		t.Fatalf("create po: %v", err)
	}

	if po.Status != domain.POStatusDraft {
		t.Fatalf("expected DRAFT, got %s", po.Status)
	}
	if po.PONumber != "PO-000001" {
		t.Fatalf("expected PO-000001, got %s", po.PONumber)
	}
	// 10*2.50 + 5*15.00 = 100.00 subtotal; widget line tax 25.00*0.10 = 2.50.
	if !po.Subtotal.Equal(dec("100.00")) {
		t.Fatalf("expected subtotal 100.00, got %s", po.Subtotal)
	}
	if !po.TaxAmount.Equal(dec("2.50")) {
		t.Fatalf("expected tax 2.50, got %s", po.TaxAmount)
	}
	if !po.TotalAmount.Equal(dec("109.50")) {
		t.Fatalf("expected total 109.50, got %s", po.TotalAmount)
	}

	// Receiving before SENT is rejected.
	if _, err := svc.ReceivePurchaseOrder(ctx, po.ID, []domain.ReceiveItemRequest{
		{PurchaseOrderItemID: po.Items[0].ID, QuantityReceived: dec("1")},
	}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState receiving a DRAFT order, got %v", err)
	}

	// Skipping states is rejected.
	if _, err := svc.TransitionPurchaseOrder(ctx, po.ID, domain.POStatusSent); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for DRAFT -> SENT, got %v", err)
	}

	sendPO(t, svc, ctx, po.ID)

	// Requesting the current status again is a no-op.
	same, err := svc.TransitionPurchaseOrder(ctx, po.ID, domain.POStatusSent)
	if err != nil {
		t.Fatalf("idempotent transition: %v", err)
	}
	if same.Status != domain.POStatusSent {
		t.Fatalf("expected SENT after no-op transition, got %s", same.Status)
	}

	// Partial receipt of widgets.
	received, err := svc.ReceivePurchaseOrder(ctx, po.ID, []domain.ReceiveItemRequest{
		{PurchaseOrderItemID: po.Items[0].ID, QuantityReceived: dec("6"), LotNumber: "LOT-A"},
	})
	if err != nil {
		t.Fatalf("partial receive: %v", err)
	}
	if received.Status != domain.POStatusPartiallyReceived {
		t.Fatalf("expected PARTIALLY_RECEIVED, got %s", received.Status)
	}

	item, err := svc.GetInventoryItem(ctx, fx.widget.ID, fx.location.ID)
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if !item.QuantityOnHand.Equal(dec("6")) {
		t.Fatalf("expected 6 on hand, got %s", item.QuantityOnHand)
	}

	// Over-receiving the remainder is rejected and nothing changes.
	if _, err := svc.ReceivePurchaseOrder(ctx, po.ID, []domain.ReceiveItemRequest{
		{PurchaseOrderItemID: po.Items[0].ID, QuantityReceived: dec("5")},
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for over-receipt, got %v", err)
	}
	item, _ = svc.GetInventoryItem(ctx, fx.widget.ID, fx.location.ID)
	if !item.QuantityOnHand.Equal(dec("6")) {
		t.Fatalf("failed over-receipt must not change stock, got %s", item.QuantityOnHand)
	}

	// Serialized lines need one serial per unit.
	if _, err := svc.ReceivePurchaseOrder(ctx, po.ID, []domain.ReceiveItemRequest{
		{PurchaseOrderItemID: po.Items[1].ID, QuantityReceived: dec("5"), SerialNumbers: []string{"SN-1", "SN-2"}},
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for serial count mismatch, got %v", err)
	}

	// Receive everything that is left.
	final, err := svc.ReceivePurchaseOrder(ctx, po.ID, []domain.ReceiveItemRequest{
		{PurchaseOrderItemID: po.Items[0].ID, QuantityReceived: dec("4")},
		{PurchaseOrderItemID: po.Items[1].ID, QuantityReceived: dec("5"),
			SerialNumbers: []string{"SN-1", "SN-2", "SN-3", "SN-4", "SN-5"}},
	})
	if err != nil {
		t.Fatalf("final receive: %v", err)
	}
	if final.Status != domain.POStatusFullyReceived {
		t.Fatalf("expected FULLY_RECEIVED, got %s", final.Status)
	}

	// One ledger row per serialized unit.
	gadgetLedger, err := svc.ListInventoryTransactions(ctx, fx.gadget.ID, fx.location.ID, 50)
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(gadgetLedger) != 5 {
		t.Fatalf("expected 5 serialized ledger rows, got %d", len(gadgetLedger))
	}
	for _, entry := range gadgetLedger {
		if !entry.QuantityChange.Equal(dec("1")) {
			t.Fatalf("serialized ledger row must have quantity 1, got %s", entry.QuantityChange)
		}
		if entry.SerialNumber == "" {
			t.Fatal("serialized ledger row missing serial number")
		}
	}

	assertLedgerMatchesOnHand(t, svc, ctx, fx.widget.ID, fx.location.ID)
	assertLedgerMatchesOnHand(t, svc, ctx, fx.gadget.ID, fx.location.ID)

	closed, err := svc.TransitionPurchaseOrder(ctx, po.ID, domain.POStatusClosed)
	if err != nil {
		t.Fatalf("close po: %v", err)
	}
	if closed.Status != domain.POStatusClosed {
		t.Fatalf("expected CLOSED, got %s", closed.Status)
	}
	if _, err := svc.ReceivePurchaseOrder(ctx, po.ID, []domain.ReceiveItemRequest{
		{PurchaseOrderItemID: po.Items[0].ID, QuantityReceived: dec("1")},
	}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState receiving a CLOSED order, got %v", err)
	}
}

func TestReceiveToleranceClassification(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{})
	fx := seedCatalog(t, svc, ctx)

	po, err := svc.CreatePurchaseOrder(ctx, domain.CreatePurchaseOrderRequest{
		SupplierID: fx.supplier.ID,
		LocationID: fx.location.ID,
		Items: []domain.CreatePurchaseOrderItemRequest{
			{ProductID: fx.widget.ID, QuantityOrdered: dec("1"), UnitCost: dec("2.00")},
		},
	})
	if err != nil {
		t.Fatalf("create po: %v", err)
	}
	sendPO(t, svc, ctx, po.ID)

	// A shortfall above the tolerance keeps the order partial.
	received, err := svc.ReceivePurchaseOrder(ctx, po.ID, []domain.ReceiveItemRequest{
		{PurchaseOrderItemID: po.Items[0].ID, QuantityReceived: dec("0.9999")},
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if received.Status != domain.POStatusPartiallyReceived {
		t.Fatalf("expected PARTIALLY_RECEIVED at 0.9999 of 1, got %s", received.Status)
	}

	// Topping up to within the tolerance flips it to fully received.
	received, err = svc.ReceivePurchaseOrder(ctx, po.ID, []domain.ReceiveItemRequest{
		{PurchaseOrderItemID: po.Items[0].ID, QuantityReceived: dec("0.00009")},
	})
	if err != nil {
		t.Fatalf("receive top-up: %v", err)
	}
	if received.Status != domain.POStatusFullyReceived {
		t.Fatalf("expected FULLY_RECEIVED within tolerance, got %s", received.Status)
	}
}

func TestManualPONumberConflict(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{})
	fx := seedCatalog(t, svc, ctx)

	req := domain.CreatePurchaseOrderRequest{
		PONumber:   "PO-CUSTOM-7",
		SupplierID: fx.supplier.ID,
		LocationID: fx.location.ID,
		Items: []domain.CreatePurchaseOrderItemRequest{
			{ProductID: fx.widget.ID, QuantityOrdered: dec("1"), UnitCost: dec("1.00")},
		},
	}
	first, err := svc.CreatePurchaseOrder(ctx, req)
	if err != nil {
		t.Fatalf("create po: %v", err)
	}
	if first.PONumber != "PO-CUSTOM-7" {
		t.Fatalf("manual number not honored, got %s", first.PONumber)
	}
	if _, err := svc.CreatePurchaseOrder(ctx, req); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate manual number, got %v", err)
	}
}

func TestSessionCashReplayAndReconcile(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{})
	fx := seedCatalog(t, svc, ctx)
	stockUp(t, svc, ctx, fx, 100, 0)

	session := openSession(t, svc, ctx, fx, "100.00")

	// A second open session on the same user, terminal and location is
	// rejected.
	if _, err := svc.StartSession(ctx, domain.StartSessionRequest{
		LocationID: fx.location.ID, TerminalID: "till-1", StartingCash: dec("50"),
	}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate open session, got %v", err)
	}

	if _, err := svc.RecordCashTransaction(ctx, session.ID, domain.CashTransactionRequest{
		Type: domain.SessionTxPayOut, Amount: dec("30.00"), Notes: "petty cash",
	}); err != nil {
		t.Fatalf("pay out: %v", err)
	}
	if _, err := svc.RecordCashTransaction(ctx, session.ID, domain.CashTransactionRequest{
		Type: domain.SessionTxPayIn, Amount: dec("20.00"),
	}); err != nil {
		t.Fatalf("pay in: %v", err)
	}

	// Sale tenders cannot be written through the manual path.
	if _, err := svc.RecordCashTransaction(ctx, session.ID, domain.CashTransactionRequest{
		Type: domain.SessionTxCashSale, Amount: dec("5.00"),
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for manual CASH_SALE, got %v", err)
	}

	// Cash sale: 4.00 * 5 = 20.00. Card sale: 4.00 * 10 = 40.00.
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		SessionID: session.ID,
		Items:     []domain.CheckoutItemRequest{{ProductID: fx.widget.ID, Quantity: dec("5")}},
		Payments:  []domain.PaymentRequest{{Method: domain.PaymentCash, Amount: dec("20.00")}},
	}); err != nil {
		t.Fatalf("cash checkout: %v", err)
	}
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		SessionID: session.ID,
		Items:     []domain.CheckoutItemRequest{{ProductID: fx.widget.ID, Quantity: dec("10")}},
		Payments:  []domain.PaymentRequest{{Method: domain.PaymentCreditCard, Amount: dec("40.00")}},
	}); err != nil {
		t.Fatalf("card checkout: %v", err)
	}

	// Drawer: 100 + 20 - 30 + 20 cash sale = 110. Card money never enters.
	report, err := svc.EndSession(ctx, session.ID, domain.EndSessionRequest{EndingCash: dec("110.00")})
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	if report.Session.Status != domain.SessionClosed {
		t.Fatalf("expected CLOSED, got %s", report.Session.Status)
	}
	if !report.Session.CalculatedCash.Equal(dec("110.00")) {
		t.Fatalf("expected calculated 110.00, got %s", report.Session.CalculatedCash)
	}
	if !report.Session.Difference.IsZero() {
		t.Fatalf("expected zero difference, got %s", report.Session.Difference)
	}
	if !report.PaymentSummary[domain.SessionTxCardSale].Equal(dec("40.00")) {
		t.Fatalf("expected card summary 40.00, got %s", report.PaymentSummary[domain.SessionTxCardSale])
	}

	// Closed sessions accept no more activity.
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		SessionID: session.ID,
		Items:     []domain.CheckoutItemRequest{{ProductID: fx.widget.ID, Quantity: dec("1")}},
		Payments:  []domain.PaymentRequest{{Method: domain.PaymentCash, Amount: dec("4.00")}},
	}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for checkout on closed session, got %v", err)
	}

	reconciled, err := svc.ReconcileSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if reconciled.Session.Status != domain.SessionReconciled {
		t.Fatalf("expected RECONCILED, got %s", reconciled.Session.Status)
	}
	// The reconcile report replays the same payment summary as the close.
	if !reconciled.PaymentSummary[domain.SessionTxCardSale].Equal(dec("40.00")) {
		t.Fatalf("expected card summary 40.00 on reconcile, got %s",
			reconciled.PaymentSummary[domain.SessionTxCardSale])
	}
	if !reconciled.PaymentSummary[domain.SessionTxCashSale].Equal(dec("20.00")) {
		t.Fatalf("expected cash summary 20.00 on reconcile, got %s",
			reconciled.PaymentSummary[domain.SessionTxCashSale])
	}
	if _, err := svc.ReconcileSession(ctx, session.ID); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState reconciling twice, got %v", err)
	}
}

func TestSessionClosesWithDiscrepancy(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{})
	fx := seedCatalog(t, svc, ctx)

	session := openSession(t, svc, ctx, fx, "50.00")
	report, err := svc.EndSession(ctx, session.ID, domain.EndSessionRequest{EndingCash: dec("47.50")})
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	if report.Session.Status != domain.SessionClosed {
		t.Fatalf("a discrepancy must still close the session, got %s", report.Session.Status)
	}
	if !report.Session.Difference.Equal(dec("-2.50")) {
		t.Fatalf("expected difference -2.50, got %s", report.Session.Difference)
	}
}

func TestCheckoutPricingAndExactPayment(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{})
	fx := seedCatalog(t, svc, ctx)
	stockUp(t, svc, ctx, fx, 50, 0)
	session := openSession(t, svc, ctx, fx, "0")

	// 3 widgets at 4.00 with a 2.00 per-unit discount price at 2.00 each:
	// line 6.00, cart discount 1.00, 10% tax on 5.00 = 0.50, total 5.50.
	req := domain.CheckoutRequest{
		SessionID:    session.ID,
		CartDiscount: decp("1.00"),
		TaxRate:      dec("0.10"),
		Items: []domain.CheckoutItemRequest{
			{ProductID: fx.widget.ID, Quantity: dec("3"), ItemDiscount: decp("2.00")},
		},
		Payments: []domain.PaymentRequest{{Method: domain.PaymentCash, Amount: dec("5.49")}},
	}

	// A cent short is rejected, not rounded.
	if _, err := svc.Checkout(ctx, req); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for payment mismatch, got %v", err)
	}

	req.Payments = []domain.PaymentRequest{
		{Method: domain.PaymentCash, Amount: dec("3.00")},
		{Method: domain.PaymentCreditCard, Amount: dec("2.50")},
	}
	order, err := svc.Checkout(ctx, req)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !order.Subtotal.Equal(dec("6.00")) {
		t.Fatalf("expected subtotal 6.00 after item discounts, got %s", order.Subtotal)
	}
	if !order.TotalAmount.Equal(dec("5.50")) {
		t.Fatalf("expected total 5.50, got %s", order.TotalAmount)
	}
	if !order.DiscountAmount.Equal(dec("1.00")) {
		t.Fatalf("expected cart discount 1.00, got %s", order.DiscountAmount)
	}
	if len(order.Items) != 1 || !order.Items[0].DiscountAmount.Equal(dec("2.00")) {
		t.Fatalf("expected per-unit item discount 2.00, got %v", order.Items)
	}
	if !order.Items[0].LineTotal.Equal(dec("6.00")) {
		t.Fatalf("expected line total 6.00, got %s", order.Items[0].LineTotal)
	}
	if order.IsBackordered {
		t.Fatal("a fully stocked sale must not be flagged backordered")
	}
	if order.OrderNumber == "" {
		t.Fatal("expected an allocated order number")
	}
	if order.Status != domain.OrderCompleted {
		t.Fatalf("expected COMPLETED, got %s", order.Status)
	}

	item, err := svc.GetInventoryItem(ctx, fx.widget.ID, fx.location.ID)
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if !item.QuantityOnHand.Equal(dec("47")) {
		t.Fatalf("expected 47 on hand after sale, got %s", item.QuantityOnHand)
	}
	assertLedgerMatchesOnHand(t, svc, ctx, fx.widget.ID, fx.location.ID)
}

func TestCheckoutClampsOversizedDiscounts(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{})
	fx := seedCatalog(t, svc, ctx)
	stockUp(t, svc, ctx, fx, 10, 0)
	session := openSession(t, svc, ctx, fx, "0")

	// Discounts larger than the unit price are clamped to it, so the
	// order is free but never negative.
	order, err := svc.Checkout(ctx, domain.CheckoutRequest{
		SessionID:    session.ID,
		CartDiscount: decp("999"),
		Items: []domain.CheckoutItemRequest{
			{ProductID: fx.widget.ID, Quantity: dec("1"), ItemDiscount: decp("999")},
		},
		Payments: []domain.PaymentRequest{{Method: domain.PaymentCash, Amount: dec("0.01")}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation, a clamped-to-zero order costs 0, got order=%v err=%v", order, err)
	}
}

func TestCheckoutInsufficientStock(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{})
	fx := seedCatalog(t, svc, ctx)
	stockUp(t, svc, ctx, fx, 2, 0)
	session := openSession(t, svc, ctx, fx, "0")

	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		SessionID: session.ID,
		Items:     []domain.CheckoutItemRequest{{ProductID: fx.widget.ID, Quantity: dec("3")}},
		Payments:  []domain.PaymentRequest{{Method: domain.PaymentCash, Amount: dec("12.00")}},
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for insufficient stock, got %v", err)
	}

	// Untracked products sell regardless of stock.
	order, err := svc.Checkout(ctx, domain.CheckoutRequest{
		SessionID: session.ID,
		Items:     []domain.CheckoutItemRequest{{ProductID: fx.warranty.ID, Quantity: dec("1")}},
		Payments:  []domain.PaymentRequest{{Method: domain.PaymentCash, Amount: dec("9.99")}},
	})
	if err != nil {
		t.Fatalf("untracked checkout: %v", err)
	}
	if order.Status != domain.OrderCompleted {
		t.Fatalf("expected COMPLETED, got %s", order.Status)
	}
}

func TestSuspendAndResume(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{})
	fx := seedCatalog(t, svc, ctx)
	stockUp(t, svc, ctx, fx, 10, 0)
	session := openSession(t, svc, ctx, fx, "0")

	// The suspended cart carries the prices quoted at the terminal, not
	// the catalog price.
	suspended, err := svc.SuspendOrder(ctx, domain.SuspendOrderRequest{
		SessionID: session.ID,
		Items: []domain.SuspendItemRequest{
			{ProductID: fx.widget.ID, Quantity: dec("6"), UnitPrice: dec("3.50"), DiscountAmount: dec("0.50")},
		},
	})
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if suspended.Status != domain.OrderSuspended {
		t.Fatalf("expected SUSPENDED, got %s", suspended.Status)
	}
	if !suspended.Subtotal.Equal(dec("18.00")) {
		t.Fatalf("expected quoted subtotal 18.00, got %s", suspended.Subtotal)
	}
	if len(suspended.Items) != 1 || !suspended.Items[0].UnitPrice.Equal(dec("3.50")) {
		t.Fatalf("suspend must keep the quoted unit price, got %v", suspended.Items)
	}

	// Suspension allocates without touching on-hand.
	item, _ := svc.GetInventoryItem(ctx, fx.widget.ID, fx.location.ID)
	if !item.QuantityOnHand.Equal(dec("10")) {
		t.Fatalf("suspend must not deduct on-hand, got %s", item.QuantityOnHand)
	}
	if !item.QuantityAllocated.Equal(dec("6")) {
		t.Fatalf("expected 6 allocated, got %s", item.QuantityAllocated)
	}

	// Only 4 are available; selling 5 fails.
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		SessionID: session.ID,
		Items:     []domain.CheckoutItemRequest{{ProductID: fx.widget.ID, Quantity: dec("5")}},
		Payments:  []domain.PaymentRequest{{Method: domain.PaymentCash, Amount: dec("20.00")}},
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation selling allocated stock, got %v", err)
	}

	listed, err := svc.ListSuspendedOrders(ctx, fx.location.ID)
	if err != nil {
		t.Fatalf("list suspended: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != suspended.ID {
		t.Fatalf("expected the suspended order in the list, got %v", listed)
	}

	resumed, err := svc.ResumeOrder(ctx, suspended.ID, session.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(resumed.Items) != 1 || !resumed.Items[0].Quantity.Equal(dec("6")) {
		t.Fatalf("resumed cart mismatch: %v", resumed.Items)
	}
	if !resumed.Items[0].UnitPrice.Equal(dec("3.50")) {
		t.Fatalf("resume must return the quoted price, got %s", resumed.Items[0].UnitPrice)
	}

	// Allocation is released and the order is gone.
	item, _ = svc.GetInventoryItem(ctx, fx.widget.ID, fx.location.ID)
	if !item.QuantityAllocated.IsZero() {
		t.Fatalf("expected zero allocation after resume, got %s", item.QuantityAllocated)
	}
	if _, err := svc.GetOrder(ctx, suspended.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for resumed order, got %v", err)
	}

	// Losing the race for an already-claimed order reports Conflict.
	if _, err := svc.ResumeOrder(ctx, suspended.ID, session.ID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict resuming twice, got %v", err)
	}
}

func TestCrossTenantIsolation(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{})
	fx := seedCatalog(t, svc, ctx)

	otherCtx := WithActor(context.Background(), domain.Actor{
		UserID: "usr-other", TenantID: "tenant-2", Role: "manager",
	})
	if _, err := svc.GetProduct(otherCtx, fx.widget.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound across tenants, got %v", err)
	}
	if _, err := svc.GetPurchaseOrder(otherCtx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOrderNumbersAreSequentialPerTenant(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{})
	fx := seedCatalog(t, svc, ctx)
	stockUp(t, svc, ctx, fx, 10, 0)
	session := openSession(t, svc, ctx, fx, "0")

	first, err := svc.Checkout(ctx, domain.CheckoutRequest{
		SessionID: session.ID,
		Items:     []domain.CheckoutItemRequest{{ProductID: fx.widget.ID, Quantity: dec("1")}},
		Payments:  []domain.PaymentRequest{{Method: domain.PaymentCash, Amount: dec("4.00")}},
	})
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	second, err := svc.Checkout(ctx, domain.CheckoutRequest{
		SessionID: session.ID,
		Items:     []domain.CheckoutItemRequest{{ProductID: fx.widget.ID, Quantity: dec("1")}},
		Payments:  []domain.PaymentRequest{{Method: domain.PaymentCash, Amount: dec("4.00")}},
	})
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if first.OrderNumber == second.OrderNumber {
		t.Fatalf("order numbers must be unique, both %s", first.OrderNumber)
	}
}

func TestPurchaseOrderCloseShort(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{})
	fx := seedCatalog(t, svc, ctx)

	po, err := svc.CreatePurchaseOrder(ctx, domain.CreatePurchaseOrderRequest{
		SupplierID: fx.supplier.ID,
		LocationID: fx.location.ID,
		Items: []domain.CreatePurchaseOrderItemRequest{
			{ProductID: fx.widget.ID, QuantityOrdered: dec("10"), UnitCost: dec("2.00")},
		},
	})
	if err != nil {
		t.Fatalf("create po: %v", err)
	}
	sendPO(t, svc, ctx, po.ID)

	if _, err := svc.ReceivePurchaseOrder(ctx, po.ID, []domain.ReceiveItemRequest{
		{PurchaseOrderItemID: po.Items[0].ID, QuantityReceived: dec("6")},
	}); err != nil {
		t.Fatalf("partial receive: %v", err)
	}

	item, err := svc.GetInventoryItem(ctx, fx.widget.ID, fx.location.ID)
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if !item.QuantityIncoming.Equal(dec("4")) {
		t.Fatalf("expected 4 incoming before close, got %s", item.QuantityIncoming)
	}

	// The supplier will not ship the remainder; closing short releases the
	// incoming quantity and keeps the received stock.
	closed, err := svc.TransitionPurchaseOrder(ctx, po.ID, domain.POStatusClosed)
	if err != nil {
		t.Fatalf("close short: %v", err)
	}
	if closed.Status != domain.POStatusClosed {
		t.Fatalf("expected CLOSED, got %s", closed.Status)
	}
	item, _ = svc.GetInventoryItem(ctx, fx.widget.ID, fx.location.ID)
	if !item.QuantityIncoming.IsZero() {
		t.Fatalf("close short must release incoming, got %s", item.QuantityIncoming)
	}
	if !item.QuantityOnHand.Equal(dec("6")) {
		t.Fatalf("close short must keep received stock, got %s", item.QuantityOnHand)
	}

	if _, err := svc.ReceivePurchaseOrder(ctx, po.ID, []domain.ReceiveItemRequest{
		{PurchaseOrderItemID: po.Items[0].ID, QuantityReceived: dec("1")},
	}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState receiving a CLOSED order, got %v", err)
	}

	// SENT orders can also close short before anything arrives.
	untouched, err := svc.CreatePurchaseOrder(ctx, domain.CreatePurchaseOrderRequest{
		SupplierID: fx.supplier.ID,
		LocationID: fx.location.ID,
		Items: []domain.CreatePurchaseOrderItemRequest{
			{ProductID: fx.widget.ID, QuantityOrdered: dec("3"), UnitCost: dec("2.00")},
		},
	})
	if err != nil {
		t.Fatalf("create second po: %v", err)
	}
	sendPO(t, svc, ctx, untouched.ID)
	if _, err := svc.TransitionPurchaseOrder(ctx, untouched.ID, domain.POStatusClosed); err != nil {
		t.Fatalf("close from SENT: %v", err)
	}
	item, _ = svc.GetInventoryItem(ctx, fx.widget.ID, fx.location.ID)
	if !item.QuantityIncoming.IsZero() {
		t.Fatalf("closing a SENT order must release its incoming, got %s", item.QuantityIncoming)
	}
}

func TestPurchaseOrderUpdateContract(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{})
	fx := seedCatalog(t, svc, ctx)

	po, err := svc.CreatePurchaseOrder(ctx, domain.CreatePurchaseOrderRequest{
		SupplierID: fx.supplier.ID,
		LocationID: fx.location.ID,
		Items: []domain.CreatePurchaseOrderItemRequest{
			{ProductID: fx.widget.ID, QuantityOrdered: dec("10"), UnitCost: dec("2.50"), TaxRate: dec("0.10")},
		},
	})
	if err != nil {
		t.Fatalf("create po: %v", err)
	}
	// Stored amounts: subtotal 25.00, tax 2.50, shipping 0.

	if _, err := svc.UpdatePurchaseOrder(ctx, po.ID, domain.UpdatePurchaseOrderRequest{
		ShippingCost: decp("-1"),
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for negative shipping, got %v", err)
	}

	// Shipping is editable while the order is a draft; the total is
	// recomputed from the stored subtotal and tax.
	updated, err := svc.UpdatePurchaseOrder(ctx, po.ID, domain.UpdatePurchaseOrderRequest{
		ShippingCost: decp("5.00"),
	})
	if err != nil {
		t.Fatalf("update shipping in draft: %v", err)
	}
	if !updated.ShippingCost.Equal(dec("5.00")) {
		t.Fatalf("expected shipping 5.00, got %s", updated.ShippingCost)
	}
	if !updated.TotalAmount.Equal(dec("32.50")) {
		t.Fatalf("expected total 32.50, got %s", updated.TotalAmount)
	}
	if !updated.Subtotal.Equal(dec("25.00")) {
		t.Fatalf("update must not touch the subtotal, got %s", updated.Subtotal)
	}

	sendPO(t, svc, ctx, po.ID)

	// Notes stay editable in any status.
	notes := "carrier confirmed"
	updated, err = svc.UpdatePurchaseOrder(ctx, po.ID, domain.UpdatePurchaseOrderRequest{Notes: &notes})
	if err != nil {
		t.Fatalf("update notes on SENT: %v", err)
	}
	if updated.Notes != notes {
		t.Fatalf("expected notes %q, got %q", notes, updated.Notes)
	}
	if updated.Status != domain.POStatusSent {
		t.Fatalf("update must not change status, got %s", updated.Status)
	}

	// Shipping is frozen once the order leaves DRAFT.
	if _, err := svc.UpdatePurchaseOrder(ctx, po.ID, domain.UpdatePurchaseOrderRequest{
		ShippingCost: decp("9.00"),
	}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for shipping edit on SENT, got %v", err)
	}

	// An empty patch is a no-op, not an error.
	unchanged, err := svc.UpdatePurchaseOrder(ctx, po.ID, domain.UpdatePurchaseOrderRequest{})
	if err != nil {
		t.Fatalf("empty patch: %v", err)
	}
	if unchanged.Notes != notes || !unchanged.TotalAmount.Equal(dec("32.50")) {
		t.Fatalf("empty patch must change nothing, got notes=%q total=%s", unchanged.Notes, unchanged.TotalAmount)
	}
}

func TestCheckoutPercentDiscountsShippingAndOverride(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{})
	fx := seedCatalog(t, svc, ctx)
	stockUp(t, svc, ctx, fx, 50, 0)
	session := openSession(t, svc, ctx, fx, "0")

	// 25 widgets at 4.00 = 100.00, 10% cart discount, no tax or shipping:
	// the customer pays exactly 90.00.
	req := domain.CheckoutRequest{
		SessionID:           session.ID,
		CartDiscountPercent: decp("0.10"),
		Items: []domain.CheckoutItemRequest{
			{ProductID: fx.widget.ID, Quantity: dec("25")},
		},
		Payments: []domain.PaymentRequest{{Method: domain.PaymentCash, Amount: dec("89.99")}},
	}
	if _, err := svc.Checkout(ctx, req); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation paying 89.99 against 90.00, got %v", err)
	}
	req.Payments = []domain.PaymentRequest{{Method: domain.PaymentCash, Amount: dec("90.00")}}
	order, err := svc.Checkout(ctx, req)
	if err != nil {
		t.Fatalf("percent discount checkout: %v", err)
	}
	if !order.TotalAmount.Equal(dec("90.00")) {
		t.Fatalf("expected total 90.00, got %s", order.TotalAmount)
	}
	if !order.DiscountAmount.Equal(dec("10.00")) {
		t.Fatalf("expected cart discount 10.00, got %s", order.DiscountAmount)
	}

	// A negotiated unit price overrides the catalog; a 50% item discount
	// applies per unit, and shipping lands on top of the taxed amount.
	order, err = svc.Checkout(ctx, domain.CheckoutRequest{
		SessionID:    session.ID,
		ShippingCost: dec("2.00"),
		Items: []domain.CheckoutItemRequest{
			{ProductID: fx.widget.ID, Quantity: dec("2"), UnitPrice: decp("3.00"), ItemDiscountPercent: decp("0.5")},
		},
		Payments: []domain.PaymentRequest{{Method: domain.PaymentCash, Amount: dec("5.00")}},
	})
	if err != nil {
		t.Fatalf("override checkout: %v", err)
	}
	if !order.Subtotal.Equal(dec("3.00")) {
		t.Fatalf("expected subtotal 3.00 from 2 units at 1.50, got %s", order.Subtotal)
	}
	if !order.ShippingCost.Equal(dec("2.00")) {
		t.Fatalf("expected shipping 2.00 on the order, got %s", order.ShippingCost)
	}
	if !order.TotalAmount.Equal(dec("5.00")) {
		t.Fatalf("expected total 5.00, got %s", order.TotalAmount)
	}
	if !order.Items[0].UnitPrice.Equal(dec("3.00")) {
		t.Fatalf("expected override price 3.00, got %s", order.Items[0].UnitPrice)
	}
	if !order.Items[0].DiscountAmount.Equal(dec("1.50")) {
		t.Fatalf("expected per-unit discount 1.50, got %s", order.Items[0].DiscountAmount)
	}
}

func TestReceivingSkipsUntrackedAndNonPositiveLines(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{})
	fx := seedCatalog(t, svc, ctx)

	po, err := svc.CreatePurchaseOrder(ctx, domain.CreatePurchaseOrderRequest{
		SupplierID: fx.supplier.ID,
		LocationID: fx.location.ID,
		Items: []domain.CreatePurchaseOrderItemRequest{
			{ProductID: fx.warranty.ID, QuantityOrdered: dec("5"), UnitCost: dec("6.00")},
			{ProductID: fx.widget.ID, QuantityOrdered: dec("5"), UnitCost: dec("2.00")},
		},
	})
	if err != nil {
		t.Fatalf("create po: %v", err)
	}
	sendPO(t, svc, ctx, po.ID)

	// A pass that only names the untracked line books nothing and leaves
	// the order as it was.
	received, err := svc.ReceivePurchaseOrder(ctx, po.ID, []domain.ReceiveItemRequest{
		{PurchaseOrderItemID: po.Items[0].ID, QuantityReceived: dec("5")},
	})
	if err != nil {
		t.Fatalf("untracked-only pass: %v", err)
	}
	if received.Status != domain.POStatusSent {
		t.Fatalf("untracked-only pass must leave status unchanged, got %s", received.Status)
	}
	ledger, err := svc.ListInventoryTransactions(ctx, fx.warranty.ID, fx.location.ID, 10)
	if err != nil {
		t.Fatalf("list warranty ledger: %v", err)
	}
	if len(ledger) != 0 {
		t.Fatalf("untracked product must never hit the ledger, got %d rows", len(ledger))
	}

	// Zero and negative quantities are skipped, not rejected.
	received, err = svc.ReceivePurchaseOrder(ctx, po.ID, []domain.ReceiveItemRequest{
		{PurchaseOrderItemID: po.Items[1].ID, QuantityReceived: dec("0")},
	})
	if err != nil {
		t.Fatalf("zero-quantity pass: %v", err)
	}
	if received.Status != domain.POStatusSent {
		t.Fatalf("zero-quantity pass must leave status unchanged, got %s", received.Status)
	}

	// A mixed pass books only the tracked positive line.
	received, err = svc.ReceivePurchaseOrder(ctx, po.ID, []domain.ReceiveItemRequest{
		{PurchaseOrderItemID: po.Items[0].ID, QuantityReceived: dec("5")},
		{PurchaseOrderItemID: po.Items[1].ID, QuantityReceived: dec("5")},
	})
	if err != nil {
		t.Fatalf("mixed pass: %v", err)
	}
	if received.Status != domain.POStatusPartiallyReceived {
		t.Fatalf("the untracked line can never arrive, expected PARTIALLY_RECEIVED, got %s", received.Status)
	}
	item, err := svc.GetInventoryItem(ctx, fx.widget.ID, fx.location.ID)
	if err != nil {
		t.Fatalf("get widget inventory: %v", err)
	}
	if !item.QuantityOnHand.Equal(dec("5")) {
		t.Fatalf("expected 5 widgets on hand, got %s", item.QuantityOnHand)
	}

	// Unknown line IDs still reject the whole pass.
	if _, err := svc.ReceivePurchaseOrder(ctx, po.ID, []domain.ReceiveItemRequest{
		{PurchaseOrderItemID: "poi-missing", QuantityReceived: dec("1")},
	}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown line, got %v", err)
	}
}

func TestReceiveToleranceSumsAcrossLines(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{})
	fx := seedCatalog(t, svc, ctx)

	bolt, err := svc.CreateProduct(ctx, domain.Product{
		SKU: "BOLT", Name: "Bolt", BasePrice: dec("0.50"), IsStockTracked: true,
	})
	if err != nil {
		t.Fatalf("create bolt: %v", err)
	}

	po, err := svc.CreatePurchaseOrder(ctx, domain.CreatePurchaseOrderRequest{
		SupplierID: fx.supplier.ID,
		LocationID: fx.location.ID,
		Items: []domain.CreatePurchaseOrderItemRequest{
			{ProductID: fx.widget.ID, QuantityOrdered: dec("1"), UnitCost: dec("2.00")},
			{ProductID: bolt.ID, QuantityOrdered: dec("1"), UnitCost: dec("0.25")},
		},
	})
	if err != nil {
		t.Fatalf("create po: %v", err)
	}
	sendPO(t, svc, ctx, po.ID)

	// Each line is short by 0.000008, inside a per-line tolerance, but the
	// shortfalls add up to 0.000016 across the order, so it stays partial.
	received, err := svc.ReceivePurchaseOrder(ctx, po.ID, []domain.ReceiveItemRequest{
		{PurchaseOrderItemID: po.Items[0].ID, QuantityReceived: dec("0.999992")},
		{PurchaseOrderItemID: po.Items[1].ID, QuantityReceived: dec("0.999992")},
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if received.Status != domain.POStatusPartiallyReceived {
		t.Fatalf("expected PARTIALLY_RECEIVED with summed shortfall 0.000016, got %s", received.Status)
	}

	// Topping up one line pulls the summed shortfall under the tolerance.
	received, err = svc.ReceivePurchaseOrder(ctx, po.ID, []domain.ReceiveItemRequest{
		{PurchaseOrderItemID: po.Items[0].ID, QuantityReceived: dec("0.000008")},
	})
	if err != nil {
		t.Fatalf("top-up: %v", err)
	}
	if received.Status != domain.POStatusFullyReceived {
		t.Fatalf("expected FULLY_RECEIVED with summed shortfall 0.000008, got %s", received.Status)
	}
}

func TestSessionOwnership(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{})
	fx := seedCatalog(t, svc, ctx)
	stockUp(t, svc, ctx, fx, 10, 0)
	session := openSession(t, svc, ctx, fx, "50.00")

	suspended, err := svc.SuspendOrder(ctx, domain.SuspendOrderRequest{
		SessionID: session.ID,
		Items: []domain.SuspendItemRequest{
			{ProductID: fx.widget.ID, Quantity: dec("1"), UnitPrice: dec("4.00")},
		},
	})
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}

	// Same tenant, different cashier. Another user's session reads as
	// missing, not forbidden.
	otherCtx := WithActor(context.Background(), domain.Actor{
		UserID: "usr-intruder", TenantID: testTenant, Role: "cashier",
	})

	if _, err := svc.EndSession(otherCtx, session.ID, domain.EndSessionRequest{
		EndingCash: dec("50.00"),
	}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound ending another user's session, got %v", err)
	}
	if _, err := svc.Checkout(otherCtx, domain.CheckoutRequest{
		SessionID: session.ID,
		Items:     []domain.CheckoutItemRequest{{ProductID: fx.widget.ID, Quantity: dec("1")}},
		Payments:  []domain.PaymentRequest{{Method: domain.PaymentCash, Amount: dec("4.00")}},
	}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound checking out on another user's session, got %v", err)
	}
	if _, err := svc.RecordCashTransaction(otherCtx, session.ID, domain.CashTransactionRequest{
		Type: domain.SessionTxPayIn, Amount: dec("5.00"),
	}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound recording cash on another user's session, got %v", err)
	}
	if _, err := svc.SuspendOrder(otherCtx, domain.SuspendOrderRequest{
		SessionID: session.ID,
		Items: []domain.SuspendItemRequest{
			{ProductID: fx.widget.ID, Quantity: dec("1"), UnitPrice: dec("4.00")},
		},
	}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound suspending on another user's session, got %v", err)
	}
	if _, err := svc.ResumeOrder(otherCtx, suspended.ID, session.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound resuming into another user's session, got %v", err)
	}

	// The owner can still work the session afterwards.
	if _, err := svc.ResumeOrder(ctx, suspended.ID, session.ID); err != nil {
		t.Fatalf("owner resume after rejected attempts: %v", err)
	}
}

func TestBackorderedCheckout(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{AllowBackorder: true, AllowNegativeStock: true})
	fx := seedCatalog(t, svc, ctx)
	stockUp(t, svc, ctx, fx, 2, 0)
	session := openSession(t, svc, ctx, fx, "0")

	order, err := svc.Checkout(ctx, domain.CheckoutRequest{
		SessionID: session.ID,
		Items:     []domain.CheckoutItemRequest{{ProductID: fx.widget.ID, Quantity: dec("3")}},
		Payments:  []domain.PaymentRequest{{Method: domain.PaymentCash, Amount: dec("12.00")}},
	})
	if err != nil {
		t.Fatalf("backordered checkout: %v", err)
	}
	if !order.IsBackordered {
		t.Fatal("selling past available stock must flag the order backordered")
	}
	if order.Status != domain.OrderCompleted {
		t.Fatalf("expected COMPLETED, got %s", order.Status)
	}

	item, err := svc.GetInventoryItem(ctx, fx.widget.ID, fx.location.ID)
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if !item.QuantityOnHand.Equal(dec("-1")) {
		t.Fatalf("expected -1 on hand after backordered sale, got %s", item.QuantityOnHand)
	}
	assertLedgerMatchesOnHand(t, svc, ctx, fx.widget.ID, fx.location.ID)
}

func TestBackorderWithoutNegativeStock(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{AllowBackorder: true})
	fx := seedCatalog(t, svc, ctx)
	stockUp(t, svc, ctx, fx, 2, 0)
	session := openSession(t, svc, ctx, fx, "0")

	// Backorder lifts the availability check, but the on-hand balance is
	// still not allowed below zero.
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		SessionID: session.ID,
		Items:     []domain.CheckoutItemRequest{{ProductID: fx.widget.ID, Quantity: dec("3")}},
		Payments:  []domain.PaymentRequest{{Method: domain.PaymentCash, Amount: dec("12.00")}},
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation from the on-hand guard, got %v", err)
	}
	item, _ := svc.GetInventoryItem(ctx, fx.widget.ID, fx.location.ID)
	if !item.QuantityOnHand.Equal(dec("2")) {
		t.Fatalf("failed checkout must not change stock, got %s", item.QuantityOnHand)
	}
}

func TestNegativeStockWithoutBackorder(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{AllowNegativeStock: true})
	fx := seedCatalog(t, svc, ctx)
	stockUp(t, svc, ctx, fx, 2, 0)
	session := openSession(t, svc, ctx, fx, "0")

	// Negative stock alone does not lift the availability check.
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		SessionID: session.ID,
		Items:     []domain.CheckoutItemRequest{{ProductID: fx.widget.ID, Quantity: dec("3")}},
		Payments:  []domain.PaymentRequest{{Method: domain.PaymentCash, Amount: dec("12.00")}},
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for insufficient stock, got %v", err)
	}
}

func TestConcurrentResumeSingleWinner(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{})
	fx := seedCatalog(t, svc, ctx)
	stockUp(t, svc, ctx, fx, 10, 0)
	session := openSession(t, svc, ctx, fx, "0")

	suspended, err := svc.SuspendOrder(ctx, domain.SuspendOrderRequest{
		SessionID: session.ID,
		Items: []domain.SuspendItemRequest{
			{ProductID: fx.widget.ID, Quantity: dec("4"), UnitPrice: dec("4.00")},
		},
	})
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}

	results := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.ResumeOrder(ctx, suspended.ID, session.ID)
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, store.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected resume error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one winner and one conflict, got wins=%d conflicts=%d", wins, conflicts)
	}

	// The allocation is released exactly once.
	item, err := svc.GetInventoryItem(ctx, fx.widget.ID, fx.location.ID)
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if !item.QuantityAllocated.IsZero() {
		t.Fatalf("expected zero allocation after the race, got %s", item.QuantityAllocated)
	}
}

// assertLedgerMatchesOnHand checks the core inventory invariant: the sum of
// ledger quantity changes equals the aggregate on-hand balance.
func assertLedgerMatchesOnHand(t *testing.T, svc *Service, ctx context.Context, productID, locationID string) {
	t.Helper()
	entries, err := svc.ListInventoryTransactions(ctx, productID, locationID, 1000)
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	sum := decimal.Zero
	for _, entry := range entries {
		sum = sum.Add(entry.QuantityChange)
	}
	item, err := svc.GetInventoryItem(ctx, productID, locationID)
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if !sum.Equal(item.QuantityOnHand) {
		t.Fatalf("ledger sum %s != on hand %s", sum, item.QuantityOnHand)
	}
}
