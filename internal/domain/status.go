package domain

// POStatus is the lifecycle state of a purchase order.
type POStatus string

const (
	POStatusDraft             POStatus = "DRAFT"
	POStatusPendingApproval   POStatus = "PENDING_APPROVAL"
	POStatusApproved          POStatus = "APPROVED"
	POStatusSent              POStatus = "SENT"
	POStatusPartiallyReceived POStatus = "PARTIALLY_RECEIVED"
	POStatusFullyReceived     POStatus = "FULLY_RECEIVED"
	POStatusClosed            POStatus = "CLOSED"
	POStatusCancelled         POStatus = "CANCELLED"
)

// poTransitions enumerates the allowed edges. Receiving moves between the
// two received states directly and is handled by the receiving path, so the
// map includes those edges too. CLOSED from SENT or PARTIALLY_RECEIVED is a
// close-short: the order stops receiving without reaching full quantity.
var poTransitions = map[POStatus][]POStatus{
	POStatusDraft:             {POStatusPendingApproval, POStatusCancelled},
	POStatusPendingApproval:   {POStatusApproved, POStatusDraft, POStatusCancelled},
	POStatusApproved:          {POStatusSent, POStatusCancelled},
	POStatusSent:              {POStatusPartiallyReceived, POStatusFullyReceived, POStatusClosed, POStatusCancelled},
	POStatusPartiallyReceived: {POStatusPartiallyReceived, POStatusFullyReceived, POStatusClosed, POStatusCancelled},
	POStatusFullyReceived:     {POStatusClosed},
	POStatusClosed:            {},
	POStatusCancelled:         {},
}

// CanTransition reports whether moving from s to target is allowed.
// A no-op transition (s == target) is always allowed.
func (s POStatus) CanTransition(target POStatus) bool {
	if s == target {
		return true
	}
	for _, next := range poTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Receivable reports whether stock may be received against this status.
func (s POStatus) Receivable() bool {
	return s == POStatusSent || s == POStatusPartiallyReceived
}

type SessionStatus string

const (
	SessionOpen       SessionStatus = "OPEN"
	SessionClosed     SessionStatus = "CLOSED"
	SessionReconciled SessionStatus = "RECONCILED"
)

type OrderStatus string

const (
	OrderCompleted OrderStatus = "COMPLETED"
	OrderSuspended OrderStatus = "SUSPENDED"
)

type SessionTxType string

const (
	SessionTxPayIn             SessionTxType = "PAY_IN"
	SessionTxPayOut            SessionTxType = "PAY_OUT"
	SessionTxCashSale          SessionTxType = "CASH_SALE"
	SessionTxCardSale          SessionTxType = "CARD_SALE"
	SessionTxMobileMoneySale   SessionTxType = "MOBILE_MONEY_SALE"
	SessionTxCheckSale         SessionTxType = "CHECK_SALE"
	SessionTxBankTransferSale  SessionTxType = "BANK_TRANSFER_SALE"
	SessionTxOtherSale         SessionTxType = "OTHER_SALE"
	SessionTxCashRefund        SessionTxType = "CASH_REFUND"
)

// CashIn reports whether this type adds to the drawer during replay.
func (t SessionTxType) CashIn() bool {
	return t == SessionTxPayIn || t == SessionTxCashSale
}

// CashOut reports whether this type removes from the drawer during replay.
func (t SessionTxType) CashOut() bool {
	return t == SessionTxPayOut || t == SessionTxCashRefund
}

type InventoryTxType string

const (
	InventoryTxPurchaseReceipt InventoryTxType = "PURCHASE_RECEIPT"
	InventoryTxSale            InventoryTxType = "SALE"
	InventoryTxAdjustment      InventoryTxType = "ADJUSTMENT"
	InventoryTxReturn          InventoryTxType = "RETURN"
)

type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "CASH"
	PaymentCreditCard   PaymentMethod = "CREDIT_CARD"
	PaymentDebitCard    PaymentMethod = "DEBIT_CARD"
	PaymentMobileMoney  PaymentMethod = "MOBILE_MONEY"
	PaymentCheck        PaymentMethod = "CHECK"
	PaymentBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentOther        PaymentMethod = "OTHER"
)

// SessionTxType maps a tender to the session transaction recorded for it.
func (m PaymentMethod) SessionTxType() (SessionTxType, bool) {
	switch m {
	case PaymentCash:
		return SessionTxCashSale, true
	case PaymentCreditCard, PaymentDebitCard:
		return SessionTxCardSale, true
	case PaymentMobileMoney:
		return SessionTxMobileMoneySale, true
	case PaymentCheck:
		return SessionTxCheckSale, true
	case PaymentBankTransfer:
		return SessionTxBankTransferSale, true
	case PaymentOther:
		return SessionTxOtherSale, true
	default:
		return "", false
	}
}
