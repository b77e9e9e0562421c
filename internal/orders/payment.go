package orders

import (
	"fmt"
	"strings"

	"jewellery-storefront/internal/apperr"
)

type MethodKind string

const (
	MethodCashOnDelivery MethodKind = "CASH_ON_DELIVERY"
	MethodEWallet        MethodKind = "E_WALLET"
	MethodBankTransfer   MethodKind = "BANK_TRANSFER"
)

// PaymentEvidence is the proof a customer submits for a non-cash payment. An admin
// verifies it by hand.
type PaymentEvidence struct {
	TransactionID string `json:"transaction_id"`
	ScreenshotURL string `json:"screenshot_url"`
	Gateway       string `json:"gateway,omitempty"`
}

func (e PaymentEvidence) validate() error {
	if strings.TrimSpace(e.TransactionID) == "" || strings.TrimSpace(e.ScreenshotURL) == "" {
		return fmt.Errorf("%w: payment evidence required", apperr.ErrInvalidArgument)
	}
	return nil
}

// PaymentMethod is one of CashOnDelivery, EWallet or BankTransfer. Only the non-cash
// variants carry evidence.
type PaymentMethod interface {
	Kind() MethodKind
	isPaymentMethod()
}

type CashOnDelivery struct{}

type EWallet struct {
	Evidence PaymentEvidence
}

type BankTransfer struct {
	Evidence PaymentEvidence
}

func (CashOnDelivery) Kind() MethodKind { return MethodCashOnDelivery }
func (EWallet) Kind() MethodKind        { return MethodEWallet }
func (BankTransfer) Kind() MethodKind   { return MethodBankTransfer }

func (CashOnDelivery) isPaymentMethod() {}
func (EWallet) isPaymentMethod()        {}
func (BankTransfer) isPaymentMethod()   {}

// NewPaymentMethod builds the variant for kind. Evidence is dropped for cash on delivery;
// for the other variants it is checked when the order is placed.
func NewPaymentMethod(kind MethodKind, evidence PaymentEvidence) (PaymentMethod, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", apperr.ErrInvalidArgument, kind)
	}
	switch kind {
	case MethodEWallet:
		return EWallet{Evidence: evidence}, nil
	case MethodBankTransfer:
		return BankTransfer{Evidence: evidence}, nil
	default:
		return CashOnDelivery{}, nil
	}
}

// evidenceOf returns the evidence carried by m, if any.
func evidenceOf(m PaymentMethod) (PaymentEvidence, bool) {
	switch v := m.(type) {
	case EWallet:
		return v.Evidence, true
	case BankTransfer:
		return v.Evidence, true
	default:
		return PaymentEvidence{}, false
	}
}

func (k MethodKind) Valid() bool {
	switch k {
	case MethodCashOnDelivery, MethodEWallet, MethodBankTransfer:
		return true
	}
	return false
}
