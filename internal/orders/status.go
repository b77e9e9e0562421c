package orders

import (
	"fmt"
	"slices"

	"jewellery-storefront/internal/apperr"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusConfirmed  OrderStatus = "CONFIRMED"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusShipped    OrderStatus = "SHIPPED"
	StatusDelivered  OrderStatus = "DELIVERED"
	StatusCancelled  OrderStatus = "CANCELLED"
)

// orderTransitions lists the statuses reachable from each non-terminal status.
var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusCancelled},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	return slices.Contains(orderTransitions[s], next)
}

type PaymentStatus string

const (
	PaymentPending              PaymentStatus = "PENDING"
	PaymentVerificationRequired PaymentStatus = "VERIFICATION_REQUIRED"
	PaymentPaid                 PaymentStatus = "PAID"
	PaymentFailed               PaymentStatus = "FAILED"
	PaymentRefunded             PaymentStatus = "REFUNDED"
)

type paymentAction string

const (
	actionSubmitEvidence paymentAction = "submit evidence"
	actionVerify         paymentAction = "verify"
	actionReject         paymentAction = "reject"
	actionCollect        paymentAction = "collect on delivery"
	actionFail           paymentAction = "mark failed"
	actionRefund         paymentAction = "refund"
)

var paymentTransitions = map[PaymentStatus]map[paymentAction]PaymentStatus{
	PaymentPending: {
		actionSubmitEvidence: PaymentVerificationRequired,
		actionCollect:        PaymentPaid,
		actionFail:           PaymentFailed,
	},
	PaymentVerificationRequired: {
		actionVerify: PaymentPaid,
		actionReject: PaymentPending,
	},
	PaymentPaid: {
		actionRefund: PaymentRefunded,
	},
}

// nextPayment applies action to s or fails with ErrInvalidState.
func nextPayment(s PaymentStatus, action paymentAction) (PaymentStatus, error) {
	next, ok := paymentTransitions[s][action]
	if !ok {
		return s, fmt.Errorf("%w: cannot %s a payment in status %s", apperr.ErrInvalidState, action, s)
	}
	return next, nil
}
