package models

type OrderStatus string

const (
	OrderStatusCreated             OrderStatus = "CREATED"
	OrderStatusAwaitingPayment     OrderStatus = "AWAITING_PAYMENT"
	OrderStatusAwaitingFulfillment OrderStatus = "AWAITING_FULFILLMENT"
	OrderStatusPaid                OrderStatus = "PAID"
	OrderStatusPaymentFailed       OrderStatus = "PAYMENT_FAILED"
	OrderStatusCancelled           OrderStatus = "CANCELLED"
	OrderStatusExpired             OrderStatus = "EXPIRED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated: {
		OrderStatusAwaitingPayment,
		OrderStatusAwaitingFulfillment,
		OrderStatusCancelled,
	},
	OrderStatusAwaitingPayment: {
		OrderStatusPaid,
		OrderStatusPaymentFailed,
		OrderStatusCancelled,
		OrderStatusExpired,
	},
	OrderStatusAwaitingFulfillment: {
		OrderStatusPaid,
		OrderStatusCancelled,
	},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusPaymentFailed, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// CanTransitionTo only allows Pending to move forward.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return s == PaymentStatusPending && (next == PaymentStatusCompleted || next == PaymentStatusFailed)
}
