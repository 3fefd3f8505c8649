package models

import "time"

// Event types
const (
	EventTypeOrderPlaced        = "ORDER_PLACED"
	EventTypeOrderPaid          = "ORDER_PAID"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeNotification       = "NOTIFICATION"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published after checkout commits
type OrderPlacedEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	UserID        int64           `json:"user_id"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	TotalAmount   int64           `json:"total_amount"`
	Lines         []OrderLineData `json:"lines"`
}

// OrderPaidEvent published on the first transition into Paid
type OrderPaidEvent struct {
	BaseEvent
	OrderID       int64  `json:"order_id"`
	UserID        int64  `json:"user_id"`
	Gateway       string `json:"gateway"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	PointsAwarded int    `json:"points_awarded"`
}

// OrderStatusChangedEvent published for failure, cancel and expiry transitions
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID int64       `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
	Reason  string      `json:"reason"`
}

// NotificationEvent is the fire-and-forget message for admin or customer channels
type NotificationEvent struct {
	BaseEvent
	Channel       string `json:"channel"`
	Message       string `json:"message"`
	Link          string `json:"link"`
	CorrelationID string `json:"correlation_id"`
}

type OrderLineData struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}
