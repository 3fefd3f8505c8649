package service

import (
	"context"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/shipping"
)

// Notifier delivers best-effort human-readable messages. Implementations
// must not block the caller on delivery failures.
type Notifier interface {
	Notify(ctx context.Context, channel, message, link, correlationID string)
}

type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// CheckoutLocker is the fast-path per-user checkout guard. Row locks in the
// database remain the authority.
type CheckoutLocker interface {
	AcquireCheckoutLock(ctx context.Context, userID int64, ttl time.Duration) (string, bool, error)
	ReleaseCheckoutLock(ctx context.Context, userID int64, token string) error
}

// CallbackMarker short-circuits replayed callbacks before a database
// transaction is opened.
type CallbackMarker interface {
	IsCallbackProcessed(ctx context.Context, gateway, transactionID string) (bool, error)
	MarkCallbackProcessed(ctx context.Context, gateway, transactionID string, ttl time.Duration) error
}

type ShippingQuoter interface {
	Quote(ctx context.Context, dest shipping.Coordinate) (*shipping.Quote, error)
}

// OrderNotices formats notification messages and links for orders.
type OrderNotices struct {
	AdminChannel string
	LinkFormat   string
}

func (n OrderNotices) adminMessage(kind string, order *models.Order) string {
	return fmt.Sprintf("[ORDER %s] #%d - %s", kind, order.ID, order.CustomerName)
}

func (n OrderNotices) link(orderID int64) string {
	return fmt.Sprintf(n.LinkFormat, orderID)
}

func userChannel(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}
