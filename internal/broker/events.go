package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// eventPublishTimeout bounds a domain event write after the transaction has
// already committed.
const eventPublishTimeout = 2 * time.Second

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
	timeout  time.Duration
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer, timeout: eventPublishTimeout}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

func (ep *EventPublisher) publish(ctx context.Context, orderID int64, eventType string, event interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, ep.timeout)
	defer cancel()
	return ep.producer.PublishEvent(ctx, orderKey(orderID), eventType, event)
}

// PublishOrderPlaced publishes OrderPlaced event
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return ep.publish(ctx, event.OrderID, event.EventType, event)
}

// PublishOrderPaid publishes OrderPaid event
func (ep *EventPublisher) PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	return ep.publish(ctx, event.OrderID, event.EventType, event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.publish(ctx, event.OrderID, event.EventType, event)
}

const (
	notificationQueueSize = 256
	notificationTimeout   = 5 * time.Second
)

// NotificationDispatcher fans notifications out over the notification topic.
// Notify only enqueues; a single goroutine publishes, so a slow broker never
// holds up the caller.
type NotificationDispatcher struct {
	producer *Producer
	queue    chan *models.NotificationEvent
	quit     chan struct{}
	done     chan struct{}
	timeout  time.Duration
	stop     sync.Once
	logger   *zap.Logger
}

func NewNotificationDispatcher(producer *Producer) *NotificationDispatcher {
	return newNotificationDispatcher(producer, notificationQueueSize, notificationTimeout)
}

func newNotificationDispatcher(producer *Producer, size int, timeout time.Duration) *NotificationDispatcher {
	d := &NotificationDispatcher{
		producer: producer,
		queue:    make(chan *models.NotificationEvent, size),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		timeout:  timeout,
		logger:   util.Named("notifications"),
	}
	go d.run()
	return d
}

// Notify is best-effort: when the queue is full or the dispatcher is closed
// the notification is dropped, logged and counted.
func (d *NotificationDispatcher) Notify(_ context.Context, channel, message, link, correlationID string) {
	event := &models.NotificationEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeNotification,
			Timestamp: time.Now(),
		},
		Channel:       channel,
		Message:       message,
		Link:          link,
		CorrelationID: correlationID,
	}

	select {
	case <-d.quit:
		d.drop(event, errDispatcherClosed)
		return
	default:
	}

	select {
	case d.queue <- event:
	default:
		d.drop(event, errQueueFull)
	}
}

// Close stops accepting notifications and waits for the queued ones to be
// published.
func (d *NotificationDispatcher) Close() {
	d.stop.Do(func() { close(d.quit) })
	<-d.done
}

var (
	errQueueFull        = errors.New("notification queue full")
	errDispatcherClosed = errors.New("notification dispatcher closed")
)

func (d *NotificationDispatcher) run() {
	defer close(d.done)
	for {
		select {
		case event := <-d.queue:
			d.publish(event)
		case <-d.quit:
			for {
				select {
				case event := <-d.queue:
					d.publish(event)
				default:
					return
				}
			}
		}
	}
}

func (d *NotificationDispatcher) publish(event *models.NotificationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.producer.PublishEvent(ctx, event.Channel, event.EventType, event); err != nil {
		d.drop(event, err)
		return
	}
	util.NotificationsTotal.WithLabelValues("dispatched").Inc()
}

func (d *NotificationDispatcher) drop(event *models.NotificationEvent, err error) {
	util.NotificationsTotal.WithLabelValues("dropped").Inc()
	d.logger.Warn("Failed to dispatch notification",
		zap.String("channel", event.Channel),
		zap.String("correlation_id", event.CorrelationID),
		zap.Error(err))
}

// EventHandler handles incoming events
type EventHandler struct {
	onNotification func(context.Context, *models.NotificationEvent) error
	logger         *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.Named("kafka")}
}

// OnNotification registers a handler for Notification events
func (eh *EventHandler) OnNotification(handler func(context.Context, *models.NotificationEvent) error) {
	eh.onNotification = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeNotification:
		if eh.onNotification != nil {
			var event models.NotificationEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal Notification event: %w", err)
			}
			return eh.onNotification(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
