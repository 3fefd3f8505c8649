package worker

import (
	"context"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// NotificationWorker persists notification events so admin and customer
// channels can be read back. Redelivered events are skipped by event id.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        store.Transactor
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, store store.Transactor) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		store:        store,
		logger:       util.Named("notification-worker"),
	}
	w.eventHandler.OnNotification(w.HandleNotification)
	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// HandleNotification stores one notification exactly once per event id.
func (w *NotificationWorker) HandleNotification(ctx context.Context, event *models.NotificationEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationWorker.HandleNotification")
	defer span.End()

	err := w.store.WithTx(ctx, func(tx store.Repository) error {
		processed, err := tx.IsEventProcessed(ctx, event.EventID)
		if err != nil {
			return err
		}
		if processed {
			w.logger.Debug("Notification already stored", zap.String("event_id", event.EventID))
			return nil
		}

		if err := tx.InsertNotification(ctx, &models.Notification{
			Channel:       event.Channel,
			Message:       event.Message,
			Link:          event.Link,
			CorrelationID: event.CorrelationID,
		}); err != nil {
			return err
		}
		return tx.MarkEventProcessed(ctx, event.EventID, event.EventType)
	})
	if err != nil {
		util.RecordError(span, err)
		util.NotificationsTotal.WithLabelValues("store_failed").Inc()
		return err
	}

	util.NotificationsTotal.WithLabelValues("stored").Inc()
	return nil
}
