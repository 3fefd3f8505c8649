package store

import (
	"context"
	"database/sql"
	"errors"

	"checkout-service/internal/models"
)

// InsertGatewayTransaction appends to the receipt trail. For inbound rows it
// returns false when the (gateway, transaction_id) pair was already recorded.
func (q *Queries) InsertGatewayTransaction(ctx context.Context, t *models.GatewayTransaction) (bool, error) {
	err := q.q.QueryRowxContext(ctx, `
		INSERT INTO gateway_transactions (order_id, gateway, direction, request_id, gateway_order_id,
			transaction_id, result_code, amount, signature, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (gateway, transaction_id) WHERE direction = 'inbound' DO NOTHING
		RETURNING id, created_at`,
		t.OrderID, t.Gateway, t.Direction, t.RequestID, t.GatewayOrderID,
		t.TransactionID, t.ResultCode, t.Amount, t.Signature, t.RawPayload,
	).Scan(&t.ID, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (q *Queries) GetGatewayTransactions(ctx context.Context, orderID int64) ([]models.GatewayTransaction, error) {
	txns := []models.GatewayTransaction{}
	err := q.q.SelectContext(ctx, &txns,
		"SELECT * FROM gateway_transactions WHERE order_id = $1 ORDER BY id", orderID)
	return txns, err
}

func (q *Queries) InsertNotification(ctx context.Context, n *models.Notification) error {
	return q.q.QueryRowxContext(ctx, `
		INSERT INTO notifications (channel, message, link, correlation_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		n.Channel, n.Message, n.Link, n.CorrelationID,
	).Scan(&n.ID, &n.CreatedAt)
}

func (q *Queries) ListNotifications(ctx context.Context, channel string, limit int) ([]models.Notification, error) {
	out := []models.Notification{}
	err := q.q.SelectContext(ctx, &out,
		"SELECT * FROM notifications WHERE channel = $1 ORDER BY created_at DESC LIMIT $2", channel, limit)
	return out, err
}

// IsEventProcessed checks if an event has been processed
func (q *Queries) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := q.q.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (q *Queries) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := q.q.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
