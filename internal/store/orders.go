package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"checkout-service/internal/models"
)

// InsertOrder creates a new order
func (q *Queries) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, customer_name, status, payment_method, subtotal, discount_amount,
			shipping_fee, points_used, points_value, total_amount, voucher_code, address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`

	return q.q.QueryRowxContext(ctx, query,
		order.UserID, order.CustomerName, order.Status, order.PaymentMethod, order.Subtotal,
		order.DiscountAmount, order.ShippingFee, order.PointsUsed, order.PointsValue,
		order.TotalAmount, order.VoucherCode, order.Address,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
}

// InsertOrderLine creates a new order line
func (q *Queries) InsertOrderLine(ctx context.Context, line *models.OrderLine) error {
	query := `
		INSERT INTO order_lines (order_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	return q.q.GetContext(ctx, &line.ID, query,
		line.OrderID, line.ProductID, line.Quantity, line.UnitPrice)
}

// GetOrder retrieves an order by ID
func (q *Queries) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := q.q.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "store: order %d not found", id)
	}
	return &order, nil
}

// LockOrder reads the order FOR UPDATE so status transitions are serialized
// per order.
func (q *Queries) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := q.q.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, notFound(err, "store: order %d not found", id)
	}
	return &order, nil
}

// GetOrderLines retrieves all lines for an order
func (q *Queries) GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	lines := []models.OrderLine{}
	err := q.q.SelectContext(ctx, &lines,
		"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY id", orderID)
	return lines, err
}

// UpdateOrderStatus updates order status; paidAt is only written when set.
func (q *Queries) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus, paidAt *time.Time) error {
	_, err := q.q.ExecContext(ctx,
		"UPDATE orders SET status = $1, paid_at = COALESCE($2, paid_at), updated_at = NOW() WHERE id = $3",
		status, paidAt, orderID)
	return err
}

// ListOrdersByUser retrieves orders for a user
func (q *Queries) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := q.q.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// DecrementStock lowers stock by quantity, flooring at zero, and returns the
// stock level before the update.
func (q *Queries) DecrementStock(ctx context.Context, productID int64, quantity int) (int, error) {
	var before int
	err := q.q.GetContext(ctx, &before, `
		WITH prev AS (SELECT stock FROM products WHERE id = $2 FOR UPDATE)
		UPDATE products p SET stock = GREATEST(p.stock - $1, 0)
		FROM prev WHERE p.id = $2
		RETURNING prev.stock`, quantity, productID)
	if err != nil {
		return 0, notFound(err, "store: product %d not found", productID)
	}
	return before, nil
}

func (q *Queries) InsertShipping(ctx context.Context, s *models.Shipping) error {
	return q.q.QueryRowxContext(ctx, `
		INSERT INTO shippings (order_id, address, lat, lng, distance_km, fee, method)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		s.OrderID, s.Address, s.Lat, s.Lng, s.DistanceKm, s.Fee, s.Method,
	).Scan(&s.ID, &s.CreatedAt)
}

// GetShipping returns nil, nil for orders without a shipping row.
func (q *Queries) GetShipping(ctx context.Context, orderID int64) (*models.Shipping, error) {
	var s models.Shipping
	err := q.q.GetContext(ctx, &s, "SELECT * FROM shippings WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertPayment creates the single payment row of an order
func (q *Queries) InsertPayment(ctx context.Context, payment *models.Payment) error {
	return q.q.QueryRowxContext(ctx, `
		INSERT INTO payments (order_id, method, amount, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		payment.OrderID, payment.Method, payment.Amount, payment.Status,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
}

// GetPaymentByOrder retrieves payment for an order
func (q *Queries) GetPaymentByOrder(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := q.q.GetContext(ctx, &payment, "SELECT * FROM payments WHERE order_id = $1", orderID)
	if err != nil {
		return nil, notFound(err, "store: payment for order %d not found", orderID)
	}
	return &payment, nil
}

// UpdatePaymentStatus moves a pending payment forward. A payment that has
// already settled is left untouched.
func (q *Queries) UpdatePaymentStatus(ctx context.Context, orderID int64, status models.PaymentStatus) error {
	_, err := q.q.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = NOW() WHERE order_id = $2 AND status = $3",
		status, orderID, models.PaymentStatusPending)
	return err
}
