package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const cartLineColumns = `
	c.id, c.user_id, c.product_id, c.quantity, c.unit_price, c.bonus_of, c.created_at,
	p.name AS product_name`

// GetProduct retrieves a product by ID
func (q *Queries) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := q.q.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "store: product %d not found", id)
	}
	return &product, nil
}

// GetCartLines returns the user's cart in insertion order.
func (q *Queries) GetCartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	lines := []models.CartLine{}
	err := q.q.SelectContext(ctx, &lines, `
		SELECT`+cartLineColumns+`
		FROM cart_lines c JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1
		ORDER BY c.id`, userID)
	return lines, err
}

// GetCartLinesForUpdate snapshots the cart and locks its rows until the
// surrounding transaction ends.
func (q *Queries) GetCartLinesForUpdate(ctx context.Context, userID int64) ([]models.CartLine, error) {
	lines := []models.CartLine{}
	err := q.q.SelectContext(ctx, &lines, `
		SELECT`+cartLineColumns+`
		FROM cart_lines c JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1
		ORDER BY c.id
		FOR UPDATE OF c`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock cart: %w", err)
	}
	return lines, nil
}

func (q *Queries) GetCartLine(ctx context.Context, userID, lineID int64) (*models.CartLine, error) {
	var line models.CartLine
	err := q.q.GetContext(ctx, &line, `
		SELECT`+cartLineColumns+`
		FROM cart_lines c JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1 AND c.id = $2`, userID, lineID)
	if err != nil {
		return nil, notFound(err, "store: cart line %d not found", lineID)
	}
	return &line, nil
}

// FindCartLine returns nil, nil when the user has no such line.
func (q *Queries) FindCartLine(ctx context.Context, userID, productID int64, bonusOf *int64) (*models.CartLine, error) {
	var line models.CartLine
	err := q.q.GetContext(ctx, &line, `
		SELECT`+cartLineColumns+`
		FROM cart_lines c JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1 AND c.product_id = $2 AND c.bonus_of IS NOT DISTINCT FROM $3`,
		userID, productID, bonusOf)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func (q *Queries) InsertCartLine(ctx context.Context, line *models.CartLine) error {
	return q.q.GetContext(ctx, line, `
		INSERT INTO cart_lines (user_id, product_id, quantity, unit_price, bonus_of)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, product_id, quantity, unit_price, bonus_of, created_at`,
		line.UserID, line.ProductID, line.Quantity, line.UnitPrice, line.BonusOf)
}

func (q *Queries) UpdateCartLine(ctx context.Context, lineID int64, quantity int, unitPrice int64) error {
	_, err := q.q.ExecContext(ctx,
		"UPDATE cart_lines SET quantity = $1, unit_price = $2 WHERE id = $3",
		quantity, unitPrice, lineID)
	return err
}

func (q *Queries) DeleteCartLine(ctx context.Context, userID, lineID int64) error {
	_, err := q.q.ExecContext(ctx,
		"DELETE FROM cart_lines WHERE user_id = $1 AND id = $2", userID, lineID)
	return err
}

// DeleteBonusLines removes the bonus lines that came in with parentProductID.
func (q *Queries) DeleteBonusLines(ctx context.Context, userID, parentProductID int64) error {
	_, err := q.q.ExecContext(ctx,
		"DELETE FROM cart_lines WHERE user_id = $1 AND bonus_of = $2", userID, parentProductID)
	return err
}

// DeleteCartLines deletes exactly the snapshotted lines and reports how many
// were removed.
func (q *Queries) DeleteCartLines(ctx context.Context, userID int64, lineIDs []int64) (int64, error) {
	if len(lineIDs) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In("DELETE FROM cart_lines WHERE user_id = ? AND id IN (?)", userID, lineIDs)
	if err != nil {
		return 0, err
	}

	res, err := q.q.ExecContext(ctx, q.q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) ClearCart(ctx context.Context, userID int64) (int64, error) {
	res, err := q.q.ExecContext(ctx, "DELETE FROM cart_lines WHERE user_id = $1", userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := q.q.GetContext(ctx, &user, "SELECT id, name, points FROM users WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "store: user %d not found", id)
	}
	return &user, nil
}

// LockUser reads the user row FOR UPDATE, serializing point balance changes.
func (q *Queries) LockUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := q.q.GetContext(ctx, &user, "SELECT id, name, points FROM users WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, notFound(err, "store: user %d not found", id)
	}
	return &user, nil
}

// AdjustPoints adds delta (negative to deduct) without letting the balance
// drop below zero.
func (q *Queries) AdjustPoints(ctx context.Context, userID int64, delta int) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE users SET points = points + $1 WHERE id = $2 AND points + $1 >= 0",
		delta, userID)
	if err != nil {
		return fmt.Errorf("failed to adjust points: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInsufficientPoints.Withf("store: user %d cannot apply %d points", userID, delta)
	}
	return nil
}

// GetVoucherByCode returns nil, nil for an unknown code.
func (q *Queries) GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error) {
	var v models.Voucher
	err := q.q.GetContext(ctx, &v, "SELECT * FROM vouchers WHERE code = $1", code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}
