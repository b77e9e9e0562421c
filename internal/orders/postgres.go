package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"jewellery-storefront/internal/apperr"
	"jewellery-storefront/internal/cart"
	"jewellery-storefront/internal/stores/postgres"

	"github.com/google/uuid"
)

const (
	orderNumberConstraint    = "orders_order_number_key"
	idempotencyKeyConstraint = "orders_user_idempotency_key"
)

type Conf struct {
	db *sql.DB
}

func NewConf(db *sql.DB) (*Conf, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Conf{db: db}, nil
}

const orderColumns = `id, order_number, user_id, subtotal, tax, shipping_cost, total_amount,
	shipping_address, billing_address, payment_method, payment_status, order_status,
	payment_details, notes, delivered_at, created_at, updated_at`

func (c *Conf) CreateOrder(ctx context.Context, o Order, cartVersion int64) error {
	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to encode shipping address: %w", err)
	}
	billing, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return fmt.Errorf("failed to encode billing address: %w", err)
	}
	details, err := json.Marshal(o.PaymentDetails)
	if err != nil {
		return fmt.Errorf("failed to encode payment details: %w", err)
	}
	key := sql.NullString{String: o.IdempotencyKey, Valid: o.IdempotencyKey != ""}

	return postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		queryOrder := `
			INSERT INTO orders (id, order_number, user_id, idempotency_key, subtotal, tax, shipping_cost,
				total_amount, shipping_address, billing_address, payment_method, payment_status, order_status,
				payment_details, notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		`
		_, err := tx.ExecContext(ctx, queryOrder, o.ID, o.OrderNumber, o.UserID, key, o.Subtotal, o.Tax,
			o.ShippingCost, o.TotalAmount, shipping, billing, o.PaymentMethod, o.PaymentStatus, o.OrderStatus,
			details, o.Notes, o.CreatedAt, o.UpdatedAt)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				switch postgres.ConstraintName(err) {
				case orderNumberConstraint:
					return ErrOrderNumberTaken
				case idempotencyKeyConstraint:
					return ErrDuplicateRequest
				}
				return fmt.Errorf("%w: %s", apperr.ErrConflict, postgres.ConstraintName(err))
			}
			return fmt.Errorf("failed to insert order: %w", err)
		}

		queryLine := `
			INSERT INTO order_lines (order_id, position, product_id, product_name, sku, quantity, price_at_order, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		for i, l := range o.Lines {
			_, err := tx.ExecContext(ctx, queryLine, o.ID, i, l.ProductID, l.ProductName, l.SKU, l.Quantity, l.PriceAtOrder, l.LineTotal)
			if err != nil {
				return fmt.Errorf("failed to insert order line: %w", err)
			}
		}

		return cart.ClearTx(ctx, tx, o.UserID, cartVersion)
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (Order, error) {
	var (
		o                          Order
		shipping, billing, details []byte
		deliveredAt                sql.NullTime
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.Subtotal, &o.Tax, &o.ShippingCost, &o.TotalAmount,
		&shipping, &billing, &o.PaymentMethod, &o.PaymentStatus, &o.OrderStatus, &details, &o.Notes,
		&deliveredAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
		return Order{}, fmt.Errorf("failed to decode shipping address: %w", err)
	}
	if err := json.Unmarshal(billing, &o.BillingAddress); err != nil {
		return Order{}, fmt.Errorf("failed to decode billing address: %w", err)
	}
	if err := json.Unmarshal(details, &o.PaymentDetails); err != nil {
		return Order{}, fmt.Errorf("failed to decode payment details: %w", err)
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		o.DeliveredAt = &t
	}
	return o, nil
}

func (c *Conf) GetOrder(ctx context.Context, id string) (Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Order{}, fmt.Errorf("%w: order %s", apperr.ErrNotFound, id)
	}
	return c.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (c *Conf) FindByIdempotencyKey(ctx context.Context, userID, key string) (Order, error) {
	return c.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 AND idempotency_key = $2`, userID, key)
}

func (c *Conf) getOne(ctx context.Context, query string, args ...any) (Order, error) {
	o, err := scanOrder(c.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, fmt.Errorf("%w: order", apperr.ErrNotFound)
		}
		return Order{}, fmt.Errorf("failed to get order: %w", err)
	}
	lines, err := c.loadLines(ctx, []string{o.ID})
	if err != nil {
		return Order{}, err
	}
	o.Lines = lines[o.ID]
	return o, nil
}

func (c *Conf) ListOrders(ctx context.Context, f Filter) ([]Order, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Status != "" {
		add("order_status = $%d", f.Status)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var (
		out []Order
		ids []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	if len(ids) == 0 {
		return out, nil
	}

	lines, err := c.loadLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

func (c *Conf) loadLines(ctx context.Context, orderIDs []string) (map[string][]Line, error) {
	query := `
		SELECT order_id, product_id, product_name, sku, quantity, price_at_order, line_total
		FROM order_lines
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, position
	`
	rows, err := c.db.QueryContext(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]Line, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			l       Line
		)
		if err := rows.Scan(&orderID, &l.ProductID, &l.ProductName, &l.SKU, &l.Quantity, &l.PriceAtOrder, &l.LineTotal); err != nil {
			return nil, fmt.Errorf("failed to scan order line: %w", err)
		}
		out[orderID] = append(out[orderID], l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order lines: %w", err)
	}
	return out, nil
}

func (c *Conf) SaveStatus(ctx context.Context, o Order, from Order) error {
	details, err := json.Marshal(o.PaymentDetails)
	if err != nil {
		return fmt.Errorf("failed to encode payment details: %w", err)
	}
	query := `
		UPDATE orders
		SET order_status = $2, payment_status = $3, payment_details = $4, delivered_at = $5, updated_at = $6
		WHERE id = $1 AND order_status = $7 AND payment_status = $8
	`
	res, err := c.db.ExecContext(ctx, query, o.ID, o.OrderStatus, o.PaymentStatus, details, o.DeliveredAt,
		o.UpdatedAt, from.OrderStatus, from.PaymentStatus)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", o.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrStatusChanged
	}
	return nil
}
