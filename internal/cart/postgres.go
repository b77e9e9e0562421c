package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"jewellery-storefront/internal/stores/postgres"
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

func (c *Conf) GetCart(ctx context.Context, userID string) (Cart, error) {
	cart := Cart{UserID: userID}

	err := postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		queryCart := `
			SELECT total_amount, item_count, version, updated_at
			FROM carts
			WHERE user_id = $1
		`
		err := tx.QueryRowContext(ctx, queryCart, userID).Scan(&cart.TotalAmount, &cart.ItemCount, &cart.Version, &cart.UpdatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to query cart: %w", err)
		}

		queryLines := `
			SELECT product_id, quantity, price_snapshot, added_at
			FROM cart_lines
			WHERE user_id = $1
			ORDER BY position
		`
		rows, err := tx.QueryContext(ctx, queryLines, userID)
		if err != nil {
			return fmt.Errorf("failed to query cart lines: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var l Line
			if err := rows.Scan(&l.ProductID, &l.Quantity, &l.PriceSnapshot, &l.AddedAt); err != nil {
				return fmt.Errorf("failed to scan cart line: %w", err)
			}
			cart.Lines = append(cart.Lines, l)
		}
		return rows.Err()
	})
	if err != nil {
		return Cart{}, err
	}
	cart.recalc()
	return cart, nil
}

func (c *Conf) SaveCart(ctx context.Context, cart Cart) (int64, error) {
	next := cart.Version + 1

	err := postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		var res sql.Result
		var err error
		if cart.Version == 0 {
			res, err = tx.ExecContext(ctx, `
				INSERT INTO carts (user_id, total_amount, item_count, version, updated_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (user_id) DO NOTHING
			`, cart.UserID, cart.TotalAmount, cart.ItemCount, next, cart.UpdatedAt)
		} else {
			res, err = tx.ExecContext(ctx, `
				UPDATE carts
				SET total_amount = $2, item_count = $3, version = $4, updated_at = $5
				WHERE user_id = $1 AND version = $6
			`, cart.UserID, cart.TotalAmount, cart.ItemCount, next, cart.UpdatedAt, cart.Version)
		}
		if err != nil {
			return fmt.Errorf("failed to write cart: %w", err)
		}
		if err := expectOneRow(res); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE user_id = $1`, cart.UserID); err != nil {
			return fmt.Errorf("failed to reset cart lines: %w", err)
		}
		insertLine := `
			INSERT INTO cart_lines (user_id, product_id, quantity, price_snapshot, added_at, position)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		for i, l := range cart.Lines {
			if _, err := tx.ExecContext(ctx, insertLine, cart.UserID, l.ProductID, l.Quantity, l.PriceSnapshot, l.AddedAt, i); err != nil {
				return fmt.Errorf("failed to insert cart line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (c *Conf) ClearIfVersion(ctx context.Context, userID string, version int64) error {
	return postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		return ClearTx(ctx, tx, userID, version)
	})
}

// ClearTx empties the cart inside a caller's transaction, so an order insert and the
// cart clear commit or roll back together.
func ClearTx(ctx context.Context, tx *sql.Tx, userID string, version int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE carts
		SET total_amount = 0, item_count = 0, version = version + 1, updated_at = NOW()
		WHERE user_id = $1 AND version = $2
	`, userID, version)
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete cart lines: %w", err)
	}
	return nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n != 1 {
		return ErrVersionMismatch
	}
	return nil
}
