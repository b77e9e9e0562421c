package products

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"jewellery-storefront/internal/apperr"
	"jewellery-storefront/internal/stores/postgres"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type Conf struct {
	db    *sql.DB
	types *pgtype.Map
}

func NewConf(db *sql.DB) (*Conf, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Conf{db: db, types: pgtype.NewMap()}, nil
}

const productColumns = `id, sku, name, grade, weight, loss_percent, making_charge, images,
	cached_price, active, featured, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (c *Conf) scanProduct(row rowScanner) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Grade, &p.Weight, &p.LossPercent, &p.MakingCharge,
		c.types.SQLScanner(&p.Images), &p.CachedPrice, &p.Active, &p.Featured, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (c *Conf) CreateProduct(ctx context.Context, p Product) error {
	query := `
		INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := c.db.ExecContext(ctx, query, p.ID, p.SKU, p.Name, p.Grade, p.Weight, p.LossPercent,
		p.MakingCharge, p.Images, p.CachedPrice, p.Active, p.Featured, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", apperr.ErrConflict, postgres.ConstraintName(err))
		}
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (c *Conf) UpdateProduct(ctx context.Context, p Product) error {
	query := `
		UPDATE products
		SET name = $2, grade = $3, weight = $4, loss_percent = $5, making_charge = $6,
			images = $7, cached_price = $8, active = $9, featured = $10, updated_at = $11
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, query, p.ID, p.Name, p.Grade, p.Weight, p.LossPercent,
		p.MakingCharge, p.Images, p.CachedPrice, p.Active, p.Featured, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update product %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: product %s", apperr.ErrNotFound, p.ID)
	}
	return nil
}

func (c *Conf) GetProduct(ctx context.Context, id string) (Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Product{}, fmt.Errorf("%w: product %s", apperr.ErrNotFound, id)
	}
	row := c.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := c.scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, fmt.Errorf("%w: product %s", apperr.ErrNotFound, id)
		}
		return Product{}, fmt.Errorf("failed to get product %s: %w", id, err)
	}
	return p, nil
}

func (c *Conf) GetProducts(ctx context.Context, ids []string) (map[string]Product, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	out := make(map[string]Product, len(valid))
	if len(valid) == 0 {
		return out, nil
	}

	rows, err := c.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1::uuid[])`, valid)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := c.scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}
	return out, nil
}

func (c *Conf) ListProducts(ctx context.Context, f Filter) ([]Product, error) {
	var (
		where []string
		args  []any
	)
	if f.ActiveOnly {
		where = append(where, "active")
	}
	if f.Grade != "" {
		args = append(args, f.Grade)
		where = append(where, fmt.Sprintf("grade = $%d", len(args)))
	}
	if f.Featured != nil {
		args = append(args, *f.Featured)
		where = append(where, fmt.Sprintf("featured = $%d", len(args)))
	}

	query := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`
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
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := c.scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}
	return out, nil
}

// UpdateCachedPrices writes a batch of derived prices in one statement. Rows whose pricing
// attributes changed since the batch was priced are left alone.
func (c *Conf) UpdateCachedPrices(ctx context.Context, updates []PriceUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	var (
		ids     = make([]string, 0, len(updates))
		prices  = make([]int64, 0, len(updates))
		grades  = make([]string, 0, len(updates))
		weights = make([]string, 0, len(updates))
		losses  = make([]string, 0, len(updates))
		making  = make([]int64, 0, len(updates))
	)
	for _, u := range updates {
		ids = append(ids, u.ProductID)
		prices = append(prices, int64(u.Price))
		grades = append(grades, string(u.Basis.Grade))
		weights = append(weights, u.Basis.Weight.String())
		losses = append(losses, u.Basis.LossPercent.String())
		making = append(making, int64(u.Basis.MakingCharge))
	}

	query := `
		UPDATE products AS p
		SET cached_price = v.price, updated_at = NOW()
		FROM unnest($1::uuid[], $2::bigint[], $3::text[], $4::text[], $5::text[], $6::bigint[])
			AS v(id, price, grade, weight, loss_percent, making_charge)
		WHERE p.id = v.id
			AND p.grade = v.grade
			AND p.weight = v.weight::numeric
			AND p.loss_percent = v.loss_percent::numeric
			AND p.making_charge = v.making_charge
	`
	res, err := c.db.ExecContext(ctx, query, ids, prices, grades, weights, losses, making)
	if err != nil {
		return 0, fmt.Errorf("failed to update cached prices: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}
