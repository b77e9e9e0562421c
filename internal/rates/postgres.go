package rates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jewellery-storefront/internal/apperr"
	"jewellery-storefront/internal/pricing"
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

func (c *Conf) ListRates(ctx context.Context) ([]pricing.Rate, error) {
	query := `
		SELECT grade, rate_per_unit, active, last_updated, updated_by
		FROM metal_rates
		ORDER BY grade
	`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rates: %w", err)
	}
	defer rows.Close()

	var out []pricing.Rate
	for rows.Next() {
		var r pricing.Rate
		if err := rows.Scan(&r.Grade, &r.RatePerUnit, &r.Active, &r.LastUpdated, &r.UpdatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan rate: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rates: %w", err)
	}
	return out, nil
}

func (c *Conf) SaveRates(ctx context.Context, rates []pricing.Rate, expected map[pricing.Grade]time.Time) error {
	return postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		for grade, at := range expected {
			var current time.Time
			err := tx.QueryRowContext(ctx,
				`SELECT last_updated FROM metal_rates WHERE grade = $1 FOR UPDATE`, grade).Scan(&current)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("%w: rate for %s does not exist yet", apperr.ErrConflict, grade)
				}
				return fmt.Errorf("failed to lock rate %s: %w", grade, err)
			}
			if !current.Equal(at) {
				return fmt.Errorf("%w: rate for %s was modified concurrently", apperr.ErrConflict, grade)
			}
		}

		upsert := `
			INSERT INTO metal_rates (grade, rate_per_unit, active, last_updated, updated_by)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (grade) DO UPDATE
			SET rate_per_unit = EXCLUDED.rate_per_unit,
				active = EXCLUDED.active,
				last_updated = EXCLUDED.last_updated,
				updated_by = EXCLUDED.updated_by
		`
		for _, r := range rates {
			if _, err := tx.ExecContext(ctx, upsert, r.Grade, r.RatePerUnit, r.Active, r.LastUpdated, r.UpdatedBy); err != nil {
				return fmt.Errorf("failed to save rate %s: %w", r.Grade, err)
			}
		}
		return nil
	})
}
