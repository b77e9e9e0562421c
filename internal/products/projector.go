package products

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"jewellery-storefront/internal/pricing"
	"jewellery-storefront/internal/rates"
)

const defaultBatchSize = 200

// Projector keeps Product.CachedPrice in line with the rate table. Every pass prices
// all products against one snapshot and is idempotent.
type Projector struct {
	store     Store
	log       *slog.Logger
	batchSize int
}

func NewProjector(store Store, log *slog.Logger) *Projector {
	if log == nil {
		log = slog.Default()
	}
	return &Projector{store: store, log: log, batchSize: defaultBatchSize}
}

// Reprice returns p with CachedPrice derived from table, and whether it changed.
func (pr *Projector) Reprice(p Product, table pricing.RateTable) (Product, bool, error) {
	price, err := pricing.PriceFor(p.Attributes(), table)
	if err != nil {
		return p, false, err
	}
	changed := price != p.CachedPrice
	p.CachedPrice = price
	return p, changed, nil
}

// RecomputeAll reprices the whole active catalog.
func (pr *Projector) RecomputeAll(ctx context.Context, table pricing.RateTable) (rates.ProjectionResult, error) {
	return pr.RecomputeGrades(ctx, table)
}

// RecomputeGrades reprices active products of the given grades, or of every grade when
// none are given. Products that cannot be priced keep their stale price and are reported
// in the result; only a failure to read the catalog is returned as an error.
func (pr *Projector) RecomputeGrades(ctx context.Context, table pricing.RateTable, grades ...pricing.Grade) (rates.ProjectionResult, error) {
	var res rates.ProjectionResult

	catalog, err := pr.store.ListProducts(ctx, Filter{ActiveOnly: true})
	if err != nil {
		return res, fmt.Errorf("failed to load catalog: %w", err)
	}

	pending := make([]PriceUpdate, 0, pr.batchSize)
	for _, p := range catalog {
		if len(grades) > 0 && !slices.Contains(grades, p.Grade) {
			continue
		}
		res.Scanned++

		repriced, changed, err := pr.Reprice(p, table)
		if err != nil {
			pr.log.Warn("product left with stale price", slog.String("product_id", p.ID), slog.String("error", err.Error()))
			res.Failed = append(res.Failed, rates.ProjectionFailure{ProductID: p.ID, Reason: err.Error()})
			continue
		}
		if !changed {
			res.Unchanged++
			continue
		}
		pending = append(pending, PriceUpdate{ProductID: p.ID, Basis: p.Attributes(), Price: repriced.CachedPrice})
		if len(pending) >= pr.batchSize {
			pr.flush(ctx, pending, &res)
			pending = pending[:0]
		}
	}
	pr.flush(ctx, pending, &res)

	pr.log.Info("catalog repriced", slog.Int("scanned", res.Scanned), slog.Int("updated", res.Updated),
		slog.Int("unchanged", res.Unchanged), slog.Int("skipped", res.Skipped), slog.Int("failed", len(res.Failed)))
	return res, nil
}

func (pr *Projector) flush(ctx context.Context, batch []PriceUpdate, res *rates.ProjectionResult) {
	if len(batch) == 0 {
		return
	}
	applied, err := pr.store.UpdateCachedPrices(ctx, batch)
	if err != nil {
		pr.log.Error("failed to write repriced batch", slog.Int("size", len(batch)), slog.String("error", err.Error()))
		for _, u := range batch {
			res.Failed = append(res.Failed, rates.ProjectionFailure{ProductID: u.ProductID, Reason: err.Error()})
		}
		return
	}
	// the rest were edited during the pass and priced by that edit
	res.Updated += applied
	res.Skipped += len(batch) - applied
}
