package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"jewellery-storefront/internal/apperr"
	"jewellery-storefront/internal/pricing"
	"jewellery-storefront/internal/products"
)

const defaultMaxRetries = 5

type Catalog interface {
	GetProducts(ctx context.Context, ids []string) (map[string]products.Product, error)
}

type RateSource interface {
	Table(ctx context.Context) (pricing.RateTable, error)
}

// Ledger owns every cart mutation. Each operation is a read-modify-write guarded by the
// cart version and retried on conflict; every read reprices the lines from the product
// attributes and the current rate table, never from the product's cached price.
type Ledger struct {
	store      Store
	catalog    Catalog
	rates      RateSource
	maxRetries int
	log        *slog.Logger
	now        func() time.Time
}

func NewLedger(store Store, catalog Catalog, rates RateSource, maxRetries int, log *slog.Logger) (*Ledger, error) {
	if store == nil || catalog == nil || rates == nil {
		return nil, errors.New("cart ledger: store, catalog and rate source are required")
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		store:      store,
		catalog:    catalog,
		rates:      rates,
		maxRetries: maxRetries,
		log:        log,
		now:        func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}, nil
}

// Get returns the cart with freshly derived prices. When repricing changed anything the
// refreshed cart is written back, so the returned Version matches storage.
func (l *Ledger) Get(ctx context.Context, userID string) (Cart, error) {
	return l.mutate(ctx, userID, func(*Cart, map[string]products.Product) error { return nil })
}

func (l *Ledger) AddItem(ctx context.Context, userID, productID string, qty int) (Cart, error) {
	if qty <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be at least 1", apperr.ErrInvalidArgument)
	}
	return l.mutate(ctx, userID, func(c *Cart, catalog map[string]products.Product) error {
		p, ok := catalog[productID]
		if !ok || !p.Active {
			return fmt.Errorf("%w: product %s", apperr.ErrNotFound, productID)
		}
		if i := c.find(productID); i >= 0 {
			c.Lines[i].Quantity += qty
			return nil
		}
		c.Lines = append(c.Lines, Line{ProductID: productID, Quantity: qty, AddedAt: l.now()})
		return nil
	}, productID)
}

// UpdateQuantity sets the quantity of a line; zero or less removes it.
func (l *Ledger) UpdateQuantity(ctx context.Context, userID, productID string, qty int) (Cart, error) {
	if qty <= 0 {
		return l.RemoveItem(ctx, userID, productID)
	}
	return l.mutate(ctx, userID, func(c *Cart, _ map[string]products.Product) error {
		i := c.find(productID)
		if i < 0 {
			return fmt.Errorf("%w: product %s is not in the cart", apperr.ErrNotFound, productID)
		}
		c.Lines[i].Quantity = qty
		return nil
	})
}

func (l *Ledger) RemoveItem(ctx context.Context, userID, productID string) (Cart, error) {
	return l.mutate(ctx, userID, func(c *Cart, _ map[string]products.Product) error {
		i := c.find(productID)
		if i < 0 {
			return fmt.Errorf("%w: product %s is not in the cart", apperr.ErrNotFound, productID)
		}
		c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
		return nil
	})
}

func (l *Ledger) Clear(ctx context.Context, userID string) (Cart, error) {
	return l.mutate(ctx, userID, func(c *Cart, _ map[string]products.Product) error {
		c.Lines = nil
		return nil
	})
}

type mutation func(c *Cart, catalog map[string]products.Product) error

func (l *Ledger) mutate(ctx context.Context, userID string, fn mutation, extraIDs ...string) (Cart, error) {
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", apperr.ErrInvalidArgument)
	}

	var lastErr error
	for attempt := 1; attempt <= l.maxRetries; attempt++ {
		c, err := l.attempt(ctx, userID, fn, extraIDs)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, apperr.ErrConflict) {
			return Cart{}, err
		}
		lastErr = err
		l.log.Debug("cart write conflict, retrying", slog.String("user_id", userID), slog.Int("attempt", attempt))
	}
	return Cart{}, fmt.Errorf("cart for user %s still contended after %d attempts: %w", userID, l.maxRetries, lastErr)
}

func (l *Ledger) attempt(ctx context.Context, userID string, fn mutation, extraIDs []string) (Cart, error) {
	c, err := l.store.GetCart(ctx, userID)
	if err != nil {
		return Cart{}, fmt.Errorf("failed to load cart: %w", err)
	}
	before := c.clone()

	ids := make([]string, 0, len(c.Lines)+len(extraIDs))
	for _, line := range c.Lines {
		ids = append(ids, line.ProductID)
	}
	ids = append(ids, extraIDs...)
	catalog, err := l.catalog.GetProducts(ctx, ids)
	if err != nil {
		return Cart{}, fmt.Errorf("failed to load cart products: %w", err)
	}

	if err := fn(&c, catalog); err != nil {
		return Cart{}, err
	}

	table, err := l.rates.Table(ctx)
	if err != nil {
		return Cart{}, err
	}
	if err := l.reprice(&c, catalog, table); err != nil {
		return Cart{}, err
	}

	if !cartChanged(before, c) {
		return c, nil
	}
	c.UpdatedAt = l.now()
	version, err := l.store.SaveCart(ctx, c)
	if err != nil {
		return Cart{}, err
	}
	c.Version = version
	return c, nil
}

// reprice derives every line price from its product and table, dropping lines whose
// product is gone or inactive, and recalculates the totals.
func (l *Ledger) reprice(c *Cart, catalog map[string]products.Product, table pricing.RateTable) error {
	kept := c.Lines[:0]
	for _, line := range c.Lines {
		p, ok := catalog[line.ProductID]
		if !ok || !p.Active {
			l.log.Info("dropping unavailable product from cart", slog.String("user_id", c.UserID), slog.String("product_id", line.ProductID))
			continue
		}
		price, err := pricing.PriceFor(p.Attributes(), table)
		if err != nil {
			return fmt.Errorf("failed to price product %s: %w", p.ID, err)
		}
		line.PriceSnapshot = price
		line.Name = p.Name
		line.SKU = p.SKU
		kept = append(kept, line)
	}
	c.Lines = kept
	c.recalc()
	return nil
}

func cartChanged(a, b Cart) bool {
	if len(a.Lines) != len(b.Lines) {
		return true
	}
	for i := range a.Lines {
		if a.Lines[i].ProductID != b.Lines[i].ProductID ||
			a.Lines[i].Quantity != b.Lines[i].Quantity ||
			a.Lines[i].PriceSnapshot != b.Lines[i].PriceSnapshot {
			return true
		}
	}
	return a.TotalAmount != b.TotalAmount || a.ItemCount != b.ItemCount
}
