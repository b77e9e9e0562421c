package products

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"jewellery-storefront/internal/apperr"
	"jewellery-storefront/internal/pricing"
)

type Store interface {
	CreateProduct(ctx context.Context, p Product) error
	UpdateProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, id string) (Product, error)
	// GetProducts returns the products found among ids; missing ids are absent from the map.
	GetProducts(ctx context.Context, ids []string) (map[string]Product, error)
	ListProducts(ctx context.Context, f Filter) ([]Product, error)
	// UpdateCachedPrices writes each price only while the product still has the attributes
	// it was derived from, and returns how many were written.
	UpdateCachedPrices(ctx context.Context, updates []PriceUpdate) (int, error)
}

// PriceUpdate is a derived price and the attributes it was derived from.
type PriceUpdate struct {
	ProductID string
	Basis     pricing.Attributes
	Price     pricing.Money
}

type MemStore struct {
	mu       sync.RWMutex
	products map[string]Product
	skus     map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{
		products: make(map[string]Product),
		skus:     make(map[string]string),
	}
}

func (m *MemStore) CreateProduct(_ context.Context, p Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[p.ID]; ok {
		return fmt.Errorf("%w: product %s exists", apperr.ErrConflict, p.ID)
	}
	if _, ok := m.skus[p.SKU]; ok {
		return fmt.Errorf("%w: sku %s exists", apperr.ErrConflict, p.SKU)
	}
	m.products[p.ID] = cloneProduct(p)
	m.skus[p.SKU] = p.ID
	return nil
}

func (m *MemStore) UpdateProduct(_ context.Context, p Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[p.ID]; !ok {
		return fmt.Errorf("%w: product %s", apperr.ErrNotFound, p.ID)
	}
	m.products[p.ID] = cloneProduct(p)
	return nil
}

func (m *MemStore) GetProduct(_ context.Context, id string) (Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: product %s", apperr.ErrNotFound, id)
	}
	return cloneProduct(p), nil
}

func (m *MemStore) GetProducts(_ context.Context, ids []string) (map[string]Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = cloneProduct(p)
		}
	}
	return out, nil
}

func (m *MemStore) ListProducts(_ context.Context, f Filter) ([]Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Product
	for _, p := range m.products {
		if f.matches(p) {
			out = append(out, cloneProduct(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemStore) UpdateCachedPrices(_ context.Context, updates []PriceUpdate) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range updates {
		if _, ok := m.products[u.ProductID]; !ok {
			return 0, fmt.Errorf("%w: product %s", apperr.ErrNotFound, u.ProductID)
		}
	}
	applied := 0
	for _, u := range updates {
		p := m.products[u.ProductID]
		if attributesChanged(p.Attributes(), u.Basis) {
			continue
		}
		p.CachedPrice = u.Price
		m.products[u.ProductID] = p
		applied++
	}
	return applied, nil
}

func cloneProduct(p Product) Product {
	p.Images = append([]string(nil), p.Images...)
	return p
}
