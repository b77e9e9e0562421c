package rates

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"jewellery-storefront/internal/apperr"
	"jewellery-storefront/internal/pricing"
)

// Store persists metal rates. Rates are never deleted, only updated or deactivated.
type Store interface {
	ListRates(ctx context.Context) ([]pricing.Rate, error)
	// SaveRates upserts the batch atomically. For every grade present in expected the
	// stored LastUpdated must match, otherwise nothing is written and ErrConflict is returned.
	SaveRates(ctx context.Context, rates []pricing.Rate, expected map[pricing.Grade]time.Time) error
}

type MemStore struct {
	mu    sync.RWMutex
	rates map[pricing.Grade]pricing.Rate
}

func NewMemStore() *MemStore {
	return &MemStore{rates: make(map[pricing.Grade]pricing.Rate)}
}

func (m *MemStore) ListRates(_ context.Context) ([]pricing.Rate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]pricing.Rate, 0, len(m.rates))
	for _, r := range m.rates {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Grade < out[j].Grade })
	return out, nil
}

func (m *MemStore) SaveRates(_ context.Context, rates []pricing.Rate, expected map[pricing.Grade]time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for grade, at := range expected {
		current, ok := m.rates[grade]
		if !ok || !current.LastUpdated.Equal(at) {
			return fmt.Errorf("%w: rate for %s was modified concurrently", apperr.ErrConflict, grade)
		}
	}
	for _, r := range rates {
		m.rates[r.Grade] = r
	}
	return nil
}
