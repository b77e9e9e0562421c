package cart

import (
	"context"
	"fmt"
	"sync"

	"jewellery-storefront/internal/apperr"
)

// ErrVersionMismatch is returned by compare-and-swap writes when another request
// changed the cart first.
var ErrVersionMismatch = fmt.Errorf("%w: cart was modified concurrently", apperr.ErrConflict)

type Store interface {
	// GetCart returns the stored cart, or an empty cart with Version 0 when the user has none.
	GetCart(ctx context.Context, userID string) (Cart, error)
	// SaveCart writes c if the stored version still equals c.Version and returns the new version.
	SaveCart(ctx context.Context, c Cart) (int64, error)
	// ClearIfVersion empties the cart if it is still at version.
	ClearIfVersion(ctx context.Context, userID string, version int64) error
}

type MemStore struct {
	mu    sync.Mutex
	carts map[string]Cart
}

func NewMemStore() *MemStore {
	return &MemStore{carts: make(map[string]Cart)}
}

func (m *MemStore) GetCart(_ context.Context, userID string) (Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.carts[userID]
	if !ok {
		return Cart{UserID: userID}, nil
	}
	return c.clone(), nil
}

func (m *MemStore) SaveCart(_ context.Context, c Cart) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.carts[c.UserID].Version != c.Version {
		return 0, ErrVersionMismatch
	}
	c = c.clone()
	c.Version++
	m.carts[c.UserID] = c
	return c.Version, nil
}

func (m *MemStore) ClearIfVersion(_ context.Context, userID string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.carts[userID]
	if c.Version != version {
		return ErrVersionMismatch
	}
	c.UserID = userID
	c.Lines = nil
	c.recalc()
	c.Version++
	m.carts[userID] = c
	return nil
}
