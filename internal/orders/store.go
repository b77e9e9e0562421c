package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"jewellery-storefront/internal/apperr"
)

var (
	ErrOrderNumberTaken = fmt.Errorf("%w: order number already taken", apperr.ErrConflict)
	ErrDuplicateRequest = fmt.Errorf("%w: idempotency key already used", apperr.ErrConflict)
	ErrStatusChanged    = fmt.Errorf("%w: order was modified concurrently", apperr.ErrConflict)
)

type Store interface {
	// CreateOrder inserts o and empties the owner's cart if it is still at cartVersion.
	// Either both happen or neither does.
	CreateOrder(ctx context.Context, o Order, cartVersion int64) error
	GetOrder(ctx context.Context, id string) (Order, error)
	FindByIdempotencyKey(ctx context.Context, userID, key string) (Order, error)
	// ListOrders returns matching orders, newest first.
	ListOrders(ctx context.Context, f Filter) ([]Order, error)
	// SaveStatus writes the status fields of o if the stored statuses still equal those of from.
	SaveStatus(ctx context.Context, o Order, from Order) error
}

// CartClearer empties a cart with a version check.
type CartClearer interface {
	ClearIfVersion(ctx context.Context, userID string, version int64) error
}

type MemStore struct {
	mu      sync.Mutex
	carts   CartClearer
	orders  map[string]Order
	numbers map[string]string
	keys    map[string]string
}

func NewMemStore(carts CartClearer) *MemStore {
	return &MemStore{
		carts:   carts,
		orders:  make(map[string]Order),
		numbers: make(map[string]string),
		keys:    make(map[string]string),
	}
}

func idempotencyIndex(userID, key string) string {
	return userID + "\x00" + key
}

func (m *MemStore) CreateOrder(ctx context.Context, o Order, cartVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.numbers[o.OrderNumber]; ok {
		return ErrOrderNumberTaken
	}
	if o.IdempotencyKey != "" {
		if _, ok := m.keys[idempotencyIndex(o.UserID, o.IdempotencyKey)]; ok {
			return ErrDuplicateRequest
		}
	}
	if err := m.carts.ClearIfVersion(ctx, o.UserID, cartVersion); err != nil {
		return err
	}

	m.orders[o.ID] = o.clone()
	m.numbers[o.OrderNumber] = o.ID
	if o.IdempotencyKey != "" {
		m.keys[idempotencyIndex(o.UserID, o.IdempotencyKey)] = o.ID
	}
	return nil
}

func (m *MemStore) GetOrder(_ context.Context, id string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: order %s", apperr.ErrNotFound, id)
	}
	return o.clone(), nil
}

func (m *MemStore) FindByIdempotencyKey(_ context.Context, userID, key string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.keys[idempotencyIndex(userID, key)]
	if !ok {
		return Order{}, fmt.Errorf("%w: no order for idempotency key", apperr.ErrNotFound)
	}
	return m.orders[id].clone(), nil
}

func (m *MemStore) ListOrders(_ context.Context, f Filter) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Order
	for _, o := range m.orders {
		if f.matches(o) {
			out = append(out, o.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
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

func (m *MemStore) SaveStatus(_ context.Context, o Order, from Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.orders[o.ID]
	if !ok {
		return fmt.Errorf("%w: order %s", apperr.ErrNotFound, o.ID)
	}
	if stored.OrderStatus != from.OrderStatus || stored.PaymentStatus != from.PaymentStatus {
		return ErrStatusChanged
	}
	stored.OrderStatus = o.OrderStatus
	stored.PaymentStatus = o.PaymentStatus
	stored.PaymentDetails = o.PaymentDetails
	stored.DeliveredAt = o.DeliveredAt
	stored.UpdatedAt = o.UpdatedAt
	m.orders[o.ID] = stored
	return nil
}
