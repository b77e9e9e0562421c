package products

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"jewellery-storefront/internal/apperr"
	"jewellery-storefront/internal/pricing"

	"github.com/google/uuid"
)

const skuAttempts = 3

// RateSource supplies the current rate snapshot.
type RateSource interface {
	Table(ctx context.Context) (pricing.RateTable, error)
}

type Service struct {
	store     Store
	rates     RateSource
	projector *Projector
	now       func() time.Time
}

func NewService(store Store, rates RateSource, projector *Projector) (*Service, error) {
	if store == nil || rates == nil || projector == nil {
		return nil, errors.New("product service: store, rate source and projector are required")
	}
	return &Service{
		store:     store,
		rates:     rates,
		projector: projector,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}, nil
}

func (s *Service) CreateProduct(ctx context.Context, np NewProduct) (Product, error) {
	name := strings.TrimSpace(np.Name)
	if name == "" {
		return Product{}, fmt.Errorf("%w: name is required", apperr.ErrInvalidArgument)
	}

	now := s.now()
	p := Product{
		ID:           uuid.NewString(),
		Name:         name,
		Grade:        np.Grade,
		Weight:       np.Weight,
		LossPercent:  np.LossPercent,
		MakingCharge: np.MakingCharge,
		Images:       append([]string(nil), np.Images...),
		Active:       true,
		Featured:     np.Featured,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := pricing.ValidateAttributes(p.Attributes()); err != nil {
		return Product{}, err
	}

	table, err := s.rates.Table(ctx)
	if err != nil {
		return Product{}, err
	}
	p, _, err = s.projector.Reprice(p, table)
	if err != nil {
		return Product{}, err
	}

	for attempt := 1; ; attempt++ {
		p.SKU = newSKU(p.Grade)
		err = s.store.CreateProduct(ctx, p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, apperr.ErrConflict) || attempt == skuAttempts {
			return Product{}, fmt.Errorf("failed to create product: %w", err)
		}
	}
}

// UpdateProduct applies u and recomputes the cached price whenever a pricing attribute changed.
func (s *Service) UpdateProduct(ctx context.Context, id string, u ProductUpdate) (Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}

	before := p.Attributes()
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return Product{}, fmt.Errorf("%w: name must not be empty", apperr.ErrInvalidArgument)
		}
		p.Name = name
	}
	if u.Grade != nil {
		p.Grade = *u.Grade
	}
	if u.Weight != nil {
		p.Weight = *u.Weight
	}
	if u.LossPercent != nil {
		p.LossPercent = *u.LossPercent
	}
	if u.MakingCharge != nil {
		p.MakingCharge = *u.MakingCharge
	}
	if u.Images != nil {
		p.Images = append([]string(nil), u.Images...)
	}
	if u.Featured != nil {
		p.Featured = *u.Featured
	}
	if u.Active != nil {
		p.Active = *u.Active
	}

	if err := pricing.ValidateAttributes(p.Attributes()); err != nil {
		return Product{}, err
	}
	if attributesChanged(before, p.Attributes()) || (u.Active != nil && *u.Active) {
		table, err := s.rates.Table(ctx)
		if err != nil {
			return Product{}, err
		}
		if p, _, err = s.projector.Reprice(p, table); err != nil {
			return Product{}, err
		}
	}

	p.UpdatedAt = s.now()
	if err := s.store.UpdateProduct(ctx, p); err != nil {
		return Product{}, fmt.Errorf("failed to update product: %w", err)
	}
	return p, nil
}

func (s *Service) DeactivateProduct(ctx context.Context, id string) (Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if !p.Active {
		return p, nil
	}
	p.Active = false
	p.UpdatedAt = s.now()
	if err := s.store.UpdateProduct(ctx, p); err != nil {
		return Product{}, fmt.Errorf("failed to deactivate product: %w", err)
	}
	return p, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (Product, error) {
	return s.store.GetProduct(ctx, id)
}

func (s *Service) ListProducts(ctx context.Context, f Filter) ([]Product, error) {
	if f.Grade != "" && !f.Grade.Valid() {
		return nil, fmt.Errorf("%w: unknown grade %q", apperr.ErrInvalidArgument, f.Grade)
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", apperr.ErrInvalidArgument)
	}
	return s.store.ListProducts(ctx, f)
}

// GetProducts is the catalog lookup used when repricing carts.
func (s *Service) GetProducts(ctx context.Context, ids []string) (map[string]Product, error) {
	return s.store.GetProducts(ctx, ids)
}

func attributesChanged(a, b pricing.Attributes) bool {
	return a.Grade != b.Grade ||
		!a.Weight.Equal(b.Weight) ||
		!a.LossPercent.Equal(b.LossPercent) ||
		a.MakingCharge != b.MakingCharge
}

func newSKU(g pricing.Grade) string {
	prefix := map[pricing.Grade]string{
		pricing.GradeA: "GA",
		pricing.GradeB: "GB",
		pricing.Silver: "SL",
	}[g]
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return prefix + "-" + suffix
}
