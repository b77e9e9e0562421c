package products

import (
	"time"

	"jewellery-storefront/internal/pricing"

	"github.com/shopspring/decimal"
)

// Product is a catalog item. CachedPrice is derived from the attributes and the rate of
// Grade; it is a listing cache and may be stale.
type Product struct {
	ID           string          `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Grade        pricing.Grade   `json:"grade"`
	Weight       decimal.Decimal `json:"weight"`
	LossPercent  decimal.Decimal `json:"loss_percent"`
	MakingCharge pricing.Money   `json:"making_charge"`
	Images       []string        `json:"images"`
	CachedPrice  pricing.Money   `json:"cached_price"`
	Active       bool            `json:"active"`
	Featured     bool            `json:"featured"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (p Product) Attributes() pricing.Attributes {
	return pricing.Attributes{
		Grade:        p.Grade,
		Weight:       p.Weight,
		LossPercent:  p.LossPercent,
		MakingCharge: p.MakingCharge,
	}
}

type NewProduct struct {
	Name         string          `json:"name" validate:"required"`
	Grade        pricing.Grade   `json:"grade" validate:"required"`
	Weight       decimal.Decimal `json:"weight"`
	LossPercent  decimal.Decimal `json:"loss_percent"`
	MakingCharge pricing.Money   `json:"making_charge" validate:"min=0"`
	Images       []string        `json:"images" validate:"dive,url"`
	Featured     bool            `json:"featured"`
}

// ProductUpdate carries the fields to change; nil means unchanged.
type ProductUpdate struct {
	Name         *string          `json:"name"`
	Grade        *pricing.Grade   `json:"grade"`
	Weight       *decimal.Decimal `json:"weight"`
	LossPercent  *decimal.Decimal `json:"loss_percent"`
	MakingCharge *pricing.Money   `json:"making_charge"`
	Images       []string         `json:"images" validate:"omitempty,dive,url"`
	Featured     *bool            `json:"featured"`
	Active       *bool            `json:"active"`
}

type Filter struct {
	Grade      pricing.Grade
	ActiveOnly bool
	Featured   *bool
	Limit      int
	Offset     int
}

func (f Filter) matches(p Product) bool {
	if f.ActiveOnly && !p.Active {
		return false
	}
	if f.Grade != "" && p.Grade != f.Grade {
		return false
	}
	if f.Featured != nil && p.Featured != *f.Featured {
		return false
	}
	return true
}
