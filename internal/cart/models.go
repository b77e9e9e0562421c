package cart

import (
	"time"

	"jewellery-storefront/internal/pricing"
)

// Line is one product in a cart. Name and SKU are filled in when the cart is priced
// and are not persisted.
type Line struct {
	ProductID     string        `json:"product_id"`
	Name          string        `json:"name,omitempty"`
	SKU           string        `json:"sku,omitempty"`
	Quantity      int           `json:"quantity"`
	PriceSnapshot pricing.Money `json:"price_snapshot"`
	LineTotal     pricing.Money `json:"line_total"`
	AddedAt       time.Time     `json:"added_at"`
}

// Cart belongs to exactly one user. Version is bumped on every successful write and
// is zero for a cart that was never stored.
type Cart struct {
	UserID      string        `json:"user_id"`
	Lines       []Line        `json:"lines"`
	TotalAmount pricing.Money `json:"total_amount"`
	ItemCount   int           `json:"item_count"`
	Version     int64         `json:"version"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// recalc re-establishes TotalAmount and ItemCount from the lines.
func (c *Cart) recalc() {
	var total pricing.Money
	count := 0
	for i := range c.Lines {
		c.Lines[i].LineTotal = c.Lines[i].PriceSnapshot * pricing.Money(c.Lines[i].Quantity)
		total += c.Lines[i].LineTotal
		count += c.Lines[i].Quantity
	}
	c.TotalAmount = total
	c.ItemCount = count
}

func (c *Cart) find(productID string) int {
	for i, l := range c.Lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}

func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

func (c Cart) clone() Cart {
	c.Lines = append([]Line(nil), c.Lines...)
	return c
}
