package orders

import (
	"time"

	"jewellery-storefront/internal/pricing"
)

// Line is a frozen copy of a cart line at checkout. Its price never changes afterwards.
type Line struct {
	ProductID    string        `json:"product_id"`
	ProductName  string        `json:"product_name"`
	SKU          string        `json:"sku"`
	Quantity     int           `json:"quantity"`
	PriceAtOrder pricing.Money `json:"price_at_order"`
	LineTotal    pricing.Money `json:"line_total"`
}

type Address struct {
	FullName   string `json:"full_name" validate:"required"`
	Phone      string `json:"phone" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required"`
}

type PaymentDetails struct {
	TransactionID  string     `json:"transaction_id,omitempty"`
	PaymentGateway string     `json:"payment_gateway,omitempty"`
	ScreenshotURL  string     `json:"screenshot_url,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	VerifiedBy     string     `json:"verified_by,omitempty"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
}

// appendNote adds a line to the running payment notes.
func (d *PaymentDetails) appendNote(note string) {
	if note == "" {
		return
	}
	if d.Notes != "" {
		d.Notes += "\n"
	}
	d.Notes += note
}

// Order is immutable after placement except for its status fields and PaymentDetails.
type Order struct {
	ID              string         `json:"id"`
	OrderNumber     string         `json:"order_number"`
	UserID          string         `json:"user_id"`
	IdempotencyKey  string         `json:"-"`
	Lines           []Line         `json:"lines"`
	Subtotal        pricing.Money  `json:"subtotal"`
	Tax             pricing.Money  `json:"tax"`
	ShippingCost    pricing.Money  `json:"shipping_cost"`
	TotalAmount     pricing.Money  `json:"total_amount"`
	ShippingAddress Address        `json:"shipping_address"`
	BillingAddress  Address        `json:"billing_address"`
	PaymentMethod   MethodKind     `json:"payment_method"`
	PaymentStatus   PaymentStatus  `json:"payment_status"`
	OrderStatus     OrderStatus    `json:"order_status"`
	PaymentDetails  PaymentDetails `json:"payment_details"`
	Notes           string         `json:"notes,omitempty"`
	DeliveredAt     *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (o Order) clone() Order {
	o.Lines = append([]Line(nil), o.Lines...)
	return o
}

// Actor is the authenticated caller of an order operation.
type Actor struct {
	UserID string
	Admin  bool
}

type Filter struct {
	// UserID restricts the listing to one customer; empty means all customers.
	UserID string
	Status OrderStatus
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

func (f Filter) matches(o Order) bool {
	if f.UserID != "" && o.UserID != f.UserID {
		return false
	}
	if f.Status != "" && o.OrderStatus != f.Status {
		return false
	}
	if !f.From.IsZero() && o.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !o.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

// SalesSummary aggregates placed orders over [From, To).
type SalesSummary struct {
	From              time.Time           `json:"from"`
	To                time.Time           `json:"to"`
	OrderCount        int                 `json:"order_count"`
	CancelledCount    int                 `json:"cancelled_count"`
	GrossAmount       pricing.Money       `json:"gross_amount"`
	PaidAmount        pricing.Money       `json:"paid_amount"`
	AverageOrderValue pricing.Money       `json:"average_order_value"`
	ByOrderStatus     map[OrderStatus]int `json:"by_order_status"`
	ByPaymentMethod   map[MethodKind]int  `json:"by_payment_method"`
}
