package kafka

import "time"

const (
	TopicRatesUpdated         = `storefront.rates-updated`
	TopicOrderPlaced          = `storefront.order-placed`
	TopicOrderStatusChanged   = `storefront.order-status-changed`
	TopicPaymentStatusChanged = `storefront.payment-status-changed`
)

type RateChange struct {
	Grade       string `json:"grade"`
	RatePerUnit string `json:"rate_per_unit"`
	Active      bool   `json:"active"`
}

type RatesUpdatedEvent struct {
	Rates     []RateChange `json:"rates"`
	UpdatedBy string       `json:"updated_by"`
	Repriced  int          `json:"repriced"`
	Failed    int          `json:"failed"`
	CreatedAt time.Time    `json:"created_at"`
}

type OrderPlacedEvent struct {
	OrderId       string    `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	UserId        string    `json:"user_id"`
	TotalAmount   int64     `json:"total_amount"`
	PaymentMethod string    `json:"payment_method"`
	PaymentStatus string    `json:"payment_status"`
	CreatedAt     time.Time `json:"created_at"`
}

type OrderStatusChangedEvent struct {
	OrderId   string    `json:"order_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ActorId   string    `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
}

type PaymentStatusChangedEvent struct {
	OrderId   string    `json:"order_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ActorId   string    `json:"actor_id"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
