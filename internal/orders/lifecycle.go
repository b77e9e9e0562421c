package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"jewellery-storefront/internal/apperr"
	"jewellery-storefront/internal/cart"
	"jewellery-storefront/internal/pricing"
	"jewellery-storefront/internal/stores/kafka"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	defaultCheckoutRetries = 5
	orderNumberAttempts    = 3
)

// CartSource returns the caller's cart priced against the current rates.
type CartSource interface {
	Get(ctx context.Context, userID string) (cart.Cart, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

type Config struct {
	ShippingFee pricing.Money
	// CheckoutRetries bounds how often placement restarts when the cart changes underneath it.
	CheckoutRetries int
}

type Lifecycle struct {
	store    Store
	carts    CartSource
	events   EventPublisher
	cfg      Config
	log      *slog.Logger
	validate *validator.Validate
	now      func() time.Time
	number   func(time.Time) string
}

func NewLifecycle(store Store, carts CartSource, events EventPublisher, cfg Config, log *slog.Logger) (*Lifecycle, error) {
	if store == nil || carts == nil {
		return nil, errors.New("order lifecycle: store and cart source are required")
	}
	if cfg.ShippingFee < 0 {
		return nil, errors.New("order lifecycle: shipping fee must not be negative")
	}
	if cfg.CheckoutRetries <= 0 {
		cfg.CheckoutRetries = defaultCheckoutRetries
	}
	if log == nil {
		log = slog.Default()
	}
	return &Lifecycle{
		store:    store,
		carts:    carts,
		events:   events,
		cfg:      cfg,
		log:      log,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		number:   newOrderNumber,
	}, nil
}

type PlaceOrderRequest struct {
	UserID string
	// IdempotencyKey makes repeated submissions return the first order.
	IdempotencyKey  string
	Payment         PaymentMethod
	ShippingAddress Address
	// BillingAddress defaults to ShippingAddress.
	BillingAddress *Address
	Notes          string
}

// PlaceOrder turns the caller's cart into an order. Line prices are frozen from the
// freshly priced cart, and the cart is emptied in the same write as the order insert.
func (l *Lifecycle) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (Order, error) {
	if req.UserID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", apperr.ErrInvalidArgument)
	}
	if err := l.validateAddress("shipping", req.ShippingAddress); err != nil {
		return Order{}, err
	}
	billing := req.ShippingAddress
	if req.BillingAddress != nil {
		if err := l.validateAddress("billing", *req.BillingAddress); err != nil {
			return Order{}, err
		}
		billing = *req.BillingAddress
	}

	if req.IdempotencyKey != "" {
		existing, err := l.store.FindByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return Order{}, fmt.Errorf("failed to look up idempotency key: %w", err)
		}
	}

	for attempt := 1; ; attempt++ {
		c, err := l.carts.Get(ctx, req.UserID)
		if err != nil {
			return Order{}, err
		}
		if c.IsEmpty() {
			// a repeat racing the first request finds the cart already cleared by its order
			if req.IdempotencyKey != "" {
				if existing, err := l.store.FindByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey); err == nil {
					return existing, nil
				}
			}
			return Order{}, fmt.Errorf("%w: empty cart", apperr.ErrInvalidState)
		}
		if req.Payment == nil {
			return Order{}, fmt.Errorf("%w: payment method is required", apperr.ErrInvalidArgument)
		}

		o := l.buildOrder(req, c, billing)
		if evidence, ok := evidenceOf(req.Payment); ok {
			if err := evidence.validate(); err != nil {
				return Order{}, err
			}
			o.PaymentStatus = PaymentVerificationRequired
			o.PaymentDetails = PaymentDetails{
				TransactionID:  evidence.TransactionID,
				ScreenshotURL:  evidence.ScreenshotURL,
				PaymentGateway: evidence.Gateway,
			}
		}

		err = l.insert(ctx, &o, c.Version)
		switch {
		case err == nil:
			l.log.Info("order placed", slog.String("order_id", o.ID), slog.String("order_number", o.OrderNumber),
				slog.String("user_id", o.UserID), slog.Int64("total", int64(o.TotalAmount)))
			l.publish(ctx, kafka.TopicOrderPlaced, o.ID, kafka.OrderPlacedEvent{
				OrderId:       o.ID,
				OrderNumber:   o.OrderNumber,
				UserId:        o.UserID,
				TotalAmount:   int64(o.TotalAmount),
				PaymentMethod: string(o.PaymentMethod),
				PaymentStatus: string(o.PaymentStatus),
				CreatedAt:     o.CreatedAt,
			})
			return o, nil
		case errors.Is(err, ErrDuplicateRequest):
			return l.store.FindByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		case errors.Is(err, cart.ErrVersionMismatch) && attempt < l.cfg.CheckoutRetries:
			l.log.Debug("cart changed during checkout, retrying", slog.String("user_id", req.UserID), slog.Int("attempt", attempt))
			continue
		default:
			return Order{}, fmt.Errorf("failed to place order: %w", err)
		}
	}
}

func (l *Lifecycle) buildOrder(req PlaceOrderRequest, c cart.Cart, billing Address) Order {
	now := l.now()
	o := Order{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		IdempotencyKey:  req.IdempotencyKey,
		Lines:           make([]Line, 0, len(c.Lines)),
		Tax:             0,
		ShippingCost:    l.cfg.ShippingFee,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  billing,
		PaymentMethod:   req.Payment.Kind(),
		PaymentStatus:   PaymentPending,
		OrderStatus:     StatusPending,
		Notes:           strings.TrimSpace(req.Notes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, cl := range c.Lines {
		line := Line{
			ProductID:    cl.ProductID,
			ProductName:  cl.Name,
			SKU:          cl.SKU,
			Quantity:     cl.Quantity,
			PriceAtOrder: cl.PriceSnapshot,
			LineTotal:    cl.PriceSnapshot * pricing.Money(cl.Quantity),
		}
		o.Subtotal += line.LineTotal
		o.Lines = append(o.Lines, line)
	}
	o.TotalAmount = o.Subtotal + o.Tax + o.ShippingCost
	return o
}

// insert stores o, drawing a fresh order number on collision.
func (l *Lifecycle) insert(ctx context.Context, o *Order, cartVersion int64) error {
	var err error
	for i := 0; i < orderNumberAttempts; i++ {
		o.OrderNumber = l.number(o.CreatedAt)
		err = l.store.CreateOrder(ctx, *o, cartVersion)
		if !errors.Is(err, ErrOrderNumberTaken) {
			return err
		}
		l.log.Warn("order number collision", slog.String("order_number", o.OrderNumber))
	}
	return err
}

func (l *Lifecycle) GetOrder(ctx context.Context, actor Actor, id string) (Order, error) {
	o, err := l.store.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !actor.Admin && o.UserID != actor.UserID {
		return Order{}, fmt.Errorf("%w: order %s", apperr.ErrNotFound, id)
	}
	return o, nil
}

// ListOrders lists the caller's own orders; admins see every customer's.
func (l *Lifecycle) ListOrders(ctx context.Context, actor Actor, f Filter) ([]Order, error) {
	if !actor.Admin {
		f.UserID = actor.UserID
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown order status %q", apperr.ErrInvalidArgument, f.Status)
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", apperr.ErrInvalidArgument)
	}
	return l.store.ListOrders(ctx, f)
}

// UpdateOrderStatus moves an order one step forward or cancels it. Delivery stamps
// DeliveredAt and settles a cash on delivery payment.
func (l *Lifecycle) UpdateOrderStatus(ctx context.Context, adminID, id string, next OrderStatus) (Order, error) {
	if !next.Valid() {
		return Order{}, fmt.Errorf("%w: unknown order status %q", apperr.ErrInvalidArgument, next)
	}
	return l.transition(ctx, adminID, id, func(o *Order) error {
		if !o.OrderStatus.CanTransitionTo(next) {
			return fmt.Errorf("%w: cannot move order from %s to %s", apperr.ErrInvalidState, o.OrderStatus, next)
		}
		o.OrderStatus = next
		if next != StatusDelivered {
			return nil
		}
		now := l.now()
		o.DeliveredAt = &now
		if o.PaymentMethod == MethodCashOnDelivery && o.PaymentStatus == PaymentPending {
			paid, err := nextPayment(o.PaymentStatus, actionCollect)
			if err != nil {
				return err
			}
			o.PaymentStatus = paid
			o.PaymentDetails.PaidAt = &now
		}
		return nil
	})
}

// CancelOrder lets the owner cancel an order that has not gone into processing.
func (l *Lifecycle) CancelOrder(ctx context.Context, userID, id string) (Order, error) {
	return l.transition(ctx, userID, id, func(o *Order) error {
		if o.UserID != userID {
			return fmt.Errorf("%w: order %s", apperr.ErrNotFound, id)
		}
		if o.OrderStatus != StatusPending && o.OrderStatus != StatusConfirmed {
			return fmt.Errorf("%w: order in status %s can no longer be cancelled", apperr.ErrInvalidState, o.OrderStatus)
		}
		o.OrderStatus = StatusCancelled
		return nil
	})
}

type VerifyPaymentInput struct {
	Notes string
	// TransactionID and Gateway correct the submitted evidence when set.
	TransactionID string
	Gateway       string
}

func (l *Lifecycle) VerifyPayment(ctx context.Context, adminID, id string, in VerifyPaymentInput) (Order, error) {
	return l.transition(ctx, adminID, id, func(o *Order) error {
		next, err := nextPayment(o.PaymentStatus, actionVerify)
		if err != nil {
			return err
		}
		now := l.now()
		o.PaymentStatus = next
		o.PaymentDetails.VerifiedBy = adminID
		o.PaymentDetails.VerifiedAt = &now
		o.PaymentDetails.PaidAt = &now
		if in.TransactionID != "" {
			o.PaymentDetails.TransactionID = in.TransactionID
		}
		if in.Gateway != "" {
			o.PaymentDetails.PaymentGateway = in.Gateway
		}
		o.PaymentDetails.appendNote(strings.TrimSpace(in.Notes))
		return nil
	})
}

// RejectPayment returns a submitted payment to pending so the customer can resubmit.
func (l *Lifecycle) RejectPayment(ctx context.Context, adminID, id, reason string) (Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: rejection reason is required", apperr.ErrInvalidArgument)
	}
	return l.transition(ctx, adminID, id, func(o *Order) error {
		next, err := nextPayment(o.PaymentStatus, actionReject)
		if err != nil {
			return err
		}
		o.PaymentStatus = next
		o.PaymentDetails.appendNote("Payment rejected: " + reason)
		return nil
	})
}

// SubmitPaymentEvidence records new proof for a non-cash order whose payment is pending.
func (l *Lifecycle) SubmitPaymentEvidence(ctx context.Context, userID, id string, evidence PaymentEvidence) (Order, error) {
	if err := evidence.validate(); err != nil {
		return Order{}, err
	}
	return l.transition(ctx, userID, id, func(o *Order) error {
		if o.UserID != userID {
			return fmt.Errorf("%w: order %s", apperr.ErrNotFound, id)
		}
		if o.PaymentMethod == MethodCashOnDelivery {
			return fmt.Errorf("%w: cash on delivery orders take no payment evidence", apperr.ErrInvalidState)
		}
		if o.OrderStatus == StatusCancelled {
			return fmt.Errorf("%w: order is cancelled", apperr.ErrInvalidState)
		}
		next, err := nextPayment(o.PaymentStatus, actionSubmitEvidence)
		if err != nil {
			return err
		}
		o.PaymentStatus = next
		o.PaymentDetails.TransactionID = evidence.TransactionID
		o.PaymentDetails.ScreenshotURL = evidence.ScreenshotURL
		if evidence.Gateway != "" {
			o.PaymentDetails.PaymentGateway = evidence.Gateway
		}
		return nil
	})
}

func (l *Lifecycle) RefundPayment(ctx context.Context, adminID, id, notes string) (Order, error) {
	return l.transition(ctx, adminID, id, func(o *Order) error {
		next, err := nextPayment(o.PaymentStatus, actionRefund)
		if err != nil {
			return err
		}
		o.PaymentStatus = next
		o.PaymentDetails.appendNote(strings.TrimSpace(notes))
		return nil
	})
}

func (l *Lifecycle) MarkPaymentFailed(ctx context.Context, adminID, id, reason string) (Order, error) {
	return l.transition(ctx, adminID, id, func(o *Order) error {
		next, err := nextPayment(o.PaymentStatus, actionFail)
		if err != nil {
			return err
		}
		o.PaymentStatus = next
		if reason = strings.TrimSpace(reason); reason != "" {
			o.PaymentDetails.appendNote("Payment failed: " + reason)
		}
		return nil
	})
}

// SalesSummary aggregates the orders placed in [from, to). Cancelled orders are only counted.
func (l *Lifecycle) SalesSummary(ctx context.Context, from, to time.Time) (SalesSummary, error) {
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return SalesSummary{}, fmt.Errorf("%w: from must be before to", apperr.ErrInvalidArgument)
	}
	list, err := l.store.ListOrders(ctx, Filter{From: from, To: to})
	if err != nil {
		return SalesSummary{}, fmt.Errorf("failed to load orders: %w", err)
	}

	s := SalesSummary{
		From:            from,
		To:              to,
		ByOrderStatus:   make(map[OrderStatus]int),
		ByPaymentMethod: make(map[MethodKind]int),
	}
	for _, o := range list {
		if o.OrderStatus == StatusCancelled {
			s.CancelledCount++
			continue
		}
		s.OrderCount++
		s.GrossAmount += o.TotalAmount
		if o.PaymentStatus == PaymentPaid {
			s.PaidAmount += o.TotalAmount
		}
		s.ByOrderStatus[o.OrderStatus]++
		s.ByPaymentMethod[o.PaymentMethod]++
	}
	if s.OrderCount > 0 {
		s.AverageOrderValue = s.GrossAmount / pricing.Money(s.OrderCount)
	}
	return s, nil
}

// transition loads an order, applies fn and writes the status fields back guarded by
// the statuses it read.
func (l *Lifecycle) transition(ctx context.Context, actorID, id string, fn func(o *Order) error) (Order, error) {
	before, err := l.store.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	after := before.clone()
	if err := fn(&after); err != nil {
		return Order{}, err
	}
	after.UpdatedAt = l.now()
	if err := l.store.SaveStatus(ctx, after, before); err != nil {
		return Order{}, fmt.Errorf("failed to save order %s: %w", id, err)
	}

	if before.OrderStatus != after.OrderStatus {
		l.log.Info("order status changed", slog.String("order_id", id), slog.String("from", string(before.OrderStatus)),
			slog.String("to", string(after.OrderStatus)), slog.String("actor_id", actorID))
		l.publish(ctx, kafka.TopicOrderStatusChanged, id, kafka.OrderStatusChangedEvent{
			OrderId:   id,
			From:      string(before.OrderStatus),
			To:        string(after.OrderStatus),
			ActorId:   actorID,
			CreatedAt: after.UpdatedAt,
		})
	}
	if before.PaymentStatus != after.PaymentStatus {
		l.log.Info("payment status changed", slog.String("order_id", id), slog.String("from", string(before.PaymentStatus)),
			slog.String("to", string(after.PaymentStatus)), slog.String("actor_id", actorID))
		l.publish(ctx, kafka.TopicPaymentStatusChanged, id, kafka.PaymentStatusChangedEvent{
			OrderId:   id,
			From:      string(before.PaymentStatus),
			To:        string(after.PaymentStatus),
			ActorId:   actorID,
			Notes:     after.PaymentDetails.Notes,
			CreatedAt: after.UpdatedAt,
		})
	}
	return after, nil
}

func (l *Lifecycle) publish(ctx context.Context, topic, key string, event any) {
	if l.events == nil {
		return
	}
	if err := l.events.Publish(ctx, topic, key, event); err != nil {
		l.log.Error("failed to publish event", slog.String("topic", topic), slog.String("error", err.Error()))
	}
}

func (l *Lifecycle) validateAddress(kind string, a Address) error {
	if err := l.validate.Struct(a); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			missing := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				missing = append(missing, fe.Field())
			}
			return fmt.Errorf("%w: %s address is missing %s", apperr.ErrInvalidArgument, kind, strings.Join(missing, ", "))
		}
		return fmt.Errorf("%w: %s address: %v", apperr.ErrInvalidArgument, kind, err)
	}
	return nil
}

// newOrderNumber formats ORD-YYYYMMDD-XXXXXXXX from the UTC date and 8 random hex digits.
func newOrderNumber(t time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "ORD-" + t.UTC().Format("20060102") + "-" + suffix
}
