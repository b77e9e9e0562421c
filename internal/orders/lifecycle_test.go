package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"jewellery-storefront/internal/apperr"
	"jewellery-storefront/internal/cart"
	"jewellery-storefront/internal/pricing"
	"jewellery-storefront/internal/products"
	"jewellery-storefront/internal/rates"
	"jewellery-storefront/internal/stores/kafka"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic, _ string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.topics {
		if t == topic {
			n++
		}
	}
	return n
}

type fixture struct {
	lifecycle *Lifecycle
	orders    *MemStore
	ledger    *cart.Ledger
	carts     *cart.MemStore
	rates     *rates.Service
	events    *recordingPublisher
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f, err := buildFixture()
	require.NoError(t, err)
	return f
}

// buildFixture wires the in-memory stores with one GRADE_A ring priced at 15000 per unit.
func buildFixture() (*fixture, error) {
	ctx := context.Background()

	productStore := products.NewMemStore()
	rateSvc, err := rates.NewService(rates.NewMemStore(), products.NewProjector(productStore, nil), nil, nil)
	if err != nil {
		return nil, err
	}
	if _, err := rateSvc.UpdateRates(ctx, "admin-1", []rates.RateUpdate{{Grade: pricing.GradeA, RatePerUnit: dec("15000")}}); err != nil {
		return nil, err
	}
	err = productStore.CreateProduct(ctx, products.Product{
		ID: "ring", SKU: "GA-0000000A", Name: "Ring", Grade: pricing.GradeA,
		Weight: dec("10"), LossPercent: dec("10"), MakingCharge: 500, Active: true,
	})
	if err != nil {
		return nil, err
	}

	carts := cart.NewMemStore()
	ledger, err := cart.NewLedger(carts, productStore, rateSvc, 0, nil)
	if err != nil {
		return nil, err
	}

	events := &recordingPublisher{}
	orderStore := NewMemStore(carts)
	lc, err := NewLifecycle(orderStore, ledger, events, Config{ShippingFee: 250}, nil)
	if err != nil {
		return nil, err
	}
	return &fixture{lifecycle: lc, orders: orderStore, ledger: ledger, carts: carts, rates: rateSvc, events: events}, nil
}

func address() Address {
	return Address{
		FullName:   "Asha Rao",
		Phone:      "+91 98450 00000",
		Line1:      "12 MG Road",
		City:       "Bengaluru",
		State:      "KA",
		PostalCode: "560001",
		Country:    "IN",
	}
}

func evidence() PaymentEvidence {
	return PaymentEvidence{TransactionID: "TXN-1", ScreenshotURL: "https://cdn.example.com/proof.png"}
}

func (f *fixture) fillCart(t *testing.T, user string, qty int) {
	t.Helper()
	_, err := f.ledger.AddItem(context.Background(), user, "ring", qty)
	require.NoError(t, err)
}

func (f *fixture) place(t *testing.T, user string, m PaymentMethod) Order {
	t.Helper()
	o, err := f.lifecycle.PlaceOrder(context.Background(), PlaceOrderRequest{UserID: user, Payment: m, ShippingAddress: address()})
	require.NoError(t, err)
	return o
}

func TestPlaceOrder_CashOnDelivery(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, "u1", 2)

	o := f.place(t, "u1", CashOnDelivery{})
	assert.Regexp(t, `^ORD-\d{8}-[0-9A-F]{8}$`, o.OrderNumber)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.Equal(t, StatusPending, o.OrderStatus)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, pricing.Money(14646), o.Lines[0].PriceAtOrder)
	assert.Equal(t, pricing.Money(29292), o.Subtotal)
	assert.Equal(t, pricing.Money(0), o.Tax)
	assert.Equal(t, pricing.Money(29542), o.TotalAmount)
	assert.Equal(t, address(), o.BillingAddress)
	assert.Equal(t, 1, f.events.count(kafka.TopicOrderPlaced))

	c, err := f.ledger.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestPlaceOrder_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := address()
	bad.PostalCode = ""
	_, err := f.lifecycle.PlaceOrder(ctx, PlaceOrderRequest{UserID: "u1", Payment: CashOnDelivery{}, ShippingAddress: bad})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = f.lifecycle.PlaceOrder(ctx, PlaceOrderRequest{UserID: "u1", Payment: CashOnDelivery{}, ShippingAddress: address()})
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "empty cart")

	_, err = f.lifecycle.PlaceOrder(ctx, PlaceOrderRequest{UserID: "u1", Payment: BankTransfer{}, ShippingAddress: address()})
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "an empty cart is reported before missing evidence")

	f.fillCart(t, "u1", 1)
	_, err = f.lifecycle.PlaceOrder(ctx, PlaceOrderRequest{
		UserID: "u1", Payment: BankTransfer{Evidence: PaymentEvidence{TransactionID: "TXN-1"}}, ShippingAddress: address(),
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	c, err := f.ledger.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, c.IsEmpty(), "a rejected checkout leaves the cart intact")
}

func TestPlaceOrder_FreezesPrices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "u1", 1)
	o := f.place(t, "u1", CashOnDelivery{})

	_, err := f.rates.UpdateRates(ctx, "admin-1", []rates.RateUpdate{{Grade: pricing.GradeA, RatePerUnit: dec("20000")}})
	require.NoError(t, err)

	got, err := f.lifecycle.GetOrder(ctx, Actor{UserID: "u1"}, o.ID)
	require.NoError(t, err)
	assert.Equal(t, pricing.Money(14646), got.Lines[0].PriceAtOrder)
	assert.Equal(t, o.TotalAmount, got.TotalAmount)
}

func TestPlaceOrder_IdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "u1", 1)

	req := PlaceOrderRequest{UserID: "u1", IdempotencyKey: "checkout-1", Payment: CashOnDelivery{}, ShippingAddress: address()}
	first, err := f.lifecycle.PlaceOrder(ctx, req)
	require.NoError(t, err)
	second, err := f.lifecycle.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	list, err := f.lifecycle.ListOrders(ctx, Actor{UserID: "u1"}, Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// laggingStore misses the first idempotency lookup, as a repeat does when it reads
// just before the first request commits.
type laggingStore struct {
	Store
	misses int
}

func (s *laggingStore) FindByIdempotencyKey(ctx context.Context, userID, key string) (Order, error) {
	if s.misses > 0 {
		s.misses--
		return Order{}, apperr.ErrNotFound
	}
	return s.Store.FindByIdempotencyKey(ctx, userID, key)
}

func TestPlaceOrder_RepeatAfterCartClearedReturnsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "u1", 1)

	req := PlaceOrderRequest{UserID: "u1", IdempotencyKey: "checkout-1", Payment: CashOnDelivery{}, ShippingAddress: address()}
	first, err := f.lifecycle.PlaceOrder(ctx, req)
	require.NoError(t, err)

	lagging, err := NewLifecycle(&laggingStore{Store: f.orders, misses: 1}, f.ledger, nil, Config{}, nil)
	require.NoError(t, err)
	second, err := lagging.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	req.IdempotencyKey = "checkout-2"
	_, err = lagging.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestPlaceOrder_DoubleSubmitCreatesOneOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "u1", 1)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.lifecycle.PlaceOrder(ctx, PlaceOrderRequest{UserID: "u1", Payment: CashOnDelivery{}, ShippingAddress: address()})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	placed := 0
	for err := range results {
		if err == nil {
			placed++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrInvalidState)
	}
	assert.Equal(t, 1, placed)

	list, err := f.lifecycle.ListOrders(ctx, Actor{Admin: true}, Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

type collidingNumbers struct {
	calls int
}

func (c *collidingNumbers) next(time.Time) string {
	c.calls++
	if c.calls <= 2 {
		return "ORD-20260101-TAKEN000"
	}
	return "ORD-20260101-FRESH000"
}

func TestPlaceOrder_RetriesOrderNumberCollisions(t *testing.T) {
	f := newFixture(t)
	gen := &collidingNumbers{}
	f.lifecycle.number = gen.next

	f.fillCart(t, "u1", 1)
	first := f.place(t, "u1", CashOnDelivery{})
	assert.Equal(t, "ORD-20260101-TAKEN000", first.OrderNumber)

	f.fillCart(t, "u1", 1)
	second := f.place(t, "u1", CashOnDelivery{})
	assert.Equal(t, "ORD-20260101-FRESH000", second.OrderNumber)
}

func TestPaymentWorkflow_VerifyAndReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "u1", 1)

	o := f.place(t, "u1", BankTransfer{Evidence: evidence()})
	assert.Equal(t, PaymentVerificationRequired, o.PaymentStatus)
	assert.Equal(t, "TXN-1", o.PaymentDetails.TransactionID)

	rejected, err := f.lifecycle.RejectPayment(ctx, "admin-1", o.ID, "amount does not match")
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, rejected.PaymentStatus)
	assert.Contains(t, rejected.PaymentDetails.Notes, "amount does not match")

	_, err = f.lifecycle.VerifyPayment(ctx, "admin-1", o.ID, VerifyPaymentInput{})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	resubmitted, err := f.lifecycle.SubmitPaymentEvidence(ctx, "u1", o.ID, PaymentEvidence{TransactionID: "TXN-2", ScreenshotURL: "https://cdn.example.com/p2.png"})
	require.NoError(t, err)
	assert.Equal(t, PaymentVerificationRequired, resubmitted.PaymentStatus)

	verified, err := f.lifecycle.VerifyPayment(ctx, "admin-1", o.ID, VerifyPaymentInput{Notes: "matched statement", Gateway: "NEFT"})
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, verified.PaymentStatus)
	require.NotNil(t, verified.PaymentDetails.VerifiedAt)
	assert.Equal(t, "admin-1", verified.PaymentDetails.VerifiedBy)
	assert.Equal(t, "TXN-2", verified.PaymentDetails.TransactionID)
	assert.Equal(t, "NEFT", verified.PaymentDetails.PaymentGateway)
	assert.Equal(t, StatusPending, verified.OrderStatus, "verification does not move the order")

	refunded, err := f.lifecycle.RefundPayment(ctx, "admin-1", o.ID, "customer returned item")
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, refunded.PaymentStatus)

	assert.Equal(t, 4, f.events.count(kafka.TopicPaymentStatusChanged))
}

func TestPaymentWorkflow_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "u1", 1)
	o := f.place(t, "u1", CashOnDelivery{})

	_, err := f.lifecycle.VerifyPayment(ctx, "admin-1", o.ID, VerifyPaymentInput{})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.lifecycle.SubmitPaymentEvidence(ctx, "u1", o.ID, evidence())
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.lifecycle.RejectPayment(ctx, "admin-1", o.ID, " ")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = f.lifecycle.RefundPayment(ctx, "admin-1", o.ID, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	failed, err := f.lifecycle.MarkPaymentFailed(ctx, "admin-1", o.ID, "courier could not collect")
	require.NoError(t, err)
	assert.Equal(t, PaymentFailed, failed.PaymentStatus)
}

func TestUpdateOrderStatus_ForwardOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "u1", 1)
	o := f.place(t, "u1", CashOnDelivery{})

	_, err := f.lifecycle.UpdateOrderStatus(ctx, "admin-1", o.ID, StatusDelivered)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.lifecycle.UpdateOrderStatus(ctx, "admin-1", o.ID, "LOST")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	var got Order
	for _, s := range []OrderStatus{StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered} {
		got, err = f.lifecycle.UpdateOrderStatus(ctx, "admin-1", o.ID, s)
		require.NoError(t, err, s)
	}
	require.NotNil(t, got.DeliveredAt)
	assert.Equal(t, PaymentPaid, got.PaymentStatus, "cash is collected on delivery")
	require.NotNil(t, got.PaymentDetails.PaidAt)

	_, err = f.lifecycle.UpdateOrderStatus(ctx, "admin-1", o.ID, StatusCancelled)
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "delivered is terminal")
	assert.Equal(t, 4, f.events.count(kafka.TopicOrderStatusChanged))
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "u1", 1)
	o := f.place(t, "u1", CashOnDelivery{})

	_, err := f.lifecycle.CancelOrder(ctx, "u2", o.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	cancelled, err := f.lifecycle.CancelOrder(ctx, "u1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.OrderStatus)

	_, err = f.lifecycle.UpdateOrderStatus(ctx, "admin-1", o.ID, StatusConfirmed)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	f.fillCart(t, "u1", 1)
	o2 := f.place(t, "u1", CashOnDelivery{})
	for _, s := range []OrderStatus{StatusConfirmed, StatusProcessing} {
		_, err = f.lifecycle.UpdateOrderStatus(ctx, "admin-1", o2.ID, s)
		require.NoError(t, err)
	}
	_, err = f.lifecycle.CancelOrder(ctx, "u1", o2.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestGetAndListOrders_Ownership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "u1", 1)
	o := f.place(t, "u1", CashOnDelivery{})
	f.fillCart(t, "u2", 1)
	f.place(t, "u2", CashOnDelivery{})

	_, err := f.lifecycle.GetOrder(ctx, Actor{UserID: "u2"}, o.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.lifecycle.GetOrder(ctx, Actor{UserID: "admin-1", Admin: true}, o.ID)
	assert.NoError(t, err)

	own, err := f.lifecycle.ListOrders(ctx, Actor{UserID: "u1"}, Filter{UserID: "u2"})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "u1", own[0].UserID)

	all, err := f.lifecycle.ListOrders(ctx, Actor{Admin: true}, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.lifecycle.ListOrders(ctx, Actor{Admin: true}, Filter{Status: "LOST"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestSalesSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fillCart(t, "u1", 1)
	cod := f.place(t, "u1", CashOnDelivery{})
	f.fillCart(t, "u1", 2)
	bank := f.place(t, "u1", BankTransfer{Evidence: evidence()})
	f.fillCart(t, "u2", 1)
	cancelled := f.place(t, "u2", CashOnDelivery{})

	_, err := f.lifecycle.VerifyPayment(ctx, "admin-1", bank.ID, VerifyPaymentInput{})
	require.NoError(t, err)
	_, err = f.lifecycle.CancelOrder(ctx, "u2", cancelled.ID)
	require.NoError(t, err)

	now := time.Now().UTC()
	s, err := f.lifecycle.SalesSummary(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, s.OrderCount)
	assert.Equal(t, 1, s.CancelledCount)
	assert.Equal(t, cod.TotalAmount+bank.TotalAmount, s.GrossAmount)
	assert.Equal(t, bank.TotalAmount, s.PaidAmount)
	assert.Equal(t, 1, s.ByPaymentMethod[MethodBankTransfer])
	assert.Equal(t, 2, s.ByOrderStatus[StatusPending])

	_, err = f.lifecycle.SalesSummary(ctx, now, now.Add(-time.Hour))
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestNewPaymentMethod(t *testing.T) {
	m, err := NewPaymentMethod(MethodCashOnDelivery, PaymentEvidence{})
	require.NoError(t, err)
	assert.Equal(t, CashOnDelivery{}, m)

	m, err = NewPaymentMethod(MethodCashOnDelivery, evidence())
	require.NoError(t, err)
	_, ok := evidenceOf(m)
	assert.False(t, ok, "cash on delivery carries no evidence")

	m, err = NewPaymentMethod(MethodEWallet, evidence())
	require.NoError(t, err)
	ev, ok := evidenceOf(m)
	assert.True(t, ok)
	assert.Equal(t, "TXN-1", ev.TransactionID)

	// incomplete evidence is accepted here and rejected when the order is placed
	m, err = NewPaymentMethod(MethodBankTransfer, PaymentEvidence{ScreenshotURL: "https://cdn.example.com/x.png"})
	require.NoError(t, err)
	assert.Equal(t, MethodBankTransfer, m.Kind())

	_, err = NewPaymentMethod("CHEQUE", evidence())
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}
