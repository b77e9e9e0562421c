package cart

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"jewellery-storefront/internal/apperr"
	"jewellery-storefront/internal/pricing"
	"jewellery-storefront/internal/products"
	"jewellery-storefront/internal/rates"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ledger   *Ledger
	store    *MemStore
	products *products.MemStore
	rates    *rates.Service
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newFixture(t *testing.T, maxRetries int) *fixture {
	t.Helper()
	ctx := context.Background()

	productStore := products.NewMemStore()
	rateSvc, err := rates.NewService(rates.NewMemStore(), products.NewProjector(productStore, nil), nil, nil)
	require.NoError(t, err)
	_, err = rateSvc.UpdateRates(ctx, "admin-1", []rates.RateUpdate{
		{Grade: pricing.GradeA, RatePerUnit: dec("15000")},
		{Grade: pricing.Silver, RatePerUnit: dec("200")},
	})
	require.NoError(t, err)

	for _, p := range []products.Product{
		{ID: "ring", SKU: "GA-00000001", Name: "Ring", Grade: pricing.GradeA, Weight: dec("10"), LossPercent: dec("10"), MakingCharge: 500, Active: true},
		{ID: "anklet", SKU: "SL-00000002", Name: "Anklet", Grade: pricing.Silver, Weight: dec("10"), LossPercent: dec("10"), MakingCharge: 500, Active: true},
		{ID: "retired", SKU: "GA-00000003", Name: "Retired", Grade: pricing.GradeA, Weight: dec("1"), LossPercent: dec("0"), Active: false},
	} {
		require.NoError(t, productStore.CreateProduct(ctx, p))
	}

	store := NewMemStore()
	ledger, err := NewLedger(store, productStore, rateSvc, maxRetries, nil)
	require.NoError(t, err)
	return &fixture{ledger: ledger, store: store, products: productStore, rates: rateSvc}
}

func assertTotals(t *testing.T, c Cart) {
	t.Helper()
	var total pricing.Money
	count := 0
	for _, l := range c.Lines {
		total += l.PriceSnapshot * pricing.Money(l.Quantity)
		count += l.Quantity
		assert.GreaterOrEqual(t, l.Quantity, 1)
	}
	assert.Equal(t, total, c.TotalAmount)
	assert.Equal(t, count, c.ItemCount)
}

func TestLedger_AddMergesLines(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.ledger.AddItem(ctx, "u1", "ring", 1)
	require.NoError(t, err)
	c, err := f.ledger.AddItem(ctx, "u1", "ring", 2)
	require.NoError(t, err)

	require.Len(t, c.Lines, 1)
	assert.Equal(t, 3, c.Lines[0].Quantity)
	assert.Equal(t, pricing.Money(14646), c.Lines[0].PriceSnapshot)
	assert.Equal(t, "Ring", c.Lines[0].Name)
	assert.Equal(t, pricing.Money(3*14646), c.TotalAmount)
	assert.Equal(t, 3, c.ItemCount)
}

func TestLedger_Errors(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.ledger.AddItem(ctx, "u1", "ring", 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = f.ledger.AddItem(ctx, "u1", "missing", 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.ledger.AddItem(ctx, "u1", "retired", 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.ledger.RemoveItem(ctx, "u1", "ring")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.ledger.UpdateQuantity(ctx, "u1", "ring", 2)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.ledger.Get(ctx, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestLedger_UpdateQuantityZeroRemoves(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.ledger.AddItem(ctx, "u1", "ring", 2)
	require.NoError(t, err)
	_, err = f.ledger.AddItem(ctx, "u1", "anklet", 1)
	require.NoError(t, err)

	c, err := f.ledger.UpdateQuantity(ctx, "u1", "ring", 0)
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, "anklet", c.Lines[0].ProductID)
	assertTotals(t, c)

	c, err = f.ledger.Clear(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Equal(t, pricing.Money(0), c.TotalAmount)
	assert.Equal(t, 0, c.ItemCount)
}

func TestLedger_TotalsMatchLinesForRandomSequences(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	rnd := rand.New(rand.NewSource(7))
	ids := []string{"ring", "anklet"}

	for i := 0; i < 300; i++ {
		id := ids[rnd.Intn(len(ids))]
		var (
			c   Cart
			err error
		)
		switch rnd.Intn(4) {
		case 0:
			c, err = f.ledger.AddItem(ctx, "u1", id, 1+rnd.Intn(3))
		case 1:
			c, err = f.ledger.UpdateQuantity(ctx, "u1", id, rnd.Intn(5)-1)
		case 2:
			c, err = f.ledger.RemoveItem(ctx, "u1", id)
		case 3:
			c, err = f.ledger.Get(ctx, "u1")
		}
		if err != nil {
			require.ErrorIs(t, err, apperr.ErrNotFound)
			continue
		}
		assertTotals(t, c)
	}
}

func TestLedger_ReadRepricesAfterRateChange(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.ledger.AddItem(ctx, "u1", "ring", 2)
	require.NoError(t, err)

	_, err = f.rates.UpdateRates(ctx, "admin-1", []rates.RateUpdate{{Grade: pricing.GradeA, RatePerUnit: dec("16000")}})
	require.NoError(t, err)

	want, err := pricing.ComputePrice(dec("10"), dec("10"), 500, dec("16000"))
	require.NoError(t, err)

	c, err := f.ledger.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, want, c.Lines[0].PriceSnapshot)
	assert.Equal(t, 2*want, c.TotalAmount)

	stored, err := f.store.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, want, stored.Lines[0].PriceSnapshot)
}

func TestLedger_ReadIgnoresStaleCachedPrice(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.ledger.AddItem(ctx, "u1", "ring", 1)
	require.NoError(t, err)
	ring, err := f.products.GetProduct(ctx, "ring")
	require.NoError(t, err)
	ring.CachedPrice = 1
	require.NoError(t, f.products.UpdateProduct(ctx, ring))

	c, err := f.ledger.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, pricing.Money(14646), c.Lines[0].PriceSnapshot)
}

func TestLedger_MissingRateFailsRead(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.ledger.AddItem(ctx, "u1", "anklet", 1)
	require.NoError(t, err)
	_, err = f.rates.DeactivateRate(ctx, "admin-1", pricing.Silver)
	require.NoError(t, err)

	_, err = f.ledger.Get(ctx, "u1")
	assert.ErrorIs(t, err, apperr.ErrDegenerate)

	c, err := f.ledger.RemoveItem(ctx, "u1", "anklet")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestLedger_DropsDeactivatedProducts(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.ledger.AddItem(ctx, "u1", "ring", 1)
	require.NoError(t, err)
	_, err = f.ledger.AddItem(ctx, "u1", "anklet", 1)
	require.NoError(t, err)

	p, err := f.products.GetProduct(ctx, "anklet")
	require.NoError(t, err)
	p.Active = false
	require.NoError(t, f.products.UpdateProduct(ctx, p))

	c, err := f.ledger.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, "ring", c.Lines[0].ProductID)
	assertTotals(t, c)
}

func TestLedger_ConcurrentAddsAreNotLost(t *testing.T) {
	const workers = 8
	f := newFixture(t, workers+2)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.AddItem(ctx, "u1", "ring", 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	c, err := f.ledger.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, workers, c.Lines[0].Quantity)
	assertTotals(t, c)
}

type contendedStore struct {
	*MemStore
	saves int
}

func (s *contendedStore) SaveCart(context.Context, Cart) (int64, error) {
	s.saves++
	return 0, ErrVersionMismatch
}

func TestLedger_GivesUpAfterMaxRetries(t *testing.T) {
	f := newFixture(t, 0)
	store := &contendedStore{MemStore: NewMemStore()}
	ledger, err := NewLedger(store, f.products, f.rates, 3, nil)
	require.NoError(t, err)

	_, err = ledger.AddItem(context.Background(), "u1", "ring", 1)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, 3, store.saves)
}

func TestMemStore_ClearIfVersion(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	v, err := store.SaveCart(ctx, Cart{UserID: "u1", Lines: []Line{{ProductID: "ring", Quantity: 1, PriceSnapshot: 10, AddedAt: time.Now()}}})
	require.NoError(t, err)

	assert.ErrorIs(t, store.ClearIfVersion(ctx, "u1", v+1), ErrVersionMismatch)
	require.NoError(t, store.ClearIfVersion(ctx, "u1", v))

	c, err := store.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Equal(t, v+1, c.Version)
}
