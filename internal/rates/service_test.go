package rates

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"jewellery-storefront/internal/apperr"
	"jewellery-storefront/internal/pricing"
	"jewellery-storefront/internal/stores/kafka"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProjector struct {
	mu     sync.Mutex
	tables []pricing.RateTable
	result ProjectionResult
	err    error
}

func (f *fakeProjector) RecomputeAll(_ context.Context, table pricing.RateTable) (ProjectionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables = append(f.tables, table)
	return f.result, f.err
}

type recordedEvent struct {
	topic string
	key   string
	event any
}

type fakePublisher struct {
	events []recordedEvent
}

func (f *fakePublisher) Publish(_ context.Context, topic, key string, event any) error {
	f.events = append(f.events, recordedEvent{topic: topic, key: key, event: event})
	return nil
}

func newTestService(t *testing.T) (*Service, *MemStore, *fakeProjector, *fakePublisher) {
	t.Helper()
	store := NewMemStore()
	proj := &fakeProjector{}
	pub := &fakePublisher{}
	svc, err := NewService(store, proj, pub, nil)
	require.NoError(t, err)
	return svc, store, proj, pub
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestUpdateRates_BatchRunsOneProjection(t *testing.T) {
	svc, _, proj, pub := newTestService(t)
	ctx := context.Background()

	res, err := svc.UpdateRates(ctx, "admin-1", []RateUpdate{
		{Grade: pricing.GradeA, RatePerUnit: dec("15000")},
		{Grade: pricing.GradeB, RatePerUnit: dec("13750")},
		{Grade: pricing.Silver, RatePerUnit: dec("180")},
	})
	require.NoError(t, err)
	assert.Len(t, res.Rates, 3)

	require.Len(t, proj.tables, 1, "one catalog pass per admin action")
	table := proj.tables[0]
	for _, g := range pricing.Grades {
		_, ok := table.ActiveRate(g)
		assert.True(t, ok, g)
	}

	require.Len(t, pub.events, 1)
	assert.Equal(t, kafka.TopicRatesUpdated, pub.events[0].topic)
	ev := pub.events[0].event.(kafka.RatesUpdatedEvent)
	assert.Equal(t, "admin-1", ev.UpdatedBy)
	assert.Len(t, ev.Rates, 3)
}

func TestUpdateRates_Validation(t *testing.T) {
	svc, store, proj, _ := newTestService(t)
	ctx := context.Background()

	cases := map[string][]RateUpdate{
		"empty":         nil,
		"zero rate":     {{Grade: pricing.GradeA, RatePerUnit: dec("0")}},
		"negative rate": {{Grade: pricing.GradeA, RatePerUnit: dec("-5")}},
		"unknown grade": {{Grade: "PLATINUM", RatePerUnit: dec("5")}},
		"duplicate": {
			{Grade: pricing.GradeA, RatePerUnit: dec("5")},
			{Grade: pricing.GradeA, RatePerUnit: dec("6")},
		},
	}
	for name, updates := range cases {
		_, err := svc.UpdateRates(ctx, "admin-1", updates)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument, name)
	}

	_, err := svc.UpdateRates(ctx, "", []RateUpdate{{Grade: pricing.GradeA, RatePerUnit: dec("5")}})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	all, _ := store.ListRates(ctx)
	assert.Empty(t, all, "nothing persisted on validation failure")
	assert.Empty(t, proj.tables)
}

func TestUpdateRates_ProjectionFailureKeepsRateChange(t *testing.T) {
	svc, store, proj, _ := newTestService(t)
	proj.err = errors.New("catalog unavailable")
	ctx := context.Background()

	res, err := svc.UpdateRates(ctx, "admin-1", []RateUpdate{{Grade: pricing.GradeA, RatePerUnit: dec("15000")}})
	require.NoError(t, err)
	assert.Equal(t, "catalog unavailable", res.ProjectionError)

	all, err := store.ListRates(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].RatePerUnit.Equal(dec("15000")))
}

func TestUpdateRates_ExpectedTimestampDetectsConcurrentAdmin(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.UpdateRates(ctx, "admin-1", []RateUpdate{{Grade: pricing.GradeA, RatePerUnit: dec("15000")}})
	require.NoError(t, err)
	seenAt := first.Rates[0].LastUpdated

	svc.now = func() time.Time { return seenAt.Add(time.Second) }
	_, err = svc.UpdateRates(ctx, "admin-2", []RateUpdate{{Grade: pricing.GradeA, RatePerUnit: dec("15100"), ExpectedUpdatedAt: &seenAt}})
	require.NoError(t, err)

	svc.now = func() time.Time { return seenAt.Add(2 * time.Second) }
	_, err = svc.UpdateRates(ctx, "admin-1", []RateUpdate{{Grade: pricing.GradeA, RatePerUnit: dec("14900"), ExpectedUpdatedAt: &seenAt}})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	rates, err := svc.CurrentRates(ctx, pricing.GradeA)
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.True(t, rates[0].RatePerUnit.Equal(dec("15100")))
	assert.Equal(t, "admin-2", rates[0].UpdatedBy)
}

func TestCurrentRates_FiltersInactiveAndGrade(t *testing.T) {
	svc, _, proj, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpdateRates(ctx, "admin-1", []RateUpdate{
		{Grade: pricing.GradeA, RatePerUnit: dec("15000")},
		{Grade: pricing.Silver, RatePerUnit: dec("180")},
	})
	require.NoError(t, err)

	_, err = svc.DeactivateRate(ctx, "admin-1", pricing.Silver)
	require.NoError(t, err)
	assert.Len(t, proj.tables, 2)

	active, err := svc.CurrentRates(ctx, "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, pricing.GradeA, active[0].Grade)

	silver, err := svc.CurrentRates(ctx, pricing.Silver)
	require.NoError(t, err)
	assert.Empty(t, silver)

	_, err = svc.CurrentRates(ctx, "GOLD")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = svc.DeactivateRate(ctx, "admin-1", pricing.GradeB)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRecompute_UsesCurrentTable(t *testing.T) {
	svc, _, proj, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.UpdateRates(ctx, "admin-1", []RateUpdate{{Grade: pricing.GradeB, RatePerUnit: dec("12000")}})
	require.NoError(t, err)

	proj.result = ProjectionResult{Scanned: 4, Updated: 0, Unchanged: 4}
	res, err := svc.Recompute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Unchanged)

	last := proj.tables[len(proj.tables)-1]
	rate, ok := last.ActiveRate(pricing.GradeB)
	require.True(t, ok)
	assert.True(t, rate.Equal(dec("12000")))
}
