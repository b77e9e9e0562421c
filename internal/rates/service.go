package rates

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"jewellery-storefront/internal/apperr"
	"jewellery-storefront/internal/pricing"
	"jewellery-storefront/internal/stores/kafka"

	"github.com/shopspring/decimal"
)

// Projector recomputes cached product prices from one rate snapshot.
type Projector interface {
	RecomputeAll(ctx context.Context, table pricing.RateTable) (ProjectionResult, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

type ProjectionFailure struct {
	ProductID string `json:"product_id"`
	Reason    string `json:"reason"`
}

// ProjectionResult summarises one bulk recomputation pass.
type ProjectionResult struct {
	Scanned   int                 `json:"scanned"`
	Updated   int                 `json:"updated"`
	Unchanged int                 `json:"unchanged"`
	Skipped   int                 `json:"skipped,omitempty"`
	Failed    []ProjectionFailure `json:"failed,omitempty"`
}

type RateUpdate struct {
	Grade       pricing.Grade
	RatePerUnit decimal.Decimal
	// ExpectedUpdatedAt opts into conflict detection against another admin's write.
	ExpectedUpdatedAt *time.Time
}

type UpdateResult struct {
	Rates           []pricing.Rate   `json:"rates"`
	Projection      ProjectionResult `json:"projection"`
	ProjectionError string           `json:"projection_error,omitempty"`
}

type Service struct {
	store     Store
	projector Projector
	events    EventPublisher
	log       *slog.Logger
	now       func() time.Time

	// serializes admin writes within this process; across processes the
	// expected-timestamp check is the only guard.
	mu sync.Mutex
}

func NewService(store Store, projector Projector, events EventPublisher, log *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("rate store is nil")
	}
	if projector == nil {
		return nil, fmt.Errorf("price projector is nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:     store,
		projector: projector,
		events:    events,
		log:       log,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}, nil
}

// Table returns a snapshot of every stored rate, active or not.
func (s *Service) Table(ctx context.Context) (pricing.RateTable, error) {
	all, err := s.store.ListRates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rate table: %w", err)
	}
	return pricing.NewRateTable(all), nil
}

// CurrentRates lists active rates, optionally restricted to one grade.
func (s *Service) CurrentRates(ctx context.Context, grade pricing.Grade) ([]pricing.Rate, error) {
	if grade != "" && !grade.Valid() {
		return nil, fmt.Errorf("%w: unknown grade %q", apperr.ErrInvalidArgument, grade)
	}
	all, err := s.store.ListRates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rates: %w", err)
	}
	out := make([]pricing.Rate, 0, len(all))
	for _, r := range all {
		if !r.Active || (grade != "" && r.Grade != grade) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// UpdateRates persists every change first and then runs a single recomputation pass
// over the active catalog. A failed pass does not undo the rate change.
func (s *Service) UpdateRates(ctx context.Context, adminID string, updates []RateUpdate) (UpdateResult, error) {
	if adminID == "" {
		return UpdateResult{}, fmt.Errorf("%w: admin id is required", apperr.ErrInvalidArgument)
	}
	if len(updates) == 0 {
		return UpdateResult{}, fmt.Errorf("%w: no rates given", apperr.ErrInvalidArgument)
	}

	now := s.now()
	seen := make(map[pricing.Grade]bool, len(updates))
	batch := make([]pricing.Rate, 0, len(updates))
	expected := make(map[pricing.Grade]time.Time)
	for _, u := range updates {
		if !u.Grade.Valid() {
			return UpdateResult{}, fmt.Errorf("%w: unknown grade %q", apperr.ErrInvalidArgument, u.Grade)
		}
		if seen[u.Grade] {
			return UpdateResult{}, fmt.Errorf("%w: grade %s given more than once", apperr.ErrInvalidArgument, u.Grade)
		}
		seen[u.Grade] = true
		if !u.RatePerUnit.IsPositive() {
			return UpdateResult{}, fmt.Errorf("%w: rate for %s must be positive", apperr.ErrInvalidArgument, u.Grade)
		}
		if u.ExpectedUpdatedAt != nil {
			expected[u.Grade] = u.ExpectedUpdatedAt.UTC().Truncate(time.Microsecond)
		}
		batch = append(batch, pricing.Rate{
			Grade:       u.Grade,
			RatePerUnit: u.RatePerUnit,
			Active:      true,
			LastUpdated: now,
			UpdatedBy:   adminID,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SaveRates(ctx, batch, expected); err != nil {
		return UpdateResult{}, fmt.Errorf("failed to save rates: %w", err)
	}
	s.log.Info("rates updated", slog.String("admin_id", adminID), slog.Int("count", len(batch)))

	result := UpdateResult{Rates: batch}
	result.Projection, result.ProjectionError = s.reproject(ctx)
	s.publish(ctx, adminID, batch, result.Projection)
	return result, nil
}

// DeactivateRate marks a grade inactive. Products of that grade stop being priceable.
func (s *Service) DeactivateRate(ctx context.Context, adminID string, grade pricing.Grade) (UpdateResult, error) {
	if !grade.Valid() {
		return UpdateResult{}, fmt.Errorf("%w: unknown grade %q", apperr.ErrInvalidArgument, grade)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.Table(ctx)
	if err != nil {
		return UpdateResult{}, err
	}
	current, ok := table[grade]
	if !ok {
		return UpdateResult{}, fmt.Errorf("%w: no rate for grade %s", apperr.ErrNotFound, grade)
	}

	current.Active = false
	current.LastUpdated = s.now()
	current.UpdatedBy = adminID
	if err := s.store.SaveRates(ctx, []pricing.Rate{current}, nil); err != nil {
		return UpdateResult{}, fmt.Errorf("failed to deactivate rate: %w", err)
	}

	result := UpdateResult{Rates: []pricing.Rate{current}}
	result.Projection, result.ProjectionError = s.reproject(ctx)
	s.publish(ctx, adminID, result.Rates, result.Projection)
	return result, nil
}

// Recompute re-runs the projection against the current rates. It is the retry path
// after a partially failed pass.
func (s *Service) Recompute(ctx context.Context) (ProjectionResult, error) {
	table, err := s.Table(ctx)
	if err != nil {
		return ProjectionResult{}, err
	}
	return s.projector.RecomputeAll(ctx, table)
}

func (s *Service) reproject(ctx context.Context) (ProjectionResult, string) {
	table, err := s.Table(ctx)
	if err != nil {
		s.log.Error("rates saved but projection skipped", slog.String("error", err.Error()))
		return ProjectionResult{}, err.Error()
	}
	res, err := s.projector.RecomputeAll(ctx, table)
	if err != nil {
		s.log.Error("rates saved but projection failed", slog.String("error", err.Error()))
		return res, err.Error()
	}
	if len(res.Failed) > 0 {
		s.log.Warn("projection left stale prices", slog.Int("failed", len(res.Failed)), slog.Int("updated", res.Updated))
	}
	return res, ""
}

func (s *Service) publish(ctx context.Context, adminID string, batch []pricing.Rate, res ProjectionResult) {
	if s.events == nil {
		return
	}
	changes := make([]kafka.RateChange, 0, len(batch))
	for _, r := range batch {
		changes = append(changes, kafka.RateChange{
			Grade:       string(r.Grade),
			RatePerUnit: r.RatePerUnit.String(),
			Active:      r.Active,
		})
	}
	event := kafka.RatesUpdatedEvent{
		Rates:     changes,
		UpdatedBy: adminID,
		Repriced:  res.Updated,
		Failed:    len(res.Failed),
		CreatedAt: s.now(),
	}
	if err := s.events.Publish(ctx, kafka.TopicRatesUpdated, adminID, event); err != nil {
		s.log.Error("failed to publish rates updated event", slog.String("error", err.Error()))
	}
}
