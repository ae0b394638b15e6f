package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/meshstats/pkg/metrics"
	"github.com/nicktill/meshstats/pkg/sample"
	"github.com/nicktill/meshstats/pkg/storage"
)

// ErrInvalidMonth is returned for months outside 1..12
var ErrInvalidMonth = errors.New("invalid month")

// DailyAggregate holds stats for every metric seen on one local day
type DailyAggregate struct {
	Date        time.Time // local midnight
	Metrics     map[string]MetricStats
	SampleCount int // distinct collection timestamps
}

// MonthlyAggregate is composed from the days of a month that have data
type MonthlyAggregate struct {
	Year    int
	Month   time.Month
	Role    sample.Role
	Daily   []DailyAggregate
	Summary map[string]MetricStats
}

// YearlyAggregate is composed from monthly summaries
type YearlyAggregate struct {
	Year    int
	Role    sample.Role
	Monthly []MonthlyAggregate
	Summary map[string]MetricStats
}

// Aggregator builds reports bottom-up. Only Daily reads raw samples.
type Aggregator struct {
	store    storage.Storage
	registry *metrics.Registry
	loc      *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithLocation sets the zone that defines day and month boundaries
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// WithClock overrides time.Now, which bounds aggregation to today
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAggregator creates an aggregator over store
func NewAggregator(store storage.Storage, registry *metrics.Registry, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:    store,
		registry: registry,
		loc:      time.Local,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Location returns the zone reports are computed in
func (a *Aggregator) Location() *time.Location {
	return a.loc
}

// Daily aggregates raw samples of role for the local day containing date
func (a *Aggregator) Daily(ctx context.Context, role sample.Role, date time.Time) (DailyAggregate, error) {
	if !role.Valid() {
		return DailyAggregate{}, fmt.Errorf("%w: %q", sample.ErrInvalidRole, role)
	}

	y, m, d := date.In(a.loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, a.loc)
	end := start.AddDate(0, 0, 1)

	agg := DailyAggregate{Date: start, Metrics: make(map[string]MetricStats)}

	byMetric, err := storage.MetricsForPeriod(ctx, a.store, role, start.Unix(), end.Unix()-1)
	if err != nil {
		return agg, fmt.Errorf("failed to aggregate %s %s: %w", role, start.Format(time.DateOnly), err)
	}

	timestamps := make(map[int64]struct{})
	for name, points := range byMetric {
		for _, p := range points {
			timestamps[p.Timestamp] = struct{}{}
		}
		if a.registry.IsCounter(name) {
			agg.Metrics[name] = ReduceCounter(points)
		} else {
			agg.Metrics[name] = ReduceGauge(points)
		}
	}
	agg.SampleCount = len(timestamps)
	return agg, nil
}

// Monthly aggregates each day of the month up to today, skipping empty days
func (a *Aggregator) Monthly(ctx context.Context, role sample.Role, year int, month time.Month) (MonthlyAggregate, error) {
	agg := MonthlyAggregate{Year: year, Month: month, Role: role}
	if month < time.January || month > time.December {
		return agg, fmt.Errorf("%w: %d", ErrInvalidMonth, month)
	}

	today := a.today()
	first := time.Date(year, month, 1, 0, 0, 0, 0, a.loc)
	days := first.AddDate(0, 1, -1).Day()

	for day := 1; day <= days; day++ {
		date := time.Date(year, month, day, 0, 0, 0, 0, a.loc)
		if date.After(today) {
			break
		}
		daily, err := a.Daily(ctx, role, date)
		if err != nil {
			return agg, err
		}
		if daily.SampleCount > 0 {
			agg.Daily = append(agg.Daily, daily)
		}
	}

	children := make([]map[string]MetricStats, len(agg.Daily))
	for i, d := range agg.Daily {
		children[i] = d.Metrics
	}
	agg.Summary = a.summarize(role, children)

	a.logger.Debug("monthly aggregate built",
		zap.String("role", string(role)),
		zap.Int("year", year),
		zap.Int("month", int(month)),
		zap.Int("days_with_data", len(agg.Daily)))
	return agg, nil
}

// Yearly aggregates months up to the current one, skipping months without data
func (a *Aggregator) Yearly(ctx context.Context, role sample.Role, year int) (YearlyAggregate, error) {
	agg := YearlyAggregate{Year: year, Role: role}
	today := a.today()

	for month := time.January; month <= time.December; month++ {
		if time.Date(year, month, 1, 0, 0, 0, 0, a.loc).After(today) {
			break
		}
		monthly, err := a.Monthly(ctx, role, year, month)
		if err != nil {
			return agg, err
		}
		if len(monthly.Daily) > 0 {
			agg.Monthly = append(agg.Monthly, monthly)
		}
	}

	children := make([]map[string]MetricStats, len(agg.Monthly))
	for i, m := range agg.Monthly {
		children[i] = m.Summary
	}
	agg.Summary = a.summarize(role, children)
	return agg, nil
}

// AvailablePeriods lists (year, month) pairs with data, ascending
func (a *Aggregator) AvailablePeriods(ctx context.Context, role sample.Role) ([]storage.Period, error) {
	periods, err := a.store.DistinctPeriods(ctx, role, a.loc)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s periods: %w", role, err)
	}
	return periods, nil
}

// summarize composes child stats per metric. Every report metric of role is
// present in the result, empty when no child has data for it.
func (a *Aggregator) summarize(role sample.Role, children []map[string]MetricStats) map[string]MetricStats {
	names := make(map[string]struct{})
	for _, name := range a.registry.ReportMetrics(role) {
		names[name] = struct{}{}
	}
	for _, child := range children {
		for name := range child {
			names[name] = struct{}{}
		}
	}

	summary := make(map[string]MetricStats, len(names))
	for name := range names {
		var stats []MetricStats
		for _, child := range children {
			if s, ok := child[name]; ok {
				stats = append(stats, s)
			}
		}
		kind := metrics.GaugeKind
		if a.registry.IsCounter(name) {
			kind = metrics.CounterKind
		}
		summary[name] = compose(kind, stats)
	}
	return summary
}

func (a *Aggregator) today() time.Time {
	y, m, d := a.now().In(a.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, a.loc)
}
