// Package series turns stored readings into display-ready chart series.
package series

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/meshstats/pkg/metrics"
	"github.com/nicktill/meshstats/pkg/sample"
	"github.com/nicktill/meshstats/pkg/storage"
)

// minIntervalRatio is the fraction of the expected collection step below
// which two counter readings are too close to yield a rate
const minIntervalRatio = 0.9

// Series is one metric over one display window
type Series struct {
	Metric string         `json:"metric"`
	Role   sample.Role    `json:"role"`
	Period Period         `json:"period"`
	Points []sample.Point `json:"points"`
}

// Loader reads samples and applies transform, rate or scale, then binning
type Loader struct {
	store    storage.Storage
	registry *metrics.Registry
	steps    map[sample.Role]time.Duration
	logger   *zap.Logger
}

// NewLoader creates a loader. steps is the expected collection interval per role.
func NewLoader(store storage.Storage, registry *metrics.Registry, steps map[sample.Role]time.Duration, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{store: store, registry: registry, steps: steps, logger: logger}
}

// MinInterval is the shortest gap between counter readings that yields a rate
func (l *Loader) MinInterval(role sample.Role) float64 {
	return max(1.0, l.steps[role].Seconds()*minIntervalRatio)
}

// Load returns the display series for metric in (end-lookback, end]
func (l *Loader) Load(ctx context.Context, role sample.Role, metric string, end time.Time, lookback time.Duration, period Period) (Series, error) {
	start := end.Add(-lookback)
	byMetric, err := storage.MetricsForPeriod(ctx, l.store, role, start.Unix(), end.Unix())
	if err != nil {
		return Series{Metric: metric, Role: role, Period: period}, fmt.Errorf("failed to load %s series: %w", metric, err)
	}
	return l.Build(role, metric, period, byMetric[metric]), nil
}

// LoadAll builds every listed metric from a single range query
func (l *Loader) LoadAll(ctx context.Context, role sample.Role, names []string, end time.Time, period Period) (map[string]Series, error) {
	start := end.Add(-period.Lookback())
	byMetric, err := storage.MetricsForPeriod(ctx, l.store, role, start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s series: %w", role, period, err)
	}

	out := make(map[string]Series, len(names))
	for _, name := range names {
		out[name] = l.Build(role, name, period, byMetric[name])
	}
	return out, nil
}

// Build transforms raw readings of one metric. Unknown metrics are plain gauges.
func (l *Loader) Build(role sample.Role, metric string, period Period, raw []sample.Point) Series {
	s := Series{Metric: metric, Role: role, Period: period, Points: []sample.Point{}}
	if len(raw) == 0 {
		return s
	}

	points := make([]sample.Point, len(raw))
	for i, p := range raw {
		points[i] = sample.Point{Timestamp: p.Timestamp, Value: l.registry.Apply(metric, p.Value)}
	}

	scale := l.registry.Scale(metric)
	if l.registry.IsCounter(metric) {
		rated := Rate(points, scale, l.MinInterval(role))
		if dropped := len(points) - 1 - len(rated); dropped > 0 {
			l.logger.Debug("counter pairs dropped",
				zap.String("metric", metric),
				zap.String("role", string(role)),
				zap.Int("dropped", dropped))
		}
		points = rated
	} else {
		points = ScaleGauge(points, scale)
	}

	points = Bin(points, period.BinSeconds())
	if points == nil {
		points = []sample.Point{}
	}
	s.Points = points
	return s
}
