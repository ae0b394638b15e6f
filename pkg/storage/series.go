package storage

import (
	"context"
	"fmt"

	"github.com/nicktill/meshstats/pkg/battery"
	"github.com/nicktill/meshstats/pkg/sample"
)

// MetricsForPeriod returns every metric of role in [start, end] grouped by
// name, plus the derived bat_pct series
func MetricsForPeriod(ctx context.Context, s Storage, role sample.Role, start, end int64) (map[string][]sample.Point, error) {
	samples, err := s.QueryRange(ctx, QueryRequest{Role: role, Start: start, End: end})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s samples: %w", role, err)
	}
	byMetric := sample.Pivot(samples)
	battery.Derive(role, byMetric)
	return byMetric, nil
}

// LatestRecord returns the newest record of role with bat_pct derived
func LatestRecord(ctx context.Context, s Storage, role sample.Role) (*sample.Record, error) {
	rec, err := s.Latest(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest %s record: %w", role, err)
	}
	battery.DeriveRecord(rec)
	return rec, nil
}
