package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nicktill/meshstats/pkg/sample"
	"github.com/nicktill/meshstats/pkg/storage"
)

type key struct {
	ts     int64
	role   sample.Role
	metric string
}

// Storage stores samples in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	samples map[key]float64
	closed  bool
	mu      sync.RWMutex
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		samples: make(map[key]float64),
	}
}

// Insert stores one sample, reporting false for a duplicate key
func (s *Storage) Insert(ctx context.Context, smp sample.Sample) (bool, error) {
	if err := storage.ValidateSample(smp); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, storage.ErrClosed
	}
	return s.insertLocked(smp), nil
}

// InsertFields stores every field at ts
func (s *Storage) InsertFields(ctx context.Context, ts int64, role sample.Role, fields sample.Fields) (int, error) {
	samples := fields.Samples(ts, role)
	for _, smp := range samples {
		if err := storage.ValidateSample(smp); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storage.ErrClosed
	}
	inserted := 0
	for _, smp := range samples {
		if s.insertLocked(smp) {
			inserted++
		}
	}
	return inserted, nil
}

func (s *Storage) insertLocked(smp sample.Sample) bool {
	k := key{ts: smp.Timestamp, role: smp.Role, metric: smp.Metric}
	if _, exists := s.samples[k]; exists {
		return false
	}
	s.samples[k] = smp.Value
	return true
}

// QueryRange retrieves samples matching the request
func (s *Storage) QueryRange(ctx context.Context, req storage.QueryRequest) ([]sample.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	var results []sample.Sample
	for k, v := range s.samples {
		smp := sample.Sample{Timestamp: k.ts, Role: k.role, Metric: k.metric, Value: v}
		if req.Matches(smp) {
			results = append(results, smp)
		}
	}
	sample.SortSamples(results)
	return results, nil
}

// Latest returns all metrics at the newest timestamp for role
func (s *Storage) Latest(ctx context.Context, role sample.Role) (*sample.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	var newest int64
	found := false
	for k := range s.samples {
		if k.role == role && (!found || k.ts > newest) {
			newest = k.ts
			found = true
		}
	}
	if !found {
		return nil, nil
	}

	rec := &sample.Record{Timestamp: newest, Role: role, Values: make(map[string]float64)}
	for k, v := range s.samples {
		if k.role == role && k.ts == newest {
			rec.Values[k.metric] = v
		}
	}
	return rec, nil
}

// DistinctPeriods lists months with data for role
func (s *Storage) DistinctPeriods(ctx context.Context, role sample.Role, loc *time.Location) ([]storage.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	seen := make(map[storage.Period]bool)
	for k := range s.samples {
		if k.role != role {
			continue
		}
		t := time.Unix(k.ts, 0).In(loc)
		seen[storage.Period{Year: t.Year(), Month: t.Month()}] = true
	}

	periods := make([]storage.Period, 0, len(seen))
	for p := range seen {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })
	return periods, nil
}

// DistinctTimestamps lists collection timestamps for role in [start, end]
func (s *Storage) DistinctTimestamps(ctx context.Context, role sample.Role, start, end int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	seen := make(map[int64]bool)
	for k := range s.samples {
		if k.role == role && k.ts >= start && k.ts <= end {
			seen[k.ts] = true
		}
	}
	out := make([]int64, 0, len(seen))
	for ts := range seen {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Close marks the storage closed
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		TotalSamples: uint64(len(s.samples)),
	}
	if len(s.samples) == 0 {
		return stats, nil
	}

	// Count unique series and find min/max timestamps in single pass
	series := make(map[string]bool)
	var oldest, newest int64
	first := true
	for k := range s.samples {
		series[string(k.role)+"/"+k.metric] = true
		if first || k.ts < oldest {
			oldest = k.ts
		}
		if first || k.ts > newest {
			newest = k.ts
		}
		first = false
	}

	stats.TotalSeries = uint64(len(series))
	stats.Oldest = time.Unix(oldest, 0).UTC()
	stats.Newest = time.Unix(newest, 0).UTC()

	// Rough size estimate (each sample ~64 bytes)
	stats.SizeBytes = uint64(len(s.samples)) * 64

	return stats, nil
}
