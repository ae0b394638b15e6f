package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/meshstats/pkg/sample"
)

// ErrClosed is returned by operations on a closed backend
var ErrClosed = errors.New("storage closed")

// Storage defines the interface for sample storage backends.
// Implementations: memory (testing), badger (production), sqlite (relational)
type Storage interface {
	// Insert stores one sample. Returns false when (timestamp, role, metric)
	// already exists; duplicates are not an error.
	Insert(ctx context.Context, s sample.Sample) (bool, error)

	// InsertFields stores every field at ts in a single transaction and
	// returns how many were new
	InsertFields(ctx context.Context, ts int64, role sample.Role, fields sample.Fields) (int, error)

	// QueryRange returns samples ordered by timestamp, then metric name
	QueryRange(ctx context.Context, req QueryRequest) ([]sample.Sample, error)

	// Latest returns every metric at the newest timestamp for role, or nil
	Latest(ctx context.Context, role sample.Role) (*sample.Record, error)

	// DistinctPeriods lists (year, month) pairs with data, ascending, in loc
	DistinctPeriods(ctx context.Context, role sample.Role, loc *time.Location) ([]Period, error)

	// DistinctTimestamps lists collection timestamps in [start, end], ascending
	DistinctTimestamps(ctx context.Context, role sample.Role, start, end int64) ([]int64, error)

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// QueryRequest specifies which samples to retrieve
type QueryRequest struct {
	Role sample.Role

	// Metric filters to one metric; empty means all metrics
	Metric string

	// Inclusive unix second bounds
	Start int64
	End   int64
}

// Matches reports whether s falls inside the request
func (r QueryRequest) Matches(s sample.Sample) bool {
	if s.Role != r.Role {
		return false
	}
	if r.Metric != "" && s.Metric != r.Metric {
		return false
	}
	return s.Timestamp >= r.Start && s.Timestamp <= r.End
}

// Period is a calendar month with data
type Period struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// Before orders periods chronologically
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

// Stats provides storage health and usage info
type Stats struct {
	// Total samples stored
	TotalSamples uint64 `json:"total_samples"`

	// Unique (role, metric) series
	TotalSeries uint64 `json:"total_series"`

	// Storage size in bytes
	SizeBytes uint64 `json:"size_bytes"`

	Oldest time.Time `json:"oldest,omitempty"`
	Newest time.Time `json:"newest,omitempty"`
}

// ValidateSample checks the fields every backend relies on.
func ValidateSample(s sample.Sample) error {
	if !s.Role.Valid() {
		_, err := sample.ParseRole(string(s.Role))
		return err
	}
	if s.Metric == "" {
		return ErrEmptyMetric
	}
	return nil
}

// ErrEmptyMetric is returned when a sample has no metric name
var ErrEmptyMetric = errors.New("metric name cannot be empty")
