package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/nicktill/meshstats/pkg/config"
	"github.com/nicktill/meshstats/pkg/sample"
	"github.com/nicktill/meshstats/pkg/storage"
)

const (
	// MaxImportErrors caps how many validation messages an import reports
	MaxImportErrors = 100

	// maxFutureSkew rejects samples stamped too far ahead of the local clock
	maxFutureSkew = 24 * time.Hour
)

// Importer handles importing samples from backup files
type Importer struct {
	storage storage.Storage
	now     func() time.Time
}

// NewImporter creates a new importer
func NewImporter(store storage.Storage) *Importer {
	return &Importer{storage: store, now: time.Now}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	SamplesImported int       `json:"samples_imported"`
	Duplicates      int       `json:"duplicates"`
	Rejected        int       `json:"rejected"`
	BatchesWritten  int       `json:"batches_written"`
	TimeRange       string    `json:"time_range"`
	ImportedAt      time.Time `json:"imported_at"`
	Errors          []string  `json:"errors,omitempty"`
}

type batchKey struct {
	ts   int64
	role sample.Role
}

// ImportFromJSON imports samples from a JSON backup. Invalid samples are
// skipped and reported; samples already stored count as duplicates.
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var backup Backup
	if err := json.NewDecoder(r).Decode(&backup); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}

	result := &ImportResult{ImportedAt: im.now().UTC(), TimeRange: "empty"}
	if len(backup.Samples) == 0 {
		return result, nil
	}

	// One InsertFields call per collection instant
	batches := make(map[batchKey]sample.Fields)
	var order []batchKey
	var minTS, maxTS int64
	for i, s := range backup.Samples {
		if err := im.validate(s); err != nil {
			result.Rejected++
			if len(result.Errors) < MaxImportErrors {
				result.Errors = append(result.Errors, fmt.Sprintf("sample %d: %v", i, err))
			}
			continue
		}

		key := batchKey{ts: s.Timestamp, role: s.Role}
		fields, ok := batches[key]
		if !ok {
			fields = sample.Fields{}
			batches[key] = fields
			order = append(order, key)
		}
		if _, seen := fields[s.Metric]; seen {
			result.Duplicates++
			continue
		}
		fields[s.Metric] = s.Value

		if minTS == 0 || s.Timestamp < minTS {
			minTS = s.Timestamp
		}
		if s.Timestamp > maxTS {
			maxTS = s.Timestamp
		}
	}

	for _, key := range order {
		fields := batches[key]
		n, err := im.storage.InsertFields(ctx, key.ts, key.role, fields)
		if err != nil {
			return nil, fmt.Errorf("failed to write batch %d: %w", result.BatchesWritten, err)
		}
		result.SamplesImported += n
		result.Duplicates += len(fields) - n
		result.BatchesWritten++
	}

	if result.BatchesWritten > 0 {
		result.TimeRange = timeRange(minTS, maxTS)
	}
	return result, nil
}

func (im *Importer) validate(s sample.Sample) error {
	if err := storage.ValidateSample(s); err != nil {
		return err
	}
	if len(s.Metric) > config.MaxMetricNameLen {
		return fmt.Errorf("metric name longer than %d characters", config.MaxMetricNameLen)
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return fmt.Errorf("metric %s: value is not finite", s.Metric)
	}
	if s.Timestamp <= 0 {
		return fmt.Errorf("metric %s: timestamp must be positive", s.Metric)
	}
	if time.Unix(s.Timestamp, 0).After(im.now().Add(maxFutureSkew)) {
		return fmt.Errorf("metric %s: timestamp too far in future: %d", s.Metric, s.Timestamp)
	}
	return nil
}
