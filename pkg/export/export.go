package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nicktill/meshstats/pkg/sample"
	"github.com/nicktill/meshstats/pkg/storage"
)

// FormatVersion is written into every JSON backup
const FormatVersion = "1.0"

// Exporter handles exporting samples to various formats
type Exporter struct {
	storage storage.Storage
	now     func() time.Time
}

// NewExporter creates a new exporter
func NewExporter(store storage.Storage) *Exporter {
	return &Exporter{storage: store, now: time.Now}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	// Roles to export (nil = both roles)
	Roles []sample.Role

	// Inclusive unix second range
	Start int64
	End   int64

	// Metric filters to one metric name (empty = all metrics)
	Metric string

	// Format: "json" or "csv"
	Format string
}

// ExportResult contains stats about the export
type ExportResult struct {
	SamplesExported int       `json:"samples_exported"`
	TimeRange       string    `json:"time_range"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

// Metadata describes a JSON backup
type Metadata struct {
	ExportedAt  time.Time `json:"exported_at"`
	StartTime   int64     `json:"start_time"`
	EndTime     int64     `json:"end_time"`
	SampleCount int       `json:"sample_count"`
	Format      string    `json:"format"`
	Version     string    `json:"version"`
}

// Backup is the JSON backup document
type Backup struct {
	Metadata Metadata        `json:"metadata"`
	Samples  []sample.Sample `json:"samples"`
}

func (e *Exporter) collect(ctx context.Context, opts ExportOptions) ([]sample.Sample, error) {
	roles := opts.Roles
	if len(roles) == 0 {
		roles = sample.Roles
	}

	var out []sample.Sample
	for _, role := range roles {
		samples, err := e.storage.QueryRange(ctx, storage.QueryRequest{
			Role:   role,
			Metric: opts.Metric,
			Start:  opts.Start,
			End:    opts.End,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query %s samples: %w", role, err)
		}
		out = append(out, samples...)
	}
	if out == nil {
		out = []sample.Sample{}
	}
	return out, nil
}

// ExportToJSON exports samples as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	samples, err := e.collect(ctx, opts)
	if err != nil {
		return nil, err
	}

	backup := Backup{
		Metadata: Metadata{
			ExportedAt:  e.now().UTC(),
			StartTime:   opts.Start,
			EndTime:     opts.End,
			SampleCount: len(samples),
			Format:      "json",
			Version:     FormatVersion,
		},
		Samples: samples,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(backup); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		SamplesExported: len(samples),
		TimeRange:       timeRange(opts.Start, opts.End),
		Format:          "json",
		ExportedAt:      backup.Metadata.ExportedAt,
	}, nil
}

// ExportToCSV writes one row per sample: timestamp, role, metric, value
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	samples, err := e.collect(ctx, opts)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"timestamp", "role", "metric", "value"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, s := range samples {
		row := []string{
			strconv.FormatInt(s.Timestamp, 10),
			string(s.Role),
			s.Metric,
			strconv.FormatFloat(s.Value, 'f', -1, 64),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return &ExportResult{
		SamplesExported: len(samples),
		TimeRange:       timeRange(opts.Start, opts.End),
		Format:          "csv",
		ExportedAt:      e.now().UTC(),
	}, nil
}

func timeRange(start, end int64) string {
	return fmt.Sprintf("%s to %s",
		time.Unix(start, 0).UTC().Format(time.RFC3339),
		time.Unix(end, 0).UTC().Format(time.RFC3339))
}
