package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/nicktill/meshstats/pkg/config"
	"github.com/nicktill/meshstats/pkg/httpx"
	"github.com/nicktill/meshstats/pkg/sample"
	"github.com/nicktill/meshstats/pkg/storage"
	"github.com/nicktill/meshstats/pkg/telemetry"
)

var (
	// ErrTooManyFields is returned when an ingest request carries too many fields
	ErrTooManyFields = fmt.Errorf("too many fields in request (max %d)", config.MaxIngestFields)

	// ErrMetricNameTooLong is returned when a metric name is too long
	ErrMetricNameTooLong = fmt.Errorf("metric name too long (max %d chars)", config.MaxMetricNameLen)

	// ErrNoFields is returned when nothing numeric survives validation
	ErrNoFields = errors.New("no numeric fields in request")
)

// IngestRequest is one collection delivered over HTTP. Timestamp defaults
// to the server clock.
type IngestRequest struct {
	Role      string         `json:"role"`
	Timestamp *int64         `json:"timestamp,omitempty"`
	Fields    map[string]any `json:"fields"`
	Telemetry any            `json:"telemetry,omitempty"`
}

// IngestResponse reports what was stored
type IngestResponse struct {
	Timestamp  int64 `json:"timestamp"`
	Inserted   int   `json:"inserted"`
	Duplicates int   `json:"duplicates"`
	Dropped    int   `json:"dropped"`
}

// ValidateNames checks every metric name against the length limits
func ValidateNames(fields sample.Fields) error {
	for name := range fields {
		if name == "" {
			return storage.ErrEmptyMetric
		}
		if len(name) > config.MaxMetricNameLen {
			return fmt.Errorf("%w: %q... has %d chars", ErrMetricNameTooLong, name[:32], len(name))
		}
	}
	return nil
}

// parseIngest turns a decoded request into validated fields. dropped counts
// raw values that were not numeric.
func parseIngest(req IngestRequest) (sample.Role, sample.Fields, int, error) {
	role, err := sample.ParseRole(req.Role)
	if err != nil {
		return "", nil, 0, err
	}

	fields := sample.FieldsFromPayload(req.Fields)
	dropped := len(req.Fields) - len(fields)
	if req.Telemetry != nil {
		fields.Merge(telemetry.FromPayload(req.Telemetry))
	}

	if len(fields) > config.MaxIngestFields {
		return role, nil, dropped, fmt.Errorf("%w: got %d", ErrTooManyFields, len(fields))
	}
	if len(fields) == 0 {
		return role, nil, dropped, ErrNoFields
	}
	if err := ValidateNames(fields); err != nil {
		return role, nil, dropped, err
	}
	return role, fields, dropped, nil
}

// handleIngest handles POST /v1/ingest
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := httpx.DecodeJSON(w, r, config.MaxBodyBytes, &req); err != nil {
		httpx.RespondDecodeError(w, err)
		return
	}
	if len(req.Fields) > config.MaxIngestFields {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("%w: got %d", ErrTooManyFields, len(req.Fields)))
		return
	}

	role, fields, dropped, err := parseIngest(req)
	if err != nil {
		if role != "" && s.Freshness != nil {
			s.Freshness.RecordFailure(role, err)
		}
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ts := s.now().Unix()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	if ts <= 0 {
		httpx.RespondErrorString(w, http.StatusBadRequest, "timestamp must be positive")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	n, err := s.Store.InsertFields(ctx, ts, role, fields)
	if err != nil {
		s.Logger.Error("failed to store ingest", zap.String("role", string(role)), zap.Error(err))
		if s.Freshness != nil {
			s.Freshness.RecordFailure(role, err)
		}
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	if s.Metrics != nil {
		s.Metrics.RecordInsert(string(role), n, len(fields)-n)
		s.Metrics.RecordCollection(string(role), "collected")
	}
	if s.Freshness != nil {
		s.Freshness.RecordSuccess(role)
	}
	if s.Hub != nil {
		if rec, err := storage.LatestRecord(ctx, s.Store, role); err == nil {
			s.Hub.BroadcastLatest(rec)
		}
	}

	s.Logger.Debug("ingest stored",
		zap.String("role", string(role)),
		zap.Int64("ts", ts),
		zap.Int("inserted", n),
		zap.Int("duplicates", len(fields)-n),
		zap.Int("dropped", dropped))

	httpx.RespondJSON(w, http.StatusOK, IngestResponse{
		Timestamp:  ts,
		Inserted:   n,
		Duplicates: len(fields) - n,
		Dropped:    dropped,
	})
}
