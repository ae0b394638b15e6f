package export

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/meshstats/pkg/config"
	"github.com/nicktill/meshstats/pkg/httpx"
	"github.com/nicktill/meshstats/pkg/sample"
	"github.com/nicktill/meshstats/pkg/storage"
)

// MaxImportBytes bounds backup uploads
const MaxImportBytes = 64 << 20

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
	logger   *zap.Logger
}

// NewHandler creates a new export/import handler
func NewHandler(store storage.Storage, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		exporter: NewExporter(store),
		importer: NewImporter(store),
		logger:   logger,
	}
}

// HandleExport handles GET /v1/export
// Query params:
//   - format: "json" or "csv" (default: json)
//   - role: companion or repeater (default: both)
//   - start, end: unix seconds or RFC3339 (default: the last 24h)
//   - metric: metric name filter (optional)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "format must be 'json' or 'csv'")
		return
	}

	opts := ExportOptions{Format: format, Metric: query.Get("metric")}
	if raw := query.Get("role"); raw != "" {
		role, err := sample.ParseRole(raw)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		opts.Roles = []sample.Role{role}
	}

	now := h.exporter.now()
	end, err := ParseTime(query.Get("end"), now)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	start, err := ParseTime(query.Get("start"), end.Add(-config.DefaultExportWindow))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if !start.Before(end) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "start must be before end")
		return
	}
	if end.Sub(start) > config.MaxExportWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("time range too large, maximum is %v", config.MaxExportWindow))
		return
	}
	opts.Start, opts.End = start.Unix(), end.Unix()

	stamp := now.UTC().Format("20060102-150405")
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=meshstats-export-%s.%s", stamp, format))

	var result *ExportResult
	if format == "json" {
		result, err = h.exporter.ExportToJSON(r.Context(), w, opts)
	} else {
		result, err = h.exporter.ExportToCSV(r.Context(), w, opts)
	}
	if err != nil {
		// Headers may already be on the wire
		h.logger.Error("export failed", zap.Error(err))
		http.Error(w, fmt.Sprintf("export failed: %v", err), http.StatusInternalServerError)
		return
	}

	h.logger.Info("export complete",
		zap.Int("samples", result.SamplesExported),
		zap.String("format", format),
		zap.String("range", result.TimeRange))
}

// HandleImport handles POST /v1/import with a JSON backup body
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Content-Type") != "application/json" {
		httpx.RespondErrorString(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxImportBytes)
	result, err := h.importer.ImportFromJSON(r.Context(), r.Body)
	if err != nil {
		h.logger.Error("import failed", zap.Error(err))
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if result.Rejected > 0 {
		h.logger.Warn("import skipped invalid samples",
			zap.Int("rejected", result.Rejected),
			zap.Strings("first_errors", firstN(result.Errors, 10)))
	}
	h.logger.Info("import complete",
		zap.Int("imported", result.SamplesImported),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("batches", result.BatchesWritten))

	httpx.RespondJSON(w, http.StatusOK, result)
}

// ParseTime accepts unix seconds or RFC3339, returning def when raw is empty
func ParseTime(raw string, def time.Time) (time.Time, error) {
	if raw == "" {
		return def, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: want unix seconds or RFC3339", raw)
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
