package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/meshstats/pkg/breaker"
	"github.com/nicktill/meshstats/pkg/config"
	"github.com/nicktill/meshstats/pkg/export"
	"github.com/nicktill/meshstats/pkg/httpx"
	"github.com/nicktill/meshstats/pkg/metrics"
	"github.com/nicktill/meshstats/pkg/report"
	"github.com/nicktill/meshstats/pkg/sample"
	"github.com/nicktill/meshstats/pkg/series"
	"github.com/nicktill/meshstats/pkg/server/monitor"
	"github.com/nicktill/meshstats/pkg/storage"
)

// roleParam parses {role}, writing a 400 when it is invalid
func roleParam(w http.ResponseWriter, r *http.Request) (sample.Role, bool) {
	role, err := sample.ParseRole(mux.Vars(r)["role"])
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return "", false
	}
	return role, true
}

// handleLatest handles GET /v1/latest/{role}
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	rec, err := storage.LatestRecord(ctx, s.Store, role)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	if rec == nil {
		httpx.RespondErrorString(w, http.StatusNotFound, "no data for "+string(role))
		return
	}
	httpx.RespondJSON(w, http.StatusOK, rec)
}

// PeriodsResponse lists the months with data for a role
type PeriodsResponse struct {
	Role    sample.Role      `json:"role"`
	Periods []storage.Period `json:"periods"`
}

// handlePeriods handles GET /v1/periods/{role}
func (s *Server) handlePeriods(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	periods, err := s.Aggregator.AvailablePeriods(ctx, role)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	if periods == nil {
		periods = []storage.Period{}
	}
	httpx.RespondJSON(w, http.StatusOK, PeriodsResponse{Role: role, Periods: periods})
}

// handleYearly handles GET /v1/reports/{role}/{year}
func (s *Server) handleYearly(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}
	year, _ := strconv.Atoi(mux.Vars(r)["year"])

	ctx, cancel := context.WithTimeout(r.Context(), config.ReportTimeout)
	defer cancel()

	started := time.Now()
	agg, err := s.Aggregator.Yearly(ctx, role, year)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	s.observe("yearly", started)
	httpx.RespondJSON(w, http.StatusOK, report.YearlyJSON(agg, s.Aggregator.Location()))
}

// handleMonthly handles GET /v1/reports/{role}/{year}/{month}
func (s *Server) handleMonthly(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	year, _ := strconv.Atoi(vars["year"])
	month, _ := strconv.Atoi(vars["month"])

	ctx, cancel := context.WithTimeout(r.Context(), config.ReportTimeout)
	defer cancel()

	started := time.Now()
	agg, err := s.Aggregator.Monthly(ctx, role, year, time.Month(month))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, report.ErrInvalidMonth) {
			status = http.StatusBadRequest
		}
		httpx.RespondError(w, status, err)
		return
	}
	s.observe("monthly", started)
	httpx.RespondJSON(w, http.StatusOK, report.MonthlyJSON(agg, s.Aggregator.Location()))
}

// handleDaily handles GET /v1/reports/{role}/daily/{date}, date as YYYY-MM-DD
func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}
	loc := s.Aggregator.Location()
	date, err := time.ParseInLocation(time.DateOnly, mux.Vars(r)["date"], loc)
	if err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.ReportTimeout)
	defer cancel()

	started := time.Now()
	agg, err := s.Aggregator.Daily(ctx, role, date)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	s.observe("daily", started)
	httpx.RespondJSON(w, http.StatusOK, agg.ToJSON(loc))
}

func (s *Server) observe(kind string, started time.Time) {
	if s.Metrics != nil {
		s.Metrics.ObserveReport(kind, started)
	}
}

// SeriesResponse is one chart series with its summary statistics
type SeriesResponse struct {
	series.Series
	Label      string            `json:"label"`
	Unit       string            `json:"unit"`
	Statistics series.Statistics `json:"statistics"`
}

// handleSeries handles GET /v1/series/{role}/{metric}?period=week&end=<unix>
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}
	metric := mux.Vars(r)["metric"]
	if len(metric) > config.MaxMetricNameLen {
		httpx.RespondError(w, http.StatusBadRequest, ErrMetricNameTooLong)
		return
	}

	query := r.URL.Query()
	period := series.Day
	if raw := query.Get("period"); raw != "" {
		p, err := series.ParsePeriod(raw)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		period = p
	}
	end, err := export.ParseTime(query.Get("end"), s.now())
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	data, err := s.Loader.Load(ctx, role, metric, end, period.Lookback(), period)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, SeriesResponse{
		Series:     data,
		Label:      s.Registry.Label(metric),
		Unit:       s.Registry.Unit(metric),
		Statistics: series.Summarize(data),
	})
}

// MetricMeta describes one chart metric
type MetricMeta struct {
	Name  string       `json:"name"`
	Label string       `json:"label"`
	Unit  string       `json:"unit"`
	Kind  metrics.Kind `json:"kind"`
}

// handleMetricMeta handles GET /v1/metrics/{role}
func (s *Server) handleMetricMeta(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}

	names := s.Registry.ChartMetrics(role)
	out := make([]MetricMeta, 0, len(names))
	for _, name := range names {
		kind := metrics.GaugeKind
		if s.Registry.IsCounter(name) {
			kind = metrics.CounterKind
		}
		out = append(out, MetricMeta{
			Name:  name,
			Label: s.Registry.Label(name),
			Unit:  s.Registry.Unit(name),
			Kind:  kind,
		})
	}
	httpx.RespondJSON(w, http.StatusOK, out)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string                               `json:"status"`
	Version string                               `json:"version"`
	Uptime  string                               `json:"uptime"`
	Ingest  map[sample.Role]monitor.IngestStatus `json:"ingest,omitempty"`
	Breaker *breaker.Status                      `json:"breaker,omitempty"`
	Storage *storage.Stats                       `json:"storage,omitempty"`
}

// handleHealth returns service health. Stale ingest degrades the status
// without failing the request.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "healthy",
		Version: Version,
		Uptime:  s.now().Sub(s.started).Round(time.Second).String(),
	}

	if s.Freshness != nil {
		response.Ingest = s.Freshness.Status()
		for _, st := range response.Ingest {
			if !st.Healthy {
				response.Status = "degraded"
			}
		}
	}
	if s.Breaker != nil {
		status := s.Breaker.Status()
		response.Breaker = &status
		if status.Open {
			response.Status = "degraded"
		}
	}
	if s.Usage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
		defer cancel()
		stats, err := s.Usage.Usage(ctx)
		if err != nil {
			httpx.RespondError(w, http.StatusServiceUnavailable, err)
			return
		}
		response.Storage = &stats
	}

	httpx.RespondJSON(w, http.StatusOK, response)
}
