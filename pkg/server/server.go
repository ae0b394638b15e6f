// Package server exposes stored samples, reports and chart series over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nicktill/meshstats/pkg/breaker"
	"github.com/nicktill/meshstats/pkg/export"
	"github.com/nicktill/meshstats/pkg/metrics"
	"github.com/nicktill/meshstats/pkg/observability"
	"github.com/nicktill/meshstats/pkg/report"
	"github.com/nicktill/meshstats/pkg/series"
	"github.com/nicktill/meshstats/pkg/server/monitor"
	"github.com/nicktill/meshstats/pkg/storage"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// Deps are the components the server routes to. Breaker, Metrics and
// Gatherer are optional.
type Deps struct {
	Store      storage.Storage
	Registry   *metrics.Registry
	Aggregator *report.Aggregator
	Loader     *series.Loader
	Hub        *Hub
	Freshness  *monitor.IngestMonitor
	Usage      *monitor.StorageMonitor
	Breaker    *breaker.Breaker
	Metrics    *observability.Metrics
	Gatherer   prometheus.Gatherer
	Port       string
	Logger     *zap.Logger
}

// Server holds request handlers
type Server struct {
	Deps
	export  *export.Handler
	started time.Time
	now     func() time.Time
}

// New creates a server
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Server{
		Deps:    deps,
		export:  export.NewHandler(deps.Store, deps.Logger),
		started: time.Now(),
		now:     time.Now,
	}
}

// Routes returns the full handler: API routes under /v1, /metrics, with
// access logging, panic recovery and localhost CORS
func (s *Server) Routes() http.Handler {
	router := mux.NewRouter()
	api := router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/ingest", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/latest/{role}", s.handleLatest).Methods(http.MethodGet)
	api.HandleFunc("/periods/{role}", s.handlePeriods).Methods(http.MethodGet)
	api.HandleFunc("/reports/{role}/daily/{date}", s.handleDaily).Methods(http.MethodGet)
	api.HandleFunc("/reports/{role}/{year:[0-9]{4}}", s.handleYearly).Methods(http.MethodGet)
	api.HandleFunc("/reports/{role}/{year:[0-9]{4}}/{month:[0-9]{1,2}}", s.handleMonthly).Methods(http.MethodGet)
	api.HandleFunc("/series/{role}/{metric}", s.handleSeries).Methods(http.MethodGet)
	api.HandleFunc("/metrics/{role}", s.handleMetricMeta).Methods(http.MethodGet)
	api.HandleFunc("/export", s.export.HandleExport).Methods(http.MethodGet)
	api.HandleFunc("/import", s.export.HandleImport).Methods(http.MethodPost)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.Hub != nil {
		api.HandleFunc("/ws", s.Hub.HandleWebSocket).Methods(http.MethodGet)
	}

	if s.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	stdlog := zap.NewStdLog(s.Logger)
	var h http.Handler = router
	h = handlers.CORS(
		handlers.AllowedOrigins(allowedOrigins(s.Port)),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(stdlog), handlers.PrintRecoveryStack(true))(h)
	h = handlers.LoggingHandler(stdlog.Writer(), h)
	return h
}

// allowedOrigins restricts browser access to local dashboards
func allowedOrigins(port string) []string {
	return []string{
		"http://localhost:" + port,
		"http://127.0.0.1:" + port,
		"http://localhost:3000",
		"http://127.0.0.1:3000",
	}
}
