package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/nicktill/meshstats/pkg/breaker"
	"github.com/nicktill/meshstats/pkg/config"
	"github.com/nicktill/meshstats/pkg/logging"
	"github.com/nicktill/meshstats/pkg/metrics"
	"github.com/nicktill/meshstats/pkg/observability"
	"github.com/nicktill/meshstats/pkg/report"
	"github.com/nicktill/meshstats/pkg/sample"
	"github.com/nicktill/meshstats/pkg/series"
	"github.com/nicktill/meshstats/pkg/server"
	"github.com/nicktill/meshstats/pkg/server/monitor"
	"github.com/nicktill/meshstats/pkg/storage/backend"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 90 * time.Second // yearly reports can be slow on sqlite
	shutdownTimeout    = 30 * time.Second
	drainTimeout       = 5 * time.Second
)

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvConfigPath), "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("meshstats exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting meshstats",
		zap.String("version", server.Version),
		zap.String("storage_backend", cfg.StorageBackend),
		zap.String("data_dir", cfg.DataDir),
		zap.String("report_timezone", cfg.Location().String()))

	store, err := backend.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := observability.New(reg)

	registry := metrics.DefaultRegistry()
	steps := cfg.Steps()
	hub := server.NewHub(m, logger.Named("ws"))
	freshness := monitor.NewIngestMonitor(steps)
	cb := breaker.New(cfg.BreakerStatePath(breaker.StateFile), breaker.WithLogger(logger.Named("breaker")))

	srv := server.New(server.Deps{
		Store:    store,
		Registry: registry,
		Aggregator: report.NewAggregator(store, registry,
			report.WithLocation(cfg.Location()),
			report.WithLogger(logger.Named("report"))),
		Loader:    series.NewLoader(store, registry, steps, logger.Named("series")),
		Hub:       hub,
		Freshness: freshness,
		Usage:     monitor.NewStorageMonitor(store),
		Breaker:   cb,
		Metrics:   m,
		Gatherer:  reg,
		Port:      cfg.Port,
		Logger:    logger.Named("http"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	server.RunMaintenance(ctx, store, logger.Named("maintenance"), &wg)

	wg.Add(1)
	go func() {
		defer wg.Done()
		watchHealth(ctx, freshness, cb, m, logger)
	}()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Routes(),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serveErr:
		runErr = fmt.Errorf("http server failed: %w", err)
	}

	// Background tasks must stop before wg.Wait, or it never returns
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("background tasks stopped")
	case <-time.After(drainTimeout):
		logger.Warn("background tasks did not stop in time")
	}

	logger.Info("meshstats stopped")
	return runErr
}

// watchHealth logs roles that stopped delivering and keeps the breaker
// gauges current. Collector processes update the breaker file out of band.
func watchHealth(ctx context.Context, freshness *monitor.IngestMonitor, cb *breaker.Breaker, m *observability.Metrics, logger *zap.Logger) {
	ticker := time.NewTicker(config.FreshnessInterval)
	defer ticker.Stop()

	stale := map[sample.Role]bool{}
	for {
		select {
		case <-ticker.C:
			for role, st := range freshness.Status() {
				switch {
				case !st.Healthy && !stale[role]:
					logger.Warn("ingest is stale",
						zap.String("role", string(role)),
						zap.String("last_ingest", st.LastIngest),
						zap.String("max_age", st.MaxAge))
				case st.Healthy && stale[role]:
					logger.Info("ingest recovered", zap.String("role", string(role)))
				}
				stale[role] = !st.Healthy
			}

			if err := cb.Reload(); err != nil {
				logger.Debug("circuit state unreadable", zap.Error(err))
			}
			status := cb.Status()
			m.SetBreaker(status.Open, status.ConsecutiveFailures)
		case <-ctx.Done():
			return
		}
	}
}
