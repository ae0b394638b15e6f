// Command meshreport writes monthly and yearly reports for every period that
// has data, as JSON and as a fixed-width text table:
//
//	OUT_DIR/reports/<role>/<year>/report.{json,txt}
//	OUT_DIR/reports/<role>/<year>/<MM>/report.{json,txt}
//
// It opens the store directly, so a badger store must not be held open by a
// running server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nicktill/meshstats/pkg/config"
	"github.com/nicktill/meshstats/pkg/logging"
	"github.com/nicktill/meshstats/pkg/metrics"
	"github.com/nicktill/meshstats/pkg/report"
	"github.com/nicktill/meshstats/pkg/sample"
	"github.com/nicktill/meshstats/pkg/storage/backend"
)

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvConfigPath), "Path to YAML config file")
	roleFlag := flag.String("role", "", "Only write reports for this role (companion or repeater)")
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

	roles := sample.Roles
	if *roleFlag != "" {
		role, err := sample.ParseRole(*roleFlag)
		if err != nil {
			logger.Fatal("invalid --role", zap.Error(err))
		}
		roles = []sample.Role{role}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, roles, logger); err != nil {
		logger.Fatal("report generation failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, roles []sample.Role, logger *zap.Logger) error {
	store, err := backend.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	agg := report.NewAggregator(store, metrics.DefaultRegistry(),
		report.WithLocation(cfg.Location()),
		report.WithLogger(logger.Named("report")))

	w := &writer{
		agg:    agg,
		outDir: filepath.Join(cfg.OutDir, "reports"),
		logger: logger,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, role := range roles {
		role := role
		g.Go(func() error {
			return w.writeRole(gctx, role)
		})
	}
	return g.Wait()
}

type writer struct {
	agg    *report.Aggregator
	outDir string
	logger *zap.Logger
}

// writeRole writes one monthly report per available month and one yearly
// report per year seen
func (w *writer) writeRole(ctx context.Context, role sample.Role) error {
	periods, err := w.agg.AvailablePeriods(ctx, role)
	if err != nil {
		return fmt.Errorf("%s: %w", role, err)
	}
	if len(periods) == 0 {
		w.logger.Info("no data, skipping role", zap.String("role", string(role)))
		return nil
	}

	loc := w.agg.Location()
	years := map[int]bool{}
	var order []int
	for _, p := range periods {
		if err := ctx.Err(); err != nil {
			return err
		}
		monthly, err := w.agg.Monthly(ctx, role, p.Year, p.Month)
		if err != nil {
			return fmt.Errorf("%s %d-%02d: %w", role, p.Year, p.Month, err)
		}
		dir := filepath.Join(w.outDir, string(role), fmt.Sprint(p.Year), fmt.Sprintf("%02d", int(p.Month)))
		if err := writeReport(dir, report.MonthlyJSON(monthly, loc), report.MonthlyText(monthly, loc)); err != nil {
			return err
		}
		w.logger.Info("monthly report written", zap.String("role", string(role)), zap.String("dir", dir))

		if !years[p.Year] {
			years[p.Year] = true
			order = append(order, p.Year)
		}
	}

	for _, year := range order {
		yearly, err := w.agg.Yearly(ctx, role, year)
		if err != nil {
			return fmt.Errorf("%s %d: %w", role, year, err)
		}
		dir := filepath.Join(w.outDir, string(role), fmt.Sprint(year))
		if err := writeReport(dir, report.YearlyJSON(yearly, loc), report.YearlyText(yearly, loc)); err != nil {
			return err
		}
		w.logger.Info("yearly report written", zap.String("role", string(role)), zap.String("dir", dir))
	}
	return nil
}

func writeReport(dir string, doc any, text string) error {
	if err := writeJSON(filepath.Join(dir, "report.json"), doc); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, "report.txt"), []byte(text))
}

// writeJSON replaces path with the indented encoding of v
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return writeFile(path, append(data, '\n'))
}

// writeFile replaces path through a temp file so readers never see a
// partial report
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
