package server

import (
	"context"
	"errors"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/nicktill/meshstats/pkg/config"
	"github.com/nicktill/meshstats/pkg/storage"
)

// gcDiscardRatio reclaims a value log file once half of it is garbage
const gcDiscardRatio = 0.5

// GarbageCollector is a store whose value log needs periodic GC
type GarbageCollector interface {
	RunGC(discardRatio float64) error
}

// Vacuumer is a store that compacts its file on demand
type Vacuumer interface {
	Vacuum(ctx context.Context) error
}

// RunMaintenance starts the background maintenance the store supports and
// returns immediately. Tasks stop when ctx is cancelled; wg tracks them.
func RunMaintenance(ctx context.Context, store storage.Storage, logger *zap.Logger, wg *sync.WaitGroup) {
	switch s := store.(type) {
	case GarbageCollector:
		wg.Add(1)
		go func() {
			defer wg.Done()
			RunBadgerGC(ctx, s, config.BadgerGCInterval, logger)
		}()
	case Vacuumer:
		wg.Add(1)
		go func() {
			defer wg.Done()
			RunVacuum(ctx, s, config.SQLiteVacuumInterval, logger)
		}()
	default:
		logger.Info("storage needs no background maintenance")
	}
}

// RunBadgerGC runs value log garbage collection every interval until ctx is
// done. The LSM tree never shrinks on its own.
func RunBadgerGC(ctx context.Context, gc GarbageCollector, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("badger GC scheduler started", zap.Duration("interval", interval))
	for {
		select {
		case <-ticker.C:
			start := time.Now()
			err := gc.RunGC(gcDiscardRatio)
			switch {
			case err == nil:
				logger.Info("badger GC reclaimed space", zap.Duration("took", time.Since(start).Round(time.Millisecond)))
			case errors.Is(err, badgerdb.ErrNoRewrite):
				logger.Debug("badger GC found nothing to rewrite")
			case errors.Is(err, badgerdb.ErrRejected):
				logger.Debug("badger GC already running")
			default:
				logger.Warn("badger GC failed", zap.Error(err))
			}
		case <-ctx.Done():
			logger.Info("stopping badger GC scheduler")
			return
		}
	}
}

// RunVacuum compacts a relational store every interval until ctx is done
func RunVacuum(ctx context.Context, v Vacuumer, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("vacuum scheduler started", zap.Duration("interval", interval))
	for {
		select {
		case <-ticker.C:
			start := time.Now()
			if err := v.Vacuum(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("vacuum failed", zap.Error(err))
				continue
			}
			logger.Info("vacuum complete", zap.Duration("took", time.Since(start).Round(time.Millisecond)))
		case <-ctx.Done():
			logger.Info("stopping vacuum scheduler")
			return
		}
	}
}
