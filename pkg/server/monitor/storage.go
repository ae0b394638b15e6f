package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/meshstats/pkg/storage"
)

// StorageMonitor caches store statistics so health checks stay cheap.
type StorageMonitor struct {
	store         storage.Storage
	cached        *storage.Stats
	lastCheck     time.Time
	cacheDuration time.Duration
	now           func() time.Time
	mu            sync.Mutex
}

// NewStorageMonitor creates a new storage monitor.
func NewStorageMonitor(store storage.Storage) *StorageMonitor {
	return &StorageMonitor{
		store:         store,
		cacheDuration: 10 * time.Second,
		now:           time.Now,
	}
}

// Usage returns storage statistics, refreshed at most every 10 seconds.
func (sm *StorageMonitor) Usage(ctx context.Context) (storage.Stats, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.cached != nil && sm.now().Sub(sm.lastCheck) < sm.cacheDuration {
		return *sm.cached, nil
	}

	stats, err := sm.store.Stats(ctx)
	if err != nil {
		return storage.Stats{}, err
	}
	sm.cached = stats
	sm.lastCheck = sm.now()
	return *stats, nil
}
