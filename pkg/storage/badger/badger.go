package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/meshstats/pkg/sample"
	"github.com/nicktill/meshstats/pkg/storage"
)

const (
	samplePrefix = 's' // [s][series hash (8)][timestamp (8)] -> JSON sample
	indexPrefix  = 'i' // [i][role][0x00][metric] -> empty

	maxConflictRetries = 3
)

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop friendly default)
	MaxMemoryMB int64
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// A few dozen metrics per cycle is tiny; keep the footprint small
	memTableSize := int64(16 << 20)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3 // ~33% for memtable
	}
	blockCacheSize := memTableSize / 2 // Block cache: 50% of memtable
	indexCacheSize := memTableSize / 4 // Index cache: 25% of memtable

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

// Insert stores one sample, reporting false for a duplicate key
func (s *Storage) Insert(ctx context.Context, smp sample.Sample) (bool, error) {
	if err := storage.ValidateSample(smp); err != nil {
		return false, err
	}
	var inserted bool
	err := s.run(ctx, "insert", func() error {
		return s.update(func(txn *badger.Txn) error {
			ok, err := insertTxn(txn, smp)
			inserted = ok
			return err
		})
	})
	return inserted, err
}

// InsertFields stores every field at ts in one transaction
func (s *Storage) InsertFields(ctx context.Context, ts int64, role sample.Role, fields sample.Fields) (int, error) {
	samples := fields.Samples(ts, role)
	for _, smp := range samples {
		if err := storage.ValidateSample(smp); err != nil {
			return 0, err
		}
	}
	if len(samples) == 0 {
		return 0, nil
	}

	var inserted int
	err := s.run(ctx, "insert", func() error {
		return s.update(func(txn *badger.Txn) error {
			inserted = 0
			for _, smp := range samples {
				ok, err := insertTxn(txn, smp)
				if err != nil {
					return err
				}
				if ok {
					inserted++
				}
			}
			return nil
		})
	})
	return inserted, err
}

// update retries transactions that lost a conflict with a concurrent writer
func (s *Storage) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func insertTxn(txn *badger.Txn, smp sample.Sample) (bool, error) {
	key := sampleKey(smp.Role, smp.Metric, smp.Timestamp)
	if _, err := txn.Get(key); err == nil {
		return false, nil
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return false, fmt.Errorf("failed to check sample: %w", err)
	}

	value, err := json.Marshal(smp)
	if err != nil {
		return false, fmt.Errorf("failed to encode sample: %w", err)
	}
	if err := txn.Set(key, value); err != nil {
		return false, fmt.Errorf("failed to write sample: %w", err)
	}
	if err := txn.Set(indexKey(smp.Role, smp.Metric), nil); err != nil {
		return false, fmt.Errorf("failed to write series index: %w", err)
	}
	return true, nil
}

// QueryRange retrieves samples matching the request
func (s *Storage) QueryRange(ctx context.Context, req storage.QueryRequest) ([]sample.Sample, error) {
	var results []sample.Sample
	err := s.run(ctx, "query", func() error {
		results = nil
		return s.db.View(func(txn *badger.Txn) error {
			metrics := []string{req.Metric}
			if req.Metric == "" {
				var err error
				if metrics, err = listMetrics(txn, req.Role); err != nil {
					return err
				}
			}

			opts := badger.DefaultIteratorOptions
			opts.PrefetchSize = 100
			it := txn.NewIterator(opts)
			defer it.Close()

			for _, metric := range metrics {
				if err := ctx.Err(); err != nil {
					return err
				}
				prefix := seriesPrefix(req.Role, metric)
				for it.Seek(sampleKey(req.Role, metric, req.Start)); it.ValidForPrefix(prefix); it.Next() {
					item := it.Item()
					if decodeTimestamp(item.Key()) > req.End {
						break
					}
					var smp sample.Sample
					if err := item.Value(func(val []byte) error {
						return json.Unmarshal(val, &smp)
					}); err != nil {
						return fmt.Errorf("failed to decode sample: %w", err)
					}
					// Guard against hash collisions between series
					if smp.Role == req.Role && smp.Metric == metric {
						results = append(results, smp)
					}
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sample.SortSamples(results)
	return results, nil
}

// Latest returns all metrics at the newest timestamp for role
func (s *Storage) Latest(ctx context.Context, role sample.Role) (*sample.Record, error) {
	var rec *sample.Record
	err := s.run(ctx, "latest", func() error {
		rec = nil
		return s.db.View(func(txn *badger.Txn) error {
			metrics, err := listMetrics(txn, role)
			if err != nil {
				return err
			}

			opts := badger.DefaultIteratorOptions
			opts.Reverse = true
			it := txn.NewIterator(opts)
			defer it.Close()

			newest := make(map[string]sample.Sample, len(metrics))
			var maxTS int64
			found := false
			for _, metric := range metrics {
				prefix := seriesPrefix(role, metric)
				// Reverse iteration seeks to the last key <= the given key
				seek := append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
				it.Seek(seek)
				if !it.ValidForPrefix(prefix) {
					continue
				}
				var smp sample.Sample
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &smp)
				}); err != nil {
					return fmt.Errorf("failed to decode sample: %w", err)
				}
				newest[metric] = smp
				if !found || smp.Timestamp > maxTS {
					maxTS = smp.Timestamp
					found = true
				}
			}
			if !found {
				return nil
			}

			rec = &sample.Record{Timestamp: maxTS, Role: role, Values: make(map[string]float64)}
			for metric, smp := range newest {
				if smp.Timestamp == maxTS {
					rec.Values[metric] = smp.Value
				}
			}
			return nil
		})
	})
	return rec, err
}

// DistinctPeriods lists months with data for role
func (s *Storage) DistinctPeriods(ctx context.Context, role sample.Role, loc *time.Location) ([]storage.Period, error) {
	seen := make(map[storage.Period]bool)
	err := s.scanTimestamps(ctx, role, func(ts int64) {
		t := time.Unix(ts, 0).In(loc)
		seen[storage.Period{Year: t.Year(), Month: t.Month()}] = true
	}, 0, -1)
	if err != nil {
		return nil, err
	}

	periods := make([]storage.Period, 0, len(seen))
	for p := range seen {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })
	return periods, nil
}

// DistinctTimestamps lists collection timestamps for role in [start, end]
func (s *Storage) DistinctTimestamps(ctx context.Context, role sample.Role, start, end int64) ([]int64, error) {
	seen := make(map[int64]bool)
	if err := s.scanTimestamps(ctx, role, func(ts int64) { seen[ts] = true }, start, end); err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(seen))
	for ts := range seen {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// scanTimestamps walks sample keys of role without reading values.
// end < start means unbounded.
func (s *Storage) scanTimestamps(ctx context.Context, role sample.Role, fn func(int64), start, end int64) error {
	return s.run(ctx, "scan", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			metrics, err := listMetrics(txn, role)
			if err != nil {
				return err
			}

			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			for _, metric := range metrics {
				prefix := seriesPrefix(role, metric)
				seek := prefix
				if end >= start {
					seek = sampleKey(role, metric, start)
				}
				for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
					iterCount++
					// Check for cancellation every 1000 keys
					if iterCount%1000 == 0 {
						if err := ctx.Err(); err != nil {
							return err
						}
					}
					ts := decodeTimestamp(it.Item().Key())
					if end >= start && ts > end {
						break
					}
					fn(ts)
				}
			}
			return nil
		})
	})
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection.
// Returns badger.ErrNoRewrite when there was nothing to reclaim.
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}
	err := s.run(ctx, "stats", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()

			var oldest, newest int64
			for it.Seek([]byte{samplePrefix}); it.ValidForPrefix([]byte{samplePrefix}); it.Next() {
				ts := decodeTimestamp(it.Item().Key())
				if stats.TotalSamples == 0 || ts < oldest {
					oldest = ts
				}
				if stats.TotalSamples == 0 || ts > newest {
					newest = ts
				}
				stats.TotalSamples++
			}
			for it.Seek([]byte{indexPrefix}); it.ValidForPrefix([]byte{indexPrefix}); it.Next() {
				stats.TotalSeries++
			}
			if stats.TotalSamples > 0 {
				stats.Oldest = time.Unix(oldest, 0).UTC()
				stats.Newest = time.Unix(newest, 0).UTC()
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

// run executes fn off the calling goroutine so a cancelled context returns
// promptly even while badger is busy
func (s *Storage) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	select {
	case err := <-done:
		if errors.Is(err, badger.ErrDBClosed) {
			return storage.ErrClosed
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

func listMetrics(txn *badger.Txn, role sample.Role) ([]string, error) {
	prefix := append([]byte{indexPrefix}, []byte(role)...)
	prefix = append(prefix, 0)

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var metrics []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().Key()
		metrics = append(metrics, string(bytes.TrimPrefix(key, prefix)))
	}
	return metrics, nil
}

func indexKey(role sample.Role, metric string) []byte {
	key := make([]byte, 0, len(role)+len(metric)+2)
	key = append(key, indexPrefix)
	key = append(key, role...)
	key = append(key, 0)
	return append(key, metric...)
}

// seriesPrefix is [s][xxhash(role 0x00 metric)]
func seriesPrefix(role sample.Role, metric string) []byte {
	key := make([]byte, 9, 17)
	key[0] = samplePrefix
	binary.BigEndian.PutUint64(key[1:9], xxhash.Sum64String(string(role)+"\x00"+metric))
	return key
}

// sampleKey appends the timestamp with the sign bit flipped so keys sort
// chronologically
func sampleKey(role sample.Role, metric string, ts int64) []byte {
	key := seriesPrefix(role, metric)
	key = key[:17]
	binary.BigEndian.PutUint64(key[9:17], uint64(ts)^(1<<63))
	return key
}

func decodeTimestamp(key []byte) int64 {
	if len(key) < 17 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(key[9:17]) ^ (1 << 63))
}
