package badger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/nicktill/meshstats/pkg/sample"
	"github.com/nicktill/meshstats/pkg/storage"
	"github.com/nicktill/meshstats/pkg/storage/storagetest"
)

func TestBadgerStorage_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		store, err := New(Config{InMemory: true})
		if err != nil {
			t.Fatalf("Failed to create storage: %v", err)
		}
		return store
	})
}

func TestBadgerStorage_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	// Write to first instance
	{
		store, err := New(Config{Path: dir})
		if err != nil {
			t.Fatalf("Failed to create storage: %v", err)
		}
		if _, err := store.InsertFields(ctx, 1000, sample.Repeater, sample.Fields{"bat": 3900, "nb_recv": 12}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		store.Close()
	}

	// Read from second instance (reopens same directory)
	store, err := New(Config{Path: dir})
	if err != nil {
		t.Fatalf("Failed to reopen storage: %v", err)
	}
	defer store.Close()

	rec, err := store.Latest(ctx, sample.Repeater)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if rec == nil || rec.Timestamp != 1000 {
		t.Fatalf("Expected persisted record at 1000, got %+v", rec)
	}
	if rec.Values["nb_recv"] != 12 {
		t.Errorf("Expected nb_recv=12, got %v", rec.Values["nb_recv"])
	}

	// Duplicate detection survives the restart
	ok, err := store.Insert(ctx, sample.Sample{Timestamp: 1000, Role: sample.Repeater, Metric: "bat", Value: 1})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if ok {
		t.Error("Expected duplicate after reopen")
	}
}

func TestBadgerStorage_KeyOrdering(t *testing.T) {
	keys := [][]byte{
		sampleKey(sample.Repeater, "bat", -5),
		sampleKey(sample.Repeater, "bat", 0),
		sampleKey(sample.Repeater, "bat", 1),
		sampleKey(sample.Repeater, "bat", 1<<40),
	}
	for i := 1; i < len(keys); i++ {
		if string(keys[i-1]) >= string(keys[i]) {
			t.Errorf("key %d does not sort before key %d", i-1, i)
		}
	}
	if got := decodeTimestamp(keys[0]); got != -5 {
		t.Errorf("decodeTimestamp = %d, want -5", got)
	}
}

func TestBadgerStorage_ConcurrentOperations(t *testing.T) {
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if _, err := store.InsertFields(ctx, int64(100+id), sample.Companion, sample.Fields{"recv": float64(id)}); err != nil {
				t.Errorf("Insert %d failed: %v", id, err)
			}
		}(i)
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.QueryRange(ctx, storage.QueryRequest{Role: sample.Companion, Start: 0, End: 1000})
		}()
	}
	wg.Wait()

	results, err := store.QueryRange(ctx, storage.QueryRequest{Role: sample.Companion, Metric: "recv", Start: 0, End: 1000})
	if err != nil {
		t.Fatalf("Final query failed: %v", err)
	}
	if len(results) != 10 {
		t.Errorf("Expected 10 samples after concurrent operations, got %d", len(results))
	}
}

func TestBadgerStorage_CancelledContext(t *testing.T) {
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Insert(ctx, sample.Sample{Timestamp: 1, Role: sample.Repeater, Metric: "bat"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestBadgerStorage_RunGC(t *testing.T) {
	store, err := New(Config{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer store.Close()

	now := time.Now().Unix()
	if _, err := store.InsertFields(context.Background(), now, sample.Repeater, sample.Fields{"bat": 1}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// A nearly empty value log has nothing to rewrite
	if err := store.RunGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		t.Errorf("RunGC failed: %v", err)
	}
}
