// Package storagetest is the conformance suite shared by every storage backend.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/meshstats/pkg/sample"
	"github.com/nicktill/meshstats/pkg/storage"
)

// Factory returns an empty storage. The suite closes it.
type Factory func(t *testing.T) storage.Storage

// Run exercises the Storage contract against a backend
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertReportsDuplicates", func(t *testing.T) { testInsertDuplicates(t, newStore(t)) })
	t.Run("InsertFields", func(t *testing.T) { testInsertFields(t, newStore(t)) })
	t.Run("InsertValidates", func(t *testing.T) { testInsertValidates(t, newStore(t)) })
	t.Run("QueryRange", func(t *testing.T) { testQueryRange(t, newStore(t)) })
	t.Run("Latest", func(t *testing.T) { testLatest(t, newStore(t)) })
	t.Run("DistinctPeriods", func(t *testing.T) { testDistinctPeriods(t, newStore(t)) })
	t.Run("DistinctTimestamps", func(t *testing.T) { testDistinctTimestamps(t, newStore(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newStore(t)) })
	t.Run("MetricsForPeriod", func(t *testing.T) { testMetricsForPeriod(t, newStore(t)) })
}

func testInsertDuplicates(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx := context.Background()

	s := sample.Sample{Timestamp: 1000, Role: sample.Repeater, Metric: "bat", Value: 3850}
	ok, err := store.Insert(ctx, s)
	require.NoError(t, err)
	require.True(t, ok)

	s.Value = 9999
	ok, err = store.Insert(ctx, s)
	require.NoError(t, err)
	require.False(t, ok, "duplicate must be reported, not stored")

	// Same timestamp and metric for the other role is a distinct key
	ok, err = store.Insert(ctx, sample.Sample{Timestamp: 1000, Role: sample.Companion, Metric: "bat", Value: 1})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := store.QueryRange(ctx, storage.QueryRequest{Role: sample.Repeater, Start: 0, End: 2000})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 3850.0, got[0].Value, "first write wins")
}

func testInsertFields(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx := context.Background()

	fields := sample.Fields{"bat": 3900, "nb_recv": 10, "nb_sent": 5}
	n, err := store.InsertFields(ctx, 500, sample.Repeater, fields)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	fields["uptime"] = 100
	n, err = store.InsertFields(ctx, 500, sample.Repeater, fields)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = store.InsertFields(ctx, 600, sample.Repeater, sample.Fields{})
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func testInsertValidates(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx := context.Background()

	_, err := store.Insert(ctx, sample.Sample{Timestamp: 1, Role: "gateway", Metric: "bat"})
	require.ErrorIs(t, err, sample.ErrInvalidRole)

	_, err = store.Insert(ctx, sample.Sample{Timestamp: 1, Role: sample.Repeater})
	require.ErrorIs(t, err, storage.ErrEmptyMetric)

	_, err = store.InsertFields(ctx, 1, "gateway", sample.Fields{"bat": 1})
	require.ErrorIs(t, err, sample.ErrInvalidRole)
}

func testQueryRange(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx := context.Background()

	for _, ts := range []int64{300, 100, 200} {
		_, err := store.InsertFields(ctx, ts, sample.Repeater, sample.Fields{"nb_recv": float64(ts), "bat": 4000})
		require.NoError(t, err)
	}
	_, err := store.InsertFields(ctx, 200, sample.Companion, sample.Fields{"recv": 1})
	require.NoError(t, err)

	all, err := store.QueryRange(ctx, storage.QueryRequest{Role: sample.Repeater, Start: 100, End: 300})
	require.NoError(t, err)
	require.Len(t, all, 6)
	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		require.True(t, prev.Timestamp < cur.Timestamp ||
			(prev.Timestamp == cur.Timestamp && prev.Metric < cur.Metric), "unordered at %d", i)
	}
	for _, s := range all {
		require.Equal(t, sample.Repeater, s.Role)
	}

	one, err := store.QueryRange(ctx, storage.QueryRequest{Role: sample.Repeater, Metric: "nb_recv", Start: 150, End: 300})
	require.NoError(t, err)
	require.Equal(t, []sample.Sample{
		{Timestamp: 200, Role: sample.Repeater, Metric: "nb_recv", Value: 200},
		{Timestamp: 300, Role: sample.Repeater, Metric: "nb_recv", Value: 300},
	}, one)

	none, err := store.QueryRange(ctx, storage.QueryRequest{Role: sample.Repeater, Start: 301, End: 400})
	require.NoError(t, err)
	require.Empty(t, none)
}

func testLatest(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx := context.Background()

	rec, err := store.Latest(ctx, sample.Repeater)
	require.NoError(t, err)
	require.Nil(t, rec)

	_, err = store.InsertFields(ctx, 100, sample.Repeater, sample.Fields{"bat": 3800, "uptime": 10})
	require.NoError(t, err)
	_, err = store.InsertFields(ctx, 200, sample.Repeater, sample.Fields{"bat": 3900})
	require.NoError(t, err)
	_, err = store.InsertFields(ctx, 900, sample.Companion, sample.Fields{"battery_mv": 4100})
	require.NoError(t, err)

	rec, err = store.Latest(ctx, sample.Repeater)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, int64(200), rec.Timestamp)
	require.Equal(t, sample.Repeater, rec.Role)
	require.Equal(t, map[string]float64{"bat": 3900}, rec.Values)

	derived, err := storage.LatestRecord(ctx, store, sample.Companion)
	require.NoError(t, err)
	require.Contains(t, derived.Values, "bat_pct")
}

func testDistinctPeriods(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx := context.Background()

	times := []time.Time{
		time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC),
		time.Date(2024, time.December, 31, 23, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 20, 12, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 1, 0, 30, 0, 0, time.UTC),
	}
	for _, ts := range times {
		_, err := store.Insert(ctx, sample.Sample{Timestamp: ts.Unix(), Role: sample.Repeater, Metric: "bat", Value: 1})
		require.NoError(t, err)
	}
	_, err := store.Insert(ctx, sample.Sample{Timestamp: times[0].AddDate(0, 2, 0).Unix(), Role: sample.Companion, Metric: "recv", Value: 1})
	require.NoError(t, err)

	periods, err := store.DistinctPeriods(ctx, sample.Repeater, time.UTC)
	require.NoError(t, err)
	require.Equal(t, []storage.Period{
		{Year: 2024, Month: time.December},
		{Year: 2025, Month: time.January},
		{Year: 2025, Month: time.March},
	}, periods)

	// 2025-01-01 00:30 UTC is still December 31 one hour west
	west := time.FixedZone("UTC-1", -3600)
	periods, err = store.DistinctPeriods(ctx, sample.Repeater, west)
	require.NoError(t, err)
	require.Equal(t, []storage.Period{
		{Year: 2024, Month: time.December},
		{Year: 2025, Month: time.March},
	}, periods)

	periods, err = store.DistinctPeriods(ctx, sample.Companion, time.UTC)
	require.NoError(t, err)
	require.Equal(t, []storage.Period{{Year: 2025, Month: time.May}}, periods)
}

func testDistinctTimestamps(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx := context.Background()

	for _, ts := range []int64{30, 10, 20} {
		_, err := store.InsertFields(ctx, ts, sample.Repeater, sample.Fields{"bat": 1, "uptime": 2})
		require.NoError(t, err)
	}

	got, err := store.DistinctTimestamps(ctx, sample.Repeater, 10, 25)
	require.NoError(t, err)
	require.Equal(t, []int64{10, 20}, got)

	got, err = store.DistinctTimestamps(ctx, sample.Companion, 0, 100)
	require.NoError(t, err)
	require.Empty(t, got)
}

func testStats(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx := context.Background()

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), stats.TotalSamples)

	_, err = store.InsertFields(ctx, 100, sample.Repeater, sample.Fields{"bat": 1, "uptime": 2})
	require.NoError(t, err)
	_, err = store.InsertFields(ctx, 200, sample.Repeater, sample.Fields{"bat": 1})
	require.NoError(t, err)

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), stats.TotalSamples)
	require.Equal(t, uint64(2), stats.TotalSeries)
	require.Equal(t, int64(100), stats.Oldest.Unix())
	require.Equal(t, int64(200), stats.Newest.Unix())
}

func testMetricsForPeriod(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx := context.Background()

	_, err := store.InsertFields(ctx, 100, sample.Repeater, sample.Fields{"bat": 4200, "nb_recv": 5})
	require.NoError(t, err)
	_, err = store.InsertFields(ctx, 200, sample.Repeater, sample.Fields{"bat": 3820, "nb_recv": 7})
	require.NoError(t, err)

	byMetric, err := storage.MetricsForPeriod(ctx, store, sample.Repeater, 0, 1000)
	require.NoError(t, err)
	require.Equal(t, []sample.Point{{Timestamp: 100, Value: 5}, {Timestamp: 200, Value: 7}}, byMetric["nb_recv"])
	require.Len(t, byMetric["bat_pct"], 2)
	require.InDelta(t, 100, byMetric["bat_pct"][0].Value, 1e-9)
	require.InDelta(t, 50, byMetric["bat_pct"][1].Value, 1e-9)
}
