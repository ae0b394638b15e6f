package report

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/meshstats/pkg/metrics"
	"github.com/nicktill/meshstats/pkg/sample"
)

func points(values ...float64) []sample.Point {
	out := make([]sample.Point, len(values))
	for i, v := range values {
		out[i] = sample.Point{Timestamp: int64(i) * 900, Value: v}
	}
	return out
}

func TestCounterTotal(t *testing.T) {
	tests := []struct {
		name    string
		input   []sample.Point
		total   int64
		reboots int
		ok      bool
	}{
		{name: "empty", input: nil},
		{name: "single reading", input: points(42)},
		{name: "monotonic", input: points(100, 150, 200), total: 100, ok: true},
		{name: "one reboot", input: points(100, 150, 20, 50), total: 100, reboots: 1, ok: true},
		{name: "flat", input: points(7, 7, 7), total: 0, ok: true},
		{name: "reboot scenario", input: points(100, 200, 50, 150), total: 250, reboots: 1, ok: true},
		{name: "truncates fractions", input: points(10.9, 12.2), total: 2, ok: true},
		{name: "two reboots", input: points(50, 10, 5), total: 15, reboots: 2, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, reboots, ok := CounterTotal(tt.input)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.total, total)
			require.Equal(t, tt.reboots, reboots)
		})
	}
}

func TestReduceGauge(t *testing.T) {
	stats := ReduceGauge([]sample.Point{
		{Timestamp: 10, Value: 3.7},
		{Timestamp: 20, Value: 4.0},
		{Timestamp: 30, Value: 3.8},
	})

	require.Equal(t, metrics.GaugeKind, stats.Kind)
	require.Equal(t, 3, stats.Count)
	require.InDelta(t, 3.8333, *stats.Mean, 1e-4)
	require.Equal(t, Extreme{Value: 3.7, Timestamp: 10}, *stats.Min)
	require.Equal(t, Extreme{Value: 4.0, Timestamp: 20}, *stats.Max)
	require.Nil(t, stats.Total)
}

func TestReduceGauge_EarliestExtremeWins(t *testing.T) {
	stats := ReduceGauge([]sample.Point{
		{Timestamp: 1, Value: 5},
		{Timestamp: 2, Value: 1},
		{Timestamp: 3, Value: 5},
		{Timestamp: 4, Value: 1},
	})
	require.Equal(t, int64(2), stats.Min.Timestamp)
	require.Equal(t, int64(1), stats.Max.Timestamp)
}

func TestReduceGauge_Empty(t *testing.T) {
	stats := ReduceGauge(nil)
	require.False(t, stats.HasData())
	require.Nil(t, stats.Mean)
	require.Nil(t, stats.Min)
	require.Nil(t, stats.Max)
}

func TestReduceCounter(t *testing.T) {
	single := ReduceCounter(points(5))
	require.True(t, single.HasData())
	require.Equal(t, 1, single.Count)
	require.Nil(t, single.Total, "one reading cannot establish a delta")

	zero := ReduceCounter(points(5, 5))
	require.NotNil(t, zero.Total)
	require.Equal(t, int64(0), *zero.Total)
}

func TestComposeCounter(t *testing.T) {
	children := []MetricStats{
		ReduceCounter(points(100, 150, 200)),    // 100
		ReduceCounter(points(9)),                // no total
		{Kind: metrics.CounterKind},             // no data
		ReduceCounter(points(100, 150, 20, 50)), // 100, 1 reboot
	}

	got := ComposeCounter(children)
	require.Equal(t, int64(200), *got.Total)
	require.Equal(t, 1, got.RebootCount)
	require.Equal(t, 7, got.Count, "children without a total do not count")

	empty := ComposeCounter([]MetricStats{ReduceCounter(points(1))})
	require.False(t, empty.HasData())
	require.Nil(t, empty.Total)
}

func TestComposeGauge_MatchesFlatReduction(t *testing.T) {
	days := [][]sample.Point{
		{{Timestamp: 100, Value: 3.7}, {Timestamp: 200, Value: 4.0}, {Timestamp: 300, Value: 3.8}},
		{{Timestamp: 1100, Value: 3.9}},
		{{Timestamp: 2100, Value: 3.6}, {Timestamp: 2200, Value: 4.1}},
	}

	var children []MetricStats
	var flat []sample.Point
	for _, d := range days {
		children = append(children, ReduceGauge(d))
		flat = append(flat, d...)
	}
	children = append(children, MetricStats{Kind: metrics.GaugeKind})

	composed := ComposeGauge(children)
	direct := ReduceGauge(flat)

	require.Equal(t, direct.Count, composed.Count)
	require.InDelta(t, *direct.Mean, *composed.Mean, 1e-9)
	require.Equal(t, *direct.Min, *composed.Min)
	require.Equal(t, *direct.Max, *composed.Max)
}

func TestComposeGauge_TieKeepsEarliestChild(t *testing.T) {
	got := ComposeGauge([]MetricStats{
		ReduceGauge([]sample.Point{{Timestamp: 10, Value: 2}}),
		ReduceGauge([]sample.Point{{Timestamp: 20, Value: 2}}),
	})
	require.Equal(t, int64(10), got.Min.Timestamp)
	require.Equal(t, int64(10), got.Max.Timestamp)
}

func TestComposeCounter_TotalsCommute(t *testing.T) {
	daily := [][]sample.Point{points(0, 10, 25), points(25, 40), points(40, 3, 9)}

	var children []MetricStats
	var want int64
	for _, d := range daily {
		s := ReduceCounter(d)
		children = append(children, s)
		want += *s.Total
	}

	months := []MetricStats{ComposeCounter(children[:2]), ComposeCounter(children[2:])}
	require.Equal(t, want, *ComposeCounter(months).Total)
	require.Equal(t, *ComposeCounter(children).Total, *ComposeCounter(months).Total)
}
