package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/meshstats/pkg/sample"
)

func TestDefaultRegistry_Classification(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		name    string
		counter bool
		scale   float64
		unit    string
	}{
		{"nb_recv", true, 60, "/min"},
		{"airtime", true, 60, "s/min"},
		{"recv", true, 60, "/min"},
		{"bat", false, 1, "V"},
		{"last_rssi", false, 1, "dBm"},
		{"uptime", false, 1.0 / 86400, "days"},
		{"bat_pct", false, 1, "%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.counter, r.IsCounter(tt.name))
			require.InDelta(t, tt.scale, r.Scale(tt.name), 1e-12)
			require.Equal(t, tt.unit, r.Unit(tt.name))
		})
	}
}

func TestRegistry_UnknownMetricIsPlainGauge(t *testing.T) {
	r := DefaultRegistry()

	def, ok := r.Lookup("telemetry.temperature.1")
	require.False(t, ok)
	require.Equal(t, GaugeKind, def.Kind)
	require.False(t, r.IsCounter("telemetry.temperature.1"))
	require.Equal(t, 1.0, r.Scale("telemetry.temperature.1"))
	require.Equal(t, "telemetry.temperature.1", r.Label("telemetry.temperature.1"))
	require.Equal(t, "", r.Unit("telemetry.temperature.1"))
	require.Equal(t, 42.0, r.Apply("telemetry.temperature.1", 42))
}

func TestRegistry_ApplyMillivolts(t *testing.T) {
	r := DefaultRegistry()
	require.InDelta(t, 3.85, r.Apply("bat", 3850), 1e-9)
	require.InDelta(t, 4.1, r.Apply("battery_mv", 4100), 1e-9)
	require.Equal(t, 100.0, r.Apply("nb_recv", 100))
}

func TestRegistry_RoleMetricLists(t *testing.T) {
	r := DefaultRegistry()

	require.Contains(t, r.ChartMetrics(sample.Companion), "battery_mv")
	require.Contains(t, r.ReportMetrics(sample.Repeater), "nb_recv")
	require.Empty(t, r.ChartMetrics(sample.Role("gateway")))

	// Returned slices are copies
	list := r.ReportMetrics(sample.Companion)
	list[0] = "mutated"
	require.Equal(t, "battery_mv", r.ReportMetrics(sample.Companion)[0])
}

func TestNewRegistry_Defaults(t *testing.T) {
	r := NewRegistry(map[string]Definition{"x": {}}, nil, nil)

	def, ok := r.Lookup("x")
	require.True(t, ok)
	require.Equal(t, "x", def.Label)
	require.Equal(t, 1.0, def.Scale)
	require.Equal(t, GaugeKind, def.Kind)
}
