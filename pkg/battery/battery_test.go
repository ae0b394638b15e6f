package battery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/meshstats/pkg/sample"
)

func TestVoltageToPercent(t *testing.T) {
	tests := []struct {
		volts float64
		want  float64
	}{
		{4.5, 100},
		{4.20, 100},
		{4.06, 90},
		{4.13, 95},
		{3.82, 50},
		{3.00, 0},
		{2.5, 0},
		{3.225, 2.5},
	}

	for _, tt := range tests {
		require.InDelta(t, tt.want, VoltageToPercent(tt.volts), 1e-9, "volts=%v", tt.volts)
	}
}

func TestDerive(t *testing.T) {
	byMetric := map[string][]sample.Point{
		"bat": {{Timestamp: 1, Value: 4200}, {Timestamp: 2, Value: 3820}},
	}
	Derive(sample.Repeater, byMetric)

	require.Len(t, byMetric[PercentMetric], 2)
	require.InDelta(t, 100, byMetric[PercentMetric][0].Value, 1e-9)
	require.InDelta(t, 50, byMetric[PercentMetric][1].Value, 1e-9)
	require.Equal(t, int64(2), byMetric[PercentMetric][1].Timestamp)

	// Companion reads battery_mv, not bat
	companion := map[string][]sample.Point{"bat": {{Timestamp: 1, Value: 4200}}}
	Derive(sample.Companion, companion)
	require.NotContains(t, companion, PercentMetric)
}

func TestDeriveRecord(t *testing.T) {
	rec := &sample.Record{Role: sample.Companion, Values: map[string]float64{"battery_mv": 4060}}
	DeriveRecord(rec)
	require.InDelta(t, 90, rec.Values[PercentMetric], 1e-9)

	DeriveRecord(nil)
}
