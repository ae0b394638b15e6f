// Package battery converts 18650 Li-ion cell voltage to a charge percentage
// and derives the bat_pct series from stored battery voltage.
package battery

import (
	"github.com/nicktill/meshstats/pkg/sample"
)

// PercentMetric is the derived metric name
const PercentMetric = "bat_pct"

type point struct {
	volts   float64
	percent float64
}

// Typical 18650 discharge curve, highest voltage first
var curve = []point{
	{4.20, 100},
	{4.06, 90},
	{3.98, 80},
	{3.92, 70},
	{3.87, 60},
	{3.82, 50},
	{3.79, 40},
	{3.77, 30},
	{3.74, 20},
	{3.68, 10},
	{3.45, 5},
	{3.00, 0},
}

// VoltageToPercent interpolates linearly between points of the discharge curve
func VoltageToPercent(volts float64) float64 {
	if volts >= curve[0].volts {
		return 100
	}
	if volts <= curve[len(curve)-1].volts {
		return 0
	}
	for i := 0; i < len(curve)-1; i++ {
		high, low := curve[i], curve[i+1]
		if volts >= low.volts && volts <= high.volts {
			ratio := (volts - low.volts) / (high.volts - low.volts)
			return low.percent + ratio*(high.percent-low.percent)
		}
	}
	return 0
}

// SourceMetric returns the millivolt metric that bat_pct is derived from
func SourceMetric(role sample.Role) string {
	if role == sample.Companion {
		return "battery_mv"
	}
	return "bat"
}

// Derive adds a bat_pct series computed from the role's battery voltage.
// byMetric is modified in place; nothing happens when there is no voltage data.
func Derive(role sample.Role, byMetric map[string][]sample.Point) {
	mv := byMetric[SourceMetric(role)]
	if len(mv) == 0 {
		return
	}
	pct := make([]sample.Point, len(mv))
	for i, p := range mv {
		pct[i] = sample.Point{Timestamp: p.Timestamp, Value: VoltageToPercent(p.Value / 1000.0)}
	}
	byMetric[PercentMetric] = pct
}

// DeriveRecord adds bat_pct to a latest record
func DeriveRecord(rec *sample.Record) {
	if rec == nil {
		return
	}
	if mv, ok := rec.Values[SourceMetric(rec.Role)]; ok {
		rec.Values[PercentMetric] = VoltageToPercent(mv / 1000.0)
	}
}
