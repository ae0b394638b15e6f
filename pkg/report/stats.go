package report

import (
	"math"

	"github.com/nicktill/meshstats/pkg/metrics"
	"github.com/nicktill/meshstats/pkg/sample"
)

// Extreme is a min or max value with the time it was first observed
type Extreme struct {
	Value     float64
	Timestamp int64
}

// MetricStats summarizes one metric over a period.
// Gauges fill Mean, Min and Max; counters fill Total and RebootCount.
// Any field may be nil; Count == 0 means no data.
type MetricStats struct {
	Kind        metrics.Kind
	Count       int
	Mean        *float64
	Min         *Extreme
	Max         *Extreme
	Total       *int64
	RebootCount int
}

// HasData reports whether any samples contributed to the stats
func (s MetricStats) HasData() bool {
	return s.Count > 0
}

// CounterTotal sums positive deltas over time-ordered counter readings.
//
// A negative delta is read as a device reboot: the counter is assumed to have
// climbed from zero to the current reading, so that reading is added and the
// reboot counted. Traffic between the last pre-reboot reading and the reboot
// itself is lost. ok is false with fewer than two readings.
func CounterTotal(points []sample.Point) (total int64, reboots int, ok bool) {
	if len(points) < 2 {
		return 0, 0, false
	}

	prev := int64(points[0].Value)
	for _, p := range points[1:] {
		cur := int64(p.Value)
		if delta := cur - prev; delta >= 0 {
			total += delta
		} else {
			reboots++
			total += cur
		}
		prev = cur
	}
	return total, reboots, true
}

// ReduceGauge computes count, mean and the first-occurring min and max
func ReduceGauge(points []sample.Point) MetricStats {
	stats := MetricStats{Kind: metrics.GaugeKind}
	if len(points) == 0 {
		return stats
	}

	var sum float64
	minP, maxP := points[0], points[0]
	for _, p := range points {
		sum += p.Value
		if p.Value < minP.Value {
			minP = p
		}
		if p.Value > maxP.Value {
			maxP = p
		}
	}

	mean := sum / float64(len(points))
	stats.Count = len(points)
	stats.Mean = &mean
	stats.Min = &Extreme{Value: minP.Value, Timestamp: minP.Timestamp}
	stats.Max = &Extreme{Value: maxP.Value, Timestamp: maxP.Timestamp}
	return stats
}

// ReduceCounter wraps CounterTotal into counter-shaped stats
func ReduceCounter(points []sample.Point) MetricStats {
	stats := MetricStats{Kind: metrics.CounterKind}
	if len(points) == 0 {
		return stats
	}

	stats.Count = len(points)
	if total, reboots, ok := CounterTotal(points); ok {
		stats.Total = &total
		stats.RebootCount = reboots
	}
	return stats
}

// ComposeCounter sums child counter stats. Children without a total are
// skipped entirely, so their count does not contribute either.
func ComposeCounter(children []MetricStats) MetricStats {
	out := MetricStats{Kind: metrics.CounterKind}

	var total int64
	for _, c := range children {
		if !c.HasData() || c.Total == nil {
			continue
		}
		total += *c.Total
		out.Count += c.Count
		out.RebootCount += c.RebootCount
	}

	if out.Count == 0 {
		return MetricStats{Kind: metrics.CounterKind}
	}
	out.Total = &total
	return out
}

// ComposeGauge merges child gauge stats with a count-weighted mean.
// Extremes keep their original timestamps; on ties the earliest child wins.
func ComposeGauge(children []MetricStats) MetricStats {
	out := MetricStats{Kind: metrics.GaugeKind}

	var sum float64
	var minE, maxE *Extreme
	for _, c := range children {
		if !c.HasData() {
			continue
		}
		if c.Mean != nil {
			sum += *c.Mean * float64(c.Count)
			out.Count += c.Count
		}
		if c.Min != nil && (minE == nil || c.Min.Value < minE.Value) {
			e := *c.Min
			minE = &e
		}
		if c.Max != nil && (maxE == nil || c.Max.Value > maxE.Value) {
			e := *c.Max
			maxE = &e
		}
	}

	if out.Count == 0 {
		return MetricStats{Kind: metrics.GaugeKind}
	}
	mean := sum / float64(out.Count)
	out.Mean = &mean
	out.Min = minE
	out.Max = maxE
	return out
}

// compose dispatches on the metric kind
func compose(kind metrics.Kind, children []MetricStats) MetricStats {
	if kind == metrics.CounterKind {
		return ComposeCounter(children)
	}
	return ComposeGauge(children)
}

// round4 rounds to four decimal places for report output
func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
