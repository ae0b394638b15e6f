package series

import (
	"sort"

	"github.com/nicktill/meshstats/pkg/sample"
)

// Rate converts counter readings into a per-second rate times scale.
//
// Pairs closer than minInterval seconds (or not increasing in time) are
// dropped and the previous reading is kept, so a burst of readings cannot
// produce a spike. A decreasing value is a reboot: the pair is dropped with no
// compensation and the post-reboot reading becomes the new baseline.
func Rate(points []sample.Point, scale, minInterval float64) []sample.Point {
	if len(points) < 2 {
		return nil
	}

	var out []sample.Point
	prev := points[0]
	for _, cur := range points[1:] {
		dt := float64(cur.Timestamp - prev.Timestamp)
		if dt <= 0 || dt < minInterval {
			continue
		}

		delta := cur.Value - prev.Value
		if delta < 0 {
			prev = cur
			continue
		}

		out = append(out, sample.Point{Timestamp: cur.Timestamp, Value: delta / dt * scale})
		prev = cur
	}
	return out
}

// ScaleGauge multiplies every value by scale
func ScaleGauge(points []sample.Point, scale float64) []sample.Point {
	out := make([]sample.Point, len(points))
	for i, p := range points {
		out[i] = sample.Point{Timestamp: p.Timestamp, Value: p.Value * scale}
	}
	return out
}

// Bin averages points into fixed-width buckets, emitting one point per
// occupied bucket at its midpoint. Series with at most one point, or a
// non-positive width, are returned unchanged.
func Bin(points []sample.Point, binSeconds int64) []sample.Point {
	if binSeconds <= 0 || len(points) <= 1 {
		return points
	}

	type bucket struct {
		sum   float64
		count int
	}
	buckets := make(map[int64]*bucket)
	for _, p := range points {
		key := floorDiv(p.Timestamp, binSeconds) * binSeconds
		b, ok := buckets[key]
		if !ok {
			b = &bucket{}
			buckets[key] = b
		}
		b.sum += p.Value
		b.count++
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]sample.Point, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		out = append(out, sample.Point{Timestamp: k + binSeconds/2, Value: b.sum / float64(b.count)})
	}
	return out
}

// floorDiv rounds toward negative infinity so pre-epoch buckets line up
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
