package sample

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Role identifies which device a sample came from
type Role string

const (
	Companion Role = "companion" // Local node attached to the collector
	Repeater  Role = "repeater"  // Remote node queried over the mesh
)

// Roles lists every valid role in a stable order
var Roles = []Role{Companion, Repeater}

// ErrInvalidRole is returned when a role string is not companion or repeater
var ErrInvalidRole = errors.New("invalid role")

// ParseRole validates a role name
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case Companion, Repeater:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: %q (must be companion or repeater)", ErrInvalidRole, s)
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == Companion || r == Repeater
}

func (r Role) String() string {
	return string(r)
}

// Sample is a single stored reading. Immutable once written.
type Sample struct {
	Timestamp int64   `json:"ts"`
	Role      Role    `json:"role"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
}

// Point is a (timestamp, value) pair for one metric
type Point struct {
	Timestamp int64   `json:"ts"`
	Value     float64 `json:"value"`
}

// Time returns the point timestamp as a time.Time in loc
func (p Point) Time(loc *time.Location) time.Time {
	return time.Unix(p.Timestamp, 0).In(loc)
}

// Record holds every metric stored for a role at one timestamp
type Record struct {
	Timestamp int64              `json:"ts"`
	Role      Role               `json:"role"`
	Values    map[string]float64 `json:"values"`
}

// SortSamples orders samples by timestamp, then metric name
func SortSamples(samples []Sample) {
	sort.Slice(samples, func(i, j int) bool {
		if samples[i].Timestamp != samples[j].Timestamp {
			return samples[i].Timestamp < samples[j].Timestamp
		}
		return samples[i].Metric < samples[j].Metric
	})
}

// Pivot groups samples by metric, keeping timestamp order
func Pivot(samples []Sample) map[string][]Point {
	out := make(map[string][]Point)
	for _, s := range samples {
		out[s.Metric] = append(out[s.Metric], Point{Timestamp: s.Timestamp, Value: s.Value})
	}
	return out
}
