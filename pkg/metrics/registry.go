package metrics

import (
	"github.com/nicktill/meshstats/pkg/sample"
)

// Kind distinguishes point-in-time values from monotonic device counters
type Kind string

const (
	GaugeKind   Kind = "gauge"
	CounterKind Kind = "counter"
)

// Transform is a unit conversion applied to raw values before scaling
type Transform string

const (
	NoTransform       Transform = ""
	MillivoltsToVolts Transform = "mv_to_v"
)

// Definition describes how a metric is classified and displayed
type Definition struct {
	Label     string    `json:"label" yaml:"label"`
	Unit      string    `json:"unit" yaml:"unit"`
	Kind      Kind      `json:"kind" yaml:"kind"`
	Scale     float64   `json:"scale" yaml:"scale"`
	Transform Transform `json:"transform,omitempty" yaml:"transform"`
}

// Registry is a read-only lookup from metric name to Definition.
// Build it once at startup and share it.
type Registry struct {
	defs   map[string]Definition
	charts map[sample.Role][]string
	report map[sample.Role][]string
}

// NewRegistry copies defs into a new registry. Zero scales become 1.0 and
// empty kinds become gauges.
func NewRegistry(defs map[string]Definition, charts, report map[sample.Role][]string) *Registry {
	r := &Registry{
		defs:   make(map[string]Definition, len(defs)),
		charts: make(map[sample.Role][]string, len(charts)),
		report: make(map[sample.Role][]string, len(report)),
	}
	for name, d := range defs {
		if d.Scale == 0 {
			d.Scale = 1.0
		}
		if d.Kind == "" {
			d.Kind = GaugeKind
		}
		if d.Label == "" {
			d.Label = name
		}
		r.defs[name] = d
	}
	for role, names := range charts {
		r.charts[role] = append([]string(nil), names...)
	}
	for role, names := range report {
		r.report[role] = append([]string(nil), names...)
	}
	return r
}

// Lookup returns the definition for name, or the default gauge definition
// and false when the metric is not registered
func (r *Registry) Lookup(name string) (Definition, bool) {
	if d, ok := r.defs[name]; ok {
		return d, true
	}
	return Definition{Label: name, Kind: GaugeKind, Scale: 1.0}, false
}

// IsCounter reports whether name is a registered monotonic counter
func (r *Registry) IsCounter(name string) bool {
	d, _ := r.Lookup(name)
	return d.Kind == CounterKind
}

// Scale returns the display multiplier for name (1.0 when unknown)
func (r *Registry) Scale(name string) float64 {
	d, _ := r.Lookup(name)
	return d.Scale
}

// Unit returns the display unit for name ("" when unknown)
func (r *Registry) Unit(name string) string {
	d, _ := r.Lookup(name)
	return d.Unit
}

// Label returns the human readable label for name (the name itself when unknown)
func (r *Registry) Label(name string) string {
	d, _ := r.Lookup(name)
	return d.Label
}

// Apply runs the metric's configured transform on a raw value
func (r *Registry) Apply(name string, value float64) float64 {
	d, _ := r.Lookup(name)
	switch d.Transform {
	case MillivoltsToVolts:
		return value / 1000.0
	default:
		return value
	}
}

// ChartMetrics returns the metrics charted for role, in display order
func (r *Registry) ChartMetrics(role sample.Role) []string {
	return append([]string(nil), r.charts[role]...)
}

// ReportMetrics returns the metrics summarized in reports for role
func (r *Registry) ReportMetrics(role sample.Role) []string {
	return append([]string(nil), r.report[role]...)
}
