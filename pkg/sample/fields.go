package sample

import (
	"encoding/json"
	"math"
	"sort"
)

// Fields is a validated flat payload of named numeric readings
type Fields map[string]float64

// FieldsFromPayload converts a loosely typed decoded payload into Fields.
//
// Booleans are accepted explicitly as 1.0/0.0. Any other non-numeric value,
// NaN or Inf is dropped.
func FieldsFromPayload(payload map[string]any) Fields {
	fields := make(Fields, len(payload))
	for k, v := range payload {
		if k == "" {
			continue
		}
		if f, ok := Numeric(v); ok {
			fields[k] = f
		}
	}
	return fields
}

// Numeric converts a decoded value into a float64 reading
func Numeric(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Merge copies every field of other into f, overwriting duplicates
func (f Fields) Merge(other Fields) {
	for k, v := range other {
		f[k] = v
	}
}

// Names returns the field names sorted
func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Samples expands the fields into samples at ts, sorted by metric name
func (f Fields) Samples(ts int64, role Role) []Sample {
	out := make([]Sample, 0, len(f))
	for _, name := range f.Names() {
		out = append(out, Sample{Timestamp: ts, Role: role, Metric: name, Value: f[name]})
	}
	return out
}
