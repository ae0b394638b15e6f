// Package telemetry flattens Cayenne LPP sensor readings into numeric fields.
//
// A reading looks like {"type": "temperature", "channel": 1, "value": 23.5}.
// Scalar values become telemetry.<type>.<channel>; compound values such as GPS
// become telemetry.<type>.<channel>.<subkey>.
package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/nicktill/meshstats/pkg/sample"
)

// Prefix starts every telemetry metric name
const Prefix = "telemetry."

// ExtractLPP returns the reading list from a telemetry payload. Both
// {"lpp": [...]} and a bare list are accepted.
func ExtractLPP(payload any) ([]any, bool) {
	switch p := payload.(type) {
	case []any:
		return p, true
	case map[string]any:
		lpp, ok := p["lpp"].([]any)
		return lpp, ok
	default:
		return nil, false
	}
}

// Metrics converts LPP readings into fields. Invalid readings are skipped.
func Metrics(lpp []any) sample.Fields {
	fields := make(sample.Fields)
	for _, raw := range lpp {
		reading, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		sensor, ok := reading["type"].(string)
		if !ok {
			continue
		}
		sensor = normalize(sensor)
		if sensor == "" {
			continue
		}

		key := fmt.Sprintf("%s%s.%d", Prefix, sensor, channel(reading["channel"]))

		switch v := reading["value"].(type) {
		case map[string]any:
			for sub, subval := range v {
				sub = normalize(sub)
				if sub == "" {
					continue
				}
				if f, ok := sample.Numeric(subval); ok {
					fields[key+"."+sub] = f
				}
			}
		default:
			if f, ok := sample.Numeric(v); ok {
				fields[key] = f
			}
		}
	}
	return fields
}

// FromPayload is ExtractLPP followed by Metrics
func FromPayload(payload any) sample.Fields {
	lpp, ok := ExtractLPP(payload)
	if !ok {
		return sample.Fields{}
	}
	return Metrics(lpp)
}

// IsTelemetry reports whether a metric name came from a telemetry reading
func IsTelemetry(metric string) bool {
	return strings.HasPrefix(metric, Prefix)
}

func normalize(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

// channel accepts integral numbers only, anything else is channel 0
func channel(v any) int {
	switch c := v.(type) {
	case int:
		return c
	case int64:
		return int(c)
	case float64:
		if c == math.Trunc(c) {
			return int(c)
		}
	case json.Number:
		if n, err := c.Int64(); err == nil {
			return int(n)
		}
	}
	return 0
}
