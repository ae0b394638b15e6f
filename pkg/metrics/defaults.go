package metrics

import "github.com/nicktill/meshstats/pkg/sample"

// BatteryPercent is derived from battery voltage at query time and never stored
const BatteryPercent = "bat_pct"

func counter(label, unit string) Definition {
	return Definition{Label: label, Unit: unit, Kind: CounterKind, Scale: 60}
}

// DefaultDefinitions uses firmware field names as metric names
var DefaultDefinitions = map[string]Definition{
	// Companion
	"battery_mv":  {Label: "Battery Voltage", Unit: "V", Transform: MillivoltsToVolts},
	"uptime_secs": {Label: "System Uptime", Unit: "days", Scale: 1.0 / 86400},
	"contacts":    {Label: "Known Contacts"},
	"recv":        counter("Total Packets Received", "/min"),
	"sent":        counter("Total Packets Sent", "/min"),

	// Repeater
	"bat":          {Label: "Battery Voltage", Unit: "V", Transform: MillivoltsToVolts},
	"uptime":       {Label: "System Uptime", Unit: "days", Scale: 1.0 / 86400},
	"last_rssi":    {Label: "Signal Strength (RSSI)", Unit: "dBm"},
	"last_snr":     {Label: "Signal-to-Noise Ratio", Unit: "dB"},
	"noise_floor":  {Label: "RF Noise Floor", Unit: "dBm"},
	"tx_queue_len": {Label: "Transmit Queue Depth"},
	"nb_recv":      counter("Total Packets Received", "/min"),
	"nb_sent":      counter("Total Packets Sent", "/min"),
	"airtime":      counter("Transmit Airtime", "s/min"),
	"rx_airtime":   counter("Receive Airtime", "s/min"),
	"flood_dups":   counter("Flood Duplicates Dropped", "/min"),
	"direct_dups":  counter("Direct Duplicates Dropped", "/min"),
	"sent_flood":   counter("Flood Packets Sent", "/min"),
	"recv_flood":   counter("Flood Packets Received", "/min"),
	"sent_direct":  counter("Direct Packets Sent", "/min"),
	"recv_direct":  counter("Direct Packets Received", "/min"),

	// Derived
	BatteryPercent: {Label: "Charge Level", Unit: "%"},
}

// DefaultChartMetrics lists metrics charted per role
var DefaultChartMetrics = map[sample.Role][]string{
	sample.Companion: {"battery_mv", BatteryPercent, "uptime_secs", "contacts", "recv", "sent"},
	sample.Repeater: {
		"bat", BatteryPercent, "last_rssi", "last_snr", "noise_floor", "uptime", "tx_queue_len",
		"nb_recv", "nb_sent", "airtime", "rx_airtime", "flood_dups", "direct_dups",
		"sent_flood", "recv_flood", "sent_direct", "recv_direct",
	},
}

// DefaultReportMetrics lists metrics summarized in reports per role
var DefaultReportMetrics = map[sample.Role][]string{
	sample.Companion: {"battery_mv", BatteryPercent, "contacts", "uptime_secs", "recv", "sent"},
	sample.Repeater: {
		"bat", BatteryPercent, "last_rssi", "last_snr", "uptime", "noise_floor", "tx_queue_len",
		"nb_recv", "nb_sent", "airtime", "rx_airtime", "flood_dups", "direct_dups",
		"sent_flood", "recv_flood", "sent_direct", "recv_direct",
	},
}

// DefaultRegistry builds the registry for MeshCore companion and repeater nodes
func DefaultRegistry() *Registry {
	return NewRegistry(DefaultDefinitions, DefaultChartMetrics, DefaultReportMetrics)
}
