package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nicktill/meshstats/pkg/metrics"
	"github.com/nicktill/meshstats/pkg/sample"
)

// column is one fixed-width, right-aligned cell of a text table
type column struct {
	header string
	group  string // printed on the line above the header, may be empty
	width  int
	cell   func(stats map[string]MetricStats, loc *time.Location) string
}

func gauge(metric string, scale float64, decimals int) func(map[string]MetricStats, *time.Location) string {
	return func(stats map[string]MetricStats, _ *time.Location) string {
		s, ok := stats[metric]
		if !ok || s.Mean == nil {
			return "-"
		}
		return fmt.Sprintf("%.*f", decimals, *s.Mean*scale)
	}
}

func extreme(metric string, high bool, scale float64) func(map[string]MetricStats, *time.Location) string {
	return func(stats map[string]MetricStats, _ *time.Location) string {
		e := pickExtreme(stats, metric, high)
		if e == nil {
			return "-"
		}
		return fmt.Sprintf("%.2f", e.Value*scale)
	}
}

// when formats the time of an extreme with layout, such as "15:04" for a
// day row or "02" for a month row
func when(metric string, high bool, layout string) func(map[string]MetricStats, *time.Location) string {
	return func(stats map[string]MetricStats, loc *time.Location) string {
		e := pickExtreme(stats, metric, high)
		if e == nil {
			return strings.Repeat("-", len(layout))
		}
		return time.Unix(e.Timestamp, 0).In(loc).Format(layout)
	}
}

func total(metric string) func(map[string]MetricStats, *time.Location) string {
	return func(stats map[string]MetricStats, _ *time.Location) string {
		s, ok := stats[metric]
		if !ok || s.Total == nil {
			return "-"
		}
		return humanize.Comma(*s.Total)
	}
}

func pickExtreme(stats map[string]MetricStats, metric string, high bool) *Extreme {
	s, ok := stats[metric]
	if !ok {
		return nil
	}
	if high {
		return s.Max
	}
	return s.Min
}

// roleColumns lists the metric columns of a role's text reports. Battery
// values are stored in millivolts and printed in volts.
func roleColumns(role sample.Role, extremeLayout string) []column {
	if role == sample.Companion {
		return []column{
			{group: "BATTERY", header: "VOLT", width: 7, cell: gauge("battery_mv", 0.001, 2)},
			{header: "%", width: 5, cell: gauge(metrics.BatteryPercent, 1, 0)},
			{header: "HIGH", width: 7, cell: extreme("battery_mv", true, 0.001)},
			{header: "AT", width: 7, cell: when("battery_mv", true, extremeLayout)},
			{header: "LOW", width: 7, cell: extreme("battery_mv", false, 0.001)},
			{header: "AT", width: 7, cell: when("battery_mv", false, extremeLayout)},
			{header: "CNTS", width: 6, cell: gauge("contacts", 1, 0)},
			{group: "PACKETS", header: "RX", width: 11, cell: total("recv")},
			{header: "TX", width: 9, cell: total("sent")},
		}
	}
	return []column{
		{group: "BATTERY", header: "VOLT", width: 7, cell: gauge("bat", 0.001, 2)},
		{header: "%", width: 5, cell: gauge(metrics.BatteryPercent, 1, 0)},
		{header: "HIGH", width: 7, cell: extreme("bat", true, 0.001)},
		{header: "AT", width: 7, cell: when("bat", true, extremeLayout)},
		{header: "LOW", width: 7, cell: extreme("bat", false, 0.001)},
		{header: "AT", width: 7, cell: when("bat", false, extremeLayout)},
		{group: "SIGNAL", header: "RSSI", width: 7, cell: gauge("last_rssi", 1, 0)},
		{header: "SNR", width: 6, cell: gauge("last_snr", 1, 1)},
		{header: "NOISE", width: 7, cell: gauge("noise_floor", 1, 0)},
		{group: "PACKETS", header: "RX", width: 11, cell: total("nb_recv")},
		{header: "TX", width: 9, cell: total("nb_sent")},
		{header: "AIR", width: 8, cell: total("airtime")},
	}
}

type textTable struct {
	label string // header of the leading row label column
	cols  []column
	b     strings.Builder
}

func (t *textTable) width() int {
	n := 6
	for _, c := range t.cols {
		n += c.width
	}
	return n
}

func (t *textTable) title(title string) {
	pad := (t.width() - len(title)) / 2
	if pad < 0 {
		pad = 0
	}
	t.b.WriteString(strings.Repeat(" ", pad) + title + "\n\n")
}

func (t *textTable) header() {
	groups := make([]string, len(t.cols))
	headers := make([]string, len(t.cols))
	for i, c := range t.cols {
		groups[i] = c.group
		headers[i] = c.header
	}
	t.line("", groups)
	t.line(t.label, headers)
	t.separator()
}

func (t *textTable) row(label string, stats map[string]MetricStats, loc *time.Location) {
	cells := make([]string, len(t.cols))
	for i, c := range t.cols {
		cells[i] = c.cell(stats, loc)
	}
	t.line(label, cells)
}

func (t *textTable) line(label string, cells []string) {
	var line strings.Builder
	fmt.Fprintf(&line, "%-6s", label)
	for i, c := range t.cols {
		fmt.Fprintf(&line, "%*s", c.width, cells[i])
	}
	t.b.WriteString(strings.TrimRight(line.String(), " ") + "\n")
}

func (t *textTable) separator() {
	t.b.WriteString(strings.Repeat("-", t.width()) + "\n")
}

// MonthlyText renders a monthly report as a fixed-width table with one row
// per day that has data and a summary row. Extremes show the local time of
// day in day rows and the day of month in the summary.
func MonthlyText(agg MonthlyAggregate, loc *time.Location) string {
	t := &textTable{label: "DAY", cols: roleColumns(agg.Role, "15:04")}
	t.title(fmt.Sprintf("MONTHLY %s REPORT for %s %d", strings.ToUpper(string(agg.Role)), agg.Month, agg.Year))
	t.header()
	for _, day := range agg.Daily {
		t.row(fmt.Sprintf("%3d", day.Date.Day()), day.Metrics, loc)
	}
	t.separator()

	t.cols = roleColumns(agg.Role, "02")
	t.row("AVG", agg.Summary, loc)
	return t.b.String()
}

// YearlyText renders a yearly report with one row per month that has data and
// a summary row. Extremes show the day of month in month rows and the month
// in the summary.
func YearlyText(agg YearlyAggregate, loc *time.Location) string {
	t := &textTable{label: "MO", cols: roleColumns(agg.Role, "02")}
	t.title(fmt.Sprintf("YEARLY %s REPORT for %d", strings.ToUpper(string(agg.Role)), agg.Year))
	t.header()
	for _, month := range agg.Monthly {
		t.row(fmt.Sprintf("%02d", int(month.Month)), month.Summary, loc)
	}
	t.separator()

	t.cols = roleColumns(agg.Role, "Jan")
	t.row("AVG", agg.Summary, loc)
	return t.b.String()
}
