package report

import (
	"time"

	"github.com/nicktill/meshstats/pkg/sample"
)

// StatsJSON is the serialized form of MetricStats. Absent values are omitted.
type StatsJSON struct {
	Count       int      `json:"count"`
	Mean        *float64 `json:"mean,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	MinTime     string   `json:"min_time,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	MaxTime     string   `json:"max_time,omitempty"`
	Total       *int64   `json:"total,omitempty"`
	RebootCount int      `json:"reboot_count,omitempty"`
}

// DailyJSON is one day of a monthly report
type DailyJSON struct {
	Date        string               `json:"date"`
	SampleCount int                  `json:"sample_count"`
	Metrics     map[string]StatsJSON `json:"metrics"`
}

// MonthlyReport is the monthly report document
type MonthlyReport struct {
	ReportType   string               `json:"report_type"`
	Year         int                  `json:"year"`
	Month        int                  `json:"month"`
	Role         sample.Role          `json:"role"`
	DaysWithData int                  `json:"days_with_data"`
	Summary      map[string]StatsJSON `json:"summary"`
	Daily        []DailyJSON          `json:"daily"`
}

// MonthSummaryJSON is one month of a yearly report
type MonthSummaryJSON struct {
	Year         int                  `json:"year"`
	Month        int                  `json:"month"`
	DaysWithData int                  `json:"days_with_data"`
	Summary      map[string]StatsJSON `json:"summary"`
}

// YearlyReport is the yearly report document
type YearlyReport struct {
	ReportType     string               `json:"report_type"`
	Year           int                  `json:"year"`
	Role           sample.Role          `json:"role"`
	MonthsWithData int                  `json:"months_with_data"`
	Summary        map[string]StatsJSON `json:"summary"`
	Monthly        []MonthSummaryJSON   `json:"monthly"`
}

// ToJSON converts stats for output, rounding values to 4 decimals and
// formatting extreme times in loc
func (s MetricStats) ToJSON(loc *time.Location) StatsJSON {
	out := StatsJSON{Count: s.Count, Total: s.Total}
	if s.Mean != nil {
		v := round4(*s.Mean)
		out.Mean = &v
	}
	if s.Min != nil {
		v := round4(s.Min.Value)
		out.Min = &v
		out.MinTime = time.Unix(s.Min.Timestamp, 0).In(loc).Format(time.RFC3339)
	}
	if s.Max != nil {
		v := round4(s.Max.Value)
		out.Max = &v
		out.MaxTime = time.Unix(s.Max.Timestamp, 0).In(loc).Format(time.RFC3339)
	}
	if s.RebootCount > 0 {
		out.RebootCount = s.RebootCount
	}
	return out
}

// statsWithData keeps only metrics that have data
func statsWithData(stats map[string]MetricStats, loc *time.Location) map[string]StatsJSON {
	out := make(map[string]StatsJSON, len(stats))
	for name, s := range stats {
		if s.HasData() {
			out[name] = s.ToJSON(loc)
		}
	}
	return out
}

// ToJSON converts a daily aggregate
func (d DailyAggregate) ToJSON(loc *time.Location) DailyJSON {
	return DailyJSON{
		Date:        d.Date.Format(time.DateOnly),
		SampleCount: d.SampleCount,
		Metrics:     statsWithData(d.Metrics, loc),
	}
}

// MonthlyJSON builds the monthly report document
func MonthlyJSON(agg MonthlyAggregate, loc *time.Location) MonthlyReport {
	daily := make([]DailyJSON, 0, len(agg.Daily))
	for _, d := range agg.Daily {
		daily = append(daily, d.ToJSON(loc))
	}
	return MonthlyReport{
		ReportType:   "monthly",
		Year:         agg.Year,
		Month:        int(agg.Month),
		Role:         agg.Role,
		DaysWithData: len(agg.Daily),
		Summary:      statsWithData(agg.Summary, loc),
		Daily:        daily,
	}
}

// YearlyJSON builds the yearly report document
func YearlyJSON(agg YearlyAggregate, loc *time.Location) YearlyReport {
	monthly := make([]MonthSummaryJSON, 0, len(agg.Monthly))
	for _, m := range agg.Monthly {
		monthly = append(monthly, MonthSummaryJSON{
			Year:         m.Year,
			Month:        int(m.Month),
			DaysWithData: len(m.Daily),
			Summary:      statsWithData(m.Summary, loc),
		})
	}
	return YearlyReport{
		ReportType:     "yearly",
		Year:           agg.Year,
		Role:           agg.Role,
		MonthsWithData: len(agg.Monthly),
		Summary:        statsWithData(agg.Summary, loc),
		Monthly:        monthly,
	}
}
