/*
Package report builds daily, monthly and yearly summaries of mesh node metrics.

# Bottom-up Aggregation

Only the daily level touches raw samples. Each higher level is composed from
the level below:

	raw samples ──> DailyAggregate ──> MonthlyAggregate ──> YearlyAggregate
	  (1 query/day)     per metric        summary of days     summary of months

A year of per-minute samples therefore costs one range query per day and no
re-scan at the month or year level.

# Gauges and Counters

The metrics registry decides how a metric is reduced:

  - Gauges (voltage, RSSI, queue length) keep count, mean, min and max. Min
    and max carry the time they were first observed.
  - Counters (packets, airtime) keep the sum of positive deltas. A decrease is
    a device reboot: the post-reboot reading is added and the reboot counted.

Composition is the same at every level. Counter totals are summed over
children that have a total. Gauge means are weighted by sample count so a
month equals a flat reduction over all of its raw samples:

	day 1: mean=3.80 count=96
	day 2: mean=3.90 count=48
	month: mean=(3.80*96 + 3.90*48) / 144 = 3.8333

# Calendar Rules

Days and months are computed in the aggregator's location. Days after today
are never aggregated, and days or months without samples are left out of the
parent rather than counted as zero. Summary keys for the role's report
metrics are always present; an empty MetricStats means no data.

# Output

MonthlyJSON and YearlyJSON produce the report documents written by
cmd/meshreport and served under /v1/reports. Only metrics with data are
emitted, values are rounded to 4 decimals and times use RFC 3339.
*/
package report
