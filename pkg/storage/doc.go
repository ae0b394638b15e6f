/*
Package storage provides the pluggable sample store for meshstats.

# Data Model

Every reading is one row of (timestamp, role, metric, value), unique on
(timestamp, role, metric). A collection cycle writes all of its fields at the
same timestamp, so "distinct timestamps" counts collection cycles.

# Backends

  - memory: map-backed, for tests and throwaway runs
  - badger: BadgerDB (LSM tree + Snappy compression), the default
  - sqlite: the relational schema used by earlier deployments

All backends implement the Storage interface and pass the shared suite in
storage/storagetest.

# Duplicates

Insert reports a duplicate key as false rather than an error, so replaying a
collection cycle or re-importing an export is harmless.

# Derived Metrics

bat_pct is never stored. MetricsForPeriod and LatestRecord compute it from the
battery voltage of the role at read time.
*/
package storage
