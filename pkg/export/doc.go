// Package export provides sample backup and restore.
//
// # Overview
//
// Samples of either role can be written to JSON or CSV and a JSON backup can
// be loaded into any storage backend. Restoring into a store that already
// holds some of the samples is safe: existing (timestamp, role, metric)
// triples are counted as duplicates and left untouched.
//
// # Supported Formats
//
// JSON Format:
//   - One entry per sample with ts, role, metric and value
//   - Includes export metadata (timestamp, range, sample count, version)
//   - Can be re-imported
//
// CSV Format:
//   - Columns: timestamp, role, metric, value
//   - Export only
//
// # HTTP API
//
// Export endpoint: GET /v1/export
// Query parameters:
//   - format: "json" or "csv" (default: json)
//   - role: "companion" or "repeater" (default: both)
//   - start, end: unix seconds or RFC3339 (default: the last 24 hours)
//   - metric: metric name filter (optional)
//
// Example:
//
//	curl "http://localhost:8080/v1/export?role=repeater&start=1735689600" -o backup.json
//
// Import endpoint: POST /v1/import
// Content-Type: application/json
//
//	curl -X POST "http://localhost:8080/v1/import" \
//	  -H "Content-Type: application/json" \
//	  -d @backup.json
//
// # Data Format
//
//	{
//	  "metadata": {
//	    "exported_at": "2025-03-01T00:00:00Z",
//	    "start_time": 1740700800,
//	    "end_time": 1740787200,
//	    "sample_count": 1,
//	    "format": "json",
//	    "version": "1.0"
//	  },
//	  "samples": [
//	    {"ts": 1740787000, "role": "repeater", "metric": "bat", "value": 3850}
//	  ]
//	}
//
// # Error Handling
//
// Import validates each sample and skips invalid ones rather than failing
// the entire import. The first MaxImportErrors messages are reported in
// ImportResult.Errors and the total in ImportResult.Rejected.
package export
