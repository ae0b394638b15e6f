// Package sqlite stores samples in a single SQLite table keyed by
// (ts, role, metric).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/nicktill/meshstats/pkg/sample"
	"github.com/nicktill/meshstats/pkg/storage"
)

var (
	errFailedOpenDB      = errors.New("failed to open database")
	errFailedToEnableWAL = errors.New("failed to enable WAL mode")
	errFailedToInit      = errors.New("failed to initialize schema")
	errFailedToInsert    = errors.New("failed to insert")
	errFailedToQuery     = errors.New("failed to query")
	errFailedToScan      = errors.New("failed to scan")
	errFailedToBeginTx   = errors.New("failed to begin transaction")

	// ErrSchemaVersion is returned when the database was written by a newer schema.
	ErrSchemaVersion = errors.New("unsupported schema version")
)

const (
	schemaVersion = 1

	createTablesSQL = `
	CREATE TABLE IF NOT EXISTS metrics (
		ts INTEGER NOT NULL,
		role TEXT NOT NULL,
		metric TEXT NOT NULL,
		value REAL NOT NULL,
		PRIMARY KEY (ts, role, metric)
	);

	CREATE INDEX IF NOT EXISTS idx_metrics_role_metric_ts
		ON metrics(role, metric, ts);

	CREATE TABLE IF NOT EXISTS db_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	insertSQL = `INSERT OR IGNORE INTO metrics (ts, role, metric, value) VALUES (?, ?, ?, ?)`
)

// DB implements storage.Storage on SQLite.
type DB struct {
	*sql.DB
	path string
}

// New opens (or creates) the database at path and initializes the schema.
func New(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedOpenDB, err)
	}

	// SQLite serializes writers; one connection avoids SQLITE_BUSY
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: %w", errFailedToEnableWAL, err)
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.initSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: %w", errFailedToInit, err)
	}

	return db, nil
}

func (db *DB) initSchema() error {
	if _, err := db.Exec(createTablesSQL); err != nil {
		return err
	}

	var raw string
	err := db.QueryRow(`SELECT value FROM db_meta WHERE key = 'schema_version'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = db.Exec(`INSERT INTO db_meta (key, value) VALUES ('schema_version', ?)`, strconv.Itoa(schemaVersion))
		return err
	}
	if err != nil {
		return err
	}

	version, err := strconv.Atoi(raw)
	if err != nil || version > schemaVersion {
		return fmt.Errorf("%w: %q", ErrSchemaVersion, raw)
	}
	return nil
}

// SchemaVersion reports the version recorded in db_meta.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var raw string
	if err := db.QueryRowContext(ctx, `SELECT value FROM db_meta WHERE key = 'schema_version'`).Scan(&raw); err != nil {
		return 0, fmt.Errorf("%w schema version: %w", errFailedToQuery, wrapClosed(err))
	}
	return strconv.Atoi(raw)
}

// Insert stores one sample, reporting false for a duplicate key.
func (db *DB) Insert(ctx context.Context, smp sample.Sample) (bool, error) {
	if err := storage.ValidateSample(smp); err != nil {
		return false, err
	}

	result, err := db.ExecContext(ctx, insertSQL, smp.Timestamp, string(smp.Role), smp.Metric, smp.Value)
	if err != nil {
		return false, fmt.Errorf("%w sample: %w", errFailedToInsert, wrapClosed(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// InsertFields stores every field at ts in one transaction.
func (db *DB) InsertFields(ctx context.Context, ts int64, role sample.Role, fields sample.Fields) (inserted int, err error) {
	samples := fields.Samples(ts, role)
	for _, smp := range samples {
		if err := storage.ValidateSample(smp); err != nil {
			return 0, err
		}
	}
	if len(samples) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errFailedToBeginTx, wrapClosed(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return 0, fmt.Errorf("%w sample: %w", errFailedToInsert, err)
	}
	defer stmt.Close()

	for _, smp := range samples {
		result, err := stmt.ExecContext(ctx, smp.Timestamp, string(smp.Role), smp.Metric, smp.Value)
		if err != nil {
			return 0, fmt.Errorf("%w sample %s: %w", errFailedToInsert, smp.Metric, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += int(rows)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return inserted, nil
}

// QueryRange retrieves samples matching the request ordered by ts, metric.
func (db *DB) QueryRange(ctx context.Context, req storage.QueryRequest) ([]sample.Sample, error) {
	query := `SELECT ts, role, metric, value FROM metrics WHERE role = ? AND ts >= ? AND ts <= ?`
	args := []any{string(req.Role), req.Start, req.End}
	if req.Metric != "" {
		query += ` AND metric = ?`
		args = append(args, req.Metric)
	}
	query += ` ORDER BY ts, metric`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w samples: %w", errFailedToQuery, wrapClosed(err))
	}
	defer rows.Close()

	var results []sample.Sample
	for rows.Next() {
		var (
			smp  sample.Sample
			role string
		)
		if err := rows.Scan(&smp.Timestamp, &role, &smp.Metric, &smp.Value); err != nil {
			return nil, fmt.Errorf("%w sample: %w", errFailedToScan, err)
		}
		smp.Role = sample.Role(role)
		results = append(results, smp)
	}
	return results, rows.Err()
}

// Latest returns all metrics at the newest timestamp for role.
func (db *DB) Latest(ctx context.Context, role sample.Role) (*sample.Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT ts, metric, value FROM metrics
		WHERE role = ? AND ts = (SELECT MAX(ts) FROM metrics WHERE role = ?)
	`, string(role), string(role))
	if err != nil {
		return nil, fmt.Errorf("%w latest: %w", errFailedToQuery, wrapClosed(err))
	}
	defer rows.Close()

	var rec *sample.Record
	for rows.Next() {
		var (
			ts     int64
			metric string
			value  float64
		)
		if err := rows.Scan(&ts, &metric, &value); err != nil {
			return nil, fmt.Errorf("%w latest: %w", errFailedToScan, err)
		}
		if rec == nil {
			rec = &sample.Record{Timestamp: ts, Role: role, Values: make(map[string]float64)}
		}
		rec.Values[metric] = value
	}
	return rec, rows.Err()
}

// DistinctPeriods lists months with data for role. Months are computed in
// loc on the Go side since SQLite only knows UTC and the host zone.
func (db *DB) DistinctPeriods(ctx context.Context, role sample.Role, loc *time.Location) ([]storage.Period, error) {
	timestamps, err := db.distinct(ctx, `SELECT DISTINCT ts FROM metrics WHERE role = ?`, string(role))
	if err != nil {
		return nil, err
	}

	seen := make(map[storage.Period]bool)
	for _, ts := range timestamps {
		t := time.Unix(ts, 0).In(loc)
		seen[storage.Period{Year: t.Year(), Month: t.Month()}] = true
	}

	periods := make([]storage.Period, 0, len(seen))
	for p := range seen {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })
	return periods, nil
}

// DistinctTimestamps lists collection timestamps for role in [start, end].
func (db *DB) DistinctTimestamps(ctx context.Context, role sample.Role, start, end int64) ([]int64, error) {
	return db.distinct(ctx,
		`SELECT DISTINCT ts FROM metrics WHERE role = ? AND ts >= ? AND ts <= ? ORDER BY ts`,
		string(role), start, end)
}

func (db *DB) distinct(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w timestamps: %w", errFailedToQuery, wrapClosed(err))
	}
	defer rows.Close()

	out := []int64{}
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("%w timestamp: %w", errFailedToScan, err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// Stats returns storage statistics.
func (db *DB) Stats(ctx context.Context) (*storage.Stats, error) {
	var (
		total          uint64
		series         uint64
		oldest, newest sql.NullInt64
	)
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT role || char(0) || metric), MIN(ts), MAX(ts) FROM metrics
	`).Scan(&total, &series, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("%w stats: %w", errFailedToQuery, wrapClosed(err))
	}

	stats := &storage.Stats{TotalSamples: total, TotalSeries: series}
	if oldest.Valid {
		stats.Oldest = time.Unix(oldest.Int64, 0).UTC()
	}
	if newest.Valid {
		stats.Newest = time.Unix(newest.Int64, 0).UTC()
	}
	if info, err := os.Stat(db.path); err == nil {
		stats.SizeBytes = uint64(info.Size())
	}
	return stats, nil
}

// Vacuum rebuilds the database file to reclaim free pages.
func (db *DB) Vacuum(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum: %w", wrapClosed(err))
	}
	return nil
}

func wrapClosed(err error) error {
	if err != nil && err.Error() == "sql: database is closed" {
		return fmt.Errorf("%w: %w", storage.ErrClosed, err)
	}
	return err
}
