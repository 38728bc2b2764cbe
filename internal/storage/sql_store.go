package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/geo-monitor/internal/model"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQLStore implements Store on database/sql. Writes are serialized by writeMu;
// readers never block on an in-flight cycle and only see committed rows.
type SQLStore struct {
	logger  *zap.Logger
	db      *sql.DB
	driver  string
	writeMu sync.Mutex
}

// NewSQLStore opens the database and creates the schema if needed
func NewSQLStore(logger *zap.Logger, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLStore{
		logger: logger.Named("store"),
		db:     db,
		driver: driver,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS metric_snapshots (
			metric_key TEXT NOT NULL,
			captured_at BIGINT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			source TEXT NOT NULL,
			is_stale BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (metric_key, captured_at)
		);
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL,
			metric_key TEXT NOT NULL,
			source TEXT NOT NULL,
			kind TEXT NOT NULL,
			severity TEXT NOT NULL,
			observed_value DOUBLE PRECISION NOT NULL,
			baseline_value DOUBLE PRECISION NOT NULL,
			delta DOUBLE PRECISION NOT NULL,
			message TEXT,
			actions TEXT,
			raised_at BIGINT NOT NULL,
			suppressed BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_metric_snapshots_captured_at ON metric_snapshots(captured_at);
		CREATE INDEX IF NOT EXISTS idx_alerts_rule_id ON alerts(rule_id, raised_at);
		CREATE INDEX IF NOT EXISTS idx_alerts_raised_at ON alerts(raised_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders into $n for postgres
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Append implements MetricStore.Append
func (s *SQLStore) Append(ctx context.Context, snapshot model.MetricSnapshot) error {
	return s.AppendBatch(ctx, []model.MetricSnapshot{snapshot})
}

// AppendBatch implements MetricStore.AppendBatch
func (s *SQLStore) AppendBatch(ctx context.Context, snapshots []model.MetricSnapshot) error {
	return s.CommitCycle(ctx, snapshots, nil)
}

// CommitCycle implements Store.CommitCycle
func (s *SQLStore) CommitCycle(ctx context.Context, snapshots []model.MetricSnapshot, alerts []model.Alert) error {
	for _, snap := range snapshots {
		if err := validateSnapshot(snap); err != nil {
			return err
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, snap := range snapshots {
		if err := s.insertSnapshot(ctx, tx, snap); err != nil {
			return err
		}
	}
	for _, alert := range alerts {
		if err := s.insertAlert(ctx, tx, alert); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cycle: %w", err)
	}

	s.logger.Debug("Committed cycle",
		zap.Int("snapshots", len(snapshots)),
		zap.Int("alerts", len(alerts)))

	return nil
}

func validateSnapshot(snap model.MetricSnapshot) error {
	switch {
	case snap.MetricKey == "":
		return fmt.Errorf("%w: empty metric key", ErrInvalidSnapshot)
	case snap.CapturedAt.IsZero():
		return fmt.Errorf("%w: %s has no captured_at", ErrInvalidSnapshot, snap.MetricKey)
	case math.IsNaN(snap.Value) || math.IsInf(snap.Value, 0):
		return fmt.Errorf("%w: %s has non-finite value", ErrInvalidSnapshot, snap.MetricKey)
	}
	return nil
}

func (s *SQLStore) insertSnapshot(ctx context.Context, tx *sql.Tx, snap model.MetricSnapshot) error {
	ts := snap.CapturedAt.UnixNano()

	var newest sql.NullInt64
	err := tx.QueryRowContext(ctx,
		s.rebind("SELECT MAX(captured_at) FROM metric_snapshots WHERE metric_key = ?"),
		snap.MetricKey,
	).Scan(&newest)
	if err != nil {
		return fmt.Errorf("failed to read newest snapshot: %w", err)
	}
	if newest.Valid {
		if ts == newest.Int64 {
			return fmt.Errorf("%w: %s at %s", ErrDuplicateTimestamp, snap.MetricKey, snap.CapturedAt.UTC().Format(time.RFC3339Nano))
		}
		if ts < newest.Int64 {
			return fmt.Errorf("%w: %s at %s", ErrOutOfOrder, snap.MetricKey, snap.CapturedAt.UTC().Format(time.RFC3339Nano))
		}
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO metric_snapshots (
			metric_key, captured_at, value, source, is_stale
		) VALUES (?, ?, ?, ?, ?)`),
		snap.MetricKey,
		ts,
		snap.Value,
		snap.Source,
		snap.IsStale,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateTimestamp, snap.MetricKey)
		}
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

func (s *SQLStore) insertAlert(ctx context.Context, tx *sql.Tx, alert model.Alert) error {
	var actions sql.NullString
	if len(alert.Actions) > 0 {
		data, err := json.Marshal(alert.Actions)
		if err != nil {
			return fmt.Errorf("failed to marshal alert actions: %w", err)
		}
		actions = sql.NullString{String: string(data), Valid: true}
	}

	_, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO alerts (
			id, rule_id, metric_key, source, kind, severity,
			observed_value, baseline_value, delta, message, actions,
			raised_at, suppressed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		alert.ID,
		alert.RuleID,
		alert.MetricKey,
		alert.Source,
		string(alert.Kind),
		string(alert.Severity),
		alert.ObservedValue,
		alert.BaselineValue,
		alert.Delta,
		alert.Message,
		actions,
		alert.RaisedAt.UnixNano(),
		alert.Suppressed,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateAlert, alert.ID)
		}
		return fmt.Errorf("failed to store alert: %w", err)
	}
	return nil
}

// QueryRange implements MetricStore.QueryRange
func (s *SQLStore) QueryRange(ctx context.Context, metricKey string, from, to time.Time) ([]model.MetricSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT metric_key, captured_at, value, source, is_stale
		FROM metric_snapshots
		WHERE metric_key = ? AND captured_at >= ? AND captured_at <= ?
		ORDER BY captured_at ASC`),
		metricKey, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// Latest implements MetricStore.Latest
func (s *SQLStore) Latest(ctx context.Context, metricKey string, n int) ([]model.MetricSnapshot, error) {
	if n <= 0 {
		return []model.MetricSnapshot{}, nil
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT metric_key, captured_at, value, source, is_stale
		FROM metric_snapshots
		WHERE metric_key = ?
		ORDER BY captured_at DESC
		LIMIT ?`),
		metricKey, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

func scanSnapshots(rows *sql.Rows) ([]model.MetricSnapshot, error) {
	snapshots := []model.MetricSnapshot{}
	for rows.Next() {
		var snap model.MetricSnapshot
		var capturedAt int64
		if err := rows.Scan(&snap.MetricKey, &capturedAt, &snap.Value, &snap.Source, &snap.IsStale); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.CapturedAt = time.Unix(0, capturedAt).UTC()
		snapshots = append(snapshots, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return snapshots, nil
}

const alertColumns = `id, rule_id, metric_key, source, kind, severity,
	observed_value, baseline_value, delta, message, actions, raised_at, suppressed`

// QueryAlerts implements AlertStore.QueryAlerts
func (s *SQLStore) QueryAlerts(ctx context.Context, ruleID string, from, to time.Time) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+alertColumns+`
		FROM alerts
		WHERE rule_id = ? AND raised_at >= ? AND raised_at <= ?
		ORDER BY raised_at ASC, id ASC`),
		ruleID, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []model.Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return alerts, nil
}

// LastRaised implements AlertStore.LastRaised
func (s *SQLStore) LastRaised(ctx context.Context, ruleID string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+alertColumns+`
		FROM alerts
		WHERE rule_id = ? AND suppressed = ?
		ORDER BY raised_at DESC
		LIMIT 1`),
		ruleID, false)

	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return alert, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*model.Alert, error) {
	var alert model.Alert
	var kind, severity string
	var message, actions sql.NullString
	var raisedAt int64

	err := row.Scan(
		&alert.ID,
		&alert.RuleID,
		&alert.MetricKey,
		&alert.Source,
		&kind,
		&severity,
		&alert.ObservedValue,
		&alert.BaselineValue,
		&alert.Delta,
		&message,
		&actions,
		&raisedAt,
		&alert.Suppressed,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}

	alert.Kind = model.AlertKind(kind)
	alert.Severity = model.AlertSeverity(severity)
	alert.RaisedAt = time.Unix(0, raisedAt).UTC()
	if message.Valid {
		alert.Message = message.String
	}
	if actions.Valid && actions.String != "" {
		if err := json.Unmarshal([]byte(actions.String), &alert.Actions); err != nil {
			return nil, fmt.Errorf("failed to decode alert actions: %w", err)
		}
	}
	return &alert, nil
}

// DeleteBefore implements Store.DeleteBefore
func (s *SQLStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cutoff := before.UnixNano()
	var deleted int64
	for _, query := range []string{
		"DELETE FROM metric_snapshots WHERE captured_at < ?",
		"DELETE FROM alerts WHERE raised_at < ?",
	} {
		result, err := s.db.ExecContext(ctx, s.rebind(query), cutoff)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete old records: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return deleted, fmt.Errorf("failed to get affected rows: %w", err)
		}
		deleted += affected
	}

	s.logger.Info("Deleted old monitoring records",
		zap.Time("before", before),
		zap.Int64("deleted", deleted))

	return deleted, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}
