package storage

import (
	"context"
	"time"

	"github.com/t77yq/geo-monitor/internal/model"
)

// MetricStore is the append-only time series of metric snapshots
type MetricStore interface {
	// Append stores one snapshot. It fails with ErrDuplicateTimestamp if the
	// (metric_key, captured_at) pair exists and ErrOutOfOrder if captured_at is
	// older than the newest stored snapshot for the key.
	Append(ctx context.Context, snapshot model.MetricSnapshot) error

	// AppendBatch stores snapshots atomically: either all are visible or none
	AppendBatch(ctx context.Context, snapshots []model.MetricSnapshot) error

	// QueryRange returns snapshots with from <= captured_at <= to in ascending order
	QueryRange(ctx context.Context, metricKey string, from, to time.Time) ([]model.MetricSnapshot, error)

	// Latest returns up to n most recent snapshots, newest first
	Latest(ctx context.Context, metricKey string, n int) ([]model.MetricSnapshot, error)
}

// AlertStore keeps every alert the rule engine produced, suppressed ones included
type AlertStore interface {
	// QueryAlerts returns the alerts of a rule raised within [from, to] in ascending order
	QueryAlerts(ctx context.Context, ruleID string, from, to time.Time) ([]model.Alert, error)

	// LastRaised returns the newest delivered (non-suppressed) alert of a rule, or nil
	LastRaised(ctx context.Context, ruleID string) (*model.Alert, error)
}

// Store combines both logs with the cycle commit and retention operations
type Store interface {
	MetricStore
	AlertStore

	// CommitCycle persists a cycle's snapshots and alerts in one transaction
	CommitCycle(ctx context.Context, snapshots []model.MetricSnapshot, alerts []model.Alert) error

	// DeleteBefore removes snapshots and alerts older than the specified time
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
