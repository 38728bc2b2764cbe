package model

import "time"

// MonitoringRunState describes whether continuous monitoring is active.
// LastCycleAt only moves on successfully completed cycles.
type MonitoringRunState struct {
	IsRunning      bool          `json:"is_running"`
	Interval       time.Duration `json:"interval"`
	LastCycleAt    *time.Time    `json:"last_cycle_at,omitempty"`
	NextCycleAt    *time.Time    `json:"next_cycle_at,omitempty"`
	TotalCyclesRun int           `json:"total_cycles_run"`
	SkippedCycles  int           `json:"skipped_cycles"`
	LastError      string        `json:"last_error,omitempty"`
}
