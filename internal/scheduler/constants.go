package scheduler

import "time"

const (
	// MinInterval is the shortest accepted cycle interval
	MinInterval = time.Second

	DefaultCleanupSchedule = "@daily"
	DefaultRetentionDays   = 365

	cleanupTimeout = 5 * time.Minute
)
