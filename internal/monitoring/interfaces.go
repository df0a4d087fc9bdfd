package monitoring

import "time"

// GroupStats is the outcome of synchronizing one group.
type GroupStats struct {
	Group            string
	Kind             string
	Added            int
	Removed          int
	Errors           int
	Created          bool
	DeleteSuppressed bool
}

// RunStats is the outcome of a whole run.
type RunStats struct {
	DryRun   bool
	Duration time.Duration
	Errors   int
	Finished time.Time
}

// MonitorInterface records run metrics.
type MonitorInterface interface {
	RecordGroup(stats GroupStats)
	RecordRun(stats RunStats)
}
